package source

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
	"github.com/sells-group/certstate-cli/pkg/jina"
)

// JinaSource fetches pages through the Jina AI Reader. It needs no account
// for low volumes, which makes it the fallback when no Firecrawl key is set.
type JinaSource struct {
	client      jina.Client
	concurrency int
	retry       resilience.RetryConfig
}

// NewJinaSource creates a JinaSource. concurrency <= 0 selects
// DefaultConcurrency.
func NewJinaSource(client jina.Client, concurrency int, retry resilience.RetryConfig) *JinaSource {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &JinaSource{client: client, concurrency: concurrency, retry: retry}
}

// Fetch reads urls concurrently and returns one page per URL in input order.
func (s *JinaSource) Fetch(ctx context.Context, urls []string) ([]model.PageRecord, error) {
	return fetchOrdered(ctx, urls, s.concurrency, s.read)
}

func (s *JinaSource) read(ctx context.Context, url string) (model.PageRecord, error) {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("jina", "read", zap.String("url", url))

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := s.client.Read(ctx, url)
		var apiErr *jina.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.ClassifyStatus(err, apiErr.StatusCode)
		}
		return resp, err
	})
	if err != nil {
		return model.PageRecord{}, eris.Wrapf(err, "source: fetch %s", url)
	}
	return model.PageRecord{URL: url, Markdown: resp.Data.Content, Summary: resp.Data.Description}, nil
}
