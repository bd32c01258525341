package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
	"github.com/sells-group/certstate-cli/pkg/firecrawl"
)

// DefaultConcurrency bounds parallel scrapes.
const DefaultConcurrency = 4

// FirecrawlSource fetches pages through Firecrawl.
type FirecrawlSource struct {
	client       firecrawl.Client
	concurrency  int
	pollInterval time.Duration
	retry        resilience.RetryConfig
}

// FirecrawlOption configures a FirecrawlSource.
type FirecrawlOption func(*FirecrawlSource)

// WithConcurrency sets the number of scrapes in flight.
func WithConcurrency(n int) FirecrawlOption {
	return func(s *FirecrawlSource) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPollInterval sets the initial batch status poll interval.
func WithPollInterval(d time.Duration) FirecrawlOption {
	return func(s *FirecrawlSource) { s.pollInterval = d }
}

// WithRetry replaces the per-scrape retry policy.
func WithRetry(cfg resilience.RetryConfig) FirecrawlOption {
	return func(s *FirecrawlSource) { s.retry = cfg }
}

// NewFirecrawlSource creates a FirecrawlSource.
func NewFirecrawlSource(client firecrawl.Client, opts ...FirecrawlOption) *FirecrawlSource {
	s := &FirecrawlSource{
		client:      client,
		concurrency: DefaultConcurrency,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var scrapeFormats = []string{firecrawl.FormatMarkdown, firecrawl.FormatSummary}

// Fetch scrapes urls concurrently and returns one page per URL in input
// order. The first scrape that still fails after retries cancels the rest.
func (s *FirecrawlSource) Fetch(ctx context.Context, urls []string) ([]model.PageRecord, error) {
	return fetchOrdered(ctx, urls, s.concurrency, s.scrape)
}

func (s *FirecrawlSource) scrape(ctx context.Context, url string) (model.PageRecord, error) {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("firecrawl", "scrape", zap.String("url", url))

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		resp, err := s.client.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:             url,
			Formats:         scrapeFormats,
			OnlyMainContent: true,
		})
		return resp, classify(err)
	})
	if err != nil {
		return model.PageRecord{}, eris.Wrapf(err, "source: fetch %s", url)
	}
	return toPage(url, resp.Data)
}

// FetchBatch submits urls as one batch scrape job and waits for it. Pages
// are returned in input order; URLs the batch did not return are logged and
// left out.
func (s *FirecrawlSource) FetchBatch(ctx context.Context, urls []string) ([]model.PageRecord, error) {
	job, err := s.client.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
		URLs:            urls,
		Formats:         scrapeFormats,
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "source: start batch")
	}

	var pollOpts []firecrawl.PollOption
	if s.pollInterval > 0 {
		pollOpts = append(pollOpts, firecrawl.WithPollInterval(s.pollInterval))
	}
	status, err := firecrawl.PollBatchScrape(ctx, s.client, job.ID, pollOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "source: wait for batch")
	}

	byURL := make(map[string]firecrawl.PageData, len(status.Data))
	for _, d := range status.Data {
		byURL[normalizeURL(d.Metadata.SourceURL)] = d
		if d.Metadata.URL != "" {
			byURL[normalizeURL(d.Metadata.URL)] = d
		}
	}

	pages := make([]model.PageRecord, 0, len(urls))
	for _, u := range urls {
		d, ok := byURL[normalizeURL(u)]
		if !ok {
			zap.L().Warn("source: batch returned no page", zap.String("url", u), zap.String("batch_id", job.ID))
			continue
		}
		page, err := toPage(u, d)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func toPage(url string, d firecrawl.PageData) (model.PageRecord, error) {
	page := model.PageRecord{URL: url, Markdown: d.Markdown, Summary: d.Summary}
	if strings.TrimSpace(page.Markdown) == "" && d.HTML != "" {
		md, err := HTMLToMarkdown(d.HTML, url)
		if err != nil {
			return page, err
		}
		page.Markdown = md
	}
	return page, nil
}

// classify marks retryable Firecrawl statuses as transient.
func classify(err error) error {
	var apiErr *firecrawl.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(err, apiErr.StatusCode)
	}
	return err
}

func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}
