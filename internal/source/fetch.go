package source

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/certstate-cli/internal/model"
)

// Fetcher turns URLs into a page set, one page per URL in input order.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string) ([]model.PageRecord, error)
}

var (
	_ Fetcher = (*FirecrawlSource)(nil)
	_ Fetcher = (*JinaSource)(nil)
)

// fetchOrdered runs fetch for every URL with at most concurrency calls in
// flight. Results keep input order; the first error cancels the rest.
func fetchOrdered(ctx context.Context, urls []string, concurrency int, fetch func(context.Context, string) (model.PageRecord, error)) ([]model.PageRecord, error) {
	pages := make([]model.PageRecord, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			page, err := fetch(gctx, u)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}
