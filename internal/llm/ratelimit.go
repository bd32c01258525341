package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// RateLimited spaces requests to the wrapped completer.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with a burst of one. A
// non-positive rps disables limiting.
func NewRateLimited(next Completer, rps float64) *RateLimited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Complete waits for a token, then calls the wrapped completer.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "llm: rate limit wait")
	}
	return r.next.Complete(ctx, req)
}
