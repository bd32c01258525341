package firecrawl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 5 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) { c.initial = d }
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) { c.cap = d }
}

// WithPollTimeout overrides the default timeout (applied only if the parent
// context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) { c.timeout = d }
}

// PollBatchScrape polls GetBatchScrapeStatus until the batch completes, fails,
// or the context expires. The interval doubles up to the cap: 2s, 4s, 8s, 15s.
func PollBatchScrape(ctx context.Context, client Client, id string, opts ...PollOption) (*BatchScrapeStatusResponse, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		status, err := client.GetBatchScrapeStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "firecrawl: poll batch scrape %s", id)
		}

		switch status.Status {
		case "completed":
			return status, nil
		case "failed", "cancelled":
			return nil, eris.Errorf("firecrawl: batch scrape %s %s", id, status.Status)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrapf(ctx.Err(), "firecrawl: poll batch scrape %s timed out", id)
		case <-timer.C:
		}

		interval = min(interval*2, cfg.cap)
	}
}
