package firecrawl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusClient implements Client for testing PollBatchScrape.
type statusClient struct {
	statusFunc func(ctx context.Context, id string) (*BatchScrapeStatusResponse, error)
}

func (m *statusClient) Scrape(context.Context, ScrapeRequest) (*ScrapeResponse, error) {
	return nil, nil
}

func (m *statusClient) BatchScrape(context.Context, BatchScrapeRequest) (*BatchScrapeResponse, error) {
	return nil, nil
}

func (m *statusClient) GetBatchScrapeStatus(ctx context.Context, id string) (*BatchScrapeStatusResponse, error) {
	return m.statusFunc(ctx, id)
}

func TestPollBatchScrape_CompletesImmediately(t *testing.T) {
	c := &statusClient{
		statusFunc: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
			return &BatchScrapeStatusResponse{
				Status: "completed",
				Total:  2,
				Data:   []PageData{{Markdown: "# A"}, {Markdown: "# B"}},
			}, nil
		},
	}

	resp, err := PollBatchScrape(context.Background(), c, "batch-123", WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	assert.Len(t, resp.Data, 2)
}

func TestPollBatchScrape_CompletesAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := &statusClient{
		statusFunc: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
			if calls.Add(1) < 3 {
				return &BatchScrapeStatusResponse{Status: "scraping"}, nil
			}
			return &BatchScrapeStatusResponse{Status: "completed", Total: 1, Data: []PageData{{Markdown: "# A"}}}, nil
		},
	}

	resp, err := PollBatchScrape(context.Background(), c, "batch-456",
		WithPollInterval(5*time.Millisecond),
		WithPollCap(10*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollBatchScrape_Timeout(t *testing.T) {
	c := &statusClient{
		statusFunc: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
			return &BatchScrapeStatusResponse{Status: "scraping"}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := PollBatchScrape(ctx, c, "batch-timeout",
		WithPollInterval(10*time.Millisecond),
		WithPollCap(20*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollBatchScrape_DefaultTimeout(t *testing.T) {
	c := &statusClient{
		statusFunc: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
			return &BatchScrapeStatusResponse{Status: "scraping"}, nil
		},
	}

	_, err := PollBatchScrape(context.Background(), c, "batch-default-timeout",
		WithPollInterval(5*time.Millisecond),
		WithPollCap(10*time.Millisecond),
		WithPollTimeout(50*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollBatchScrape_Failed(t *testing.T) {
	for _, status := range []string{"failed", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			c := &statusClient{
				statusFunc: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
					return &BatchScrapeStatusResponse{Status: status}, nil
				},
			}

			_, err := PollBatchScrape(context.Background(), c, "batch-fail", WithPollInterval(10*time.Millisecond))
			require.Error(t, err)
			assert.Contains(t, err.Error(), status)
		})
	}
}

func TestPollBatchScrape_ErrorPropagation(t *testing.T) {
	c := &statusClient{
		statusFunc: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
			return nil, &APIError{StatusCode: 429, Body: "rate limited"}
		},
	}

	_, err := PollBatchScrape(context.Background(), c, "batch-err", WithPollInterval(10*time.Millisecond))
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.StatusCode)
}
