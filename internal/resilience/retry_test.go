package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("busy"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("still busy"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, "still busy", err.Error())
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(context.Context) error {
			calls++
			return NewTransientError(errors.New("busy"), 503)
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	cfg := fastConfig(4)
	cfg.ShouldRetry = func(error) bool { return true }

	var calls int
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("not json")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := fastConfig(3)
	var seen []int
	cfg.OnRetry = func(attempt int, _ error) { seen = append(seen, attempt) }

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("busy"), 429)
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoVal(t *testing.T) {
	t.Run("value on success", func(t *testing.T) {
		var calls int
		v, err := DoVal(context.Background(), fastConfig(3), func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", NewTransientError(errors.New("busy"), 502)
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("zero on failure", func(t *testing.T) {
		v, err := DoVal(context.Background(), fastConfig(2), func(context.Context) (int, error) {
			return 42, NewTransientError(errors.New("busy"), 502)
		})
		require.Error(t, err)
		assert.Zero(t, v)
	})
}

func TestLinearRetryConfig(t *testing.T) {
	cfg := LinearRetryConfig(2, 500*time.Millisecond)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, Linear, cfg.Backoff)
	assert.Zero(t, cfg.JitterFraction)

	cfg = applyDefaults(cfg)
	assert.Equal(t, 500*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, time.Second, computeBackoff(1, cfg))

	none := LinearRetryConfig(0, time.Second)
	assert.Equal(t, 1, none.MaxAttempts)
}

func TestLinearRetryConfig_ZeroStep(t *testing.T) {
	cfg := LinearRetryConfig(3, 0)
	cfg.ShouldRetry = func(error) bool { return true }

	var calls int
	start := time.Now()
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2})

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, time.Second, computeBackoff(10, cfg), "capped at MaxBackoff")

	cfg.JitterFraction = 0.5
	for range 50 {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestRetryLogger(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	RetryLogger("openai", "complete", zap.String("url", "https://example.com"))(2, NewTransientError(errors.New("busy"), 503))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "retrying operation", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "openai", fields["service"])
	assert.Equal(t, "complete", fields["operation"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, true, fields["transient"])
	assert.Equal(t, "https://example.com", fields["url"])
}
