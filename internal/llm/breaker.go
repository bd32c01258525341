package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/resilience"
)

// Breaker fails requests fast once the wrapped completer keeps failing.
type Breaker struct {
	next Completer
	cb   *resilience.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker built from cfg. Cancelled
// requests never count as failures.
func NewBreaker(next Completer, name string, cfg resilience.CircuitBreakerConfig) *Breaker {
	cfg.ShouldTrip = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("llm: circuit state change",
			zap.String("completer", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Breaker{next: next, cb: resilience.NewCircuitBreaker(cfg)}
}

// Complete implements Completer.
func (b *Breaker) Complete(ctx context.Context, req Request) (*Response, error) {
	return resilience.ExecuteVal(ctx, b.cb, func(ctx context.Context) (*Response, error) {
		return b.next.Complete(ctx, req)
	})
}

// State reports the breaker state.
func (b *Breaker) State() resilience.CircuitState { return b.cb.State() }
