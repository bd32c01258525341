package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
)

// Corrective conversation sent on every attempt after the first.
const (
	CorrectiveSystem = "Return strict JSON only. No explanations."
	CorrectiveUser   = "Output the JSON object only, with the exact schema previously requested. No prose, no code fences."
)

// DefaultRetryBackoff is the linear backoff step between attempts.
const DefaultRetryBackoff = 500 * time.Millisecond

var errNoJSON = errors.New("no JSON object in response")

// ParseError reports that no attempt produced an extractable JSON object.
// Cause is set when the last attempt failed in transport rather than parsing.
type ParseError struct {
	Attempts     int
	Raw          string
	FinishReason string
	Cause        error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("llm: no JSON object after %d attempt(s)", e.Attempts)
	if e.FinishReason != "" {
		msg += fmt.Sprintf(" (finish_reason=%s)", e.FinishReason)
	}
	if e.Cause != nil && !errors.Is(e.Cause, errNoJSON) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Cause }

// RetryPolicy bounds CallWithRetry.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration

	// OnRetry runs before each retry; nil logs at warn.
	OnRetry func(attempt int, err error)
}

// Result is a successfully parsed completion.
type Result struct {
	Object       map[string]any
	Raw          string
	FinishReason string
	Attempts     int
	Usage        model.TokenUsage
}

// CallWithRetry calls c and extracts a JSON object from the reply. After a
// failed attempt it waits Backoff×n and retries with the corrective
// conversation in place of the original messages, at most MaxRetries times.
// Transport errors are retried the same way. When attempts run out it
// returns a *ParseError together with the partial Result (attempt count and
// usage so far). Context cancellation ends the loop early.
func CallWithRetry(ctx context.Context, c Completer, req Request, policy RetryPolicy) (*Result, error) {
	maxRetries := max(policy.MaxRetries, 0)
	cfg := resilience.LinearRetryConfig(maxRetries, policy.Backoff)
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded) &&
			!errors.Is(err, resilience.ErrCircuitOpen)
	}
	cfg.OnRetry = policy.OnRetry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("llm", "complete", zap.String("model", req.Model))
	}

	res := &Result{}
	_, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		res.Attempts++
		r := req
		if res.Attempts > 1 {
			r.System = CorrectiveSystem
			r.Messages = []Message{{Role: "user", Content: CorrectiveUser}}
		}

		resp, err := c.Complete(ctx, r)
		if err != nil {
			return struct{}{}, err
		}
		res.Usage.Add(resp.Usage)
		res.Raw = resp.Text
		res.FinishReason = resp.FinishReason

		obj, ok := ExtractJSON(resp.Text)
		if !ok {
			return struct{}{}, errNoJSON
		}
		res.Object = obj
		return struct{}{}, nil
	})
	if err != nil {
		return res, &ParseError{
			Attempts:     res.Attempts,
			Raw:          res.Raw,
			FinishReason: res.FinishReason,
			Cause:        err,
		}
	}
	return res, nil
}

// IsNoJSON reports whether a ParseError came from unparseable replies rather
// than a transport failure.
func IsNoJSON(err error) bool {
	return errors.Is(err, errNoJSON)
}
