package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying retries a Provisioner with linear backoff. Provider responses that
// are not temporary (4xx other than 429) stop the loop early.
type Retrying struct {
	next     Provisioner
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	newTimer func() backoff.Timer // nil uses the library's real timer
}

// NewRetrying wraps next. attempts < 1 is treated as 1.
func NewRetrying(next Provisioner, attempts int, step time.Duration, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, backoff: step, logger: logger}
}

// Create calls the wrapped provisioner until it succeeds or attempts run out.
func (r *Retrying) Create(ctx context.Context, req Request) (*Instance, error) {
	var (
		inst    *Instance
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		inst, err = r.next.Create(ctx, req)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("provisioning attempt failed", "order_id", req.OrderID, "attempt", attempt, "retry_in", wait, "err", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: r.backoff}, uint64(r.attempts-1)), ctx)
	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(op, policy, notify, timer); err != nil {
		return nil, fmt.Errorf("provision vps: %w", err)
	}
	return inst, nil
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}
