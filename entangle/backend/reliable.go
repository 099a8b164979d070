package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/rs/zerolog"
)

var (
	DefaultSubmitTimeout = 30 * time.Second
	DefaultMaxAttempts   = 3
	DefaultBackoff       = Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 5 * time.Second}
)

// A Backoff computes the delay before a retry.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 || b.Initial <= 0 {
		return b.Initial
	}
	m := b.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(b.Initial) * math.Pow(m, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// A ReliableOpts packages together the arguments for NewReliable.
type ReliableOpts struct {
	// Timeout bounds each individual submit. Defaults to DefaultSubmitTimeout.
	Timeout time.Duration

	// MaxAttempts bounds submits per call, including the first. Defaults to
	// DefaultMaxAttempts.
	MaxAttempts int

	// Backoff spaces out retries. Defaults to DefaultBackoff.
	Backoff Backoff

	Logger zerolog.Logger
}

// Reliable wraps a Backend with a per-submit timeout and bounded retries of
// ErrBackendUnavailable. Other errors are returned at once.
type Reliable struct {
	next        Backend
	timeout     time.Duration
	maxAttempts int
	backoff     Backoff
	log         zerolog.Logger
}

func NewReliable(b Backend, opts ReliableOpts) *Reliable {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff
	}
	return &Reliable{
		next:        b,
		timeout:     timeout,
		maxAttempts: attempts,
		backoff:     backoff,
		log:         opts.Logger,
	}
}

func (r *Reliable) Name() string   { return r.next.Name() }
func (r *Reliable) MaxQubits() int { return r.next.MaxQubits() }

func (r *Reliable) Submit(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff.Delay(attempt - 1)
			r.log.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Str("backend", r.next.Name()).Msg("retrying submit")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v (last error: %v)", ErrBackendUnavailable, ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}
		counts, err := r.submitOnce(ctx, c, shots)
		if err == nil {
			return counts, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", r.maxAttempts, lastErr)
}

type submitResult struct {
	counts Counts
	err    error
}

// submitOnce enforces the timeout even against backends that ignore ctx.
func (r *Reliable) submitOnce(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ch := make(chan submitResult, 1)
	go func() {
		counts, err := r.next.Submit(ctx, c, shots)
		ch <- submitResult{counts, err}
	}()
	select {
	case res := <-ch:
		if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, r.next.Name(), res.err)
		}
		return res.counts, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, r.next.Name(), ctx.Err())
	}
}
