package backend

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted fails its first failures submits with err, then reports a single
// all-zero outcome.
type scripted struct {
	name      string
	maxQubits int
	failures  int32
	err       error
	hang      bool
	calls     atomic.Int32
}

func (s *scripted) Name() string   { return s.name }
func (s *scripted) MaxQubits() int { return s.maxQubits }

func (s *scripted) Submit(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error) {
	n := s.calls.Add(1)
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= s.failures {
		return nil, s.err
	}
	return Counts{"0": shots}, nil
}

var oneQubit = circuit.New("one-qubit", 1, 1).MeasureAll()

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Multiplier: 2, Max: 50 * time.Millisecond}
	tcs := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
	}
	for _, tc := range tcs {
		t.Run(fmt.Sprint(tc.attempt), func(t *testing.T) {
			assert.Equal(t, tc.want, b.Delay(tc.attempt))
		})
	}
}

func TestReliableRetriesUnavailable(t *testing.T) {
	flaky := &scripted{name: "flaky", maxQubits: 2, failures: 2, err: ErrBackendUnavailable}
	r := NewReliable(flaky, ReliableOpts{MaxAttempts: 3, Backoff: Backoff{Initial: time.Millisecond}})

	counts, err := r.Submit(context.Background(), oneQubit, 8)
	require.NoError(t, err)
	assert.Equal(t, Counts{"0": 8}, counts)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

func TestReliableGivesUp(t *testing.T) {
	down := &scripted{name: "down", maxQubits: 2, failures: 100, err: ErrBackendUnavailable}
	r := NewReliable(down, ReliableOpts{MaxAttempts: 3, Backoff: Backoff{Initial: time.Millisecond}})

	_, err := r.Submit(context.Background(), oneQubit, 8)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.EqualValues(t, 3, down.calls.Load())
}

func TestReliableNeverRetriesInvalid(t *testing.T) {
	bad := &scripted{name: "bad", maxQubits: 2, failures: 100, err: fmt.Errorf("%w: nope", ErrInvalidCircuit)}
	r := NewReliable(bad, ReliableOpts{MaxAttempts: 5, Backoff: Backoff{Initial: time.Millisecond}})

	_, err := r.Submit(context.Background(), oneQubit, 8)
	require.ErrorIs(t, err, ErrInvalidCircuit)
	assert.EqualValues(t, 1, bad.calls.Load())
}

func TestReliableTimeout(t *testing.T) {
	stuck := &scripted{name: "stuck", maxQubits: 2, hang: true}
	r := NewReliable(stuck, ReliableOpts{Timeout: 5 * time.Millisecond, MaxAttempts: 2, Backoff: Backoff{Initial: time.Millisecond}})

	start := time.Now()
	_, err := r.Submit(context.Background(), oneQubit, 8)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.EqualValues(t, 2, stuck.calls.Load())
}

func TestParsePreference(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Preference
	}{
		{"auto", PreferAuto},
		{"Hardware", PreferHardware},
		{"SIMULATOR", PreferSimulator},
	} {
		got, err := ParsePreference(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, strings.ToLower(tc.in), got.String())
	}
	_, err := ParsePreference("quantum-cloud")
	assert.Error(t, err)

	var p Preference
	require.NoError(t, p.UnmarshalText([]byte("simulator")))
	assert.Equal(t, PreferSimulator, p)
}

func TestFallbackAuto(t *testing.T) {
	hw := &scripted{name: "device", maxQubits: 5, failures: 100, err: ErrBackendUnavailable}
	sim := &scripted{name: "sim", maxQubits: 20}
	f, err := NewFallback(PreferAuto, hw, sim, nil, zerolog.Nop())
	require.NoError(t, err)

	counts, err := f.Submit(context.Background(), oneQubit, 4)
	require.NoError(t, err)
	assert.Equal(t, Counts{"0": 4}, counts)
	assert.EqualValues(t, 1, hw.calls.Load())
	assert.EqualValues(t, 1, sim.calls.Load())
	assert.Equal(t, 5, f.MaxQubits())
	assert.Equal(t, "device|sim", f.Name())
}

func TestFallbackAutoSurfacesNonTransientErrors(t *testing.T) {
	hw := &scripted{name: "device", maxQubits: 5, failures: 100, err: fmt.Errorf("%w: too wide", ErrCapacityExceeded)}
	sim := &scripted{name: "sim", maxQubits: 20}
	f, err := NewFallback(PreferAuto, hw, sim, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.Submit(context.Background(), oneQubit, 4)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.EqualValues(t, 0, sim.calls.Load())
}

func TestFallbackBreakerSkipsHardware(t *testing.T) {
	hw := &scripted{name: "device", maxQubits: 5, failures: 100, err: ErrBackendUnavailable}
	sim := &scripted{name: "sim", maxQubits: 20}
	f, err := NewFallback(PreferAuto, hw, sim, NewCircuitBreaker(2, time.Hour, 1), zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.Submit(context.Background(), oneQubit, 4)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, hw.calls.Load())
	assert.EqualValues(t, 5, sim.calls.Load())
	assert.Equal(t, 20, f.MaxQubits())
}

func TestFallbackHardwareOnly(t *testing.T) {
	hw := &scripted{name: "device", maxQubits: 5, failures: 100, err: ErrBackendUnavailable}
	sim := &scripted{name: "sim", maxQubits: 20}
	f, err := NewFallback(PreferHardware, hw, sim, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.Submit(context.Background(), oneQubit, 4)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.EqualValues(t, 0, sim.calls.Load())

	_, err = NewFallback(PreferHardware, nil, sim, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewFallback(PreferSimulator, hw, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestFallbackAutoWithoutHardware(t *testing.T) {
	sim := &scripted{name: "sim", maxQubits: 20}
	f, err := NewFallback(PreferAuto, nil, sim, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.Submit(context.Background(), oneQubit, 4)
	require.NoError(t, err)
	assert.Equal(t, "sim", f.Name())
	assert.Equal(t, 20, f.MaxQubits())
}

func TestFallbackCapacityFollowsBreaker(t *testing.T) {
	hw := &scripted{name: "device", maxQubits: 5, failures: 1, err: ErrBackendUnavailable}
	sim := &scripted{name: "sim", maxQubits: 20}
	breaker := NewCircuitBreaker(1, 0, 1)
	f, err := NewFallback(PreferAuto, hw, sim, breaker, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.Submit(context.Background(), oneQubit, 4)
	require.NoError(t, err)
	require.Equal(t, BreakerOpen, breaker.State())
	// The reset timeout has passed, so the next submit would try the device.
	assert.Equal(t, 5, f.MaxQubits())

	// A request in flight on the device holds the only half-open slot, so
	// further submits simulate.
	require.True(t, breaker.Allow())
	assert.Equal(t, 20, f.MaxQubits())
	_, err = f.Submit(context.Background(), oneQubit, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hw.calls.Load())
	assert.EqualValues(t, 2, sim.calls.Load())

	breaker.RecordSuccess()
	assert.Equal(t, BreakerClosed, breaker.State())
	assert.Equal(t, 5, f.MaxQubits())
}
