package entangle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/alan-christopher/entangle/entangle/fidelity"
	"github.com/rs/zerolog"
)

// EntropyTolerance is how far, in bits, a GHZ outcome entropy may stray from
// the ideal single bit and still count as consistent.
var EntropyTolerance = 0.1

// GHZCircuit returns the measured n-qubit GHZ circuit: H on qubit 0, then a
// chain of CNOTs from each qubit to the next.
func GHZCircuit(n int) (*circuit.Circuit, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPartyCount, n)
	}
	c := circuit.New(fmt.Sprintf("ghz-%d", n), n, n)
	c.H(0)
	for i := 1; i < n; i++ {
		c.CX(i-1, i)
	}
	return c.MeasureAll(), nil
}

// GHZPattern returns the ideal Z-basis distribution of an n-party GHZ state.
func GHZPattern(n int) fidelity.Pattern {
	return fidelity.Uniform(strings.Repeat("0", n), strings.Repeat("1", n))
}

// A GHZResult is a measured GHZ state and its verdict.
type GHZResult struct {
	Parties   int            `json:"parties"`
	Backend   string         `json:"backend"`
	Shots     int            `json:"shots"`
	Counts    backend.Counts `json:"counts"`
	Fidelity  float64        `json:"fidelity"`
	Threshold float64        `json:"threshold"`
	Pass      bool           `json:"pass"`
	// Entropy is the Shannon entropy of the outcomes in bits; ideally 1.
	Entropy           float64 `json:"entropy"`
	EntropyConsistent bool    `json:"entropy_consistent"`
}

// A GHZGenerator prepares and verifies GHZ states on a backend.
type GHZGenerator struct {
	backend   backend.Backend
	shots     int
	threshold float64
	log       zerolog.Logger
}

// NewGHZGenerator returns a GHZGenerator. shots is the per-pair budget; a
// state over n parties is measured shots*(n-1) times.
func NewGHZGenerator(b backend.Backend, shots int, threshold float64, log zerolog.Logger) (*GHZGenerator, error) {
	if b == nil {
		return nil, errors.New("must provide Backend")
	}
	if shots <= 0 {
		return nil, fmt.Errorf("shots must be positive, got %d", shots)
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must lie in (0, 1], got %v", threshold)
	}
	return &GHZGenerator{backend: b, shots: shots, threshold: threshold, log: log}, nil
}

// CreateGHZState prepares and measures an n-party GHZ state. A state wider
// than the backend fails with backend.ErrCapacityExceeded before anything is
// submitted.
func (g *GHZGenerator) CreateGHZState(ctx context.Context, n int) (*GHZResult, error) {
	c, err := GHZCircuit(n)
	if err != nil {
		return nil, err
	}
	if limit := g.backend.MaxQubits(); n > limit {
		return nil, fmt.Errorf("%w: %d-party GHZ state on %s (max %d qubits)", backend.ErrCapacityExceeded, n, g.backend.Name(), limit)
	}
	shots := g.shots * (n - 1)
	counts, err := g.backend.Submit(ctx, c, shots)
	if err != nil {
		return nil, fmt.Errorf("creating %d-party GHZ state: %w", n, err)
	}
	v := fidelity.Judge(fidelity.Estimate(counts, GHZPattern(n)), g.threshold)
	h := fidelity.Entropy(counts)
	g.log.Debug().Int("parties", n).Float64("fidelity", v.Fidelity).Float64("entropy", h).Msg("ghz state measured")
	return &GHZResult{
		Parties:           n,
		Backend:           g.backend.Name(),
		Shots:             shots,
		Counts:            counts,
		Fidelity:          v.Fidelity,
		Threshold:         v.Threshold,
		Pass:              v.Pass,
		Entropy:           h,
		EntropyConsistent: math.Abs(h-1) <= EntropyTolerance,
	}, nil
}
