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

// A BellState is one of the four maximally entangled two-qubit states.
type BellState int

const (
	PhiPlus BellState = iota
	PhiMinus
	PsiPlus
	PsiMinus
)

var bellNames = [...]string{
	PhiPlus:  "phi_plus",
	PhiMinus: "phi_minus",
	PsiPlus:  "psi_plus",
	PsiMinus: "psi_minus",
}

func (s BellState) valid() bool { return s >= 0 && int(s) < len(bellNames) }

func (s BellState) String() string {
	if s.valid() {
		return bellNames[s]
	}
	return fmt.Sprintf("BellState(%d)", int(s))
}

// ParseBellState accepts the names String produces, ignoring case.
func ParseBellState(name string) (BellState, error) {
	for i, n := range bellNames {
		if strings.EqualFold(name, n) {
			return BellState(i), nil
		}
	}
	return 0, fmt.Errorf("%w: bell state %q", ErrUnknownState, name)
}

func (s BellState) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownState, s)
	}
	return []byte(s.String()), nil
}

func (s *BellState) UnmarshalText(b []byte) error {
	v, err := ParseBellState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Amplitudes returns the non-zero amplitudes of s keyed by computational
// basis state, qubit 0 first.
func (s BellState) Amplitudes() map[string]complex128 {
	h := complex(1/math.Sqrt2, 0)
	switch s {
	case PhiPlus:
		return map[string]complex128{"00": h, "11": h}
	case PhiMinus:
		return map[string]complex128{"00": h, "11": -h}
	case PsiPlus:
		return map[string]complex128{"01": h, "10": h}
	case PsiMinus:
		return map[string]complex128{"01": h, "10": -h}
	}
	return nil
}

// Pattern returns the Z-basis outcome distribution of s: perfectly correlated
// for the Φ states, anti-correlated for the Ψ states.
func (s BellState) Pattern() fidelity.Pattern {
	p := make(fidelity.Pattern)
	for o, a := range s.Amplitudes() {
		p[o] = real(a)*real(a) + imag(a)*imag(a)
	}
	return p
}

// ParityPattern returns the outcome distribution of s measured in the X basis
// on both qubits. It separates the states Pattern cannot: ΦPlus and ΨPlus
// give even parity, ΦMinus and ΨMinus odd.
func (s BellState) ParityPattern() fidelity.Pattern {
	switch s {
	case PhiPlus, PsiPlus:
		return fidelity.Uniform("00", "11")
	case PhiMinus, PsiMinus:
		return fidelity.Uniform("01", "10")
	}
	return nil
}

// AppendPair appends gates preparing s on qubits q0 and q1, which must start
// in the ground state. Basis flips select the variant before the H+CX core.
func AppendPair(c *circuit.Circuit, s BellState, q0, q1 int) error {
	switch s {
	case PhiPlus:
	case PhiMinus:
		c.X(q0)
	case PsiPlus:
		c.X(q1)
	case PsiMinus:
		c.X(q0).X(q1)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownState, s)
	}
	c.H(q0).CX(q0, q1)
	return nil
}

// BellCircuit returns the measured two-qubit circuit preparing s.
func BellCircuit(s BellState) (*circuit.Circuit, error) {
	c := circuit.New("bell-"+s.String(), 2, 2)
	if err := AppendPair(c, s, 0, 1); err != nil {
		return nil, err
	}
	return c.MeasureAll(), nil
}

// BellParityCircuit returns the circuit preparing s and measuring both qubits
// in the X basis.
func BellParityCircuit(s BellState) (*circuit.Circuit, error) {
	c := circuit.New("bell-"+s.String()+"-x", 2, 2)
	if err := AppendPair(c, s, 0, 1); err != nil {
		return nil, err
	}
	return c.H(0).H(1).MeasureAll(), nil
}

// A BellPairResult is a measured Bell pair and its verdict. A failed verdict
// is a valid result.
type BellPairResult struct {
	State   BellState      `json:"state"`
	Backend string         `json:"backend"`
	Shots   int            `json:"shots"`
	Counts  backend.Counts `json:"counts"`
	// Fidelity scores the Z-basis correlations in Counts.
	Fidelity float64 `json:"fidelity"`
	// PhaseCounts and PhaseFidelity are the same for the X-basis parity
	// measurement, which fixes the relative sign.
	PhaseCounts   backend.Counts `json:"phase_counts"`
	PhaseFidelity float64        `json:"phase_fidelity"`
	Threshold     float64        `json:"threshold"`
	// Pass holds when both fidelities reach Threshold.
	Pass bool `json:"pass"`
}

// A BellGenerator prepares and verifies Bell pairs on a backend.
type BellGenerator struct {
	backend   backend.Backend
	shots     int
	threshold float64
	log       zerolog.Logger
}

func NewBellGenerator(b backend.Backend, shots int, threshold float64, log zerolog.Logger) (*BellGenerator, error) {
	if b == nil {
		return nil, errors.New("must provide Backend")
	}
	if shots <= 0 {
		return nil, fmt.Errorf("shots must be positive, got %d", shots)
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must lie in (0, 1], got %v", threshold)
	}
	return &BellGenerator{backend: b, shots: shots, threshold: threshold, log: log}, nil
}

// CreateBellPair prepares s twice, measuring the Z-basis correlations and
// then the X-basis parity, and scores each against s's patterns.
func (g *BellGenerator) CreateBellPair(ctx context.Context, s BellState) (*BellPairResult, error) {
	zc, err := BellCircuit(s)
	if err != nil {
		return nil, err
	}
	xc, err := BellParityCircuit(s)
	if err != nil {
		return nil, err
	}
	counts, err := g.backend.Submit(ctx, zc, g.shots)
	if err != nil {
		return nil, fmt.Errorf("creating %v pair: %w", s, err)
	}
	phase, err := g.backend.Submit(ctx, xc, g.shots)
	if err != nil {
		return nil, fmt.Errorf("checking %v pair phase: %w", s, err)
	}
	z := fidelity.Judge(fidelity.Estimate(counts, s.Pattern()), g.threshold)
	x := fidelity.Judge(fidelity.Estimate(phase, s.ParityPattern()), g.threshold)
	g.log.Debug().Stringer("state", s).Float64("fidelity", z.Fidelity).Float64("phase_fidelity", x.Fidelity).Bool("pass", z.Pass && x.Pass).Msg("bell pair measured")
	return &BellPairResult{
		State:         s,
		Backend:       g.backend.Name(),
		Shots:         g.shots,
		Counts:        counts,
		Fidelity:      z.Fidelity,
		PhaseCounts:   phase,
		PhaseFidelity: x.Fidelity,
		Threshold:     g.threshold,
		Pass:          z.Pass && x.Pass,
	}, nil
}
