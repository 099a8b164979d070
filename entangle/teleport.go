package entangle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/alan-christopher/entangle/entangle/fidelity"
	"github.com/alan-christopher/entangle/entangle/nv"
	"github.com/rs/zerolog"
)

// A PairSource supplies Bell pairs. Teleportation only proceeds on a pair
// whose verdict passed.
type PairSource interface {
	CreateBellPair(ctx context.Context, s BellState) (*BellPairResult, error)
}

// A StateLabel names a single-qubit state that can be prepared and teleported.
type StateLabel string

const (
	Zero   StateLabel = "zero"
	One    StateLabel = "one"
	Plus   StateLabel = "plus"
	Minus  StateLabel = "minus"
	PlusI  StateLabel = "plus_i"
	MinusI StateLabel = "minus_i"
)

// Labels lists every preparable StateLabel.
var Labels = []StateLabel{Zero, One, Plus, Minus, PlusI, MinusI}

// ParseStateLabel validates name as a StateLabel.
func ParseStateLabel(name string) (StateLabel, error) {
	for _, l := range Labels {
		if string(l) == name {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: state label %q", ErrUnknownState, name)
}

// Prepare appends gates taking qubit q from the ground state to l.
func (l StateLabel) Prepare(c *circuit.Circuit, q int) error {
	switch l {
	case Zero:
	case One:
		c.X(q)
	case Plus:
		c.H(q)
	case Minus:
		c.X(q).H(q)
	case PlusI:
		c.H(q).Apply(circuit.S, q)
	case MinusI:
		c.H(q).Apply(circuit.Sdg, q)
	default:
		return fmt.Errorf("%w: state label %q", ErrUnknownState, string(l))
	}
	return nil
}

// Unprepare appends gates undoing Prepare on qubit q, taking l back to the
// ground state.
func (l StateLabel) Unprepare(c *circuit.Circuit, q int) error {
	switch l {
	case Zero:
	case One:
		c.X(q)
	case Plus:
		c.H(q)
	case Minus:
		c.H(q).X(q)
	case PlusI:
		c.Apply(circuit.Sdg, q).H(q)
	case MinusI:
		c.Apply(circuit.S, q).H(q)
	default:
		return fmt.Errorf("%w: state label %q", ErrUnknownState, string(l))
	}
	return nil
}

// returned is the destination distribution of a faithful teleportation: the
// destination is rotated back through Unprepare before it is measured, so
// every label reads 0.
var returned = fidelity.Pattern{"0": 1}

// TeleportCircuit returns the three-qubit teleportation circuit for l. Qubit 0
// holds the state, qubits 1 and 2 the source and destination halves of a ΦPlus
// pair. c[0] and c[1] receive the Bell measurement. After correction the
// destination is rotated back to the ground state and measured into c[2].
func TeleportCircuit(l StateLabel) (*circuit.Circuit, error) {
	c := circuit.New("teleport-"+string(l), 3, 3)
	if err := l.Prepare(c, 0); err != nil {
		return nil, err
	}
	if err := AppendPair(c, PhiPlus, 1, 2); err != nil {
		return nil, err
	}
	c.CX(0, 1).H(0).
		Measure(0, 0).
		Measure(1, 1).
		IfBit(1, 1, circuit.X, 2).
		IfBit(0, 1, circuit.Z, 2)
	if err := l.Unprepare(c, 2); err != nil {
		return nil, err
	}
	return c.Measure(2, 2), nil
}

// A TeleportationResult records a teleportation. It carries the Bell
// measurement bits and the destination statistics, never the state itself.
type TeleportationResult struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Label       StateLabel `json:"label"`
	// Bits is the most frequent (c0, c1) Bell measurement outcome.
	Bits [2]int `json:"bits"`
	// Success is true unless strict verification is on and Verified is false.
	Success bool `json:"success"`
	// Verified reports whether the destination, rotated back through the
	// inverse preparation, is consistent with the ground state.
	Verified          bool           `json:"verified"`
	Fidelity          float64        `json:"fidelity"`
	PValue            float64        `json:"p_value"`
	Shots             int            `json:"shots"`
	Counts            backend.Counts `json:"counts"`
	DestinationCounts backend.Counts `json:"destination_counts"`
}

// A TeleporterOpts packages together the arguments necessary to construct a
// Teleporter.
type TeleporterOpts struct {
	// Pairs supplies the ΦPlus pair consumed by each teleportation. Must be
	// non-nil.
	Pairs PairSource

	// Backend runs the teleportation circuit. Must be non-nil.
	Backend backend.Backend

	// Registry resolves the source and destination nodes. Must be non-nil.
	Registry *nv.Registry

	// Shots per teleportation. Must be positive.
	Shots int

	// Significance is the chi-squared test level below which destination
	// statistics fail verification. Must lie in (0, 1).
	Significance float64

	// Strict fails teleportations that do not verify.
	Strict bool

	Logger zerolog.Logger
}

// A Teleporter moves single-qubit states between registered nodes.
type Teleporter struct {
	pairs        PairSource
	backend      backend.Backend
	registry     *nv.Registry
	shots        int
	significance float64
	strict       bool
	log          zerolog.Logger
}

func NewTeleporter(opts TeleporterOpts) (*Teleporter, error) {
	if opts.Pairs == nil {
		return nil, errors.New("must provide Pairs")
	}
	if opts.Backend == nil {
		return nil, errors.New("must provide Backend")
	}
	if opts.Registry == nil {
		return nil, errors.New("must provide Registry")
	}
	if opts.Shots <= 0 {
		return nil, fmt.Errorf("shots must be positive, got %d", opts.Shots)
	}
	if opts.Significance <= 0 || opts.Significance >= 1 {
		return nil, fmt.Errorf("significance must lie in (0, 1), got %v", opts.Significance)
	}
	return &Teleporter{
		pairs:        opts.Pairs,
		backend:      opts.Backend,
		registry:     opts.Registry,
		shots:        opts.Shots,
		significance: opts.Significance,
		strict:       opts.Strict,
		log:          opts.Logger,
	}, nil
}

// Teleport sends the state named by l from source to dest. A pair that fails
// its verdict aborts with ErrPairUnverified before the teleportation circuit
// is submitted.
func (t *Teleporter) Teleport(ctx context.Context, l StateLabel, source, dest string) (*TeleportationResult, error) {
	if _, err := ParseStateLabel(string(l)); err != nil {
		return nil, err
	}
	if source == dest {
		return nil, fmt.Errorf("%w: %s", nv.ErrSameNode, source)
	}
	if _, err := t.registry.Lookup(source); err != nil {
		return nil, err
	}
	if _, err := t.registry.Lookup(dest); err != nil {
		return nil, err
	}

	pair, err := t.pairs.CreateBellPair(ctx, PhiPlus)
	if err != nil {
		return nil, fmt.Errorf("teleporting %s to %s: %w", source, dest, err)
	}
	if !pair.Pass {
		return nil, fmt.Errorf("%w: fidelity %.4f, phase fidelity %.4f, threshold %.4f", ErrPairUnverified, pair.Fidelity, pair.PhaseFidelity, pair.Threshold)
	}

	c, err := TeleportCircuit(l)
	if err != nil {
		return nil, err
	}
	counts, err := t.backend.Submit(ctx, c, t.shots)
	if err != nil {
		return nil, fmt.Errorf("teleporting %s to %s: %w", source, dest, err)
	}

	dst := make(backend.Counts)
	bell := make(map[string]int)
	for o, v := range counts {
		if len(o) != c.NumClbits {
			return nil, fmt.Errorf("teleporting %s to %s: outcome %q has %d bits, want %d", source, dest, o, len(o), c.NumClbits)
		}
		dst[o[2:3]] += v
		bell[o[:2]] += v
	}
	gof := fidelity.ChiSquare(dst, returned)
	res := &TeleportationResult{
		Source:            source,
		Destination:       dest,
		Label:             l,
		Bits:              modalBits(bell),
		Verified:          gof.Consistent(t.significance),
		Fidelity:          fidelity.Classical(dst, returned),
		PValue:            gof.PValue,
		Shots:             t.shots,
		Counts:            counts,
		DestinationCounts: dst,
	}
	res.Success = res.Verified || !t.strict
	log := t.log.With().Str("label", string(l)).Str("source", source).Str("dest", dest).Logger()
	if !res.Verified {
		log.Warn().Float64("p_value", res.PValue).Float64("fidelity", res.Fidelity).Msg("teleported state failed verification")
	} else {
		log.Debug().Float64("p_value", res.PValue).Ints("bits", res.Bits[:]).Msg("teleported")
	}
	return res, nil
}

// modalBits returns the most frequent two-bit outcome, the lexicographically
// smallest on ties.
func modalBits(counts map[string]int) [2]int {
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	best := ""
	for _, o := range outcomes {
		if best == "" || counts[o] > counts[best] {
			best = o
		}
	}
	var bits [2]int
	for i := 0; i < len(best) && i < 2; i++ {
		if best[i] == '1' {
			bits[i] = 1
		}
	}
	return bits
}
