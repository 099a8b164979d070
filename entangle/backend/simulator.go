package backend

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"

	"github.com/alan-christopher/entangle/entangle/circuit"
)

var (
	DefaultSimulatorName      = "statevector-simulator"
	DefaultSimulatorMaxQubits = 20
)

// A SimulatorOpts packages together the arguments for NewSimulator. The zero
// value describes an ideal, unseeded simulator.
type SimulatorOpts struct {
	// Name defaults to DefaultSimulatorName.
	Name string

	// MaxQubits defaults to DefaultSimulatorMaxQubits. Memory grows as
	// 16 * 2^MaxQubits bytes per concurrent submit.
	MaxQubits int

	// Seed makes results reproducible: identical submits against simulators
	// sharing a non-zero seed yield identical counts. Zero draws a fresh seed
	// for every submit.
	Seed int64

	// ReadoutError is the probability that a measured bit is recorded
	// flipped. Must lie in [0, 0.5].
	ReadoutError float64
}

// A Simulator executes circuits on a dense statevector in process.
type Simulator struct {
	name         string
	maxQubits    int
	seed         int64
	readoutError float64
}

// NewSimulator returns a Simulator configured by opts, or an error if the
// options are nonsensical.
func NewSimulator(opts SimulatorOpts) (*Simulator, error) {
	if opts.ReadoutError < 0 || opts.ReadoutError > 0.5 {
		return nil, fmt.Errorf("readout error must lie in [0, 0.5], got %v", opts.ReadoutError)
	}
	if opts.MaxQubits < 0 {
		return nil, fmt.Errorf("max qubits must be non-negative, got %d", opts.MaxQubits)
	}
	name := opts.Name
	if name == "" {
		name = DefaultSimulatorName
	}
	maxQubits := opts.MaxQubits
	if maxQubits == 0 {
		maxQubits = DefaultSimulatorMaxQubits
	}
	return &Simulator{
		name:         name,
		maxQubits:    maxQubits,
		seed:         opts.Seed,
		readoutError: opts.ReadoutError,
	}, nil
}

func (s *Simulator) Name() string   { return s.name }
func (s *Simulator) MaxQubits() int { return s.maxQubits }

// Submit runs c for shots repetitions.
func (s *Simulator) Submit(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error) {
	if err := Check(c, shots, s.maxQubits); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	r, err := s.source(c, shots)
	if err != nil {
		return nil, err
	}
	if c.Dynamic() {
		return s.runShots(ctx, c, shots, r)
	}
	return s.sample(c, shots, r), nil
}

// source derives the per-submit random source from the seed, the circuit
// fingerprint and the shot count, so the Simulator itself stays stateless.
func (s *Simulator) source(c *circuit.Circuit, shots int) (*rand.Rand, error) {
	seed := s.seed
	if seed == 0 {
		var buf [8]byte
		if _, err := crand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("%w: seeding: %v", ErrBackendUnavailable, err)
		}
		return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(buf[:])))), nil
	}
	mixed := seed ^ int64(c.Fingerprint()) ^ int64(shots)*0x9e3779b97f4a7c
	return rand.New(rand.NewSource(mixed)), nil
}

type measurement struct {
	qubit, clbit int
}

// sample draws every shot from the final distribution of a circuit whose
// measurements are all terminal.
func (s *Simulator) sample(c *circuit.Circuit, shots int, r *rand.Rand) Counts {
	st := newState(c.NumQubits)
	var ms []measurement
	for _, op := range c.Ops {
		if op.Gate == circuit.Measure {
			ms = append(ms, measurement{qubit: op.Qubits[0], clbit: op.Clbit})
			continue
		}
		st.apply(op)
	}
	cum := st.cumulative()
	total := cum[len(cum)-1]
	counts := make(Counts)
	bits := make([]byte, c.NumClbits)
	for i := 0; i < shots; i++ {
		x := r.Float64() * total
		idx := sort.Search(len(cum), func(i int) bool { return cum[i] > x })
		if idx == len(cum) {
			idx--
		}
		for j := range bits {
			bits[j] = '0'
		}
		for _, m := range ms {
			bits[m.clbit] = s.readout((idx>>m.qubit)&1, r)
		}
		counts[string(bits)]++
	}
	return counts
}

// runShots executes circuits with mid-circuit measurement or classically
// conditioned gates one shot at a time.
func (s *Simulator) runShots(ctx context.Context, c *circuit.Circuit, shots int, r *rand.Rand) (Counts, error) {
	ground := newState(c.NumQubits)
	counts := make(Counts)
	bits := make([]byte, c.NumClbits)
	for i := 0; i < shots; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
		}
		st := ground.clone()
		for j := range bits {
			bits[j] = '0'
		}
		for _, op := range c.Ops {
			if op.If != nil && int(bits[op.If.Clbit]-'0') != op.If.Value {
				continue
			}
			if op.Gate != circuit.Measure {
				st.apply(op)
				continue
			}
			q := op.Qubits[0]
			v := 0
			if r.Float64() < st.prob1(q) {
				v = 1
			}
			st.collapse(q, v)
			bits[op.Clbit] = s.readout(v, r)
		}
		counts[string(bits)]++
	}
	return counts, nil
}

func (s *Simulator) readout(v int, r *rand.Rand) byte {
	if s.readoutError > 0 && r.Float64() < s.readoutError {
		v ^= 1
	}
	return byte('0' + v)
}
