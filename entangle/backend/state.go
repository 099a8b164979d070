package backend

import (
	"math"
	"math/cmplx"

	"github.com/alan-christopher/entangle/entangle/circuit"
)

// A state is a dense statevector. Basis index bit q holds qubit q.
type state struct {
	amps []complex128
}

func newState(n int) *state {
	amps := make([]complex128, 1<<n)
	amps[0] = 1
	return &state{amps: amps}
}

func (s *state) clone() *state {
	amps := make([]complex128, len(s.amps))
	copy(amps, s.amps)
	return &state{amps: amps}
}

type matrix [2][2]complex128

var (
	hMatrix   = matrix{{complex(math.Sqrt2/2, 0), complex(math.Sqrt2/2, 0)}, {complex(math.Sqrt2/2, 0), complex(-math.Sqrt2/2, 0)}}
	xMatrix   = matrix{{0, 1}, {1, 0}}
	yMatrix   = matrix{{0, -1i}, {1i, 0}}
	zMatrix   = matrix{{1, 0}, {0, -1}}
	sMatrix   = matrix{{1, 0}, {0, 1i}}
	sdgMatrix = matrix{{1, 0}, {0, -1i}}
	tMatrix   = matrix{{1, 0}, {0, cmplx.Exp(complex(0, math.Pi/4))}}
)

func rotation(g circuit.Gate, theta float64) matrix {
	c, s := math.Cos(theta/2), math.Sin(theta/2)
	switch g {
	case circuit.RX:
		return matrix{{complex(c, 0), complex(0, -s)}, {complex(0, -s), complex(c, 0)}}
	case circuit.RY:
		return matrix{{complex(c, 0), complex(-s, 0)}, {complex(s, 0), complex(c, 0)}}
	default:
		return matrix{{cmplx.Exp(complex(0, -theta/2)), 0}, {0, cmplx.Exp(complex(0, theta/2))}}
	}
}

// apply performs a validated, non-measurement op.
func (s *state) apply(op circuit.Op) {
	switch op.Gate {
	case circuit.H:
		s.apply1(op.Qubits[0], hMatrix)
	case circuit.X:
		s.apply1(op.Qubits[0], xMatrix)
	case circuit.Y:
		s.apply1(op.Qubits[0], yMatrix)
	case circuit.Z:
		s.apply1(op.Qubits[0], zMatrix)
	case circuit.S:
		s.apply1(op.Qubits[0], sMatrix)
	case circuit.Sdg:
		s.apply1(op.Qubits[0], sdgMatrix)
	case circuit.T:
		s.apply1(op.Qubits[0], tMatrix)
	case circuit.RX, circuit.RY, circuit.RZ:
		s.apply1(op.Qubits[0], rotation(op.Gate, op.Params[0]))
	case circuit.CX:
		s.cx(op.Qubits[0], op.Qubits[1])
	case circuit.CZ:
		s.cz(op.Qubits[0], op.Qubits[1])
	case circuit.Swap:
		s.swap(op.Qubits[0], op.Qubits[1])
	}
}

func (s *state) apply1(q int, m matrix) {
	bit := 1 << q
	for i := range s.amps {
		if i&bit != 0 {
			continue
		}
		j := i | bit
		a, b := s.amps[i], s.amps[j]
		s.amps[i] = m[0][0]*a + m[0][1]*b
		s.amps[j] = m[1][0]*a + m[1][1]*b
	}
}

func (s *state) cx(ctl, tgt int) {
	cb, tb := 1<<ctl, 1<<tgt
	for i := range s.amps {
		if i&cb != 0 && i&tb == 0 {
			j := i | tb
			s.amps[i], s.amps[j] = s.amps[j], s.amps[i]
		}
	}
}

func (s *state) cz(a, b int) {
	mask := 1<<a | 1<<b
	for i := range s.amps {
		if i&mask == mask {
			s.amps[i] = -s.amps[i]
		}
	}
}

func (s *state) swap(a, b int) {
	ab, bb := 1<<a, 1<<b
	for i := range s.amps {
		if i&ab != 0 && i&bb == 0 {
			j := i&^ab | bb
			s.amps[i], s.amps[j] = s.amps[j], s.amps[i]
		}
	}
}

// prob1 returns the probability that measuring q yields 1.
func (s *state) prob1(q int) float64 {
	bit := 1 << q
	p := 0.0
	for i, a := range s.amps {
		if i&bit != 0 {
			p += real(a)*real(a) + imag(a)*imag(a)
		}
	}
	return p
}

// collapse projects q onto value and renormalizes.
func (s *state) collapse(q, value int) {
	bit := 1 << q
	norm := 0.0
	for i, a := range s.amps {
		if (i&bit != 0) != (value == 1) {
			s.amps[i] = 0
			continue
		}
		norm += real(a)*real(a) + imag(a)*imag(a)
	}
	if norm == 0 {
		return
	}
	scale := complex(1/math.Sqrt(norm), 0)
	for i := range s.amps {
		s.amps[i] *= scale
	}
}

// cumulative returns the running sum of basis-state probabilities.
func (s *state) cumulative() []float64 {
	cum := make([]float64, len(s.amps))
	total := 0.0
	for i, a := range s.amps {
		total += real(a)*real(a) + imag(a)*imag(a)
		cum[i] = total
	}
	return cum
}
