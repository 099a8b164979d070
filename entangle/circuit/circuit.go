// Package circuit provides a provider-neutral description of quantum circuits:
// an ordered list of gate operations on indexed qubits, measurements into
// indexed classical bits, and gates conditioned on previously measured bits.
package circuit

import (
	"errors"
	"fmt"
	"hash/fnv"
)

// A Gate names a quantum operation.
type Gate string

const (
	H       Gate = "h"
	X       Gate = "x"
	Y       Gate = "y"
	Z       Gate = "z"
	S       Gate = "s"
	Sdg     Gate = "sdg"
	T       Gate = "t"
	RX      Gate = "rx"
	RY      Gate = "ry"
	RZ      Gate = "rz"
	CX      Gate = "cx"
	CZ      Gate = "cz"
	Swap    Gate = "swap"
	Measure Gate = "measure"
)

type arity struct {
	qubits, params int
}

var arities = map[Gate]arity{
	H: {1, 0}, X: {1, 0}, Y: {1, 0}, Z: {1, 0}, S: {1, 0}, Sdg: {1, 0}, T: {1, 0},
	RX: {1, 1}, RY: {1, 1}, RZ: {1, 1},
	CX: {2, 0}, CZ: {2, 0}, Swap: {2, 0},
	Measure: {1, 0},
}

// Known reports whether g is a gate this package can describe.
func Known(g Gate) bool {
	_, ok := arities[g]
	return ok
}

// A Condition gates an Op on the value of a classical bit measured earlier in
// the same shot.
type Condition struct {
	Clbit int
	Value int
}

// An Op is a single circuit instruction. Clbit is only meaningful for Measure.
type Op struct {
	Gate   Gate
	Qubits []int
	Params []float64
	Clbit  int
	If     *Condition
}

// A Circuit is an ordered list of operations over NumQubits qubits and
// NumClbits classical bits, all initialized to zero.
type Circuit struct {
	Name      string
	NumQubits int
	NumClbits int
	Ops       []Op
}

// New returns an empty circuit with the given register sizes.
func New(name string, qubits, clbits int) *Circuit {
	return &Circuit{Name: name, NumQubits: qubits, NumClbits: clbits}
}

// Apply appends an unparameterized gate.
func (c *Circuit) Apply(g Gate, qubits ...int) *Circuit {
	c.Ops = append(c.Ops, Op{Gate: g, Qubits: qubits})
	return c
}

// Rotate appends a single-qubit rotation by theta radians.
func (c *Circuit) Rotate(g Gate, theta float64, q int) *Circuit {
	c.Ops = append(c.Ops, Op{Gate: g, Qubits: []int{q}, Params: []float64{theta}})
	return c
}

func (c *Circuit) H(q int) *Circuit         { return c.Apply(H, q) }
func (c *Circuit) X(q int) *Circuit         { return c.Apply(X, q) }
func (c *Circuit) Z(q int) *Circuit         { return c.Apply(Z, q) }
func (c *Circuit) CX(ctl, tgt int) *Circuit { return c.Apply(CX, ctl, tgt) }

// Measure appends a Z-basis measurement of qubit q into classical bit clbit.
func (c *Circuit) Measure(q, clbit int) *Circuit {
	c.Ops = append(c.Ops, Op{Gate: Measure, Qubits: []int{q}, Clbit: clbit})
	return c
}

// MeasureAll measures qubit i into classical bit i for every qubit that has a
// matching classical bit.
func (c *Circuit) MeasureAll() *Circuit {
	for i := 0; i < c.NumQubits && i < c.NumClbits; i++ {
		c.Measure(i, i)
	}
	return c
}

// IfBit appends g on qubits, applied only in shots where clbit reads value.
func (c *Circuit) IfBit(clbit, value int, g Gate, qubits ...int) *Circuit {
	c.Ops = append(c.Ops, Op{Gate: g, Qubits: qubits, If: &Condition{Clbit: clbit, Value: value}})
	return c
}

// Validate checks that every operation names a known gate with the right
// number of distinct, in-range qubits and parameters, and that the circuit
// measures at least one qubit.
func (c *Circuit) Validate() error {
	if c == nil {
		return errors.New("nil circuit")
	}
	if c.NumQubits < 1 {
		return fmt.Errorf("circuit %q has %d qubits, need at least 1", c.Name, c.NumQubits)
	}
	if c.NumClbits < 1 {
		return fmt.Errorf("circuit %q has %d classical bits, need at least 1", c.Name, c.NumClbits)
	}
	measured := false
	for i, op := range c.Ops {
		a, ok := arities[op.Gate]
		if !ok {
			return fmt.Errorf("op %d: unknown gate %q", i, op.Gate)
		}
		if len(op.Qubits) != a.qubits {
			return fmt.Errorf("op %d (%s): got %d qubits, want %d", i, op.Gate, len(op.Qubits), a.qubits)
		}
		if len(op.Params) != a.params {
			return fmt.Errorf("op %d (%s): got %d params, want %d", i, op.Gate, len(op.Params), a.params)
		}
		for j, q := range op.Qubits {
			if q < 0 || q >= c.NumQubits {
				return fmt.Errorf("op %d (%s): qubit %d outside register of %d", i, op.Gate, q, c.NumQubits)
			}
			for _, p := range op.Qubits[:j] {
				if p == q {
					return fmt.Errorf("op %d (%s): qubit %d used twice", i, op.Gate, q)
				}
			}
		}
		if op.Gate == Measure {
			measured = true
			if op.Clbit < 0 || op.Clbit >= c.NumClbits {
				return fmt.Errorf("op %d: classical bit %d outside register of %d", i, op.Clbit, c.NumClbits)
			}
		}
		if op.If != nil {
			if op.If.Clbit < 0 || op.If.Clbit >= c.NumClbits {
				return fmt.Errorf("op %d (%s): condition on classical bit %d outside register of %d", i, op.Gate, op.If.Clbit, c.NumClbits)
			}
			if op.If.Value != 0 && op.If.Value != 1 {
				return fmt.Errorf("op %d (%s): condition value %d is not a bit", i, op.Gate, op.If.Value)
			}
		}
	}
	if !measured {
		return fmt.Errorf("circuit %q measures nothing", c.Name)
	}
	return nil
}

// Dynamic reports whether the circuit needs shot-by-shot execution: it has a
// classically conditioned op, measures a qubit twice, or touches a qubit after
// measuring it. Circuits that are not dynamic can be sampled from their final
// state.
func (c *Circuit) Dynamic() bool {
	measured := make(map[int]bool)
	for _, op := range c.Ops {
		if op.If != nil {
			return true
		}
		for _, q := range op.Qubits {
			if measured[q] {
				return true
			}
		}
		if op.Gate == Measure {
			measured[op.Qubits[0]] = true
		}
	}
	return false
}

// Fingerprint returns a stable 64-bit hash of the circuit's instructions. The
// name does not contribute.
func (c *Circuit) Fingerprint() uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.QASM()))
	return h.Sum64()
}
