// Package backend provides the execution capability every protocol layer
// submits circuits through, along with its implementations: a statevector
// Simulator, a Remote hardware client and policies that compose them.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alan-christopher/entangle/entangle/circuit"
)

var (
	// ErrBackendUnavailable reports a transient failure to reach or run on a
	// backend. Callers may retry.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrInvalidCircuit reports a malformed submission. Never retried.
	ErrInvalidCircuit = errors.New("invalid circuit")
	// ErrCapacityExceeded reports a circuit wider than the backend supports.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Counts maps outcome bitstrings to the number of shots that produced them.
// Character i of an outcome is classical bit c[i].
type Counts map[string]int

// Total returns the number of shots represented.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Outcomes returns the observed outcomes in lexicographic order.
func (c Counts) Outcomes() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// A Backend executes circuits. Implementations hold no per-call state and
// are safe for concurrent use.
type Backend interface {
	// Name identifies the backend in results and logs.
	Name() string
	// MaxQubits is the widest circuit the backend accepts.
	MaxQubits() int
	// Submit runs c for shots repetitions and returns outcome counts summing
	// to shots. It fails with ErrInvalidCircuit, ErrCapacityExceeded or
	// ErrBackendUnavailable.
	Submit(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error)
}

// Check validates a submission against a backend's capacity.
func Check(c *circuit.Circuit, shots, maxQubits int) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCircuit, err)
	}
	if shots <= 0 {
		return fmt.Errorf("%w: shots must be positive, got %d", ErrInvalidCircuit, shots)
	}
	if c.NumQubits > maxQubits {
		return fmt.Errorf("%w: circuit %q needs %d qubits, backend supports %d", ErrCapacityExceeded, c.Name, c.NumQubits, maxQubits)
	}
	return nil
}
