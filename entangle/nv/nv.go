// Package nv models heralded entanglement between nitrogen-vacancy centre
// nodes joined by an optical link. An attempt walks a fixed sequence of
// physical steps; each round either heralds a shared pair or restarts from
// spin initialization, up to a bounded number of rounds.
package nv

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("duplicate node")
	ErrSameNode      = errors.New("cannot entangle a node with itself")
	ErrPairBusy      = errors.New("node pair already has an attempt in progress")
)

// A Step is a stage of an entanglement attempt.
type Step int

const (
	SpinInit Step = iota
	DrivenDynamicalDecoupling
	PhotonInjection
	ConditionalRouting
	HeraldedMeasurement
	PulseControl
	NetworkExtension
	Success
	Failure
)

var stepNames = [...]string{
	SpinInit:                  "spin_init",
	DrivenDynamicalDecoupling: "driven_dynamical_decoupling",
	PhotonInjection:           "photon_injection",
	ConditionalRouting:        "conditional_routing",
	HeraldedMeasurement:       "heralded_measurement",
	PulseControl:              "pulse_control",
	NetworkExtension:          "network_extension",
	Success:                   "success",
	Failure:                   "failure",
}

func (s Step) String() string {
	if s >= 0 && int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions are possible.
func (s Step) Terminal() bool { return s == Success || s == Failure }

// A Node is an NV-centre entanglement endpoint.
type Node struct {
	ID string
	// T2 is the electron spin coherence time without decoupling.
	T2 time.Duration
	// WavelengthNM is the emission wavelength of the node's photons.
	WavelengthNM float64
}

// A Registry holds the nodes known to a session. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Node
	order []string
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]Node)}
}

// Register adds n, rejecting duplicate or malformed nodes.
func (r *Registry) Register(n Node) error {
	if n.ID == "" {
		return errors.New("node id must be non-empty")
	}
	if n.T2 <= 0 {
		return fmt.Errorf("node %s: T2 must be positive, got %v", n.ID, n.T2)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	r.nodes[n.ID] = n
	r.order = append(r.order, n.ID)
	return nil
}

func (r *Registry) Lookup(id string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

// Nodes returns every registered node in registration order.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, len(r.order))
	for i, id := range r.order {
		out[i] = r.nodes[id]
	}
	return out
}
