package nv

import (
	"fmt"
	"math"
	"time"
)

// fibreKMPerSecond is the speed of light in silica fibre.
const fibreKMPerSecond = 2e5

// A Link describes the optical path between two nodes and the imperfections
// of the hardware on either end.
type Link struct {
	DistanceKM         float64
	AttenuationDBPerKM float64
	InsertionLossDB    float64
	DetectorEfficiency float64
	// Visibility is the Hong-Ou-Mandel interference visibility at the beam
	// splitter.
	Visibility float64
	// PulseError is the infidelity added by the corrective microwave pulses.
	PulseError float64
	// DecouplingGain multiplies T2 while dynamical decoupling is driven.
	DecouplingGain float64
	// StepDuration is the time spent in each step other than photon flight.
	StepDuration time.Duration
}

// DefaultLink is a short laboratory link.
var DefaultLink = Link{
	DistanceKM:         0,
	AttenuationDBPerKM: 0.2,
	InsertionLossDB:    0.5,
	DetectorEfficiency: 0.9,
	Visibility:         0.98,
	PulseError:         0.005,
	DecouplingGain:     10,
	StepDuration:       5 * time.Microsecond,
}

func (l Link) Validate() error {
	switch {
	case l.DistanceKM < 0:
		return fmt.Errorf("distance must be non-negative, got %v km", l.DistanceKM)
	case l.AttenuationDBPerKM < 0 || l.InsertionLossDB < 0:
		return fmt.Errorf("losses must be non-negative, got %v dB/km and %v dB", l.AttenuationDBPerKM, l.InsertionLossDB)
	case l.DetectorEfficiency <= 0 || l.DetectorEfficiency > 1:
		return fmt.Errorf("detector efficiency must lie in (0, 1], got %v", l.DetectorEfficiency)
	case l.Visibility < 0 || l.Visibility > 1:
		return fmt.Errorf("visibility must lie in [0, 1], got %v", l.Visibility)
	case l.PulseError < 0 || l.PulseError >= 1:
		return fmt.Errorf("pulse error must lie in [0, 1), got %v", l.PulseError)
	case l.DecouplingGain < 1:
		return fmt.Errorf("decoupling gain must be at least 1, got %v", l.DecouplingGain)
	case l.StepDuration < 0:
		return fmt.Errorf("step duration must be non-negative, got %v", l.StepDuration)
	}
	return nil
}

// Transmission is the probability that a photon emitted at one end is routed
// through the fibre and registered by the detector.
func (l Link) Transmission() float64 {
	lossDB := l.AttenuationDBPerKM*l.DistanceKM + l.InsertionLossDB
	return math.Pow(10, -lossDB/10) * l.DetectorEfficiency
}

// FlightTime is the one-way photon travel time.
func (l Link) FlightTime() time.Duration {
	return time.Duration(l.DistanceKM / fibreKMPerSecond * float64(time.Second))
}

// WaitingTime is how long the spins must stay coherent in one round: photon
// flight plus every step up to the herald.
func (l Link) WaitingTime() time.Duration {
	return l.FlightTime() + time.Duration(HeraldedMeasurement-SpinInit+1)*l.StepDuration
}

// CoherenceWindow is the decoupled coherence time of the weaker node.
func (l Link) CoherenceWindow(a, b Node) time.Duration {
	t2 := a.T2
	if b.T2 < t2 {
		t2 = b.T2
	}
	return time.Duration(float64(t2) * l.DecouplingGain)
}

// Fidelity is the fidelity of a heralded pair after waiting: interference
// limits the initial fidelity, decoherence pulls it towards the fully mixed
// value of one half, and the corrective pulses add their own error.
func (l Link) Fidelity(a, b Node) float64 {
	f0 := (1 + l.Visibility) / 2
	window := l.CoherenceWindow(a, b)
	decay := math.Exp(-float64(l.WaitingTime()) / float64(window))
	return 0.5 + (f0-0.5)*decay*(1-l.PulseError)
}
