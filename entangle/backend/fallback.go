package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/rs/zerolog"
)

// A Preference selects which backend a Fallback submits to.
type Preference int

const (
	// PreferAuto prefers hardware and falls back to the simulator when the
	// hardware is unavailable.
	PreferAuto Preference = iota
	PreferHardware
	PreferSimulator
)

var preferenceNames = map[Preference]string{
	PreferAuto:      "auto",
	PreferHardware:  "hardware",
	PreferSimulator: "simulator",
}

func (p Preference) String() string {
	if n, ok := preferenceNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Preference(%d)", int(p))
}

// ParsePreference accepts "auto", "hardware" or "simulator".
func ParsePreference(s string) (Preference, error) {
	for p, n := range preferenceNames {
		if strings.EqualFold(s, n) {
			return p, nil
		}
	}
	return PreferAuto, fmt.Errorf("unknown backend preference %q, want auto, hardware or simulator", s)
}

// Set implements pflag.Value.
func (p *Preference) Set(s string) error {
	v, err := ParsePreference(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Type implements pflag.Value.
func (p *Preference) Type() string { return "preference" }

func (p Preference) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Preference) UnmarshalText(b []byte) error { return p.Set(string(b)) }

// A Fallback routes submits to a hardware or simulator backend according to a
// Preference.
type Fallback struct {
	pref      Preference
	hardware  Backend
	simulator Backend
	breaker   *CircuitBreaker
	log       zerolog.Logger
}

// NewFallback returns a Fallback, or an error if pref names a backend that is
// nil. hardware may be nil under PreferAuto, which then always simulates. breaker
// guards the hardware under PreferAuto and may be nil.
func NewFallback(pref Preference, hardware, simulator Backend, breaker *CircuitBreaker, log zerolog.Logger) (*Fallback, error) {
	switch pref {
	case PreferHardware:
		if hardware == nil {
			return nil, errors.New("hardware preference requires a hardware backend")
		}
	case PreferSimulator, PreferAuto:
		if simulator == nil {
			return nil, fmt.Errorf("%s preference requires a simulator backend", pref)
		}
	default:
		return nil, fmt.Errorf("unknown preference %v", pref)
	}
	return &Fallback{
		pref:      pref,
		hardware:  hardware,
		simulator: simulator,
		breaker:   breaker,
		log:       log,
	}, nil
}

func (f *Fallback) Name() string {
	switch {
	case f.pref == PreferHardware:
		return f.hardware.Name()
	case f.pref == PreferSimulator || f.hardware == nil:
		return f.simulator.Name()
	}
	return f.hardware.Name() + "|" + f.simulator.Name()
}

// MaxQubits reports the capacity of the backend the next submit would
// target.
func (f *Fallback) MaxQubits() int {
	if f.useHardware(false) {
		return f.hardware.MaxQubits()
	}
	return f.simulator.MaxQubits()
}

// useHardware reports whether hardware should be tried. Only probe consumes
// a half-open breaker slot.
func (f *Fallback) useHardware(probe bool) bool {
	switch f.pref {
	case PreferHardware:
		return true
	case PreferSimulator:
		return false
	}
	if f.hardware == nil {
		return false
	}
	if f.breaker == nil {
		return true
	}
	if probe {
		return f.breaker.Allow()
	}
	return f.breaker.Available()
}

func (f *Fallback) Submit(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error) {
	switch f.pref {
	case PreferHardware:
		return f.hardware.Submit(ctx, c, shots)
	case PreferSimulator:
		return f.simulator.Submit(ctx, c, shots)
	}
	if f.useHardware(true) {
		counts, err := f.hardware.Submit(ctx, c, shots)
		if err == nil {
			if f.breaker != nil {
				f.breaker.RecordSuccess()
			}
			return counts, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		if f.breaker != nil {
			f.breaker.RecordFailure()
		}
		f.log.Warn().Err(err).Str("hardware", f.hardware.Name()).Str("simulator", f.simulator.Name()).Msg("hardware unavailable, falling back to simulator")
	}
	return f.simulator.Submit(ctx, c, shots)
}
