package nv

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	DefaultMaxHeraldRetries = 3
	DefaultTargetFidelity   = 0.9
)

// An Opts packages together the arguments necessary to construct a new
// Protocol.
type Opts struct {
	// Registry resolves node ids. Must be non-nil.
	Registry *Registry

	// Rand drives herald outcomes. It may be seeded for reproducible runs.
	// Must be non-nil.
	Rand *rand.Rand

	// Link describes the optical path. The zero value means DefaultLink.
	Link Link

	// MaxHeraldRetries bounds the herald rounds of one attempt, the first
	// included. Defaults to DefaultMaxHeraldRetries.
	MaxHeraldRetries int

	// TargetFidelity applies when Entangle is called with a zero target.
	// Defaults to DefaultTargetFidelity.
	TargetFidelity float64

	// Clock stamps transitions. Defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

type pair struct{ a, b string }

func pairOf(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// A Protocol runs entanglement attempts. At most one attempt per node pair
// runs at a time; attempts over distinct pairs run concurrently.
type Protocol struct {
	registry  *Registry
	link      Link
	maxRounds int
	target    float64
	clock     func() time.Time
	log       zerolog.Logger

	randMu sync.Mutex
	rand   *rand.Rand

	busyMu sync.Mutex
	busy   map[pair]bool
}

// NewProtocol returns a Protocol configured by opts, or an error if the
// options are nonsensical.
func NewProtocol(opts Opts) (*Protocol, error) {
	if opts.Registry == nil {
		return nil, errors.New("must provide Registry")
	}
	if opts.Rand == nil {
		return nil, errors.New("must provide Rand")
	}
	link := opts.Link
	if link == (Link{}) {
		link = DefaultLink
	}
	if err := link.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link: %w", err)
	}
	maxRounds := opts.MaxHeraldRetries
	if maxRounds == 0 {
		maxRounds = DefaultMaxHeraldRetries
	}
	if maxRounds < 1 {
		return nil, fmt.Errorf("MaxHeraldRetries must be positive, got %d", maxRounds)
	}
	target := opts.TargetFidelity
	if target == 0 {
		target = DefaultTargetFidelity
	}
	if target < 0 || target > 1 {
		return nil, fmt.Errorf("TargetFidelity must lie in (0, 1], got %v", target)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Protocol{
		registry:  opts.Registry,
		link:      link,
		maxRounds: maxRounds,
		target:    target,
		clock:     clock,
		log:       opts.Logger,
		rand:      opts.Rand,
		busy:      make(map[pair]bool),
	}, nil
}

func (p *Protocol) draw() float64 {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	return p.rand.Float64()
}

func (p *Protocol) acquire(a, b string) (func(), error) {
	k := pairOf(a, b)
	p.busyMu.Lock()
	defer p.busyMu.Unlock()
	if p.busy[k] {
		return nil, fmt.Errorf("%w: %s-%s", ErrPairBusy, k.a, k.b)
	}
	p.busy[k] = true
	return func() {
		p.busyMu.Lock()
		delete(p.busy, k)
		p.busyMu.Unlock()
	}, nil
}

// Entangle runs one attempt between nodes a and b and returns it once it is
// terminal. A zero target selects the protocol default. Herald failures and
// low fidelity are reported through the returned Attempt; errors are reserved
// for bad arguments, a busy pair and ctx ending.
func (p *Protocol) Entangle(ctx context.Context, a, b string, target float64) (*Attempt, error) {
	if target == 0 {
		target = p.target
	}
	if target < 0 || target > 1 {
		return nil, fmt.Errorf("target fidelity must lie in (0, 1], got %v", target)
	}
	if a == b {
		return nil, fmt.Errorf("%w: %s", ErrSameNode, a)
	}
	na, err := p.registry.Lookup(a)
	if err != nil {
		return nil, err
	}
	nb, err := p.registry.Lookup(b)
	if err != nil {
		return nil, err
	}
	release, err := p.acquire(a, b)
	if err != nil {
		return nil, err
	}
	defer release()

	at := &Attempt{
		ID:      uuid.Must(uuid.NewV7()).String(),
		A:       na,
		B:       nb,
		Target:  target,
		Step:    SpinInit,
		Rounds:  1,
		History: []Transition{{Step: SpinInit, Round: 1, At: p.clock()}},
	}
	log := p.log.With().Str("attempt", at.ID).Str("a", a).Str("b", b).Logger()
	window := p.link.CoherenceWindow(na, nb)
	waiting := p.link.WaitingTime()
	eta := p.link.Transmission()

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("entangling %s and %s: %w", a, b, err)
		}
		for _, s := range []Step{DrivenDynamicalDecoupling, PhotonInjection, ConditionalRouting, HeraldedMeasurement} {
			if err := at.advance(s, p.clock()); err != nil {
				return nil, err
			}
		}
		var reason string
		switch {
		case waiting > window:
			reason = fmt.Sprintf("waiting time %v exceeds coherence window %v", waiting, window)
		case p.draw() >= eta:
			reason = "no coincidence heralded"
		}
		if reason == "" {
			log.Debug().Int("round", at.Rounds).Msg("herald succeeded")
			break
		}
		log.Debug().Int("round", at.Rounds).Str("reason", reason).Msg("herald failed")
		if at.Rounds >= p.maxRounds {
			if err := at.setHerald(false); err != nil {
				return nil, err
			}
			if err := at.fail(fmt.Sprintf("herald failed after %d rounds: %s", at.Rounds, reason), p.clock()); err != nil {
				return nil, err
			}
			return at, nil
		}
		at.Rounds++
		if err := at.advance(SpinInit, p.clock()); err != nil {
			return nil, err
		}
	}

	if err := at.setHerald(true); err != nil {
		return nil, err
	}
	if err := at.advance(PulseControl, p.clock()); err != nil {
		return nil, err
	}
	f := p.link.Fidelity(na, nb)
	at.Fidelity = &f
	if err := at.advance(NetworkExtension, p.clock()); err != nil {
		return nil, err
	}
	if f < target {
		if err := at.fail(fmt.Sprintf("fidelity %.4f below target %.4f", f, target), p.clock()); err != nil {
			return nil, err
		}
		return at, nil
	}
	if err := at.advance(Success, p.clock()); err != nil {
		return nil, err
	}
	log.Debug().Float64("fidelity", f).Int("rounds", at.Rounds).Msg("pair established")
	return at, nil
}
