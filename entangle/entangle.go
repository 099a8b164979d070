// Package entangle provides a layered entanglement protocol stack: heralded
// pairwise entanglement between NV-centre nodes, Bell pair and GHZ state
// generation, and single-qubit teleportation. Every result carries a fidelity
// estimated from measurement statistics returned by a pluggable backend.
package entangle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/alan-christopher/entangle/entangle/config"
	"github.com/alan-christopher/entangle/entangle/journal"
	"github.com/alan-christopher/entangle/entangle/nv"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidPartyCount = errors.New("GHZ state needs at least two parties")
	ErrPairUnverified    = errors.New("bell pair failed verification")
	ErrUnknownState      = errors.New("unknown state")
)

// A Journal records terminal results.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// An Opts packages together the arguments necessary to construct a new
// Session.
type Opts struct {
	// Config holds thresholds, shot counts and the node list. Must be valid;
	// see config.Default.
	Config config.Config

	// Backend executes circuits. Must be non-nil.
	Backend backend.Backend

	// Registry holds the nodes. Defaults to one built from Config.Nodes.
	Registry *nv.Registry

	// Rand drives NV herald outcomes. Defaults to a source seeded from
	// Config.Seed, or from the clock when that is zero.
	Rand *rand.Rand

	// Journal, if non-nil, receives every terminal result.
	Journal Journal

	Logger zerolog.Logger
}

// A Session is the invocation surface of the stack. Invocations are
// independent and safe to run concurrently.
type Session struct {
	backend    backend.Backend
	registry   *nv.Registry
	protocol   *nv.Protocol
	bell       *BellGenerator
	ghz        *GHZGenerator
	teleporter *Teleporter
	journal    Journal
	log        zerolog.Logger

	entanglements  atomic.Int64
	bellPairs      atomic.Int64
	ghzStates      atomic.Int64
	teleportations atomic.Int64
}

// NewSession returns a Session configured by opts, or an error if the options
// are nonsensical.
func NewSession(opts Opts) (*Session, error) {
	if opts.Backend == nil {
		return nil, errors.New("must provide Backend")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	reg := opts.Registry
	if reg == nil {
		reg = nv.NewRegistry()
		for _, n := range cfg.NVNodes() {
			if err := reg.Register(n); err != nil {
				return nil, err
			}
		}
	}
	r := opts.Rand
	if r == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		r = rand.New(rand.NewSource(seed))
	}
	log := opts.Logger
	protocol, err := nv.NewProtocol(nv.Opts{
		Registry:         reg,
		Rand:             r,
		Link:             cfg.NVLink(),
		MaxHeraldRetries: cfg.MaxHeraldRetries,
		TargetFidelity:   cfg.TargetFidelity,
		Logger:           log.With().Str("layer", "nv").Logger(),
	})
	if err != nil {
		return nil, err
	}
	bell, err := NewBellGenerator(opts.Backend, cfg.ShotCount, cfg.BellFidelityThreshold, log.With().Str("layer", "bell").Logger())
	if err != nil {
		return nil, err
	}
	ghz, err := NewGHZGenerator(opts.Backend, cfg.ShotCount, cfg.GHZFidelityThreshold, log.With().Str("layer", "ghz").Logger())
	if err != nil {
		return nil, err
	}
	teleporter, err := NewTeleporter(TeleporterOpts{
		Pairs:        bell,
		Backend:      opts.Backend,
		Registry:     reg,
		Shots:        cfg.ShotCount,
		Significance: cfg.Significance,
		Strict:       cfg.StrictTeleport,
		Logger:       log.With().Str("layer", "teleport").Logger(),
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		backend:    opts.Backend,
		registry:   reg,
		protocol:   protocol,
		bell:       bell,
		ghz:        ghz,
		teleporter: teleporter,
		journal:    opts.Journal,
		log:        log,
	}, nil
}

// CreateEntanglement runs one heralded entanglement attempt between nodes a
// and b. A zero target uses the configured target fidelity.
func (s *Session) CreateEntanglement(ctx context.Context, a, b string, target float64) (*nv.Attempt, error) {
	s.entanglements.Add(1)
	at, err := s.protocol.Entangle(ctx, a, b, target)
	if err != nil {
		return nil, err
	}
	s.record(ctx, journal.KindEntanglement, at.Succeeded(), at.Fidelity, at)
	return at, nil
}

// EntangleAll attempts entanglement over every pair of registered nodes
// concurrently. Attempts are returned in registration order of their first
// node, then their second; a pair whose attempt errored has a nil entry.
func (s *Session) EntangleAll(ctx context.Context) ([]*nv.Attempt, error) {
	nodes := s.registry.Nodes()
	var pairs [][2]string
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			pairs = append(pairs, [2]string{nodes[i].ID, nodes[j].ID})
		}
	}
	out := make([]*nv.Attempt, len(pairs))
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, a, b string) {
			defer wg.Done()
			out[i], errs[i] = s.CreateEntanglement(ctx, a, b, 0)
		}(i, p[0], p[1])
	}
	wg.Wait()
	return out, errors.Join(errs...)
}

// CreateBellPair prepares and verifies the Bell state st.
func (s *Session) CreateBellPair(ctx context.Context, st BellState) (*BellPairResult, error) {
	s.bellPairs.Add(1)
	res, err := s.bell.CreateBellPair(ctx, st)
	if err != nil {
		return nil, err
	}
	s.record(ctx, journal.KindBell, res.Pass, &res.Fidelity, res)
	return res, nil
}

// CreateGHZState prepares and verifies an n-party GHZ state.
func (s *Session) CreateGHZState(ctx context.Context, n int) (*GHZResult, error) {
	s.ghzStates.Add(1)
	res, err := s.ghz.CreateGHZState(ctx, n)
	if err != nil {
		return nil, err
	}
	s.record(ctx, journal.KindGHZ, res.Pass, &res.Fidelity, res)
	return res, nil
}

// Teleport sends the state named by l from source to dest.
func (s *Session) Teleport(ctx context.Context, l StateLabel, source, dest string) (*TeleportationResult, error) {
	s.teleportations.Add(1)
	res, err := s.teleporter.Teleport(ctx, l, source, dest)
	if err != nil {
		return nil, err
	}
	s.record(ctx, journal.KindTeleport, res.Success, &res.Fidelity, res)
	return res, nil
}

// Status summarises a Session.
type Status struct {
	Nodes          []string `json:"nodes"`
	Backend        string   `json:"backend"`
	MaxQubits      int      `json:"max_qubits"`
	Entanglements  int64    `json:"entanglements"`
	BellPairs      int64    `json:"bell_pairs"`
	GHZStates      int64    `json:"ghz_states"`
	Teleportations int64    `json:"teleportations"`
}

func (s *Session) Status() Status {
	st := Status{
		Backend:        s.backend.Name(),
		MaxQubits:      s.backend.MaxQubits(),
		Entanglements:  s.entanglements.Load(),
		BellPairs:      s.bellPairs.Load(),
		GHZStates:      s.ghzStates.Load(),
		Teleportations: s.teleportations.Load(),
	}
	for _, n := range s.registry.Nodes() {
		st.Nodes = append(st.Nodes, n.ID)
	}
	return st
}

// record journals a result. Journal failures are logged, not returned.
func (s *Session) record(ctx context.Context, kind string, pass bool, f *float64, v any) {
	if s.journal == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("encoding journal entry")
		return
	}
	var fc *float64
	if f != nil {
		c := *f
		fc = &c
	}
	if _, err := s.journal.Record(ctx, journal.Entry{Kind: kind, Pass: pass, Fidelity: fc, Payload: payload}); err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("recording journal entry")
	}
}
