package nv

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	. "github.com/smartystreets/goconvey/convey"
)

func testRegistry(t testing.TB, nodes ...Node) *Registry {
	r := NewRegistry()
	for _, n := range nodes {
		if err := r.Register(n); err != nil {
			t.Fatalf("Registering %s: %v", n.ID, err)
		}
	}
	return r
}

var (
	alice = Node{ID: "alice", T2: time.Second, WavelengthNM: 637}
	bob   = Node{ID: "bob", T2: time.Second, WavelengthNM: 637}
	carol = Node{ID: "carol", T2: 2 * time.Second, WavelengthNM: 637}
)

func fixedClock() func() time.Time {
	now := time.Unix(1700000000, 0)
	return func() time.Time { return now }
}

func newTestProtocol(t testing.TB, reg *Registry, link Link, seed int64) *Protocol {
	p, err := NewProtocol(Opts{
		Registry: reg,
		Rand:     rand.New(rand.NewSource(seed)),
		Link:     link,
		Clock:    fixedClock(),
	})
	if err != nil {
		t.Fatalf("NewProtocol: %v", err)
	}
	return p
}

func legalHistory(a *Attempt) error {
	if len(a.History) == 0 || a.History[0].Step != SpinInit {
		return errors.New("history does not start at spin_init")
	}
	for i := 1; i < len(a.History); i++ {
		if from, to := a.History[i-1].Step, a.History[i].Step; !allowed(from, to) {
			return fmt.Errorf("illegal transition %v -> %v at %d", from, to, i)
		}
	}
	if last := a.History[len(a.History)-1].Step; last != a.Step || !last.Terminal() {
		return fmt.Errorf("history ends at %v, attempt at %v", last, a.Step)
	}
	return nil
}

func TestEntangle(t *testing.T) {
	Convey("Given two registered nodes on the default link", t, func() {
		reg := testRegistry(t, alice, bob)
		ctx := context.Background()

		Convey("An attempt on a lossless link succeeds in one round", func() {
			lossless := DefaultLink
			lossless.InsertionLossDB, lossless.DetectorEfficiency = 0, 1
			p := newTestProtocol(t, reg, lossless, 1)
			at, err := p.Entangle(ctx, "alice", "bob", 0)
			So(err, ShouldBeNil)
			So(at.Succeeded(), ShouldBeTrue)
			So(at.Heralded, ShouldBeTrue)
			So(at.Rounds, ShouldEqual, 1)
			So(at.Fidelity, ShouldNotBeNil)
			So(*at.Fidelity, ShouldBeGreaterThanOrEqualTo, 0.9)
			So(at.Target, ShouldEqual, DefaultTargetFidelity)
			So(legalHistory(at), ShouldBeNil)
			So(len(at.History), ShouldEqual, 8)
			So(at.ID, ShouldNotBeEmpty)
		})

		Convey("An attempt on a dark link fails after exactly the retry budget", func() {
			dark := DefaultLink
			dark.DetectorEfficiency = 1e-12
			p := newTestProtocol(t, reg, dark, 1)
			at, err := p.Entangle(ctx, "alice", "bob", 0)
			So(err, ShouldBeNil)
			So(at.Step, ShouldEqual, Failure)
			So(at.Heralded, ShouldBeFalse)
			So(at.Fidelity, ShouldBeNil)
			So(at.Rounds, ShouldEqual, DefaultMaxHeraldRetries)
			So(at.Reason, ShouldContainSubstring, "herald failed after 3 rounds")
			So(legalHistory(at), ShouldBeNil)
			// spin_init, then 4 steps per round, 2 restarts and the failure.
			So(len(at.History), ShouldEqual, 1+4*3+2+1)
		})

		Convey("A link longer than the coherence window times out every round", func() {
			long := DefaultLink
			long.DistanceKM = 5e6
			p := newTestProtocol(t, reg, long, 1)
			at, err := p.Entangle(ctx, "alice", "bob", 0)
			So(err, ShouldBeNil)
			So(at.Step, ShouldEqual, Failure)
			So(at.Reason, ShouldContainSubstring, "coherence window")
			So(at.Rounds, ShouldEqual, DefaultMaxHeraldRetries)
		})

		Convey("An unreachable target fails after heralding", func() {
			lossless := DefaultLink
			lossless.InsertionLossDB, lossless.DetectorEfficiency = 0, 1
			p := newTestProtocol(t, reg, lossless, 1)
			at, err := p.Entangle(ctx, "alice", "bob", 0.999)
			So(err, ShouldBeNil)
			So(at.Step, ShouldEqual, Failure)
			So(at.Heralded, ShouldBeTrue)
			So(at.Fidelity, ShouldNotBeNil)
			So(at.Reason, ShouldContainSubstring, "below target")
			So(legalHistory(at), ShouldBeNil)
		})

		Convey("Bad arguments are rejected", func() {
			p := newTestProtocol(t, reg, DefaultLink, 1)
			_, err := p.Entangle(ctx, "alice", "alice", 0)
			So(errors.Is(err, ErrSameNode), ShouldBeTrue)
			_, err = p.Entangle(ctx, "alice", "mallory", 0)
			So(errors.Is(err, ErrUnknownNode), ShouldBeTrue)
			_, err = p.Entangle(ctx, "alice", "bob", 1.5)
			So(err, ShouldNotBeNil)
		})

		Convey("A pair with an attempt in flight is busy in either order", func() {
			p := newTestProtocol(t, reg, DefaultLink, 1)
			release, err := p.acquire("bob", "alice")
			So(err, ShouldBeNil)
			_, err = p.Entangle(ctx, "alice", "bob", 0)
			So(errors.Is(err, ErrPairBusy), ShouldBeTrue)
			release()
			_, err = p.Entangle(ctx, "alice", "bob", 0)
			So(err, ShouldBeNil)
		})

		Convey("A cancelled context aborts the attempt", func() {
			p := newTestProtocol(t, reg, DefaultLink, 1)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			at, err := p.Entangle(cctx, "alice", "bob", 0)
			So(at, ShouldBeNil)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestEntangleTerminatesWithinBudget(t *testing.T) {
	reg := testRegistry(t, alice, bob)
	p := newTestProtocol(t, reg, DefaultLink, 2024)
	const trials = 2000
	succeeded := 0
	for i := 0; i < trials; i++ {
		at, err := p.Entangle(context.Background(), "alice", "bob", 0)
		if err != nil {
			t.Fatalf("Entangle: %v", err)
		}
		if !at.Step.Terminal() || at.Rounds > DefaultMaxHeraldRetries {
			t.Fatalf("attempt escaped its budget:\n%s", spew.Sdump(at))
		}
		if err := legalHistory(at); err != nil {
			t.Fatalf("%v:\n%s", err, spew.Sdump(at.History))
		}
		if at.Succeeded() {
			succeeded++
		}
	}
	if rate := float64(succeeded) / trials; rate < 0.95 {
		t.Errorf("got success rate %v, want >= 0.95", rate)
	}
}

func TestEntangleSeededRunsAgree(t *testing.T) {
	reg := testRegistry(t, alice, bob)
	a := newTestProtocol(t, reg, DefaultLink, 77)
	b := newTestProtocol(t, reg, DefaultLink, 77)
	for i := 0; i < 50; i++ {
		x, err := a.Entangle(context.Background(), "alice", "bob", 0)
		if err != nil {
			t.Fatalf("Entangle: %v", err)
		}
		y, err := b.Entangle(context.Background(), "alice", "bob", 0)
		if err != nil {
			t.Fatalf("Entangle: %v", err)
		}
		if x.Step != y.Step || x.Rounds != y.Rounds {
			t.Fatalf("run %d diverged: %v/%d vs %v/%d", i, x.Step, x.Rounds, y.Step, y.Rounds)
		}
	}
}

func TestEntangleDistinctPairsConcurrently(t *testing.T) {
	reg := testRegistry(t, alice, bob, carol)
	p := newTestProtocol(t, reg, DefaultLink, 5)
	pairs := [][2]string{{"alice", "bob"}, {"alice", "carol"}, {"bob", "carol"}}
	var wg sync.WaitGroup
	errs := make(chan error, len(pairs)*20)
	for _, pr := range pairs {
		wg.Add(1)
		go func(a, b string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := p.Entangle(context.Background(), a, b, 0); err != nil {
					errs <- err
				}
			}
		}(pr[0], pr[1])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Entangle: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := testRegistry(t, alice, bob)
	if err := reg.Register(alice); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("got %v registering alice twice, want ErrDuplicateNode", err)
	}
	if err := reg.Register(Node{ID: "zed"}); err == nil {
		t.Errorf("node without T2 accepted")
	}
	if _, err := reg.Lookup("carol"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("got %v, want ErrUnknownNode", err)
	}
	var ids []string
	for _, n := range reg.Nodes() {
		ids = append(ids, n.ID)
	}
	if got := strings.Join(ids, ","); got != "alice,bob" {
		t.Errorf("got nodes %s, want alice,bob", got)
	}
}

func TestLink(t *testing.T) {
	if got := DefaultLink.Transmission(); got < 0.79 || got > 0.81 {
		t.Errorf("got default transmission %v, want ~0.80", got)
	}
	long := DefaultLink
	long.DistanceKM = 100
	if got, want := long.FlightTime(), 500*time.Microsecond; got != want {
		t.Errorf("got flight time %v, want %v", got, want)
	}
	if got := DefaultLink.Fidelity(alice, bob); got < 0.98 || got > 0.99 {
		t.Errorf("got default fidelity %v, want ~0.9876", got)
	}
	bad := DefaultLink
	bad.Visibility = 1.2
	if err := bad.Validate(); err == nil {
		t.Errorf("visibility 1.2 accepted")
	}
}

func TestStepString(t *testing.T) {
	tcs := []struct {
		s    Step
		want string
	}{
		{SpinInit, "spin_init"},
		{HeraldedMeasurement, "heralded_measurement"},
		{Failure, "failure"},
		{Step(42), "Step(42)"},
	}
	for _, tc := range tcs {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}
