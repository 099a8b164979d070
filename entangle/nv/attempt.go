package nv

import (
	"errors"
	"fmt"
	"time"
)

// A Transition records entry into a step.
type Transition struct {
	Step  Step
	Round int
	At    time.Time
}

// An Attempt is the record of one entanglement attempt between two nodes. It
// is only handed out once terminal.
type Attempt struct {
	ID     string
	A, B   Node
	Target float64

	// Step is Success or Failure on a returned Attempt.
	Step Step
	// Rounds counts herald rounds started, including the last.
	Rounds int
	// Heralded is the final herald outcome.
	Heralded bool
	// Fidelity is nil unless a pair was heralded and measured.
	Fidelity *float64
	// Reason explains a Failure.
	Reason  string
	History []Transition

	heraldSet bool
}

// Succeeded reports whether the attempt ended in Success.
func (a *Attempt) Succeeded() bool { return a.Step == Success }

func allowed(from, to Step) bool {
	switch {
	case from.Terminal():
		return false
	case to == Failure:
		return true
	case from == HeraldedMeasurement && to == SpinInit:
		return true
	}
	return to == from+1
}

func (a *Attempt) advance(to Step, at time.Time) error {
	if !allowed(a.Step, to) {
		return fmt.Errorf("attempt %s: illegal transition %v -> %v", a.ID, a.Step, to)
	}
	a.Step = to
	a.History = append(a.History, Transition{Step: to, Round: a.Rounds, At: at})
	return nil
}

func (a *Attempt) setHerald(ok bool) error {
	if a.heraldSet {
		return errors.New("herald outcome already recorded")
	}
	a.Heralded, a.heraldSet = ok, true
	return nil
}

func (a *Attempt) fail(reason string, at time.Time) error {
	a.Reason = reason
	return a.advance(Failure, at)
}
