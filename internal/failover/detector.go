// Package failover tracks which pool is serving traffic and classifies
// observed routing changes.
//
// DESIGN: The detector's view of routing is inferred purely from log lines,
// so it is a belief, not ground truth. A one-slot memory of "the pool we
// failed away from" is what turns a later switch back into a Recovery.
// Whether a failover was expected (manual toggle) or not is not inferable
// from the log stream; every switch away from steady state is reported with
// the same Failover shape and the operator judges expectedness.
package failover

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xodeeq/poolwatch/internal/logsource"
)

// Kind classifies an observed pool transition.
type Kind string

const (
	KindFailover Kind = "failover"
	KindRecovery Kind = "recovery"
)

// Transition is one observed pool switch.
type Transition struct {
	Kind    Kind
	From    logsource.Pool
	To      logsource.Pool
	Release string
	At      time.Time
}

// State is the watcher's current belief about routing.
type State struct {
	CurrentPool      logsource.Pool
	CurrentRelease   string
	LastTransitionAt time.Time
}

// Detector watches records for pool changes.
type Detector struct {
	current    logsource.Pool
	release    string
	failedFrom logsource.Pool // pool active before the most recent failover
	lastSwitch time.Time
}

// NewDetector creates a cold-start detector with no known pool.
func NewDetector() *Detector {
	return &Detector{current: logsource.PoolUnknown, failedFrom: logsource.PoolUnknown}
}

// Observe updates routing state from one record and returns a Transition
// when the active pool changed. State is updated on every observed change
// whether or not the transition is ultimately alerted.
//
// Rules:
//   - Unknown pools (unrecognized labels, "-" lines) never move state.
//   - The first known pool after cold start is adopted silently.
//   - A switch back to the pool we failed away from is a Recovery; any
//     other switch is a Failover.
func (d *Detector) Observe(rec logsource.Record) *Transition {
	if !rec.Pool.Known() {
		return nil
	}

	if !d.current.Known() {
		d.current = rec.Pool
		d.release = rec.Release
		log.Info().
			Str("pool", string(rec.Pool)).
			Str("release", rec.Release).
			Msg("initial pool detected")
		return nil
	}

	if rec.Pool == d.current {
		d.release = rec.Release
		return nil
	}

	tr := &Transition{
		Kind:    KindFailover,
		From:    d.current,
		To:      rec.Pool,
		Release: rec.Release,
		At:      rec.Time,
	}
	if rec.Pool == d.failedFrom {
		tr.Kind = KindRecovery
		d.failedFrom = logsource.PoolUnknown
	} else {
		d.failedFrom = d.current
	}

	d.current = rec.Pool
	d.release = rec.Release
	d.lastSwitch = rec.Time
	return tr
}

// State returns the current routing belief.
func (d *Detector) State() State {
	return State{
		CurrentPool:      d.current,
		CurrentRelease:   d.release,
		LastTransitionAt: d.lastSwitch,
	}
}
