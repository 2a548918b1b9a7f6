package nanoset

import (
	"fmt"
	"sync/atomic"
)

// WorkerState is the lifecycle of a single reader or encoder worker.
//
// Starting: the worker exists but has not finished initialization (for
// encoders, codec model load). Running: consuming or producing work.
// Draining: no more input will arrive; the worker is flushing what it
// holds. Terminated: the worker has released all resources.
type WorkerState int32

const (
	Starting WorkerState = iota
	Running
	Draining
	Terminated
)

func (s WorkerState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StateVar is an atomically tracked worker state that only permits forward
// transitions through the lifecycle.
type StateVar struct {
	v int32
}

// State returns the current state.
func (sv *StateVar) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&sv.v))
}

// Transition moves from `from` to `to`, returning an error if the worker is
// not in `from` or if the transition would move backwards.
func (sv *StateVar) Transition(from, to WorkerState) error {
	if to <= from {
		return fmt.Errorf("illegal worker transition %v -> %v", from, to)
	}
	if !atomic.CompareAndSwapInt32(&sv.v, int32(from), int32(to)) {
		return fmt.Errorf("worker is %v, not %v", sv.State(), from)
	}
	return nil
}

// MustTransition is Transition for callers holding the worker's own
// goroutine, where a failed transition is a programming error.
func (sv *StateVar) MustTransition(from, to WorkerState) {
	if err := sv.Transition(from, to); err != nil {
		panic(err)
	}
}
