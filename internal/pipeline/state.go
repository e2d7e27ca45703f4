package pipeline

import (
	"context"
	"fmt"
)

// State is a stage of one pipeline run.
type State int

// Run states, in the order a successful run visits them. Any stage may move
// to Failed instead of its successor.
const (
	Idle State = iota
	Resolving
	Embedding
	Retrieving
	Selecting
	Assembling
	Streaming
	Done
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Resolving:  "resolving",
	Embedding:  "embedding",
	Retrieving: "retrieving",
	Selecting:  "selecting",
	Assembling: "assembling",
	Streaming:  "streaming",
	Done:       "done",
	Failed:     "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Done || s == Failed }

// Observer is notified of every state transition. err is non-nil only when
// to is Failed. Observers run synchronously on the request goroutine.
type Observer func(ctx context.Context, from, to State, err error)

// StageError records the stage a run failed in.
type StageError struct {
	// Stage is the state that was active when the failure occurred.
	Stage State
	// Err is the underlying failure.
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
