// Package tasks holds the per-visit task session: the randomly selected,
// ordered subset of catalog tasks and their lifecycle.
package tasks

import (
	"errors"

	"github.com/dohr-michael/taskgate/internal/catalog"
)

var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrOutOfOrderStart = errors.New("task is not eligible to start")
	ErrNotRunning      = errors.New("task is not running")
)

// State represents the lifecycle state of a task instance.
type State string

const (
	StateLocked    State = "locked"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Running reports whether the instance owns a countdown.
func (s State) Running() bool {
	return s == StateActive || s == StatePaused
}

func (s State) String() string { return string(s) }

// Instance is one selected task inside a session.
type Instance struct {
	catalog.Definition
	Index            int   `json:"index"`
	State            State `json:"state"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// Step is the 1-based position shown to the user ("Step 2: ...").
func (i Instance) Step() int { return i.Index + 1 }
