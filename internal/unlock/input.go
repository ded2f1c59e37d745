package unlock

import (
	"time"

	"github.com/dohr-michael/taskgate/internal/scheduler"
	"github.com/dohr-michael/taskgate/internal/tamper"
)

// Input is one event fed to a Runtime by its host (page, terminal, tests).
type Input interface {
	input()
}

type (
	StartTask struct{ ID string }
	// Tick is a countdown step; the runtime feeds its own timer ticks through it.
	Tick         struct{ scheduler.Tick }
	FocusChanged struct{ Focused bool }
	// ViolationObserved reports a violation detected by the host itself.
	ViolationObserved struct {
		Kind   tamper.Kind
		Detail string
	}
	Resize        struct{ W, H int }
	KeyDown       struct{ Key string }
	ContextMenu   struct{}
	DebuggerProbe struct{ Elapsed time.Duration }
	BaitRead      struct{}
	Reveal        struct{}
	// Inspect reads the engine snapshot between two inputs.
	Inspect struct{}
)

func (StartTask) input()         {}
func (Tick) input()              {}
func (FocusChanged) input()      {}
func (ViolationObserved) input() {}
func (Resize) input()            {}
func (KeyDown) input()           {}
func (ContextMenu) input()       {}
func (DebuggerProbe) input()     {}
func (BaitRead) input()          {}
func (Reveal) input()            {}
func (Inspect) input()           {}

// Result is the outcome of one Input.
type Result struct {
	// Started is set for StartTask.
	Started bool
	// Intercepted tells the host to suppress the key's default action.
	Intercepted bool
	// Ref and Err are set for Reveal.
	Ref string
	Err error
	// Snapshot is set for Inspect.
	Snapshot Snapshot
}
