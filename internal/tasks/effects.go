package tasks

// Effect is an observable consequence of a session transition. Session methods
// return effects instead of performing side effects themselves; the caller
// interprets them (timers, events, the resource gate).
type Effect interface {
	effect()
}

// StateChanged reports a new instance state.
type StateChanged struct{ Instance Instance }

// Ticked reports a delivered tick. Paused ticks leave the countdown unchanged.
type Ticked struct {
	Instance Instance
	Paused   bool
}

// Eligible reports that an instance can now be started.
type Eligible struct{ Instance Instance }

// OpenLink asks the host to open the task's external link.
type OpenLink struct {
	Instance Instance
	URL      string
}

// StartTimer asks for a countdown bound to the task id.
type StartTimer struct {
	TaskID  string
	Seconds int
}

// StopTimer retires the countdown bound to the task id.
type StopTimer struct{ TaskID string }

// Progressed reports the completed count after a completion.
type Progressed struct {
	Completed int
	Total     int
}

// AllCompleted is emitted once, when the last instance completes.
type AllCompleted struct{}

func (StateChanged) effect() {}
func (Ticked) effect()       {}
func (Eligible) effect()     {}
func (OpenLink) effect()     {}
func (StartTimer) effect()   {}
func (StopTimer) effect()    {}
func (Progressed) effect()   {}
func (AllCompleted) effect() {}
