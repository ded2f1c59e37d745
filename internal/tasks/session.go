package tasks

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/dohr-michael/taskgate/internal/catalog"
)

// Session is the ordered subset of tasks presented to one visitor.
//
// Instance i may only leave StateLocked once instance i-1 is completed, and at
// most one instance is running at any time. Session is not safe for
// concurrent use; callers serialize access.
type Session struct {
	instances []*Instance
	completed int
	focused   bool
}

// NewSession selects k definitions from the catalog without replacement.
// Every definition gets a uniform random rank; the k lowest ranks win.
func NewSession(cat *catalog.Catalog, k int, rng *rand.Rand) (*Session, error) {
	if err := cat.Require(k); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	type ranked struct {
		rank uint64
		def  catalog.Definition
	}
	defs := cat.Definitions()
	pool := make([]ranked, len(defs))
	for i, d := range defs {
		pool[i] = ranked{rank: rng.Uint64(), def: d}
	}
	slices.SortStableFunc(pool, func(a, b ranked) int {
		switch {
		case a.rank < b.rank:
			return -1
		case a.rank > b.rank:
			return 1
		}
		return 0
	})

	s := &Session{
		instances: make([]*Instance, k),
		focused:   true,
	}
	for i := 0; i < k; i++ {
		s.instances[i] = &Instance{
			Definition:       pool[i].def,
			Index:            i,
			State:            StateLocked,
			RemainingSeconds: pool[i].def.DurationSeconds,
		}
	}
	return s, nil
}

// Total returns k.
func (s *Session) Total() int { return len(s.instances) }

// Completed returns the number of completed instances.
func (s *Session) Completed() int { return s.completed }

// Done reports whether every instance is completed.
func (s *Session) Done() bool { return s.completed == len(s.instances) }

// Progress returns completed/total in [0, 1].
func (s *Session) Progress() float64 {
	return float64(s.completed) / float64(len(s.instances))
}

// Focused reports the last known page focus.
func (s *Session) Focused() bool { return s.focused }

// Instances returns copies of all instances in sequence order.
func (s *Session) Instances() []Instance {
	out := make([]Instance, len(s.instances))
	for i, inst := range s.instances {
		out[i] = *inst
	}
	return out
}

// Instance returns a copy of the instance with the given id.
func (s *Session) Instance(id string) (Instance, bool) {
	inst := s.find(id)
	if inst == nil {
		return Instance{}, false
	}
	return *inst, true
}

// Eligible returns the instance that may be started next, if any.
func (s *Session) Eligible() (Instance, bool) {
	if s.Done() {
		return Instance{}, false
	}
	next := s.instances[s.completed]
	if next.State != StateLocked {
		return Instance{}, false
	}
	return *next, true
}

// Running returns the instance that currently owns a countdown, if any.
func (s *Session) Running() (Instance, bool) {
	if s.Done() {
		return Instance{}, false
	}
	cur := s.instances[s.completed]
	if !cur.State.Running() {
		return Instance{}, false
	}
	return *cur, true
}

func (s *Session) find(id string) *Instance {
	for _, inst := range s.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// Start moves the eligible instance to StateActive. Starting any other
// instance (out of order, already running, completed) is refused.
func (s *Session) Start(id string) ([]Effect, error) {
	inst := s.find(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if inst.State != StateLocked || inst.Index != s.completed {
		return nil, fmt.Errorf("%w: %q is %s at step %d", ErrOutOfOrderStart, id, inst.State, inst.Step())
	}

	inst.State = StateActive
	inst.RemainingSeconds = inst.DurationSeconds

	effects := []Effect{StateChanged{Instance: *inst}}
	if inst.Kind == catalog.KindLink && inst.ExternalLink != "" {
		effects = append(effects, OpenLink{Instance: *inst, URL: inst.ExternalLink})
	}
	effects = append(effects, StartTimer{TaskID: inst.ID, Seconds: inst.DurationSeconds})
	return effects, nil
}

// Tick advances the running instance by one second. Focus tasks do not count
// down while the page is unfocused; they report a paused tick instead.
func (s *Session) Tick(id string) ([]Effect, error) {
	inst := s.find(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if !inst.State.Running() {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotRunning, id, inst.State)
	}

	var effects []Effect
	if inst.Kind == catalog.KindFocus && !s.focused {
		if inst.State == StateActive {
			inst.State = StatePaused
			effects = append(effects, StateChanged{Instance: *inst})
		}
		return append(effects, Ticked{Instance: *inst, Paused: true}), nil
	}

	if inst.State == StatePaused {
		inst.State = StateActive
		effects = append(effects, StateChanged{Instance: *inst})
	}

	inst.RemainingSeconds--
	effects = append(effects, Ticked{Instance: *inst})
	if inst.RemainingSeconds <= 0 {
		inst.RemainingSeconds = 0
		effects = append(effects, s.complete(inst)...)
	}
	return effects, nil
}

func (s *Session) complete(inst *Instance) []Effect {
	inst.State = StateCompleted
	s.completed++

	effects := []Effect{
		StopTimer{TaskID: inst.ID},
		StateChanged{Instance: *inst},
		Progressed{Completed: s.completed, Total: len(s.instances)},
	}
	if inst.Index+1 < len(s.instances) {
		effects = append(effects, Eligible{Instance: *s.instances[inst.Index+1]})
	}
	if s.Done() {
		effects = append(effects, AllCompleted{})
	}
	return effects
}

// SetFocus records page focus. A running focus task pauses on blur and
// resumes on focus; link tasks are unaffected.
func (s *Session) SetFocus(focused bool) []Effect {
	s.focused = focused

	if s.Done() {
		return nil
	}
	inst := s.instances[s.completed]
	if inst.Kind != catalog.KindFocus {
		return nil
	}
	switch {
	case !focused && inst.State == StateActive:
		inst.State = StatePaused
	case focused && inst.State == StatePaused:
		inst.State = StateActive
	default:
		return nil
	}
	return []Effect{StateChanged{Instance: *inst}}
}
