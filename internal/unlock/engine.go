// Package unlock gates a protected resource reference behind completion of a
// task session.
package unlock

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/scheduler"
	"github.com/dohr-michael/taskgate/internal/tasks"
)

// DefaultTaskCount is the number of tasks selected per visit.
const DefaultTaskCount = 3

// Timers drives per-task countdowns.
type Timers interface {
	Start(taskID string) uint64
	Cancel(taskID string)
	CancelAll()
	Current(tick scheduler.Tick) bool
}

// LockoutSignal is the only thing the engine knows about tamper detection.
type LockoutSignal interface {
	Tripped() bool
}

// Options configures Initialize.
type Options struct {
	TaskCount int
	Rand      *rand.Rand
	Timers    Timers
	Lockout   LockoutSignal
	Bus       events.Publisher
	VisitID   string
}

// Engine owns the task session, its timers and the resource gate.
// All methods are safe for concurrent use.
type Engine struct {
	timers  Timers
	lockout LockoutSignal
	bus     events.Publisher
	visitID string
	digest  string

	mu       sync.Mutex
	session  *tasks.Session
	gate     *Gate
	revealed bool
	halted   bool
}

// Initialize decodes the resource parameter and builds the session. Only a
// catalog that cannot fill a session is an error; a bad resource parameter
// leaves the gate without a reference.
func Initialize(encoded string, cat *catalog.Catalog, opts Options) (*Engine, error) {
	k := opts.TaskCount
	if k <= 0 {
		k = DefaultTaskCount
	}
	session, err := tasks.NewSession(cat, k, opts.Rand)
	if err != nil {
		return nil, err
	}
	if opts.Timers == nil {
		return nil, errors.New("unlock: timers are required")
	}

	e := &Engine{
		timers:  opts.Timers,
		lockout: opts.Lockout,
		bus:     opts.Bus,
		visitID: opts.VisitID,
		digest:  cat.Digest(),
		session: session,
		gate:    NewGate(encoded),
	}

	if err := e.gate.DecodeErr(); err != nil {
		slog.Warn("resource parameter unusable", "visit_id", e.visitID, "error", err)
	}
	slog.Debug("visit initialized", "visit_id", e.visitID, "tasks", k, "resource", e.gate.Available())
	return e, nil
}

// Announce publishes the initial visit state. Hosts call it once their
// subscribers are attached.
func (e *Engine) Announce() {
	e.mu.Lock()
	defer e.mu.Unlock()

	instances := e.session.Instances()
	summaries := make([]events.TaskSummary, len(instances))
	for i, inst := range instances {
		summaries[i] = Summary(inst)
	}
	e.publish(events.VisitStartedPayload{
		Tasks:             summaries,
		Total:             len(instances),
		ResourceAvailable: e.gate.Available(),
		CatalogDigest:     e.digest,
	})
	if err := e.gate.DecodeErr(); err != nil {
		e.publish(events.ResourceDecodeFailedPayload{Error: err.Error()})
	}
	if next, ok := e.session.Eligible(); ok {
		e.publish(events.TaskEligiblePayload{TaskID: next.ID, Index: next.Index})
	}
}

// VisitID returns the visit identifier.
func (e *Engine) VisitID() string { return e.visitID }

// stopped reports whether the engine must ignore inputs. Caller holds e.mu.
func (e *Engine) stopped() bool {
	if e.halted {
		return true
	}
	if e.lockout != nil && e.lockout.Tripped() {
		e.haltLocked()
		return true
	}
	return false
}

// StartTask starts the eligible task. Unknown ids, out-of-order starts and
// double starts are ignored; it reports whether the task started.
func (e *Engine) StartTask(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped() {
		return false
	}
	effects, err := e.session.Start(id)
	if err != nil {
		slog.Debug("start rejected", "visit_id", e.visitID, "task_id", id, "error", err)
		return false
	}
	e.apply(effects)
	return true
}

// Tick delivers one countdown step. Ticks from cancelled timers are dropped.
func (e *Engine) Tick(tick scheduler.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped() || !e.timers.Current(tick) {
		return
	}
	effects, err := e.session.Tick(tick.TaskID)
	if err != nil {
		slog.Debug("tick rejected", "visit_id", e.visitID, "task_id", tick.TaskID, "error", err)
		e.timers.Cancel(tick.TaskID)
		return
	}
	e.apply(effects)
}

// SetFocus records page focus changes.
func (e *Engine) SetFocus(focused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped() {
		return
	}
	e.apply(e.session.SetFocus(focused))
}

// Reveal returns the resource reference once every task is completed.
// Repeated calls return the same reference; only the first publishes.
func (e *Engine) Reveal() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped() {
		return "", ErrLockedOut
	}
	ref, err := e.gate.reveal()
	if err != nil {
		return "", err
	}
	if !e.revealed {
		e.revealed = true
		slog.Info("resource revealed", "visit_id", e.visitID)
		e.publish(events.GateRevealedPayload{})
	}
	return ref, nil
}

// Snapshot is a point-in-time view of the engine for renderers.
type Snapshot struct {
	VisitID           string           `json:"visit_id"`
	Tasks             []tasks.Instance `json:"tasks"`
	Completed         int              `json:"completed"`
	Total             int              `json:"total"`
	Progress          float64          `json:"progress"`
	Focused           bool             `json:"focused"`
	Unlocked          bool             `json:"unlocked"`
	ResourceAvailable bool             `json:"resource_available"`
	Revealed          bool             `json:"revealed"`
	Halted            bool             `json:"halted"`
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped()
	return Snapshot{
		VisitID:           e.visitID,
		Tasks:             e.session.Instances(),
		Completed:         e.session.Completed(),
		Total:             e.session.Total(),
		Progress:          e.session.Progress(),
		Focused:           e.session.Focused(),
		Unlocked:          e.gate.Unlocked(),
		ResourceAvailable: e.gate.Available(),
		Revealed:          e.revealed,
		Halted:            e.halted,
	}
}

// Halt cancels every timer and stops accepting inputs. It is called on
// lockout and on teardown, and is idempotent.
func (e *Engine) Halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.haltLocked()
}

func (e *Engine) haltLocked() {
	if e.halted {
		return
	}
	e.halted = true
	e.timers.CancelAll()
	slog.Debug("engine halted", "visit_id", e.visitID)
}

func (e *Engine) apply(effects []tasks.Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case tasks.StateChanged:
			e.publish(events.TaskStatePayload{
				TaskID:           eff.Instance.ID,
				Index:            eff.Instance.Index,
				State:            eff.Instance.State.String(),
				RemainingSeconds: eff.Instance.RemainingSeconds,
			})
		case tasks.Ticked:
			e.publish(events.TaskTickPayload{
				TaskID:           eff.Instance.ID,
				RemainingSeconds: eff.Instance.RemainingSeconds,
				Paused:           eff.Paused,
			})
		case tasks.Eligible:
			e.publish(events.TaskEligiblePayload{TaskID: eff.Instance.ID, Index: eff.Instance.Index})
		case tasks.OpenLink:
			e.publish(events.OpenLinkPayload{TaskID: eff.Instance.ID, URL: eff.URL})
		case tasks.StartTimer:
			e.timers.Start(eff.TaskID)
		case tasks.StopTimer:
			e.timers.Cancel(eff.TaskID)
		case tasks.Progressed:
			e.publish(events.ProgressPayload{
				Completed: eff.Completed,
				Total:     eff.Total,
				Fraction:  float64(eff.Completed) / float64(eff.Total),
			})
		case tasks.AllCompleted:
			e.onSessionCompleted()
		}
	}
}

func (e *Engine) onSessionCompleted() {
	e.gate.unlock()
	slog.Info("gate unlocked", "visit_id", e.visitID, "resource", e.gate.Available())
	e.publish(events.GateUnlockedPayload{ResourceAvailable: e.gate.Available()})
}

func (e *Engine) publish(p events.EventPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewTypedEventWithSession(events.SourceEngine, p, e.visitID))
}

// Summary converts an instance to its presentation view.
func Summary(inst tasks.Instance) events.TaskSummary {
	return events.TaskSummary{
		ID:              inst.ID,
		Step:            inst.Step(),
		Title:           inst.Title,
		Description:     inst.Description,
		Kind:            inst.Kind.String(),
		DurationSeconds: inst.DurationSeconds,
		ActionLabel:     inst.Label(),
		ExternalLink:    inst.ExternalLink,
	}
}
