package unlock

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/scheduler"
	"github.com/dohr-michael/taskgate/internal/tamper"
)

var ErrVisitClosed = errors.New("visit closed")

// VisitOptions configures NewVisit.
type VisitOptions struct {
	ID           string
	Encoded      string
	Catalog      *catalog.Catalog
	TaskCount    int
	Rand         *rand.Rand
	Clock        scheduler.Clock
	TickInterval time.Duration
	Tamper       tamper.Config
	Baseline     tamper.Viewport
	// ProbeSchedule enables the in-process pause probe when set.
	ProbeSchedule *scheduler.CronExpr
	Bus           events.Publisher
}

// NewVisitID returns a short random visit identifier.
func NewVisitID() string {
	u := uuid.New().String()
	return "visit_" + strings.ReplaceAll(u[:8], "-", "")
}

type request struct {
	in    Input
	reply chan Result
}

// Runtime is one page visit: an engine and a tamper monitor sharing a lockout,
// driven from a single goroutine. Inputs and timer ticks are handled one at a
// time, in arrival order.
type Runtime struct {
	id      string
	engine  *Engine
	monitor *tamper.Monitor
	timers  *scheduler.TimerService
	clock   scheduler.Clock
	probe   *scheduler.CronExpr
	bus     events.Publisher

	inbox chan request
	done  chan struct{}
}

// NewVisit wires a Runtime. The only error is a catalog that cannot fill a session.
func NewVisit(opts VisitOptions) (*Runtime, error) {
	if opts.ID == "" {
		opts.ID = NewVisitID()
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock{}
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}

	lockout := tamper.NewLockout()
	timers := scheduler.NewTimerService(opts.Clock, opts.TickInterval)
	engine, err := Initialize(opts.Encoded, opts.Catalog, Options{
		TaskCount: opts.TaskCount,
		Rand:      opts.Rand,
		Timers:    timers,
		Lockout:   lockout,
		Bus:       opts.Bus,
		VisitID:   opts.ID,
	})
	if err != nil {
		timers.Close()
		return nil, err
	}
	monitor := tamper.NewMonitor(tamper.Options{
		Config:   opts.Tamper,
		Baseline: opts.Baseline,
		Lockout:  lockout,
		Bus:      opts.Bus,
		VisitID:  opts.ID,
	})

	return &Runtime{
		id:      opts.ID,
		engine:  engine,
		monitor: monitor,
		timers:  timers,
		clock:   opts.Clock,
		probe:   opts.ProbeSchedule,
		bus:     opts.Bus,
		inbox:   make(chan request),
		done:    make(chan struct{}),
	}, nil
}

func (r *Runtime) ID() string                { return r.id }
func (r *Runtime) Engine() *Engine           { return r.engine }
func (r *Runtime) Monitor() *tamper.Monitor  { return r.monitor }
func (r *Runtime) Done() <-chan struct{}     { return r.done }
func (r *Runtime) TamperState() tamper.State { return r.monitor.State() }

// Run processes inputs until ctx is done. It announces the visit first, so
// subscribers must be attached before calling Run.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(events.ContextWithVisitID(ctx, r.id))
	defer cancel()
	defer close(r.done)
	defer r.teardown(ctx)

	slog.Info("visit started", "visit_id", r.id)
	r.engine.Announce()
	if r.probe != nil {
		go r.monitor.RunPauseProbe(ctx, r.clock, r.probe)
	}

	lockout := r.monitor.Lockout().Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lockout:
			r.engine.Halt()
			lockout = nil
		case tick := <-r.timers.Ticks():
			r.handle(Tick{tick})
		case req := <-r.inbox:
			req.reply <- r.handle(req.in)
		}
	}
}

func (r *Runtime) teardown(ctx context.Context) {
	r.engine.Halt()
	r.timers.Close()

	reason := "closed"
	if r.monitor.Lockout().Tripped() {
		reason = "lockout"
	} else if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		reason = "timeout"
	}
	if r.bus != nil {
		r.bus.Publish(events.NewTypedEventWithSession(events.SourceEngine, events.VisitClosedPayload{Reason: reason}, r.id))
	}
	slog.Info("visit closed", "visit_id", events.VisitIDFromContext(ctx), "reason", reason)
}

func (r *Runtime) handle(in Input) Result {
	switch in := in.(type) {
	case StartTask:
		return Result{Started: r.engine.StartTask(in.ID)}
	case Tick:
		r.engine.Tick(in.Tick)
	case FocusChanged:
		r.engine.SetFocus(in.Focused)
	case ViolationObserved:
		r.monitor.ReportViolation(in.Kind, in.Detail)
	case Resize:
		r.monitor.Resize(tamper.Viewport{W: in.W, H: in.H})
	case KeyDown:
		return Result{Intercepted: r.monitor.KeyDown(in.Key)}
	case ContextMenu:
		r.monitor.ContextMenu()
	case DebuggerProbe:
		r.monitor.DebuggerProbe(in.Elapsed)
	case BaitRead:
		r.monitor.BaitRead()
	case Reveal:
		ref, err := r.engine.Reveal()
		return Result{Ref: ref, Err: err}
	case Inspect:
		return Result{Snapshot: r.engine.Snapshot()}
	default:
		slog.Warn("unknown visit input", "visit_id", r.id, "input", in)
	}
	return Result{}
}

// Send delivers one input and waits for its result.
func (r *Runtime) Send(ctx context.Context, in Input) (Result, error) {
	req := request{in: in, reply: make(chan Result, 1)}
	select {
	case r.inbox <- req:
	case <-r.done:
		return Result{}, ErrVisitClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Reveal is Send(Reveal{}) unpacked.
func (r *Runtime) Reveal(ctx context.Context) (string, error) {
	res, err := r.Send(ctx, Reveal{})
	if err != nil {
		return "", err
	}
	return res.Ref, res.Err
}

// Snapshot reads the engine state from inside the loop.
func (r *Runtime) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := r.Send(ctx, Inspect{})
	return res.Snapshot, err
}
