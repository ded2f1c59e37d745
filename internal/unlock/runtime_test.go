package unlock

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/scheduler"
	"github.com/dohr-michael/taskgate/internal/tamper"
)

type runtimeFixture struct {
	rt     *Runtime
	clock  *scheduler.ManualClock
	bus    *events.Bus
	cancel context.CancelFunc
	runErr chan error
}

func startRuntime(t *testing.T, encoded string) *runtimeFixture {
	t.Helper()
	cat, err := catalog.New(
		catalog.Definition{ID: "a", Title: "A", DurationSeconds: 1, Kind: catalog.KindFocus},
		catalog.Definition{ID: "b", Title: "B", DurationSeconds: 1, Kind: catalog.KindFocus},
		catalog.Definition{ID: "c", Title: "C", DurationSeconds: 1, Kind: catalog.KindLink, ExternalLink: "https://example.com"},
	)
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)
	clock := scheduler.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	rt, err := NewVisit(VisitOptions{
		ID:           "visit_rt",
		Encoded:      encoded,
		Catalog:      cat,
		TaskCount:    3,
		Rand:         rand.New(rand.NewPCG(1, 2)),
		Clock:        clock,
		TickInterval: time.Second,
		Tamper:       tamper.DefaultConfig(),
		Baseline:     tamper.Viewport{W: 1024, H: 768},
		Bus:          bus,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	f := &runtimeFixture{rt: rt, clock: clock, bus: bus, cancel: cancel, runErr: make(chan error, 1)}
	go func() { f.runErr <- rt.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-rt.Done()
	})
	return f
}

func (f *runtimeFixture) send(t *testing.T, in Input) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	res, err := f.rt.Send(ctx, in)
	if err != nil {
		t.Fatalf("send %T: %v", in, err)
	}
	return res
}

func waitFor(t *testing.T, ch <-chan events.Event, match func(events.Event) bool) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestRuntime_CompletesAndReveals(t *testing.T) {
	const ref = "https://example.com/download"
	f := startRuntime(t, EncodeResource(ref))
	ch, unsub := f.bus.SubscribeSessionChan("visit_rt", 128)
	defer unsub()

	if _, err := f.rt.Reveal(t.Context()); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable before unlock, got %v", err)
	}

	for _, inst := range f.send(t, Inspect{}).Snapshot.Tasks {
		if res := f.send(t, StartTask{ID: inst.ID}); !res.Started {
			t.Fatalf("start %s refused", inst.ID)
		}
		f.clock.Advance(time.Second)
		waitFor(t, ch, func(e events.Event) bool {
			p, ok := events.GetTaskStatePayload(e)
			return ok && p.TaskID == inst.ID && p.State == "completed"
		})
	}

	waitFor(t, ch, func(e events.Event) bool { return e.Type == events.EventGateUnlocked })
	got, err := f.rt.Reveal(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got != ref {
		t.Fatalf("expected %q, got %q", ref, got)
	}
}

func TestRuntime_ContextMenuLocksOut(t *testing.T) {
	f := startRuntime(t, EncodeResource("ref"))
	ch, unsub := f.bus.SubscribeSessionChan("visit_rt", 64, events.EventTamperLockout)
	defer unsub()

	first := f.send(t, Inspect{}).Snapshot.Tasks[0].ID
	f.send(t, ContextMenu{})
	waitFor(t, ch, func(e events.Event) bool { return e.Type == events.EventTamperLockout })

	st := f.rt.TamperState()
	if st.Violations != 1 || st.Armed {
		t.Fatalf("unexpected monitor state %+v", st)
	}
	if res := f.send(t, StartTask{ID: first}); res.Started {
		t.Fatal("no task may start after lockout")
	}
	if _, err := f.rt.Reveal(t.Context()); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected ErrLockedOut, got %v", err)
	}
}

func TestRuntime_KeyDownIntercepted(t *testing.T) {
	f := startRuntime(t, "")
	if res := f.send(t, KeyDown{Key: "a"}); res.Intercepted {
		t.Fatal("plain key must pass through")
	}
	if res := f.send(t, KeyDown{Key: "ctrl+u"}); !res.Intercepted {
		t.Fatal("view-source shortcut must be intercepted")
	}
}

func TestRuntime_CloseStopsSend(t *testing.T) {
	f := startRuntime(t, "")
	f.cancel()
	<-f.rt.Done()

	if err := <-f.runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := f.rt.Send(context.Background(), FocusChanged{Focused: false}); !errors.Is(err, ErrVisitClosed) {
		t.Fatalf("expected ErrVisitClosed, got %v", err)
	}
}

func TestNewVisit_Underflow(t *testing.T) {
	cat, _ := catalog.New(catalog.Definition{ID: "a", Title: "A", DurationSeconds: 1, Kind: catalog.KindFocus})
	_, err := NewVisit(VisitOptions{Catalog: cat, TaskCount: 2})
	if !errors.Is(err, catalog.ErrCatalogUnderflow) {
		t.Fatalf("expected ErrCatalogUnderflow, got %v", err)
	}
}

func TestNewVisitID(t *testing.T) {
	id := NewVisitID()
	if len(id) != len("visit_")+8 || id[:6] != "visit_" {
		t.Fatalf("unexpected visit id %q", id)
	}
}
