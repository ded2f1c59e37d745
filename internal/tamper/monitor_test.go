package tamper

import (
	"context"
	"testing"
	"time"

	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/scheduler"
)

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *events.Bus) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	m := NewMonitor(Options{
		Config:   cfg,
		Baseline: Viewport{W: 1280, H: 800},
		Bus:      bus,
		VisitID:  "visit_test",
	})
	return m, bus
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return events.Event{}
}

// A single context-menu request locks the visit out with the default threshold.
func TestContextMenu_LocksOut(t *testing.T) {
	m, bus := newTestMonitor(t, DefaultConfig())
	ch, unsub := bus.SubscribeChan(8, events.EventTamperViolation, events.EventTamperLockout)
	defer unsub()

	m.ContextMenu()

	st := m.State()
	if st.Violations != 1 {
		t.Fatalf("expected 1 violation, got %d", st.Violations)
	}
	if st.Armed {
		t.Fatal("expected monitor disarmed")
	}
	if !m.Lockout().Tripped() {
		t.Fatal("expected lockout tripped")
	}

	v, ok := events.GetViolationPayload(waitEvent(t, ch))
	if !ok || v.Kind != string(KindContextMenu) || v.Count != 1 {
		t.Fatalf("unexpected violation payload %+v", v)
	}
	l, ok := events.GetLockoutPayload(waitEvent(t, ch))
	if !ok || l.Title != LockoutTitle || l.Message != LockoutMessage {
		t.Fatalf("unexpected lockout payload %+v", l)
	}
}

func TestLockoutIsFinal(t *testing.T) {
	m, bus := newTestMonitor(t, DefaultConfig())
	ch, unsub := bus.SubscribeChan(8)
	defer unsub()

	m.ContextMenu()
	waitEvent(t, ch) // violation
	waitEvent(t, ch) // lockout

	if m.ReportViolation(KindViewport, "") {
		t.Fatal("a second violation must not trip again")
	}
	if m.State().Armed {
		t.Fatal("monitor re-armed")
	}
	kind, count := m.Lockout().Cause()
	if kind != KindContextMenu || count != 1 {
		t.Fatalf("lockout cause changed: %s %d", kind, count)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected no events after lockout, got %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 3
	m, _ := newTestMonitor(t, cfg)

	m.ContextMenu()
	m.ContextMenu()
	if m.Lockout().Tripped() {
		t.Fatal("locked out before threshold")
	}
	m.ContextMenu()
	if !m.Lockout().Tripped() {
		t.Fatal("expected lockout at threshold")
	}
}

func TestKeyDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 100

	tests := []struct {
		key         string
		intercepted bool
	}{
		{"F12", true},
		{"ctrl+shift+i", true},
		{"Shift+Ctrl+J", true},
		{"ctrl+shift+C", true},
		{"ctrl+u", true},
		{"ctrl+c", false},
		{"a", false},
		{"shift+i", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, _ := newTestMonitor(t, cfg)
			if got := m.KeyDown(tt.key); got != tt.intercepted {
				t.Fatalf("KeyDown(%q) = %v, want %v", tt.key, got, tt.intercepted)
			}
			want := 0
			if tt.intercepted {
				want = 1
			}
			if got := m.State().Violations; got != want {
				t.Fatalf("expected %d violations, got %d", want, got)
			}
		})
	}
}

func TestResize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 100
	m, _ := newTestMonitor(t, cfg)

	if m.Resize(Viewport{W: 1380, H: 900}) {
		t.Fatal("delta of exactly 100 must not count")
	}
	if !m.Resize(Viewport{W: 1280, H: 650}) {
		t.Fatal("expected height delta of 150 to count")
	}
	if m.State().Baseline != (Viewport{W: 1280, H: 800}) {
		t.Fatal("baseline must not change")
	}
}

func TestResize_CapturesMissingBaseline(t *testing.T) {
	m := NewMonitor(Options{Config: DefaultConfig()})
	if m.Resize(Viewport{W: 80, H: 24}) {
		t.Fatal("first size must become the baseline")
	}
	if m.State().Baseline != (Viewport{W: 80, H: 24}) {
		t.Fatalf("unexpected baseline %+v", m.State().Baseline)
	}
	if m.CaptureBaseline(Viewport{W: 200, H: 60}) {
		t.Fatal("baseline must be written once")
	}
}

func TestDebuggerProbeAndBait(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 100
	m, _ := newTestMonitor(t, cfg)

	if m.DebuggerProbe(100 * time.Millisecond) {
		t.Fatal("elapsed at the threshold must not count")
	}
	if !m.DebuggerProbe(250 * time.Millisecond) {
		t.Fatal("expected a long pause to count")
	}
	if !m.BaitRead() || !m.State().DevtoolsOpen {
		t.Fatal("expected bait read to mark devtools open")
	}
	if m.State().Violations != 2 {
		t.Fatalf("expected 2 violations, got %d", m.State().Violations)
	}
}

func TestDisabledProbes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = []Kind{KindContextMenu, KindShortcut}
	m, _ := newTestMonitor(t, cfg)

	m.ContextMenu()
	if m.KeyDown("f12") {
		t.Fatal("disabled shortcut probe must not intercept")
	}
	if m.State().Violations != 0 || m.Lockout().Tripped() {
		t.Fatal("disabled probes must not report")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"F12":          "f12",
		"Shift+Ctrl+I": "ctrl+shift+i",
		"cmd+alt+i":    "alt+meta+i",
		" ctrl + u ":   "ctrl+u",
	}
	for in, want := range tests {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLockout_TripOnce(t *testing.T) {
	l := NewLockout()
	if l.Tripped() {
		t.Fatal("new lockout must not be tripped")
	}
	if !l.Trip(KindDebugger, 1) {
		t.Fatal("first trip must succeed")
	}
	if l.Trip(KindViewport, 2) {
		t.Fatal("second trip must be ignored")
	}
	select {
	case <-l.Done():
	default:
		t.Fatal("expected Done closed")
	}
	if kind, _ := l.Cause(); kind != KindDebugger {
		t.Fatalf("expected debugger cause, got %s", kind)
	}
}

func TestRunPauseProbe(t *testing.T) {
	clock := scheduler.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	expr, err := scheduler.ParseCron("@every 1s")
	if err != nil {
		t.Fatal(err)
	}
	m := NewMonitor(Options{Config: DefaultConfig()})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		m.RunPauseProbe(ctx, clock, expr)
		close(stopped)
	}()

	waitWaiter := func() {
		deadline := time.Now().Add(2 * time.Second)
		for clock.Waiters() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("probe never parked on the clock")
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitWaiter()
	clock.Advance(time.Second)
	waitWaiter()
	if m.State().Violations != 0 {
		t.Fatal("on-time run must not count")
	}

	// The process was stopped for three seconds.
	clock.Advance(3 * time.Second)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not stop after lockout")
	}
	if kind, _ := m.Lockout().Cause(); kind != KindDebugger {
		t.Fatalf("expected debugger lockout, got %q", kind)
	}
}
