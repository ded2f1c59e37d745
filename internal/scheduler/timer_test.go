package scheduler

import (
	"slices"
	"testing"
	"time"
)

func recvTick(t *testing.T, s *TimerService) Tick {
	t.Helper()
	select {
	case tick := <-s.Ticks():
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
	return Tick{}
}

func TestManualClock_TickerDropsWhenFull(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(3 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected one buffered activation")
	}
	select {
	case <-ticker.C():
		t.Fatal("expected extra activations to be dropped")
	default:
	}
}

func TestManualClock_After(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	ch := clock.After(2 * time.Second)
	clock.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}
	clock.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("expected waiter to fire")
	}
	if clock.Waiters() != 0 {
		t.Fatalf("expected no pending waiters, got %d", clock.Waiters())
	}
}

func TestTimerService_DeliversTicks(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewTimerService(clock, time.Second)
	defer s.Close()

	seq := s.Start("a")
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		tick := recvTick(t, s)
		if tick.TaskID != "a" || tick.Seq != seq {
			t.Fatalf("unexpected tick %+v", tick)
		}
		if !s.Current(tick) {
			t.Fatal("expected tick from live timer to be current")
		}
	}
}

func TestTimerService_CancelMakesTicksStale(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewTimerService(clock, time.Second)
	defer s.Close()

	s.Start("a")
	clock.Advance(time.Second)
	tick := recvTick(t, s)

	s.Cancel("a")
	if s.Current(tick) {
		t.Fatal("expected tick to be stale after cancel")
	}
	if len(s.Running()) != 0 {
		t.Fatalf("expected no running timers, got %v", s.Running())
	}

	// A restarted timer gets a fresh sequence number.
	s.Start("a")
	if s.Current(tick) {
		t.Fatal("expected old tick to stay stale after restart")
	}
}

func TestTimerService_ReplaceAndCancelAll(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewTimerService(clock, time.Second)
	defer s.Close()

	first := s.Start("a")
	second := s.Start("a")
	if first == second {
		t.Fatal("expected replacement to change the sequence")
	}
	s.Start("b")
	if got := s.Running(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}

	s.CancelAll()
	if got := s.Running(); len(got) != 0 {
		t.Fatalf("expected none running, got %v", got)
	}
}

func TestTimerService_ClosedRefusesStart(t *testing.T) {
	s := NewTimerService(NewManualClock(time.Unix(0, 0)), time.Second)
	s.Close()
	s.Close()
	if seq := s.Start("a"); seq != 0 {
		t.Fatalf("expected refused start, got seq %d", seq)
	}
}
