package scheduler

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultTickInterval is the countdown granularity.
const DefaultTickInterval = time.Second

// Tick is one countdown step for a task. Seq identifies the timer that
// produced it so ticks from a cancelled timer can be told apart.
type Tick struct {
	TaskID string
	Seq    uint64
}

type timer struct {
	seq    uint64
	ticker Ticker
	stop   chan struct{}
}

// TimerService runs at most one periodic timer per task id and delivers
// their ticks on a single channel.
type TimerService struct {
	clock    Clock
	interval time.Duration
	out      chan Tick

	mu     sync.Mutex
	timers map[string]*timer
	seq    uint64
	closed bool
	done   chan struct{}
}

// NewTimerService creates a service ticking every interval on clock.
func NewTimerService(clock Clock, interval time.Duration) *TimerService {
	if clock == nil {
		clock = RealClock{}
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &TimerService{
		clock:    clock,
		interval: interval,
		out:      make(chan Tick, 16),
		timers:   make(map[string]*timer),
		done:     make(chan struct{}),
	}
}

// Ticks returns the channel all timers deliver to.
func (s *TimerService) Ticks() <-chan Tick { return s.out }

// Start begins a timer for taskID, replacing any timer already bound to it.
func (s *TimerService) Start(taskID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	if prev, ok := s.timers[taskID]; ok {
		s.stopLocked(prev)
	}

	s.seq++
	t := &timer{
		seq:    s.seq,
		ticker: s.clock.NewTicker(s.interval),
		stop:   make(chan struct{}),
	}
	s.timers[taskID] = t
	go s.run(taskID, t)

	slog.Debug("timer started", "task_id", taskID, "seq", t.seq)
	return t.seq
}

func (s *TimerService) run(taskID string, t *timer) {
	tick := Tick{TaskID: taskID, Seq: t.seq}
	for {
		select {
		case <-t.stop:
			return
		case <-s.done:
			return
		case <-t.ticker.C():
		}
		select {
		case s.out <- tick:
		case <-t.stop:
			return
		case <-s.done:
			return
		}
	}
}

// Cancel stops the timer bound to taskID. It does not wait for the timer
// goroutine; a tick already in flight fails Current afterwards.
func (s *TimerService) Cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[taskID]; ok {
		s.stopLocked(t)
		delete(s.timers, taskID)
		slog.Debug("timer cancelled", "task_id", taskID, "seq", t.seq)
	}
}

// CancelAll stops every timer.
func (s *TimerService) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		s.stopLocked(t)
		delete(s.timers, id)
	}
}

// Close cancels every timer and refuses new ones.
func (s *TimerService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.timers {
		s.stopLocked(t)
		delete(s.timers, id)
	}
	close(s.done)
}

func (s *TimerService) stopLocked(t *timer) {
	t.ticker.Stop()
	close(t.stop)
}

// Current reports whether tick comes from the live timer of its task.
func (s *TimerService) Current(tick Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[tick.TaskID]
	return ok && t.seq == tick.Seq
}

// Running returns the sorted ids of tasks with a live timer.
func (s *TimerService) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
