// Package heartbeat publishes gateway liveness and visit counters to a file
// that `taskgate status` reads from another process.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dohr-michael/taskgate/internal/scheduler"
)

// Status represents the liveness state of the gateway.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

const (
	// DefaultInterval is how often the heartbeat file is rewritten.
	DefaultInterval = 10 * time.Second
	// DefaultMaxAge is how old a heartbeat may be before it counts as stale.
	DefaultMaxAge = 2 * time.Minute
)

// Stats is the gateway activity reported in each heartbeat.
type Stats struct {
	Addr         string `json:"addr,omitempty"`
	ActiveVisits int    `json:"active_visits"`
	TotalVisits  int    `json:"total_visits"`
	Lockouts     int    `json:"lockouts"`
}

// Heartbeat is one snapshot as stored on disk.
type Heartbeat struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Stats
}

// Uptime is the time between start and the last beat.
func (hb *Heartbeat) Uptime() time.Duration {
	return hb.Timestamp.Sub(hb.StartedAt).Truncate(time.Second)
}

// Status classifies the snapshot relative to now. A nil heartbeat is dead.
func (hb *Heartbeat) Status(now time.Time, maxAge time.Duration) Status {
	switch {
	case hb == nil:
		return StatusDead
	case now.Sub(hb.Timestamp) > maxAge:
		return StatusStale
	default:
		return StatusAlive
	}
}

// Options configures a Writer.
type Options struct {
	Path     string
	Interval time.Duration
	// Stats is sampled on every beat; nil reports zeros.
	Stats func() Stats
	Clock scheduler.Clock
}

// Writer rewrites the heartbeat file on a fixed interval.
type Writer struct {
	opts    Options
	started time.Time
}

// NewWriter creates a heartbeat writer.
func NewWriter(opts Options) *Writer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Stats == nil {
		opts.Stats = func() Stats { return Stats{} }
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock{}
	}
	return &Writer{opts: opts}
}

// Run beats immediately and then on every interval until ctx is done, then
// removes the file so readers see the gateway as stopped.
func (w *Writer) Run(ctx context.Context) {
	w.started = w.opts.Clock.Now()
	ticker := w.opts.Clock.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	defer os.Remove(w.opts.Path)

	w.beat()
	for {
		select {
		case <-ticker.C():
			w.beat()
		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) beat() {
	if err := write(w.opts.Path, Heartbeat{
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: w.opts.Clock.Now(),
		Stats:     w.opts.Stats(),
	}); err != nil {
		slog.Warn("heartbeat write failed", "path", w.opts.Path, "error", err)
	}
}

func write(path string, hb Heartbeat) error {
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// tmp + rename so readers never see a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads the heartbeat file. A missing file yields (nil, nil).
func Read(path string) (*Heartbeat, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	return &hb, nil
}
