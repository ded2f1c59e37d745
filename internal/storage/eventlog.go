package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dohr-michael/taskgate/internal/events"
)

// ErrInvalidVisitID rejects ids that would escape the log directory.
var ErrInvalidVisitID = errors.New("invalid visit id")

// EventLogger persists bus events to JSONL files, one file per visit.
type EventLogger struct {
	dir         string
	mu          sync.Mutex
	unsubscribe func()
}

// NewEventLogger creates an EventLogger that subscribes to all bus events
// and writes them as JSONL to dir.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{dir: dir}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	// Countdown ticks are too noisy; task.state carries the transitions.
	if e.Type == events.EventTaskTick {
		return
	}
	if err := el.writeEvent(e); err != nil {
		slog.Warn("event log write failed", "visit_id", e.SessionID, "error", err)
	}
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path, err := el.logPath(e.SessionID)
	if err != nil {
		return err
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (el *EventLogger) logPath(visitID string) (string, error) {
	if visitID == "" {
		return filepath.Join(el.dir, "_global.jsonl"), nil
	}
	if strings.ContainsAny(visitID, `/\`) || strings.Contains(visitID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidVisitID, visitID)
	}
	return filepath.Join(el.dir, visitID+".jsonl"), nil
}

// Read returns the logged events of one visit in write order.
func (el *EventLogger) Read(visitID string) ([]events.Event, error) {
	if visitID == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVisitID)
	}
	path, err := el.logPath(visitID)
	if err != nil {
		return nil, err
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []events.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
