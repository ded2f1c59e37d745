// Package tamper implements best-effort inspection heuristics for a visit.
//
// None of this is a security boundary. Every probe runs on the client side and
// a determined user can bypass all of them; the monitor only raises the cost
// of casual inspection.
package tamper

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/taskgate/internal/events"
)

// Kind identifies the probe that observed a violation.
type Kind string

const (
	KindDebugger     Kind = "debugger"
	KindContextMenu  Kind = "context_menu"
	KindShortcut     Kind = "shortcut"
	KindViewport     Kind = "viewport"
	KindPropertyTrap Kind = "property_trap"
)

// Kinds lists every probe kind.
var Kinds = []Kind{KindDebugger, KindContextMenu, KindShortcut, KindViewport, KindPropertyTrap}

func (k Kind) Valid() bool { return slices.Contains(Kinds, k) }

// Lockout notice shown in place of the whole UI.
const (
	LockoutTitle   = "Invalid Activity Detected"
	LockoutMessage = "Suspicious behavior has been detected. Please reload the page and try again."
)

// Config holds the monitor thresholds.
type Config struct {
	// Threshold is the violation count that triggers lockout (1 = zero tolerance).
	Threshold int
	// PauseThreshold is the wall-clock gap treated as an attached debugger.
	PauseThreshold time.Duration
	// ResizeThreshold is the per-axis pixel delta from the baseline viewport.
	ResizeThreshold int
	// Shortcuts are intercepted key combinations, e.g. "ctrl+shift+i".
	Shortcuts []string
	// Disabled probes never report.
	Disabled []Kind
}

// DefaultShortcuts are the combinations that open developer tools or view source.
var DefaultShortcuts = []string{"f12", "ctrl+shift+i", "ctrl+shift+j", "ctrl+shift+c", "ctrl+u"}

func DefaultConfig() Config {
	return Config{
		Threshold:       1,
		PauseThreshold:  100 * time.Millisecond,
		ResizeThreshold: 100,
		Shortcuts:       slices.Clone(DefaultShortcuts),
	}
}

// Viewport is a window size in pixels (or cells for terminal hosts).
type Viewport struct {
	W int `json:"w"`
	H int `json:"h"`
}

func (v Viewport) IsZero() bool { return v.W == 0 && v.H == 0 }

// State is a snapshot of the monitor.
type State struct {
	Violations   int      `json:"violations"`
	Armed        bool     `json:"armed"`
	Baseline     Viewport `json:"baseline"`
	DevtoolsOpen bool     `json:"devtools_open"`
	LockoutKind  Kind     `json:"lockout_kind,omitempty"`
}

// Options configures a Monitor.
type Options struct {
	Config   Config
	Baseline Viewport
	Lockout  *Lockout
	Bus      events.Publisher
	VisitID  string
}

// Monitor counts violations and trips the lockout once the threshold is reached.
type Monitor struct {
	cfg       Config
	shortcuts map[string]bool
	disabled  map[Kind]bool
	lockout   *Lockout
	bus       events.Publisher
	visitID   string

	mu           sync.Mutex
	violations   int
	armed        bool
	baseline     Viewport
	devtoolsOpen bool
}

func NewMonitor(opts Options) *Monitor {
	cfg := opts.Config
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = DefaultConfig().PauseThreshold
	}
	if cfg.ResizeThreshold <= 0 {
		cfg.ResizeThreshold = DefaultConfig().ResizeThreshold
	}
	if cfg.Shortcuts == nil {
		cfg.Shortcuts = slices.Clone(DefaultShortcuts)
	}
	if opts.Lockout == nil {
		opts.Lockout = NewLockout()
	}

	m := &Monitor{
		cfg:       cfg,
		shortcuts: make(map[string]bool, len(cfg.Shortcuts)),
		disabled:  make(map[Kind]bool, len(cfg.Disabled)),
		lockout:   opts.Lockout,
		bus:       opts.Bus,
		visitID:   opts.VisitID,
		armed:     !opts.Lockout.Tripped(),
		baseline:  opts.Baseline,
	}
	for _, s := range cfg.Shortcuts {
		m.shortcuts[NormalizeKey(s)] = true
	}
	for _, k := range cfg.Disabled {
		m.disabled[k] = true
	}
	return m
}

// Lockout returns the shared lockout latch.
func (m *Monitor) Lockout() *Lockout { return m.lockout }

// State returns a snapshot of the monitor.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, _ := m.lockout.Cause()
	return State{
		Violations:   m.violations,
		Armed:        m.armed,
		Baseline:     m.baseline,
		DevtoolsOpen: m.devtoolsOpen,
		LockoutKind:  kind,
	}
}

// ReportViolation counts one violation. It reports whether this call tripped
// the lockout. After lockout violations are still counted but change nothing.
func (m *Monitor) ReportViolation(kind Kind, detail string) bool {
	m.mu.Lock()
	m.violations++
	count := m.violations
	armed := m.armed
	trip := armed && count >= m.cfg.Threshold
	if trip {
		m.armed = false
	}
	m.mu.Unlock()

	if !armed {
		slog.Debug("violation after lockout", "visit_id", m.visitID, "kind", kind, "violations", count)
		return false
	}

	slog.Info("tamper violation", "visit_id", m.visitID, "kind", kind, "violations", count, "detail", detail)
	m.publish(events.ViolationPayload{Kind: string(kind), Count: count, Detail: detail})

	if !trip || !m.lockout.Trip(kind, count) {
		return false
	}
	slog.Warn("visit locked out", "visit_id", m.visitID, "kind", kind, "violations", count)
	m.publish(events.LockoutPayload{
		Kind:    string(kind),
		Count:   count,
		Title:   LockoutTitle,
		Message: LockoutMessage,
	})
	return true
}

func (m *Monitor) observe(kind Kind, detail string) bool {
	if m.disabled[kind] {
		return false
	}
	m.ReportViolation(kind, detail)
	return true
}

func (m *Monitor) publish(p events.EventPayload) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.NewTypedEventWithSession(events.SourceMonitor, p, m.visitID))
}

// ContextMenu records a context-menu request. Any request is a violation.
func (m *Monitor) ContextMenu() {
	m.observe(KindContextMenu, "")
}

// KeyDown checks key against the intercepted shortcuts. It reports whether the
// host must suppress the key's default action.
func (m *Monitor) KeyDown(key string) bool {
	key = NormalizeKey(key)
	if !m.shortcuts[key] {
		return false
	}
	return m.observe(KindShortcut, key)
}

// CaptureBaseline records the initial viewport if none was given. The
// baseline is written once and never changes afterwards.
func (m *Monitor) CaptureBaseline(v Viewport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.baseline.IsZero() || v.IsZero() {
		return false
	}
	m.baseline = v
	return true
}

// Resize compares v to the baseline. Without a baseline the first size
// becomes the baseline.
func (m *Monitor) Resize(v Viewport) bool {
	if m.CaptureBaseline(v) {
		return false
	}
	m.mu.Lock()
	base := m.baseline
	m.mu.Unlock()

	dw, dh := abs(v.W-base.W), abs(v.H-base.H)
	if dw <= m.cfg.ResizeThreshold && dh <= m.cfg.ResizeThreshold {
		return false
	}
	return m.observe(KindViewport, fmt.Sprintf("%dx%d -> %dx%d", base.W, base.H, v.W, v.H))
}

// DebuggerProbe evaluates one timing measurement around a pause point.
func (m *Monitor) DebuggerProbe(elapsed time.Duration) bool {
	if elapsed <= m.cfg.PauseThreshold {
		return false
	}
	return m.observe(KindDebugger, elapsed.Round(time.Millisecond).String())
}

// BaitRead records that the bait property was read by an inspector.
func (m *Monitor) BaitRead() bool {
	if m.disabled[KindPropertyTrap] {
		return false
	}
	m.mu.Lock()
	m.devtoolsOpen = true
	m.mu.Unlock()
	return m.observe(KindPropertyTrap, "")
}

// NormalizeKey canonicalizes a key combination: lower case, modifiers ordered
// ctrl, alt, shift, meta, then the key itself.
func NormalizeKey(key string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(key)), "+")
	var mods [4]bool
	var rest []string
	for _, p := range parts {
		switch strings.TrimSpace(p) {
		case "ctrl", "control":
			mods[0] = true
		case "alt", "option":
			mods[1] = true
		case "shift":
			mods[2] = true
		case "meta", "cmd", "super":
			mods[3] = true
		case "":
		default:
			rest = append(rest, strings.TrimSpace(p))
		}
	}
	var out []string
	for i, name := range []string{"ctrl", "alt", "shift", "meta"} {
		if mods[i] {
			out = append(out, name)
		}
	}
	return strings.Join(append(out, rest...), "+")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
