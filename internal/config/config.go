package config

import (
	"time"

	"github.com/dohr-michael/taskgate/internal/scheduler"
	"github.com/dohr-michael/taskgate/internal/tamper"
)

// Config is the root configuration for taskgate.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Events  EventsConfig  `json:"events"`
	Session SessionConfig `json:"session"`
	Tamper  TamperConfig  `json:"tamper"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"` // JSONL event log per visit; empty disables it
}

// SessionConfig configures task selection for each visit.
type SessionConfig struct {
	TaskCount     int      `json:"task_count"`
	TickInterval  Duration `json:"tick_interval"`
	Catalog       []string `json:"catalog,omitempty"` // glob patterns; empty = built-in catalog
	ResourceParam string   `json:"resource_param"`
}

// TamperConfig configures the tamper monitor.
type TamperConfig struct {
	Threshold       int      `json:"threshold"`
	ProbeSchedule   string   `json:"probe_schedule"`
	PauseThreshold  Duration `json:"pause_threshold"`
	ResizeThreshold int      `json:"resize_threshold"`
	Shortcuts       []string `json:"shortcuts,omitempty"`
	DisabledProbes  []string `json:"disabled_probes,omitempty"`
}

// Monitor converts the section to the monitor's own configuration.
func (t TamperConfig) Monitor() tamper.Config {
	disabled := make([]tamper.Kind, 0, len(t.DisabledProbes))
	for _, k := range t.DisabledProbes {
		disabled = append(disabled, tamper.Kind(k))
	}
	return tamper.Config{
		Threshold:       t.Threshold,
		PauseThreshold:  t.PauseThreshold.Duration(),
		ResizeThreshold: t.ResizeThreshold,
		Shortcuts:       t.Shortcuts,
		Disabled:        disabled,
	}
}

// Schedule parses ProbeSchedule.
func (t TamperConfig) Schedule() (*scheduler.CronExpr, error) {
	return scheduler.ParseCron(t.ProbeSchedule)
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
