package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/dohr-michael/taskgate/internal/tamper"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Parse decodes JSONC config bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18430
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}

	if cfg.Session.TaskCount == 0 {
		cfg.Session.TaskCount = 3
	}
	if cfg.Session.TickInterval == 0 {
		cfg.Session.TickInterval = Duration(time.Second)
	}
	if cfg.Session.ResourceParam == "" {
		cfg.Session.ResourceParam = "download_url"
	}

	if cfg.Tamper.Threshold == 0 {
		cfg.Tamper.Threshold = 1
	}
	if cfg.Tamper.ProbeSchedule == "" {
		cfg.Tamper.ProbeSchedule = "@every 1s"
	}
	if cfg.Tamper.PauseThreshold == 0 {
		cfg.Tamper.PauseThreshold = Duration(tamper.DefaultConfig().PauseThreshold)
	}
	if cfg.Tamper.ResizeThreshold == 0 {
		cfg.Tamper.ResizeThreshold = 100
	}
	if cfg.Tamper.Shortcuts == nil {
		cfg.Tamper.Shortcuts = slices.Clone(tamper.DefaultShortcuts)
	}
}

// Validate rejects values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.TaskCount < 0 {
		errs = append(errs, fmt.Errorf("session.task_count must be positive, got %d", c.Session.TaskCount))
	}
	if c.Session.TickInterval < 0 {
		errs = append(errs, errors.New("session.tick_interval must be positive"))
	}
	if c.Tamper.Threshold < 0 {
		errs = append(errs, fmt.Errorf("tamper.threshold must be positive, got %d", c.Tamper.Threshold))
	}
	if _, err := c.Tamper.Schedule(); err != nil {
		errs = append(errs, fmt.Errorf("tamper.probe_schedule: %w", err))
	}
	for _, k := range c.Tamper.DisabledProbes {
		if !tamper.Kind(k).Valid() {
			errs = append(errs, fmt.Errorf("tamper.disabled_probes: unknown probe %q", k))
		}
	}
	for _, s := range c.Tamper.Shortcuts {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("tamper.shortcuts: empty entry"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
