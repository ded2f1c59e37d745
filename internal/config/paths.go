package config

import (
	"os"
	"path/filepath"
)

// TaskgatePath returns the root directory for taskgate data.
// It uses $TASKGATE_PATH if set, otherwise defaults to ~/.taskgate.
func TaskgatePath() string {
	if v := os.Getenv("TASKGATE_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".taskgate")
	}
	return filepath.Join(home, ".taskgate")
}

// ConfigPath returns the path to the taskgate config file.
func ConfigPath() string {
	return filepath.Join(TaskgatePath(), "config.jsonc")
}

// DotenvPath returns the path to the taskgate .env file.
func DotenvPath() string {
	return filepath.Join(TaskgatePath(), ".env")
}

// HeartbeatPath returns the path of the gateway liveness file.
func HeartbeatPath() string {
	return filepath.Join(TaskgatePath(), "heartbeat.json")
}
