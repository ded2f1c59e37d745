package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// file is the on-disk shape of a catalog document.
type file struct {
	Tasks []Definition `json:"tasks" yaml:"tasks"`
}

// LoadFile reads the definitions of one catalog document.
// YAML (.yaml, .yml) and JSONC (.json, .jsonc) are supported.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var doc file
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	case ".json", ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		if err := json.Unmarshal(std, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("catalog %s: unsupported extension", path)
	}
	return doc.Tasks, nil
}

// Load expands the glob patterns (doublestar syntax, e.g. "catalogs/**/*.yaml"),
// reads every matching document in lexical order and builds one catalog.
// No patterns selects the built-in catalog.
func Load(patterns []string) (*Catalog, error) {
	if len(patterns) == 0 {
		return Default(), nil
	}

	var paths []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			slog.Warn("catalog pattern matched no files", "pattern", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}

	var defs []Definition
	for _, p := range paths {
		fileDefs, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}

	c, err := New(defs...)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	slog.Debug("catalog loaded", "files", len(paths), "tasks", c.Len())
	return c, nil
}
