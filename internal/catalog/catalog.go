// Package catalog holds the task definitions a visit draws its session from.
package catalog

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrCatalogUnderflow is the configuration error class for catalogs that
// cannot back a full session: too few entries, duplicate ids or malformed
// definitions.
var ErrCatalogUnderflow = errors.New("catalog underflow")

var (
	ErrDuplicateTaskID   = fmt.Errorf("%w: duplicate task id", ErrCatalogUnderflow)
	ErrInvalidDefinition = fmt.Errorf("%w: invalid task definition", ErrCatalogUnderflow)
)

// Kind distinguishes tasks that visit a link from tasks that require focus.
type Kind string

const (
	KindLink  Kind = "link"
	KindFocus Kind = "focus"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindLink || k == KindFocus
}

func (k Kind) String() string { return string(k) }

// UnmarshalText accepts kinds case-insensitively.
func (k *Kind) UnmarshalText(b []byte) error {
	v := Kind(strings.ToLower(strings.TrimSpace(string(b))))
	if !v.Valid() {
		return fmt.Errorf("unknown task kind %q", string(b))
	}
	*k = v
	return nil
}

// DefaultActionLabel is shown when a definition has no action label.
const DefaultActionLabel = "Click Me"

// Definition is an immutable task template.
type Definition struct {
	ID              string `json:"id" yaml:"id"`
	Title           string `json:"title" yaml:"title"`
	Description     string `json:"description" yaml:"description"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
	Kind            Kind   `json:"kind" yaml:"kind"`
	ExternalLink    string `json:"link,omitempty" yaml:"link,omitempty"`
	ActionLabel     string `json:"action_label,omitempty" yaml:"action_label,omitempty"`
}

// Label returns the action label, falling back to DefaultActionLabel.
func (d Definition) Label() string {
	if d.ActionLabel == "" {
		return DefaultActionLabel
	}
	return d.ActionLabel
}

// Validate checks the definition for consistency.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if d.Title == "" {
		return fmt.Errorf("%w: task %q: title is required", ErrInvalidDefinition, d.ID)
	}
	if d.DurationSeconds <= 0 {
		return fmt.Errorf("%w: task %q: duration must be positive, got %d", ErrInvalidDefinition, d.ID, d.DurationSeconds)
	}
	switch d.Kind {
	case KindLink:
		if d.ExternalLink == "" {
			return fmt.Errorf("%w: task %q: link task requires a link", ErrInvalidDefinition, d.ID)
		}
	case KindFocus:
	default:
		return fmt.Errorf("%w: task %q: unknown kind %q", ErrInvalidDefinition, d.ID, d.Kind)
	}
	return nil
}

// Catalog is an ordered, read-only collection of definitions with unique ids.
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// New builds a catalog, rejecting invalid definitions and duplicate ids.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(defs))}
	for _, d := range defs {
		if err := c.add(d); err != nil {
			return nil, err
		}
	}
	if len(c.defs) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrCatalogUnderflow)
	}
	return c, nil
}

func (c *Catalog) add(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, exists := c.index[d.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTaskID, d.ID)
	}
	c.index[d.ID] = len(c.defs)
	c.defs = append(c.defs, d)
	return nil
}

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// Definitions returns a copy of the definitions in catalog order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (Definition, bool) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Require fails with ErrCatalogUnderflow if the catalog cannot supply k tasks.
func (c *Catalog) Require(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: selection count must be positive, got %d", ErrCatalogUnderflow, k)
	}
	if c.Len() < k {
		return fmt.Errorf("%w: need %d tasks, catalog has %d", ErrCatalogUnderflow, k, c.Len())
	}
	return nil
}

// Digest returns a hex BLAKE3 digest of the catalog contents.
func (c *Catalog) Digest() string {
	data, err := json.Marshal(c.defs)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
