package unlock

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrResourceDecode marks a missing or malformed resource parameter.
	// It degrades the visit; it is never returned from Initialize.
	ErrResourceDecode = errors.New("resource decode failure")
	// ErrResourceUnavailable is returned by Reveal before unlock or without a reference.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrLockedOut is returned by Reveal once the visit is locked out.
	ErrLockedOut = fmt.Errorf("%w: visit locked out", ErrResourceUnavailable)
	// ErrNotUnlocked is returned by Reveal while tasks remain.
	ErrNotUnlocked = fmt.Errorf("%w: tasks not completed", ErrResourceUnavailable)
	// ErrNoReference is returned by Reveal when the gate unlocked without a reference.
	ErrNoReference = fmt.Errorf("%w: %s", ErrResourceUnavailable, NotAvailableMessage)
)

// NotAvailableMessage is shown when the gate unlocks without a reference.
const NotAvailableMessage = "Download URL not available"

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// Gate holds the protected resource reference. The reference is decoded once
// and never changes.
type Gate struct {
	ref       string
	decodeErr error
	unlocked  bool
}

// NewGate decodes the encoded resource parameter.
func NewGate(encoded string) *Gate {
	ref, err := DecodeResource(encoded)
	return &Gate{ref: ref, decodeErr: err}
}

// Available reports whether a reference was decoded.
func (g *Gate) Available() bool { return g.decodeErr == nil }

// DecodeErr returns the decode failure, if any.
func (g *Gate) DecodeErr() error { return g.decodeErr }

// Unlocked reports whether the session completed.
func (g *Gate) Unlocked() bool { return g.unlocked }

func (g *Gate) unlock() { g.unlocked = true }

func (g *Gate) reveal() (string, error) {
	if !g.unlocked {
		return "", ErrNotUnlocked
	}
	if g.decodeErr != nil {
		return "", ErrNoReference
	}
	return g.ref, nil
}

// DecodeResource decodes a base64 resource parameter. Padded and unpadded,
// standard and URL-safe alphabets are accepted. A '+' turned into a space by
// query-string decoding is restored. Bytes that are not UTF-8 are read as
// Latin-1, one rune per byte, the way a browser's atob does.
func DecodeResource(encoded string) (string, error) {
	encoded = strings.ReplaceAll(strings.TrimSpace(encoded), " ", "+")
	if encoded == "" {
		return "", fmt.Errorf("%w: missing parameter", ErrResourceDecode)
	}

	var lastErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(encoded)
		if err != nil {
			lastErr = err
			continue
		}
		if len(raw) == 0 {
			lastErr = errors.New("decoded reference is empty")
			continue
		}
		if !utf8.Valid(raw) {
			return latin1(raw), nil
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("%w: %v", ErrResourceDecode, lastErr)
}

func latin1(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw) * 2)
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// EncodeResource is the inverse of DecodeResource, using the standard padded alphabet.
func EncodeResource(ref string) string {
	return base64.StdEncoding.EncodeToString([]byte(ref))
}
