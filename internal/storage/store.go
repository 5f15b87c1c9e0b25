package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedValue = errors.New("value cannot be stored")
	ErrInvalidSegment   = errors.New("invalid path segment")
)

// Snapshot is the state of one path at one moment.
type Snapshot interface {
	Exists() bool
	// Decode unmarshals the stored value into v. It is a no-op when the path
	// has no data.
	Decode(v interface{}) error
}

// DocumentStore is a hierarchical document tree addressed by slash paths.
type DocumentStore interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	// Write replaces whatever is stored at path. Writing an empty value
	// removes the document.
	Write(ctx context.Context, path string, v interface{}) error
	// Subscribe delivers the current state once before returning and again
	// after every change to path, until the returned function is called.
	// The returned function is safe to call more than once.
	Subscribe(ctx context.Context, path string, onChange func(Snapshot)) (func(), error)
}

// JoinPath builds a store path from segments, dropping empty ones.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// ValidateSegment checks that s can be used as one path segment, such as an
// identity inside a scoped path. Realtime Database keys may not contain
// slashes, ". # $ [ ]" or control characters.
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSegment)
	}
	if strings.ContainsAny(s, "/.#$[]") {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, s)
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidSegment, s)
		}
	}
	return nil
}

type jsonSnapshot json.RawMessage

func (s jsonSnapshot) Exists() bool {
	return !isEmptyJSON(s)
}

func (s jsonSnapshot) Decode(v interface{}) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s, v)
}

// isEmptyJSON reports whether raw holds nothing the tree would keep: null or
// an empty object or array.
func isEmptyJSON(raw []byte) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}
