// Package resource identifies the previewed document on disk and reads its
// current content.
package resource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors
var (
	ErrNotHTML  = errors.New("resource: not an html document")
	ErrTooLarge = errors.New("resource: document exceeds size limit")
	ErrNotText  = errors.New("resource: document is not text")
)

// Resource is an immutable reference to one document.
type Resource struct {
	Path string
}

// New resolves path to an absolute, cleaned identity. Symlinks are resolved
// when the target exists.
func New(path string) (Resource, error) {
	if strings.TrimSpace(path) == "" {
		return Resource{}, fmt.Errorf("resource: empty path")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Resource{}, fmt.Errorf("resource: resolve %q: %w", path, err)
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	return Resource{Path: abs}, nil
}

// MustNew is like New but panics on error. Intended for tests.
func MustNew(path string) Resource {
	r, err := New(path)
	if err != nil {
		panic(err)
	}
	return r
}

// Identity returns the key used to match watcher and save events.
func (r Resource) Identity() string { return r.Path }

// Dir returns the directory relative assets resolve against.
func (r Resource) Dir() string { return filepath.Dir(r.Path) }

// Base returns the file name.
func (r Resource) Base() string { return filepath.Base(r.Path) }

// IsZero reports whether r is the zero Resource.
func (r Resource) IsZero() bool { return r.Path == "" }

// IsHTML reports whether the resource has an HTML extension.
func (r Resource) IsHTML() bool {
	switch strings.ToLower(filepath.Ext(r.Path)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

// Same reports whether other refers to the same document.
func (r Resource) Same(other Resource) bool {
	return r.Path == other.Path
}

// String implements fmt.Stringer.
func (r Resource) String() string { return r.Path }

// Reader reads the current content of a resource.
type Reader interface {
	Read(ctx context.Context, res Resource) ([]byte, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, res Resource) ([]byte, error)

// Read calls f.
func (f ReaderFunc) Read(ctx context.Context, res Resource) ([]byte, error) {
	return f(ctx, res)
}
