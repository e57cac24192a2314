package resource

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a read failure.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindTooLarge   Kind = "too_large"
	KindNotText    Kind = "not_text"
	KindIO         Kind = "io"
)

// ReadError describes why the content of a resource could not be read.
type ReadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reason is the human readable text shown in the diagnostic view.
func (e *ReadError) Reason() string {
	switch e.Kind {
	case KindNotFound:
		return "File not found: " + e.Path
	case KindPermission:
		return "Permission denied: " + e.Path
	case KindTooLarge:
		return "File is too large to preview: " + e.Path
	case KindNotText:
		return "File is not a text document: " + e.Path
	}
	return fmt.Sprintf("Error reading file: %v", e.Err)
}

// Classify wraps err into a ReadError for path.
func Classify(path string, err error) *ReadError {
	if err == nil {
		return nil
	}

	var re *ReadError
	if errors.As(err, &re) {
		return re
	}

	kind := KindIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = KindPermission
	case errors.Is(err, ErrTooLarge):
		kind = KindTooLarge
	case errors.Is(err, ErrNotText):
		kind = KindNotText
	}

	return &ReadError{Kind: kind, Path: path, Err: err}
}

// KindOf returns the classification of err, or KindIO.
func KindOf(err error) Kind {
	var re *ReadError
	if errors.As(err, &re) {
		return re.Kind
	}
	return Classify("", err).Kind
}
