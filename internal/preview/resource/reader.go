package resource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// DefaultMaxBytes bounds the size of a previewed document.
const DefaultMaxBytes int64 = 10 << 20

// FileReader reads resources from the local filesystem.
type FileReader struct {
	// MaxBytes rejects larger documents. Zero means DefaultMaxBytes.
	MaxBytes int64
}

// NewFileReader creates a FileReader with the given size limit.
func NewFileReader(maxBytes int64) *FileReader {
	return &FileReader{MaxBytes: maxBytes}
}

// Read returns the document as UTF-8. Failures are *ReadError values.
func (r *FileReader) Read(ctx context.Context, res Resource) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(res.Path, err)
	}

	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	f, err := os.Open(res.Path)
	if err != nil {
		return nil, Classify(res.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, Classify(res.Path, err)
	}
	if info.IsDir() {
		return nil, &ReadError{Kind: KindNotText, Path: res.Path, Err: fmt.Errorf("%w: is a directory", ErrNotText)}
	}
	if info.Size() > limit {
		return nil, &ReadError{Kind: KindTooLarge, Path: res.Path, Err: fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size(), limit)}
	}

	// The file may grow between Stat and ReadAll.
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, Classify(res.Path, err)
	}
	if int64(len(data)) > limit {
		return nil, &ReadError{Kind: KindTooLarge, Path: res.Path, Err: fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)}
	}

	if err := ctx.Err(); err != nil {
		return nil, Classify(res.Path, err)
	}

	if !IsText(data) {
		return nil, &ReadError{Kind: KindNotText, Path: res.Path, Err: fmt.Errorf("%w: detected %s", ErrNotText, mimetype.Detect(data).String())}
	}

	return ToUTF8(data), nil
}

// IsText reports whether data sniffs as a text format.
func IsText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// DetectCharset returns the lower-cased best guess for the encoding of data.
func DetectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// ToUTF8 converts data to UTF-8. Valid UTF-8 is returned as is; otherwise
// the encoding is detected and decoded, falling back to the raw bytes.
func ToUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	label := DetectCharset(data)
	decoded, err := charset.NewReaderLabel(label, bytes.NewReader(data))
	if err != nil {
		return data
	}
	out, err := io.ReadAll(decoded)
	if err != nil {
		return data
	}
	return out
}
