package sandbox

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors
var (
	ErrTimeout  = errors.New("sandbox: execution timeout exceeded")
	ErrCanceled = errors.New("sandbox: execution cancelled")
	ErrClosed   = errors.New("sandbox: closed")
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Wall clock budget for one document
	MaxCallStackSize int           // goja call stack limit
	EnableConsole    bool          // Record console.log/warn/error/info
	EnableDOM        bool          // Expose the document shim
	EnableTimers     bool          // Run setTimeout/setInterval callbacks after scripts
	MaxTimers        int           // Upper bound on timer callbacks per document
}

// PostFunc receives every payload the document posts to its parent, already
// serialized to JSON.
type PostFunc func(raw []byte)

// Result holds the outcome of running one document
type Result struct {
	Console     []LogEntry    // Native console output
	Errors      []string      // Uncaught exceptions and unhandled rejections
	DOMChanges  []DOMChange   // DOM modifications
	Scripts     int           // Inline scripts executed
	Timers      int           // Timer callbacks executed
	Posted      int           // Payloads posted to the parent
	Title       string        // Document title after scripts ran
	Duration    time.Duration // Execution time
	Interrupted bool          // Stopped by timeout or cancellation
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info, debug
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DOMChange represents a DOM modification
type DOMChange struct {
	Type     string      // set_attribute, set_text, set_html, append, remove
	Selector string      // Element description
	Property string      // Property name
	Value    interface{} // New value
}

// Sandbox defines the document execution interface
type Sandbox interface {
	Run(ctx context.Context, document string, post PostFunc) (*Result, error)
	Close() error
}

// DefaultConfig returns the configuration used by the headless preview.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		EnableDOM:        true,
		EnableTimers:     true,
		MaxTimers:        1000,
	}
}
