package session

import (
	"errors"
	"time"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
)

var (
	ErrDisposed  = errors.New("session: disposed")
	ErrNoSession = errors.New("session: no active preview")
	ErrNotHTML   = resource.ErrNotHTML
)

// State is the lifecycle position of a session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateRendering     State = "rendering"
	StateError         State = "error"
	StateDisposed      State = "disposed"
)

// Status strings shown next to the toolbar title.
const (
	StatusLoading  = "Loading"
	StatusLive     = "Live"
	StatusError    = "Error"
	StatusDisposed = "Closed"
)

// TitlePrefix precedes the resource base name in the panel title.
const TitlePrefix = "Lab Preview: "

// Event is one captured console message. Events are never modified after
// they are appended.
type Event struct {
	Sequence  uint64       `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
	Level     bridge.Level `json:"level"`
	Message   string       `json:"message"`
}

// Clock renders the timestamp the way the log panel shows it.
func (e Event) Clock() string {
	return e.Timestamp.Format("15:04:05")
}

// IsError reports whether the event counts towards the error badge.
func (e Event) IsError() bool {
	return e.Level == bridge.LevelError
}

// Presenter is the presentation surface of a session. Methods are called
// with the session lock held, in the order the changes happened, and must
// not call back into the session.
type Presenter interface {
	Focus()
	SetTitle(panel, document string)
	SetStatus(status string)
	ShowDiagnostic(reason string)
	AppendLog(ev Event)
	SetErrorCount(n int)
	ClearLog()
}

// Recorder receives session counters.
type Recorder interface {
	RenderCompleted(ok bool)
	ReadFailed(kind string)
	StaleReadDiscarded()
	ConsoleEvent(level string)
	SessionOpened()
	SessionClosed()
}

// Snapshot is a read-only copy of a session's observable state.
type Snapshot struct {
	ID            string    `json:"id"`
	Resource      string    `json:"resource"`
	Title         string    `json:"title"`
	DocumentTitle string    `json:"document_title,omitempty"`
	State         State     `json:"state"`
	Status        string    `json:"status"`
	Revision      uint64    `json:"revision"`
	Diagnostic    string    `json:"diagnostic,omitempty"`
	Entries       []Event   `json:"entries"`
	ErrorCount    int       `json:"error_count"`
	TotalEvents   int       `json:"total_events"`
	CreatedAt     time.Time `json:"created_at"`
}

type nopPresenter struct{}

func (nopPresenter) Focus() {}
func (nopPresenter) SetTitle(string, string) {}
func (nopPresenter) SetStatus(string) {}
func (nopPresenter) ShowDiagnostic(string) {}
func (nopPresenter) AppendLog(Event) {}
func (nopPresenter) SetErrorCount(int) {}
func (nopPresenter) ClearLog() {}

type nopRecorder struct{}

func (nopRecorder) RenderCompleted(bool) {}
func (nopRecorder) ReadFailed(string) {}
func (nopRecorder) StaleReadDiscarded() {}
func (nopRecorder) ConsoleEvent(string) {}
func (nopRecorder) SessionOpened() {}
func (nopRecorder) SessionClosed() {}
