package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/inject"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/watch"
	"github.com/kai9987kai/single-file-lab-studio/internal/shared/id"
)

// Session binds one resource to one rendering context and the console
// history that context produces.
type Session struct {
	id       id.SessionID
	res      resource.Resource
	reader   resource.Reader
	bridge   *bridge.Bridge
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	created  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	reads  sync.WaitGroup

	// deliverMu makes the staleness check and the delivery of a completed
	// read one step. Lock order: deliverMu, then mu; mu is never held
	// across SendToSandbox.
	deliverMu sync.Mutex

	mu           sync.Mutex
	presenter    Presenter
	sub          *watch.Subscription
	state        State
	status       string
	history      []Event
	visibleFrom  int
	errorCount   int
	reqSeq       uint64
	displayedSeq uint64
	revision     uint64
	docTitle     string
	diagnostic   string
	disposed     bool
	onDispose    func(*Session)
}

func newSession(res resource.Resource, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		id:       id.NewSessionID(),
		res:      res,
		reader:   opts.Reader,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      now,
		created:  now(),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateUninitialized,
	}
	s.logger = s.logger.With(zap.String("session", s.id.String()))
	s.bridge = bridge.New(s.logger)
	if opts.BridgeRecorder != nil {
		s.bridge.WithMetrics(opts.BridgeRecorder)
	}
	s.bridge.OnFromSandbox(s.receive)

	s.presenter = nopPresenter{}
	if opts.Presenter != nil {
		if p := opts.Presenter(s); p != nil {
			s.presenter = p
		}
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID { return s.id }

// Resource returns the previewed document.
func (s *Session) Resource() resource.Resource { return s.res }

// Bridge returns the channel to the rendering context. Transports attach
// here.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// Title is the panel title.
func (s *Session) Title() string { return PanelTitle(s.res.Base()) }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Disposed reports whether the session has been disposed.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Revision is the read sequence of the document currently displayed.
func (s *Session) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// History returns every console event captured, including cleared ones.
func (s *Session) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.history...)
}

// Visible returns the events shown since the last clear.
func (s *Session) Visible() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.history[s.visibleFrom:]...)
}

// ErrorCount is the error badge value.
func (s *Session) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCount
}

// Document returns the instrumented document last delivered.
func (s *Session) Document() (string, bool) {
	d, ok := s.bridge.Last()
	return d.Content, ok
}

// Snapshot copies the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:            s.id.String(),
		Resource:      s.res.Path,
		Title:         s.Title(),
		DocumentTitle: s.docTitle,
		State:         s.state,
		Status:        s.status,
		Revision:      s.revision,
		Diagnostic:    s.diagnostic,
		Entries:       append([]Event{}, s.history[s.visibleFrom:]...),
		ErrorCount:    s.errorCount,
		TotalEvents:   len(s.history),
		CreatedAt:     s.created,
	}
}

// Refresh re-reads the resource, exactly as a change notification would.
func (s *Session) Refresh() error {
	return s.reload("refresh")
}

// ClearLog empties the visible log and resets the error badge. History and
// the rendered document are untouched.
func (s *Session) ClearLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	s.visibleFrom = len(s.history)
	s.errorCount = 0
	s.presenter.ClearLog()
	s.presenter.SetErrorCount(0)
	return nil
}

// Wait blocks until every read started so far has completed.
func (s *Session) Wait() {
	s.reads.Wait()
}

// Dispose releases the watcher subscription and the rendering context.
// It is safe to call at any time and more than once. Reads still in flight
// are canceled but not awaited; their results are dropped.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = StateDisposed
	s.setStatus(StatusDisposed)
	sub := s.sub
	s.sub = nil
	onDispose := s.onDispose
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		sub.Dispose()
	}
	if err := s.bridge.Close(); err != nil {
		s.logger.Debug("Failed to close bridge", zap.Error(err))
	}

	if onDispose != nil {
		onDispose(s)
	}
	s.recorder.SessionClosed()
	s.logger.Info("Preview session disposed", zap.String("resource", s.res.Path))
}

func (s *Session) start(w *watch.Watcher) {
	s.mu.Lock()
	s.presenter.SetTitle(s.Title(), "")
	s.mu.Unlock()

	if w != nil {
		sub, err := w.Watch(s.res)
		if err != nil {
			s.logger.Warn("Failed to watch resource, refresh manually",
				zap.String("resource", s.res.Path), zap.Error(err))
		} else {
			sub.OnChange(func(ch watch.Change) {
				_ = s.reload(string(ch.Source))
			})
			s.mu.Lock()
			s.sub = sub
			s.mu.Unlock()
		}
	}

	s.recorder.SessionOpened()
	s.logger.Info("Preview session created", zap.String("resource", s.res.Path))
	_ = s.reload("show")
}

func (s *Session) focus() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	s.presenter.Focus()
	return nil
}

// reload starts an asynchronous read tagged with the next request sequence.
func (s *Session) reload(trigger string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.reqSeq++
	seq := s.reqSeq
	s.state = StateLoading
	s.setStatus(StatusLoading)
	s.reads.Add(1)
	s.mu.Unlock()

	s.logger.Debug("Reading resource",
		zap.Uint64("seq", seq),
		zap.String("trigger", trigger),
	)

	go func() {
		defer s.reads.Done()
		content, err := s.reader.Read(s.ctx, s.res)
		s.complete(seq, content, err)
	}()
	return nil
}

// complete applies the result of read seq unless the session is gone or a
// read that started later has already been displayed.
func (s *Session) complete(seq uint64, content []byte, err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if seq < s.displayedSeq {
		s.mu.Unlock()
		s.recorder.StaleReadDiscarded()
		s.logger.Debug("Discarded stale read", zap.Uint64("seq", seq))
		return
	}
	s.displayedSeq = seq

	if err != nil {
		re := resource.Classify(s.res.Path, err)
		s.diagnostic = re.Reason()
		if seq == s.reqSeq {
			s.state = StateError
		}
		s.presenter.ShowDiagnostic(s.diagnostic)
		s.setStatus(StatusError)
		s.mu.Unlock()

		s.recorder.ReadFailed(string(re.Kind))
		s.recorder.RenderCompleted(false)
		s.logger.Warn("Failed to read resource", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	s.mu.Unlock()

	source := string(content)
	title := DocumentTitle(source)
	if inject.Instrumented(source) {
		s.logger.Debug("Document already carries console capture, events will be forwarded twice",
			zap.Uint64("seq", seq),
			zap.Int("instrumentations", inject.Count(source)),
		)
	}
	delivery := bridge.Delivery{Revision: seq, Content: inject.Transform(source)}

	if err := s.bridge.SendToSandbox(s.ctx, delivery); err != nil {
		if errors.Is(err, bridge.ErrClosed) {
			return
		}
		// The delivery is retained by the bridge and replayed on the next
		// attach.
		s.logger.Warn("Failed to deliver document", zap.Uint64("seq", seq), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	if seq == s.reqSeq {
		s.state = StateRendering
	}
	s.revision = seq
	s.diagnostic = ""
	s.docTitle = title
	s.presenter.SetTitle(s.Title(), title)
	s.setStatus(StatusLive)
	s.recorder.RenderCompleted(true)
	s.logger.Debug("Rendered document", zap.Uint64("revision", seq), zap.Int("bytes", len(content)))
}

// receive appends one console message from the rendering context.
func (s *Session) receive(msg bridge.ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}

	ev := Event{
		Sequence:  uint64(len(s.history)) + 1,
		Timestamp: s.now(),
		Level:     msg.Level,
		Message:   msg.Text(),
	}
	s.history = append(s.history, ev)
	s.presenter.AppendLog(ev)
	if ev.IsError() {
		s.errorCount++
		s.presenter.SetErrorCount(s.errorCount)
	}
	s.recorder.ConsoleEvent(string(ev.Level))
}

// setStatus must be called with mu held.
func (s *Session) setStatus(status string) {
	if s.status == status {
		return
	}
	s.status = status
	s.presenter.SetStatus(status)
}
