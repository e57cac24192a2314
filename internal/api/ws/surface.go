package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
)

// Surface is the browser shell of one session. It implements
// session.Presenter and bridge.Transport.
//
// Presenter methods run under the session lock, so nothing here blocks on
// the network: frames are queued and a client that falls behind is dropped.
type Surface struct {
	hub    *Hub
	sess   *session.Session
	logger *zap.Logger

	mu     sync.Mutex
	client *client
	closed bool
}

var (
	_ session.Presenter = (*Surface)(nil)
	_ bridge.Transport  = (*Surface)(nil)
)

// Connected reports whether a client is attached.
func (s *Surface) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && !s.client.isClosed()
}

func (s *Surface) Focus() {
	s.push(Frame{Type: MsgFocus})
}

func (s *Surface) SetTitle(panel, document string) {
	s.push(Frame{Type: MsgTitle, Title: panel, Document: document})
}

func (s *Surface) SetStatus(status string) {
	s.push(Frame{Type: MsgStatus, Status: status})
	if status == session.StatusDisposed {
		s.shutdown()
	}
}

func (s *Surface) ShowDiagnostic(reason string) {
	s.push(Frame{Type: MsgDiagnostic, Reason: reason})
}

func (s *Surface) AppendLog(ev session.Event) {
	e := entryOf(ev)
	s.push(Frame{Type: MsgConsole, Entry: &e})
}

func (s *Surface) SetErrorCount(n int) {
	s.push(Frame{Type: MsgBadge, Count: &n})
}

func (s *Surface) ClearLog() {
	s.push(Frame{Type: MsgCleared})
}

// Deliver sends a full document to the sandboxed frame.
func (s *Surface) Deliver(ctx context.Context, d bridge.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := Frame{
		Type:     MsgLoad,
		Revision: d.Revision,
		Content:  d.Content,
		Policy:   string(d.Policy),
	}
	if !s.push(f) {
		return bridge.ErrTransportClosed
	}
	return nil
}

// Close is called by the bridge when the session goes away.
func (s *Surface) Close() error {
	s.shutdown()
	return nil
}

func (s *Surface) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c != nil {
		c.close()
	}
	s.hub.remove(s)
}

func (s *Surface) push(f Frame) bool {
	msg, err := encodeFrame(f)
	if err != nil {
		s.logger.Error("Failed to encode frame", zap.String("type", string(f.Type)), zap.Error(err))
		return false
	}

	s.mu.Lock()
	c, closed := s.client, s.closed
	s.mu.Unlock()

	if closed || c == nil {
		return false
	}
	if !c.enqueue(msg) {
		s.logger.Warn("Surface client too slow, disconnecting", zap.String("client", c.id))
		return false
	}
	s.hub.recorder.RecordWSMessage("out", string(f.Type))
	return true
}

// connect makes conn the surface client, replacing any earlier one.
func (s *Surface) connect(conn *websocket.Conn) (*client, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, bridge.ErrTransportClosed
	}
	prev := s.client
	c := newClient(conn)
	s.client = c
	s.mu.Unlock()

	if prev != nil {
		s.logger.Debug("Surface client replaced", zap.String("client", prev.id))
		prev.close()
	}
	return c, nil
}

func (s *Surface) disconnect(c *client) {
	s.mu.Lock()
	if s.client == c {
		s.client = nil
		// Deliveries made while detached are replayed on the next attach.
		s.sess.Bridge().Detach(s)
	}
	s.mu.Unlock()
	c.close()
}

// sync brings a freshly connected client up to date. Entries appended
// while this runs may arrive twice; the shell drops repeated sequences.
func (s *Surface) sync(r *http.Request) {
	snap := s.sess.Snapshot()

	s.push(Frame{Type: MsgTitle, Title: snap.Title, Document: snap.DocumentTitle})
	if snap.Status != "" {
		s.push(Frame{Type: MsgStatus, Status: snap.Status})
	}
	count := snap.ErrorCount
	s.push(Frame{Type: MsgBadge, Count: &count})

	entries := make([]Entry, 0, len(snap.Entries))
	for _, ev := range snap.Entries {
		entries = append(entries, entryOf(ev))
	}
	s.push(Frame{Type: MsgSnapshot, Entries: entries})

	if err := s.sess.Bridge().Attach(r.Context(), s); err != nil && !errors.Is(err, bridge.ErrClosed) {
		s.logger.Warn("Failed to replay document", zap.Error(err))
	}
	if snap.Diagnostic != "" {
		s.push(Frame{Type: MsgDiagnostic, Reason: snap.Diagnostic})
	}
}

func (s *Surface) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Surface read error", zap.Error(err))
			}
			return
		}

		in, err := decodeInbound(raw)
		if err != nil {
			s.hub.recorder.RecordWSMessage("in", "invalid")
			continue
		}

		switch in.Type {
		case MsgConsole:
			s.sess.Bridge().Receive(in.Data)
		case MsgRefresh:
			if err := s.sess.Refresh(); err != nil {
				s.push(Frame{Type: MsgError, Message: err.Error()})
			}
		case MsgClear:
			if err := s.sess.ClearLog(); err != nil {
				s.push(Frame{Type: MsgError, Message: err.Error()})
			}
		case MsgPing:
			s.push(Frame{Type: MsgPong})
		default:
			s.hub.recorder.RecordWSMessage("in", "unknown")
			continue
		}
		s.hub.recorder.RecordWSMessage("in", string(in.Type))
	}
}
