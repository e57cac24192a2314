package ws

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
	"github.com/kai9987kai/single-file-lab-studio/internal/shared/id"
)

// Recorder receives surface counters.
type Recorder interface {
	RecordWSMessage(direction, msgType string)
	IncWSConnections()
	DecWSConnections()
}

type nopRecorder struct{}

func (nopRecorder) RecordWSMessage(string, string) {}
func (nopRecorder) IncWSConnections() {}
func (nopRecorder) DecWSConnections() {}

// Hub owns the surfaces of live sessions.
type Hub struct {
	logger   *zap.Logger
	recorder Recorder
	upgrader websocket.Upgrader

	mu       sync.Mutex
	surfaces map[id.SessionID]*Surface
}

// NewHub creates a Hub. recorder may be nil.
func NewHub(logger *zap.Logger, recorder Recorder) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Hub{
		logger:   logger,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
		surfaces: make(map[id.SessionID]*Surface),
	}
}

// Surface creates the surface of sess. It is meant to be used as the
// session presenter factory.
func (h *Hub) Surface(sess *session.Session) session.Presenter {
	s := &Surface{
		hub:    h,
		sess:   sess,
		logger: h.logger.With(zap.String("session", sess.ID().String())),
	}

	h.mu.Lock()
	h.surfaces[sess.ID()] = s
	h.mu.Unlock()
	return s
}

// Lookup returns the surface of session sid.
func (h *Hub) Lookup(sid id.SessionID) (*Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[sid]
	return s, ok
}

// Len returns the number of live surfaces.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.surfaces)
}

// Connected returns the number of surfaces with a connected client.
func (h *Hub) Connected() int {
	h.mu.Lock()
	surfaces := make([]*Surface, 0, len(h.surfaces))
	for _, s := range h.surfaces {
		surfaces = append(surfaces, s)
	}
	h.mu.Unlock()

	n := 0
	for _, s := range surfaces {
		if s.Connected() {
			n++
		}
	}
	return n
}

func (h *Hub) remove(s *Surface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sid := s.sess.ID()
	if h.surfaces[sid] == s {
		delete(h.surfaces, sid)
	}
}

// ServeSession upgrades the request and runs the surface stream of sess
// until the client goes away or the session is disposed.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s, ok := h.Lookup(sess.ID())
	if !ok {
		http.Error(w, "preview closed", http.StatusGone)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c, err := s.connect(conn)
	if err != nil {
		conn.Close()
		return
	}
	h.recorder.IncWSConnections()
	defer h.recorder.DecWSConnections()
	defer s.disconnect(c)

	s.logger.Debug("Surface connected", zap.String("client", c.id), zap.String("remote", r.RemoteAddr))
	s.sync(r)
	s.readLoop(conn)
	s.logger.Debug("Surface disconnected", zap.String("client", c.id))
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
