package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/api/ws"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/watch"
	"github.com/kai9987kai/single-file-lab-studio/internal/shared/id"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	registry *session.Registry
	hub      *ws.Hub
	watcher  *watch.Watcher
	reader   resource.Reader
	logger   *zap.Logger
	gzip     func(http.Handler) http.HandlerFunc
	started  time.Time
}

// NewHandlers creates a new handler set. watcher may be nil, in which case
// save notifications are rejected.
func NewHandlers(
	registry *session.Registry,
	hub *ws.Hub,
	watcher *watch.Watcher,
	reader resource.Reader,
	logger *zap.Logger,
) (*Handlers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reader == nil {
		reader = resource.NewFileReader(resource.DefaultMaxBytes)
	}
	gz, err := gzhttp.NewWrapper()
	if err != nil {
		return nil, err
	}
	return &Handlers{
		registry: registry,
		hub:      hub,
		watcher:  watcher,
		reader:   reader,
		logger:   logger,
		gzip:     gz,
		started:  time.Now(),
	}, nil
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/preview/:id/*path", h.Preview)

	api := r.Group("/api")
	api.GET("/session", h.Session)
	api.DELETE("/session", h.CloseSession)
	api.POST("/preview", h.ShowPreview)
	api.POST("/refresh", h.Refresh)
	api.POST("/clear", h.Clear)
	api.POST("/saved", h.Saved)
}

// Root redirects to the live preview
func (h *Handlers) Root(c *gin.Context) {
	sess, err := h.registry.Current()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, previewPath(sess))
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"surfaces": h.hub.Connected(),
	}
	if sess, err := h.registry.Current(); err == nil {
		resp["session"] = gin.H{
			"id":       sess.ID().String(),
			"resource": sess.Resource().Path,
			"state":    sess.State(),
		}
	}
	if h.watcher != nil {
		resp["watches"] = h.watcher.Active()
	}
	c.JSON(http.StatusOK, resp)
}

type pathRequest struct {
	Path string `json:"path" binding:"required"`
}

// ShowPreview opens a document, or focuses it when it is already shown
func (h *Handlers) ShowPreview(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	res, err := resource.New(req.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.registry.Show(c.Request.Context(), res)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotHTML) {
			status = http.StatusUnsupportedMediaType
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":     previewPath(sess),
		"session": sess.Snapshot(),
	})
}

// Session returns a snapshot of the live session
func (h *Handlers) Session(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// CloseSession disposes the live session. An id query parameter, when
// present, must name it.
func (h *Handlers) CloseSession(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	sess.Dispose()
	c.Status(http.StatusNoContent)
}

// Refresh re-reads the document of the live session
func (h *Handlers) Refresh(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	if err := sess.Refresh(); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": session.StatusLoading})
}

// Clear empties the visible console log of the live session
func (h *Handlers) Clear(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	if err := sess.ClearLog(); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Saved handles an explicit save notification from an editor
func (h *Handlers) Saved(c *gin.Context) {
	if h.watcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watching is disabled"})
		return
	}

	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	n := h.watcher.NotifySaved(req.Path)
	c.JSON(http.StatusOK, gin.H{"notified": n})
}

// current resolves the live session, honouring an optional id query
// parameter, and writes the error response itself.
func (h *Handlers) current(c *gin.Context) (*session.Session, bool) {
	var (
		sess *session.Session
		err  error
	)
	if raw := c.Query("id"); raw != "" {
		sid, perr := id.ParseSessionID(raw)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return nil, false
		}
		sess, err = h.registry.Get(sid)
	} else {
		sess, err = h.registry.Current()
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return sess, true
}
