package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.SessionOpened()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.SessionsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SessionsActive))
}

func TestSessionRecorder(t *testing.T) {
	m := NewMetrics()

	m.SessionOpened()
	m.RenderCompleted(true)
	m.RenderCompleted(false)
	m.ReadFailed("not_found")
	m.StaleReadDiscarded()
	m.ConsoleEvent("error")
	m.ConsoleEvent("error")
	m.SessionClosed()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renders.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renders.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadErrors.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleReads))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsoleEvents.WithLabelValues("error")))
}

func TestBridgeAndSurfaceRecorders(t *testing.T) {
	m := NewMetrics()

	m.FrameAccepted("log")
	m.FrameDropped("framing")
	m.FrameDropped("framing")
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("in", "console")
	m.RecordHeadlessRun("ok", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesAccepted.WithLabelValues("log")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("framing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("in", "console")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeadlessRuns.WithLabelValues("ok")))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/preview/:id/document", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	for _, p := range []string{"/preview/a/document", "/preview/b/document", "/nowhere"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/preview/:id/document", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ConsoleEvent("warn")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `labpreview_console_events_total{level="warn"} 1`))
	assert.Contains(t, body, "labpreview_uptime_seconds")
}
