package http

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/inject"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
	"github.com/kai9987kai/single-file-lab-studio/internal/shared/id"
)

// SandboxPolicy isolates a document served outside the shell the same way
// the shell's iframe does.
const SandboxPolicy = "sandbox allow-scripts allow-modals allow-forms"

// Preview dispatches everything under /preview/:id/.
func (h *Handlers) Preview(c *gin.Context) {
	sid, err := id.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
		return
	}
	sess, err := h.registry.Get(sid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
		return
	}

	switch p := c.Param("path"); p {
	case "", "/":
		h.shell(c, sess)
	case "/document":
		h.document(c, sess)
	case "/stream":
		h.hub.ServeSession(c.Writer, c.Request, sess)
	default:
		h.asset(c, sess, p)
	}
}

func (h *Handlers) shell(c *gin.Context, sess *session.Session) {
	page, err := renderShell(sess)
	if err != nil {
		h.logger.Error("Failed to render shell", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	h.gzip(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(page)
	})).ServeHTTP(c.Writer, c.Request)
}

// document serves the last delivered document for viewing outside the shell.
func (h *Handlers) document(c *gin.Context, sess *session.Session) {
	content, ok := sess.Document()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document not loaded yet"})
		return
	}
	h.sandboxed(c, []byte(content))
}

func (h *Handlers) sandboxed(c *gin.Context, content []byte) {
	h.gzip(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Security-Policy", SandboxPolicy)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(content)
	})).ServeHTTP(c.Writer, c.Request)
}

// asset serves a file from the document's directory. Paths that leave the
// directory, hidden files and directories are not found.
func (h *Handlers) asset(c *gin.Context, sess *session.Session, p string) {
	full, ok := resolveAsset(sess.Resource().Dir(), p)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	res := resource.MustNew(full)
	if res.IsHTML() {
		content, err := h.reader.Read(c.Request.Context(), res)
		if err != nil {
			re := resource.Classify(full, err)
			c.JSON(statusForKind(re.Kind), gin.H{"error": re.Reason()})
			return
		}
		h.sandboxed(c, []byte(inject.Transform(string(content))))
		return
	}

	f, err := os.Open(full)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	ctype := mime.TypeByExtension(filepath.Ext(full))
	if ctype == "" {
		if mt, err := mimetype.DetectFile(full); err == nil {
			ctype = mt.String()
		}
	}

	h.gzip(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctype != "" {
			w.Header().Set("Content-Type", ctype)
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
	})).ServeHTTP(c.Writer, c.Request)
}

func resolveAsset(dir, p string) (string, bool) {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	full := filepath.Join(dir, filepath.FromSlash(rel))
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		full = resolved
	} else {
		return "", false
	}
	if !within(dir, full) {
		return "", false
	}

	fi, err := os.Stat(full)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return full, true
}

func within(dir, full string) bool {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func statusForKind(k resource.Kind) int {
	switch k {
	case resource.KindNotFound:
		return http.StatusNotFound
	case resource.KindPermission:
		return http.StatusForbidden
	case resource.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case resource.KindNotText:
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}
