package http

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
)

//go:embed templates/shell.html
var templates embed.FS

var shellTemplate = template.Must(template.ParseFS(templates, "templates/shell.html"))

type shellData struct {
	Title         string
	DocumentTitle string
	Status        string
	SessionID     string
	StreamPath    string
}

func renderShell(sess *session.Session) ([]byte, error) {
	snap := sess.Snapshot()
	status := snap.Status
	if status == "" {
		status = session.StatusLoading
	}

	var buf bytes.Buffer
	err := shellTemplate.Execute(&buf, shellData{
		Title:         snap.Title,
		DocumentTitle: snap.DocumentTitle,
		Status:        status,
		SessionID:     snap.ID,
		StreamPath:    previewPath(sess) + "stream",
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func previewPath(sess *session.Session) string {
	return "/preview/" + sess.ID().String() + "/"
}
