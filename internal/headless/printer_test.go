package headless

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
)

func TestPrinterAppendLog(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	at := time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)
	p.AppendLog(session.Event{Sequence: 1, Timestamp: at, Level: bridge.LevelWarn, Message: "careful"})
	p.AppendLog(session.Event{Sequence: 2, Timestamp: at, Level: bridge.LevelError, Message: "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"09:30:15 warn  careful",
		"09:30:15 error boom",
	}, lines)
}

func TestPrinterTitleOnlyOnChange(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.SetTitle("Lab Preview: lab.html", "")
	p.SetTitle("Lab Preview: lab.html", "")
	p.SetTitle("Lab Preview: lab.html", "Demo")

	assert.Equal(t, "== Lab Preview: lab.html\n== Lab Preview: lab.html (Demo)\n", buf.String())
}

func TestPrinterStatusAndDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.SetStatus(session.StatusLoading)
	p.SetStatus(session.StatusLive)
	p.ShowDiagnostic("file not found")
	p.ClearLog()
	p.SetErrorCount(3)
	p.Focus()

	out := buf.String()
	assert.NotContains(t, out, session.StatusLoading)
	assert.Contains(t, out, "-- "+session.StatusLive+"\n")
	assert.Contains(t, out, "!! file not found\n")
	assert.Contains(t, out, "-- console cleared\n")
}
