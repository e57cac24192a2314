package headless

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
)

// Printer writes presentation updates as console lines. Colors are used
// only when the writer is a terminal.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	title string

	levels map[bridge.Level]lipgloss.Style
	muted  lipgloss.Style
	alert  lipgloss.Style
}

var _ session.Presenter = (*Printer)(nil)

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w: w,
		levels: map[bridge.Level]lipgloss.Style{
			bridge.LevelLog:   r.NewStyle(),
			bridge.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("12")),
			bridge.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("11")),
			bridge.LevelError: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		},
		muted: r.NewStyle().Faint(true),
		alert: r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// Presenter adapts the printer to session.Options.Presenter.
func (p *Printer) Presenter(*session.Session) session.Presenter { return p }

func (p *Printer) Focus() {}

func (p *Printer) SetTitle(panel, document string) {
	title := panel
	if document != "" {
		title += " (" + document + ")"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if title == p.title {
		return
	}
	p.title = title
	p.println(p.muted.Render("== " + title))
}

func (p *Printer) SetStatus(status string) {
	if status == session.StatusLoading {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.println(p.muted.Render("-- " + status))
}

func (p *Printer) ShowDiagnostic(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.println(p.alert.Render("!! " + reason))
}

func (p *Printer) AppendLog(ev session.Event) {
	style, ok := p.levels[ev.Level]
	if !ok {
		style = p.levels[bridge.LevelLog]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.println(p.muted.Render(ev.Clock()) + " " + style.Render(fmt.Sprintf("%-5s %s", ev.Level, ev.Message)))
}

func (p *Printer) SetErrorCount(int) {}

func (p *Printer) ClearLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.println(p.muted.Render("-- console cleared"))
}

// println must be called with mu held.
func (p *Printer) println(line string) {
	fmt.Fprintln(p.w, line)
}
