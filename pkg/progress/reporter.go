// Package progress prints per-instance crawl progress and the final
// summary for a human watching the run.
package progress

import (
	"fmt"
	"io"
	"sync"

	"blockgraph/pkg/types"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor  = lipgloss.Color("#50FA7B") // Green
	warningColor = lipgloss.Color("#FFB86C") // Orange
	mutedColor   = lipgloss.Color("#6272A4") // Comment
	fgColor      = lipgloss.Color("#F8F8F2") // Foreground
)

// Reporter writes progress lines to an output stream. Colours are dropped
// automatically when the stream is not a terminal.
type Reporter struct {
	mu  sync.Mutex
	out io.Writer

	counterStyle lipgloss.Style
	foundStyle   lipgloss.Style
	missStyle    lipgloss.Style
	nameStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
}

// NewReporter creates a reporter writing to out
func NewReporter(out io.Writer) *Reporter {
	r := lipgloss.NewRenderer(out)

	return &Reporter{
		out:          out,
		counterStyle: r.NewStyle().Foreground(mutedColor),
		foundStyle:   r.NewStyle().Foreground(accentColor),
		missStyle:    r.NewStyle().Foreground(warningColor),
		nameStyle:    r.NewStyle().Foreground(fgColor).Bold(true),
		mutedStyle:   r.NewStyle().Foreground(mutedColor).Italic(true),
	}
}

// Outcome prints one line for a finished fetch. done counts the outcomes
// seen so far including this one.
func (p *Reporter) Outcome(done, total int, o types.FetchOutcome) {
	counter := p.counterStyle.Render(fmt.Sprintf("[%5d/%5d]", done, total))
	name := p.nameStyle.Render(o.Source)

	var line string
	if o.Kind == types.OutcomePublished {
		visibility := "private"
		if o.Public {
			visibility = "public"
		}
		line = fmt.Sprintf("%s %s %s %s",
			counter,
			p.foundStyle.Render(fmt.Sprintf("found %d moderations for", len(o.Entries))),
			name,
			p.mutedStyle.Render("("+visibility+")"))
	} else {
		line = fmt.Sprintf("%s %s %s %s",
			counter,
			p.missStyle.Render("no moderations for"),
			name,
			p.mutedStyle.Render("("+reason(o)+")"))
	}

	p.println(line)
}

// Roster prints how many instances the directory returned
func (p *Reporter) Roster(n int) {
	p.println(fmt.Sprintf("found %d instances", n))
}

// Summary prints the node and edge totals
func (p *Reporter) Summary(nodes, edges int) {
	p.println(fmt.Sprintf("found %d nodes and %d edges", nodes, edges))
}

// Wrote reports where the graph was written
func (p *Reporter) Wrote(path string) {
	p.println("wrote graph data to " + path)
}

// Published reports the uploaded object location
func (p *Reporter) Published(location string) {
	p.println("published graph data to " + location)
}

func (p *Reporter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func reason(o types.FetchOutcome) string {
	if o.Err == nil {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %v", o.Kind, o.Err)
}
