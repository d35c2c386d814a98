package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/widget"
)

// screen serializes output from the input loop and delivery goroutines.
type screen struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out}
}

func (s *screen) header(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "== %s ==\n", name)
}

func (s *screen) notice(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "! %s\n", msg)
}

// draw prints the view unless it is identical to the previous one.
func (s *screen) draw(entries []widget.Entry) {
	text := formatView(entries)
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.last {
		return
	}
	s.last = text
	fmt.Fprint(s.out, text)
}

func formatView(entries []widget.Entry) string {
	var b strings.Builder
	b.WriteString("----\n")
	for _, e := range entries {
		who := "you"
		if e.Sender == model.SenderAgent {
			who = "agent"
		}
		content := strings.ReplaceAll(e.Content, "\n", "\n    ")
		fmt.Fprintf(&b, "%s %s: %s", e.CreatedAt.Local().Format("15:04"), who, content)
		if e.Status == widget.StatusFailed {
			b.WriteString(" (not delivered)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
