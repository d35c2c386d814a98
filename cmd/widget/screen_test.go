package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/widget"
)

func TestFormatView(t *testing.T) {
	at := time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	text := formatView([]widget.Entry{
		{ID: 1, Sender: model.SenderAgent, Content: "Welcome Ann!\n How can I assist you today?", CreatedAt: at},
		{LocalID: 1, Sender: model.SenderVisitor, Content: "hours?", CreatedAt: at, Status: widget.StatusPending},
		{LocalID: 2, Sender: model.SenderAgent, Content: widget.PendingMarker, CreatedAt: at, Status: widget.StatusFailed},
	})

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "----", lines[0])
	assert.Equal(t, "10:00 agent: Welcome Ann!", lines[1])
	assert.Equal(t, "     How can I assist you today?", lines[2])
	assert.Equal(t, "10:00 you: hours?", lines[3])
	assert.Equal(t, "10:00 agent: Thinking... (not delivered)", lines[4])
}

func TestScreenSkipsIdenticalRedraws(t *testing.T) {
	var buf bytes.Buffer
	s := newScreen(&buf)
	entries := []widget.Entry{{ID: 1, Sender: model.SenderAgent, Content: "hi"}}

	s.draw(entries)
	s.draw(entries)
	assert.Equal(t, 1, strings.Count(buf.String(), "----"))

	s.draw(append(entries, widget.Entry{ID: 2, Sender: model.SenderVisitor, Content: "hello"}))
	assert.Equal(t, 2, strings.Count(buf.String(), "----"))
}
