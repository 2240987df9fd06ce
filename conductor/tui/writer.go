//go:build windows

package tui

import "strings"

// ChannelWriter adapts a conductor's *log.Logger output into a channel
// of lines a Model can render, so the TUI shows exactly the log lines
// the conductor would otherwise print to stderr.
type ChannelWriter struct {
	lines chan string
}

// NewChannelWriter returns a ChannelWriter buffering up to capacity
// lines; once the buffer is full, each new line is dropped rather than
// blocking the conductor's log pump, and the buffered lines are kept.
func NewChannelWriter(capacity int) *ChannelWriter {
	return &ChannelWriter{lines: make(chan string, capacity)}
}

// Write implements io.Writer.
func (w *ChannelWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	select {
	case w.lines <- line:
	default:
		// the view isn't keeping up; drop the line rather than stall
		// the conductor's logging call site.
	}
	return len(p), nil
}

// Lines returns the channel Model reads rendered lines from.
func (w *ChannelWriter) Lines() chan string { return w.lines }
