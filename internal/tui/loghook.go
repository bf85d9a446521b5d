package tui

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LogHook captures daemon log lines for the console. Entries that record a
// connection status transition (they carry a "from" field) also signal
// Transitions so the status card refreshes without waiting for the next poll.
type LogHook struct {
	lines       chan string
	transitions chan struct{}

	mu        sync.Mutex
	formatter log.Formatter
}

// NewLogHook keeps up to bufSize unread lines; older lines are dropped first.
func NewLogHook(bufSize int) *LogHook {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &LogHook{
		lines:       make(chan string, bufSize),
		transitions: make(chan struct{}, 1),
		formatter:   &log.TextFormatter{DisableColors: true, FullTimestamp: true},
	}
}

// SetFormatter sets the formatter used to render captured lines.
func (h *LogHook) SetFormatter(f log.Formatter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formatter = f
}

func (h *LogHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *LogHook) Fire(entry *log.Entry) error {
	h.push(h.render(entry))
	if _, ok := entry.Data["from"]; ok {
		select {
		case h.transitions <- struct{}{}:
		default:
		}
	}
	return nil
}

func (h *LogHook) render(entry *log.Entry) string {
	h.mu.Lock()
	f := h.formatter
	h.mu.Unlock()
	if f != nil {
		if b, err := f.Format(entry); err == nil {
			return strings.TrimRight(string(b), "\r\n")
		}
	}
	return fmt.Sprintf("[%s] %s", entry.Level, entry.Message)
}

// push never blocks the logging goroutine; when the console falls behind the
// oldest line makes room.
func (h *LogHook) push(line string) {
	for i := 0; i < 2; i++ {
		select {
		case h.lines <- line:
			return
		default:
		}
		select {
		case <-h.lines:
		default:
		}
	}
}

// Chan returns the channel to read log lines from.
func (h *LogHook) Chan() <-chan string {
	return h.lines
}

// Transitions signals, coalesced, that the connection status changed.
func (h *LogHook) Transitions() <-chan struct{} {
	return h.transitions
}
