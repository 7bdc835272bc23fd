package mocklogger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// MockHandler is a slog.Handler that records every log record so tests
// can assert on what a component logged.
type MockHandler struct {
	mu sync.Mutex

	LoggedMessages []string
	LoggedLevels   []slog.Level
}

// Enabled implements slog.Handler.
func (h *MockHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (h *MockHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LoggedMessages = append(h.LoggedMessages, r.Message)
	h.LoggedLevels = append(h.LoggedLevels, r.Level)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *MockHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *MockHandler) WithGroup(_ string) slog.Handler {
	return h
}

// Contains reports whether any recorded message contains the substring.
func (h *MockHandler) Contains(substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.LoggedMessages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// CountLevel returns how many records were logged at the given level.
func (h *MockHandler) CountLevel(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.LoggedLevels {
		if l == level {
			n++
		}
	}
	return n
}

// NewMockLogger returns a logger backed by a fresh MockHandler and the
// handler itself for assertions.
func NewMockLogger() (*slog.Logger, *MockHandler) {
	handler := &MockHandler{}
	return slog.New(handler), handler
}
