// Package console buffers and triages browser console output per session.
package console

import (
	"strings"
	"sync"
	"time"
)

// Levels in ascending severity. Anything the browser emits maps onto these
// four; unknown inputs read as info.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

var levelRank = map[string]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Rank returns the severity order of a level, treating unknown levels as info.
func Rank(level string) int {
	if r, ok := levelRank[strings.ToLower(level)]; ok {
		return r
	}
	return levelRank[LevelInfo]
}

// Message is one captured console entry.
type Message struct {
	Level  string    `json:"level"`
	Method string    `json:"method"`           // console API method: log, error, warn, ...
	Text   string    `json:"text"`
	Source string    `json:"source,omitempty"` // script URL when the call site is known
	Line   int       `json:"line,omitempty"`
	At     time.Time `json:"at"`
}

// Health summarizes a session's console activity since the last Clear.
type Health struct {
	ErrorCount   int    `json:"error_count"`
	WarningCount int    `json:"warning_count"`
	Status       string `json:"status"` // healthy, degraded, unhealthy
}

// Buffer is a bounded per-session message store. Messages below the minimum
// level are counted but not retained; retained messages evict oldest-first
// once the cap is reached.
type Buffer struct {
	mu       sync.Mutex
	limit    int
	minRank  int
	messages []Message
	dropped  int
	errors   int
	warnings int
}

// New creates a buffer holding at most limit messages at or above minLevel.
func New(limit int, minLevel string) *Buffer {
	if limit <= 0 {
		limit = 500
	}
	return &Buffer{
		limit:   limit,
		minRank: Rank(minLevel),
	}
}

// Append records a message. Severity counters always advance; retention
// honors the minimum level and the cap. Returns whether the message was
// retained.
func (b *Buffer) Append(msg Message) bool {
	if msg.Level == "" {
		msg.Level = LevelFor(msg.Method, msg.Text)
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch Rank(msg.Level) {
	case levelRank[LevelError]:
		b.errors++
	case levelRank[LevelWarning]:
		b.warnings++
	}

	if Rank(msg.Level) < b.minRank {
		return false
	}

	b.messages = append(b.messages, msg)
	if len(b.messages) > b.limit {
		over := len(b.messages) - b.limit
		copy(b.messages, b.messages[over:])
		b.messages = b.messages[:b.limit]
		b.dropped += over
	}
	return true
}

// Messages returns retained messages at or above level, oldest first, capped
// at limit entries from the newest end. Empty level means everything
// retained; limit <= 0 means no cap.
func (b *Buffer) Messages(level string, limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	min := 0
	if level != "" {
		min = Rank(level)
	}
	out := make([]Message, 0, len(b.messages))
	for _, m := range b.messages {
		if Rank(m.Level) >= min {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of retained messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Dropped returns how many retained messages the cap has evicted.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Summarize rolls the severity counters into a health status.
func (b *Buffer) Summarize() Health {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := Health{
		ErrorCount:   b.errors,
		WarningCount: b.warnings,
		Status:       "healthy",
	}
	if h.ErrorCount > 5 {
		h.Status = "unhealthy"
	} else if h.ErrorCount > 0 || h.WarningCount > 10 {
		h.Status = "degraded"
	}
	return h
}

// Clear wipes retained messages and severity counters. Called on navigation
// when the old document's output stops being relevant.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	b.dropped = 0
	b.errors = 0
	b.warnings = 0
}

// LevelFor maps a console API method to a level, falling back to message
// content for the plain methods where the call site carries no severity.
func LevelFor(method, text string) string {
	switch strings.ToLower(method) {
	case "error", "assert":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "debug", "verbose", "trace":
		return LevelDebug
	}
	return inferLevel(text)
}

// inferLevel guesses severity from message content, for console.log calls
// that carry error text without using console.error.
func inferLevel(text string) string {
	msg := strings.ToLower(text)

	errorPatterns := []string{
		"uncaught", "unhandled", "exception", "error", "failed", "failure",
		"fatal", "crash", "refused", "denied", "timeout",
		"typeerror", "referenceerror", "syntaxerror",
	}
	for _, p := range errorPatterns {
		if strings.Contains(msg, p) {
			return LevelError
		}
	}

	warningPatterns := []string{
		"warning", "warn", "deprecated", "slow", "retry",
		"fallback", "degraded", "skipping", "missing",
	}
	for _, p := range warningPatterns {
		if strings.Contains(msg, p) {
			return LevelWarning
		}
	}

	return LevelInfo
}
