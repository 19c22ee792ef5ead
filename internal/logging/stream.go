// Package logging configures slog for the service and keeps the most recent
// records in memory for the /api/system/logs endpoint.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log record
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer stores the most recent entries
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int

	subMu       sync.RWMutex
	subscribers map[chan Entry]struct{}
}

// NewRingBuffer creates a ring buffer holding up to size entries
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		entries:     make([]Entry, size),
		size:        size,
		subscribers: make(map[chan Entry]struct{}),
	}
}

// Add appends an entry, evicting the oldest when full
func (rb *RingBuffer) Add(entry Entry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
			// slow subscriber
		}
	}
	rb.subMu.RUnlock()
}

// Recent returns up to n entries, oldest first
func (rb *RingBuffer) Recent(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count || n <= 0 {
		n = rb.count
	}

	result := make([]Entry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Subscribe returns a channel receiving new entries
func (rb *RingBuffer) Subscribe() chan Entry {
	ch := make(chan Entry, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = struct{}{}
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (rb *RingBuffer) Unsubscribe(ch chan Entry) {
	rb.subMu.Lock()
	if _, ok := rb.subscribers[ch]; ok {
		delete(rb.subscribers, ch)
		close(ch)
	}
	rb.subMu.Unlock()
}

// StreamHandler tees records into a RingBuffer and an underlying handler
type StreamHandler struct {
	buffer *RingBuffer
	next   slog.Handler
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
}

// NewStreamHandler wraps next. level is consulted on every record, so a
// *slog.LevelVar can be changed at runtime.
func NewStreamHandler(buffer *RingBuffer, next slog.Handler, level slog.Leveler) *StreamHandler {
	return &StreamHandler{
		buffer: buffer,
		next:   next,
		level:  level,
	}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	collect := func(a slog.Attr) {
		if a.Key == "component" {
			component = a.Value.String()
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		attrs[key] = a.Value.Any()
	}

	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	entry := Entry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
	}
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.buffer.Add(entry)

	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &StreamHandler{
		buffer: h.buffer,
		next:   h.next.WithAttrs(attrs),
		level:  h.level,
		attrs:  merged,
		group:  h.group,
	}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &StreamHandler{
		buffer: h.buffer,
		next:   h.next.WithGroup(name),
		level:  h.level,
		attrs:  h.attrs,
		group:  group,
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the process logger: JSON (or text) to w, every record also
// captured in buffer. The returned LevelVar adjusts the level at runtime.
func Setup(w io.Writer, format, level string, buffer *RingBuffer) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))

	opts := &slog.HandlerOptions{Level: lv}
	var next slog.Handler
	if strings.EqualFold(format, "text") {
		next = slog.NewTextHandler(w, opts)
	} else {
		next = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(NewStreamHandler(buffer, next, lv))
	slog.SetDefault(logger)
	return logger, lv
}
