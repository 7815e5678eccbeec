// Package audit writes per-session NDJSON conversation logs for
// operators. Logging is asynchronous and lossy under pressure: a full
// queue drops events rather than blocking the gateway.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds written to the audit log.
const (
	KindUserMessage    = "user_message"
	KindAssistantReply = "assistant_reply"
	KindToolCall       = "tool_call"
	KindFallback       = "fallback"
	KindProfileInit    = "profile_init"
)

// Event is one NDJSON line in a session's conversation log.
type Event struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Config controls the audit logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger appends events to <dir>/<session_id>.ndjson. A nil or disabled
// logger accepts events and discards them.
type Logger struct {
	dir     string
	queue   chan Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// New creates an audit logger. When cfg.Enabled is false the returned
// logger is a no-op.
func New(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{}, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &Logger{
		dir:   cfg.Dir,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. It never blocks; events are dropped when the
// queue is full or the logger is disabled or closed.
func (l *Logger) Log(ev Event) {
	if l == nil || l.queue == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to queue pressure.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains the queue and stops the writer goroutine.
func (l *Logger) Close() error {
	if l == nil || l.queue == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	if n := l.dropped.Load(); n > 0 {
		slog.Warn("Audit logger dropped events", "count", n)
	}
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			slog.Warn("Failed to write audit event", "session_id", ev.SessionID, "error", err)
		}
	}
}

func (l *Logger) write(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	path := filepath.Join(l.dir, ev.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
