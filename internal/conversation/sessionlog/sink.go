// Package sessionlog records one line per conversation turn. Recording is fire-and-forget:
// Emit never blocks a turn and never fails it.
package sessionlog

import (
	"context"
	"sync"
	"time"

	"drivethru-orchestrator/internal/common/metrics"
)

type Record struct {
	SessionID  string    `json:"sessionId"`
	Turn       int       `json:"turn"`
	Intent     string    `json:"intent"`
	Resolution string    `json:"resolution,omitempty"`
	State      string    `json:"state"`
	Directive  string    `json:"directive"`
	Failure    string    `json:"failure,omitempty"`
	Action     string    `json:"action,omitempty"`
	Total      int64     `json:"totalCents"`
	Timestamp  time.Time `json:"timestamp"`
}

type Writer interface {
	Name() string
	Write(ctx context.Context, r Record) error
}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Sink fans records out to its writers from a single background goroutine.
type Sink struct {
	records chan Record
	writers []Writer
	logger  Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewSink(buffer int, log Logger, writers ...Writer) *Sink {
	if buffer < 1 {
		buffer = 1
	}
	s := &Sink{
		records: make(chan Record, buffer),
		writers: writers,
		logger:  log,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit queues r. It returns false if the record was dropped because the buffer is full or
// the sink is closed.
func (s *Sink) Emit(r Record) bool {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.records <- r:
		return true
	default:
		metrics.SessionLogDropped.Inc()
		return false
	}
}

// Close stops accepting records and waits for queued ones to be written, or for ctx.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.records)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for r := range s.records {
		for _, w := range s.writers {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := w.Write(ctx, r); err != nil {
				s.logger.Warn("session log write failed", map[string]interface{}{
					"writer":    w.Name(),
					"sessionId": r.SessionID,
					"turn":      r.Turn,
					"error":     err.Error(),
				})
			}
			cancel()
		}
	}
}
