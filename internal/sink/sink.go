// Package sink delivers each tick's decisions to external consumers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/abelbrown/citysense/internal/correlate"
	"github.com/abelbrown/citysense/internal/logging"
)

// DecisionSink receives the ranked decisions of one tick. Publishing
// is fire-and-forget from the coordinator's point of view: a failed
// batch is counted and never retried.
type DecisionSink interface {
	Publish(ctx context.Context, tick int64, decisions []correlate.Decision) error
}

// SinkFailure reports a sink that could not accept a batch.
type SinkFailure struct {
	Sink string
	Err  error
}

func (e *SinkFailure) Error() string {
	return fmt.Sprintf("sink %s failed: %v", e.Sink, e.Err)
}

func (e *SinkFailure) Unwrap() error { return e.Err }

// LogSink writes each decision as one structured log line.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, tick int64, decisions []correlate.Decision) error {
	for _, d := range decisions {
		logging.Info("decision",
			"tick", tick,
			"entity", d.Entity.ID,
			"action", d.Action,
			"priority", d.Priority,
			"rules", strings.Join(d.Rules, ","),
		)
	}
	return nil
}

// JSONLSink appends decisions to a file, one JSON object per line.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func NewJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Publish(ctx context.Context, tick int64, decisions []correlate.Decision) error {
	if err := ctx.Err(); err != nil {
		return &SinkFailure{Sink: "jsonl", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range decisions {
		if err := s.enc.Encode(d); err != nil {
			return &SinkFailure{Sink: "jsonl", Err: err}
		}
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Batch is one published tick.
type Batch struct {
	Tick      int64
	Decisions []correlate.Decision
}

// MemorySink retains every published batch. Intended for tests.
type MemorySink struct {
	mu      sync.Mutex
	batches []Batch
}

func NewMemory() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, tick int64, decisions []correlate.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, Batch{
		Tick:      tick,
		Decisions: append([]correlate.Decision(nil), decisions...),
	})
	return nil
}

// Batches returns a copy of everything published so far.
func (s *MemorySink) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches...)
}

// Decisions flattens all published batches in publish order.
func (s *MemorySink) Decisions() []correlate.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []correlate.Decision
	for _, b := range s.batches {
		out = append(out, b.Decisions...)
	}
	return out
}

// Multi fans a batch out to several sinks. Every sink is attempted
// even after a failure; the first error is returned.
type Multi []DecisionSink

func (m Multi) Publish(ctx context.Context, tick int64, decisions []correlate.Decision) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, tick, decisions); err != nil && first == nil {
			first = err
		}
	}
	return first
}
