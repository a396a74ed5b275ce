package accessgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// DecisionRecord is the append-only audit form of one authorization
// evaluation. Exactly one record is produced per Authorize call,
// including early denies where no policy rule was ever consulted.
// Records name only stable category codes; attribute values that led to
// a predicate denial never appear here.
type DecisionRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	PrincipalID  string    `json:"principal_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	Action       string    `json:"action"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Allow        bool      `json:"allow"`
	Reason       string    `json:"reason,omitempty"`
	Rule         string    `json:"rule,omitempty"`
	IP           string    `json:"ip,omitempty"`
}

// DecisionSink receives decision records from the engine's dispatcher.
// Implementations must not block indefinitely; slow sinks cost buffered
// records, never authorization latency.
type DecisionSink interface {
	Emit(ctx context.Context, record DecisionRecord)
}

// NoOpSink discards every record.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, DecisionRecord) {}

// ChannelSink exposes records on a channel for in-process consumers.
type ChannelSink struct {
	records chan DecisionRecord
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		records: make(chan DecisionRecord, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, record DecisionRecord) {
	select {
	case s.records <- record:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Records() <-chan DecisionRecord {
	return s.records
}

// JSONWriterSink appends one JSON line per record to the given writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, record DecisionRecord) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
