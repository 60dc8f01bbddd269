// package model contains the wire entities exchanged with the external
// consumer: outbound diagnostic messages, inbound remediation commands, and
// the per-step and aggregate audit records of their execution. Entities are
// validated on construction and treated as immutable afterwards.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/tracectx"
)

// Message is a generated diagnostic message published to the external
// consumer. Field names match the outbound wire schema verbatim.
type Message struct {
	Timestamp   string    `json:"timestamp"`
	ProcessID   int       `json:"process_id"`
	Severity    int       `json:"severity"`
	Category    string    `json:"category"`
	MessageText string    `json:"message_text"`
	GeneratedAt time.Time `json:"generated_at"`
	TraceID     string    `json:"trace_id"`
}

// NewMessage fills defaults (generated_at, trace_id from the active flow) and
// validates the message. The input is copied; the returned value is the one
// to publish.
func NewMessage(ctx context.Context, m Message) (*Message, error) {
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	if m.TraceID == "" {
		m.TraceID = tracectx.Current(ctx)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the message against the outbound wire contract.
func (m *Message) Validate() error {
	if m.Timestamp == "" {
		return &errdefs.ValidationError{Message: "timestamp is required", Field: "timestamp", TraceID: m.TraceID}
	}
	if m.Severity < 0 || m.Severity > 3 {
		return &errdefs.ValidationError{
			Message: fmt.Sprintf("severity must be in [0,3], got %d", m.Severity),
			Field:   "severity",
			TraceID: m.TraceID,
		}
	}
	if m.Category == "" {
		return &errdefs.ValidationError{Message: "category is required", Field: "category", TraceID: m.TraceID}
	}
	if m.MessageText == "" {
		return &errdefs.ValidationError{Message: "message_text is required", Field: "message_text", TraceID: m.TraceID}
	}
	if _, err := tracectx.Parse(m.TraceID); err != nil {
		return err
	}
	return nil
}
