package model

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/tracectx"
)

// Known tool names. The first three mutate instance state and may appear in
// a command's execution_order; the last two are the transport-facing tools.
const (
	ToolIrisConfig       = "iris_config"
	ToolOSConfig         = "os_config"
	ToolIrisRestart      = "iris_restart"
	ToolMessagePublisher = "message_publisher"
	ToolCommandConsumer  = "command_consumer"
)

var knownTools = map[string]bool{
	ToolIrisConfig:       true,
	ToolOSConfig:         true,
	ToolIrisRestart:      true,
	ToolMessagePublisher: true,
	ToolCommandConsumer:  true,
}

// Status is the outcome classification shared by tool results and workflow
// traces.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// ChangeDetail records one applied parameter change. OldValue is nil when
// the parameter did not previously exist.
type ChangeDetail struct {
	Parameter string `json:"parameter"`
	OldValue  any    `json:"old_value"`
	NewValue  any    `json:"new_value"`
	Validated bool   `json:"validated"`
}

// ToolResult is the outcome record of one tool invocation. It is created
// once, validated, and appended to exactly one WorkflowTrace.
type ToolResult struct {
	ToolName        string                  `json:"tool_name"`
	CommandID       uuid.UUID               `json:"command_id"`
	Status          Status                  `json:"status"`
	ExecutionTimeMS int64                   `json:"execution_time_ms"`
	ChangesApplied  map[string]ChangeDetail `json:"changes_applied"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	RequiresUser    bool                    `json:"requires_user_action"`
	RollbackAvail   bool                    `json:"rollback_available"`
	TraceID         string                  `json:"trace_id,omitempty"`
}

// NewToolResult fills the trace ID from the active flow and validates the
// result before it becomes observable.
func NewToolResult(ctx context.Context, r ToolResult) (*ToolResult, error) {
	if r.TraceID == "" {
		r.TraceID = tracectx.Current(ctx)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate enforces the result invariants, in particular the cross-field
// rule that error_message is present if and only if status is failure.
func (r *ToolResult) Validate() error {
	fail := func(msg, field string) error {
		return &errdefs.ValidationError{Message: msg, Field: field, TraceID: r.TraceID}
	}

	if !knownTools[r.ToolName] {
		return fail(fmt.Sprintf("invalid tool name %q", r.ToolName), "tool_name")
	}
	if r.CommandID == uuid.Nil {
		return fail("command_id is required", "command_id")
	}
	switch r.Status {
	case StatusSuccess, StatusFailure, StatusPartial:
	default:
		return fail(fmt.Sprintf("invalid status %q", r.Status), "status")
	}
	if r.ExecutionTimeMS < 0 || r.ExecutionTimeMS > 60000 {
		return fail(fmt.Sprintf("execution_time_ms must be in [0,60000], got %d", r.ExecutionTimeMS), "execution_time_ms")
	}
	if r.Status == StatusFailure && r.ErrorMessage == "" {
		return fail("error_message is required when status=failure", "error_message")
	}
	if r.Status != StatusFailure && r.ErrorMessage != "" {
		return fail("error_message must be empty unless status=failure", "error_message")
	}
	if len(r.ErrorMessage) > 500 {
		return fail(fmt.Sprintf("error_message must be at most 500 characters, got %d", len(r.ErrorMessage)), "error_message")
	}
	if r.TraceID != "" {
		if _, err := tracectx.Parse(r.TraceID); err != nil {
			return err
		}
	}
	return nil
}
