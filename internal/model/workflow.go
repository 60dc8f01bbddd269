package model

import (
	"context"
	"time"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/tracectx"
)

// WorkflowTrace is the append-only audit record spanning all tool executions
// triggered by one remediation command. It owns a copy of the triggering
// command and every ToolResult appended to it. After Finalize it must not be
// mutated.
type WorkflowTrace struct {
	TraceID          string             `json:"trace_id"`
	InitiatedAt      time.Time          `json:"initiated_at"`
	CommandReceived  RemediationCommand `json:"command_received"`
	StepsExecuted    []ToolResult       `json:"steps_executed"`
	OverallStatus    Status             `json:"overall_status"`
	CompletionTimeMS int64              `json:"completion_time_ms"`

	finalized bool
}

// NewWorkflowTrace starts an audit record for cmd. The command is copied so
// later mutation of the caller's value cannot alter the record.
func NewWorkflowTrace(ctx context.Context, cmd *RemediationCommand) *WorkflowTrace {
	return &WorkflowTrace{
		TraceID:         tracectx.Current(ctx),
		InitiatedAt:     time.Now().UTC(),
		CommandReceived: *cmd,
	}
}

// AddStep appends a tool result to the execution history. It fails once the
// trace has been finalized.
func (w *WorkflowTrace) AddStep(r *ToolResult) error {
	if w.finalized {
		return &errdefs.ValidationError{
			Message: "workflow trace already finalized",
			TraceID: w.TraceID,
		}
	}
	w.StepsExecuted = append(w.StepsExecuted, *r)
	return nil
}

// CalculateOverallStatus folds the step statuses into the aggregate
// disposition. It is recomputed on every call because steps may still be
// arriving:
//
//	no steps            -> failure
//	all success         -> success
//	any failure present -> failure
//	otherwise           -> partial
func (w *WorkflowTrace) CalculateOverallStatus() Status {
	if len(w.StepsExecuted) == 0 {
		return StatusFailure
	}
	allSuccess := true
	for _, step := range w.StepsExecuted {
		if step.Status == StatusFailure {
			return StatusFailure
		}
		if step.Status != StatusSuccess {
			allSuccess = false
		}
	}
	if allSuccess {
		return StatusSuccess
	}
	return StatusPartial
}

// Finalize seals the trace, recording the aggregate status and the total
// workflow duration.
func (w *WorkflowTrace) Finalize(elapsed time.Duration) error {
	if w.finalized {
		return &errdefs.ValidationError{
			Message: "workflow trace already finalized",
			TraceID: w.TraceID,
		}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	w.OverallStatus = w.CalculateOverallStatus()
	w.CompletionTimeMS = elapsed.Milliseconds()
	w.finalized = true
	return nil
}

// Finalized reports whether the trace has been sealed.
func (w *WorkflowTrace) Finalized() bool { return w.finalized }
