// package errdefs defines the error kinds shared across the emissary
// subsystems. Every error carries the trace ID of the flow that produced it
// so operators can correlate failures against structured logs.
package errdefs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record cannot be located.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed entity construction: a bad trace ID,
// missing required parameter keys, an unknown tool name, or an inconsistent
// status/error_message pairing. It is fatal to the single construction
// attempt and never retried.
type ValidationError struct {
	Message string
	Field   string
	TraceID string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.TraceID != "" {
		msg = fmt.Sprintf("%s (trace_id=%s)", msg, e.TraceID)
	}
	return msg
}

// ExternalIntegrationError reports a transport-level failure: network error,
// non-success HTTP status, or file I/O error. Endpoint identifies the URL,
// file path or directory involved; StatusCode is zero when not applicable.
type ExternalIntegrationError struct {
	Message    string
	Endpoint   string
	StatusCode int
	TraceID    string
	Err        error
}

func (e *ExternalIntegrationError) Error() string {
	msg := e.Message
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (endpoint=%s)", msg, e.Endpoint)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
	}
	if e.TraceID != "" {
		msg = fmt.Sprintf("%s (trace_id=%s)", msg, e.TraceID)
	}
	return msg
}

func (e *ExternalIntegrationError) Unwrap() error { return e.Err }

// ToolExecutionError reports a remediation tool failure. The transport core
// never raises it directly; it is the upstream error a ToolResult with
// status "failure" corresponds to.
type ToolExecutionError struct {
	Message   string
	ToolName  string
	CommandID string
	TraceID   string
	Err       error
}

func (e *ToolExecutionError) Error() string {
	msg := fmt.Sprintf("%s (tool=%s)", e.Message, e.ToolName)
	if e.CommandID != "" {
		msg = fmt.Sprintf("%s (command_id=%s)", msg, e.CommandID)
	}
	if e.TraceID != "" {
		msg = fmt.Sprintf("%s (trace_id=%s)", msg, e.TraceID)
	}
	return msg
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
