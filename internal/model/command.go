package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/tracectx"
)

// ErrorType categorizes the instance error a command remediates.
type ErrorType string

const (
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeLicense  ErrorType = "license"
	ErrorTypeResource ErrorType = "resource"
)

// requiredParams lists the parameter keys each error type must supply.
var requiredParams = map[ErrorType][]string{
	ErrorTypeConfig:   {"cpf_section", "parameter", "new_value"},
	ErrorTypeResource: {"kernel_param", "new_value"},
	ErrorTypeLicense:  {"action"},
}

// executionTools is the closed set of tool names a command may order.
var executionTools = map[string]bool{
	ToolIrisConfig:  true,
	ToolOSConfig:    true,
	ToolIrisRestart: true,
}

// RemediationCommand is an externally issued instruction describing a
// corrective action. It is validated on intake and consumed exactly once by
// the orchestrator.
type RemediationCommand struct {
	CommandID         uuid.UUID      `json:"command_id"`
	ErrorType         ErrorType      `json:"error_type"`
	Severity          int            `json:"severity"`
	RecommendedAction string         `json:"recommended_action"`
	Parameters        map[string]any `json:"parameters"`
	RequiresRestart   bool           `json:"requires_restart"`
	ExecutionOrder    []string       `json:"execution_order"`
	DryRun            bool           `json:"dry_run"`
	TimeoutSeconds    int            `json:"timeout_seconds"`
	TraceID           string         `json:"trace_id,omitempty"`
}

// commandDoc shadows the numeric fields with pointers so an absent field
// is distinguishable from an explicit zero. Defaults apply only on true
// absence; an explicit out-of-range value must fail validation.
type commandDoc struct {
	RemediationCommand
	Severity       *int `json:"severity"`
	TimeoutSeconds *int `json:"timeout_seconds"`
}

// ParseCommand decodes a single command document, fills defaults
// (command_id, timeout, trace_id from the active flow) and validates it.
func ParseCommand(ctx context.Context, data []byte) (*RemediationCommand, error) {
	var doc commandDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &errdefs.ValidationError{
			Message: fmt.Sprintf("decode remediation command: %v", err),
			TraceID: tracectx.Current(ctx),
		}
	}
	cmd := doc.RemediationCommand
	if doc.Severity == nil {
		return nil, &errdefs.ValidationError{
			Message: "severity is required",
			Field:   "severity",
			TraceID: tracectx.Current(ctx),
		}
	}
	cmd.Severity = *doc.Severity
	if doc.TimeoutSeconds == nil {
		cmd.TimeoutSeconds = 60
	} else {
		cmd.TimeoutSeconds = *doc.TimeoutSeconds
	}
	if cmd.CommandID == uuid.Nil {
		cmd.CommandID = uuid.New()
	}
	if cmd.TraceID == "" {
		cmd.TraceID = tracectx.Current(ctx)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// Validate enforces the command invariants, including the error-type
// dependent required parameter keys.
func (c *RemediationCommand) Validate() error {
	fail := func(msg, field string) error {
		return &errdefs.ValidationError{Message: msg, Field: field, TraceID: c.TraceID}
	}

	switch c.ErrorType {
	case ErrorTypeConfig, ErrorTypeLicense, ErrorTypeResource:
	default:
		return fail(fmt.Sprintf("invalid error_type %q", c.ErrorType), "error_type")
	}
	if c.Severity < 0 || c.Severity > 3 {
		return fail(fmt.Sprintf("severity must be in [0,3], got %d", c.Severity), "severity")
	}
	if n := len(c.RecommendedAction); n < 1 || n > 200 {
		return fail(fmt.Sprintf("recommended_action must be 1-200 characters, got %d", n), "recommended_action")
	}
	if len(c.Parameters) == 0 {
		return fail("parameters cannot be empty", "parameters")
	}
	for _, key := range requiredParams[c.ErrorType] {
		if _, ok := c.Parameters[key]; !ok {
			return fail(fmt.Sprintf("%s parameters missing required key %q", c.ErrorType, key), "parameters")
		}
	}
	for _, tool := range c.ExecutionOrder {
		if !executionTools[tool] {
			return fail(fmt.Sprintf("invalid tool name %q in execution_order", tool), "execution_order")
		}
	}
	if c.TimeoutSeconds < 10 || c.TimeoutSeconds > 300 {
		return fail(fmt.Sprintf("timeout_seconds must be in [10,300], got %d", c.TimeoutSeconds), "timeout_seconds")
	}
	if c.TraceID != "" {
		if _, err := tracectx.Parse(c.TraceID); err != nil {
			return err
		}
	}
	return nil
}
