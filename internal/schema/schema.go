// Package schema is a best-effort structural gate over externally shipped
// JSON schema documents. It checks required-field presence and a small set
// of known enums; full JSON-Schema validation is deliberately left to an
// external validator. When a schema document is missing the gate logs a
// warning and skips validation (soft-fail) unless strict mode is set.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/tracectx"
)

// Contract document file names, as deployed to the contracts directory.
const (
	MessageSchemaFile    = "message_schema.json"
	CommandSchemaFile    = "remediation_command_schema.json"
	ToolResultSchemaFile = "tool_response_schema.json"
)

// doc is the subset of a JSON schema the gate reads.
type doc struct {
	Required []string `json:"required"`
}

// Gate validates payloads against the loaded contract documents.
type Gate struct {
	logger     *slog.Logger
	message    *doc
	command    *doc
	toolResult *doc
}

// Load reads the contract documents from dir. A document that fails to load
// is logged and its checks are skipped; with strict set, the first load
// failure is returned instead.
func Load(dir string, strict bool, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{logger: logger}

	for _, entry := range []struct {
		name string
		dst  **doc
	}{
		{MessageSchemaFile, &g.message},
		{CommandSchemaFile, &g.command},
		{ToolResultSchemaFile, &g.toolResult},
	} {
		d, err := loadDoc(filepath.Join(dir, entry.name))
		if err != nil {
			if strict {
				return nil, fmt.Errorf("load schema %s: %w", entry.name, err)
			}
			logger.Warn("schema document not loaded, validation will be skipped",
				"schema", entry.name, "error", err)
			continue
		}
		*entry.dst = d
	}
	return g, nil
}

func loadDoc(path string) (*doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &d, nil
}

// ValidateMessage checks an outbound message payload.
func (g *Gate) ValidateMessage(ctx context.Context, data map[string]any) error {
	if g.message == nil {
		g.logger.Warn("message schema not loaded, skipping validation", tracectx.Attr(ctx))
		return nil
	}
	return requireFields(ctx, g.message.Required, data)
}

// ValidateCommand checks an inbound remediation command payload, including
// the error_type enum.
func (g *Gate) ValidateCommand(ctx context.Context, data map[string]any) error {
	if g.command == nil {
		g.logger.Warn("remediation command schema not loaded, skipping validation", tracectx.Attr(ctx))
		return nil
	}
	if err := requireFields(ctx, g.command.Required, data); err != nil {
		return err
	}
	if et, ok := data["error_type"]; ok {
		switch et {
		case "config", "license", "resource":
		default:
			return &errdefs.ValidationError{
				Message: fmt.Sprintf("invalid error_type: %v", et),
				Field:   "error_type",
				TraceID: tracectx.Current(ctx),
			}
		}
	}
	return nil
}

// ValidateToolResult checks a tool result payload, including the
// status/error_message pairing.
func (g *Gate) ValidateToolResult(ctx context.Context, data map[string]any) error {
	if g.toolResult == nil {
		g.logger.Warn("tool response schema not loaded, skipping validation", tracectx.Attr(ctx))
		return nil
	}
	if err := requireFields(ctx, g.toolResult.Required, data); err != nil {
		return err
	}
	status, _ := data["status"].(string)
	errMsg, _ := data["error_message"].(string)
	if status == "failure" && errMsg == "" {
		return &errdefs.ValidationError{
			Message: "error_message is required when status=failure",
			Field:   "error_message",
			TraceID: tracectx.Current(ctx),
		}
	}
	return nil
}

func requireFields(ctx context.Context, required []string, data map[string]any) error {
	for _, field := range required {
		if _, ok := data[field]; !ok {
			return &errdefs.ValidationError{
				Message: fmt.Sprintf("missing required field: %s", field),
				Field:   field,
				TraceID: tracectx.Current(ctx),
			}
		}
	}
	return nil
}
