package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/tracectx"
)

// FileTransport exchanges documents through a pair of directories: published
// messages are written to the output directory as message_<trace_id>.json,
// and commands are consumed from *.json files in the input directory.
// Naming by trace ID is the sole collision-avoidance mechanism; no locking
// is performed.
type FileTransport struct {
	outputDir string
	inputDir  string
	logger    *slog.Logger
}

// NewFileTransport returns a file-backed transport and ensures both
// directories exist.
func NewFileTransport(outputDir, inputDir string, logger *slog.Logger) *FileTransport {
	if logger == nil {
		logger = slog.Default()
	}
	_ = os.MkdirAll(outputDir, 0o755)
	_ = os.MkdirAll(inputDir, 0o755)
	return &FileTransport{outputDir: outputDir, inputDir: inputDir, logger: logger}
}

// Publish serializes msg to message_<trace_id>.json in the output directory.
// A write failure surfaces as *errdefs.ExternalIntegrationError with the
// file path as endpoint.
func (t *FileTransport) Publish(ctx context.Context, msg *model.Message) (bool, error) {
	ctx, flowID := tracectx.Ensure(ctx)

	m := *msg
	if m.TraceID == "" {
		m.TraceID = flowID.String()
	}

	path := filepath.Join(t.outputDir, fmt.Sprintf("message_%s.json", m.TraceID))

	b, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return false, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("marshal message: %v", err),
			Endpoint: path,
			TraceID:  tracectx.Current(ctx),
			Err:      err,
		}
	}

	_ = os.MkdirAll(t.outputDir, 0o755)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return false, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("write message file: %v", err),
			Endpoint: path,
			TraceID:  tracectx.Current(ctx),
			Err:      err,
		}
	}

	t.logger.Info("published message to file",
		"path", path,
		"severity", m.Severity,
		"category", m.Category,
		tracectx.Attr(ctx))
	return true, nil
}

// Consume parses every *.json document in the input directory, in directory
// listing order. Unreadable or malformed files are logged and skipped; they
// are neither retried nor deleted. A directory-level read failure surfaces
// as *errdefs.ExternalIntegrationError with the directory as endpoint.
func (t *FileTransport) Consume(ctx context.Context) ([]*model.RemediationCommand, error) {
	ctx, _ = tracectx.Ensure(ctx)

	entries, err := os.ReadDir(t.inputDir)
	if err != nil {
		return nil, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("read command directory: %v", err),
			Endpoint: t.inputDir,
			TraceID:  tracectx.Current(ctx),
			Err:      err,
		}
	}

	var cmds []*model.RemediationCommand
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(t.inputDir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			t.logger.Warn("skipping unreadable command file",
				"path", path, "error", err, tracectx.Attr(ctx))
			continue
		}
		cmd, err := model.ParseCommand(ctx, data)
		if err != nil {
			t.logger.Warn("skipping malformed command file",
				"path", path, "error", err, tracectx.Attr(ctx))
			continue
		}

		t.logger.Info("consumed command from file",
			"path", path,
			"command_id", cmd.CommandID.String(),
			"error_type", string(cmd.ErrorType),
			tracectx.Attr(ctx))
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
