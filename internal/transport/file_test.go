package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/tracectx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage(traceID string) *model.Message {
	return &model.Message{
		Timestamp:   "08/31/26-14:02:11:375",
		ProcessID:   4182,
		Severity:    2,
		Category:    "resource",
		MessageText: "shared memory heap exhausted",
		TraceID:     traceID,
	}
}

func commandDoc(t *testing.T) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]any{
		"command_id":         uuid.New().String(),
		"error_type":         "resource",
		"severity":           2,
		"recommended_action": "raise kernel shared memory limit",
		"parameters":         map[string]any{"kernel_param": "shmmax", "new_value": "8589934592"},
		"execution_order":    []string{"os_config"},
		"timeout_seconds":    120,
	})
	require.NoError(t, err)
	return doc
}

func TestFilePublishWritesTraceNamedDocument(t *testing.T) {
	outDir := t.TempDir()
	ft := NewFileTransport(outDir, t.TempDir(), testLogger())

	traceID := strings.Repeat("a", 32)
	ok, err := ft.Publish(context.Background(), testMessage(traceID))
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(outDir, "message_"+traceID+".json"))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	for _, field := range []string{
		"timestamp", "process_id", "severity", "category",
		"message_text", "generated_at", "trace_id",
	} {
		assert.Contains(t, wire, field)
	}
	assert.Equal(t, traceID, wire["trace_id"])
}

func TestFilePublishFallsBackToFlowTraceID(t *testing.T) {
	outDir := t.TempDir()
	ft := NewFileTransport(outDir, t.TempDir(), testLogger())

	ctx, id := tracectx.Ensure(context.Background())
	ok, err := ft.Publish(ctx, testMessage(""))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(filepath.Join(outDir, "message_"+id.String()+".json"))
	require.NoError(t, err)
}

func TestFilePublishWriteFailure(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "blocked")
	// a file where the output directory should be makes MkdirAll and the
	// write fail
	require.NoError(t, os.WriteFile(outDir, []byte("x"), 0o644))

	ft := &FileTransport{outputDir: outDir, inputDir: t.TempDir(), logger: testLogger()}
	_, err := ft.Publish(context.Background(), testMessage(strings.Repeat("b", 32)))

	var ierr *errdefs.ExternalIntegrationError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Endpoint, "blocked")
}

func TestFileConsumeSkipsMalformed(t *testing.T) {
	inDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "cmd_good.json"), commandDoc(t), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "cmd_bad.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "notes.txt"), []byte("ignore me"), 0o644))

	ft := NewFileTransport(t.TempDir(), inDir, testLogger())
	cmds, err := ft.Consume(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, model.ErrorTypeResource, cmds[0].ErrorType)

	// skipped file is left in place
	_, err = os.Stat(filepath.Join(inDir, "cmd_bad.json"))
	require.NoError(t, err)
}

func TestFileConsumePreservesListingOrder(t *testing.T) {
	inDir := t.TempDir()
	for _, name := range []string{"c_03.json", "a_01.json", "b_02.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(inDir, name), commandDoc(t), 0o644))
	}

	ft := NewFileTransport(t.TempDir(), inDir, testLogger())
	cmds, err := ft.Consume(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 3)
}

func TestFileConsumeMissingDirectory(t *testing.T) {
	inDir := filepath.Join(t.TempDir(), "input")
	ft := NewFileTransport(t.TempDir(), inDir, testLogger())
	require.NoError(t, os.RemoveAll(inDir))

	_, err := ft.Consume(context.Background())
	var ierr *errdefs.ExternalIntegrationError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, inDir, ierr.Endpoint)
	assert.Len(t, ierr.TraceID, 32)
}

func TestFileConsumeEmptyDirectory(t *testing.T) {
	ft := NewFileTransport(t.TempDir(), t.TempDir(), testLogger())
	cmds, err := ft.Consume(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmds)
}
