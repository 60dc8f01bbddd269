package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/tracectx"
)

// FileStore is a simple file-backed store for dev/testing. Each finalized
// trace is archived as workflow_<trace_id>.json.
type FileStore struct {
	dir string
}

// NewFileStore returns a new FileStore and ensures the archive directory
// exists.
func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0o755)
	return &FileStore{dir: dir}
}

func (f *FileStore) Ping(ctx context.Context) error { return nil }

// InsertTrace writes the trace JSON to the archive directory.
func (f *FileStore) InsertTrace(ctx context.Context, w *model.WorkflowTrace) error {
	if _, err := tracectx.Parse(w.TraceID); err != nil {
		return err
	}
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workflow trace: %w", err)
	}
	path := filepath.Join(f.dir, fmt.Sprintf("workflow_%s.json", w.TraceID))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write workflow trace: %w", err)
	}
	return nil
}

// GetTrace loads a stored trace by its trace ID.
func (f *FileStore) GetTrace(ctx context.Context, traceID string) (*model.WorkflowTrace, error) {
	if _, err := tracectx.Parse(traceID); err != nil {
		return nil, err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("workflow_%s.json", traceID))
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.ErrNotFound
		}
		return nil, err
	}
	var w model.WorkflowTrace
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse workflow trace %s: %w", traceID, err)
	}
	return &w, nil
}
