package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
)

// PGStore persists workflow traces into Postgres. Rows carry a
// stream_status column so the streamer can claim pending traces with
// SELECT ... FOR UPDATE SKIP LOCKED and the database stays the source of
// truth for streaming retries.
//
// Expected schema:
//
//	CREATE TABLE workflow_traces (
//	    trace_id           text PRIMARY KEY,
//	    command_id         uuid NOT NULL,
//	    overall_status     text NOT NULL,
//	    completion_time_ms bigint NOT NULL,
//	    initiated_at       timestamptz NOT NULL,
//	    payload            jsonb NOT NULL,
//	    stream_status      text NOT NULL DEFAULT 'pending',
//	    attempts           int NOT NULL DEFAULT 0,
//	    claimed_at         timestamptz,
//	    last_error         text
//	);
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// InsertTrace persists a finalized trace with stream_status pending.
func (p *PGStore) InsertTrace(ctx context.Context, w *model.WorkflowTrace) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow trace: %w", err)
	}
	q := `
		INSERT INTO workflow_traces
			(trace_id, command_id, overall_status, completion_time_ms, initiated_at, payload, stream_status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0)
	`
	_, err = p.db.ExecContext(ctx, q,
		w.TraceID,
		w.CommandReceived.CommandID.String(),
		string(w.OverallStatus),
		w.CompletionTimeMS,
		w.InitiatedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert workflow trace: %w", err)
	}
	return nil
}

// GetTrace loads one trace by trace ID.
func (p *PGStore) GetTrace(ctx context.Context, traceID string) (*model.WorkflowTrace, error) {
	var payload []byte
	q := `SELECT payload FROM workflow_traces WHERE trace_id = $1`
	if err := p.db.QueryRowContext(ctx, q, traceID).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.ErrNotFound
		}
		return nil, fmt.Errorf("select workflow trace: %w", err)
	}
	var w model.WorkflowTrace
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("parse workflow trace %s: %w", traceID, err)
	}
	return &w, nil
}

// FetchPendingTraces claims up to limit pending traces for streaming. The
// claim (stream_status -> in_progress, attempts incremented) happens in one
// transaction so concurrent streamers never pick the same rows.
func (p *PGStore) FetchPendingTraces(ctx context.Context, limit int) ([]*model.WorkflowTrace, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := `
		SELECT trace_id, payload FROM workflow_traces
		WHERE stream_status = 'pending'
		ORDER BY initiated_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending traces: %w", err)
	}
	var claimed []*model.WorkflowTrace
	var ids []string
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending trace: %w", err)
		}
		var w model.WorkflowTrace
		if err := json.Unmarshal(payload, &w); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse pending trace %s: %w", id, err)
		}
		claimed = append(claimed, &w)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending traces: %w", err)
	}

	for _, id := range ids {
		u := `UPDATE workflow_traces SET stream_status = 'in_progress', attempts = attempts + 1, claimed_at = NOW() WHERE trace_id = $1`
		if _, err := tx.ExecContext(ctx, u, id); err != nil {
			return nil, fmt.Errorf("claim trace %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

// RequeueStale returns in_progress rows claimed longer than olderThan ago
// to pending. A streamer killed mid-batch leaves its claims in_progress;
// without this sweep those traces would never stream again.
func (p *PGStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	q := `
		UPDATE workflow_traces
		SET stream_status = 'pending', last_error = 'requeued stale claim'
		WHERE stream_status = 'in_progress' AND claimed_at < NOW() - make_interval(secs => $1)
	`
	res, err := p.db.ExecContext(ctx, q, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("requeue stale traces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale traces: %w", err)
	}
	return n, nil
}

// MarkStreamResult records the streaming outcome for one trace. Failures go
// back to pending so the next poll retries them.
func (p *PGStore) MarkStreamResult(ctx context.Context, traceID string, ok bool, errMsg string) error {
	var q string
	var args []any
	if ok {
		q = `UPDATE workflow_traces SET stream_status = 'done', last_error = NULL WHERE trace_id = $1`
		args = []any{traceID}
	} else {
		q = `UPDATE workflow_traces SET stream_status = 'pending', last_error = $2 WHERE trace_id = $1`
		args = []any{traceID, errMsg}
	}
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark stream result: %w", err)
	}
	return nil
}
