// package audit persists finalized workflow traces and streams them to
// downstream consumers. The Postgres store is the durable source of truth;
// the file store backs development without a database. A DB-first streamer
// forwards stored traces to Kafka and archives them to S3.
package audit

import (
	"context"

	"github.com/irisforge/emissary/internal/model"
)

// Store persists finalized workflow traces keyed by trace ID.
type Store interface {
	Ping(ctx context.Context) error
	InsertTrace(ctx context.Context, w *model.WorkflowTrace) error
	GetTrace(ctx context.Context, traceID string) (*model.WorkflowTrace, error)
}
