// Package transport abstracts the publish/consume boundary with the
// external consumer. Two implementations exist: file-backed (local
// development, tests) and HTTP-backed (the real integration). The set is
// closed; transports are selected by configuration, not discovered.
//
// Publish is retried per the transport's policy because the caller wants
// the message delivered and delivery is idempotent by trace ID. Consume is
// never retried: it is a poll, and the caller will simply poll again.
package transport

import (
	"context"

	"github.com/irisforge/emissary/internal/model"
)

// Transport publishes diagnostic messages to the external consumer and
// consumes remediation commands issued by it.
type Transport interface {
	// Publish delivers one message. It reports true on success and fails
	// with *errdefs.ExternalIntegrationError once the transport's retry
	// policy is exhausted.
	Publish(ctx context.Context, msg *model.Message) (bool, error)

	// Consume fetches a finite batch of commands, zero or more per call.
	// Malformed individual items are logged and skipped; only a total
	// failure to reach the source returns an error.
	Consume(ctx context.Context) ([]*model.RemediationCommand, error)
}
