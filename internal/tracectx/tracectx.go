// Package tracectx carries the 128-bit correlation ID for one logical flow
// through context.Context. Child goroutines inherit the ID automatically by
// receiving the parent context; unrelated flows never observe each other's
// IDs. Entity constructors and log lines read the active ID via Current.
package tracectx

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/irisforge/emissary/internal/errdefs"
)

// ctxKey is unexported so only this package can install trace IDs.
type ctxKey struct{}

// New generates a random OpenTelemetry-compatible trace ID (16 bytes,
// rendered as a 32-character lowercase hex string).
func New() trace.TraceID {
	var id trace.TraceID
	for !id.IsValid() {
		if _, err := rand.Read(id[:]); err != nil {
			// crypto/rand never fails on supported platforms
			panic(fmt.Sprintf("tracectx: read random: %v", err))
		}
	}
	return id
}

// Parse validates s as a 32-character lowercase hex trace ID. Per the W3C
// trace-context rules the all-zero ID is invalid and rejected; New never
// produces it.
func Parse(s string) (trace.TraceID, error) {
	if len(s) != 32 {
		return trace.TraceID{}, &errdefs.ValidationError{
			Message: fmt.Sprintf("trace ID must be 32 characters, got %d", len(s)),
			Field:   "trace_id",
		}
	}
	id, err := trace.TraceIDFromHex(s)
	if err != nil {
		return trace.TraceID{}, &errdefs.ValidationError{
			Message: fmt.Sprintf("trace ID must be lowercase hexadecimal: %q", s),
			Field:   "trace_id",
		}
	}
	return id, nil
}

// WithTraceID returns a derived context carrying id.
func WithTraceID(ctx context.Context, id trace.TraceID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Set validates s and installs it on a derived context. It fails with a
// *errdefs.ValidationError when s is not a well-formed trace ID.
func Set(ctx context.Context, s string) (context.Context, error) {
	id, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return WithTraceID(ctx, id), nil
}

// Clear returns a derived context with no installed trace ID, reverting the
// flow to lazy generation.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, trace.TraceID{})
}

// FromContext reports the trace ID installed on ctx, if any.
func FromContext(ctx context.Context) (trace.TraceID, bool) {
	id, ok := ctx.Value(ctxKey{}).(trace.TraceID)
	if !ok || !id.IsValid() {
		return trace.TraceID{}, false
	}
	return id, true
}

// Ensure returns a context that carries a trace ID, installing a freshly
// generated one when ctx has none, together with the active ID.
func Ensure(ctx context.Context) (context.Context, trace.TraceID) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := New()
	return WithTraceID(ctx, id), id
}

// Current returns the active trace ID for ctx as a hex string, generating a
// fresh one when none is installed. Callers that need the generated ID to
// stick for the rest of the flow should use Ensure instead.
func Current(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.String()
	}
	return New().String()
}

// Attr renders the installed trace ID as a slog attribute. Unlike Current
// it never generates one: a flow that skipped Ensure logs an empty trace_id
// rather than a fresh ID correlated with nothing.
func Attr(ctx context.Context) slog.Attr {
	if id, ok := FromContext(ctx); ok {
		return slog.String("trace_id", id.String())
	}
	return slog.String("trace_id", "")
}
