package model_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/tracectx"
)

func TestNewMessageDefaults(t *testing.T) {
	ctx, id := tracectx.Ensure(context.Background())
	msg, err := model.NewMessage(ctx, model.Message{
		Timestamp:   "08/31/26-14:02:11:375",
		ProcessID:   4182,
		Severity:    2,
		Category:    "resource",
		MessageText: "shared memory heap exhausted",
	})
	require.NoError(t, err)
	assert.Equal(t, id.String(), msg.TraceID)
	assert.False(t, msg.GeneratedAt.IsZero())
}

func TestNewMessageRejectsBadSeverity(t *testing.T) {
	_, err := model.NewMessage(context.Background(), model.Message{
		Timestamp:   "08/31/26-14:02:11:375",
		Severity:    7,
		Category:    "resource",
		MessageText: "x",
	})
	require.Error(t, err)
}

func TestNewMessageRequiredFields(t *testing.T) {
	base := model.Message{
		Timestamp:   "08/31/26-14:02:11:375",
		Severity:    1,
		Category:    "config",
		MessageText: "parameter out of range",
	}

	m := base
	m.Timestamp = ""
	_, err := model.NewMessage(context.Background(), m)
	require.Error(t, err)

	m = base
	m.Category = ""
	_, err = model.NewMessage(context.Background(), m)
	require.Error(t, err)

	m = base
	m.MessageText = ""
	_, err = model.NewMessage(context.Background(), m)
	require.Error(t, err)
}

func TestMessageWireFields(t *testing.T) {
	ctx := context.Background()
	msg, err := model.NewMessage(ctx, model.Message{
		Timestamp:   "08/31/26-14:02:11:375",
		ProcessID:   4182,
		Severity:    3,
		Category:    "license",
		MessageText: "license limit reached",
	})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	for _, field := range []string{
		"timestamp", "process_id", "severity", "category",
		"message_text", "generated_at", "trace_id",
	} {
		assert.Contains(t, wire, field)
	}
}
