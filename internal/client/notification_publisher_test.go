package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/service"
)

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, data)
	return nil
}

func TestNotificationPublisher_Publish(t *testing.T) {
	bus := &fakeBus{}
	p := NewNotificationPublisher(bus, zerolog.Nop())

	p.Publish(context.Background(), service.WorkflowEvent{
		Type:         service.EventRequestApprovalRequired,
		ResourceType: "request",
		ResourceID:   12,
		ActorID:      3,
		Recipients:   []int64{5, 6},
		Payload:      map[string]any{"level": "department"},
	})

	require.Len(t, bus.subjects, 1)
	assert.Equal(t, "notifications.workflow.request_approval_required", bus.subjects[0])

	var got NotificationEvent
	require.NoError(t, json.Unmarshal(bus.payloads[0], &got))
	_, err := uuid.Parse(got.EventID)
	assert.NoError(t, err)
	assert.Equal(t, "12", got.ResourceID)
	assert.Equal(t, "3", got.ActorID)
	assert.Equal(t, []string{"5", "6"}, got.Recipients)
	assert.True(t, got.IsActionable)
	assert.Equal(t, "info", got.Severity)
	assert.Equal(t, "department", got.Payload["level"])
}

func TestNotificationPublisher_SkipsAndSwallows(t *testing.T) {
	ctx := context.Background()
	event := service.WorkflowEvent{Type: service.EventRequestRejected, ResourceID: 1, Recipients: []int64{2}}

	// No bus configured.
	NewNotificationPublisher(nil, zerolog.Nop()).Publish(ctx, event)

	bus := &fakeBus{}
	p := NewNotificationPublisher(bus, zerolog.Nop())
	p.Publish(ctx, service.WorkflowEvent{Type: service.EventRequestRejected, ResourceID: 1})
	assert.Empty(t, bus.subjects)

	failing := &fakeBus{err: errors.New("nats: no responders available")}
	assert.NotPanics(t, func() {
		NewNotificationPublisher(failing, zerolog.Nop()).Publish(ctx, event)
	})
}
