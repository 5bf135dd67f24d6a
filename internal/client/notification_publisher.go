package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// SubjectPrefix is the NATS subject namespace of workflow notifications.
const SubjectPrefix = "notifications.workflow"

// Publisher is the transport the notification publisher writes to.
// *natsbus.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes workflow events to NATS JetStream for
// consumption by the notifications service.
//
// Subject convention: notifications.workflow.<event_type>
//
// All publish operations are non-fatal: errors are logged and never
// propagated, so a notification failure never interrupts a decision.
type NotificationPublisher struct {
	bus Publisher
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	OccurredAt   time.Time              `json:"occurred_at"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil bus disables publishing.
func NewNotificationPublisher(bus Publisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{bus: bus, log: log}
}

// Publish implements service.Notifier.
func (p *NotificationPublisher) Publish(ctx context.Context, e service.WorkflowEvent) {
	if p.bus == nil {
		return
	}
	if len(e.Recipients) == 0 {
		return
	}

	recipients := make([]string, 0, len(e.Recipients))
	for _, id := range e.Recipients {
		recipients = append(recipients, strconv.FormatInt(id, 10))
	}

	event := &NotificationEvent{
		EventID:      uuid.NewString(),
		EventType:    e.Type,
		OccurredAt:   time.Now().UTC(),
		ActorID:      strconv.FormatInt(e.ActorID, 10),
		Recipients:   recipients,
		ResourceType: e.ResourceType,
		ResourceID:   strconv.FormatInt(e.ResourceID, 10),
		IsActionable: actionable(e.Type),
		Severity:     severity(e.Type),
		Category:     "workflow_approval",
		Payload:      e.Payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", e.Type).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, e.Type)
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("event_id", event.EventID).
		Str("resource_id", event.ResourceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

func actionable(eventType string) bool {
	switch eventType {
	case service.EventRequestApprovalRequired, service.EventDocumentSubmitted:
		return true
	}
	return false
}

func severity(eventType string) string {
	switch eventType {
	case service.EventRequestRejected, service.EventDocumentRejected:
		return "warning"
	}
	return "info"
}
