package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/gemini-relay/internal/model"
)

const (
	// StreamName is the name of the session events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all session event subjects.
	SubjectPrefix = "chat.events"
)

// EventPublisher publishes session events to JetStream.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// EnsureStream ensures the events stream exists. Events are an operational
// feed kept in memory for a day; conversation state is never replayed from it.
func (p *EventPublisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    64 * 1024 * 1024,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Description: "Chat session lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish publishes an event under chat.events.<type>.
func (p *EventPublisher) Publish(ctx context.Context, event *model.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, Subject(event.Type), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subject returns the subject an event type is published on.
func Subject(t model.EventType) string {
	return SubjectPrefix + "." + string(t)
}
