// Package nats implements the notifier port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mapcrew/tasking/internal/port/notifier"
)

const streamName = "TASKING"

const (
	subjectValidationResult = "notify.validation.result"
	subjectMentions         = "notify.mentions"
)

// envelope wraps every published notification with an id and timestamp so
// downstream consumers can deduplicate and order.
type envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Notifier implements notifier.Notifier using NATS JetStream.
type Notifier struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Notifier, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our notification topics.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"notify.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Notifier{nc: nc, js: js}, nil
}

// NotifyValidationResult publishes the validation outcome for the mapper.
func (n *Notifier) NotifyValidationResult(ctx context.Context, v notifier.ValidationResult) error {
	return n.publish(ctx, subjectValidationResult, "validation_result", v)
}

// NotifyMentions publishes a comment for @-mention fan-out.
func (n *Notifier) NotifyMentions(ctx context.Context, m notifier.Mention) error {
	return n.publish(ctx, subjectMentions, "mentions", m)
}

func (n *Notifier) publish(ctx context.Context, subject, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}

	env, err := json.Marshal(envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if _, err := n.js.Publish(ctx, subject, env); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (n *Notifier) Close() error {
	n.nc.Close()
	return nil
}
