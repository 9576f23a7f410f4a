package tagmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/platform/kafka"
)

const eventTypeConsentUpdate = "consent.update"

// ConsentUpdateEvent is the payload published for server-side tag containers.
type ConsentUpdateEvent struct {
	VisitorID  string        `json:"visitor_id"`
	Consent    models.Signal `json:"consent"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// KafkaRuntime publishes consent updates to a topic keyed by visitor so all
// updates for one visitor land on the same partition in order.
type KafkaRuntime struct {
	publisher kafka.Publisher
	topic     string
	now       func() time.Time
}

func NewKafkaRuntime(publisher kafka.Publisher, topic string) *KafkaRuntime {
	return &KafkaRuntime{
		publisher: publisher,
		topic:     topic,
		now:       time.Now,
	}
}

// UpdateConsent implements Runtime.
func (k *KafkaRuntime) UpdateConsent(ctx context.Context, visitorID string, signal models.Signal) error {
	payload, err := json.Marshal(ConsentUpdateEvent{
		VisitorID:  visitorID,
		Consent:    signal,
		OccurredAt: k.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode consent update: %w", err)
	}
	err = k.publisher.Produce(ctx, &kafka.Message{
		Topic: k.topic,
		Key:   []byte(visitorID),
		Value: payload,
		Headers: map[string]string{
			"event_type": eventTypeConsentUpdate,
		},
	})
	if err != nil {
		return fmt.Errorf("publish consent update: %w", err)
	}
	return nil
}
