package tagmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"tagconsent/pkg/platform/sentinel"
)

// topicAdmin is the subset of kadm.Client the probe needs.
type topicAdmin interface {
	ListTopics(ctx context.Context, topics ...string) (kadm.TopicDetails, error)
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// KafkaTopicProbe reports ready once the consent topic exists, optionally
// creating it on first probe.
type KafkaTopicProbe struct {
	admin             topicAdmin
	topic             string
	create            bool
	partitions        int32
	replicationFactor int16
}

// KafkaProbeOption configures a KafkaTopicProbe.
type KafkaProbeOption func(*KafkaTopicProbe)

// WithTopicCreation lets the probe create the topic when it is missing.
func WithTopicCreation(partitions int32, replicationFactor int16) KafkaProbeOption {
	return func(p *KafkaTopicProbe) {
		p.create = true
		if partitions > 0 {
			p.partitions = partitions
		}
		if replicationFactor > 0 {
			p.replicationFactor = replicationFactor
		}
	}
}

func NewKafkaTopicProbe(client *kgo.Client, topic string, opts ...KafkaProbeOption) *KafkaTopicProbe {
	return newKafkaTopicProbe(kadm.NewClient(client), topic, opts...)
}

func newKafkaTopicProbe(admin topicAdmin, topic string, opts ...KafkaProbeOption) *KafkaTopicProbe {
	p := &KafkaTopicProbe{
		admin:             admin,
		topic:             topic,
		partitions:        1,
		replicationFactor: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe implements Probe.
func (p *KafkaTopicProbe) Probe(ctx context.Context) error {
	topics, err := p.admin.ListTopics(ctx, p.topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if detail, ok := topics[p.topic]; ok && detail.Err == nil {
		return nil
	}
	if !p.create {
		return fmt.Errorf("topic %q: %w", p.topic, sentinel.ErrNotFound)
	}

	resp, err := p.admin.CreateTopics(ctx, p.partitions, p.replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", p.topic, err)
	}
	if created, ok := resp[p.topic]; ok && created.Err != nil && !errors.Is(created.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %q: %w", p.topic, created.Err)
	}
	return nil
}
