package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"capstate/pkg/domain"
)

// KafkaSink publishes evidence events to a Kafka topic. The durable store
// remains the queryable record; Kafka is the fan-out channel for downstream
// reporting consumers. The sink satisfies Store so it can sit behind a Tee,
// but it is write-only: listing must go to a durable store.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the given brokers and ensures the topic exists.
// Bootstrap failures are returned, not deferred: a misconfigured broker
// should fail at startup, not on the first batch.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}

	return &KafkaSink{client: client, topic: topic}, nil
}

func (k *KafkaSink) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal provenance event: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.CapsuleID.String()),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce provenance event: %w", err)
	}
	return nil
}

// ListByCapsule is unsupported on the Kafka sink; the durable store is the
// queryable side of the log.
func (k *KafkaSink) ListByCapsule(context.Context, domain.CapsuleID) ([]Event, error) {
	return nil, fmt.Errorf("kafka sink is write-only")
}

func (k *KafkaSink) Close() {
	k.client.Close()
}
