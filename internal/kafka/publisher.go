package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Publisher writes push events to a topic. Used by the fixture producer.
type Publisher struct {
	w messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{w: &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// Publish keys each event by order id so one order's events stay ordered
// within a partition.
func (p *Publisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.w.WriteMessages(ctx, kafkago.Message{Key: []byte(key), Value: value, Time: time.Now()})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }
