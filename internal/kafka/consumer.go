package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/duisenbekovayan/ordersync/internal/reconciler"
)

// Handler applies one raw push event.
type Handler func(ctx context.Context, msg []byte) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Consumer struct {
	reader  *kafkago.Reader
	dlq     messageWriter // optional dead-letter queue
	handler Handler
	logger  aqm.Logger

	readBackoff backoff.BackOff
}

type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	DLQTopic        string // empty disables the DLQ
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
	MaxReadInterval time.Duration
}

func NewConsumer(cfg Config, handler Handler, logger aqm.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 2 * time.Second
	}
	if cfg.MaxReadInterval == 0 {
		cfg.MaxReadInterval = 30 * time.Second
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
		// offsets are committed by hand after each event is applied
		CommitInterval: 0,
	})

	c := &Consumer{
		reader:      r,
		handler:     handler,
		logger:      logger,
		readBackoff: readBackoff(cfg.MaxReadInterval),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafkago.Writer{
			Addr:     kafkago.TCP(cfg.Brokers...),
			Topic:    cfg.DLQTopic,
			Balancer: &kafkago.LeastBytes{},
		}
	}
	return c
}

func readBackoff(max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	return b
}

func (c *Consumer) Close() error {
	var err1, err2 error
	if c.reader != nil {
		err1 = c.reader.Close()
	}
	if c.dlq != nil {
		err2 = c.dlq.Close()
	}
	return errors.Join(err1, err2)
}

// Run reads until ctx is cancelled. Fetch errors are retried with
// exponential backoff; an event is committed once it has been applied.
func (c *Consumer) Run(ctx context.Context) error {
	cfg := c.reader.Config()
	c.logger.Info("kafka consumer started", "topic", cfg.Topic, "group", cfg.GroupID)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			wait := c.readBackoff.NextBackOff()
			c.logger.Error("kafka fetch failed", "error", err, "retry_in", wait.String())
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		c.readBackoff.Reset()

		if err := c.processMessage(ctx, m); err != nil {
			// not committed; the message comes back
			c.logger.Error("kafka process failed", "offset", m.Offset, "partition", m.Partition, "error", err)
			if !sleep(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// processMessage returns nil when the message may be committed. Envelopes
// that cannot be decoded go to the DLQ when one is configured and are
// committed either way so the partition never stalls on garbage.
func (c *Consumer) processMessage(ctx context.Context, m kafkago.Message) error {
	err := c.handler(ctx, m.Value)
	if err == nil {
		return nil
	}
	if !errors.Is(err, reconciler.ErrMalformedEnvelope) {
		return err
	}

	c.logger.Info("malformed push event", "offset", m.Offset, "partition", m.Partition, "error", err)
	if c.dlq == nil {
		return nil
	}
	if werr := c.dlq.WriteMessages(ctx, kafkago.Message{Key: m.Key, Value: m.Value, Time: time.Now()}); werr != nil {
		return werr
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
