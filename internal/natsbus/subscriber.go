package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

// Handler applies one raw push event.
type Handler func(ctx context.Context, msg []byte) error

type Subscriber struct {
	conn   *nats.Conn
	logger aqm.Logger
}

// Connect dials url, retrying with exponential backoff until ctx is done or
// maxAttempts dials have failed.
func Connect(ctx context.Context, url string, maxAttempts uint64, logger aqm.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if maxAttempts == 0 {
		maxAttempts = 5
	}

	var conn *nats.Conn
	dial := func() error {
		c, err := nats.Connect(url,
			nats.Name("ordersync"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Info("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			logger.Info("nats connect failed", "url", url, "error", err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Subscriber{conn: conn, logger: logger}, nil
}

// Run subscribes handler to subject and blocks until ctx is cancelled, then
// drains the subscription.
func (s *Subscriber) Run(ctx context.Context, subject string, handler Handler) error {
	sub, err := s.conn.Subscribe(subject, s.deliver(ctx, subject, handler))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.logger.Info("nats subscriber started", "subject", subject)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		s.logger.Info("nats drain failed", "subject", subject, "error", err)
	}
	return nil
}

// deliver adapts handler to a NATS callback. Core NATS has no redelivery, so
// handler errors are only logged.
func (s *Subscriber) deliver(ctx context.Context, subject string, handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil {
			s.logger.Info("push event rejected", "subject", subject, "error", err)
		}
	}
}

func (s *Subscriber) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
