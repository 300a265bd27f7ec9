package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"finboard/internal/log"
)

// Handler reacts to one transaction event. Returning an error requeues the
// delivery.
type Handler interface {
	HandleTransactionEvent(ctx context.Context, ev *TransactionEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *TransactionEvent) error

func (f HandlerFunc) HandleTransactionEvent(ctx context.Context, ev *TransactionEvent) error {
	return f(ctx, ev)
}

// Subscriber consumes transaction events and redials when the broker
// connection drops.
type Subscriber struct {
	cfg     Config
	handler Handler
	logger  *log.Logger
	backoff func(attempt int) time.Duration
}

// NewSubscriber creates a subscriber. It does not connect until Run.
func NewSubscriber(cfg Config, handler Handler, logger *log.Logger) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("events: handler is required")
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		logger:  logger.WithComponent(log.ComponentEvents),
		backoff: exponentialBackoff,
	}, nil
}

// Run consumes until ctx is done. Connection failures are retried with
// capped exponential backoff; Run only returns nil.
func (s *Subscriber) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := s.consume(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Stopping event consumption", "reason", ctx.Err())
			return nil
		}
		if connected {
			attempt = 0
		}
		delay := s.backoff(attempt)
		attempt++
		s.logger.Warn("Event subscription interrupted, reconnecting",
			log.FieldError, err,
			log.FieldAttempt, attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// consume runs one connection until it fails or ctx is done. connected
// reports whether the queue was reached, which resets the backoff.
func (s *Subscriber) consume(ctx context.Context) (connected bool, err error) {
	sess, err := dial(s.cfg)
	if err != nil {
		return false, err
	}
	defer sess.Close()

	if err := sess.bindQueue(s.cfg); err != nil {
		return false, err
	}

	msgs, err := sess.channel.Consume(
		s.cfg.Queue, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return false, fmt.Errorf("start consuming: %w", err)
	}
	closed := sess.conn.NotifyClose(make(chan *amqp091.Error, 1))

	s.logger.Info("Started consuming transaction events",
		"exchange", s.cfg.Exchange,
		"queue", s.cfg.Queue,
	)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return true, amqp091.ErrClosed
			}
			return true, amqpErr
		case delivery, ok := <-msgs:
			if !ok {
				return true, errors.New("delivery channel closed")
			}
			s.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery acks handled events, drops malformed ones and requeues the
// ones the handler failed on.
func (s *Subscriber) handleDelivery(ctx context.Context, d amqp091.Delivery) {
	ev, err := TransactionEventFromJSON(d.Body)
	if err != nil {
		s.logger.Error("Dropping malformed event",
			log.FieldError, err,
			"routing_key", d.RoutingKey,
		)
		if nackErr := d.Nack(false, false); nackErr != nil {
			s.logger.Warn("Nack failed", log.FieldError, nackErr)
		}
		return
	}

	logger := s.logger.With(
		log.FieldEventKind, ev.Kind,
		log.FieldTransactionID, ev.TransactionID,
	)

	if err := s.handler.HandleTransactionEvent(ctx, ev); err != nil {
		logger.Error("Failed to handle event", log.FieldError, err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Warn("Nack failed", log.FieldError, nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logger.Warn("Ack failed", log.FieldError, err)
		return
	}
	logger.Debug("Handled transaction event")
}
