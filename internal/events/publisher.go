package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"finboard/internal/log"
)

const publishTimeout = 5 * time.Second

// Publisher sends transaction events. It connects lazily and redials once
// when a publish hits a dead connection.
type Publisher struct {
	cfg    Config
	logger *log.Logger

	mu   sync.Mutex
	sess *session
}

// NewPublisher creates a publisher for cfg.
func NewPublisher(cfg Config, logger *log.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Publisher{cfg: cfg, logger: logger.WithComponent(log.ComponentEvents)}, nil
}

// PublishTransactionEvent publishes ev under its routing key.
func (p *Publisher) PublishTransactionEvent(ctx context.Context, ev *TransactionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, ev.RoutingKey(), body)
	if isConnectionError(err) {
		p.resetLocked()
		err = p.publishLocked(ctx, ev.RoutingKey(), body)
	}
	if err != nil {
		return err
	}

	p.logger.Info("Published transaction event",
		log.FieldEventKind, ev.Kind,
		log.FieldTransactionID, ev.TransactionID,
		"exchange", p.cfg.Exchange,
	)
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, key string, body []byte) error {
	if p.sess == nil {
		sess, err := dial(p.cfg)
		if err != nil {
			return err
		}
		p.sess = sess
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.sess.channel.PublishWithContext(
		ctx,
		p.cfg.Exchange, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *Publisher) resetLocked() {
	if p.sess != nil {
		p.sess.Close()
		p.sess = nil
	}
}

// Close releases the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	err := p.sess.Close()
	p.sess = nil
	return err
}
