// Package events carries transaction change notifications over AMQP so the
// dashboard can refresh when the data behind it changes.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Config holds broker settings.
type Config struct {
	URL      string
	Exchange string
	Queue    string
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int
}

// DefaultConfig returns the default exchange and queue names.
func DefaultConfig() Config {
	return Config{
		Exchange: "finboard",
		Queue:    "finboard.dashboard",
		Prefetch: 8,
	}
}

// Validate checks the settings needed to connect.
func (c Config) Validate() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "URL is required")
	}
	if c.Exchange == "" {
		errs = append(errs, "exchange is required")
	}
	if c.Queue == "" {
		errs = append(errs, "queue is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("events config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// session is one connection with its channel.
type session struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func dial(cfg Config) (*session, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	s := &session{conn: conn, channel: channel}
	if err := s.declareExchange(cfg.Exchange); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) declareExchange(name string) error {
	err := s.channel.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// bindQueue declares the consumer queue and binds it to every transaction
// routing key.
func (s *session) bindQueue(cfg Config) error {
	_, err := s.channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = s.channel.QueueBind(
		cfg.Queue,         // queue name
		RoutingPrefix+"#", // routing key
		cfg.Exchange,      // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := s.channel.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}
	return nil
}

func (s *session) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// exponentialBackoff returns the reconnect delay for attempt, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// isConnectionError reports whether err means the connection is gone and a
// redial may help.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
