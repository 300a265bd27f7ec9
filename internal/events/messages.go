package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is what happened to a transaction.
type Kind string

const (
	KindCreated  Kind = "created"
	KindUpdated  Kind = "updated"
	KindDeleted  Kind = "deleted"
	KindImported Kind = "imported"
)

// RoutingPrefix prefixes every transaction routing key.
const RoutingPrefix = "transactions."

var ErrInvalidEvent = errors.New("invalid transaction event")

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindCreated, KindUpdated, KindDeleted, KindImported:
		return true
	}
	return false
}

// TransactionEvent announces a change to the transactions behind the
// dashboard. Bulk imports carry no transaction id.
type TransactionEvent struct {
	Kind          Kind      `json:"kind"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTransactionEvent creates an event stamped with the current time.
func NewTransactionEvent(kind Kind, transactionID string) *TransactionEvent {
	return &TransactionEvent{
		Kind:          kind,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
	}
}

// RoutingKey is the topic the event is published under.
func (e *TransactionEvent) RoutingKey() string {
	return RoutingPrefix + string(e.Kind)
}

// Validate checks the fields a consumer relies on.
func (e *TransactionEvent) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Kind != KindImported && e.TransactionID == "" {
		return fmt.Errorf("%w: %s event without transaction_id", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes and validates an event.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
