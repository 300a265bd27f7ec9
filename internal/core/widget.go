package core

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Widget is an opaque widget payload. The shape depends on the widget key.
type Widget json.RawMessage

var ErrEmptyWidget = errors.New("empty widget payload")

func (w Widget) MarshalJSON() ([]byte, error) {
	if len(w) == 0 {
		return []byte("null"), nil
	}
	return []byte(w), nil
}

func (w *Widget) UnmarshalJSON(b []byte) error {
	*w = append((*w)[:0], b...)
	return nil
}

// IsNull reports whether the backend sent no data for the widget.
func (w Widget) IsNull() bool {
	t := bytes.TrimSpace(w)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Decode unmarshals the payload into v.
func (w Widget) Decode(v any) error {
	if w.IsNull() {
		return ErrEmptyWidget
	}
	return json.Unmarshal(w, v)
}

// RecentTransactions decodes a recent_transactions payload.
func (w Widget) RecentTransactions() ([]Transaction, error) {
	var out []Transaction
	if err := w.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
