package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Trend directions reported alongside period comparisons.
const (
	TrendUp      = "up"
	TrendDown    = "down"
	TrendNeutral = "neutral"
)

// KPIValue is either a number or a label (highest_expense_category reports a
// category name).
type KPIValue struct {
	Number decimal.Decimal
	Text   string
	IsText bool
}

// NumberValue wraps a numeric KPI value.
func NumberValue(d decimal.Decimal) KPIValue {
	return KPIValue{Number: d}
}

// TextValue wraps a textual KPI value.
func TextValue(s string) KPIValue {
	return KPIValue{Text: s, IsText: true}
}

func (v KPIValue) String() string {
	if v.IsText {
		return v.Text
	}
	return v.Number.String()
}

func (v KPIValue) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Text)
	}
	return []byte(v.Number.String()), nil
}

func (v *KPIValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = KPIValue{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("kpi value %s: %w", b, err)
	}
	*v = NumberValue(d)
	return nil
}

// KPI is one summary metric with optional period comparison.
type KPI struct {
	Current       KPIValue         `json:"current"`
	Previous      *decimal.Decimal `json:"previous,omitempty"`
	ChangePercent *decimal.Decimal `json:"change_percent,omitempty"`
	Min           *decimal.Decimal `json:"min,omitempty"`
	Max           *decimal.Decimal `json:"max,omitempty"`
	Trend         string           `json:"trend,omitempty"`
}

// UnmarshalJSON accepts the record form and a bare scalar
// (available_balance is sent as a plain number).
func (k *KPI) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' {
		var v KPIValue
		if err := v.UnmarshalJSON(b); err != nil {
			return err
		}
		*k = KPI{Current: v}
		return nil
	}
	type plain KPI
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*k = KPI(p)
	return nil
}
