package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChartPoint is one data point. Its fields depend on the chart
// (date/credits/debits, category/amount/count, ...). Numbers decode as
// json.Number so amounts keep their precision.
type ChartPoint map[string]any

// ChartSeries is an ordered sequence of points.
type ChartSeries []ChartPoint

func (s *ChartSeries) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var points []ChartPoint
	if err := dec.Decode(&points); err != nil {
		return fmt.Errorf("chart series: %w", err)
	}
	*s = points
	return nil
}

// String returns the named field as text, or "".
func (p ChartPoint) String(field string) string {
	switch v := p[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the named numeric field.
func (p ChartPoint) Float(field string) (float64, bool) {
	switch v := p[field].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	default:
		return 0, false
	}
}
