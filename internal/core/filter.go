package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// FilterType names a reporting window preset.
type FilterType string

const (
	FilterAll         FilterType = "all"
	FilterLast7Days   FilterType = "last7days"
	FilterLastWeek    FilterType = "lastWeek"
	FilterLastMonth   FilterType = "lastMonth"
	FilterLast6Months FilterType = "last6Months"
	FilterLastYear    FilterType = "lastYear"
	FilterCustom      FilterType = "custom"
)

// Query parameter names shared by the dashboard endpoints.
const (
	ParamFilterType = "filter_type"
	ParamStartDate  = "start_date"
	ParamEndDate    = "end_date"
	ParamKPIType    = "kpi_type"
	ParamChartType  = "chart_type"
	ParamWidgetType = "widget_type"
)

var ErrInvalidFilter = errors.New("invalid date filter")

var filterTypes = []struct {
	typ   FilterType
	wire  string
	label string
}{
	{FilterAll, "all", "All Time"},
	{FilterLast7Days, "6days", "Last 7 Days"},
	{FilterLastWeek, "week", "Last Week"},
	{FilterLastMonth, "month", "Last Month"},
	{FilterLast6Months, "6months", "Last 6 Months"},
	{FilterLastYear, "year", "Last Year"},
	{FilterCustom, "custom", "Custom Range"},
}

// ParseFilterType accepts either the Go name (lastMonth) or the wire value (month).
func ParseFilterType(s string) (FilterType, error) {
	s = strings.TrimSpace(s)
	for _, ft := range filterTypes {
		if s == string(ft.typ) || s == ft.wire {
			return ft.typ, nil
		}
	}
	return "", fmt.Errorf("%w: unknown filter type %q", ErrInvalidFilter, s)
}

// IsValid reports whether t is one of the known presets.
func (t FilterType) IsValid() bool {
	for _, ft := range filterTypes {
		if t == ft.typ {
			return true
		}
	}
	return false
}

// WireValue is the filter_type value the backend understands.
func (t FilterType) WireValue() string {
	for _, ft := range filterTypes {
		if t == ft.typ {
			return ft.wire
		}
	}
	return string(t)
}

func (t FilterType) label() string {
	for _, ft := range filterTypes {
		if t == ft.typ {
			return ft.label
		}
	}
	return "All Time"
}

// DateFilter is the active reporting window. StartDate and EndDate are set
// if and only if Type is FilterCustom.
type DateFilter struct {
	Type      FilterType `json:"type"`
	StartDate *Date      `json:"startDate"`
	EndDate   *Date      `json:"endDate"`
}

// DefaultFilter is the filter a fresh store starts with.
func DefaultFilter() DateFilter {
	return DateFilter{Type: FilterAll}
}

// Custom builds a custom range filter.
func Custom(start, end Date) DateFilter {
	return DateFilter{Type: FilterCustom, StartDate: &start, EndDate: &end}
}

// Preset builds a filter for a non-custom type.
func Preset(t FilterType) DateFilter {
	return DateFilter{Type: t}
}

// Validate enforces the custom-range invariant.
func (f DateFilter) Validate() error {
	if !f.Type.IsValid() {
		return fmt.Errorf("%w: unknown filter type %q", ErrInvalidFilter, f.Type)
	}
	hasStart := f.StartDate != nil && !f.StartDate.IsZero()
	hasEnd := f.EndDate != nil && !f.EndDate.IsZero()
	if f.Type != FilterCustom {
		if hasStart || hasEnd {
			return fmt.Errorf("%w: dates are only allowed with a custom filter", ErrInvalidFilter)
		}
		return nil
	}
	if !hasStart || !hasEnd {
		return fmt.Errorf("%w: custom filter requires both start and end dates", ErrInvalidFilter)
	}
	if f.StartDate.After(f.EndDate.Time) {
		return fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidFilter, f.StartDate, f.EndDate)
	}
	return nil
}

// Params returns the query parameters for dashboard endpoints. Dates are only
// emitted for a valid custom filter. withDates is false for endpoints that
// only accept filter_type.
func (f DateFilter) Params(withDates bool) url.Values {
	v := url.Values{}
	v.Set(ParamFilterType, f.Type.WireValue())
	if withDates && f.Type == FilterCustom && f.Validate() == nil {
		v.Set(ParamStartDate, f.StartDate.String())
		v.Set(ParamEndDate, f.EndDate.String())
	}
	return v
}

// Label is the human readable name of the window.
func (f DateFilter) Label() string {
	if f.Type == FilterCustom && f.StartDate != nil && f.EndDate != nil {
		return f.StartDate.String() + " - " + f.EndDate.String()
	}
	return f.Type.label()
}

// Key identifies the filter in caches.
func (f DateFilter) Key() string {
	if f.Type == FilterCustom && f.StartDate != nil && f.EndDate != nil {
		return "custom:" + f.StartDate.String() + ":" + f.EndDate.String()
	}
	return f.Type.WireValue()
}

// Equal compares two filters by value.
func (f DateFilter) Equal(o DateFilter) bool {
	return f.Key() == o.Key()
}
