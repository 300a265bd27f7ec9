package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"finboard/internal/core"
	"finboard/internal/dashboard"
)

var _ dashboard.Backend = (*Client)(nil)

// Backend paths.
const (
	PathKPIs         = "/dashboard/kpis"
	PathCharts       = "/dashboard/charts"
	PathWidgets      = "/dashboard/widgets"
	PathTransactions = "/transactions"
)

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) getEnvelope(ctx context.Context, path string, query url.Values, out any) error {
	var env envelope
	if err := c.getJSON(ctx, path, query, &env); err != nil {
		return err
	}
	if env.Success != nil && !*env.Success {
		return &StatusError{Method: http.MethodGet, Path: path, StatusCode: http.StatusOK, Detail: env.Error}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: GET %s: missing data", ErrMalformedResponse, path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: GET %s data: %w", ErrMalformedResponse, path, err)
	}
	return nil
}

// KPIs fetches /dashboard/kpis.
func (c *Client) KPIs(ctx context.Context, query url.Values) (map[string]core.KPI, error) {
	var out map[string]core.KPI
	if err := c.getEnvelope(ctx, PathKPIs, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Charts fetches /dashboard/charts.
func (c *Client) Charts(ctx context.Context, query url.Values) (map[string]core.ChartSeries, error) {
	var out map[string]core.ChartSeries
	if err := c.getEnvelope(ctx, PathCharts, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Widgets fetches /dashboard/widgets.
func (c *Client) Widgets(ctx context.Context, query url.Values) (map[string]core.Widget, error) {
	var out map[string]core.Widget
	if err := c.getEnvelope(ctx, PathWidgets, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transactions fetches one page of /transactions. The listing is not wrapped
// in an envelope.
func (c *Client) Transactions(ctx context.Context, query url.Values) (core.TransactionPage, error) {
	var page core.TransactionPage
	if err := c.getJSON(ctx, PathTransactions, query, &page); err != nil {
		return core.TransactionPage{}, err
	}
	if page.Transactions == nil {
		page.Transactions = []core.Transaction{}
	}
	return page, nil
}
