package dashboard

import (
	"context"
	"net/url"

	"finboard/internal/core"
)

// Ports for the backend the store reads from.
type (
	// KPIReader serves GET /dashboard/kpis.
	KPIReader interface {
		KPIs(ctx context.Context, query url.Values) (map[string]core.KPI, error)
	}

	// ChartReader serves GET /dashboard/charts.
	ChartReader interface {
		Charts(ctx context.Context, query url.Values) (map[string]core.ChartSeries, error)
	}

	// WidgetReader serves GET /dashboard/widgets.
	WidgetReader interface {
		Widgets(ctx context.Context, query url.Values) (map[string]core.Widget, error)
	}

	// TransactionLister serves GET /transactions.
	TransactionLister interface {
		Transactions(ctx context.Context, query url.Values) (core.TransactionPage, error)
	}

	// Backend is everything the store needs.
	Backend interface {
		KPIReader
		ChartReader
		WidgetReader
		TransactionLister
	}
)
