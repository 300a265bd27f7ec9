package dashboard

import "finboard/internal/core"

// Resource class names, used in logs and by the HTTP layer.
const (
	ResourceKPIs         = "kpis"
	ResourceCharts       = "charts"
	ResourceWidgets      = "widgets"
	ResourceTransactions = "transactions"
)

// Loading mirrors which fetches are in flight. The aggregate flags cover
// unscoped fetches; the maps list keys with a scoped fetch in flight.
type Loading struct {
	KPIs           bool            `json:"kpis"`
	LoadingKPIs    map[string]bool `json:"loadingKPIs"`
	Charts         bool            `json:"charts"`
	LoadingCharts  map[string]bool `json:"loadingCharts"`
	Widgets        bool            `json:"widgets"`
	LoadingWidgets map[string]bool `json:"loadingWidgets"`
	Transactions   bool            `json:"transactions"`
}

// Any reports whether any fetch is in flight.
func (l Loading) Any() bool {
	return l.KPIs || l.Charts || l.Widgets || l.Transactions ||
		len(l.LoadingKPIs) > 0 || len(l.LoadingCharts) > 0 || len(l.LoadingWidgets) > 0
}

// Errors holds the last failure per resource slice; nil once a later fetch
// of that slice succeeds.
type Errors struct {
	KPIs         error
	Charts       error
	Widgets      error
	Transactions error
}

// Snapshots groups the three dashboard snapshots for one filter.
type Snapshots struct {
	KPIs    core.KPISnapshot
	Charts  core.ChartSnapshot
	Widgets core.WidgetSnapshot
}

// State is an immutable view of the store. Version increases with every change.
type State struct {
	Version      uint64
	DateFilter   core.DateFilter
	KPIs         core.KPISnapshot
	Charts       core.ChartSnapshot
	Widgets      core.WidgetSnapshot
	Transactions core.TransactionPage
	Loading      Loading
	Errors       Errors
}
