package dashboard

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"finboard/internal/cache"
	"finboard/internal/core"
)

var (
	errNetwork = errors.New("dial tcp: connection refused")
	errServer  = errors.New("GET /dashboard/widgets: status 500")
)

func TestNewRejectsInvalidInitialFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialFilter = core.DateFilter{Type: core.FilterCustom}
	if _, err := New(newFakeBackend(), cfg, nil); !errors.Is(err, core.ErrInvalidFilter) {
		t.Fatalf("New error = %v, want ErrInvalidFilter", err)
	}
	if _, err := New(nil, DefaultConfig(), nil); err == nil {
		t.Fatal("New accepted a nil backend")
	}
}

func TestFetchKPIsReplacesSnapshot(t *testing.T) {
	s, fb := newTestStore(t, nil)

	done := async(func() { _ = s.FetchKPIs(context.Background(), "") })
	c := fb.next(t)

	if got := c.query.Encode(); got != "filter_type=all" {
		t.Errorf("query = %q, want filter_type=all", got)
	}
	if !s.State().Loading.KPIs {
		t.Error("Loading.KPIs should be true while the fetch is in flight")
	}

	c.respond(reply{kpis: map[string]core.KPI{core.KPITotalCredits: kpi(1000)}})
	wait(t, done)

	st := s.State()
	if got := currentOf(t, st.KPIs, core.KPITotalCredits); got != "1000" {
		t.Errorf("total_credits = %s, want 1000", got)
	}
	if st.Loading.KPIs {
		t.Error("Loading.KPIs still true after settlement")
	}
	if st.Errors.KPIs != nil {
		t.Errorf("Errors.KPIs = %v", st.Errors.KPIs)
	}
}

func TestMergeLaws(t *testing.T) {
	s, fb := newTestStore(t, nil)
	ctx := context.Background()

	done := async(func() { _ = s.FetchKPIs(ctx, "") })
	fb.next(t).respond(reply{kpis: map[string]core.KPI{"a": kpi(1), "b": kpi(2)}})
	wait(t, done)

	// Scoped: only the requested key changes.
	done = async(func() { _ = s.FetchKPIs(ctx, "a") })
	c := fb.next(t)
	if got := c.query.Get(core.ParamKPIType); got != "a" {
		t.Errorf("kpi_type = %q, want a", got)
	}
	if !s.State().Loading.LoadingKPIs["a"] {
		t.Error("LoadingKPIs[a] should be true while in flight")
	}
	c.respond(reply{kpis: map[string]core.KPI{"a": kpi(10)}})
	wait(t, done)

	st := s.State()
	if currentOf(t, st.KPIs, "a") != "10" || currentOf(t, st.KPIs, "b") != "2" {
		t.Fatalf("after scoped merge kpis = %v", st.KPIs.Keys())
	}
	if len(st.Loading.LoadingKPIs) != 0 {
		t.Errorf("LoadingKPIs = %v, want empty", st.Loading.LoadingKPIs)
	}

	// Unscoped: keys missing from the response disappear.
	done = async(func() { _ = s.FetchKPIs(ctx, "") })
	fb.next(t).respond(reply{kpis: map[string]core.KPI{"c": kpi(3)}})
	wait(t, done)

	st = s.State()
	if got := st.KPIs.Keys(); len(got) != 1 || got[0] != "c" {
		t.Fatalf("after full replace keys = %v, want [c]", got)
	}
}

func TestFetchRejectsMalformedKey(t *testing.T) {
	s, fb := newTestStore(t, nil)

	for _, key := range []string{"Total", "has space", "1abc"} {
		if err := s.FetchKPIs(context.Background(), key); !errors.Is(err, core.ErrInvalidKey) {
			t.Errorf("FetchKPIs(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
	if err := s.RefreshSingleChart(context.Background(), ""); !errors.Is(err, core.ErrInvalidKey) {
		t.Errorf("RefreshSingleChart(\"\") = %v, want ErrInvalidKey", err)
	}
	fb.none(t, 20*time.Millisecond)
}

func TestRefreshDashboardRunsConcurrently(t *testing.T) {
	s, fb := newTestStore(t, nil)

	done := async(func() { _ = s.RefreshDashboard(context.Background()) })

	pending := map[string]*call{}
	for range 3 {
		c := fb.next(t)
		if c.query.Has(core.ParamKPIType) || c.query.Has(core.ParamChartType) || c.query.Has(core.ParamWidgetType) {
			t.Errorf("%s call is scoped: %s", c.resource, c.query.Encode())
		}
		pending[c.resource] = c
	}
	if len(pending) != 3 {
		t.Fatalf("pending resources = %v, want one call each", pending)
	}

	l := s.State().Loading
	if !l.KPIs || !l.Charts || !l.Widgets {
		t.Errorf("loading = %+v, want all three true", l)
	}

	pending[ResourceWidgets].respond(reply{widgets: map[string]core.Widget{"w": core.Widget(`[]`)}})
	pending[ResourceKPIs].respond(reply{kpis: map[string]core.KPI{"k": kpi(1)}})
	pending[ResourceCharts].respond(reply{charts: map[string]core.ChartSeries{"c": {}}})
	wait(t, done)

	st := s.State()
	if st.Loading.Any() {
		t.Errorf("loading after refresh = %+v", st.Loading)
	}
	if !st.KPIs.Has("k") || !st.Charts.Has("c") || !st.Widgets.Has("w") {
		t.Errorf("refresh did not apply all three snapshots")
	}
}

func TestCustomFilterParams(t *testing.T) {
	s, fb := newTestStore(t, func(c *Config) { c.Debounce = time.Hour })

	f := core.Custom(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err := s.SetDateFilter(f); err != nil {
		t.Fatalf("SetDateFilter: %v", err)
	}

	done := async(func() { _ = s.FetchCharts(context.Background(), "") })
	c := fb.next(t)
	want := url.Values{
		core.ParamFilterType: {"custom"},
		core.ParamStartDate:  {"2024-01-01"},
		core.ParamEndDate:    {"2024-01-31"},
	}
	if c.query.Encode() != want.Encode() {
		t.Errorf("query = %q, want %q", c.query.Encode(), want.Encode())
	}
	c.respond(reply{charts: map[string]core.ChartSeries{}})
	wait(t, done)

	// Widgets only get the filter type.
	done = async(func() { _ = s.FetchWidgets(context.Background(), core.WidgetRecentTransactions) })
	c = fb.next(t)
	if got := c.query.Encode(); got != "filter_type=custom&widget_type=recent_transactions" {
		t.Errorf("widgets query = %q", got)
	}
	c.respond(reply{widgets: map[string]core.Widget{}})
	wait(t, done)
}

func TestFetchFailureKeepsData(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", errNetwork},
		{"timeout", context.DeadlineExceeded},
		{"server", errServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fb := newTestStore(t, nil)
			ctx := context.Background()

			done := async(func() { _ = s.FetchWidgets(ctx, "") })
			fb.next(t).respond(reply{widgets: map[string]core.Widget{"w": core.Widget(`{"v":1}`)}})
			wait(t, done)
			before := s.State().Widgets

			var fetchErr error
			done = async(func() { fetchErr = s.FetchWidgets(ctx, "") })
			fb.next(t).respond(reply{err: tt.err})
			wait(t, done)

			if fetchErr != nil {
				t.Errorf("FetchWidgets returned %v, backend errors must not escape", fetchErr)
			}
			st := s.State()
			if st.Loading.Widgets {
				t.Error("Loading.Widgets still true after failure")
			}
			if !errors.Is(st.Errors.Widgets, tt.err) {
				t.Errorf("Errors.Widgets = %v, want %v", st.Errors.Widgets, tt.err)
			}
			if got, _ := st.Widgets.Get("w"); string(got) != `{"v":1}` || st.Widgets.Len() != before.Len() {
				t.Errorf("widgets changed after failure: %v", st.Widgets.Keys())
			}

			// A later success clears the error.
			done = async(func() { _ = s.FetchWidgets(ctx, "") })
			fb.next(t).respond(reply{widgets: map[string]core.Widget{"w": core.Widget(`{"v":2}`)}})
			wait(t, done)
			if err := s.State().Errors.Widgets; err != nil {
				t.Errorf("Errors.Widgets = %v after success", err)
			}
		})
	}
}

func TestScopedAndUnscopedSettlementOrder(t *testing.T) {
	tests := []struct {
		name        string
		scopedFirst bool
		wantExpense string
		wantCredits string
	}{
		{"unscoped settles first", false, "50", "1000"},
		{"scoped settles first", true, "50", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fb := newTestStore(t, nil)
			ctx := context.Background()

			fullDone := async(func() { _ = s.FetchKPIs(ctx, "") })
			full := fb.next(t)
			scopedDone := async(func() { _ = s.FetchKPIs(ctx, "expense") })
			scoped := fb.next(t)

			fullReply := reply{kpis: map[string]core.KPI{
				core.KPITotalCredits: kpi(1000),
				"expense":            kpi(40),
			}}
			scopedReply := reply{kpis: map[string]core.KPI{"expense": kpi(50)}}

			if tt.scopedFirst {
				scoped.respond(scopedReply)
				wait(t, scopedDone)
				full.respond(fullReply)
				wait(t, fullDone)
			} else {
				full.respond(fullReply)
				wait(t, fullDone)
				scoped.respond(scopedReply)
				wait(t, scopedDone)
			}

			st := s.State()
			if got := currentOf(t, st.KPIs, "expense"); got != tt.wantExpense {
				t.Errorf("expense = %s, want %s", got, tt.wantExpense)
			}
			if got := currentOf(t, st.KPIs, core.KPITotalCredits); got != tt.wantCredits {
				t.Errorf("total_credits = %s, want %s", got, tt.wantCredits)
			}
			if st.Loading.KPIs || st.Loading.LoadingKPIs["expense"] {
				t.Errorf("loading flags left set: %+v", st.Loading)
			}
		})
	}
}

func TestStaleUnscopedResponseDiscarded(t *testing.T) {
	s, fb := newTestStore(t, nil)
	ctx := context.Background()

	oldDone := async(func() { _ = s.FetchKPIs(ctx, "") })
	old := fb.next(t)
	newDone := async(func() { _ = s.FetchKPIs(ctx, "") })
	latest := fb.next(t)

	latest.respond(reply{kpis: map[string]core.KPI{"a": kpi(2)}})
	wait(t, newDone)
	if !s.State().Loading.KPIs {
		t.Error("Loading.KPIs should stay true while the older fetch is still in flight")
	}
	old.respond(reply{kpis: map[string]core.KPI{"a": kpi(1), "b": kpi(1)}})
	wait(t, oldDone)

	st := s.State()
	if got := currentOf(t, st.KPIs, "a"); got != "2" {
		t.Errorf("a = %s, want 2 from the newer request", got)
	}
	if st.KPIs.Has("b") {
		t.Error("stale response leaked key b")
	}
	if st.Loading.KPIs {
		t.Error("Loading.KPIs still true")
	}
}

func TestSupersededErrorNotRecorded(t *testing.T) {
	s, fb := newTestStore(t, nil)
	ctx := context.Background()

	oldDone := async(func() { _ = s.FetchCharts(ctx, "") })
	old := fb.next(t)
	newDone := async(func() { _ = s.FetchCharts(ctx, "") })
	latest := fb.next(t)

	latest.respond(reply{charts: map[string]core.ChartSeries{"c": {}}})
	wait(t, newDone)
	old.respond(reply{err: errNetwork})
	wait(t, oldDone)

	if err := s.State().Errors.Charts; err != nil {
		t.Errorf("Errors.Charts = %v, want nil", err)
	}
}

func TestSetDateFilterRejectsInvalid(t *testing.T) {
	s, fb := newTestStore(t, nil)

	bad := []core.DateFilter{
		{Type: core.FilterCustom, StartDate: core.DatePtr(2024, 1, 1)},
		core.Custom(core.NewDate(2024, 2, 1), core.NewDate(2024, 1, 1)),
		{Type: "fortnight"},
	}
	for _, f := range bad {
		if err := s.SetDateFilter(f); !errors.Is(err, core.ErrInvalidFilter) {
			t.Errorf("SetDateFilter(%+v) = %v, want ErrInvalidFilter", f, err)
		}
	}
	if got := s.DateFilter(); !got.Equal(core.DefaultFilter()) {
		t.Errorf("filter = %s, want default", got.Key())
	}
	fb.none(t, 50*time.Millisecond)
}

func TestSetDateFilterDebounces(t *testing.T) {
	s, fb := newTestStore(t, func(c *Config) { c.Debounce = 30 * time.Millisecond })

	filters := []core.DateFilter{
		core.Preset(core.FilterLastWeek),
		core.Preset(core.FilterLastMonth),
		core.Preset(core.FilterLastYear),
	}
	for _, f := range filters {
		if err := s.SetDateFilter(f); err != nil {
			t.Fatalf("SetDateFilter: %v", err)
		}
	}
	if got := s.DateFilter(); !got.Equal(filters[2]) {
		t.Errorf("filter = %s, want it set synchronously", got.Key())
	}

	seen := map[string]bool{}
	for range 3 {
		c := fb.next(t)
		if seen[c.resource] {
			t.Errorf("more than one %s call", c.resource)
		}
		seen[c.resource] = true
		if got := c.query.Get(core.ParamFilterType); got != "year" {
			t.Errorf("%s filter_type = %q, want year", c.resource, got)
		}
		c.respond(reply{})
	}
	fb.none(t, 100*time.Millisecond)
}

func TestNewScheduledRefreshCancelsPrevious(t *testing.T) {
	s, fb := newTestStore(t, func(c *Config) { c.Debounce = 5 * time.Millisecond })

	s.ScheduleRefresh()
	first := map[string]*call{}
	for range 3 {
		c := fb.next(t)
		first[c.resource] = c
	}

	s.ScheduleRefresh()
	for range 3 {
		fb.next(t).respond(reply{kpis: map[string]core.KPI{"fresh": kpi(1)}})
	}

	// The first refresh was cancelled; answering it must not apply anything.
	first[ResourceKPIs].respond(reply{kpis: map[string]core.KPI{"stale": kpi(1)}})

	deadline := time.Now().Add(2 * time.Second)
	for s.State().Loading.Any() {
		if time.Now().After(deadline) {
			t.Fatalf("loading never cleared: %+v", s.State().Loading)
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := s.State()
	if st.KPIs.Has("stale") || !st.KPIs.Has("fresh") {
		t.Errorf("kpis = %v, want [fresh]", st.KPIs.Keys())
	}
	if st.Errors.KPIs != nil {
		t.Errorf("cancellation recorded as error: %v", st.Errors.KPIs)
	}
}

func TestResponseForPreviousFilterDropped(t *testing.T) {
	s, fb := newTestStore(t, func(c *Config) { c.Debounce = time.Hour })
	ctx := context.Background()

	done := async(func() { _ = s.FetchKPIs(ctx, "") })
	c := fb.next(t)
	if err := s.SetDateFilter(core.Preset(core.FilterLastMonth)); err != nil {
		t.Fatal(err)
	}
	c.respond(reply{kpis: map[string]core.KPI{"a": kpi(1)}})
	wait(t, done)

	if st := s.State(); !st.KPIs.IsEmpty() || st.Loading.KPIs {
		t.Errorf("state after filter change = kpis %v loading %v", st.KPIs.Keys(), st.Loading.KPIs)
	}
}

func TestSnapshotCacheServesPreviousFilter(t *testing.T) {
	snaps := cache.NewLRUCache[Snapshots](8, time.Minute)
	s, fb := newTestStore(t, func(c *Config) {
		c.Debounce = time.Hour
		c.SnapshotCache = snaps
	})
	ctx := context.Background()

	done := async(func() { _ = s.FetchKPIs(ctx, "") })
	fb.next(t).respond(reply{kpis: map[string]core.KPI{"all_time": kpi(1)}})
	wait(t, done)

	if err := s.SetDateFilter(core.Preset(core.FilterLastWeek)); err != nil {
		t.Fatal(err)
	}
	done = async(func() { _ = s.FetchKPIs(ctx, "") })
	fb.next(t).respond(reply{kpis: map[string]core.KPI{"week": kpi(2)}})
	wait(t, done)

	if err := s.SetDateFilter(core.DefaultFilter()); err != nil {
		t.Fatal(err)
	}
	if got := s.State().KPIs.Keys(); len(got) != 1 || got[0] != "all_time" {
		t.Errorf("kpis after switching back = %v, want cached [all_time]", got)
	}

	s.Invalidate()
	if snaps.Size() != 0 {
		t.Errorf("cache size after Invalidate = %d", snaps.Size())
	}
}

func TestSnapshotCacheKeepsFiltersApart(t *testing.T) {
	snaps := cache.NewLRUCache[Snapshots](8, time.Minute)
	s, fb := newTestStore(t, func(c *Config) {
		c.Debounce = time.Hour
		c.SnapshotCache = snaps
	})
	ctx := context.Background()
	month := core.Preset(core.FilterLastMonth)

	done := async(func() { _ = s.FetchCharts(ctx, "") })
	fb.next(t).respond(reply{charts: map[string]core.ChartSeries{"all_chart": {}}})
	wait(t, done)

	if err := s.SetDateFilter(month); err != nil {
		t.Fatal(err)
	}
	// Charts still show all-time data until a month fetch lands.
	if got := s.State().Charts.Keys(); len(got) != 1 || got[0] != "all_chart" {
		t.Fatalf("charts after switch = %v, want stale [all_chart]", got)
	}

	done = async(func() { _ = s.FetchKPIs(ctx, "") })
	fb.next(t).respond(reply{kpis: map[string]core.KPI{"month_kpi": kpi(3)}})
	wait(t, done)

	// A scoped chart merged into all-time data belongs to neither filter.
	done = async(func() { _ = s.RefreshSingleChart(ctx, "month_chart") })
	fb.next(t).respond(reply{charts: map[string]core.ChartSeries{"month_chart": {}}})
	wait(t, done)

	entry, ok := snaps.Get(month.Key())
	if !ok {
		t.Fatal("no cache entry for the month filter")
	}
	if got := entry.KPIs.Keys(); len(got) != 1 || got[0] != "month_kpi" {
		t.Errorf("cached month kpis = %v, want [month_kpi]", got)
	}
	if got := entry.Charts.Keys(); len(got) != 0 {
		t.Errorf("cached month charts = %v, want none", got)
	}

	all, ok := snaps.Get(core.DefaultFilter().Key())
	if !ok {
		t.Fatal("no cache entry for the all filter")
	}
	if got := all.Charts.Keys(); len(got) != 1 || got[0] != "all_chart" {
		t.Errorf("cached all charts = %v, want [all_chart]", got)
	}

	done = async(func() { _ = s.FetchCharts(ctx, "") })
	fb.next(t).respond(reply{charts: map[string]core.ChartSeries{"month_chart": {}, "other": {}}})
	wait(t, done)

	entry, _ = snaps.Get(month.Key())
	if got := entry.Charts.Keys(); len(got) != 2 {
		t.Errorf("cached month charts after unscoped fetch = %v, want 2 keys", got)
	}
}

func TestFetchTransactions(t *testing.T) {
	s, fb := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.FetchTransactions(ctx, core.TransactionQuery{Limit: 500}); !errors.Is(err, core.ErrInvalidQuery) {
		t.Errorf("limit 500 error = %v, want ErrInvalidQuery", err)
	}

	q := core.TransactionQuery{Page: 2, Limit: 5, SortBy: "amount", SortOrder: "desc"}
	done := async(func() { _, _ = s.FetchTransactions(ctx, q) })
	c := fb.next(t)
	if c.query.Get(core.ParamPage) != "2" || c.query.Get(core.ParamLimit) != "5" {
		t.Errorf("query = %s", c.query.Encode())
	}
	if !s.State().Loading.Transactions {
		t.Error("Loading.Transactions should be true in flight")
	}
	c.respond(reply{page: core.TransactionPage{Transactions: []core.Transaction{{ID: "t1"}}, Total: 6}})
	wait(t, done)

	st := s.State()
	if st.Transactions.Total != 6 || len(st.Transactions.Transactions) != 1 {
		t.Errorf("transactions = %+v", st.Transactions)
	}
	if st.Loading.Transactions {
		t.Error("Loading.Transactions still true")
	}
}

func TestFetchTransactionsReturnsOwnPage(t *testing.T) {
	s, fb := newTestStore(t, nil)
	ctx := context.Background()

	type result struct {
		page core.TransactionPage
		err  error
	}
	first, second := make(chan result, 1), make(chan result, 1)

	go func() {
		page, err := s.FetchTransactions(ctx, core.TransactionQuery{Page: 1})
		first <- result{page, err}
	}()
	older := fb.next(t)
	go func() {
		page, err := s.FetchTransactions(ctx, core.TransactionQuery{Page: 2})
		second <- result{page, err}
	}()
	newer := fb.next(t)

	newer.respond(reply{page: core.TransactionPage{Total: 2}})
	got := <-second
	if got.err != nil || got.page.Total != 2 {
		t.Fatalf("newer call = %+v", got)
	}

	older.respond(reply{err: errServer})
	got = <-first
	if !errors.Is(got.err, errServer) {
		t.Errorf("older call error = %v, want errServer", got.err)
	}

	st := s.State()
	if st.Transactions.Total != 2 {
		t.Errorf("state page total = %d, want the latest request's 2", st.Transactions.Total)
	}
	if st.Errors.Transactions != nil {
		t.Errorf("superseded failure recorded: %v", st.Errors.Transactions)
	}
}

func TestSubscribeReceivesIncreasingVersions(t *testing.T) {
	s, fb := newTestStore(t, nil)

	var (
		mu       sync.Mutex
		versions []uint64
		final    = make(chan State, 16)
	)
	unsubscribe := s.Subscribe(func(st State) {
		mu.Lock()
		versions = append(versions, st.Version)
		mu.Unlock()
		if st.KPIs.Has("a") && !st.Loading.KPIs {
			final <- st
		}
	})

	done := async(func() { _ = s.FetchKPIs(context.Background(), "") })
	fb.next(t).respond(reply{kpis: map[string]core.KPI{"a": kpi(1)}})
	wait(t, done)

	select {
	case <-final:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw the settled state")
	}
	unsubscribe()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions not increasing: %v", versions)
		}
	}
}

func TestCloseCancelsInFlight(t *testing.T) {
	s, fb := newTestStore(t, nil)

	done := async(func() { _ = s.FetchKPIs(context.Background(), "") })
	fb.next(t)
	s.Close()
	wait(t, done)

	st := s.State()
	if st.Loading.KPIs || st.Errors.KPIs != nil {
		t.Errorf("after close loading=%v err=%v", st.Loading.KPIs, st.Errors.KPIs)
	}
	if err := s.FetchKPIs(context.Background(), ""); !errors.Is(err, ErrClosed) {
		t.Errorf("FetchKPIs after Close = %v, want ErrClosed", err)
	}
	if err := s.SetDateFilter(core.DefaultFilter()); !errors.Is(err, ErrClosed) {
		t.Errorf("SetDateFilter after Close = %v, want ErrClosed", err)
	}
}
