// Package dashboard owns the dashboard state: the active date filter, the
// KPI, chart and widget snapshots, the transaction page, and the loading and
// error flags that go with them. All mutation goes through Store.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finboard/internal/cache"
	"finboard/internal/core"
	"finboard/internal/log"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("dashboard store closed")

// Config holds store settings.
type Config struct {
	// InitialFilter is the filter active before the first SetDateFilter.
	InitialFilter core.DateFilter
	// Debounce delays the refresh triggered by filter changes and events.
	Debounce time.Duration
	// SnapshotCache keeps the snapshots of recently viewed filters, keyed by
	// DateFilter.Key. Nil disables it.
	SnapshotCache cache.Cache[Snapshots]
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		InitialFilter: core.DefaultFilter(),
		Debounce:      250 * time.Millisecond,
	}
}

type subscriber struct {
	id uint64
	fn func(State)
}

type transactions struct {
	page     core.TransactionPage
	next     uint64
	latest   uint64
	inflight int
	err      error
}

// Store is the single owner of dashboard state.
type Store struct {
	backend Backend
	cfg     Config
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	version uint64
	filter  core.DateFilter
	kpis    *resource[core.KPI]
	charts  *resource[core.ChartSeries]
	widgets *resource[core.Widget]
	tx      transactions

	timer         *time.Timer
	refreshSeq    uint64
	refreshCancel context.CancelFunc
	refreshes     sync.WaitGroup
	closed        bool
	closeOnce     sync.Once

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New creates a store reading from backend. A nil logger discards output.
func New(backend Backend, cfg Config, logger *log.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("dashboard: backend is required")
	}
	if err := cfg.InitialFilter.Validate(); err != nil {
		return nil, fmt.Errorf("dashboard: initial filter: %w", err)
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if logger == nil {
		logger = log.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend: backend,
		cfg:     cfg,
		logger:  logger.WithComponent(log.ComponentStore),
		ctx:     ctx,
		cancel:  cancel,
		filter:  cfg.InitialFilter,
		kpis:    newResource(ResourceKPIs, core.ParamKPIType, true, backend.KPIs),
		charts:  newResource(ResourceCharts, core.ParamChartType, true, backend.Charts),
		// The widgets endpoint only understands presets, so dates stay off.
		widgets: newResource(ResourceWidgets, core.ParamWidgetType, false, backend.Widgets),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	owner := s.filter.Key()
	s.kpis.owner, s.charts.owner, s.widgets.owner = owner, owner, owner
	if snaps, ok := s.cachedLocked(s.filter); ok {
		s.swapLocked(owner, snaps)
	}
	go s.notifyLoop()
	return s, nil
}

// State returns a consistent copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Version:      s.version,
		DateFilter:   s.filter,
		KPIs:         s.kpis.snap,
		Charts:       s.charts.snap,
		Widgets:      s.widgets.snap,
		Transactions: s.tx.page,
		Errors: Errors{
			KPIs:         s.kpis.err,
			Charts:       s.charts.err,
			Widgets:      s.widgets.err,
			Transactions: s.tx.err,
		},
	}
	st.Loading.KPIs, st.Loading.LoadingKPIs = s.kpis.loading()
	st.Loading.Charts, st.Loading.LoadingCharts = s.charts.loading()
	st.Loading.Widgets, st.Loading.LoadingWidgets = s.widgets.loading()
	st.Loading.Transactions = s.tx.inflight > 0
	return st
}

// DateFilter returns the active filter.
func (s *Store) DateFilter() core.DateFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// SetDateFilter validates and activates next, then schedules one debounced
// refresh. An invalid filter is rejected and the active filter is kept.
func (s *Store) SetDateFilter(next core.DateFilter) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev := s.filter
	s.filter = next
	if !prev.Equal(next) {
		if snaps, ok := s.cachedLocked(next); ok {
			s.swapLocked(next.Key(), snaps)
			s.logger.Debug("Showing cached snapshots", log.FieldFilterType, next.Key())
		}
	}
	s.changedLocked()
	s.scheduleLocked()

	s.logger.Info("Date filter changed",
		"from", prev.Key(),
		"to", next.Key(),
	)
	return nil
}

// FetchKPIs fetches all KPIs, or only kpiType when it is not empty. Backend
// failures are recorded in State().Errors; the returned error only reports a
// rejected key or a closed store.
func (s *Store) FetchKPIs(ctx context.Context, kpiType string) error {
	return fetch(ctx, s, s.kpis, kpiType)
}

// FetchCharts is FetchKPIs for charts.
func (s *Store) FetchCharts(ctx context.Context, chartType string) error {
	return fetch(ctx, s, s.charts, chartType)
}

// FetchWidgets is FetchKPIs for widgets. Only the filter type is forwarded.
func (s *Store) FetchWidgets(ctx context.Context, widgetType string) error {
	return fetch(ctx, s, s.widgets, widgetType)
}

// RefreshSingleKPI refetches one KPI.
func (s *Store) RefreshSingleKPI(ctx context.Context, key string) error {
	if err := core.CheckKey(key); err != nil {
		return err
	}
	return s.FetchKPIs(ctx, key)
}

// RefreshSingleChart refetches one chart.
func (s *Store) RefreshSingleChart(ctx context.Context, key string) error {
	if err := core.CheckKey(key); err != nil {
		return err
	}
	return s.FetchCharts(ctx, key)
}

// RefreshSingleWidget refetches one widget.
func (s *Store) RefreshSingleWidget(ctx context.Context, key string) error {
	if err := core.CheckKey(key); err != nil {
		return err
	}
	return s.FetchWidgets(ctx, key)
}

// RefreshDashboard fetches KPIs, charts and widgets concurrently and returns
// once all three have settled.
func (s *Store) RefreshDashboard(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.FetchKPIs(ctx, "") })
	g.Go(func() error { return s.FetchCharts(ctx, "") })
	g.Go(func() error { return s.FetchWidgets(ctx, "") })
	return g.Wait()
}

// FetchTransactions loads one page of transactions and returns the page and
// backend error of this call. State().Transactions follows the latest request.
func (s *Store) FetchTransactions(ctx context.Context, q core.TransactionQuery) (core.TransactionPage, error) {
	if err := q.Validate(); err != nil {
		return core.TransactionPage{}, err
	}
	ctx, release := s.bind(ctx)
	defer release()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.TransactionPage{}, ErrClosed
	}
	s.tx.next++
	seq := s.tx.next
	s.tx.latest = seq
	s.tx.inflight++
	s.changedLocked()
	s.mu.Unlock()

	var (
		page    core.TransactionPage
		err     error
		settled bool
	)
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tx.inflight--
		defer s.changedLocked()
		if !settled || seq != s.tx.latest || ctx.Err() != nil {
			return
		}
		if err != nil {
			s.tx.err = err
			s.logger.WithContextFields(ctx).Error("Failed to fetch transactions",
				log.NewFields().
					WithOperation(log.OpFetch).
					WithResource(ResourceTransactions, "").
					WithError(err).
					ToSlice()...,
			)
			return
		}
		s.tx.page = page
		s.tx.err = nil
	}()

	page, err = s.backend.Transactions(ctx, q.Values())
	settled = true
	if err != nil {
		return core.TransactionPage{}, fmt.Errorf("fetch transactions: %w", err)
	}
	return page, nil
}

// ScheduleRefresh arms the debounced refresh. Calls within the debounce
// window collapse into one refresh for the filter active when it fires.
func (s *Store) ScheduleRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.scheduleLocked()
}

// Invalidate drops the cached snapshots of every filter. The data on screen
// stays until the next refresh replaces it.
func (s *Store) Invalidate() {
	if s.cfg.SnapshotCache == nil {
		return
	}
	s.cfg.SnapshotCache.Purge()
	s.logger.Debug("Snapshot cache invalidated")
}

// Subscribe registers fn to be called after state changes. Calls happen on a
// single goroutine, outside the store lock, with increasing versions; bursts
// of changes may be coalesced into one call. The returned function
// unsubscribes.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return sync.OnceFunc(func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	})
}

// Close stops the pending debounced refresh, cancels in-flight fetches and
// waits for the notifier to exit.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
		}
		if s.refreshCancel != nil {
			s.refreshCancel()
		}
		s.mu.Unlock()

		s.cancel()
		s.refreshes.Wait()
		close(s.done)
		<-s.stopped
		s.logger.Info("Dashboard store closed")
	})
}

// fetch runs one KPI, chart or widget request. The loading flag is set
// before the request and cleared when it settles, whatever the outcome.
func fetch[T any](ctx context.Context, s *Store, r *resource[T], key string) error {
	if key != "" {
		if err := core.CheckKey(key); err != nil {
			return err
		}
	}
	ctx, release := s.bind(ctx)
	defer release()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	filter := s.filter
	seq := r.begin(key)
	query := r.params(filter, key)
	s.changedLocked()
	s.mu.Unlock()

	logger := s.logger.WithContextFields(ctx).With(
		log.FieldResource, r.name,
		log.FieldKey, key,
		log.FieldFilterType, filter.Key(),
		log.FieldSeq, seq,
	)
	logger.Debug("Fetching")

	var (
		data    map[string]T
		err     error
		settled bool
	)
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		r.end(key)
		defer s.changedLocked()

		switch {
		case !settled:
			return
		case ctx.Err() != nil:
			logger.Debug("Fetch cancelled")
			return
		case !filter.Equal(s.filter):
			logger.Debug("Dropping response for previous filter")
			return
		case err != nil:
			logger.Error("Fetch failed",
				log.NewFields().WithOperation(log.OpFetch).WithError(err).ToSlice()...,
			)
			if r.gen.current(key, seq) && r.gen.settle(seq) {
				r.err = err
			}
			return
		}

		if !r.apply(key, seq, data, filter.Key()) {
			logger.Debug("Dropping superseded response")
			return
		}
		if r.gen.settle(seq) {
			r.err = nil
		}
		s.storeSnapshotsLocked()
	}()

	data, err = r.read(ctx, query)
	settled = true
	return nil
}

// bind derives a context that is also cancelled when the store closes.
func (s *Store) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Store) scheduleLocked() {
	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.Debounce, s.runScheduledRefresh)
		return
	}
	s.timer.Reset(s.cfg.Debounce)
}

// runScheduledRefresh cancels the previous debounced refresh and starts a new
// one for the current filter.
func (s *Store) runScheduledRefresh() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.refreshSeq++
	seq := s.refreshSeq
	s.refreshCancel = cancel
	s.refreshes.Add(1)
	filter := s.filter
	s.mu.Unlock()

	defer s.refreshes.Done()
	defer cancel()

	s.logger.Debug("Running scheduled refresh", log.FieldFilterType, filter.Key())
	if err := s.RefreshDashboard(ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("Scheduled refresh failed", log.FieldError, err)
	}

	s.mu.Lock()
	if s.refreshSeq == seq {
		s.refreshCancel = nil
	}
	s.mu.Unlock()
}

func (s *Store) cachedLocked(f core.DateFilter) (Snapshots, bool) {
	if s.cfg.SnapshotCache == nil {
		return Snapshots{}, false
	}
	return s.cfg.SnapshotCache.Get(f.Key())
}

func (s *Store) swapLocked(owner string, snaps Snapshots) {
	s.kpis.swap(snaps.KPIs, owner)
	s.charts.swap(snaps.Charts, owner)
	s.widgets.swap(snaps.Widgets, owner)
}

// storeSnapshotsLocked caches the classes whose data was fetched for the
// active filter. Classes still showing another filter's data keep whatever
// the cache entry already holds.
func (s *Store) storeSnapshotsLocked() {
	if s.cfg.SnapshotCache == nil {
		return
	}
	key := s.filter.Key()
	entry, _ := s.cfg.SnapshotCache.Get(key)
	owned := false
	if s.kpis.ownedBy(key) {
		entry.KPIs, owned = s.kpis.snap, true
	}
	if s.charts.ownedBy(key) {
		entry.Charts, owned = s.charts.snap, true
	}
	if s.widgets.ownedBy(key) {
		entry.Widgets, owned = s.widgets.snap, true
	}
	if owned {
		s.cfg.SnapshotCache.Set(key, entry)
	}
}

// changedLocked bumps the version and wakes the notifier.
func (s *Store) changedLocked() {
	s.version++
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) notifyLoop() {
	defer close(s.stopped)

	var delivered uint64
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
		}

		st := s.State()
		if st.Version <= delivered {
			continue
		}
		delivered = st.Version

		s.subMu.Lock()
		subs := slices.Clone(s.subs)
		s.subMu.Unlock()
		for _, sub := range subs {
			sub.fn(st)
		}
	}
}
