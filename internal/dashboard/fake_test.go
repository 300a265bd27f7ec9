package dashboard

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finboard/internal/core"
)

// call is one request seen by fakeBackend. The test answers it by sending on
// reply, which pins the settlement order.
type call struct {
	resource string
	query    url.Values
	reply    chan reply
}

type reply struct {
	kpis    map[string]core.KPI
	charts  map[string]core.ChartSeries
	widgets map[string]core.Widget
	page    core.TransactionPage
	err     error
}

func (c *call) respond(r reply) { c.reply <- r }

type fakeBackend struct {
	calls chan *call
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(chan *call, 32)}
}

func (f *fakeBackend) do(ctx context.Context, resource string, q url.Values) (reply, error) {
	c := &call{resource: resource, query: q, reply: make(chan reply, 1)}
	select {
	case f.calls <- c:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (f *fakeBackend) KPIs(ctx context.Context, q url.Values) (map[string]core.KPI, error) {
	r, err := f.do(ctx, ResourceKPIs, q)
	return r.kpis, err
}

func (f *fakeBackend) Charts(ctx context.Context, q url.Values) (map[string]core.ChartSeries, error) {
	r, err := f.do(ctx, ResourceCharts, q)
	return r.charts, err
}

func (f *fakeBackend) Widgets(ctx context.Context, q url.Values) (map[string]core.Widget, error) {
	r, err := f.do(ctx, ResourceWidgets, q)
	return r.widgets, err
}

func (f *fakeBackend) Transactions(ctx context.Context, q url.Values) (core.TransactionPage, error) {
	r, err := f.do(ctx, ResourceTransactions, q)
	return r.page, err
}

// next returns the next request or fails the test.
func (f *fakeBackend) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a backend call")
		return nil
	}
}

// none fails if a request arrives within d.
func (f *fakeBackend) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected %s call with %s", c.resource, c.query.Encode())
	case <-time.After(d):
	}
}

func newTestStore(t *testing.T, mutate func(*Config)) (*Store, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	cfg := DefaultConfig()
	cfg.Debounce = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(fb, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, fb
}

// async runs fn in a goroutine and returns a channel closed when it returns.
func async(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch to settle")
	}
}

func kpi(n int64) core.KPI {
	return core.KPI{Current: core.NumberValue(decimal.NewFromInt(n))}
}

func currentOf(t *testing.T, snap core.KPISnapshot, key string) string {
	t.Helper()
	k, ok := snap.Get(key)
	if !ok {
		return "<missing>"
	}
	return k.Current.String()
}
