package fib

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

func route(dst string, metric uint32) domain.RouteEntry {
	p := netip.MustParsePrefix(dst)
	return domain.RouteEntry{
		Family: addr.IPv4, Key: addr.RouteKey{Dst: addr.FromPrefix(p)},
		Metric: metric, Table: 254, Protocol: 10,
	}
}

// fakeDriver is an in-memory Driver: Submit can be scripted to fail a fixed
// number of times per route before succeeding, modeling scenario 6 (a
// transient EBUSY-style failure that clears on retry).
type fakeDriver struct {
	mu          sync.Mutex
	failUntil   map[domain.InstallKey]int
	submitCount map[domain.InstallKey]int
	applied     map[domain.InstallKey]Op
	submits     int32
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		failUntil:   make(map[domain.InstallKey]int),
		submitCount: make(map[domain.InstallKey]int),
		applied:     make(map[domain.InstallKey]Op),
	}
}

func (f *fakeDriver) failFirstN(route domain.RouteEntry, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUntil[route.InstallKey()] = n
}

func (f *fakeDriver) Submit(ctx context.Context, op Op, rt domain.RouteEntry) error {
	atomic.AddInt32(&f.submits, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := rt.InstallKey()
	f.submitCount[key]++
	if n := f.failUntil[key]; n > 0 {
		f.failUntil[key] = n - 1
		return errors.New("EBUSY")
	}
	f.applied[key] = op
	return nil
}

func (f *fakeDriver) Dump(ctx context.Context, filter domain.RouteEntry) ([]domain.RouteEntry, error) {
	return nil, nil
}

func (f *fakeDriver) SupportsSourceSpecific(family addr.Family) bool { return family == addr.IPv6 }

func (f *fakeDriver) Close() error { return nil }

func (f *fakeDriver) submitCountFor(rt domain.RouteEntry) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCount[rt.InstallKey()]
}

func (f *fakeDriver) appliedOp(rt domain.RouteEntry) (Op, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.applied[rt.InstallKey()]
	return op, ok
}

func testParams() Params {
	return Params{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, SubmitRate: rate.Inf, SubmitBurst: 1000}
}

func TestReconcileAddsNewRoutes(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	r := NewWithParams(drv, testParams(), nil)

	r.Reconcile([]domain.RouteEntry{route("10.0.0.0/24", 1)})
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	op, ok := drv.appliedOp(route("10.0.0.0/24", 1))
	if !ok || op != OpAdd {
		t.Fatalf("expected an add for 10.0.0.0/24, got op=%v ok=%v", op, ok)
	}
	if len(r.Installed()) != 1 {
		t.Fatalf("expected one installed route, got %d", len(r.Installed()))
	}
}

func TestReconcileDeletesRemovedRoutes(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	r := NewWithParams(drv, testParams(), nil)

	rt := route("10.0.0.0/24", 1)
	r.Reconcile([]domain.RouteEntry{rt})
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	r.Reconcile(nil)
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if op, ok := drv.appliedOp(rt); !ok || op != OpDelete {
		t.Fatalf("expected a delete for 10.0.0.0/24, got op=%v ok=%v", op, ok)
	}
	if len(r.Installed()) != 0 {
		t.Fatalf("expected zero installed routes, got %d", len(r.Installed()))
	}
}

// TestFIBRetry is scenario 6: a driver failure on ADD is retried and
// eventually installs exactly one entry.
func TestFIBRetry(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	rt := route("10.0.0.0/24", 1)
	drv.failFirstN(rt, 2)

	r := NewWithParams(drv, testParams(), nil)
	r.Reconcile([]domain.RouteEntry{rt})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := r.Drain(context.Background()); err != nil {
			t.Fatalf("Drain: %v", err)
		}
		if len(r.Installed()) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	installed := r.Installed()
	if len(installed) != 1 {
		t.Fatalf("expected exactly one installed route after retry, got %d", len(installed))
	}
	if drv.submitCountFor(rt) != 3 {
		t.Fatalf("expected 3 submit attempts (2 failures + 1 success), got %d", drv.submitCountFor(rt))
	}
	if len(r.Failed()) != 0 {
		t.Fatalf("expected no routes left in the failed set after a successful retry, got %d", len(r.Failed()))
	}
}

// TestEEXISTTreatedAsSuccess: an ADD that the driver reports as EEXIST
// installs the route rather than retrying indefinitely.
func TestEEXISTTreatedAsSuccess(t *testing.T) {
	t.Parallel()

	drv := &existsDriver{}
	r := NewWithParams(drv, testParams(), nil)

	rt := route("10.0.0.0/24", 1)
	r.Reconcile([]domain.RouteEntry{rt})
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(r.Installed()) != 1 {
		t.Fatalf("expected EEXIST to be treated as a successful install, got %d installed", len(r.Installed()))
	}
}

type existsDriver struct{}

func (existsDriver) Submit(ctx context.Context, op Op, rt domain.RouteEntry) error {
	if op == OpDelete {
		return ErrNoEntry
	}
	return ErrExists
}
func (existsDriver) Dump(ctx context.Context, filter domain.RouteEntry) ([]domain.RouteEntry, error) {
	return nil, nil
}
func (existsDriver) SupportsSourceSpecific(addr.Family) bool { return false }
func (existsDriver) Close() error                            { return nil }

// TestFlushDeletesEverythingInstalled covers the shutdown path (spec §4.6
// item 5).
func TestFlushDeletesEverythingInstalled(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	r := NewWithParams(drv, testParams(), nil)

	a, b := route("10.0.0.0/24", 1), route("10.0.1.0/24", 1)
	r.Reconcile([]domain.RouteEntry{a, b})
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(r.Installed()) != 2 {
		t.Fatalf("expected 2 installed before flush, got %d", len(r.Installed()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(r.Installed()) != 0 {
		t.Fatalf("expected 0 installed after flush, got %d", len(r.Installed()))
	}
}
