package fib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kuuji/meshrtr/internal/domain"
)

// Sentinel conditions a Driver may report that the reconciler treats as
// success rather than failure (spec §4.6 item 4): adding a route that is
// already installed, or deleting one that is already gone.
var (
	ErrExists  = errors.New("fib: route already exists")
	ErrNoEntry = errors.New("fib: route does not exist")
)

// Params configures a Reconciler's retry behavior (spec §4.6 item 4:
// "exponential up to a ceiling").
type Params struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SubmitRate     rate.Limit // caps the overall rate of driver.Submit calls
	SubmitBurst    int
}

func defaultParams() Params {
	return Params{
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		SubmitRate:     50,
		SubmitBurst:    10,
	}
}

// queuedOp is one pending FIB mutation awaiting submission or retry.
type queuedOp struct {
	id      string
	op      Op
	route   domain.RouteEntry
	attempt int
	retryAt time.Time
}

// Reconciler maintains the installed route set and drives it toward a
// target set through Driver (spec §4.6). Reconcile is non-blocking (it only
// diffs and enqueues, matching the event loop's "dirty bit" rule in §5);
// Drain performs the actual blocking driver calls and must be invoked from
// the event loop's FIB goroutine.
type Reconciler struct {
	driver Driver
	log    *slog.Logger
	params Params
	lim    *rate.Limiter

	mu        sync.Mutex
	installed map[domain.InstallKey]domain.RouteEntry
	queue     []*queuedOp
	failed    map[domain.InstallKey]*queuedOp
}

// New constructs a Reconciler with default backoff parameters. logger may
// be nil.
func New(driver Driver, logger *slog.Logger) *Reconciler {
	return NewWithParams(driver, defaultParams(), logger)
}

// NewWithParams constructs a Reconciler with explicit retry parameters.
func NewWithParams(driver Driver, p Params, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		driver:    driver,
		log:       logger.With("component", "fib"),
		params:    p,
		lim:       rate.NewLimiter(p.SubmitRate, p.SubmitBurst),
		installed: make(map[domain.InstallKey]domain.RouteEntry),
		failed:    make(map[domain.InstallKey]*queuedOp),
	}
}

// Reconcile diffs target against the currently installed set and enqueues
// the operations needed to converge: adds/replaces first, deletes last
// (spec §4.6 item 2, "so packets always have a route"). It never blocks.
func (r *Reconciler) Reconcile(target []domain.RouteEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[domain.InstallKey]domain.RouteEntry, len(target))
	for _, rt := range target {
		wanted[rt.InstallKey()] = rt
	}

	var adds, deletes []*queuedOp
	for key, rt := range wanted {
		if cur, ok := r.installed[key]; !ok {
			adds = append(adds, r.newOp(OpAdd, rt))
		} else if cur != rt {
			adds = append(adds, r.newOp(OpReplace, rt))
		}
		delete(r.failed, key)
	}
	for key, rt := range r.installed {
		if _, ok := wanted[key]; !ok {
			deletes = append(deletes, r.newOp(OpDelete, rt))
		}
	}

	r.queue = append(r.queue, adds...)
	r.queue = append(r.queue, deletes...)
}

func (r *Reconciler) newOp(op Op, route domain.RouteEntry) *queuedOp {
	return &queuedOp{id: uuid.NewString(), op: op, route: route}
}

// Drain submits every queued operation (and any due retries) through the
// driver, blocking on each acknowledgment; core calls it from its
// housekeeping goroutine (spec §5). It returns once the queue is empty or ctx is
// canceled.
func (r *Reconciler) Drain(ctx context.Context) error {
	for {
		op := r.nextDue()
		if op == nil {
			return nil
		}
		if err := r.lim.Wait(ctx); err != nil {
			return fmt.Errorf("fib: rate limiter wait: %w", err)
		}
		r.submit(ctx, op)
	}
}

// nextDue pops the next queued op that is either fresh or past its retry
// deadline, re-queuing anything not yet due.
func (r *Reconciler) nextDue() *queuedOp {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for i, op := range r.queue {
		if op.attempt == 0 || !now.Before(op.retryAt) {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return op
		}
	}
	return nil
}

func (r *Reconciler) submit(ctx context.Context, op *queuedOp) {
	err := r.driver.Submit(ctx, op.op, op.route)
	key := op.route.InstallKey()

	switch {
	case err == nil:
		r.commit(op, key)
	case (op.op == OpAdd || op.op == OpReplace) && errors.Is(err, ErrExists):
		r.log.Debug("add treated as success: already installed", "route", op.route, "id", op.id)
		r.commit(op, key)
	case op.op == OpDelete && errors.Is(err, ErrNoEntry):
		r.log.Debug("delete treated as success: already absent", "route", op.route, "id", op.id)
		r.commit(op, key)
	default:
		r.retry(op, err)
	}
}

func (r *Reconciler) commit(op *queuedOp, key domain.InstallKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.op == OpDelete {
		delete(r.installed, key)
	} else {
		r.installed[key] = op.route
	}
	delete(r.failed, key)
}

// retry schedules op for another attempt after an exponentially growing
// backoff (Params.InitialBackoff doubled per failed attempt, capped at
// Params.MaxBackoff). The number of attempts is not limited: a failing op
// stays queued until the driver accepts it.
func (r *Reconciler) retry(op *queuedOp, cause error) {
	op.attempt++
	backoff := r.params.InitialBackoff << uint(op.attempt-1)
	if backoff <= 0 || backoff > r.params.MaxBackoff {
		backoff = r.params.MaxBackoff
	}
	op.retryAt = time.Now().Add(backoff)

	r.log.Warn("fib operation failed, scheduling retry",
		"op", op.op, "route", op.route, "attempt", op.attempt, "backoff", backoff, "err", cause)

	r.mu.Lock()
	r.queue = append(r.queue, op)
	r.failed[op.route.InstallKey()] = op
	r.mu.Unlock()
}

// Installed returns a snapshot of the currently installed route set.
func (r *Reconciler) Installed() []domain.RouteEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RouteEntry, 0, len(r.installed))
	for _, rt := range r.installed {
		out = append(out, rt)
	}
	return out
}

// Pending reports how many operations are queued or awaiting retry.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Failed returns the routes whose most recent submission attempt failed and
// which are queued for retry, for diagnostics. No driver error is treated
// as permanent: every failure is retried, and a route leaves this set when
// an attempt succeeds or a later Reconcile lists it again.
func (r *Reconciler) Failed() []domain.RouteEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RouteEntry, 0, len(r.failed))
	for _, op := range r.failed {
		out = append(out, op.route)
	}
	return out
}

// Flush deletes every currently installed route and drains until the queue
// is empty or ctx's deadline expires (spec §4.6 item 5, shutdown).
func (r *Reconciler) Flush(ctx context.Context) error {
	r.mu.Lock()
	for _, rt := range r.installed {
		r.queue = append(r.queue, r.newOp(OpDelete, rt))
	}
	r.mu.Unlock()
	return r.Drain(ctx)
}
