// Package pool implements a bounded, FIFO-fair connection pool generic over
// the pooled resource type. Callers obtain exclusive leases via Acquire and
// must return them exactly once via Release (or Discard for broken
// resources). When the pool is exhausted, callers queue in strict arrival
// order; a per-client fairness cap prevents one client identity from
// monopolizing the pool.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgscope/pgscope/internal/metrics"
)

// Config configures a Pool. Constructor is required; Destructor and
// HealthCheck are optional.
type Config[T any] struct {
	// Constructor opens a new resource. Failures surface to the acquiring
	// caller as *BackendUnavailableError and never consume a wait-queue slot.
	Constructor func(ctx context.Context) (T, error)

	// Destructor disposes a resource. Called for evicted idle resources,
	// resources that fail their health probe, discarded leases, and all
	// resources on Close.
	Destructor func(res T)

	// HealthCheck probes an idle resource before it is handed out. A probe
	// failure discards the resource and the pool transparently retries with
	// another idle resource or a fresh one. Nil disables probing.
	HealthCheck func(ctx context.Context, res T) error

	// MinConns is the floor below which idle eviction never shrinks the
	// pool. Must be >= 1.
	MinConns int

	// MaxConns bounds leased + idle resources. Must be >= MinConns.
	MaxConns int

	// MaxQueue bounds the wait queue. 0 means callers never queue: an
	// exhausted pool fails acquires immediately.
	MaxQueue int

	// IdleTimeout evicts idle resources older than this on each
	// acquire/release (lazy sweep, no background timer). 0 disables.
	IdleTimeout time.Duration

	// FairnessFraction caps the share of MaxConns a single client identity
	// may hold concurrently (e.g. 0.4 allows 4 of 10). Queued waiters count
	// toward the cap, so a client cannot park extra demand in the wait queue
	// and overshoot once handoffs arrive. 0 disables the cap.
	FairnessFraction float64
}

// pooled is one physical resource plus bookkeeping. Owned exclusively by the
// pool; callers only ever see it through a Lease.
type pooled[T any] struct {
	res       T
	id        uint64
	createdAt time.Time
	lastUsed  time.Time
}

// Lease is a caller's exclusive, single-use right to one pooled resource.
// It must be returned via Pool.Release or Pool.Discard exactly once.
type Lease[T any] struct {
	pc       *pooled[T]
	clientID string
}

// Value returns the leased resource. Only valid between Acquire and
// Release/Discard.
func (l *Lease[T]) Value() T { return l.pc.res }

// handoff is what a queued waiter receives: either a concrete resource, or
// (when a discard freed capacity) permission to construct its own.
type handoff[T any] struct {
	pc   *pooled[T]
	slot bool
}

type waiter[T any] struct {
	ch       chan handoff[T]
	lease    *Lease[T]
	enqueued time.Time
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Active  int
	Idle    int
	Waiting int
	Max     int
}

// Pool multiplexes concurrent callers onto at most MaxConns resources.
// All methods are safe for concurrent use.
type Pool[T any] struct {
	cfg    Config[T]
	nextID atomic.Uint64

	mu      sync.Mutex
	idle    []*pooled[T] // LIFO: most recently used at the end
	leases  map[*Lease[T]]struct{}
	held    map[string]int // outstanding leases per client identity
	queued  map[string]int // queued waiters per client identity
	waiters []*waiter[T]   // FIFO: head at index 0
	total   int            // leased + idle + reserved construction slots
	closed  bool
}

// New creates a Pool. Panics on invalid config — misconfiguration is a
// programming error, not a runtime condition.
func New[T any](cfg Config[T]) *Pool[T] {
	if cfg.Constructor == nil {
		panic("pool: Constructor must be set")
	}
	if cfg.MinConns < 1 {
		panic("pool: MinConns must be >= 1")
	}
	if cfg.MaxConns < cfg.MinConns {
		panic(fmt.Sprintf("pool: MaxConns (%d) must be >= MinConns (%d)", cfg.MaxConns, cfg.MinConns))
	}
	if cfg.MaxQueue < 0 {
		panic("pool: MaxQueue must be >= 0")
	}
	if cfg.FairnessFraction < 0 || cfg.FairnessFraction > 1 {
		panic("pool: FairnessFraction must be in [0, 1]")
	}
	return &Pool[T]{
		cfg:    cfg,
		leases: make(map[*Lease[T]]struct{}),
		held:   make(map[string]int),
		queued: make(map[string]int),
	}
}

// clientCap returns the per-client concurrent lease cap, or 0 if disabled.
func (p *Pool[T]) clientCap() int {
	if p.cfg.FairnessFraction <= 0 {
		return 0
	}
	cap := int(p.cfg.FairnessFraction * float64(p.cfg.MaxConns))
	if cap < 1 {
		cap = 1
	}
	return cap
}

// Acquire returns an exclusive lease on a resource. It blocks while queued,
// up to the context deadline. Queued callers are served strictly FIFO.
//
// Failure modes: *FairnessLimitError (client already at its cap, fail-fast),
// ErrPoolExhausted (wait queue full), *AcquireTimeoutError (deadline expired
// while queued), *BackendUnavailableError (resource construction failed),
// ErrPoolClosed.
func (p *Pool[T]) Acquire(ctx context.Context, clientID string) (*Lease[T], error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		metrics.PoolAcquires.WithLabelValues("closed").Inc()
		return nil, ErrPoolClosed
	}

	// Queued waiters count toward the cap: each will become a held lease via
	// handoff, and handoffs do not re-check fairness.
	if cap := p.clientCap(); cap > 0 && p.held[clientID]+p.queued[clientID] >= cap {
		held, queued := p.held[clientID], p.queued[clientID]
		p.mu.Unlock()
		metrics.PoolAcquires.WithLabelValues("fairness").Inc()
		return nil, &FairnessLimitError{ClientID: clientID, Held: held, Queued: queued, Limit: cap}
	}

	if victims := p.sweepIdleLocked(time.Now()); len(victims) > 0 {
		defer p.destroyAll(victims)
	}

	// Reuse an idle resource, probing before handout. A failed probe
	// discards the resource; the loop transparently retries with the next
	// idle resource or falls through to fresh construction.
	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		lease := &Lease[T]{pc: pc, clientID: clientID}
		p.registerLocked(lease)
		p.mu.Unlock()

		if p.cfg.HealthCheck == nil || p.cfg.HealthCheck(ctx, pc.res) == nil {
			metrics.PoolAcquires.WithLabelValues("acquired").Inc()
			return lease, nil
		}

		metrics.PoolConnErrors.WithLabelValues("health_check_failed").Inc()
		if p.cfg.Destructor != nil {
			p.cfg.Destructor(pc.res)
		}
		p.mu.Lock()
		p.unregisterLocked(lease)
		p.total--
		p.updateGaugesLocked()
		if p.closed {
			p.mu.Unlock()
			metrics.PoolAcquires.WithLabelValues("closed").Inc()
			return nil, ErrPoolClosed
		}
	}

	// No idle resource: construct a fresh one if capacity allows. The
	// construction slot is reserved before unlocking so concurrent acquires
	// cannot overshoot MaxConns.
	if p.total < p.cfg.MaxConns {
		p.total++
		lease := &Lease[T]{clientID: clientID}
		p.registerLocked(lease)
		p.mu.Unlock()
		return p.construct(ctx, lease)
	}

	// At capacity: queue, bounded.
	if len(p.waiters) >= p.cfg.MaxQueue {
		p.mu.Unlock()
		metrics.PoolAcquires.WithLabelValues("exhausted").Inc()
		return nil, ErrPoolExhausted
	}
	w := &waiter[T]{
		ch:       make(chan handoff[T], 1),
		lease:    &Lease[T]{clientID: clientID},
		enqueued: start,
	}
	p.waiters = append(p.waiters, w)
	p.queued[clientID]++
	p.updateGaugesLocked()
	p.mu.Unlock()

	select {
	case h, ok := <-w.ch:
		metrics.PoolWaitSeconds.Observe(time.Since(start).Seconds())
		if !ok {
			metrics.PoolAcquires.WithLabelValues("closed").Inc()
			return nil, ErrPoolClosed
		}
		if h.slot {
			// A discard freed capacity; the slot is already reserved for us.
			return p.construct(ctx, w.lease)
		}
		w.lease.pc = h.pc
		metrics.PoolAcquires.WithLabelValues("acquired").Inc()
		return w.lease, nil

	case <-ctx.Done():
		if p.abandonWait(w) {
			metrics.PoolWaitSeconds.Observe(time.Since(start).Seconds())
			if ctx.Err() == context.DeadlineExceeded {
				metrics.PoolAcquires.WithLabelValues("timeout").Inc()
				return nil, &AcquireTimeoutError{Waited: time.Since(start)}
			}
			metrics.PoolAcquires.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		}
		// Lost the race: a handoff was already committed to us. Take it and
		// pass it on — the resource goes to the next waiter or the idle set,
		// never to the abandoning caller.
		h, ok := <-w.ch
		if ok {
			p.passOn(w.lease, h)
		}
		metrics.PoolAcquires.WithLabelValues("cancelled").Inc()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &AcquireTimeoutError{Waited: time.Since(start)}
		}
		return nil, ctx.Err()
	}
}

// construct finishes an acquire that holds a reserved construction slot.
// The lease is already registered.
func (p *Pool[T]) construct(ctx context.Context, lease *Lease[T]) (*Lease[T], error) {
	res, err := p.cfg.Constructor(ctx)
	if err != nil {
		p.mu.Lock()
		p.unregisterLocked(lease)
		p.total--
		// The freed capacity may satisfy a queued waiter; hand the slot on
		// rather than stranding the waiter until its deadline.
		p.grantSlotToNextLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()
		metrics.PoolConnErrors.WithLabelValues("create_failed").Inc()
		metrics.PoolAcquires.WithLabelValues("backend_error").Inc()
		return nil, &BackendUnavailableError{Err: err}
	}
	now := time.Now()
	lease.pc = &pooled[T]{res: res, id: p.nextID.Add(1), createdAt: now, lastUsed: now}
	metrics.PoolAcquires.WithLabelValues("acquired").Inc()
	return lease, nil
}

// Release returns a leased resource to the pool. If a caller is queued, the
// resource is handed directly to the head waiter, avoiding a re-acquire
// race. Releasing an unknown or already-released lease returns
// ErrReleaseOfUnknownLease.
func (p *Pool[T]) Release(lease *Lease[T]) error {
	p.mu.Lock()
	if _, ok := p.leases[lease]; !ok {
		p.mu.Unlock()
		return ErrReleaseOfUnknownLease
	}
	p.unregisterLocked(lease)
	pc := lease.pc

	if p.closed {
		// Outstanding leases finish normally after Close; their resources
		// are disposed here instead of returning to the idle set.
		p.total--
		p.updateGaugesLocked()
		p.mu.Unlock()
		if p.cfg.Destructor != nil {
			p.cfg.Destructor(pc.res)
		}
		return nil
	}

	pc.lastUsed = time.Now()

	if w := p.popWaiterLocked(); w != nil {
		p.registerLocked(w.lease)
		w.lease.pc = pc
		w.ch <- handoff[T]{pc: pc}
		p.updateGaugesLocked()
		p.mu.Unlock()
		return nil
	}

	p.idle = append(p.idle, pc)
	victims := p.sweepIdleLocked(time.Now())
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.destroyAll(victims)
	return nil
}

// Discard removes a leased resource from the pool permanently, e.g. after a
// fatal connection error. The freed capacity is offered to the head waiter
// as a construction slot.
func (p *Pool[T]) Discard(lease *Lease[T]) error {
	p.mu.Lock()
	if _, ok := p.leases[lease]; !ok {
		p.mu.Unlock()
		return ErrReleaseOfUnknownLease
	}
	p.unregisterLocked(lease)
	pc := lease.pc
	p.total--
	if !p.closed {
		p.grantSlotToNextLocked()
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	if p.cfg.Destructor != nil {
		p.cfg.Destructor(pc.res)
	}
	return nil
}

// Close marks the pool closed, fails all queued waiters with ErrPoolClosed,
// and disposes idle resources. Outstanding leases finish normally and are
// disposed on Release. Idempotent.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	ws := p.waiters
	p.waiters = nil
	p.queued = make(map[string]int)
	victims := p.idle
	p.idle = nil
	p.total -= len(victims)
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, w := range ws {
		close(w.ch)
	}
	p.destroyAll(victims)
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:  len(p.leases),
		Idle:    len(p.idle),
		Waiting: len(p.waiters),
		Max:     p.cfg.MaxConns,
	}
}

// ── Internal helpers (all require p.mu unless noted) ──

func (p *Pool[T]) registerLocked(lease *Lease[T]) {
	p.leases[lease] = struct{}{}
	p.held[lease.clientID]++
	p.updateGaugesLocked()
}

func (p *Pool[T]) unregisterLocked(lease *Lease[T]) {
	delete(p.leases, lease)
	if p.held[lease.clientID]--; p.held[lease.clientID] <= 0 {
		delete(p.held, lease.clientID)
	}
	p.updateGaugesLocked()
}

// popWaiterLocked removes and returns the head waiter, or nil.
func (p *Pool[T]) popWaiterLocked() *waiter[T] {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.dequeueClientLocked(w.lease.clientID)
	return w
}

func (p *Pool[T]) dequeueClientLocked(clientID string) {
	if p.queued[clientID]--; p.queued[clientID] <= 0 {
		delete(p.queued, clientID)
	}
}

// grantSlotToNextLocked reserves a construction slot for the head waiter,
// if any.
func (p *Pool[T]) grantSlotToNextLocked() {
	w := p.popWaiterLocked()
	if w == nil {
		return
	}
	p.total++
	p.registerLocked(w.lease)
	w.ch <- handoff[T]{slot: true}
}

// sweepIdleLocked evicts idle resources older than IdleTimeout, never
// shrinking the pool below MinConns. Returns the victims; the caller
// destroys them outside the lock.
func (p *Pool[T]) sweepIdleLocked(now time.Time) []*pooled[T] {
	if p.cfg.IdleTimeout <= 0 {
		return nil
	}
	var victims []*pooled[T]
	// Oldest idle resources sit at the front of the LIFO slice.
	for len(p.idle) > 0 && p.total > p.cfg.MinConns {
		pc := p.idle[0]
		if now.Sub(pc.lastUsed) < p.cfg.IdleTimeout {
			break
		}
		p.idle = p.idle[1:]
		p.total--
		victims = append(victims, pc)
	}
	return victims
}

// abandonWait removes w from the wait queue. Returns false if w was already
// removed by a releaser, meaning a handoff is committed and sitting in
// w.ch (handoffs are sent while holding p.mu).
func (p *Pool[T]) abandonWait(w *waiter[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.dequeueClientLocked(w.lease.clientID)
			p.updateGaugesLocked()
			return true
		}
	}
	return false
}

// passOn forwards a handoff that raced with an abandoning waiter to the
// next waiter or the idle set.
func (p *Pool[T]) passOn(lease *Lease[T], h handoff[T]) {
	p.mu.Lock()
	p.unregisterLocked(lease)
	if h.slot {
		p.total--
		if !p.closed {
			p.grantSlotToNextLocked()
		}
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}
	if p.closed {
		p.total--
		p.updateGaugesLocked()
		p.mu.Unlock()
		if p.cfg.Destructor != nil {
			p.cfg.Destructor(h.pc.res)
		}
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		p.registerLocked(w.lease)
		w.lease.pc = h.pc
		w.ch <- handoff[T]{pc: h.pc}
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, h.pc)
	p.updateGaugesLocked()
	p.mu.Unlock()
}

func (p *Pool[T]) destroyAll(victims []*pooled[T]) {
	if p.cfg.Destructor == nil {
		return
	}
	for _, pc := range victims {
		p.cfg.Destructor(pc.res)
	}
}

func (p *Pool[T]) updateGaugesLocked() {
	metrics.PoolActive.Set(float64(len(p.leases)))
	metrics.PoolIdle.Set(float64(len(p.idle)))
	metrics.PoolWaiting.Set(float64(len(p.waiters)))
}
