package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/remote"
)

// State is where an order id sits in the delivery-status lifecycle.
type State int

const (
	StateAbsent State = iota
	StateFetching
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "absent"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// DefaultRefreshAfter is how long an open record is served before
// EnsureFetched asks the delivery company again. Zero asks on every call.
const DefaultRefreshAfter time.Duration = 0

// Fetcher is the delivery-status query service.
type Fetcher interface {
	GetDeliveryStatus(ctx context.Context, orderID int64) (models.DeliveryStatusRecord, error)
}

// Change is sent to observers after every transition.
type Change struct {
	OrderID int64
	State   State
	Record  *models.DeliveryStatusRecord
	Err     error
}

type Observer func(Change)

type entry struct {
	state     State // absent, open or closed; fetching lives in inFlight
	record    *models.DeliveryStatusRecord
	inFlight  bool
	fetchedAt time.Time
}

// Tracker owns the per-order delivery-status state machine. Its map is only
// changed through EnsureFetched, Put and Forget.
type Tracker struct {
	mu      sync.Mutex
	entries map[int64]*entry

	obsMu     sync.RWMutex
	observers map[uuid.UUID]Observer

	fetcher      Fetcher
	limiter      *rate.Limiter
	refreshAfter time.Duration
	now          func() time.Time
	logger       aqm.Logger
}

type Option func(*Tracker)

// WithRateLimit spaces outbound status calls to rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(t *Tracker) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRefreshAfter sets the age after which an open record is fetched again.
// Zero refetches open records on every call.
func WithRefreshAfter(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.refreshAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithLogger(logger aqm.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(fetcher Fetcher, opts ...Option) *Tracker {
	t := &Tracker{
		entries:      make(map[int64]*entry),
		observers:    make(map[uuid.UUID]Observer),
		fetcher:      fetcher,
		refreshAfter: DefaultRefreshAfter,
		now:          time.Now,
		logger:       aqm.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureFetched makes sure the delivery status of order is known, calling the
// delivery service only when it can matter. Redundant calls are cheap: at
// most one request per order id is in flight, closed ids are never asked
// again, and orders not handed to the delivery company are never asked at
// all. An open record is asked again on every call unless WithRefreshAfter
// set a window. Failures never escape; they leave the id absent.
func (t *Tracker) EnsureFetched(ctx context.Context, order models.Order) State {
	id := order.ID

	t.mu.Lock()
	e := t.entryLocked(id)

	if !order.IsSentToDeliveryCompany {
		changed := false
		if !e.inFlight && e.state == StateOpen {
			e.state, e.record = StateAbsent, nil
			changed = true
		}
		st := e.view()
		t.mu.Unlock()
		if changed {
			t.notify(Change{OrderID: id, State: StateAbsent})
		}
		return st
	}

	if order.IsDeliveryStatusClosed || e.state == StateClosed || e.inFlight || t.freshLocked(e) {
		st := e.view()
		t.mu.Unlock()
		return st
	}

	e.inFlight = true
	t.mu.Unlock()
	t.notify(Change{OrderID: id, State: StateFetching})

	rec, err := t.fetch(ctx, id)
	return t.settle(id, rec, err)
}

func (t *Tracker) fetch(ctx context.Context, id int64) (models.DeliveryStatusRecord, error) {
	if t.fetcher == nil {
		return models.DeliveryStatusRecord{}, errors.New("delivery status fetcher not configured")
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return models.DeliveryStatusRecord{}, err
		}
	}
	return t.fetcher.GetDeliveryStatus(ctx, id)
}

func (t *Tracker) settle(id int64, rec models.DeliveryStatusRecord, err error) State {
	t.mu.Lock()
	e := t.entryLocked(id)
	e.inFlight = false

	var change Change
	switch {
	case err == nil:
		rec = rec.Settle()
		if rec.OrderID == 0 {
			rec.OrderID = id
		}
		if e.state == StateClosed && !rec.IsClosed {
			// A push event closed it while we were asking; closed wins.
			st := e.view()
			t.mu.Unlock()
			t.logger.Debug("ignoring stale open delivery status", "order_id", id)
			return st
		}
		e.record = &rec
		e.fetchedAt = t.now()
		e.state = StateOpen
		if rec.IsClosed {
			e.state = StateClosed
		}
		change = Change{OrderID: id, State: e.state, Record: copyRecord(e.record)}

	case errors.Is(err, remote.ErrNoShipment):
		if e.state != StateClosed {
			e.state, e.record = StateAbsent, nil
		}
		change = Change{OrderID: id, State: e.state, Record: copyRecord(e.record)}

	default:
		if e.state != StateClosed {
			e.state, e.record = StateAbsent, nil
		}
		change = Change{OrderID: id, State: e.state, Record: copyRecord(e.record), Err: err}
	}
	st := e.view()
	t.mu.Unlock()

	if change.Err != nil {
		t.logger.Error("delivery status fetch failed", "order_id", id, "error", change.Err)
	}
	t.notify(change)
	return st
}

// Put overwrites the entry for orderID with a record received from the
// server outside a tracker fetch. It is authoritative: it may create, close
// or reopen an entry. A nil record makes the id absent.
func (t *Tracker) Put(orderID int64, rec *models.DeliveryStatusRecord) State {
	t.mu.Lock()
	e := t.entryLocked(orderID)
	if rec == nil {
		e.state, e.record = StateAbsent, nil
	} else {
		r := rec.Settle()
		if r.OrderID == 0 {
			r.OrderID = orderID
		}
		e.record = &r
		e.fetchedAt = t.now()
		e.state = StateOpen
		if r.IsClosed {
			e.state = StateClosed
		}
	}
	change := Change{OrderID: orderID, State: e.state, Record: copyRecord(e.record)}
	st := e.view()
	t.mu.Unlock()

	t.notify(change)
	return st
}

// Forget drops everything known about orderID. An in-flight fetch still
// settles into a fresh entry.
func (t *Tracker) Forget(orderID int64) {
	t.mu.Lock()
	delete(t.entries, orderID)
	t.mu.Unlock()
}

// Lookup returns the current state and a copy of the record, if any.
func (t *Tracker) Lookup(orderID int64) (State, *models.DeliveryStatusRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[orderID]
	if !ok {
		return StateAbsent, nil
	}
	return e.view(), copyRecord(e.record)
}

func (t *Tracker) State(orderID int64) State {
	st, _ := t.Lookup(orderID)
	return st
}

// Subscribe registers an observer for every transition. Observers run on the
// goroutine that caused the change and must not block.
func (t *Tracker) Subscribe(fn Observer) uuid.UUID {
	id := uuid.New()
	t.obsMu.Lock()
	t.observers[id] = fn
	t.obsMu.Unlock()
	return id
}

func (t *Tracker) Unsubscribe(id uuid.UUID) {
	t.obsMu.Lock()
	delete(t.observers, id)
	t.obsMu.Unlock()
}

func (t *Tracker) notify(c Change) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, fn := range t.observers {
		fn(c)
	}
}

func (t *Tracker) entryLocked(id int64) *entry {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{state: StateAbsent}
		t.entries[id] = e
	}
	return e
}

func (t *Tracker) freshLocked(e *entry) bool {
	if e.state != StateOpen || t.refreshAfter == 0 {
		return false
	}
	return t.now().Sub(e.fetchedAt) < t.refreshAfter
}

func (e *entry) view() State {
	if e.inFlight {
		return StateFetching
	}
	return e.state
}

func copyRecord(r *models.DeliveryStatusRecord) *models.DeliveryStatusRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Driver != nil {
		d := *r.Driver
		c.Driver = &d
	}
	c.ShipmentIDs = append([]models.FlexID(nil), r.ShipmentIDs...)
	return &c
}
