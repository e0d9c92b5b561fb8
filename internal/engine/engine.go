package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duisenbekovayan/ordersync/internal/cache"
	"github.com/duisenbekovayan/ordersync/internal/delivery"
	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/projector"
	"github.com/duisenbekovayan/ordersync/internal/tracing"
)

const DefaultCacheTTL = 5 * time.Minute

var ErrNotFound = projector.ErrNotFound

// Remote is the set of order services the engine drives.
type Remote interface {
	ListOrders(ctx context.Context, q models.ListQuery) (models.OrderList, error)
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	CreateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error)
	UpdateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	ChangeStatus(ctx context.Context, id int64, status models.OrderStatus) error
	CreateShipments(ctx context.Context, ids []int64) error
}

// Totals are the aggregate sums of the last bulk fetch, when requested.
type Totals struct {
	TotalSum                  *decimal.Decimal `json:"totalSum,omitempty"`
	TotalSumExcludingDelivery *decimal.Decimal `json:"totalSum_excludingDelivery,omitempty"`
}

// OrderView is one order with what the tracker knows about its delivery.
type OrderView struct {
	Order          models.Order                 `json:"order"`
	DeliveryState  delivery.State               `json:"deliveryState"`
	DeliveryStatus *models.DeliveryStatusRecord `json:"deliveryStatus,omitempty"`
}

// Engine ties the bulk fetch, the cache, the order collection and the
// delivery tracker together.
type Engine struct {
	remote  Remote
	cache   *cache.Store
	orders  *projector.Projector
	tracker *delivery.Tracker
	ttl     time.Duration
	logger  aqm.Logger

	mu     sync.Mutex
	query  models.ListQuery
	seeded bool
	totals Totals
}

type Option func(*Engine)

func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
		}
	}
}

func WithLogger(logger aqm.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(remote Remote, store *cache.Store, orders *projector.Projector, tracker *delivery.Tracker, opts ...Option) *Engine {
	if store == nil {
		store = cache.New(nil)
	}
	if orders == nil {
		orders = projector.New()
	}
	if tracker == nil {
		tracker = delivery.NewTracker(nil)
	}
	e := &Engine{
		remote:  remote,
		cache:   store,
		orders:  orders,
		tracker: tracker,
		ttl:     DefaultCacheTTL,
		logger:  aqm.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Orders() *projector.Projector { return e.orders }

func (e *Engine) Tracker() *delivery.Tracker { return e.tracker }

// LoadOrders seeds the collection from a bulk fetch. Unless force is set a
// warm cache entry is used instead of the network. A cached list only seeds a
// collection that holds nothing for q yet: once seeded, push events have
// moved past the snapshot and the collection is returned as is. Two callers
// racing on a miss may both fetch; the last result wins.
func (e *Engine) LoadOrders(ctx context.Context, q models.ListQuery, force bool) (models.OrderList, error) {
	ctx, span := tracing.Start(ctx, "engine.load_orders",
		trace.WithAttributes(attribute.String("cache.key", q.Key()), attribute.Bool("force", force)))
	defer span.End()

	key := q.Key()
	if !force {
		var list models.OrderList
		hit, err := e.cache.Get(ctx, key, &list)
		if err != nil {
			e.logger.Info("order list cache read failed", "key", key, "error", err)
		}
		if hit {
			if e.seededFor(q) {
				e.logger.Debug("order list cache hit, collection already seeded", "key", key)
				list.Orders = e.orders.List()
				return list, nil
			}
			e.commit(q, list)
			return list, nil
		}
	}

	list, err := e.remote.ListOrders(ctx, q)
	if err != nil {
		return models.OrderList{}, fmt.Errorf("load orders: %w", err)
	}
	if err := e.cache.Set(ctx, key, list, e.ttl); err != nil {
		e.logger.Info("order list cache write failed", "key", key, "error", err)
	}
	e.commit(q, list)
	e.logger.Debug("orders loaded", "key", key, "count", len(list.Orders))
	return list, nil
}

func (e *Engine) commit(q models.ListQuery, list models.OrderList) {
	e.orders.ReplaceAll(list.Orders)
	e.mu.Lock()
	e.query = q
	e.seeded = true
	e.totals = Totals{TotalSum: list.TotalSum, TotalSumExcludingDelivery: list.TotalSumExcludingDelivery}
	e.mu.Unlock()
}

func (e *Engine) seededFor(q models.ListQuery) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeded && e.query.Key() == q.Key()
}

// Totals returns the sums of the last bulk fetch.
func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

// OpenOrder hydrates one order from the single-order service and then makes
// sure its delivery status is known. When hydration fails the locally known
// order is used.
func (e *Engine) OpenOrder(ctx context.Context, id int64) (OrderView, error) {
	ctx, span := tracing.Start(ctx, "engine.open_order", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := e.remote.GetOrder(ctx, id)
	if err == nil {
		order, _ = e.orders.Upsert(order.AsPatch())
	} else {
		local, ok := e.orders.Get(id)
		if !ok {
			return OrderView{}, fmt.Errorf("open order %d: %w", id, err)
		}
		e.logger.Info("order hydration failed, using local copy", "order_id", id, "error", err)
		order = local
	}
	return e.view(ctx, order), nil
}

// DeliveryStatus returns the delivery state of a known order, fetching it if
// that can matter.
func (e *Engine) DeliveryStatus(ctx context.Context, id int64) (OrderView, error) {
	order, ok := e.orders.Get(id)
	if !ok {
		return OrderView{}, ErrNotFound
	}
	return e.view(ctx, order), nil
}

func (e *Engine) view(ctx context.Context, order models.Order) OrderView {
	e.tracker.EnsureFetched(ctx, order)
	st, rec := e.tracker.Lookup(order.ID)
	return OrderView{Order: order, DeliveryState: st, DeliveryStatus: rec}
}

// CreateOrder creates an order remotely and inserts the result.
func (e *Engine) CreateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error) {
	created, err := e.remote.CreateOrder(ctx, p)
	if err == nil {
		created, _ = e.orders.Upsert(created.AsPatch())
	}
	e.resync(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	return created, nil
}

func (e *Engine) UpdateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error) {
	if p.ID == 0 {
		return models.Order{}, errors.New("update order: missing id")
	}
	if _, err := e.orders.PatchFields(p.ID, p); err != nil {
		e.logger.Debug("optimistic update skipped", "order_id", p.ID)
	}
	updated, err := e.remote.UpdateOrder(ctx, p)
	if err == nil {
		updated, _ = e.orders.Upsert(updated.AsPatch())
	}
	e.resync(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("update order %d: %w", p.ID, err)
	}
	return updated, nil
}

// DeleteOrder removes the order locally only once the server confirmed it.
func (e *Engine) DeleteOrder(ctx context.Context, id int64) error {
	err := e.remote.DeleteOrder(ctx, id)
	if err == nil {
		e.orders.Remove(id)
		e.tracker.Forget(id)
	}
	e.resync(ctx)
	if err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	return nil
}

func (e *Engine) ChangeStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	if _, err := e.orders.PatchFields(id, models.OrderPatch{Status: &status}); err != nil {
		e.logger.Debug("optimistic status change skipped", "order_id", id)
	}
	err := e.remote.ChangeStatus(ctx, id, status)
	e.resync(ctx)
	if err != nil {
		return fmt.Errorf("change status of order %d: %w", id, err)
	}
	return nil
}

// CreateShipments hands the orders to the delivery company.
func (e *Engine) CreateShipments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return errors.New("create shipments: no order ids")
	}
	for _, id := range ids {
		_, _ = e.orders.PatchFields(id, models.OrderPatch{IsSentToDeliveryCompany: models.Bool(true)})
	}
	err := e.remote.CreateShipments(ctx, ids)
	e.resync(ctx)
	if err != nil {
		return fmt.Errorf("create shipments: %w", err)
	}
	return nil
}

// resync replaces optimistic state with a fresh bulk fetch of the last query.
// Its failure is logged; the mutation result is what the caller sees.
func (e *Engine) resync(ctx context.Context) {
	e.mu.Lock()
	q := e.query
	e.mu.Unlock()

	if err := e.cache.Invalidate(ctx, q.Key()); err != nil {
		e.logger.Info("order list cache invalidate failed", "key", q.Key(), "error", err)
	}
	if _, err := e.LoadOrders(ctx, q, true); err != nil {
		e.logger.Error("resync after mutation failed", "error", err)
	}
}

// RunPeriodic reloads the last query every interval until ctx is done. Loads
// go through the cache, so they only reach the network once the entry has
// expired. Expired cache entries are swept on the same tick.
func (e *Engine) RunPeriodic(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if n, err := e.cache.Sweep(ctx); err != nil {
			e.logger.Info("cache sweep failed", "error", err)
		} else if n > 0 {
			e.logger.Debug("cache swept", "removed", n)
		}

		e.mu.Lock()
		q := e.query
		e.mu.Unlock()
		if _, err := e.LoadOrders(ctx, q, false); err != nil && ctx.Err() == nil {
			e.logger.Error("periodic order refresh failed", "error", err)
		}
	}
}
