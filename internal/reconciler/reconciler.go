package reconciler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aquamarinepk/aqm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/duisenbekovayan/ordersync/internal/delivery"
	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/projector"
	"github.com/duisenbekovayan/ordersync/internal/tracing"
)

// OrderFetcher loads the full record of a single order.
type OrderFetcher interface {
	GetOrder(ctx context.Context, id int64) (models.Order, error)
}

// Reconciler folds push events into the order collection and the delivery
// tracker. A bad event is logged and dropped; it never stops the stream.
type Reconciler struct {
	orders  *projector.Projector
	tracker *delivery.Tracker
	fetcher OrderFetcher
	group   singleflight.Group
	now     func() time.Time
	logger  aqm.Logger
}

func New(orders *projector.Projector, tracker *delivery.Tracker, fetcher OrderFetcher, logger aqm.Logger) *Reconciler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Reconciler{
		orders:  orders,
		tracker: tracker,
		fetcher: fetcher,
		now:     time.Now,
		logger:  logger,
	}
}

// HandleMessage decodes and applies one raw push message. Only an envelope
// that cannot be read at all is reported, so transports can dead-letter it.
func (r *Reconciler) HandleMessage(ctx context.Context, msg []byte) error {
	env, err := DecodeEnvelope(msg)
	if err != nil {
		r.logger.Info("invalid push event", "error", err)
		return err
	}
	r.Apply(ctx, env)
	return nil
}

// Apply routes one event to its handler.
func (r *Reconciler) Apply(ctx context.Context, env Envelope) {
	ctx, span := tracing.Start(ctx, "reconciler.apply",
		trace.WithAttributes(attribute.String("event.type", env.EventType)))
	defer span.End()

	switch env.EventType {
	case EventOrderCreated, EventOrderStatusChanged:
		r.handleOrderUpsert(env)
	case EventOrderContactedStatusChanged:
		r.handleContactedChanged(ctx, env)
	case EventOrderUpdated:
		r.handleOrderUpdated(ctx, env)
	case EventDeliveryStatusChanged:
		r.handleDeliveryChanged(env)
	case EventShipmentStatusUpdated, EventShipmentNoteAdded:
		r.handleShipment(env)
	default:
		r.logger.Debug("unknown push event type", "event_type", env.EventType)
	}
}

func (r *Reconciler) handleOrderUpsert(env Envelope) {
	payload, err := DecodeOrderPayload(env.Data)
	if err != nil {
		r.logger.Info("invalid order event", "event_type", env.EventType, "error", err)
		return
	}
	o, inserted := r.orders.Upsert(payload.Patch)
	r.logger.Debug("order event applied",
		"event_type", env.EventType,
		"order_id", o.ID,
		"payload", payload.Kind.String(),
		"inserted", inserted,
	)
}

// handleContactedChanged refreshes the order from the server and falls back
// to patching only the contact flag when that fails.
func (r *Reconciler) handleContactedChanged(ctx context.Context, env Envelope) {
	var p contactedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.orderID() == 0 {
		r.logger.Info("invalid contacted status event", "error", err)
		return
	}
	id := p.orderID()

	full, err := r.fetchOrder(ctx, id)
	if err == nil {
		r.orders.Upsert(full.AsPatch())
		return
	}
	r.logger.Info("order refresh failed, patching contact flag", "order_id", id, "error", err)

	patch := models.OrderPatch{ID: id, IsContacted: p.IsContacted, IsContactedWithClient: p.IsContactedWithClient}
	if !patch.HasContactFlags() {
		return
	}
	if _, err := r.orders.PatchFields(id, patch); err != nil {
		r.logger.Debug("contact flag for unknown order dropped", "order_id", id)
	}
}

// handleOrderUpdated merges a full payload directly. A partial one means the
// server only sent a hint, so the full record is fetched instead.
func (r *Reconciler) handleOrderUpdated(ctx context.Context, env Envelope) {
	payload, err := DecodeOrderPayload(env.Data)
	if err != nil {
		r.logger.Info("invalid order update event", "error", err)
		return
	}
	if payload.Kind == KindFull {
		r.orders.Upsert(payload.Patch)
		return
	}

	full, err := r.fetchOrder(ctx, payload.Patch.ID)
	if err != nil {
		r.logger.Info("order refresh failed, merging partial update", "order_id", payload.Patch.ID, "error", err)
		r.orders.Upsert(payload.Patch)
		return
	}
	r.orders.Upsert(full.AsPatch())
}

func (r *Reconciler) handleDeliveryChanged(env Envelope) {
	var p deliveryChangedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.OrderID == 0 {
		r.logger.Info("invalid delivery status event", "error", err)
		return
	}
	if r.tracker == nil {
		return
	}

	raw := p.DeliveryStatus
	if len(raw) == 0 {
		// Some producers flatten the record into data itself.
		raw = env.Data
	}
	if !isNull(raw) {
		var rec models.DeliveryStatusRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.logger.Info("invalid delivery status record", "order_id", p.OrderID, "error", err)
			return
		}
		st := r.tracker.Put(p.OrderID, &rec)
		r.logger.Debug("delivery status replaced", "order_id", p.OrderID, "state", st.String())
		return
	}
	r.tracker.Put(p.OrderID, nil)
}

// handleShipment turns a shipment event into a delivery status record.
// Events without a status are dropped.
func (r *Reconciler) handleShipment(env Envelope) {
	var p shipmentPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.OrderID == 0 {
		r.logger.Info("invalid shipment event", "event_type", env.EventType, "error", err)
		return
	}
	fallback := env.OccurredAt
	if fallback.IsZero() {
		fallback = r.now()
	}
	rec, ok, err := p.record(fallback)
	if err != nil {
		r.logger.Info("invalid shipment status", "order_id", p.OrderID, "error", err)
		return
	}
	if !ok {
		r.logger.Debug("shipment event without status skipped", "event_type", env.EventType, "order_id", p.OrderID)
		return
	}
	if r.tracker != nil {
		r.tracker.Put(p.OrderID, &rec)
	}
}

// fetchOrder coalesces concurrent refreshes of the same order.
func (r *Reconciler) fetchOrder(ctx context.Context, id int64) (models.Order, error) {
	if r.fetcher == nil {
		return models.Order{}, errNoFetcher
	}
	v, err, _ := r.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return r.fetcher.GetOrder(ctx, id)
	})
	if err != nil {
		return models.Order{}, err
	}
	return v.(models.Order), nil
}
