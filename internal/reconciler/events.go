package reconciler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/duisenbekovayan/ordersync/internal/models"
)

// Push event kinds.
const (
	EventOrderCreated                = "order.created"
	EventOrderStatusChanged          = "order.status_changed"
	EventOrderContactedStatusChanged = "order.contacted_status_changed"
	EventOrderUpdated                = "order.updated"
	EventDeliveryStatusChanged       = "delivery.status_changed"
	EventShipmentStatusUpdated       = "shipment.status_updated"
	EventShipmentNoteAdded           = "shipment.note_added"
)

var (
	ErrMalformedEnvelope = errors.New("malformed event envelope")
	errMissingOrderID    = errors.New("payload has no order id")
	errNoFetcher         = errors.New("order fetcher not configured")
)

// Envelope is the wire form of every push event.
type Envelope struct {
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a raw message. Messages without a type are malformed.
func DecodeEnvelope(msg []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventType == "" {
		return env, fmt.Errorf("%w: missing event_type", ErrMalformedEnvelope)
	}
	return env, nil
}

// PayloadKind tells a payload that is complete enough to merge from a hint
// that needs the server's copy.
type PayloadKind int

const (
	KindPartial PayloadKind = iota
	KindFull
)

func (k PayloadKind) String() string {
	if k == KindFull {
		return "full"
	}
	return "partial"
}

// OrderPayload is an order payload classified at the boundary.
type OrderPayload struct {
	Kind  PayloadKind
	Patch models.OrderPatch
}

// DecodeOrderPayload classifies and decodes an order payload. A payload that
// carries either contact alias, non-null, is a full record: the server only
// sends the contact state alongside the rest of the order.
func DecodeOrderPayload(raw json.RawMessage) (OrderPayload, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return OrderPayload{}, fmt.Errorf("decode order payload: %w", err)
	}
	var patch models.OrderPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return OrderPayload{}, fmt.Errorf("decode order payload: %w", err)
	}
	if patch.ID == 0 {
		return OrderPayload{}, errMissingOrderID
	}

	kind := KindPartial
	if present(keys, "isContacted") || present(keys, "isContactedWithClient") {
		kind = KindFull
	}
	return OrderPayload{Kind: kind, Patch: patch.Normalize()}, nil
}

func present(keys map[string]json.RawMessage, k string) bool {
	v, ok := keys[k]
	return ok && !isNull(v)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

type contactedPayload struct {
	OrderID               int64 `json:"orderId"`
	ID                    int64 `json:"id"`
	IsContacted           *bool `json:"isContacted"`
	IsContactedWithClient *bool `json:"isContactedWithClient"`
}

func (p contactedPayload) orderID() int64 {
	if p.OrderID != 0 {
		return p.OrderID
	}
	return p.ID
}

type deliveryChangedPayload struct {
	OrderID        int64           `json:"orderId"`
	DeliveryStatus json.RawMessage `json:"deliveryStatus"`
}

// shipmentPayload is what the shipment events carry. Status may be a bare
// string or a descriptor object.
type shipmentPayload struct {
	OrderID        int64           `json:"orderId"`
	ShipmentID     models.FlexID   `json:"shipmentId"`
	ShipmentIDs    []models.FlexID `json:"shipmentIds"`
	TrackingNumber string          `json:"trackingNumber"`
	Status         json.RawMessage `json:"status"`
	Note           string          `json:"note"`
	Driver         *models.Driver  `json:"driver"`
	UpdatedAt      *time.Time      `json:"updatedAt"`
}

// record normalizes the payload into a status record. ok is false when the
// payload carries no usable status.
func (p shipmentPayload) record(fallback time.Time) (models.DeliveryStatusRecord, bool, error) {
	if isNull(p.Status) {
		return models.DeliveryStatusRecord{}, false, nil
	}
	var status models.StatusDescriptor
	if err := json.Unmarshal(p.Status, &status); err != nil {
		return models.DeliveryStatusRecord{}, false, fmt.Errorf("decode shipment status: %w", err)
	}
	if status.Empty() {
		return models.DeliveryStatusRecord{}, false, nil
	}
	updated := fallback
	if p.UpdatedAt != nil {
		updated = *p.UpdatedAt
	}
	return models.DeliveryStatusRecord{
		OrderID:        p.OrderID,
		ShipmentID:     p.ShipmentID,
		ShipmentIDs:    p.ShipmentIDs,
		TrackingNumber: p.TrackingNumber,
		Status:         status,
		Driver:         p.Driver,
		Note:           p.Note,
		UpdatedAt:      updated,
	}, true, nil
}
