package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the workflow state of an order.
type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type Order struct {
	ID                      int64           `json:"id"`
	Status                  OrderStatus     `json:"status"`
	IsSentToDeliveryCompany bool            `json:"isSentToDeliveryCompany"`
	IsDeliveryStatusClosed  bool            `json:"isDeliveryStatusClosed"`
	IsContacted             bool            `json:"isContacted"`
	IsContactedWithClient   bool            `json:"isContactedWithClient"`
	Notes                   string          `json:"notes"`
	CustomerName            string          `json:"customerName,omitempty"`
	Phone                   string          `json:"phone,omitempty"`
	Address                 string          `json:"address,omitempty"`
	TotalPrice              decimal.Decimal `json:"totalPrice"`
	Designs                 json.RawMessage `json:"designs,omitempty"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

// OrderPatch is the partial form of an Order. Nil fields are absent and never
// overwrite a known value.
type OrderPatch struct {
	ID                      int64            `json:"id"`
	Status                  *OrderStatus     `json:"status,omitempty"`
	IsSentToDeliveryCompany *bool            `json:"isSentToDeliveryCompany,omitempty"`
	IsDeliveryStatusClosed  *bool            `json:"isDeliveryStatusClosed,omitempty"`
	IsContacted             *bool            `json:"isContacted,omitempty"`
	IsContactedWithClient   *bool            `json:"isContactedWithClient,omitempty"`
	Notes                   *string          `json:"notes,omitempty"`
	CustomerName            *string          `json:"customerName,omitempty"`
	Phone                   *string          `json:"phone,omitempty"`
	Address                 *string          `json:"address,omitempty"`
	TotalPrice              *decimal.Decimal `json:"totalPrice,omitempty"`
	Designs                 json.RawMessage  `json:"designs,omitempty"`
	CreatedAt               *time.Time       `json:"createdAt,omitempty"`
	UpdatedAt               *time.Time       `json:"updatedAt,omitempty"`
}

// HasContactFlags reports whether the patch carries either contact alias.
func (p OrderPatch) HasContactFlags() bool {
	return p.IsContacted != nil || p.IsContactedWithClient != nil
}

// Normalize keeps the contact aliases in sync. When both are present
// isContacted wins.
func (p OrderPatch) Normalize() OrderPatch {
	switch {
	case p.IsContacted != nil:
		v := *p.IsContacted
		p.IsContactedWithClient = &v
	case p.IsContactedWithClient != nil:
		v := *p.IsContactedWithClient
		p.IsContacted = &v
	}
	if isNullJSON(p.Designs) {
		p.Designs = nil
	}
	return p
}

// Apply merges the present fields of p into o and returns the result.
// isDeliveryStatusClosed is sticky: a patch can set it but never clear it.
func (o Order) Apply(p OrderPatch) Order {
	p = p.Normalize()
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.IsSentToDeliveryCompany != nil {
		o.IsSentToDeliveryCompany = *p.IsSentToDeliveryCompany
	}
	if p.IsDeliveryStatusClosed != nil && *p.IsDeliveryStatusClosed {
		o.IsDeliveryStatusClosed = true
	}
	if p.IsContacted != nil {
		o.IsContacted = *p.IsContacted
	}
	if p.IsContactedWithClient != nil {
		o.IsContactedWithClient = *p.IsContactedWithClient
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	if p.CustomerName != nil {
		o.CustomerName = *p.CustomerName
	}
	if p.Phone != nil {
		o.Phone = *p.Phone
	}
	if p.Address != nil {
		o.Address = *p.Address
	}
	if p.TotalPrice != nil {
		o.TotalPrice = *p.TotalPrice
	}
	if len(p.Designs) > 0 {
		o.Designs = append(json.RawMessage(nil), p.Designs...)
	}
	if p.CreatedAt != nil {
		o.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		o.UpdatedAt = *p.UpdatedAt
	}
	return o
}

// AsPatch converts a complete order into a patch with every field present.
func (o Order) AsPatch() OrderPatch {
	status := o.Status
	sent := o.IsSentToDeliveryCompany
	closed := o.IsDeliveryStatusClosed
	contacted := o.IsContacted
	withClient := o.IsContactedWithClient
	notes := o.Notes
	name := o.CustomerName
	phone := o.Phone
	address := o.Address
	total := o.TotalPrice
	p := OrderPatch{
		ID:                      o.ID,
		Status:                  &status,
		IsSentToDeliveryCompany: &sent,
		IsDeliveryStatusClosed:  &closed,
		IsContacted:             &contacted,
		IsContactedWithClient:   &withClient,
		Notes:                   &notes,
		CustomerName:            &name,
		Phone:                   &phone,
		Address:                 &address,
		TotalPrice:              &total,
		Designs:                 o.Designs,
	}
	if !o.CreatedAt.IsZero() {
		created := o.CreatedAt
		p.CreatedAt = &created
	}
	if !o.UpdatedAt.IsZero() {
		updated := o.UpdatedAt
		p.UpdatedAt = &updated
	}
	return p
}

// FromPatch builds a new order from a patch. Absent fields take zero values.
func FromPatch(p OrderPatch) Order {
	return Order{ID: p.ID}.Apply(p)
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}

// Bool and String are small helpers for building patches.
func Bool(v bool) *bool { return &v }

func String(v string) *string { return &v }

func Status(v OrderStatus) *OrderStatus { return &v }
