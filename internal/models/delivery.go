package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Delivery status codes the delivery company reports as terminal.
const (
	DeliveryCodeClosed         = 10
	DeliveryCodeCancelled      = 11
	DeliveryCodeClosedReturned = 12
)

var terminalMarkers = []string{
	"cancelled",
	"canceled",
	"closed",
	"closed-returned",
	"closed_returned",
	"returned",
}

// FlexID is an identifier the remote side sends either as a number or as a
// string.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// Int returns the numeric value of the id, if it has one.
func (f FlexID) Int() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		return 0, false
	}
	return n, true
}

type StatusDescriptor struct {
	ID             FlexID `json:"id"`
	LabelPrimary   string `json:"label_primary,omitempty"`
	LabelSecondary string `json:"label_secondary,omitempty"`
	Color          string `json:"color,omitempty"`
}

// UnmarshalJSON accepts the descriptor object or a bare status string, which
// is coerced into a descriptor whose id and labels are that string.
func (s *StatusDescriptor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = DescriptorFromText(text)
		return nil
	}
	type plain StatusDescriptor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = StatusDescriptor(p)
	return nil
}

func DescriptorFromText(text string) StatusDescriptor {
	return StatusDescriptor{ID: FlexID(text), LabelPrimary: text, LabelSecondary: text}
}

// Empty reports whether the descriptor carries no status at all.
func (s StatusDescriptor) Empty() bool {
	return s.ID == "" && s.LabelPrimary == "" && s.LabelSecondary == ""
}

// Terminal reports whether the status is closed, cancelled or closed-returned.
func (s StatusDescriptor) Terminal() bool {
	if code, ok := s.ID.Int(); ok {
		switch code {
		case DeliveryCodeClosed, DeliveryCodeCancelled, DeliveryCodeClosedReturned:
			return true
		}
	}
	for _, text := range []string{string(s.ID), s.LabelPrimary, s.LabelSecondary} {
		if isTerminalText(text) {
			return true
		}
	}
	return false
}

func isTerminalText(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, m := range terminalMarkers {
		if t == m {
			return true
		}
	}
	return false
}

type Driver struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}

// DeliveryStatusRecord is the delivery company's view of an order shipment.
type DeliveryStatusRecord struct {
	OrderID        int64            `json:"orderId"`
	ShipmentID     FlexID           `json:"shipmentId,omitempty"`
	ShipmentIDs    []FlexID         `json:"shipmentIds,omitempty"`
	TrackingNumber string           `json:"trackingNumber,omitempty"`
	Status         StatusDescriptor `json:"status"`
	Driver         *Driver          `json:"driver,omitempty"`
	Note           string           `json:"note,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	IsClosed       bool             `json:"isClosed"`
}

// Settle derives IsClosed from the status descriptor.
func (r DeliveryStatusRecord) Settle() DeliveryStatusRecord {
	r.IsClosed = r.Status.Terminal()
	return r
}
