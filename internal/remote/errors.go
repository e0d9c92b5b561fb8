package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable codes the order services put in error bodies.
const (
	CodeShipmentNotFound = "SHIPMENT_NOT_FOUND"
	CodeOrderNotFound    = "ORDER_NOT_FOUND"
)

var (
	// ErrNoShipment means the order has not been handed a shipment yet.
	ErrNoShipment = errors.New("no shipment created yet")
	ErrNotFound   = errors.New("not found")
)

// Error is a non-2xx answer from a remote service.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Op         string `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s: %d: %s", e.Op, e.StatusCode, msg)
}

// Is lets callers match remote errors against ErrNoShipment and ErrNotFound.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNoShipment:
		return e.Code == CodeShipmentNotFound
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound || e.Code == CodeOrderNotFound || e.Code == CodeShipmentNotFound
	}
	return false
}
