package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderList is the result of a bulk fetch. The service answers either with a
// bare array of orders or with an object carrying optional aggregate sums;
// both decode into OrderList.
type OrderList struct {
	Orders                    []Order          `json:"orders"`
	TotalSum                  *decimal.Decimal `json:"totalSum,omitempty"`
	TotalSumExcludingDelivery *decimal.Decimal `json:"totalSum_excludingDelivery,omitempty"`
}

func (l *OrderList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = OrderList{}
		return nil
	}

	if trimmed[0] == '[' {
		var orders []Order
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return fmt.Errorf("decode order list: %w", err)
		}
		*l = OrderList{Orders: orders}
		return nil
	}

	type plain OrderList
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return fmt.Errorf("decode order list: %w", err)
	}
	*l = OrderList(p)
	return nil
}

// Day normalizes t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ListQuery selects a bulk fetch. A nil Date means all orders.
type ListQuery struct {
	Date     *time.Time
	WithSums bool
}

// Key identifies the query in the cache.
func (q ListQuery) Key() string {
	day := "all"
	if q.Date != nil {
		day = Day(*q.Date).Format(time.DateOnly)
	}
	if q.WithSums {
		return "orders:" + day + ":sums"
	}
	return "orders:" + day
}
