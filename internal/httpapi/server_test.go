package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/ordersync/internal/delivery"
	"github.com/duisenbekovayan/ordersync/internal/engine"
	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/remote"
)

type fakeEngine struct {
	orders    []models.Order
	totals    engine.Totals
	loadQuery models.ListQuery
	loadForce bool
	err       error
	status    models.OrderStatus
	shipped   []int64
	deleted   int64
	updated   models.OrderPatch
}

func (f *fakeEngine) List() []models.Order { return f.orders }

func (f *fakeEngine) LoadOrders(ctx context.Context, q models.ListQuery, force bool) (models.OrderList, error) {
	f.loadQuery, f.loadForce = q, force
	return models.OrderList{Orders: f.orders}, f.err
}

func (f *fakeEngine) Totals() engine.Totals { return f.totals }

func (f *fakeEngine) OpenOrder(ctx context.Context, id int64) (engine.OrderView, error) {
	if f.err != nil {
		return engine.OrderView{}, f.err
	}
	return engine.OrderView{
		Order:          models.Order{ID: id},
		DeliveryState:  delivery.StateOpen,
		DeliveryStatus: &models.DeliveryStatusRecord{OrderID: id, Status: models.StatusDescriptor{ID: "4"}},
	}, nil
}

func (f *fakeEngine) DeliveryStatus(ctx context.Context, id int64) (engine.OrderView, error) {
	if f.err != nil {
		return engine.OrderView{}, f.err
	}
	return engine.OrderView{Order: models.Order{ID: id}, DeliveryState: delivery.StateAbsent}, nil
}

func (f *fakeEngine) CreateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error) {
	p.ID = 77
	return models.FromPatch(p), f.err
}

func (f *fakeEngine) UpdateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error) {
	f.updated = p
	return models.FromPatch(p), f.err
}

func (f *fakeEngine) DeleteOrder(ctx context.Context, id int64) error {
	f.deleted = id
	return f.err
}

func (f *fakeEngine) ChangeStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	f.status = status
	return f.err
}

func (f *fakeEngine) CreateShipments(ctx context.Context, ids []int64) error {
	f.shipped = ids
	return f.err
}

func serve(t *testing.T, f *fakeEngine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	s := New(":0", f, f, nil)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListOrders_IncludesTotals(t *testing.T) {
	sum := decimal.RequireFromString("100.50")
	f := &fakeEngine{orders: []models.Order{{ID: 2}, {ID: 1}}, totals: engine.Totals{TotalSum: &sum}}

	rec := serve(t, f, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Orders   []models.Order   `json:"orders"`
		TotalSum *decimal.Decimal `json:"totalSum"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Orders, 2)
	assert.Equal(t, int64(2), got.Orders[0].ID)
	require.NotNil(t, got.TotalSum)
	assert.True(t, got.TotalSum.Equal(sum))
}

func TestRefreshOrders_ParsesQuery(t *testing.T) {
	f := &fakeEngine{}
	rec := serve(t, f, http.MethodPost, "/orders/refresh?date=2026-03-14&withSums=true&force=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, f.loadQuery.Date)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), *f.loadQuery.Date)
	assert.True(t, f.loadQuery.WithSums)
	assert.True(t, f.loadForce)

	rec = serve(t, f, http.MethodPost, "/orders/refresh?date=14.03.2026", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/orders/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Order         models.Order `json:"order"`
		DeliveryState string       `json:"deliveryState"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(7), view.Order.ID)
	assert.Equal(t, "open", view.DeliveryState)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "localNotFound", err: engine.ErrNotFound, want: http.StatusNotFound},
		{name: "remoteNotFound", err: &remote.Error{StatusCode: 404, Code: remote.CodeOrderNotFound}, want: http.StatusNotFound},
		{name: "remoteConflict", err: &remote.Error{StatusCode: 409, Message: "locked"}, want: http.StatusConflict},
		{name: "remoteDown", err: &remote.Error{StatusCode: 503}, want: http.StatusBadGateway},
		{name: "transport", err: errors.New("dial tcp: refused"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeEngine{err: tt.err}, http.MethodGet, "/orders/3/delivery-status", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBadOrderID(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMutations(t *testing.T) {
	f := &fakeEngine{}

	rec := serve(t, f, http.MethodPost, "/orders", `{"notes":"gift wrap"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":77`)

	rec = serve(t, f, http.MethodPut, "/orders/5", `{"notes":"updated"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), f.updated.ID)

	rec = serve(t, f, http.MethodPatch, "/orders/5/status", `{"status":"shipped"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.OrderStatusShipped, f.status)

	rec = serve(t, f, http.MethodPatch, "/orders/5/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, f, http.MethodDelete, "/orders/5", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(5), f.deleted)

	rec = serve(t, f, http.MethodPost, "/shipments", `{"orderIds":[5,6]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{5, 6}, f.shipped)

	rec = serve(t, f, http.MethodPost, "/shipments", `{"orderIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
