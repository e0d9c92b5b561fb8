package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/duisenbekovayan/ordersync/internal/engine"
	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/remote"
)

// Engine is what the API needs from the sync engine.
type Engine interface {
	LoadOrders(ctx context.Context, q models.ListQuery, force bool) (models.OrderList, error)
	Totals() engine.Totals
	OpenOrder(ctx context.Context, id int64) (engine.OrderView, error)
	DeliveryStatus(ctx context.Context, id int64) (engine.OrderView, error)
	CreateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error)
	UpdateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	ChangeStatus(ctx context.Context, id int64, status models.OrderStatus) error
	CreateShipments(ctx context.Context, ids []int64) error
}

// Lister reads the current order collection.
type Lister interface {
	List() []models.Order
}

type Server struct {
	srv    *http.Server
	engine Engine
	orders Lister
	logger aqm.Logger
}

type listResponse struct {
	Orders []models.Order `json:"orders"`
	engine.Totals
}

func New(addr string, e Engine, orders Lister, logger aqm.Logger) *Server {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	s := &Server{engine: e, orders: orders, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", s.listOrders)
		r.Post("/", s.createOrder)
		r.Post("/refresh", s.refreshOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getOrder)
			r.Put("/", s.updateOrder)
			r.Delete("/", s.deleteOrder)
			r.Get("/delivery-status", s.deliveryStatus)
			r.Patch("/status", s.changeStatus)
		})
	})
	r.Post("/shipments", s.createShipments)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "httpapi"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Orders: s.orders.List(), Totals: s.engine.Totals()})
}

// refreshOrders runs a bulk load. ?date=YYYY-MM-DD&withSums=true&force=true
func (s *Server) refreshOrders(w http.ResponseWriter, r *http.Request) {
	var q models.ListQuery
	if d := r.URL.Query().Get("date"); d != "" {
		day, err := time.Parse(time.DateOnly, d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		q.Date = &day
	}
	q.WithSums, _ = strconv.ParseBool(r.URL.Query().Get("withSums"))
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if _, err := s.engine.LoadOrders(r.Context(), q, force); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Orders: s.orders.List(), Totals: s.engine.Totals()})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	view, err := s.engine.OpenOrder(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	view, err := s.engine.DeliveryStatus(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var p models.OrderPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order body")
		return
	}
	p.ID = 0
	o, err := s.engine.CreateOrder(r.Context(), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var p models.OrderPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order body")
		return
	}
	p.ID = id
	o, err := s.engine.UpdateOrder(r.Context(), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteOrder(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := s.engine.ChangeStatus(r.Context(), id, body.Status); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createShipments(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderIDs []int64 `json:"orderIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.OrderIDs) == 0 {
		writeError(w, http.StatusBadRequest, "orderIds is required")
		return
	}
	if err := s.engine.CreateShipments(r.Context(), body.OrderIDs); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// fail maps engine and remote errors onto HTTP answers. Client errors from
// the order services keep their status; anything else is a bad gateway.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var rerr *remote.Error
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &rerr) && rerr.StatusCode >= 400 && rerr.StatusCode < 500:
		writeError(w, rerr.StatusCode, rerr.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
