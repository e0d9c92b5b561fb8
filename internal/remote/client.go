package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/tracing"
)

// Client talks to the order, delivery-status and mutation services.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient builds a client rooted at baseURL. Requests go through an
// otelhttp transport so spans propagate to the services.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// ListOrders runs a bulk fetch. The date, when set, is sent as a UTC calendar day.
func (c *Client) ListOrders(ctx context.Context, q models.ListQuery) (models.OrderList, error) {
	params := url.Values{}
	if q.Date != nil {
		params.Set("date", models.Day(*q.Date).Format(time.DateOnly))
	}
	if q.WithSums {
		params.Set("withSums", "true")
	}
	var list models.OrderList
	err := c.do(ctx, "ListOrders", http.MethodGet, "/orders", params, nil, &list)
	return list, err
}

func (c *Client) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, "GetOrder", http.MethodGet, orderPath(id), nil, nil, &o)
	return o, err
}

// GetDeliveryStatus returns the shipment status of an order. A 404 without a
// code is read as "no shipment yet", the same as SHIPMENT_NOT_FOUND.
func (c *Client) GetDeliveryStatus(ctx context.Context, id int64) (models.DeliveryStatusRecord, error) {
	var r models.DeliveryStatusRecord
	err := c.do(ctx, "GetDeliveryStatus", http.MethodGet, orderPath(id)+"/delivery-status", nil, nil, &r)
	var rerr *Error
	if errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound && rerr.Code == "" {
		rerr.Code = CodeShipmentNotFound
	}
	if err != nil {
		return r, err
	}
	if r.OrderID == 0 {
		r.OrderID = id
	}
	return r, nil
}

func (c *Client) CreateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, "CreateOrder", http.MethodPost, "/orders", nil, p, &o)
	return o, err
}

func (c *Client) UpdateOrder(ctx context.Context, p models.OrderPatch) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, "UpdateOrder", http.MethodPut, orderPath(p.ID), nil, p, &o)
	return o, err
}

func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	return c.do(ctx, "DeleteOrder", http.MethodDelete, orderPath(id), nil, nil, nil)
}

func (c *Client) ChangeStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	body := map[string]models.OrderStatus{"status": status}
	return c.do(ctx, "ChangeStatus", http.MethodPatch, orderPath(id)+"/status", nil, body, nil)
}

func (c *Client) CreateShipments(ctx context.Context, ids []int64) error {
	body := map[string][]int64{"orderIds": ids}
	return c.do(ctx, "CreateShipments", http.MethodPost, "/shipments", nil, body, nil)
}

func orderPath(id int64) string {
	return "/orders/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, in, out any) error {
	ctx, span := tracing.Start(ctx, "remote."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	err := c.roundTrip(ctx, op, method, path, params, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, params url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = params.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &Error{StatusCode: resp.StatusCode, Op: op}
		// Error bodies are best effort; a plain-text body becomes the message.
		if json.Unmarshal(raw, rerr) != nil {
			rerr.Message = strings.TrimSpace(string(raw))
		}
		return rerr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
