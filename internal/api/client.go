package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orderstack-kds/internal/auth"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"
	"orderstack-kds/internal/order"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client talks to the restaurant order endpoints. Order bodies are returned
// raw; mapping them is the caller's job.
type Client struct {
	baseURL      string
	restaurantID string
	token        string
	deviceID     string
	httpClient   *http.Client
	limiter      *rate.Limiter
	log          *zap.Logger
	metrics      *metrics.Registry
}

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 4 << 20

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) { c.metrics = r }
}

func NewClient(baseURL, restaurantID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		restaurantID: restaurantID,
		token:        token,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		log:          logger.Named("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) RestaurantID() string {
	return c.restaurantID
}

// ListOrders is GET /orders?limit=N.
func (c *Client) ListOrders(ctx context.Context, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var out []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/orders?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder is POST /orders.
func (c *Client) CreateOrder(ctx context.Context, payload order.CreatePayload) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/orders", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus is PATCH /orders/{id}/status with a backend status string.
func (c *Client) UpdateStatus(ctx context.Context, orderID, status string) (json.RawMessage, error) {
	return c.patchOrder(ctx, orderID, "status", map[string]string{"status": status})
}

// FireCourse is PATCH /orders/{id}/fire-course.
func (c *Client) FireCourse(ctx context.Context, orderID, courseID string) (json.RawMessage, error) {
	return c.patchOrder(ctx, orderID, "fire-course", map[string]string{"courseId": courseID})
}

// UpdateDeliveryStatus is PATCH /orders/{id}/delivery-status.
func (c *Client) UpdateDeliveryStatus(ctx context.Context, orderID, deliveryStatus string) (json.RawMessage, error) {
	return c.patchOrder(ctx, orderID, "delivery-status", map[string]string{"deliveryStatus": deliveryStatus})
}

// SetApproval is PATCH /orders/{id}/approval.
func (c *Client) SetApproval(ctx context.Context, orderID string, approved bool) (json.RawMessage, error) {
	status := "REJECTED"
	if approved {
		status = "APPROVED"
	}
	return c.patchOrder(ctx, orderID, "approval", map[string]string{"approvalStatus": status})
}

// NotifyArrival is PATCH /orders/{id}/arrival.
func (c *Client) NotifyArrival(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.patchOrder(ctx, orderID, "arrival", struct{}{})
}

// Reprint is POST /orders/{id}/reprint.
func (c *Client) Reprint(ctx context.Context, orderID string) error {
	if orderID == "" {
		return ErrEmptyOrderID
	}
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/reprint", struct{}{}, nil)
}

// ProfitInsight is GET /orders/{id}/profit-insight.
type ProfitInsight struct {
	OrderID      string  `json:"orderId"`
	TotalCost    float64 `json:"totalCost"`
	TotalRevenue float64 `json:"totalRevenue"`
	ProfitMargin float64 `json:"profitMargin"`
	StarItem     string  `json:"starItem,omitempty"`
	InsightText  string  `json:"insightText"`
	QuickTip     string  `json:"quickTip"`
}

func (c *Client) ProfitInsight(ctx context.Context, orderID string) (*ProfitInsight, error) {
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	var out ProfitInsight
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/profit-insight", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) patchOrder(ctx context.Context, orderID, action string, body any) (json.RawMessage, error) {
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(orderID)+"/"+action, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/restaurant/%s%s", c.baseURL, url.PathEscape(c.restaurantID), path)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.restaurantID == "" {
		return ErrNoRestaurant
	}

	log := c.log.With(
		zap.String("method", method),
		zap.String("path", path),
		zap.String("restaurant_id", c.restaurantID),
	)
	if reqID := logger.RequestIDFrom(ctx); reqID != "" {
		log = log.With(zap.String("request_id", reqID))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			log.Error("failed to marshal request", zap.Error(err))
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return err
	}
	for k, v := range auth.Header(c.token, c.deviceID) {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reqID := logger.RequestIDFrom(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	timer := metrics.StartTimer()
	c.metrics.Counter("api.requests").Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Counter("api.transport_errors").Inc()
		log.Warn("request failed", zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bodyBytes) > MaxResponseBytes {
		log.Warn("response body too large", zap.Int("limit", MaxResponseBytes))
		return fmt.Errorf("%s %s: %w", method, path, ErrResponseTooLarge)
	}

	elapsed := timer.Duration()
	c.metrics.Counter("api.request_ms").Add(uint64(elapsed.Milliseconds()))
	log.Debug("response received",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: backendMessage(bodyBytes)}
		log.Warn("backend returned non-success status", zap.Int("status", resp.StatusCode), zap.String("message", se.Message))
		return se
	}

	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		log.Error("failed to decode response", zap.Error(err))
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// backendMessage extracts {"message": ...} or {"error": ...} from an error body.
func backendMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
