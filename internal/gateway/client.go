package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Error is an upstream gateway failure. The upstream message is preserved so
// callers can surface it instead of a generic failure.
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "gateway: unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (%s, http %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("gateway: %s (http %d)", e.Message, e.Status)
}

// AsError returns the typed gateway error when err wraps one.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Order is a transient order minted at the gateway. Amount is in minor units.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment is the gateway's view of a payment.
type Payment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Email    string `json:"email"`
	Contact  string `json:"contact"`
}

// Client is a minimal REST client for the payment gateway.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient constructs a gateway client.
func NewClient(baseURL, keyID, keySecret string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: empty base url")
	}
	if keyID == "" || keySecret == "" {
		return nil, errors.New("gateway: missing key credentials")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c, nil
}

// KeyID returns the public order-creation key. The secret never leaves the client.
func (c *Client) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

// CreateOrder mints an order at the gateway. Amount is in minor units.
// Not idempotent upstream, so the call is never retried here.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (Order, error) {
	if amountMinor <= 0 {
		return Order{}, errors.New("gateway: non-positive amount")
	}
	if currency == "" {
		currency = "INR"
	}
	body := map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return Order{}, err
	}
	if order.ID == "" {
		return Order{}, &Error{Status: http.StatusBadGateway, Message: "order response missing id"}
	}
	return order, nil
}

// FetchPayment loads a payment by its gateway id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	if paymentID == "" {
		return Payment{}, errors.New("gateway: empty payment id")
	}
	var payment Payment
	if err := c.doJSON(ctx, http.MethodGet, "/payments/"+paymentID, nil, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if c == nil || c.client == nil {
		return errors.New("gateway: nil client")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, upstreamError(resp.StatusCode, data)
		}
		return data, nil
	})
	if err != nil {
		if _, ok := AsError(err); ok {
			return err
		}
		return &Error{Status: http.StatusBadGateway, Message: err.Error()}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func upstreamError(status int, body []byte) *Error {
	var wrapped struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Description != "" {
		return &Error{Status: status, Code: wrapped.Error.Code, Message: wrapped.Error.Description}
	}
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Message: message}
}
