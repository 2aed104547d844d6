package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// fake_gateway imitates the payment gateway for local development: it mints
// orders, serves payments, and can push signed webhooks at the app. Checkout
// and webhook signatures use the same HMAC scheme as the real gateway, so the
// verification path in the app runs unmodified.

type fakeGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
	webhookURL    string
	latency       time.Duration
	failRate      float64

	orderSeq   int64
	paymentSeq int64

	mu       sync.Mutex
	orders   map[string]*gwOrder
	payments map[string]*gwPayment
}

type gwOrder struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type gwPayment struct {
	ID       string            `json:"id"`
	OrderID  string            `json:"order_id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Method   string            `json:"method"`
	Contact  string            `json:"contact"`
	Notes    map[string]string `json:"notes,omitempty"`
}

func main() {
	addr := getenvDefault("FAKE_GATEWAY_ADDR", ":18090")
	srv := &fakeGateway{
		keyID:         getenvDefault("GATEWAY_KEY_ID", "key_fake"),
		keySecret:     getenvDefault("GATEWAY_KEY_SECRET", "secret_fake"),
		webhookSecret: getenvDefault("GATEWAY_WEBHOOK_SECRET", "whsecret_fake"),
		webhookURL:    getenvDefault("FAKE_GATEWAY_WEBHOOK_URL", ""),
		latency:       time.Duration(getenvIntDefault("FAKE_GATEWAY_LATENCY_MS", 0)) * time.Millisecond,
		failRate:      getenvFloatDefault("FAKE_GATEWAY_FAIL_RATE", 0),
		orders:        make(map[string]*gwOrder),
		payments:      make(map[string]*gwPayment),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/orders", srv.handleOrders)
	mux.HandleFunc("/payments/", srv.handlePayment)
	mux.HandleFunc("/simulate/checkout", srv.handleSimulateCheckout)

	log.Printf("fake gateway listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeGateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeGateway) checkAuth(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == s.keyID && pass == s.keySecret
}

func (s *fakeGateway) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !s.checkAuth(r) {
		writeGatewayError(w, http.StatusUnauthorized, "BAD_REQUEST_ERROR", "authentication failed")
		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		writeGatewayError(w, http.StatusBadGateway, "SERVER_ERROR", "simulated gateway failure")
		return
	}

	var payload struct {
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Receipt  string            `json:"receipt"`
		Notes    map[string]string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "invalid json")
		return
	}
	if payload.Amount <= 0 {
		writeGatewayError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "amount must be positive")
		return
	}
	if payload.Currency == "" {
		payload.Currency = "INR"
	}

	order := &gwOrder{
		ID:       fmt.Sprintf("order_fake%06d", atomic.AddInt64(&s.orderSeq, 1)),
		Amount:   payload.Amount,
		Currency: payload.Currency,
		Receipt:  payload.Receipt,
		Status:   "created",
		Notes:    payload.Notes,
	}
	s.mu.Lock()
	s.orders[order.ID] = order
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, order)
}

func (s *fakeGateway) handlePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if !s.checkAuth(r) {
		writeGatewayError(w, http.StatusUnauthorized, "BAD_REQUEST_ERROR", "authentication failed")
		return
	}
	paymentID := r.URL.Path[len("/payments/"):]
	s.mu.Lock()
	payment, ok := s.payments[paymentID]
	s.mu.Unlock()
	if !ok {
		writeGatewayError(w, http.StatusNotFound, "BAD_REQUEST_ERROR", "payment not found")
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// handleSimulateCheckout completes an order as a paying customer would: it
// creates a captured payment, returns the checkout signature the client
// callback carries, and optionally fires the signed webhook.
func (s *fakeGateway) handleSimulateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var payload struct {
		OrderID string `json:"order_id"`
		Method  string `json:"method"`
		Contact string `json:"contact"`
		Fail    bool   `json:"fail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "invalid json")
		return
	}

	s.mu.Lock()
	order, ok := s.orders[payload.OrderID]
	s.mu.Unlock()
	if !ok {
		writeGatewayError(w, http.StatusNotFound, "BAD_REQUEST_ERROR", "order not found")
		return
	}

	status := "captured"
	event := "payment.captured"
	if payload.Fail {
		status = "failed"
		event = "payment.failed"
	}
	method := payload.Method
	if method == "" {
		method = "upi"
	}
	payment := &gwPayment{
		ID:       fmt.Sprintf("pay_fake%06d", atomic.AddInt64(&s.paymentSeq, 1)),
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   status,
		Method:   method,
		Contact:  payload.Contact,
		Notes:    order.Notes,
	}
	s.mu.Lock()
	s.payments[payment.ID] = payment
	if !payload.Fail {
		order.Status = "paid"
	}
	s.mu.Unlock()

	signature := signHex([]byte(order.ID+"|"+payment.ID), []byte(s.keySecret))
	webhookStatus := s.fireWebhook(event, payment)

	writeJSON(w, http.StatusOK, map[string]any{
		"gateway_order_id":   order.ID,
		"gateway_payment_id": payment.ID,
		"gateway_signature":  signature,
		"status":             status,
		"webhook":            webhookStatus,
	})
}

func (s *fakeGateway) fireWebhook(event string, payment *gwPayment) string {
	if s.webhookURL == "" {
		return "disabled"
	}
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{"entity": payment},
		},
	})
	if err != nil {
		return "marshal error"
	}
	req, err := http.NewRequest(http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "request error"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Event-Id", fmt.Sprintf("evt_fake_%s_%s", event, payment.ID))
	req.Header.Set("X-Gateway-Signature", signHex(body, []byte(s.webhookSecret)))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "delivery error: " + err.Error()
	}
	defer resp.Body.Close()
	return resp.Status
}

func signHex(message, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeGatewayError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "description": description},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
