package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridpay-cloud/internal/auth"
	billapp "gridpay-cloud/internal/billing/application"
	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/billing/infrastructure/memory"
	"gridpay-cloud/internal/gateway"
)

var testSecret = []byte("handler-test-secret")

type stubGateway struct{}

func (stubGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (gateway.Order, error) {
	return gateway.Order{ID: "order_test", Amount: amountMinor, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

func (stubGateway) FetchPayment(ctx context.Context, paymentID string) (gateway.Payment, error) {
	return gateway.Payment{}, nil
}

type fixture struct {
	handler  *Handler
	bills    *memory.BillRepository
	payments *memory.PaymentRepository
	orders   *memory.GatewayOrderRepository
	bill     *billing.Bill
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	orders := memory.NewGatewayOrderRepository()

	logger := log.New(testLogWriter{t}, "", 0)
	orderService, err := billapp.NewOrderService(stubGateway{}, bills, orders, logger)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	reconciler, err := billapp.NewReconciler(bills, payments, orders, testSecret, nil, logger)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	handler, err := NewHandler(orderService, reconciler, bills, payments, "key_test", nil, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	month, err := billing.ParseBillMonth("2026-07")
	if err != nil {
		t.Fatalf("parse bill month: %v", err)
	}
	bill := &billing.Bill{
		ID:            "bill-1",
		UserID:        "user-1",
		BillNumber:    "EB-2026-07-0001",
		ServiceNumber: "SVC-100",
		BillMonth:     month,
		DueDate:       time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		UnitsConsumed: 250,
		Charges: billing.ChargeBreakdown{
			EnergyCharge: decimal.RequireFromString("1100.00"),
			FixedCharge:  decimal.RequireFromString("150.00"),
			Tax:          decimal.RequireFromString("100.00"),
			OtherCharges: decimal.RequireFromString("25.00"),
		},
		TotalAmount: decimal.RequireFromString("1375.00"),
		Currency:    "INR",
		Status:      billing.BillStatusUnpaid,
	}
	bills.Put(bill)
	if err := orders.Insert(context.Background(), &billing.GatewayOrder{
		OrderID:     "order_1",
		UserID:      "user-1",
		BillID:      bill.ID,
		AmountMinor: 137500,
		Currency:    "INR",
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &fixture{handler: handler, bills: bills, payments: payments, orders: orders, bill: bill}
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func authedRequest(method, path string, body []byte, userID string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	ctx := auth.WithIdentity(req.Context(), userID, auth.RoleViewer)
	return req.WithContext(ctx)
}

func TestCreateOrderEndpoint(t *testing.T) {
	fx := newFixture(t)
	body := []byte(`{"bill_id":"bill-1"}`)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/payments/order", body, "user-1"))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		OrderID  string `json:"order_id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		KeyID    string `json:"key_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Amount != 137500 {
		t.Fatalf("expected 137500 minor units, got %d", out.Amount)
	}
	if out.KeyID != "key_test" {
		t.Fatalf("expected public key id, got %q", out.KeyID)
	}
}

func TestCreateOrderEndpoint_UnknownBill(t *testing.T) {
	fx := newFixture(t)
	body := []byte(`{"bill_id":"bill-404"}`)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/payments/order", body, "user-1"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	fx := newFixture(t)
	sig := gateway.SignCheckout("order_1", "pay_1", testSecret)
	body, _ := json.Marshal(map[string]string{
		"bill_id":            "bill-1",
		"gateway_order_id":   "order_1",
		"gateway_payment_id": "pay_1",
		"gateway_signature":  sig,
	})
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/payments/verify", body, "user-1"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		PaymentID   string `json:"payment_id"`
		Status      string `json:"status"`
		BillUpdated bool   `json:"bill_updated"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != billing.PaymentStatusSuccess {
		t.Fatalf("expected success status, got %s", out.Status)
	}
	if !out.BillUpdated {
		t.Fatal("expected bill updated")
	}

	stored, err := fx.bills.GetByID(context.Background(), "bill-1")
	if err != nil {
		t.Fatalf("load bill: %v", err)
	}
	if stored.Status != billing.BillStatusPaid {
		t.Fatalf("expected paid bill, got %s", stored.Status)
	}
}

func TestVerifyEndpoint_BadSignature(t *testing.T) {
	fx := newFixture(t)
	body, _ := json.Marshal(map[string]string{
		"bill_id":            "bill-1",
		"gateway_order_id":   "order_1",
		"gateway_payment_id": "pay_1",
		"gateway_signature":  "deadbeef",
	})
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/payments/verify", body, "user-1"))

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	if fx.payments.Count() != 0 {
		t.Fatalf("expected no payment recorded, got %d", fx.payments.Count())
	}
}

func TestVerifyEndpoint_OrderForAnotherBill(t *testing.T) {
	fx := newFixture(t)
	// A signed one-rupee order with no bill behind it must not settle the
	// 1375.00 bill.
	if err := fx.orders.Insert(context.Background(), &billing.GatewayOrder{
		OrderID:     "order_cheap",
		UserID:      "user-1",
		AmountMinor: 100,
		Currency:    "INR",
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	sig := gateway.SignCheckout("order_cheap", "pay_1", testSecret)
	body, _ := json.Marshal(map[string]string{
		"bill_id":            "bill-1",
		"gateway_order_id":   "order_cheap",
		"gateway_payment_id": "pay_1",
		"gateway_signature":  sig,
	})
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/payments/verify", body, "user-1"))

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.Code, resp.Body.String())
	}
	if fx.payments.Count() != 0 {
		t.Fatalf("expected no payment recorded, got %d", fx.payments.Count())
	}
	stored, err := fx.bills.GetByID(context.Background(), "bill-1")
	if err != nil {
		t.Fatalf("load bill: %v", err)
	}
	if stored.Status != billing.BillStatusUnpaid {
		t.Fatalf("expected bill to stay unpaid, got %s", stored.Status)
	}
}

func TestKeyEndpointNeverLeaksSecret(t *testing.T) {
	fx := newFixture(t)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/api/v1/payments/key", nil, "user-1"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if bytes.Contains(resp.Body.Bytes(), testSecret) {
		t.Fatal("secret leaked in key response")
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["key_id"] != "key_test" {
		t.Fatalf("expected key id, got %v", out)
	}
	if len(out) != 1 {
		t.Fatalf("expected only key_id in response, got %v", out)
	}
}

func TestGetBillEndpoint_ForeignUser(t *testing.T) {
	fx := newFixture(t)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/api/v1/bills/bill-1", nil, "user-2"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign user, got %d", resp.Code)
	}
}

func TestListBillsEndpoint(t *testing.T) {
	fx := newFixture(t)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/api/v1/bills", nil, "user-1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 bill, got %d", len(out))
	}
	if out[0]["total_amount"] != "1375" && out[0]["total_amount"] != "1375.00" {
		t.Fatalf("unexpected total amount %v", out[0]["total_amount"])
	}
}

func TestGetPaymentEndpoint(t *testing.T) {
	fx := newFixture(t)
	payment := &billing.Payment{
		ID:               "pmt-1",
		UserID:           "user-1",
		BillID:           "bill-1",
		Amount:           decimal.RequireFromString("1375.00"),
		Currency:         "INR",
		Status:           billing.PaymentStatusSuccess,
		GatewayPaymentID: "pay_1",
		CreatedAt:        time.Now().UTC(),
	}
	if _, err := fx.payments.Insert(context.Background(), payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/api/v1/payments/pmt-1", nil, "user-1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/api/v1/payments/pmt-1", nil, "user-2"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign user, got %d", resp.Code)
	}
}
