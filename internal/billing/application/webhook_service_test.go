package application

import (
	"context"
	"fmt"
	"log"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/billing/infrastructure/memory"
	"gridpay-cloud/internal/gateway"
)

func capturedBody(paymentID, orderID, billID, userID string, amountMinor int64) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": %q, "order_id": %q, "amount": %d, "currency": "INR",
			"status": "captured", "method": "upi", "contact": "+911234567890",
			"notes": {"bill_id": %q, "user_id": %q}
		}}}
	}`, paymentID, orderID, amountMinor, billID, userID))
}

func failedBody(paymentID, orderID, billID, userID string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "payment.failed",
		"payload": {"payment": {"entity": {
			"id": %q, "order_id": %q, "amount": 137500, "currency": "INR",
			"status": "failed", "error_description": "card declined",
			"notes": {"bill_id": %q, "user_id": %q}
		}}}
	}`, paymentID, orderID, billID, userID))
}

func newTestWebhookService(t *testing.T, store *memory.WebhookEventStore, payments *memory.PaymentRepository, bills *memory.BillRepository, pub *stubPublisher) *WebhookService {
	t.Helper()
	svc, err := NewWebhookService(store, payments, bills, pub, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}
	return svc
}

func TestHandleEvent_CapturedSettlesBill(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	store := memory.NewWebhookEventStore()
	pub := &stubPublisher{}
	bill := seedBill(t, bills)
	svc := newTestWebhookService(t, store, payments, bills, pub)

	body := capturedBody("pay_1", "order_1", bill.ID, "user-1", 137500)
	if err := svc.HandleEvent(context.Background(), "evt_1", "payment.captured", body); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	stored, err := bills.GetByID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("load bill: %v", err)
	}
	if stored.Status != billing.BillStatusPaid {
		t.Fatalf("expected paid bill, got %s", stored.Status)
	}
	payment, err := payments.GetByGatewayPaymentID(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("1375.00")) {
		t.Fatalf("expected 1375.00, got %s", payment.Amount)
	}
	if counts := pub.byType(); counts["recorded"] != 1 || counts["paid"] != 1 {
		t.Fatalf("expected 1 recorded + 1 paid event, got %v", counts)
	}
}

func TestHandleEvent_ReplayIsNoOp(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	store := memory.NewWebhookEventStore()
	bill := seedBill(t, bills)
	svc := newTestWebhookService(t, store, payments, bills, &stubPublisher{})

	body := capturedBody("pay_1", "order_1", bill.ID, "user-1", 137500)
	for i := 0; i < 3; i++ {
		if err := svc.HandleEvent(context.Background(), "evt_1", "payment.captured", body); err != nil {
			t.Fatalf("handle event %d: %v", i, err)
		}
	}
	if payments.Count() != 1 {
		t.Fatalf("expected 1 payment after replays, got %d", payments.Count())
	}
}

func TestHandleEvent_FailedNeverDowngradesPaidBill(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	store := memory.NewWebhookEventStore()
	bill := seedBill(t, bills)
	svc := newTestWebhookService(t, store, payments, bills, &stubPublisher{})

	captured := capturedBody("pay_1", "order_1", bill.ID, "user-1", 137500)
	if err := svc.HandleEvent(context.Background(), "evt_1", "payment.captured", captured); err != nil {
		t.Fatalf("handle captured: %v", err)
	}
	failed := failedBody("pay_2", "order_2", bill.ID, "user-1")
	if err := svc.HandleEvent(context.Background(), "evt_2", "payment.failed", failed); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	stored, err := bills.GetByID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("load bill: %v", err)
	}
	if stored.Status != billing.BillStatusPaid {
		t.Fatalf("expected bill to stay paid, got %s", stored.Status)
	}
	payment, err := payments.GetByGatewayPaymentID(context.Background(), "pay_2")
	if err != nil {
		t.Fatalf("load failed payment: %v", err)
	}
	if payment.Status != billing.PaymentStatusFailed {
		t.Fatalf("expected failed attempt recorded, got %s", payment.Status)
	}
}

func TestHandleEvent_UnknownTypeIgnored(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	store := memory.NewWebhookEventStore()
	svc := newTestWebhookService(t, store, payments, bills, &stubPublisher{})

	if err := svc.HandleEvent(context.Background(), "evt_1", "refund.created", []byte(`{"event":"refund.created"}`)); err != nil {
		t.Fatalf("handle unknown event: %v", err)
	}
	if payments.Count() != 0 {
		t.Fatalf("expected no payments, got %d", payments.Count())
	}
}

func TestHandleEvent_PaymentWithoutBillLink(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	store := memory.NewWebhookEventStore()
	svc := newTestWebhookService(t, store, payments, bills, &stubPublisher{})

	body := capturedBody("pay_1", "order_1", "", "user-1", 50000)
	if err := svc.HandleEvent(context.Background(), "evt_1", "payment.captured", body); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if payments.Count() != 1 {
		t.Fatalf("expected orphan payment recorded, got %d", payments.Count())
	}
}

func TestCheckoutAndWebhookConverge(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	store := memory.NewWebhookEventStore()
	pub := &stubPublisher{}
	bill := seedBill(t, bills)

	orders := memory.NewGatewayOrderRepository()
	seedOrder(t, orders, "order_1", "user-1", bill.ID, 137500)
	rec := newTestReconciler(t, bills, payments, orders, pub)
	svc := newTestWebhookService(t, store, payments, bills, pub)

	body := capturedBody("pay_1", "order_1", bill.ID, "user-1", 137500)
	if err := svc.HandleEvent(context.Background(), "evt_1", "payment.captured", body); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	sig := gateway.SignCheckout("order_1", "pay_1", testSecret)
	outcome, err := rec.ConfirmCheckout(context.Background(), ConfirmCheckoutInput{
		UserID:           "user-1",
		BillID:           bill.ID,
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		GatewaySignature: sig,
	})
	if err != nil {
		t.Fatalf("confirm checkout: %v", err)
	}
	if !outcome.Replayed {
		t.Fatal("expected checkout to observe the webhook payment")
	}
	if outcome.BillUpdated {
		t.Fatal("expected webhook to win the bill transition")
	}
	if payments.Count() != 1 {
		t.Fatalf("expected exactly 1 payment, got %d", payments.Count())
	}
	if counts := pub.byType(); counts["paid"] != 1 {
		t.Fatalf("expected exactly 1 bill paid event, got %v", counts)
	}
}

func TestCheckoutAndWebhookRace(t *testing.T) {
	// Both paths run at once; whoever loses the insert must replay the
	// winner's payment, and the bill transitions exactly once.
	for i := 0; i < 20; i++ {
		bills := memory.NewBillRepository()
		payments := memory.NewPaymentRepository()
		payments.BindBills(bills)
		store := memory.NewWebhookEventStore()
		pub := &stubPublisher{}
		bill := seedBill(t, bills)

		orders := memory.NewGatewayOrderRepository()
		seedOrder(t, orders, "order_1", "user-1", bill.ID, 137500)
		rec := newTestReconciler(t, bills, payments, orders, pub)
		svc := newTestWebhookService(t, store, payments, bills, pub)

		sig := gateway.SignCheckout("order_1", "pay_1", testSecret)
		body := capturedBody("pay_1", "order_1", bill.ID, "user-1", 137500)

		var wg sync.WaitGroup
		var checkoutErr, webhookErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, checkoutErr = rec.ConfirmCheckout(context.Background(), ConfirmCheckoutInput{
				UserID:           "user-1",
				BillID:           bill.ID,
				GatewayOrderID:   "order_1",
				GatewayPaymentID: "pay_1",
				GatewaySignature: sig,
			})
		}()
		go func() {
			defer wg.Done()
			webhookErr = svc.HandleEvent(context.Background(), "evt_1", "payment.captured", body)
		}()
		wg.Wait()

		if checkoutErr != nil {
			t.Fatalf("run %d: confirm checkout: %v", i, checkoutErr)
		}
		if webhookErr != nil {
			t.Fatalf("run %d: handle event: %v", i, webhookErr)
		}
		if payments.Count() != 1 {
			t.Fatalf("run %d: expected exactly 1 payment, got %d", i, payments.Count())
		}
		stored, err := bills.GetByID(context.Background(), bill.ID)
		if err != nil {
			t.Fatalf("run %d: load bill: %v", i, err)
		}
		if stored.Status != billing.BillStatusPaid {
			t.Fatalf("run %d: expected paid bill, got %s", i, stored.Status)
		}
		if counts := pub.byType(); counts["paid"] != 1 {
			t.Fatalf("run %d: expected exactly 1 bill paid event, got %v", i, counts)
		}
	}
}

func TestHandleEvent_CapturedUnderpaymentMarksPartial(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	store := memory.NewWebhookEventStore()
	pub := &stubPublisher{}
	bill := seedBill(t, bills)
	svc := newTestWebhookService(t, store, payments, bills, pub)

	// A 100.00 capture against the 1375.00 bill.
	body := capturedBody("pay_1", "order_1", bill.ID, "user-1", 10000)
	if err := svc.HandleEvent(context.Background(), "evt_1", "payment.captured", body); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if payments.Count() != 1 {
		t.Fatalf("expected payment recorded, got %d", payments.Count())
	}
	stored, err := bills.GetByID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("load bill: %v", err)
	}
	if stored.Status != billing.BillStatusPartial {
		t.Fatalf("expected partial bill, got %s", stored.Status)
	}
	if counts := pub.byType(); counts["paid"] != 0 {
		t.Fatalf("expected no bill paid event, got %v", counts)
	}
}
