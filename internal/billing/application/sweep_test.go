package application

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/billing/infrastructure/memory"
	"gridpay-cloud/internal/gateway"
)

func newTestSweeper(t *testing.T, payments *memory.PaymentRepository, bills *memory.BillRepository, pub *stubPublisher) *Sweeper {
	t.Helper()
	sweeper, err := NewSweeper(payments, bills, nil, pub, SweepConfig{IntervalSeconds: 1, BatchSize: 10}, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return sweeper
}

func TestSweep_ReconcilesLostTransition(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	pub := &stubPublisher{}
	bill := seedBill(t, bills)

	// Confirm a payment while the bill store is failing, then heal it.
	orders := memory.NewGatewayOrderRepository()
	seedOrder(t, orders, "order_1", "user-1", bill.ID, 137500)
	bills.FailMarkPaid = errors.New("db down")
	rec := newTestReconciler(t, bills, payments, orders, pub)
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
	if outcome.BillUpdated {
		t.Fatal("expected transition to fail while store is down")
	}
	bills.FailMarkPaid = nil

	sweeper := newTestSweeper(t, payments, bills, pub)
	reconciled, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reconciled != 1 {
		t.Fatalf("expected 1 reconciled bill, got %d", reconciled)
	}

	stored, err := bills.GetByID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("load bill: %v", err)
	}
	if stored.Status != billing.BillStatusPaid {
		t.Fatalf("expected paid bill, got %s", stored.Status)
	}
	if stored.PaidPaymentID != outcome.Payment.ID {
		t.Fatalf("expected payment %s on bill, got %s", outcome.Payment.ID, stored.PaidPaymentID)
	}
	if counts := pub.byType(); counts["paid"] != 1 {
		t.Fatalf("expected 1 bill paid event, got %v", counts)
	}
}

func TestSweep_IdempotentAcrossRuns(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	pub := &stubPublisher{}
	bill := seedBill(t, bills)

	orders := memory.NewGatewayOrderRepository()
	seedOrder(t, orders, "order_1", "user-1", bill.ID, 137500)
	bills.FailMarkPaid = errors.New("db down")
	rec := newTestReconciler(t, bills, payments, orders, pub)
	sig := gateway.SignCheckout("order_1", "pay_1", testSecret)
	if _, err := rec.ConfirmCheckout(context.Background(), ConfirmCheckoutInput{
		UserID:           "user-1",
		BillID:           bill.ID,
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		GatewaySignature: sig,
	}); err != nil {
		t.Fatalf("confirm checkout: %v", err)
	}
	bills.FailMarkPaid = nil

	sweeper := newTestSweeper(t, payments, bills, pub)
	for i := 0; i < 3; i++ {
		if _, err := sweeper.RunOnce(context.Background()); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if counts := pub.byType(); counts["paid"] != 1 {
		t.Fatalf("expected exactly 1 bill paid event after repeated sweeps, got %v", counts)
	}
}

func TestSweep_NothingPending(t *testing.T) {
	bills := memory.NewBillRepository()
	payments := memory.NewPaymentRepository()
	payments.BindBills(bills)
	seedBill(t, bills)

	sweeper := newTestSweeper(t, payments, bills, &stubPublisher{})
	reconciled, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reconciled != 0 {
		t.Fatalf("expected nothing reconciled, got %d", reconciled)
	}
}

func TestLoadSweepConfig_Defaults(t *testing.T) {
	t.Setenv("SWEEP_CONFIG", "")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "")
	t.Setenv("SWEEP_BATCH_SIZE", "")

	cfg, err := LoadSweepConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IntervalSeconds != 300 {
		t.Fatalf("expected interval 300, got %d", cfg.IntervalSeconds)
	}
	if cfg.BatchSize != 100 {
		t.Fatalf("expected batch 100, got %d", cfg.BatchSize)
	}
}

func TestLoadSweepConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	if err := os.WriteFile(path, []byte("interval_seconds: 60\nbatch_size: 25\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SWEEP_CONFIG", path)

	cfg, err := LoadSweepConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IntervalSeconds != 60 || cfg.BatchSize != 25 {
		t.Fatalf("expected 60/25, got %d/%d", cfg.IntervalSeconds, cfg.BatchSize)
	}
}
