package application

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/shopspring/decimal"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/billing/infrastructure/memory"
)

func newTestOrderService(t *testing.T, gw GatewayClient, bills *memory.BillRepository, orders *memory.GatewayOrderRepository) *OrderService {
	t.Helper()
	svc, err := NewOrderService(gw, bills, orders, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestCreateOrder_FromBill(t *testing.T) {
	bills := memory.NewBillRepository()
	orders := memory.NewGatewayOrderRepository()
	bill := seedBill(t, bills)
	svc := newTestOrderService(t, &stubGateway{}, bills, orders)

	out, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1",
		BillID: bill.ID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if out.AmountMinor != 137500 {
		t.Fatalf("expected 137500 minor units, got %d", out.AmountMinor)
	}
	if out.Currency != "INR" {
		t.Fatalf("expected INR, got %s", out.Currency)
	}
	if out.OrderID == "" || out.Receipt == "" {
		t.Fatalf("expected order id and receipt, got %+v", out)
	}

	// The binding is what confirmations are checked against later.
	bound, err := orders.GetByOrderID(context.Background(), out.OrderID)
	if err != nil {
		t.Fatalf("load minted order: %v", err)
	}
	if bound.UserID != "user-1" || bound.BillID != bill.ID {
		t.Fatalf("expected order bound to user-1/%s, got %s/%s", bill.ID, bound.UserID, bound.BillID)
	}
	if bound.AmountMinor != 137500 {
		t.Fatalf("expected bound amount 137500, got %d", bound.AmountMinor)
	}
}

func TestCreateOrder_ExplicitAmount(t *testing.T) {
	svc := newTestOrderService(t, &stubGateway{}, memory.NewBillRepository(), memory.NewGatewayOrderRepository())

	out, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1",
		Amount: decimal.RequireFromString("499.50"),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if out.AmountMinor != 49950 {
		t.Fatalf("expected 49950 minor units, got %d", out.AmountMinor)
	}
}

func TestCreateOrder_InvalidAmount(t *testing.T) {
	svc := newTestOrderService(t, &stubGateway{}, memory.NewBillRepository(), memory.NewGatewayOrderRepository())

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1",
		Amount: decimal.RequireFromString("-5"),
	})
	if !errors.Is(err, billing.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestCreateOrder_PaidBillRejected(t *testing.T) {
	bills := memory.NewBillRepository()
	bill := seedBill(t, bills)
	if _, err := bills.MarkPaid(context.Background(), bill.ID, "pmt-x"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	svc := newTestOrderService(t, &stubGateway{}, bills, memory.NewGatewayOrderRepository())

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1",
		BillID: bill.ID,
	})
	if !errors.Is(err, billing.ErrBillNotPayable) {
		t.Fatalf("expected not payable, got %v", err)
	}
}

func TestCreateOrder_ForeignBillRejected(t *testing.T) {
	bills := memory.NewBillRepository()
	bill := seedBill(t, bills)
	svc := newTestOrderService(t, &stubGateway{}, bills, memory.NewGatewayOrderRepository())

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-2",
		BillID: bill.ID,
	})
	if !errors.Is(err, billing.ErrBillNotFound) {
		t.Fatalf("expected bill not found, got %v", err)
	}
}

func TestCreateOrder_GatewayError(t *testing.T) {
	gwErr := errors.New("gateway unavailable")
	svc := newTestOrderService(t, &stubGateway{orderErr: gwErr}, memory.NewBillRepository(), memory.NewGatewayOrderRepository())

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1",
		Amount: decimal.RequireFromString("100"),
	})
	if !errors.Is(err, gwErr) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
