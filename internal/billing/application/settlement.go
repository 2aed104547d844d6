package application

import (
	"context"
	"errors"
	"log"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/eventing/eventbus"
	"gridpay-cloud/internal/observability/metrics"
)

// NewPaymentRecordedHandler returns the bus consumer that applies the bill
// transition for payments delivered through the outbox. It is the
// event-driven counterpart of the sweep: a recorded payment whose inline
// MarkPaid was lost settles as soon as its outbox record is dispatched,
// instead of waiting for the next sweep tick. The conditional MarkPaid keeps
// redeliveries no-ops.
func NewPaymentRecordedHandler(bills billing.BillRepository, events EventPublisher, logger *log.Logger) eventbus.EventHandler {
	if logger == nil {
		logger = log.Default()
	}
	return func(ctx context.Context, event any) error {
		evt, ok := event.(PaymentRecorded)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		if evt.BillID == "" {
			return nil
		}
		bill, err := bills.GetByID(ctx, evt.BillID)
		if err != nil {
			if errors.Is(err, billing.ErrBillNotFound) {
				return nil
			}
			return err
		}
		if evt.Amount.LessThan(bill.TotalAmount) {
			// Underpayments never settle a bill, on any path.
			return nil
		}
		updated, err := bills.MarkPaid(ctx, evt.BillID, evt.PaymentID)
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}
		metrics.IncBillPaid("outbox")
		logger.Printf("outbox settled bill=%s payment=%s", evt.BillID, evt.PaymentID)
		if events != nil {
			pubErr := events.Publish(ctx, BillPaid{
				BillID:     evt.BillID,
				PaymentID:  evt.PaymentID,
				UserID:     evt.UserID,
				Path:       "outbox",
				OccurredAt: time.Now().UTC(),
			})
			if pubErr != nil {
				logger.Printf("publish bill paid failed bill=%s err=%v", evt.BillID, pubErr)
			}
		}
		return nil
	}
}
