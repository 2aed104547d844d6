package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/observability/metrics"
)

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Method           string            `json:"method"`
	Email            string            `json:"email"`
	Contact          string            `json:"contact"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

// WebhookService applies gateway webhook events to the payment records.
// Deliveries are deduplicated on event id, so gateway retries are no-ops.
type WebhookService struct {
	store    billing.WebhookEventStore
	payments billing.PaymentRepository
	bills    billing.BillRepository
	events   EventPublisher
	clock    Clock
	logger   *log.Logger
}

// NewWebhookService constructs the service.
func NewWebhookService(
	store billing.WebhookEventStore,
	payments billing.PaymentRepository,
	bills billing.BillRepository,
	events EventPublisher,
	logger *log.Logger,
) (*WebhookService, error) {
	if store == nil {
		return nil, errors.New("webhook service: nil event store")
	}
	if payments == nil {
		return nil, errors.New("webhook service: nil payment repository")
	}
	if bills == nil {
		return nil, errors.New("webhook service: nil bill repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WebhookService{
		store:    store,
		payments: payments,
		bills:    bills,
		events:   events,
		clock:    SystemClock{},
		logger:   logger,
	}, nil
}

// HandleEvent processes one verified webhook delivery. The caller has already
// checked the body signature; rawBody is the exact bytes that were signed.
func (s *WebhookService) HandleEvent(ctx context.Context, eventID, eventType string, rawBody []byte) error {
	start := s.clock.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveWebhookEvent(eventType, result, time.Since(start))
	}()

	if eventID == "" {
		result = metrics.ResultError
		return billing.ErrMissingField
	}

	created, err := s.store.InsertIfAbsent(ctx, &billing.WebhookEvent{
		EventID:        eventID,
		EventType:      eventType,
		Payload:        rawBody,
		SignatureValid: true,
	})
	if err != nil {
		result = metrics.ResultError
		return err
	}
	if !created {
		s.logger.Printf("webhook replay ignored event=%s type=%s", eventID, eventType)
		return nil
	}

	var handleErr error
	switch eventType {
	case "payment.captured", "order.paid":
		handleErr = s.applyCaptured(ctx, rawBody)
	case "payment.failed":
		handleErr = s.applyFailed(ctx, rawBody)
	default:
		s.logger.Printf("webhook event ignored event=%s type=%s", eventID, eventType)
	}

	if markErr := s.store.MarkProcessed(ctx, eventID, handleErr); markErr != nil {
		s.logger.Printf("webhook mark processed failed event=%s err=%v", eventID, markErr)
	}
	if handleErr != nil {
		result = metrics.ResultError
	}
	return handleErr
}

func (s *WebhookService) applyCaptured(ctx context.Context, rawBody []byte) error {
	entity, err := decodeEntity(rawBody)
	if err != nil {
		return err
	}
	if entity.ID == "" {
		return billing.ErrMissingField
	}

	now := s.clock.Now().UTC()
	payment := &billing.Payment{
		ID:               billing.NewPaymentID(),
		UserID:           entity.Notes["user_id"],
		BillID:           entity.Notes["bill_id"],
		Amount:           decimal.New(entity.Amount, -2),
		Currency:         entity.Currency,
		Status:           billing.PaymentStatusSuccess,
		Method:           entity.Method,
		Contact:          entity.Contact,
		GatewayOrderID:   entity.OrderID,
		GatewayPaymentID: entity.ID,
		PaidAt:           now,
		CreatedAt:        now,
	}

	created, err := s.payments.Insert(ctx, payment)
	if err != nil {
		return err
	}
	if !created {
		existing, err := s.payments.GetByGatewayPaymentID(ctx, entity.ID)
		if err != nil {
			return err
		}
		payment = existing
	} else if s.events != nil {
		pubErr := s.events.Publish(ctx, PaymentRecorded{
			PaymentID:        payment.ID,
			BillID:           payment.BillID,
			UserID:           payment.UserID,
			GatewayPaymentID: payment.GatewayPaymentID,
			Amount:           payment.Amount,
			Currency:         payment.Currency,
			OccurredAt:       now,
		})
		if pubErr != nil {
			s.logger.Printf("publish payment recorded failed payment=%s err=%v", payment.ID, pubErr)
		}
	}

	if payment.BillID == "" {
		s.logger.Printf("webhook payment without bill link payment=%s", payment.GatewayPaymentID)
		return nil
	}

	bill, err := s.bills.GetByID(ctx, payment.BillID)
	if err != nil {
		// Payment is recorded; the sweep settles the bill once the store
		// answers again.
		s.logger.Printf("webhook bill lookup failed bill=%s payment=%s err=%v", payment.BillID, payment.ID, err)
		return nil
	}
	if payment.Amount.LessThan(bill.TotalAmount) {
		if _, err := s.bills.MarkPartial(ctx, payment.BillID); err != nil {
			s.logger.Printf("webhook mark partial failed bill=%s err=%v", payment.BillID, err)
		}
		s.logger.Printf("webhook underpayment bill=%s payment=%s amount=%s total=%s",
			payment.BillID, payment.ID, payment.Amount, bill.TotalAmount)
		return nil
	}

	updated, err := s.bills.MarkPaid(ctx, payment.BillID, payment.ID)
	if err != nil {
		// Payment is recorded; the sweep settles the bill.
		s.logger.Printf("webhook mark paid failed bill=%s payment=%s err=%v", payment.BillID, payment.ID, err)
		return nil
	}
	if updated {
		metrics.IncBillPaid("webhook")
		if s.events != nil {
			pubErr := s.events.Publish(ctx, BillPaid{
				BillID:     payment.BillID,
				PaymentID:  payment.ID,
				UserID:     payment.UserID,
				Path:       "webhook",
				OccurredAt: s.clock.Now().UTC(),
			})
			if pubErr != nil {
				s.logger.Printf("publish bill paid failed bill=%s err=%v", payment.BillID, pubErr)
			}
		}
	}
	return nil
}

// applyFailed records the failed attempt. It never downgrades a bill; a paid
// bill stays paid even when a later attempt for it fails.
func (s *WebhookService) applyFailed(ctx context.Context, rawBody []byte) error {
	entity, err := decodeEntity(rawBody)
	if err != nil {
		return err
	}
	if entity.ID == "" {
		return billing.ErrMissingField
	}

	now := s.clock.Now().UTC()
	payment := &billing.Payment{
		ID:               billing.NewPaymentID(),
		UserID:           entity.Notes["user_id"],
		BillID:           entity.Notes["bill_id"],
		Amount:           decimal.New(entity.Amount, -2),
		Currency:         entity.Currency,
		Status:           billing.PaymentStatusFailed,
		Method:           entity.Method,
		Contact:          entity.Contact,
		GatewayOrderID:   entity.OrderID,
		GatewayPaymentID: entity.ID,
		CreatedAt:        now,
	}
	if entity.ErrorDescription != "" {
		if notes, err := json.Marshal(map[string]string{"reason": entity.ErrorDescription}); err == nil {
			payment.Notes = notes
		}
	}

	created, err := s.payments.Insert(ctx, payment)
	if err != nil {
		return err
	}
	if created && s.events != nil {
		pubErr := s.events.Publish(ctx, PaymentFailed{
			PaymentID:        payment.ID,
			BillID:           payment.BillID,
			UserID:           payment.UserID,
			GatewayPaymentID: payment.GatewayPaymentID,
			Reason:           entity.ErrorDescription,
			OccurredAt:       now,
		})
		if pubErr != nil {
			s.logger.Printf("publish payment failed event: payment=%s err=%v", payment.ID, pubErr)
		}
	}
	return nil
}

func decodeEntity(rawBody []byte) (paymentEntity, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return paymentEntity{}, err
	}
	return env.Payload.Payment.Entity, nil
}
