package application

import (
	"context"
	"errors"
	"log"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/eventing"
	"gridpay-cloud/internal/observability/metrics"
)

// OutboxDispatcher re-delivers pending outbox events.
type OutboxDispatcher interface {
	Dispatch(ctx context.Context, limit int) (eventing.DispatchResult, error)
}

// Sweeper is the periodic reconciliation loop. It settles bills whose
// successful payment landed but whose paid transition was lost, and drains
// the event outbox. Together with the conditional MarkPaid this gives each
// recorded payment at-least-once bill settlement.
type Sweeper struct {
	payments billing.PaymentRepository
	bills    billing.BillRepository
	dispatch OutboxDispatcher
	events   EventPublisher
	interval time.Duration
	batch    int
	clock    Clock
	logger   *log.Logger
}

// NewSweeper constructs the sweeper.
func NewSweeper(
	payments billing.PaymentRepository,
	bills billing.BillRepository,
	dispatch OutboxDispatcher,
	events EventPublisher,
	cfg SweepConfig,
	logger *log.Logger,
) (*Sweeper, error) {
	if payments == nil {
		return nil, errors.New("sweeper: nil payment repository")
	}
	if bills == nil {
		return nil, errors.New("sweeper: nil bill repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		payments: payments,
		bills:    bills,
		dispatch: dispatch,
		events:   events,
		interval: interval,
		batch:    batch,
		clock:    SystemClock{},
		logger:   logger,
	}, nil
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Printf("sweep run failed: %v", err)
			}
		}
	}
}

// RunOnce performs a single sweep pass and returns the number of bills it
// reconciled.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := s.clock.Now()
	reconciled := 0
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSweep(result, time.Since(start), reconciled)
	}()

	if s.dispatch != nil {
		if res, err := s.dispatch.Dispatch(ctx, s.batch); err != nil {
			s.logger.Printf("outbox dispatch failed claimed=%d err=%v", res.Claimed, err)
		}
	}

	pending, err := s.payments.ListUnreconciled(ctx, s.batch)
	if err != nil {
		result = metrics.ResultError
		return 0, err
	}

	var firstErr error
	for _, payment := range pending {
		updated, err := s.bills.MarkPaid(ctx, payment.BillID, payment.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !updated {
			continue
		}
		reconciled++
		metrics.IncBillPaid("sweep")
		s.logger.Printf("sweep reconciled bill=%s payment=%s", payment.BillID, payment.ID)
		if s.events != nil {
			pubErr := s.events.Publish(ctx, BillPaid{
				BillID:     payment.BillID,
				PaymentID:  payment.ID,
				UserID:     payment.UserID,
				Path:       "sweep",
				OccurredAt: s.clock.Now().UTC(),
			})
			if pubErr != nil {
				s.logger.Printf("publish bill paid failed bill=%s err=%v", payment.BillID, pubErr)
			}
		}
	}

	if firstErr != nil {
		result = metrics.ResultError
	}
	return reconciled, firstErr
}
