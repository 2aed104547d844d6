package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
)

const defaultWebhookEventsTable = "webhook_events"

// WebhookEventStore records gateway webhook deliveries for deduplication.
type WebhookEventStore struct {
	db    *sql.DB
	table string
}

// NewWebhookEventStore constructs a store.
func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db, table: defaultWebhookEventsTable}
}

// InsertIfAbsent records the delivery once. Returns false on a replay.
func (s *WebhookEventStore) InsertIfAbsent(ctx context.Context, event *billing.WebhookEvent) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("webhook event store: nil db")
	}
	if event == nil || event.EventID == "" {
		return false, billing.ErrMissingField
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO `+s.table+` (event_id, event_type, payload, signature_valid, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.Payload, event.SignatureValid, createdAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkProcessed stamps a delivery as handled, with the error when it failed.
func (s *WebhookEventStore) MarkProcessed(ctx context.Context, eventID string, processingErr error) error {
	if s == nil || s.db == nil {
		return errors.New("webhook event store: nil db")
	}
	errText := ""
	if processingErr != nil {
		errText = processingErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE `+s.table+`
SET processed_at = $1, error = $2
WHERE event_id = $3`, time.Now().UTC(), nullString(errText), eventID)
	return err
}
