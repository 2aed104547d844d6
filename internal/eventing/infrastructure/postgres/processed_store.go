package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultProcessedTable = "processed_events"

// ProcessedStore is a Postgres implementation for processed-event records.
type ProcessedStore struct {
	db    *sql.DB
	table string
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB, opts ...ProcessedOption) *ProcessedStore {
	store := &ProcessedStore{db: db, table: defaultProcessedTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// ProcessedOption configures the processed store.
type ProcessedOption func(*ProcessedStore)

// WithProcessedTable overrides the table name.
func WithProcessedTable(table string) ProcessedOption {
	return func(store *ProcessedStore) {
		if table != "" {
			store.table = table
		}
	}
}

// HasProcessed reports whether a consumer already handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("processed store: nil db")
	}
	if eventID == "" || consumerName == "" {
		return false, nil
	}
	query := fmt.Sprintf(`
SELECT 1
FROM %s
WHERE event_id = $1 AND consumer = $2
LIMIT 1`, s.table)

	var one int
	err := s.db.QueryRowContext(ctx, query, eventID, consumerName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed records that a consumer handled the event.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: empty key")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, consumer, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer)
DO NOTHING`, s.table)
	_, err := s.db.ExecContext(ctx, query, eventID, consumerName, time.Now().UTC())
	return err
}
