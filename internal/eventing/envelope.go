package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event payload with delivery metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	UserID        string          `json:"user_id"`
	BillID        string          `json:"bill_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	UserID        string
	BillID        string
	SchemaVersion int
}

// NewEventID generates a random event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// BuildEnvelope constructs an envelope from an event payload and metadata.
// UserID and BillID fall back to same-named fields on the event struct.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	eventType := reflect.TypeOf(event)
	for eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	userID := meta.UserID
	if userID == "" {
		userID = extractStringField(event, "UserID")
	}
	billID := meta.BillID
	if billID == "" {
		billID = extractStringField(event, "BillID")
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = NewEventID()
	}

	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}

	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType.String(),
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		UserID:        userID,
		BillID:        billID,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

func extractStringField(event any, names ...string) string {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return ""
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	return ""
}

func extractTimeField(event any, name string) time.Time {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return time.Time{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
