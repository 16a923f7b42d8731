package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"qms/walkin-queue/internal/models"
)

const (
	EventEntryCreated      = "entry.created"
	EventEntryClaimed      = "entry.claimed"
	EventEntryServed       = "entry.served"
	EventEntrySkipped      = "entry.skipped"
	EventEntriesReconciled = "entries.reconciled"
	EventWindowAssigned    = "window.assigned"
)

type EntryEventPayload struct {
	EntryID     string            `json:"entry_id"`
	QueueNumber string            `json:"queue_number"`
	Status      string            `json:"status"`
	ClientType  models.ClientType `json:"client_type"`
	CategoryID  string            `json:"category_id"`
	WindowID    *string           `json:"window_id,omitempty"`
	StaffID     string            `json:"staff_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type ReconciledPayload struct {
	Count      int64     `json:"count"`
	Before     time.Time `json:"before"`
	OccurredAt time.Time `json:"occurred_at"`
}

type WindowAssignedPayload struct {
	StaffID      string    `json:"staff_id"`
	WindowID     string    `json:"window_id"`
	WindowNumber int       `json:"window_number"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEntryEvent builds the outbox record for a single-entry transition.
func NewEntryEvent(eventType string, entry models.QueueEntry, staffID string, at time.Time) (OutboxEvent, error) {
	return newEvent(eventType, EntryEventPayload{
		EntryID:     entry.ID,
		QueueNumber: entry.QueueNumber,
		Status:      entry.Status,
		ClientType:  entry.ClientType,
		CategoryID:  entry.CategoryID,
		WindowID:    entry.WindowID,
		StaffID:     staffID,
		OccurredAt:  at.UTC(),
	}, at)
}

func NewReconciledEvent(count int64, before, at time.Time) (OutboxEvent, error) {
	return newEvent(EventEntriesReconciled, ReconciledPayload{Count: count, Before: before.UTC(), OccurredAt: at.UTC()}, at)
}

func NewWindowAssignedEvent(staffID string, window models.Window, at time.Time) (OutboxEvent, error) {
	return newEvent(EventWindowAssigned, WindowAssignedPayload{
		StaffID:      staffID,
		WindowID:     window.ID,
		WindowNumber: window.Number,
		OccurredAt:   at.UTC(),
	}, at)
}

func newEvent(eventType string, payload any, at time.Time) (OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   raw,
		CreatedAt: at.UTC(),
	}, nil
}
