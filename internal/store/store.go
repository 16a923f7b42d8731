package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/walkin-queue/internal/models"
)

type CreateEntryInput struct {
	ClientName     string
	ClientType     models.ClientType
	CategoryIDs    []string
	SubCategoryIDs []string
	Day            QueueDay
	JoinedAt       time.Time
}

type ClaimInput struct {
	EntryID   string
	StaffID   string
	WindowID  string
	ClaimedAt time.Time
}

type CompleteInput struct {
	EntryID     string
	StaffID     string
	CompletedAt time.Time
}

type SkipInput struct {
	EntryID   string
	StaffID   string
	SkippedAt time.Time
}

// CandidateFilter selects the entries a staff window may see. Entries already
// bound to WindowID are always included; unassigned WAITING entries are
// restricted to CategoryIDs when it is non-empty.
type CandidateFilter struct {
	WindowID    string
	CategoryIDs []string
	Since       time.Time
}

// EntryStore owns queue entries and the daily counters that number them.
type EntryStore interface {
	NextQueueNumber(ctx context.Context, day QueueDay) (string, error)
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error)
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error)
	GetEntryByNumber(ctx context.Context, queueNumber string) (models.QueueEntry, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]models.QueueEntry, error)
	ClaimEntry(ctx context.Context, input ClaimInput) (models.QueueEntry, error)
	CompleteEntry(ctx context.Context, input CompleteInput) (models.ServingLog, error)
	SkipEntry(ctx context.Context, input SkipInput) (models.QueueEntry, error)
	ReconcileStaleServing(ctx context.Context, before, at time.Time) (int64, error)
	CountAhead(ctx context.Context, joinedAt, since time.Time) (int, error)
	Summary(ctx context.Context, since time.Time) (models.QueueSummary, error)
}

// LookupStore reads the reference data the queue depends on.
type LookupStore interface {
	ResolveCategories(ctx context.Context, ids []string) ([]models.Category, error)
	ResolveSubCategories(ctx context.Context, ids []string) ([]models.SubCategory, error)
	ListCategories(ctx context.Context) ([]models.CategoryTree, error)
	ActiveWindowForStaff(ctx context.Context, staffID string) (models.Window, error)
	StaffCategories(ctx context.Context, staffID string) ([]string, error)
	GetWindow(ctx context.Context, windowID string) (models.Window, error)
	AssignWindow(ctx context.Context, staffID, windowID string, at time.Time) (models.Window, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

// CatalogStore writes the reference data. It backs the catalog import command.
type CatalogStore interface {
	UpsertCategory(ctx context.Context, category models.Category) error
	UpsertSubCategory(ctx context.Context, sub models.SubCategory) error
	UpsertWindow(ctx context.Context, window models.Window) error
	SetStaffCategories(ctx context.Context, staffID string, categoryIDs []string) error
	CreateSession(ctx context.Context, session Session) error
}

type EventStore interface {
	LatestOutboxSeq(ctx context.Context) (int64, error)
	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]OutboxEvent, error)
	DeleteOutboxEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

type QueueStore interface {
	EntryStore
	LookupStore
	CatalogStore
	EventStore
	Close() error
}

type Session struct {
	SessionID string
	StaffID   string
	Role      string
	ExpiresAt time.Time
}

type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
