package queue

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

const reconcileTimeout = 2 * time.Second

var (
	claimsTotal         = expvar.NewInt("claims_total")
	claimConflictsTotal = expvar.NewInt("claim_conflicts_total")
	reconciledTotal     = expvar.NewInt("reconciled_total")
)

// Store is the persistence the service needs.
type Store interface {
	store.EntryStore
	store.LookupStore
}

type Options struct {
	// Location is the office time zone that defines a queue day.
	Location *time.Location
	Now      func() time.Time
	Tracer   trace.Tracer
}

type Service struct {
	store  Store
	loc    *time.Location
	now    func() time.Time
	tracer trace.Tracer
}

func NewService(st Store, options Options) *Service {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer("qms/walkin-queue/queue")
	}
	return &Service{store: st, loc: loc, now: now, tracer: tracer}
}

type SubmitInput struct {
	ClientName     string
	ClientType     string
	CategoryIDs    []string
	SubCategoryIDs []string
}

// CandidateView is a staff member's ordered queue at their active window.
type CandidateView struct {
	Window  models.Window       `json:"window"`
	Entries []models.QueueEntry `json:"entries"`
}

func (s *Service) today() store.QueueDay {
	return store.DayOf(s.now(), s.loc)
}

// IssueQueueNumber draws the next number for the current office day.
func (s *Service) IssueQueueNumber(ctx context.Context) (number string, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.IssueQueueNumber")
	defer func() { endSpan(span, err) }()

	day := s.today()
	span.SetAttributes(attribute.String("queue.day", day.Key))
	return s.store.NextQueueNumber(ctx, day)
}

// SubmitEntry validates a join request and persists a WAITING entry with a
// freshly issued queue number.
func (s *Service) SubmitEntry(ctx context.Context, input SubmitInput) (entry models.QueueEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.SubmitEntry")
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(input.ClientName)
	if name == "" {
		return models.QueueEntry{}, fmt.Errorf("%w: client_name is required", store.ErrValidation)
	}
	clientType, ok := models.ParseClientType(input.ClientType)
	if !ok {
		return models.QueueEntry{}, fmt.Errorf("%w: client_type must be one of REGULAR, SENIOR_CITIZEN, PWD, PREGNANT", store.ErrValidation)
	}
	categoryIDs, err := normalizeIDs(input.CategoryIDs, "category_ids")
	if err != nil {
		return models.QueueEntry{}, err
	}
	if len(categoryIDs) == 0 {
		return models.QueueEntry{}, fmt.Errorf("%w: at least one category is required", store.ErrValidation)
	}
	subCategoryIDs, err := normalizeIDs(input.SubCategoryIDs, "sub_category_ids")
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err := s.validateSelection(ctx, categoryIDs, subCategoryIDs); err != nil {
		return models.QueueEntry{}, err
	}

	now := s.now()
	day := store.DayOf(now, s.loc)
	entry, err = s.store.CreateEntry(ctx, store.CreateEntryInput{
		ClientName:     name,
		ClientType:     clientType,
		CategoryIDs:    categoryIDs,
		SubCategoryIDs: subCategoryIDs,
		Day:            day,
		JoinedAt:       now,
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	span.SetAttributes(attribute.String("entry.id", entry.ID), attribute.String("entry.queue_number", entry.QueueNumber))
	log.Printf("entry_joined queue_number=%s client_type=%s category_id=%s", entry.QueueNumber, entry.ClientType, entry.CategoryID)
	return entry, nil
}

func (s *Service) validateSelection(ctx context.Context, categoryIDs, subCategoryIDs []string) error {
	categories, err := s.store.ResolveCategories(ctx, categoryIDs)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(categories))
	for _, category := range categories {
		known[category.ID] = true
	}
	for _, id := range categoryIDs {
		if !known[id] {
			return fmt.Errorf("%w: unknown category %s", store.ErrValidation, id)
		}
	}
	if len(subCategoryIDs) == 0 {
		return nil
	}

	subs, err := s.store.ResolveSubCategories(ctx, subCategoryIDs)
	if err != nil {
		return err
	}
	parents := make(map[string]string, len(subs))
	for _, sub := range subs {
		parents[sub.ID] = sub.CategoryID
	}
	for _, id := range subCategoryIDs {
		parent, ok := parents[id]
		if !ok {
			return fmt.Errorf("%w: unknown subcategory %s", store.ErrValidation, id)
		}
		if !known[parent] {
			return fmt.Errorf("%w: subcategory %s does not belong to the selected categories", store.ErrValidation, id)
		}
	}
	return nil
}

// ListCandidates returns the ordered entries the staff member may act on.
func (s *Service) ListCandidates(ctx context.Context, staffID string) (view CandidateView, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.ListCandidates", trace.WithAttributes(attribute.String("staff.id", staffID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(staffID) == "" {
		return CandidateView{}, fmt.Errorf("%w: staff id is required", store.ErrValidation)
	}
	s.reconcileQuietly(ctx)

	window, err := s.store.ActiveWindowForStaff(ctx, staffID)
	if err != nil {
		return CandidateView{}, err
	}
	categories, err := s.store.StaffCategories(ctx, staffID)
	if err != nil {
		return CandidateView{}, err
	}
	entries, err := s.store.ListCandidates(ctx, store.CandidateFilter{
		WindowID:    window.ID,
		CategoryIDs: categories,
		Since:       s.today().Start,
	})
	if err != nil {
		return CandidateView{}, err
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	return CandidateView{Window: window, Entries: OrderCandidates(entries, window.ID)}, nil
}

// Claim binds a WAITING entry to the staff member's active window. Losing the
// race to another window yields store.ErrClaimConflict.
func (s *Service) Claim(ctx context.Context, staffID, entryID string) (entry models.QueueEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Claim", trace.WithAttributes(
		attribute.String("staff.id", staffID),
		attribute.String("entry.id", entryID),
	))
	defer func() { endSpan(span, err) }()

	if err := requireIDs(staffID, entryID); err != nil {
		return models.QueueEntry{}, err
	}
	window, err := s.store.ActiveWindowForStaff(ctx, staffID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	span.SetAttributes(attribute.String("window.id", window.ID))

	entry, err = s.store.ClaimEntry(ctx, store.ClaimInput{
		EntryID:   entryID,
		StaffID:   staffID,
		WindowID:  window.ID,
		ClaimedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			claimConflictsTotal.Add(1)
			log.Printf("claim_conflict entry_id=%s staff_id=%s window_id=%s", entryID, staffID, window.ID)
		}
		return models.QueueEntry{}, err
	}
	claimsTotal.Add(1)
	log.Printf("entry_claimed queue_number=%s staff_id=%s window=%d", entry.QueueNumber, staffID, window.Number)
	return entry, nil
}

// Complete closes a NOW_SERVING entry and returns its serving log.
func (s *Service) Complete(ctx context.Context, staffID, entryID string) (servingLog models.ServingLog, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Complete", trace.WithAttributes(
		attribute.String("staff.id", staffID),
		attribute.String("entry.id", entryID),
	))
	defer func() { endSpan(span, err) }()

	if err := requireIDs(staffID, entryID); err != nil {
		return models.ServingLog{}, err
	}
	servingLog, err = s.store.CompleteEntry(ctx, store.CompleteInput{
		EntryID:     entryID,
		StaffID:     staffID,
		CompletedAt: s.now(),
	})
	if err != nil {
		return models.ServingLog{}, err
	}
	log.Printf("entry_served entry_id=%s staff_id=%s duration_seconds=%d", entryID, staffID, servingLog.DurationSeconds)
	return servingLog, nil
}

// Skip marks a WAITING or NOW_SERVING entry SKIPPED.
func (s *Service) Skip(ctx context.Context, staffID, entryID string) (entry models.QueueEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Skip", trace.WithAttributes(
		attribute.String("staff.id", staffID),
		attribute.String("entry.id", entryID),
	))
	defer func() { endSpan(span, err) }()

	if err := requireIDs(staffID, entryID); err != nil {
		return models.QueueEntry{}, err
	}
	entry, err = s.store.SkipEntry(ctx, store.SkipInput{
		EntryID:   entryID,
		StaffID:   staffID,
		SkippedAt: s.now(),
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	log.Printf("entry_skipped queue_number=%s staff_id=%s", entry.QueueNumber, staffID)
	return entry, nil
}

// ReconcileStaleServing closes entries left NOW_SERVING from an earlier
// office day.
func (s *Service) ReconcileStaleServing(ctx context.Context) (count int64, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.ReconcileStaleServing")
	defer func() { endSpan(span, err) }()

	now := s.now()
	count, err = s.store.ReconcileStaleServing(ctx, store.DayOf(now, s.loc).Start, now)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("reconciled", count))
	if count > 0 {
		reconciledTotal.Add(count)
		log.Printf("reconcile_stale_serving closed=%d", count)
	}
	return count, nil
}

// reconcileQuietly runs the reconciler ahead of a read. Failures are logged
// and never reach the caller.
func (s *Service) reconcileQuietly(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()
	if _, err := s.ReconcileStaleServing(ctx); err != nil {
		log.Printf("reconcile_failed err=%v", err)
	}
}

// StatusByNumber is the public lookup behind the client's ticket screen.
func (s *Service) StatusByNumber(ctx context.Context, queueNumber string) (status models.EntryStatus, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.StatusByNumber")
	defer func() { endSpan(span, err) }()

	queueNumber = strings.TrimSpace(queueNumber)
	if _, _, ok := store.ParseQueueNumber(queueNumber); !ok {
		return models.EntryStatus{}, fmt.Errorf("%w: queue_number must look like MMDDYY-NNNN", store.ErrValidation)
	}
	s.reconcileQuietly(ctx)

	entry, err := s.store.GetEntryByNumber(ctx, queueNumber)
	if err != nil {
		return models.EntryStatus{}, err
	}
	status = models.EntryStatus{
		QueueNumber: entry.QueueNumber,
		Status:      entry.Status,
		JoinedAt:    entry.JoinedAt,
	}
	if entry.Active() {
		ahead, err := s.store.CountAhead(ctx, entry.JoinedAt, s.today().Start)
		if err != nil {
			return models.EntryStatus{}, err
		}
		status.PeopleAhead = ahead
	}
	if entry.WindowID != nil {
		window, err := s.store.GetWindow(ctx, *entry.WindowID)
		switch {
		case err == nil:
			number := window.Number
			status.WindowNumber = &number
		case errors.Is(err, store.ErrWindowNotFound):
		default:
			return models.EntryStatus{}, err
		}
	}
	return status, nil
}

// Summary reports today's queue counts and what each window is serving.
func (s *Service) Summary(ctx context.Context) (summary models.QueueSummary, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Summary")
	defer func() { endSpan(span, err) }()

	s.reconcileQuietly(ctx)
	day := s.today()
	summary, err = s.store.Summary(ctx, day.Start)
	if err != nil {
		return models.QueueSummary{}, err
	}
	summary.Date = day.Key
	return summary, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]models.CategoryTree, error) {
	trees, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if trees == nil {
		trees = []models.CategoryTree{}
	}
	return trees, nil
}

// AssignWindow attaches the staff member to a window, releasing any previous
// assignment on either side.
func (s *Service) AssignWindow(ctx context.Context, staffID, windowID string) (window models.Window, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.AssignWindow", trace.WithAttributes(
		attribute.String("staff.id", staffID),
		attribute.String("window.id", windowID),
	))
	defer func() { endSpan(span, err) }()

	if err := requireIDs(staffID, windowID); err != nil {
		return models.Window{}, err
	}
	window, err = s.store.AssignWindow(ctx, staffID, windowID, s.now())
	if err != nil {
		return models.Window{}, err
	}
	log.Printf("window_assigned staff_id=%s window=%d", staffID, window.Number)
	return window, nil
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: missing identifier", store.ErrValidation)
		}
	}
	return nil
}

// normalizeIDs trims and de-duplicates ids, keeping first-seen order.
func normalizeIDs(ids []string, field string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: %s contains an empty id", store.ErrValidation, field)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// endSpan records expected outcomes such as claim conflicts without marking
// the span as failed.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !isExpected(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func isExpected(err error) bool {
	return errors.Is(err, store.ErrValidation) ||
		errors.Is(err, store.ErrClaimConflict) ||
		errors.Is(err, store.ErrNoActiveWindow) ||
		errors.Is(err, store.ErrAlreadySkipped) ||
		errors.Is(err, store.ErrInvalidState) ||
		errors.Is(err, store.ErrEntryNotFound) ||
		errors.Is(err, store.ErrWindowNotFound)
}
