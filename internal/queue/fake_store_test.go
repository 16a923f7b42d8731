package queue

import (
	"context"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

type fakeStore struct {
	nextQueueNumber       func(ctx context.Context, day store.QueueDay) (string, error)
	createEntry           func(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error)
	getEntryByNumber      func(ctx context.Context, queueNumber string) (models.QueueEntry, error)
	listCandidates        func(ctx context.Context, filter store.CandidateFilter) ([]models.QueueEntry, error)
	claimEntry            func(ctx context.Context, input store.ClaimInput) (models.QueueEntry, error)
	completeEntry         func(ctx context.Context, input store.CompleteInput) (models.ServingLog, error)
	skipEntry             func(ctx context.Context, input store.SkipInput) (models.QueueEntry, error)
	reconcileStaleServing func(ctx context.Context, before, at time.Time) (int64, error)
	countAhead            func(ctx context.Context, joinedAt, since time.Time) (int, error)
	summary               func(ctx context.Context, since time.Time) (models.QueueSummary, error)
	resolveCategories     func(ctx context.Context, ids []string) ([]models.Category, error)
	resolveSubCategories  func(ctx context.Context, ids []string) ([]models.SubCategory, error)
	activeWindowForStaff  func(ctx context.Context, staffID string) (models.Window, error)
	staffCategories       func(ctx context.Context, staffID string) ([]string, error)
	getWindow             func(ctx context.Context, windowID string) (models.Window, error)
	assignWindow          func(ctx context.Context, staffID, windowID string, at time.Time) (models.Window, error)
}

func (f *fakeStore) NextQueueNumber(ctx context.Context, day store.QueueDay) (string, error) {
	if f.nextQueueNumber != nil {
		return f.nextQueueNumber(ctx, day)
	}
	return store.FormatQueueNumber(day.Prefix, 1), nil
}

func (f *fakeStore) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	if f.createEntry != nil {
		return f.createEntry(ctx, input)
	}
	return models.QueueEntry{}, nil
}

func (f *fakeStore) GetEntry(context.Context, string) (models.QueueEntry, error) {
	return models.QueueEntry{}, store.ErrEntryNotFound
}

func (f *fakeStore) GetEntryByNumber(ctx context.Context, queueNumber string) (models.QueueEntry, error) {
	if f.getEntryByNumber != nil {
		return f.getEntryByNumber(ctx, queueNumber)
	}
	return models.QueueEntry{}, store.ErrEntryNotFound
}

func (f *fakeStore) ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]models.QueueEntry, error) {
	if f.listCandidates != nil {
		return f.listCandidates(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) ClaimEntry(ctx context.Context, input store.ClaimInput) (models.QueueEntry, error) {
	if f.claimEntry != nil {
		return f.claimEntry(ctx, input)
	}
	return models.QueueEntry{}, nil
}

func (f *fakeStore) CompleteEntry(ctx context.Context, input store.CompleteInput) (models.ServingLog, error) {
	if f.completeEntry != nil {
		return f.completeEntry(ctx, input)
	}
	return models.ServingLog{}, nil
}

func (f *fakeStore) SkipEntry(ctx context.Context, input store.SkipInput) (models.QueueEntry, error) {
	if f.skipEntry != nil {
		return f.skipEntry(ctx, input)
	}
	return models.QueueEntry{}, nil
}

func (f *fakeStore) ReconcileStaleServing(ctx context.Context, before, at time.Time) (int64, error) {
	if f.reconcileStaleServing != nil {
		return f.reconcileStaleServing(ctx, before, at)
	}
	return 0, nil
}

func (f *fakeStore) CountAhead(ctx context.Context, joinedAt, since time.Time) (int, error) {
	if f.countAhead != nil {
		return f.countAhead(ctx, joinedAt, since)
	}
	return 0, nil
}

func (f *fakeStore) Summary(ctx context.Context, since time.Time) (models.QueueSummary, error) {
	if f.summary != nil {
		return f.summary(ctx, since)
	}
	return models.QueueSummary{}, nil
}

func (f *fakeStore) ResolveCategories(ctx context.Context, ids []string) ([]models.Category, error) {
	if f.resolveCategories != nil {
		return f.resolveCategories(ctx, ids)
	}
	return nil, nil
}

func (f *fakeStore) ResolveSubCategories(ctx context.Context, ids []string) ([]models.SubCategory, error) {
	if f.resolveSubCategories != nil {
		return f.resolveSubCategories(ctx, ids)
	}
	return nil, nil
}

func (f *fakeStore) ListCategories(context.Context) ([]models.CategoryTree, error) {
	return nil, nil
}

func (f *fakeStore) ActiveWindowForStaff(ctx context.Context, staffID string) (models.Window, error) {
	if f.activeWindowForStaff != nil {
		return f.activeWindowForStaff(ctx, staffID)
	}
	return models.Window{}, store.ErrNoActiveWindow
}

func (f *fakeStore) StaffCategories(ctx context.Context, staffID string) ([]string, error) {
	if f.staffCategories != nil {
		return f.staffCategories(ctx, staffID)
	}
	return nil, nil
}

func (f *fakeStore) GetWindow(ctx context.Context, windowID string) (models.Window, error) {
	if f.getWindow != nil {
		return f.getWindow(ctx, windowID)
	}
	return models.Window{}, store.ErrWindowNotFound
}

func (f *fakeStore) AssignWindow(ctx context.Context, staffID, windowID string, at time.Time) (models.Window, error) {
	if f.assignWindow != nil {
		return f.assignWindow(ctx, staffID, windowID, at)
	}
	return models.Window{}, nil
}

func (f *fakeStore) GetSession(context.Context, string) (store.Session, error) {
	return store.Session{}, store.ErrSessionNotFound
}

// knownCatalog resolves cat-a and cat-b, with sub-a1 under cat-a and sub-b1
// under cat-b.
func knownCatalog(f *fakeStore) *fakeStore {
	categories := map[string]models.Category{
		"cat-a": {ID: "cat-a", Name: "Transcripts"},
		"cat-b": {ID: "cat-b", Name: "Enrollment"},
	}
	subs := map[string]models.SubCategory{
		"sub-a1": {ID: "sub-a1", CategoryID: "cat-a", Name: "Certified copy"},
		"sub-b1": {ID: "sub-b1", CategoryID: "cat-b", Name: "Late enrollment"},
	}
	f.resolveCategories = func(_ context.Context, ids []string) ([]models.Category, error) {
		var out []models.Category
		for _, id := range ids {
			if category, ok := categories[id]; ok {
				out = append(out, category)
			}
		}
		return out, nil
	}
	f.resolveSubCategories = func(_ context.Context, ids []string) ([]models.SubCategory, error) {
		var out []models.SubCategory
		for _, id := range ids {
			if sub, ok := subs[id]; ok {
				out = append(out, sub)
			}
		}
		return out, nil
	}
	return f
}
