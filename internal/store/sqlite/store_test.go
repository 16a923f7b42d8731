package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

var testDay = store.QueueDay{Key: "2026-01-25", Prefix: "012526"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"), Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedCatalog(t *testing.T, st *Store) {
	t.Helper()
	ctx := context.Background()
	for _, category := range []models.Category{{ID: "cat-a", Name: "Transcripts"}, {ID: "cat-b", Name: "Enrollment"}} {
		if err := st.UpsertCategory(ctx, category); err != nil {
			t.Fatalf("upsert category: %v", err)
		}
	}
	if err := st.UpsertSubCategory(ctx, models.SubCategory{ID: "sub-a1", CategoryID: "cat-a", Name: "Certified copy"}); err != nil {
		t.Fatalf("upsert subcategory: %v", err)
	}
	for i, id := range []string{"win-1", "win-2", "win-3"} {
		if err := st.UpsertWindow(ctx, models.Window{ID: id, Number: i + 1, Name: "Window " + strconv.Itoa(i+1)}); err != nil {
			t.Fatalf("upsert window: %v", err)
		}
	}
}

func createEntry(t *testing.T, st *Store, clientType models.ClientType, joinedAt time.Time, categories ...string) models.QueueEntry {
	t.Helper()
	if len(categories) == 0 {
		categories = []string{"cat-a"}
	}
	entry, err := st.CreateEntry(context.Background(), store.CreateEntryInput{
		ClientName:  "Client",
		ClientType:  clientType,
		CategoryIDs: categories,
		Day:         store.DayOf(joinedAt, time.UTC),
		JoinedAt:    joinedAt,
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return entry
}

func suffix(t *testing.T, number string) int {
	t.Helper()
	_, counter, ok := store.ParseQueueNumber(number)
	if !ok {
		t.Fatalf("malformed queue number %q", number)
	}
	return int(counter)
}

func TestNextQueueNumberConcurrentIsGapless(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const callers = 100
	var wg sync.WaitGroup
	results := make(chan string, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := st.NextQueueNumber(ctx, testDay)
			if err != nil {
				errs <- err
				return
			}
			results <- number
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("next queue number: %v", err)
	}
	seen := make(map[string]bool, callers)
	var counters []int
	for number := range results {
		if seen[number] {
			t.Fatalf("duplicate queue number %s", number)
		}
		seen[number] = true
		if !strings.HasPrefix(number, "012526-") {
			t.Fatalf("unexpected prefix in %s", number)
		}
		counters = append(counters, suffix(t, number))
	}
	if len(counters) != callers {
		t.Fatalf("expected %d numbers, got %d", callers, len(counters))
	}
	sort.Ints(counters)
	for i, counter := range counters {
		if counter != i+1 {
			t.Fatalf("expected counter %d at position %d, got %d", i+1, i, counter)
		}
	}
}

func TestCountersArePartitionedByDay(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)

	beforeMidnight := time.Date(2026, time.January, 25, 23, 59, 59, 0, time.UTC)
	afterMidnight := beforeMidnight.Add(2 * time.Second)

	createEntry(t, st, models.ClientRegular, beforeMidnight)
	late := createEntry(t, st, models.ClientRegular, beforeMidnight)
	early := createEntry(t, st, models.ClientRegular, afterMidnight)

	if late.QueueNumber != "012526-0002" {
		t.Fatalf("expected 012526-0002, got %s", late.QueueNumber)
	}
	if early.QueueNumber != "012626-0001" {
		t.Fatalf("expected counter to restart at 012626-0001, got %s", early.QueueNumber)
	}
}

func TestCreateEntryRecordsSelections(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	joinedAt := time.Date(2026, time.January, 25, 9, 0, 0, 0, time.UTC)

	entry, err := st.CreateEntry(context.Background(), store.CreateEntryInput{
		ClientName:     "Ana",
		ClientType:     models.ClientPWD,
		CategoryIDs:    []string{"cat-b", "cat-a"},
		SubCategoryIDs: []string{"sub-a1"},
		Day:            store.DayOf(joinedAt, time.UTC),
		JoinedAt:       joinedAt,
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if entry.Status != models.StatusWaiting || entry.WindowID != nil {
		t.Fatalf("expected unbound WAITING entry, got %+v", entry)
	}
	if entry.CategoryID != "cat-b" || entry.SubCategoryID == nil || *entry.SubCategoryID != "sub-a1" {
		t.Fatalf("unexpected primary selection %+v", entry)
	}
	if len(entry.Categories) != 2 || entry.Categories[0].ID != "cat-b" || entry.Categories[1].ID != "cat-a" {
		t.Fatalf("expected categories in selection order, got %+v", entry.Categories)
	}

	loaded, err := st.GetEntryByNumber(context.Background(), entry.QueueNumber)
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if loaded.ID != entry.ID || !loaded.JoinedAt.Equal(joinedAt) {
		t.Fatalf("unexpected loaded entry %+v", loaded)
	}
	if len(loaded.SubCategories) != 1 || loaded.SubCategories[0].Name != "Certified copy" {
		t.Fatalf("expected subcategory detail, got %+v", loaded.SubCategories)
	}
}

func TestCreateEntryFailureDoesNotConsumeCounter(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	joinedAt := time.Date(2026, time.January, 25, 9, 0, 0, 0, time.UTC)

	_, err := st.CreateEntry(context.Background(), store.CreateEntryInput{
		ClientName:  "Ghost",
		ClientType:  models.ClientRegular,
		CategoryIDs: []string{"missing-category"},
		Day:         store.DayOf(joinedAt, time.UTC),
		JoinedAt:    joinedAt,
	})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}

	entry := createEntry(t, st, models.ClientRegular, joinedAt)
	if entry.QueueNumber != "012526-0001" {
		t.Fatalf("expected rolled back counter, got %s", entry.QueueNumber)
	}
}

func TestClaimRaceHasSingleWinner(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	entry := createEntry(t, st, models.ClientRegular, time.Now().UTC())

	windows := []string{"win-1", "win-2", "win-3"}
	type claimResult struct {
		window string
		entry  models.QueueEntry
		err    error
	}
	const attempts = 12
	var wg sync.WaitGroup
	results := make(chan claimResult, attempts)
	for i := 0; i < attempts; i++ {
		window := windows[i%len(windows)]
		wg.Add(1)
		go func(window string) {
			defer wg.Done()
			claimed, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: entry.ID, StaffID: "staff-" + window, WindowID: window})
			results <- claimResult{window: window, entry: claimed, err: err}
		}(window)
	}
	wg.Wait()
	close(results)

	var winners []claimResult
	conflicts := 0
	for result := range results {
		switch {
		case result.err == nil:
			winners = append(winners, result)
		case errors.Is(result.err, store.ErrClaimConflict):
			conflicts++
		default:
			t.Fatalf("unexpected claim error: %v", result.err)
		}
	}
	if len(winners) != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", attempts-1, len(winners), conflicts)
	}

	stored, err := st.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if stored.Status != models.StatusNowServing || stored.WindowID == nil || *stored.WindowID != winners[0].window {
		t.Fatalf("stored entry does not match winner %s: %+v", winners[0].window, stored)
	}
}

func TestClaimUnknownEntry(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	_, err := st.ClaimEntry(context.Background(), store.ClaimInput{EntryID: "nope", StaffID: "s", WindowID: "win-1"})
	if !errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestCompleteWritesServingLog(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	start := time.Date(2026, time.January, 25, 9, 0, 0, 0, time.UTC)
	entry := createEntry(t, st, models.ClientSeniorCitizen, start)

	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: entry.ID, StaffID: "staff-1", WindowID: "win-1", ClaimedAt: start.Add(time.Minute)}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	servingLog, err := st.CompleteEntry(ctx, store.CompleteInput{EntryID: entry.ID, StaffID: "staff-1", CompletedAt: start.Add(4 * time.Minute)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if servingLog.DurationSeconds != 180 {
		t.Fatalf("expected 180s duration, got %d", servingLog.DurationSeconds)
	}
	if servingLog.WindowID == nil || *servingLog.WindowID != "win-1" || servingLog.ClientType != models.ClientSeniorCitizen {
		t.Fatalf("unexpected serving log %+v", servingLog)
	}

	stored, err := st.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if stored.Status != models.StatusServed || stored.ServedAt == nil || !stored.ServedAt.Equal(start.Add(4*time.Minute)) {
		t.Fatalf("expected SERVED with served_at, got %+v", stored)
	}
}

func TestCompleteClampsNegativeDuration(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	start := time.Date(2026, time.January, 25, 9, 0, 0, 0, time.UTC)
	entry := createEntry(t, st, models.ClientRegular, start)
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: entry.ID, StaffID: "s", WindowID: "win-1", ClaimedAt: start.Add(time.Hour)}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	servingLog, err := st.CompleteEntry(ctx, store.CompleteInput{EntryID: entry.ID, StaffID: "s", CompletedAt: start})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if servingLog.DurationSeconds != 0 {
		t.Fatalf("expected clamped duration 0, got %d", servingLog.DurationSeconds)
	}
}

func TestCompleteRequiresNowServing(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	entry := createEntry(t, st, models.ClientRegular, time.Now().UTC())
	_, err := st.CompleteEntry(context.Background(), store.CompleteInput{EntryID: entry.ID, StaffID: "s"})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSkipGuards(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	entry := createEntry(t, st, models.ClientRegular, time.Now().UTC())

	skipped, err := st.SkipEntry(ctx, store.SkipInput{EntryID: entry.ID, StaffID: "staff-9"})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if skipped.Status != models.StatusSkipped || skipped.SkippedByStaffID == nil || *skipped.SkippedByStaffID != "staff-9" {
		t.Fatalf("unexpected skipped entry %+v", skipped)
	}
	if _, err := st.SkipEntry(ctx, store.SkipInput{EntryID: entry.ID, StaffID: "staff-9"}); !errors.Is(err, store.ErrAlreadySkipped) {
		t.Fatalf("expected ErrAlreadySkipped, got %v", err)
	}
	if _, err := st.SkipEntry(ctx, store.SkipInput{EntryID: "missing", StaffID: "staff-9"}); !errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestConcurrentSkipsFireOnce(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	entry := createEntry(t, st, models.ClientRegular, time.Now().UTC())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.SkipEntry(ctx, store.SkipInput{EntryID: entry.ID, StaffID: "staff"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, already := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrAlreadySkipped):
			already++
		default:
			t.Fatalf("unexpected skip error: %v", err)
		}
	}
	if ok != 1 || already != 7 {
		t.Fatalf("expected 1 skip and 7 already-skipped, got %d and %d", ok, already)
	}
}

func TestTerminalEntriesStayTerminal(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	now := time.Now().UTC()

	served := createEntry(t, st, models.ClientRegular, now)
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: served.ID, StaffID: "s", WindowID: "win-1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := st.CompleteEntry(ctx, store.CompleteInput{EntryID: served.ID, StaffID: "s"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	skipped := createEntry(t, st, models.ClientRegular, now)
	if _, err := st.SkipEntry(ctx, store.SkipInput{EntryID: skipped.ID, StaffID: "s"}); err != nil {
		t.Fatalf("skip: %v", err)
	}

	for _, entry := range []models.QueueEntry{served, skipped} {
		if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: entry.ID, StaffID: "s", WindowID: "win-2"}); !errors.Is(err, store.ErrClaimConflict) {
			t.Fatalf("claim on terminal entry: expected ErrClaimConflict, got %v", err)
		}
		if _, err := st.CompleteEntry(ctx, store.CompleteInput{EntryID: entry.ID, StaffID: "s"}); !errors.Is(err, store.ErrInvalidState) {
			t.Fatalf("complete on terminal entry: expected ErrInvalidState, got %v", err)
		}
	}
	if _, err := st.SkipEntry(ctx, store.SkipInput{EntryID: served.ID, StaffID: "s"}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("skip on served entry: expected ErrInvalidState, got %v", err)
	}
	if n, err := st.ReconcileStaleServing(ctx, now.Add(24*time.Hour), now); err != nil || n != 0 {
		t.Fatalf("reconcile touched terminal entries: n=%d err=%v", n, err)
	}

	servedAfter, _ := st.GetEntry(ctx, served.ID)
	skippedAfter, _ := st.GetEntry(ctx, skipped.ID)
	if servedAfter.Status != models.StatusServed || skippedAfter.Status != models.StatusSkipped {
		t.Fatalf("terminal statuses changed: %s / %s", servedAfter.Status, skippedAfter.Status)
	}
}

func TestReconcileStaleServingIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	yesterday := time.Date(2026, time.January, 24, 16, 0, 0, 0, time.UTC)
	today := time.Date(2026, time.January, 25, 0, 0, 0, 0, time.UTC)

	stale := createEntry(t, st, models.ClientRegular, yesterday)
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: stale.ID, StaffID: "s", WindowID: "win-1", ClaimedAt: yesterday}); err != nil {
		t.Fatalf("claim stale: %v", err)
	}
	fresh := createEntry(t, st, models.ClientRegular, today.Add(time.Hour))
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: fresh.ID, StaffID: "s2", WindowID: "win-2"}); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}
	waiting := createEntry(t, st, models.ClientRegular, yesterday)

	at := today.Add(2 * time.Hour)
	first, err := st.ReconcileStaleServing(ctx, today, at)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	second, err := st.ReconcileStaleServing(ctx, today, at)
	if err != nil {
		t.Fatalf("reconcile again: %v", err)
	}
	if first != 1 || second != 0 {
		t.Fatalf("expected 1 then 0, got %d then %d", first, second)
	}

	staleAfter, _ := st.GetEntry(ctx, stale.ID)
	freshAfter, _ := st.GetEntry(ctx, fresh.ID)
	waitingAfter, _ := st.GetEntry(ctx, waiting.ID)
	if staleAfter.Status != models.StatusServed || staleAfter.ServedAt == nil || !staleAfter.ServedAt.Equal(at) {
		t.Fatalf("stale entry not closed: %+v", staleAfter)
	}
	if freshAfter.Status != models.StatusNowServing {
		t.Fatalf("today's entry must stay NOW_SERVING, got %s", freshAfter.Status)
	}
	if waitingAfter.Status != models.StatusWaiting {
		t.Fatalf("waiting entry must be untouched, got %s", waitingAfter.Status)
	}
}

func TestListCandidatesFilters(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	today := time.Date(2026, time.January, 25, 0, 0, 0, 0, time.UTC)

	yesterdays := createEntry(t, st, models.ClientRegular, today.Add(-time.Hour))
	a := createEntry(t, st, models.ClientRegular, today.Add(time.Minute), "cat-a")
	b := createEntry(t, st, models.ClientRegular, today.Add(2*time.Minute), "cat-b")
	multi := createEntry(t, st, models.ClientRegular, today.Add(3*time.Minute), "cat-b", "cat-a")
	mine := createEntry(t, st, models.ClientRegular, today.Add(4*time.Minute), "cat-b")
	other := createEntry(t, st, models.ClientRegular, today.Add(5*time.Minute), "cat-a")
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: mine.ID, StaffID: "s1", WindowID: "win-1"}); err != nil {
		t.Fatalf("claim mine: %v", err)
	}
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: other.ID, StaffID: "s2", WindowID: "win-2"}); err != nil {
		t.Fatalf("claim other: %v", err)
	}

	got, err := st.ListCandidates(ctx, store.CandidateFilter{WindowID: "win-1", CategoryIDs: []string{"cat-a"}, Since: today})
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	ids := make(map[string]bool)
	for _, entry := range got {
		ids[entry.ID] = true
	}
	for _, want := range []string{a.ID, multi.ID, mine.ID} {
		if !ids[want] {
			t.Fatalf("expected candidate %s in %+v", want, got)
		}
	}
	for _, unwanted := range []string{yesterdays.ID, b.ID, other.ID} {
		if ids[unwanted] {
			t.Fatalf("unexpected candidate %s", unwanted)
		}
	}

	all, err := st.ListCandidates(ctx, store.CandidateFilter{WindowID: "win-3", Since: today})
	if err != nil {
		t.Fatalf("list all candidates: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 unassigned waiting entries, got %d", len(all))
	}
}

func TestWindowAssignment(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.ActiveWindowForStaff(ctx, "staff-1"); !errors.Is(err, store.ErrNoActiveWindow) {
		t.Fatalf("expected ErrNoActiveWindow, got %v", err)
	}
	if _, err := st.AssignWindow(ctx, "staff-1", "win-1", now); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := st.AssignWindow(ctx, "staff-1", "win-2", now); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	window, err := st.ActiveWindowForStaff(ctx, "staff-1")
	if err != nil || window.ID != "win-2" || window.Number != 2 {
		t.Fatalf("expected win-2, got %+v err=%v", window, err)
	}

	if _, err := st.AssignWindow(ctx, "staff-2", "win-2", now); err != nil {
		t.Fatalf("take over: %v", err)
	}
	if _, err := st.ActiveWindowForStaff(ctx, "staff-1"); !errors.Is(err, store.ErrNoActiveWindow) {
		t.Fatalf("expected staff-1 released, got %v", err)
	}
	if _, err := st.AssignWindow(ctx, "staff-2", "win-404", now); !errors.Is(err, store.ErrWindowNotFound) {
		t.Fatalf("expected ErrWindowNotFound, got %v", err)
	}
}

func TestStaffCategoriesReplace(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	if err := st.SetStaffCategories(ctx, "staff-1", []string{"cat-a", "cat-b"}); err != nil {
		t.Fatalf("set categories: %v", err)
	}
	if err := st.SetStaffCategories(ctx, "staff-1", []string{"cat-b"}); err != nil {
		t.Fatalf("replace categories: %v", err)
	}
	got, err := st.StaffCategories(ctx, "staff-1")
	if err != nil {
		t.Fatalf("staff categories: %v", err)
	}
	if len(got) != 1 || got[0] != "cat-b" {
		t.Fatalf("expected [cat-b], got %v", got)
	}
}

func TestSummaryAndCountAhead(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()
	today := time.Date(2026, time.January, 25, 0, 0, 0, 0, time.UTC)

	first := createEntry(t, st, models.ClientRegular, today.Add(time.Minute))
	createEntry(t, st, models.ClientRegular, today.Add(2*time.Minute))
	third := createEntry(t, st, models.ClientRegular, today.Add(3*time.Minute))
	skipped := createEntry(t, st, models.ClientRegular, today.Add(90*time.Second))
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: first.ID, StaffID: "s", WindowID: "win-2"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := st.SkipEntry(ctx, store.SkipInput{EntryID: skipped.ID, StaffID: "s"}); err != nil {
		t.Fatalf("skip: %v", err)
	}

	ahead, err := st.CountAhead(ctx, third.JoinedAt, today)
	if err != nil {
		t.Fatalf("count ahead: %v", err)
	}
	if ahead != 2 {
		t.Fatalf("expected 2 ahead of third, got %d", ahead)
	}

	summary, err := st.Summary(ctx, today)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Waiting != 2 || summary.Serving != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.NowServing) != 1 || summary.NowServing[0].WindowNumber != 2 || summary.NowServing[0].QueueNumber != first.QueueNumber {
		t.Fatalf("unexpected now serving %+v", summary.NowServing)
	}
}

func TestOutboxEventsFollowMutations(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	ctx := context.Background()

	entry := createEntry(t, st, models.ClientRegular, time.Now().UTC())
	if _, err := st.ClaimEntry(ctx, store.ClaimInput{EntryID: entry.ID, StaffID: "s", WindowID: "win-1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	events, err := st.ListOutboxEvents(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Type != store.EventEntryCreated || events[1].Type != store.EventEntryClaimed {
		t.Fatalf("unexpected events %+v", events)
	}
	latest, err := st.LatestOutboxSeq(ctx)
	if err != nil || latest != events[1].Seq {
		t.Fatalf("expected latest seq %d, got %d err=%v", events[1].Seq, latest, err)
	}
	after, err := st.ListOutboxEvents(ctx, events[0].Seq, 10)
	if err != nil || len(after) != 1 {
		t.Fatalf("expected 1 event after first, got %d err=%v", len(after), err)
	}

	deleted, err := st.DeleteOutboxEventsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil || deleted != 2 {
		t.Fatalf("expected 2 deleted events, got %d err=%v", deleted, err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	first, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = first.Close()
	second, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = second.Close()
}

func TestListCategoriesGroupsSubcategories(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)
	trees, err := st.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(trees) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(trees))
	}
	// Ordered by name: Enrollment, Transcripts.
	if trees[0].ID != "cat-b" || len(trees[0].SubCategories) != 0 {
		t.Fatalf("unexpected first category %+v", trees[0])
	}
	if trees[1].ID != "cat-a" || len(trees[1].SubCategories) != 1 {
		t.Fatalf("unexpected second category %+v", trees[1])
	}
}
