package queue

import (
	"sort"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

// OrderCandidates sorts a staff member's view: entries already at windowID
// first, then priority client types ahead of REGULAR, then by join time.
func OrderCandidates(entries []models.QueueEntry, windowID string) []models.QueueEntry {
	ordered := make([]models.QueueEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if ownA, ownB := boundTo(a, windowID), boundTo(b, windowID); ownA != ownB {
			return ownA
		}
		if prioA, prioB := a.ClientType.IsPriority(), b.ClientType.IsPriority(); prioA != prioB {
			return prioA
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return numberBefore(a.QueueNumber, b.QueueNumber)
	})
	return ordered
}

// numberBefore compares queue numbers by counter so 10000 follows 9999.
func numberBefore(a, b string) bool {
	_, counterA, okA := store.ParseQueueNumber(a)
	_, counterB, okB := store.ParseQueueNumber(b)
	if okA && okB && counterA != counterB {
		return counterA < counterB
	}
	return a < b
}

func boundTo(entry models.QueueEntry, windowID string) bool {
	return windowID != "" && entry.WindowID != nil && *entry.WindowID == windowID
}
