package queue

import (
	"sort"

	"qms/frontdesk-service/internal/models"
)

// TypeThenTimeOrder is the live queue order: every online entry precedes
// every walk-in. Online entries follow booking time, walk-ins arrival time.
func TypeThenTimeOrder(entries []models.QueueEntry) []models.QueueEntry {
	out := append([]models.QueueEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOnline := a.AppointmentType == models.TypeOnline
		bOnline := b.AppointmentType == models.TypeOnline
		if aOnline != bOnline {
			return aOnline
		}
		return a.PriorityTime().Before(b.PriorityTime())
	})
	return out
}

// PriorityThenNumberOrder is the admin order: high priority first, then
// ascending queue number regardless of prefix.
func PriorityThenNumberOrder(entries []models.QueueEntry) []models.QueueEntry {
	out := append([]models.QueueEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		aHigh := out[i].PriorityFlag == models.PriorityHigh
		bHigh := out[j].PriorityFlag == models.PriorityHigh
		if aHigh != bHigh {
			return aHigh
		}
		return ParseNumber(out[i].QueueNumber) < ParseNumber(out[j].QueueNumber)
	})
	return out
}

// FirstWaiting returns the first waiting entry of an ordered queue.
func FirstWaiting(ordered []models.QueueEntry) (models.QueueEntry, bool) {
	for _, entry := range ordered {
		if entry.Status == models.QueueWaiting {
			return entry, true
		}
	}
	return models.QueueEntry{}, false
}
