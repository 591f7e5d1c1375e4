// Package lifecycle moves appointments and queue entries through their
// states. Every state-changing call takes the acting staff member explicitly
// and writes all mirrored records in one atomic multi-path update.
package lifecycle

import (
	"sync"
	"time"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/metrics"
	"qms/frontdesk-service/internal/queue"
	"qms/frontdesk-service/internal/store"
)

type Manager struct {
	repo    *store.Repository
	alloc   *queue.Allocator
	dates   *bizdate.Partitioner
	audit   *audit.Emitter
	metrics *metrics.FrontDeskMetrics

	// checkInMu serialises check-ins and staff missed-marking so one
	// appointment cannot be matched twice; queueMu serialises call-next so two desks never call the same entry.
	checkInMu sync.Mutex
	queueMu   sync.Mutex

	// rolloverInterval is how often a watch on today checks for a new date.
	rolloverInterval time.Duration
}

func NewManager(repo *store.Repository, dates *bizdate.Partitioner, emitter *audit.Emitter, m *metrics.FrontDeskMetrics) *Manager {
	return &Manager{
		repo:    repo,
		alloc:   queue.NewAllocator(repo),
		dates:   dates,
		audit:   emitter,
		metrics: m,

		rolloverInterval: time.Minute,
	}
}

func (m *Manager) Dates() *bizdate.Partitioner { return m.dates }

func (m *Manager) now() time.Time {
	return m.dates.Now().UTC()
}

// resolveDate turns an optional caller supplied date into a business date
// key, defaulting to today.
func (m *Manager) resolveDate(raw string) (string, error) {
	if raw == "" {
		return m.dates.Today(), nil
	}
	key, err := m.dates.Normalize(raw)
	if err != nil {
		verr := &store.ValidationError{}
		verr.Add("date", "must be a date in YYYY-MM-DD format")
		return "", verr
	}
	return key, nil
}

func stringPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
