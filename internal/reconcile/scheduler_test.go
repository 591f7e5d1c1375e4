package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/docstore/memory"
	"qms/frontdesk-service/internal/lifecycle"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"
)

var pht = time.FixedZone("PHT", 8*60*60)

type fixture struct {
	ctx   context.Context
	docs  *memory.Store
	repo  *store.Repository
	clock *bizdate.FixedClock
	sched *Scheduler
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	clock := bizdate.NewFixedClock(now)
	docs := memory.New()
	repo := store.NewRepository(docs)
	dates := bizdate.NewPartitioner(pht, clock)
	return &fixture{
		ctx:   context.Background(),
		docs:  docs,
		repo:  repo,
		clock: clock,
		sched: New(repo, dates, audit.NewEmitter(repo, clock), nil, Options{}),
	}
}

func (f *fixture) put(t *testing.T, writes ...docstore.Write) {
	t.Helper()
	require.NoError(t, f.docs.Apply(f.ctx, writes...))
}

func scheduled(name, date string) models.Appointment {
	return models.Appointment{
		FullName:        name,
		Email:           "patient@example.com",
		PreferredDate:   date,
		AppointmentType: models.TypeOnline,
		Status:          models.StatusScheduled,
		BookedAt:        time.Date(2024, 4, 20, 1, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) appointment(t *testing.T, id string) models.Appointment {
	t.Helper()
	appt, err := f.repo.GetAppointment(f.ctx, id)
	require.NoError(t, err)
	return appt
}

func (f *fixture) auditCount(t *testing.T) int {
	t.Helper()
	docs, err := f.docs.List(f.ctx, store.AuditCollection)
	require.NoError(t, err)
	return len(docs)
}

func TestSweepMarksElapsedAppointmentsMissed(t *testing.T) {
	f := newFixture(t, time.Date(2024, 5, 3, 10, 0, 0, 0, pht))

	checkedIn := scheduled("Checked In", "2024-05-02")
	checkedIn.Status = models.StatusCheckedIn
	checkedIn.CheckedIn = true
	cancelled := scheduled("Cancelled", "2024-05-01")
	cancelled.Status = models.StatusCancelled
	walkin := scheduled("Walk In", "2024-05-02")
	walkin.AppointmentType = models.TypeWalkin
	legacy := scheduled("Legacy Timestamp", "2024-05-01T18:00:00Z")

	f.put(t,
		docstore.Write{Path: store.AppointmentPath("yesterday"), Value: scheduled("Juan Dela Cruz", "2024-05-02")},
		docstore.Write{Path: store.AppointmentPath("today"), Value: scheduled("Maria Clara", "2024-05-03")},
		docstore.Write{Path: store.AppointmentPath("tomorrow"), Value: scheduled("Crisostomo Ibarra", "2024-05-04")},
		docstore.Write{Path: store.AppointmentPath("checked"), Value: checkedIn},
		docstore.Write{Path: store.AppointmentPath("cancelled"), Value: cancelled},
		docstore.Write{Path: store.AppointmentPath("walkin"), Value: walkin},
		docstore.Write{Path: store.AppointmentPath("legacy"), Value: legacy},
	)

	result, err := f.sched.Sweep(f.ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Missed)
	assert.Equal(t, 2, result.ProcessedCount)

	missed := f.appointment(t, "yesterday")
	assert.Equal(t, models.StatusMissed, missed.Status)
	assert.True(t, missed.MissedBySystem)
	assert.NotNil(t, missed.MissedTimestamp)
	assert.False(t, missed.CheckedIn)

	// 2024-05-01T18:00Z is 2024-05-02 in the clinic's zone, which is over.
	assert.Equal(t, models.StatusMissed, f.appointment(t, "legacy").Status)

	assert.Equal(t, models.StatusScheduled, f.appointment(t, "today").Status)
	assert.Equal(t, models.StatusScheduled, f.appointment(t, "tomorrow").Status)
	assert.Equal(t, models.StatusCheckedIn, f.appointment(t, "checked").Status)
	assert.Equal(t, models.StatusCancelled, f.appointment(t, "cancelled").Status)
	assert.Equal(t, models.StatusScheduled, f.appointment(t, "walkin").Status)
}

func TestSweepCompletesPastQueueEntries(t *testing.T) {
	f := newFixture(t, time.Date(2024, 5, 3, 10, 0, 0, 0, pht))
	linked := "a1"
	cancelledID := "a2"
	doneAt := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	checkedIn := scheduled("Juan Dela Cruz", "2024-05-01")
	checkedIn.Status = models.StatusCheckedIn
	checkedIn.CheckedIn = true
	checkedIn.PatientID = "p1"
	cancelled := scheduled("Maria Clara", "2024-05-01")
	cancelled.Status = models.StatusCancelled

	f.put(t,
		docstore.Write{Path: store.AppointmentPath(linked), Value: checkedIn},
		docstore.Write{Path: store.AppointmentPath(cancelledID), Value: cancelled},
		docstore.Write{Path: store.PatientPath("p1"), Value: models.Patient{FullName: "Juan Dela Cruz", Status: models.StatusCheckedIn}},
		docstore.Write{Path: store.QueueEntryPath("2024-05-01", "q1"), Value: models.QueueEntry{
			QueueNumber: "O-001", AppointmentID: &linked, AppointmentType: models.TypeOnline, Status: models.QueueWaiting,
		}},
		docstore.Write{Path: store.QueueEntryPath("2024-05-01", "q2"), Value: models.QueueEntry{
			QueueNumber: "002", AppointmentType: models.TypeWalkin, Status: models.QueueInProgress,
		}},
		docstore.Write{Path: store.QueueEntryPath("2024-05-01", "q3"), Value: models.QueueEntry{
			QueueNumber: "003", AppointmentType: models.TypeWalkin, Status: models.QueueCompleted, CompletedAt: &doneAt,
		}},
		docstore.Write{Path: store.QueueEntryPath("2024-05-02", "q4"), Value: models.QueueEntry{
			QueueNumber: "O-001", AppointmentID: &cancelledID, AppointmentType: models.TypeOnline, Status: models.QueueWaiting,
		}},
		docstore.Write{Path: store.QueueEntryPath("2024-05-03", "q5"), Value: models.QueueEntry{
			QueueNumber: "001", AppointmentType: models.TypeWalkin, Status: models.QueueWaiting,
		}},
	)

	result, err := f.sched.Sweep(f.ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 0, result.Failed)

	q1, err := f.repo.GetQueueEntry(f.ctx, "2024-05-01", "q1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, q1.Status)
	assert.True(t, q1.CompletedBySystem)
	assert.Equal(t, completionReason, q1.CompletionReason)
	assert.NotNil(t, q1.CompletedAt)

	appt := f.appointment(t, linked)
	assert.Equal(t, models.StatusCompleted, appt.Status)
	var patient models.Patient
	_, err = f.docs.Read(f.ctx, store.PatientPath("p1"), &patient)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, patient.Status)

	q3, err := f.repo.GetQueueEntry(f.ctx, "2024-05-01", "q3")
	require.NoError(t, err)
	assert.False(t, q3.CompletedBySystem)
	assert.True(t, q3.CompletedAt.Equal(doneAt))

	q4, err := f.repo.GetQueueEntry(f.ctx, "2024-05-02", "q4")
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, q4.Status)
	assert.Equal(t, models.StatusCancelled, f.appointment(t, cancelledID).Status)

	q5, err := f.repo.GetQueueEntry(f.ctx, "2024-05-03", "q5")
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, q5.Status)

	docs, err := f.docs.List(f.ctx, store.AuditCollection)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	var record models.AuditRecord
	require.NoError(t, docs[0].Decode(&record))
	assert.Equal(t, "Auto-completed 3 past queue entries", record.Action)
	assert.Equal(t, "system", record.UserRef)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Date(2024, 5, 3, 10, 0, 0, 0, pht))
	f.put(t,
		docstore.Write{Path: store.AppointmentPath("a1"), Value: scheduled("Juan Dela Cruz", "2024-05-01")},
		docstore.Write{Path: store.QueueEntryPath("2024-05-01", "q1"), Value: models.QueueEntry{
			QueueNumber: "001", AppointmentType: models.TypeWalkin, Status: models.QueueWaiting,
		}},
	)

	first, err := f.sched.Sweep(f.ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ProcessedCount)
	audits := f.auditCount(t)
	missedAt := f.appointment(t, "a1").MissedTimestamp

	second, err := f.sched.Sweep(f.ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedCount)
	assert.Equal(t, "Nothing to reconcile", second.Message)
	assert.Equal(t, audits, f.auditCount(t))
	assert.True(t, f.appointment(t, "a1").MissedTimestamp.Equal(*missedAt))
}

func TestAppointmentBecomesMissedOnlyAfterItsDay(t *testing.T) {
	f := newFixture(t, time.Date(2024, 5, 3, 8, 0, 0, 0, pht))
	f.put(t, docstore.Write{Path: store.AppointmentPath("a1"), Value: scheduled("Juan Dela Cruz", "2024-05-03")})
	f.sched.observeKey(f.sched.dates.Today())

	_, err := f.sched.Sweep(f.ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, f.appointment(t, "a1").Status)

	f.clock.Set(time.Date(2024, 5, 3, 23, 59, 59, 0, pht))
	assert.False(t, f.sched.CheckRollover(f.ctx))
	_, err = f.sched.Sweep(f.ctx, TriggerHourly)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, f.appointment(t, "a1").Status)

	f.clock.Set(time.Date(2024, 5, 4, 0, 0, 30, 0, pht))
	assert.True(t, f.sched.CheckRollover(f.ctx))
	assert.Equal(t, models.StatusMissed, f.appointment(t, "a1").Status)
	assert.False(t, f.sched.CheckRollover(f.ctx))
}

func TestSweepContinuesPastItemFailures(t *testing.T) {
	f := newFixture(t, time.Date(2024, 5, 3, 10, 0, 0, 0, pht))
	f.put(t,
		docstore.Write{Path: store.AppointmentPath("a1"), Value: scheduled("Juan Dela Cruz", "2024-05-01")},
		docstore.Write{Path: store.AppointmentPath("a2"), Value: scheduled("Maria Clara", "2024-05-02")},
	)
	f.docs.FailWrites(store.AppointmentPath("a1"), errors.New("permission denied"))

	result, err := f.sched.Sweep(f.ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Missed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.StatusScheduled, f.appointment(t, "a1").Status)
	assert.Equal(t, models.StatusMissed, f.appointment(t, "a2").Status)
}

func TestInitializeSweepsAndRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, time.Date(2024, 5, 3, 10, 0, 0, 0, pht))
	f.sched.opts = Options{
		SweepInterval:    20 * time.Millisecond,
		RolloverInterval: 5 * time.Millisecond,
		SweepTimeout:     time.Second,
	}
	f.put(t, docstore.Write{Path: store.AppointmentPath("a1"), Value: scheduled("Juan Dela Cruz", "2024-05-01")})

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	f.sched.Initialize(ctx)
	assert.Equal(t, models.StatusMissed, f.appointment(t, "a1").Status)

	f.put(t, docstore.Write{Path: store.AppointmentPath("a2"), Value: scheduled("Maria Clara", "2024-05-02")})
	require.Eventually(t, func() bool {
		appt, err := f.repo.GetAppointment(f.ctx, "a2")
		return err == nil && appt.Status == models.StatusMissed
	}, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// listHookStore runs afterList once, right after the first listing of
// collection returns, so a competing write lands between read and write.
type listHookStore struct {
	*memory.Store
	collection string
	afterList  func()
	fired      atomic.Bool
}

func (s *listHookStore) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	docs, err := s.Store.List(ctx, collection)
	if collection == s.collection && s.fired.CompareAndSwap(false, true) {
		s.afterList()
	}
	return docs, err
}

func TestSweepDoesNotMarkAppointmentCheckedInMidSweep(t *testing.T) {
	ctx := context.Background()
	clock := bizdate.NewFixedClock(time.Date(2024, 5, 3, 10, 0, 0, 0, pht))
	dates := bizdate.NewPartitioner(pht, clock)
	docs := &listHookStore{Store: memory.New(), collection: store.AppointmentsCollection}
	repo := store.NewRepository(docs)
	emitter := audit.NewEmitter(repo, clock)
	desk := lifecycle.NewManager(repo, dates, emitter, nil)
	sched := New(repo, dates, emitter, nil, Options{})

	require.NoError(t, docs.Apply(ctx, docstore.Write{
		Path:  store.AppointmentPath("late"),
		Value: scheduled("Juan Dela Cruz", "2024-05-02"),
	}))

	var admission lifecycle.Admission
	var checkInErr error
	docs.afterList = func() {
		admission, checkInErr = desk.CheckIn(ctx, audit.System(), lifecycle.CheckInCriteria{
			FullName: "Juan Dela Cruz",
			Email:    "patient@example.com",
		})
	}

	result, err := sched.Sweep(ctx, TriggerManual)
	require.NoError(t, err)
	require.NoError(t, checkInErr)
	assert.Equal(t, "O-001", admission.QueueNumber)
	assert.Equal(t, 0, result.Missed)
	assert.Equal(t, 0, result.Failed)

	appt, err := repo.GetAppointment(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, appt.Status)
	assert.True(t, appt.CheckedIn)
	require.NotNil(t, appt.QueueNumber)
	assert.Equal(t, "O-001", *appt.QueueNumber)
	assert.False(t, appt.MissedBySystem)

	entries, err := repo.ListQueue(ctx, "2024-05-03")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.QueueWaiting, entries[0].Status)
}
