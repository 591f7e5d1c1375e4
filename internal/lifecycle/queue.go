package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/queue"
	"qms/frontdesk-service/internal/store"
)

// AdvanceStatus moves a queue entry forward and mirrors the new status onto
// its appointment and patient. Re-applying the current status is a no-op.
func (m *Manager) AdvanceStatus(ctx context.Context, actor audit.Actor, date, entryID, status string) (entry models.QueueEntry, err error) {
	defer func() { m.metrics.ObserveOperation("advance_status", err) }()

	switch status {
	case models.QueueWaiting, models.QueueInProgress, models.QueueCompleted:
	default:
		verr := &store.ValidationError{}
		verr.Add("status", "must be waiting, in-progress or completed")
		return models.QueueEntry{}, verr
	}
	date, err = m.resolveDate(date)
	if err != nil {
		return models.QueueEntry{}, err
	}

	entry, err = m.repo.GetQueueEntry(ctx, date, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if entry.Status == status {
		return entry, nil
	}
	if !store.ValidQueueTransition(entry.Status, status) {
		return models.QueueEntry{}, fmt.Errorf("queue entry %s is %s: %w", entryID, entry.Status, store.ErrInvalidState)
	}

	now := m.now()
	fields := map[string]interface{}{"status": status, "updated_at": now}
	if status == models.QueueInProgress && entry.CalledAt == nil {
		fields["called_at"] = now
		entry.CalledAt = timePtr(now)
	}
	if status == models.QueueCompleted {
		fields["completed_at"] = now
		entry.CompletedAt = timePtr(now)
	}
	previous := entry.Status
	entry.Status = status
	entry.UpdatedAt = now

	writes := []docstore.Write{{Path: store.QueueEntryPath(date, entry.ID), Fields: fields, Expect: store.InStatus(previous)}}
	mirror, err := m.appointmentMirror(ctx, entry, store.AppointmentStatusForQueue(status))
	if err != nil {
		return models.QueueEntry{}, err
	}
	writes = append(writes, mirror...)
	if err := m.repo.Apply(ctx, writes...); err != nil {
		return models.QueueEntry{}, err
	}

	m.audit.Emit(ctx, actor, fmt.Sprintf("Updated queue %s for: %s to %s", entry.QueueNumber, entry.FullName, status))
	return entry, nil
}

func (m *Manager) MarkCompleted(ctx context.Context, actor audit.Actor, date, entryID string) (models.QueueEntry, error) {
	return m.AdvanceStatus(ctx, actor, date, entryID, models.QueueCompleted)
}

// appointmentMirror builds the writes that copy a queue status onto the
// linked appointment and patient. Terminal appointments are left alone.
func (m *Manager) appointmentMirror(ctx context.Context, entry models.QueueEntry, apptStatus string) ([]docstore.Write, error) {
	if entry.AppointmentID == nil || *entry.AppointmentID == "" {
		return nil, nil
	}
	appt, err := m.repo.GetAppointment(ctx, *entry.AppointmentID)
	if errors.Is(err, store.ErrNotFound) {
		logging.FromContext(ctx).Warn().
			Str("queue_entry_id", entry.ID).
			Str("appointment_id", *entry.AppointmentID).
			Msg("queue entry references a missing appointment")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if appt.Status == apptStatus || models.IsTerminal(appt.Status) {
		return nil, nil
	}

	now := m.now()
	fields := map[string]interface{}{"status": apptStatus, "updated_at": now}
	if apptStatus == models.StatusCompleted {
		fields["completed_at"] = now
	}
	writes := []docstore.Write{{Path: store.AppointmentPath(appt.ID), Fields: fields, Expect: store.InStatus(appt.Status)}}
	patientID := appt.PatientID
	if patientID == "" && entry.PatientID != nil {
		patientID = *entry.PatientID
	}
	return append(writes, patientMirror(patientID, apptStatus, now)...), nil
}

// CallNext calls the first waiting patient of the live queue.
func (m *Manager) CallNext(ctx context.Context, actor audit.Actor, date string) (models.QueueEntry, error) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	entries, err := m.LiveQueue(ctx, date)
	if err != nil {
		return models.QueueEntry{}, err
	}
	next, ok := queue.FirstWaiting(entries)
	if !ok {
		return models.QueueEntry{}, fmt.Errorf("no waiting patients: %w", store.ErrNotFound)
	}
	return m.AdvanceStatus(ctx, actor, next.Date, next.ID, models.QueueInProgress)
}

func (m *Manager) SetPriority(ctx context.Context, actor audit.Actor, date, entryID, flag string) (err error) {
	defer func() { m.metrics.ObserveOperation("set_priority", err) }()

	if flag != models.PriorityNormal && flag != models.PriorityHigh {
		verr := &store.ValidationError{}
		verr.Add("priority_flag", "must be normal or high")
		return verr
	}
	date, err = m.resolveDate(date)
	if err != nil {
		return err
	}
	entry, err := m.repo.GetQueueEntry(ctx, date, entryID)
	if err != nil {
		return err
	}
	if entry.Status == models.QueueCompleted {
		return fmt.Errorf("queue entry %s is completed: %w", entryID, store.ErrInvalidState)
	}
	if entry.PriorityFlag == flag {
		return nil
	}

	if err := m.repo.Apply(ctx, docstore.Write{
		Path:   store.QueueEntryPath(date, entryID),
		Fields: map[string]interface{}{"priority_flag": flag, "updated_at": m.now()},
	}); err != nil {
		return err
	}
	m.audit.Emit(ctx, actor, fmt.Sprintf("Set %s priority for: %s", flag, entry.FullName))
	return nil
}

// LiveQueue returns a date's queue in the order patients are served.
func (m *Manager) LiveQueue(ctx context.Context, date string) ([]models.QueueEntry, error) {
	date, err := m.resolveDate(date)
	if err != nil {
		return nil, err
	}
	entries, err := m.repo.ListQueue(ctx, date)
	if err != nil {
		return nil, err
	}
	return queue.TypeThenTimeOrder(entries), nil
}

// AdminQueue returns a date's queue flagged entries first, then by number.
func (m *Manager) AdminQueue(ctx context.Context, date string) ([]models.QueueEntry, error) {
	date, err := m.resolveDate(date)
	if err != nil {
		return nil, err
	}
	entries, err := m.repo.ListQueue(ctx, date)
	if err != nil {
		return nil, err
	}
	return queue.PriorityThenNumberOrder(entries), nil
}

// WatchQueue calls fn with the resolved date and the ordered live queue now
// and after every change to that partition, until the returned stop function
// is called. An empty date follows today: the watch moves to the new
// partition once the business date rolls over.
func (m *Manager) WatchQueue(ctx context.Context, date string, fn func(string, []models.QueueEntry)) (func(), error) {
	if date != "" {
		key, err := m.resolveDate(date)
		if err != nil {
			return nil, err
		}
		return m.watchPartition(ctx, key, fn)
	}

	current := m.dates.Today()
	stopCurrent, err := m.watchPartition(ctx, current, fn)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { stopCurrent() }()
		ticker := time.NewTicker(m.rolloverInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
			next := m.dates.Today()
			if next == current {
				continue
			}
			stopCurrent()
			stopCurrent = func() {}
			stopNext, err := m.watchPartition(watchCtx, next, fn)
			if err != nil {
				logging.FromContext(ctx).Warn().Err(err).Str("date", next).Msg("follow queue rollover failed")
				continue
			}
			current, stopCurrent = next, stopNext
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (m *Manager) watchPartition(ctx context.Context, date string, fn func(string, []models.QueueEntry)) (func(), error) {
	return m.repo.Docs().Subscribe(ctx, store.QueuePartition(date), func(docs []docstore.Document) {
		entries, err := store.DecodeQueue(date, docs)
		if err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("date", date).Msg("queue snapshot decode failed")
			return
		}
		fn(date, queue.TypeThenTimeOrder(entries))
	})
}
