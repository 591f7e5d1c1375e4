package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"
)

// CreateOnlineAppointment validates a booking and writes the scheduled
// appointment. It never touches the queue.
func (m *Manager) CreateOnlineAppointment(ctx context.Context, in AppointmentInput) (id string, err error) {
	defer func() { m.metrics.ObserveOperation("create_appointment", err) }()

	appt, err := m.newAppointment(ctx, in)
	if err != nil {
		return "", err
	}
	if err := m.repo.Apply(ctx, docstore.Write{Path: store.AppointmentPath(appt.ID), Value: appt}); err != nil {
		return "", err
	}
	return appt.ID, nil
}

// Book creates the appointment together with its patient record and
// records who filled up the form.
func (m *Manager) Book(ctx context.Context, actor audit.Actor, in AppointmentInput) (appt models.Appointment, err error) {
	defer func() { m.metrics.ObserveOperation("book", err) }()

	appt, err = m.newAppointment(ctx, in)
	if err != nil {
		return models.Appointment{}, err
	}
	patient := models.Patient{
		ID:            m.repo.NewID(),
		FullName:      appt.FullName,
		Birthdate:     appt.Birthdate,
		Sex:           appt.Sex,
		ContactNumber: appt.ContactNumber,
		Email:         appt.Email,
		AppointmentID: appt.ID,
		Status:        appt.Status,
		CreatedAt:     appt.CreatedAt,
		UpdatedAt:     appt.UpdatedAt,
	}
	appt.PatientID = patient.ID

	if err := m.repo.Apply(ctx,
		docstore.Write{Path: store.AppointmentPath(appt.ID), Value: appt},
		docstore.Write{Path: store.PatientPath(patient.ID), Value: patient},
	); err != nil {
		return models.Appointment{}, err
	}

	m.audit.Emit(ctx, actor, "Filled up appointment form for: "+appt.FullName)
	logging.FromContext(ctx).Info().
		Str("appointment_id", appt.ID).
		Str("preferred_date", appt.PreferredDate).
		Msg("appointment booked")
	return appt, nil
}

func (m *Manager) newAppointment(ctx context.Context, in AppointmentInput) (models.Appointment, error) {
	in, err := m.validateAppointment(ctx, in)
	if err != nil {
		return models.Appointment{}, err
	}
	now := m.now()
	return models.Appointment{
		ID:                    m.repo.NewID(),
		FullName:              in.FullName,
		Birthdate:             in.Birthdate,
		Sex:                   in.Sex,
		ContactNumber:         in.ContactNumber,
		Email:                 in.Email,
		BookedByName:          in.BookedByName,
		RelationshipToPatient: in.RelationshipToPatient,
		ServiceRef:            in.ServiceRef,
		PreferredDate:         in.PreferredDate,
		AppointmentType:       models.TypeOnline,
		Status:                models.StatusScheduled,
		CheckedIn:             false,
		QueueNumber:           nil,
		BookedAt:              now,
		MedicalConcern:        strings.TrimSpace(in.MedicalConcern),
		MedicalHistory:        strings.TrimSpace(in.MedicalHistory),
		Notes:                 strings.TrimSpace(in.Notes),
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// MarkMissed is the staff-initiated counterpart of the reconciliation sweep.
// It fails with ErrInvalidState when a check-in commits first.
func (m *Manager) MarkMissed(ctx context.Context, actor audit.Actor, appointmentID string) (err error) {
	defer func() { m.metrics.ObserveOperation("mark_missed", err) }()

	m.checkInMu.Lock()
	defer m.checkInMu.Unlock()

	appt, err := m.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.AppointmentType != models.TypeOnline || appt.CheckedIn || !store.ValidAppointmentTransition(appt.Status, models.StatusMissed) {
		return fmt.Errorf("appointment %s is %s: %w", appointmentID, appt.Status, store.ErrInvalidState)
	}

	now := m.now()
	writes := []docstore.Write{{
		Path:   store.AppointmentPath(appt.ID),
		Expect: store.AwaitingCheckIn(),
		Fields: map[string]interface{}{
			"status":           models.StatusMissed,
			"missed_by_system": false,
			"missed_by":        actor.UserRef(),
			"missed_by_name":   actor.FullName,
			"missed_timestamp": now,
			"updated_at":       now,
		},
	}}
	writes = append(writes, patientMirror(appt.PatientID, models.StatusMissed, now)...)
	if err := m.repo.Apply(ctx, writes...); err != nil {
		return err
	}

	m.audit.Emit(ctx, actor, "Marked appointment as missed: "+appt.FullName)
	return nil
}

// Cancel closes an appointment from any non-terminal state. An open queue
// entry created by its check-in is completed in the same write.
func (m *Manager) Cancel(ctx context.Context, actor audit.Actor, appointmentID, reason string) (err error) {
	defer func() { m.metrics.ObserveOperation("cancel", err) }()

	appt, err := m.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !store.ValidAppointmentTransition(appt.Status, models.StatusCancelled) {
		return fmt.Errorf("appointment %s is %s: %w", appointmentID, appt.Status, store.ErrInvalidState)
	}

	now := m.now()
	reason = strings.TrimSpace(reason)
	writes := []docstore.Write{{
		Path:   store.AppointmentPath(appt.ID),
		Expect: store.InStatus(appt.Status),
		Fields: map[string]interface{}{
			"status":        models.StatusCancelled,
			"cancelled_at":  now,
			"cancel_reason": reason,
			"updated_at":    now,
		},
	}}
	writes = append(writes, patientMirror(appt.PatientID, models.StatusCancelled, now)...)

	if appt.QueueEntryID != "" && appt.QueueDate != "" {
		entry, err := m.repo.GetQueueEntry(ctx, appt.QueueDate, appt.QueueEntryID)
		switch {
		case err == nil && entry.Status != models.QueueCompleted:
			writes = append(writes, docstore.Write{
				Path: store.QueueEntryPath(entry.Date, entry.ID),
				Fields: map[string]interface{}{
					"status":            models.QueueCompleted,
					"completed_at":      now,
					"completion_reason": "appointment cancelled",
					"updated_at":        now,
				},
			})
		case err != nil:
			logging.FromContext(ctx).Warn().Err(err).
				Str("appointment_id", appt.ID).
				Msg("linked queue entry unavailable on cancel")
		}
	}

	if err := m.repo.Apply(ctx, writes...); err != nil {
		return err
	}
	m.audit.Emit(ctx, actor, "Cancelled appointment for: "+appt.FullName)
	return nil
}

// Reschedule moves a scheduled or missed online appointment to a new
// preferred date and puts it back to scheduled.
func (m *Manager) Reschedule(ctx context.Context, actor audit.Actor, appointmentID, newDate string) (err error) {
	defer func() { m.metrics.ObserveOperation("reschedule", err) }()

	key, err := m.dates.Normalize(newDate)
	if err != nil {
		verr := &store.ValidationError{}
		verr.Add("preferred_date", "must be a valid date")
		return verr
	}
	if bizdate.Before(key, m.dates.Today()) {
		verr := &store.ValidationError{}
		verr.Add("preferred_date", "cannot be in the past")
		return verr
	}

	appt, err := m.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.AppointmentType != models.TypeOnline || appt.CheckedIn || !store.ValidAppointmentTransition(appt.Status, models.StatusScheduled) {
		return fmt.Errorf("appointment %s is %s: %w", appointmentID, appt.Status, store.ErrInvalidState)
	}

	now := m.now()
	expect := store.InStatus(appt.Status)
	expect["checked_in"] = false
	writes := []docstore.Write{{
		Path:   store.AppointmentPath(appt.ID),
		Expect: expect,
		Fields: map[string]interface{}{
			"status":           models.StatusScheduled,
			"preferred_date":   key,
			"rescheduled_from": appt.PreferredDate,
			"missed_by_system": false,
			"missed_by":        "",
			"missed_by_name":   "",
			"missed_timestamp": nil,
			"updated_at":       now,
		},
	}}
	writes = append(writes, patientMirror(appt.PatientID, models.StatusScheduled, now)...)
	if err := m.repo.Apply(ctx, writes...); err != nil {
		return err
	}

	m.audit.Emit(ctx, actor, fmt.Sprintf("Rescheduled appointment for: %s to %s", appt.FullName, key))
	return nil
}

func patientMirror(patientID, status string, now time.Time) []docstore.Write {
	if patientID == "" {
		return nil
	}
	return []docstore.Write{{
		Path:   store.PatientPath(patientID),
		Fields: map[string]interface{}{"status": status, "updated_at": now},
	}}
}
