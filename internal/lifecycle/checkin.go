package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/queue"
	"qms/frontdesk-service/internal/store"
)

// CheckInCriteria identifies the arriving patient. AppointmentID is
// optional and picks one appointment when name and email match several.
type CheckInCriteria struct {
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	AppointmentID string `json:"appointment_id"`
}

// Admission is the queue slot handed to a checked-in or walk-in patient.
type Admission struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	QueueEntryID  string `json:"queue_entry_id"`
	QueueNumber   string `json:"queue_number"`
	Date          string `json:"date"`
}

// CheckIn admits a scheduled online appointment into today's queue. The
// preferred date is not checked: patients may arrive on any day.
func (m *Manager) CheckIn(ctx context.Context, actor audit.Actor, criteria CheckInCriteria) (adm Admission, err error) {
	defer func() { m.metrics.ObserveOperation("check_in", err) }()

	name := strings.TrimSpace(criteria.FullName)
	email := strings.TrimSpace(criteria.Email)
	verr := &store.ValidationError{}
	if name == "" {
		verr.Add("full_name", "is required")
	}
	if email == "" {
		verr.Add("email", "is required")
	}
	if err := verr.Err(); err != nil {
		return Admission{}, err
	}

	m.checkInMu.Lock()
	defer m.checkInMu.Unlock()

	appt, err := m.matchAppointment(ctx, name, email, strings.TrimSpace(criteria.AppointmentID))
	if err != nil {
		return Admission{}, err
	}

	date := m.dates.Today()
	n, err := m.alloc.Next(ctx, date)
	if err != nil {
		return Admission{}, err
	}
	number := queue.FormatNumber(n, models.TypeOnline)
	now := m.now()
	bookedAt := appt.BookedAt

	entry := models.QueueEntry{
		ID:              m.repo.NewID(),
		Date:            date,
		QueueNumber:     number,
		AppointmentID:   stringPtr(appt.ID),
		FullName:        appt.FullName,
		Email:           appt.Email,
		Phone:           appt.ContactNumber,
		ServiceRef:      appt.ServiceRef,
		AppointmentType: models.TypeOnline,
		Status:          models.QueueWaiting,
		PriorityFlag:    models.PriorityNormal,
		BookedAt:        &bookedAt,
		ArrivalTime:     now,
		CheckedInAt:     timePtr(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if appt.PatientID != "" {
		entry.PatientID = stringPtr(appt.PatientID)
	}

	writes := []docstore.Write{
		{Path: store.QueueEntryPath(date, entry.ID), Value: entry},
		{
			Path:   store.AppointmentPath(appt.ID),
			Expect: store.AwaitingCheckIn(),
			Fields: map[string]interface{}{
				"status":         models.StatusCheckedIn,
				"checked_in":     true,
				"checked_in_at":  now,
				"queue_number":   number,
				"queue_date":     date,
				"queue_entry_id": entry.ID,
				"updated_at":     now,
			},
		},
	}
	writes = append(writes, patientMirror(appt.PatientID, models.StatusCheckedIn, now)...)
	if err := m.repo.Apply(ctx, writes...); err != nil {
		return Admission{}, err
	}

	m.metrics.ObserveQueueNumber(models.TypeOnline)
	m.audit.Emit(ctx, actor, "Checked in online appointment for: "+appt.FullName)
	logging.FromContext(ctx).Info().
		Str("appointment_id", appt.ID).
		Str("queue_number", number).
		Str("date", date).
		Msg("appointment checked in")

	return Admission{AppointmentID: appt.ID, QueueEntryID: entry.ID, QueueNumber: number, Date: date}, nil
}

func (m *Manager) matchAppointment(ctx context.Context, name, email, appointmentID string) (models.Appointment, error) {
	appointments, err := m.repo.ListAppointments(ctx)
	if err != nil {
		return models.Appointment{}, err
	}

	var matches []models.Appointment
	for _, appt := range appointments {
		if appt.AppointmentType != models.TypeOnline || appt.Status != models.StatusScheduled || appt.CheckedIn {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(appt.FullName), name) || !strings.EqualFold(strings.TrimSpace(appt.Email), email) {
			continue
		}
		if appointmentID != "" && appt.ID != appointmentID {
			continue
		}
		matches = append(matches, appt)
	}

	switch len(matches) {
	case 0:
		return models.Appointment{}, fmt.Errorf("no scheduled online appointment for %s: %w", name, store.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, appt := range matches {
			ids = append(ids, appt.ID)
		}
		logging.FromContext(ctx).Warn().
			Strs("appointment_ids", ids).
			Str("email", email).
			Msg("duplicate scheduled appointments match check-in")
		return models.Appointment{}, store.ErrAmbiguousMatch
	}
}

// RegisterWalkin puts a walk-in patient straight into today's queue. The
// appointment record it creates starts out checked in.
func (m *Manager) RegisterWalkin(ctx context.Context, actor audit.Actor, in WalkinInput) (adm Admission, err error) {
	defer func() { m.metrics.ObserveOperation("register_walkin", err) }()

	in, err = m.validateWalkin(ctx, in)
	if err != nil {
		return Admission{}, err
	}

	date := m.dates.Today()
	n, err := m.alloc.Next(ctx, date)
	if err != nil {
		return Admission{}, err
	}
	number := queue.FormatNumber(n, models.TypeWalkin)
	now := m.now()

	apptID := m.repo.NewID()
	patientID := m.repo.NewID()
	entryID := m.repo.NewID()

	appt := models.Appointment{
		ID:              apptID,
		PatientID:       patientID,
		FullName:        in.FullName,
		Birthdate:       in.Birthdate,
		Sex:             in.Sex,
		ContactNumber:   in.ContactNumber,
		Email:           in.Email,
		ServiceRef:      in.ServiceRef,
		PreferredDate:   date,
		AppointmentType: models.TypeWalkin,
		Status:          models.StatusCheckedIn,
		CheckedIn:       true,
		CheckedInAt:     timePtr(now),
		QueueNumber:     stringPtr(number),
		QueueDate:       date,
		QueueEntryID:    entryID,
		BookedAt:        now,
		MedicalConcern:  strings.TrimSpace(in.MedicalConcern),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	patient := models.Patient{
		ID:            patientID,
		FullName:      in.FullName,
		Birthdate:     in.Birthdate,
		Sex:           in.Sex,
		ContactNumber: in.ContactNumber,
		Email:         in.Email,
		AppointmentID: apptID,
		Status:        models.StatusCheckedIn,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	entry := models.QueueEntry{
		ID:              entryID,
		Date:            date,
		QueueNumber:     number,
		AppointmentID:   stringPtr(apptID),
		PatientID:       stringPtr(patientID),
		FullName:        in.FullName,
		Email:           in.Email,
		Phone:           in.ContactNumber,
		ServiceRef:      in.ServiceRef,
		AppointmentType: models.TypeWalkin,
		Status:          models.QueueWaiting,
		PriorityFlag:    models.PriorityNormal,
		ArrivalTime:     now,
		CheckedInAt:     timePtr(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.repo.Apply(ctx,
		docstore.Write{Path: store.QueueEntryPath(date, entryID), Value: entry},
		docstore.Write{Path: store.AppointmentPath(apptID), Value: appt},
		docstore.Write{Path: store.PatientPath(patientID), Value: patient},
	); err != nil {
		return Admission{}, err
	}

	m.metrics.ObserveQueueNumber(models.TypeWalkin)
	m.audit.Emit(ctx, actor, "Registered walk-in patient: "+in.FullName)
	logging.FromContext(ctx).Info().
		Str("queue_number", number).
		Str("date", date).
		Msg("walk-in registered")

	return Admission{AppointmentID: apptID, QueueEntryID: entryID, QueueNumber: number, Date: date}, nil
}
