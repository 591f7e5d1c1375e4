// Package store maps the front-desk domain onto document store paths.
package store

import (
	"context"
	"errors"
	"fmt"

	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/models"
)

const (
	AppointmentsCollection   = "appointments"
	PatientsCollection       = "patients"
	QueueCollection          = "queue"
	StaffCollection          = "staff"
	ServicesCollection       = "services"
	AuditCollection          = "audit_logs"
	QueueSequencesCollection = "queue_sequences"
)

func AppointmentPath(id string) string { return docstore.Join(AppointmentsCollection, id) }

func PatientPath(id string) string { return docstore.Join(PatientsCollection, id) }

func QueuePartition(date string) string { return docstore.Join(QueueCollection, date) }

func QueueEntryPath(date, id string) string { return docstore.Join(QueueCollection, date, id) }

func StaffPath(id string) string { return docstore.Join(StaffCollection, id) }

func ServicePath(id string) string { return docstore.Join(ServicesCollection, id) }

func AuditPath(id string) string { return docstore.Join(AuditCollection, id) }

func SequencePath(date string) string { return docstore.Join(QueueSequencesCollection, date) }

type Repository struct {
	docs docstore.Store
}

func NewRepository(docs docstore.Store) *Repository {
	return &Repository{docs: docs}
}

func (r *Repository) Docs() docstore.Store { return r.docs }

func (r *Repository) NewID() string { return r.docs.NewID() }

// Apply commits writes atomically. A failed write precondition means another
// caller changed the document first and is reported as ErrInvalidState.
func (r *Repository) Apply(ctx context.Context, writes ...docstore.Write) error {
	err := r.docs.Apply(ctx, writes...)
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return wrapStore("apply", err)
}

func (r *Repository) Increment(ctx context.Context, counterPath string) (int64, error) {
	next, err := r.docs.Increment(ctx, counterPath)
	return next, wrapStore("increment", err)
}

func (r *Repository) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	var appt models.Appointment
	if err := r.read(ctx, AppointmentPath(id), &appt); err != nil {
		return models.Appointment{}, err
	}
	appt.ID = id
	return appt, nil
}

func (r *Repository) ListAppointments(ctx context.Context) ([]models.Appointment, error) {
	docs, err := r.docs.List(ctx, AppointmentsCollection)
	if err != nil {
		return nil, wrapStore("list appointments", err)
	}
	out := make([]models.Appointment, 0, len(docs))
	for _, doc := range docs {
		var appt models.Appointment
		if err := doc.Decode(&appt); err != nil {
			return nil, fmt.Errorf("decode appointment %s: %w", doc.ID, err)
		}
		appt.ID = doc.ID
		out = append(out, appt)
	}
	return out, nil
}

func (r *Repository) GetQueueEntry(ctx context.Context, date, id string) (models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := r.read(ctx, QueueEntryPath(date, id), &entry); err != nil {
		return models.QueueEntry{}, err
	}
	entry.ID = id
	entry.Date = date
	return entry, nil
}

func (r *Repository) ListQueue(ctx context.Context, date string) ([]models.QueueEntry, error) {
	docs, err := r.docs.List(ctx, QueuePartition(date))
	if err != nil {
		return nil, wrapStore("list queue", err)
	}
	return DecodeQueue(date, docs)
}

// DecodeQueue turns a partition snapshot into queue entries.
func DecodeQueue(date string, docs []docstore.Document) ([]models.QueueEntry, error) {
	out := make([]models.QueueEntry, 0, len(docs))
	for _, doc := range docs {
		var entry models.QueueEntry
		if err := doc.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode queue entry %s: %w", doc.ID, err)
		}
		entry.ID = doc.ID
		entry.Date = date
		out = append(out, entry)
	}
	return out, nil
}

// QueueDates lists every date partition that holds at least one entry.
func (r *Repository) QueueDates(ctx context.Context) ([]string, error) {
	keys, err := r.docs.ChildKeys(ctx, QueueCollection)
	if err != nil {
		return nil, wrapStore("list queue dates", err)
	}
	return keys, nil
}

func (r *Repository) GetStaff(ctx context.Context, id string) (models.Staff, error) {
	var staff models.Staff
	if err := r.read(ctx, StaffPath(id), &staff); err != nil {
		return models.Staff{}, err
	}
	staff.ID = id
	return staff, nil
}

func (r *Repository) GetService(ctx context.Context, id string) (models.Service, error) {
	var service models.Service
	if err := r.read(ctx, ServicePath(id), &service); err != nil {
		return models.Service{}, err
	}
	service.ID = id
	return service, nil
}

func (r *Repository) ListServices(ctx context.Context) ([]models.Service, error) {
	docs, err := r.docs.List(ctx, ServicesCollection)
	if err != nil {
		return nil, wrapStore("list services", err)
	}
	out := make([]models.Service, 0, len(docs))
	for _, doc := range docs {
		var service models.Service
		if err := doc.Decode(&service); err != nil {
			return nil, fmt.Errorf("decode service %s: %w", doc.ID, err)
		}
		service.ID = doc.ID
		out = append(out, service)
	}
	return out, nil
}

func (r *Repository) read(ctx context.Context, docPath string, dst interface{}) error {
	found, err := r.docs.Read(ctx, docPath, dst)
	if err != nil {
		return wrapStore("read "+docPath, err)
	}
	if !found {
		return fmt.Errorf("%s: %w", docPath, ErrNotFound)
	}
	return nil
}
