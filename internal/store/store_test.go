package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/docstore/memory"
	"qms/frontdesk-service/internal/models"
)

func TestRepositoryReadsTypedDocuments(t *testing.T) {
	ctx := context.Background()
	docs := memory.New()
	repo := NewRepository(docs)

	require.NoError(t, docs.Apply(ctx,
		docstore.Write{Path: AppointmentPath("a1"), Value: models.Appointment{FullName: "Juan Dela Cruz", Status: models.StatusScheduled}},
		docstore.Write{Path: QueueEntryPath("2024-05-01", "q1"), Value: models.QueueEntry{QueueNumber: "O-001"}},
		docstore.Write{Path: StaffPath("s1"), Value: models.Staff{FullName: "Nurse Joy", Role: models.RoleStaff}},
	))

	appt, err := repo.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", appt.ID)
	assert.Equal(t, "Juan Dela Cruz", appt.FullName)

	entries, err := repo.ListQueue(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q1", entries[0].ID)
	assert.Equal(t, "2024-05-01", entries[0].Date)

	dates, err := repo.QueueDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-01"}, dates)

	staff, err := repo.GetStaff(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", staff.ID)
}

func TestRepositoryNotFound(t *testing.T) {
	repo := NewRepository(memory.New())
	_, err := repo.GetAppointment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryWrapsStoreFailures(t *testing.T) {
	docs := memory.New()
	boom := errors.New("connection reset")
	docs.FailWrites(AppointmentPath("a1"), boom)
	repo := NewRepository(docs)

	err := repo.Apply(context.Background(), docstore.Write{Path: AppointmentPath("a1"), Fields: map[string]interface{}{"status": "missed"}})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "apply", storeErr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestRepositoryReportsFailedExpectationAsInvalidState(t *testing.T) {
	ctx := context.Background()
	docs := memory.New()
	repo := NewRepository(docs)
	require.NoError(t, docs.Apply(ctx, docstore.Write{Path: AppointmentPath("a1"), Value: models.Appointment{
		AppointmentType: models.TypeOnline,
		Status:          models.StatusCheckedIn,
		CheckedIn:       true,
	}}))

	err := repo.Apply(ctx, docstore.Write{
		Path:   AppointmentPath("a1"),
		Expect: AwaitingCheckIn(),
		Fields: map[string]interface{}{"status": models.StatusMissed},
	})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, err, docstore.ErrPreconditionFailed)

	appt, err := repo.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, appt.Status)
}

func TestValidationError(t *testing.T) {
	var verr ValidationError
	assert.NoError(t, verr.Err())
	verr.Add("email", "invalid email address")
	verr.Add("email", "ignored duplicate")
	verr.Add("full_name", "required")
	err := verr.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation failed: email: invalid email address; full_name: required", err.Error())
}

func TestAmbiguousMatchIsNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrAmbiguousMatch, ErrNotFound)
}
