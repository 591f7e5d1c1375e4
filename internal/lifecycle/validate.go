package lifecycle

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/store"
)

var (
	// Philippine mobile numbers: 09XXXXXXXXX or +639XXXXXXXXX.
	mobilePattern = regexp.MustCompile(`^(09|\+639)\d{9}$`)
	emailPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
)

// AppointmentInput is the online booking form.
type AppointmentInput struct {
	FullName              string `json:"full_name"`
	Birthdate             string `json:"birthdate"`
	Sex                   string `json:"sex"`
	ContactNumber         string `json:"contact_number"`
	Email                 string `json:"email"`
	BookedByName          string `json:"booked_by_name"`
	RelationshipToPatient string `json:"relationship_to_patient"`
	ServiceRef            string `json:"service_ref"`
	PreferredDate         string `json:"preferred_date"`
	MedicalConcern        string `json:"medical_concern"`
	MedicalHistory        string `json:"medical_history"`
	Notes                 string `json:"notes"`
}

// WalkinInput registers a patient at the desk. Only the name is required.
type WalkinInput struct {
	FullName       string `json:"full_name"`
	Birthdate      string `json:"birthdate"`
	Sex            string `json:"sex"`
	ContactNumber  string `json:"contact_number"`
	Email          string `json:"email"`
	ServiceRef     string `json:"service_ref"`
	MedicalConcern string `json:"medical_concern"`
}

func normalizePhone(raw string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
}

func (m *Manager) validateAppointment(ctx context.Context, in AppointmentInput) (AppointmentInput, error) {
	verr := &store.ValidationError{}
	today := m.dates.Today()

	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		verr.Add("full_name", "is required")
	}

	in.Birthdate = strings.TrimSpace(in.Birthdate)
	if in.Birthdate == "" {
		verr.Add("birthdate", "is required")
	} else if key, err := m.dates.Normalize(in.Birthdate); err != nil {
		verr.Add("birthdate", "must be a valid date")
	} else if bizdate.Before(today, key) {
		verr.Add("birthdate", "cannot be in the future")
	} else {
		in.Birthdate = key
	}

	in.Sex = strings.ToLower(strings.TrimSpace(in.Sex))
	if in.Sex != "male" && in.Sex != "female" {
		verr.Add("sex", "must be male or female")
	}

	in.ContactNumber = normalizePhone(in.ContactNumber)
	if !mobilePattern.MatchString(in.ContactNumber) {
		verr.Add("contact_number", "must be a Philippine mobile number (09XXXXXXXXX or +639XXXXXXXXX)")
	}

	in.Email = strings.TrimSpace(in.Email)
	if !emailPattern.MatchString(in.Email) {
		verr.Add("email", "must be a valid email address")
	}

	in.PreferredDate = strings.TrimSpace(in.PreferredDate)
	if in.PreferredDate == "" {
		verr.Add("preferred_date", "is required")
	} else if key, err := m.dates.Normalize(in.PreferredDate); err != nil {
		verr.Add("preferred_date", "must be a valid date")
	} else if bizdate.Before(key, today) {
		verr.Add("preferred_date", "cannot be in the past")
	} else {
		in.PreferredDate = key
	}

	in.ServiceRef = strings.TrimSpace(in.ServiceRef)
	if in.ServiceRef == "" {
		verr.Add("service_ref", "is required")
	} else if err := m.checkService(ctx, in.ServiceRef, verr); err != nil {
		return in, err
	}

	in.BookedByName = strings.TrimSpace(in.BookedByName)
	in.RelationshipToPatient = strings.TrimSpace(in.RelationshipToPatient)
	return in, verr.Err()
}

func (m *Manager) validateWalkin(ctx context.Context, in WalkinInput) (WalkinInput, error) {
	verr := &store.ValidationError{}

	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		verr.Add("full_name", "is required")
	}

	in.Birthdate = strings.TrimSpace(in.Birthdate)
	if in.Birthdate != "" {
		if key, err := m.dates.Normalize(in.Birthdate); err != nil {
			verr.Add("birthdate", "must be a valid date")
		} else if bizdate.Before(m.dates.Today(), key) {
			verr.Add("birthdate", "cannot be in the future")
		} else {
			in.Birthdate = key
		}
	}

	in.Sex = strings.ToLower(strings.TrimSpace(in.Sex))
	if in.Sex != "" && in.Sex != "male" && in.Sex != "female" {
		verr.Add("sex", "must be male or female")
	}

	in.ContactNumber = normalizePhone(in.ContactNumber)
	if in.ContactNumber != "" && !mobilePattern.MatchString(in.ContactNumber) {
		verr.Add("contact_number", "must be a Philippine mobile number (09XXXXXXXXX or +639XXXXXXXXX)")
	}

	in.Email = strings.TrimSpace(in.Email)
	if in.Email != "" && !emailPattern.MatchString(in.Email) {
		verr.Add("email", "must be a valid email address")
	}

	in.ServiceRef = strings.TrimSpace(in.ServiceRef)
	if in.ServiceRef != "" {
		if err := m.checkService(ctx, in.ServiceRef, verr); err != nil {
			return in, err
		}
	}
	return in, verr.Err()
}

// checkService records a field error for unknown or inactive services and
// returns only store failures.
func (m *Manager) checkService(ctx context.Context, serviceID string, verr *store.ValidationError) error {
	service, err := m.repo.GetService(ctx, serviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		verr.Add("service_ref", "unknown service")
	case err != nil:
		return err
	case !service.Active:
		verr.Add("service_ref", "service is not available")
	}
	return nil
}
