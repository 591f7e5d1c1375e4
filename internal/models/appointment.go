package models

import "time"

type Appointment struct {
	ID                    string     `json:"id"`
	PatientID             string     `json:"patient_id,omitempty"`
	FullName              string     `json:"full_name"`
	Birthdate             string     `json:"birthdate"`
	Sex                   string     `json:"sex"`
	ContactNumber         string     `json:"contact_number"`
	Email                 string     `json:"email"`
	BookedByName          string     `json:"booked_by_name,omitempty"`
	RelationshipToPatient string     `json:"relationship_to_patient,omitempty"`
	ServiceRef            string     `json:"service_ref"`
	PreferredDate         string     `json:"preferred_date"`
	AppointmentType       string     `json:"appointment_type"`
	Status                string     `json:"status"`
	CheckedIn             bool       `json:"checked_in"`
	CheckedInAt           *time.Time `json:"checked_in_at,omitempty"`
	QueueNumber           *string    `json:"queue_number"`
	QueueDate             string     `json:"queue_date,omitempty"`
	QueueEntryID          string     `json:"queue_entry_id,omitempty"`
	BookedAt              time.Time  `json:"booked_at"`
	MedicalConcern        string     `json:"medical_concern,omitempty"`
	MedicalHistory        string     `json:"medical_history,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	MissedBySystem        bool       `json:"missed_by_system,omitempty"`
	MissedBy              string     `json:"missed_by,omitempty"`
	MissedByName          string     `json:"missed_by_name,omitempty"`
	MissedTimestamp       *time.Time `json:"missed_timestamp,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CancelReason          string     `json:"cancel_reason,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	RescheduledFrom       string     `json:"rescheduled_from,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

const (
	StatusScheduled  = "scheduled"
	StatusCheckedIn  = "checked-in"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusMissed     = "missed"
	StatusCancelled  = "cancelled"
)

const (
	TypeOnline = "online"
	TypeWalkin = "walkin"
)

// IsTerminal reports whether an appointment status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusMissed, StatusCancelled:
		return true
	default:
		return false
	}
}

type Patient struct {
	ID            string    `json:"id"`
	FullName      string    `json:"full_name"`
	Birthdate     string    `json:"birthdate"`
	Sex           string    `json:"sex"`
	ContactNumber string    `json:"contact_number"`
	Email         string    `json:"email"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AuditRecord struct {
	ID            string `json:"id"`
	UserRef       string `json:"user_ref"`
	StaffFullName string `json:"staff_full_name"`
	Action        string `json:"action"`
	IPAddress     string `json:"ip_address"`
	Timestamp     string `json:"timestamp"`
}
