package models

import "time"

type QueueEntry struct {
	ID                string     `json:"id"`
	Date              string     `json:"date"`
	QueueNumber       string     `json:"queue_number"`
	AppointmentID     *string    `json:"appointment_id"`
	PatientID         *string    `json:"patient_id,omitempty"`
	FullName          string     `json:"full_name"`
	Email             string     `json:"email,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	ServiceRef        string     `json:"service_ref,omitempty"`
	AppointmentType   string     `json:"appointment_type"`
	Status            string     `json:"status"`
	PriorityFlag      string     `json:"priority_flag"`
	BookedAt          *time.Time `json:"booked_at,omitempty"`
	ArrivalTime       time.Time  `json:"arrival_time"`
	CheckedInAt       *time.Time `json:"checked_in_at,omitempty"`
	CalledAt          *time.Time `json:"called_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletedBySystem bool       `json:"completed_by_system,omitempty"`
	CompletionReason  string     `json:"completion_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

const (
	QueueWaiting    = "waiting"
	QueueInProgress = "in-progress"
	QueueCompleted  = "completed"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// PriorityTime is the timestamp that orders an entry inside its booking channel:
// the booking time for online entries, the arrival time for walk-ins.
func (e QueueEntry) PriorityTime() time.Time {
	if e.AppointmentType == TypeOnline && e.BookedAt != nil {
		return *e.BookedAt
	}
	return e.ArrivalTime
}
