package store

import "qms/frontdesk-service/internal/models"

var appointmentTransitions = map[string][]string{
	models.StatusCheckedIn:  {models.StatusScheduled},
	models.StatusInProgress: {models.StatusCheckedIn},
	models.StatusCompleted:  {models.StatusCheckedIn, models.StatusInProgress},
	models.StatusMissed:     {models.StatusScheduled},
	models.StatusCancelled:  {models.StatusScheduled, models.StatusCheckedIn, models.StatusInProgress},
	models.StatusScheduled:  {models.StatusScheduled, models.StatusMissed},
}

var queueTransitions = map[string][]string{
	models.QueueInProgress: {models.QueueWaiting},
	models.QueueCompleted:  {models.QueueWaiting, models.QueueInProgress},
}

// ValidAppointmentTransition reports whether an appointment may move from
// fromStatus to toStatus. Scheduled → scheduled is a reschedule.
//
// Missed is terminal for every transition except one: a reschedule may move
// a missed appointment back to scheduled. Completed and cancelled never leave.
func ValidAppointmentTransition(fromStatus, toStatus string) bool {
	return allowed(appointmentTransitions, fromStatus, toStatus)
}

func ValidQueueTransition(fromStatus, toStatus string) bool {
	return allowed(queueTransitions, fromStatus, toStatus)
}

// AppointmentStatusForQueue maps a queue entry status onto the status mirrored
// to its appointment.
func AppointmentStatusForQueue(queueStatus string) string {
	switch queueStatus {
	case models.QueueInProgress:
		return models.StatusInProgress
	case models.QueueCompleted:
		return models.StatusCompleted
	default:
		return models.StatusCheckedIn
	}
}

// AwaitingCheckIn is the write precondition for an online appointment that
// has not been admitted yet. Check-in and missed-marking both require it, so
// whichever commits second fails instead of overwriting the first.
func AwaitingCheckIn() map[string]interface{} {
	return map[string]interface{}{
		"appointment_type": models.TypeOnline,
		"status":           models.StatusScheduled,
		"checked_in":       false,
	}
}

// InStatus is the write precondition that the appointment still holds the
// status it was read with.
func InStatus(status string) map[string]interface{} {
	return map[string]interface{}{"status": status}
}

func allowed(table map[string][]string, fromStatus, toStatus string) bool {
	sources, ok := table[toStatus]
	if !ok {
		return false
	}
	for _, status := range sources {
		if status == fromStatus {
			return true
		}
	}
	return false
}
