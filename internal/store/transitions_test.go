package store

import "testing"

func TestValidAppointmentTransition(t *testing.T) {
	cases := []struct {
		from  string
		to    string
		valid bool
	}{
		{"scheduled", "checked-in", true},
		{"checked-in", "checked-in", false},
		{"checked-in", "in-progress", true},
		{"scheduled", "in-progress", false},
		{"in-progress", "completed", true},
		{"checked-in", "completed", true},
		{"scheduled", "completed", false},
		{"scheduled", "missed", true},
		{"checked-in", "missed", false},
		{"completed", "missed", false},
		{"scheduled", "cancelled", true},
		{"in-progress", "cancelled", true},
		{"missed", "cancelled", false},
		{"completed", "cancelled", false},
		{"missed", "scheduled", true},
		{"missed", "checked-in", false},
		{"missed", "in-progress", false},
		{"missed", "completed", false},
		{"completed", "scheduled", false},
		{"cancelled", "scheduled", false},
		{"scheduled", "unknown", false},
	}

	for _, tt := range cases {
		if got := ValidAppointmentTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidAppointmentTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestValidQueueTransition(t *testing.T) {
	cases := []struct {
		from  string
		to    string
		valid bool
	}{
		{"waiting", "in-progress", true},
		{"in-progress", "completed", true},
		{"waiting", "completed", true},
		{"completed", "waiting", false},
		{"completed", "in-progress", false},
		{"in-progress", "waiting", false},
		{"waiting", "unknown", false},
	}

	for _, tt := range cases {
		if got := ValidQueueTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidQueueTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestAppointmentStatusForQueue(t *testing.T) {
	cases := map[string]string{
		"waiting":     "checked-in",
		"in-progress": "in-progress",
		"completed":   "completed",
	}
	for queueStatus, want := range cases {
		if got := AppointmentStatusForQueue(queueStatus); got != want {
			t.Fatalf("AppointmentStatusForQueue(%q)=%q, want %q", queueStatus, got, want)
		}
	}
}
