// Package queue allocates per-date queue numbers and orders queue entries
// for display.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"
)

type Counter interface {
	Increment(ctx context.Context, counterPath string) (int64, error)
}

// Allocator hands out queue numbers from one atomic counter per business
// date. Online and walk-in numbers share the counter.
type Allocator struct {
	counter Counter
}

func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

func (a *Allocator) Next(ctx context.Context, date string) (int, error) {
	n, err := a.counter.Increment(ctx, store.SequencePath(date))
	if err != nil {
		return 0, fmt.Errorf("allocate queue number for %s: %w", date, err)
	}
	return int(n), nil
}

// FormatNumber renders n as "O-007" for online bookings and "007" for walk-ins.
func FormatNumber(n int, appointmentType string) string {
	if appointmentType == models.TypeOnline {
		return fmt.Sprintf("O-%03d", n)
	}
	return fmt.Sprintf("%03d", n)
}

// ParseNumber extracts the numeric suffix of a formatted queue number.
// Unparseable values yield 0.
func ParseNumber(s string) int {
	s = strings.TrimSpace(s)
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0
	}
	return n
}
