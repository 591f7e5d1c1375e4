// Package bizdate converts wall-clock instants into the clinic's business
// date keys ("YYYY-MM-DD"). Queue partitions and preferred-date comparisons
// both use the clinic's single timezone of record.
package bizdate

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/now"
)

const Layout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a settable clock for tests and manual runs.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type Partitioner struct {
	loc   *time.Location
	clock Clock
}

func NewPartitioner(loc *time.Location, clock Clock) *Partitioner {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Partitioner{loc: loc, clock: clock}
}

// LoadLocation resolves a timezone name, falling back to the host's local zone.
func LoadLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func (p *Partitioner) Location() *time.Location { return p.loc }

func (p *Partitioner) Now() time.Time { return p.clock.Now() }

func (p *Partitioner) Key(t time.Time) string {
	return t.In(p.loc).Format(Layout)
}

func (p *Partitioner) Today() string {
	return p.Key(p.clock.Now())
}

// Normalize accepts a plain date or an RFC3339 timestamp and returns the
// business date key it falls on.
func (p *Partitioner) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidDate
	}
	if t, err := time.ParseInLocation(Layout, raw, p.loc); err == nil {
		return t.Format(Layout), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return p.Key(t), nil
	}
	return "", ErrInvalidDate
}

// StartOfDay returns midnight of the business date key.
func (p *Partitioner) StartOfDay(key string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, key, p.loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return now.With(t).BeginningOfDay(), nil
}

// Elapsed reports whether the whole business day key lies before at.
func (p *Partitioner) Elapsed(key string, at time.Time) (bool, error) {
	start, err := p.StartOfDay(key)
	if err != nil {
		return false, err
	}
	return at.In(p.loc).After(now.With(start).EndOfDay()), nil
}

// Before reports whether business date a sorts strictly before b.
func Before(a, b string) bool {
	return a < b
}

// Valid reports whether key is a well-formed business date.
func Valid(key string) bool {
	_, err := time.Parse(Layout, key)
	return err == nil
}
