package clock

import (
	"sync"
	"time"

	"github.com/syui/aigpt/internal/errs"
)

// Clock is the source of "now" for every time-dependent decision.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock in UTC.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a test-controlled clock. The zero value starts at the Unix epoch.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a Fake set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the fake to t. Setting an earlier time is allowed so tests can
// exercise regression detection.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance moves the fake forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// Guard remembers the latest observed time and refuses to go backwards.
type Guard struct {
	mu   sync.Mutex
	last time.Time
}

// Observe records t. It fails with a ClockRegression error when t is before
// a previously observed time.
func (g *Guard) Observe(t time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.Before(g.last) {
		return errs.Errorf(errs.ClockRegression, "observe clock",
			"now %s is before last observed %s", t.Format(time.RFC3339Nano), g.last.Format(time.RFC3339Nano))
	}
	g.last = t
	return nil
}

// Checked wraps a Clock with a Guard.
type Checked struct {
	Clock Clock
	Guard Guard
}

// Now reads the wrapped clock and verifies it did not regress.
func (c *Checked) Now() (time.Time, error) {
	t := c.Clock.Now()
	if err := c.Guard.Observe(t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// StartOfDay returns local midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// DateKey formats t's calendar date in loc as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
