package fortune

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/syui/aigpt/internal/clock"
	"github.com/syui/aigpt/internal/store"
)

// BreakthroughValue is the lowest value that counts as a breakthrough day.
const BreakthroughValue = 9

// Fortune is the daily value for one calendar date.
type Fortune struct {
	Date         string `json:"date"`
	Value        int    `json:"value"`
	Breakthrough bool   `json:"breakthrough"`
}

// Mood returns the mood band for the fortune value.
func (f Fortune) Mood() Mood {
	return MoodFor(f.Value)
}

// Modifier is the additive transmission-probability bias, (value-5)/10.
func (f Fortune) Modifier() float64 {
	return float64(f.Value-5) / 10
}

// ValueFor computes the fortune value for a YYYY-MM-DD date string:
// 1 + FNV-1a64(date[|seed]) mod 10.
func ValueFor(date, seed string) int {
	h := fnv.New64a()
	h.Write([]byte(date))
	if seed != "" {
		h.Write([]byte{'|'})
		h.Write([]byte(seed))
	}
	return 1 + int(h.Sum64()%10)
}

func newFortune(date, seed string) Fortune {
	v := ValueFor(date, seed)
	return Fortune{Date: date, Value: v, Breakthrough: v >= BreakthroughValue}
}

// Oracle hands out the fortune of the day, recording each date the first
// time it is read.
type Oracle struct {
	db   *store.DB
	loc  *time.Location
	seed string
}

// New creates an Oracle keyed on calendar dates in loc. A non-empty seed
// shifts every date's value.
func New(db *store.DB, loc *time.Location, seed string) *Oracle {
	if loc == nil {
		loc = time.UTC
	}
	return &Oracle{db: db, loc: loc, seed: seed}
}

// Location returns the calendar location used for date keys.
func (o *Oracle) Location() *time.Location {
	return o.loc
}

// For returns the fortune of now's calendar date.
func (o *Oracle) For(now time.Time) (Fortune, error) {
	return o.ForDate(clock.DateKey(now, o.loc))
}

// ForDate returns the fortune for a YYYY-MM-DD date. A stored record always
// wins over recomputation so the value never changes once written.
func (o *Oracle) ForDate(date string) (Fortune, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Fortune{}, fmt.Errorf("fortune date %q: %w", date, err)
	}

	var f Fortune
	ok, err := o.db.Get(store.KindFortune, date, &f)
	if err != nil {
		return Fortune{}, fmt.Errorf("load fortune: %w", err)
	}
	if ok {
		return f, nil
	}

	f = newFortune(date, o.seed)
	if _, err := o.db.PutIfAbsent(store.KindFortune, date, f); err != nil {
		return Fortune{}, fmt.Errorf("save fortune: %w", err)
	}
	return f, nil
}
