package relationship

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/store"
)

const maxUserIDLen = 128

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	Location  *time.Location
	DailyCap  int
	Threshold float64
}

// Engine owns the relationship table. Every mutation loads a copy from the
// store, changes the copy and writes it back under one lock, so a failed
// write leaves the stored state exactly as it was.
type Engine struct {
	db        *store.DB
	loc       *time.Location
	dailyCap  int
	threshold float64

	mu sync.Mutex
}

// NewEngine creates an Engine over db.
func NewEngine(db *store.DB, opts Options) *Engine {
	e := &Engine{
		db:        db,
		loc:       opts.Location,
		dailyCap:  opts.DailyCap,
		threshold: opts.Threshold,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.dailyCap <= 0 {
		e.dailyCap = DefaultDailyCap
	}
	if e.threshold <= 0 {
		e.threshold = DefaultThreshold
	}
	return e
}

// DailyCap returns the per-user, per-day interaction limit.
func (e *Engine) DailyCap() int { return e.dailyCap }

// Location returns the calendar location for day boundaries.
func (e *Engine) Location() *time.Location { return e.loc }

// ValidateUserID rejects empty, oversized or non-printable user ids.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errs.Errorf(errs.InvalidInput, "validate user", "user id is empty")
	}
	if len(userID) > maxUserIDLen {
		return errs.Errorf(errs.InvalidInput, "validate user", "user id longer than %d bytes", maxUserIDLen)
	}
	for _, r := range userID {
		if !unicode.IsPrint(r) {
			return errs.Errorf(errs.InvalidInput, "validate user", "user id contains non-printable character %q", r)
		}
	}
	return nil
}

// ValidateSentiment rejects values outside [-1, 1].
func ValidateSentiment(s float64) error {
	if math.IsNaN(s) || s < -1 || s > 1 {
		return errs.Errorf(errs.InvalidInput, "validate sentiment", "sentiment %v outside [-1, 1]", s)
	}
	return nil
}

// IngestResult is the outcome of one interaction.
type IngestResult struct {
	Delta        float64      `json:"delta"`
	Capped       bool         `json:"capped"`
	Relationship Relationship `json:"relationship"`
}

// Ingest records one interaction with the given sentiment. Once the daily
// cap is reached the interaction is ignored and the delta is zero.
func (e *Engine) Ingest(userID string, sentiment float64, now time.Time) (IngestResult, error) {
	if err := ValidateUserID(userID); err != nil {
		return IngestResult{}, err
	}
	if err := ValidateSentiment(sentiment); err != nil {
		return IngestResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r, found, err := e.load(userID)
	if err != nil {
		return IngestResult{}, err
	}
	if !found {
		r = newRelationship(userID, e.threshold, now)
	}

	reset := r.resetDailyIfNewDay(now, e.loc)
	if r.DailyInteractionCount >= e.dailyCap {
		if reset || !found {
			if err := e.save(r); err != nil {
				return IngestResult{}, err
			}
		}
		return IngestResult{Capped: true, Relationship: r}, nil
	}

	delta := r.interact(sentiment, now)
	if err := e.save(r); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Delta: delta, Relationship: r}, nil
}

// DecayReport summarises one decay pass.
type DecayReport struct {
	Decayed  int `json:"decayed"`
	Disabled int `json:"disabled"`
}

// ApplyDecay shrinks every relationship's score for the silence since its
// last interaction or last decay, whichever is later. Decay may switch
// transmission off but never breaks a relationship.
func (e *Engine) ApplyDecay(now time.Time) (DecayReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.list()
	if err != nil {
		return DecayReport{}, err
	}

	var rep DecayReport
	for _, r := range all {
		wasEnabled := r.TransmissionEnabled
		if !r.decay(now) {
			continue
		}
		if err := e.save(r); err != nil {
			return rep, fmt.Errorf("decay %s: %w", r.UserID, err)
		}
		rep.Decayed++
		if wasEnabled && !r.TransmissionEnabled {
			rep.Disabled++
		}
	}
	if rep.Decayed > 0 {
		log.Printf("decay: updated %d relationships, %d lost transmission", rep.Decayed, rep.Disabled)
	}
	return rep, nil
}

// RecordTransmission stamps the time of the last outbound message to userID.
func (e *Engine) RecordTransmission(userID string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, found, err := e.load(userID)
	if err != nil {
		return err
	}
	if !found {
		return errs.Errorf(errs.NotFound, "record transmission", "no relationship with %q", userID)
	}
	t := now
	r.LastTransmission = &t
	return e.save(r)
}

// SetTransmission switches transmission on or off by hand. Enabling a broken
// relationship is silently ignored.
func (e *Engine) SetTransmission(userID string, enabled bool) (Relationship, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, found, err := e.load(userID)
	if err != nil {
		return Relationship{}, err
	}
	if !found {
		return Relationship{}, errs.Errorf(errs.NotFound, "set transmission", "no relationship with %q", userID)
	}
	if r.IsBroken || r.TransmissionEnabled == enabled {
		return r, nil
	}
	if enabled {
		r.settle(eventEnable)
	} else {
		r.settle(eventDisable)
	}
	if err := e.save(r); err != nil {
		return Relationship{}, err
	}
	return r, nil
}

// Get returns the relationship with userID, or nil if there is none.
func (e *Engine) Get(userID string) (*Relationship, error) {
	r, found, err := e.load(userID)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// List returns all relationships in the order they were first created.
func (e *Engine) List() ([]Relationship, error) {
	return e.list()
}

// ListEligible returns the relationships autonomous transmission may target,
// in creation order.
func (e *Engine) ListEligible() ([]Relationship, error) {
	all, err := e.list()
	if err != nil {
		return nil, err
	}
	var out []Relationship
	for _, r := range all {
		if r.Eligible() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Stats is an aggregate view over all relationships.
type Stats struct {
	Total               int            `json:"total"`
	Active              int            `json:"active"`
	TransmissionEnabled int            `json:"transmission_enabled"`
	Broken              int            `json:"broken"`
	ByStatus            map[Status]int `json:"by_status"`
	AverageScore        float64        `json:"average_score"`
}

// Stats aggregates counts by status and the mean score.
func (e *Engine) Stats() (Stats, error) {
	all, err := e.list()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(all), ByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		st.ByStatus[s] = 0
	}
	var sum float64
	for _, r := range all {
		st.ByStatus[r.Status]++
		sum += r.Score
		if r.TotalInteractions > 0 {
			st.Active++
		}
		if r.TransmissionEnabled {
			st.TransmissionEnabled++
		}
		if r.IsBroken {
			st.Broken++
		}
	}
	if st.Total > 0 {
		st.AverageScore = sum / float64(st.Total)
	}
	return st, nil
}

func (e *Engine) load(userID string) (Relationship, bool, error) {
	var r Relationship
	found, err := e.db.Get(store.KindRelationship, userID, &r)
	if err != nil {
		return Relationship{}, false, fmt.Errorf("load relationship %s: %w", userID, err)
	}
	return r, found, nil
}

func (e *Engine) save(r Relationship) error {
	if err := e.db.Put(store.KindRelationship, r.UserID, r); err != nil {
		return fmt.Errorf("save relationship %s: %w", r.UserID, err)
	}
	return nil
}

func (e *Engine) list() ([]Relationship, error) {
	ents, err := e.db.ListKind(store.KindRelationship)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	out := make([]Relationship, 0, len(ents))
	for _, ent := range ents {
		var r Relationship
		if err := ent.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
