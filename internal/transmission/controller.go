package transmission

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/syui/aigpt/internal/clock"
	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/store"
)

// DefaultTimeout bounds a single message generation.
const DefaultTimeout = 30 * time.Second

// Controller decides who gets an AI-initiated message and records it.
type Controller struct {
	db      *store.DB
	rel     *relationship.Engine
	oracle  *fortune.Oracle
	gen     Generator
	timeout time.Duration
	loc     *time.Location

	// runMu serializes the checks and sends. Dedup and cooldown are read
	// before generation and written after it, so two overlapping checks
	// would otherwise both send.
	runMu sync.Mutex
}

// Options configures a Controller.
type Options struct {
	Generator Generator // nil means always use the fallback table
	Timeout   time.Duration
	Location  *time.Location
}

// New creates a Controller.
func New(db *store.DB, rel *relationship.Engine, oracle *fortune.Oracle, opts Options) *Controller {
	c := &Controller{
		db:      db,
		rel:     rel,
		oracle:  oracle,
		gen:     opts.Generator,
		timeout: opts.Timeout,
		loc:     opts.Location,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	return c
}

// CheckAutonomous sends at most one message to each eligible relationship
// whose cooldown has passed and whose deterministic roll falls under the
// status probability adjusted by today's fortune.
func (c *Controller) CheckAutonomous(ctx context.Context, now time.Time) ([]Log, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	f, err := c.oracle.For(now)
	if err != nil {
		return nil, err
	}
	eligible, err := c.rel.ListEligible()
	if err != nil {
		return nil, err
	}

	var sent []Log
	for _, r := range eligible {
		if since, ok := r.SinceTransmission(now); ok && since < Cooldown {
			continue
		}
		p := Probability(r.Status, f)
		if Roll(r.UserID, now) >= p {
			continue
		}
		entry, err := c.send(ctx, Autonomous, r, f, now)
		if err != nil {
			return sent, err
		}
		sent = append(sent, entry)
	}
	return sent, nil
}

// CheckBreakthrough sends one message per day to every friend or close
// friend on a breakthrough day. The autonomous cooldown does not apply.
func (c *Controller) CheckBreakthrough(ctx context.Context, now time.Time) ([]Log, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	f, err := c.oracle.For(now)
	if err != nil {
		return nil, err
	}
	if !f.Breakthrough || f.Value < fortune.BreakthroughValue {
		return nil, nil
	}

	all, err := c.rel.List()
	if err != nil {
		return nil, err
	}
	dayStart := clock.StartOfDay(now, c.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var sent []Log
	for _, r := range all {
		if !r.BreakthroughEligible() {
			continue
		}
		n, err := c.db.CountLog(store.StreamTransmissions, store.LogQuery{
			Subject: r.UserID,
			Tag:     string(Breakthrough),
			Since:   dayStart,
			Until:   dayEnd,
		})
		if err != nil {
			return sent, fmt.Errorf("check breakthrough log: %w", err)
		}
		if n > 0 {
			continue
		}
		entry, err := c.send(ctx, Breakthrough, r, f, now)
		if err != nil {
			return sent, err
		}
		sent = append(sent, entry)
	}
	return sent, nil
}

// maintenanceRun marks that the maintenance check ran for a date.
type maintenanceRun struct {
	Date  string    `json:"date"`
	RanAt time.Time `json:"ran_at"`
	Users []string  `json:"users"`
}

// CheckMaintenance runs at most once per calendar date. It decays all
// relationships first, then checks in with up to three eligible users who
// have been silent for a week or more, in creation order. The date is only
// marked done once the run completes, so a failed run can be retried; users
// who already got a maintenance message that day are skipped on retry.
func (c *Controller) CheckMaintenance(ctx context.Context, now time.Time) ([]Log, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	date := clock.DateKey(now, c.loc)
	done, err := c.maintenanceRan(date)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}

	if _, err := c.rel.ApplyDecay(now); err != nil {
		return nil, err
	}
	f, err := c.oracle.For(now)
	if err != nil {
		return nil, err
	}
	eligible, err := c.rel.ListEligible()
	if err != nil {
		return nil, err
	}
	dayStart := clock.StartOfDay(now, c.loc)

	run := maintenanceRun{Date: date, RanAt: now}
	var sent []Log
	for _, r := range eligible {
		if len(run.Users) == MaintenanceMaxUsers {
			break
		}
		if since, ok := r.SinceInteraction(now); !ok || since < MaintenanceSilence {
			continue
		}
		n, err := c.db.CountLog(store.StreamTransmissions, store.LogQuery{
			Subject: r.UserID,
			Tag:     string(Maintenance),
			Since:   dayStart,
			Until:   dayStart.AddDate(0, 0, 1),
		})
		if err != nil {
			return sent, fmt.Errorf("check maintenance log: %w", err)
		}
		if n == 0 {
			entry, err := c.send(ctx, Maintenance, r, f, now)
			if err != nil {
				return sent, err
			}
			sent = append(sent, entry)
		}
		run.Users = append(run.Users, r.UserID)
	}
	if err := c.db.Put(store.KindMaintenanceRun, date, run); err != nil {
		return sent, fmt.Errorf("record maintenance %s: %w", date, err)
	}
	return sent, nil
}

// SendScheduled sends a message a user asked for ahead of time. Cooldown and
// eligibility do not apply, but broken relationships receive nothing.
func (c *Controller) SendScheduled(ctx context.Context, userID string, now time.Time) (*Log, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	r, err := c.rel.Get(userID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errs.Errorf(errs.NotFound, "scheduled transmission", "no relationship with %q", userID)
	}
	if r.IsBroken {
		return nil, nil
	}
	f, err := c.oracle.For(now)
	if err != nil {
		return nil, err
	}
	entry, err := c.send(ctx, Scheduled, *r, f, now)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MaintenanceRan reports whether the maintenance check already ran on now's
// calendar date.
func (c *Controller) MaintenanceRan(now time.Time) (bool, error) {
	return c.maintenanceRan(clock.DateKey(now, c.loc))
}

func (c *Controller) maintenanceRan(date string) (bool, error) {
	var run maintenanceRun
	return c.db.Get(store.KindMaintenanceRun, date, &run)
}

// send generates the message outside any lock, then appends the log entry
// and stamps the relationship.
func (c *Controller) send(ctx context.Context, kind Kind, r relationship.Relationship, f fortune.Fortune, now time.Time) (Log, error) {
	entry := Log{
		UserID:    r.UserID,
		Timestamp: now,
		Kind:      kind,
		Success:   true,
	}

	msg, genErr := c.generate(ctx, Request{Kind: kind, Relationship: r, Fortune: f, Now: now})
	if genErr != nil {
		log.Printf("transmission: %s to %s: generation failed, using fallback: %v", kind, r.UserID, genErr)
		msg = Fallback(kind, f, now)
		entry.Fallback = true
		entry.Error = genErr.Error()
	}
	entry.Message = msg

	id, err := c.db.AppendLog(store.StreamTransmissions, r.UserID, string(kind), now, entry)
	if err != nil {
		return Log{}, fmt.Errorf("log %s transmission: %w", kind, err)
	}
	entry.ID = id

	if err := c.rel.RecordTransmission(r.UserID, now); err != nil {
		return entry, err
	}
	log.Printf("transmission: %s -> %s", kind, r.UserID)
	return entry, nil
}

func (c *Controller) generate(ctx context.Context, req Request) (string, error) {
	if c.gen == nil {
		return Fallback(req.Kind, req.Fortune, req.Now), nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.gen.Generate(ctx, req)
}

// Recent returns the newest transmissions first. A non-positive limit
// returns them all.
func (c *Controller) Recent(limit int) ([]Log, error) {
	recs, err := c.db.QueryLog(store.StreamTransmissions, store.LogQuery{Newest: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list transmissions: %w", err)
	}
	out := make([]Log, 0, len(recs))
	for _, rec := range recs {
		var l Log
		if err := rec.Decode(&l); err != nil {
			return nil, err
		}
		l.ID = rec.ID
		out = append(out, l)
	}
	return out, nil
}

// Stats summarises the transmission log.
type Stats struct {
	Total       int          `json:"total"`
	Successful  int          `json:"successful"`
	Today       int          `json:"today"`
	SuccessRate float64      `json:"success_rate"`
	ByKind      map[Kind]int `json:"by_kind"`
}

// Stats counts the log overall, by kind and for now's calendar date.
func (c *Controller) Stats(now time.Time) (Stats, error) {
	byTag, err := c.db.CountLogByTag(store.StreamTransmissions, store.LogQuery{})
	if err != nil {
		return Stats{}, fmt.Errorf("transmission stats: %w", err)
	}
	st := Stats{ByKind: make(map[Kind]int, len(byTag))}
	for tag, n := range byTag {
		st.ByKind[Kind(tag)] = n
		st.Total += n
	}

	recs, err := c.db.QueryLog(store.StreamTransmissions, store.LogQuery{})
	if err != nil {
		return Stats{}, fmt.Errorf("transmission stats: %w", err)
	}
	for _, rec := range recs {
		var l Log
		if err := rec.Decode(&l); err != nil {
			return Stats{}, err
		}
		if l.Success {
			st.Successful++
		}
	}

	dayStart := clock.StartOfDay(now, c.loc)
	st.Today, err = c.db.CountLog(store.StreamTransmissions, store.LogQuery{Since: dayStart, Until: dayStart.AddDate(0, 0, 1)})
	if err != nil {
		return Stats{}, fmt.Errorf("transmission stats: %w", err)
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Total)
	}
	return st, nil
}
