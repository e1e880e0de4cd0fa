package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syui/aigpt/internal/clock"
	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/store"
	"github.com/syui/aigpt/internal/transmission"
)

// Decayer applies relationship decay.
type Decayer interface {
	ApplyDecay(now time.Time) (relationship.DecayReport, error)
}

// Transmitter runs the transmission checks.
type Transmitter interface {
	CheckAutonomous(ctx context.Context, now time.Time) ([]transmission.Log, error)
	CheckBreakthrough(ctx context.Context, now time.Time) ([]transmission.Log, error)
	CheckMaintenance(ctx context.Context, now time.Time) ([]transmission.Log, error)
	SendScheduled(ctx context.Context, userID string, now time.Time) (*transmission.Log, error)
}

// Scheduler owns the task table and runs due tasks.
type Scheduler struct {
	db  *store.DB
	rel Decayer
	tx  Transmitter
	loc *time.Location

	tickMu sync.Mutex // one tick at a time
	mu     sync.Mutex // table reads and writes; never held while a task runs
}

// New creates a Scheduler. A nil loc means UTC.
func New(db *store.DB, rel Decayer, tx Transmitter, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{db: db, rel: rel, tx: tx, loc: loc}
}

// EnsureDefaults seeds the default tasks when the table is empty. It reports
// whether it seeded anything.
func (s *Scheduler) EnsureDefaults(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.db.CountKind(store.KindTask)
	if err != nil {
		return false, fmt.Errorf("count tasks: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	for _, t := range defaultTasks(now, s.loc) {
		t.ID = uuid.NewString()
		t.Enabled = true
		t.CreatedAt = now
		if err := s.db.Put(store.KindTask, t.ID, t); err != nil {
			return false, fmt.Errorf("seed %s: %w", t.Kind, err)
		}
	}
	log.Printf("scheduler: seeded default tasks")
	return true, nil
}

// Tick runs every due task in priority order and returns their executions.
// A fatal error aborts the tick; any other failure is recorded and the task
// retried after RetryDelay.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]Execution, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	tasks, err := s.list()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var due []Task
	for _, t := range tasks {
		if t.Due(now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := priority[due[i].Kind], priority[due[j].Kind]
		if pi != pj {
			return pi < pj
		}
		if !due[i].NextRun.Equal(due[j].NextRun) {
			return due[i].NextRun.Before(due[j].NextRun)
		}
		return due[i].ID < due[j].ID
	})

	var out []Execution
	for _, t := range due {
		started := time.Now()
		result, runErr := s.execute(ctx, t, now)
		if runErr != nil && errs.IsFatal(runErr) {
			return out, fmt.Errorf("task %s (%s): %w", t.ID, t.Kind, runErr)
		}

		ex := Execution{
			TaskID:     t.ID,
			Kind:       t.Kind,
			StartedAt:  now,
			DurationMs: time.Since(started).Milliseconds(),
			Success:    runErr == nil,
			Result:     result,
		}
		if runErr != nil {
			ex.Error = runErr.Error()
		}
		if err := s.finish(t.ID, runErr, now); err != nil {
			return out, err
		}

		tag := "success"
		if !ex.Success {
			tag = "failure"
		}
		if _, err := s.db.AppendLog(store.StreamSchedulerHistory, t.ID, tag, now, ex); err != nil {
			return out, fmt.Errorf("record execution: %w", err)
		}
		out = append(out, ex)
	}

	if len(out) > 0 {
		if _, err := s.db.TrimLog(store.StreamSchedulerHistory, HistoryLimit); err != nil {
			return out, fmt.Errorf("trim history: %w", err)
		}
	}
	return out, nil
}

// finish reschedules a task after it ran. The task is reloaded first, so
// edits made while it was running are kept; a task deleted meanwhile stays
// deleted.
func (s *Scheduler) finish(id string, runErr error, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Task
	ok, err := s.db.Get(store.KindTask, id, &t)
	if err != nil {
		return fmt.Errorf("reload task %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	if runErr != nil {
		t.NextRun = now.Add(RetryDelay)
		log.Printf("scheduler: %s failed, retrying at %s: %v", t.Kind, t.NextRun.Format(time.RFC3339), runErr)
	} else {
		last := now
		t.LastRun = &last
		t.RunCount++
		if t.Recurring() {
			t.NextRun = now.Add(t.Interval())
		} else {
			t.Enabled = false
		}
	}
	if err := s.db.Put(store.KindTask, t.ID, t); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, t Task, now time.Time) (string, error) {
	switch t.Kind {
	case DailyMaintenance, RelationshipDecay:
		rep, err := s.rel.ApplyDecay(now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("decayed %d relationships, %d lost transmission", rep.Decayed, rep.Disabled), nil
	case AutoTransmission:
		sent, err := s.tx.CheckAutonomous(ctx, now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d autonomous transmissions sent", len(sent)), nil
	case BreakthroughCheck:
		sent, err := s.tx.CheckBreakthrough(ctx, now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d breakthrough transmissions sent", len(sent)), nil
	case MaintenanceTransmission:
		sent, err := s.tx.CheckMaintenance(ctx, now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d maintenance transmissions sent", len(sent)), nil
	case ScheduledTransmission:
		entry, err := s.tx.SendScheduled(ctx, t.UserID, now)
		if err != nil {
			return "", err
		}
		if entry == nil {
			return fmt.Sprintf("skipped %s", t.UserID), nil
		}
		return fmt.Sprintf("sent to %s", t.UserID), nil
	case Custom:
		return fmt.Sprintf("custom task %q ran", t.Name), nil
	default:
		return "", errs.Errorf(errs.InvalidInput, "run task", "unknown task kind %q", t.Kind)
	}
}

// CreateOptions describes a new task.
type CreateOptions struct {
	Kind     Kind
	Name     string
	UserID   string
	At       time.Time     // first run; zero means now
	Interval time.Duration // zero for a one-shot task
	MaxRuns  int
}

// Create adds a task to the table.
func (s *Scheduler) Create(opts CreateOptions, now time.Time) (Task, error) {
	const op = "create task"
	if _, ok := priority[opts.Kind]; !ok {
		return Task{}, errs.Errorf(errs.InvalidInput, op, "unknown task kind %q", opts.Kind)
	}
	if opts.Interval < 0 || opts.MaxRuns < 0 {
		return Task{}, errs.Errorf(errs.InvalidInput, op, "interval and max runs must not be negative")
	}
	if opts.Kind == ScheduledTransmission {
		if err := relationship.ValidateUserID(opts.UserID); err != nil {
			return Task{}, err
		}
	}
	if opts.Kind == Custom && strings.TrimSpace(opts.Name) == "" {
		return Task{}, errs.Errorf(errs.InvalidInput, op, "custom tasks need a name")
	}

	at := opts.At
	if at.IsZero() {
		at = now
	}
	t := Task{
		ID:            uuid.NewString(),
		Kind:          opts.Kind,
		Name:          opts.Name,
		UserID:        opts.UserID,
		NextRun:       at.UTC(),
		IntervalHours: opts.Interval.Hours(),
		Enabled:       true,
		MaxRuns:       opts.MaxRuns,
		CreatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put(store.KindTask, t.ID, t); err != nil {
		return Task{}, fmt.Errorf("save task: %w", err)
	}
	return t, nil
}

// Get returns one task or a NotFound error.
func (s *Scheduler) Get(id string) (Task, error) {
	var t Task
	ok, err := s.db.Get(store.KindTask, id, &t)
	if err != nil {
		return Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	if !ok {
		return Task{}, errs.Errorf(errs.NotFound, "get task", "no task %q", id)
	}
	return t, nil
}

// SetEnabled turns a task on or off.
func (s *Scheduler) SetEnabled(id string, enabled bool) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id)
	if err != nil {
		return Task{}, err
	}
	if t.Enabled == enabled {
		return t, nil
	}
	t.Enabled = enabled
	if err := s.db.Put(store.KindTask, t.ID, t); err != nil {
		return Task{}, fmt.Errorf("save task %s: %w", id, err)
	}
	return t, nil
}

// Delete removes a task.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Delete(store.KindTask, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if !ok {
		return errs.Errorf(errs.NotFound, "delete task", "no task %q", id)
	}
	return nil
}

// List returns all tasks ordered by next run.
func (s *Scheduler) List() ([]Task, error) {
	tasks, err := s.list()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].NextRun.Before(tasks[j].NextRun) })
	return tasks, nil
}

func (s *Scheduler) list() ([]Task, error) {
	ents, err := s.db.ListKind(store.KindTask)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, len(ents))
	for _, e := range ents {
		var t Task
		if err := e.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// History returns executions newest first. A non-positive limit returns the
// whole ring.
func (s *Scheduler) History(limit int) ([]Execution, error) {
	recs, err := s.db.QueryLog(store.StreamSchedulerHistory, store.LogQuery{Newest: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("scheduler history: %w", err)
	}
	out := make([]Execution, 0, len(recs))
	for _, r := range recs {
		var ex Execution
		if err := r.Decode(&ex); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, nil
}

// Stats summarises the task table and execution history.
type Stats struct {
	Tasks          int     `json:"tasks"`
	Enabled        int     `json:"enabled"`
	Due            int     `json:"due"`
	Executions     int     `json:"executions"`
	Successful     int     `json:"successful"`
	SuccessRate    float64 `json:"success_rate"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	Today          int     `json:"today"`
}

// Stats computes scheduler statistics as of now.
func (s *Scheduler) Stats(now time.Time) (Stats, error) {
	tasks, err := s.list()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Tasks: len(tasks)}
	for _, t := range tasks {
		if t.Enabled {
			st.Enabled++
		}
		if t.Due(now) {
			st.Due++
		}
	}

	history, err := s.History(0)
	if err != nil {
		return Stats{}, err
	}
	var total int64
	for _, ex := range history {
		if ex.Success {
			st.Successful++
		}
		total += ex.DurationMs
	}
	st.Executions = len(history)
	if st.Executions > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Executions)
		st.MeanDurationMs = float64(total) / float64(st.Executions)
	}

	dayStart := clock.StartOfDay(now, s.loc)
	st.Today, err = s.db.CountLog(store.StreamSchedulerHistory, store.LogQuery{Since: dayStart, Until: dayStart.AddDate(0, 0, 1)})
	if err != nil {
		return Stats{}, fmt.Errorf("scheduler stats: %w", err)
	}
	return st, nil
}
