package scheduler

import (
	"fmt"
	"time"
)

// Kind selects what a task does when it runs.
type Kind string

const (
	DailyMaintenance        Kind = "daily_maintenance"
	RelationshipDecay       Kind = "relationship_decay"
	AutoTransmission        Kind = "auto_transmission"
	BreakthroughCheck       Kind = "breakthrough_check"
	MaintenanceTransmission Kind = "maintenance_transmission"
	ScheduledTransmission   Kind = "scheduled_transmission"
	Custom                  Kind = "custom"
)

// Kinds lists every task kind in execution priority order.
var Kinds = []Kind{
	DailyMaintenance,
	RelationshipDecay,
	AutoTransmission,
	BreakthroughCheck,
	MaintenanceTransmission,
	ScheduledTransmission,
	Custom,
}

// priority orders due tasks inside one tick: decay, then autonomous, then
// breakthrough, then maintenance.
var priority = map[Kind]int{
	DailyMaintenance:        0,
	RelationshipDecay:       0,
	AutoTransmission:        1,
	BreakthroughCheck:       2,
	MaintenanceTransmission: 3,
	ScheduledTransmission:   4,
	Custom:                  5,
}

// ParseKind validates a task kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := priority[k]; !ok {
		return "", fmt.Errorf("unknown task kind %q", s)
	}
	return k, nil
}

// RetryDelay is how far a failed task's next run is pushed.
const RetryDelay = 15 * time.Minute

// HistoryLimit bounds the execution history.
const HistoryLimit = 1000

// Task is one entry of the task table.
type Task struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Name          string     `json:"name,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	NextRun       time.Time  `json:"next_run"`
	IntervalHours float64    `json:"interval_hours,omitempty"` // zero for one-shot tasks
	Enabled       bool       `json:"enabled"`
	RunCount      int        `json:"run_count"`
	MaxRuns       int        `json:"max_runs,omitempty"` // zero for unlimited
	LastRun       *time.Time `json:"last_run,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Interval returns the repeat interval, or zero for a one-shot task.
func (t *Task) Interval() time.Duration {
	return time.Duration(t.IntervalHours * float64(time.Hour))
}

// Recurring reports whether the task repeats.
func (t *Task) Recurring() bool { return t.IntervalHours > 0 }

// Exhausted reports whether the task has used all its runs.
func (t *Task) Exhausted() bool { return t.MaxRuns > 0 && t.RunCount >= t.MaxRuns }

// Due reports whether the task should run at now.
func (t *Task) Due(now time.Time) bool {
	return t.Enabled && !t.Exhausted() && !t.NextRun.After(now)
}

// Execution records one task run.
type Execution struct {
	TaskID     string    `json:"task_id"`
	Kind       Kind      `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// nextAt returns today's hh:mm in loc, or tomorrow's if that has passed.
func nextAt(now time.Time, loc *time.Location, hour, min int) time.Time {
	l := now.In(loc)
	t := time.Date(l.Year(), l.Month(), l.Day(), hour, min, 0, 0, loc)
	if !t.After(l) {
		t = t.AddDate(0, 0, 1)
	}
	return t.UTC()
}

// defaultTasks is the task table a fresh store starts with.
func defaultTasks(now time.Time, loc *time.Location) []Task {
	return []Task{
		{Kind: DailyMaintenance, NextRun: nextAt(now, loc, 3, 0), IntervalHours: 24},
		{Kind: AutoTransmission, NextRun: now.Add(time.Hour), IntervalHours: 4},
		{Kind: BreakthroughCheck, NextRun: now.Add(30 * time.Minute), IntervalHours: 2},
		{Kind: MaintenanceTransmission, NextRun: nextAt(now, loc, 12, 0), IntervalHours: 24},
	}
}
