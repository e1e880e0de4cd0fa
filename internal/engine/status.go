package engine

import (
	"time"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/scheduler"
	"github.com/syui/aigpt/internal/transmission"
)

// Status is the companion's current state, optionally with one relationship.
type Status struct {
	Now             time.Time                  `json:"now"`
	Fortune         fortune.Fortune            `json:"fortune"`
	Mood            fortune.Mood               `json:"mood"`
	MoodDescription string                     `json:"mood_description"`
	Relationship    *relationship.Relationship `json:"relationship,omitempty"`
	Relationships   relationship.Stats         `json:"relationships"`
	Transmissions   transmission.Stats         `json:"transmissions"`
	MaintenanceDone bool                       `json:"maintenance_done"` // today's maintenance check has run
}

// Status reports today's fortune and mood with overall stats. A non-empty
// userID adds that relationship, or fails with NotFound.
func (e *Engine) Status(userID string) (Status, error) {
	now, err := e.now()
	if err != nil {
		return Status{}, err
	}
	f, err := e.Fortune.For(now)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Now:             now,
		Fortune:         f,
		Mood:            f.Mood(),
		MoodDescription: f.Mood().Describe(),
	}
	if userID != "" {
		if st.Relationship, err = e.Relationship(userID); err != nil {
			return Status{}, err
		}
	}
	if st.Relationships, err = e.Relationships.Stats(); err != nil {
		return Status{}, err
	}
	if st.Transmissions, err = e.Transmissions.Stats(now); err != nil {
		return Status{}, err
	}
	if st.MaintenanceDone, err = e.Transmissions.MaintenanceRan(now); err != nil {
		return Status{}, err
	}
	return st, nil
}

// TodaysFortune returns the fortune for the current date.
func (e *Engine) TodaysFortune() (fortune.Fortune, error) {
	now, err := e.now()
	if err != nil {
		return fortune.Fortune{}, err
	}
	return e.Fortune.For(now)
}

// Relationship returns one relationship or a NotFound error.
func (e *Engine) Relationship(userID string) (*relationship.Relationship, error) {
	if err := relationship.ValidateUserID(userID); err != nil {
		return nil, err
	}
	r, err := e.Relationships.Get(userID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errs.Errorf(errs.NotFound, "get relationship", "no relationship with %q", userID)
	}
	return r, nil
}

// SetTransmission enables or disables transmissions for a user. Broken
// relationships stay disabled.
func (e *Engine) SetTransmission(userID string, enabled bool) (relationship.Relationship, error) {
	return e.Relationships.SetTransmission(userID, enabled)
}

// RecentTransmissions returns the newest transmissions first with stats.
func (e *Engine) RecentTransmissions(limit int) ([]transmission.Log, transmission.Stats, error) {
	now, err := e.now()
	if err != nil {
		return nil, transmission.Stats{}, err
	}
	logs, err := e.Transmissions.Recent(limit)
	if err != nil {
		return nil, transmission.Stats{}, err
	}
	st, err := e.Transmissions.Stats(now)
	if err != nil {
		return nil, transmission.Stats{}, err
	}
	return logs, st, nil
}

// SchedulerStatus returns the task table with scheduler stats.
func (e *Engine) SchedulerStatus() ([]scheduler.Task, scheduler.Stats, error) {
	now, err := e.now()
	if err != nil {
		return nil, scheduler.Stats{}, err
	}
	tasks, err := e.Scheduler.List()
	if err != nil {
		return nil, scheduler.Stats{}, err
	}
	st, err := e.Scheduler.Stats(now)
	if err != nil {
		return nil, scheduler.Stats{}, err
	}
	return tasks, st, nil
}
