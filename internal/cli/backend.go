package cli

import (
	"context"

	"github.com/syui/aigpt/internal/client"
	"github.com/syui/aigpt/internal/config"
	"github.com/syui/aigpt/internal/engine"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/scheduler"
	"github.com/syui/aigpt/internal/store"
	"github.com/syui/aigpt/internal/transmission"
)

// backend is what the commands talk to: the running server when there is
// one, the database directly otherwise.
type backend interface {
	Status(ctx context.Context, userID string) (engine.Status, error)
	Fortune(ctx context.Context) (client.FortuneResponse, error)
	Relationships(ctx context.Context) ([]relationship.Relationship, relationship.Stats, error)
	Relationship(ctx context.Context, userID string) (relationship.Relationship, error)
	Memories(ctx context.Context, userID string, limit int) ([]store.Memory, error)
	SetTransmission(ctx context.Context, userID string, enabled bool) (relationship.Relationship, error)
	Interact(ctx context.Context, userID string, sentiment float64) (relationship.IngestResult, error)
	Chat(ctx context.Context, userID, message string) (engine.ChatResult, error)
	Tick(ctx context.Context, all bool) (engine.TickReport, error)
	Transmissions(ctx context.Context, limit int) ([]transmission.Log, transmission.Stats, error)
	Scheduler(ctx context.Context) ([]scheduler.Task, scheduler.Stats, error)
	History(ctx context.Context, limit int) ([]scheduler.Execution, error)
	CreateTask(ctx context.Context, opts scheduler.CreateOptions) (scheduler.Task, error)
	SetTaskEnabled(ctx context.Context, id string, enabled bool) (scheduler.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Close() error
}

// openBackend is swapped out in tests.
var openBackend = defaultBackend

func defaultBackend(ctx context.Context) (backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !localMode {
		c := client.New(cfg.ServerURL())
		if c.Healthy(ctx) {
			return remote{c}, nil
		}
	}
	eng, err := engine.Open(cfg)
	if err != nil {
		return nil, err
	}
	return local{eng}, nil
}

type remote struct{ *client.Client }

func (remote) Close() error { return nil }

// local runs commands in-process against the engine.
type local struct{ eng *engine.Engine }

func (l local) Status(_ context.Context, userID string) (engine.Status, error) {
	return l.eng.Status(userID)
}

func (l local) Fortune(context.Context) (client.FortuneResponse, error) {
	f, err := l.eng.TodaysFortune()
	if err != nil {
		return client.FortuneResponse{}, err
	}
	return client.FortuneResponse{Fortune: f, Mood: f.Mood(), MoodDescription: f.Mood().Describe()}, nil
}

func (l local) Relationships(context.Context) ([]relationship.Relationship, relationship.Stats, error) {
	rels, err := l.eng.Relationships.List()
	if err != nil {
		return nil, relationship.Stats{}, err
	}
	st, err := l.eng.Relationships.Stats()
	return rels, st, err
}

func (l local) Relationship(_ context.Context, userID string) (relationship.Relationship, error) {
	r, err := l.eng.Relationship(userID)
	if err != nil {
		return relationship.Relationship{}, err
	}
	return *r, nil
}

func (l local) Memories(_ context.Context, userID string, limit int) ([]store.Memory, error) {
	return l.eng.Memories(userID, limit)
}

func (l local) SetTransmission(_ context.Context, userID string, enabled bool) (relationship.Relationship, error) {
	return l.eng.SetTransmission(userID, enabled)
}

func (l local) Interact(_ context.Context, userID string, sentiment float64) (relationship.IngestResult, error) {
	return l.eng.Interact(userID, sentiment)
}

func (l local) Chat(ctx context.Context, userID, message string) (engine.ChatResult, error) {
	return l.eng.Chat(ctx, userID, message)
}

func (l local) Tick(ctx context.Context, all bool) (engine.TickReport, error) {
	if all {
		return l.eng.RunAll(ctx)
	}
	return l.eng.Tick(ctx)
}

func (l local) Transmissions(_ context.Context, limit int) ([]transmission.Log, transmission.Stats, error) {
	return l.eng.RecentTransmissions(limit)
}

func (l local) Scheduler(context.Context) ([]scheduler.Task, scheduler.Stats, error) {
	return l.eng.SchedulerStatus()
}

func (l local) History(_ context.Context, limit int) ([]scheduler.Execution, error) {
	return l.eng.Scheduler.History(limit)
}

func (l local) CreateTask(_ context.Context, opts scheduler.CreateOptions) (scheduler.Task, error) {
	now, err := l.eng.Clock.Now()
	if err != nil {
		return scheduler.Task{}, err
	}
	return l.eng.Scheduler.Create(opts, now)
}

func (l local) SetTaskEnabled(_ context.Context, id string, enabled bool) (scheduler.Task, error) {
	return l.eng.Scheduler.SetEnabled(id, enabled)
}

func (l local) DeleteTask(_ context.Context, id string) error {
	return l.eng.Scheduler.Delete(id)
}

func (l local) Close() error { return l.eng.Close() }
