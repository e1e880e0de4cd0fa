package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/syui/aigpt/internal/clock"
	"github.com/syui/aigpt/internal/config"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/llm"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/scheduler"
	"github.com/syui/aigpt/internal/store"
	"github.com/syui/aigpt/internal/transmission"
)

// Engine wires the clock, fortune, relationships, transmissions and the
// scheduler over one store.
type Engine struct {
	DB            *store.DB
	LLM           llm.Client
	Clock         *clock.Checked
	Fortune       *fortune.Oracle
	Relationships *relationship.Engine
	Transmissions *transmission.Controller
	Scheduler     *scheduler.Scheduler

	loc        *time.Location
	genTimeout time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// Options tunes a new Engine. Zero values take the package defaults.
type Options struct {
	Clock             clock.Clock
	Location          *time.Location
	DailyCap          int
	Threshold         float64
	FortuneSeed       string
	GenerationTimeout time.Duration
}

// New creates an Engine over db and seeds the default scheduler tasks.
// client may be nil, in which case every message comes from the fallback
// tables.
func New(db *store.DB, client llm.Client, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = transmission.DefaultTimeout
	}

	e := &Engine{
		DB:         db,
		LLM:        client,
		Clock:      &clock.Checked{Clock: opts.Clock},
		loc:        opts.Location,
		genTimeout: opts.GenerationTimeout,
		stopCh:     make(chan struct{}),
	}
	e.Fortune = fortune.New(db, opts.Location, opts.FortuneSeed)
	e.Relationships = relationship.NewEngine(db, relationship.Options{
		Location:  opts.Location,
		DailyCap:  opts.DailyCap,
		Threshold: opts.Threshold,
	})

	var gen transmission.Generator
	if client != nil {
		gen = transmission.LLMGenerator{Client: client}
	}
	e.Transmissions = transmission.New(db, e.Relationships, e.Fortune, transmission.Options{
		Generator: gen,
		Timeout:   opts.GenerationTimeout,
		Location:  opts.Location,
	})
	e.Scheduler = scheduler.New(db, e.Relationships, e.Transmissions, opts.Location)

	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if _, err := e.Scheduler.EnsureDefaults(now); err != nil {
		return nil, err
	}
	return e, nil
}

// Open builds an Engine from configuration: it opens the database and the
// configured language model provider.
func Open(cfg config.Config) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	path := cfg.DBPath()
	if path == "" {
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}

	e, err := New(db, client, Options{
		Location:          loc,
		DailyCap:          cfg.Core.DailyCap,
		Threshold:         cfg.Core.Threshold,
		FortuneSeed:       cfg.Core.FortuneSeed,
		GenerationTimeout: cfg.Core.GenerationTimeout,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// Location is the calendar all day boundaries are computed in.
func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) now() (time.Time, error) {
	return e.Clock.Now()
}

// Interact records one interaction with userID.
func (e *Engine) Interact(userID string, sentiment float64) (relationship.IngestResult, error) {
	now, err := e.now()
	if err != nil {
		return relationship.IngestResult{}, err
	}
	return e.Relationships.Ingest(userID, sentiment, now)
}

// TickReport is the outcome of one tick.
type TickReport struct {
	At            time.Time                 `json:"at"`
	Executions    []scheduler.Execution     `json:"executions"`
	Decay         *relationship.DecayReport `json:"decay,omitempty"`
	Transmissions []transmission.Log        `json:"transmissions,omitempty"`
}

// Tick runs the scheduler's due tasks once and reports the transmissions
// they produced.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	now, err := e.now()
	if err != nil {
		return TickReport{}, err
	}
	rep := TickReport{At: now}
	rep.Executions, err = e.Scheduler.Tick(ctx, now)
	if err != nil {
		return rep, err
	}
	rep.Transmissions, err = e.sentAt(now)
	return rep, err
}

// RunAll runs every check in tick order regardless of the task table:
// decay, autonomous, breakthrough, maintenance.
func (e *Engine) RunAll(ctx context.Context) (TickReport, error) {
	now, err := e.now()
	if err != nil {
		return TickReport{}, err
	}
	rep := TickReport{At: now}

	decay, err := e.Relationships.ApplyDecay(now)
	if err != nil {
		return rep, err
	}
	rep.Decay = &decay

	checks := []func(context.Context, time.Time) ([]transmission.Log, error){
		e.Transmissions.CheckAutonomous,
		e.Transmissions.CheckBreakthrough,
		e.Transmissions.CheckMaintenance,
	}
	for _, check := range checks {
		sent, err := check(ctx, now)
		rep.Transmissions = append(rep.Transmissions, sent...)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// sentAt returns the transmissions stamped with exactly now, oldest first.
func (e *Engine) sentAt(now time.Time) ([]transmission.Log, error) {
	recs, err := e.DB.QueryLog(store.StreamTransmissions, store.LogQuery{Since: now, Until: now.Add(time.Millisecond)})
	if err != nil {
		return nil, fmt.Errorf("tick transmissions: %w", err)
	}
	var out []transmission.Log
	for _, r := range recs {
		var l transmission.Log
		if err := r.Decode(&l); err != nil {
			return nil, err
		}
		l.ID = r.ID
		out = append(out, l)
	}
	return out, nil
}

// StartTicker runs a tick on startup and then every interval until Stop.
func (e *Engine) StartTicker(interval time.Duration) {
	e.runTick()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runTick()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runTick() {
	rep, err := e.Tick(context.Background())
	if err != nil {
		log.Printf("tick error: %v", err)
		return
	}
	if len(rep.Executions) > 0 {
		log.Printf("tick: ran %d tasks, sent %d transmissions", len(rep.Executions), len(rep.Transmissions))
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Close stops the ticker and closes the database.
func (e *Engine) Close() error {
	e.Stop()
	return e.DB.Close()
}
