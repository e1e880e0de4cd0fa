package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/store"
	"github.com/syui/aigpt/internal/transmission"
)

var now0 = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

// recorder stands in for the relationship engine and transmission
// controller, remembering the order it was called in.
type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) record(name string) error {
	r.calls = append(r.calls, name)
	return r.fail[name]
}

func (r *recorder) ApplyDecay(now time.Time) (relationship.DecayReport, error) {
	return relationship.DecayReport{Decayed: 2}, r.record("decay")
}

func (r *recorder) CheckAutonomous(ctx context.Context, now time.Time) ([]transmission.Log, error) {
	return nil, r.record("autonomous")
}

func (r *recorder) CheckBreakthrough(ctx context.Context, now time.Time) ([]transmission.Log, error) {
	return nil, r.record("breakthrough")
}

func (r *recorder) CheckMaintenance(ctx context.Context, now time.Time) ([]transmission.Log, error) {
	return nil, r.record("maintenance")
}

func (r *recorder) SendScheduled(ctx context.Context, userID string, now time.Time) (*transmission.Log, error) {
	if err := r.record("scheduled:" + userID); err != nil {
		return nil, err
	}
	return &transmission.Log{UserID: userID}, nil
}

func testScheduler(t *testing.T) (*Scheduler, *recorder, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rec := &recorder{fail: map[string]error{}}
	return New(db, rec, rec, nil), rec, db
}

func mustCreate(t *testing.T, s *Scheduler, opts CreateOptions) Task {
	t.Helper()
	task, err := s.Create(opts, now0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Create(%s): %v", opts.Kind, err)
	}
	return task
}

func TestEnsureDefaults(t *testing.T) {
	s, _, _ := testScheduler(t)

	seeded, err := s.EnsureDefaults(now0)
	if err != nil || !seeded {
		t.Fatalf("EnsureDefaults = %v, %v", seeded, err)
	}
	seeded, err = s.EnsureDefaults(now0.Add(time.Hour))
	if err != nil || seeded {
		t.Fatalf("second EnsureDefaults = %v, %v", seeded, err)
	}

	tasks, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("len(tasks) = %d, want 4", len(tasks))
	}
	want := map[Kind]struct {
		next     time.Time
		interval time.Duration
	}{
		DailyMaintenance:        {time.Date(2025, 5, 11, 3, 0, 0, 0, time.UTC), 24 * time.Hour},
		AutoTransmission:        {now0.Add(time.Hour), 4 * time.Hour},
		BreakthroughCheck:       {now0.Add(30 * time.Minute), 2 * time.Hour},
		MaintenanceTransmission: {time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC), 24 * time.Hour},
	}
	for _, task := range tasks {
		w, ok := want[task.Kind]
		if !ok {
			t.Errorf("unexpected task kind %s", task.Kind)
			continue
		}
		if !task.NextRun.Equal(w.next) || task.Interval() != w.interval || !task.Enabled {
			t.Errorf("%s: next=%v interval=%v enabled=%v", task.Kind, task.NextRun, task.Interval(), task.Enabled)
		}
	}
	if tasks[0].Kind != BreakthroughCheck {
		t.Errorf("List not ordered by next run: first is %s", tasks[0].Kind)
	}
}

func TestDefaultTimesFollowLocation(t *testing.T) {
	jst := time.FixedZone("JST", 9*3600)
	// 18:00 JST: both fixed-time tasks roll to tomorrow.
	tasks := defaultTasks(now0, jst)
	if got := tasks[0].NextRun; !got.Equal(time.Date(2025, 5, 11, 3, 0, 0, 0, jst)) {
		t.Errorf("daily maintenance = %v", got)
	}
	if got := tasks[3].NextRun; !got.Equal(time.Date(2025, 5, 11, 12, 0, 0, 0, jst)) {
		t.Errorf("maintenance transmission = %v", got)
	}
}

func TestTickOrder(t *testing.T) {
	s, rec, _ := testScheduler(t)
	// Created in reverse; all due at the same moment.
	for _, k := range []Kind{MaintenanceTransmission, BreakthroughCheck, AutoTransmission, DailyMaintenance} {
		mustCreate(t, s, CreateOptions{Kind: k, At: now0, Interval: time.Hour})
	}

	execs, err := s.Tick(context.Background(), now0)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := strings.Join(rec.calls, ","); got != "decay,autonomous,breakthrough,maintenance" {
		t.Errorf("order = %s", got)
	}
	if len(execs) != 4 {
		t.Fatalf("executions = %d", len(execs))
	}
	if execs[0].Result != "decayed 2 relationships, 0 lost transmission" {
		t.Errorf("result = %q", execs[0].Result)
	}
}

func TestTickSkipsNotDue(t *testing.T) {
	s, rec, _ := testScheduler(t)
	mustCreate(t, s, CreateOptions{Kind: AutoTransmission, At: now0.Add(time.Minute), Interval: time.Hour})
	off := mustCreate(t, s, CreateOptions{Kind: BreakthroughCheck, At: now0, Interval: time.Hour})
	if _, err := s.SetEnabled(off.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	execs, err := s.Tick(context.Background(), now0)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(execs) != 0 || len(rec.calls) != 0 {
		t.Errorf("ran %v", rec.calls)
	}
}

func TestTickSuccessReschedules(t *testing.T) {
	s, _, _ := testScheduler(t)
	rec := mustCreate(t, s, CreateOptions{Kind: AutoTransmission, At: now0.Add(-time.Minute), Interval: 4 * time.Hour})
	once := mustCreate(t, s, CreateOptions{Kind: ScheduledTransmission, UserID: "alice", At: now0})

	if _, err := s.Tick(context.Background(), now0); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := s.Get(rec.ID)
	if got.RunCount != 1 || got.LastRun == nil || !got.LastRun.Equal(now0) || !got.NextRun.Equal(now0.Add(4*time.Hour)) {
		t.Errorf("recurring task = %+v", got)
	}
	got, _ = s.Get(once.ID)
	if got.Enabled || got.RunCount != 1 {
		t.Errorf("one-shot task = %+v", got)
	}
}

func TestTickFailureRetries(t *testing.T) {
	s, rec, _ := testScheduler(t)
	rec.fail["autonomous"] = errs.Errorf(errs.Generation, "test", "model unavailable")
	auto := mustCreate(t, s, CreateOptions{Kind: AutoTransmission, At: now0, Interval: 4 * time.Hour})
	mustCreate(t, s, CreateOptions{Kind: BreakthroughCheck, At: now0, Interval: 2 * time.Hour})

	execs, err := s.Tick(context.Background(), now0)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(execs) != 2 || execs[0].Success || !execs[1].Success {
		t.Fatalf("executions = %+v", execs)
	}
	if !strings.Contains(execs[0].Error, "model unavailable") {
		t.Errorf("error = %q", execs[0].Error)
	}

	got, _ := s.Get(auto.ID)
	if !got.NextRun.Equal(now0.Add(RetryDelay)) || got.RunCount != 0 || got.LastRun != nil || !got.Enabled {
		t.Errorf("failed task = %+v", got)
	}

	hist, err := s.History(0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Kind != BreakthroughCheck || hist[1].Success {
		t.Errorf("history = %+v", hist)
	}
}

func TestTickFatalAborts(t *testing.T) {
	s, rec, _ := testScheduler(t)
	rec.fail["decay"] = errs.E(errs.Persist, "save", errors.New("disk full"))
	decay := mustCreate(t, s, CreateOptions{Kind: RelationshipDecay, At: now0, Interval: 24 * time.Hour})
	mustCreate(t, s, CreateOptions{Kind: AutoTransmission, At: now0, Interval: 4 * time.Hour})

	_, err := s.Tick(context.Background(), now0)
	if !errs.IsFatal(err) {
		t.Fatalf("Tick err = %v, want fatal", err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("calls after fatal = %v", rec.calls)
	}
	got, _ := s.Get(decay.ID)
	if !got.NextRun.Equal(now0) {
		t.Errorf("task table changed by aborted tick: %+v", got)
	}
}

func TestMaxRuns(t *testing.T) {
	s, rec, _ := testScheduler(t)
	mustCreate(t, s, CreateOptions{Kind: Custom, Name: "ping", At: now0, Interval: time.Hour, MaxRuns: 2})

	for h := 0; h < 5; h++ {
		if _, err := s.Tick(context.Background(), now0.Add(time.Duration(h)*time.Hour)); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	hist, _ := s.History(0)
	if len(hist) != 2 {
		t.Errorf("custom task ran %d times, want 2", len(hist))
	}
	if len(rec.calls) != 0 {
		t.Errorf("custom task touched collaborators: %v", rec.calls)
	}
}

func TestHistoryBounded(t *testing.T) {
	s, _, db := testScheduler(t)
	mustCreate(t, s, CreateOptions{Kind: Custom, Name: "busy", At: now0, Interval: time.Minute})

	const ticks = HistoryLimit + 5
	for i := 0; i < ticks; i++ {
		if _, err := s.Tick(context.Background(), now0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	n, err := db.CountLog(store.StreamSchedulerHistory, store.LogQuery{})
	if err != nil {
		t.Fatalf("CountLog: %v", err)
	}
	if n != HistoryLimit {
		t.Errorf("history = %d, want %d", n, HistoryLimit)
	}
	hist, _ := s.History(1)
	if len(hist) != 1 || !hist[0].StartedAt.Equal(now0.Add((ticks-1)*time.Minute)) {
		t.Errorf("newest = %+v", hist)
	}
}

func TestCreateValidation(t *testing.T) {
	s, _, _ := testScheduler(t)
	tests := []struct {
		name string
		opts CreateOptions
	}{
		{"unknown kind", CreateOptions{Kind: "reboot"}},
		{"negative interval", CreateOptions{Kind: AutoTransmission, Interval: -time.Hour}},
		{"scheduled without user", CreateOptions{Kind: ScheduledTransmission}},
		{"custom without name", CreateOptions{Kind: Custom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(tt.opts, now0); !errs.IsKind(err, errs.InvalidInput) {
				t.Errorf("err = %v, want InvalidInput", err)
			}
		})
	}

	task, err := s.Create(CreateOptions{Kind: BreakthroughCheck}, now0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !task.NextRun.Equal(now0) || task.Recurring() || task.ID == "" {
		t.Errorf("task = %+v", task)
	}
}

func TestManageTasks(t *testing.T) {
	s, _, _ := testScheduler(t)
	task := mustCreate(t, s, CreateOptions{Kind: AutoTransmission, At: now0, Interval: time.Hour})

	got, err := s.SetEnabled(task.ID, false)
	if err != nil || got.Enabled {
		t.Fatalf("disable = %+v, %v", got, err)
	}
	got, err = s.SetEnabled(task.ID, true)
	if err != nil || !got.Enabled {
		t.Fatalf("enable = %+v, %v", got, err)
	}
	if err := s.Delete(task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(task.ID); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("Get after delete: %v", err)
	}
	if err := s.Delete(task.ID); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := s.SetEnabled("nope", true); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("SetEnabled unknown: %v", err)
	}
}

func TestStats(t *testing.T) {
	s, rec, _ := testScheduler(t)
	rec.fail["breakthrough"] = errors.New("flaky")
	mustCreate(t, s, CreateOptions{Kind: AutoTransmission, At: now0, Interval: time.Hour})
	mustCreate(t, s, CreateOptions{Kind: BreakthroughCheck, At: now0, Interval: time.Hour})
	off := mustCreate(t, s, CreateOptions{Kind: Custom, Name: "idle", At: now0, Interval: time.Hour})
	s.SetEnabled(off.ID, false)

	if _, err := s.Tick(context.Background(), now0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	st, err := s.Stats(now0.Add(20 * time.Minute))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Tasks != 3 || st.Enabled != 2 || st.Executions != 2 || st.Successful != 1 || st.SuccessRate != 0.5 || st.Today != 2 {
		t.Errorf("stats = %+v", st)
	}
	// Only the failed task is due again after its retry delay.
	if st.Due != 1 {
		t.Errorf("due = %d, want 1", st.Due)
	}
}

func TestTickWithRealComponents(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	rel := relationship.NewEngine(db, relationship.Options{})
	oracle := fortune.New(db, time.UTC, "")
	ctrl := transmission.New(db, rel, oracle, transmission.Options{})
	s := New(db, rel, ctrl, nil)

	if _, err := rel.Ingest("alice", 1, now0.Add(-time.Hour)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	missing := mustCreate(t, s, CreateOptions{Kind: ScheduledTransmission, UserID: "ghost", At: now0})
	mustCreate(t, s, CreateOptions{Kind: ScheduledTransmission, UserID: "alice", At: now0})

	execs, err := s.Tick(context.Background(), now0)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("executions = %+v", execs)
	}
	for _, ex := range execs {
		if ex.TaskID == missing.ID && ex.Success {
			t.Error("scheduled send to unknown user succeeded")
		}
		if ex.TaskID != missing.ID && !ex.Success {
			t.Errorf("scheduled send to alice failed: %s", ex.Error)
		}
	}
	got, _ := s.Get(missing.ID)
	if !got.Enabled || !got.NextRun.Equal(now0.Add(RetryDelay)) {
		t.Errorf("failed one-shot = %+v", got)
	}

	logs, err := ctrl.Recent(0)
	if err != nil || len(logs) != 1 || logs[0].Kind != transmission.Scheduled {
		t.Errorf("transmissions = %+v, %v", logs, err)
	}
}

// gate blocks autonomous checks until released.
type gate struct {
	*recorder
	entered chan struct{}
	release chan struct{}
}

func (g *gate) CheckAutonomous(ctx context.Context, now time.Time) ([]transmission.Log, error) {
	g.entered <- struct{}{}
	<-g.release
	return nil, nil
}

func TestTableEditsDuringTick(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rec := &recorder{fail: map[string]error{}}
	g := &gate{recorder: rec, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(db, rec, g, nil)

	auto := mustCreate(t, s, CreateOptions{Kind: AutoTransmission, Interval: 4 * time.Hour})

	type result struct {
		execs []Execution
		err   error
	}
	done := make(chan result, 1)
	go func() {
		execs, err := s.Tick(context.Background(), now0)
		done <- result{execs, err}
	}()

	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never reached the autonomous check")
	}

	edits := make(chan error, 1)
	go func() {
		if _, err := s.SetEnabled(auto.ID, false); err != nil {
			edits <- err
			return
		}
		_, err := s.Create(CreateOptions{Kind: Custom, Name: "ping"}, now0)
		edits <- err
	}()
	select {
	case err := <-edits:
		if err != nil {
			t.Fatalf("edit during tick: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("table edits blocked behind a running task")
	}

	close(g.release)
	res := <-done
	if res.err != nil || len(res.execs) != 1 || !res.execs[0].Success {
		t.Fatalf("Tick = %+v, %v", res.execs, res.err)
	}

	got, err := s.Get(auto.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Enabled || got.RunCount != 1 || !got.NextRun.Equal(now0.Add(4*time.Hour)) {
		t.Errorf("task after tick = %+v, want disabled with one run", got)
	}
}
