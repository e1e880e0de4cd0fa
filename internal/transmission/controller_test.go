package transmission

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/llm"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/store"
)

var now0 = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db     *store.DB
	rel    *relationship.Engine
	oracle *fortune.Oracle
	ctrl   *Controller
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rel := relationship.NewEngine(db, relationship.Options{})
	oracle := fortune.New(db, time.UTC, "")
	return &fixture{db: db, rel: rel, oracle: oracle, ctrl: New(db, rel, oracle, opts)}
}

// setFortune pins the fortune for the date of at.
func (f *fixture) setFortune(t *testing.T, at time.Time, value int) {
	t.Helper()
	date := at.Format("2006-01-02")
	if err := f.db.Put(store.KindFortune, date, fortune.Fortune{Date: date, Value: value, Breakthrough: value >= 9}); err != nil {
		t.Fatalf("set fortune: %v", err)
	}
}

func (f *fixture) seed(t *testing.T, r relationship.Relationship) {
	t.Helper()
	if r.Threshold == 0 {
		r.Threshold = relationship.DefaultThreshold
	}
	if r.Status == "" {
		r.Status = relationship.StatusForScore(r.Score)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now0.AddDate(0, -1, 0)
		r.LastDailyReset = r.CreatedAt
	}
	if err := f.db.Put(store.KindRelationship, r.UserID, r); err != nil {
		t.Fatalf("seed %s: %v", r.UserID, err)
	}
}

func (f *fixture) get(t *testing.T, userID string) relationship.Relationship {
	t.Helper()
	r, err := f.rel.Get(userID)
	if err != nil || r == nil {
		t.Fatalf("Get(%s): %v %v", userID, r, err)
	}
	return *r
}

func at(t time.Time) *time.Time { return &t }

type stubGen struct {
	msg   string
	err   error
	calls int
}

func (g *stubGen) Generate(ctx context.Context, req Request) (string, error) {
	g.calls++
	return g.msg, g.err
}

func TestProbability(t *testing.T) {
	tests := []struct {
		status relationship.Status
		value  int
		want   float64
	}{
		{relationship.New, 5, 0.10},
		{relationship.Acquaintance, 5, 0.20},
		{relationship.Friend, 5, 0.40},
		{relationship.CloseFriend, 5, 0.60},
		{relationship.Broken, 10, 0},
		{relationship.New, 1, 0},
		{relationship.CloseFriend, 10, 1},
		{relationship.Friend, 8, 0.70},
	}
	for _, tt := range tests {
		got := Probability(tt.status, fortune.Fortune{Value: tt.value})
		if d := got - tt.want; d > 1e-9 || d < -1e-9 {
			t.Errorf("Probability(%s, %d) = %v, want %v", tt.status, tt.value, got, tt.want)
		}
	}
}

func TestRoll(t *testing.T) {
	a := Roll("alice", now0)
	if a != Roll("alice", now0) {
		t.Error("Roll not deterministic")
	}
	if a == Roll("alice", now0.Add(time.Second)) && a == Roll("bob", now0) {
		t.Error("Roll ignores its inputs")
	}
	// Sub-second differences do not change the draw.
	if a != Roll("alice", now0.Add(500*time.Millisecond)) {
		t.Error("Roll depends on sub-second time")
	}

	var sum float64
	const n = 5000
	for i := 0; i < n; i++ {
		r := Roll("user", now0.Add(time.Duration(i)*time.Second))
		if r < 0 || r >= 1 {
			t.Fatalf("Roll = %v, out of [0,1)", r)
		}
		sum += r
	}
	if mean := sum / n; mean < 0.45 || mean > 0.55 {
		t.Errorf("mean roll = %v, want about 0.5", mean)
	}
}

func TestRollSpreadOverConsecutiveSeconds(t *testing.T) {
	const n = 20000
	for _, user := range []string{"alice", "bob", "user"} {
		low := 0
		for i := 0; i < n; i++ {
			if Roll(user, now0.Add(time.Duration(i)*time.Second)) < 0.1 {
				low++
			}
		}
		if frac := float64(low) / n; frac < 0.08 || frac > 0.12 {
			t.Errorf("%s: P(roll < 0.1) = %v over %d seconds, want about 0.1", user, frac, n)
		}
	}
}

func TestAutonomousCooldown(t *testing.T) {
	f := newFixture(t, Options{})
	f.setFortune(t, now0, 10)
	f.seed(t, relationship.Relationship{
		UserID: "alice", Score: 60, TransmissionEnabled: true,
		LastInteraction: at(now0.Add(-2 * time.Hour)), LastTransmission: at(now0.Add(-23 * time.Hour)),
	})

	sent, err := f.ctrl.CheckAutonomous(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckAutonomous: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("sent %d inside cooldown", len(sent))
	}

	// At exactly 24h the cooldown is over and p = 1.
	later := now0.Add(time.Hour)
	sent, err = f.ctrl.CheckAutonomous(context.Background(), later)
	if err != nil {
		t.Fatalf("CheckAutonomous: %v", err)
	}
	if len(sent) != 1 || sent[0].UserID != "alice" || sent[0].Kind != Autonomous {
		t.Fatalf("sent = %+v", sent)
	}
	if got := f.get(t, "alice").LastTransmission; got == nil || !got.Equal(later) {
		t.Errorf("last_transmission = %v, want %v", got, later)
	}
	if sent[0].Message != Fallback(Autonomous, fortune.Fortune{Value: 10}, later) {
		t.Errorf("message = %q", sent[0].Message)
	}
}

func TestAutonomousSkipsIneligible(t *testing.T) {
	f := newFixture(t, Options{})
	f.setFortune(t, now0, 10)
	f.seed(t, relationship.Relationship{UserID: "enabled", Score: 60, TransmissionEnabled: true})
	f.seed(t, relationship.Relationship{UserID: "disabled", Score: 60})
	f.seed(t, relationship.Relationship{UserID: "below", Score: 8, TransmissionEnabled: true})
	f.seed(t, relationship.Relationship{UserID: "broken", Score: -30, Status: relationship.Broken, IsBroken: true})

	sent, err := f.ctrl.CheckAutonomous(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckAutonomous: %v", err)
	}
	if len(sent) != 1 || sent[0].UserID != "enabled" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestAutonomousZeroProbability(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, relationship.Relationship{UserID: "newbie", Score: 12, Status: relationship.New, TransmissionEnabled: true})

	for h := 0; h < 48; h++ {
		now := now0.Add(time.Duration(h) * time.Hour)
		f.setFortune(t, now, 1)
		sent, err := f.ctrl.CheckAutonomous(context.Background(), now)
		if err != nil {
			t.Fatalf("CheckAutonomous: %v", err)
		}
		if len(sent) != 0 {
			t.Fatalf("sent at p=0: %+v", sent)
		}
	}
}

func TestAutonomousNeverTwiceInADay(t *testing.T) {
	f := newFixture(t, Options{})
	users := []string{"a", "b", "c", "d"}
	for _, u := range users {
		f.seed(t, relationship.Relationship{UserID: u, Score: 60 + float64(len(u)), TransmissionEnabled: true})
	}

	for m := 0; m < 5*24*60; m += 17 {
		now := now0.Add(time.Duration(m) * time.Minute)
		f.setFortune(t, now, 10)
		if _, err := f.ctrl.CheckAutonomous(context.Background(), now); err != nil {
			t.Fatalf("CheckAutonomous: %v", err)
		}
	}

	logs, err := f.ctrl.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	byUser := make(map[string][]time.Time)
	for _, l := range logs {
		byUser[l.UserID] = append(byUser[l.UserID], l.Timestamp)
	}
	for _, u := range users {
		ts := byUser[u]
		if len(ts) < 4 {
			t.Errorf("%s: only %d transmissions in five days at p=1", u, len(ts))
		}
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
		for i := 1; i < len(ts); i++ {
			if ts[i].Sub(ts[i-1]) < Cooldown {
				t.Errorf("%s: transmissions %v and %v inside cooldown", u, ts[i-1], ts[i])
			}
		}
	}
}

func TestBreakthroughOncePerDay(t *testing.T) {
	f := newFixture(t, Options{})
	f.setFortune(t, now0, 9)
	f.seed(t, relationship.Relationship{
		UserID: "alice", Score: 25, TransmissionEnabled: true,
		LastTransmission: at(now0.Add(-time.Hour)),
	})
	f.seed(t, relationship.Relationship{UserID: "acq", Score: 12, TransmissionEnabled: true})
	f.seed(t, relationship.Relationship{UserID: "cold", Score: 30})

	sent, err := f.ctrl.CheckBreakthrough(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckBreakthrough: %v", err)
	}
	if len(sent) != 1 || sent[0].UserID != "alice" || sent[0].Kind != Breakthrough {
		t.Fatalf("sent = %+v", sent)
	}
	if !strings.Contains(sent[0].Message, "9/10") {
		t.Errorf("message = %q", sent[0].Message)
	}

	sent, err = f.ctrl.CheckBreakthrough(context.Background(), now0.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("second CheckBreakthrough: %v", err)
	}
	if len(sent) != 0 {
		t.Errorf("second call same day sent %d", len(sent))
	}

	tomorrow := now0.AddDate(0, 0, 1)
	f.setFortune(t, tomorrow, 10)
	sent, err = f.ctrl.CheckBreakthrough(context.Background(), tomorrow)
	if err != nil {
		t.Fatalf("CheckBreakthrough tomorrow: %v", err)
	}
	if len(sent) != 1 {
		t.Errorf("next breakthrough day sent %d, want 1", len(sent))
	}
}

func TestBreakthroughNeedsBreakthroughDay(t *testing.T) {
	f := newFixture(t, Options{})
	f.setFortune(t, now0, 8)
	f.seed(t, relationship.Relationship{UserID: "alice", Score: 60, TransmissionEnabled: true})

	sent, err := f.ctrl.CheckBreakthrough(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckBreakthrough: %v", err)
	}
	if len(sent) != 0 {
		t.Errorf("sent %d on an ordinary day", len(sent))
	}
}

func TestMaintenance(t *testing.T) {
	f := newFixture(t, Options{})
	silent := at(now0.AddDate(0, 0, -8))
	for _, u := range []string{"s1", "s2", "s3", "s4"} {
		f.seed(t, relationship.Relationship{UserID: u, Score: 60, TransmissionEnabled: true, LastInteraction: silent})
	}
	f.seed(t, relationship.Relationship{UserID: "recent", Score: 60, TransmissionEnabled: true, LastInteraction: at(now0.AddDate(0, 0, -2))})
	// Decays below the threshold before selection.
	f.seed(t, relationship.Relationship{UserID: "fading", Score: 11, TransmissionEnabled: true, LastInteraction: silent})

	sent, err := f.ctrl.CheckMaintenance(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckMaintenance: %v", err)
	}
	var got []string
	for _, l := range sent {
		got = append(got, l.UserID)
		if l.Kind != Maintenance || l.Message == "" {
			t.Errorf("entry = %+v", l)
		}
	}
	if strings.Join(got, ",") != "s1,s2,s3" {
		t.Errorf("targets = %v, want s1,s2,s3", got)
	}
	if r := f.get(t, "fading"); r.TransmissionEnabled {
		t.Errorf("fading still enabled with score %v", r.Score)
	}
	if r := f.get(t, "s1"); r.Score >= 60 {
		t.Errorf("decay not applied before maintenance: %v", r.Score)
	}

	ran, err := f.ctrl.MaintenanceRan(now0)
	if err != nil || !ran {
		t.Errorf("MaintenanceRan = %v, %v", ran, err)
	}
	sent, err = f.ctrl.CheckMaintenance(context.Background(), now0.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("second CheckMaintenance: %v", err)
	}
	if len(sent) != 0 {
		t.Errorf("second maintenance on the same date sent %d", len(sent))
	}

	sent, err = f.ctrl.CheckMaintenance(context.Background(), now0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next-day CheckMaintenance: %v", err)
	}
	if len(sent) > MaintenanceMaxUsers {
		t.Errorf("next day sent %d", len(sent))
	}
}

func TestMaintenanceRetriesAfterFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, relationship.Relationship{UserID: "s1", Score: 60, TransmissionEnabled: true, LastInteraction: at(now0.AddDate(0, 0, -8))})
	if _, err := f.db.Exec(`INSERT INTO entities (kind, key, value, updated_at) VALUES (?, ?, '"oops"', 0)`, store.KindRelationship, "zz"); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	_, err := f.ctrl.CheckMaintenance(context.Background(), now0)
	if !errs.IsKind(err, errs.Corrupt) {
		t.Fatalf("err = %v, want Corrupt", err)
	}
	if ran, _ := f.ctrl.MaintenanceRan(now0); ran {
		t.Fatal("failed run marked the date done")
	}

	if _, err := f.db.Delete(store.KindRelationship, "zz"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	sent, err := f.ctrl.CheckMaintenance(context.Background(), now0.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sent) != 1 || sent[0].UserID != "s1" {
		t.Errorf("retry sent %+v", sent)
	}
	if ran, _ := f.ctrl.MaintenanceRan(now0); !ran {
		t.Error("successful run not recorded")
	}
}

// slowGen is safe for concurrent use and holds each generation open long
// enough for overlapping checks to interleave.
type slowGen struct {
	delay time.Duration
	calls atomic.Int32
}

func (g *slowGen) Generate(ctx context.Context, req Request) (string, error) {
	g.calls.Add(1)
	time.Sleep(g.delay)
	return "hello", nil
}

func TestOverlappingChecksSendOnce(t *testing.T) {
	checks := []struct {
		name  string
		kind  Kind
		check func(*Controller) func(context.Context, time.Time) ([]Log, error)
	}{
		{"breakthrough", Breakthrough, func(c *Controller) func(context.Context, time.Time) ([]Log, error) { return c.CheckBreakthrough }},
		{"autonomous", Autonomous, func(c *Controller) func(context.Context, time.Time) ([]Log, error) { return c.CheckAutonomous }},
	}
	for _, tt := range checks {
		t.Run(tt.name, func(t *testing.T) {
			gen := &slowGen{delay: 50 * time.Millisecond}
			f := newFixture(t, Options{Generator: gen})
			f.setFortune(t, now0, 10)
			f.seed(t, relationship.Relationship{UserID: "alice", Score: 60, TransmissionEnabled: true, LastInteraction: at(now0.Add(-time.Hour))})

			check := tt.check(f.ctrl)
			var wg sync.WaitGroup
			errCh := make(chan error, 3)
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := check(context.Background(), now0)
					errCh <- err
				}()
			}
			wg.Wait()
			close(errCh)
			for err := range errCh {
				if err != nil {
					t.Fatalf("check: %v", err)
				}
			}

			n, err := f.db.CountLog(store.StreamTransmissions, store.LogQuery{Subject: "alice", Tag: string(tt.kind)})
			if err != nil {
				t.Fatalf("CountLog: %v", err)
			}
			if n != 1 || gen.calls.Load() != 1 {
				t.Errorf("%s logs = %d, generations = %d, want 1 each", tt.kind, n, gen.calls.Load())
			}
		})
	}
}

func TestGenerationFailureUsesFallback(t *testing.T) {
	gen := &stubGen{err: errors.New("provider down")}
	f := newFixture(t, Options{Generator: gen})
	f.setFortune(t, now0, 10)
	f.seed(t, relationship.Relationship{UserID: "alice", Score: 60, TransmissionEnabled: true})

	sent, err := f.ctrl.CheckAutonomous(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckAutonomous: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	l := sent[0]
	if !l.Success || !l.Fallback || l.Error == "" {
		t.Errorf("entry = %+v, want success with fallback", l)
	}
	if l.Message != Fallback(Autonomous, fortune.Fortune{Value: 10}, now0) {
		t.Errorf("message = %q", l.Message)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d", gen.calls)
	}
}

func TestGenerationTimeoutUsesFallback(t *testing.T) {
	mock := &llm.MockClient{Block: true}
	f := newFixture(t, Options{Generator: LLMGenerator{Client: mock}, Timeout: 20 * time.Millisecond})
	f.setFortune(t, now0, 9)
	f.seed(t, relationship.Relationship{UserID: "alice", Score: 25, TransmissionEnabled: true})

	start := time.Now()
	sent, err := f.ctrl.CheckBreakthrough(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckBreakthrough: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("generation timeout not applied")
	}
	if len(sent) != 1 || !sent[0].Fallback {
		t.Fatalf("sent = %+v", sent)
	}
	if !strings.Contains(sent[0].Message, "9/10") {
		t.Errorf("message = %q", sent[0].Message)
	}
}

func TestLLMGenerator(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "<think>hmm</think> \"Long time no see!\"", Provider: "mock"}}
	f := newFixture(t, Options{Generator: LLMGenerator{Client: mock}})
	f.seed(t, relationship.Relationship{UserID: "alice", Score: 60, TransmissionEnabled: true, LastInteraction: at(now0.AddDate(0, 0, -10))})

	sent, err := f.ctrl.CheckMaintenance(context.Background(), now0)
	if err != nil {
		t.Fatalf("CheckMaintenance: %v", err)
	}
	if len(sent) != 1 || sent[0].Message != "Long time no see!" || sent[0].Fallback {
		t.Fatalf("sent = %+v", sent)
	}
	if len(mock.Calls) != 1 || !strings.Contains(mock.Calls[0].Prompt, "10 days") {
		t.Errorf("calls = %+v", mock.Calls)
	}

	empty := LLMGenerator{Client: &llm.MockClient{Response: &llm.Response{Content: "   "}}}
	if _, err := empty.Generate(context.Background(), Request{Kind: Autonomous}); !errs.IsKind(err, errs.Generation) {
		t.Errorf("empty reply: err = %v, want Generation", err)
	}
	if _, err := (LLMGenerator{}).Generate(context.Background(), Request{}); !errs.IsKind(err, errs.Generation) {
		t.Errorf("nil client: err = %v, want Generation", err)
	}
}

func TestSendScheduled(t *testing.T) {
	f := newFixture(t, Options{Generator: &stubGen{msg: "your reminder"}})
	f.seed(t, relationship.Relationship{UserID: "alice", Score: 2})
	f.seed(t, relationship.Relationship{UserID: "gone", Score: -40, Status: relationship.Broken, IsBroken: true})

	if _, err := f.ctrl.SendScheduled(context.Background(), "nobody", now0); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("unknown user: err = %v", err)
	}
	entry, err := f.ctrl.SendScheduled(context.Background(), "gone", now0)
	if err != nil || entry != nil {
		t.Errorf("broken user: entry=%v err=%v", entry, err)
	}
	entry, err = f.ctrl.SendScheduled(context.Background(), "alice", now0)
	if err != nil {
		t.Fatalf("SendScheduled: %v", err)
	}
	if entry == nil || entry.Kind != Scheduled || entry.Message != "your reminder" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRecentAndStats(t *testing.T) {
	f := newFixture(t, Options{})
	f.setFortune(t, now0, 10)
	f.seed(t, relationship.Relationship{UserID: "alice", Score: 60, TransmissionEnabled: true})
	f.seed(t, relationship.Relationship{UserID: "bob", Score: 55, TransmissionEnabled: true})

	if _, err := f.ctrl.CheckAutonomous(context.Background(), now0); err != nil {
		t.Fatalf("CheckAutonomous: %v", err)
	}
	// Breakthrough ignores the cooldown the autonomous sends just started.
	if _, err := f.ctrl.CheckBreakthrough(context.Background(), now0.Add(time.Minute)); err != nil {
		t.Fatalf("CheckBreakthrough: %v", err)
	}

	recent, err := f.ctrl.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Kind != Breakthrough {
		t.Errorf("Recent(1) = %+v", recent)
	}

	st, err := f.ctrl.Stats(now0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.Successful != 4 || st.SuccessRate != 1 || st.Today != 4 {
		t.Errorf("stats = %+v", st)
	}
	if st.ByKind[Breakthrough] != 2 || st.ByKind[Autonomous] != 2 {
		t.Errorf("by kind = %v", st.ByKind)
	}

	tomorrow, _ := f.ctrl.Stats(now0.AddDate(0, 0, 1))
	if tomorrow.Today != 0 {
		t.Errorf("tomorrow's count = %d", tomorrow.Today)
	}
}

func TestFallbackTable(t *testing.T) {
	seen := make(map[string]bool)
	for i := int64(0); i < 8; i++ {
		seen[Fallback(Autonomous, fortune.Fortune{}, time.Unix(i, 0))] = true
	}
	if len(seen) != len(autonomousFallbacks) {
		t.Errorf("fallback rotation covered %d of %d messages", len(seen), len(autonomousFallbacks))
	}
	if Fallback(Autonomous, fortune.Fortune{}, time.Unix(5, 0)) != autonomousFallbacks[1] {
		t.Error("fallback not indexed by epoch mod table size")
	}
	if Fallback(Maintenance, fortune.Fortune{}, now0) != maintenanceFallback {
		t.Error("maintenance fallback")
	}
}
