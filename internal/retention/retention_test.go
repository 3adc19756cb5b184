package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/memory"
	"github.com/zulandar/switchyard/internal/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	if p.err != nil {
		return 0, p.err
	}
	return 3, nil
}

func (p *fakePruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

// tickSchedule fires every d, for exercising Run without waiting a minute.
type tickSchedule struct{ d time.Duration }

func (s tickSchedule) Next(t time.Time) time.Time { return t.Add(s.d) }

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Opts
	}{
		{"no pruner", Opts{Schedule: "@daily", MaxAge: time.Hour}},
		{"no max age", Opts{Pruner: &fakePruner{}, Schedule: "@daily"}},
		{"bad schedule", Opts{Pruner: &fakePruner{}, Schedule: "every day", MaxAge: time.Hour}},
		{"seconds field", Opts{Pruner: &fakePruner{}, Schedule: "0 0 3 * * *", MaxAge: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNext(t *testing.T) {
	j, err := New(Opts{Pruner: &fakePruner{}, Schedule: "0 3 * * *", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	if got := j.Next(from); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestRunOnce_Cutoff(t *testing.T) {
	p := &fakePruner{}
	j, err := New(Opts{Pruner: p, Schedule: "@daily", MaxAge: 48 * time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	n, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if want := now.Add(-48 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestRunOnce_Error(t *testing.T) {
	p := &fakePruner{err: errors.New("locked")}
	j, _ := New(Opts{Pruner: p, Schedule: "@daily", MaxAge: time.Hour})
	if _, err := j.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_FiresAndStops(t *testing.T) {
	p := &fakePruner{}
	j, err := New(Opts{Pruner: p, Schedule: "@daily", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.schedule = tickSchedule{d: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for p.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("prune calls = %d after 5s, want >= 2", p.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunOnce_WithStore(t *testing.T) {
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	sqlDB, _ := gdb.DB()
	defer sqlDB.Close()
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// The LRU cache starts a janitor goroutine; keep it off under goleak.
	store, err := memory.NewStore(memory.StoreOpts{DB: gdb, CacheSize: -1})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rows := []models.Turn{
		{UserID: "u", AgentID: "claims", Role: models.RoleUser, Content: "cũ", CreatedAt: now.Add(-100 * 24 * time.Hour)},
		{UserID: "u", AgentID: "claims", Role: models.RoleUser, Content: "mới", CreatedAt: now.Add(-time.Hour)},
	}
	if err := gdb.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	j, err := New(Opts{Pruner: store, Schedule: "@daily", MaxAge: 90 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.now = func() time.Time { return now }

	n, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	turns, err := store.History(context.Background(), "u", "claims", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "mới" {
		t.Errorf("remaining = %+v, want only the recent turn", turns)
	}
}
