package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&models.Turn{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, opts StoreOpts) *Store {
	t.Helper()
	if opts.DB == nil {
		opts.DB = openTestDB(t)
	}
	s, err := NewStore(opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	// Deterministic, strictly increasing timestamps.
	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func mustAppend(t *testing.T, s *Store, user, agent, role, content string) *models.Turn {
	t.Helper()
	turn, err := s.Append(context.Background(), user, agent, role, content, "")
	if err != nil {
		t.Fatalf("Append(%q): %v", content, err)
	}
	return turn
}

// ---------------------------------------------------------------------------
// NewStore tests
// ---------------------------------------------------------------------------

func TestNewStore_NilDB(t *testing.T) {
	_, err := NewStore(StoreOpts{})
	if err == nil {
		t.Fatal("expected error for nil DB")
	}
}

func TestNewStore_Defaults(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	if s.HistoryLimit() != DefaultHistoryLimit {
		t.Errorf("HistoryLimit = %d, want %d", s.HistoryLimit(), DefaultHistoryLimit)
	}
	if s.cache == nil {
		t.Error("cache = nil, want enabled by default")
	}
}

func TestNewStore_NegativeCacheSizeDisablesCache(t *testing.T) {
	s := newTestStore(t, StoreOpts{CacheSize: -1})
	if s.cache != nil {
		t.Error("cache != nil, want disabled")
	}
}

// ---------------------------------------------------------------------------
// Append / History tests
// ---------------------------------------------------------------------------

func TestAppend_Validation(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	tests := []struct {
		name, user, agent, role string
	}{
		{"empty user", "", "claims", models.RoleUser},
		{"empty agent", "u1", "", models.RoleUser},
		{"bad role", "u1", "claims", "system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(context.Background(), tt.user, tt.agent, tt.role, "x", "")
			if !apperr.Is(err, apperr.Validation) {
				t.Errorf("kind = %q, want ValidationError", apperr.KindOf(err))
			}
		})
	}
}

func TestHistory_RoundTripInOrder(t *testing.T) {
	for _, cacheSize := range []int{-1, 0} {
		t.Run(fmt.Sprintf("cache=%d", cacheSize), func(t *testing.T) {
			s := newTestStore(t, StoreOpts{CacheSize: cacheSize})
			want := []struct{ role, content string }{
				{models.RoleUser, "Tôi muốn biết thủ tục bồi thường"},
				{models.RoleAssistant, "Bạn cần chuẩn bị hồ sơ..."},
				{models.RoleUser, "Mất bao lâu?"},
				{models.RoleAssistant, "Khoảng 15 ngày."},
			}
			for _, w := range want {
				mustAppend(t, s, "u1", "claims", w.role, w.content)
			}

			got, err := s.History(context.Background(), "u1", "claims", 10)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("len(History) = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].Role != want[i].role || got[i].Content != want[i].content {
					t.Errorf("History[%d] = (%s, %q), want (%s, %q)", i, got[i].Role, got[i].Content, want[i].role, want[i].content)
				}
			}
		})
	}
}

func TestHistory_RespectsLimit(t *testing.T) {
	s := newTestStore(t, StoreOpts{HistoryLimit: 4})
	for i := 1; i <= 7; i++ {
		mustAppend(t, s, "u1", "contract", models.RoleUser, fmt.Sprintf("m%d", i))
	}

	tests := []struct {
		limit     int
		wantFirst string
		wantLen   int
	}{
		{0, "m4", 4},  // default = HistoryLimit
		{2, "m6", 2},  // within cached window
		{4, "m4", 4},  // exactly the window
		{6, "m2", 6},  // larger than window, straight from the db
		{50, "m1", 7}, // more than stored
	}
	for _, tt := range tests {
		got, err := s.History(context.Background(), "u1", "contract", tt.limit)
		if err != nil {
			t.Fatalf("History(%d): %v", tt.limit, err)
		}
		if len(got) != tt.wantLen {
			t.Errorf("History(%d) len = %d, want %d", tt.limit, len(got), tt.wantLen)
			continue
		}
		if got[0].Content != tt.wantFirst {
			t.Errorf("History(%d)[0] = %q, want %q", tt.limit, got[0].Content, tt.wantFirst)
		}
		if got[len(got)-1].Content != "m7" {
			t.Errorf("History(%d) last = %q, want m7", tt.limit, got[len(got)-1].Content)
		}
	}
}

func TestHistory_IsolatedPerPair(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	mustAppend(t, s, "u1", "claims", models.RoleUser, "u1-claims")
	mustAppend(t, s, "u1", "training", models.RoleUser, "u1-training")
	mustAppend(t, s, "u2", "claims", models.RoleUser, "u2-claims")

	got, err := s.History(context.Background(), "u1", "claims", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 || got[0].Content != "u1-claims" {
		t.Errorf("History(u1, claims) = %+v", got)
	}
	for _, turn := range got {
		if turn.UserID != "u1" || turn.AgentID != "claims" {
			t.Errorf("turn from wrong pair: %s/%s", turn.UserID, turn.AgentID)
		}
	}
}

func TestHistory_CacheSeesAppendAfterWarmRead(t *testing.T) {
	s := newTestStore(t, StoreOpts{HistoryLimit: 3})
	mustAppend(t, s, "u1", "claims", models.RoleUser, "a")

	// Warm the cache.
	if _, err := s.History(context.Background(), "u1", "claims", 0); err != nil {
		t.Fatalf("History: %v", err)
	}
	mustAppend(t, s, "u1", "claims", models.RoleAssistant, "b")
	mustAppend(t, s, "u1", "claims", models.RoleUser, "c")
	mustAppend(t, s, "u1", "claims", models.RoleAssistant, "d")

	got, _ := s.History(context.Background(), "u1", "claims", 0)
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Errorf("History[%d] = %q, want %q", i, got[i].Content, want[i])
		}
	}
}

func TestHistory_ReturnsCopies(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	mustAppend(t, s, "u1", "claims", models.RoleUser, "original")

	got, _ := s.History(context.Background(), "u1", "claims", 0)
	got[0].Content = "mutated"

	again, _ := s.History(context.Background(), "u1", "claims", 0)
	if again[0].Content != "original" {
		t.Errorf("cache mutated through returned slice: %q", again[0].Content)
	}
}

func TestAppend_StoresIntent(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	turn, err := s.Append(context.Background(), "u1", "claims", models.RoleAssistant, "answer", "claim_procedure")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if turn.ID == 0 || turn.CreatedAt.IsZero() {
		t.Errorf("turn not populated: %+v", turn)
	}
	got, _ := s.History(context.Background(), "u1", "claims", 0)
	if got[0].Intent != "claim_procedure" {
		t.Errorf("Intent = %q, want claim_procedure", got[0].Intent)
	}
}

func TestAppend_StoreFailureSurfaces(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	sqlDB, _ := s.db.DB()
	sqlDB.Close()

	_, err := s.Append(context.Background(), "u1", "claims", models.RoleUser, "x", "")
	if !apperr.Is(err, apperr.Store) {
		t.Errorf("kind = %q, want StoreError", apperr.KindOf(err))
	}
}

// ---------------------------------------------------------------------------
// Clear / Count / Prune tests
// ---------------------------------------------------------------------------

func TestClear_Idempotent(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	mustAppend(t, s, "u1", "claims", models.RoleUser, "a")
	mustAppend(t, s, "u1", "training", models.RoleUser, "keep")
	s.History(context.Background(), "u1", "claims", 0) // warm cache

	for i := 0; i < 2; i++ {
		if err := s.Clear(context.Background(), "u1", "claims"); err != nil {
			t.Fatalf("Clear #%d: %v", i+1, err)
		}
	}

	got, err := s.History(context.Background(), "u1", "claims", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("History after Clear = %d turns, want 0", len(got))
	}
	other, _ := s.History(context.Background(), "u1", "training", 0)
	if len(other) != 1 {
		t.Errorf("Clear touched another agent's history: %d turns", len(other))
	}
}

func TestClear_EmptyHistory(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	if err := s.Clear(context.Background(), "nobody", "claims"); err != nil {
		t.Errorf("Clear on empty history: %v", err)
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t, StoreOpts{HistoryLimit: 2})
	for i := 0; i < 5; i++ {
		mustAppend(t, s, "u1", "claims", models.RoleUser, "x")
	}
	n, err := s.Count(context.Background(), "u1", "claims")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	old := mustAppend(t, s, "u1", "claims", models.RoleUser, "old")
	mustAppend(t, s, "u1", "claims", models.RoleUser, "new")
	s.History(context.Background(), "u1", "claims", 0) // warm cache

	n, err := s.Prune(context.Background(), old.CreatedAt.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune deleted %d, want 1", n)
	}
	got, _ := s.History(context.Background(), "u1", "claims", 0)
	if len(got) != 1 || got[0].Content != "new" {
		t.Errorf("History after Prune = %+v", got)
	}
}

func TestPrune_ConcurrentFillDoesNotResurrectTurns(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	old := mustAppend(t, s, "u1", "claims", models.RoleUser, "old")
	mustAppend(t, s, "u1", "claims", models.RoleUser, "new")
	cutoff := old.CreatedAt.Add(time.Millisecond)

	pruned := make(chan error, 1)
	s.filled = func() {
		s.filled = nil
		go func() {
			_, err := s.Prune(context.Background(), cutoff)
			pruned <- err
		}()
		// Give Prune the chance to run before this fill is cached.
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := s.History(context.Background(), "u1", "claims", 0); err != nil {
		t.Fatalf("History: %v", err)
	}
	if err := <-pruned; err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, err := s.History(context.Background(), "u1", "claims", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 || got[0].Content != "new" {
		t.Errorf("History after concurrent Prune = %+v, want only \"new\"", got)
	}
}

// ---------------------------------------------------------------------------
// Lock tests
// ---------------------------------------------------------------------------

func TestLock_SerializesSamePair(t *testing.T) {
	s := newTestStore(t, StoreOpts{})

	// Each worker reads history then appends while holding the pair lock;
	// every append must see all earlier appends.
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock, err := s.Lock(context.Background(), "u1", "claims")
			if err != nil {
				errs <- err
				return
			}
			defer unlock()
			before, err := s.History(context.Background(), "u1", "claims", 100)
			if err != nil {
				errs <- err
				return
			}
			content := fmt.Sprintf("seen=%d", len(before))
			if _, err := s.Append(context.Background(), "u1", "claims", models.RoleUser, content, ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker: %v", err)
	}

	got, _ := s.History(context.Background(), "u1", "claims", 100)
	if len(got) != workers {
		t.Fatalf("len = %d, want %d", len(got), workers)
	}
	for i, turn := range got {
		if want := fmt.Sprintf("seen=%d", i); turn.Content != want {
			t.Errorf("turn %d = %q, want %q (lost update)", i, turn.Content, want)
		}
	}
	if n := s.locks.size(); n != 0 {
		t.Errorf("lock slots leaked: %d", n)
	}
}

func TestLock_DifferentPairsDoNotBlock(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	unlock, err := s.Lock(context.Background(), "u1", "claims")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := s.Lock(ctx, "u1", "training")
	if err != nil {
		t.Fatalf("Lock on another pair blocked: %v", err)
	}
	other()
}

func TestLock_HonoursContext(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	unlock, _ := s.Lock(context.Background(), "u1", "claims")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(ctx, "u1", "claims"); err == nil {
		t.Fatal("expected error when the pair stays locked past the deadline")
	}
}

func TestLock_UnlockIsIdempotent(t *testing.T) {
	s := newTestStore(t, StoreOpts{})
	unlock, _ := s.Lock(context.Background(), "u1", "claims")
	unlock()
	unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := s.Lock(ctx, "u1", "claims")
	if err != nil {
		t.Fatalf("Lock after double unlock: %v", err)
	}
	again()
}
