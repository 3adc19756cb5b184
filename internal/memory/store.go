// Package memory persists per-user, per-agent conversation turns and serves
// the recent-history window used as model context.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Default configuration values for Store.
const (
	DefaultHistoryLimit = 10
	DefaultCacheSize    = 1024
	DefaultCacheTTL     = 10 * time.Minute
)

// Store is the conversation store. The database is the source of truth; a
// bounded, expiring cache holds the most recent window of turns per
// (user, agent) and is updated on every Append and dropped on every Clear.
type Store struct {
	db     *gorm.DB
	limit  int
	cache  *expirable.LRU[string, *cachedWindow]
	locks  *keyedMutex // caller-held, spans a whole exchange
	fill   *keyedMutex // store-held, orders cache fills against writes
	logger *zap.Logger
	now    func() time.Time

	// pruning is write-held by Prune across its delete and purge, and
	// read-held by every cache writer, so no window read before a prune
	// lands in the cache after it.
	pruning sync.RWMutex
	// filled runs between a History read and its cache fill. Tests only.
	filled func()
}

// cachedWindow is a cached tail of one conversation, oldest first. complete is
// true when turns holds every stored turn of the pair.
type cachedWindow struct {
	turns    []models.Turn
	complete bool
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB           *gorm.DB
	HistoryLimit int           // defaults to DefaultHistoryLimit; also the cached window size
	CacheSize    int           // defaults to DefaultCacheSize; negative disables the cache
	CacheTTL     time.Duration // defaults to DefaultCacheTTL
	Logger       *zap.Logger
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("memory: store: db is required")
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     opts.DB,
		limit:  limit,
		locks:  newKeyedMutex(),
		fill:   newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
	if size > 0 {
		s.cache = expirable.NewLRU[string, *cachedWindow](size, nil, ttl)
	}
	return s, nil
}

// HistoryLimit returns the default number of turns returned by History.
func (s *Store) HistoryLimit() int { return s.limit }

// Lock serializes read-history-then-append sequences for one (user, agent)
// pair. It blocks until the pair is free or ctx is done.
func (s *Store) Lock(ctx context.Context, userID, agentID string) (unlock func(), err error) {
	unlock, err = s.locks.Lock(ctx, cacheKey(userID, agentID))
	if err != nil {
		return nil, fmt.Errorf("memory: lock %s/%s: %w", userID, agentID, err)
	}
	return unlock, nil
}

// Append persists one turn and returns it with ID and CreatedAt set.
func (s *Store) Append(ctx context.Context, userID, agentID, role, content, intent string) (*models.Turn, error) {
	const op = "memory: append"
	if userID == "" || agentID == "" {
		return nil, apperr.Errorf(apperr.Validation, op, "user id and agent id are required")
	}
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, apperr.Errorf(apperr.Validation, op, "invalid role %q", role)
	}

	turn := models.Turn{
		UserID:    userID,
		AgentID:   agentID,
		Role:      role,
		Content:   content,
		Intent:    intent,
		CreatedAt: s.now(),
	}
	key := cacheKey(userID, agentID)
	defer s.fill.lock(key)()
	s.pruning.RLock()
	defer s.pruning.RUnlock()

	if err := s.db.WithContext(ctx).Create(&turn).Error; err != nil {
		// The cached window may or may not reflect a half-applied write.
		s.invalidate(userID, agentID)
		return nil, apperr.E(apperr.Store, op, err)
	}

	if s.cache != nil {
		if w, ok := s.cache.Peek(key); ok {
			turns := append(append([]models.Turn(nil), w.turns...), turn)
			complete := w.complete
			if len(turns) > s.limit {
				turns = turns[len(turns)-s.limit:]
				complete = false
			}
			s.cache.Add(key, &cachedWindow{turns: turns, complete: complete})
		}
	}
	return &turn, nil
}

// History returns up to limit of the most recent turns for the pair, oldest
// first. A limit <= 0 uses the store's HistoryLimit.
func (s *Store) History(ctx context.Context, userID, agentID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = s.limit
	}
	key := cacheKey(userID, agentID)

	if s.cache != nil && limit <= s.limit {
		if w, ok := s.cache.Get(key); ok && (w.complete || len(w.turns) >= limit) {
			return tail(w.turns, limit), nil
		}
	}

	if s.cache != nil {
		defer s.fill.lock(key)()
		s.pruning.RLock()
		defer s.pruning.RUnlock()
	}
	fetch := limit
	if s.cache != nil && fetch < s.limit {
		fetch = s.limit
	}
	turns, err := s.recent(ctx, userID, agentID, fetch)
	if err != nil {
		return nil, err
	}
	if s.filled != nil {
		s.filled()
	}
	if s.cache != nil && fetch == s.limit {
		s.cache.Add(key, &cachedWindow{turns: turns, complete: len(turns) < fetch})
	}
	return tail(turns, limit), nil
}

// recent loads the newest n turns from the database, oldest first.
func (s *Store) recent(ctx context.Context, userID, agentID string, n int) ([]models.Turn, error) {
	var turns []models.Turn
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&turns)
	if result.Error != nil {
		return nil, apperr.E(apperr.Store, "memory: history", result.Error)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Count returns the total number of stored turns for the pair.
func (s *Store) Count(ctx context.Context, userID, agentID string) (int64, error) {
	var n int64
	result := s.db.WithContext(ctx).Model(&models.Turn{}).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		Count(&n)
	if result.Error != nil {
		return 0, apperr.E(apperr.Store, "memory: count", result.Error)
	}
	return n, nil
}

// Clear deletes every turn for the pair. Clearing an empty history succeeds.
func (s *Store) Clear(ctx context.Context, userID, agentID string) error {
	defer s.fill.lock(cacheKey(userID, agentID))()
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		Delete(&models.Turn{}).Error
	s.invalidate(userID, agentID)
	if err != nil {
		return apperr.E(apperr.Store, "memory: clear", err)
	}
	return nil
}

// Prune deletes turns created before cutoff across all pairs and returns
// the number removed. The cache is purged because any window may have
// lost its oldest entries.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.pruning.Lock()
	defer s.pruning.Unlock()
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Turn{})
	if s.cache != nil {
		s.cache.Purge()
	}
	if result.Error != nil {
		return 0, apperr.E(apperr.Store, "memory: prune", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("pruned conversation turns",
			zap.Int64("deleted", result.RowsAffected),
			zap.Time("cutoff", cutoff))
	}
	return result.RowsAffected, nil
}

func (s *Store) invalidate(userID, agentID string) {
	if s.cache != nil {
		s.cache.Remove(cacheKey(userID, agentID))
	}
}

// cacheKey joins the pair with a byte that cannot appear in either id.
func cacheKey(userID, agentID string) string {
	return userID + "\x00" + agentID
}

// tail returns a copy of the last n turns.
func tail(turns []models.Turn, n int) []models.Turn {
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]models.Turn(nil), turns...)
}
