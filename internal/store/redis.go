package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only single-record reads are cached. Scans used by grading and limit
// checks always hit the primary so they never act on a stale status.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	if err := s.primary.CreateAccount(ctx, acct); err != nil {
		return err
	}
	s.cache(ctx, accountKey(acct.UserID), acct)
	return nil
}

func (s *CachedStore) CommitOpen(ctx context.Context, c OpenCommit) (*model.Account, error) {
	acct, err := s.primary.CommitOpen(ctx, c)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, accountKey(c.Position.UserID), positionsKey(c.Position.UserID))
	return acct, nil
}

func (s *CachedStore) CommitClose(ctx context.Context, c CloseCommit) (*model.Account, error) {
	// Invalidate before and after: a reader racing the commit must not
	// re-populate the cache with the pre-commit position.
	p := c.Result.Position
	s.rdb.Del(ctx, positionKey(p.ID))

	acct, err := s.primary.CommitClose(ctx, c)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, positionKey(p.ID), accountKey(p.UserID), positionsKey(p.UserID))
	return acct, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	if s.lookup(ctx, accountKey(userID), &a) {
		return &a, nil
	}

	acct, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, accountKey(userID), acct)
	return acct, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	if s.lookup(ctx, positionKey(id), &p) {
		return &p, nil
	}

	pos, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionKey(id), pos)
	return pos, nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	if s.lookup(ctx, positionsKey(userID), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) LoadPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.LoadPosition(ctx, id)
}

func (s *CachedStore) ListLivePositions(ctx context.Context, olderThan time.Time) ([]model.Position, error) {
	return s.primary.ListLivePositions(ctx, olderThan)
}

func (s *CachedStore) ListLivePositionsByMatch(ctx context.Context, matchID string) ([]model.Position, error) {
	return s.primary.ListLivePositionsByMatch(ctx, matchID)
}

func (s *CachedStore) GetUserMatchExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	return s.primary.GetUserMatchExposures(ctx, userID)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(uid string) string   { return fmt.Sprintf("account:%s", uid) }
func positionKey(id string) string   { return fmt.Sprintf("position:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
