package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/collateral"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]*model.Position
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.UserID]; ok {
		return fmt.Errorf("%w: account %s", ErrAlreadyExists, acct.UserID)
	}
	// Store a copy to avoid external mutation.
	copy := *acct
	s.accounts[acct.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	copy := *p
	return &copy, nil
}

// LoadPosition is GetPosition; the memory store is its own source of truth.
func (s *MemoryStore) LoadPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.GetPosition(ctx, id)
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter(func(p *model.Position) bool { return p.UserID == userID }, true), nil
}

func (s *MemoryStore) ListLivePositions(_ context.Context, olderThan time.Time) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter(func(p *model.Position) bool {
		return p.Status.Live() && (olderThan.IsZero() || p.Timestamp.Before(olderThan))
	}, false), nil
}

func (s *MemoryStore) ListLivePositionsByMatch(_ context.Context, matchID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter(func(p *model.Position) bool {
		return p.Status.Live() && p.MatchID == matchID
	}, false), nil
}

func (s *MemoryStore) GetUserMatchExposures(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exposures := make(map[string]decimal.Decimal)
	for _, p := range s.positions {
		if p.UserID == userID && p.Status.Live() {
			exposures[p.MatchID] = exposures[p.MatchID].Add(p.CollateralHeld)
		}
	}
	return exposures, nil
}

func (s *MemoryStore) CommitOpen(_ context.Context, c OpenCommit) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[c.Position.ID]; ok {
		return nil, fmt.Errorf("%w: position %s", ErrAlreadyExists, c.Position.ID)
	}
	stored, ok := s.accounts[c.Position.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, c.Position.UserID)
	}

	// Work on a copy so a failed hold leaves the account untouched.
	acct := *stored
	entry, err := collateral.Hold(&acct, c.Position.ID, c.Collateral, c.Now)
	if err != nil {
		return nil, err
	}

	pos := c.Position
	s.positions[pos.ID] = &pos
	s.accounts[acct.UserID] = &acct
	s.ledger = append(s.ledger, entry)

	out := acct
	return &out, nil
}

func (s *MemoryStore) CommitClose(_ context.Context, c CloseCommit) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := c.Result.Position
	current, ok := s.positions[next.ID]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, next.ID)
	}
	if current.Version != c.ExpectedVersion {
		return nil, fmt.Errorf("%w: position %s at version %d, expected %d",
			ErrStaleState, next.ID, current.Version, c.ExpectedVersion)
	}
	stored, ok := s.accounts[next.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, next.UserID)
	}

	acct := *stored
	entries := collateral.Release(&acct, c.Result, c.Now)

	next.Version = c.ExpectedVersion + 1
	next.UpdatedAt = c.Now
	s.positions[next.ID] = &next
	s.accounts[acct.UserID] = &acct
	s.ledger = append(s.ledger, entries...)

	out := acct
	return &out, nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

// filter copies matching positions, ordered by creation time. Must be
// called with the lock held.
func (s *MemoryStore) filter(keep func(*model.Position) bool, newestFirst bool) []model.Position {
	var result []model.Position
	for _, p := range s.positions {
		if keep(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if newestFirst {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}
