// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
)

var (
	// ErrNotFound is returned when an account or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a duplicate account or position.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStaleState is returned by CommitClose when the persisted position
	// has changed since it was loaded. The caller must not retry the same
	// computation; it should reload and decide again.
	ErrStaleState = errors.New("store: position changed since it was loaded")
)

// OpenCommit reserves collateral for a new position.
type OpenCommit struct {
	Position   model.Position
	Collateral decimal.Decimal
	Now        time.Time
}

// CloseCommit applies a settlement result. The position is written only if
// its persisted version still equals ExpectedVersion.
type CloseCommit struct {
	Result          settlement.Result
	ExpectedVersion int64
	Now             time.Time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by user ID.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Positions ---

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// LoadPosition reads a position from the source of truth, bypassing any
	// cache. Callers that commit conditionally on Version must use it.
	LoadPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositionsByUser returns all positions owned by a user, newest first.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// ListLivePositions returns open and partially closed positions created
	// before olderThan. A zero olderThan returns all of them.
	ListLivePositions(ctx context.Context, olderThan time.Time) ([]model.Position, error)

	// ListLivePositionsByMatch returns open and partially closed positions on a match.
	ListLivePositionsByMatch(ctx context.Context, matchID string) ([]model.Position, error)

	// GetUserMatchExposures returns collateral held per match over the
	// user's live positions.
	GetUserMatchExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error)

	// --- Atomic commits ---

	// CommitOpen debits the collateral from the owner's balance, inserts the
	// position and appends the ledger entry in one unit. Returns the updated
	// account.
	CommitOpen(ctx context.Context, c OpenCommit) (*model.Account, error)

	// CommitClose writes the settled position (conditional on version),
	// credits the owner and appends ledger entries in one unit. Returns the
	// updated account.
	CommitClose(ctx context.Context, c CloseCommit) (*model.Account, error)

	// --- Immutable ledger ---

	// GetLedgerEntriesByUser returns all balance movements for a user.
	GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)
}
