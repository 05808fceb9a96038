// Package exposure enforces limits on how much collateral a user may have
// at risk, both on a single match and across all of their live positions.
//
// Positions on the same match are correlated: one final result settles
// every one of them. The per-match limit bounds that concentrated risk;
// the open limit bounds the account's aggregate exposure.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMatchLimitExceeded is returned when a new position would push
	// the collateral held on one match beyond MaxPerMatch.
	ErrPerMatchLimitExceeded = errors.New("exposure: per-match collateral limit exceeded")

	// ErrOpenLimitExceeded is returned when a new position would push the
	// user's total open collateral beyond MaxOpen.
	ErrOpenLimitExceeded = errors.New("exposure: open collateral limit exceeded")
)

// Limiter holds the configured limits. A zero limit disables that check.
type Limiter struct {
	// MaxPerMatch is the maximum collateral held on any single match.
	MaxPerMatch decimal.Decimal

	// MaxOpen is the maximum collateral held across all live positions.
	MaxOpen decimal.Decimal
}

// NewLimiter creates a limiter with the given per-match and aggregate limits.
func NewLimiter(maxPerMatch, maxOpen decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerMatch: maxPerMatch,
		MaxOpen:     maxOpen,
	}
}

// CheckLimit validates whether reserving delta more collateral on matchID
// respects the limits.
//
// Parameters:
//   - matchID: the match the new position is on
//   - delta: collateral the new position would hold
//   - existing: map of match ID → collateral currently held by this user
//
// Returns nil if the position is within limits.
func (l *Limiter) CheckLimit(matchID string, delta decimal.Decimal, existing map[string]decimal.Decimal) error {
	if l == nil {
		return nil
	}

	// 1. Per-match limit.
	onMatch := existing[matchID].Add(delta)
	if l.MaxPerMatch.IsPositive() && onMatch.GreaterThan(l.MaxPerMatch) {
		return ErrPerMatchLimitExceeded
	}

	// 2. Aggregate open collateral.
	total := delta
	for _, held := range existing {
		total = total.Add(held)
	}
	if l.MaxOpen.IsPositive() && total.GreaterThan(l.MaxOpen) {
		return ErrOpenLimitExceeded
	}

	return nil
}
