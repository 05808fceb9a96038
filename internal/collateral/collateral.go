// Package collateral moves money between an account's balance and the
// collateral reserved against its positions.
//
// Collateral is debited once when a position is opened and credited back,
// together with realized profit or loss, each time part of the position is
// closed. The credit for a close is always ReleasedCollateral + ProfitLoss
// (see settlement.Result.Credit), for partial and full closes alike.
package collateral

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
)

var (
	// ErrInsufficientBalance is returned when the account cannot cover the
	// collateral a new position requires.
	ErrInsufficientBalance = errors.New("collateral: insufficient balance")

	// ErrInvalidTerms is returned for a negative stake or makeup limit.
	ErrInvalidTerms = errors.New("collateral: stake and makeup limit must be non-negative")
)

// Required returns the collateral a position must reserve:
// stakePerPoint * makeupLimit.
func Required(stakePerPoint, makeupLimit decimal.Decimal) (decimal.Decimal, error) {
	if stakePerPoint.IsNegative() || makeupLimit.IsNegative() {
		return decimal.Zero, ErrInvalidTerms
	}
	return stakePerPoint.Mul(makeupLimit), nil
}

// Hold debits amount from the account's trading balance for a newly opened
// position and counts the bet. The account is modified in place.
func Hold(acct *model.Account, positionID string, amount decimal.Decimal, now time.Time) (model.LedgerEntry, error) {
	balance := acct.Balance()
	if balance.LessThan(amount) {
		return model.LedgerEntry{}, fmt.Errorf("%w: balance %s, required %s",
			ErrInsufficientBalance, balance.String(), amount.String())
	}

	after := balance.Sub(amount)
	acct.SetBalance(after)
	acct.BetsPlaced++
	acct.UpdatedAt = now

	return entry(acct.UserID, positionID, model.LedgerCollateralHold, amount.Neg(), after, now), nil
}

// Release credits the account with the outcome of a close: the released
// collateral and then the realized profit or loss, as two ledger entries.
// A cancellation is recorded as a single refund entry.
func Release(acct *model.Account, res settlement.Result, now time.Time) []model.LedgerEntry {
	positionID := res.Position.ID
	balance := acct.Balance()

	if res.Kind == settlement.KindCancel {
		after := balance.Add(res.CollateralReleased)
		acct.SetBalance(after)
		acct.UpdatedAt = now
		return []model.LedgerEntry{
			entry(acct.UserID, positionID, model.LedgerRefund, res.CollateralReleased, after, now),
		}
	}

	var entries []model.LedgerEntry

	afterRelease := balance.Add(res.CollateralReleased)
	if !res.CollateralReleased.IsZero() {
		entries = append(entries,
			entry(acct.UserID, positionID, model.LedgerCollateralRelease, res.CollateralReleased, afterRelease, now))
	}

	afterPL := afterRelease.Add(res.ProfitLoss)
	if !res.ProfitLoss.IsZero() {
		entries = append(entries,
			entry(acct.UserID, positionID, model.LedgerProfitLoss, res.ProfitLoss, afterPL, now))
	}

	acct.SetBalance(afterPL)
	acct.UpdatedAt = now
	return entries
}

func entry(userID, positionID string, kind model.LedgerKind, amount, after decimal.Decimal, now time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		PositionID:   positionID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: after,
		Timestamp:    now,
	}
}
