// Package settlement implements profit/loss and collateral arithmetic for
// spread-bet positions.
//
// A spread bet pays (result - price) * stake per point for a buy and
// (price - result) * stake for a sell. Losses are capped at the collateral
// reserved against the portion of the position being closed.
//
// Every function here is pure: positions are passed by value and an updated
// copy is returned. Persisting the copy and crediting the owning account
// belong to the caller, which must do so at most once per settlement.
//
// All monetary values use shopspring/decimal; float64 is never used for money.
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
)

var (
	// ErrInvalidBetType is returned for a direction other than buy or sell.
	ErrInvalidBetType = errors.New("settlement: bet type must be buy or sell")

	// ErrInvalidPercent is returned when percentToClose is outside (0, 100].
	ErrInvalidPercent = errors.New("settlement: percent to close must be in (0, 100]")

	// ErrPositionClosed is returned when closing a settled or cancelled position.
	ErrPositionClosed = errors.New("settlement: cannot close a position that is not open")

	// ErrNotCancellable is returned when cancelling anything but an open position.
	ErrNotCancellable = errors.New("settlement: only open positions can be cancelled")

	// Epsilon is the remaining-stake threshold below which a partial close
	// is treated as closing the whole position.
	Epsilon = decimal.New(1, -9)

	hundred = decimal.NewFromInt(100)
)

// Kind identifies which operation produced a Result.
type Kind string

const (
	KindPartial Kind = "partial"
	KindFull    Kind = "full"
	KindCancel  Kind = "cancel"
)

// Result is the outcome of one settlement operation.
type Result struct {
	Kind     Kind           `json:"kind"`
	Position model.Position `json:"position"` // updated copy

	// StakeClosed is the stake-per-point closed by this operation.
	StakeClosed decimal.Decimal `json:"stake_closed"`

	// ProfitLoss is the capped P&L realized by this operation only.
	ProfitLoss decimal.Decimal `json:"profit_loss"`

	// CollateralReleased is the collateral attributable to StakeClosed.
	CollateralReleased decimal.Decimal `json:"collateral_released"`
}

// Credit is the amount returned to the owning account: the released
// collateral plus the realized P&L. Because losses are capped at the
// released collateral, Credit is never negative when a cap applies.
func (r Result) Credit() decimal.Decimal {
	return r.CollateralReleased.Add(r.ProfitLoss)
}

// ComputeProfitLoss returns the signed P&L of a position of the given
// direction, entry price and stake at finalResult.
//
//	buy:  (finalResult - betPrice) * stakePerPoint
//	sell: (betPrice - finalResult) * stakePerPoint
func ComputeProfitLoss(betType model.BetType, betPrice, stakePerPoint, finalResult decimal.Decimal) (decimal.Decimal, error) {
	switch betType {
	case model.BetBuy:
		return finalResult.Sub(betPrice).Mul(stakePerPoint), nil
	case model.BetSell:
		return betPrice.Sub(finalResult).Mul(stakePerPoint), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidBetType, betType)
	}
}

// CapLoss clamps a loss so it cannot exceed collateralHeld. Gains pass
// through unchanged. A loss against zero collateral caps to zero.
func CapLoss(profitLoss, collateralHeld decimal.Decimal) decimal.Decimal {
	if !profitLoss.IsNegative() {
		return profitLoss
	}
	return decimal.Max(profitLoss, collateralHeld.Neg())
}

// SettleFull closes the whole remaining stake at finalResult.
func SettleFull(p model.Position, finalResult decimal.Decimal) (Result, error) {
	if !p.Status.Live() {
		return Result{}, fmt.Errorf("%w: status %s", ErrPositionClosed, p.Status)
	}

	raw, err := ComputeProfitLoss(p.BetType, p.BetPrice, p.StakeOpen, finalResult)
	if err != nil {
		return Result{}, err
	}
	pl := CapLoss(raw, p.CollateralHeld)

	res := Result{
		Kind:               KindFull,
		StakeClosed:        p.StakeOpen,
		ProfitLoss:         pl,
		CollateralReleased: p.CollateralHeld,
	}

	final := finalResult
	p.StakeClosed = p.StakeClosed.Add(p.StakeOpen)
	p.StakeOpen = decimal.Zero
	p.CollateralHeld = decimal.Zero
	p.ProfitLoss = p.ProfitLoss.Add(pl)
	p.FinalResult = &final
	p.Status = model.StatusSettled

	res.Position = p
	return res, nil
}

// SettlePartial closes percentToClose percent of the open stake at
// currentPrice. Closing 100% (or leaving a remainder within Epsilon)
// settles the position.
func SettlePartial(p model.Position, percentToClose, currentPrice decimal.Decimal) (Result, error) {
	if !percentToClose.IsPositive() || percentToClose.GreaterThan(hundred) {
		return Result{}, fmt.Errorf("%w: got %s", ErrInvalidPercent, percentToClose)
	}
	if !p.Status.Live() {
		return Result{}, fmt.Errorf("%w: status %s", ErrPositionClosed, p.Status)
	}

	stakeToClose := p.StakeOpen.Mul(percentToClose).Div(hundred)
	stakeRemaining := p.StakeOpen.Sub(stakeToClose)
	if stakeRemaining.LessThanOrEqual(Epsilon) {
		stakeToClose = p.StakeOpen
		stakeRemaining = decimal.Zero
	}

	raw, err := ComputeProfitLoss(p.BetType, p.BetPrice, stakeToClose, currentPrice)
	if err != nil {
		return Result{}, err
	}

	// The closed portion can lose at most the collateral allocated to it,
	// the same cap SettleFull applies to the whole remaining stake.
	released := stakeToClose.Mul(p.MakeupLimit)
	pl := CapLoss(raw, released)

	res := Result{
		Kind:               KindPartial,
		StakeClosed:        stakeToClose,
		ProfitLoss:         pl,
		CollateralReleased: released,
	}

	price := currentPrice
	p.StakeOpen = stakeRemaining
	p.StakeClosed = p.StakeClosed.Add(stakeToClose)
	p.ProfitLoss = p.ProfitLoss.Add(pl)
	p.CollateralHeld = stakeRemaining.Mul(p.MakeupLimit)
	p.CurrentPrice = &price

	if stakeRemaining.IsZero() {
		p.Status = model.StatusSettled
		p.FinalResult = &price
	} else {
		p.Status = model.StatusPartiallyClosed
	}

	res.Position = p
	return res, nil
}

// Cancel voids an open position and releases its full collateral with no
// P&L. Positions that have been partially closed cannot be cancelled.
func Cancel(p model.Position) (Result, error) {
	if p.Status != model.StatusOpen {
		return Result{}, fmt.Errorf("%w: status %s", ErrNotCancellable, p.Status)
	}

	res := Result{
		Kind:               KindCancel,
		ProfitLoss:         decimal.Zero,
		CollateralReleased: p.CollateralHeld,
	}

	p.CollateralHeld = decimal.Zero
	p.Status = model.StatusCancelled

	res.Position = p
	return res, nil
}

// Unrealized marks the open stake to market at price, capped at the
// collateral still held.
func Unrealized(p model.Position, price decimal.Decimal) (decimal.Decimal, error) {
	if !p.Status.Live() {
		return decimal.Zero, nil
	}
	raw, err := ComputeProfitLoss(p.BetType, p.BetPrice, p.StakeOpen, price)
	if err != nil {
		return decimal.Zero, err
	}
	return CapLoss(raw, p.CollateralHeld), nil
}
