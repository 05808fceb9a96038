// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal; float64 is never used for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetType is the direction of a spread wager.
type BetType string

const (
	BetBuy  BetType = "buy"
	BetSell BetType = "sell"
)

// Valid reports whether t is a known direction.
func (t BetType) Valid() bool {
	return t == BetBuy || t == BetSell
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen            PositionStatus = "open"
	StatusPartiallyClosed PositionStatus = "partially_closed"
	StatusSettled         PositionStatus = "settled"
	StatusCancelled       PositionStatus = "cancelled"
)

// Live reports whether a position in this status can still be closed.
func (s PositionStatus) Live() bool {
	return s == StatusOpen || s == StatusPartiallyClosed
}

// Terminal reports whether no further transition is allowed.
func (s PositionStatus) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Position is one spread bet. StakeOpen + StakeClosed always equals
// StakePerPoint, and CollateralHeld equals StakeOpen * MakeupLimit after
// every close.
type Position struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	MatchID        string           `json:"match_id" db:"match_id"`
	Market         string           `json:"market" db:"market"`
	BetType        BetType          `json:"bet_type" db:"bet_type"`
	BetPrice       decimal.Decimal  `json:"bet_price" db:"bet_price"`
	StakePerPoint  decimal.Decimal  `json:"stake_per_point" db:"stake_per_point"`
	MakeupLimit    decimal.Decimal  `json:"makeup_limit" db:"makeup_limit"`
	CollateralHeld decimal.Decimal  `json:"collateral_held" db:"collateral_held"`
	Status         PositionStatus   `json:"status" db:"status"`
	StakeOpen      decimal.Decimal  `json:"stake_open" db:"stake_open"`
	StakeClosed    decimal.Decimal  `json:"stake_closed" db:"stake_closed"`
	CurrentPrice   *decimal.Decimal `json:"current_price,omitempty" db:"current_price"`
	FinalResult    *decimal.Decimal `json:"final_result,omitempty" db:"final_result"` // set only when fully settled
	ProfitLoss     decimal.Decimal  `json:"profit_loss" db:"profit_loss"`             // running realized total
	Version        int64            `json:"version" db:"version"`
	Timestamp      time.Time        `json:"timestamp" db:"timestamp"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// AccountType selects which balance an account trades against.
type AccountType string

const (
	AccountFree AccountType = "free" // virtual balance
	AccountCash AccountType = "cash" // real-money wallet
)

// Account is a user's wallet.
type Account struct {
	UserID         string          `json:"user_id" db:"user_id"`
	AccountType    AccountType     `json:"account_type" db:"account_type"`
	VirtualBalance decimal.Decimal `json:"virtual_balance" db:"virtual_balance"`
	WalletBalance  decimal.Decimal `json:"wallet_balance" db:"wallet_balance"`
	BetsPlaced     int64           `json:"bets_placed" db:"bets_placed"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Balance returns the balance the account type trades against.
func (a *Account) Balance() decimal.Decimal {
	if a.AccountType == AccountCash {
		return a.WalletBalance
	}
	return a.VirtualBalance
}

// SetBalance overwrites the balance the account type trades against.
func (a *Account) SetBalance(v decimal.Decimal) {
	if a.AccountType == AccountCash {
		a.WalletBalance = v
		return
	}
	a.VirtualBalance = v
}

// LedgerKind classifies a balance movement.
type LedgerKind string

const (
	LedgerCollateralHold    LedgerKind = "collateral_hold"
	LedgerCollateralRelease LedgerKind = "collateral_release"
	LedgerProfitLoss        LedgerKind = "profit_loss"
	LedgerRefund            LedgerKind = "refund"
)

// LedgerEntry is an immutable record of a balance movement.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	PositionID   string          `json:"position_id" db:"position_id"`
	Kind         LedgerKind      `json:"kind" db:"kind"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}
