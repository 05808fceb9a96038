package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/collateral"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seed(t *testing.T, balance float64) (*MemoryStore, model.Position) {
	t.Helper()
	ctx := context.Background()
	ms := NewMemoryStore()

	if err := ms.CreateAccount(ctx, &model.Account{
		UserID:         "user1",
		AccountType:    model.AccountFree,
		VirtualBalance: d(balance),
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	pos := model.Position{
		ID:             "pos-1",
		UserID:         "user1",
		MatchID:        "match-1",
		BetType:        model.BetBuy,
		BetPrice:       d(3),
		StakePerPoint:  d(10),
		MakeupLimit:    d(20),
		CollateralHeld: d(200),
		Status:         model.StatusOpen,
		StakeOpen:      d(10),
		Timestamp:      time.Now().UTC(),
	}
	return ms, pos
}

func TestMemoryStore_CreateAccountDuplicate(t *testing.T) {
	ms, _ := seed(t, 1000)

	err := ms.CreateAccount(context.Background(), &model.Account{UserID: "user1"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStore_GetPositionNotFound(t *testing.T) {
	ms := NewMemoryStore()

	_, err := ms.GetPosition(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CommitOpenDebitsAccount(t *testing.T) {
	ms, pos := seed(t, 1000)
	ctx := context.Background()

	acct, err := ms.CommitOpen(ctx, OpenCommit{Position: pos, Collateral: d(200), Now: time.Now()})
	if err != nil {
		t.Fatalf("commit open: %v", err)
	}
	if !acct.VirtualBalance.Equal(d(800)) || acct.BetsPlaced != 1 {
		t.Errorf("unexpected account after open: %+v", acct)
	}

	entries, _ := ms.GetLedgerEntriesByUser(ctx, "user1")
	if len(entries) != 1 || entries[0].Kind != model.LedgerCollateralHold {
		t.Errorf("expected one hold entry, got %+v", entries)
	}

	exposures, _ := ms.GetUserMatchExposures(ctx, "user1")
	if !exposures["match-1"].Equal(d(200)) {
		t.Errorf("expected exposure 200 on match-1, got %s", exposures["match-1"])
	}
}

func TestMemoryStore_CommitOpenInsufficientBalance(t *testing.T) {
	ms, pos := seed(t, 100)
	ctx := context.Background()

	_, err := ms.CommitOpen(ctx, OpenCommit{Position: pos, Collateral: d(200), Now: time.Now()})
	if !errors.Is(err, collateral.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := ms.GetPosition(ctx, pos.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("position should not exist after failed open, got %v", err)
	}
	acct, _ := ms.GetAccount(ctx, "user1")
	if !acct.VirtualBalance.Equal(d(100)) {
		t.Errorf("balance changed on failed open: %s", acct.VirtualBalance)
	}
}

func TestMemoryStore_CommitCloseBumpsVersion(t *testing.T) {
	ms, pos := seed(t, 1000)
	ctx := context.Background()
	ms.CommitOpen(ctx, OpenCommit{Position: pos, Collateral: d(200), Now: time.Now()})

	res, err := settlement.SettleFull(pos, d(3.5))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	acct, err := ms.CommitClose(ctx, CloseCommit{Result: res, ExpectedVersion: 0, Now: time.Now()})
	if err != nil {
		t.Fatalf("commit close: %v", err)
	}
	if !acct.VirtualBalance.Equal(d(1005)) {
		t.Errorf("expected balance 1005, got %s", acct.VirtualBalance)
	}

	got, _ := ms.GetPosition(ctx, pos.ID)
	if got.Version != 1 || got.Status != model.StatusSettled {
		t.Errorf("expected settled at version 1, got %s at %d", got.Status, got.Version)
	}

	live, _ := ms.ListLivePositions(ctx, time.Time{})
	if len(live) != 0 {
		t.Errorf("settled position should not be live, got %d", len(live))
	}
}

func TestMemoryStore_CommitCloseStaleVersion(t *testing.T) {
	ms, pos := seed(t, 1000)
	ctx := context.Background()
	ms.CommitOpen(ctx, OpenCommit{Position: pos, Collateral: d(200), Now: time.Now()})

	res, _ := settlement.SettleFull(pos, d(3.5))
	if _, err := ms.CommitClose(ctx, CloseCommit{Result: res, ExpectedVersion: 0, Now: time.Now()}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Same computation committed again must not credit twice.
	_, err := ms.CommitClose(ctx, CloseCommit{Result: res, ExpectedVersion: 0, Now: time.Now()})
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	acct, _ := ms.GetAccount(ctx, "user1")
	if !acct.VirtualBalance.Equal(d(1005)) {
		t.Errorf("balance double-credited: %s", acct.VirtualBalance)
	}
}

func TestMemoryStore_ListLivePositionsOlderThan(t *testing.T) {
	ms, pos := seed(t, 10000)
	ctx := context.Background()

	old := pos
	old.Timestamp = time.Now().Add(-time.Hour)
	ms.CommitOpen(ctx, OpenCommit{Position: old, Collateral: d(200), Now: time.Now()})

	fresh := pos
	fresh.ID = "pos-2"
	fresh.Timestamp = time.Now()
	ms.CommitOpen(ctx, OpenCommit{Position: fresh, Collateral: d(200), Now: time.Now()})

	live, _ := ms.ListLivePositions(ctx, time.Now().Add(-time.Minute))
	if len(live) != 1 || live[0].ID != "pos-1" {
		t.Errorf("expected only pos-1, got %+v", live)
	}

	all, _ := ms.ListLivePositions(ctx, time.Time{})
	if len(all) != 2 {
		t.Errorf("expected 2 live positions, got %d", len(all))
	}

	byMatch, _ := ms.ListLivePositionsByMatch(ctx, "match-1")
	if len(byMatch) != 2 {
		t.Errorf("expected 2 positions on match-1, got %d", len(byMatch))
	}
}
