package collateral

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestRequired(t *testing.T) {
	got, err := Required(d(10), d(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(200)) {
		t.Errorf("expected 200, got %s", got)
	}
}

func TestRequired_NegativeStake(t *testing.T) {
	_, err := Required(d(-1), d(20))
	if !errors.Is(err, ErrInvalidTerms) {
		t.Errorf("expected ErrInvalidTerms, got %v", err)
	}
}

func TestHold_DebitsVirtualBalanceForFreeAccount(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountFree, VirtualBalance: d(1000), WalletBalance: d(50)}

	e, err := Hold(acct, "p1", d(200), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acct.VirtualBalance.Equal(d(800)) {
		t.Errorf("expected virtual balance 800, got %s", acct.VirtualBalance)
	}
	if !acct.WalletBalance.Equal(d(50)) {
		t.Errorf("wallet balance should be untouched, got %s", acct.WalletBalance)
	}
	if acct.BetsPlaced != 1 {
		t.Errorf("expected bets_placed=1, got %d", acct.BetsPlaced)
	}
	if e.Kind != model.LedgerCollateralHold || !e.Amount.Equal(d(-200)) || !e.BalanceAfter.Equal(d(800)) {
		t.Errorf("unexpected ledger entry: %+v", e)
	}
}

func TestHold_DebitsWalletForCashAccount(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountCash, VirtualBalance: d(1000), WalletBalance: d(300)}

	if _, err := Hold(acct, "p1", d(200), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acct.WalletBalance.Equal(d(100)) {
		t.Errorf("expected wallet balance 100, got %s", acct.WalletBalance)
	}
	if !acct.VirtualBalance.Equal(d(1000)) {
		t.Errorf("virtual balance should be untouched, got %s", acct.VirtualBalance)
	}
}

func TestHold_InsufficientBalance(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountCash, WalletBalance: d(199.99)}

	_, err := Hold(acct, "p1", d(200), time.Now())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !acct.WalletBalance.Equal(d(199.99)) || acct.BetsPlaced != 0 {
		t.Errorf("account modified on failure: %+v", acct)
	}
}

func TestRelease_ProfitCreditsCollateralPlusGain(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountFree, VirtualBalance: d(800)}
	res := settlement.Result{
		Kind:               settlement.KindFull,
		Position:           model.Position{ID: "p1"},
		ProfitLoss:         d(5),
		CollateralReleased: d(200),
	}

	entries := Release(acct, res, time.Now())

	if !acct.VirtualBalance.Equal(d(1005)) {
		t.Errorf("expected 1005, got %s", acct.VirtualBalance)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Kind != model.LedgerCollateralRelease || !entries[0].BalanceAfter.Equal(d(1000)) {
		t.Errorf("unexpected release entry: %+v", entries[0])
	}
	if entries[1].Kind != model.LedgerProfitLoss || !entries[1].BalanceAfter.Equal(d(1005)) {
		t.Errorf("unexpected pl entry: %+v", entries[1])
	}
}

func TestRelease_CappedLossCreditsNothing(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountCash, WalletBalance: d(100)}
	res := settlement.Result{
		Kind:               settlement.KindPartial,
		Position:           model.Position{ID: "p1"},
		ProfitLoss:         d(-50),
		CollateralReleased: d(50),
	}

	Release(acct, res, time.Now())

	if !acct.WalletBalance.Equal(d(100)) {
		t.Errorf("expected balance unchanged at 100, got %s", acct.WalletBalance)
	}
}

func TestRelease_ZeroProfitSkipsEntry(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountFree, VirtualBalance: d(0)}
	res := settlement.Result{
		Kind:               settlement.KindFull,
		Position:           model.Position{ID: "p1"},
		ProfitLoss:         decimal.Zero,
		CollateralReleased: d(30),
	}

	entries := Release(acct, res, time.Now())
	if len(entries) != 1 {
		t.Errorf("expected only a release entry, got %d", len(entries))
	}
}

func TestRelease_CancelRefund(t *testing.T) {
	acct := &model.Account{UserID: "u1", AccountType: model.AccountFree, VirtualBalance: d(800)}
	res := settlement.Result{
		Kind:               settlement.KindCancel,
		Position:           model.Position{ID: "p1"},
		CollateralReleased: d(200),
	}

	entries := Release(acct, res, time.Now())
	if len(entries) != 1 || entries[0].Kind != model.LedgerRefund {
		t.Fatalf("expected one refund entry, got %+v", entries)
	}
	if !acct.VirtualBalance.Equal(d(1000)) {
		t.Errorf("expected 1000, got %s", acct.VirtualBalance)
	}
}
