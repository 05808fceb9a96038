// Package position provides the business logic and HTTP handlers for
// opening, closing, settling and cancelling spread-bet positions.
//
// Every mutation of a position runs under a per-position lock and commits
// conditionally on the version it was computed from, so a user's close
// racing a grading run settles the position exactly once.
//
// All monetary values use shopspring/decimal; float64 is never used for money.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/collateral"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/events"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/exposure"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/lock"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/metrics"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/retry"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/store"
)

// ErrInvalidRequest is returned for malformed open or account requests.
var ErrInvalidRequest = errors.New("position: invalid request")

// Service handles position operations.
type Service struct {
	store       store.Store
	limiter     *exposure.Limiter
	locker      lock.Locker
	retry       *retry.Policy
	publisher   events.Publisher
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the default in-process locker, e.g. with a Redis
// lock shared by several instances.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithRetry sets the policy used around store commits.
func WithRetry(p *retry.Policy) Option {
	return func(s *Service) { s.retry = p }
}

// WithPublisher sets where lifecycle events are sent.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLockTimeout bounds how long an operation waits for a position lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) { s.lockTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new position service.
// Pass nil for limiter if exposure limits are not enforced.
func NewService(st store.Store, limiter *exposure.Limiter, opts ...Option) *Service {
	s := &Service{
		store:       st,
		limiter:     limiter,
		locker:      lock.NewLocalLocker(),
		retry:       retry.NewPolicy(3, 50*time.Millisecond, time.Second),
		lockTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenParams are the terms of a new position.
type OpenParams struct {
	UserID        string
	MatchID       string
	Market        string
	BetType       model.BetType
	BetPrice      decimal.Decimal
	StakePerPoint decimal.Decimal
	MakeupLimit   decimal.Decimal
}

// Outcome is a committed close together with the owner's updated account.
type Outcome struct {
	settlement.Result
	Account *model.Account
}

// --- Accounts ---

// NewAccount creates an account funded with balance on the balance its
// type trades against.
func (s *Service) NewAccount(ctx context.Context, userID string, accountType model.AccountType, balance decimal.Decimal) (*model.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if accountType != model.AccountFree && accountType != model.AccountCash {
		return nil, fmt.Errorf("%w: account_type must be free or cash", ErrInvalidRequest)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: balance must be non-negative", ErrInvalidRequest)
	}

	now := s.now()
	acct := &model.Account{
		UserID:         userID,
		AccountType:    accountType,
		VirtualBalance: decimal.Zero,
		WalletBalance:  decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	acct.SetBalance(balance)

	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	slog.Info("account created",
		"user", userID,
		"type", string(accountType),
		"balance", balance.String(),
	)
	return acct, nil
}

// Account returns a user's account.
func (s *Service) Account(ctx context.Context, userID string) (*model.Account, error) {
	return s.store.GetAccount(ctx, userID)
}

// Ledger returns a user's balance movements.
func (s *Service) Ledger(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.store.GetLedgerEntriesByUser(ctx, userID)
}

// --- Positions ---

// Position returns one position.
func (s *Service) Position(ctx context.Context, id string) (*model.Position, error) {
	return s.store.GetPosition(ctx, id)
}

// Positions returns a user's positions, newest first.
func (s *Service) Positions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.store.ListPositionsByUser(ctx, userID)
}

// OpenPosition reserves collateral and creates a new open position.
func (s *Service) OpenPosition(ctx context.Context, params OpenParams) (*model.Position, *model.Account, error) {
	if err := validateOpen(params); err != nil {
		return nil, nil, err
	}

	required, err := collateral.Required(params.StakePerPoint, params.MakeupLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Serialize opens per user so the exposure check and the debit see the
	// same account state.
	unlock, err := s.acquire(ctx, "user:"+params.UserID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if s.limiter != nil {
		exposures, err := s.store.GetUserMatchExposures(ctx, params.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("check exposure limits: %w", err)
		}
		if err := s.limiter.CheckLimit(params.MatchID, required, exposures); err != nil {
			metrics.LimitRejections.WithLabelValues(limitReason(err)).Inc()
			return nil, nil, err
		}
	}

	now := s.now()
	pos := model.Position{
		ID:             uuid.New().String(),
		UserID:         params.UserID,
		MatchID:        params.MatchID,
		Market:         params.Market,
		BetType:        params.BetType,
		BetPrice:       params.BetPrice,
		StakePerPoint:  params.StakePerPoint,
		MakeupLimit:    params.MakeupLimit,
		CollateralHeld: required,
		Status:         model.StatusOpen,
		StakeOpen:      params.StakePerPoint,
		StakeClosed:    decimal.Zero,
		ProfitLoss:     decimal.Zero,
		Version:        0,
		Timestamp:      now,
		UpdatedAt:      now,
	}

	var acct *model.Account
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		a, err := s.store.CommitOpen(ctx, store.OpenCommit{Position: pos, Collateral: required, Now: now})
		if err != nil {
			return classify(err)
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.PositionsOpened.WithLabelValues(string(pos.BetType)).Inc()

	slog.Info("position opened",
		"id", pos.ID,
		"user", pos.UserID,
		"match", pos.MatchID,
		"bet_type", string(pos.BetType),
		"bet_price", pos.BetPrice.String(),
		"stake", pos.StakePerPoint.String(),
		"collateral", required.String(),
	)

	s.publish(ctx, events.Event{
		Type:       events.TypeOpened,
		PositionID: pos.ID,
		UserID:     pos.UserID,
		MatchID:    pos.MatchID,
		Status:     pos.Status,
		ProfitLoss: decimal.Zero,
		Credit:     required.Neg(),
		Balance:    acct.Balance(),
		Timestamp:  now,
	})

	return &pos, acct, nil
}

// ClosePartial closes percent of the open stake at currentPrice.
func (s *Service) ClosePartial(ctx context.Context, id string, percent, currentPrice decimal.Decimal) (*Outcome, error) {
	// Reject bad input before taking the lock.
	if !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: got %s", settlement.ErrInvalidPercent, percent)
	}
	return s.apply(ctx, id, func(p model.Position) (settlement.Result, error) {
		return settlement.SettlePartial(p, percent, currentPrice)
	})
}

// Settle closes the remaining stake at finalResult.
func (s *Service) Settle(ctx context.Context, id string, finalResult decimal.Decimal) (*Outcome, error) {
	return s.apply(ctx, id, func(p model.Position) (settlement.Result, error) {
		return settlement.SettleFull(p, finalResult)
	})
}

// Cancel voids an open position and refunds its collateral.
func (s *Service) Cancel(ctx context.Context, id string) (*Outcome, error) {
	return s.apply(ctx, id, settlement.Cancel)
}

// Value marks a live position to market at price.
func (s *Service) Value(ctx context.Context, id string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return settlement.Unrealized(*p, price)
}

// apply loads the position under its lock, computes the change and commits
// it conditionally on the loaded version. The load skips any cache so the
// version is the persisted one. The load happens inside the
// retry loop: if an earlier attempt committed but reported an error, the
// reload sees the terminal status and the computation is not re-applied.
func (s *Service) apply(ctx context.Context, id string, compute func(model.Position) (settlement.Result, error)) (*Outcome, error) {
	unlock, err := s.acquire(ctx, "position:"+id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out Outcome
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		p, err := s.store.LoadPosition(ctx, id)
		if err != nil {
			return classify(err)
		}

		res, err := compute(*p)
		if err != nil {
			return retry.Permanent(err)
		}

		now := s.now()
		acct, err := s.store.CommitClose(ctx, store.CloseCommit{
			Result:          res,
			ExpectedVersion: p.Version,
			Now:             now,
		})
		if err != nil {
			return classify(err)
		}

		res.Position.Version = p.Version + 1
		res.Position.UpdatedAt = now
		out = Outcome{Result: res, Account: acct}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, out)
	return &out, nil
}

func (s *Service) record(ctx context.Context, out Outcome) {
	p := out.Position
	metrics.Closes.WithLabelValues(string(out.Kind)).Inc()
	pl, _ := out.ProfitLoss.Float64()
	metrics.RealizedProfitLoss.Observe(pl)

	slog.Info("position closed",
		"id", p.ID,
		"user", p.UserID,
		"match", p.MatchID,
		"kind", string(out.Kind),
		"status", string(p.Status),
		"stake_closed", out.StakeClosed.String(),
		"profit_loss", out.ProfitLoss.String(),
		"collateral_released", out.CollateralReleased.String(),
		"credit", out.Credit().String(),
	)

	evType := events.TypeSettled
	switch {
	case out.Kind == settlement.KindCancel:
		evType = events.TypeCancelled
	case p.Status == model.StatusPartiallyClosed:
		evType = events.TypePartiallyClosed
	}

	s.publish(ctx, events.Event{
		Type:       evType,
		PositionID: p.ID,
		UserID:     p.UserID,
		MatchID:    p.MatchID,
		Status:     p.Status,
		ProfitLoss: out.ProfitLoss,
		Credit:     out.Credit(),
		Balance:    out.Account.Balance(),
		Timestamp:  p.UpdatedAt,
	})
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish event", "type", ev.Type, "position", ev.PositionID, "err", err)
	}
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	return s.locker.Lock(lockCtx, key)
}

// classify marks errors that a retry cannot fix as permanent.
func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrStaleState),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, collateral.ErrInsufficientBalance),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent(err)
	}
	return err
}

func validateOpen(p OpenParams) error {
	switch {
	case p.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case p.MatchID == "":
		return fmt.Errorf("%w: match_id is required", ErrInvalidRequest)
	case !p.BetType.Valid():
		return fmt.Errorf("%w: %q", settlement.ErrInvalidBetType, p.BetType)
	case !p.StakePerPoint.IsPositive():
		return fmt.Errorf("%w: stake_per_point must be positive", ErrInvalidRequest)
	case p.MakeupLimit.IsNegative():
		return fmt.Errorf("%w: makeup_limit must be non-negative", ErrInvalidRequest)
	}
	return nil
}

func limitReason(err error) string {
	if errors.Is(err, exposure.ErrPerMatchLimitExceeded) {
		return "per_match"
	}
	return "open"
}
