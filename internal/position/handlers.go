package position

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/collateral"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/exposure"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/lock"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/store"
)

var validate = validator.New()

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	UserID      string            `json:"user_id" validate:"required,max=128"`
	AccountType model.AccountType `json:"account_type" validate:"required,oneof=free cash"`
	Balance     decimal.Decimal   `json:"balance"`
}

// OpenRequest is the JSON body for POST /positions.
type OpenRequest struct {
	UserID        string          `json:"user_id" validate:"required,max=128"`
	MatchID       string          `json:"match_id" validate:"required,max=128"`
	Market        string          `json:"market" validate:"max=128"`
	BetType       model.BetType   `json:"bet_type" validate:"required,oneof=buy sell"`
	BetPrice      decimal.Decimal `json:"bet_price"`
	StakePerPoint decimal.Decimal `json:"stake_per_point"`
	MakeupLimit   decimal.Decimal `json:"makeup_limit"`
}

// OpenResponse is returned from POST /positions.
type OpenResponse struct {
	Position model.Position  `json:"position"`
	Balance  decimal.Decimal `json:"balance"`
}

// CloseRequest is the JSON body for POST /positions/{positionID}/close.
type CloseRequest struct {
	Percent      decimal.Decimal  `json:"percent"`
	CurrentPrice *decimal.Decimal `json:"current_price" validate:"required"`
}

// SettleRequest is the JSON body for POST /positions/{positionID}/settle.
type SettleRequest struct {
	FinalResult *decimal.Decimal `json:"final_result" validate:"required"`
}

// CloseResponse describes a committed close.
type CloseResponse struct {
	Position           model.Position  `json:"position"`
	Kind               settlement.Kind `json:"kind"`
	StakeClosed        decimal.Decimal `json:"stake_closed"`
	ProfitLoss         decimal.Decimal `json:"profit_loss"`
	CollateralReleased decimal.Decimal `json:"collateral_released"`
	Credit             decimal.Decimal `json:"credit"`
	Balance            decimal.Decimal `json:"balance"`
}

// ValueResponse is returned from GET /positions/{positionID}/value.
type ValueResponse struct {
	PositionID string          `json:"position_id"`
	Price      decimal.Decimal `json:"price"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

// --- HTTP Handlers ---

// HandleCreateAccount handles POST /api/v1/accounts
func (s *Service) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !Decode(w, r, &req) {
		return
	}

	acct, err := s.NewAccount(r.Context(), req.UserID, req.AccountType, req.Balance)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusCreated, acct)
}

// HandleGetAccount handles GET /api/v1/accounts/{userID}
func (s *Service) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusOK, acct)
}

// HandleListPositions handles GET /api/v1/accounts/{userID}/positions
// Optionally filtered by ?status=<status>.
func (s *Service) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.Positions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}

	filtered := []model.Position{}
	status := model.PositionStatus(r.URL.Query().Get("status"))
	for _, p := range positions {
		if status == "" || p.Status == status {
			filtered = append(filtered, p)
		}
	}
	WriteJSON(w, http.StatusOK, filtered)
}

// HandleLedger handles GET /api/v1/accounts/{userID}/ledger
func (s *Service) HandleLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Ledger(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// HandleOpen handles POST /api/v1/positions
func (s *Service) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !Decode(w, r, &req) {
		return
	}

	pos, acct, err := s.OpenPosition(r.Context(), OpenParams{
		UserID:        req.UserID,
		MatchID:       req.MatchID,
		Market:        req.Market,
		BetType:       req.BetType,
		BetPrice:      req.BetPrice,
		StakePerPoint: req.StakePerPoint,
		MakeupLimit:   req.MakeupLimit,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusCreated, OpenResponse{Position: *pos, Balance: acct.Balance()})
}

// HandleGetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.Position(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusOK, pos)
}

// HandleValue handles GET /api/v1/positions/{positionID}/value?price=<p>
func (s *Service) HandleValue(w http.ResponseWriter, r *http.Request) {
	price, err := decimal.NewFromString(r.URL.Query().Get("price"))
	if err != nil {
		writeError(w, "price query parameter must be a number", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "positionID")
	v, err := s.Value(r.Context(), id, price)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusOK, ValueResponse{PositionID: id, Price: price, Unrealized: v})
}

// HandleClose handles POST /api/v1/positions/{positionID}/close
func (s *Service) HandleClose(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !Decode(w, r, &req) {
		return
	}

	out, err := s.ClosePartial(r.Context(), chi.URLParam(r, "positionID"), req.Percent, *req.CurrentPrice)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusOK, closeResponse(out))
}

// HandleSettle handles POST /api/v1/positions/{positionID}/settle
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !Decode(w, r, &req) {
		return
	}

	out, err := s.Settle(r.Context(), chi.URLParam(r, "positionID"), *req.FinalResult)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusOK, closeResponse(out))
}

// HandleCancel handles POST /api/v1/positions/{positionID}/cancel
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	out, err := s.Cancel(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	WriteJSON(w, http.StatusOK, closeResponse(out))
}

func closeResponse(out *Outcome) CloseResponse {
	return CloseResponse{
		Position:           out.Position,
		Kind:               out.Kind,
		StakeClosed:        out.StakeClosed,
		ProfitLoss:         out.ProfitLoss,
		CollateralReleased: out.CollateralReleased,
		Credit:             out.Credit(),
		Balance:            out.Account.Balance(),
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
// Decode reads a JSON body into dst and validates it, writing a 400 and
// returning false on failure.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, settlement.ErrInvalidPercent),
		errors.Is(err, settlement.ErrInvalidBetType),
		errors.Is(err, collateral.ErrInvalidTerms):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrPositionClosed),
		errors.Is(err, settlement.ErrNotCancellable),
		errors.Is(err, store.ErrStaleState),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, collateral.ErrInsufficientBalance),
		errors.Is(err, exposure.ErrPerMatchLimitExceeded),
		errors.Is(err, exposure.ErrOpenLimitExceeded),
		errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteError writes a JSON error response with the status matching err.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
