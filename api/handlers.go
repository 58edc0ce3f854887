/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic. No business rules
  live here; every decision is the engine's.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                        Create account
    GET    /api/accounts/{id}/balance           Balance summary
    GET    /api/accounts/{id}/history           Paged ledger history
    GET    /api/accounts/{id}/expiring          Entries expiring soon
    POST   /api/accounts/{id}/earn              Credit points
    POST   /api/accounts/{id}/redeem            Spend points

  Progression:
    GET    /api/accounts/{id}/rank              Current rank
    GET    /api/accounts/{id}/tier              Tier state and history
    GET    /api/accounts/{id}/tier/progress     Progress toward next tier
    POST   /api/accounts/{id}/tier/points       Credit tier points

  Rewards:
    GET    /api/accounts/{id}/rewards/{rewardID}/eligibility
    POST   /api/accounts/{id}/rewards/{rewardID}/redeem

  Ledger:
    POST   /api/entries/{id}/reverse            Reverse an entry

  Catalog (seeding/config):
    POST   /api/catalog/ranks
    POST   /api/catalog/tiers
    POST   /api/catalog/rewards

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Account, entry, or reward not found
  - 409: Conflict (duplicate account, already reversed, insufficient balance)
  - 500: Internal errors
  Reward ineligibility is NOT an error: it is a 200 with can_redeem=false
  and a reason.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Catalog is the write surface for reference data (ranks, tiers, rewards).
// Configuration management, not engine territory; both stores provide it.
type Catalog interface {
	SaveRank(ctx context.Context, r loyalty.Rank) error
	SaveTier(ctx context.Context, t loyalty.Tier) error
	SaveReward(ctx context.Context, r loyalty.Reward) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *loyalty.Engine
	Catalog Catalog
}

// NewHandler creates a new handler over the engine and catalog.
func NewHandler(engine *loyalty.Engine, catalog Catalog) *Handler {
	return &Handler{Engine: engine, Catalog: catalog}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount creates a zero-balance account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.BusinessID == "" || req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "id, business_id and member_id are required", nil)
		return
	}

	a, err := h.Engine.CreateAccount(r.Context(), req.ID, req.BusinessID, req.MemberID)
	if err != nil {
		writeEngineError(w, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountDTO{
		ID:         a.ID,
		BusinessID: a.BusinessID,
		MemberID:   a.MemberID,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
	})
}

// GetBalance returns the account's three running totals.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.Engine.GetBalance(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:       id,
		AvailablePoints: b.Available,
		TotalPoints:     b.Total,
		LifetimePoints:  b.Lifetime,
	})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// Earn credits points to an account.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := loyalty.EntryKind(req.Kind)
	if req.Kind == "" {
		kind = loyalty.KindEarnedPurchase
	}

	var opts loyalty.EarnOptions
	if req.Multiplier != "" {
		m, err := decimal.NewFromString(req.Multiplier)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid multiplier", err)
			return
		}
		opts.Multiplier = m
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at (use RFC3339)", err)
			return
		}
		opts.ExpiresAt = &t
	}

	entry, err := h.Engine.CreateEarnedTransaction(r.Context(), id, req.Amount, kind,
		req.Description, loyalty.Reference{ID: req.ReferenceID, Type: req.ReferenceType}, opts)
	if err != nil {
		writeEngineError(w, "Failed to earn points", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// Redeem spends points from an account.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := loyalty.EntryKind(req.Kind)
	if req.Kind == "" {
		kind = loyalty.KindRedeemedCoupon
	}

	entry, err := h.Engine.CreateRedeemedTransaction(r.Context(), id, req.Amount, kind,
		req.Description, loyalty.Reference{ID: req.ReferenceID, Type: req.ReferenceType})
	if err != nil {
		writeEngineError(w, "Failed to redeem points", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// Reverse cancels a prior ledger entry, returning the compensating entry.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	comp, err := h.Engine.ReverseTransaction(r.Context(), entryID, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to reverse entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*comp))
}

// GetHistory returns a page of the account's ledger, newest first.
// Query params: page, page_size, kind, from, to (RFC3339).
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var f loyalty.HistoryFilter
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	f.Kind = loyalty.EntryKind(q.Get("kind"))
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339)", err)
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339)", err)
			return
		}
		f.To = &t
	}

	page, err := h.Engine.GetHistory(r.Context(), id, f)
	if err != nil {
		writeEngineError(w, "Failed to get history", err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryDTO{
		Entries:  toEntryDTOs(page.Entries),
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    page.Total,
	})
}

// GetExpiring returns earn entries whose points expire within the window.
// Query param: within_days (default 30).
func (h *Handler) GetExpiring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	days := 30
	if v := r.URL.Query().Get("within_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid within_days", err)
			return
		}
		days = n
	}

	entries, err := h.Engine.ExpiringSoon(r.Context(), id, time.Duration(days)*24*time.Hour)
	if err != nil {
		writeEngineError(w, "Failed to get expiring entries", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// PROGRESSION HANDLERS
// =============================================================================

// GetRank returns the account's current rank, or 204 when it has none.
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rank, err := h.Engine.GetCurrentRank(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get rank", err)
		return
	}
	if rank == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, toRankDTO(*rank))
}

// GetTierState returns the account's tier counters and achievement history.
func (h *Handler) GetTierState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := h.Engine.GetTierState(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get tier state", err)
		return
	}

	history := make([]TierAchievementDTO, len(state.History))
	for i, a := range state.History {
		history[i] = TierAchievementDTO{
			TierID:              a.TierID,
			PreviousTierID:      a.PreviousTierID,
			AchievedAt:          a.AchievedAt.Format(time.RFC3339),
			PointsAtAchievement: a.PointsAtAchievement,
		}
	}

	writeJSON(w, http.StatusOK, TierStateDTO{
		AccountID:          state.AccountID,
		TierPoints:         state.TierPoints,
		LifetimeTierPoints: state.LifetimeTierPoints,
		CurrentTierID:      state.CurrentTierID,
		History:            history,
	})
}

// GetTierProgress reports progress toward the next tier.
func (h *Handler) GetTierProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Engine.GetTierProgress(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get tier progress", err)
		return
	}

	writeJSON(w, http.StatusOK, TierProgressDTO{
		IsMaxTier:    p.IsMaxTier,
		Progress:     p.Progress.StringFixed(2),
		PointsNeeded: p.PointsNeeded,
		NextTier:     toTierDTO(p.NextTier),
	})
}

// AddTierPoints credits tier points to an account.
func (h *Handler) AddTierPoints(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddTierPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.AddTierPoints(r.Context(), id, req.Points, req.Description)
	if err != nil {
		writeEngineError(w, "Failed to add tier points", err)
		return
	}

	writeJSON(w, http.StatusOK, AddTierPointsDTO{
		OldTierPoints: result.OldTierPoints,
		NewTierPoints: result.NewTierPoints,
		TierUpgraded:  result.TierUpgraded,
		NewTier:       toTierDTO(result.NewTier),
	})
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// CheckEligibility answers whether the account may redeem the reward.
// Always 200 when both exist; ineligibility is data, not an error.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	rewardID := chi.URLParam(r, "rewardID")

	ok, reason, err := h.Engine.CanRedeemReward(r.Context(), accountID, rewardID)
	if err != nil {
		writeEngineError(w, "Failed to check eligibility", err)
		return
	}

	writeJSON(w, http.StatusOK, EligibilityDTO{CanRedeem: ok, Reason: reason})
}

// RedeemReward attempts the check-then-spend pair. An ineligible attempt is
// a 200 with redeemed=false; only infrastructure failures are errors.
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	rewardID := chi.URLParam(r, "rewardID")

	entry, reason, err := h.Engine.RedeemReward(r.Context(), accountID, rewardID)
	if err != nil {
		writeEngineError(w, "Failed to redeem reward", err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, RedeemRewardDTO{Redeemed: false, Reason: reason})
		return
	}

	dto := toEntryDTO(*entry)
	writeJSON(w, http.StatusCreated, RedeemRewardDTO{Redeemed: true, Entry: &dto})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// CreateRank defines a rank on a business's ladder.
func (h *Handler) CreateRank(w http.ResponseWriter, r *http.Request) {
	var req CreateRankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.BusinessID == "" {
		writeError(w, http.StatusBadRequest, "id and business_id are required", nil)
		return
	}

	rank := loyalty.Rank{
		ID:             req.ID,
		BusinessID:     req.BusinessID,
		Name:           req.Name,
		Level:          req.Level,
		PointsRequired: req.PointsRequired,
		Benefits:       req.Benefits,
	}
	if err := h.Catalog.SaveRank(r.Context(), rank); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create rank", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRankDTO(rank))
}

// CreateTier defines a tier on a business's ladder.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	var req CreateTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.BusinessID == "" {
		writeError(w, http.StatusBadRequest, "id and business_id are required", nil)
		return
	}

	tier := loyalty.Tier{
		ID:             req.ID,
		BusinessID:     req.BusinessID,
		Name:           req.Name,
		PointsRequired: req.PointsRequired,
	}
	if err := h.Catalog.SaveTier(r.Context(), tier); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create tier", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTierDTO(&tier))
}

// CreateReward defines a redeemable catalog reward.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req CreateRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.BusinessID == "" {
		writeError(w, http.StatusBadRequest, "id and business_id are required", nil)
		return
	}

	reward := loyalty.Reward{
		ID:                    req.ID,
		BusinessID:            req.BusinessID,
		Name:                  req.Name,
		PointsCost:            req.PointsCost,
		Active:                req.Active,
		MaxRedemptions:        req.MaxRedemptions,
		MaxRedemptionsPerUser: req.MaxRedemptionsPerUser,
		MinimumRankLevel:      req.MinimumRankLevel,
	}
	if req.ValidFrom != "" {
		t, err := time.Parse(time.RFC3339, req.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_from (use RFC3339)", err)
			return
		}
		reward.ValidFrom = &t
	}
	if req.ValidUntil != "" {
		t, err := time.Parse(time.RFC3339, req.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_until (use RFC3339)", err)
			return
		}
		reward.ValidUntil = &t
	}

	if err := h.Catalog.SaveReward(r.Context(), reward); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create reward", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case loyalty.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, loyalty.ErrAccountExists),
		errors.Is(err, loyalty.ErrAlreadyReversed),
		errors.Is(err, loyalty.ErrInsufficientBalance),
		errors.Is(err, loyalty.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	case loyalty.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
