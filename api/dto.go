/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, CreateAccountRequest, BalanceDTO

  Ledger:
    EntryDTO, EarnRequest, RedeemRequest, ReverseRequest, HistoryDTO

  Progression:
    RankDTO, TierStateDTO, TierProgressDTO, AddTierPointsRequest

  Rewards:
    EligibilityDTO, RedeemRewardDTO

  Catalog seeding:
    CreateRankRequest, CreateTierRequest, CreateRewardRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - loyalty/types.go: The domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID              string `json:"id"`
	BusinessID      string `json:"business_id"`
	MemberID        string `json:"member_id"`
	AvailablePoints int64  `json:"available_points"`
	TotalPoints     int64  `json:"total_points"`
	LifetimePoints  int64  `json:"lifetime_points"`
	CurrentRankID   string `json:"current_rank_id,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	MemberID   string `json:"member_id"`
}

// BalanceDTO represents the three running totals.
type BalanceDTO struct {
	AccountID       string `json:"account_id"`
	AvailablePoints int64  `json:"available_points"`
	TotalPoints     int64  `json:"total_points"`
	LifetimePoints  int64  `json:"lifetime_points"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Kind           string `json:"kind"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	ReferenceType  string `json:"reference_type,omitempty"`
	BalanceBefore  int64  `json:"balance_before"`
	BalanceAfter   int64  `json:"balance_after"`
	Multiplier     string `json:"multiplier,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	IsReversed     bool   `json:"is_reversed,omitempty"`
	ReversalReason string `json:"reversal_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// EarnRequest credits points to an account.
type EarnRequest struct {
	Amount        int64  `json:"amount"`
	Kind          string `json:"kind"` // defaults to earned_purchase
	Description   string `json:"description"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	Multiplier    string `json:"multiplier,omitempty"` // decimal string, e.g. "2.5"
	ExpiresAt     string `json:"expires_at,omitempty"` // RFC3339
}

// RedeemRequest spends points from an account.
type RedeemRequest struct {
	Amount        int64  `json:"amount"`
	Kind          string `json:"kind"` // defaults to redeemed_coupon
	Description   string `json:"description"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
}

// ReverseRequest cancels a prior entry.
type ReverseRequest struct {
	Reason string `json:"reason"`
}

// HistoryDTO is one page of ledger entries, newest first.
type HistoryDTO struct {
	Entries  []EntryDTO `json:"entries"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}

// =============================================================================
// PROGRESSION TYPES
// =============================================================================

// RankDTO represents a rank in API responses.
type RankDTO struct {
	ID             string `json:"id"`
	BusinessID     string `json:"business_id"`
	Name           string `json:"name"`
	Level          int    `json:"level"`
	PointsRequired int64  `json:"points_required"`
	Benefits       string `json:"benefits,omitempty"`
}

// TierDTO represents a tier in API responses.
type TierDTO struct {
	ID             string `json:"id"`
	BusinessID     string `json:"business_id"`
	Name           string `json:"name"`
	PointsRequired int64  `json:"points_required"`
}

// TierAchievementDTO is one tier history record.
type TierAchievementDTO struct {
	TierID              string `json:"tier_id"`
	PreviousTierID      string `json:"previous_tier_id,omitempty"`
	AchievedAt          string `json:"achieved_at"`
	PointsAtAchievement int64  `json:"points_at_achievement"`
}

// TierStateDTO represents an account's tier counters and history.
type TierStateDTO struct {
	AccountID          string               `json:"account_id"`
	TierPoints         int64                `json:"tier_points"`
	LifetimeTierPoints int64                `json:"lifetime_tier_points"`
	CurrentTierID      string               `json:"current_tier_id,omitempty"`
	History            []TierAchievementDTO `json:"history"`
}

// TierProgressDTO reports progress toward the next tier.
type TierProgressDTO struct {
	IsMaxTier    bool     `json:"is_max_tier"`
	Progress     string   `json:"progress"` // percent, decimal string
	PointsNeeded int64    `json:"points_needed,omitempty"`
	NextTier     *TierDTO `json:"next_tier,omitempty"`
}

// AddTierPointsRequest credits tier points.
type AddTierPointsRequest struct {
	Points      int64  `json:"points"`
	Description string `json:"description"`
}

// AddTierPointsDTO is the result of a tier point credit.
type AddTierPointsDTO struct {
	OldTierPoints int64    `json:"old_tier_points"`
	NewTierPoints int64    `json:"new_tier_points"`
	TierUpgraded  bool     `json:"tier_upgraded"`
	NewTier       *TierDTO `json:"new_tier,omitempty"`
}

// =============================================================================
// REWARD TYPES
// =============================================================================

// EligibilityDTO is the answer to "can this account redeem this reward?".
type EligibilityDTO struct {
	CanRedeem bool   `json:"can_redeem"`
	Reason    string `json:"reason,omitempty"`
}

// RedeemRewardDTO wraps the outcome of a reward redemption attempt.
// Exactly one of Entry/Reason is set.
type RedeemRewardDTO struct {
	Redeemed bool      `json:"redeemed"`
	Reason   string    `json:"reason,omitempty"`
	Entry    *EntryDTO `json:"entry,omitempty"`
}

// =============================================================================
// CATALOG SEEDING TYPES
// =============================================================================

// CreateRankRequest defines a rank on a business's ladder.
type CreateRankRequest struct {
	ID             string `json:"id"`
	BusinessID     string `json:"business_id"`
	Name           string `json:"name"`
	Level          int    `json:"level"`
	PointsRequired int64  `json:"points_required"`
	Benefits       string `json:"benefits,omitempty"`
}

// CreateTierRequest defines a tier on a business's ladder.
type CreateTierRequest struct {
	ID             string `json:"id"`
	BusinessID     string `json:"business_id"`
	Name           string `json:"name"`
	PointsRequired int64  `json:"points_required"`
}

// CreateRewardRequest defines a redeemable catalog reward.
type CreateRewardRequest struct {
	ID                    string `json:"id"`
	BusinessID            string `json:"business_id"`
	Name                  string `json:"name"`
	PointsCost            int64  `json:"points_cost"`
	Active                bool   `json:"active"`
	ValidFrom             string `json:"valid_from,omitempty"`  // RFC3339
	ValidUntil            string `json:"valid_until,omitempty"` // RFC3339
	MaxRedemptions        int    `json:"max_redemptions,omitempty"`
	MaxRedemptionsPerUser int    `json:"max_redemptions_per_user,omitempty"`
	MinimumRankLevel      *int   `json:"minimum_rank_level,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toEntryDTO(e loyalty.LedgerEntry) EntryDTO {
	dto := EntryDTO{
		ID:             e.ID,
		AccountID:      e.AccountID,
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		Description:    e.Description,
		ReferenceID:    e.Reference.ID,
		ReferenceType:  e.Reference.Type,
		BalanceBefore:  e.BalanceBefore,
		BalanceAfter:   e.BalanceAfter,
		Multiplier:     e.Multiplier.String(),
		IsReversed:     e.IsReversed,
		ReversalReason: e.ReversalReason,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpiresAt != nil {
		dto.ExpiresAt = e.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

func toEntryDTOs(entries []loyalty.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toRankDTO(r loyalty.Rank) RankDTO {
	return RankDTO{
		ID:             r.ID,
		BusinessID:     r.BusinessID,
		Name:           r.Name,
		Level:          r.Level,
		PointsRequired: r.PointsRequired,
		Benefits:       r.Benefits,
	}
}

func toTierDTO(t *loyalty.Tier) *TierDTO {
	if t == nil {
		return nil
	}
	return &TierDTO{
		ID:             t.ID,
		BusinessID:     t.BusinessID,
		Name:           t.Name,
		PointsRequired: t.PointsRequired,
	}
}
