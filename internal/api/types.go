package api

import (
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeValidation    = "validation_error"
	ErrTypeInvalidSecret = "invalid_secret"
	ErrTypeInvalidBet    = "invalid_bet"
	ErrTypeInvalidMask   = "invalid_mask"

	// Game-related errors
	ErrTypeGameNotFound      = "game_not_found"
	ErrTypeWrongState        = "wrong_state"
	ErrTypeWrongTurn         = "wrong_turn"
	ErrTypeAlreadyJoined     = "already_joined"
	ErrTypeAlreadyRolled     = "already_rolled"
	ErrTypeNotFinished       = "not_finished"
	ErrTypeNotAPlayer        = "not_a_player"
	ErrTypeIneligible        = "ineligible"
	ErrTypeInsufficientStake = "insufficient_stake"
	ErrTypeDenomMismatch     = "denom_mismatch"

	// Auth errors
	ErrTypeUnauthorized = "unauthorized"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeConflict           = "conflict"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategoryAuth       ErrorCategory = "auth"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation, ErrTypeInvalidSecret, ErrTypeInvalidBet, ErrTypeInvalidMask:
		return CategoryValidation
	case ErrTypeGameNotFound, ErrTypeWrongState, ErrTypeWrongTurn, ErrTypeAlreadyJoined,
		ErrTypeAlreadyRolled, ErrTypeNotFinished, ErrTypeNotAPlayer, ErrTypeIneligible,
		ErrTypeInsufficientStake, ErrTypeDenomMismatch:
		return CategoryGame
	case ErrTypeUnauthorized:
		return CategoryAuth
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// CreateGameRequest opens a game for the authenticated caller. Secret is a
// decimal uint64.
type CreateGameRequest struct {
	NFTID   string     `json:"nft_id"`
	BaseBet games.Coin `json:"base_bet"`
	Secret  string     `json:"secret"`
	Stake   games.Coin `json:"stake"`
}

// JoinGameRequest seats the authenticated caller in a pending game.
type JoinGameRequest struct {
	NFTID  string     `json:"nft_id"`
	Secret string     `json:"secret"`
	Stake  games.Coin `json:"stake"`
}

// ReRollRequest flags the dice to redraw.
type ReRollRequest struct {
	Mask []bool `json:"mask"`
}

// VerifyRequest recomputes dice from revealed secrets. Prev and Mask are
// set to check a reroll instead of a first-round roll.
type VerifyRequest struct {
	GameID       games.GameID `json:"game_id"`
	ActingSecret string       `json:"acting_secret"`
	OtherSecret  string       `json:"other_secret"`
	Prev         *games.Dice  `json:"prev,omitempty"`
	Mask         []bool       `json:"mask,omitempty"`
}

// VerifyResponse carries the recomputed dice and their score.
type VerifyResponse struct {
	Dice          games.Dice    `json:"dice"`
	Rank          string        `json:"rank"`
	Points        uint8         `json:"points"`
	EngineVersion string        `json:"engine_version"`
	Echo          VerifyRequest `json:"echo"`
}

// DisplayAmounts renders escrow amounts as decimals of the whole token.
type DisplayAmounts struct {
	BaseBet    string `json:"base_bet"`
	Locked     string `json:"locked_per_player"`
	TotalStake string `json:"total_stake"`
	HostPool   string `json:"host_pool"`
	JoinedPool string `json:"joined_pool"`
}

// GameResponse is the public view of one game.
type GameResponse struct {
	ID            games.GameID   `json:"id"`
	Game          games.Game     `json:"game"`
	Finished      bool           `json:"finished"`
	Display       DisplayAmounts `json:"display"`
	EngineVersion string         `json:"engine_version"`
}

// CreateGameResponse is returned by the create endpoint.
type CreateGameResponse struct {
	GameResponse
	Refund *SettlementView `json:"refund,omitempty"`
}

// JoinGameResponse is returned by the join endpoint.
type JoinGameResponse struct {
	GameResponse
	Refund *SettlementView `json:"refund,omitempty"`
}

// RollResponse is returned by roll and reroll.
type RollResponse struct {
	GameID        games.GameID    `json:"game_id"`
	Dice          games.Dice      `json:"dice"`
	Points        uint8           `json:"points"`
	Game          *games.Game     `json:"game,omitempty"`
	Settlement    *SettlementView `json:"settlement,omitempty"`
	EngineVersion string          `json:"engine_version"`
}

// GamesResponse lists games in one status.
type GamesResponse struct {
	Status        games.Status  `json:"status"`
	Games         []store.Entry `json:"games"`
	EngineVersion string        `json:"engine_version"`
}

// PayoutView is a payout with its display amount.
type PayoutView struct {
	store.Payout
	DisplayAmount string `json:"display_amount"`
}

// SettlementView is a settlement with display amounts.
type SettlementView struct {
	store.Settlement
	Payouts []PayoutView `json:"payouts"`
}

// SettlementsResponse lists recorded settlements.
type SettlementsResponse struct {
	Settlements   []SettlementView `json:"settlements"`
	EngineVersion string           `json:"engine_version"`
}
