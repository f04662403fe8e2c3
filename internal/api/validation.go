package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MJE43/dice-duel/internal/games"
)

// fieldError names the request field that failed validation.
type fieldError struct {
	Field   string
	Message string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *fieldError {
	return &fieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseSecret decodes a decimal uint64 secret.
func ParseSecret(field, s string) (games.Secret, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return games.Secret{}, invalid(field, "secret is required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return games.Secret{}, invalid(field, "secret must be a decimal uint64")
	}
	return games.SecretFromUint64(v), nil
}

// ParseGameID decodes a game id path parameter.
func ParseGameID(s string) (games.GameID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, invalid("id", "game id must be a non-negative integer, got %q", s)
	}
	return id, nil
}

// ParseMask checks that exactly one flag per die was sent.
func ParseMask(flags []bool) (games.Mask, error) {
	var m games.Mask
	if len(flags) != games.NumDice {
		return m, fmt.Errorf("%w: want %d flags, got %d", games.ErrInvalidMask, games.NumDice, len(flags))
	}
	copy(m[:], flags)
	return m, nil
}

func validateCoin(field string, c games.Coin) error {
	if strings.TrimSpace(c.Denom) == "" {
		return invalid(field+".denom", "denom is required")
	}
	return nil
}

// ValidateCreateGameRequest validates a create request and decodes its secret
func ValidateCreateGameRequest(req *CreateGameRequest) (games.Secret, error) {
	if err := validateCoin("base_bet", req.BaseBet); err != nil {
		return games.Secret{}, err
	}
	if err := validateCoin("stake", req.Stake); err != nil {
		return games.Secret{}, err
	}
	return ParseSecret("secret", req.Secret)
}

// ValidateJoinGameRequest validates a join request and decodes its secret
func ValidateJoinGameRequest(req *JoinGameRequest) (games.Secret, error) {
	if err := validateCoin("stake", req.Stake); err != nil {
		return games.Secret{}, err
	}
	return ParseSecret("secret", req.Secret)
}

// ValidateVerifyRequest validates a verify request
func ValidateVerifyRequest(req *VerifyRequest) (acting, other games.Secret, mask games.Mask, err error) {
	if acting, err = ParseSecret("acting_secret", req.ActingSecret); err != nil {
		return
	}
	if other, err = ParseSecret("other_secret", req.OtherSecret); err != nil {
		return
	}
	if req.Prev == nil {
		if len(req.Mask) != 0 {
			err = invalid("prev", "prev is required when a mask is given")
		}
		return
	}
	if !req.Prev.Valid() {
		err = invalid("prev", "dice must be five values in [1, 6]")
		return
	}
	mask, err = ParseMask(req.Mask)
	return
}
