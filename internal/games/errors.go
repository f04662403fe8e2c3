package games

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBet        = errors.New("base bet can not be zero")
	ErrInsufficientStake = errors.New("not enough tokens for the game")
	ErrWrongState        = errors.New("game is not in the required status")
	ErrWrongTurn         = errors.New("given account can not make a roll now")
	ErrNotFinished       = errors.New("game is not finished")
	ErrNotAPlayer        = errors.New("account is not a player of this game")
	ErrAlreadyJoined     = errors.New("host can not join own game")
	ErrAlreadyRolled     = errors.New("player already rolled this round")
	ErrIneligible        = errors.New("nft is not eligible for the base bet")
	ErrInvalidMask       = errors.New("invalid reroll mask")
	ErrPoolUnderflow     = errors.New("escrow pool underflow")

	// ErrDenomMismatch is an InsufficientStake: the right amount in the
	// wrong denomination is no stake at all.
	ErrDenomMismatch = fmt.Errorf("%w: stake denomination does not match base bet", ErrInsufficientStake)
)

// StateError reports an operation attempted outside its required status.
// It matches ErrWrongState with errors.Is.
type StateError struct {
	Op   string
	Want Status
	Got  Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: game is %s, want %s", e.Op, e.Got, e.Want)
}

func (e *StateError) Is(target error) bool {
	return target == ErrWrongState
}
