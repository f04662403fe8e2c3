package games

import (
	"context"
	"fmt"
	"sync"
)

// Eligibility decides whether a player may enter a game with the given
// collateral token and base bet.
type Eligibility interface {
	Check(ctx context.Context, player, nftID string, bet Coin) error
}

// AllowAll accepts every request.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string, string, Coin) error { return nil }

// XPSource reports the experience points recorded for a token.
type XPSource interface {
	XP(ctx context.Context, nftID string) (uint64, error)
}

// XPTiers caps the base bet by the token's experience.
type XPTiers struct {
	Source XPSource
}

// MaxBetForXP returns the largest base bet amount a token with xp may place.
func MaxBetForXP(xp uint64) uint64 {
	switch {
	case xp <= 10:
		return 1
	case xp <= 20:
		return 2
	case xp <= 40:
		return 4
	default:
		return 8
	}
}

func (t XPTiers) Check(ctx context.Context, player, nftID string, bet Coin) error {
	if nftID == "" {
		return fmt.Errorf("%w: %s supplied no token", ErrIneligible, player)
	}
	xp, err := t.Source.XP(ctx, nftID)
	if err != nil {
		return fmt.Errorf("lookup xp for %s: %w", nftID, err)
	}
	// the lowest tier admits only the minimum bet
	if xp <= 10 && bet.Amount != 1 {
		return fmt.Errorf("%w: token %s has %d xp, bet must be 1", ErrIneligible, nftID, xp)
	}
	if limit := MaxBetForXP(xp); bet.Amount > limit {
		return fmt.Errorf("%w: token %s has %d xp, max bet %d", ErrIneligible, nftID, xp, limit)
	}
	return nil
}

// StaticXP is an in-memory XPSource. Unknown tokens have zero xp.
type StaticXP struct {
	mu sync.RWMutex
	xp map[string]uint64
}

func NewStaticXP(initial map[string]uint64) *StaticXP {
	s := &StaticXP{xp: make(map[string]uint64, len(initial))}
	for k, v := range initial {
		s.xp[k] = v
	}
	return s
}

func (s *StaticXP) Set(nftID string, xp uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xp[nftID] = xp
}

func (s *StaticXP) XP(_ context.Context, nftID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.xp[nftID], nil
}
