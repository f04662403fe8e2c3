package games

import "fmt"

// LockedPerPlayer is the collateral each player escrows: one base bet per
// die per round.
func LockedPerPlayer(bet Coin) Coin {
	return Coin{Denom: bet.Denom, Amount: bet.Amount * NumDice * NumRounds}
}

// ValidateBet rejects a zero or oversized base bet.
func ValidateBet(bet Coin) error {
	if bet.Amount == 0 {
		return ErrInvalidBet
	}
	if bet.Amount > MaxBaseBetAmount {
		return fmt.Errorf("%w: amount %d exceeds %d", ErrInvalidBet, bet.Amount, uint64(MaxBaseBetAmount))
	}
	if bet.Denom == "" {
		return fmt.Errorf("%w: denomination is required", ErrInvalidBet)
	}
	return nil
}

// CheckStake verifies that stake covers the lock for bet and returns the
// excess over the lock.
func CheckStake(bet, stake Coin) (excess uint64, err error) {
	locked := LockedPerPlayer(bet)
	if stake.Denom != bet.Denom {
		return 0, ErrDenomMismatch
	}
	if stake.Amount < locked.Amount {
		return 0, fmt.Errorf("%w: sent %s, need %s", ErrInsufficientStake, stake, locked)
	}
	return stake.Amount - locked.Amount, nil
}

// Pool is the escrow ledger of one game. TotalStake is contested, the
// per-player pools hold the residual lock.
type Pool struct {
	TotalStake uint64 `json:"total_stake"`
	HostPool   uint64 `json:"host_pool"`
	JoinedPool uint64 `json:"joined_pool"`
}

// Of returns the residual pool of p.
func (p Pool) Of(pl Player) uint64 {
	if pl == Host {
		return p.HostPool
	}
	return p.JoinedPool
}

// Sum is the conserved total held by the game.
func (p Pool) Sum() uint64 {
	return p.TotalStake + p.HostPool + p.JoinedPool
}

// Stake moves amount from p's residual pool into the contested stake and
// returns the updated pool. The receiver is not modified.
func (p Pool) Stake(pl Player, amount uint64) (Pool, error) {
	if p.Of(pl) < amount {
		return p, fmt.Errorf("%w: %s pool holds %d, staking %d", ErrPoolUnderflow, pl, p.Of(pl), amount)
	}
	if pl == Host {
		p.HostPool -= amount
	} else {
		p.JoinedPool -= amount
	}
	p.TotalStake += amount
	return p, nil
}
