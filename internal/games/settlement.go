package games

import (
	"fmt"
	"strings"
)

// PayoutReason tags why a payout instruction exists.
type PayoutReason string

const (
	ReasonResidual   PayoutReason = "residual"
	ReasonStake      PayoutReason = "stake"
	ReasonStakeSplit PayoutReason = "stake_split"
	ReasonForfeit    PayoutReason = "forfeit"
	ReasonRefund     PayoutReason = "refund"
)

// PayoutInstruction asks the funds-transfer collaborator to move Amount to
// Recipient.
type PayoutInstruction struct {
	Recipient string       `json:"recipient"`
	Amount    Coin         `json:"amount"`
	Reason    PayoutReason `json:"reason"`
}

// SettlementPolicy decides who receives the residual pools.
type SettlementPolicy uint8

const (
	// ReturnResiduals pays each player's unstaked pool back to them and the
	// contested stake to the winner.
	ReturnResiduals SettlementPolicy = iota
	// WinnerTakesAll also pays the loser's residual pool to the winner.
	// A tie falls back to ReturnResiduals.
	WinnerTakesAll
)

func (p SettlementPolicy) String() string {
	switch p {
	case ReturnResiduals:
		return "return_residuals"
	case WinnerTakesAll:
		return "winner_takes_all"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy parses the text form produced by SettlementPolicy.String.
func ParsePolicy(s string) (SettlementPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "return_residuals":
		return ReturnResiduals, nil
	case "winner_takes_all":
		return WinnerTakesAll, nil
	default:
		return 0, fmt.Errorf("unknown settlement policy %q", s)
	}
}

// Outcome is the result of a finished game.
type Outcome struct {
	Winner       *Player `json:"winner"`
	HostPoints   uint8   `json:"host_points"`
	JoinedPoints uint8   `json:"joined_points"`
	HostSum      int     `json:"host_sum"`
	JoinedSum    int     `json:"joined_sum"`
}

// IsTie reports whether no winner was determined.
func (o Outcome) IsTie() bool {
	return o.Winner == nil
}

// Winner decides a finished game: higher points win, then the higher sum of
// round-two dice. Outcome.Winner is nil on a full tie.
func (g *Game) Winner() (Outcome, error) {
	if !g.IsFinished() {
		return Outcome{}, ErrNotFinished
	}

	hostDice, _ := g.HostRoll.Round(1)
	joinedDice, _ := g.JoinedRoll.Round(1)
	out := Outcome{
		HostPoints:   g.HostPoints,
		JoinedPoints: g.JoinedPoints,
		HostSum:      hostDice.Sum(),
		JoinedSum:    joinedDice.Sum(),
	}

	var winner Player
	switch {
	case out.HostPoints > out.JoinedPoints:
		winner = Host
	case out.HostPoints < out.JoinedPoints:
		winner = Joined
	case out.HostSum > out.JoinedSum:
		winner = Host
	case out.HostSum < out.JoinedSum:
		winner = Joined
	default:
		return out, nil
	}
	out.Winner = &winner
	return out, nil
}

// Settle computes the payout instructions for a finished game. It reads only
// the game record, so repeated calls on the same record agree. Zero amounts
// are omitted and the instructions always sum to Pool.Sum.
func Settle(g *Game, policy SettlementPolicy) (Outcome, []PayoutInstruction, error) {
	out, err := g.Winner()
	if err != nil {
		return Outcome{}, nil, err
	}

	var payouts []PayoutInstruction
	pay := func(p Player, amount uint64, reason PayoutReason) {
		if amount == 0 {
			return
		}
		payouts = append(payouts, PayoutInstruction{
			Recipient: g.Address(p),
			Amount:    Coin{Denom: g.BaseBet.Denom, Amount: amount},
			Reason:    reason,
		})
	}

	if out.IsTie() {
		half := g.Pool.TotalStake / 2
		pay(Host, g.Pool.HostPool, ReasonResidual)
		pay(Joined, g.Pool.JoinedPool, ReasonResidual)
		// odd remainder goes to the host
		pay(Host, g.Pool.TotalStake-half, ReasonStakeSplit)
		pay(Joined, half, ReasonStakeSplit)
		return out, payouts, nil
	}

	winner := *out.Winner
	loser := winner.Other()
	pay(winner, g.Pool.Of(winner), ReasonResidual)
	if policy == WinnerTakesAll {
		pay(winner, g.Pool.Of(loser), ReasonForfeit)
	} else {
		pay(loser, g.Pool.Of(loser), ReasonResidual)
	}
	pay(winner, g.Pool.TotalStake, ReasonStake)
	return out, payouts, nil
}

// Totals sums instructions per recipient.
func Totals(payouts []PayoutInstruction) map[string]uint64 {
	totals := make(map[string]uint64, 2)
	for _, p := range payouts {
		totals[p.Recipient] += p.Amount.Amount
	}
	return totals
}
