package api

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
)

// Formatter renders base-unit amounts as decimals of the whole token.
type Formatter struct {
	exponent int32
}

func NewFormatter(exponent int32) Formatter {
	return Formatter{exponent: exponent}
}

// Amount shifts amount right by the configured exponent.
func (f Formatter) Amount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -f.exponent).String()
}

func (f Formatter) Game(id games.GameID, g games.Game) GameResponse {
	return GameResponse{
		ID:       id,
		Game:     g,
		Finished: g.IsFinished(),
		Display: DisplayAmounts{
			BaseBet:    f.Amount(g.BaseBet.Amount),
			Locked:     f.Amount(games.LockedPerPlayer(g.BaseBet).Amount),
			TotalStake: f.Amount(g.Pool.TotalStake),
			HostPool:   f.Amount(g.Pool.HostPool),
			JoinedPool: f.Amount(g.Pool.JoinedPool),
		},
		EngineVersion: EngineVersion,
	}
}

func (f Formatter) Settlement(st *store.Settlement) *SettlementView {
	if st == nil {
		return nil
	}
	view := &SettlementView{Settlement: *st, Payouts: make([]PayoutView, 0, len(st.Payouts))}
	for _, p := range st.Payouts {
		view.Payouts = append(view.Payouts, PayoutView{
			Payout:        p,
			DisplayAmount: f.Amount(p.Instruction.Amount.Amount),
		})
	}
	return view
}
