// Package table runs dice duel games on top of a game store: it applies the
// game transitions atomically, publishes events, and records and dispatches
// the resulting payouts.
package table

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/MJE43/dice-duel/internal/bank"
	"github.com/MJE43/dice-duel/internal/events"
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
)

// Options tunes a Service.
type Options struct {
	Policy games.SettlementPolicy
	// AutoSettle ends a game as soon as its last reroll lands.
	AutoSettle bool
	// Eligibility gates create and join; nil allows everyone.
	Eligibility games.Eligibility
	Logger      *log.Logger
}

// Service is the entry point for every game operation.
type Service struct {
	games      store.GameStore
	ledger     store.PayoutStore
	dispatcher *bank.Dispatcher
	hub        *events.Hub
	opts       Options
	logger     *log.Logger
}

// New wires a Service. ledger must be the payout ledger gs records its
// settlements into. hub may be nil when nobody listens for events.
func New(gs store.GameStore, ledger store.PayoutStore, dispatcher *bank.Dispatcher, hub *events.Hub, opts Options) *Service {
	if opts.Eligibility == nil {
		opts.Eligibility = games.AllowAll{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[TABLE] ", log.LstdFlags)
	}
	return &Service{
		games:      gs,
		ledger:     ledger,
		dispatcher: dispatcher,
		hub:        hub,
		opts:       opts,
		logger:     logger,
	}
}

// CreateRequest opens a game.
type CreateRequest struct {
	Host    string
	NFTID   string
	BaseBet games.Coin
	Secret  games.Secret
	Stake   games.Coin
}

// JoinRequest seats the second player.
type JoinRequest struct {
	Player string
	NFTID  string
	Secret games.Secret
	Stake  games.Coin
}

// Created is the result of CreateGame. Refund is set when the stake exceeded
// the lock.
type Created struct {
	ID     games.GameID      `json:"id"`
	Game   games.Game        `json:"game"`
	Refund *store.Settlement `json:"refund,omitempty"`
}

// Joined is the result of JoinGame.
type Joined struct {
	Game   games.Game        `json:"game"`
	Refund *store.Settlement `json:"refund,omitempty"`
}

// Rerolled is the result of ReRoll. Settlement is set when the reroll
// finished the game and AutoSettle is on.
type Rerolled struct {
	Dice       games.Dice        `json:"dice"`
	Game       *games.Game       `json:"game,omitempty"`
	Settlement *store.Settlement `json:"settlement,omitempty"`
}

func (s *Service) CreateGame(ctx context.Context, req CreateRequest) (*Created, error) {
	if err := games.ValidateBet(req.BaseBet); err != nil {
		return nil, err
	}
	if err := s.opts.Eligibility.Check(ctx, req.Host, req.NFTID, req.BaseBet); err != nil {
		return nil, err
	}

	var (
		game   games.Game
		excess uint64
		refund *store.Settlement
	)
	id, err := s.games.Create(ctx, func(id games.GameID, box *store.Outbox) (*games.GameDetails, error) {
		d, ex, err := games.NewGame(req.Host, req.NFTID, req.BaseBet, req.Secret, req.Stake)
		if err != nil {
			return nil, err
		}
		game, excess = d.Game, ex
		refund = refundSettlement(id, req.Host, req.Stake.Denom, ex)
		if refund != nil {
			box.Add(refund)
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("game_created game_id=%d host=%s base_bet=%s secret_hash=%s excess=%d",
		id, req.Host, req.BaseBet, req.Secret.Fingerprint(), excess)
	s.publish(events.Event{Type: events.GameCreated, GameID: id, Player: req.Host, Game: &game})

	s.deliver(ctx, refund)
	return &Created{ID: id, Game: game, Refund: refund}, nil
}

func (s *Service) JoinGame(ctx context.Context, id games.GameID, req JoinRequest) (*Joined, error) {
	current, err := s.games.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.opts.Eligibility.Check(ctx, req.Player, req.NFTID, current.BaseBet); err != nil {
		return nil, err
	}

	var (
		game   games.Game
		excess uint64
		refund *store.Settlement
	)
	err = s.games.Update(ctx, id, func(d *games.GameDetails, box *store.Outbox) (store.Action, error) {
		ex, err := d.Join(req.Player, req.NFTID, req.Secret, req.Stake)
		if err != nil {
			return store.Keep, err
		}
		game, excess = d.Game, ex
		refund = refundSettlement(id, req.Player, req.Stake.Denom, ex)
		if refund != nil {
			box.Add(refund)
		}
		return store.Save, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("game_joined game_id=%d player=%s secret_hash=%s excess=%d",
		id, req.Player, req.Secret.Fingerprint(), excess)
	s.publish(events.Event{Type: events.GameJoined, GameID: id, Player: req.Player, Game: &game})

	s.deliver(ctx, refund)
	return &Joined{Game: game, Refund: refund}, nil
}

func (s *Service) Roll(ctx context.Context, id games.GameID, caller string) (games.Dice, error) {
	var (
		dice games.Dice
		game games.Game
	)
	err := s.games.Update(ctx, id, func(d *games.GameDetails, _ *store.Outbox) (store.Action, error) {
		var err error
		dice, err = d.Roll(id, caller)
		if err != nil {
			return store.Keep, err
		}
		game = d.Game
		return store.Save, nil
	})
	if err != nil {
		return games.Dice{}, err
	}

	s.logger.Printf("game_rolled game_id=%d player=%s dice=%v status=%s", id, caller, dice, game.Status)
	s.publish(events.Event{Type: events.GameRolled, GameID: id, Player: caller, Dice: &dice, Game: &game})
	return dice, nil
}

func (s *Service) ReRoll(ctx context.Context, id games.GameID, caller string, mask games.Mask) (*Rerolled, error) {
	var (
		dice games.Dice
		game games.Game
		st   *store.Settlement
	)
	err := s.games.Update(ctx, id, func(d *games.GameDetails, box *store.Outbox) (store.Action, error) {
		var err error
		dice, err = d.ReRoll(id, caller, mask)
		if err != nil {
			return store.Keep, err
		}
		game = d.Game
		if !s.opts.AutoSettle || !d.IsFinished() {
			return store.Save, nil
		}
		st, err = s.settle(id, &d.Game, caller)
		if err != nil {
			return store.Keep, err
		}
		box.Add(st)
		return store.Delete, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("game_rerolled game_id=%d player=%s rerolled=%d dice=%v", id, caller, mask.Count(), dice)
	s.publish(events.Event{Type: events.GameRerolled, GameID: id, Player: caller, Dice: &dice, Game: &game})

	out := &Rerolled{Dice: dice}
	if st == nil {
		out.Game = &game
		return out, nil
	}
	s.finish(ctx, st)
	out.Settlement = st
	return out, nil
}

// EndGame settles a finished game and removes it. Anyone may trigger it.
// The settlement is recorded in the same commit that removes the game, so a
// failure leaves the game in place for another attempt.
func (s *Service) EndGame(ctx context.Context, id games.GameID, caller string) (*store.Settlement, error) {
	var st *store.Settlement
	err := s.games.Update(ctx, id, func(d *games.GameDetails, box *store.Outbox) (store.Action, error) {
		var err error
		st, err = s.settle(id, &d.Game, caller)
		if err != nil {
			return store.Keep, err
		}
		box.Add(st)
		return store.Delete, nil
	})
	if err != nil {
		return nil, err
	}
	s.finish(ctx, st)
	return st, nil
}

// GetGame returns the public view of a game.
func (s *Service) GetGame(ctx context.Context, id games.GameID) (*games.Game, error) {
	d, err := s.games.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &d.Game, nil
}

// ListGames returns the games in one status, ordered by id.
func (s *Service) ListGames(ctx context.Context, status games.Status) ([]store.Entry, error) {
	return s.games.List(ctx, status)
}

func (s *Service) ListSettlements(ctx context.Context, q store.SettlementsQuery) ([]store.Settlement, error) {
	return s.ledger.ListSettlements(ctx, q)
}

// outboxRelayer is a game store that stages settlements before its ledger
// holds them.
type outboxRelayer interface {
	RelayOutbox(ctx context.Context) (int, error)
}

// RetryPayouts relays staged settlements, then redelivers up to limit
// pending payouts.
func (s *Service) RetryPayouts(ctx context.Context, limit int) (int, error) {
	if r, ok := s.games.(outboxRelayer); ok {
		if _, err := r.RelayOutbox(ctx); err != nil {
			s.logger.Printf("outbox_relay_incomplete error=%v", err)
		}
	}
	return s.dispatcher.Sweep(ctx, limit)
}

// Ping checks the game store.
func (s *Service) Ping(ctx context.Context) error {
	return s.games.Ping(ctx)
}

func (s *Service) settle(id games.GameID, g *games.Game, caller string) (*store.Settlement, error) {
	outcome, payouts, err := games.Settle(g, s.opts.Policy)
	if err != nil {
		return nil, err
	}
	return store.NewSettlement(id, store.KindSettlement, &outcome, caller, payouts), nil
}

// finish pays out a committed settlement. A delivery failure leaves the
// payouts pending and is only logged.
func (s *Service) finish(ctx context.Context, st *store.Settlement) {
	s.deliver(ctx, st)

	outcome := st.Outcome
	winner := "none"
	if outcome.Winner != nil {
		winner = outcome.Winner.String()
	}
	s.logger.Printf("game_settled game_id=%d by=%s winner=%s host_points=%d joined_points=%d payouts=%d policy=%s",
		st.GameID, st.CreatedBy, winner, outcome.HostPoints, outcome.JoinedPoints, len(st.Payouts), s.opts.Policy)
	s.publish(events.Event{Type: events.GameSettled, GameID: st.GameID, Player: st.CreatedBy, Payouts: instructions(st)})
}

// refundSettlement returns the refund for stake above the lock, or nil.
func refundSettlement(id games.GameID, player, denom string, excess uint64) *store.Settlement {
	if excess == 0 {
		return nil
	}
	return store.NewSettlement(id, store.KindRefund, nil, player, []games.PayoutInstruction{
		{Recipient: player, Amount: games.Coin{Denom: denom, Amount: excess}, Reason: games.ReasonRefund},
	})
}

func (s *Service) deliver(ctx context.Context, st *store.Settlement) {
	if st == nil {
		return
	}
	if err := s.dispatcher.Deliver(ctx, st); err != nil {
		s.logger.Printf("payout_delivery_incomplete game_id=%d settlement_id=%s kind=%s error=%v", st.GameID, st.ID, st.Kind, err)
	}
}

func instructions(st *store.Settlement) []games.PayoutInstruction {
	out := make([]games.PayoutInstruction, len(st.Payouts))
	for i, p := range st.Payouts {
		out[i] = p.Instruction
	}
	return out
}

func (s *Service) publish(ev events.Event) {
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}

// IsNotFound reports whether err means the game does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
