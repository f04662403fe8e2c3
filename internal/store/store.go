package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/dice-duel/internal/games"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Action tells Update what to do with the record after the callback.
type Action uint8

const (
	// Keep discards any changes the callback made.
	Keep Action = iota
	// Save commits the modified record.
	Save
	// Delete removes the record.
	Delete
)

// Entry pairs a game with its id.
type Entry struct {
	ID   games.GameID `json:"id"`
	Game games.Game   `json:"game"`
}

// Outbox collects the settlements produced by a game change. They are
// committed together with the change: either both are stored or neither.
type Outbox struct {
	settlements []*Settlement
}

// Add queues s for the pending commit.
func (o *Outbox) Add(s *Settlement) {
	o.settlements = append(o.settlements, s)
}

// Settlements returns the queued settlements.
func (o *Outbox) Settlements() []*Settlement {
	return o.settlements
}

// BuildFunc constructs a new record once its id is allocated.
type BuildFunc func(id games.GameID, out *Outbox) (*games.GameDetails, error)

// UpdateFunc mutates a private copy of a record. Returning an error or Keep
// leaves the stored record untouched and discards the outbox.
type UpdateFunc func(d *games.GameDetails, out *Outbox) (Action, error)

// GameStore owns the id to record map. Update is atomic per game: no two
// callbacks for the same id run concurrently and a failed callback writes
// nothing. Settlements queued in the outbox land in the store's payout
// ledger in the same commit as the record change.
type GameStore interface {
	Create(ctx context.Context, build BuildFunc) (games.GameID, error)
	Get(ctx context.Context, id games.GameID) (*games.GameDetails, error)
	List(ctx context.Context, status games.Status) ([]Entry, error)
	Update(ctx context.Context, id games.GameID, fn UpdateFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// --------- Settlement ledger ---------

type SettlementKind string

const (
	KindSettlement SettlementKind = "settlement"
	KindRefund     SettlementKind = "refund"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	// PayoutInFlight marks a payout claimed by a sender. A claim older than
	// the sender's lease may be taken over.
	PayoutInFlight PayoutStatus = "in_flight"
	PayoutSent     PayoutStatus = "sent"
	PayoutFailed   PayoutStatus = "failed"
)

// Settlement records the payouts produced for one game event.
type Settlement struct {
	ID        uuid.UUID      `json:"id"`
	GameID    games.GameID   `json:"game_id"`
	Kind      SettlementKind `json:"kind"`
	Outcome   *games.Outcome `json:"outcome,omitempty"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	Payouts   []Payout       `json:"payouts"`
}

// Payout is one instruction of a settlement and its delivery state.
type Payout struct {
	ID           uuid.UUID               `json:"id"`
	SettlementID uuid.UUID               `json:"settlement_id"`
	Seq          int                     `json:"seq"`
	Instruction  games.PayoutInstruction `json:"instruction"`
	Status       PayoutStatus            `json:"status"`
	Attempts     int                     `json:"attempts"`
	LastError    string                  `json:"last_error,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
	ClaimedAt    time.Time               `json:"-"`
}

// claimable reports whether a claim on p may be taken now.
func (p *Payout) claimable(staleBefore time.Time) bool {
	switch p.Status {
	case PayoutPending:
		return true
	case PayoutInFlight:
		return p.ClaimedAt.Before(staleBefore)
	}
	return false
}

// NewSettlement assigns ids and pending status to a batch of instructions.
func NewSettlement(gameID games.GameID, kind SettlementKind, outcome *games.Outcome, createdBy string, instructions []games.PayoutInstruction) *Settlement {
	now := time.Now().UTC()
	s := &Settlement{
		ID:        uuid.New(),
		GameID:    gameID,
		Kind:      kind,
		Outcome:   outcome,
		CreatedBy: createdBy,
		CreatedAt: now,
		Payouts:   make([]Payout, 0, len(instructions)),
	}
	for i, in := range instructions {
		s.Payouts = append(s.Payouts, Payout{
			ID:           uuid.New(),
			SettlementID: s.ID,
			Seq:          i,
			Instruction:  in,
			Status:       PayoutPending,
			UpdatedAt:    now,
		})
	}
	return s
}

// SettlementsQuery filters ListSettlements. Zero values match everything.
type SettlementsQuery struct {
	GameID *games.GameID
	Player string
	Limit  int
}

// PayoutStore persists settlements so undelivered payouts survive restarts.
//
// A sender must win ClaimPayout before moving funds. Claims are leases:
// PendingPayouts and ClaimPayout treat an in-flight payout claimed before
// staleBefore as abandoned.
type PayoutStore interface {
	SaveSettlement(ctx context.Context, s *Settlement) error
	PendingPayouts(ctx context.Context, limit int, staleBefore time.Time) ([]Payout, error)
	ClaimPayout(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)
	MarkPayout(ctx context.Context, id uuid.UUID, status PayoutStatus, lastErr string) error
	ListSettlements(ctx context.Context, q SettlementsQuery) ([]Settlement, error)
}

func (q SettlementsQuery) matches(s *Settlement) bool {
	if q.GameID != nil && s.GameID != *q.GameID {
		return false
	}
	if q.Player == "" {
		return true
	}
	for _, p := range s.Payouts {
		if p.Instruction.Recipient == q.Player {
			return true
		}
	}
	return s.CreatedBy == q.Player
}
