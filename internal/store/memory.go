package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/dice-duel/internal/games"
)

// MemoryStore keeps games and settlements in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	nextID games.GameID
	games  map[games.GameID]games.GameDetails

	settlements []*Settlement
	payouts     map[uuid.UUID]*Payout
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:   make(map[games.GameID]games.GameDetails),
		payouts: make(map[uuid.UUID]*Payout),
	}
}

func (m *MemoryStore) Create(ctx context.Context, build BuildFunc) (games.GameID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	if _, exists := m.games[id]; exists {
		return 0, fmt.Errorf("game %d: %w", id, ErrAlreadyExists)
	}
	var out Outbox
	d, err := build(id, &out)
	if err != nil {
		return 0, err
	}
	if err := m.saveSettlementsLocked(out.Settlements()); err != nil {
		return 0, err
	}
	m.games[id] = *d
	m.nextID++
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id games.GameID) (*games.GameDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %d: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (m *MemoryStore) List(ctx context.Context, status games.Status) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0)
	for id, d := range m.games {
		if d.Status == status {
			entries = append(entries, Entry{ID: id, Game: d.Game})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (m *MemoryStore) Update(ctx context.Context, id games.GameID, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.games[id]
	if !ok {
		return fmt.Errorf("game %d: %w", id, ErrNotFound)
	}
	working := current
	var out Outbox
	action, err := fn(&working, &out)
	if err != nil {
		return err
	}
	switch action {
	case Keep:
		return nil
	case Save, Delete:
	default:
		return fmt.Errorf("unknown store action %d", action)
	}
	if err := m.saveSettlementsLocked(out.Settlements()); err != nil {
		return err
	}
	if action == Save {
		m.games[id] = working
	} else {
		delete(m.games, id)
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

// --------- PayoutStore ---------

func (m *MemoryStore) SaveSettlement(ctx context.Context, s *Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSettlementsLocked([]*Settlement{s})
}

// saveSettlementsLocked stores every settlement or none of them.
func (m *MemoryStore) saveSettlementsLocked(batch []*Settlement) error {
	seen := make(map[uuid.UUID]bool, len(batch))
	for _, s := range batch {
		if seen[s.ID] || m.hasSettlementLocked(s.ID) {
			return fmt.Errorf("settlement %s: %w", s.ID, ErrAlreadyExists)
		}
		seen[s.ID] = true
	}
	for _, s := range batch {
		stored := *s
		stored.Payouts = append([]Payout(nil), s.Payouts...)
		m.settlements = append(m.settlements, &stored)
		for i := range stored.Payouts {
			m.payouts[stored.Payouts[i].ID] = &stored.Payouts[i]
		}
	}
	return nil
}

func (m *MemoryStore) hasSettlementLocked(id uuid.UUID) bool {
	for _, existing := range m.settlements {
		if existing.ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryStore) PendingPayouts(ctx context.Context, limit int, staleBefore time.Time) ([]Payout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Payout
	for _, s := range m.settlements {
		for _, p := range s.Payouts {
			if !p.claimable(staleBefore) {
				continue
			}
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimPayout(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return false, fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	if !p.claimable(staleBefore) {
		return false, nil
	}
	now := time.Now().UTC()
	p.Status = PayoutInFlight
	p.ClaimedAt = now
	p.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) MarkPayout(ctx context.Context, id uuid.UUID, status PayoutStatus, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	p.Status = status
	p.Attempts++
	p.LastError = lastErr
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListSettlements(ctx context.Context, q SettlementsQuery) ([]Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Settlement, 0)
	for i := len(m.settlements) - 1; i >= 0; i-- {
		s := m.settlements[i]
		if !q.matches(s) {
			continue
		}
		c := *s
		c.Payouts = append([]Payout(nil), s.Payouts...)
		out = append(out, c)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
