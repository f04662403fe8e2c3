// Package events fans game state changes out to live subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/dice-duel/internal/games"
)

type Type string

const (
	GameCreated  Type = "GAME_CREATED"
	GameJoined   Type = "GAME_JOINED"
	GameRolled   Type = "GAME_ROLLED"
	GameRerolled Type = "GAME_REROLLED"
	GameSettled  Type = "GAME_SETTLED"
)

// Event is one state change. Game is nil once the record is gone.
type Event struct {
	Type      Type                      `json:"type"`
	GameID    games.GameID              `json:"game_id"`
	Player    string                    `json:"player,omitempty"`
	Dice      *games.Dice               `json:"dice,omitempty"`
	Game      *games.Game               `json:"game,omitempty"`
	Payouts   []games.PayoutInstruction `json:"payouts,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Subscription receives events until it is cancelled.
type Subscription struct {
	ID     uuid.UUID
	C      <-chan Event
	hub    *Hub
	ch     chan Event
	gameID *games.GameID
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.hub.remove(s.ID)
}

// Hub delivers events to subscribers without blocking publishers: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[uuid.UUID]*Subscription), buffer: buffer}
}

// Subscribe registers for events of one game, or of all games when gameID
// is nil.
func (h *Hub) Subscribe(gameID *games.GameID) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{ID: uuid.New(), C: ch, hub: h, ch: ch}
	if gameID != nil {
		id := *gameID
		s.gameID = &id
	}

	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Publish stamps and delivers ev. It returns the number of subscribers that
// received it.
func (h *Hub) Publish(ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, s := range h.subs {
		if s.gameID != nil && *s.gameID != ev.GameID {
			continue
		}
		select {
		case s.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
