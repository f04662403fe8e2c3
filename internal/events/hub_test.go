package events

import (
	"testing"

	"github.com/MJE43/dice-duel/internal/games"
)

func TestHubFiltersByGame(t *testing.T) {
	hub := NewHub(4)
	id := games.GameID(2)
	one := hub.Subscribe(&id)
	all := hub.Subscribe(nil)
	defer one.Cancel()
	defer all.Cancel()

	if n := hub.Publish(Event{Type: GameCreated, GameID: 1}); n != 1 {
		t.Errorf("delivered to %d, want 1", n)
	}
	if n := hub.Publish(Event{Type: GameJoined, GameID: 2}); n != 2 {
		t.Errorf("delivered to %d, want 2", n)
	}

	ev := <-one.C
	if ev.Type != GameJoined || ev.Timestamp.IsZero() {
		t.Errorf("game subscriber got %+v", ev)
	}
	if ev := <-all.C; ev.GameID != 1 {
		t.Errorf("first event for all = %+v", ev)
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe(nil)
	defer sub.Cancel()

	hub.Publish(Event{Type: GameRolled})
	if n := hub.Publish(Event{Type: GameRerolled}); n != 0 {
		t.Errorf("full subscriber received event")
	}
	if ev := <-sub.C; ev.Type != GameRolled {
		t.Errorf("got %s, want %s", ev.Type, GameRolled)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe(nil)
	sub.Cancel()
	sub.Cancel()

	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Cancel")
	}
	if hub.Len() != 0 {
		t.Errorf("Len = %d after cancel", hub.Len())
	}
}
