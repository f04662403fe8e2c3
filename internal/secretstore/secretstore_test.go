package secretstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/MJE43/dice-duel/internal/games"
)

func TestGameSecretRoundTrip(t *testing.T) {
	keyring.MockInit()
	s := New("dice-duel-test", filepath.Join(t.TempDir(), "secrets.json"))

	secret := games.SecretFromUint64(18446744073709551615)
	if err := s.SetGameSecret("alice", 4, secret); err != nil {
		t.Fatalf("SetGameSecret: %v", err)
	}
	got, err := s.GameSecret("alice", 4)
	if err != nil {
		t.Fatalf("GameSecret: %v", err)
	}
	if got != secret {
		t.Fatalf("secret = %x, want %x", got, secret)
	}

	if _, err := s.GameSecret("alice", 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing secret = %v, want ErrNotFound", err)
	}

	if err := s.Forget("alice", 4); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := s.GameSecret("alice", 4); !errors.Is(err, ErrNotFound) {
		t.Errorf("forgotten secret = %v, want ErrNotFound", err)
	}
}

func TestToken(t *testing.T) {
	keyring.MockInit()
	s := New("", "")

	if err := s.SetToken("bob", "tok-123"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	tok, err := s.Token("bob")
	if err != nil || tok != "tok-123" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	if err := s.SetToken(" ", "x"); err == nil {
		t.Error("SetToken accepted empty player")
	}
}

func TestFileFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")
	s := New("dice-duel-test", path)

	if err := s.setFallback("carol", gamePart(9), "77"); err != nil {
		t.Fatalf("setFallback: %v", err)
	}
	val, err := s.getFallback("carol", gamePart(9))
	if err != nil || val != "77" {
		t.Fatalf("getFallback = %q, %v", val, err)
	}
	if err := s.deleteFallback("carol", gamePart(9)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.getFallback("carol", gamePart(9)); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete = %v, want ErrNotFound", err)
	}
}
