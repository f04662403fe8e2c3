// Package secretstore keeps a player's per-game commit secrets and session
// token in the OS keychain, with a file fallback for headless hosts.
package secretstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/MJE43/dice-duel/internal/games"
)

const (
	DefaultService = "dice-duel"

	partToken = "token"
)

var ErrNotFound = keyring.ErrNotFound

// Store wraps the OS keychain with an optional file fallback.
type Store struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

func New(serviceName, fallbackPath string) *Store {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = DefaultService
	}
	return &Store{service: serviceName, fallbackPath: fallbackPath}
}

func gamePart(id games.GameID) string {
	return "game/" + strconv.FormatUint(id, 10)
}

func (s *Store) key(player, part string) string {
	return player + "/" + part
}

// SetGameSecret remembers the secret player committed to game id so rolls
// can be verified after the game ends.
func (s *Store) SetGameSecret(player string, id games.GameID, secret games.Secret) error {
	return s.set(player, gamePart(id), strconv.FormatUint(secret.Uint64(), 10))
}

func (s *Store) GameSecret(player string, id games.GameID) (games.Secret, error) {
	raw, err := s.get(player, gamePart(id))
	if err != nil {
		return games.Secret{}, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return games.Secret{}, fmt.Errorf("secretstore: corrupt secret for game %d: %w", id, err)
	}
	return games.SecretFromUint64(v), nil
}

func (s *Store) SetToken(player, token string) error {
	return s.set(player, partToken, token)
}

func (s *Store) Token(player string) (string, error) {
	return s.get(player, partToken)
}

// Forget removes the stored secret of one game.
func (s *Store) Forget(player string, id games.GameID) error {
	part := gamePart(id)
	err := keyring.Delete(s.service, s.key(player, part))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("secretstore: keyring delete: %w", err)
	}
	return s.deleteFallback(player, part)
}

func (s *Store) set(player, part, value string) error {
	player = strings.TrimSpace(player)
	if player == "" {
		return fmt.Errorf("secretstore: player is required")
	}

	if err := keyring.Set(s.service, s.key(player, part), value); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("secretstore: keyring set %s: %w", part, err)
	}
	return s.setFallback(player, part, value)
}

func (s *Store) get(player, part string) (string, error) {
	player = strings.TrimSpace(player)
	if player == "" {
		return "", fmt.Errorf("secretstore: player is required")
	}

	val, err := keyring.Get(s.service, s.key(player, part))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("secretstore: keyring get %s: %w", part, err)
	}

	fallback, ferr := s.getFallback(player, part)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return "", ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

// --------- File fallback ---------

type fallbackSecrets map[string]map[string]string

func (s *Store) setFallback(player, part, value string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return fmt.Errorf("secretstore: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[player]; !ok {
		data[player] = map[string]string{}
	}
	data[player][part] = value
	return s.writeFallbackUnlocked(data)
}

func (s *Store) getFallback(player, part string) (string, error) {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return "", fmt.Errorf("secretstore: fallback path not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[player][part]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *Store) deleteFallback(player, part string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[player][part]; !ok {
		return nil
	}
	delete(data[player], part)
	if len(data[player]) == 0 {
		delete(data, player)
	}
	return s.writeFallbackUnlocked(data)
}

func (s *Store) readFallbackUnlocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("secretstore: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secretstore: decode fallback secrets: %w", err)
	}
	return out, nil
}

func (s *Store) writeFallbackUnlocked(data fallbackSecrets) error {
	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("secretstore: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("secretstore: encode fallback secrets: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("secretstore: write fallback secrets: %w", err)
	}
	return nil
}
