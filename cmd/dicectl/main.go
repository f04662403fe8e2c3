// Command dicectl is the player-side helper: it generates and keeps commit
// secrets, mints API tokens, and recomputes dice from revealed secrets.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MJE43/dice-duel/internal/auth"
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/secretstore"
)

const usage = `usage: dicectl <command> [flags]

commands:
  secret   generate (or -show) the commit secret for a game
  token    mint a bearer token for a player
  verify   recompute dice from revealed secrets
`

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "dicectl: load .env: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "dicectl: %v\n", err)
		}
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, lookup EnvLookup, out, errOut io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)
		return flag.ErrHelp
	}
	cmd, rest := args[0], args[1:]
	fset := flag.NewFlagSet("dicectl "+cmd, flag.ContinueOnError)
	fset.SetOutput(errOut)

	switch cmd {
	case "secret":
		return runSecret(fset, rest, lookup, out)
	case "token":
		return runToken(fset, rest, lookup, out)
	case "verify":
		return runVerify(fset, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(errOut, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOrDefault(lookup EnvLookup, key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func defaultFallbackPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dice-duel", "secrets.json")
}

func openSecrets(lookup EnvLookup, path string) *secretstore.Store {
	return secretstore.New(envOrDefault(lookup, "DICE_KEYRING_SERVICE", secretstore.DefaultService), path)
}

func runSecret(fset *flag.FlagSet, args []string, lookup EnvLookup, out io.Writer) error {
	player := fset.String("player", envOrDefault(lookup, "DICE_PLAYER", ""), "player address")
	game := fset.Uint64("game", 0, "game id the secret commits to")
	show := fset.Bool("show", false, "print the stored secret instead of generating one")
	fallback := fset.String("fallback", defaultFallbackPath(), "secrets file used when no OS keyring is available")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *player == "" {
		return errors.New("-player is required")
	}
	store := openSecrets(lookup, *fallback)

	if *show {
		secret, err := store.GameSecret(*player, *game)
		if err != nil {
			return fmt.Errorf("load secret for game %d: %w", *game, err)
		}
		fmt.Fprintln(out, secret.Uint64())
		return nil
	}

	var buf [games.SecretSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	secret := games.SecretFromUint64(binary.BigEndian.Uint64(buf[:]))
	if err := store.SetGameSecret(*player, *game, secret); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	fmt.Fprintln(out, secret.Uint64())
	return nil
}

func runToken(fset *flag.FlagSet, args []string, lookup EnvLookup, out io.Writer) error {
	player := fset.String("player", envOrDefault(lookup, "DICE_PLAYER", ""), "player address (token subject)")
	ttl := fset.Duration("ttl", 24*time.Hour, "token lifetime")
	issuerName := fset.String("issuer", envOrDefault(lookup, "DICE_JWT_ISSUER", "dice-duel"), "token issuer")
	save := fset.Bool("save", false, "also keep the token in the keyring")
	fallback := fset.String("fallback", defaultFallbackPath(), "secrets file used when no OS keyring is available")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *player == "" {
		return errors.New("-player is required")
	}
	secret, ok := lookup("DICE_JWT_SECRET")
	if !ok {
		return errors.New("DICE_JWT_SECRET is not set")
	}

	issuer, err := auth.NewIssuer(secret, *issuerName)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(*player, *ttl)
	if err != nil {
		return err
	}
	if *save {
		if err := openSecrets(lookup, *fallback).SetToken(*player, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	fmt.Fprintln(out, token)
	return nil
}

func runVerify(fset *flag.FlagSet, args []string, out io.Writer) error {
	game := fset.Uint64("game", 0, "game id")
	acting := fset.Uint64("acting", 0, "secret of the player who rolled")
	other := fset.Uint64("other", 0, "secret of the other player")
	prev := fset.String("prev", "", "first-round dice, e.g. 1,2,3,4,5 (checks a reroll)")
	mask := fset.String("mask", "", "reroll flags, five 0/1 digits, e.g. 00101")
	if err := fset.Parse(args); err != nil {
		return err
	}

	actingSecret := games.SecretFromUint64(*acting)
	otherSecret := games.SecretFromUint64(*other)

	var dice games.Dice
	if *prev == "" {
		if *mask != "" {
			return errors.New("-mask needs -prev")
		}
		dice = games.DrawRoll(actingSecret, otherSecret, *game)
	} else {
		first, err := parseDice(*prev)
		if err != nil {
			return err
		}
		m, err := parseMask(*mask)
		if err != nil {
			return err
		}
		dice = games.DrawReroll(first, m, actingSecret, otherSecret, *game)
	}

	rank := games.Classify(dice)
	fmt.Fprintf(out, "dice=%v rank=%s points=%d\n", dice, rank, rank.Points())
	return nil
}

func parseDice(s string) (games.Dice, error) {
	var d games.Dice
	parts := strings.Split(s, ",")
	if len(parts) != games.NumDice {
		return d, fmt.Errorf("-prev needs %d comma separated faces", games.NumDice)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return d, fmt.Errorf("-prev face %d: %w", i+1, err)
		}
		d[i] = uint8(v)
	}
	if !d.Valid() {
		return d, errors.New("-prev faces must be within [1, 6]")
	}
	return d, nil
}

func parseMask(s string) (games.Mask, error) {
	var m games.Mask
	if len(s) != games.NumDice {
		return m, fmt.Errorf("%w: -mask needs %d digits", games.ErrInvalidMask, games.NumDice)
	}
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			m[i] = true
		default:
			return m, fmt.Errorf("%w: -mask digit %q", games.ErrInvalidMask, c)
		}
	}
	return m, nil
}
