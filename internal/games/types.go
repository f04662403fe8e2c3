package games

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	NumDice   = 5
	NumRounds = 2

	// SecretSize is the width of a committed player secret.
	SecretSize = 8

	// MaxBaseBetAmount keeps every pool total representable as int64.
	MaxBaseBetAmount = math.MaxInt64 / (2 * NumDice * NumRounds)
)

// GameID identifies a game; ids are allocated sequentially from zero.
type GameID = uint64

// Secret is a player's committed secret.
type Secret [SecretSize]byte

// SecretFromUint64 encodes v big-endian.
func SecretFromUint64(v uint64) Secret {
	var s Secret
	binary.BigEndian.PutUint64(s[:], v)
	return s
}

// Uint64 decodes the secret as a big-endian integer.
func (s Secret) Uint64() uint64 {
	return binary.BigEndian.Uint64(s[:])
}

func (s Secret) IsZero() bool {
	return s == Secret{}
}

// Fingerprint is a short SHA-256 prefix safe to put in logs.
func (s Secret) Fingerprint() string {
	sum := sha256.Sum256(s[:])
	return hex.EncodeToString(sum[:])[:16]
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}
	if len(b) != SecretSize {
		return fmt.Errorf("decode secret: want %d bytes, got %d", SecretSize, len(b))
	}
	copy(s[:], b)
	return nil
}

// Coin is an amount in a single denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

func (c Coin) String() string {
	return fmt.Sprintf("%d%s", c.Amount, c.Denom)
}

// Player selects one of the two seats in a game.
type Player uint8

const (
	Host Player = iota
	Joined
)

// Other returns the opposing seat.
func (p Player) Other() Player {
	if p == Host {
		return Joined
	}
	return Host
}

func (p Player) String() string {
	switch p {
	case Host:
		return "host"
	case Joined:
		return "joined"
	default:
		return fmt.Sprintf("player(%d)", uint8(p))
	}
}

func (p Player) MarshalText() ([]byte, error) {
	if p != Host && p != Joined {
		return nil, fmt.Errorf("invalid player %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Player) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "host":
		*p = Host
	case "joined":
		*p = Joined
	default:
		return fmt.Errorf("unknown player %q", text)
	}
	return nil
}

// Status is the stored lifecycle state of a game. Finished is not a status:
// see Game.IsFinished.
type Status uint8

const (
	StatusPending Status = iota
	StatusStarted
	StatusReRoll
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStarted:
		return "started"
	case StatusReRoll:
		return "reroll"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus parses the text form produced by Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "started":
		return StatusStarted, nil
	case "reroll", "re_roll":
		return StatusReRoll, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if s > StatusReRoll {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Dice is one five-die roll.
type Dice [NumDice]uint8

// Valid reports whether every face is within [1, 6].
func (d Dice) Valid() bool {
	for _, f := range d {
		if f < 1 || f > 6 {
			return false
		}
	}
	return true
}

// Sum adds the face values.
func (d Dice) Sum() int {
	total := 0
	for _, f := range d {
		total += int(f)
	}
	return total
}

// MarshalJSON encodes dice as a number array rather than base64 bytes.
func (d Dice) MarshalJSON() ([]byte, error) {
	faces := make([]int, NumDice)
	for i, f := range d {
		faces[i] = int(f)
	}
	return json.Marshal(faces)
}

func (d *Dice) UnmarshalJSON(data []byte) error {
	var faces []int
	if err := json.Unmarshal(data, &faces); err != nil {
		return err
	}
	if len(faces) != NumDice {
		return fmt.Errorf("dice: want %d faces, got %d", NumDice, len(faces))
	}
	for i, f := range faces {
		if f < 1 || f > 6 {
			return fmt.Errorf("dice: face %d out of range: %d", i, f)
		}
		d[i] = uint8(f)
	}
	return nil
}

// Mask flags which dice a reroll replaces.
type Mask [NumDice]bool

// Count returns the number of flagged dice.
func (m Mask) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// Slot holds one round's roll. Present distinguishes "not yet rolled" from
// any dice value.
type Slot struct {
	Dice    Dice
	Present bool
}

// MarshalJSON renders an empty slot as null.
func (s Slot) MarshalJSON() ([]byte, error) {
	if !s.Present {
		return []byte("null"), nil
	}
	return json.Marshal(s.Dice)
}

func (s *Slot) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Slot{}
		return nil
	}
	if err := json.Unmarshal(data, &s.Dice); err != nil {
		return err
	}
	s.Present = true
	return nil
}

// Rolls holds both round slots of one player.
type Rolls [NumRounds]Slot

// Round returns the dice of round r (0 or 1) and whether they exist.
func (r Rolls) Round(round int) (Dice, bool) {
	return r[round].Dice, r[round].Present
}
