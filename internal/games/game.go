package games

import (
	"fmt"

	"github.com/MJE43/dice-duel/internal/engine"
)

// Dice sources; tests replace them to script rolls.
var (
	drawRoll   = DrawRoll
	drawReroll = DrawReroll
)

// Game is the public record of a match. It never carries secrets.
type Game struct {
	Status       Status `json:"status"`
	HostPlayer   string `json:"host_player"`
	JoinedPlayer string `json:"joined_player,omitempty"`
	HostNFTID    string `json:"host_nft_id,omitempty"`
	JoinedNFTID  string `json:"joined_nft_id,omitempty"`
	BaseBet      Coin   `json:"base_bet"`
	HostRoll     Rolls  `json:"host_roll"`
	JoinedRoll   Rolls  `json:"joined_roll"`
	HostPoints   uint8  `json:"host_points"`
	JoinedPoints uint8  `json:"joined_points"`
	RollTurn     Player `json:"roll_turn"`
	Pool         Pool   `json:"pool"`
}

// GameDetails is the stored record: the game plus both committed secrets.
type GameDetails struct {
	Game
	HostSecret   Secret `json:"host_secret"`
	JoinedSecret Secret `json:"joined_secret"`
}

// NewGame validates a create request and returns a Pending game with the
// host's lock escrowed. excess is the part of stake above the lock.
func NewGame(host, nftID string, bet Coin, secret Secret, stake Coin) (d *GameDetails, excess uint64, err error) {
	if host == "" {
		return nil, 0, fmt.Errorf("%w: host address is required", ErrNotAPlayer)
	}
	if err := ValidateBet(bet); err != nil {
		return nil, 0, err
	}
	excess, err = CheckStake(bet, stake)
	if err != nil {
		return nil, 0, err
	}

	return &GameDetails{
		Game: Game{
			Status:     StatusPending,
			HostPlayer: host,
			HostNFTID:  nftID,
			BaseBet:    bet,
			RollTurn:   Host,
			Pool:       Pool{HostPool: LockedPerPlayer(bet).Amount},
		},
		HostSecret: secret,
	}, excess, nil
}

// Join seats the second player and starts the game.
func (d *GameDetails) Join(player, nftID string, secret Secret, stake Coin) (excess uint64, err error) {
	if err := d.ensureStatus("join", StatusPending); err != nil {
		return 0, err
	}
	if player == "" {
		return 0, fmt.Errorf("%w: joining address is required", ErrNotAPlayer)
	}
	if player == d.HostPlayer {
		return 0, ErrAlreadyJoined
	}
	excess, err = CheckStake(d.BaseBet, stake)
	if err != nil {
		return 0, err
	}

	d.JoinedPlayer = player
	d.JoinedNFTID = nftID
	d.JoinedSecret = secret
	d.Pool.JoinedPool = LockedPerPlayer(d.BaseBet).Amount
	d.RollTurn = Host
	d.Status = StatusStarted
	return excess, nil
}

// Roll performs the caller's first-round roll of all five dice.
func (d *GameDetails) Roll(id GameID, caller string) (Dice, error) {
	if err := d.ensureStatus("roll", StatusStarted); err != nil {
		return Dice{}, err
	}
	player, err := d.ensureTurn(caller)
	if err != nil {
		return Dice{}, err
	}
	if d.rolls(player)[0].Present {
		return Dice{}, ErrAlreadyRolled
	}

	acting, other := d.seeds(player)
	dice := drawRoll(acting, other, id)
	pool, err := d.Pool.Stake(player, d.BaseBet.Amount*NumDice)
	if err != nil {
		return Dice{}, err
	}

	d.Pool = pool
	d.rolls(player)[0] = Slot{Dice: dice, Present: true}
	d.setPoints(player, Score(dice))
	d.RollTurn = player.Other()
	if d.HostRoll[0].Present && d.JoinedRoll[0].Present {
		d.Status = StatusReRoll
	}
	return dice, nil
}

// ReRoll redraws the flagged dice of the caller's first-round roll into the
// second round slot.
func (d *GameDetails) ReRoll(id GameID, caller string, mask Mask) (Dice, error) {
	if err := d.ensureStatus("reroll", StatusReRoll); err != nil {
		return Dice{}, err
	}
	player, err := d.ensureTurn(caller)
	if err != nil {
		return Dice{}, err
	}
	rolls := d.rolls(player)
	if rolls[1].Present {
		return Dice{}, ErrAlreadyRolled
	}
	prev, ok := rolls.Round(0)
	if !ok {
		return Dice{}, fmt.Errorf("%w: no first round roll", ErrWrongState)
	}

	acting, other := d.seeds(player)
	dice := drawReroll(prev, mask, acting, other, id)
	pool, err := d.Pool.Stake(player, d.BaseBet.Amount*uint64(mask.Count()))
	if err != nil {
		return Dice{}, err
	}

	d.Pool = pool
	rolls[1] = Slot{Dice: dice, Present: true}
	d.setPoints(player, Score(dice))
	d.RollTurn = player.Other()
	return dice, nil
}

// IsFinished reports whether both players hold a second-round roll.
func (g *Game) IsFinished() bool {
	return g.HostRoll[1].Present && g.JoinedRoll[1].Present
}

// PlayerOf maps an address to its seat.
func (g *Game) PlayerOf(addr string) (Player, bool) {
	switch {
	case addr == "":
		return 0, false
	case addr == g.HostPlayer:
		return Host, true
	case addr == g.JoinedPlayer:
		return Joined, true
	default:
		return 0, false
	}
}

// Address returns the address seated at p.
func (g *Game) Address(p Player) string {
	if p == Host {
		return g.HostPlayer
	}
	return g.JoinedPlayer
}

// Points returns p's current score.
func (g *Game) Points(p Player) uint8 {
	if p == Host {
		return g.HostPoints
	}
	return g.JoinedPoints
}

// RollsOf returns a copy of p's round slots.
func (g *Game) RollsOf(p Player) Rolls {
	if p == Host {
		return g.HostRoll
	}
	return g.JoinedRoll
}

func (g *Game) rolls(p Player) *Rolls {
	if p == Host {
		return &g.HostRoll
	}
	return &g.JoinedRoll
}

func (g *Game) setPoints(p Player, points uint8) {
	if p == Host {
		g.HostPoints = points
	} else {
		g.JoinedPoints = points
	}
}

func (g *Game) ensureStatus(op string, want Status) error {
	if g.Status != want {
		return &StateError{Op: op, Want: want, Got: g.Status}
	}
	return nil
}

func (g *Game) ensureTurn(caller string) (Player, error) {
	player, ok := g.PlayerOf(caller)
	if !ok {
		return 0, ErrNotAPlayer
	}
	if player != g.RollTurn {
		return 0, ErrWrongTurn
	}
	return player, nil
}

// seeds orders the secrets with the acting player's first.
func (d *GameDetails) seeds(acting Player) (Secret, Secret) {
	if acting == Host {
		return d.HostSecret, d.JoinedSecret
	}
	return d.JoinedSecret, d.HostSecret
}

// DrawRoll computes a first-round roll. It is a pure function of the
// committed inputs so either player can verify it once secrets are shared.
func DrawRoll(acting, other Secret, id GameID) Dice {
	key := engine.RollKey(engine.Seeds{Acting: acting[:], Other: other[:]}, id)
	var dice Dice
	copy(dice[:], engine.Faces(key, NumDice))
	return dice
}

// DrawReroll replaces the flagged dice of prev with fresh draws, in die
// order. An empty mask returns prev without touching the stream.
func DrawReroll(prev Dice, mask Mask, acting, other Secret, id GameID) Dice {
	count := mask.Count()
	if count == 0 {
		return prev
	}

	key := engine.RerollKey(engine.Seeds{Acting: acting[:], Other: other[:]}, id, uint8(count))
	faces := engine.Faces(key, count)
	next := prev
	j := 0
	for i, flagged := range mask {
		if flagged {
			next[i] = faces[j]
			j++
		}
	}
	return next
}
