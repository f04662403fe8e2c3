package games

import (
	"errors"
	"testing"
)

const (
	hostAddr   = "player-host"
	joinedAddr = "player-joined"
	gameID     = GameID(7)
)

var unit = Coin{Denom: "udice", Amount: 1}

// scriptRolls makes first-round rolls return the given dice in order and
// rerolls fill flagged dice from rerollFaces.
func scriptRolls(t *testing.T, rolls []Dice, rerollFaces []uint8) {
	t.Helper()
	origRoll, origReroll := drawRoll, drawReroll
	t.Cleanup(func() { drawRoll, drawReroll = origRoll, origReroll })

	drawRoll = func(Secret, Secret, GameID) Dice {
		if len(rolls) == 0 {
			t.Fatal("unexpected roll")
		}
		d := rolls[0]
		rolls = rolls[1:]
		return d
	}
	drawReroll = func(prev Dice, mask Mask, _, _ Secret, _ GameID) Dice {
		for i, flagged := range mask {
			if !flagged {
				continue
			}
			if len(rerollFaces) == 0 {
				t.Fatal("unexpected reroll draw")
			}
			prev[i] = rerollFaces[0]
			rerollFaces = rerollFaces[1:]
		}
		return prev
	}
}

func newStartedGame(t *testing.T, bet Coin) *GameDetails {
	t.Helper()
	d, _, err := NewGame(hostAddr, "nft-h", bet, SecretFromUint64(11), LockedPerPlayer(bet))
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	if _, err := d.Join(joinedAddr, "nft-j", SecretFromUint64(22), LockedPerPlayer(bet)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return d
}

func TestNewGameValidation(t *testing.T) {
	tests := []struct {
		name  string
		bet   Coin
		stake Coin
		want  error
	}{
		{"zero bet", Coin{Denom: "udice"}, Coin{Denom: "udice", Amount: 10}, ErrInvalidBet},
		{"oversized bet", Coin{Denom: "udice", Amount: MaxBaseBetAmount + 1}, Coin{Denom: "udice", Amount: 1}, ErrInvalidBet},
		{"missing denom", Coin{Amount: 1}, Coin{Amount: 10}, ErrInvalidBet},
		{"short stake", unit, Coin{Denom: "udice", Amount: 9}, ErrInsufficientStake},
		{"wrong denom", unit, Coin{Denom: "other", Amount: 10}, ErrInsufficientStake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewGame(hostAddr, "", tt.bet, Secret{}, tt.stake)
			if !errors.Is(err, tt.want) {
				t.Fatalf("NewGame error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewGameExcess(t *testing.T) {
	bet := Coin{Denom: "udice", Amount: 3}
	d, excess, err := NewGame(hostAddr, "", bet, SecretFromUint64(1), Coin{Denom: "udice", Amount: 35})
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	if excess != 5 {
		t.Errorf("excess = %d, want 5", excess)
	}
	if d.Status != StatusPending || d.RollTurn != Host {
		t.Errorf("new game status=%s turn=%s", d.Status, d.RollTurn)
	}
	if d.Pool != (Pool{HostPool: 30}) {
		t.Errorf("pool = %+v, want host_pool 30", d.Pool)
	}
}

func TestJoin(t *testing.T) {
	d, _, err := NewGame(hostAddr, "", unit, SecretFromUint64(1), LockedPerPlayer(unit))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Join(hostAddr, "", SecretFromUint64(2), LockedPerPlayer(unit)); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("self join error = %v, want ErrAlreadyJoined", err)
	}
	if _, err := d.Join(joinedAddr, "", SecretFromUint64(2), Coin{Denom: "udice", Amount: 9}); !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("short join error = %v, want ErrInsufficientStake", err)
	}
	if d.Status != StatusPending || d.JoinedPlayer != "" {
		t.Fatalf("failed join mutated game: %+v", d.Game)
	}

	if _, err := d.Join(joinedAddr, "nft-j", SecretFromUint64(2), LockedPerPlayer(unit)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if d.Status != StatusStarted || d.RollTurn != Host || d.JoinedSecret != SecretFromUint64(2) {
		t.Errorf("joined game = %+v", d)
	}
	if d.Pool.Sum() != 2*LockedPerPlayer(unit).Amount {
		t.Errorf("pool sum = %d", d.Pool.Sum())
	}

	_, err = d.Join("third", "", SecretFromUint64(3), LockedPerPlayer(unit))
	if !errors.Is(err, ErrWrongState) {
		t.Errorf("second join error = %v, want ErrWrongState", err)
	}
}

func TestStateGuards(t *testing.T) {
	pending, _, err := NewGame(hostAddr, "", unit, SecretFromUint64(1), LockedPerPlayer(unit))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pending.Roll(gameID, hostAddr); !errors.Is(err, ErrWrongState) {
		t.Errorf("roll before join = %v, want ErrWrongState", err)
	}

	d := newStartedGame(t, unit)
	if _, err := d.ReRoll(gameID, hostAddr, Mask{}); !errors.Is(err, ErrWrongState) {
		t.Errorf("reroll before rolls = %v, want ErrWrongState", err)
	}
	if _, err := d.Roll(gameID, hostAddr); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReRoll(gameID, joinedAddr, Mask{}); !errors.Is(err, ErrWrongState) {
		t.Errorf("reroll after one roll = %v, want ErrWrongState", err)
	}
	if _, _, err := Settle(&d.Game, ReturnResiduals); !errors.Is(err, ErrNotFinished) {
		t.Errorf("settle unfinished = %v, want ErrNotFinished", err)
	}

	var se *StateError
	_, err = pending.Roll(gameID, hostAddr)
	if !errors.As(err, &se) || se.Want != StatusStarted || se.Got != StatusPending {
		t.Errorf("state error = %#v", err)
	}
}

func TestTurnOrder(t *testing.T) {
	d := newStartedGame(t, unit)

	if _, err := d.Roll(gameID, joinedAddr); !errors.Is(err, ErrWrongTurn) {
		t.Errorf("joined first = %v, want ErrWrongTurn", err)
	}
	if _, err := d.Roll(gameID, "stranger"); !errors.Is(err, ErrNotAPlayer) {
		t.Errorf("stranger = %v, want ErrNotAPlayer", err)
	}

	actions := []struct {
		caller string
		reroll bool
	}{
		{hostAddr, false},
		{joinedAddr, false},
		{hostAddr, true},
		{joinedAddr, true},
	}
	for i, a := range actions {
		if d.IsFinished() {
			t.Fatalf("finished after %d actions", i)
		}
		before := d.RollTurn
		var err error
		if a.reroll {
			_, err = d.ReRoll(gameID, a.caller, Mask{true, false, true, false, false})
		} else {
			_, err = d.Roll(gameID, a.caller)
		}
		if err != nil {
			t.Fatalf("action %d by %s: %v", i, a.caller, err)
		}
		if d.RollTurn != before.Other() {
			t.Errorf("action %d: turn = %s, want %s", i, d.RollTurn, before.Other())
		}
	}
	if !d.IsFinished() {
		t.Fatal("not finished after four actions")
	}

	if _, err := d.ReRoll(gameID, hostAddr, Mask{}); !errors.Is(err, ErrAlreadyRolled) {
		t.Errorf("third reroll = %v, want ErrAlreadyRolled", err)
	}
}

func TestEscrowConservation(t *testing.T) {
	bet := Coin{Denom: "udice", Amount: 4}
	want := 2 * LockedPerPlayer(bet).Amount
	masks := []Mask{
		{true, true, true, true, true},
		{},
		{false, true, false, true, false},
	}

	for _, hm := range masks {
		for _, jm := range masks {
			d := newStartedGame(t, bet)
			check := func(step string) {
				if got := d.Pool.Sum(); got != want {
					t.Fatalf("%s: pool sum = %d, want %d", step, got, want)
				}
			}
			check("join")
			if _, err := d.Roll(gameID, hostAddr); err != nil {
				t.Fatal(err)
			}
			check("host roll")
			if _, err := d.Roll(gameID, joinedAddr); err != nil {
				t.Fatal(err)
			}
			check("joined roll")
			if d.Status != StatusReRoll {
				t.Fatalf("status after rolls = %s", d.Status)
			}
			if _, err := d.ReRoll(gameID, hostAddr, hm); err != nil {
				t.Fatal(err)
			}
			check("host reroll")
			if _, err := d.ReRoll(gameID, joinedAddr, jm); err != nil {
				t.Fatal(err)
			}
			check("joined reroll")

			wantStake := bet.Amount * uint64(10+hm.Count()+jm.Count())
			if d.Pool.TotalStake != wantStake {
				t.Errorf("total stake = %d, want %d", d.Pool.TotalStake, wantStake)
			}

			_, payouts, err := Settle(&d.Game, ReturnResiduals)
			if err != nil {
				t.Fatal(err)
			}
			var paid uint64
			for _, p := range payouts {
				paid += p.Amount.Amount
			}
			if paid != want {
				t.Errorf("paid %d, want %d", paid, want)
			}
		}
	}
}

func TestReRollKeepsUnflaggedDice(t *testing.T) {
	scriptRolls(t, []Dice{{1, 2, 3, 4, 6}, {2, 2, 4, 5, 6}}, []uint8{5, 3, 3})
	d := newStartedGame(t, unit)
	mustRoll(t, d, hostAddr)
	mustRoll(t, d, joinedAddr)

	got, err := d.ReRoll(gameID, hostAddr, Mask{false, false, false, false, true})
	if err != nil {
		t.Fatal(err)
	}
	if got != (Dice{1, 2, 3, 4, 5}) || d.HostPoints != 4 {
		t.Errorf("host reroll = %v points %d", got, d.HostPoints)
	}
	if first, _ := d.HostRoll.Round(0); first != (Dice{1, 2, 3, 4, 6}) {
		t.Errorf("round one changed: %v", first)
	}

	got, err = d.ReRoll(gameID, joinedAddr, Mask{false, false, true, true, false})
	if err != nil {
		t.Fatal(err)
	}
	if got != (Dice{2, 2, 3, 3, 6}) || d.JoinedPoints != 2 {
		t.Errorf("joined reroll = %v points %d", got, d.JoinedPoints)
	}
}

func TestDrawRerollEmptyMask(t *testing.T) {
	prev := Dice{3, 1, 4, 1, 5}
	if got := DrawReroll(prev, Mask{}, SecretFromUint64(1), SecretFromUint64(2), 0); got != prev {
		t.Errorf("DrawReroll empty mask = %v, want %v", got, prev)
	}
}

func TestDrawRollDeterministic(t *testing.T) {
	a, b := SecretFromUint64(42), SecretFromUint64(99)
	first := DrawRoll(a, b, 3)
	if !first.Valid() {
		t.Fatalf("invalid dice %v", first)
	}
	for i := 0; i < 10; i++ {
		if got := DrawRoll(a, b, 3); got != first {
			t.Fatalf("DrawRoll not deterministic: %v vs %v", got, first)
		}
	}

	mask := Mask{true, false, true, false, true}
	r1 := DrawReroll(first, mask, a, b, 3)
	r2 := DrawReroll(first, mask, a, b, 3)
	if r1 != r2 {
		t.Fatalf("DrawReroll not deterministic: %v vs %v", r1, r2)
	}
	for i, flagged := range mask {
		if !flagged && r1[i] != first[i] {
			t.Errorf("die %d changed without flag", i)
		}
	}
}

func mustRoll(t *testing.T, d *GameDetails, caller string) Dice {
	t.Helper()
	dice, err := d.Roll(gameID, caller)
	if err != nil {
		t.Fatalf("Roll(%s): %v", caller, err)
	}
	return dice
}
