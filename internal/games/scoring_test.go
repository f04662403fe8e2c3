package games

import (
	"testing"
)

func TestScoreExamples(t *testing.T) {
	tests := []struct {
		dice Dice
		rank Rank
		want uint8
	}{
		{Dice{1, 1, 1, 1, 1}, RankFiveOfAKind, 5},
		{Dice{6, 6, 6, 6, 6}, RankFiveOfAKind, 5},
		{Dice{1, 2, 3, 4, 5}, RankStraight, 4},
		{Dice{2, 3, 4, 5, 6}, RankStraight, 4},
		{Dice{5, 3, 1, 4, 2}, RankStraight, 4},
		{Dice{2, 2, 2, 3, 3}, RankFullHouse, 4},
		{Dice{3, 2, 3, 2, 2}, RankFullHouse, 4},
		{Dice{2, 2, 2, 5, 6}, RankThreeOfAKind, 3},
		{Dice{4, 4, 4, 4, 1}, RankThreeOfAKind, 3},
		{Dice{2, 2, 3, 3, 6}, RankTwoPairs, 2},
		{Dice{2, 2, 3, 4, 6}, RankNothing, 1},
		{Dice{1, 2, 3, 4, 6}, RankNothing, 1},
		{Dice{1, 3, 4, 5, 6}, RankNothing, 1},
	}

	for _, tt := range tests {
		if got := Classify(tt.dice); got != tt.rank {
			t.Errorf("Classify(%v) = %s, want %s", tt.dice, got, tt.rank)
		}
		if got := Score(tt.dice); got != tt.want {
			t.Errorf("Score(%v) = %d, want %d", tt.dice, got, tt.want)
		}
	}
}

func TestScoreInvalidDice(t *testing.T) {
	for _, d := range []Dice{{}, {0, 1, 2, 3, 4}, {7, 7, 7, 7, 7}} {
		if got := Score(d); got != 1 {
			t.Errorf("Score(%v) = %d, want 1", d, got)
		}
	}
}

// Every multiset of five faces, checked against a direct reading of the
// ranking table.
func TestScoreExhaustive(t *testing.T) {
	seen := 0
	var walk func(d Dice, pos int, min uint8)
	walk = func(d Dice, pos int, min uint8) {
		if pos == NumDice {
			seen++
			if got, want := Score(d), referenceScore(d); got != want {
				t.Errorf("Score(%v) = %d, want %d", d, got, want)
			}
			return
		}
		for f := min; f <= 6; f++ {
			d[pos] = f
			walk(d, pos+1, f)
		}
	}
	walk(Dice{}, 0, 1)

	if seen != 252 {
		t.Fatalf("enumerated %d multisets, want 252", seen)
	}
}

// Score must not depend on die order.
func TestScorePermutationInvariant(t *testing.T) {
	base := Dice{2, 2, 2, 3, 3}
	perms := []Dice{
		{3, 3, 2, 2, 2},
		{2, 3, 2, 3, 2},
		{3, 2, 2, 2, 3},
	}
	for _, p := range perms {
		if Score(p) != Score(base) {
			t.Errorf("Score(%v) = %d, Score(%v) = %d", p, Score(p), base, Score(base))
		}
	}
}

func referenceScore(d Dice) uint8 {
	var counts [7]int
	for _, f := range d {
		counts[f]++
	}
	pairs, triples, distinct := 0, 0, 0
	for f := 1; f <= 6; f++ {
		switch {
		case counts[f] == 5:
			return 5
		case counts[f] >= 3:
			triples++
		case counts[f] == 2:
			pairs++
		}
		if counts[f] > 0 {
			distinct++
		}
	}

	lowRun := counts[1] == 1 && counts[2] == 1 && counts[3] == 1 && counts[4] == 1 && counts[5] == 1
	highRun := counts[2] == 1 && counts[3] == 1 && counts[4] == 1 && counts[5] == 1 && counts[6] == 1
	switch {
	case distinct == 5 && (lowRun || highRun):
		return 4
	case triples == 1 && pairs == 1:
		return 4
	case triples == 1:
		return 3
	case pairs == 2:
		return 2
	default:
		return 1
	}
}
