package games

import "sort"

// Rank is the category a roll falls into, best first.
type Rank uint8

const (
	RankFiveOfAKind Rank = iota
	RankStraight
	RankFullHouse
	RankThreeOfAKind
	RankTwoPairs
	RankNothing
)

var rankPoints = [...]uint8{
	RankFiveOfAKind:  5,
	RankStraight:     4,
	RankFullHouse:    4,
	RankThreeOfAKind: 3,
	RankTwoPairs:     2,
	RankNothing:      1,
}

func (r Rank) String() string {
	switch r {
	case RankFiveOfAKind:
		return "five_of_a_kind"
	case RankStraight:
		return "straight"
	case RankFullHouse:
		return "full_house"
	case RankThreeOfAKind:
		return "three_of_a_kind"
	case RankTwoPairs:
		return "two_pairs"
	default:
		return "nothing"
	}
}

// Points returns the score awarded for the rank.
func (r Rank) Points() uint8 {
	if int(r) >= len(rankPoints) {
		return rankPoints[RankNothing]
	}
	return rankPoints[r]
}

// Classify ranks a roll. Rules are checked in precedence order and the first
// match wins; four of a kind counts as three of a kind.
func Classify(d Dice) Rank {
	if !d.Valid() {
		return RankNothing
	}

	var counts [7]int
	for _, f := range d {
		counts[f]++
	}

	groups := make([]int, 0, NumDice)
	for face := 1; face <= 6; face++ {
		if counts[face] > 0 {
			groups = append(groups, counts[face])
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(groups)))

	switch {
	case groups[0] == 5:
		return RankFiveOfAKind
	case len(groups) == 5 && isRun(counts):
		return RankStraight
	case groups[0] == 3 && groups[1] == 2:
		return RankFullHouse
	case groups[0] >= 3:
		return RankThreeOfAKind
	case groups[0] == 2 && groups[1] == 2:
		return RankTwoPairs
	default:
		return RankNothing
	}
}

// isRun reports whether five distinct faces are consecutive: with six faces
// that means exactly one of the end faces is missing.
func isRun(counts [7]int) bool {
	return counts[1] == 0 || counts[6] == 0
}

// Score maps a roll to its point value.
func Score(d Dice) uint8 {
	return Classify(d).Points()
}
