// Package handeval scores poker hands of five to seven cards.
package handeval

import (
	"fmt"
	"sort"

	"github.com/jason-s-yu/tabletop/internal/cards"
)

// Rank is a hand category. Higher is better.
type Rank int

const (
	HighCard Rank = iota
	OnePair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

var rankNames = [...]string{
	HighCard:      "high_card",
	OnePair:       "one_pair",
	TwoPair:       "two_pair",
	ThreeOfAKind:  "three_of_a_kind",
	Straight:      "straight",
	Flush:         "flush",
	FullHouse:     "full_house",
	FourOfAKind:   "four_of_a_kind",
	StraightFlush: "straight_flush",
	RoyalFlush:    "royal_flush",
}

var rankLabels = [...]string{
	HighCard:      "High Card",
	OnePair:       "One Pair",
	TwoPair:       "Two Pair",
	ThreeOfAKind:  "Three of a Kind",
	Straight:      "Straight",
	Flush:         "Flush",
	FullHouse:     "Full House",
	FourOfAKind:   "Four of a Kind",
	StraightFlush: "Straight Flush",
	RoyalFlush:    "Royal Flush",
}

func (r Rank) String() string {
	if r < 0 || int(r) >= len(rankNames) {
		return "unknown"
	}
	return rankNames[r]
}

// Label is the display name, e.g. "Full House".
func (r Rank) Label() string {
	if r < 0 || int(r) >= len(rankLabels) {
		return "Unknown"
	}
	return rankLabels[r]
}

// MarshalText renders the snake_case name.
func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the snake_case name.
func (r *Rank) UnmarshalText(b []byte) error {
	for i, n := range rankNames {
		if n == string(b) {
			*r = Rank(i)
			return nil
		}
	}
	return fmt.Errorf("unknown hand rank %q", b)
}

// radix is the positional base of Score; every card rank (2..14) fits in one digit.
const radix = 16

// HandResult is the best five-card hand found for a player.
// Comparable is false for the pre-flop placeholder; Score is meaningless then.
type HandResult struct {
	Rank       Rank         `json:"rank"`
	Label      string       `json:"label"`
	Score      int          `json:"score"`
	Cards      []cards.Card `json:"cards"`
	Comparable bool         `json:"comparable"`
}

// EvaluateBestHand picks the best 5-card hand from two hole cards and up to five
// community cards. Fewer than five cards total yields a non-comparable placeholder.
func EvaluateBestHand(hole []cards.Card, community []cards.Card) HandResult {
	all := make([]cards.Card, 0, len(hole)+len(community))
	all = append(all, hole...)
	all = append(all, community...)

	if len(all) < 5 {
		return placeholder(all)
	}

	best := HandResult{Score: -1}
	var combo [5]cards.Card
	n := len(all)
	for a := 0; a < n-4; a++ {
		for b := a + 1; b < n-3; b++ {
			for c := b + 1; c < n-2; c++ {
				for d := c + 1; d < n-1; d++ {
					for e := d + 1; e < n; e++ {
						combo = [5]cards.Card{all[a], all[b], all[c], all[d], all[e]}
						rank, score := scoreFive(combo)
						if score > best.Score {
							best = HandResult{
								Rank:       rank,
								Label:      rank.Label(),
								Score:      score,
								Cards:      append([]cards.Card(nil), combo[:]...),
								Comparable: true,
							}
						}
					}
				}
			}
		}
	}
	return best
}

// placeholder describes a partial holding for display before the flop.
func placeholder(all []cards.Card) HandResult {
	res := HandResult{Rank: HighCard, Label: HighCard.Label(), Cards: append([]cards.Card(nil), all...)}
	if len(all) == 2 && all[0].Rank == all[1].Rank {
		res.Rank = OnePair
		res.Label = OnePair.Label()
	}
	return res
}

// Score5 scores exactly five cards. It exists for callers that already hold a made hand.
func Score5(hand [5]cards.Card) (Rank, int) {
	return scoreFive(hand)
}

func scoreFive(hand [5]cards.Card) (Rank, int) {
	var counts [cards.Ace + 1]int
	flush := true
	for i, c := range hand {
		counts[c.Rank]++
		if i > 0 && c.Suit != hand[0].Suit {
			flush = false
		}
	}

	// Group ranks by multiplicity, then by rank, both descending.
	type group struct {
		rank  cards.Rank
		count int
	}
	groups := make([]group, 0, 5)
	for r := cards.Ace; r >= cards.Two; r-- {
		if counts[r] > 0 {
			groups = append(groups, group{r, counts[r]})
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].count > groups[j].count
	})

	straightHigh := cards.Rank(0)
	if len(groups) == 5 {
		hi, lo := groups[0].rank, groups[4].rank
		switch {
		case hi-lo == 4:
			straightHigh = hi
		case hi == cards.Ace && groups[1].rank == cards.Five:
			// wheel: the ace plays low
			straightHigh = cards.Five
		}
	}

	var rank Rank
	switch {
	case straightHigh != 0 && flush && straightHigh == cards.Ace:
		rank = RoyalFlush
	case straightHigh != 0 && flush:
		rank = StraightFlush
	case groups[0].count == 4:
		rank = FourOfAKind
	case groups[0].count == 3 && groups[1].count == 2:
		rank = FullHouse
	case flush:
		rank = Flush
	case straightHigh != 0:
		rank = Straight
	case groups[0].count == 3:
		rank = ThreeOfAKind
	case groups[0].count == 2 && groups[1].count == 2:
		rank = TwoPair
	case groups[0].count == 2:
		rank = OnePair
	default:
		rank = HighCard
	}

	score := int(rank)
	if straightHigh != 0 {
		// only the top card of a straight matters
		score = score*radix + int(straightHigh)
		for i := 1; i < 5; i++ {
			score *= radix
		}
		return rank, score
	}
	digits := 0
	for _, g := range groups {
		score = score*radix + int(g.rank)
		digits++
	}
	for ; digits < 5; digits++ {
		score *= radix
	}
	return rank, score
}

// DetermineWinners returns the indices of every comparable result sharing the top score.
func DetermineWinners(results []HandResult) []int {
	best := -1
	var winners []int
	for i, r := range results {
		if !r.Comparable {
			continue
		}
		switch {
		case r.Score > best:
			best = r.Score
			winners = []int{i}
		case r.Score == best:
			winners = append(winners, i)
		}
	}
	return winners
}
