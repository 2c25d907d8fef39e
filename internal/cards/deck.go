package cards

import (
	"math/rand/v2"
)

// DeckSize is the number of cards in a standard deck.
const DeckSize = 52

// Deck is an ordered 52-card deck. The zero value is not a valid deck; use NewDeck.
type Deck [DeckSize]Card

// NewDeck returns the deck in suit-major order (2c..Ac, 2d..Ad, ...).
func NewDeck() Deck {
	var d Deck
	i := 0
	for s := Clubs; s <= Spades; s++ {
		for r := Two; r <= Ace; r++ {
			d[i] = Card{Rank: r, Suit: s}
			i++
		}
	}
	return d
}

// Shuffle permutes d in place with a Fisher-Yates pass driven by rng.
// A nil rng uses the package-level generator.
func (d *Deck) Shuffle(rng *rand.Rand) {
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	for i := DeckSize - 1; i > 0; i-- {
		j := intN(i + 1)
		d[i], d[j] = d[j], d[i]
	}
}

// Shuffled returns a freshly shuffled deck.
func Shuffled(rng *rand.Rand) Deck {
	d := NewDeck()
	d.Shuffle(rng)
	return d
}

// Seeded returns a deterministic generator, for replays and tests.
func Seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// HasDuplicates reports whether any card identity appears twice in cs.
func HasDuplicates(cs ...[]Card) bool {
	var seen [DeckSize]bool
	for _, group := range cs {
		for _, c := range group {
			if !c.Valid() {
				continue
			}
			if seen[c.Index()] {
				return true
			}
			seen[c.Index()] = true
		}
	}
	return false
}
