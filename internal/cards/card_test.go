package cards

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse("As")
	require.NoError(t, err)
	assert.Equal(t, Card{Rank: Ace, Suit: Spades}, c)

	c, err = Parse("10h")
	require.NoError(t, err)
	assert.Equal(t, Card{Rank: Ten, Suit: Hearts}, c)

	c, err = Parse("tD")
	require.NoError(t, err)
	assert.Equal(t, "Td", c.String())

	_, err = Parse("1x")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestCardJSONUsesShortForm(t *testing.T) {
	hand := []Card{MustParse("Kc"), MustParse("2d")}
	b, err := json.Marshal(hand)
	require.NoError(t, err)
	assert.JSONEq(t, `["Kc","2d"]`, string(b))

	var back []Card
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, hand, back)
}

func TestNewDeckHasEveryCardOnce(t *testing.T) {
	d := NewDeck()
	assert.False(t, HasDuplicates(d[:]))
	for _, c := range d {
		assert.True(t, c.Valid())
	}
	assert.Equal(t, 0, d[0].Index())
	assert.Equal(t, DeckSize-1, d[DeckSize-1].Index())
}

func TestShuffleIsPermutationAndSeedDeterministic(t *testing.T) {
	a := Shuffled(Seeded(42))
	b := Shuffled(Seeded(42))
	assert.Equal(t, a, b)
	assert.False(t, HasDuplicates(a[:]))
	assert.NotEqual(t, NewDeck(), a)

	c := Shuffled(Seeded(7))
	assert.NotEqual(t, a, c)
}

func TestShuffleIsRoughlyUniform(t *testing.T) {
	// Track where the ace of spades lands over many shuffles.
	rng := Seeded(1)
	const trials = 52000
	var counts [DeckSize]int
	for i := 0; i < trials; i++ {
		d := Shuffled(rng)
		for pos, c := range d {
			if c == (Card{Rank: Ace, Suit: Spades}) {
				counts[pos]++
			}
		}
	}
	for pos, n := range counts {
		assert.InDelta(t, trials/DeckSize, n, 300, "position %d", pos)
	}
}

func TestHasDuplicatesAcrossGroups(t *testing.T) {
	hole := []Card{MustParse("As"), MustParse("Kd")}
	board := []Card{MustParse("2c"), MustParse("As")}
	assert.True(t, HasDuplicates(hole, board))
	assert.False(t, HasDuplicates(hole, board[:1]))
}

func TestZeroCardRoundTrips(t *testing.T) {
	var d Deck
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var back Deck
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)
}
