package handeval

import (
	"testing"

	"github.com/jason-s-yu/tabletop/internal/cards"
	"github.com/paulhankin/poker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustList(t *testing.T, s string) []cards.Card {
	t.Helper()
	cs, err := cards.ParseList(s)
	require.NoError(t, err)
	return cs
}

func TestRoyalFlushExample(t *testing.T) {
	res := EvaluateBestHand(mustList(t, "As Ks"), mustList(t, "Qs Js Ts 2d 3c"))
	require.True(t, res.Comparable)
	assert.Equal(t, RoyalFlush, res.Rank)
	assert.Equal(t, "Royal Flush", res.Label)
	assert.ElementsMatch(t, mustList(t, "As Ks Qs Js Ts"), res.Cards)
}

func TestPlaceholderBeforeFlop(t *testing.T) {
	res := EvaluateBestHand(mustList(t, "9h 9c"), nil)
	assert.False(t, res.Comparable)
	assert.Equal(t, OnePair, res.Rank)

	res = EvaluateBestHand(mustList(t, "9h 8c"), mustList(t, "2d 3d"))
	assert.False(t, res.Comparable)
	assert.Len(t, res.Cards, 4)
}

func TestCategoryOrdering(t *testing.T) {
	hands := []struct {
		cards string
		rank  Rank
	}{
		{"2c 4d 6h 8s Tc", HighCard},
		{"2c 2d 6h 8s Tc", OnePair},
		{"2c 2d 6h 6s Tc", TwoPair},
		{"2c 2d 2h 8s Tc", ThreeOfAKind},
		{"Ac 2d 3h 4s 5c", Straight},
		{"2c 4c 6c 8c Tc", Flush},
		{"2c 2d 2h 8s 8c", FullHouse},
		{"2c 2d 2h 2s Tc", FourOfAKind},
		{"Ah 2h 3h 4h 5h", StraightFlush},
		{"Th Jh Qh Kh Ah", RoyalFlush},
	}
	prev := -1
	for _, h := range hands {
		res := EvaluateBestHand(nil, mustList(t, h.cards))
		require.True(t, res.Comparable)
		assert.Equal(t, h.rank, res.Rank, h.cards)
		assert.Greater(t, res.Score, prev, h.cards)
		prev = res.Score
	}
}

func TestWorstOfCategoryBeatsBestOfLowerCategory(t *testing.T) {
	worstPair := EvaluateBestHand(nil, mustList(t, "2c 2d 3h 4s 5c"))
	bestHigh := EvaluateBestHand(nil, mustList(t, "Ac Kd Qh Js 9c"))
	assert.Greater(t, worstPair.Score, bestHigh.Score)

	wheel := EvaluateBestHand(nil, mustList(t, "Ac 2d 3h 4s 5c"))
	bestTrips := EvaluateBestHand(nil, mustList(t, "Ac Ad Ah Ks Qc"))
	assert.Greater(t, wheel.Score, bestTrips.Score)
}

func TestWheelIsLowestStraight(t *testing.T) {
	wheel := EvaluateBestHand(nil, mustList(t, "Ac 2d 3h 4s 5c"))
	six := EvaluateBestHand(nil, mustList(t, "2c 3d 4h 5s 6c"))
	broadway := EvaluateBestHand(nil, mustList(t, "Tc Jd Qh Ks Ac"))
	assert.Equal(t, Straight, wheel.Rank)
	assert.Less(t, wheel.Score, six.Score)
	assert.Less(t, six.Score, broadway.Score)
}

func TestKickersBreakTies(t *testing.T) {
	a := EvaluateBestHand(mustList(t, "Kh Kd"), mustList(t, "9c 7s 3d 2h 4c"))
	b := EvaluateBestHand(mustList(t, "Ks Kc"), mustList(t, "9c 8s 3d 2h 4c"))
	assert.Equal(t, OnePair, a.Rank)
	assert.Less(t, a.Score, b.Score)

	fhLow := EvaluateBestHand(nil, mustList(t, "3c 3d 3h As Ac"))
	fhHigh := EvaluateBestHand(nil, mustList(t, "4c 4d 4h 2s 2c"))
	assert.Less(t, fhLow.Score, fhHigh.Score)
}

func TestDetermineWinners(t *testing.T) {
	board := mustList(t, "Ac Kd Qh Js 9c")
	results := []HandResult{
		EvaluateBestHand(mustList(t, "2c 3d"), board),
		EvaluateBestHand(mustList(t, "2h 3s"), board),
		EvaluateBestHand(mustList(t, "Tc 4d"), board),
	}
	assert.Equal(t, []int{2}, DetermineWinners(results))

	results = results[:2]
	assert.Equal(t, []int{0, 1}, DetermineWinners(results))

	assert.Empty(t, DetermineWinners([]HandResult{{Comparable: false}}))
}

func toOracle(t *testing.T, c cards.Card) poker.Card {
	t.Helper()
	r := poker.Rank(c.Rank)
	if c.Rank == cards.Ace {
		r = 1
	}
	pc, err := poker.MakeCard(poker.Suit(c.Suit), r)
	require.NoError(t, err)
	return pc
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// TestAgreesWithReferenceEvaluator compares the ordering of random seven-card hands
// against an independent evaluator.
func TestAgreesWithReferenceEvaluator(t *testing.T) {
	rng := cards.Seeded(2024)
	for i := 0; i < 2000; i++ {
		d := cards.Shuffled(rng)
		board := d[4:9]

		var o1, o2 [7]poker.Card
		for j, c := range append([]cards.Card{d[0], d[1]}, board...) {
			o1[j] = toOracle(t, c)
		}
		for j, c := range append([]cards.Card{d[2], d[3]}, board...) {
			o2[j] = toOracle(t, c)
		}

		r1 := EvaluateBestHand(d[0:2], board)
		r2 := EvaluateBestHand(d[2:4], board)
		want := sign(int(poker.Eval7(&o1)) - int(poker.Eval7(&o2)))
		got := sign(r1.Score - r2.Score)
		require.Equal(t, want, got, "hand %d: %v vs %v on %v", i, d[0:2], d[2:4], board)
	}
}
