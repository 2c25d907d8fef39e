package poker

import (
	"github.com/jason-s-yu/tabletop/internal/cards"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// Check verifies the internal consistency of a single state.
func Check(s *State) error {
	if _, ok := phaseOrder[s.Phase]; !ok {
		return models.Desyncf("unknown phase %q", s.Phase)
	}
	for i, p := range s.Players {
		if p.Stack < 0 || p.Bet < 0 || p.TotalBet < 0 {
			return models.Desyncf("seat %d has negative chips", i+1)
		}
	}
	if s.Pot < 0 {
		return models.Desyncf("negative pot %d", s.Pot)
	}
	if s.Phase == PhaseWaiting || s.DeckIndex == 0 {
		// nothing dealt yet, e.g. a forfeit before the first deal
		return nil
	}

	if cards.HasDuplicates(s.Deck[:]) {
		return models.Desyncf("deck contains duplicate cards")
	}
	for _, c := range s.Deck {
		if !c.Valid() {
			return models.Desyncf("deck contains an undealt slot")
		}
	}
	dealt := s.Dealt()
	if cards.HasDuplicates(dealt) {
		return models.Desyncf("dealt cards are not disjoint")
	}
	if s.DeckIndex != len(dealt) {
		return models.Desyncf("deck index %d does not match %d dealt cards", s.DeckIndex, len(dealt))
	}
	for i, offs := range holeOffsets {
		h := s.Players[i].Hole
		if len(h) != 2 || h[0] != s.Deck[offs[0]] || h[1] != s.Deck[offs[1]] {
			return models.Desyncf("seat %d hole cards do not match the deck", i+1)
		}
	}
	for i, c := range s.Community {
		if c != s.Deck[firstBoardCard+i] {
			return models.Desyncf("board card %d does not match the deck", i)
		}
	}
	if want, ok := communityAt[s.Phase]; ok && len(s.Community) != want {
		return models.Desyncf("phase %s shows %d board cards", s.Phase, len(s.Community))
	}
	return nil
}

// Validate checks that next is a legal successor of prev: chips are conserved, the
// deck cursor only moves forward over the same deck, and the phase never regresses.
// A nil prev only checks next on its own.
func Validate(prev, next *State) error {
	if err := Check(next); err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	if phaseOrder[next.Phase] < phaseOrder[prev.Phase] {
		return models.Desyncf("phase went back from %s to %s", prev.Phase, next.Phase)
	}
	if next.Chips() != prev.Chips() {
		return models.Desyncf("chips not conserved: %d before, %d after", prev.Chips(), next.Chips())
	}
	// the opening deal brings a fresh deck
	if prev.Phase == PhaseWaiting {
		return nil
	}
	if next.DeckIndex < prev.DeckIndex {
		return models.Desyncf("deck index went back from %d to %d", prev.DeckIndex, next.DeckIndex)
	}
	if next.Deck != prev.Deck {
		return models.Desyncf("deck changed mid-hand")
	}
	if prev.Resolved && !next.Resolved {
		return models.Desyncf("resolved hand was reopened")
	}
	return nil
}
