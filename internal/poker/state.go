// Package poker implements heads-up Texas Hold'em as a deterministic reducer over State.
package poker

import (
	"math/rand/v2"

	"github.com/jason-s-yu/tabletop/internal/cards"
)

// GameID is the identifier rooms use for this game.
const GameID = "poker"

// Phase is the betting stage of a hand.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhasePreflop  Phase = "preflop"
	PhaseFlop     Phase = "flop"
	PhaseTurn     Phase = "turn"
	PhaseRiver    Phase = "river"
	PhaseShowdown Phase = "showdown"
)

var phaseOrder = map[Phase]int{
	PhaseWaiting:  0,
	PhasePreflop:  1,
	PhaseFlop:     2,
	PhaseTurn:     3,
	PhaseRiver:    4,
	PhaseShowdown: 5,
}

// communityAt is how many board cards are visible in each phase before showdown.
var communityAt = map[Phase]int{
	PhaseWaiting: 0,
	PhasePreflop: 0,
	PhaseFlop:    3,
	PhaseTurn:    4,
	PhaseRiver:   5,
}

// PlayerStatus tracks whether a seat is still contesting the pot.
type PlayerStatus string

const (
	StatusActive PlayerStatus = "active"
	StatusFolded PlayerStatus = "folded"
)

// Seat is one player's side of the table.
type Seat struct {
	Stack     int          `json:"stack"`
	Bet       int          `json:"bet"`
	TotalBet  int          `json:"total_bet"`
	Status    PlayerStatus `json:"status"`
	Hole      []cards.Card `json:"hole"`
	HandLabel string       `json:"hand_label,omitempty"`
}

// Config fixes the stakes of a match.
type Config struct {
	SmallBlind    int `json:"small_blind"`
	BigBlind      int `json:"big_blind"`
	StartingStack int `json:"starting_stack"`
}

// DefaultConfig is 50/100 blinds with 5000 chips each.
var DefaultConfig = Config{SmallBlind: 50, BigBlind: 100, StartingStack: 5000}

// holeOffsets are the deck positions each seat's hole cards are dealt from.
var holeOffsets = [2][2]int{{0, 1}, {2, 3}}

// firstBoardCard is the deck cursor after hole cards are dealt.
const firstBoardCard = 4

// State is the complete shared game-state payload for one hand.
// Seats are 1-based; Players[0] is seat 1.
type State struct {
	Phase         Phase        `json:"phase"`
	CurrentTurn   int          `json:"current_turn"`
	Deck          cards.Deck   `json:"deck"`
	DeckIndex     int          `json:"deck_index"`
	Community     []cards.Card `json:"community"`
	Pot           int          `json:"pot"`
	CurrentBet    int          `json:"current_bet"`
	Players       [2]Seat      `json:"players"`
	DealerSeat    int          `json:"dealer_seat"`
	SmallBlind    int          `json:"small_blind"`
	BigBlind      int          `json:"big_blind"`
	StreetActions int          `json:"street_actions"`
	Winner        int          `json:"winner"`
	Resolved      bool         `json:"resolved"`
	Payouts       [2]int       `json:"payouts"`
}

// NewState returns a table in the waiting phase with full stacks.
func NewState(cfg Config) *State {
	s := &State{
		Phase:      PhaseWaiting,
		DealerSeat: 1,
		SmallBlind: cfg.SmallBlind,
		BigBlind:   cfg.BigBlind,
		Community:  []cards.Card{},
	}
	for i := range s.Players {
		s.Players[i] = Seat{Stack: cfg.StartingStack, Status: StatusActive, Hole: []cards.Card{}}
	}
	return s
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Community = append([]cards.Card{}, s.Community...)
	for i := range s.Players {
		c.Players[i].Hole = append([]cards.Card{}, s.Players[i].Hole...)
	}
	return &c
}

// Seat returns the 1-based seat n.
func (s *State) Seat(n int) *Seat {
	return &s.Players[n-1]
}

// Opponent returns the other seat in a heads-up game.
func Opponent(seat int) int {
	return 3 - seat
}

// Chips is the total of both stacks plus the pot. It is constant across a hand.
func (s *State) Chips() int {
	return s.Players[0].Stack + s.Players[1].Stack + s.Pot
}

// Dealt returns every card taken from the deck so far.
func (s *State) Dealt() []cards.Card {
	out := make([]cards.Card, 0, s.DeckIndex)
	out = append(out, s.Players[0].Hole...)
	out = append(out, s.Players[1].Hole...)
	out = append(out, s.Community...)
	return out
}

// Start shuffles and deals a fresh hand from a waiting state: two hole cards per
// seat from fixed deck offsets, blinds from seat 1 (small) and seat 2 (big), each
// clamped to the stack. The small blind acts first.
func Start(cfg Config, rng *rand.Rand) *State {
	s := NewState(cfg)
	s.Deck = cards.Shuffled(rng)
	s.deal()
	return s
}

func (s *State) deal() {
	for i, offs := range holeOffsets {
		s.Players[i].Hole = []cards.Card{s.Deck[offs[0]], s.Deck[offs[1]]}
	}
	s.DeckIndex = firstBoardCard

	sbSeat := s.DealerSeat
	bbSeat := Opponent(sbSeat)
	s.post(sbSeat, s.SmallBlind)
	s.post(bbSeat, s.BigBlind)

	s.CurrentBet = max(s.Seat(sbSeat).Bet, s.Seat(bbSeat).Bet)
	s.Phase = PhasePreflop
	s.CurrentTurn = sbSeat
	// posting the blinds opens the street, so a preflop call closes it
	s.StreetActions = 1
}

// post moves up to amount from seat's stack into the pot.
func (s *State) post(seat, amount int) int {
	p := s.Seat(seat)
	amount = min(amount, p.Stack)
	if amount < 0 {
		amount = 0
	}
	p.Stack -= amount
	p.Bet += amount
	p.TotalBet += amount
	s.Pot += amount
	return amount
}
