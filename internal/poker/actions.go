package poker

import (
	"fmt"

	"github.com/jason-s-yu/tabletop/internal/handeval"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// ActionType is a betting decision.
type ActionType string

const (
	ActionCheck ActionType = "check"
	ActionCall  ActionType = "call"
	ActionBet   ActionType = "bet"
	ActionFold  ActionType = "fold"
)

// Action is the move payload a seat submits. Amount is only read for bets and is
// the number of chips added on top of the seat's current street bet.
type Action struct {
	Type   ActionType `json:"type"`
	Amount int        `json:"amount,omitempty"`
}

// Apply returns the state that results from seat taking action a. prev is never modified.
func Apply(prev *State, seat int, a Action) (*State, error) {
	switch {
	case prev.Resolved || prev.Phase == PhaseShowdown:
		return nil, fmt.Errorf("hand is over: %w", models.ErrIllegalAction)
	case prev.Phase == PhaseWaiting:
		return nil, fmt.Errorf("hand has not started: %w", models.ErrIllegalAction)
	case seat != 1 && seat != 2:
		return nil, models.Validationf("apply", "seat %d is not at this table", seat)
	case seat != prev.CurrentTurn:
		return nil, models.ErrNotYourTurn
	}

	s := prev.Clone()
	var err error
	switch a.Type {
	case ActionCheck:
		err = s.check(seat)
	case ActionCall:
		s.call(seat)
	case ActionBet:
		err = s.bet(seat, a.Amount)
	case ActionFold:
		s.awardTo(Opponent(seat))
		s.Seat(seat).Status = StatusFolded
		return s, nil
	default:
		return nil, models.Validationf("apply", "unknown action %q", a.Type)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) check(seat int) error {
	if s.Seat(seat).Bet != s.CurrentBet {
		return fmt.Errorf("cannot check facing a bet of %d: %w", s.CurrentBet-s.Seat(seat).Bet, models.ErrIllegalAction)
	}
	s.StreetActions++
	s.CurrentTurn = Opponent(seat)
	s.maybeAdvance()
	return nil
}

// call matches the current bet, capped at the caller's stack. When the cap applies,
// the bettor takes back whatever the caller could not cover.
func (s *State) call(seat int) {
	me := s.Seat(seat)
	s.post(seat, s.CurrentBet-me.Bet)

	if me.Bet < s.CurrentBet {
		opp := s.Seat(Opponent(seat))
		excess := opp.Bet - me.Bet
		opp.Stack += excess
		opp.Bet -= excess
		opp.TotalBet -= excess
		s.Pot -= excess
		s.CurrentBet = me.Bet
	}

	s.StreetActions++
	s.CurrentTurn = Opponent(seat)
	s.maybeAdvance()
}

func (s *State) bet(seat, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("bet amount must be positive, got %d: %w", amount, models.ErrIllegalAction)
	}
	me := s.Seat(seat)
	amount = min(amount, me.Stack)
	allIn := amount == me.Stack
	if me.Bet+amount <= s.CurrentBet {
		if !allIn {
			return fmt.Errorf("bet of %d does not raise the current bet of %d: %w", me.Bet+amount, s.CurrentBet, models.ErrIllegalAction)
		}
		// a short all-in is a call for whatever is left
		s.call(seat)
		return nil
	}
	s.post(seat, amount)
	s.CurrentBet = me.Bet
	s.StreetActions++
	s.CurrentTurn = Opponent(seat)
	return nil
}

func (s *State) maybeAdvance() {
	if s.Players[0].Bet != s.Players[1].Bet || s.StreetActions < 2 {
		return
	}
	s.advanceStreet()
	// nobody can act once a player is all in, so the board runs out
	for s.Phase != PhaseShowdown && (s.Players[0].Stack == 0 || s.Players[1].Stack == 0) {
		s.advanceStreet()
	}
}

func (s *State) advanceStreet() {
	for i := range s.Players {
		s.Players[i].Bet = 0
	}
	s.CurrentBet = 0
	s.StreetActions = 0
	s.CurrentTurn = Opponent(s.DealerSeat)

	switch s.Phase {
	case PhasePreflop:
		s.burnToBoard(3)
		s.Phase = PhaseFlop
	case PhaseFlop:
		s.burnToBoard(1)
		s.Phase = PhaseTurn
	case PhaseTurn:
		s.burnToBoard(1)
		s.Phase = PhaseRiver
	case PhaseRiver:
		s.showdown()
	}
}

// burnToBoard moves the next n deck cards onto the board. No burn cards are used,
// so the cursor always equals the number of cards dealt.
func (s *State) burnToBoard(n int) {
	s.Community = append(s.Community, s.Deck[s.DeckIndex:s.DeckIndex+n]...)
	s.DeckIndex += n
}

func (s *State) showdown() {
	results := make([]handeval.HandResult, len(s.Players))
	for i := range s.Players {
		results[i] = handeval.EvaluateBestHand(s.Players[i].Hole, s.Community)
		s.Players[i].HandLabel = results[i].Label
	}
	winners := handeval.DetermineWinners(results)
	if len(winners) == 1 {
		s.awardTo(winners[0] + 1)
		return
	}

	// split: seat 1 takes the odd chip
	half := s.Pot / 2
	s.Payouts = [2]int{s.Pot - half, half}
	s.Players[0].Stack += s.Payouts[0]
	s.Players[1].Stack += s.Payouts[1]
	s.Pot = 0
	s.finish(0)
}

func (s *State) awardTo(seat int) {
	s.Payouts[seat-1] += s.Pot
	s.Seat(seat).Stack += s.Pot
	s.Pot = 0
	s.finish(seat)
}

func (s *State) finish(winner int) {
	for i := range s.Players {
		s.Players[i].Bet = 0
	}
	s.CurrentBet = 0
	s.Winner = winner
	s.Resolved = true
	s.Phase = PhaseShowdown
	s.CurrentTurn = 0
}

// Forfeit ends the hand with the pot awarded to loser's opponent, regardless of whose turn it is.
func Forfeit(prev *State, loser int) (*State, error) {
	if loser != 1 && loser != 2 {
		return nil, models.Validationf("forfeit", "seat %d is not at this table", loser)
	}
	if prev.Resolved {
		return nil, fmt.Errorf("hand is over: %w", models.ErrIllegalAction)
	}
	s := prev.Clone()
	s.Seat(loser).Status = StatusFolded
	s.awardTo(Opponent(loser))
	return s, nil
}

// Outcome reports the result of s in room terms.
func (s *State) Outcome() models.Outcome {
	if !s.Resolved {
		return models.Outcome{}
	}
	return models.Outcome{Over: true, Draw: s.Winner == 0, WinnerSeat: s.Winner}
}
