package main

import (
	"context"
	"encoding/json"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/poker"
	"github.com/jason-s-yu/tabletop/internal/session"
)

type bot struct {
	name  string
	id    uuid.UUID
	table *poker.Table
	sess  *session.Session
}

func newBot(name string, seed uint64) *bot {
	return &bot{
		name:  name,
		id:    uuid.New(),
		table: poker.NewTable(poker.DefaultConfig, rand.New(rand.NewPCG(seed, 7))),
	}
}

// decide picks a move: mostly passive, with the occasional raise or fold.
func (b *bot) decide(s *poker.State, seat int, rng *rand.Rand) poker.Action {
	me := s.Seat(seat)
	owed := s.CurrentBet - me.Bet
	roll := rng.IntN(100)
	switch {
	case owed > 0 && roll < 10:
		return poker.Action{Type: poker.ActionFold}
	case owed > 0 && roll < 85:
		return poker.Action{Type: poker.ActionCall}
	case owed > 0:
		return poker.Action{Type: poker.ActionBet, Amount: owed + 2*s.BigBlind}
	case roll < 70:
		return poker.Action{Type: poker.ActionCheck}
	default:
		return poker.Action{Type: poker.ActionBet, Amount: s.BigBlind * (1 + rng.IntN(4))}
	}
}

func (b *bot) play(ctx context.Context, a poker.Action) error {
	move, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return b.sess.Move(ctx, move)
}
