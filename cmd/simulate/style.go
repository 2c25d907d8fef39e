package main

import (
	"strings"

	"github.com/jason-s-yu/tabletop/internal/cards"
	"github.com/jason-s-yu/tabletop/internal/poker"
	"github.com/pterm/pterm"
)

func cardList(cs []cards.Card) string {
	if len(cs) == 0 {
		return "-"
	}
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, " - ")
}

func seatBox(b *bot, s *poker.State, seat int) string {
	p := s.Seat(seat)
	status := pterm.LightGreen("Active")
	if p.Status == poker.StatusFolded {
		status = pterm.LightRed("Folded")
	}
	title := b.name
	if s.CurrentTurn == seat && !s.Resolved {
		title += " (to act)"
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pbox.WithTitle(title).WithTitleTopLeft().Sprintf("%s\nCurrent Bet: %d\nStack: %d\n%s",
		status, p.Bet, p.Stack, pterm.BgGreen.Sprint(cardList(p.Hole)))
}

func boardBox(s *poker.State) string {
	return pterm.BgGreen.Sprintf("\n %s | Pot: %d | %s \n", cardList(s.Community), s.Pot, s.Phase)
}

func actionBox(name string, a poker.Action) string {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	text := pterm.Sprintf("%s: %s", name, a.Type)
	if a.Type == poker.ActionBet {
		text = pterm.Sprintf("%s bets %d", name, a.Amount)
	}
	return pbox.WithTitle(pterm.LightYellow("|LAST ACTION|")).WithTitleTopCenter().Sprint(text)
}

func resultBox(players []*bot) string {
	s := players[0].table.Snapshot()
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	var lines []string
	if s.Winner == 0 {
		lines = append(lines, "Split pot")
	}
	for i, b := range players {
		p := s.Players[i]
		line := pterm.Sprintf("%s collects %d", pterm.LightCyan(b.name), s.Payouts[i])
		if p.HandLabel != "" {
			line += " with " + p.HandLabel
		}
		lines = append(lines, line)
	}
	return pbox.WithTitle(pterm.LightGreen("|RESULT|")).WithTitleTopCenter().Sprint(strings.Join(lines, "\n"))
}

// printState renders both seats from the first player's replica, the board, and extra panels.
func printState(players []*bot, extra ...pterm.Panel) {
	s := players[0].table.Snapshot()
	seats := make([]pterm.Panel, len(players))
	for i, b := range players {
		seats[i] = pterm.Panel{Data: seatBox(b, s, i+1)}
	}
	_ = pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		seats,
		{{Data: boardBox(s)}},
		extra,
	}).Render()
}
