// internal/cards/card.go
package cards

import (
	"fmt"
	"strings"
)

// Suit of a playing card.
type Suit uint8

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

const suitChars = "cdhs"

func (s Suit) String() string {
	if int(s) >= len(suitChars) {
		return "?"
	}
	return suitChars[s : s+1]
}

// Rank of a playing card. Two is 2, ace is 14.
type Rank uint8

const (
	Two   Rank = 2
	Three Rank = 3
	Four  Rank = 4
	Five  Rank = 5
	Six   Rank = 6
	Seven Rank = 7
	Eight Rank = 8
	Nine  Rank = 9
	Ten   Rank = 10
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
	Ace   Rank = 14
)

const rankChars = "23456789TJQKA"

func (r Rank) String() string {
	if r < Two || r > Ace {
		return "?"
	}
	i := int(r - Two)
	return rankChars[i : i+1]
}

// Card is a value type; two cards are the same identity when rank and suit match.
type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

// Valid reports whether c is one of the 52 standard cards.
func (c Card) Valid() bool {
	return c.Rank >= Two && c.Rank <= Ace && c.Suit <= Spades
}

// Index maps c onto 0..51, suit-major.
func (c Card) Index() int {
	return int(c.Suit)*13 + int(c.Rank-Two)
}

// String renders c as rank followed by suit, e.g. "As" or "Td".
func (c Card) String() string {
	return c.Rank.String() + c.Suit.String()
}

// MarshalText implements encoding.TextMarshaler so cards travel as "As" in JSON.
// The zero card, used for slots not yet dealt, encodes as "".
func (c Card) MarshalText() ([]byte, error) {
	if c == (Card{}) {
		return []byte{}, nil
	}
	if !c.Valid() {
		return nil, fmt.Errorf("invalid card %d/%d", c.Rank, c.Suit)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Card) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = Card{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse reads a two-character card such as "Ah" or "2c". "10" is accepted for ten.
func Parse(s string) (Card, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "10") {
		s = "T" + s[2:]
	}
	if len(s) != 2 {
		return Card{}, fmt.Errorf("bad card %q", s)
	}
	ri := strings.IndexByte(rankChars, upper(s[0]))
	si := strings.IndexByte(suitChars, lower(s[1]))
	if ri < 0 || si < 0 {
		return Card{}, fmt.Errorf("bad card %q", s)
	}
	return Card{Rank: Rank(ri) + Two, Suit: Suit(si)}, nil
}

// MustParse is Parse for literals in tests and fixtures. It panics on bad input.
func MustParse(s string) Card {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseList parses a whitespace separated list of cards.
func ParseList(s string) ([]Card, error) {
	fields := strings.Fields(s)
	out := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := Parse(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}
