package game

import "fmt"

type Suit int
type Rank int
type Color int

const (
	Hearts Suit = iota
	Diamonds
	Clubs
	Spades
)

// Suits lists every suit in deck order.
var Suits = [4]Suit{Hearts, Diamonds, Clubs, Spades}

const (
	Ace Rank = iota + 1
	Two
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
)

// Ranks lists every rank from Ace to King.
var Ranks = [13]Rank{Ace, Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King}

const (
	Red Color = iota
	Black
)

type Card struct {
	ID     string `json:"id"`
	Suit   Suit   `json:"suit"`
	Rank   Rank   `json:"rank"`
	FaceUp bool   `json:"faceUp"`
}

// NewCard builds a face-down card with its stable identifier.
func NewCard(suit Suit, rank Rank) Card {
	return Card{
		ID:   suit.String() + "-" + rank.String(),
		Suit: suit,
		Rank: rank,
	}
}

func (c Card) Color() Color { return c.Suit.Color() }

func (c Card) String() string {
	return rankSymbols[c.Rank] + suitSymbols[c.Suit]
}

// Color returns red for hearts and diamonds, black for clubs and spades.
func (s Suit) Color() Color {
	switch s {
	case Hearts, Diamonds:
		return Red
	case Clubs, Spades:
		return Black
	default:
		panic(fmt.Sprintf("game: unknown suit %d", int(s)))
	}
}

func (s Suit) Valid() bool { return s >= Hearts && s <= Spades }

func (s Suit) String() string {
	switch s {
	case Hearts:
		return "hearts"
	case Diamonds:
		return "diamonds"
	case Clubs:
		return "clubs"
	case Spades:
		return "spades"
	default:
		return fmt.Sprintf("Suit(%d)", int(s))
	}
}

// ParseSuit accepts the lowercase suit names used on the wire.
func ParseSuit(s string) (Suit, error) {
	for _, suit := range Suits {
		if suit.String() == s {
			return suit, nil
		}
	}
	return 0, fmt.Errorf("unknown suit %q", s)
}

func (s Suit) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown suit %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Suit) UnmarshalText(b []byte) error {
	v, err := ParseSuit(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value is the rank's position in the A..K order.
func (r Rank) Value() int { return int(r) }

func (r Rank) Valid() bool { return r >= Ace && r <= King }

func (r Rank) String() string {
	switch r {
	case Ace:
		return "A"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	case Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten:
		return fmt.Sprintf("%d", int(r))
	default:
		return fmt.Sprintf("Rank(%d)", int(r))
	}
}

func ParseRank(s string) (Rank, error) {
	for _, r := range Ranks {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rank %q", s)
}

func (r Rank) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown rank %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rank) UnmarshalText(b []byte) error {
	v, err := ParseRank(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

var suitSymbols = map[Suit]string{Hearts: "♥", Diamonds: "♦", Clubs: "♣", Spades: "♠"}

var rankSymbols = map[Rank]string{
	Ace: "A", Two: "2", Three: "3", Four: "4", Five: "5", Six: "6", Seven: "7",
	Eight: "8", Nine: "9", Ten: "10", Jack: "J", Queen: "Q", King: "K",
}
