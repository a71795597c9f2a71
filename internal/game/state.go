package game

import (
	"errors"
	"fmt"
	"time"
)

// TableauColumns is the number of tableau columns in Klondike.
const TableauColumns = 7

// ErrInvalidDeck is returned when dealing from anything but a full, duplicate-free deck.
var ErrInvalidDeck = errors.New("invalid deck")

type GameState struct {
	Tableau     [][]Card        `json:"tableau"`
	Foundations map[Suit][]Card `json:"foundations"`
	Stock       []Card          `json:"stock"`
	Waste       []Card          `json:"waste"`
	Moves       int             `json:"moves"`
	Score       int             `json:"score"`
	StartTime   time.Time       `json:"startTime"`
	ElapsedTime time.Duration   `json:"elapsedTime"`
}

// NewEmptyState returns a board with seven empty columns and four empty foundations.
func NewEmptyState() *GameState {
	s := &GameState{
		Tableau:     make([][]Card, TableauColumns),
		Foundations: make(map[Suit][]Card, len(Suits)),
		Stock:       []Card{},
		Waste:       []Card{},
	}
	for i := range s.Tableau {
		s.Tableau[i] = []Card{}
	}
	for _, suit := range Suits {
		s.Foundations[suit] = []Card{}
	}
	return s
}

// DealCards lays out a shuffled deck: column i gets i+1 cards with only the
// last one face-up, and the remaining 24 cards form the stock.
func DealCards(deck []Card) (*GameState, error) {
	if len(deck) != DeckSize {
		return nil, fmt.Errorf("%w: expected %d cards, got %d", ErrInvalidDeck, DeckSize, len(deck))
	}
	seen := make(map[string]bool, DeckSize)
	for _, c := range deck {
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate card %s", ErrInvalidDeck, c.ID)
		}
		seen[c.ID] = true
	}

	s := NewEmptyState()
	next := 0
	for col := 0; col < TableauColumns; col++ {
		column := make([]Card, 0, col+1)
		for i := 0; i <= col; i++ {
			card := deck[next]
			next++
			card.FaceUp = i == col
			column = append(column, card)
		}
		s.Tableau[col] = column
	}

	s.Stock = make([]Card, 0, DeckSize-next)
	for _, card := range deck[next:] {
		card.FaceUp = false
		s.Stock = append(s.Stock, card)
	}
	return s, nil
}

// Clone deep-copies the board so snapshots never share backing arrays.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	c := *s
	c.Tableau = make([][]Card, len(s.Tableau))
	for i, col := range s.Tableau {
		c.Tableau[i] = cloneCards(col)
	}
	c.Foundations = make(map[Suit][]Card, len(s.Foundations))
	for suit, pile := range s.Foundations {
		c.Foundations[suit] = cloneCards(pile)
	}
	c.Stock = cloneCards(s.Stock)
	c.Waste = cloneCards(s.Waste)
	return &c
}

func cloneCards(cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	return out
}

// AllCards returns every card on the board across all zones.
func (s *GameState) AllCards() []Card {
	cards := make([]Card, 0, DeckSize)
	for _, col := range s.Tableau {
		cards = append(cards, col...)
	}
	for _, suit := range Suits {
		cards = append(cards, s.Foundations[suit]...)
	}
	cards = append(cards, s.Stock...)
	cards = append(cards, s.Waste...)
	return cards
}

// CheckConservation reports an error if the board no longer holds exactly one
// copy of each of the 52 cards.
func (s *GameState) CheckConservation() error {
	cards := s.AllCards()
	if len(cards) != DeckSize {
		return fmt.Errorf("board holds %d cards, want %d", len(cards), DeckSize)
	}
	seen := make(map[string]bool, DeckSize)
	for _, c := range cards {
		if seen[c.ID] {
			return fmt.Errorf("card %s appears twice", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Elapsed is the play time so far, or the frozen time once the game stopped.
func (s *GameState) Elapsed(now time.Time) time.Duration {
	if s.ElapsedTime > 0 || s.StartTime.IsZero() {
		return s.ElapsedTime
	}
	return now.Sub(s.StartTime)
}

func top(cards []Card) (Card, bool) {
	if len(cards) == 0 {
		return Card{}, false
	}
	return cards[len(cards)-1], true
}
