package game

import (
	"math/rand"
	"time"
)

// DeckSize is the number of cards in a standard deck.
const DeckSize = 52

// NewDeck creates the canonical ordered 52-card deck, all cards face-down.
func NewDeck() []Card {
	cards := make([]Card, 0, DeckSize)
	for _, suit := range Suits {
		for _, rank := range Ranks {
			cards = append(cards, NewCard(suit, rank))
		}
	}
	return cards
}

// NewRand returns a random source for shuffling. A zero seed picks one from the clock.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Shuffle randomizes the order of cards in place.
func Shuffle(cards []Card, r *rand.Rand) {
	if r == nil {
		r = NewRand(0)
	}

	// Fisher-Yates shuffle algorithm
	for i := len(cards) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// NewShuffledDeck is NewDeck followed by Shuffle.
func NewShuffledDeck(r *rand.Rand) []Card {
	cards := NewDeck()
	Shuffle(cards, r)
	return cards
}
