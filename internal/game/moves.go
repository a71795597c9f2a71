package game

import "fmt"

type MoveKind string

const (
	MoveDraw              MoveKind = "draw"
	MoveWasteToTableau    MoveKind = "waste-tableau"
	MoveWasteToFoundation MoveKind = "waste-foundation"
	MoveTableauToTableau  MoveKind = "tableau-tableau"
	MoveTableauFoundation MoveKind = "tableau-foundation"
	MoveFoundationTableau MoveKind = "foundation-tableau"

	// MoveUndo only appears in on-chain ledgers. It rewinds the board to the
	// position after move Number; Apply rejects it.
	MoveUndo MoveKind = "undo"
)

// Move describes one player action. From and To are tableau column indexes,
// CardIndex is the position of the run head inside the source column, and
// Suit names the foundation pile involved.
type Move struct {
	Kind      MoveKind `json:"kind"`
	From      int      `json:"from,omitempty"`
	CardIndex int      `json:"cardIndex,omitempty"`
	To        int      `json:"to,omitempty"`
	Suit      Suit     `json:"suit"`
}

func (m Move) String() string {
	switch m.Kind {
	case MoveDraw:
		return "draw"
	case MoveWasteToTableau:
		return fmt.Sprintf("waste -> column %d", m.To)
	case MoveWasteToFoundation:
		return fmt.Sprintf("waste -> %s", m.Suit)
	case MoveTableauToTableau:
		return fmt.Sprintf("column %d[%d] -> column %d", m.From, m.CardIndex, m.To)
	case MoveTableauFoundation:
		return fmt.Sprintf("column %d -> %s", m.From, m.Suit)
	case MoveFoundationTableau:
		return fmt.Sprintf("%s -> column %d", m.Suit, m.To)
	default:
		return string(m.Kind)
	}
}

// Scoring holds the point delta applied for each kind of accepted move.
type Scoring struct {
	WasteToTableau      int `json:"wasteToTableau"`
	WasteToFoundation   int `json:"wasteToFoundation"`
	TableauToFoundation int `json:"tableauToFoundation"`
	FoundationToTableau int `json:"foundationToTableau"`
	RevealCard          int `json:"revealCard"`
	Draw                int `json:"draw"`
	RecycleWaste        int `json:"recycleWaste"`
}

type Rules struct {
	Scoring Scoring `json:"scoring"`
	// RecycleWaste lets a draw from an empty stock turn the waste back over.
	RecycleWaste bool `json:"recycleWaste"`
}

func DefaultRules() Rules {
	return Rules{
		Scoring: Scoring{
			WasteToTableau:      5,
			WasteToFoundation:   10,
			TableauToFoundation: 10,
			FoundationToTableau: -15,
			RevealCard:          5,
			Draw:                0,
			RecycleWaste:        -100,
		},
		RecycleWaste: true,
	}
}

// Apply validates m against s and returns the resulting board. The input state is
// never modified; an illegal move returns s unchanged and false.
func Apply(s *GameState, m Move, rules Rules) (*GameState, bool) {
	next := s.Clone()
	var points int
	var ok bool

	switch m.Kind {
	case MoveDraw:
		points, ok = next.draw(rules)
	case MoveWasteToTableau:
		points, ok = next.wasteToTableau(m.To, rules.Scoring)
	case MoveWasteToFoundation:
		points, ok = next.wasteToFoundation(m.Suit, rules.Scoring)
	case MoveTableauToTableau:
		points, ok = next.tableauToTableau(m.From, m.CardIndex, m.To, rules.Scoring)
	case MoveTableauFoundation:
		points, ok = next.tableauToFoundation(m.From, m.Suit, rules.Scoring)
	case MoveFoundationTableau:
		points, ok = next.foundationToTableau(m.Suit, m.To, rules.Scoring)
	}
	if !ok {
		return s, false
	}

	next.Moves++
	next.Score += points
	if next.Score < 0 {
		next.Score = 0
	}
	return next, true
}

// CanRecycle reports whether a draw would turn the waste back into the stock.
func CanRecycle(s *GameState, rules Rules) bool {
	return rules.RecycleWaste && len(s.Stock) == 0 && len(s.Waste) > 0
}

func (s *GameState) draw(rules Rules) (int, bool) {
	if len(s.Stock) == 0 {
		if !CanRecycle(s, rules) {
			return 0, false
		}
		// The waste's bottom card becomes the next card drawn.
		stock := make([]Card, 0, len(s.Waste))
		for i := len(s.Waste) - 1; i >= 0; i-- {
			c := s.Waste[i]
			c.FaceUp = false
			stock = append(stock, c)
		}
		s.Stock = stock
		s.Waste = []Card{}
		return rules.Scoring.RecycleWaste, true
	}

	card := s.Stock[len(s.Stock)-1]
	s.Stock = s.Stock[:len(s.Stock)-1]
	card.FaceUp = true
	s.Waste = append(s.Waste, card)
	return rules.Scoring.Draw, true
}

func (s *GameState) wasteToTableau(col int, sc Scoring) (int, bool) {
	card, ok := top(s.Waste)
	if !ok || !validColumn(col) || !CanPlaceOnTableau(card, s.Tableau[col]) {
		return 0, false
	}
	s.Waste = s.Waste[:len(s.Waste)-1]
	s.Tableau[col] = append(s.Tableau[col], card)
	return sc.WasteToTableau, true
}

func (s *GameState) wasteToFoundation(suit Suit, sc Scoring) (int, bool) {
	card, ok := top(s.Waste)
	if !ok || card.Suit != suit || !CanPlaceOnFoundation(card, s.Foundations[suit]) {
		return 0, false
	}
	s.Waste = s.Waste[:len(s.Waste)-1]
	s.Foundations[suit] = append(s.Foundations[suit], card)
	return sc.WasteToFoundation, true
}

func (s *GameState) tableauToTableau(from, index, to int, sc Scoring) (int, bool) {
	if !validColumn(from) || !validColumn(to) || from == to {
		return 0, false
	}
	src := s.Tableau[from]
	if index < 0 || index >= len(src) {
		return 0, false
	}
	run := src[index:]
	if !IsValidRun(run) || !CanPlaceOnTableau(run[0], s.Tableau[to]) {
		return 0, false
	}
	s.Tableau[to] = append(s.Tableau[to], run...)
	s.Tableau[from] = src[:index]
	return s.revealTop(from, sc), true
}

func (s *GameState) tableauToFoundation(from int, suit Suit, sc Scoring) (int, bool) {
	if !validColumn(from) {
		return 0, false
	}
	card, ok := top(s.Tableau[from])
	if !ok || !card.FaceUp || card.Suit != suit || !CanPlaceOnFoundation(card, s.Foundations[suit]) {
		return 0, false
	}
	s.Tableau[from] = s.Tableau[from][:len(s.Tableau[from])-1]
	s.Foundations[suit] = append(s.Foundations[suit], card)
	return sc.TableauToFoundation + s.revealTop(from, sc), true
}

func (s *GameState) foundationToTableau(suit Suit, to int, sc Scoring) (int, bool) {
	if !suit.Valid() || !validColumn(to) {
		return 0, false
	}
	card, ok := top(s.Foundations[suit])
	if !ok || !CanPlaceOnTableau(card, s.Tableau[to]) {
		return 0, false
	}
	s.Foundations[suit] = s.Foundations[suit][:len(s.Foundations[suit])-1]
	s.Tableau[to] = append(s.Tableau[to], card)
	return sc.FoundationToTableau, true
}

// revealTop turns the column's new top card face-up and returns the points earned.
func (s *GameState) revealTop(col int, sc Scoring) int {
	column := s.Tableau[col]
	if len(column) == 0 || column[len(column)-1].FaceUp {
		return 0
	}
	column[len(column)-1].FaceUp = true
	return sc.RevealCard
}

func validColumn(i int) bool { return i >= 0 && i < TableauColumns }
