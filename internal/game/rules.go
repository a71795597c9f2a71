package game

// CanPlaceOnTableau reports whether card may land on top of column: a King on an
// empty column, otherwise opposite color and exactly one rank lower.
func CanPlaceOnTableau(card Card, column []Card) bool {
	dest, ok := top(column)
	if !ok {
		return card.Rank == King
	}
	return card.Color() != dest.Color() && card.Rank.Value() == dest.Rank.Value()-1
}

// CanPlaceOnFoundation reports whether card may land on top of pile: an Ace on an
// empty pile, otherwise same suit and exactly one rank higher.
func CanPlaceOnFoundation(card Card, pile []Card) bool {
	dest, ok := top(pile)
	if !ok {
		return card.Rank == Ace
	}
	return card.Suit == dest.Suit && card.Rank.Value() == dest.Rank.Value()+1
}

// CheckWinCondition is true once every suit's foundation holds A through K.
func CheckWinCondition(foundations map[Suit][]Card) bool {
	for _, suit := range Suits {
		if len(foundations[suit]) != len(Ranks) {
			return false
		}
	}
	return true
}

// CheckIfBlocked reports a dead end: nothing left to draw and no waste or tableau
// card has a legal destination. A non-empty stock is never blocked.
func CheckIfBlocked(s *GameState) bool {
	if len(s.Stock) > 0 {
		return false
	}

	if card, ok := top(s.Waste); ok {
		if canReachFoundation(card, s.Foundations) {
			return false
		}
		for _, col := range s.Tableau {
			if CanPlaceOnTableau(card, col) {
				return false
			}
		}
	}

	for src, col := range s.Tableau {
		if card, ok := top(col); ok && card.FaceUp && canReachFoundation(card, s.Foundations) {
			return false
		}
		start := movableRunStart(col)
		if start < 0 {
			continue
		}
		for i := start; i < len(col); i++ {
			for dst, dest := range s.Tableau {
				if dst == src {
					continue
				}
				// Shuffling a bottom run between empty columns changes nothing, so a
				// lone king next to an empty column still counts as blocked.
				if i == 0 && len(dest) == 0 {
					continue
				}
				if CanPlaceOnTableau(col[i], dest) {
					return false
				}
			}
		}
	}
	return true
}

// CanAutoComplete is true when the stock is empty and no tableau card is hidden.
func CanAutoComplete(s *GameState) bool {
	if len(s.Stock) > 0 {
		return false
	}
	for _, col := range s.Tableau {
		for _, c := range col {
			if !c.FaceUp {
				return false
			}
		}
	}
	return true
}

func canReachFoundation(card Card, foundations map[Suit][]Card) bool {
	return CanPlaceOnFoundation(card, foundations[card.Suit])
}

// IsValidRun reports whether cards form a face-up, alternating-color,
// strictly descending sequence that can be moved as one unit.
func IsValidRun(cards []Card) bool {
	if len(cards) == 0 {
		return false
	}
	for i, c := range cards {
		if !c.FaceUp {
			return false
		}
		if i > 0 && !CanPlaceOnTableau(c, cards[:i]) {
			return false
		}
	}
	return true
}

// movableRunStart returns the index of the deepest card that heads a valid run
// ending at the column's top, or -1 when the column has no face-up top card.
func movableRunStart(column []Card) int {
	n := len(column)
	if n == 0 || !column[n-1].FaceUp {
		return -1
	}
	start := n - 1
	for start > 0 {
		below, above := column[start-1], column[start]
		if !below.FaceUp || !CanPlaceOnTableau(above, []Card{below}) {
			break
		}
		start--
	}
	return start
}
