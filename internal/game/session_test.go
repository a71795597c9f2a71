package game

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []GameRecord
	err     error
}

func (f *fakeRecorder) RecordGame(_ context.Context, rec GameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeRecorder) all() []GameRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GameRecord(nil), f.records...)
}

type fakeSubmitter struct {
	mu    sync.Mutex
	moves []MoveRecord
	err   error
}

func (f *fakeSubmitter) SubmitMove(_ context.Context, rec MoveRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, rec)
	return f.err
}

// ledger returns the submitted records in sequence order.
func (f *fakeSubmitter) ledger() []MoveRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]MoveRecord(nil), f.moves...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

// heartsLastDeck arranges a deck so the last 13 stock draws are K..A of hearts,
// leaving the ace of hearts on top of the waste once the stock is empty.
func heartsLastDeck() []Card {
	var hearts, others []Card
	for _, c := range NewDeck() {
		if c.Suit == Hearts {
			hearts = append(hearts, c)
		} else {
			others = append(others, c)
		}
	}
	deck := make([]Card, 0, DeckSize)
	deck = append(deck, others[:28]...)
	deck = append(deck, hearts...)
	deck = append(deck, others[28:]...)
	return deck
}

// playingSession returns a session already in play on the given board.
func playingSession(cfg SessionConfig, board *GameState) *Session {
	s := NewSession(cfg)
	s.state = board
	s.status = StatusPlaying
	return s
}

// nearlyWon has every card on the foundations except the king of hearts.
func nearlyWon() *GameState {
	s := NewEmptyState()
	s.Foundations = fullFoundations()
	s.Foundations[Hearts] = s.Foundations[Hearts][:12]
	s.Tableau[0] = []Card{card(Hearts, King, true)}
	return s
}

// autoCompletable has A..10 of every suit home and the court cards fanned face-up.
func autoCompletable() *GameState {
	s := NewEmptyState()
	for _, suit := range Suits {
		s.Foundations[suit] = pile(suit, Ace, Ten, true)
	}
	s.Tableau[0] = []Card{card(Spades, King, true), card(Hearts, Queen, true), card(Spades, Jack, true)}
	s.Tableau[1] = []Card{card(Hearts, King, true), card(Spades, Queen, true), card(Hearts, Jack, true)}
	s.Tableau[2] = []Card{card(Diamonds, King, true), card(Clubs, Queen, true), card(Diamonds, Jack, true)}
	s.Tableau[3] = []Card{card(Clubs, King, true), card(Diamonds, Queen, true), card(Clubs, Jack, true)}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(SessionConfig{Seed: 7, Clock: fixedClock()})
	if s.Status() != StatusIdle || s.State() != nil {
		t.Fatalf("New session should be idle without a board")
	}
	if s.DrawFromStock() {
		t.Fatalf("Moves must be rejected while idle")
	}

	if err := s.StartGame(); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if s.Status() != StatusPlaying {
		t.Fatalf("Expected playing, got %s", s.Status())
	}
	st := s.State()
	if st.StartTime.IsZero() || st.Moves != 0 || st.Score != 0 {
		t.Errorf("Fresh deal should have a start time and no moves: %+v", st)
	}
	if s.CanUndo() {
		t.Errorf("Nothing to undo on a fresh deal")
	}

	if !s.DrawFromStock() {
		t.Fatalf("Draw rejected")
	}
	if !s.CanUndo() {
		t.Errorf("Expected undo after a draw")
	}

	s.ResetGame()
	if s.Status() != StatusIdle || s.State() != nil || s.CanUndo() {
		t.Errorf("Reset should clear the board and history")
	}
}

func TestSessionSeededDealsMatch(t *testing.T) {
	a := NewSession(SessionConfig{Seed: 11})
	b := NewSession(SessionConfig{Seed: 11})
	if err := a.StartGame(); err != nil {
		t.Fatal(err)
	}
	if err := b.StartGame(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.State().Tableau, b.State().Tableau) {
		t.Errorf("Equal seeds should deal equal tableaux")
	}
}

func TestSessionIllegalMoveIsNoop(t *testing.T) {
	s := NewSession(SessionConfig{Seed: 3})
	if err := s.StartWithDeck(heartsLastDeck()); err != nil {
		t.Fatal(err)
	}
	before := s.State()
	msg := s.Message()

	if s.MoveWasteToFoundation(Hearts) {
		t.Fatalf("Empty waste cannot move")
	}
	if s.MoveTableauToTableau(0, 0, 0) {
		t.Fatalf("Same-column move must fail")
	}
	if s.MoveFoundationToTableau(Spades, 3) {
		t.Fatalf("Empty foundation cannot move")
	}

	if !reflect.DeepEqual(before, s.State()) {
		t.Errorf("Illegal moves changed the board")
	}
	if s.CanUndo() {
		t.Errorf("Illegal moves must not push history")
	}
	if s.Message() != msg {
		t.Errorf("Illegal moves must not change the message")
	}
}

func TestSessionBuildsHeartsFoundation(t *testing.T) {
	s := NewSession(SessionConfig{})
	if err := s.StartWithDeck(heartsLastDeck()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 24; i++ {
		if !s.DrawFromStock() {
			t.Fatalf("Draw %d rejected", i)
		}
		if err := s.State().CheckConservation(); err != nil {
			t.Fatalf("After draw %d: %v", i, err)
		}
	}
	if n := len(s.State().Stock); n != 0 {
		t.Fatalf("Stock should be exhausted, %d left", n)
	}

	for i := 0; i < 13; i++ {
		if !s.MoveWasteToFoundation(Hearts) {
			t.Fatalf("Move %d to hearts rejected", i)
		}
		if err := s.State().CheckConservation(); err != nil {
			t.Fatalf("After foundation move %d: %v", i, err)
		}
	}

	got := s.State().Foundations[Hearts]
	if len(got) != 13 {
		t.Fatalf("Expected 13 hearts, got %d", len(got))
	}
	for i, c := range got {
		if c.Suit != Hearts || c.Rank != Rank(i+1) {
			t.Errorf("Position %d holds %s", i, c)
		}
	}
	if s.State().Moves != 37 {
		t.Errorf("Expected 37 moves, got %d", s.State().Moves)
	}
}

func TestSessionUndoRestoresDeal(t *testing.T) {
	s := NewSession(SessionConfig{Seed: 5})
	if err := s.StartWithDeck(heartsLastDeck()); err != nil {
		t.Fatal(err)
	}
	dealt := s.State()

	moves := 0
	for i := 0; i < 24; i++ {
		if s.DrawFromStock() {
			moves++
		}
	}
	for i := 0; i < 5; i++ {
		if s.MoveWasteToFoundation(Hearts) {
			moves++
		}
	}
	if moves != 29 {
		t.Fatalf("Expected 29 accepted moves, got %d", moves)
	}

	for i := 0; i < moves; i++ {
		if !s.UndoMove() {
			t.Fatalf("Undo %d rejected", i)
		}
	}
	if !reflect.DeepEqual(dealt, s.State()) {
		t.Errorf("Undoing every move should return to the deal")
	}
	if s.CanUndo() {
		t.Errorf("History should be empty")
	}
	if s.UndoMove() {
		t.Errorf("Undo on empty history must be a no-op")
	}
	if !reflect.DeepEqual(dealt, s.State()) {
		t.Errorf("Extra undo changed the board")
	}
}

func TestSessionWinIsTerminal(t *testing.T) {
	rec := &fakeRecorder{}
	s := playingSession(SessionConfig{ID: "g1", PlayerID: "p1", Recorder: rec, Clock: fixedClock()}, nearlyWon())

	if !s.MoveTableauToFoundation(0, Hearts) {
		t.Fatalf("Final move rejected")
	}
	if s.Status() != StatusWon {
		t.Fatalf("Expected won, got %s", s.Status())
	}
	if !strings.Contains(s.Message(), "You won") {
		t.Errorf("Unexpected message %q", s.Message())
	}
	if s.MoveFoundationToTableau(Hearts, 0) || s.DrawFromStock() {
		t.Errorf("No moves after a win")
	}
	if s.UndoMove() || s.CanUndo() {
		t.Errorf("Undo is closed after a win")
	}

	s.Wait()
	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("Expected one record, got %d", len(records))
	}
	r := records[0]
	if r.GameID != "g1" || r.PlayerID != "p1" || r.Result != ResultWon || r.Mode != ModeFree || r.Moves != 1 {
		t.Errorf("Unexpected record %+v", r)
	}

	if err := s.StartGame(); err != nil {
		t.Fatal(err)
	}
	if s.Status() != StatusPlaying {
		t.Errorf("StartGame should leave the won state")
	}
}

func TestSessionRecordFailureKeepsBoard(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("rpc unavailable")}
	var outcomes []Outcome
	var mu sync.Mutex
	s := playingSession(SessionConfig{
		Recorder: rec,
		OnUpdate: func(_ *Session, out Outcome) {
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		},
	}, nearlyWon())

	if !s.MoveTableauToFoundation(0, Hearts) {
		t.Fatalf("Final move rejected")
	}
	s.Wait()

	if !strings.Contains(s.Message(), "rpc unavailable") {
		t.Errorf("Failure should surface in the message, got %q", s.Message())
	}
	if s.Status() != StatusWon {
		t.Errorf("Failure must not roll back the win")
	}
	if !CheckWinCondition(s.State().Foundations) {
		t.Errorf("Foundations changed after a failed record")
	}
	if s.Processing() {
		t.Errorf("Nothing should be pending after Wait")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 {
		t.Fatalf("Expected one update notification, got %d", len(outcomes))
	}
	if out := outcomes[0]; out.Result != ResultWon || out.Err == nil {
		t.Errorf("Outcome should report the failed win recording, got %+v", out)
	}
}

func TestSessionOnChainSubmitsMoves(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("nonce too low")}
	s := NewSession(SessionConfig{ID: "g2", Mode: ModeOnChain, Submitter: sub})
	if err := s.StartWithDeck(heartsLastDeck()); err != nil {
		t.Fatal(err)
	}

	s.DrawFromStock()
	s.DrawFromStock()
	s.Wait()

	sub.mu.Lock()
	n := len(sub.moves)
	first := sub.moves[0]
	sub.mu.Unlock()
	if n != 2 {
		t.Fatalf("Expected 2 submitted moves, got %d", n)
	}
	if first.GameID != "g2" || first.Move.Kind != MoveDraw {
		t.Errorf("Unexpected submission %+v", first)
	}
	if got := s.State().Moves; got != 2 {
		t.Errorf("Board should keep both moves, got %d", got)
	}
	if !strings.Contains(s.Message(), "Failed to submit move") {
		t.Errorf("Unexpected message %q", s.Message())
	}

	free := NewSession(SessionConfig{Submitter: sub})
	if err := free.StartWithDeck(heartsLastDeck()); err != nil {
		t.Fatal(err)
	}
	free.DrawFromStock()
	free.Wait()
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.moves) != 2 {
		t.Errorf("Free mode must not submit moves")
	}
}

func TestSessionAutoComplete(t *testing.T) {
	rec := &fakeRecorder{}
	s := playingSession(SessionConfig{Recorder: rec}, autoCompletable())
	if !s.CanAutoComplete() {
		t.Fatalf("Board should be eligible")
	}
	if !s.AutoComplete() {
		t.Fatalf("AutoComplete rejected")
	}
	if s.Status() != StatusWon {
		t.Fatalf("Expected won after auto-complete, got %s", s.Status())
	}
	if got := s.State().Moves; got != 12 {
		t.Errorf("Expected 12 moves, got %d", got)
	}
	s.Wait()
	if len(rec.all()) != 1 {
		t.Errorf("Expected the win to be recorded")
	}
}

func TestSessionAutoCompleteWithWaste(t *testing.T) {
	board := autoCompletable()
	board.Tableau[3] = []Card{card(Clubs, King, true), card(Diamonds, Queen, true)}
	// Jack of clubs under the queen of clubs in the waste needs a recycle to surface.
	board.Tableau[2] = []Card{card(Diamonds, King, true)}
	board.Waste = []Card{card(Clubs, Jack, true), card(Clubs, Queen, true), card(Diamonds, Jack, true)}

	s := playingSession(SessionConfig{}, board)
	if !s.AutoComplete() {
		t.Fatalf("AutoComplete rejected")
	}
	if s.Status() != StatusWon {
		t.Fatalf("Expected won, got %s with %+v", s.Status(), s.State())
	}
	if s.CanUndo() {
		t.Errorf("Undo is closed after a win")
	}
}

func TestSessionAutoCompleteIsOneUndoStep(t *testing.T) {
	board := NewEmptyState()
	for _, suit := range Suits {
		board.Foundations[suit] = pile(suit, Ace, Ten, true)
	}
	board.Tableau[0] = []Card{card(Spades, King, true), card(Hearts, Queen, true), card(Spades, Jack, true)}
	board.Tableau[1] = []Card{card(Hearts, King, true), card(Spades, Queen, true), card(Hearts, Jack, true)}
	board.Tableau[2] = []Card{card(Diamonds, King, true)}
	board.Tableau[3] = []Card{card(Clubs, King, true), card(Diamonds, Queen, true)}
	board.Tableau[4] = []Card{card(Diamonds, Jack, true)}
	// Without recycling the queen of clubs keeps the jack buried for good.
	board.Waste = []Card{card(Clubs, Jack, true), card(Clubs, Queen, true)}

	rules := DefaultRules()
	rules.RecycleWaste = false
	s := playingSession(SessionConfig{Rules: &rules}, board)
	before := s.State()

	if !s.AutoComplete() {
		t.Fatalf("AutoComplete rejected")
	}
	if s.Status() != StatusPlaying {
		t.Fatalf("Clubs cannot finish, expected playing, got %s", s.Status())
	}
	if got := s.State().Moves; got != 9 {
		t.Errorf("Expected 9 cards played, got %d", got)
	}

	if !s.UndoMove() {
		t.Fatalf("Undo rejected")
	}
	if !reflect.DeepEqual(before, s.State()) {
		t.Errorf("One undo should revert the whole auto-complete")
	}
	if s.CanUndo() {
		t.Errorf("Auto-complete should have pushed a single snapshot")
	}

	hidden := autoCompletable()
	hidden.Tableau[0][0].FaceUp = false
	s2 := playingSession(SessionConfig{}, hidden)
	if s2.CanAutoComplete() || s2.AutoComplete() {
		t.Errorf("Hidden cards must block auto-complete")
	}
}

func TestSessionBlockedMessage(t *testing.T) {
	board := NewEmptyState()
	board.Tableau[0] = []Card{card(Hearts, Two, true)}
	board.Tableau[1] = []Card{card(Hearts, Six, false), card(Diamonds, Nine, true)}
	board.Tableau[3] = []Card{card(Clubs, Ten, true)}

	s := playingSession(SessionConfig{}, board)
	if !s.MoveTableauToTableau(1, 1, 3) {
		t.Fatalf("Nine of diamonds onto ten of clubs rejected")
	}
	if !s.State().Tableau[1][0].FaceUp {
		t.Errorf("Six of hearts should be revealed")
	}
	if !strings.Contains(s.Message(), "No more moves") {
		t.Errorf("Expected blocked message, got %q", s.Message())
	}
	if v := s.View(); !v.Blocked || v.Status != StatusPlaying {
		t.Errorf("View should report a blocked, still playing game: %+v", v)
	}
	if !s.UndoMove() {
		t.Errorf("Undo must still work on a blocked board")
	}
	if s.View().Blocked {
		t.Errorf("Board before the move was not blocked")
	}
}

func TestSessionSwitchMode(t *testing.T) {
	rec := &fakeRecorder{}
	s := NewSession(SessionConfig{Recorder: rec})
	if err := s.StartGame(); err != nil {
		t.Fatal(err)
	}
	s.DrawFromStock()

	if s.SwitchMode("ranked") {
		t.Errorf("Unknown mode accepted")
	}
	if !s.SwitchMode(ModeOnChain) {
		t.Fatalf("SwitchMode rejected")
	}
	if s.Mode() != ModeOnChain || s.Status() != StatusIdle {
		t.Errorf("Expected idle on-chain session, got %s/%s", s.Mode(), s.Status())
	}

	s.Wait()
	records := rec.all()
	if len(records) != 1 || records[0].Result != ResultAbandoned || records[0].Mode != ModeFree {
		t.Errorf("Switching mid-round should record an abandoned free game: %+v", records)
	}

	if !s.SwitchMode(ModeOnChain) {
		t.Errorf("Switching to the current mode is a no-op that succeeds")
	}
}

func TestSessionResetWithoutMovesRecordsNothing(t *testing.T) {
	rec := &fakeRecorder{}
	s := NewSession(SessionConfig{Recorder: rec})
	if err := s.StartGame(); err != nil {
		t.Fatal(err)
	}
	s.ResetGame()
	s.Wait()
	if n := len(rec.all()); n != 0 {
		t.Errorf("An untouched deal is not a played game, got %d records", n)
	}
}

func TestSessionView(t *testing.T) {
	s := NewSession(SessionConfig{ID: "v1", PlayerID: "p", Clock: fixedClock()})
	v := s.View()
	if v.ID != "v1" || v.Status != StatusIdle || v.State != nil {
		t.Errorf("Unexpected idle view %+v", v)
	}
	if err := s.StartGame(); err != nil {
		t.Fatal(err)
	}
	v = s.View()
	if v.State == nil || v.Mode != ModeFree || v.Blocked || v.CanUndo {
		t.Errorf("Unexpected playing view %+v", v)
	}
	v.State.Tableau[0] = nil
	if len(s.State().Tableau[0]) != 1 {
		t.Errorf("View must not share the session's board")
	}
}

func TestSessionOnChainAutoCompleteSubmitsEveryMove(t *testing.T) {
	sub := &fakeSubmitter{}
	s := playingSession(SessionConfig{ID: "g3", PlayerID: "alice", Mode: ModeOnChain, Submitter: sub}, autoCompletable())
	if !s.AutoComplete() {
		t.Fatalf("AutoComplete rejected")
	}
	s.Wait()

	board := s.State()
	ledger := sub.ledger()
	if s.Status() != StatusWon || len(ledger) != board.Moves {
		t.Fatalf("Ledger has %d moves, board has %d", len(ledger), board.Moves)
	}
	for i, rec := range ledger {
		if rec.Seq != i+1 || rec.Number != i+1 || rec.GameID != "g3" || rec.PlayerID != "alice" {
			t.Errorf("Record %d: %+v", i, rec)
		}
		if rec.Move.Kind != MoveTableauFoundation {
			t.Errorf("Record %d: expected a foundation move, got %s", i, rec.Move)
		}
	}
	if last := ledger[len(ledger)-1]; last.Score != board.Score {
		t.Errorf("Last record score %d, board score %d", last.Score, board.Score)
	}

	// Replaying the ledger reproduces the final board.
	replay := autoCompletable()
	for _, rec := range ledger {
		next, ok := Apply(replay, rec.Move, s.Rules())
		if !ok {
			t.Fatalf("Ledger move %s does not replay", rec.Move)
		}
		replay = next
	}
	if !CheckWinCondition(replay.Foundations) {
		t.Errorf("Replayed ledger does not reach the win")
	}
}

func TestSessionOnChainUndoIsLedgered(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewSession(SessionConfig{ID: "g4", Mode: ModeOnChain, Submitter: sub})
	if err := s.StartWithDeck(heartsLastDeck()); err != nil {
		t.Fatal(err)
	}

	if !s.DrawFromStock() || !s.UndoMove() || !s.DrawFromStock() {
		t.Fatalf("draw, undo, draw should all be accepted")
	}
	s.Wait()

	ledger := sub.ledger()
	want := []struct {
		kind   MoveKind
		number int
	}{
		{MoveDraw, 1},
		{MoveUndo, 0},
		{MoveDraw, 1},
	}
	if len(ledger) != len(want) {
		t.Fatalf("Expected %d ledger records, got %d", len(want), len(ledger))
	}
	for i, w := range want {
		if ledger[i].Seq != i+1 || ledger[i].Move.Kind != w.kind || ledger[i].Number != w.number {
			t.Errorf("Record %d: got seq=%d %s number=%d, want %s number=%d",
				i, ledger[i].Seq, ledger[i].Move.Kind, ledger[i].Number, w.kind, w.number)
		}
	}
	if got := s.State().Moves; got != 1 {
		t.Errorf("Board should hold one move, got %d", got)
	}
	if _, ok := Apply(s.State(), Move{Kind: MoveUndo}, s.Rules()); ok {
		t.Errorf("Undo records must not be playable moves")
	}
}
