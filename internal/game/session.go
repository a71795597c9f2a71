package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

type Status string

const (
	StatusIdle    Status = "idle"    // No board dealt
	StatusPlaying Status = "playing" // Moves are accepted
	StatusWon     Status = "won"     // All foundations complete
)

type Mode string

const (
	ModeFree    Mode = "free"    // Results go to local stats only
	ModeOnChain Mode = "onchain" // Every move is also submitted as a transaction
)

func (m Mode) Valid() bool { return m == ModeFree || m == ModeOnChain }

type Result string

const (
	ResultWon       Result = "won"
	ResultAbandoned Result = "abandoned"
)

// GameRecord is what a Recorder receives when a round ends.
type GameRecord struct {
	GameID     string        `json:"gameId"`
	PlayerID   string        `json:"playerId"`
	Mode       Mode          `json:"mode"`
	Result     Result        `json:"result"`
	Score      int           `json:"score"`
	Moves      int           `json:"moves"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// MoveRecord is what a MoveSubmitter receives for each accepted move or undo in
// on-chain mode. Seq increases by one per record over the life of the session;
// Number and Score describe the board after the record was applied.
type MoveRecord struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Seq      int    `json:"seq"`
	Move     Move   `json:"move"`
	Number   int    `json:"number"`
	Score    int    `json:"score"`
}

// Outcome is passed to OnUpdate once a side effect has finished.
type Outcome struct {
	Action string `json:"action"`
	// Result is set when the side effect recorded a round.
	Result Result `json:"result,omitempty"`
	Err    error  `json:"-"`
}

// Recorder persists finished rounds (local stats, leaderboard).
type Recorder interface {
	RecordGame(ctx context.Context, rec GameRecord) error
}

// MoveSubmitter sends individual moves to an external ledger.
type MoveSubmitter interface {
	SubmitMove(ctx context.Context, rec MoveRecord) error
}

type SessionConfig struct {
	ID       string
	PlayerID string
	Mode     Mode
	// Rules defaults to DefaultRules when nil.
	Rules *Rules
	// Seed fixes the shuffle; zero seeds from the clock.
	Seed      int64
	Recorder  Recorder
	Submitter MoveSubmitter
	// OnUpdate runs after an asynchronous side effect finished.
	OnUpdate func(*Session, Outcome)
	Clock    func() time.Time
	// SideEffectTimeout bounds each Recorder/Submitter call.
	SideEffectTimeout time.Duration
}

// Session is one player's solitaire table: the current board, its undo history,
// and the bookkeeping around it. Callers construct and own their sessions.
type Session struct {
	cfg   SessionConfig
	rules Rules
	rng   *rand.Rand

	mu      sync.Mutex
	state   *GameState
	history []*GameState
	status  Status
	mode    Mode
	message string
	pending int
	seq     int

	inflight sync.WaitGroup
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = ModeFree
	}
	rules := DefaultRules()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 30 * time.Second
	}
	return &Session{
		cfg:    cfg,
		rules:  rules,
		rng:    NewRand(cfg.Seed),
		status: StatusIdle,
		mode:   cfg.Mode,
	}
}

func (s *Session) ID() string       { return s.cfg.ID }
func (s *Session) PlayerID() string { return s.cfg.PlayerID }
func (s *Session) Rules() Rules     { return s.rules }

// StartGame shuffles a fresh deck and deals it. A round already in progress is
// recorded as abandoned.
func (s *Session) StartGame() error {
	deck := NewDeck()
	s.mu.Lock()
	Shuffle(deck, s.rng)
	s.mu.Unlock()
	return s.StartWithDeck(deck)
}

// StartWithDeck deals the given deck as-is, for replays and fixed layouts.
func (s *Session) StartWithDeck(deck []Card) error {
	state, err := DealCards(deck)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonLocked()
	state.StartTime = s.cfg.Clock()
	s.state = state
	s.history = nil
	s.status = StatusPlaying
	s.message = "Game started"
	return nil
}

// ResetGame returns to idle and drops the board, history and timer.
func (s *Session) ResetGame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonLocked()
	s.state = nil
	s.history = nil
	s.status = StatusIdle
	s.message = ""
}

// SwitchMode changes how results are recorded. Changing mode ends the current round.
func (s *Session) SwitchMode(mode Mode) bool {
	if !mode.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == s.mode {
		return true
	}
	s.abandonLocked()
	s.mode = mode
	s.state = nil
	s.history = nil
	s.status = StatusIdle
	if mode == ModeOnChain {
		s.message = "Switched to on-chain mode"
	} else {
		s.message = "Switched to free mode"
	}
	return true
}

func (s *Session) DrawFromStock() bool {
	return s.ApplyMove(Move{Kind: MoveDraw})
}

func (s *Session) MoveWasteToTableau(col int) bool {
	return s.ApplyMove(Move{Kind: MoveWasteToTableau, To: col})
}

func (s *Session) MoveWasteToFoundation(suit Suit) bool {
	return s.ApplyMove(Move{Kind: MoveWasteToFoundation, Suit: suit})
}

func (s *Session) MoveTableauToTableau(from, cardIndex, to int) bool {
	return s.ApplyMove(Move{Kind: MoveTableauToTableau, From: from, CardIndex: cardIndex, To: to})
}

func (s *Session) MoveTableauToFoundation(col int, suit Suit) bool {
	return s.ApplyMove(Move{Kind: MoveTableauFoundation, From: col, Suit: suit})
}

func (s *Session) MoveFoundationToTableau(suit Suit, col int) bool {
	return s.ApplyMove(Move{Kind: MoveFoundationTableau, Suit: suit, To: col})
}

// ApplyMove plays m if it is legal. Illegal moves, and any move outside a
// running round, are ignored and return false.
func (s *Session) ApplyMove(m Move) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return false
	}
	next, ok := Apply(s.state, m, s.rules)
	if !ok {
		return false
	}
	s.commitLocked(next)
	s.submitLocked(MoveRecord{Move: m, Number: next.Moves, Score: next.Score})
	return true
}

// UndoMove restores the board as it was before the last accepted action.
func (s *Session) UndoMove() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying || len(s.history) == 0 {
		return false
	}
	last := len(s.history) - 1
	s.state = s.history[last]
	s.history[last] = nil
	s.history = s.history[:last]
	s.message = ""
	s.submitLocked(MoveRecord{Move: Move{Kind: MoveUndo}, Number: s.state.Moves, Score: s.state.Score})
	return true
}

// AutoComplete plays out a fully revealed board onto the foundations, lowest
// rank first. The whole run is a single undo step.
func (s *Session) AutoComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying || !CanAutoComplete(s.state) {
		return false
	}

	rules := s.rules
	rules.Scoring.Draw = 0
	rules.Scoring.RecycleWaste = 0

	cur := s.state
	var played []MoveRecord
	idle, placed := 0, 0
	for !CheckWinCondition(cur.Foundations) {
		m, ok := nextFoundationMove(cur)
		if ok {
			idle = 0
			placed++
		} else {
			if idle > len(cur.Stock)+len(cur.Waste) {
				break
			}
			m = Move{Kind: MoveDraw}
			idle++
		}
		next, ok := Apply(cur, m, rules)
		if !ok {
			break
		}
		cur = next
		played = append(played, MoveRecord{Move: m, Number: cur.Moves, Score: cur.Score})
	}
	if placed == 0 {
		return false
	}
	s.commitLocked(cur)
	s.submitLocked(played...)
	return true
}

// nextFoundationMove picks the lowest-ranked card that can go to a foundation,
// preferring the waste over the tableau on ties.
func nextFoundationMove(st *GameState) (Move, bool) {
	var best Move
	bestRank := Rank(King + 1)
	if c, ok := top(st.Waste); ok && canReachFoundation(c, st.Foundations) {
		best = Move{Kind: MoveWasteToFoundation, Suit: c.Suit}
		bestRank = c.Rank
	}
	for i, col := range st.Tableau {
		c, ok := top(col)
		if !ok || !c.FaceUp || !canReachFoundation(c, st.Foundations) {
			continue
		}
		if c.Rank < bestRank {
			best = Move{Kind: MoveTableauFoundation, From: i, Suit: c.Suit}
			bestRank = c.Rank
		}
	}
	return best, bestRank <= King
}

func (s *Session) commitLocked(next *GameState) {
	s.history = append(s.history, s.state)
	s.state = next
	s.message = ""

	if CheckWinCondition(next.Foundations) {
		next.ElapsedTime = s.cfg.Clock().Sub(next.StartTime)
		s.status = StatusWon
		s.message = fmt.Sprintf("You won in %d moves with %d points!", next.Moves, next.Score)
		s.recordLocked(ResultWon)
		return
	}
	if CheckIfBlocked(next) && !CanRecycle(next, s.rules) {
		s.message = "No more moves available. Undo or start a new game."
	}
}

// abandonLocked records a round that is being thrown away after real play.
func (s *Session) abandonLocked() {
	if s.status == StatusPlaying && s.state != nil && s.state.Moves > 0 {
		s.recordLocked(ResultAbandoned)
	}
}

func (s *Session) recordLocked(result Result) {
	if s.cfg.Recorder == nil {
		return
	}
	now := s.cfg.Clock()
	rec := GameRecord{
		GameID:     s.cfg.ID,
		PlayerID:   s.cfg.PlayerID,
		Mode:       s.mode,
		Result:     result,
		Score:      s.state.Score,
		Moves:      s.state.Moves,
		Duration:   s.state.Elapsed(now),
		FinishedAt: now,
	}
	recorder := s.cfg.Recorder
	s.dispatchLocked(Outcome{Action: "record game", Result: result}, func(ctx context.Context) error {
		return recorder.RecordGame(ctx, rec)
	})
}

// submitLocked numbers recs and sends them to the ledger in order. It does
// nothing outside on-chain mode. Submission stops at the first failure.
func (s *Session) submitLocked(recs ...MoveRecord) {
	if s.mode != ModeOnChain || s.cfg.Submitter == nil || len(recs) == 0 {
		return
	}
	batch := make([]MoveRecord, len(recs))
	for i, rec := range recs {
		s.seq++
		rec.GameID = s.cfg.ID
		rec.PlayerID = s.cfg.PlayerID
		rec.Seq = s.seq
		batch[i] = rec
	}
	submitter := s.cfg.Submitter
	s.dispatchLocked(Outcome{Action: "submit move"}, func(ctx context.Context) error {
		for _, rec := range batch {
			if err := submitter.SubmitMove(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// dispatchLocked runs a side effect without blocking the board. Its failure only
// changes the message.
func (s *Session) dispatchLocked(out Outcome, fn func(ctx context.Context) error) {
	s.pending++
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SideEffectTimeout)
		err := fn(ctx)
		cancel()

		s.mu.Lock()
		s.pending--
		if err != nil {
			klog.Errorf("Session %s: failed to %s: %v", s.cfg.ID, out.Action, err)
			s.message = fmt.Sprintf("Failed to %s: %v", out.Action, err)
		}
		s.mu.Unlock()

		out.Err = err
		if s.cfg.OnUpdate != nil {
			s.cfg.OnUpdate(s, out)
		}
	}()
}

// Wait blocks until every in-flight side effect has finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// State returns a copy of the current board, or nil when idle.
func (s *Session) State() *GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusPlaying && len(s.history) > 0
}

func (s *Session) CanAutoComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusPlaying && CanAutoComplete(s.state)
}

// Processing is true while a recording side effect is still running.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// View is the JSON snapshot handed to clients.
type View struct {
	ID              string     `json:"id"`
	PlayerID        string     `json:"playerId,omitempty"`
	Status          Status     `json:"status"`
	Mode            Mode       `json:"mode"`
	Message         string     `json:"message,omitempty"`
	State           *GameState `json:"state,omitempty"`
	CanUndo         bool       `json:"canUndo"`
	CanAutoComplete bool       `json:"canAutoComplete"`
	Blocked         bool       `json:"blocked"`
	Processing      bool       `json:"processing"`
	ElapsedMillis   int64      `json:"elapsedMs"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.cfg.ID,
		PlayerID:   s.cfg.PlayerID,
		Status:     s.status,
		Mode:       s.mode,
		Message:    s.message,
		CanUndo:    s.status == StatusPlaying && len(s.history) > 0,
		Processing: s.pending > 0,
	}
	if s.state != nil {
		v.State = s.state.Clone()
		v.CanAutoComplete = s.status == StatusPlaying && CanAutoComplete(s.state)
		v.Blocked = s.status == StatusPlaying && CheckIfBlocked(s.state) && !CanRecycle(s.state, s.rules)
		v.ElapsedMillis = s.state.Elapsed(s.cfg.Clock()).Milliseconds()
	}
	return v
}
