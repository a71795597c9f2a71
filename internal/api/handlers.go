package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/calvinwijaya/solitaire-be/internal/config"
	"github.com/calvinwijaya/solitaire-be/internal/db"
	"github.com/calvinwijaya/solitaire-be/internal/game"
	"github.com/calvinwijaya/solitaire-be/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"k8s.io/klog/v2"
)

// Handlers contains all the API handlers
type Handlers struct {
	store    store.Store
	database *db.Database
	hub      *Hub
	cfg      *config.GameConfig
}

// NewHandlers creates a new instance of Handlers. database and hub may be nil.
func NewHandlers(store store.Store, database *db.Database, hub *Hub, cfg *config.GameConfig) *Handlers {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handlers{
		store:    store,
		database: database,
		hub:      hub,
		cfg:      cfg,
	}
}

// RegisterRoutes registers all API routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	// Solitaire endpoints
	r.HandleFunc("/api/solitaire", h.ListSessions).Methods("GET")
	r.HandleFunc("/api/solitaire/new", h.NewSession).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}", h.GetSession).Methods("GET")
	r.HandleFunc("/api/solitaire/{id}", h.DeleteSession).Methods("DELETE")
	r.HandleFunc("/api/solitaire/{id}/start", h.Start).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/reset", h.Reset).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/draw", h.Draw).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/move", h.Move).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/undo", h.Undo).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/autocomplete", h.AutoComplete).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/mode", h.SwitchMode).Methods("POST")
	r.HandleFunc("/api/solitaire/{id}/ledger", h.Ledger).Methods("GET")

	// Player endpoints
	r.HandleFunc("/api/player/register", h.RegisterPlayer).Methods("POST")
	r.HandleFunc("/api/player/{id}", h.GetPlayer).Methods("GET")
	r.HandleFunc("/api/player/{id}/stats", h.GetPlayerStats).Methods("GET")
	r.HandleFunc("/api/player/{id}/badges", h.GetPlayerBadges).Methods("GET")
	r.HandleFunc("/api/player/{id}/sessions", h.GetPlayerSessions).Methods("GET")
	r.HandleFunc("/api/leaderboard", h.Leaderboard).Methods("GET")

	// WebSocket endpoint
	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.WebSocketHandler)
	}
}

// response helper function to send JSON responses
func response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// error response helper function
func errorResponse(w http.ResponseWriter, status int, message string) {
	response(w, status, map[string]string{"error": message})
}

// decodeBody decodes an optional JSON body into v. An empty body is allowed.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// actionResult is returned by every endpoint that acts on a session.
type actionResult struct {
	Accepted bool      `json:"accepted"`
	Session  game.View `json:"session"`
}

// newSession builds a session wired to the stats database and the hub.
func (h *Handlers) newSession(playerID string, mode game.Mode, seed int64) *game.Session {
	rules := h.cfg.Rules
	cfg := game.SessionConfig{
		PlayerID:          playerID,
		Mode:              mode,
		Rules:             &rules,
		Seed:              seed,
		SideEffectTimeout: h.cfg.SideEffectTimeout(),
		OnUpdate:          h.onSideEffect,
	}
	if h.database != nil {
		cfg.Recorder = h.database
		cfg.Submitter = h.database
	}
	return game.NewSession(cfg)
}

// publish pushes a session update to websocket watchers.
func (h *Handlers) publish(s *game.Session) {
	if h.hub == nil {
		return
	}
	h.hub.BroadcastSessionUpdate(s)
}

// onSideEffect runs once a stats write or ledger submission finishes. Only
// a win that was actually stored changes the leaderboard.
func (h *Handlers) onSideEffect(s *game.Session, out game.Outcome) {
	h.publish(s)
	if h.hub == nil || out.Err != nil || out.Result != game.ResultWon {
		return
	}
	h.hub.Broadcast(Message{Type: "leaderboardUpdate", SessionID: s.ID(), PlayerID: s.PlayerID()})
}

// lookup resolves the {id} route variable, writing a 404 when it is unknown.
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*game.Session, bool) {
	id := mux.Vars(r)["id"]
	s, err := h.store.GetSession(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "Session not found")
		} else {
			klog.Errorf("Failed to load session %s: %v", id, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to load session")
		}
		return nil, false
	}
	return s, true
}

// act runs fn against the requested session and replies with the outcome.
func (h *Handlers) act(w http.ResponseWriter, r *http.Request, name string, fn func(*game.Session) bool) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	accepted := fn(s)
	klog.V(2).Infof("Session %s: %s accepted=%t", s.ID(), name, accepted)
	if accepted {
		h.publish(s)
	}
	response(w, http.StatusOK, actionResult{Accepted: accepted, Session: s.View()})
}

// NewSession creates and starts a new solitaire session
func (h *Handlers) NewSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string    `json:"playerId"`
		Mode     game.Mode `json:"mode"`
		Seed     int64     `json:"seed"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = h.cfg.DefaultMode
	}
	if !req.Mode.Valid() {
		errorResponse(w, http.StatusBadRequest, "Unknown mode")
		return
	}

	s := h.newSession(req.PlayerID, req.Mode, req.Seed)
	if err := s.StartGame(); err != nil {
		klog.Errorf("Failed to deal session %s: %v", s.ID(), err)
		errorResponse(w, http.StatusInternalServerError, "Failed to start game")
		return
	}
	if err := h.store.SaveSession(s); err != nil {
		klog.Errorf("Failed to save session %s: %v", s.ID(), err)
		errorResponse(w, http.StatusInternalServerError, "Failed to save session")
		return
	}

	if h.database != nil && req.PlayerID != "" {
		if err := h.database.UpdatePlayerLastLogin(req.PlayerID); err != nil && !errors.Is(err, db.ErrPlayerNotFound) {
			klog.Warningf("Failed to touch player %s: %v", req.PlayerID, err)
		}
	}

	klog.V(1).Infof("New session %s (player=%s mode=%s)", s.ID(), req.PlayerID, req.Mode)
	response(w, http.StatusCreated, s.View())
}

// ListSessions returns every live session
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	response(w, http.StatusOK, views(sessions))
}

func views(sessions []*game.Session) []game.View {
	out := make([]game.View, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.View())
	}
	return out
}

// GetSession returns the current view of a session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	response(w, http.StatusOK, s.View())
}

// DeleteSession ends a session and forgets it
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.ResetGame()
	if err := h.store.DeleteSession(s.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	response(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

// Start deals a fresh board, abandoning any round in progress
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "start", func(s *game.Session) bool {
		if err := s.StartGame(); err != nil {
			klog.Errorf("Failed to deal session %s: %v", s.ID(), err)
			return false
		}
		return true
	})
}

func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "reset", func(s *game.Session) bool {
		s.ResetGame()
		return true
	})
}

func (h *Handlers) Draw(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "draw", (*game.Session).DrawFromStock)
}

func (h *Handlers) Undo(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "undo", (*game.Session).UndoMove)
}

func (h *Handlers) AutoComplete(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "autocomplete", (*game.Session).AutoComplete)
}

// Move applies one card move. Illegal moves are reported as not accepted.
func (h *Handlers) Move(w http.ResponseWriter, r *http.Request) {
	var m game.Move
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if m.Kind == "" {
		errorResponse(w, http.StatusBadRequest, "Move kind is required")
		return
	}
	h.act(w, r, m.String(), func(s *game.Session) bool {
		return s.ApplyMove(m)
	})
}

// SwitchMode changes between free and on-chain play
func (h *Handlers) SwitchMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode game.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Mode.Valid() {
		errorResponse(w, http.StatusBadRequest, "Unknown mode")
		return
	}
	h.act(w, r, "mode "+string(req.Mode), func(s *game.Session) bool {
		return s.SwitchMode(req.Mode)
	})
}

// Ledger returns the moves a session submitted in on-chain mode
func (h *Handlers) Ledger(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !h.requireDatabase(w) {
		return
	}
	moves, err := h.database.GameMoves(s.ID())
	if err != nil {
		klog.Errorf("Failed to read ledger for %s: %v", s.ID(), err)
		errorResponse(w, http.StatusInternalServerError, "Error retrieving ledger")
		return
	}
	if moves == nil {
		moves = []game.MoveRecord{}
	}
	response(w, http.StatusOK, moves)
}

func (h *Handlers) requireDatabase(w http.ResponseWriter) bool {
	if h.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Database not available")
		return false
	}
	return true
}

// RegisterPlayer creates a new player
func (h *Handlers) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Player name is required")
		return
	}
	if !h.requireDatabase(w) {
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	} else if _, err := h.database.GetPlayerByID(req.ID); err == nil {
		errorResponse(w, http.StatusConflict, "Player already exists")
		return
	}

	player, err := h.database.CreatePlayer(req.ID, req.Name)
	if err != nil {
		klog.Errorf("Failed to create player %s: %v", req.ID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create player")
		return
	}
	response(w, http.StatusCreated, player)
}

// playerError maps a database error to a response.
func playerError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, db.ErrPlayerNotFound) {
		errorResponse(w, http.StatusNotFound, "Player not found")
		return
	}
	klog.Errorf("Error retrieving %s: %v", what, err)
	errorResponse(w, http.StatusInternalServerError, "Error retrieving "+what)
}

// GetPlayer returns player information
func (h *Handlers) GetPlayer(w http.ResponseWriter, r *http.Request) {
	if !h.requireDatabase(w) {
		return
	}
	playerID := mux.Vars(r)["id"]

	player, err := h.database.GetPlayerByID(playerID)
	if err != nil {
		playerError(w, err, "player")
		return
	}
	if err := h.database.UpdatePlayerLastLogin(playerID); err != nil {
		klog.Warningf("Failed to update last login for %s: %v", playerID, err)
	}
	response(w, http.StatusOK, player)
}

// GetPlayerStats returns player statistics
func (h *Handlers) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireDatabase(w) {
		return
	}
	stats, err := h.database.GetPlayerStats(mux.Vars(r)["id"])
	if err != nil {
		playerError(w, err, "player statistics")
		return
	}
	response(w, http.StatusOK, stats)
}

func (h *Handlers) GetPlayerBadges(w http.ResponseWriter, r *http.Request) {
	if !h.requireDatabase(w) {
		return
	}
	badges, err := h.database.PlayerBadges(mux.Vars(r)["id"])
	if err != nil {
		playerError(w, err, "player badges")
		return
	}
	response(w, http.StatusOK, badges)
}

// GetPlayerSessions lists the live sessions a player owns
func (h *Handlers) GetPlayerSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.PlayerSessions(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	response(w, http.StatusOK, views(sessions))
}

// Leaderboard returns the best wins, optionally filtered by mode
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if !h.requireDatabase(w) {
		return
	}

	q := r.URL.Query()
	mode := game.Mode(q.Get("mode"))
	if mode != "" && !mode.Valid() {
		errorResponse(w, http.StatusBadRequest, "Unknown mode")
		return
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.database.Leaderboard(mode, limit)
	if err != nil {
		klog.Errorf("Failed to read leaderboard: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Error retrieving leaderboard")
		return
	}
	response(w, http.StatusOK, entries)
}
