package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calvinwijaya/solitaire-be/internal/game"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

// ErrPlayerNotFound is returned when no player matches the requested id.
var ErrPlayerNotFound = errors.New("player not found")

type Database struct {
	db *sql.DB
}

type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	LastLogin time.Time `json:"lastLogin"`
}

type PlayerStats struct {
	PlayerID    string    `json:"playerId"`
	PlayerName  string    `json:"playerName"`
	GamesPlayed int       `json:"gamesPlayed"`
	GamesWon    int       `json:"gamesWon"`
	OnChainWins int       `json:"onChainWins"`
	BestScore   int       `json:"bestScore"`
	FewestMoves int       `json:"fewestMoves"`
	FastestWin  int64     `json:"fastestWinMs"`
	LastPlayed  time.Time `json:"lastPlayed"`
}

type LeaderboardEntry struct {
	Rank       int       `json:"rank"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	GameID     string    `json:"gameId"`
	Mode       game.Mode `json:"mode"`
	Score      int       `json:"score"`
	Moves      int       `json:"moves"`
	DurationMs int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewDatabase opens a connection with one of the registered drivers:
// "sqlite3" (cgo), "sqlite" (pure Go) or "postgres".
func NewDatabase(driver, dsn string) (*Database, error) {
	switch driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if driver == "postgres" {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	} else {
		// SQLite serializes writers; a single connection also keeps :memory: alive.
		db.SetMaxOpenConns(1)
	}

	if err := initTables(db); err != nil {
		db.Close()
		return nil, err
	}

	klog.V(1).Infof("Database ready (driver=%s)", driver)
	return &Database{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"players", `
			CREATE TABLE IF NOT EXISTS players (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				last_login BIGINT NOT NULL
			)`},
		{"game_results", `
			CREATE TABLE IF NOT EXISTS game_results (
				id TEXT PRIMARY KEY,
				game_id TEXT NOT NULL,
				player_id TEXT NOT NULL,
				mode TEXT NOT NULL,
				result TEXT NOT NULL,
				score INTEGER NOT NULL,
				moves INTEGER NOT NULL,
				duration_ms BIGINT NOT NULL,
				finished_at BIGINT NOT NULL
			)`},
		{"game_results index", `
			CREATE INDEX IF NOT EXISTS idx_game_results_player ON game_results (player_id, finished_at)`},
		{"move_ledger", `
			CREATE TABLE IF NOT EXISTS move_ledger (
				id TEXT PRIMARY KEY,
				game_id TEXT NOT NULL,
				player_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				number INTEGER NOT NULL,
				kind TEXT NOT NULL,
				from_col INTEGER NOT NULL,
				card_index INTEGER NOT NULL,
				to_col INTEGER NOT NULL,
				suit TEXT NOT NULL,
				score INTEGER NOT NULL,
				submitted_at BIGINT NOT NULL,
				UNIQUE (game_id, seq)
			)`},
	}
	for _, st := range stmts {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("error creating %s: %w", st.name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// CreatePlayer creates a new player in the database
func (d *Database) CreatePlayer(playerID, playerName string) (*Player, error) {
	now := time.Now()
	_, err := d.db.Exec(
		"INSERT INTO players (id, name, created_at, last_login) VALUES ($1, $2, $3, $4)",
		playerID, playerName, toMillis(now), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating player %s: %w", playerID, err)
	}
	return &Player{ID: playerID, Name: playerName, CreatedAt: fromMillis(toMillis(now)), LastLogin: fromMillis(toMillis(now))}, nil
}

// GetPlayerByID retrieves a player from the database by ID
func (d *Database) GetPlayerByID(playerID string) (*Player, error) {
	var p Player
	var created, lastLogin int64
	err := d.db.QueryRow(
		"SELECT id, name, created_at, last_login FROM players WHERE id = $1", playerID,
	).Scan(&p.ID, &p.Name, &created, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.LastLogin = fromMillis(lastLogin)
	return &p, nil
}

// UpdatePlayerLastLogin updates a player's last login timestamp
func (d *Database) UpdatePlayerLastLogin(playerID string) error {
	res, err := d.db.Exec(
		"UPDATE players SET last_login = $1 WHERE id = $2",
		toMillis(time.Now()), playerID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// RecordGame stores a finished round. It satisfies game.Recorder.
func (d *Database) RecordGame(ctx context.Context, rec game.GameRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO game_results (id, game_id, player_id, mode, result, score, moves, duration_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), rec.GameID, rec.PlayerID, string(rec.Mode), string(rec.Result),
		rec.Score, rec.Moves, rec.Duration.Milliseconds(), toMillis(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("error recording game %s: %w", rec.GameID, err)
	}
	klog.V(2).Infof("Recorded %s game %s for player %s (score=%d moves=%d)",
		rec.Result, rec.GameID, rec.PlayerID, rec.Score, rec.Moves)
	return nil
}

// SubmitMove appends an on-chain move to the ledger. It satisfies game.MoveSubmitter.
func (d *Database) SubmitMove(ctx context.Context, rec game.MoveRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO move_ledger (id, game_id, player_id, seq, number, kind, from_col, card_index, to_col, suit, score, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New().String(), rec.GameID, rec.PlayerID, rec.Seq, rec.Number, string(rec.Move.Kind),
		rec.Move.From, rec.Move.CardIndex, rec.Move.To, rec.Move.Suit.String(), rec.Score,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("error submitting ledger entry %d of game %s: %w", rec.Seq, rec.GameID, err)
	}
	return nil
}

// GameMoves returns the ledger entries of one game in sequence order, undo
// entries included.
func (d *Database) GameMoves(gameID string) ([]game.MoveRecord, error) {
	rows, err := d.db.Query(`
		SELECT game_id, player_id, seq, number, kind, from_col, card_index, to_col, suit, score
		FROM move_ledger WHERE game_id = $1 ORDER BY seq ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []game.MoveRecord
	for rows.Next() {
		var rec game.MoveRecord
		var kind, suit string
		if err := rows.Scan(&rec.GameID, &rec.PlayerID, &rec.Seq, &rec.Number, &kind,
			&rec.Move.From, &rec.Move.CardIndex, &rec.Move.To, &suit, &rec.Score); err != nil {
			return nil, err
		}
		rec.Move.Kind = game.MoveKind(kind)
		if rec.Move.Suit, err = game.ParseSuit(suit); err != nil {
			return nil, err
		}
		moves = append(moves, rec)
	}
	return moves, rows.Err()
}

// GetPlayerStats retrieves a player's statistics
func (d *Database) GetPlayerStats(playerID string) (*PlayerStats, error) {
	player, err := d.GetPlayerByID(playerID)
	if err != nil {
		return nil, err
	}

	stats := PlayerStats{PlayerID: playerID, PlayerName: player.Name}
	var lastPlayed int64
	err = d.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN result = $1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result = $1 AND mode = $2 THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(CASE WHEN result = $1 THEN score END), 0),
			COALESCE(MIN(CASE WHEN result = $1 THEN moves END), 0),
			COALESCE(MIN(CASE WHEN result = $1 THEN duration_ms END), 0),
			COALESCE(MAX(finished_at), 0)
		FROM game_results WHERE player_id = $3`,
		string(game.ResultWon), string(game.ModeOnChain), playerID,
	).Scan(&stats.GamesPlayed, &stats.GamesWon, &stats.OnChainWins,
		&stats.BestScore, &stats.FewestMoves, &stats.FastestWin, &lastPlayed)
	if err != nil {
		return nil, fmt.Errorf("error getting stats for %s: %w", playerID, err)
	}
	stats.LastPlayed = fromMillis(lastPlayed)
	return &stats, nil
}

// Leaderboard lists the best winning rounds, highest score first. An empty
// mode includes both modes.
func (d *Database) Leaderboard(mode game.Mode, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := d.db.Query(`
		SELECT r.player_id, COALESCE(p.name, ''), r.game_id, r.mode, r.score, r.moves, r.duration_ms, r.finished_at
		FROM game_results r LEFT JOIN players p ON p.id = r.player_id
		WHERE r.result = $1 AND ($2 = '' OR r.mode = $2)
		ORDER BY r.score DESC, r.moves ASC, r.duration_ms ASC
		LIMIT $3`,
		string(game.ResultWon), string(mode), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		var m string
		var finished int64
		if err := rows.Scan(&e.PlayerID, &e.PlayerName, &e.GameID, &m, &e.Score, &e.Moves, &e.DurationMs, &finished); err != nil {
			return nil, err
		}
		e.Rank = len(entries) + 1
		e.Mode = game.Mode(m)
		e.FinishedAt = fromMillis(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var (
	badgeFirstWin   = Badge{ID: "first-win", Name: "First Win", Description: "Won a game of solitaire"}
	badgeTenWins    = Badge{ID: "ten-wins", Name: "Card Shark", Description: "Won ten games"}
	badgeQuickWin   = Badge{ID: "quick-win", Name: "Quick Win", Description: "Won in fewer than 100 moves"}
	badgeOnChainWin = Badge{ID: "onchain-win", Name: "On-Chain Champion", Description: "Won a game in on-chain mode"}
)

// PlayerBadges derives the badges a player has earned from their stats.
func (d *Database) PlayerBadges(playerID string) ([]Badge, error) {
	stats, err := d.GetPlayerStats(playerID)
	if err != nil {
		return nil, err
	}
	return badgesFor(stats), nil
}

func badgesFor(stats *PlayerStats) []Badge {
	badges := []Badge{}
	if stats.GamesWon >= 1 {
		badges = append(badges, badgeFirstWin)
	}
	if stats.GamesWon >= 10 {
		badges = append(badges, badgeTenWins)
	}
	if stats.GamesWon >= 1 && stats.FewestMoves < 100 {
		badges = append(badges, badgeQuickWin)
	}
	if stats.OnChainWins >= 1 {
		badges = append(badges, badgeOnChainWin)
	}
	return badges
}
