package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/calvinwijaya/solitaire-be/internal/game"
)

// GameConfig holds the tunable parts of a solitaire table.
type GameConfig struct {
	Rules       game.Rules `json:"rules"`
	DefaultMode game.Mode  `json:"defaultMode"`
	// SideEffectTimeoutSeconds bounds each stats or ledger write.
	SideEffectTimeoutSeconds int `json:"sideEffectTimeoutSeconds"`
}

// Default returns the configuration used when no file is given.
func Default() *GameConfig {
	return &GameConfig{
		Rules:                    game.DefaultRules(),
		DefaultMode:              game.ModeFree,
		SideEffectTimeoutSeconds: 30,
	}
}

// LoadGameConfig reads a JSON config from path. Fields missing from the file
// keep their defaults. An empty path returns Default().
func LoadGameConfig(path string) (*GameConfig, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game config: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game config: %w", err)
	}
	if !c.DefaultMode.Valid() {
		return nil, fmt.Errorf("invalid default mode %q", c.DefaultMode)
	}
	if c.SideEffectTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("sideEffectTimeoutSeconds must be positive, got %d", c.SideEffectTimeoutSeconds)
	}
	return c, nil
}

func (c *GameConfig) SideEffectTimeout() time.Duration {
	return time.Duration(c.SideEffectTimeoutSeconds) * time.Second
}
