package holdem

import "fmt"

// MaxDeckSecret is the longest key blake2b accepts.
const MaxDeckSecret = 64

type Config struct {
	MaxPlayers int
	MinPlayers int

	SmallBlind    int64
	BigBlind      int64
	StartingStack int64

	// DeckSecret keys the per-hand seed derivation. When empty, NewGame
	// draws a random key that stays in process memory.
	DeckSecret string
}

func DefaultConfig() Config {
	return Config{
		MaxPlayers:    9,
		MinPlayers:    2,
		SmallBlind:    1,
		BigBlind:      2,
		StartingStack: 100,
	}
}

func (c Config) validate() error {
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("MaxPlayers must be > 0")
	}
	if c.MinPlayers < 2 {
		return fmt.Errorf("MinPlayers must be >= 2")
	}
	if c.MinPlayers > c.MaxPlayers {
		return fmt.Errorf("MinPlayers must be <= MaxPlayers")
	}
	if c.SmallBlind < 0 || c.BigBlind <= 0 || c.SmallBlind > c.BigBlind {
		return fmt.Errorf("invalid blinds: sb=%d bb=%d", c.SmallBlind, c.BigBlind)
	}
	if c.StartingStack <= 0 {
		return fmt.Errorf("StartingStack must be > 0")
	}
	if len(c.DeckSecret) > MaxDeckSecret {
		return fmt.Errorf("DeckSecret must be at most %d bytes, got %d", MaxDeckSecret, len(c.DeckSecret))
	}
	return nil
}
