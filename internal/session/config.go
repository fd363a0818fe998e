package session

import (
	"time"

	"github.com/siohaza/dogfight/internal/capture"
	"github.com/siohaza/dogfight/internal/combat"
	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/validation"
)

// Config holds the match rules shared by every session.
type Config struct {
	Capacity        int
	MatchDuration   time.Duration
	RespawnDelay    time.Duration
	MaxDisplacement float64

	MaxHealth float64
	MaxEnergy float64
	MaxDamage float64

	Limits validation.Limits

	RedSpawn    protocol.Vector3
	BlueSpawn   protocol.Vector3
	SpawnJitter float64

	Capture       capture.Rules
	CaptureTick   time.Duration
	ScoreInterval time.Duration
	Sites         []capture.Template
}

func DefaultConfig() Config {
	return Config{
		Capacity:        10,
		MatchDuration:   10 * time.Minute,
		RespawnDelay:    3 * time.Second,
		MaxDisplacement: 50,
		MaxHealth:       100,
		MaxEnergy:       100,
		MaxDamage:       100,
		Limits:          validation.Limits{NameMin: 1, NameMax: 15, ChatMax: 200},
		RedSpawn:        protocol.Vector3{X: -400, Y: 60, Z: 0},
		BlueSpawn:       protocol.Vector3{X: 400, Y: 60, Z: 0},
		SpawnJitter:     20,
		Capture:         capture.Rules{Radius: 30, Rate: 0.2, DecayRate: 0.1},
		CaptureTick:     500 * time.Millisecond,
		ScoreInterval:   5 * time.Second,
		Sites:           capture.DefaultTemplates,
	}
}

func (c Config) combatRules() combat.Rules {
	return combat.Rules{MaxDamage: c.MaxDamage, MaxHealth: c.MaxHealth}
}

func (c Config) spawnBase(team protocol.Team) protocol.Vector3 {
	if team == protocol.TeamBlue {
		return c.BlueSpawn
	}
	return c.RedSpawn
}
