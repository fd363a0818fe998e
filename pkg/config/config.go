package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. DOGFIGHT_MATCH_CAPACITY.
const EnvPrefix = "DOGFIGHT_"

type Config struct {
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Network   NetworkConfig   `toml:"network" envPrefix:"NETWORK_"`
	Match     MatchConfig     `toml:"match" envPrefix:"MATCH_"`
	AntiCheat AntiCheatConfig `toml:"anticheat" envPrefix:"ANTICHEAT_"`
	Combat    CombatConfig    `toml:"combat" envPrefix:"COMBAT_"`
	Limits    LimitsConfig    `toml:"limits" envPrefix:"LIMITS_"`
	Spawn     SpawnConfig     `toml:"spawn" envPrefix:"SPAWN_"`
	Capture   CaptureConfig   `toml:"capture" envPrefix:"CAPTURE_"`
	RateLimit RateLimitConfig `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Scripting ScriptingConfig `toml:"scripting" envPrefix:"SCRIPTING_"`
}

type ServerConfig struct {
	Name          string   `toml:"name" env:"NAME"`
	TickRate      Duration `toml:"tick_rate" env:"TICK_RATE"`
	SweepInterval Duration `toml:"sweep_interval" env:"SWEEP_INTERVAL"`

	// logging configuration
	LogToFile bool `toml:"log_to_file" env:"LOG_TO_FILE"`
}

type NetworkConfig struct {
	ENetEnabled bool `toml:"enet_enabled" env:"ENET_ENABLED"`
	ENetPort    int  `toml:"enet_port" env:"ENET_PORT"`
	MaxPeers    int  `toml:"max_peers" env:"MAX_PEERS"`

	WebSocketEnabled bool     `toml:"websocket_enabled" env:"WEBSOCKET_ENABLED"`
	WebSocketAddr    string   `toml:"websocket_addr" env:"WEBSOCKET_ADDR"`
	WebSocketPath    string   `toml:"websocket_path" env:"WEBSOCKET_PATH"`
	AllowedOrigins   []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	PingEnabled bool `toml:"ping_enabled" env:"PING_ENABLED"`
	PingPort    int  `toml:"ping_port" env:"PING_PORT"`

	SendQueue int `toml:"send_queue" env:"SEND_QUEUE"`
}

type MatchConfig struct {
	Capacity     int      `toml:"capacity" env:"CAPACITY"`
	Duration     Duration `toml:"duration" env:"DURATION"`
	RespawnDelay Duration `toml:"respawn_delay" env:"RESPAWN_DELAY"`
}

type AntiCheatConfig struct {
	MaxDisplacement float64 `toml:"max_displacement" env:"MAX_DISPLACEMENT"`
}

type CombatConfig struct {
	MaxDamage float64 `toml:"max_damage" env:"MAX_DAMAGE"`
	MaxHealth float64 `toml:"max_health" env:"MAX_HEALTH"`
	MaxEnergy float64 `toml:"max_energy" env:"MAX_ENERGY"`
}

type LimitsConfig struct {
	NameMin int `toml:"name_min" env:"NAME_MIN"`
	NameMax int `toml:"name_max" env:"NAME_MAX"`
	ChatMax int `toml:"chat_max" env:"CHAT_MAX"`
}

type Point struct {
	X float64 `toml:"x" env:"X"`
	Y float64 `toml:"y" env:"Y"`
	Z float64 `toml:"z" env:"Z"`
}

type SpawnConfig struct {
	Red    Point   `toml:"red" envPrefix:"RED_"`
	Blue   Point   `toml:"blue" envPrefix:"BLUE_"`
	Jitter float64 `toml:"jitter" env:"JITTER"`
}

type SiteConfig struct {
	ID string  `toml:"id" env:"ID"`
	X  float64 `toml:"x" env:"X"`
	Z  float64 `toml:"z" env:"Z"`
}

type CaptureConfig struct {
	Radius        float64      `toml:"radius" env:"RADIUS"`
	Rate          float64      `toml:"rate" env:"RATE"`
	DecayRate     float64      `toml:"decay_rate" env:"DECAY_RATE"`
	TickInterval  Duration     `toml:"tick_interval" env:"TICK_INTERVAL"`
	ScoreInterval Duration     `toml:"score_interval" env:"SCORE_INTERVAL"`
	Sites         []SiteConfig `toml:"sites" envPrefix:"SITES_"`
}

type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" env:"ENABLED"`
	MessagesPerSecond float64 `toml:"messages_per_second" env:"MESSAGES_PER_SECOND"`
	Burst             int     `toml:"burst" env:"BURST"`
	MaxViolations     int     `toml:"max_violations" env:"MAX_VIOLATIONS"`
}

type ScriptingConfig struct {
	Path string `toml:"path" env:"PATH"`
}

// Duration is a time.Duration written as a string such as "500ms" or "10m".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:          "dogfight",
			TickRate:      Duration(50 * time.Millisecond),
			SweepInterval: Duration(60 * time.Second),
		},
		Network: NetworkConfig{
			ENetEnabled:      true,
			ENetPort:         32887,
			MaxPeers:         64,
			WebSocketEnabled: true,
			WebSocketAddr:    ":8080",
			WebSocketPath:    "/ws",
			PingEnabled:      true,
			PingPort:         32888,
			SendQueue:        256,
		},
		Match: MatchConfig{
			Capacity:     10,
			Duration:     Duration(600 * time.Second),
			RespawnDelay: Duration(3 * time.Second),
		},
		AntiCheat: AntiCheatConfig{
			MaxDisplacement: 50,
		},
		Combat: CombatConfig{
			MaxDamage: 100,
			MaxHealth: 100,
			MaxEnergy: 100,
		},
		Limits: LimitsConfig{
			NameMin: 1,
			NameMax: 15,
			ChatMax: 200,
		},
		Spawn: SpawnConfig{
			Red:    Point{X: -400, Y: 60, Z: 0},
			Blue:   Point{X: 400, Y: 60, Z: 0},
			Jitter: 20,
		},
		Capture: CaptureConfig{
			Radius:        30,
			Rate:          0.2,
			DecayRate:     0.1,
			TickInterval:  Duration(500 * time.Millisecond),
			ScoreInterval: Duration(5 * time.Second),
			Sites: []SiteConfig{
				{ID: "windmill-north", X: 0, Z: -250},
				{ID: "windmill-east", X: 250, Z: 0},
				{ID: "windmill-south", X: 0, Z: 250},
				{ID: "windmill-west", X: -250, Z: 0},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: 60,
			Burst:             120,
			MaxViolations:     50,
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults, then applies
// DOGFIGHT_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ParseEnv(config); err != nil {
		return nil, err
	}

	if len(config.Capture.Sites) == 0 {
		config.Capture.Sites = Default().Capture.Sites
	}

	return config, nil
}

// ParseEnv overlays DOGFIGHT_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Name != "", "server name cannot be empty")
	check(c.Server.TickRate > 0, "server.tick_rate must be positive")
	check(c.Server.SweepInterval > 0, "server.sweep_interval must be positive")

	check(c.Network.ENetEnabled || c.Network.WebSocketEnabled, "at least one of network.enet_enabled or network.websocket_enabled must be set")
	if c.Network.ENetEnabled {
		check(validPort(c.Network.ENetPort), "invalid network.enet_port: %d", c.Network.ENetPort)
		check(c.Network.MaxPeers > 0, "network.max_peers must be positive")
	}
	if c.Network.WebSocketEnabled {
		check(c.Network.WebSocketAddr != "", "network.websocket_addr cannot be empty")
		check(len(c.Network.WebSocketPath) > 0 && c.Network.WebSocketPath[0] == '/', "network.websocket_path must start with /")
	}
	if c.Network.PingEnabled {
		check(validPort(c.Network.PingPort), "invalid network.ping_port: %d", c.Network.PingPort)
		check(!c.Network.ENetEnabled || c.Network.PingPort != c.Network.ENetPort, "network.ping_port must differ from network.enet_port")
	}
	check(c.Network.SendQueue > 0, "network.send_queue must be positive")

	check(c.Match.Capacity > 0, "match.capacity must be positive")
	check(c.Match.Duration > 0, "match.duration must be positive")
	check(c.Match.RespawnDelay >= 0, "match.respawn_delay cannot be negative")

	check(c.AntiCheat.MaxDisplacement > 0, "anticheat.max_displacement must be positive")

	check(c.Combat.MaxHealth > 0, "combat.max_health must be positive")
	check(c.Combat.MaxEnergy > 0, "combat.max_energy must be positive")
	check(c.Combat.MaxDamage > 0, "combat.max_damage must be positive")

	check(c.Limits.NameMin >= 1, "limits.name_min must be at least 1")
	check(c.Limits.NameMax >= c.Limits.NameMin, "limits.name_max must not be below limits.name_min")
	check(c.Limits.ChatMax > 0, "limits.chat_max must be positive")

	check(c.Spawn.Jitter >= 0, "spawn.jitter cannot be negative")

	check(c.Capture.Radius > 0, "capture.radius must be positive")
	check(c.Capture.Rate > 0, "capture.rate must be positive")
	check(c.Capture.DecayRate >= 0, "capture.decay_rate cannot be negative")
	check(c.Capture.TickInterval > 0, "capture.tick_interval must be positive")
	check(c.Capture.ScoreInterval > 0, "capture.score_interval must be positive")
	check(len(c.Capture.Sites) > 0, "at least one capture site must be specified")
	seen := make(map[string]bool, len(c.Capture.Sites))
	for i, site := range c.Capture.Sites {
		check(site.ID != "", "capture.sites[%d] has no id", i)
		check(!seen[site.ID], "duplicate capture site id %q", site.ID)
		seen[site.ID] = true
	}

	if c.RateLimit.Enabled {
		check(c.RateLimit.MessagesPerSecond > 0, "rate_limit.messages_per_second must be positive")
		check(c.RateLimit.Burst > 0, "rate_limit.burst must be positive")
		check(c.RateLimit.MaxViolations > 0, "rate_limit.max_violations must be positive")
	}

	return errors.Join(errs...)
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
