// Package config loads the environment-level configuration shared by every
// role process (gateway, matchmaker, session runner, reaper, capacity
// provider). Every field here is honored by at least one role.
package config

import (
	"strconv"

	"github.com/caarlos0/env/v6"
	_ "github.com/joho/godotenv/autoload"
)

// Config holds every tunable the coordination layer reads from the
// environment. Roles embed only the fields they need, but all roles parse
// the same struct so a single .env file configures the whole fleet.
type Config struct {
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	GatewayPort    int `env:"GATEWAY_PORT" envDefault:"8080"`
	HelloTimeoutMs int `env:"HELLO_TIMEOUT_MS" envDefault:"10000"`

	PlayersPerGame         int `env:"PLAYERS_PER_GAME" envDefault:"100"`
	MaxPullMultiplier      int `env:"MAX_PULL_MULTIPLIER" envDefault:"4"`
	MatchMinSeconds        int `env:"MATCH_MIN_SECONDS" envDefault:"30"`
	MatchMaxSeconds        int `env:"MATCH_MAX_SECONDS" envDefault:"300"`
	MatchmakerIdleMs       int `env:"MATCHMAKER_IDLE_MS" envDefault:"250"`
	MatchmakerNoCapacityMs int `env:"MATCHMAKER_NO_CAPACITY_MS" envDefault:"500"`
	MatchmakerLockTTLMs    int `env:"MATCHMAKER_LOCK_TTL_MS" envDefault:"5000"`

	SessionPollMs   int    `env:"SESSION_POLL_MS" envDefault:"500"`
	SessionMaxSlots int    `env:"SESSION_MAX_SLOTS" envDefault:"5"`
	FinishLockTTLMs int    `env:"FINISH_LOCK_TTL_MS" envDefault:"5000"`
	SessionID       string `env:"SESSION_ID"`

	ReaperPeriodMs   int  `env:"REAPER_PERIOD_MS" envDefault:"5000"`
	StaleMs          int  `env:"STALE_MS" envDefault:"30000"`
	ReaperSkipInGame bool `env:"REAPER_SKIP_IN_GAME" envDefault:"false"`

	PlayerTTLSeconds int `env:"PLAYER_TTL_S" envDefault:"600"`

	MinSessions         int     `env:"MIN_SESSIONS" envDefault:"1"`
	MaxSessions         int     `env:"MAX_SESSIONS" envDefault:"10"`
	ScaleUpThreshold    float64 `env:"SCALE_UP_THRESHOLD" envDefault:"0.8"`
	ScaleDownThreshold  float64 `env:"SCALE_DOWN_THRESHOLD" envDefault:"0.3"`
	ScaleUpCooldownMs   int     `env:"SCALE_UP_COOLDOWN_MS" envDefault:"30000"`
	ScaleDownCooldownMs int     `env:"SCALE_DOWN_COOLDOWN_MS" envDefault:"300000"`
	ScaleUpBatch        int     `env:"SCALE_UP_BATCH" envDefault:"5"`
	ScaleDownBatch      int     `env:"SCALE_DOWN_BATCH" envDefault:"3"`
	CapacityPollMs      int     `env:"CAPACITY_POLL_MS" envDefault:"5000"`
	SlotsPerSession     int     `env:"SLOTS_PER_SESSION" envDefault:"1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses environment variables (after a best-effort .env load via the
// godotenv/autoload side effect import above) into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RedisAddr returns the host:port pair go-redis expects.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + strconv.Itoa(c.RedisPort)
}
