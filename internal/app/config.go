package app

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is loaded from the environment at startup.
type Config struct {
	Addr              string `env:"AIRLOCK_ADDR" envDefault:":8080"`
	TickRate          int    `env:"AIRLOCK_TICK_RATE" envDefault:"30"`
	FrameHorizon      uint64 `env:"AIRLOCK_FRAME_HORIZON" envDefault:"90"`
	ReplayDBPath      string `env:"AIRLOCK_REPLAY_DB" envDefault:"replays.db"`
	ReplayFlushEvery  int    `env:"AIRLOCK_REPLAY_FLUSH_EVERY" envDefault:"16"`
	ClientDir         string `env:"AIRLOCK_CLIENT_DIR"`
	LogBufferSize     int    `env:"AIRLOCK_LOG_BUFFER" envDefault:"512"`
	LogDebug          bool   `env:"AIRLOCK_LOG_DEBUG"`
	ShutdownTimeoutMS int    `env:"AIRLOCK_SHUTDOWN_TIMEOUT_MS" envDefault:"5000"`
}

// LoadConfig reads the environment into a Config.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TickRate <= 0 {
		return Config{}, fmt.Errorf("tick rate must be positive, got %d", cfg.TickRate)
	}
	if cfg.FrameHorizon == 0 {
		return Config{}, fmt.Errorf("frame horizon must be positive")
	}
	return cfg, nil
}
