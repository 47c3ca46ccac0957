package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config 应用配置
type Config struct {
	Port           string `toml:"port"`
	DBPath         string `toml:"db_path"`
	MigrationsPath string `toml:"migrations_path"`
	JWTSecret      string `toml:"jwt_secret"`

	// Tile coordinator admission control 瓦片准入控制
	MaxSubscribersPerTile int     `toml:"max_subscribers_per_tile"`
	UserEventsPerSec      float64 `toml:"user_events_per_sec"`
	TileEventsPerSec      float64 `toml:"tile_events_per_sec"`
	IdleTimeoutSec        int     `toml:"idle_timeout_sec"`
	FlushIntervalSec      int     `toml:"flush_interval_sec"`

	// HTTP rate limiting
	HTTPRateLimit  int `toml:"http_rate_limit"`  // Requests per window
	HTTPRateWindow int `toml:"http_rate_window"` // Seconds
}

// Load 加载配置：环境变量优先，其次可选的 TOML 配置文件，最后默认值
func Load() *Config {
	cfg := &Config{
		Port:                  ":8080",
		DBPath:                "./data/canvas/canvas.db",
		MigrationsPath:        "./migrations",
		JWTSecret:             "your-secret-key-change-in-production",
		MaxSubscribersPerTile: 64,
		UserEventsPerSec:      15,
		TileEventsPerSec:      120,
		IdleTimeoutSec:        90,
		FlushIntervalSec:      2,
		HTTPRateLimit:         120,
		HTTPRateWindow:        60,
	}

	// Optional TOML overlay
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			log.Fatalf("Failed to load config file %s: %v", path, err)
		}
	}

	// Environment variables win
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		cfg.MigrationsPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("MAX_SUBSCRIBERS_PER_TILE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSubscribersPerTile = n
		}
	}
	if v := os.Getenv("USER_EVENTS_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.UserEventsPerSec = f
		}
	}
	if v := os.Getenv("TILE_EVENTS_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TileEventsPerSec = f
		}
	}

	return cfg
}

// IdleTimeout returns the subscriber idle eviction duration
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// FlushInterval returns the coordinator persistence flush period
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}
