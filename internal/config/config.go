package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Sync      SyncConfig      `yaml:"sync"`
	Game      GameConfig      `yaml:"game"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration. The remote store is only
// used when URL or Addr is set; otherwise results live in process memory.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Enabled reports whether remote credentials are configured
func (c *RedisConfig) Enabled() bool {
	return c.URL != "" || c.Addr != ""
}

// PostgresConfig holds PostgreSQL connection configuration for the history store
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration for result ingestion
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	Enabled        bool          `yaml:"enabled"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// SyncConfig holds history synchronization worker configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// GameConfig holds the game rules and retention limits
type GameConfig struct {
	AdminPassword       string `yaml:"admin_password"`
	ResultsLimit        int    `yaml:"results_limit"`
	ArchiveLimit        int    `yaml:"archive_limit"`
	LeaderboardSize     int    `yaml:"leaderboard_size"`
	MaxDailySubmissions int    `yaml:"max_daily_submissions"`
	MaxMoves            int    `yaml:"max_moves"`
	MaxTimeSeconds      int    `yaml:"max_time_seconds"`
	MaxPlayerName       int    `yaml:"max_player_name"`
	DefaultPlayerName   string `yaml:"default_player_name"`
	NoPlayerLabel       string `yaml:"no_player_label"`
	Version             string `yaml:"version"`
}

// RateLimitConfig holds the per-origin HTTP throttle
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	TTL     time.Duration `yaml:"ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel parses Level, falling back to info
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv lets deployment secrets override whatever the file says
func (c *Config) applyEnv() {
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		c.Game.AdminPassword = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("UPSTASH_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "pismenka-results"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "pismenka-results-consumer"
	}
	if c.Kafka.HandlerTimeout == 0 {
		c.Kafka.HandlerTimeout = 10 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 500
	}

	// Game defaults
	if c.Game.ResultsLimit == 0 {
		c.Game.ResultsLimit = 1000
	}
	if c.Game.ArchiveLimit == 0 {
		c.Game.ArchiveLimit = 30
	}
	if c.Game.LeaderboardSize == 0 {
		c.Game.LeaderboardSize = 10
	}
	if c.Game.MaxDailySubmissions == 0 {
		c.Game.MaxDailySubmissions = 10
	}
	if c.Game.MaxMoves == 0 {
		c.Game.MaxMoves = 1000
	}
	if c.Game.MaxTimeSeconds == 0 {
		c.Game.MaxTimeSeconds = 3600
	}
	if c.Game.MaxPlayerName == 0 {
		c.Game.MaxPlayerName = 30
	}
	if c.Game.DefaultPlayerName == "" {
		c.Game.DefaultPlayerName = "Anonym"
	}
	if c.Game.NoPlayerLabel == "" {
		c.Game.NoPlayerLabel = "Žádný"
	}
	if c.Game.Version == "" {
		c.Game.Version = "2.0.0"
	}

	// Rate limit defaults
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.TTL == 0 {
		c.RateLimit.TTL = 30 * time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.RateLimit.Enabled = true
	return cfg
}
