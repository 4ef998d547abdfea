package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration, loaded once at boot from the
// YAML file and overlaid with process environment. Runtime-mutable
// settings (enabled leagues, pull intervals, job cadences) are folded
// into Snapshot afterwards; nothing reads Config concurrently.
type Config struct {
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Database  DatabaseConfig  `yaml:"database"`
	Bus       BusConfig       `yaml:"bus"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Frames    FramesConfig    `yaml:"frames"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	Ops       OpsConfig       `yaml:"ops"`
	Retention RetentionConfig `yaml:"retention"`
}

// UpstreamConfig bounds the provider client and its rate governor.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Key            string        `yaml:"-"` // env only, never from file
	MaxRPS         float64       `yaml:"max_rps"`
	Burst          int           `yaml:"burst"`
	MaxRPM         int           `yaml:"max_rpm"`
	MaxRPD         int           `yaml:"max_rpd"`
	PermitTimeout  time.Duration `yaml:"permit_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DatabaseConfig bounds the shared Postgres pool.
type DatabaseConfig struct {
	DSN          string        `yaml:"-"` // env only
	MaxOpen      int           `yaml:"max_open"`
	MaxIdle      int           `yaml:"max_idle"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
	OpTimeout    time.Duration `yaml:"op_timeout"`
}

// BusConfig selects the change-note transport by DSN scheme:
// mem:// (in-process), redis://, nats://.
type BusConfig struct {
	DSN string `yaml:"dsn"`
}

// IngestConfig drives the live loop.
type IngestConfig struct {
	TriggerInterval time.Duration `yaml:"trigger_interval"`
	Workers         int           `yaml:"workers"`
	OddsInterval    time.Duration `yaml:"odds_interval"`
	EventsInterval  time.Duration `yaml:"events_interval"`
	StatsInterval   time.Duration `yaml:"stats_interval"`
	FailuresToTrip  int           `yaml:"failures_to_trip"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// FramesConfig drives the aggregator.
type FramesConfig struct {
	CatchupHorizon time.Duration `yaml:"catchup_horizon"`
}

// FanoutConfig bounds the subscriber bridge.
type FanoutConfig struct {
	Addr           string        `yaml:"addr"`
	SendBuffer     int           `yaml:"send_buffer"`
	RingSize       int           `yaml:"ring_size"`
	SlowGrace      time.Duration `yaml:"slow_grace"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteDeadline  time.Duration `yaml:"write_deadline"`
	CatchupHorizon time.Duration `yaml:"catchup_horizon"`
	MaxRSSMB       uint64        `yaml:"max_rss_mb"` // 0 disables the cap
}

// OpsConfig bounds the operator HTTP surface.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// RetentionConfig declares how long raw ticks and frames live.
type RetentionConfig struct {
	OddsDays          int `yaml:"odds_days"`
	EventsDays        int `yaml:"events_days"`
	StatsDays         int `yaml:"stats_days"`
	FramesDays        int `yaml:"frames_days"`
	CompressAfterDays int `yaml:"compress_after_days"`
}

// envOverrides is the process environment per the deployment contract.
type envOverrides struct {
	UpstreamKey string `env:"UPSTREAM_KEY"`
	DBDSN       string `env:"DB_DSN"`
	BusDSN      string `env:"BUS_DSN"`
	ConfigPath  string `env:"CONFIG_PATH"`
	LeaguesPath string `env:"LEAGUES_PATH"`
	OpsAddr     string `env:"OPS_ADDR"`
	FanoutAddr  string `env:"FANOUT_ADDR"`
}

// Default returns the built-in configuration the YAML file overrides.
func Default() Config {
	return Config{
		Upstream: UpstreamConfig{
			BaseURL:        "https://v3.football.api-sports.io",
			MaxRPS:         6,
			Burst:          6,
			MaxRPM:         100,
			MaxRPD:         1000,
			PermitTimeout:  15 * time.Second,
			RequestTimeout: 30 * time.Second,
			RetryAttempts:  3,
			RetryDelay:     time.Second,
			MaxBackoff:     time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpen:      16,
			MaxIdle:      8,
			ConnLifetime: 30 * time.Minute,
			OpTimeout:    10 * time.Second,
		},
		Bus: BusConfig{DSN: "mem://"},
		Ingest: IngestConfig{
			TriggerInterval: 30 * time.Second,
			Workers:         5,
			OddsInterval:    10 * time.Second,
			EventsInterval:  5 * time.Second,
			StatsInterval:   15 * time.Second,
			FailuresToTrip:  5,
			Cooldown:        10 * time.Minute,
		},
		Frames: FramesConfig{CatchupHorizon: 5 * time.Minute},
		Fanout: FanoutConfig{
			Addr:           ":8080",
			SendBuffer:     256,
			RingSize:       256,
			SlowGrace:      5 * time.Second,
			PingInterval:   20 * time.Second,
			PongWait:       30 * time.Second,
			WriteDeadline:  5 * time.Second,
			CatchupHorizon: 24 * time.Hour,
		},
		Ops: OpsConfig{Addr: ":9090"},
		Retention: RetentionConfig{
			OddsDays:          30,
			EventsDays:        90,
			StatsDays:         60,
			FramesDays:        90,
			CompressAfterDays: 7,
		},
	}
}

// Load reads the YAML file at path (optional), overlays environment
// values, and validates the result. A missing file is not an error; the
// defaults plus environment must be enough to boot.
func Load(path string) (Config, error) {
	// Best effort; a repo-local .env is a dev convenience.
	_ = godotenv.Load()

	cfg := Default()

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if path == "" {
		path = ov.ConfigPath
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if ov.UpstreamKey != "" {
		cfg.Upstream.Key = ov.UpstreamKey
	}
	if ov.DBDSN != "" {
		cfg.Database.DSN = ov.DBDSN
	}
	if ov.BusDSN != "" {
		cfg.Bus.DSN = ov.BusDSN
	}
	if ov.OpsAddr != "" {
		cfg.Ops.Addr = ov.OpsAddr
	}
	if ov.FanoutAddr != "" {
		cfg.Fanout.Addr = ov.FanoutAddr
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LeaguesPathFromEnv resolves the enabled-leagues file location.
func LeaguesPathFromEnv() string {
	var ov envOverrides
	if err := env.Parse(&ov); err == nil && ov.LeaguesPath != "" {
		return ov.LeaguesPath
	}
	return "config/leagues.yaml"
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	if c.Upstream.MaxRPS <= 0 {
		return fmt.Errorf("upstream max_rps must be positive, got %f", c.Upstream.MaxRPS)
	}
	if c.Upstream.MaxRPM <= 0 || c.Upstream.MaxRPD <= 0 {
		return fmt.Errorf("upstream window budgets must be positive, got rpm=%d rpd=%d",
			c.Upstream.MaxRPM, c.Upstream.MaxRPD)
	}
	if c.Upstream.RetryAttempts < 0 {
		return fmt.Errorf("upstream retry_attempts must be >= 0, got %d", c.Upstream.RetryAttempts)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.TriggerInterval <= 0 {
		return fmt.Errorf("ingest trigger_interval must be positive, got %v", c.Ingest.TriggerInterval)
	}
	for name, iv := range map[string]time.Duration{
		"odds_interval":   c.Ingest.OddsInterval,
		"events_interval": c.Ingest.EventsInterval,
		"stats_interval":  c.Ingest.StatsInterval,
	} {
		if iv <= 0 {
			return fmt.Errorf("ingest %s must be positive, got %v", name, iv)
		}
	}
	if c.Database.MaxOpen <= 0 {
		return fmt.Errorf("database max_open must be positive, got %d", c.Database.MaxOpen)
	}
	if c.Fanout.SendBuffer <= 0 || c.Fanout.RingSize <= 0 {
		return fmt.Errorf("fanout buffers must be positive, got send=%d ring=%d",
			c.Fanout.SendBuffer, c.Fanout.RingSize)
	}
	for name, d := range map[string]int{
		"odds_days":   c.Retention.OddsDays,
		"events_days": c.Retention.EventsDays,
		"stats_days":  c.Retention.StatsDays,
		"frames_days": c.Retention.FramesDays,
	} {
		if d <= 0 {
			return fmt.Errorf("retention %s must be positive, got %d", name, d)
		}
	}
	return nil
}
