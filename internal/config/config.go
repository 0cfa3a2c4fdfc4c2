package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/exledger/internal/infrastructure/db"
	atomicio "github.com/sawpanic/exledger/internal/io"
	"github.com/sawpanic/exledger/internal/persistence"
)

// AppConfig is the complete exledger configuration
type AppConfig struct {
	Databases DatabasesSection `yaml:"databases"`
	RunGuard  RunGuardSection  `yaml:"runguard"`
	Pipeline  PipelineSection  `yaml:"pipeline"`
	Retention RetentionSection `yaml:"retention"`
	Cache     CacheSection     `yaml:"cache"`
	Metrics   MetricsSection   `yaml:"metrics"`
	Schedule  ScheduleSection  `yaml:"schedule"`
	Logging   LoggingSection   `yaml:"logging"`
}

// DatabasesSection holds the two logical databases
type DatabasesSection struct {
	Live       db.Config `yaml:"live"`
	Simulation db.Config `yaml:"simulation"`
}

// ByTarget returns the database configs keyed by logical database
func (d DatabasesSection) ByTarget() map[persistence.Target]db.Config {
	return map[persistence.Target]db.Config{
		persistence.TargetLive:       d.Live,
		persistence.TargetSimulation: d.Simulation,
	}
}

// RunGuardSection locates the batch run marker
type RunGuardSection struct {
	Path string `yaml:"path"`
}

// CommandConfig describes one external collaborator executable
type CommandConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// PipelineSection configures the batch pipeline
type PipelineSection struct {
	LogDir         string        `yaml:"log_dir"`          // stage logs: <stage>.log
	AuditLog       string        `yaml:"audit_log"`        // start/finish lines of every run
	DatabaseURLEnv string        `yaml:"database_url_env"` // variable handed to collaborators
	Scraper        CommandConfig `yaml:"scraper"`
	Speculator     CommandConfig `yaml:"speculator"`
}

// StageLog returns the log file of the named stage
func (p PipelineSection) StageLog(stage string) string {
	return filepath.Join(p.LogDir, stage+".log")
}

// RetentionSection configures pruning and log rotation
type RetentionSection struct {
	OrderBookWindow time.Duration `yaml:"orderbook_window"`
	LogFiles        []string      `yaml:"log_files"`
	ArchiveDir      string        `yaml:"archive_dir"`
}

// CacheSection holds cache-related configuration
type CacheSection struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the balance history cache
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// MetricsSection configures metric export
type MetricsSection struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Listen         string `yaml:"listen"`
}

// ScheduleSection holds the cron specs of the schedule daemon
type ScheduleSection struct {
	Pipeline  string `yaml:"pipeline"`
	Retention string `yaml:"retention"`
}

// LoggingSection configures the tool's own log
type LoggingSection struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Stage names, also the base names of the stage logs
const (
	StageScrapeLive       = "scrape-live"
	StageScrapeSimulation = "scrape-simulation"
	StageSpeculateLive    = "speculate-live"
)

// DefaultAppConfig returns the configuration used when no file is given
func DefaultAppConfig() *AppConfig {
	const logDir = "/var/log/exledger"
	return &AppConfig{
		Databases: DatabasesSection{
			Live:       db.DefaultConfig(),
			Simulation: db.DefaultConfig(),
		},
		RunGuard: RunGuardSection{Path: "/tmp/exledger/batch.lock"},
		Pipeline: PipelineSection{
			LogDir:         logDir,
			DatabaseURLEnv: "DATABASE_URL",
		},
		Retention: RetentionSection{
			OrderBookWindow: 24 * time.Hour,
		},
		Cache: CacheSection{
			Redis: RedisConfig{Addr: "localhost:6379", TTL: 24 * time.Hour},
		},
		Metrics: MetricsSection{Listen: ":9108"},
		Schedule: ScheduleSection{
			Pipeline:  "*/5 * * * *",
			Retention: "0 3 * * 0",
		},
		Logging: LoggingSection{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// LoadAppConfig reads configPath over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func LoadAppConfig(configPath string) (*AppConfig, error) {
	config := DefaultAppConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}

			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(config)
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides. The database URL
// variables keep the names collaborators already read.
func applyEnvOverrides(config *AppConfig) {
	db.ApplyEnvOverrides(&config.Databases.Live, "DATABASE_URL", "EXLEDGER_LIVE_")
	db.ApplyEnvOverrides(&config.Databases.Simulation, "SIM_DATABASE_URL", "EXLEDGER_SIM_")

	if path := os.Getenv("EXLEDGER_LOCK_PATH"); path != "" {
		config.RunGuard.Path = path
	}

	if dir := os.Getenv("EXLEDGER_LOG_DIR"); dir != "" {
		config.Pipeline.LogDir = dir
	}

	if addr := os.Getenv("EXLEDGER_REDIS_ADDR"); addr != "" {
		config.Cache.Redis.Addr = addr
		config.Cache.Redis.Enabled = true
	}

	if redisDB := os.Getenv("EXLEDGER_REDIS_DB"); redisDB != "" {
		if val, err := strconv.Atoi(redisDB); err == nil {
			config.Cache.Redis.DB = val
		}
	}

	if url := os.Getenv("EXLEDGER_PUSHGATEWAY_URL"); url != "" {
		config.Metrics.PushgatewayURL = url
	}

	if level := os.Getenv("EXLEDGER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func (c *AppConfig) applyDefaults() {
	c.Databases.Live.ApplyDefaults()
	c.Databases.Simulation.ApplyDefaults()

	def := DefaultAppConfig()
	if c.Pipeline.DatabaseURLEnv == "" {
		c.Pipeline.DatabaseURLEnv = def.Pipeline.DatabaseURLEnv
	}
	if c.Pipeline.AuditLog == "" {
		c.Pipeline.AuditLog = filepath.Join(c.Pipeline.LogDir, "batch.log")
	}
	if c.Retention.ArchiveDir == "" {
		c.Retention.ArchiveDir = filepath.Join(c.Pipeline.LogDir, "archive")
	}
	if len(c.Retention.LogFiles) == 0 {
		c.Retention.LogFiles = []string{
			c.Pipeline.AuditLog,
			c.Pipeline.StageLog(StageScrapeLive),
			c.Pipeline.StageLog(StageScrapeSimulation),
			c.Pipeline.StageLog(StageSpeculateLive),
		}
	}
	if c.Cache.Redis.TTL == 0 {
		c.Cache.Redis.TTL = def.Cache.Redis.TTL
	}
}

// Validate reports the first invalid field with its YAML path
func (c *AppConfig) Validate() error {
	if err := c.Databases.Live.Validate("databases.live"); err != nil {
		return err
	}
	if err := c.Databases.Simulation.Validate("databases.simulation"); err != nil {
		return err
	}

	if c.RunGuard.Path == "" {
		return fmt.Errorf("runguard.path: required")
	}

	if c.Pipeline.LogDir == "" {
		return fmt.Errorf("pipeline.log_dir: required")
	}
	if c.Pipeline.DatabaseURLEnv == "" {
		return fmt.Errorf("pipeline.database_url_env: required")
	}

	if c.Retention.OrderBookWindow <= 0 {
		return fmt.Errorf("retention.orderbook_window: must be positive")
	}
	if c.Retention.ArchiveDir == "" {
		return fmt.Errorf("retention.archive_dir: required")
	}

	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr: required when the cache is enabled")
	}
	if c.Cache.Redis.TTL < 0 {
		return fmt.Errorf("cache.redis.ttl: cannot be negative")
	}

	if _, err := cron.ParseStandard(c.Schedule.Pipeline); err != nil {
		return fmt.Errorf("schedule.pipeline: %w", err)
	}
	if _, err := cron.ParseStandard(c.Schedule.Retention); err != nil {
		return fmt.Errorf("schedule.retention: %w", err)
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// SaveAppConfig writes the configuration as YAML
func SaveAppConfig(config *AppConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomicio.WriteFileAtomic(configPath, data); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}
