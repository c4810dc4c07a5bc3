// Package config loads driver configuration from the process environment,
// with optional YAML overrides, following the precedence defaults -> file ->
// environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the listen socket.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// MudlibConfig points at the game-library source tree.
type MudlibConfig struct {
	Path   string `yaml:"path" env:"MUDLIB_PATH"`
	Master string `yaml:"master" env:"MUDLIB_MASTER"`
}

// LoggingConfig controls driver logging.
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Pretty       bool   `yaml:"pretty" env:"LOG_PRETTY"`
	HTTPRequests bool   `yaml:"http_requests" env:"LOG_HTTP_REQUESTS"`
}

// SandboxConfig controls per-invocation resource caps.
type SandboxConfig struct {
	MemoryMiB int `yaml:"memory_mib" env:"SANDBOX_MEMORY_MIB"`
	TimeoutMs int `yaml:"timeout_ms" env:"SANDBOX_TIMEOUT_MS"`
	PoolSize  int `yaml:"pool_size" env:"SANDBOX_POOL_SIZE"`
}

// SchedulerConfig controls the heartbeat/callout clock.
type SchedulerConfig struct {
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms" env:"SCHEDULER_HEARTBEAT_INTERVAL_MS"`
	AutoSaveIntervalMs  int `yaml:"autosave_interval_ms" env:"SCHEDULER_AUTOSAVE_INTERVAL_MS"`
	// ResetCron is a standard five-field cron expression driving the
	// periodic reset pass (spec section 4.3). Empty disables reset passes.
	ResetCron string `yaml:"reset_cron" env:"SCHEDULER_RESET_CRON"`
}

// AdminConfig controls the admin HTTP surface's authentication and audit
// trail (spec section 8/10).
type AdminConfig struct {
	// Tokens is a comma-separated list of bearer tokens accepted by the
	// admin HTTP surface. Empty disables that surface entirely.
	Tokens string `yaml:"tokens" env:"ADMIN_TOKENS"`
	// AuditLogPath, if set, additionally persists every audit entry as a
	// JSON line appended to this file. Empty keeps the audit log
	// in-memory only.
	AuditLogPath string `yaml:"audit_log_path" env:"ADMIN_AUDIT_LOG_PATH"`
	// AuditRingSize bounds how many recent entries the in-memory audit log
	// retains.
	AuditRingSize int `yaml:"audit_ring_size" env:"ADMIN_AUDIT_RING_SIZE"`
}

// TokenList splits Tokens on commas, trimming whitespace and dropping empty
// entries.
func (c AdminConfig) TokenList() []string {
	if strings.TrimSpace(c.Tokens) == "" {
		return nil
	}
	parts := strings.Split(c.Tokens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PersistenceConfig controls the local file adapter.
type PersistenceConfig struct {
	DataPath string `yaml:"data_path" env:"PERSISTENCE_DATA_PATH"`
	Driver   string `yaml:"driver" env:"PERSISTENCE_DRIVER"`
	DSN      string `yaml:"dsn" env:"PERSISTENCE_DSN"`
}

// DevConfig controls development-time conveniences.
type DevConfig struct {
	Mode      bool `yaml:"mode" env:"DEV_MODE"`
	HotReload bool `yaml:"hot_reload" env:"DEV_HOT_RELOAD"`
}

// IntegrationConfig controls one external-service integration.
type IntegrationConfig struct {
	Enabled         bool   `yaml:"enabled"`
	APIKey          string `yaml:"api_key"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	CacheSize       int    `yaml:"cache_size"`
}

// IntegrationsConfig groups the optional external-service integrations.
type IntegrationsConfig struct {
	AIText  IntegrationConfig `yaml:"ai_text"`
	AIImage IntegrationConfig `yaml:"ai_image"`
	Chat    IntegrationConfig `yaml:"chat"`
	Search  IntegrationConfig `yaml:"search"`
}

// Config is the top-level driver configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Mudlib       MudlibConfig       `yaml:"mudlib"`
	Logging      LoggingConfig      `yaml:"log"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Dev          DevConfig          `yaml:"dev"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Admin        AdminConfig        `yaml:"admin"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 4000},
		Mudlib: MudlibConfig{Path: "./mudlib", Master: "/secure/master"},
		Logging: LoggingConfig{
			Level: "info",
		},
		Sandbox: SandboxConfig{
			MemoryMiB: 128,
			TimeoutMs: 5000,
			PoolSize:  8,
		},
		Scheduler: SchedulerConfig{
			HeartbeatIntervalMs: 2000,
			AutoSaveIntervalMs:  300000,
		},
		Persistence: PersistenceConfig{
			DataPath: "./data",
			Driver:   "file",
		},
		Admin: AdminConfig{
			AuditRingSize: 500,
		},
	}
}

// Load loads configuration from an optional YAML file (CONFIG_FILE env var,
// falling back to configs/config.yaml) and then overlays environment
// variables, matching the defaults -> file -> env precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configured values against the driver's documented
// minimums, returning every violation rather than failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Sandbox.MemoryMiB < 16 {
		errs = append(errs, fmt.Sprintf("sandbox.memoryMiB must be >= 16, got %d", c.Sandbox.MemoryMiB))
	}
	if c.Sandbox.TimeoutMs < 100 {
		errs = append(errs, fmt.Sprintf("sandbox.timeoutMs must be >= 100, got %d", c.Sandbox.TimeoutMs))
	}
	if c.Sandbox.PoolSize < 1 {
		errs = append(errs, fmt.Sprintf("sandbox.poolSize must be >= 1, got %d", c.Sandbox.PoolSize))
	}
	if c.Scheduler.HeartbeatIntervalMs < 100 {
		errs = append(errs, fmt.Sprintf("scheduler.heartbeatIntervalMs must be >= 100, got %d", c.Scheduler.HeartbeatIntervalMs))
	}
	if c.Scheduler.AutoSaveIntervalMs < 0 {
		errs = append(errs, fmt.Sprintf("scheduler.autoSaveIntervalMs must be >= 0, got %d", c.Scheduler.AutoSaveIntervalMs))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be in (0, 65535], got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
