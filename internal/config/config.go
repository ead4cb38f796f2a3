// Package config handles loading and validating Scriptbox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Scriptbox.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Runtime directory root. Default: ~/.scriptbox/workspace. Override: SCRIPTBOX_WORKSPACE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.scriptbox/data. Override: SCRIPTBOX_DATA_DIR env var.
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Workers       WorkersConfig        `json:"workers" yaml:"workers"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data dir)
	Approvals     ApprovalConfig       `json:"approvals" yaml:"approvals"`
	Preflight     *PreflightConfig     `json:"preflight,omitempty" yaml:"preflight,omitempty"`         // nil = no connectivity probe before execution
	Instances     []InstanceConfig     `json:"instances,omitempty" yaml:"instances,omitempty"`         // Statically seeded database instances.
	Notifications *NotificationConfig  `json:"notifications,omitempty" yaml:"notifications,omitempty"` // nil = notifications disabled
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = retention sweeper disabled
	Alerting      *AlertingConfig      `json:"alerting,omitempty" yaml:"alerting,omitempty"`           // nil = reachability watcher disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // Serve-mode listener settings.
}

// EngineConfig bounds script execution.
type EngineConfig struct {
	TimeoutSeconds   int    `json:"timeout_seconds" yaml:"timeout_seconds"`       // Per-execution wall clock. Default: 30.
	MemoryLimitMB    int    `json:"memory_limit_mb" yaml:"memory_limit_mb"`       // Advisory worker heap limit. Default: 128.
	MaxScriptBytes   int    `json:"max_script_bytes" yaml:"max_script_bytes"`     // Reject larger scripts. Default: 1 MiB.
	KillGraceSeconds int    `json:"kill_grace_seconds" yaml:"kill_grace_seconds"` // SIGTERM → SIGKILL window. Default: 5.
	Mode             string `json:"mode" yaml:"mode"`                             // "development" (default) or "production".
}

// Timeout returns the execution timeout with a default of 30s.
func (e EngineConfig) Timeout() time.Duration {
	if e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// MemoryLimit returns the advisory memory limit with a default of 128 MB.
func (e EngineConfig) MemoryLimit() int {
	if e.MemoryLimitMB > 0 {
		return e.MemoryLimitMB
	}
	return 128
}

// MaxScript returns the script size ceiling with a default of 1 MiB.
func (e EngineConfig) MaxScript() int {
	if e.MaxScriptBytes > 0 {
		return e.MaxScriptBytes
	}
	return 1 << 20
}

// KillGrace returns the TERM-to-KILL grace window with a default of 5s.
func (e EngineConfig) KillGrace() time.Duration {
	if e.KillGraceSeconds > 0 {
		return time.Duration(e.KillGraceSeconds) * time.Second
	}
	return 5 * time.Second
}

// ExecMode returns the artifact resolution mode, defaulting to "development".
func (e EngineConfig) ExecMode() string {
	if e.Mode != "" {
		return e.Mode
	}
	return "development"
}

// WorkersConfig locates worker artifacts and runtime binaries.
type WorkersConfig struct {
	Dir           string `json:"dir,omitempty" yaml:"dir,omitempty"`                       // Worker source root. Default: <workspace>/workers.
	ProductionDir string `json:"production_dir,omitempty" yaml:"production_dir,omitempty"` // Deployed bundle root. Default: <workspace>/production.
	NodeBin       string `json:"node_bin,omitempty" yaml:"node_bin,omitempty"`             // Default: "node".
	PythonBin     string `json:"python_bin,omitempty" yaml:"python_bin,omitempty"`         // Default: "python3".
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: SCRIPTBOX_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ApprovalConfig configures the script review workflow.
type ApprovalConfig struct {
	TTLHours               int `json:"ttl_hours" yaml:"ttl_hours"`                               // How long a pending request may wait for review. Default: 72.
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes"` // Expiry sweep cadence in serve mode. Default: 10.
	SubmitsPerMinute       int `json:"submits_per_minute,omitempty" yaml:"submits_per_minute,omitempty"` // Per-submitter queue guard. 0 = unlimited.
	SubmitBurst            int `json:"submit_burst,omitempty" yaml:"submit_burst,omitempty"`             // Burst allowance. 0 = SubmitsPerMinute.
}

// TTL returns the pending-request lifetime with a default of 72h.
func (a ApprovalConfig) TTL() time.Duration {
	if a.TTLHours > 0 {
		return time.Duration(a.TTLHours) * time.Hour
	}
	return 72 * time.Hour
}

// CleanupInterval returns the expiry sweep cadence with a default of 10m.
func (a ApprovalConfig) CleanupInterval() time.Duration {
	if a.CleanupIntervalMinutes > 0 {
		return time.Duration(a.CleanupIntervalMinutes) * time.Minute
	}
	return 10 * time.Minute
}

// PreflightConfig configures instance connectivity probes.
// When nil, no probe runs before execution.
type PreflightConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-probe timeout. Default: 5.
}

// ProbeTimeout returns the per-probe timeout with a default of 5s.
func (p *PreflightConfig) ProbeTimeout() time.Duration {
	if p != nil && p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// InstanceConfig is a statically configured database instance.
// Only the env var prefix is stored here; credential material stays in the
// environment and is resolved by the worker at execution time.
type InstanceConfig struct {
	Name                 string `json:"name" yaml:"name"`
	Kind                 string `json:"kind" yaml:"kind"` // "postgresql" or "mongodb".
	Host                 string `json:"host,omitempty" yaml:"host,omitempty"`
	Port                 int    `json:"port,omitempty" yaml:"port,omitempty"`
	User                 string `json:"user,omitempty" yaml:"user,omitempty"`
	URI                  string `json:"uri,omitempty" yaml:"uri,omitempty"`
	CredentialsEnvPrefix string `json:"credentials_env_prefix" yaml:"credentials_env_prefix"`
	Disabled             bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// NotificationConfig configures execution outcome notifications.
// When nil, no notifications are sent.
type NotificationConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Slack   *SlackConfig   `json:"slack,omitempty" yaml:"slack,omitempty"`     // nil = Slack sender disabled.
	Webhook *WebhookConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"` // nil = webhook sender disabled.
}

// SlackConfig configures the Slack Web API sender.
// Bot token can be set here or via SLACK_BOT_TOKEN env var.
// Environment variable takes precedence over the config value.
type SlackConfig struct {
	BotToken string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"` // Override: SLACK_BOT_TOKEN env var.
	Channel  string `json:"channel" yaml:"channel"`                         // Channel ID or name to post to.
}

// WebhookConfig configures the generic webhook sender.
type WebhookConfig struct {
	URL            string `json:"url" yaml:"url"`
	BearerToken    string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"` // Override: SCRIPTBOX_WEBHOOK_TOKEN env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`               // Default: 10.
}

// WebhookTimeout returns the webhook POST timeout with a default of 10s.
func (w *WebhookConfig) WebhookTimeout() time.Duration {
	if w != nil && w.TimeoutSeconds > 0 {
		return time.Duration(w.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// RetentionConfig configures the periodic cleanup sweeper.
// When nil, resolved requests and orphaned scratch dirs are kept indefinitely.
type RetentionConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Schedule   string `json:"schedule" yaml:"schedule"`         // Cron expression. Default: "0 3 * * *" (daily 03:00).
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"` // Purge resolved requests older than this. Default: 30.
}

// CronSchedule returns the sweep schedule with a default of daily 03:00.
func (r *RetentionConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "0 3 * * *"
}

// MaxAge returns the resolved-request retention window with a default of 30 days.
func (r *RetentionConfig) MaxAge() time.Duration {
	if r != nil && r.MaxAgeDays > 0 {
		return time.Duration(r.MaxAgeDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// AlertingConfig configures the instance reachability watcher.
// The watcher runs in serve mode only and announces transitions through
// the notification dispatcher, so it needs notifications to be enabled.
type AlertingConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Probe cadence. Default: 60.
	CooldownSeconds     int  `json:"cooldown_seconds" yaml:"cooldown_seconds"`           // Re-alert suppression window. Default: 900.
	MaxConcurrentProbes int  `json:"max_concurrent_probes" yaml:"max_concurrent_probes"` // Default: 4.
}

// PollInterval returns the probe cadence with a default of 60s.
func (a *AlertingConfig) PollInterval() time.Duration {
	if a != nil && a.PollIntervalSeconds > 0 {
		return time.Duration(a.PollIntervalSeconds) * time.Second
	}
	return 60 * time.Second
}

// Cooldown returns the re-alert suppression window with a default of 15m.
func (a *AlertingConfig) Cooldown() time.Duration {
	if a != nil && a.CooldownSeconds > 0 {
		return time.Duration(a.CooldownSeconds) * time.Second
	}
	return 15 * time.Minute
}

// MaxConcurrent returns the probe parallelism bound with a default of 4.
func (a *AlertingConfig) MaxConcurrent() int {
	if a != nil && a.MaxConcurrentProbes > 0 {
		return a.MaxConcurrentProbes
	}
	return 4
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "scriptbox"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeStorage bool `json:"include_storage" yaml:"include_storage"`
	IncludeWorkers bool `json:"include_workers" yaml:"include_workers"`
}

// AnomalyConfig configures threshold-based failure rate detection.
type AnomalyConfig struct {
	Enabled              bool    `json:"enabled" yaml:"enabled"`
	FailureRateThreshold float64 `json:"failure_rate_threshold" yaml:"failure_rate_threshold"` // e.g. 0.5 = 50% failures
	WindowSeconds        int     `json:"window_seconds" yaml:"window_seconds"`                 // Sliding window. Default: 300
}

// ServerConfig configures the serve-mode HTTP listener (metrics + health).
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":9090".
}

// Addr returns the listen address with a default of ":9090".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":9090"
}

// DefaultConfigPath returns the default config file path (~/.scriptbox/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/scriptbox.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".scriptbox", "config.yaml")
}

// Default returns a usable zero configuration: SQLite storage under the data
// directory, no seeded instances, all optional subsystems off.
func Default() *Config {
	return &Config{}
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Tokens and DSNs can be set in the config file or overridden by environment
// variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment overrides. Env vars take precedence
// over config values.
func applyEnvOverrides(cfg *Config) {
	if envWS := os.Getenv("SCRIPTBOX_WORKSPACE"); envWS != "" {
		cfg.Workspace = envWS
	}
	if envDD := os.Getenv("SCRIPTBOX_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envDSN := os.Getenv("SCRIPTBOX_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
	if envTok := os.Getenv("SLACK_BOT_TOKEN"); envTok != "" {
		if cfg.Notifications != nil && cfg.Notifications.Slack != nil {
			cfg.Notifications.Slack.BotToken = envTok
		}
	}
	if envTok := os.Getenv("SCRIPTBOX_WEBHOOK_TOKEN"); envTok != "" {
		if cfg.Notifications != nil && cfg.Notifications.Webhook != nil {
			cfg.Notifications.Webhook.BearerToken = envTok
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedWorkspace returns the workspace root, resolving ~ if needed.
func (c *Config) ResolvedWorkspace() string {
	if c.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "workspace"
		}
		return filepath.Join(home, ".scriptbox", "workspace")
	}
	resolved, err := resolvePath(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return resolved
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".scriptbox", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "scriptbox.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	switch c.Engine.ExecMode() {
	case "development", "production":
	default:
		return fmt.Errorf("engine.mode %q is not supported (use development or production)", c.Engine.Mode)
	}
	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("engine.timeout_seconds must not be negative")
	}
	if c.Engine.MemoryLimitMB < 0 {
		return fmt.Errorf("engine.memory_limit_mb must not be negative")
	}
	if c.Engine.MaxScriptBytes < 0 {
		return fmt.Errorf("engine.max_script_bytes must not be negative")
	}

	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set SCRIPTBOX_DB_DSN env var)")
		}
	}

	// Instance seed validation.
	names := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		name := strings.TrimSpace(inst.Name)
		if name == "" {
			return fmt.Errorf("instances[%d].name is required", i)
		}
		if names[name] {
			return fmt.Errorf("instances[%d]: duplicate instance name %q", i, name)
		}
		names[name] = true
		switch inst.Kind {
		case "postgresql":
			if inst.Host == "" {
				return fmt.Errorf("instances[%d] (%q): host is required for postgresql", i, name)
			}
		case "mongodb":
			if inst.URI == "" {
				return fmt.Errorf("instances[%d] (%q): uri is required for mongodb", i, name)
			}
		default:
			return fmt.Errorf("instances[%d] (%q): kind must be postgresql or mongodb", i, name)
		}
	}

	// Notifications require at least one configured sender.
	if c.Notifications != nil && c.Notifications.Enabled {
		if c.Notifications.Slack == nil && c.Notifications.Webhook == nil {
			return fmt.Errorf("notifications.enabled requires a slack or webhook section")
		}
		if c.Notifications.Slack != nil && c.Notifications.Slack.Channel == "" {
			return fmt.Errorf("notifications.slack.channel is required")
		}
		if c.Notifications.Webhook != nil && c.Notifications.Webhook.URL == "" {
			return fmt.Errorf("notifications.webhook.url is required")
		}
	}

	if c.Retention != nil && c.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must not be negative")
	}

	return nil
}
