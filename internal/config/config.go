package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/rezaab69/rathole-management/internal/logger"
	"github.com/rezaab69/rathole-management/internal/store"
	"github.com/rezaab69/rathole-management/internal/supervisor"
	tlsx "github.com/rezaab69/rathole-management/internal/tls"
)

// Config is the top-level TOML structure for the daemon.
type Config struct {
	// Listen is the HTTP API listen address.
	Listen string `toml:"listen" mapstructure:"listen"`
	// BasePath prefixes every API route.
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	// ConfigDir holds the rendered engine config documents.
	ConfigDir string `toml:"config_dir" mapstructure:"config_dir"`

	Engine    EngineConfig    `toml:"engine" mapstructure:"engine"`
	Store     store.Config    `toml:"store" mapstructure:"store"`
	Auth      AuthConfig      `toml:"auth" mapstructure:"auth"`
	TLS       tlsx.Config     `toml:"tls" mapstructure:"tls"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Reconcile ReconcileConfig `toml:"reconcile" mapstructure:"reconcile"`
}

// EngineConfig parameterizes the tunnel engine processes.
type EngineConfig struct {
	Binary            string        `toml:"binary" mapstructure:"binary"`
	ServerListen      string        `toml:"server_listen" mapstructure:"server_listen"`
	HeartbeatInterval int           `toml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	LogLevel          string        `toml:"log_level" mapstructure:"log_level"`
	ClientStopTimeout time.Duration `toml:"client_stop_timeout" mapstructure:"client_stop_timeout"`
	ServerStopTimeout time.Duration `toml:"server_stop_timeout" mapstructure:"server_stop_timeout"`
	// Env holds extra "K=V" pairs for every spawned engine. ${VAR}
	// references resolve against the merged process environment.
	Env []string `toml:"env" mapstructure:"env"`
}

type AuthConfig struct {
	Enabled           bool          `toml:"enabled" mapstructure:"enabled"`
	JWTSecret         string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL          time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
	BootstrapUser     string        `toml:"bootstrap_user" mapstructure:"bootstrap_user"`
	BootstrapPassword string        `toml:"bootstrap_password" mapstructure:"bootstrap_password"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// HistoryConfig selects the lifecycle event sink by DSN. Empty disables it.
// Recognized schemes: sqlite://, postgres://, clickhouse://, opensearch://;
// a bare path means sqlite.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ReconcileConfig controls how drift between recorded status and the live
// process table is repaired. Cron, when set, replaces the fixed interval
// with a cron schedule ("*/5 * * * *" or "@every 30s").
type ReconcileConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Cron     string        `toml:"cron" mapstructure:"cron"`
}

// Default returns the configuration used when no file (or a partial file)
// is given.
func Default() Config {
	return Config{
		Listen:    ":8080",
		BasePath:  "/api",
		ConfigDir: "rathole_configs",
		Engine: EngineConfig{
			Binary:            "rathole",
			ServerListen:      "0.0.0.0:2333",
			HeartbeatInterval: 30,
			LogLevel:          "info",
			ClientStopTimeout: 3 * time.Second,
			ServerStopTimeout: 5 * time.Second,
		},
		Store: store.Config{Type: "sqlite", Path: "rathole-mgmt.db"},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 24 * time.Hour,
		},
		Log:       logger.Config{Level: "info"},
		Metrics:   MetricsConfig{Enabled: false, Listen: ":9091"},
		Reconcile: ReconcileConfig{Interval: 10 * time.Second},
	}
}

// Load reads a TOML file over the defaults. Unknown keys are ignored;
// missing keys keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects combinations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.TLS.Enabled && c.TLS.CertFile == "" && c.TLS.Dir == "" {
		return fmt.Errorf("tls needs cert_file and key_file, or dir")
	}
	if c.Engine.HeartbeatInterval < 0 {
		return fmt.Errorf("engine.heartbeat_interval cannot be negative")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("reconcile.interval cannot be negative")
	}
	return nil
}

// SupervisorOptions maps the engine and log sections onto supervisor
// options. Event sinks are attached by the caller once the history DSN
// has been dialed.
func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		Binary:            c.Engine.Binary,
		Dir:               c.ConfigDir,
		LogLevel:          c.Engine.LogLevel,
		ExtraEnv:          c.Engine.Env,
		ListenAddr:        c.Engine.ServerListen,
		HeartbeatSecs:     c.Engine.HeartbeatInterval,
		ClientStopTimeout: c.Engine.ClientStopTimeout,
		ServerStopTimeout: c.Engine.ServerStopTimeout,
		EngineLogs:        c.Log,
	}
}
