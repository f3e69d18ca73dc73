// Package config loads and validates frontier configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-frontier/internal/profile"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Frontier  FrontierConfig            `mapstructure:"frontier"`
	Stacker   StackerConfig             `mapstructure:"stacker"`
	Latency   LatencyConfig             `mapstructure:"latency"`
	Robots    RobotsConfig              `mapstructure:"robots"`
	Blacklist BlacklistConfig           `mapstructure:"blacklist"`
	DB        DBConfig                  `mapstructure:"db"`
	GeoIP     GeoIPConfig               `mapstructure:"geoip"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler"`
	Profiles  map[string]profile.Config `mapstructure:"profiles"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FrontierConfig locates and tunes the persistent host queues.
type FrontierConfig struct {
	QueuesDir              string        `mapstructure:"queues_dir"`
	OnDemandThresholdBytes int64         `mapstructure:"on_demand_threshold_bytes"`
	OpenRetries            int           `mapstructure:"open_retries"`
	RemoveBudget           time.Duration `mapstructure:"remove_budget"`
}

// StackerConfig governs the acceptance pipeline.
type StackerConfig struct {
	PeerHash              string        `mapstructure:"peer_hash"`
	QueueSize             int           `mapstructure:"queue_size"`
	DrainTimeout          time.Duration `mapstructure:"drain_timeout"`
	AcceptLocal           bool          `mapstructure:"accept_local"`
	AcceptGlobal          bool          `mapstructure:"accept_global"`
	GlobalEligible        bool          `mapstructure:"global_eligible"`
	UnparseableExtensions []string      `mapstructure:"unparseable_extensions"`
	FTPMaxEntries         int           `mapstructure:"ftp_max_entries"`
	FTPTimeout            time.Duration `mapstructure:"ftp_timeout"`
	RobotsPreloads        int           `mapstructure:"robots_preloads"`
}

// LatencyConfig bounds per-host politeness delays.
type LatencyConfig struct {
	MinimumLocalDelta  time.Duration `mapstructure:"minimum_local_delta"`
	MinimumGlobalDelta time.Duration `mapstructure:"minimum_global_delta"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	UserAgent string        `mapstructure:"user_agent"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// BlacklistConfig lists blocked hosts and URL expressions.
type BlacklistConfig struct {
	Hosts       []string `mapstructure:"hosts"`
	URLPatterns []string `mapstructure:"url_patterns"`
}

// DBConfig controls access to the relational database. An empty DSN selects the
// in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ErrorTable      string        `mapstructure:"error_table"`
	IndexTable      string        `mapstructure:"index_table"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// GeoIPConfig points at a MaxMind database. Country filters are disabled without one.
type GeoIPConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// SchedulerConfig governs the fetch workers.
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Workers        int           `mapstructure:"workers"`
	IdleSleep      time.Duration `mapstructure:"idle_sleep"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// Load builds a Config from disk/environment. With an empty path the file
// "frontier.yaml" is searched in the working directory and /etc/crawl-frontier.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("frontier")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crawl-frontier/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("frontier.queues_dir", "data/queues")
	v.SetDefault("frontier.on_demand_threshold_bytes", 64*1024)
	v.SetDefault("frontier.open_retries", 2)
	v.SetDefault("frontier.remove_budget", "10s")
	v.SetDefault("stacker.peer_hash", "localpeer000")
	v.SetDefault("stacker.queue_size", 1024)
	v.SetDefault("stacker.drain_timeout", "5s")
	v.SetDefault("stacker.accept_local", true)
	v.SetDefault("stacker.accept_global", true)
	v.SetDefault("stacker.global_eligible", false)
	v.SetDefault("stacker.unparseable_extensions", []string{
		"7z", "bin", "dmg", "exe", "gz", "iso", "jar", "mov", "mp3", "mp4", "rar", "tar", "tgz", "zip",
	})
	v.SetDefault("stacker.ftp_max_entries", 10000)
	v.SetDefault("stacker.ftp_timeout", "30s")
	v.SetDefault("stacker.robots_preloads", 8)
	v.SetDefault("latency.minimum_local_delta", "0s")
	v.SetDefault("latency.minimum_global_delta", "500ms")
	v.SetDefault("latency.max_delay", "1m")
	v.SetDefault("robots.enabled", true)
	v.SetDefault("robots.user_agent", "crawl-frontier/0.1")
	v.SetDefault("robots.cache_ttl", "1h")
	v.SetDefault("robots.timeout", "10s")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.error_table", "crawl_errors")
	v.SetDefault("db.index_table", "indexed_documents")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.idle_sleep", "500ms")
	v.SetDefault("scheduler.request_timeout", "15s")
	v.SetDefault("scheduler.user_agent", "crawl-frontier/0.1")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Frontier.QueuesDir == "" {
		return fmt.Errorf("frontier.queues_dir is required")
	}
	if c.Frontier.OpenRetries < 0 {
		return fmt.Errorf("frontier.open_retries must be >= 0")
	}
	if c.Stacker.PeerHash == "" {
		return fmt.Errorf("stacker.peer_hash is required")
	}
	if c.Stacker.QueueSize <= 0 {
		return fmt.Errorf("stacker.queue_size must be > 0")
	}
	if !c.Stacker.AcceptLocal && !c.Stacker.AcceptGlobal {
		return fmt.Errorf("stacker must accept local or global hosts")
	}
	if c.Latency.MaxDelay <= 0 {
		return fmt.Errorf("latency.max_delay must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0 when the scheduler is enabled")
	}
	for key, p := range c.Profiles {
		if p.Depth < 0 {
			return fmt.Errorf("profiles.%s.depth must be >= 0", key)
		}
	}
	return nil
}

// ProfileConfigs returns the configured crawl profiles sorted by key, with the key
// used as name when none is given.
func (c Config) ProfileConfigs() []profile.Config {
	keys := make([]string, 0, len(c.Profiles))
	for key := range c.Profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]profile.Config, 0, len(keys))
	for _, key := range keys {
		p := c.Profiles[key]
		if p.Name == "" {
			p.Name = key
		}
		out = append(out, p)
	}
	return out
}
