package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-timers/internal/engine"
	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

// Config captures the settings required to boot the timer reconciler.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Clients    ClientsConfig      `yaml:"clients"`
	Policy     models.Policy      `yaml:"policy"`
	Labels     engine.LabelConfig `yaml:"labels"`
	TimersView string             `yaml:"timersView"`
	Scheduler  SchedulerConfig    `yaml:"scheduler"`
	Logging    LoggingConfig      `yaml:"logging"`
	Rules      RulesConfig        `yaml:"rules"`
	Cache      CacheConfig        `yaml:"cache"`
	History    HistoryConfig      `yaml:"history"`
	Archive    ArchiveConfig      `yaml:"archive"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups remote integrations.
type ClientsConfig struct {
	Telemetry TelemetryClientConfig `yaml:"telemetry"`
}

// TelemetryClientConfig configures access to the telemetry API.
type TelemetryClientConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	ServicePath string        `yaml:"servicePath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SchedulerConfig controls periodic reconciliation.
type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Targets     []Target      `yaml:"targets"`
}

// Target is one monitored (service, view) pair.
type Target struct {
	ServiceID string `yaml:"serviceID"`
	ViewID    string `yaml:"viewID"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls quality-gate loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Valkey-backed caching of lookups and the cycle lease.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	LeaseTTL     time.Duration `yaml:"leaseTTL"`
	ViewTTL      time.Duration `yaml:"viewTTL"`
	RulesTTL     time.Duration `yaml:"rulesTTL"`
}

// HistoryConfig selects the cycle history database.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ArchiveConfig controls report archival to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"pathStyle"`
	Prefix    string `yaml:"prefix"`
}

// Load initialises Config from a YAML file and optional environment overrides,
// then validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_TIMERS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, utils.ConfigurationError("load config", fmt.Sprintf("config file %s not found", path), err)
			}
			return nil, utils.ConfigurationError("load config", "read config", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, utils.ConfigurationError("load config", "parse config", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Telemetry: TelemetryClientConfig{
				ServicePath: "/api/v1/services/{service}",
				Timeout:     10 * time.Second,
			},
		},
		Policy:     models.DefaultPolicy(),
		Labels:     engine.DefaultLabelConfig(),
		TimersView: engine.DefaultTimersView,
		Scheduler: SchedulerConfig{
			Enabled:     false,
			Interval:    15 * time.Minute,
			Concurrency: 4,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/gates/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			LeaseTTL:     10 * time.Minute,
			ViewTTL:      10 * time.Minute,
			RulesTTL:     5 * time.Minute,
		},
		History: HistoryConfig{Driver: "sqlite", DSN: "data/mirador-timers.db"},
		Archive: ArchiveConfig{Region: "us-east-1", Prefix: "cycles"},
	}
}

// Validate reports every invalid setting as a single configuration error.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Address == "" {
		errs = append(errs, errors.New("'server.address' is required"))
	}
	if c.Clients.Telemetry.BaseURL == "" {
		errs = append(errs, errors.New("'clients.telemetry.baseURL' is required"))
	}
	if c.TimersView == "" {
		errs = append(errs, errors.New("'timersView' is required"))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("'scheduler.interval' must be positive"))
	}
	for i, t := range c.Scheduler.Targets {
		if t.ServiceID == "" || t.ViewID == "" {
			errs = append(errs, fmt.Errorf("'scheduler.targets[%d]' needs serviceID and viewID", i))
		}
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, errors.New("'cache.addr' is required when the cache is enabled"))
	}
	switch strings.ToLower(c.History.Driver) {
	case "", "sqlite", "postgres", "pgx", "none":
	default:
		errs = append(errs, fmt.Errorf("'history.driver' %q is not supported", c.History.Driver))
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("'archive.bucket' is required when archiving is enabled"))
	}

	if err := errors.Join(errs...); err != nil {
		return utils.ConfigurationError("validate config", "invalid configuration", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_TIMERS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_TELEMETRY_BASE_URL"); v != "" {
		cfg.Clients.Telemetry.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_TELEMETRY_API_KEY"); v != "" {
		cfg.Clients.Telemetry.APIKey = v
	}
	if d, ok := envDuration("MIRADOR_TIMERS_TELEMETRY_TIMEOUT"); ok {
		cfg.Clients.Telemetry.Timeout = d
	}
	if v := os.Getenv("MIRADOR_TIMERS_TIMERS_VIEW"); v != "" {
		cfg.TimersView = v
	}
	if b, ok := envBool("MIRADOR_TIMERS_TIMER_ALWAYS_ON"); ok {
		cfg.Policy.TimerAlwaysOn = b
	}
	if b, ok := envBool("MIRADOR_TIMERS_MONITOR_OK_TRANSACTIONS"); ok {
		cfg.Policy.MonitorOKTransactions = b
	}
	if b, ok := envBool("MIRADOR_TIMERS_SCHEDULER_ENABLED"); ok {
		cfg.Scheduler.Enabled = b
	}
	if d, ok := envDuration("MIRADOR_TIMERS_SCHEDULER_INTERVAL"); ok {
		cfg.Scheduler.Interval = d
	}
	if v := os.Getenv("MIRADOR_TIMERS_SCHEDULER_TARGETS"); v != "" {
		cfg.Scheduler.Targets = parseTargets(v)
	}
	if v := os.Getenv("MIRADOR_TIMERS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_TIMERS_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if b, ok := envBool("MIRADOR_TIMERS_CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = b
	}
	if v := os.Getenv("MIRADOR_TIMERS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if b, ok := envBool("MIRADOR_TIMERS_CACHE_TLS"); ok {
		cfg.Cache.TLS = b
	}
	if d, ok := envDuration("MIRADOR_TIMERS_CACHE_LEASE_TTL"); ok {
		cfg.Cache.LeaseTTL = d
	}
	if v := os.Getenv("MIRADOR_TIMERS_HISTORY_DRIVER"); v != "" {
		cfg.History.Driver = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}
	if b, ok := envBool("MIRADOR_TIMERS_ARCHIVE_ENABLED"); ok {
		cfg.Archive.Enabled = b
	}
	if v := os.Getenv("MIRADOR_TIMERS_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("MIRADOR_TIMERS_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if b, ok := envBool("MIRADOR_TIMERS_ARCHIVE_PATH_STYLE"); ok {
		cfg.Archive.PathStyle = b
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return strings.EqualFold(v, "true") || v == "1", true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// parseTargets reads "service:view,service:view".
func parseTargets(v string) []Target {
	var targets []Target
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		svc, view, _ := strings.Cut(part, ":")
		targets = append(targets, Target{ServiceID: strings.TrimSpace(svc), ViewID: strings.TrimSpace(view)})
	}
	return targets
}
