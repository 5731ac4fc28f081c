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
)

// Config captures the settings required to boot the sentinel engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Response   ResponseConfig   `yaml:"response"`
	Intel      IntelConfig      `yaml:"intel"`
	Cache      CacheConfig      `yaml:"cache"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Synthetic  SyntheticConfig  `yaml:"synthetic"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MonitoringConfig drives ingestion, baselines and scoring. Hot-reloadable.
type MonitoringConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	SamplingInterval        time.Duration `yaml:"samplingInterval"`
	BaselineWindowDays      int           `yaml:"baselineWindowDays"`
	AnomalyThreshold        float64       `yaml:"anomalyThreshold"`
	BufferSize              int           `yaml:"bufferSize"`
	BaselineRefreshInterval time.Duration `yaml:"baselineRefreshInterval"`
	CorrelationWindow       time.Duration `yaml:"correlationWindow"`
}

// ResponseConfig drives the automated response policy. Hot-reloadable.
type ResponseConfig struct {
	AutoResponseEnabled bool          `yaml:"autoResponseEnabled"`
	CriticalThreshold   float64       `yaml:"criticalThreshold"`
	HighThreshold       float64       `yaml:"highThreshold"`
	MediumThreshold     float64       `yaml:"mediumThreshold"`
	MaxActionsPerMinute int           `yaml:"maxActionsPerMinute"`
	RequireApprovalFor  []string      `yaml:"requireApprovalFor"`
	RateLimitDuration   time.Duration `yaml:"rateLimitDuration"`
}

// IntelConfig points at the threat-intelligence feed file.
type IntelConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed sharing of baseline profiles.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	BaselineTTL  time.Duration `yaml:"baselineTTL"`
}

// KafkaConfig configures the telemetry consumer and the durable event log.
type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TelemetryTopic string   `yaml:"telemetryTopic"`
	EventsTopic    string   `yaml:"eventsTopic"`
	GroupID        string   `yaml:"groupId"`
}

// NotifierConfig configures the webhook used for alerts, escalations and MFA challenges.
type NotifierConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SyntheticConfig controls the built-in telemetry generator.
type SyntheticConfig struct {
	Enabled bool   `yaml:"enabled"`
	Seed    uint64 `yaml:"seed"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			AllowedOrigins:  []string{"*"},
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Monitoring: MonitoringConfig{
			Enabled:                 true,
			SamplingInterval:        5 * time.Second,
			BaselineWindowDays:      7,
			AnomalyThreshold:        0.6,
			BufferSize:              1000,
			BaselineRefreshInterval: 5 * time.Minute,
			CorrelationWindow:       10 * time.Minute,
		},
		Response: ResponseConfig{
			AutoResponseEnabled: true,
			CriticalThreshold:   0.85,
			HighThreshold:       0.80,
			MediumThreshold:     0.60,
			MaxActionsPerMinute: 10,
			RequireApprovalFor:  []string{"suspend_user", "block_ip"},
			RateLimitDuration:   5 * time.Minute,
		},
		Intel: IntelConfig{Path: "configs/intel/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			KeyPrefix:    "sentinel:",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			BaselineTTL:  24 * time.Hour,
		},
		Kafka: KafkaConfig{
			TelemetryTopic: "sentinel.telemetry",
			EventsTopic:    "sentinel.events",
			GroupID:        "mirador-sentinel",
		},
		Notifier:  NotifierConfig{Timeout: 5 * time.Second},
		Synthetic: SyntheticConfig{Enabled: false, Seed: 1},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	m, r := c.Monitoring, c.Response
	switch {
	case m.SamplingInterval <= 0:
		return errors.New("monitoring.samplingInterval must be positive")
	case m.BaselineWindowDays <= 0:
		return errors.New("monitoring.baselineWindowDays must be positive")
	case m.AnomalyThreshold < 0 || m.AnomalyThreshold > 1:
		return fmt.Errorf("monitoring.anomalyThreshold %.2f outside [0,1]", m.AnomalyThreshold)
	case m.BufferSize <= 0:
		return errors.New("monitoring.bufferSize must be positive")
	case m.CorrelationWindow <= 0:
		return errors.New("monitoring.correlationWindow must be positive")
	case r.MaxActionsPerMinute < 0:
		return errors.New("response.maxActionsPerMinute must not be negative")
	case !(r.MediumThreshold <= r.HighThreshold && r.HighThreshold <= r.CriticalThreshold):
		return fmt.Errorf("response thresholds must satisfy medium <= high <= critical (%.2f, %.2f, %.2f)",
			r.MediumThreshold, r.HighThreshold, r.CriticalThreshold)
	case r.RateLimitDuration <= 0:
		return errors.New("response.rateLimitDuration must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers required when kafka is enabled")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache.addr required when cache is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MONITORING_ENABLED"); v != "" {
		cfg.Monitoring.Enabled = isTrue(v)
	}
	durationEnv("MIRADOR_SENTINEL_SAMPLING_INTERVAL", &cfg.Monitoring.SamplingInterval)
	durationEnv("MIRADOR_SENTINEL_BASELINE_REFRESH_INTERVAL", &cfg.Monitoring.BaselineRefreshInterval)
	durationEnv("MIRADOR_SENTINEL_CORRELATION_WINDOW", &cfg.Monitoring.CorrelationWindow)
	if v := os.Getenv("MIRADOR_SENTINEL_BASELINE_WINDOW_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Monitoring.BaselineWindowDays = days
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Monitoring.AnomalyThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitoring.BufferSize = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_AUTO_RESPONSE"); v != "" {
		cfg.Response.AutoResponseEnabled = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MAX_ACTIONS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Response.MaxActionsPerMinute = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_REQUIRE_APPROVAL_FOR"); v != "" {
		cfg.Response.RequireApprovalFor = splitList(v)
	}
	durationEnv("MIRADOR_SENTINEL_RATE_LIMIT_DURATION", &cfg.Response.RateLimitDuration)
	if v := os.Getenv("MIRADOR_SENTINEL_INTEL_PATH"); v != "" {
		cfg.Intel.Path = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
	durationEnv("MIRADOR_SENTINEL_CACHE_BASELINE_TTL", &cfg.Cache.BaselineTTL)
	if v := os.Getenv("MIRADOR_SENTINEL_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KAFKA_TELEMETRY_TOPIC"); v != "" {
		cfg.Kafka.TelemetryTopic = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KAFKA_EVENTS_TOPIC"); v != "" {
		cfg.Kafka.EventsTopic = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_WEBHOOK_URL"); v != "" {
		cfg.Notifier.WebhookURL = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_SYNTHETIC"); v != "" {
		cfg.Synthetic.Enabled = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_SYNTHETIC_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Synthetic.Seed = seed
		}
	}
}

func durationEnv(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
