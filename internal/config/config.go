package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`
	Secret     string `mapstructure:"secret"`
	ServerName string `mapstructure:"server_name"`
	// AllowPublic disables the private-network source filter.
	AllowPublic bool `mapstructure:"allow_public"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// Backpressure is "drop" or "kick".
	Backpressure string `mapstructure:"backpressure"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LivenessInterval  time.Duration `mapstructure:"liveness_interval"`
	LivenessThreshold time.Duration `mapstructure:"liveness_threshold"`
	GCInterval        time.Duration `mapstructure:"gc_interval"`
	StaleTimeout      time.Duration `mapstructure:"stale_timeout"`

	MaxSessions     int     `mapstructure:"max_sessions"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`

	Discovery Discovery `mapstructure:"discovery"`
}

type Discovery struct {
	// Medium is one of memory, multicast, redis, nats.
	Medium           string        `mapstructure:"medium"`
	MulticastAddr    string        `mapstructure:"multicast_addr"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisChannel     string        `mapstructure:"redis_channel"`
	NatsURL          string        `mapstructure:"nats_url"`
	NatsSubject      string        `mapstructure:"nats_subject"`
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`
	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	OfferTimeout     time.Duration `mapstructure:"offer_timeout"`
	DeviceName       string        `mapstructure:"device_name"`
	STUNURLs         []string      `mapstructure:"stun_urls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("server_name", "ytm-remote")
	v.SetDefault("allow_public", false)

	v.SetDefault("read_limit", 32768)
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "drop")

	v.SetDefault("heartbeat_interval", "15s")
	v.SetDefault("liveness_interval", "30s")
	v.SetDefault("liveness_threshold", "5m")
	v.SetDefault("gc_interval", "30s")
	v.SetDefault("stale_timeout", "5m")

	v.SetDefault("max_sessions", 1024)
	v.SetDefault("rate_limit_per_sec", 50)
	v.SetDefault("rate_limit_burst", 100)

	v.SetDefault("discovery.medium", "multicast")
	v.SetDefault("discovery.multicast_addr", "239.255.77.77:47474")
	v.SetDefault("discovery.redis_addr", "localhost:6379")
	v.SetDefault("discovery.redis_channel", "ytm-remote.discovery")
	v.SetDefault("discovery.nats_url", "nats://localhost:4222")
	v.SetDefault("discovery.nats_subject", "ytm-remote.discovery")
	v.SetDefault("discovery.announce_interval", "3s")
	v.SetDefault("discovery.scan_interval", "3s")
	v.SetDefault("discovery.offer_timeout", "10s")
	v.SetDefault("discovery.device_name", "")
	v.SetDefault("discovery.stun_urls", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
}

// Load reads config/config.<CONFIG_ENV>.yaml, then YTMR_* environment
// overrides. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		fileName = fmt.Sprintf("%s/config.%s.yaml", strings.TrimRight(dir, "/"), env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("YTMR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	positive := map[string]time.Duration{
		"write_wait":                  c.WriteWait,
		"heartbeat_interval":          c.HeartbeatInterval,
		"liveness_interval":           c.LivenessInterval,
		"liveness_threshold":          c.LivenessThreshold,
		"gc_interval":                 c.GCInterval,
		"stale_timeout":               c.StaleTimeout,
		"discovery.announce_interval": c.Discovery.AnnounceInterval,
		"discovery.scan_interval":     c.Discovery.ScanInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Discovery.OfferTimeout < 0 {
		errs = append(errs, errors.New("discovery.offer_timeout must not be negative"))
	}
	if c.StaleTimeout < c.GCInterval {
		errs = append(errs, errors.New("stale_timeout must not be shorter than gc_interval"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		errs = append(errs, fmt.Errorf("backpressure %q is not drop or kick", c.Backpressure))
	}
	switch c.Discovery.Medium {
	case "memory", "multicast", "redis", "nats":
	default:
		errs = append(errs, fmt.Errorf("discovery.medium %q is not supported", c.Discovery.Medium))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
