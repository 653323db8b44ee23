package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Upstream routing modes.
const (
	ModeAuto = "auto"
	ModeLive = "live"
	ModeMock = "mock"
)

const maxBatchConcurrency = 64

// DefaultRadarURL is the Cloudflare Radar layer 7 top attacks endpoint.
const DefaultRadarURL = "https://api.cloudflare.com/client/v4/radar/attacks/layer7/top/attacks"

// Config holds the full application configuration.
type Config struct {
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	Simulator SimulatorConfig `yaml:"simulator" mapstructure:"simulator"`
	Proxy     ProxyConfig     `yaml:"proxy" mapstructure:"proxy"`
	Radar     RadarConfig     `yaml:"radar" mapstructure:"radar"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// UpstreamConfig configures the phishing analysis backend.
type UpstreamConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-request timeout.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSecs) * time.Second
}

// UseSimulator reports whether requests are answered by the simulator.
func (u UpstreamConfig) UseSimulator() bool {
	return u.Mode == ModeMock || (u.Mode == ModeAuto && u.BaseURL == "")
}

// SimulatorConfig configures the simulated latency window.
type SimulatorConfig struct {
	MinDelayMS int `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMS int `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// ProxyConfig configures the pass-through proxy.
type ProxyConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Prefix    string  `yaml:"prefix" mapstructure:"prefix"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// ProxyTarget returns the proxy base, falling back to the upstream base.
func (c *Config) ProxyTarget() string {
	if c.Proxy.BaseURL != "" {
		return c.Proxy.BaseURL
	}
	return c.Upstream.BaseURL
}

// RadarConfig holds Cloudflare Radar API settings.
type RadarConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	DateRange string `yaml:"date_range" mapstructure:"date_range"`
	Limit     int    `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path looks
// for an optional config.yaml in the working directory; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("PHISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy deployment variables
	if err := v.BindEnv("upstream.base_url", "PHISH_UPSTREAM_BASE_URL", "PHISHING_API_BASE_URL", "API_BASE_URL"); err != nil {
		return nil, eris.Wrap(err, "config: bind upstream env")
	}
	if err := v.BindEnv("radar.token", "PHISH_RADAR_TOKEN", "CLOUDFLARE_API_TOKEN"); err != nil {
		return nil, eris.Wrap(err, "config: bind radar env")
	}

	// Defaults
	v.SetDefault("upstream.mode", ModeAuto)
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout_secs", 30)
	v.SetDefault("simulator.min_delay_ms", 700)
	v.SetDefault("simulator.max_delay_ms", 1200)
	v.SetDefault("proxy.base_url", "")
	v.SetDefault("proxy.prefix", "/api/proxy")
	v.SetDefault("proxy.rate_limit", 0)
	v.SetDefault("proxy.burst", 10)
	v.SetDefault("radar.base_url", DefaultRadarURL)
	v.SetDefault("radar.date_range", "30m")
	v.SetDefault("radar.limit", 12)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Upstream.BaseURL), "/")
	cfg.Proxy.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Proxy.BaseURL), "/")

	return &cfg, nil
}

// Validate checks the settings the given command mode depends on and
// reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Upstream.Mode {
	case ModeAuto, ModeMock, ModeLive:
	default:
		errs = append(errs, fmt.Sprintf("upstream.mode %q must be one of auto, live, mock", c.Upstream.Mode))
	}
	if c.Upstream.TimeoutSecs <= 0 {
		errs = append(errs, "upstream.timeout_secs must be > 0")
	}
	if c.Simulator.MinDelayMS < 0 || c.Simulator.MaxDelayMS < c.Simulator.MinDelayMS {
		errs = append(errs, fmt.Sprintf("simulator delay window [%d, %d]ms is invalid",
			c.Simulator.MinDelayMS, c.Simulator.MaxDelayMS))
	}

	// The server stays up without a backend and answers 503 per request;
	// one-shot commands fail fast instead.
	liveWithoutBase := c.Upstream.Mode == ModeLive && c.Upstream.BaseURL == ""

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Proxy.RateLimit < 0 {
			errs = append(errs, "proxy.rate_limit must be >= 0")
		}
		if c.Proxy.RateLimit > 0 && c.Proxy.Burst < 1 {
			errs = append(errs, "proxy.burst must be >= 1 when rate limiting")
		}
	case "analyze":
		if liveWithoutBase {
			errs = append(errs, "upstream.base_url is required when upstream.mode is live")
		}
	case "batch":
		if liveWithoutBase {
			errs = append(errs, "upstream.base_url is required when upstream.mode is live")
		}
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > maxBatchConcurrency {
			errs = append(errs, fmt.Sprintf("batch.concurrency must be between 1 and %d", maxBatchConcurrency))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
