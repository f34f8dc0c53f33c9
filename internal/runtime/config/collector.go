package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
)

// CollectorConfig configures the reference collector that implements the
// uplink sink contract.
type CollectorConfig struct {
	Addr           string   `yaml:"addr"`
	Path           string   `yaml:"path"`
	Workers        int      `yaml:"workers"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RedisAddr enables the stream store when set, e.g. redis://localhost:6379/0.
	RedisAddr      string `yaml:"redis_addr"`
	RedisStream    string `yaml:"redis_stream"`
	RedisMaxLength int64  `yaml:"redis_max_length"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultCollector returns the built-in collector configuration.
func DefaultCollector() CollectorConfig {
	return CollectorConfig{
		Addr:           ":8080",
		Path:           "/api/frames",
		Workers:        4,
		MaxBodyBytes:   8 << 20,
		RedisStream:    "framerelay:frames",
		RedisMaxLength: 100000,
		LogLevel:       "info",
	}
}

// LoadCollector mirrors Load for the collector, reading FRAMERELAY_COLLECTOR_*.
func LoadCollector(path string) (CollectorConfig, error) {
	cfg, err := ResolveCollector(path)
	if err != nil {
		return CollectorConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return CollectorConfig{}, err
	}
	return cfg, nil
}

// ResolveCollector is LoadCollector without validation.
func ResolveCollector(path string) (CollectorConfig, error) {
	cfg := DefaultCollector()
	if err := loadFile(path, &cfg); err != nil {
		return CollectorConfig{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return CollectorConfig{}, err
	}
	return cfg, nil
}

// BindFlags registers command line overrides on fs.
func (c *CollectorConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.Path, "path", c.Path, "path receiving frame batches")
	fs.IntVar(&c.Workers, "workers", c.Workers, "concurrent frame handlers")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "redis address for the frame stream (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (debug, info, warn, error)")
	fs.Func("allowed-origins", "comma separated CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// ApplyEnv overlays FRAMERELAY_COLLECTOR_* variables.
func (c *CollectorConfig) ApplyEnv(lookup LookupFunc) error {
	r := &envReader{lookup: lookup}
	r.str("COLLECTOR_ADDR", &c.Addr)
	r.str("COLLECTOR_PATH", &c.Path)
	r.integer("COLLECTOR_WORKERS", &c.Workers)
	r.list("COLLECTOR_ALLOWED_ORIGINS", &c.AllowedOrigins)
	r.str("COLLECTOR_REDIS_ADDR", &c.RedisAddr)
	r.str("COLLECTOR_REDIS_STREAM", &c.RedisStream)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.boolean("LOG_JSON", &c.LogJSON)

	var maxLen int
	r.integer("COLLECTOR_REDIS_MAX_LENGTH", &maxLen)
	if maxLen > 0 {
		c.RedisMaxLength = int64(maxLen)
	}
	return errors.Join(r.errs...)
}

func (c *CollectorConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("collector: listen address is required"))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("collector: path %q must start with /", c.Path))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("collector: workers must be positive"))
	}
	if c.RedisAddr != "" && c.RedisStream == "" {
		errs = append(errs, frerrors.ErrTopicRequired)
	}
	if c.RedisMaxLength < 0 {
		errs = append(errs, errors.New("collector: redis max length cannot be negative"))
	}
	return frerrors.NewConfigValidationError(errors.Join(errs...))
}

func (c CollectorConfig) String() string {
	redacted := c
	redacted.RedisAddr = redactURLCredentials(redacted.RedisAddr)
	type collectorAlias CollectorConfig
	return fmt.Sprintf("%+v", collectorAlias(redacted))
}
