package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FRAMERELAY_SINK_URL.
const EnvPrefix = "FRAMERELAY_"

// Load builds a Config from defaults, the optional YAML file at path and
// FRAMERELAY_* environment variables, then validates it.
func Load(path string) (Config, error) {
	cfg, err := Resolve(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve is Load without validation, for callers that overlay flags first.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PathFromArgs finds a -config/--config value in args. Precedence is
// defaults < file < env < flags, so the file must be known before flags are
// parsed.
func PathFromArgs(args []string, fallback string) string {
	for i := 0; i < len(args); i++ {
		a := strings.TrimLeft(args[i], "-")
		if len(args[i])-len(a) == 0 || len(args[i])-len(a) > 2 {
			continue
		}
		if a == "config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "config="); ok {
			return v
		}
	}
	return fallback
}

// loadFile decodes path onto out. A missing file is not an error.
func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(EnvPrefix + key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) list(key string, dst *[]string) {
	if v, ok := r.lookup(EnvPrefix + key); ok && v != "" {
		*dst = splitComma(v)
	}
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = b
}

// ApplyEnv overlays environment variables onto the current values.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	r := &envReader{lookup: lookup}
	r.str("ROLE", &c.Role)
	r.str("SINK_URL", &c.SinkURL)
	r.duration("SINK_TIMEOUT", &c.SinkTimeout)
	r.integer("RELAY_CAPACITY", &c.RelayCapacity)
	r.duration("RELAY_FLUSH_INTERVAL", &c.RelayFlushInterval)
	r.integer("UPLINK_CAPACITY", &c.UplinkCapacity)
	r.duration("UPLINK_SEND_INTERVAL", &c.UplinkSendInterval)
	r.integer("UPLINK_BATCH_SIZE", &c.UplinkBatchSize)
	r.str("RELAY_TRANSPORT", &c.RelayTransport)
	r.str("RELAY_TOPIC", &c.RelayTopic)
	r.str("RELAY_CODEC", &c.RelayCodec)
	r.list("ALLOWED_KINDS", &c.AllowedKinds)
	r.str("CAPTURE_URL", &c.CaptureURL)
	r.str("CAPTURE_KIND", &c.CaptureKind)
	r.list("KAFKA_BROKERS", &c.KafkaBrokers)
	r.str("KAFKA_CONSUMER_GROUP", &c.KafkaConsumerGroup)
	r.str("RABBITMQ_URL", &c.RabbitMQURL)
	r.str("NATS_URL", &c.NATSURL)
	r.str("HTTP_SERVER_ADDRESS", &c.HTTPServerAddress)
	r.str("HTTP_PUBLISHER_URL", &c.HTTPPublisherURL)
	r.str("AWS_REGION", &c.AWSRegion)
	r.str("AWS_ACCOUNT_ID", &c.AWSAccountID)
	r.str("AWS_ACCESS_KEY_ID", &c.AWSAccessKeyID)
	r.str("AWS_SECRET_ACCESS_KEY", &c.AWSSecretAccessKey)
	r.str("AWS_ENDPOINT", &c.AWSEndpoint)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.boolean("LOG_JSON", &c.LogJSON)
	r.boolean("METRICS_ENABLED", &c.MetricsEnabled)
	r.integer("METRICS_PORT", &c.MetricsPort)
	return errors.Join(r.errs...)
}

// BindFlags registers command line overrides on fs using the current values
// as defaults.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Role, "role", c.Role, "stages to run: all, relay or uplink")
	fs.StringVar(&c.SinkURL, "sink-url", c.SinkURL, "collector endpoint receiving uplink batches")
	fs.DurationVar(&c.SinkTimeout, "sink-timeout", c.SinkTimeout, "per-request sink timeout (0 disables)")
	fs.IntVar(&c.RelayCapacity, "relay-capacity", c.RelayCapacity, "relay buffer capacity")
	fs.DurationVar(&c.RelayFlushInterval, "relay-interval", c.RelayFlushInterval, "relay flush interval")
	fs.IntVar(&c.UplinkCapacity, "uplink-capacity", c.UplinkCapacity, "uplink queue capacity")
	fs.DurationVar(&c.UplinkSendInterval, "uplink-interval", c.UplinkSendInterval, "uplink send interval")
	fs.IntVar(&c.UplinkBatchSize, "batch-size", c.UplinkBatchSize, "max items per uplink request")
	fs.StringVar(&c.RelayTransport, "transport", c.RelayTransport, "relay channel transport")
	fs.StringVar(&c.RelayCodec, "codec", c.RelayCodec, "relay codec: json or protowire")
	fs.StringVar(&c.CaptureURL, "capture-url", c.CaptureURL, "websocket feed to capture binary frames from")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (debug, info, warn, error)")
	fs.BoolVar(&c.MetricsEnabled, "metrics", c.MetricsEnabled, "expose Prometheus metrics")
	fs.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Prometheus metrics port")
	fs.Func("allowed-kinds", "comma separated capture allow-list", func(v string) error {
		c.AllowedKinds = splitComma(v)
		return nil
	})
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
