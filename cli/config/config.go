package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a bitwire.yaml configuration file.
// Values act as defaults for bitwire session flags; CLI flags always
// override config values. Tagged defaults apply to keys the file omits.
type Config struct {
	Schema    string          `yaml:"schema"`
	Protocol  string          `yaml:"protocol"`
	Framing   string          `yaml:"framing" default:"length"`
	Strict    bool            `yaml:"strict"`
	LogLevel  string          `yaml:"log_level" default:"info"`
	Transport TransportConfig `yaml:"transport"`
	Capture   CaptureConfig   `yaml:"capture"`
	Engine    EngineConfig    `yaml:"engine"`
	Adapter   AdapterConfig   `yaml:"adapter"`
}

// TransportConfig selects how protocol frames reach the peer.
type TransportConfig struct {
	Kind      string   `yaml:"kind" default:"tcp"`
	Addr      string   `yaml:"addr" default:"127.0.0.1:7400"`
	Listen    bool     `yaml:"listen"`
	RedisURL  string   `yaml:"redis_url"`
	TxChannel string   `yaml:"tx_channel" default:"bitwire:ctob"`
	RxChannel string   `yaml:"rx_channel" default:"bitwire:btoc"`
	Timeout   Duration `yaml:"timeout,omitempty"`
	Retries   *int     `yaml:"retries,omitempty"`
}

// CaptureConfig holds frame capture settings. An empty backend disables
// capture.
type CaptureConfig struct {
	Dataset     string `yaml:"dataset" default:"bitwire"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	Policy      string `yaml:"policy" default:"strict"`
	FlushCount  int    `yaml:"flush_count" default:"100"`
}

// Enabled reports whether a capture backend is configured.
func (c CaptureConfig) Enabled() bool { return c.Backend != "" }

// EngineConfig holds settings for bitwire engine serve.
type EngineConfig struct {
	Addr string `yaml:"addr" default:"127.0.0.1:7411"`
}

// AdapterConfig selects where session_ended events are published. An empty
// type disables notification.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	KeyTTL  Duration          `yaml:"key_ttl,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated fields. Reference checks (schema, protocol)
// happen once the schema is loaded.
func (c *Config) Validate() error {
	var errs []error
	switch c.Framing {
	case "length", "cobs":
	default:
		errs = append(errs, fmt.Errorf("framing: %q (must be length or cobs)", c.Framing))
	}
	switch c.Transport.Kind {
	case "tcp":
		if c.Transport.Addr == "" {
			errs = append(errs, errors.New("transport.addr is required for tcp"))
		}
	case "redis":
		if c.Transport.RedisURL == "" {
			errs = append(errs, errors.New("transport.redis_url is required for redis"))
		}
		if c.Transport.TxChannel == c.Transport.RxChannel {
			errs = append(errs, errors.New("transport.tx_channel and rx_channel must differ"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind: %q (must be tcp or redis)", c.Transport.Kind))
	}
	if c.Transport.Retries != nil && *c.Transport.Retries < 0 {
		errs = append(errs, errors.New("transport.retries must be >= 0"))
	}
	switch c.Capture.Backend {
	case "":
	case "fs", "s3":
		if c.Capture.Path == "" {
			errs = append(errs, fmt.Errorf("capture.path is required for backend %s", c.Capture.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.backend: %q (must be fs or s3)", c.Capture.Backend))
	}
	switch c.Capture.Policy {
	case "strict", "buffered":
	default:
		errs = append(errs, fmt.Errorf("capture.policy: %q (must be strict or buffered)", c.Capture.Policy))
	}
	if c.Capture.FlushCount <= 0 {
		errs = append(errs, errors.New("capture.flush_count must be > 0"))
	}
	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for adapter %s", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type: %q (must be webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must be >= 0"))
	}
	return errors.Join(errs...)
}
