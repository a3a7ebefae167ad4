package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `schema: ./counter.yaml
protocol: CounterMsgs
framing: cobs
strict: true
log_level: debug

transport:
  kind: redis
  redis_url: redis://localhost:6379/0
  tx_channel: lab:ctob
  rx_channel: lab:btoc
  timeout: 2s
  retries: 5

capture:
  dataset: frames
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true
  policy: buffered
  flush_count: 25

engine:
  addr: 0.0.0.0:9000

adapter:
  type: webhook
  url: https://hooks.example.com/bitwire
  headers:
    X-Api-Key: secret-123
  timeout: 3s
  retries: 1
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "schema", cfg.Schema, "./counter.yaml")
	assertEqual(t, "protocol", cfg.Protocol, "CounterMsgs")
	assertEqual(t, "framing", cfg.Framing, "cobs")
	assertEqual(t, "log_level", cfg.LogLevel, "debug")
	if !cfg.Strict {
		t.Error("expected strict=true")
	}

	assertEqual(t, "transport.kind", cfg.Transport.Kind, "redis")
	assertEqual(t, "transport.redis_url", cfg.Transport.RedisURL, "redis://localhost:6379/0")
	assertEqual(t, "transport.tx_channel", cfg.Transport.TxChannel, "lab:ctob")
	assertEqual(t, "transport.rx_channel", cfg.Transport.RxChannel, "lab:btoc")
	if cfg.Transport.Timeout.Duration != 2*time.Second {
		t.Errorf("transport.timeout = %v, want 2s", cfg.Transport.Timeout.Duration)
	}
	if cfg.Transport.Retries == nil || *cfg.Transport.Retries != 5 {
		t.Error("expected transport.retries=5")
	}

	assertEqual(t, "capture.dataset", cfg.Capture.Dataset, "frames")
	assertEqual(t, "capture.backend", cfg.Capture.Backend, "s3")
	assertEqual(t, "capture.path", cfg.Capture.Path, "my-bucket/prefix")
	assertEqual(t, "capture.region", cfg.Capture.Region, "us-east-1")
	assertEqual(t, "capture.endpoint", cfg.Capture.Endpoint, "https://example.com")
	assertEqual(t, "capture.policy", cfg.Capture.Policy, "buffered")
	if !cfg.Capture.S3PathStyle {
		t.Error("expected capture.s3_path_style=true")
	}
	if cfg.Capture.FlushCount != 25 {
		t.Errorf("capture.flush_count = %d, want 25", cfg.Capture.FlushCount)
	}
	assertEqual(t, "engine.addr", cfg.Engine.Addr, "0.0.0.0:9000")

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/bitwire")
	assertEqual(t, "adapter.headers.X-Api-Key", cfg.Adapter.Headers["X-Api-Key"], "secret-123")
	if cfg.Adapter.Timeout.Duration != 3*time.Second {
		t.Errorf("adapter.timeout = %v, want 3s", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 1 {
		t.Error("expected adapter.retries=1")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_DefaultsFillOmittedKeys(t *testing.T) {
	path := writeTemp(t, "schema: ./thing.toml\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "schema", cfg.Schema, "./thing.toml")
	assertEqual(t, "framing", cfg.Framing, "length")
	assertEqual(t, "log_level", cfg.LogLevel, "info")
	assertEqual(t, "transport.kind", cfg.Transport.Kind, "tcp")
	assertEqual(t, "transport.addr", cfg.Transport.Addr, "127.0.0.1:7400")
	assertEqual(t, "transport.tx_channel", cfg.Transport.TxChannel, "bitwire:ctob")
	assertEqual(t, "transport.rx_channel", cfg.Transport.RxChannel, "bitwire:btoc")
	assertEqual(t, "capture.dataset", cfg.Capture.Dataset, "bitwire")
	assertEqual(t, "capture.policy", cfg.Capture.Policy, "strict")
	assertEqual(t, "engine.addr", cfg.Engine.Addr, "127.0.0.1:7411")
	if cfg.Capture.FlushCount != 100 {
		t.Errorf("capture.flush_count = %d, want 100", cfg.Capture.FlushCount)
	}
	if cfg.Capture.Enabled() {
		t.Error("capture should be disabled without a backend")
	}
	if cfg.Transport.Retries != nil {
		t.Error("transport.retries should stay unset")
	}
}

func TestLoad_PartialNestedBlockKeepsDefaults(t *testing.T) {
	path := writeTemp(t, "transport:\n  addr: 10.0.0.2:7400\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "transport.addr", cfg.Transport.Addr, "10.0.0.2:7400")
	assertEqual(t, "transport.kind", cfg.Transport.Kind, "tcp")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("BITWIRE_TEST_BUCKET", "frames-bucket")
	yaml := `capture:
  backend: s3
  path: ${BITWIRE_TEST_BUCKET}/captures
  region: ${BITWIRE_TEST_REGION_UNSET:-eu-west-1}
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "capture.path", cfg.Capture.Path, "frames-bucket/captures")
	assertEqual(t, "capture.region", cfg.Capture.Region, "eu-west-1")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %q, want it to mention config file not found", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "transport: [unclosed\n"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("error = %q, want it to mention invalid config", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTemp(t, "transport:\n  timeout: soon\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %q, want it to mention invalid duration", err)
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad framing", func(c *Config) { c.Framing = "slip" }, "framing"},
		{"bad transport", func(c *Config) { c.Transport.Kind = "udp" }, "transport.kind"},
		{"tcp without addr", func(c *Config) { c.Transport.Addr = "" }, "transport.addr"},
		{"redis without url", func(c *Config) { c.Transport.Kind = "redis" }, "transport.redis_url"},
		{"redis same channels", func(c *Config) {
			c.Transport.Kind = "redis"
			c.Transport.RedisURL = "redis://localhost:6379"
			c.Transport.RxChannel = c.Transport.TxChannel
		}, "must differ"},
		{"negative retries", func(c *Config) { c.Transport.Retries = &neg }, "retries"},
		{"bad backend", func(c *Config) { c.Capture.Backend = "gcs" }, "capture.backend"},
		{"fs without path", func(c *Config) { c.Capture.Backend = "fs" }, "capture.path"},
		{"bad policy", func(c *Config) { c.Capture.Policy = "lossy" }, "capture.policy"},
		{"zero flush count", func(c *Config) { c.Capture.FlushCount = 0 }, "flush_count"},
		{"bad adapter", func(c *Config) { c.Adapter.Type = "kafka" }, "adapter.type"},
		{"adapter without url", func(c *Config) { c.Adapter.Type = "redis" }, "adapter.url"},
		{"negative adapter retries", func(c *Config) { c.Adapter.Retries = &neg }, "adapter.retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bitwire.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
