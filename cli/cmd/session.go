package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bitwire/adapter"
	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/bus/redis"
	"github.com/pithecene-io/bitwire/capture"
	"github.com/pithecene-io/bitwire/cli/config"
	"github.com/pithecene-io/bitwire/cli/render"
	"github.com/pithecene-io/bitwire/cli/tui"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/framing"
	"github.com/pithecene-io/bitwire/iox"
	"github.com/pithecene-io/bitwire/link"
	"github.com/pithecene-io/bitwire/log"
	"github.com/pithecene-io/bitwire/metrics"
	"github.com/pithecene-io/bitwire/protocol"
	"github.com/pithecene-io/bitwire/types"
)

// closeTimeout bounds the final capture flush and summary write.
const closeTimeout = 10 * time.Second

// SessionResponse is printed when a session ends.
type SessionResponse struct {
	SessionID string            `json:"session_id" yaml:"session_id"`
	Protocol  string            `json:"protocol" yaml:"protocol"`
	Transport string            `json:"transport" yaml:"transport"`
	Framing   string            `json:"framing" yaml:"framing"`
	Duration  string            `json:"duration" yaml:"duration"`
	Metrics   metrics.Snapshot  `json:"metrics" yaml:"metrics"`
	State     protocol.Snapshot `json:"state" yaml:"state"`
	Capture   *capture.Stats    `json:"capture,omitempty" yaml:"capture,omitempty"`
}

// SessionCommand returns the session command.
// A session speaks one protocol over one transport until the peer hangs up,
// --duration elapses or the process is interrupted.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Run a protocol session over TCP or Redis",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to bitwire.yaml (flags override its values)",
			},
			&cli.StringFlag{
				Name:  "schema",
				Usage: "Schema file or built-in schema name",
			},
			&cli.StringFlag{
				Name:  "protocol",
				Usage: "Message set name (optional when the schema declares one)",
			},
			&cli.BoolFlag{
				Name:  "peer",
				Usage: "Speak the other side of the message set",
			},
			// Transport flags
			&cli.StringFlag{
				Name:  "transport",
				Usage: "Transport: tcp or redis",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "TCP address to dial (or listen on with --listen)",
			},
			&cli.BoolFlag{
				Name:  "listen",
				Usage: "Accept one TCP peer instead of dialing",
			},
			&cli.StringFlag{
				Name:  "redis-url",
				Usage: "Redis URL (redis transport)",
			},
			&cli.StringFlag{
				Name:  "tx-channel",
				Usage: "Redis channel this side publishes to",
			},
			&cli.StringFlag{
				Name:  "rx-channel",
				Usage: "Redis channel this side subscribes to",
			},
			&cli.StringFlag{
				Name:  "framing",
				Usage: "Stream framing: length or cobs (tcp transport)",
			},
			OrderFlag,
			StrictFlag,
			// Capture flags
			&cli.StringFlag{
				Name:  "capture-backend",
				Usage: "Capture frames to fs or s3 (default: no capture)",
			},
			&cli.StringFlag{
				Name:  "capture-path",
				Usage: "Capture location (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "capture-dataset",
				Usage: "Capture dataset name",
			},
			&cli.StringFlag{
				Name:  "capture-region",
				Usage: "AWS region for the s3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "capture-endpoint",
				Usage: "Custom S3 endpoint (MinIO, R2)",
			},
			&cli.BoolFlag{
				Name:  "capture-s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			&cli.StringFlag{
				Name:  "capture-policy",
				Usage: "Capture policy: strict or buffered",
			},
			&cli.IntFlag{
				Name:  "capture-flush-count",
				Usage: "Records per buffered flush",
			},
			// Session flags
			&cli.StringSliceFlag{
				Name:  "set",
				Usage: "Send message=value at start (value as JSON or YAML, repeatable)",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "End the session after this long (default: until interrupted)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the session report",
			},
			FormatFlag,
			NoColorFlag,
			TUIFlag,
		}, adapterFlags()...),
		Action: sessionAction,
	}
}

// resolveConfig loads --config, when given, and applies flag overrides.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrideString(c, "schema", &cfg.Schema)
	overrideString(c, "protocol", &cfg.Protocol)
	overrideString(c, "framing", &cfg.Framing)
	overrideString(c, "log-level", &cfg.LogLevel)
	overrideString(c, "transport", &cfg.Transport.Kind)
	overrideString(c, "addr", &cfg.Transport.Addr)
	overrideString(c, "redis-url", &cfg.Transport.RedisURL)
	overrideString(c, "tx-channel", &cfg.Transport.TxChannel)
	overrideString(c, "rx-channel", &cfg.Transport.RxChannel)
	overrideString(c, "capture-backend", &cfg.Capture.Backend)
	overrideString(c, "capture-path", &cfg.Capture.Path)
	overrideString(c, "capture-dataset", &cfg.Capture.Dataset)
	overrideString(c, "capture-region", &cfg.Capture.Region)
	overrideString(c, "capture-endpoint", &cfg.Capture.Endpoint)
	overrideString(c, "capture-policy", &cfg.Capture.Policy)
	if c.IsSet("listen") {
		cfg.Transport.Listen = c.Bool("listen")
	}
	if c.IsSet("strict") {
		cfg.Strict = c.Bool("strict")
	}
	if c.IsSet("capture-s3-path-style") {
		cfg.Capture.S3PathStyle = c.Bool("capture-s3-path-style")
	}
	if c.IsSet("capture-flush-count") {
		cfg.Capture.FlushCount = c.Int("capture-flush-count")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(c *cli.Context, flag string, dst *string) {
	if c.IsSet(flag) {
		*dst = c.String(flag)
	}
}

// assignment is one --set message=value pair.
type assignment struct {
	message string
	value   any
}

func parseAssignments(raw []string) ([]assignment, error) {
	out := make([]assignment, 0, len(raw))
	for _, kv := range raw {
		name, text, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q (want message=value)", kv)
		}
		v, err := parseValue(text)
		if err != nil {
			return nil, err
		}
		out = append(out, assignment{message: name, value: v})
	}
	return out, nil
}

// sessionPort is a link.Port the session must close.
type sessionPort interface {
	link.Port
	Close() error
}

func openPort(ctx context.Context, cfg *config.Config, peer bool, collector *metrics.Collector, logger *log.Logger) (sessionPort, error) {
	tc := cfg.Transport
	switch tc.Kind {
	case "redis":
		rcfg := redis.Config{
			URL:       tc.RedisURL,
			TxChannel: tc.TxChannel,
			RxChannel: tc.RxChannel,
			Timeout:   tc.Timeout.Duration,
			Retries:   redis.DefaultRetries,
			Metrics:   collector,
		}
		if tc.Retries != nil {
			rcfg.Retries = *tc.Retries
		}
		if peer {
			rcfg = rcfg.Peer()
		}
		port, err := redis.New(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		logger.Info("subscribed", map[string]any{
			"tx_channel": port.Config().TxChannel,
			"rx_channel": port.Config().RxChannel,
		})
		return port, nil

	case "tcp":
		framer, err := framing.ByName(cfg.Framing)
		if err != nil {
			return nil, err
		}
		conn, err := connectTCP(ctx, tc.Addr, tc.Listen, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("connected", map[string]any{"remote": conn.RemoteAddr().String()})
		return link.NewStreamPort(conn, framer), nil

	default:
		return nil, fmt.Errorf("unknown transport: %s", tc.Kind)
	}
}

// connectTCP dials addr, or accepts exactly one peer on it when listen is set.
func connectTCP(ctx context.Context, addr string, listen bool, logger *log.Logger) (net.Conn, error) {
	if !listen {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	defer iox.DiscardClose(ln)
	logger.Info("waiting for peer", map[string]any{"addr": ln.Addr().String()})

	// Unblock Accept when ctx ends first.
	stop := iox.CloseOnDone(ctx, ln)
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept on %s: %w", addr, err)
	}
	return conn, nil
}

// openRecorder builds the capture recorder, or returns nil when capture is
// disabled.
func openRecorder(ctx context.Context, cfg *config.Config, meta *types.SessionMeta, collector *metrics.Collector, logger *log.Logger) (*capture.Recorder, error) {
	cc := cfg.Capture
	if !cc.Enabled() {
		return nil, nil
	}

	var (
		sink *capture.LodeSink
		err  error
	)
	switch cc.Backend {
	case "fs":
		sink, err = capture.NewFSSink(cc.Dataset, cc.Path)
	case "s3":
		bucket, prefix := capture.ParseS3Path(cc.Path)
		sink, err = capture.NewS3Sink(ctx, cc.Dataset, capture.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cc.Region,
			Endpoint:     cc.Endpoint,
			UsePathStyle: cc.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown capture backend: %s (must be fs or s3)", cc.Backend)
	}
	if err != nil {
		return nil, err
	}

	return capture.NewRecorder(sink, meta, capture.Config{
		Policy:     capture.Policy(cc.Policy),
		FlushCount: cc.FlushCount,
		Logger:     logger,
		Metrics:    collector,
	})
}

// applyAssignments stages --set values: latest-value messages are marked
// pending, channel messages are queued.
func applyAssignments(ctx context.Context, client *link.Client, set *protocol.MessageSet, assigns []assignment) error {
	for _, a := range assigns {
		def, dir, ok := set.Lookup(a.message)
		if !ok {
			return fmt.Errorf("--set: unknown message %q", a.message)
		}
		if dir != protocol.Out {
			return fmt.Errorf("--set: %q is received, not sent, by this side (try --peer)", a.message)
		}
		var err error
		if def.IsChannel() {
			err = client.Put(ctx, a.message, a.value)
		} else {
			err = client.Set(a.message, a.value)
		}
		if err != nil {
			return fmt.Errorf("--set %s: %w", a.message, err)
		}
	}
	return nil
}

func sessionAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid session config: %v", err), 1)
	}
	assigns, err := parseAssignments(c.StringSlice("set"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	notify, err := parseAdapterConfig(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	reg, err := loadSchema(cfg.Schema)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	opts := []codec.Option{codec.WithOrder(reg.BitOrder)}
	if s := c.String("bit-order"); s != "" {
		order, err := bitio.ParseOrder(s)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		opts[0] = codec.WithOrder(order)
	}
	if cfg.Strict {
		opts = append(opts, codec.WithStrict())
	}
	set, err := loadMessageSet(reg, cfg.Protocol, c.Bool("peer"), opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	framingName := cfg.Framing
	if cfg.Transport.Kind == "redis" {
		framingName = "none"
	}
	meta := types.NewSessionMeta(set.Name, cfg.Transport.Kind, framingName)
	logger := log.NewLoggerWithWriter(meta, os.Stderr, log.ParseLevel(cfg.LogLevel))
	defer func() { _ = logger.Sync() }()

	storage := cfg.Capture.Backend
	collector := metrics.NewCollector(set.Name, cfg.Transport.Kind, storage, meta.SessionID)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sigCtx := ctx
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	recorder, err := openRecorder(ctx, cfg, meta, collector, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("capture: %v", err), 1)
	}

	port, err := openPort(ctx, cfg, c.Bool("peer"), collector, logger)
	if err != nil {
		if recorder != nil {
			_ = recorder.Close(context.Background())
		}
		return cli.Exit(fmt.Sprintf("transport: %v", err), 1)
	}

	state := protocol.NewState(set)
	if err := state.Init(); err != nil {
		_ = port.Close()
		return err
	}
	clientOpts := []link.ClientOption{link.WithLogger(logger), link.WithMetrics(collector)}
	if recorder != nil {
		clientOpts = append(clientOpts, link.WithTap(recorder))
	}
	client := link.NewClient(state, port, clientOpts...)

	if err := applyAssignments(ctx, client, set, assigns); err != nil {
		_ = port.Close()
		return cli.Exit(err.Error(), 1)
	}

	start := time.Now()
	logger.Info("session started", map[string]any{"size_out": set.SizeOut(), "size_in": set.SizeIn()})
	runErr := runSession(ctx, c.Bool("tui"), client, collector, logger)
	elapsed := time.Since(start)
	iox.CloseLogged(logger, "transport", port)

	final, _ := client.Snapshot()
	resp := SessionResponse{
		SessionID: meta.SessionID,
		Protocol:  meta.Protocol,
		Transport: meta.Transport,
		Framing:   meta.Framing,
		Duration:  elapsed.Round(time.Millisecond).String(),
		State:     final,
	}

	if recorder != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		snap := collector.Snapshot()
		summary := map[string]any{
			"frames_sent":     snap.FramesSent,
			"frames_received": snap.FramesReceived,
			"decode_errors":   snap.DecodeErrors,
			"duration_ms":     elapsed.Milliseconds(),
		}
		if err := recorder.Summarize(closeCtx, summary); err != nil {
			logger.Warn("capture summary failed", map[string]any{"error": err.Error()})
		}
		if err := recorder.Close(closeCtx); err != nil {
			logger.Error("capture close failed", map[string]any{"error": err.Error()})
		}
		stats := recorder.Stats()
		resp.Capture = &stats
	}
	resp.Metrics = collector.Snapshot()

	logger.Info("session ended", map[string]any{
		"frames_sent":     resp.Metrics.FramesSent,
		"frames_received": resp.Metrics.FramesReceived,
		"duration":        resp.Duration,
	})

	if notify != nil {
		outcome := adapter.OutcomeCompleted
		switch {
		case runErr != nil:
			outcome = adapter.OutcomeFailed
		case sigCtx.Err() != nil:
			outcome = adapter.OutcomeInterrupted
		}
		capturePath := ""
		if recorder != nil {
			capturePath = cfg.Capture.Backend + "://" + cfg.Capture.Path
		}
		event := buildSessionEndedEvent(meta, cfg.Schema, outcome, runErr, capturePath, &resp.Metrics, elapsed)
		publishSessionEnded(notify, event, logger)
	}

	if !c.Bool("quiet") {
		if r.Format() == render.FormatTable {
			err = r.Render(resp.Metrics)
		} else {
			err = r.Render(resp)
		}
		if err != nil {
			return err
		}
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("session failed: %v", runErr), 1)
	}
	return nil
}

// runSession pumps the client until ctx ends or the peer hangs up. Ending
// through ctx is not an error.
func runSession(ctx context.Context, withTUI bool, client *link.Client, collector *metrics.Collector, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	if withTUI {
		if err := tui.Run(tui.ViewStatsSession, collector); err != nil {
			logger.Warn("tui failed", map[string]any{"error": err.Error()})
		}
		cancel()
	}

	for {
		select {
		case <-client.Updates():
			if snap, err := client.Snapshot(); err == nil {
				logger.Debug("state updated", map[string]any{"values": snap.Values})
			}
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}
