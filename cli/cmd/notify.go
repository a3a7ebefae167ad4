package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bitwire/adapter"
	redisadapter "github.com/pithecene-io/bitwire/adapter/redis"
	"github.com/pithecene-io/bitwire/adapter/webhook"
	"github.com/pithecene-io/bitwire/cli/config"
	"github.com/pithecene-io/bitwire/iox"
	"github.com/pithecene-io/bitwire/log"
	"github.com/pithecene-io/bitwire/metrics"
	"github.com/pithecene-io/bitwire/types"
)

// notifyTimeout bounds a session_ended publish, retries included.
const notifyTimeout = 30 * time.Second

func adapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Publish a session_ended event: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or Redis URL for --adapter",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel for --adapter=redis",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Extra webhook header Name=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-attempt publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Publish retry attempts",
			Value: webhook.DefaultRetries,
		},
	}
}

// adapterChoice is the resolved adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
	keyTTL      time.Duration
}

// parseAdapterConfig merges --adapter-* flags over the config's adapter
// block. A nil choice means notification is disabled.
func parseAdapterConfig(c *cli.Context, cfg *config.Config) (*adapterChoice, error) {
	var ac config.AdapterConfig
	if cfg != nil {
		ac = cfg.Adapter
	}

	choice := &adapterChoice{
		adapterType: ac.Type,
		url:         ac.URL,
		channel:     ac.Channel,
		headers:     make(map[string]string, len(ac.Headers)),
		timeout:     ac.Timeout.Duration,
		retries:     webhook.DefaultRetries,
		keyTTL:      ac.KeyTTL.Duration,
	}
	for k, v := range ac.Headers {
		choice.headers[k] = v
	}
	if ac.Retries != nil {
		choice.retries = *ac.Retries
	}

	overrideString(c, "adapter", &choice.adapterType)
	overrideString(c, "adapter-url", &choice.url)
	overrideString(c, "adapter-channel", &choice.channel)
	if c.IsSet("adapter-timeout") {
		choice.timeout = c.Duration("adapter-timeout")
	}
	if c.IsSet("adapter-retries") {
		choice.retries = c.Int("adapter-retries")
	}
	for _, h := range c.StringSlice("adapter-header") {
		name, value, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q (want Name=Value)", h)
		}
		choice.headers[strings.TrimSpace(name)] = value
	}

	switch choice.adapterType {
	case "":
		return nil, nil
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", choice.adapterType)
	}
	if choice.url == "" {
		return nil, fmt.Errorf("--adapter-url is required when --adapter=%s", choice.adapterType)
	}
	if choice.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", choice.retries)
	}
	return choice, nil
}

// buildAdapter constructs the adapter a choice names.
func buildAdapter(choice *adapterChoice) (adapter.Adapter, error) {
	switch choice.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     choice.url,
			Channel: choice.channel,
			Timeout: choice.timeout,
			Retries: choice.retries,
			KeyTTL:  choice.keyTTL,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", choice.adapterType)
	}
}

// buildSessionEndedEvent assembles the event for a finished session.
func buildSessionEndedEvent(meta *types.SessionMeta, schema, outcome string, runErr error, capturePath string, snap *metrics.Snapshot, elapsed time.Duration) *adapter.SessionEndedEvent {
	event := &adapter.SessionEndedEvent{
		FormatVersion: types.CaptureFormatVersion,
		EventType:     adapter.EventTypeSessionEnded,
		SessionID:     meta.SessionID,
		Schema:        schema,
		Protocol:      meta.Protocol,
		Transport:     meta.Transport,
		Framing:       meta.Framing,
		Outcome:       outcome,
		CapturePath:   capturePath,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DurationMs:    elapsed.Milliseconds(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if snap != nil {
		event.FramesSent = snap.FramesSent
		event.FramesReceived = snap.FramesReceived
		event.DecodeErrors = snap.DecodeErrors
	}
	return event
}

// publishSessionEnded sends event through the chosen adapter. Failures are
// logged and never fail the session.
func publishSessionEnded(choice *adapterChoice, event *adapter.SessionEndedEvent, logger *log.Logger) {
	a, err := buildAdapter(choice)
	if err != nil {
		logger.Error("adapter setup failed", map[string]any{"adapter": choice.adapterType, "error": err.Error()})
		return
	}
	defer iox.CloseLogged(logger, "adapter", a)

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := a.Publish(ctx, event); err != nil {
		logger.Error("session_ended publish failed", map[string]any{"adapter": choice.adapterType, "error": err.Error()})
		return
	}
	logger.Info("session_ended published", map[string]any{"adapter": choice.adapterType, "outcome": event.Outcome})
}
