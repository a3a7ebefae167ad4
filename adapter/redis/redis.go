// Package redis publishes session events as JSON on a Redis pub/sub channel.
//
// With KeyTTL set the event is also stored under "<channel>:<session_id>"
// so consumers that were not subscribed can still look it up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/bitwire/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "bitwire:session_ended"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: bitwire:session_ended).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the first retry delay (default adapter.DefaultBackoff).
	Backoff time.Duration
	// KeyTTL keeps a copy of each event for this long. Zero disables it.
	KeyTTL time.Duration
}

// Adapter publishes session events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.KeyTTL < 0 {
		return nil, fmt.Errorf("key TTL must be >= 0, got %v", cfg.KeyTTL)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// EventKey returns the key an event for sessionID is stored under.
func (a *Adapter) EventKey(sessionID string) string {
	return a.config.Channel + ":" + sessionID
}

// Publish sends the event as a JSON PUBLISH to the configured channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEndedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		if a.config.KeyTTL == 0 {
			return a.client.Publish(publishCtx, a.config.Channel, body).Err()
		}
		_, err := a.client.TxPipelined(publishCtx, func(pipe goredis.Pipeliner) error {
			pipe.Set(publishCtx, a.EventKey(event.SessionID), body, a.config.KeyTTL)
			pipe.Publish(publishCtx, a.config.Channel, body)
			return nil
		})
		return err
	}, nil)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
