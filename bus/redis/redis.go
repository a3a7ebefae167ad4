// Package redis implements a link.Port over Redis pub/sub.
//
// Each side publishes frames to its tx channel and subscribes to its rx
// channel; the peer uses the same two channels swapped. Payloads are raw
// protocol frames (id + payload), so no extra framing is needed.
// Publishes retry with exponential backoff on errors.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/bitwire/link"
	"github.com/pithecene-io/bitwire/metrics"
)

// Default channel names, from this side's point of view.
const (
	DefaultTxChannel = "bitwire:ctob"
	DefaultRxChannel = "bitwire:btoc"
)

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis port.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// TxChannel receives frames this side sends (default bitwire:ctob).
	TxChannel string
	// RxChannel carries frames from the peer (default bitwire:btoc).
	RxChannel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Metrics, when set, counts retries and exhausted sends.
	Metrics *metrics.Collector
}

// Peer returns the configuration of the other side: channels swapped.
func (c Config) Peer() Config {
	peer := c
	peer.TxChannel, peer.RxChannel = c.RxChannel, c.TxChannel
	if peer.TxChannel == "" {
		peer.TxChannel = DefaultRxChannel
	}
	if peer.RxChannel == "" {
		peer.RxChannel = DefaultTxChannel
	}
	return peer
}

// Port sends frames with PUBLISH and receives them from a subscription.
type Port struct {
	config Config
	client *goredis.Client
	sub    *goredis.PubSub
	msgs   <-chan *goredis.Message
}

// New connects to Redis and subscribes to the rx channel. It returns once
// the subscription is confirmed, so frames published afterwards are not
// missed.
func New(ctx context.Context, cfg Config) (*Port, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis port requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis port: invalid URL: %w", err)
	}

	if cfg.TxChannel == "" {
		cfg.TxChannel = DefaultTxChannel
	}
	if cfg.RxChannel == "" {
		cfg.RxChannel = DefaultRxChannel
	}
	if cfg.TxChannel == cfg.RxChannel {
		return nil, fmt.Errorf("redis port: tx and rx channel are both %q", cfg.TxChannel)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	client := goredis.NewClient(opts)
	sub := client.Subscribe(ctx, cfg.RxChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis port: subscribe %s: %w", cfg.RxChannel, err)
	}

	return &Port{
		config: cfg,
		client: client,
		sub:    sub,
		msgs:   sub.Channel(),
	}, nil
}

// Config returns the effective configuration.
func (p *Port) Config() Config { return p.config }

// Send publishes frame to the tx channel.
// Retries with exponential backoff on failures.
func (p *Port) Send(ctx context.Context, frame []byte) error {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			p.config.Metrics.IncTransportSendRetries()
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.TxChannel, frame).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	p.config.Metrics.IncTransportSendFailures()
	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Receive returns the next frame published on the rx channel. It returns
// io.EOF once the port is closed.
func (p *Port) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-p.msgs:
		if !ok {
			return nil, io.EOF
		}
		return []byte(msg.Payload), nil
	}
}

// Close releases the subscription and the client.
func (p *Port) Close() error {
	subErr := p.sub.Close()
	if err := p.client.Close(); err != nil {
		return err
	}
	return subErr
}

// Verify Port implements link.Port.
var _ link.Port = (*Port)(nil)
