package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/framing"
	"github.com/pithecene-io/bitwire/log"
	"github.com/pithecene-io/bitwire/metrics"
	"github.com/pithecene-io/bitwire/protocol"
	"github.com/pithecene-io/bitwire/types"
)

// Tap observes every frame a Client sends or applies. Implementations must
// not block for long; they run on the client's pump goroutines.
type Tap interface {
	Tap(ctx context.Context, dir types.Direction, message string, id uint64, frame []byte)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger. Defaults to log.Nop().
func WithLogger(l *log.Logger) ClientOption { return func(c *Client) { c.logger = l } }

// WithMetrics sets the collector updated by the client.
func WithMetrics(m *metrics.Collector) ClientOption { return func(c *Client) { c.metrics = m } }

// WithTap registers a frame observer, typically a capture.Recorder.
func WithTap(t Tap) ClientOption { return func(c *Client) { c.tap = t } }

// Client owns a protocol state and pumps it against a port.
type Client struct {
	mu    sync.Mutex
	state *protocol.State
	set   *protocol.MessageSet

	port    Port
	logger  *log.Logger
	metrics *metrics.Collector
	tap     Tap

	// txReady wakes the send loop; txDone wakes Put callers waiting for
	// channel space; rxDone is signalled after each applied frame.
	txReady chan struct{}
	txDone  chan struct{}
	rxDone  chan struct{}
}

// NewClient wraps state. The client takes ownership: state must not be used
// directly afterwards.
func NewClient(state *protocol.State, port Port, opts ...ClientOption) *Client {
	c := &Client{
		state:   state,
		set:     state.MessageSet(),
		port:    port,
		logger:  log.Nop(),
		txReady: make(chan struct{}, 1),
		txDone:  make(chan struct{}, 1),
		rxDone:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run sends pending messages and applies received frames until ctx is done
// or the port fails. It returns nil when the peer closes the stream.
func (c *Client) Run(ctx context.Context) error {
	if c.set == nil {
		return protocol.ErrNotInitialized
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rxErr := make(chan error, 1)
	go func() { rxErr <- c.receiveLoop(ctx) }()

	for {
		if err := c.flush(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-rxErr:
			return err
		case <-c.txReady:
		}
	}
}

// flush sends every pending Out message.
func (c *Client) flush(ctx context.Context) error {
	buf := make([]byte, c.set.SizeOut())
	for {
		c.mu.Lock()
		n, err := c.state.Encode(buf)
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if n == 0 {
			return nil
		}
		frame := buf[:n]
		id, name := c.frameID(protocol.Out, frame)
		if err := c.port.Send(ctx, frame); err != nil {
			c.logger.Error("send failed", map[string]any{"message": name, "error": err.Error()})
			return fmt.Errorf("send %s: %w", name, err)
		}
		c.metrics.RecordSent(n)
		if c.tap != nil {
			c.tap.Tap(ctx, types.DirectionTx, name, id, frame)
		}
		c.logger.Debug("frame sent", map[string]any{"message": name, "size": n})
		signal(c.txDone)
	}
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		frame, err := c.port.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("peer closed stream", nil)
				return nil
			}
			if framing.IsFatalFrameError(err) || ctx.Err() != nil {
				return err
			}
			var fe *framing.FrameError
			if errors.As(err, &fe) {
				c.metrics.IncFramingErrors()
				c.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
				continue
			}
			return err
		}
		c.apply(ctx, frame)
	}
}

// apply decodes one frame. Decode failures are logged and counted, never
// fatal.
func (c *Client) apply(ctx context.Context, frame []byte) {
	c.mu.Lock()
	st, err := c.state.DecodeApply(frame)
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordRejected(len(frame))
		switch {
		case errors.Is(err, protocol.ErrUnrecognized):
			c.metrics.IncUnrecognizedIDs()
		case errors.Is(err, codec.ErrUnknownDiscriminant):
			c.metrics.IncUnknownDiscriminants()
		default:
			c.metrics.IncDecodeErrors()
		}
		c.logger.Warn("frame rejected", map[string]any{
			"id":     st.ID,
			"status": st.Code.String(),
			"error":  err.Error(),
		})
		return
	}

	c.metrics.RecordReceived(st.Message, len(frame))
	if c.tap != nil {
		c.tap.Tap(ctx, types.DirectionRx, st.Message, st.ID, frame)
	}
	c.logger.Debug("frame applied", map[string]any{"message": st.Message, "status": st.Code.String()})
	signal(c.rxDone)
}

func (c *Client) frameID(dir protocol.Direction, frame []byte) (uint64, string) {
	id, err := bitio.NewReader(frame, c.set.Options().Order).Read(c.set.IDWidth, false)
	if err != nil {
		return 0, ""
	}
	name, _ := c.set.ByID(dir, id)
	return id, name
}

// Updates is signalled after each applied frame. Receivers should re-read
// the values they care about; signals coalesce.
func (c *Client) Updates() <-chan struct{} { return c.rxDone }

// Set stores v as the value of Out message name and wakes the send loop.
func (c *Client) Set(name string, v any) error {
	c.mu.Lock()
	err := c.state.Set(name, v)
	c.mu.Unlock()
	if err == nil {
		signal(c.txReady)
	}
	return err
}

// Update applies fn to the value of Out message name and wakes the send loop.
func (c *Client) Update(name string, fn func(any) any) error {
	c.mu.Lock()
	err := c.state.Update(name, fn)
	c.mu.Unlock()
	if err == nil {
		signal(c.txReady)
	}
	return err
}

// Value returns a copy of the value of message name.
func (c *Client) Value(name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Value(name)
}

// Snapshot copies the whole state.
func (c *Client) Snapshot() (protocol.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Put enqueues v into Out channel name, blocking until there is space or
// ctx is done.
func (c *Client) Put(ctx context.Context, name string, v any) error {
	for {
		c.mu.Lock()
		ok, err := c.state.Enqueue(name, v)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if ok {
			signal(c.txReady)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.txDone:
		}
	}
}

// Get dequeues the oldest message from channel name. The boolean is false
// when the channel is empty.
func (c *Client) Get(name string) (any, bool, error) {
	c.mu.Lock()
	v, ok, err := c.state.Dequeue(name)
	c.mu.Unlock()
	signal(c.txReady)
	return v, ok, err
}

// Avail returns the number of messages queued in channel name.
func (c *Client) Avail(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Avail(name)
}
