package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/bitwire/framing"
	"github.com/pithecene-io/bitwire/metrics"
	"github.com/pithecene-io/bitwire/protocol"
	"github.com/pithecene-io/bitwire/shape"
	"github.com/pithecene-io/bitwire/types"
)

func testSet(t *testing.T) *protocol.MessageSet {
	t.Helper()
	set, err := protocol.NewMessageSet("Counter", 2,
		[]protocol.MessageDef{
			{ID: 0, Name: "a", Shape: shape.U(16)},
			{ID: 1, Name: "log", Shape: shape.U(8), Depth: 2},
		},
		[]protocol.MessageDef{
			{ID: 0, Name: "set_a", Shape: shape.U(16)},
			{ID: 1, Name: "add_a", Shape: shape.U(16), Apply: protocol.Accumulate},
		},
	)
	if err != nil {
		t.Fatalf("NewMessageSet failed: %v", err)
	}
	return set
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingTap struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingTap) Tap(_ context.Context, dir types.Direction, message string, _ uint64, _ []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(dir)+":"+message)
	r.mu.Unlock()
}

func (r *recordingTap) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func startPair(t *testing.T, portA, portB Port, optsA ...ClientOption) (*Client, *Client) {
	t.Helper()
	set := testSet(t)
	a := NewClient(protocol.NewState(set), portA, optsA...)
	b := NewClient(protocol.NewState(set.Mirror()), portB)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = a.Run(ctx) }()
	go func() { defer wg.Done(); _ = b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = portA.Close()
		_ = portB.Close()
		wg.Wait()
	})
	return a, b
}

func TestClient_LatestValueExchange(t *testing.T) {
	portA, portB := Pipe(4)
	m := metrics.NewCollector("Counter", "mem", "", "sess-1")
	tap := &recordingTap{}
	a, b := startPair(t, portA, portB, WithMetrics(m), WithTap(tap))

	if err := b.Set("set_a", 42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	waitFor(t, "set_a applied", func() bool {
		v, _ := a.Value("set_a")
		return v == uint64(42)
	})

	for i := 0; i < 3; i++ {
		if err := b.Set("add_a", 10); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		waitFor(t, "add_a applied", func() bool {
			return m.Snapshot().ReceivedByMessage["add_a"] == int64(i+1)
		})
	}
	if v, _ := a.Value("add_a"); v != uint64(30) {
		t.Errorf("add_a = %v, want 30", v)
	}

	if err := a.Set("a", 7); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	waitFor(t, "a applied at peer", func() bool {
		v, _ := b.Value("a")
		return v == uint64(7)
	})
	waitFor(t, "tap saw every frame", func() bool { return len(tap.seen()) == 5 })

	if s := m.Snapshot(); s.FramesSent != 1 || s.FramesReceived != 4 {
		t.Errorf("frames sent/received = %d/%d, want 1/4", s.FramesSent, s.FramesReceived)
	}
	seen := tap.seen()
	if len(seen) != 5 || seen[0] != "rx:set_a" || seen[4] != "tx:a" {
		t.Errorf("tap saw %v", seen)
	}
}

func TestClient_ChannelMessagesArriveInOrder(t *testing.T) {
	portA, portB := Pipe(0)
	a, b := startPair(t, portA, portB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 1; i <= 5; i++ {
		if err := a.Put(ctx, "log", i); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
		var got any
		waitFor(t, "log message at peer", func() bool {
			v, ok, err := b.Get("log")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			got = v
			return ok
		})
		if got != uint64(i) {
			t.Errorf("log #%d = %v, want %d", i, got, i)
		}
	}
}

func TestClient_PutBlocksUntilSent(t *testing.T) {
	portA, peer := Pipe(0)
	a := NewClient(protocol.NewState(testSet(t)), portA)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 1; i <= 2; i++ {
		if err := a.Put(ctx, "log", i); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}
	third := make(chan error, 1)
	go func() { third <- a.Put(ctx, "log", 3) }()
	select {
	case err := <-third:
		t.Fatalf("Put on full channel returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	go func() { _ = a.Run(ctx) }()
	for want := uint64(1); want <= 3; want++ {
		frame, err := peer.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		id := frame[0] >> 6
		value := uint64(frame[0]&0x3F)<<2 | uint64(frame[1]>>6)
		if id != 1 || value != want {
			t.Errorf("frame % x = id %d value %d, want id 1 value %d", frame, id, value, want)
		}
	}
	if err := <-third; err != nil {
		t.Errorf("blocked Put = %v, want nil", err)
	}
}

func TestClient_PutHonoursContext(t *testing.T) {
	set := testSet(t)
	portA, _ := Pipe(0)
	// Not running: nothing drains the channel.
	a := NewClient(protocol.NewState(set), portA)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := a.Put(ctx, "log", i); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}
	if n, _ := a.Avail("log"); n != 2 {
		t.Errorf("Avail = %d, want 2", n)
	}
	if err := a.Put(ctx, "log", 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put on full channel = %v, want deadline exceeded", err)
	}
}

func TestClient_RejectedFramesAreCounted(t *testing.T) {
	portA, peer := Pipe(4)
	set := testSet(t)
	m := metrics.NewCollector("Counter", "mem", "", "sess-1")
	a := NewClient(protocol.NewState(set), portA, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// id 3 is not an In message; a one-byte frame is too short for set_a.
	_ = peer.Send(ctx, []byte{0xC0, 0x00, 0x00})
	_ = peer.Send(ctx, []byte{0x00})
	waitFor(t, "rejections counted", func() bool {
		s := m.Snapshot()
		return s.UnrecognizedIDs == 1 && s.DecodeErrors == 1
	})
	if s := m.Snapshot(); s.FramesReceived != 2 {
		t.Errorf("FramesReceived = %d, want 2", s.FramesReceived)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestStreamPort_OverNetPipe(t *testing.T) {
	connA, connB := net.Pipe()
	portA := NewStreamPort(connA, framing.COBS{})
	portB := NewStreamPort(connB, framing.COBS{})
	a, b := startPair(t, portA, portB)

	if err := b.Set("set_a", 0x0100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	waitFor(t, "set_a over stream", func() bool {
		v, _ := a.Value("set_a")
		return v == uint64(0x0100)
	})
}

func TestClient_RunReturnsNilOnPeerClose(t *testing.T) {
	portA, portB := Pipe(1)
	a := NewClient(protocol.NewState(testSet(t)), portA)
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	_ = portB.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after peer close")
	}
}
