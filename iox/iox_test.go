package iox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/bitwire/log"
)

type spyCloser struct{ closed atomic.Bool }

func (s *spyCloser) Close() error { s.closed.Store(true); return errors.New("boom") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed.Load() {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed.Load() {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed.Load() {
		t.Fatal("Close was not called")
	}
}

func TestCloseOnDone(t *testing.T) {
	s := &spyCloser{}
	ctx, cancel := context.WithCancel(t.Context())
	_ = CloseOnDone(ctx, s)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for !s.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("Close was not called after cancel")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseOnDone_Stop(t *testing.T) {
	s := &spyCloser{}
	ctx, cancel := context.WithCancel(t.Context())
	stop := CloseOnDone(ctx, s)
	if !stop() {
		t.Error("stop() = false, want true before ctx is done")
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
	if s.closed.Load() {
		t.Error("Close called after stop")
	}
}

func TestCloseLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLoggerWithWriter(nil, &buf, log.ParseLevel("info"))

	CloseLogged(logger, "capture", &spyCloser{})
	_ = logger.Sync()

	out := buf.String()
	if !strings.Contains(out, "capture close failed") || !strings.Contains(out, "boom") {
		t.Errorf("log output = %q, want close failure with error", out)
	}
}
