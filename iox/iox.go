// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"context"
	"io"

	"github.com/pithecene-io/bitwire/log"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// CloseOnDone closes c once ctx is done, unblocking any reader or writer
// stuck on it. The returned stop function cancels the pending close and
// reports whether it did so.
func CloseOnDone(ctx context.Context, c io.Closer) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = c.Close() })
}

// CloseLogged closes c and logs a failure at warn level under what.
func CloseLogged(logger *log.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn(what+" close failed", map[string]any{"error": err.Error()})
	}
}
