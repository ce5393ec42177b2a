// Package testutil provides shared test helpers for asynchronous code.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second

	// NoSignalWindow is how long tests watch a channel to assert it stays silent.
	NoSignalWindow = 50 * time.Millisecond
)

// WaitForChannel waits for a signal on the channel or fails after timeout.
// Use this for waiting on done channels, task completion and similar signals.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// RequireNoSignal fails if ch fires within NoSignalWindow.
func RequireNoSignal(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
		require.Fail(t, msg)
	case <-time.After(NoSignalWindow):
	}
}

// RunAsync runs fn in a goroutine and returns a channel closed when it returns.
func RunAsync(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}
