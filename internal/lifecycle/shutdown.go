// Package lifecycle runs registered cleanup on graceful shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

type cleanup struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdown collects cleanup callbacks and runs them once, newest first.
type Shutdown struct {
	mu        sync.Mutex
	callbacks []cleanup
	done      bool
}

// New creates an empty Shutdown.
func New() *Shutdown {
	return &Shutdown{}
}

// Register adds a named cleanup callback.
func (s *Shutdown) Register(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cleanup{name: name, fn: fn})
}

// Run executes every callback in reverse registration order. Errors and
// panics are logged and do not stop later callbacks. Only the first call
// does anything; it reports whether it ran.
func (s *Shutdown) Run(ctx context.Context, sig os.Signal) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.done = true
	callbacks := append([]cleanup(nil), s.callbacks...)
	s.mu.Unlock()

	if sig != nil {
		slog.Info("Received signal, shutting down", "signal", sig.String())
	} else {
		slog.Info("Shutdown initiated")
	}
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := runOne(ctx, cb); err != nil {
			slog.Error("Error during shutdown", "step", cb.name, "error", err)
		}
	}
	return true
}

func runOne(ctx context.Context, cb cleanup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb.fn(ctx)
}
