// Package readiness decides when a freshly booted guest accepts SSH.
//
// Two signals race under one deadline: boot states streamed by a monitor
// process running next to the VM, and a periodic SSH probe. Whichever proves
// reachability first wins; the monitor is always torn down before returning.
package readiness

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/projecteru2/bootwatch/progress"
)

const (
	DefaultProbeInterval = time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

var (
	// ErrTimeout means the deadline passed with neither signal succeeding.
	ErrTimeout = errors.New("timed out waiting for VM to become ready")
	// ErrMonitorExited means the monitor stream ended without being stopped.
	// It is fatal and takes precedence over polling.
	ErrMonitorExited = errors.New("status monitor exited unexpectedly")
)

// Monitor is a running status monitor.
type Monitor interface {
	// Output is the monitor's stream of JSON status lines.
	Output() io.Reader
	// Stop terminates the monitor and returns once it has been reaped.
	// After Stop, reads from Output must not block. Stop must be idempotent.
	Stop() error
}

// Bridge starts a status monitor inside the environment hosting target.
type Bridge interface {
	StartMonitor(ctx context.Context, target string) (Monitor, error)
}

// Prober checks whether target accepts an SSH session right now.
type Prober interface {
	Probe(ctx context.Context, target string) error
}

// exitReporter is implemented by monitors that can explain an unexpected exit.
type exitReporter interface {
	ExitError() error
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithProbeInterval sets the delay between SSH probes.
func WithProbeInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.probeInterval = d
		}
	}
}

// WithProbeTimeout bounds a single SSH probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.probeTimeout = d
		}
	}
}

// WithTracker receives progress/boot events. It is called from several goroutines.
func WithTracker(t progress.Tracker) Option {
	return func(w *Waiter) {
		if t != nil {
			w.tracker = t
		}
	}
}

// Waiter runs readiness waits. It holds no per-wait state and may be reused,
// but concurrent waits against the same VM are not supported.
type Waiter struct {
	bridge        Bridge
	prober        Prober
	probeInterval time.Duration
	probeTimeout  time.Duration
	tracker       progress.Tracker
}

// New creates a Waiter.
func New(bridge Bridge, prober Prober, opts ...Option) *Waiter {
	w := &Waiter{
		bridge:        bridge,
		prober:        prober,
		probeInterval: DefaultProbeInterval,
		probeTimeout:  DefaultProbeTimeout,
		tracker:       progress.Nop,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}
