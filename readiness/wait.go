package readiness

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/bootwatch/progress/boot"
	"github.com/projecteru2/bootwatch/types"
)

// errReady short-circuits the errgroup once either signal proves SSH works.
var errReady = errors.New("ready")

const exitReportWait = time.Second

// WaitForReady blocks until target accepts SSH, timeout passes, the monitor
// dies unexpectedly, or ctx is cancelled. The monitor has been stopped and
// reaped by the time it returns.
func (w *Waiter) WaitForReady(ctx context.Context, target string, timeout time.Duration) (err error) {
	if timeout <= 0 {
		return fmt.Errorf("invalid readiness timeout %s", timeout)
	}
	s := &wait{
		Waiter: w,
		id:     uuid.NewString()[:8],
		target: target,
		start:  time.Now(),
	}
	logger := log.WithFunc("readiness.WaitForReady")
	logger.Infof(ctx, "[%s] waiting for %s, timeout %s", s.id, target, units.HumanDuration(timeout))

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mon, err := w.bridge.StartMonitor(dctx, target)
	if err != nil {
		return fmt.Errorf("start status monitor for %s: %w", target, err)
	}
	s.mon = mon
	s.stop = sync.OnceValue(func() error {
		s.stopping.Store(true)
		return mon.Stop()
	})
	defer func() {
		if serr := s.stop(); serr != nil {
			logger.Warnf(ctx, "[%s] stop status monitor: %v", s.id, serr)
		}
		if err != nil {
			s.emit(boot.Event{Phase: boot.PhaseFailed, Err: err})
		}
	}()
	s.emit(boot.Event{Phase: boot.PhaseMonitor})

	g, gctx := errgroup.WithContext(dctx)
	unregister := context.AfterFunc(gctx, func() { _ = s.stop() })
	defer unregister()

	probeNow := make(chan struct{}, 1)
	g.Go(func() error { return s.consume(gctx, probeNow) })
	g.Go(func() error { return s.poll(gctx, probeNow) })
	return s.classify(ctx, g.Wait(), timeout)
}

// wait is the state of one WaitForReady call.
type wait struct {
	*Waiter
	id     string
	target string
	start  time.Time

	mon      Monitor
	stop     func() error
	stopping atomic.Bool
	// exited is set as soon as the stream ends without our Stop, before the
	// exit detail is collected; exitErr is only read after the group returns.
	exited  atomic.Bool
	exitErr error

	mu   sync.Mutex
	last *types.BootState
}

// consume turns monitor lines into progress. It returns nil once the status
// path is abandoned, errReady on ssh_access, and ErrMonitorExited when the
// stream ends without us having stopped it.
func (s *wait) consume(ctx context.Context, probeNow chan<- struct{}) error {
	logger := log.WithFunc("readiness.consume")
	lines := bufio.NewScanner(s.mon.Output())
	for lines.Scan() {
		line := lines.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.StatusRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warnf(ctx, "[%s] ignore malformed status line %q: %v", s.id, line, err)
			continue
		}

		switch {
		case rec.SSHAccess:
			s.emit(boot.Event{Phase: boot.PhaseReady})
			return errReady
		case rec.NoReporting:
			logger.Infof(ctx, "[%s] guest cannot report boot state, polling SSH only", s.id)
			s.emit(boot.Event{Phase: boot.PhaseUnsupported})
			if err := s.stop(); err != nil {
				logger.Warnf(ctx, "[%s] stop status monitor: %v", s.id, err)
			}
			return nil
		case rec.State != nil:
			s.observe(*rec.State)
			if rec.State.IsReady() {
				select {
				case probeNow <- struct{}{}:
				default:
				}
			}
		}
	}

	if s.stopping.Load() {
		return nil
	}
	s.exited.Store(true)
	s.exitErr = s.monitorExited(lines.Err())
	return s.exitErr
}

func (s *wait) monitorExited(readErr error) error {
	err := ErrMonitorExited
	if readErr != nil {
		err = fmt.Errorf("%w: read: %w", err, readErr)
	}
	rep, ok := s.mon.(exitReporter)
	if !ok {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- rep.ExitError() }()
	select {
	case exitErr := <-done:
		if exitErr != nil {
			err = fmt.Errorf("%w: %w", err, exitErr)
		}
	case <-time.After(exitReportWait):
	}
	return err
}

// poll probes immediately, then every probeInterval, or early when the
// guest announces Ready.
func (s *wait) poll(ctx context.Context, probeNow <-chan struct{}) error {
	logger := log.WithFunc("readiness.poll")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-probeNow:
		}

		err := s.probe(ctx)
		if err == nil {
			logger.Infof(ctx, "[%s] ssh reachable on attempt %d after %s", s.id, attempt, time.Since(s.start).Round(time.Millisecond))
			s.emit(boot.Event{Phase: boot.PhaseReady, Attempt: attempt})
			return errReady
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.emit(boot.Event{Phase: boot.PhaseProbe, Attempt: attempt, Err: err})
		timer.Reset(s.probeInterval)
	}
}

func (s *wait) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.prober.Probe(pctx, s.target)
}

func (s *wait) observe(state types.BootState) {
	s.mu.Lock()
	s.last = &state
	s.mu.Unlock()
	s.emit(boot.Event{Phase: boot.PhaseState, State: &state})
}

func (s *wait) lastState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return "none"
	}
	return s.last.String()
}

func (s *wait) emit(e boot.Event) {
	e.Elapsed = time.Since(s.start)
	s.tracker.OnEvent(e)
}

// classify maps the group outcome to the caller-facing error.
func (s *wait) classify(ctx context.Context, err error, timeout time.Duration) error {
	switch {
	case s.exited.Load():
		return fmt.Errorf("wait for %s: %w", s.target, s.exitErr)
	case errors.Is(err, errReady):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s not reachable after %s (last boot state: %s)",
			ErrTimeout, s.target, timeout, s.lastState())
	default:
		return err
	}
}
