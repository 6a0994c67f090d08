package readiness

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/bootwatch/progress"
	"github.com/projecteru2/bootwatch/progress/boot"
)

type fakeMonitor struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	stops     atomic.Int32
	exitErr   error
	exitDelay time.Duration
}

func newFakeMonitor() *fakeMonitor {
	pr, pw := io.Pipe()
	return &fakeMonitor{pr: pr, pw: pw}
}

func (m *fakeMonitor) Output() io.Reader { return m.pr }

func (m *fakeMonitor) Stop() error {
	m.stops.Add(1)
	return m.pr.Close()
}

func (m *fakeMonitor) ExitError() error {
	time.Sleep(m.exitDelay)
	return m.exitErr
}

// emit feeds lines in the background; writes fail harmlessly once stopped.
func (m *fakeMonitor) emit(delay time.Duration, lines ...string) {
	go func() {
		time.Sleep(delay)
		for _, l := range lines {
			if _, err := io.WriteString(m.pw, l+"\n"); err != nil {
				return
			}
		}
	}()
}

type fakeBridge struct {
	mon *fakeMonitor
	err error
}

func (b fakeBridge) StartMonitor(context.Context, string) (Monitor, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.mon, nil
}

type countingProber struct {
	calls     atomic.Int32
	succeedAt int32 // 0: never
}

func (p *countingProber) Probe(ctx context.Context, _ string) error {
	n := p.calls.Add(1)
	if p.succeedAt > 0 && n >= p.succeedAt {
		return nil
	}
	return errors.New("connection refused")
}

type recorder struct {
	mu     sync.Mutex
	events []boot.Event
}

func (r *recorder) tracker() progress.Tracker {
	return progress.NewTracker(func(e boot.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
}

func (r *recorder) phases(p boot.Phase) []boot.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []boot.Event
	for _, e := range r.events {
		if e.Phase == p {
			out = append(out, e)
		}
	}
	return out
}

func TestProbeWinsAndStopsMonitor(t *testing.T) {
	mon := newFakeMonitor()
	prober := &countingProber{succeedAt: 1}
	w := New(fakeBridge{mon: mon}, prober, WithProbeInterval(50*time.Millisecond))

	require.NoError(t, w.WaitForReady(context.Background(), "vm", 5*time.Second))
	assert.EqualValues(t, 1, mon.stops.Load(), "monitor must be stopped exactly once before returning")
	assert.EqualValues(t, 1, prober.calls.Load())
}

func TestSSHAccessLineWins(t *testing.T) {
	mon := newFakeMonitor()
	mon.emit(0, `{"state":{"ready":null},"ssh_access":true}`)
	prober := &countingProber{}
	rec := &recorder{}
	w := New(fakeBridge{mon: mon}, prober, WithProbeInterval(time.Hour), WithTracker(rec.tracker()))

	require.NoError(t, w.WaitForReady(context.Background(), "vm", 5*time.Second))
	assert.EqualValues(t, 1, mon.stops.Load())
	assert.Len(t, rec.phases(boot.PhaseReady), 1)
}

func TestGracefulDegradationWhenGuestCannotReport(t *testing.T) {
	const interval = 50 * time.Millisecond
	mon := newFakeMonitor()
	mon.emit(0, `{}`)
	prober := &countingProber{succeedAt: 3}
	rec := &recorder{}
	w := New(fakeBridge{mon: mon}, prober, WithProbeInterval(interval), WithTracker(rec.tracker()))

	start := time.Now()
	require.NoError(t, w.WaitForReady(context.Background(), "vm", 5*time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
	assert.EqualValues(t, 3, prober.calls.Load())
	assert.EqualValues(t, 1, mon.stops.Load())
	assert.Len(t, rec.phases(boot.PhaseUnsupported), 1)
	assert.Len(t, rec.phases(boot.PhaseProbe), 2)
}

func TestTimeoutFidelity(t *testing.T) {
	const interval = 50 * time.Millisecond
	const timeout = 2 * interval
	mon := newFakeMonitor()
	mon.emit(0, `{"state":{"reached_target":"basic.target"}}`)
	w := New(fakeBridge{mon: mon}, &countingProber{}, WithProbeInterval(interval))

	start := time.Now()
	err := w.WaitForReady(context.Background(), "vm", timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrMonitorExited)
	assert.Contains(t, err.Error(), "reached basic.target")
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+interval+200*time.Millisecond)
	assert.EqualValues(t, 1, mon.stops.Load())
}

func TestMonitorExitIsFatal(t *testing.T) {
	mon := newFakeMonitor()
	mon.exitErr = errors.New("exit status 1")
	require.NoError(t, mon.pw.Close())
	w := New(fakeBridge{mon: mon}, &countingProber{}, WithProbeInterval(50*time.Millisecond))

	start := time.Now()
	err := w.WaitForReady(context.Background(), "vm", 10*time.Second)
	require.ErrorIs(t, err, ErrMonitorExited)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "exit status 1")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMonitorExitNearDeadlineIsNotTimeout(t *testing.T) {
	mon := newFakeMonitor()
	mon.exitErr = errors.New("exit status 137")
	mon.exitDelay = 300 * time.Millisecond
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = mon.pw.Close()
	}()
	w := New(fakeBridge{mon: mon}, &countingProber{}, WithProbeInterval(50*time.Millisecond))

	err := w.WaitForReady(context.Background(), "vm", 200*time.Millisecond)
	require.ErrorIs(t, err, ErrMonitorExited)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "exit status 137")
}

func TestTimeoutMessageKeepsSubSecondPrecision(t *testing.T) {
	mon := newFakeMonitor()
	w := New(fakeBridge{mon: mon}, &countingProber{}, WithProbeInterval(20*time.Millisecond))

	err := w.WaitForReady(context.Background(), "vm", 150*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "after 150ms")
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	mon := newFakeMonitor()
	mon.emit(0,
		`garbage`,
		`{"state":{"waiting_for_systemd":null}}`,
		`{"state":{"nonsense":1}}`,
		`{"state":{"reached_target":"sshd.service"}}`,
		`{"state":{"ready":null},"ssh_access":true}`,
	)
	rec := &recorder{}
	w := New(fakeBridge{mon: mon}, &countingProber{}, WithProbeInterval(time.Hour), WithTracker(rec.tracker()))

	require.NoError(t, w.WaitForReady(context.Background(), "vm", 5*time.Second))
	states := rec.phases(boot.PhaseState)
	require.Len(t, states, 2)
	assert.Equal(t, "sshd.service", states[1].State.Target)
}

func TestReadyTriggersImmediateProbe(t *testing.T) {
	mon := newFakeMonitor()
	mon.emit(50*time.Millisecond, `{"state":{"ready":null}}`)
	prober := &countingProber{succeedAt: 2}
	w := New(fakeBridge{mon: mon}, prober, WithProbeInterval(time.Hour))

	start := time.Now()
	require.NoError(t, w.WaitForReady(context.Background(), "vm", 10*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 2, prober.calls.Load())
}

func TestBridgeFailure(t *testing.T) {
	boom := errors.New("no such container")
	w := New(fakeBridge{err: boom}, &countingProber{succeedAt: 1})
	err := w.WaitForReady(context.Background(), "vm", time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestCallerCancellationPassesThrough(t *testing.T) {
	mon := newFakeMonitor()
	w := New(fakeBridge{mon: mon}, &countingProber{}, WithProbeInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(60*time.Millisecond, cancel)
	err := w.WaitForReady(ctx, "vm", 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.EqualValues(t, 1, mon.stops.Load())
}

func TestInvalidTimeout(t *testing.T) {
	w := New(fakeBridge{mon: newFakeMonitor()}, &countingProber{})
	assert.Error(t, w.WaitForReady(context.Background(), "vm", 0))
}
