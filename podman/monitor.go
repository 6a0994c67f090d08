package podman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootwatch/readiness"
	"github.com/projecteru2/bootwatch/utils"
)

const (
	DefaultStopGrace = 2 * time.Second
	stderrTail       = 4096
)

var _ readiness.Bridge = (*MonitorBridge)(nil)

// MonitorBridge starts "container-entrypoint monitor-status" inside the
// container via podman exec and hands its stdout to the readiness waiter.
type MonitorBridge struct {
	Client     *Client
	Entrypoint string // bootwatch binary path inside the container
	StatusPath string
	StopGrace  time.Duration
}

// MonitorArgs returns the podman arguments that launch the in-container monitor.
func (b *MonitorBridge) MonitorArgs(container string) []string {
	args := []string{"exec", container, b.Entrypoint, "container-entrypoint", "monitor-status"}
	if b.StatusPath != "" {
		args = append(args, "--status-path", b.StatusPath)
	}
	return args
}

// StartMonitor implements readiness.Bridge. The process is not tied to ctx;
// its lifetime is owned by the returned Monitor's Stop.
func (b *MonitorBridge) StartMonitor(ctx context.Context, container string) (readiness.Monitor, error) {
	if err := b.Client.EnsureRunning(ctx, container); err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create monitor pipe: %w", err)
	}

	grace := b.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd := exec.Command(b.Client.Binary, b.MonitorArgs(container)...) //nolint:gosec,noctx // lifetime owned by Stop
	cmd.Stdout = pw
	cmd.Stderr = stderr
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("exec monitor in %s: %w", container, err)
	}
	// the child holds its own copy; keeping ours would hide EOF
	_ = pw.Close()
	log.WithFunc("podman.StartMonitor").Infof(ctx, "monitor started in %s, pid %d", container, cmd.Process.Pid)

	m := &execMonitor{
		cmd:    cmd,
		out:    pr,
		stderr: stderr,
		grace:  grace,
		exited: make(chan struct{}),
	}
	go func() {
		m.waitErr = cmd.Wait()
		close(m.exited)
	}()
	return m, nil
}

type execMonitor struct {
	cmd    *exec.Cmd
	out    *os.File
	stderr *tailBuffer
	grace  time.Duration

	exited  chan struct{}
	waitErr error

	once    sync.Once
	stopErr error
}

func (m *execMonitor) Output() io.Reader { return m.out }

// Stop sends SIGTERM, escalates to SIGKILL after the grace period, and
// returns only once the process has been reaped.
func (m *execMonitor) Stop() error {
	m.once.Do(func() {
		termErr := utils.TerminateProcess(m.cmd.Process, m.exited, m.grace)
		closeErr := m.out.Close()
		if errors.Is(closeErr, os.ErrClosed) {
			closeErr = nil
		}
		m.stopErr = errors.Join(termErr, closeErr)
	})
	return m.stopErr
}

// ExitError waits for the process and explains a non-zero exit with the
// tail of its stderr.
func (m *execMonitor) ExitError() error {
	<-m.exited
	if m.waitErr == nil {
		return nil
	}
	if tail := strings.TrimSpace(m.stderr.String()); tail != "" {
		return fmt.Errorf("%w: %s", m.waitErr, tail)
	}
	return m.waitErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
