package monitor

import (
	"context"
	"io"
	"sync"

	"github.com/projecteru2/bootwatch/readiness"
)

var _ readiness.Bridge = (*LocalBridge)(nil)

// LocalBridge streams a status file the host can see directly (for example a
// bind-mounted run directory), so no process is started inside the container.
type LocalBridge struct {
	// Path is the status file on the host. Empty means the wait target is the path.
	Path    string
	Options Options
}

// StartMonitor implements readiness.Bridge.
func (b *LocalBridge) StartMonitor(ctx context.Context, target string) (readiness.Monitor, error) {
	path := b.Path
	if path == "" {
		path = target
	}
	pr, pw := io.Pipe()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &localMonitor{out: pr, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(m.done)
		m.err = Stream(sctx, path, pw, b.Options)
		_ = pw.CloseWithError(m.err)
	}()
	return m, nil
}

type localMonitor struct {
	out    *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	once   sync.Once
}

func (m *localMonitor) Output() io.Reader { return m.out }

// Stop cancels the stream and closes the read side, which also unblocks a
// pending line write. It returns once the stream goroutine is gone.
func (m *localMonitor) Stop() error {
	m.once.Do(func() {
		m.cancel()
		_ = m.out.Close()
		<-m.done
	})
	return nil
}

// ExitError reports why the stream ended on its own.
func (m *localMonitor) ExitError() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}
