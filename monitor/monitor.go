// Package monitor streams status file changes as JSON lines. It runs inside
// the container next to the VM and is the far end of the exec bridge.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootwatch/status"
)

// DefaultIdleTimeout bounds a single quiet wait; the stream itself never idles out.
const DefaultIdleTimeout = 30 * time.Second

// Options tunes Stream.
type Options struct {
	IdleTimeout  time.Duration
	PollInterval time.Duration
	// DisableNotify forces polling, for filesystems without inotify support.
	DisableNotify bool
}

// Stream writes one JSON line to out for every deduplicated change of the
// status file at path, until ctx is cancelled or out stops accepting writes.
// Unparseable snapshots are logged and skipped.
func Stream(ctx context.Context, path string, out io.Writer, opts Options) error {
	logger := log.WithFunc("monitor.Stream")
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	watchOpts := []status.Option{status.WithPollInterval(opts.PollInterval)}
	if opts.DisableNotify {
		watchOpts = append(watchOpts, status.WithoutNotify())
	}
	watcher, err := status.Watch(ctx, path, watchOpts...)
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck
	logger.Infof(ctx, "streaming %s (notify=%v)", watcher.Path(), watcher.Notifying())

	enc := json.NewEncoder(out)
	for {
		rec, err := watcher.Next(ctx, opts.IdleTimeout)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, status.ErrIdle):
			continue
		case err != nil:
			logger.Warnf(ctx, "skip unreadable status: %v", err)
			continue
		}

		if err := enc.Encode(rec); err != nil {
			if readerGone(err) {
				logger.Infof(ctx, "reader went away, stopping")
				return nil
			}
			return fmt.Errorf("write status line: %w", err)
		}
	}
}

func readerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
