package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootwatch/types"
)

// DefaultPollInterval is the safety-net re-check period. Notifications may be
// coalesced or dropped, so the file is re-read by value on every wake anyway.
const DefaultPollInterval = 500 * time.Millisecond

// ErrIdle ends a wait in which the status file did not change.
var ErrIdle = errors.New("status unchanged before idle timeout")

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithoutNotify skips fsnotify and relies on polling alone.
func WithoutNotify() Option {
	return func(w *Watcher) { w.notify = false }
}

// Watcher emits a record each time the status file's identity or mtime
// changes. It watches the parent directory rather than the file, because the
// writer replaces the file by rename and a file watch would die with the old inode.
//
// A Watcher is not safe for concurrent use.
type Watcher struct {
	path   string
	poll   time.Duration
	notify bool

	fsw  *fsnotify.Watcher
	last os.FileInfo
}

// Watch prepares a Watcher for path. If the notification backend cannot be
// armed, the Watcher degrades to polling.
func Watch(ctx context.Context, path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w := &Watcher{path: abs, poll: DefaultPollInterval, notify: true}
	for _, opt := range opts {
		opt(w)
	}
	if !w.notify {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fsw.Add(filepath.Dir(abs)); err != nil {
			_ = fsw.Close()
		}
	}
	if err != nil {
		log.WithFunc("status.Watch").Warnf(ctx, "notifications unavailable for %s, polling every %s: %v", abs, w.poll, err)
		return w, nil
	}
	w.fsw = fsw
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Notifying reports whether filesystem notifications are armed.
func (w *Watcher) Notifying() bool { return w.fsw != nil }

// Next blocks until the status file holds content not yet emitted and
// returns it. A file that exists but fails to parse is returned as an error
// and counts as emitted, so the caller can log it and call Next again.
// Next returns ErrIdle when nothing changes for idle, and ctx.Err() on cancellation.
func (w *Watcher) Next(ctx context.Context, idle time.Duration) (types.StatusRecord, error) {
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.fsw != nil {
		events, errs = w.fsw.Events, w.fsw.Errors
	}

	recheck := true
	for {
		if recheck {
			if rec, changed, err := w.check(ctx); changed {
				return rec, err
			}
		}
		recheck = false

		select {
		case <-ctx.Done():
			return types.StatusRecord{}, ctx.Err()
		case <-idleTimer.C:
			return types.StatusRecord{}, ErrIdle
		case <-ticker.C:
			recheck = true
		case ev, ok := <-events:
			if !ok {
				events = nil
				recheck = true
				continue
			}
			recheck = filepath.Clean(ev.Name) == w.path
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// overflow and friends: events were lost, fall back to reading by value
			log.WithFunc("status.Next").Warnf(ctx, "watch %s: %v", w.path, err)
			recheck = true
		}
	}
}

// Records yields every change until the file stays idle for idle or ctx ends.
// Parse failures are yielded as errors and iteration continues.
func (w *Watcher) Records(ctx context.Context, idle time.Duration) iter.Seq2[types.StatusRecord, error] {
	return func(yield func(types.StatusRecord, error) bool) {
		for {
			rec, err := w.Next(ctx, idle)
			switch {
			case errors.Is(err, ErrIdle):
				return
			case ctx.Err() != nil:
				yield(types.StatusRecord{}, ctx.Err())
				return
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Close stops the notification backend.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

// check reads the file when its stamp moved since the last emission.
func (w *Watcher) check(ctx context.Context) (types.StatusRecord, bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithFunc("status.check").Warnf(ctx, "stat %s: %v", w.path, err)
		}
		return types.StatusRecord{}, false, nil
	}
	if w.unchanged(info) {
		return types.StatusRecord{}, false, nil
	}

	f, err := os.Open(w.path)
	if err != nil {
		// replaced or removed between stat and open: the next wake sees the new stamp
		return types.StatusRecord{}, false, nil
	}
	defer f.Close() //nolint:errcheck

	rec, info, err := readOpen(f)
	if info == nil {
		return types.StatusRecord{}, false, nil
	}
	if w.unchanged(info) {
		return types.StatusRecord{}, false, nil
	}
	w.last = info
	return rec, true, err
}

func (w *Watcher) unchanged(info os.FileInfo) bool {
	return w.last != nil &&
		os.SameFile(w.last, info) &&
		w.last.ModTime().Equal(info.ModTime()) &&
		w.last.Size() == info.Size()
}
