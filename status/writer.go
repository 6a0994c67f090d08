// Package status persists guest boot progress to a well-known JSON file and
// turns changes to that file into a deduplicated record sequence.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootwatch/lock"
	"github.com/projecteru2/bootwatch/lock/flock"
	"github.com/projecteru2/bootwatch/types"
	"github.com/projecteru2/bootwatch/utils"
)

// DefaultPath is where the guest supervisor publishes boot state.
const DefaultPath = "/run/supervisor-status.json"

// ErrWriterBusy means another process already owns the status file.
var ErrWriterBusy = errors.New("status file already has a writer")

// Writer replaces the status file atomically on every update.
// Updates from several goroutines are serialised.
type Writer struct {
	mu     sync.Mutex
	path   string
	locker lock.Locker
}

// OpenWriter claims path for this process via an flock on "<path>.lock" and
// sweeps temp files left by a previous writer that crashed mid-update.
func OpenWriter(ctx context.Context, path string) (*Writer, error) {
	l := flock.New(path + ".lock")
	ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock status file %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWriterBusy, path)
	}
	for _, err := range utils.RemoveStaleTemps(ctx, path) {
		log.WithFunc("status.OpenWriter").Warnf(ctx, "sweep temp files: %v", err)
	}
	return &Writer{path: path, locker: l}, nil
}

// NewWriter returns a writer without the cross-process lock, for callers
// that already guarantee a single writer.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string { return w.path }

// Update publishes rec as the complete new content of the status file.
func (w *Writer) Update(rec types.StatusRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := utils.AtomicWriteJSON(w.path, rec); err != nil {
		return fmt.Errorf("update status %s: %w", w.path, err)
	}
	return nil
}

// UpdateState publishes state as the current boot state.
func (w *Writer) UpdateState(state types.BootState) error {
	return w.Update(types.NewStatusRecord(state))
}

// Close releases the writer lock. The status file itself is left in place.
func (w *Writer) Close(ctx context.Context) error {
	if w.locker == nil {
		return nil
	}
	return w.locker.Unlock(ctx)
}
