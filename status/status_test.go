package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/bootwatch/types"
)

func TestOpenWriterSingleOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "supervisor-status.json")

	w, err := OpenWriter(ctx, path)
	require.NoError(t, err)

	_, err = OpenWriter(ctx, path)
	assert.ErrorIs(t, err, ErrWriterBusy)

	require.NoError(t, w.Close(ctx))
	w2, err := OpenWriter(ctx, path)
	require.NoError(t, err)
	require.NoError(t, w2.Close(ctx))
}

func TestOpenWriterSweepsStaleTemps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisor-status.json")
	stale := filepath.Join(dir, ".tmp-supervisor-status.json-123")
	require.NoError(t, os.WriteFile(stale, []byte("{"), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	w, err := OpenWriter(ctx, path)
	require.NoError(t, err)
	defer w.Close(ctx) //nolint:errcheck
	assert.NoFileExists(t, stale)
}

func TestUpdateAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor-status.json")
	w := NewWriter(path)

	_, err := ReadFile(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, w.UpdateState(types.ReachedTarget("basic.target")))
	rec, err := ReadFile(path)
	require.NoError(t, err)
	require.NotNil(t, rec.State)
	assert.Equal(t, types.ReachedTarget("basic.target"), *rec.State)

	require.NoError(t, w.Update(types.NoReportingRecord()))
	rec, err = ReadFile(path)
	require.NoError(t, err)
	assert.True(t, rec.NoReporting)
}

func TestUpdateMissingDirectory(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "gone", "supervisor-status.json"))
	assert.Error(t, w.UpdateState(types.Ready()))
}

// Readers racing a busy writer must only ever see complete documents.
func TestAtomicReplaceUnderConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor-status.json")
	w := NewWriter(path)
	require.NoError(t, w.UpdateState(types.WaitingForSystemd()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var failures sync.Map
	for r := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := ReadFile(path); err != nil {
					failures.Store(r, err)
				}
			}
		}()
	}

	for i := range 200 {
		require.NoError(t, w.UpdateState(types.ReachedTarget(fmt.Sprintf("unit-%d.target", i))))
	}
	close(stop)
	wg.Wait()

	failures.Range(func(k, v any) bool {
		t.Errorf("reader %v saw partial content: %v", k, v)
		return true
	})
}

func TestWatcherDeduplicates(t *testing.T) {
	for name, opts := range map[string][]Option{
		"notify": nil,
		"poll":   {WithoutNotify(), WithPollInterval(10 * time.Millisecond)},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "supervisor-status.json")
			w := NewWriter(path)

			watcher, err := Watch(ctx, path, opts...)
			require.NoError(t, err)
			defer watcher.Close() //nolint:errcheck

			require.NoError(t, w.UpdateState(types.WaitingForSystemd()))
			rec, err := watcher.Next(ctx, 2*time.Second)
			require.NoError(t, err)
			assert.Equal(t, types.BootWaitingForSystemd, rec.State.Kind)

			// nothing changed since: no second emission
			_, err = watcher.Next(ctx, 150*time.Millisecond)
			assert.ErrorIs(t, err, ErrIdle)

			const writes = 5
			for i := range writes - 1 {
				require.NoError(t, w.UpdateState(types.ReachedTarget(fmt.Sprintf("t%d.target", i))))
			}
			require.NoError(t, w.UpdateState(types.Ready()))

			var got []types.StatusRecord
			for {
				rec, err := watcher.Next(ctx, 300*time.Millisecond)
				if errors.Is(err, ErrIdle) {
					break
				}
				require.NoError(t, err)
				got = append(got, rec)
			}
			require.NotEmpty(t, got)
			assert.LessOrEqual(t, len(got), writes)
			assert.True(t, got[len(got)-1].State.IsReady())
		})
	}
}

func TestWatcherFileAppearsLater(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "supervisor-status.json")
	watcher, err := Watch(ctx, path)
	require.NoError(t, err)
	defer watcher.Close() //nolint:errcheck
	assert.True(t, watcher.Notifying())

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = NewWriter(path).UpdateState(types.Ready())
	}()

	rec, err := watcher.Next(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, rec.State.IsReady())
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisor-status.json")
	watcher, err := Watch(ctx, path, WithPollInterval(time.Hour))
	require.NoError(t, err)
	defer watcher.Close() //nolint:errcheck

	for i := range 10 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("noise-%d", i)), []byte("x"), 0o600))
	}
	_, err = watcher.Next(ctx, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrIdle)
}

func TestWatcherParseErrorThenRecovers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "supervisor-status.json")
	watcher, err := Watch(ctx, path)
	require.NoError(t, err)
	defer watcher.Close() //nolint:errcheck

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = watcher.Next(ctx, 2*time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdle)

	_, err = watcher.Next(ctx, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrIdle, "a bad document is emitted once")

	require.NoError(t, NewWriter(path).UpdateState(types.Ready()))
	rec, err := watcher.Next(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, rec.State.IsReady())
}

func TestWatcherRecordsEndsOnIdle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "supervisor-status.json")
	require.NoError(t, NewWriter(path).UpdateState(types.WaitingForSystemd()))

	watcher, err := Watch(ctx, path)
	require.NoError(t, err)
	defer watcher.Close() //nolint:errcheck

	n := 0
	for rec, err := range watcher.Records(ctx, 100*time.Millisecond) {
		require.NoError(t, err)
		assert.Equal(t, types.BootWaitingForSystemd, rec.State.Kind)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestWatcherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	watcher, err := Watch(ctx, filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	defer watcher.Close() //nolint:errcheck

	cancel()
	_, err = watcher.Next(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
