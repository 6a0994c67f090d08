package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"
)

// StaleTempAge is how old an abandoned atomic-write temp file must be before
// it is swept.
const StaleTempAge = time.Minute

// EnsureDirs creates all directories with 0o750 permissions.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil { //nolint:mnd
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RemoveStaleTemps deletes temp files left next to target by writers that
// died between create and rename. Returns one error per file it failed to remove.
func RemoveStaleTemps(ctx context.Context, target string) []error {
	return RemoveMatching(ctx, filepath.Dir(target), func(e os.DirEntry) bool {
		if e.IsDir() || !IsAtomicTemp(e.Name(), target) {
			return false
		}
		info, err := e.Info()
		return err == nil && time.Since(info.ModTime()) > StaleTempAge
	})
}

// RemoveMatching scans dir and removes entries where match returns true.
func RemoveMatching(ctx context.Context, dir string, match func(os.DirEntry) bool) []error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []error{fmt.Errorf("read %s: %w", dir, err)}
	}

	var errs []error
	for _, e := range entries {
		if !match(e) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		} else {
			log.WithFunc("utils.RemoveMatching").Infof(ctx, "removed stale %s", path)
		}
	}
	return errs
}
