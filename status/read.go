package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/projecteru2/bootwatch/types"
)

// ReadFile reads and parses the status file once.
func ReadFile(path string) (types.StatusRecord, error) {
	f, err := os.Open(path) //nolint:gosec // caller-supplied status path
	if err != nil {
		return types.StatusRecord{}, err
	}
	defer f.Close() //nolint:errcheck
	rec, _, err := readOpen(f)
	return rec, err
}

// readOpen returns the record together with the fstat of the same open file,
// so the stamp always describes exactly the bytes that were parsed.
func readOpen(f *os.File) (types.StatusRecord, os.FileInfo, error) {
	info, err := f.Stat()
	if err != nil {
		return types.StatusRecord{}, nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return types.StatusRecord{}, info, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	var rec types.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.StatusRecord{}, info, fmt.Errorf("parse %s: %w", f.Name(), err)
	}
	return rec, info, nil
}
