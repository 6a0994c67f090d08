// Package systemd inspects the guest image's systemd.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// vmmNotifyMinVersion is the first release honouring the vmm.notify_socket credential.
const vmmNotifyMinVersion = 254

// ErrNoVersion is returned when the output has no version field.
var ErrNoVersion = errors.New("systemd version not found")

// Version is a systemd major version.
type Version uint32

// ParseVersion reads the second field of the first line of `systemctl --version`,
// e.g. "systemd 254 (254.5-1.fc39)".
func ParseVersion(output string) (Version, error) {
	first, _, _ := strings.Cut(output, "\n")
	fields := strings.Fields(first)
	if len(fields) < 2 { //nolint:mnd
		return 0, ErrNoVersion
	}
	n, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse systemd version %q: %w", fields[1], err)
	}
	return Version(n), nil
}

// CurrentVersion asks the local systemctl.
func CurrentVersion(ctx context.Context) (Version, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "--version").Output()
	if err != nil {
		return 0, fmt.Errorf("systemctl --version: %w", err)
	}
	return ParseVersion(string(out))
}

// HasVMMNotify reports whether this systemd can announce boot progress to the
// hypervisor over vmm.notify_socket.
func (v Version) HasVMMNotify() bool { return v >= vmmNotifyMinVersion }

func (v Version) String() string { return fmt.Sprintf("systemd %d", uint32(v)) }
