// Package supervisor turns systemd sd_notify messages from the guest into
// status file updates.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/mdlayher/vsock"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootwatch/types"
)

// maxMessage bounds a single notification; sd_notify payloads are a few lines.
const maxMessage = 64 << 10

// StateWriter receives boot states. status.Writer implements it.
type StateWriter interface {
	Update(rec types.StatusRecord) error
	UpdateState(state types.BootState) error
}

// ParseNotify extracts boot states from an sd_notify payload, in order.
// READY=1 maps to Ready and X_SYSTEMD_UNIT_ACTIVE=<unit> to ReachedTarget;
// every other assignment is ignored.
func ParseNotify(payload string) []types.BootState {
	var states []types.BootState
	for line := range strings.Lines(payload) {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "READY":
			if value == "1" {
				states = append(states, types.Ready())
			}
		case "X_SYSTEMD_UNIT_ACTIVE":
			if value != "" {
				states = append(states, types.ReachedTarget(value))
			}
		}
	}
	return states
}

// Begin publishes the initial state, before systemd has said anything.
func Begin(w StateWriter) error {
	return w.UpdateState(types.WaitingForSystemd())
}

// MarkUnsupported tells readers this guest will never report, so they poll.
func MarkUnsupported(w StateWriter) error {
	return w.Update(types.NoReportingRecord())
}

// NotifySocketCredential is the SMBIOS credential pointing guest systemd at
// an AF_VSOCK stream listener on cid:port.
func NotifySocketCredential(cid, port uint32) string {
	return fmt.Sprintf("io.systemd.credential:vmm.notify_socket=vsock-stream:%d:%d", cid, port)
}

// HostNotifySocketCredential targets the host side of the VM.
func HostNotifySocketCredential(port uint32) string {
	return NotifySocketCredential(vsock.Host, port)
}

// Relay applies newline-separated notifications from r until EOF or ctx ends.
func Relay(ctx context.Context, r io.Reader, w StateWriter) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		apply(ctx, w, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read notifications: %w", err)
	}
	return nil
}

// ListenVsock accepts vmm.notify_socket connections on port until ctx ends.
func ListenVsock(ctx context.Context, port uint32, w StateWriter) error {
	l, err := vsock.Listen(port, nil)
	if err != nil {
		return fmt.Errorf("vsock listen on port %d: %w", port, err)
	}
	log.WithFunc("supervisor.ListenVsock").Infof(ctx, "listening for systemd notifications on vsock port %d", port)
	return Serve(ctx, l, w)
}

// Serve handles one notification message per accepted connection. systemd
// opens a fresh stream connection for every sd_notify call.
func Serve(ctx context.Context, l net.Listener, w StateWriter) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.Close() //nolint:errcheck

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept notification: %w", err)
		}
		payload, err := io.ReadAll(io.LimitReader(conn, maxMessage))
		_ = conn.Close()
		if err != nil {
			log.WithFunc("supervisor.Serve").Warnf(ctx, "read notification: %v", err)
			continue
		}
		apply(ctx, w, string(payload))
	}
}

// apply logs write failures and carries on; boot must not stall on status I/O.
func apply(ctx context.Context, w StateWriter, payload string) {
	logger := log.WithFunc("supervisor.apply")
	for _, st := range ParseNotify(payload) {
		if err := w.UpdateState(st); err != nil {
			logger.Warnf(ctx, "publish %s: %v", st, err)
			continue
		}
		logger.Infof(ctx, "boot state: %s", st)
	}
}
