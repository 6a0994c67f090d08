package guest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootwatch/cmd/core"
	"github.com/projecteru2/bootwatch/config"
	"github.com/projecteru2/bootwatch/monitor"
	"github.com/projecteru2/bootwatch/status"
	"github.com/projecteru2/bootwatch/supervisor"
	"github.com/projecteru2/bootwatch/systemd"
)

// ErrNotInContainer guards commands that only make sense next to the VM.
var ErrNotInContainer = errors.New("not running inside a container")

type Handler struct {
	cmdcore.BaseHandler
	Env cmdcore.EnvProvider
}

func (h Handler) MonitorStatus(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if allowHost, _ := cmd.Flags().GetBool("allow-host"); !allowHost {
		if err := h.requireContainer(); err != nil {
			return err
		}
	}
	poll, _ := cmd.Flags().GetBool("poll")
	return monitor.Stream(ctx, statusPath(cmd, conf), cmdcore.ProtocolOut(), monitor.Options{
		PollInterval:  conf.Ready.PollInterval,
		DisableNotify: poll,
	})
}

func (h Handler) Supervise(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.supervise")

	w, err := status.OpenWriter(ctx, statusPath(cmd, conf))
	if err != nil {
		return err
	}
	defer w.Close(ctx) //nolint:errcheck

	if skip, _ := cmd.Flags().GetBool("skip-version-check"); !skip {
		supported, err := vmmNotifySupported(ctx)
		if err != nil {
			logger.Warnf(ctx, "cannot determine systemd version, assuming no boot reporting: %v", err)
		}
		if !supported {
			return supervisor.MarkUnsupported(w)
		}
	}
	if err := supervisor.Begin(w); err != nil {
		return err
	}

	if src, _ := cmd.Flags().GetString("notify-file"); src != "" {
		r, closeFn, err := openNotifySource(src)
		if err != nil {
			return err
		}
		defer closeFn() //nolint:errcheck
		return supervisor.Relay(ctx, r, w)
	}

	port := vsockPort(cmd, conf)
	logger.Infof(ctx, "guest credential: %s", supervisor.HostNotifySocketCredential(port))
	return supervisor.ListenVsock(ctx, port, w)
}

func (h Handler) NotifyCredential(cmd *cobra.Command, _ []string) error {
	conf, err := h.Conf()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), supervisor.HostNotifySocketCredential(vsockPort(cmd, conf)))
	return err
}

func (h Handler) requireContainer() error {
	if h.Env == nil {
		return nil
	}
	env, err := h.Env()
	if err != nil {
		return fmt.Errorf("detect environment: %w", err)
	}
	if !env.Container {
		return fmt.Errorf("%w (pass --allow-host to override)", ErrNotInContainer)
	}
	return nil
}

func vmmNotifySupported(ctx context.Context) (bool, error) {
	v, err := systemd.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	log.WithFunc("cmd.supervise").Infof(ctx, "image has %s, vmm.notify_socket supported: %v", v, v.HasVMMNotify())
	return v.HasVMMNotify(), nil
}

func openNotifySource(src string) (io.Reader, func() error, error) {
	if src == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(src) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, nil, fmt.Errorf("open notify source: %w", err)
	}
	return f, f.Close, nil
}

func statusPath(cmd *cobra.Command, conf *config.Config) string {
	if p, _ := cmd.Flags().GetString("status-path"); p != "" {
		return p
	}
	return conf.StatusPath
}

func vsockPort(cmd *cobra.Command, conf *config.Config) uint32 {
	if p, _ := cmd.Flags().GetUint32("vsock-port"); p != 0 {
		return p
	}
	return conf.VsockPort
}
