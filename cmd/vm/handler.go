package vm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootwatch/cmd/core"
	"github.com/projecteru2/bootwatch/config"
	"github.com/projecteru2/bootwatch/console"
	"github.com/projecteru2/bootwatch/podman"
	"github.com/projecteru2/bootwatch/progress"
	"github.com/projecteru2/bootwatch/readiness"
	"github.com/projecteru2/bootwatch/ssh"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Wait(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	return h.waitReady(ctx, cmd, conf, cmdcore.InitPodman(conf), args[0])
}

func (h Handler) SSH(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	client := cmdcore.InitPodman(conf)
	container, remote := args[0], args[1:]

	if noWait, _ := cmd.Flags().GetBool("no-wait"); !noWait {
		if err := h.waitReady(ctx, cmd, conf, client, container); err != nil {
			return err
		}
	}

	code, err := ssh.Connect(ctx, client, container, cmdcore.SSHOptions(conf), remote)
	if err != nil {
		return err
	}
	if code != 0 {
		return cmdcore.ExitError{Code: code}
	}
	return nil
}

// waitReady runs one readiness wait with the spinner on stderr.
func (h Handler) waitReady(ctx context.Context, cmd *cobra.Command, conf *config.Config, client *podman.Client, container string) error {
	timeout := conf.Ready.Timeout
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		timeout = d
	}
	if path, _ := cmd.Flags().GetString("status-file"); path != "" {
		c := *conf
		c.Ready.HostStatusPath = path
		conf = &c
	}
	if waitRunning, _ := cmd.Flags().GetBool("wait-running"); waitRunning {
		start := time.Now()
		if err := client.WaitRunning(ctx, container, timeout); err != nil {
			return err
		}
		if timeout -= time.Since(start); timeout <= 0 {
			return fmt.Errorf("%w: %s only reached running at the deadline", readiness.ErrTimeout, container)
		}
	}

	tracker := progress.Nop
	var presenter *console.BootPresenter
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		presenter = console.NewBootPresenter(os.Stderr)
		tracker = presenter.Tracker()
	}

	waiter, err := cmdcore.InitWaiter(conf, client, tracker)
	if err != nil {
		return err
	}
	if presenter != nil {
		presenter.Start()
	}
	err = waiter.WaitForReady(ctx, container, timeout)
	if presenter != nil {
		presenter.Finish(err)
	}
	if err != nil {
		return err
	}
	log.WithFunc("cmd.wait").Infof(ctx, "%s is ready", container)
	return nil
}
