package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/projecteru2/bootwatch/config"
	"github.com/projecteru2/bootwatch/envdetect"
	"github.com/projecteru2/bootwatch/monitor"
	"github.com/projecteru2/bootwatch/podman"
	"github.com/projecteru2/bootwatch/progress"
	"github.com/projecteru2/bootwatch/readiness"
	"github.com/projecteru2/bootwatch/ssh"
)

// AnnotationStdoutProtocol marks commands whose stdout is a machine-read
// stream; logging is moved to stderr before it is set up.
const AnnotationStdoutProtocol = "bootwatch/stdout-protocol"

var protocolOut io.Writer = os.Stdout

// ReserveStdout hands the real stdout to ProtocolOut and points os.Stdout at
// stderr, so nothing else can write into the protocol stream.
func ReserveStdout() {
	protocolOut = os.Stdout
	os.Stdout = os.Stderr
}

// ProtocolOut is where stdout-protocol commands write their stream.
func ProtocolOut() io.Writer { return protocolOut }

// ExitError carries a child's exit code out through cobra to main.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return conf, nil
}

// EnvProvider hands out the process's environment snapshot.
type EnvProvider func() (*envdetect.Environment, error)

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// InitPodman creates the podman client.
func InitPodman(conf *config.Config) *podman.Client {
	return podman.New(conf.PodmanBinary)
}

// SSHOptions maps the ssh config section.
func SSHOptions(conf *config.Config) ssh.Options {
	return ssh.Options{
		User:           conf.SSH.User,
		Host:           conf.SSH.Host,
		Port:           conf.SSH.Port,
		KeyPath:        conf.SSH.KeyPath,
		ConnectTimeout: conf.SSH.ConnectTimeout,
	}
}

// InitProber picks a direct dialer or the in-container ssh client.
func InitProber(conf *config.Config, client *podman.Client) (readiness.Prober, error) {
	if conf.SSH.Direct {
		p, err := ssh.NewDialProber(SSHOptions(conf))
		if err != nil {
			return nil, fmt.Errorf("init ssh prober: %w", err)
		}
		return p, nil
	}
	return &ssh.ExecProber{Client: client, Options: SSHOptions(conf)}, nil
}

// InitBridge watches ready.host_status_path directly when it is set and
// otherwise execs the monitor inside the container.
func InitBridge(conf *config.Config, client *podman.Client) readiness.Bridge {
	if conf.Ready.HostStatusPath != "" {
		return &monitor.LocalBridge{
			Path:    conf.Ready.HostStatusPath,
			Options: monitor.Options{PollInterval: conf.Ready.PollInterval},
		}
	}
	return &podman.MonitorBridge{
		Client:     client,
		Entrypoint: conf.Entrypoint,
		StatusPath: conf.StatusPath,
		StopGrace:  conf.Ready.StopGrace,
	}
}

// InitWaiter wires the bridge, the prober, and tracker into a Waiter.
func InitWaiter(conf *config.Config, client *podman.Client, tracker progress.Tracker) (*readiness.Waiter, error) {
	prober, err := InitProber(conf, client)
	if err != nil {
		return nil, err
	}
	return readiness.New(InitBridge(conf, client), prober,
		readiness.WithProbeInterval(conf.Ready.ProbeInterval),
		readiness.WithProbeTimeout(conf.Ready.ProbeTimeout),
		readiness.WithTracker(tracker),
	), nil
}
