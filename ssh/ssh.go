// Package ssh reaches the guest's sshd, either through the container that
// forwards the guest port or directly from the host.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootwatch/podman"
	"github.com/projecteru2/bootwatch/readiness"
)

const (
	DefaultUser    = "root"
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 2222
	DefaultKeyPath = "/run/tmproot/var/lib/bootwatch/ssh"
)

// Options describes how to reach the guest sshd.
type Options struct {
	User           string        `json:"user" mapstructure:"user"`
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	KeyPath        string        `json:"key_path" mapstructure:"key_path"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
}

// DefaultOptions targets the hypervisor's forwarded port inside the container.
func DefaultOptions() Options {
	return Options{
		User:           DefaultUser,
		Host:           DefaultHost,
		Port:           DefaultPort,
		KeyPath:        DefaultKeyPath,
		ConnectTimeout: 5 * time.Second, //nolint:mnd
	}
}

// Addr is host:port.
func (o Options) Addr() string {
	return o.Host + ":" + strconv.Itoa(o.Port)
}

// Args builds an ssh(1) argument list that never prompts and never touches
// known_hosts; the guest host key is new on every boot.
func (o Options) Args(remote ...string) []string {
	args := []string{
		"-i", o.KeyPath,
		"-o", "IdentitiesOnly=yes",
		"-o", "PasswordAuthentication=no",
		"-o", "KbdInteractiveAuthentication=no",
		"-o", "GSSAPIAuthentication=no",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
	}
	if o.ConnectTimeout > 0 {
		secs := max(int(o.ConnectTimeout/time.Second), 1)
		args = append(args, "-o", "ConnectTimeout="+strconv.Itoa(secs))
	}
	args = append(args, o.User+"@"+o.Host, "-p", strconv.Itoa(o.Port))
	if len(remote) > 0 {
		args = append(args, "--")
		args = append(args, remote...)
	}
	return args
}

var _ readiness.Prober = (*ExecProber)(nil)

// ExecProber runs "ssh ... -- true" inside the container.
type ExecProber struct {
	Client  *podman.Client
	Options Options
}

func (p *ExecProber) Probe(ctx context.Context, container string) error {
	args := append([]string{"exec", container, "ssh"}, p.Options.Args("true")...)
	out, err := p.Client.Command(ctx, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ssh probe %s: %s: %w", container, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Connect runs an interactive ssh session through the container and returns
// ssh's exit code. A non-nil error means ssh could not be run at all.
func Connect(ctx context.Context, client *podman.Client, container string, opts Options, remote []string) (int, error) {
	if err := client.EnsureRunning(ctx, container); err != nil {
		return -1, err
	}
	args := append([]string{"exec", "-it", container, "ssh"}, opts.Args(remote...)...)
	log.WithFunc("ssh.Connect").Infof(ctx, "connecting to %s as %s", container, opts.User)

	cmd := client.Command(ctx, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("run ssh: %w", err)
	}
}
