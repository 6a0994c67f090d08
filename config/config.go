package config

import (
	"errors"
	"fmt"
	"time"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global bootwatch configuration.
type Config struct {
	// StatusPath is the status file inside the container, shared by the
	// supervisor (writer) and the monitor (reader).
	StatusPath string `json:"status_path" mapstructure:"status_path"`
	// PodmanBinary is the podman executable on the host.
	PodmanBinary string `json:"podman_binary" mapstructure:"podman_binary"`
	// Entrypoint is the bootwatch binary as seen from inside the container.
	Entrypoint string `json:"entrypoint" mapstructure:"entrypoint"`
	// VsockPort is where the supervisor listens for vmm.notify_socket streams.
	VsockPort uint32 `json:"vsock_port" mapstructure:"vsock_port"`

	Ready ReadyConfig `json:"ready" mapstructure:"ready"`
	SSH   SSHConfig   `json:"ssh" mapstructure:"ssh"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// ReadyConfig tunes readiness waits.
type ReadyConfig struct {
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	ProbeInterval time.Duration `json:"probe_interval" mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	// StopGrace is how long the monitor gets between SIGTERM and SIGKILL.
	StopGrace time.Duration `json:"stop_grace" mapstructure:"stop_grace"`
	// PollInterval is the monitor's safety-net re-check of the status file.
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	// HostStatusPath, when set, is the status file as visible from the host
	// (a bind-mounted run dir). It is watched directly instead of via podman exec.
	HostStatusPath string `json:"host_status_path" mapstructure:"host_status_path"`
}

// SSHConfig is how the guest sshd is reached from inside the container.
type SSHConfig struct {
	User           string        `json:"user" mapstructure:"user"`
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	KeyPath        string        `json:"key_path" mapstructure:"key_path"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	// Direct dials the guest from the host instead of exec'ing ssh in the container.
	Direct bool `json:"direct" mapstructure:"direct"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StatusPath:   "/run/supervisor-status.json",
		PodmanBinary: "podman",
		Entrypoint:   "/run/bootwatch/bootwatch",
		VsockPort:    9999, //nolint:mnd
		Ready: ReadyConfig{
			Timeout:       60 * time.Second,       //nolint:mnd
			ProbeInterval: time.Second,            //nolint:mnd
			ProbeTimeout:  5 * time.Second,        //nolint:mnd
			StopGrace:     2 * time.Second,        //nolint:mnd
			PollInterval:  500 * time.Millisecond, //nolint:mnd
		},
		SSH: SSHConfig{
			User:           "root",
			Host:           "127.0.0.1",
			Port:           2222, //nolint:mnd
			KeyPath:        "/run/tmproot/var/lib/bootwatch/ssh",
			ConnectTimeout: 5 * time.Second, //nolint:mnd
		},
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Validate rejects values that would make waits meaningless.
func (c *Config) Validate() error {
	var errs []error
	if c.StatusPath == "" {
		errs = append(errs, errors.New("status_path is empty"))
	}
	if c.Ready.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ready.timeout must be positive, got %s", c.Ready.Timeout))
	}
	if c.Ready.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("ready.probe_interval must be positive, got %s", c.Ready.ProbeInterval))
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port out of range: %d", c.SSH.Port))
	}
	return errors.Join(errs...)
}
