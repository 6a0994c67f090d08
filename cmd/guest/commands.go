package guest

import (
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootwatch/cmd/core"
)

// Actions defines the commands run inside the VM's container.
type Actions interface {
	MonitorStatus(cmd *cobra.Command, args []string) error
	Supervise(cmd *cobra.Command, args []string) error
	NotifyCredential(cmd *cobra.Command, args []string) error
}

// Command builds the hidden "container-entrypoint" parent command.
func Command(h Actions) *cobra.Command {
	entry := &cobra.Command{
		Use:    "container-entrypoint",
		Short:  "Commands executed inside the VM container",
		Hidden: true,
	}

	monitorCmd := &cobra.Command{
		Use:         "monitor-status",
		Short:       "Stream status file changes as JSON lines on stdout",
		Args:        cobra.NoArgs,
		RunE:        h.MonitorStatus,
		Annotations: map[string]string{cmdcore.AnnotationStdoutProtocol: "true"},
	}
	monitorCmd.Flags().String("status-path", "", "status file (default from config status_path)")
	monitorCmd.Flags().Bool("poll", false, "poll instead of using filesystem notifications")
	monitorCmd.Flags().Bool("allow-host", false, "run even when not inside a container")

	superviseCmd := &cobra.Command{
		Use:   "supervise",
		Short: "Publish systemd boot notifications to the status file",
		Args:  cobra.NoArgs,
		RunE:  h.Supervise,
	}
	superviseCmd.Flags().String("status-path", "", "status file (default from config status_path)")
	superviseCmd.Flags().String("notify-file", "", `read notifications from a file or "-" for stdin instead of vsock`)
	superviseCmd.Flags().Uint32("vsock-port", 0, "vsock port to listen on (default from config vsock_port)")
	superviseCmd.Flags().Bool("skip-version-check", false, "assume systemd supports vmm.notify_socket")

	credCmd := &cobra.Command{
		Use:   "notify-credential",
		Short: "Print the SMBIOS credential that points guest systemd at the supervisor",
		Args:  cobra.NoArgs,
		RunE:  h.NotifyCredential,
	}
	credCmd.Flags().Uint32("vsock-port", 0, "vsock port (default from config vsock_port)")

	entry.AddCommand(monitorCmd, superviseCmd, credCmd)
	return entry
}
