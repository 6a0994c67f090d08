package vm

import "github.com/spf13/cobra"

// Actions defines operations against a running ephemeral VM.
type Actions interface {
	Wait(cmd *cobra.Command, args []string) error
	SSH(cmd *cobra.Command, args []string) error
}

// Commands builds the host-side VM command set (wait, ssh).
func Commands(h Actions) []*cobra.Command {
	waitCmd := &cobra.Command{
		Use:   "wait [flags] CONTAINER",
		Short: "Block until the VM in CONTAINER accepts SSH",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Wait,
	}
	addWaitFlags(waitCmd)

	sshCmd := &cobra.Command{
		Use:   "ssh [flags] CONTAINER [-- COMMAND...]",
		Short: "Wait for the VM in CONTAINER, then open an SSH session",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.SSH,
	}
	addWaitFlags(sshCmd)
	sshCmd.Flags().Bool("no-wait", false, "connect immediately without waiting for readiness")

	return []*cobra.Command{waitCmd, sshCmd}
}

func addWaitFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "readiness deadline (default from config ready.timeout)")
	cmd.Flags().Bool("quiet", false, "suppress the progress spinner")
	cmd.Flags().Bool("wait-running", false, "first wait for the container itself to reach running")
	cmd.Flags().String("status-file", "", "watch this host-visible status file instead of exec'ing the monitor")
}
