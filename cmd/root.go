package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/projecteru2/bootwatch/cmd/core"
	cmdguest "github.com/projecteru2/bootwatch/cmd/guest"
	cmdothers "github.com/projecteru2/bootwatch/cmd/others"
	cmdvm "github.com/projecteru2/bootwatch/cmd/vm"
	"github.com/projecteru2/bootwatch/config"
	"github.com/projecteru2/bootwatch/envdetect"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = newRootCmd(viper.GetViper())

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bootwatch",
		Short:         "bootwatch - readiness for ephemeral VMs booted from container images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[cmdcore.AnnotationStdoutProtocol] == "true" {
				cmdcore.ReserveStdout()
			}
			return initConfig(cmdcore.CommandContext(cmd), v)
		},
	}

	defaults := config.DefaultConfig()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("podman", defaults.PodmanBinary, "podman binary")
	cmd.PersistentFlags().String("entrypoint", defaults.Entrypoint, "bootwatch path inside the container")
	cmd.PersistentFlags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")

	_ = v.BindPFlag("podman_binary", cmd.PersistentFlags().Lookup("podman"))
	_ = v.BindPFlag("entrypoint", cmd.PersistentFlags().Lookup("entrypoint"))
	_ = v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	v.SetEnvPrefix("BOOTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	confProvider := func() *config.Config { return conf }
	base := cmdcore.BaseHandler{ConfProvider: confProvider}

	for _, c := range cmdvm.Commands(cmdvm.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	cmd.AddCommand(cmdguest.Command(cmdguest.Handler{BaseHandler: base, Env: envdetect.Cached("/")}))
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	return cmd
}

func initConfig(ctx context.Context, v *viper.Viper) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return log.SetupLog(ctx, &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
