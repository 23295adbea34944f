// Command pomosync keeps a local pomodoro log and settings in sync with a
// pomodoro account.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pomosync/pomosync/internal/config"
	"github.com/pomosync/pomosync/internal/ui"
)

var (
	// v carries defaults, the environment and the global flags.
	v = config.New()

	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "pomosync",
	Short: "Local-first sync for your pomodoro sessions",
	Long: `pomosync records completed pomodoro sessions and timer settings locally
and keeps them in sync with your account.

Everything works offline. When the account service is reachable, new
sessions are pushed and the account's data is pulled down. When the local
copy and the account disagree after a login you choose how to reconcile
them with 'pomosync resolve'.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions and settings:"},
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: config.toml in the data directory)")
	flags.String("data-dir", "", "data directory (default: ~/.pomosync)")
	flags.String("remote-url", "", "account API base URL")
	flags.BoolP("verbose", "v", false, "also log to stderr")

	bindFlag(v, "data_dir", "data-dir")
	bindFlag(v, "remote.url", "remote-url")
	bindFlag(v, "log.verbose", "verbose")
}

func bindFlag(v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}
