package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/config"
	"github.com/pomosync/pomosync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage pomosync configuration",
	Long: `Manage pomosync configuration.

Settings come from, in increasing precedence: built-in defaults, the config
file (config.toml, config.yaml or config.json in the data directory, or
--config), POMOSYNC_* environment variables (POMOSYNC_REMOTE_URL,
POMOSYNC_DAEMON_PROBE_INTERVAL, ...) and command-line flags.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to config.toml",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			fatal("%v", err)
		}
		force, _ := cmd.Flags().GetBool("force")
		path := configFile
		if path == "" {
			path = cfg.FilePath()
		}
		if err := config.Write(path, cfg, force); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass(ui.IconPass), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			fatal("%v", err)
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Printf("%s\n\n", ui.RenderMuted("# from "+used))
		}
		timeout := "none"
		if cfg.Remote.Timeout > 0 {
			timeout = cfg.Remote.Timeout.String()
		}
		fmt.Printf("data_dir               %s\n", cfg.DataDir)
		fmt.Printf("remote.url             %s\n", cfg.Remote.URL)
		fmt.Printf("remote.timeout         %s\n", timeout)
		fmt.Printf("log.file               %s\n", cfg.LogPath())
		fmt.Printf("log.verbose            %v\n", cfg.Log.Verbose)
		fmt.Printf("daemon.probe_interval  %s\n", cfg.Daemon.ProbeInterval)
		fmt.Printf("daemon.debounce        %s\n", cfg.Daemon.Debounce)
		fmt.Printf("dashboard.port         %d\n", cfg.Dashboard.Port)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
