package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/daemon"
	"github.com/pomosync/pomosync/internal/events"
	"github.com/pomosync/pomosync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run background sync in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Probe the account service and sync whenever it becomes reachable
  2. Watch the local store for sessions recorded by other pomosync commands
  3. Sync those changes once they settle
  4. Stream sync events to WebSocket clients

Connect with a WebSocket client:
  ws://localhost:8080/ws

Use --port 0 to listen on a free port, or --no-events to run without the
event stream.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		var server *events.Server
		if port, ok := eventPort(cmd, a.cfg.Dashboard.Port); ok {
			server = events.NewServer(a.bus, &events.ServerConfig{
				Port:   port,
				Logger: a.logging.Logger("events"),
			})
			if err := server.Start(); err != nil {
				a.Close()
				fatal("failed to start event stream: %v", err)
			}
		}

		d, err := daemon.New(a.cfg.StorePath(), a.remote, a.trigger, &daemon.Config{
			ProbeInterval:    a.cfg.Daemon.ProbeInterval,
			DebounceInterval: a.cfg.Daemon.Debounce,
			Logger:           a.logging.Logger("daemon"),
		})
		if err != nil {
			a.Close()
			fatal("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting pomosync daemon...\n", ui.RenderAccent("●"))
		fmt.Printf("   Store: %s\n", a.cfg.StorePath())
		fmt.Printf("   Account: %s\n", a.cfg.Remote.URL)
		if server != nil {
			fmt.Printf("   Events: ws://%s/ws\n", server.Addr())
		}
		fmt.Printf("   Log: %s\n", a.cfg.LogPath())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Start blocks until ctx is cancelled
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		}
		if server != nil {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping event stream: %v\n", err)
			}
		}
		fmt.Println("Daemon stopped")
	},
}

// eventPort returns the event stream port, dashboard.port unless --port is
// given. ok is false with --no-events.
func eventPort(cmd *cobra.Command, configured int) (port int, ok bool) {
	if off, _ := cmd.Flags().GetBool("no-events"); off {
		return 0, false
	}
	port = configured
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	return port, true
}

func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 0, "event stream port, 0 for a free port (default: dashboard.port, 8080)")
	cmd.Flags().Bool("no-events", false, "run without the event stream")
}

func init() {
	addEventFlags(daemonCmd)
	rootCmd.AddCommand(daemonCmd)
}
