package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/syncerr"
	"github.com/pomosync/pomosync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push local changes and pull the account's data",
	Long: `Run one background reconcile pass:
  1. Push local sessions the account does not have
  2. Push local settings edits, unless the account's are newer
  3. Replace the local copy with the account's

Nothing happens while a merge decision is pending.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()
		a.requireLogin(ctx)

		report, err := a.trigger.Reconcile(ctx)
		if err != nil {
			a.Close()
			notice(err)
			os.Exit(1)
		}
		reportSync(report)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show login, connectivity and local data status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		img := a.store.Snapshot(ctx)
		unsynced := schema.Unsynced(img.Entries)

		fmt.Printf("\n%s pomosync status\n\n", ui.RenderAccent("●"))
		fmt.Printf("Data:     %s\n", a.cfg.StorePath())
		fmt.Printf("Account:  %s\n", a.cfg.Remote.URL)

		if !a.trigger.Authenticated(ctx) {
			fmt.Printf("Login:    %s\n", ui.RenderMuted("logged out"))
		} else {
			fmt.Printf("Login:    %s\n", ui.RenderPass("logged in"))
			fmt.Printf("Service:  %s\n", probeText(ctx, a))
		}

		if m, present := a.store.MergeState(ctx); present {
			fmt.Printf("Merge:    %s (since %s)\n", ui.RenderWarn("decision pending"), orUnknown(m.StartedAt))
		} else {
			fmt.Printf("Merge:    %s\n", ui.RenderPass("none pending"))
		}

		fmt.Printf("Sessions: %d (%s), %d not yet on the account\n",
			len(img.Entries), schema.FormatMinutes(schema.TotalMinutes(img.Entries)), len(unsynced))
		fmt.Printf("Timer:    %s / %s / %s\n",
			img.Settings.Pomodoro(), img.Settings.ShortBreak(), img.Settings.LongBreak())
		fmt.Println()
	},
}

func probeText(ctx context.Context, a *app) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := a.remote.Ping(ctx)
	switch {
	case err == nil:
		return ui.RenderPass("reachable")
	case errors.Is(err, syncerr.ErrOffline), errors.Is(err, syncerr.ErrTransient):
		return ui.RenderWarn("unreachable (showing local data)")
	case isAuthError(err):
		return ui.RenderWarn("token rejected (run 'pomosync login')")
	default:
		return ui.RenderWarn(err.Error())
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
