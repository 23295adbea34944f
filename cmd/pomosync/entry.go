package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/ui"
)

var entryCmd = &cobra.Command{
	Use:     "entry",
	GroupID: "sessions",
	Short:   "Record and list completed sessions",
}

var entryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a completed pomodoro session",
	Long: `Record a completed pomodoro session in the local log and, when logged in,
sync it to your account. The session is always kept locally, even when the
account service is unreachable.

Examples:
  pomosync entry add                     # now, with your pomodoro duration
  pomosync entry add --minutes 50
  pomosync entry add --at "yesterday 3pm"
  pomosync entry add --at 2026-01-10T07:36:29Z`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		minutes, _ := cmd.Flags().GetFloat64("minutes")
		if !cmd.Flags().Changed("minutes") {
			minutes = a.store.ReadSettings(ctx).PomodoroDuration
		}
		if minutes <= 0 {
			a.Close()
			fatal("--minutes must be positive")
		}

		var at time.Time
		if text, _ := cmd.Flags().GetString("at"); text != "" {
			parsed, err := parseWhen(text, time.Now())
			if err != nil {
				a.Close()
				fatal("%v", err)
			}
			at = parsed
		}

		entry, report, err := a.trigger.RecordCompletion(ctx, minutes, at)
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Recorded %s session at %s\n", ui.RenderPass(ui.IconPass),
			schema.FormatMinutes(entry.PomodoroDuration), entry.Timestamp)
		reportSync(report)
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries := a.store.ReadEntries(ctx)
		if len(entries) == 0 {
			fmt.Println("No sessions recorded yet")
			return
		}

		shown := 0
		for i := len(entries) - 1; i >= 0 && (limit <= 0 || shown < limit); i-- {
			e := entries[i]
			mark := ui.RenderPass(ui.IconPass)
			if !e.Synced() {
				mark = ui.RenderMuted("·")
			}
			fmt.Printf("%s %s  %s\n", mark, displayTime(e.Timestamp), schema.FormatMinutes(e.PomodoroDuration))
			shown++
		}
		fmt.Printf("\n%d sessions, %s total (%s = on the account)\n",
			len(entries), schema.FormatMinutes(schema.TotalMinutes(entries)), ui.IconPass)
	},
}

// parseWhen accepts an RFC 3339 timestamp or natural language such as
// "yesterday 3pm", resolved relative to base.
func parseWhen(text string, base time.Time) (time.Time, error) {
	if t, ok := schema.ParseTimestamp(text); ok {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --at %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --at %q", text)
	}
	if rest := strings.TrimSpace(text[:r.Index] + text[r.Index+len(r.Text):]); rest != "" {
		fmt.Fprintf(os.Stderr, "%s ignored %q in --at\n", ui.RenderWarn(ui.IconWarn), rest)
	}
	return r.Time, nil
}

func displayTime(ts string) string {
	t, ok := schema.ParseTimestamp(ts)
	if !ok {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	entryAddCmd.Flags().Float64P("minutes", "m", 0, "session length in minutes (default: your pomodoro duration)")
	entryAddCmd.Flags().String("at", "", `completion time, e.g. "yesterday 3pm" (default: now)`)
	entryListCmd.Flags().IntP("limit", "n", 20, "show at most n sessions (0 for all)")

	entryCmd.AddCommand(entryAddCmd)
	entryCmd.AddCommand(entryListCmd)
	rootCmd.AddCommand(entryCmd)
}
