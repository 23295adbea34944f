package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "sessions",
	Short:   "Show or change timer settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show timer settings",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		printSettings(a.store.ReadSettings(ctx))
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change timer settings",
	Long: `Change timer settings. Only the flags given are changed. Durations are
minutes; fractions are allowed (0.5 is thirty seconds).

Example:
  pomosync settings set --pomodoro 50 --short-break 10`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		flags := cmd.Flags()
		var patch schema.SettingsPatch
		if flags.Changed("pomodoro") {
			v, _ := flags.GetFloat64("pomodoro")
			patch.PomodoroDuration = &v
		}
		if flags.Changed("short-break") {
			v, _ := flags.GetFloat64("short-break")
			patch.ShortBreakDuration = &v
		}
		if flags.Changed("long-break") {
			v, _ := flags.GetFloat64("long-break")
			patch.LongBreakDuration = &v
		}
		if flags.Changed("auto-start-break") {
			v, _ := flags.GetBool("auto-start-break")
			patch.AutoStartBreak = &v
		}
		if flags.Changed("auto-start-pomodoro") {
			v, _ := flags.GetBool("auto-start-pomodoro")
			patch.AutoStartPomodoro = &v
		}
		if patch.IsEmpty() {
			a.Close()
			fatal("nothing to change (see 'pomosync settings set --help')")
		}

		updated, report, err := a.trigger.SaveSettings(ctx, patch)
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Settings saved\n", ui.RenderPass(ui.IconPass))
		printSettings(updated)
		reportSync(report)
	},
}

func printSettings(s schema.Settings) {
	fmt.Printf("Pomodoro:            %s\n", s.Pomodoro())
	fmt.Printf("Short break:         %s\n", s.ShortBreak())
	fmt.Printf("Long break:          %s\n", s.LongBreak())
	fmt.Printf("Auto-start break:    %v\n", s.AutoStartBreak)
	fmt.Printf("Auto-start pomodoro: %v\n", s.AutoStartPomodoro)
	if s.LastUpdated != "" {
		fmt.Printf("Last updated:        %s\n", ui.RenderMuted(displayTime(s.LastUpdated)))
	}
}

func init() {
	f := settingsSetCmd.Flags()
	f.Float64("pomodoro", 0, "pomodoro length in minutes")
	f.Float64("short-break", 0, "short break length in minutes")
	f.Float64("long-break", 0, "long break length in minutes")
	f.Bool("auto-start-break", false, "start breaks automatically")
	f.Bool("auto-start-pomodoro", false, "start pomodoros automatically")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
