package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pomosync/pomosync/internal/reconcile"
	"github.com/pomosync/pomosync/internal/schema"
)

var panelStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(ColorMuted).
	Padding(0, 1)

// RenderPending describes the outstanding decisions of a merge.
func RenderPending(p *reconcile.Pending) string {
	if !p.Open() {
		return RenderPass(IconPass + " Nothing to decide")
	}

	var sections []string
	if p.Settings != nil {
		sections = append(sections, renderSettingsConflict(p.Settings))
	}
	if p.Entries != nil {
		sections = append(sections, renderEntriesConflict(p.Entries))
	}
	header := RenderWarn(IconWarn+" Your local data differs from your account") + "\n" +
		RenderMuted("merge "+p.MergeID)
	return header + "\n" + strings.Join(sections, "\n")
}

func renderSettingsConflict(c *reconcile.SettingsConflict) string {
	rows := []string{
		RenderBold("Settings") + RenderMuted(" ("+c.Relation.String()+")"),
		settingsRow("", "local", "account"),
		settingsRow("pomodoro", minutes(c.Local.PomodoroDuration), minutes(c.Remote.PomodoroDuration)),
		settingsRow("short break", minutes(c.Local.ShortBreakDuration), minutes(c.Remote.ShortBreakDuration)),
		settingsRow("long break", minutes(c.Local.LongBreakDuration), minutes(c.Remote.LongBreakDuration)),
		settingsRow("auto-start break", yesNo(c.Local.AutoStartBreak), yesNo(c.Remote.AutoStartBreak)),
		settingsRow("auto-start pomodoro", yesNo(c.Local.AutoStartPomodoro), yesNo(c.Remote.AutoStartPomodoro)),
		settingsRow("last updated", orDash(c.Local.LastUpdated), orDash(c.Remote.LastUpdated)),
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func renderEntriesConflict(d *reconcile.EntryDiff) string {
	rows := []string{
		RenderBold("Session history") + RenderMuted(" ("+d.Relation().String()+")"),
		fmt.Sprintf("%d local, %d on the account", d.LocalCount, d.RemoteCount),
		fmt.Sprintf("%d only here (%s), %d only on the account",
			len(d.UniqueToLocal), schema.FormatMinutes(schema.TotalMinutes(d.UniqueToLocal)), d.UniqueToRemote),
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

// DecisionHelp explains the choices for a slot.
func DecisionHelp(settings bool) string {
	if settings {
		return "merge: push your local settings to the account\n" +
			"skip:  keep the account's settings"
	}
	return "merge:   add your local-only sessions to the account\n" +
		"skip:    keep the account's history, drop local-only sessions\n" +
		"replace: overwrite the account's history with your local one"
}

func settingsRow(label, local, remote string) string {
	return fmt.Sprintf("%-20s %-10s %s", label, local, remote)
}

func minutes(v float64) string {
	return schema.Minutes(v).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
