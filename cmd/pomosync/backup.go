package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/backup"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "sessions",
	Short:   "Export and import backups of sessions and settings",
}

var backupExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Write a backup file",
	Long: `Write a backup of your local data, or of your account with --account.

The default file name is pomodoro-backup-YYYY-MM-DD.json in the current
directory. A .yaml or .yml path, or --format yaml, writes YAML.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		target := backupTarget(cmd)
		if target == backup.TargetAccount {
			a.requireLogin(ctx)
		}

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		format, err := backup.ParseFormat(mustString(cmd, "format"))
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		path = withFormat(path, format)

		written, err := a.backup.ExportFile(ctx, target, path)
		if err != nil {
			a.Close()
			notice(err)
			os.Exit(1)
		}
		fmt.Printf("%s Backup of %s data written to %s\n", ui.RenderPass(ui.IconPass), target, written)
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Restore a backup file",
	Long: `Restore a backup into your local data, or into your account with --account.

Importing replaces the existing settings and session history of the target
wholesale. You are asked to confirm unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		target := backupTarget(cmd)
		if target == backup.TargetAccount {
			a.requireLogin(ctx)
		}

		doc, err := a.backup.ReadFile(args[0])
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		printSummary(doc)

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirmImport(target) {
			fmt.Println("Import cancelled")
			return
		}

		if err := a.backup.Import(ctx, target, doc); err != nil {
			a.Close()
			notice(err)
			os.Exit(1)
		}
		fmt.Printf("%s Backup restored into %s data\n", ui.RenderPass(ui.IconPass), target)
	},
}

var backupInfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Describe a backup file without restoring it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		doc, err := a.backup.ReadFile(args[0])
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		printSummary(doc)
	},
}

func backupTarget(cmd *cobra.Command) backup.Target {
	if account, _ := cmd.Flags().GetBool("account"); account {
		return backup.TargetAccount
	}
	return backup.TargetLocal
}

// withFormat makes the path extension agree with an explicit --format.
func withFormat(path string, format backup.Format) string {
	if format != backup.FormatYAML || backup.FormatOf(path) == backup.FormatYAML {
		return path
	}
	if path == "" {
		path = backup.DefaultFileName(time.Now())
	}
	return strings.TrimSuffix(path, ".json") + ".yaml"
}

func printSummary(doc schema.Document) {
	s := backup.Summarize(doc)
	date := doc.Timestamp
	if !s.Date.IsZero() {
		date = s.Date.Local().Format("2006-01-02 15:04")
	}
	fmt.Printf("Backup from %s (version %s)\n", date, s.Version)
	fmt.Printf("  %d sessions, %s total\n", s.Count, schema.FormatMinutes(s.TotalMinutes))
	fmt.Printf("  pomodoro %s, short break %s, long break %s\n",
		doc.Settings.Pomodoro(), doc.Settings.ShortBreak(), doc.Settings.LongBreak())
}

func confirmImport(target backup.Target) bool {
	if !interactive() {
		fatal("refusing to overwrite %s data without confirmation (use --yes)", target)
	}
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Replace all %s settings and sessions with this backup?", target)).
			Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		return false
	}
	return confirmed
}

func mustString(cmd *cobra.Command, name string) string {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		fatal("%v", err)
	}
	return s
}

func init() {
	for _, c := range []*cobra.Command{backupExportCmd, backupImportCmd} {
		c.Flags().Bool("account", false, "use the account instead of local data")
	}
	backupExportCmd.Flags().String("format", "json", "json or yaml")
	backupImportCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
	backupCmd.AddCommand(backupInfoCmd)
	rootCmd.AddCommand(backupCmd)
}
