package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/reconcile"
	"github.com/pomosync/pomosync/internal/syncerr"
	"github.com/pomosync/pomosync/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve [settings|entries] [merge|skip|replace]",
	GroupID: "sync",
	Short:   "Decide how to reconcile local data with your account",
	Long: `Show and answer the decisions left by a login whose local data disagreed
with the account.

Settings can be merged (push your local settings) or skipped (keep the
account's). Session history can be merged (add local-only sessions to the
account), skipped (keep the account's history) or replaced (overwrite the
account's history with the local one).

Without arguments, and with a terminal attached, you are prompted for each
open decision. Decisions can also be given directly:

  pomosync resolve entries merge
  pomosync resolve settings skip

Until every decision is answered, background sync leaves the local copy
untouched.`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()
		a.requireLogin(ctx)

		pending, err := a.coord.Resume(ctx)
		if err != nil {
			a.Close()
			notice(err)
			os.Exit(1)
		}
		if !pending.Open() {
			fmt.Printf("%s No merge decision is pending\n", ui.RenderPass(ui.IconPass))
			return
		}

		switch len(args) {
		case 0:
			if !interactive() {
				fmt.Println(ui.RenderPending(pending))
				fmt.Println("\nAnswer with 'pomosync resolve <settings|entries> <decision>'.")
				return
			}
			resolveInteractively(ctx, a, pending)
		case 1:
			a.Close()
			fatal("missing decision for %s (merge, skip or replace)", args[0])
		default:
			d, err := reconcile.ParseDecision(args[1])
			if err != nil {
				a.Close()
				fatal("%v", err)
			}
			next, err := resolveSlot(ctx, a, args[0], d)
			if err != nil {
				a.Close()
				reportResolveError(err)
				os.Exit(1)
			}
			reportResolved(next)
			syncAfterMerge(ctx, a, next)
		}
	},
}

func resolveSlot(ctx context.Context, a *app, slot string, d reconcile.Decision) (*reconcile.Pending, error) {
	switch slot {
	case "settings":
		return a.coord.ResolveSettings(ctx, d)
	case "entries", "sessions", "history":
		return a.coord.ResolveEntries(ctx, d)
	}
	return nil, fmt.Errorf("%w: unknown decision %q (want settings or entries)", syncerr.ErrValidation, slot)
}

// resolveInteractively prompts for each open slot until none is left or
// the operator cancels.
func resolveInteractively(ctx context.Context, a *app, pending *reconcile.Pending) {
	fmt.Println(ui.RenderPending(pending))
	fmt.Println()

	for pending.Open() {
		slot := "entries"
		if pending.Settings != nil {
			slot = "settings"
		}

		d, err := promptDecision(slot == "settings")
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Decision postponed. Run 'pomosync resolve' to continue.")
			return
		}
		if err != nil {
			a.Close()
			fatal("prompt failed: %v", err)
		}

		next, err := resolveSlot(ctx, a, slot, d)
		if err != nil {
			a.Close()
			reportResolveError(err)
			os.Exit(1)
		}
		pending = next
	}
	reportResolved(pending)
	syncAfterMerge(ctx, a, pending)
}

func promptDecision(settings bool) (reconcile.Decision, error) {
	title := "How should your session history be reconciled?"
	options := []huh.Option[reconcile.Decision]{
		huh.NewOption("Merge: add local-only sessions to the account", reconcile.Merge),
		huh.NewOption("Skip: keep the account's history", reconcile.Skip),
		huh.NewOption("Replace: overwrite the account's history", reconcile.Replace),
	}
	if settings {
		title = "How should your settings be reconciled?"
		options = options[:2]
		options[0] = huh.NewOption("Merge: push local settings to the account", reconcile.Merge)
		options[1] = huh.NewOption("Skip: keep the account's settings", reconcile.Skip)
	}

	choice := reconcile.Merge
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[reconcile.Decision]().
			Title(title).
			Description(ui.DecisionHelp(settings)).
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}

	if choice == reconcile.Replace {
		confirmed := false
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("Replace the account's session history with the local one?").
				Description("Sessions only on the account will be deleted.").
				Value(&confirmed),
		))
		if err := confirm.Run(); err != nil {
			return "", err
		}
		if !confirmed {
			return promptDecision(settings)
		}
	}
	return choice, nil
}

func reportResolved(next *reconcile.Pending) {
	if next.Open() {
		fmt.Printf("%s Decision recorded\n", ui.RenderPass(ui.IconPass))
		fmt.Println(ui.RenderPending(next))
		return
	}
	fmt.Printf("%s Merge complete: local data matches your account\n", ui.RenderPass(ui.IconPass))
}

// syncAfterMerge pushes what the merge kept locally, such as sessions
// recorded while the decision was open.
func syncAfterMerge(ctx context.Context, a *app, next *reconcile.Pending) {
	if next.Open() {
		return
	}
	report, err := a.trigger.Reconcile(ctx)
	if err != nil {
		notice(err)
		return
	}
	if report.EntriesPushed > 0 || report.SettingsPushed {
		reportSync(report)
	}
}

func reportResolveError(err error) {
	switch {
	case errors.Is(err, syncerr.ErrNoDecision):
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn(ui.IconWarn), err)
		fmt.Fprintln(os.Stderr, "Run 'pomosync resolve' to see what is still open.")
	case errors.Is(err, syncerr.ErrValidation):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	default:
		notice(err)
		if syncerr.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, "The decision is still open; run the same command again to retry.")
		}
	}
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
