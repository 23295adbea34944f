package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pomosync/pomosync/internal/backup"
	"github.com/pomosync/pomosync/internal/config"
	"github.com/pomosync/pomosync/internal/events"
	"github.com/pomosync/pomosync/internal/reconcile"
	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/store"
	"github.com/pomosync/pomosync/internal/syncerr"
	"github.com/pomosync/pomosync/internal/trigger"
	"github.com/pomosync/pomosync/internal/ui"
)

// app wires the components one command needs.
type app struct {
	cfg     *config.Config
	logging *config.Logging
	store   *store.Store
	remote  *remote.HTTP
	bus     *events.Bus
	coord   *reconcile.Coordinator
	trigger *trigger.Trigger
	backup  *backup.Codec
}

// openApp loads configuration and opens the local store. It exits the
// process on failure.
func openApp(ctx context.Context) *app {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		fatal("%v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatal("failed to create data directory: %v", err)
	}

	logging := config.OpenLogging(cfg)
	s, err := store.Open(cfg.StorePath(), logging.Logger("store"))
	if err != nil {
		fatal("opening local store: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		fatal("initializing local store: %v", err)
	}

	client := remote.NewHTTP(cfg.Remote.URL, s, cfg.Remote.Timeout)
	bus := events.NewBus(logging.Logger("events"))
	coord := reconcile.New(reconcile.Config{
		Store:  s,
		Remote: client,
		Bus:    bus,
		Logger: logging.Logger("coordinator"),
	})

	return &app{
		cfg:     cfg,
		logging: logging,
		store:   s,
		remote:  client,
		bus:     bus,
		coord:   coord,
		trigger: trigger.New(trigger.Config{
			Store:       s,
			Remote:      client,
			Coordinator: coord,
			Bus:         bus,
			Logger:      logging.Logger("trigger"),
		}),
		backup: backup.New(backup.Config{
			Store:  s,
			Remote: client,
			Logger: logging.Logger("backup"),
		}),
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close local store: %v\n", err)
	}
	_ = a.logging.Close()
}

// requireLogin exits unless an account token is stored.
func (a *app) requireLogin(ctx context.Context) {
	if !a.trigger.Authenticated(ctx) {
		a.Close()
		fatal("not logged in (run 'pomosync login')")
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// notice prints the user-facing description of a sync failure. Sync
// failures never abort a command that already succeeded locally.
func notice(err error) {
	if err == nil {
		return
	}
	icon := ui.IconWarn
	if syncerr.IsFatal(err) {
		icon = ui.IconFail
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn(icon), syncerr.Describe(err))
}

// reportSync summarizes a reconcile pass.
func reportSync(report trigger.Report) {
	switch {
	case report.Err != nil:
		notice(report.Err)
	case report.Skipped == trigger.SkipMergePending:
		fmt.Printf("%s A merge decision is pending: run 'pomosync resolve'\n", ui.RenderWarn(ui.IconWarn))
	case report.Skipped == trigger.SkipNotAuthenticated:
		fmt.Printf("%s Saved locally (not logged in)\n", ui.RenderMuted(ui.IconPass))
	case report.Skipped != "":
		fmt.Printf("%s Saved locally (%s)\n", ui.RenderMuted(ui.IconPass), report.Skipped)
	default:
		fmt.Printf("%s Synced", ui.RenderPass(ui.IconPass))
		if report.EntriesPushed > 0 {
			fmt.Printf(" (%d sessions pushed)", report.EntriesPushed)
		}
		if report.SettingsPushed {
			fmt.Print(" (settings pushed)")
		}
		fmt.Println()
	}
}

// exitOnDecision exits with a hint when a merge needs a decision.
func exitOnDecision(p *reconcile.Pending) {
	if !p.Open() {
		return
	}
	fmt.Println(ui.RenderPending(p))
	fmt.Println("\nRun 'pomosync resolve' to choose how to reconcile them.")
	os.Exit(1)
}

func isAuthError(err error) bool {
	return errors.Is(err, syncerr.ErrUnauthorized) || errors.Is(err, syncerr.ErrNotAuthenticated)
}
