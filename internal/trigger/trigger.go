// Package trigger starts reconciliation when something changes: a login,
// the account API coming back online, or a local write.
//
// Login runs the full detect-and-decide flow of the merge coordinator.
// Regained connectivity runs Reconcile, a strictly additive background pass
// that never opens a decision: it pushes local entries the account lacks,
// pushes local settings edits, and syncs down. Reconcile re-checks the merge
// flag after every remote call and stops as soon as a merge is pending.
package trigger

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pomosync/pomosync/internal/events"
	"github.com/pomosync/pomosync/internal/reconcile"
	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/store"
)

// LocalStore is the part of the local store the trigger needs.
// *store.Store satisfies it.
type LocalStore interface {
	Snapshot(ctx context.Context) store.Image
	ReadSettings(ctx context.Context) schema.Settings
	WriteSettings(ctx context.Context, settings schema.Settings) error
	AppendEntry(ctx context.Context, entry schema.Entry) error
	MergePending(ctx context.Context) bool
	Token(ctx context.Context) string
}

// Reasons a reconcile pass stopped early.
const (
	SkipNotAuthenticated = "not authenticated"
	SkipMergePending     = "merge pending"
	SkipInProgress       = "reconcile already running"
)

// Report describes one reconcile pass.
type Report struct {
	EntriesPushed  int
	SettingsPushed bool
	SyncedDown     bool

	// Skipped is set when the pass stopped early.
	Skipped string

	// Err is set when a best-effort pass after a local write failed.
	Err error
}

// Config holds the trigger's collaborators.
type Config struct {
	Store       LocalStore
	Remote      remote.Client
	Coordinator *reconcile.Coordinator

	// Bus receives authenticated and connectivity_changed events. Optional.
	Bus *events.Bus

	// Clock stamps new entries and settings edits (default: real clock)
	Clock clockwork.Clock

	// Logger for trigger activity (default: stderr logger)
	Logger *log.Logger
}

// Trigger reacts to authentication and connectivity transitions.
type Trigger struct {
	store  LocalStore
	remote remote.Client
	coord  *reconcile.Coordinator
	bus    *events.Bus
	clock  clockwork.Clock
	logger *log.Logger

	mu      sync.Mutex
	online  bool
	known   bool
	running sync.Mutex
}

// New creates a trigger.
func New(cfg Config) *Trigger {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[trigger] ", log.LstdFlags)
	}
	return &Trigger{
		store:  cfg.Store,
		remote: cfg.Remote,
		coord:  cfg.Coordinator,
		bus:    cfg.Bus,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Authenticated reports whether an account token is stored.
func (t *Trigger) Authenticated(ctx context.Context) bool {
	return t.store.Token(ctx) != ""
}

// OnAuthenticated runs after a successful login. It returns the decisions
// the operator must make, or nil when the copies were reconciled without
// one.
func (t *Trigger) OnAuthenticated(ctx context.Context) (*reconcile.Pending, error) {
	t.bus.Publish(events.New(events.TypeAuthenticated, nil))
	return t.coord.Begin(ctx)
}

// OnConnectivityChanged records whether the account API is reachable. On a
// transition to online while authenticated it runs Reconcile. The first
// report after startup counts as a transition.
func (t *Trigger) OnConnectivityChanged(ctx context.Context, online bool) (Report, error) {
	t.mu.Lock()
	regained := online && (!t.known || !t.online)
	changed := !t.known || t.online != online
	t.online, t.known = online, true
	t.mu.Unlock()

	if changed {
		t.logger.Printf("Account service %s", onlineText(online))
		t.bus.Publish(events.New(events.TypeConnectivityChanged, events.ConnectivityData{Online: online}))
	}
	if !regained {
		return Report{}, nil
	}
	return t.Reconcile(ctx)
}

// Online reports the last known connectivity. ok is false before the first
// report.
func (t *Trigger) Online() (online, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online, t.known
}

// maxPasses bounds how often Reconcile repeats when sessions or settings
// recorded during a pass are still unsynced after its sync-down.
const maxPasses = 3

// Reconcile runs the additive background pass. It never opens a decision
// and does nothing while a merge is pending.
func (t *Trigger) Reconcile(ctx context.Context) (Report, error) {
	if !t.running.TryLock() {
		return Report{Skipped: SkipInProgress}, nil
	}
	defer t.running.Unlock()

	if !t.Authenticated(ctx) {
		return Report{Skipped: SkipNotAuthenticated}, nil
	}

	var report Report
	for pass := 1; ; pass++ {
		again, err := t.reconcileOnce(ctx, &report)
		if err != nil || !again {
			return report, err
		}
		if pass == maxPasses {
			t.logger.Printf("Local changes still unsynced after %d passes, leaving them for the next reconcile", pass)
			return report, nil
		}
	}
}

// reconcileOnce pushes, syncs down and reports whether local changes
// recorded meanwhile call for another pass.
func (t *Trigger) reconcileOnce(ctx context.Context, report *Report) (again bool, err error) {
	if t.store.MergePending(ctx) {
		report.Skipped = SkipMergePending
		return false, nil
	}

	base := t.store.Snapshot(ctx)

	if unsynced := schema.Unsynced(schema.ValidEntries(base.Entries)); len(unsynced) > 0 {
		remoteEntries, err := t.remote.GetAllCompletedEntries(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to read account entries: %w", err)
		}
		if t.stopped(ctx, report) {
			return false, nil
		}

		diff := reconcile.CompareEntries(unsynced, remoteEntries)
		if len(diff.UniqueToLocal) > 0 {
			if _, err := t.remote.ApplyMerge(ctx, remote.MergeEntries(diff.UniqueToLocal)); err != nil {
				return false, fmt.Errorf("failed to push local entries: %w", err)
			}
			report.EntriesPushed += len(diff.UniqueToLocal)
			t.logger.Printf("Pushed %d local entries", len(diff.UniqueToLocal))
			if t.stopped(ctx, report) {
				return false, nil
			}
		}
	}

	remoteSettings, err := t.remote.GetSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read account settings: %w", err)
	}
	if t.stopped(ctx, report) {
		return false, nil
	}

	// expected is what the sync-down should leave locally absent a local
	// edit made meanwhile.
	expected := remoteSettings
	if pushSettings(base.Settings, remoteSettings) {
		if _, err := t.remote.SaveSettings(ctx, base.Settings.Patch()); err != nil {
			return false, fmt.Errorf("failed to push local settings: %w", err)
		}
		expected = base.Settings
		report.SettingsPushed = true
		t.logger.Printf("Pushed local settings")
		if t.stopped(ctx, report) {
			return false, nil
		}
	}

	applied, err := t.coord.SyncDownFrom(ctx, base)
	if err != nil {
		return false, err
	}
	report.SyncedDown = applied
	if !applied {
		report.Skipped = SkipMergePending
		return false, nil
	}

	after := t.store.Snapshot(ctx)
	if len(schema.Unsynced(schema.ValidEntries(after.Entries))) > 0 {
		t.logger.Printf("Sessions recorded during reconcile, running another pass")
		return true, nil
	}
	if pushSettings(after.Settings, expected) {
		t.logger.Printf("Settings edited during reconcile, running another pass")
		return true, nil
	}
	return false, nil
}

// RecordCompletion appends a completed session to the local log and, when
// authenticated, reconciles. The entry is kept locally whatever the outcome
// of the reconcile, which is reported in Report.Err.
func (t *Trigger) RecordCompletion(ctx context.Context, minutes float64, at time.Time) (schema.Entry, Report, error) {
	if at.IsZero() {
		at = t.clock.Now()
	}
	entry := schema.NewEntry(at, minutes)
	if err := t.store.AppendEntry(ctx, entry); err != nil {
		return schema.Entry{}, Report{}, fmt.Errorf("failed to record session: %w", err)
	}
	return entry, t.bestEffort(ctx), nil
}

// SaveSettings applies patch to the local settings, stamps the edit and,
// when authenticated, reconciles.
func (t *Trigger) SaveSettings(ctx context.Context, patch schema.SettingsPatch) (schema.Settings, Report, error) {
	patch.LastUpdated = nil
	updated, err := patch.Apply(t.store.ReadSettings(ctx))
	if err != nil {
		return schema.Settings{}, Report{}, fmt.Errorf("invalid settings: %w", err)
	}
	updated = updated.Stamped(t.clock.Now())
	if err := t.store.WriteSettings(ctx, updated); err != nil {
		return schema.Settings{}, Report{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return updated, t.bestEffort(ctx), nil
}

func (t *Trigger) bestEffort(ctx context.Context) Report {
	if !t.Authenticated(ctx) {
		return Report{Skipped: SkipNotAuthenticated}
	}
	report, err := t.Reconcile(ctx)
	if err != nil {
		t.logger.Printf("Reconcile deferred: %v", err)
		report.Err = err
	}
	return report
}

// stopped re-checks the merge flag after a remote call.
func (t *Trigger) stopped(ctx context.Context, report *Report) bool {
	if t.store.MergePending(ctx) {
		t.logger.Printf("Merge became pending, stopping background reconcile")
		report.Skipped = SkipMergePending
		return true
	}
	return false
}

// pushSettings reports whether local settings should overwrite the
// account's: they differ, the local record was edited here (it carries a
// stamp) and the account's is not strictly newer.
func pushSettings(local, remote schema.Settings) bool {
	if !reconcile.CompareSettings(local, remote) {
		return false
	}
	if _, ok := local.UpdatedAt(); !ok {
		return false
	}
	return reconcile.ClassifySettings(local, remote) != reconcile.RemoteAhead
}

func onlineText(online bool) string {
	if online {
		return "reachable"
	}
	return "unreachable"
}
