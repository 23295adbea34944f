package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/pomosync/pomosync/internal/events"
	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/store"
	"github.com/pomosync/pomosync/internal/syncerr"
)

// LocalStore is the part of the local store the coordinator needs.
// *store.Store satisfies it.
type LocalStore interface {
	Snapshot(ctx context.Context) store.Image
	MergeState(ctx context.Context) (schema.MergeState, bool)
	SetMergeState(ctx context.Context, state schema.MergeState) error
	RefreshSettings(ctx context.Context, base, next schema.Settings) (bool, error)
	RefreshEntries(ctx context.Context, next []schema.Entry) error
	ReplaceUnlessPending(ctx context.Context, base, next store.Image) (bool, error)
	CompleteMerge(ctx context.Context, id string, base, next store.Image) (bool, error)
}

// State is the coordinator's position in the merge state machine.
type State int

const (
	// Idle means no decision is held by this coordinator. The merge flag
	// may still be set if a previous step failed; Resume picks it up.
	Idle State = iota
	// PendingDecision means at least one decision slot is open.
	PendingDecision
	// Resolving means a resolution is being applied.
	Resolving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingDecision:
		return "pending-decision"
	case Resolving:
		return "resolving"
	default:
		return "unknown"
	}
}

// Decision is the operator's choice for one slot.
type Decision string

const (
	// Merge pushes local data to the account.
	Merge Decision = "merge"
	// Skip keeps the account data and drops the local divergence.
	Skip Decision = "skip"
	// Replace wipes the account's entries and pushes the full local log.
	Replace Decision = "replace"
)

// ParseDecision accepts merge, skip and replace.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case Merge, Skip, Replace:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q (want merge, skip or replace)", syncerr.ErrValidation, s)
	}
}

// SettingsConflict describes an open settings slot.
type SettingsConflict struct {
	Local    schema.Settings
	Remote   schema.Settings
	Relation Relation
}

// Pending describes the outstanding decisions. A nil slot is not open.
type Pending struct {
	MergeID  string
	Settings *SettingsConflict
	Entries  *EntryDiff
}

// Open reports whether any slot is still undecided.
func (p *Pending) Open() bool {
	return p != nil && (p.Settings != nil || p.Entries != nil)
}

// Config holds the coordinator's collaborators.
type Config struct {
	Store  LocalStore
	Remote remote.Client

	// Bus receives decision_required, merge_resolved, synced_down and
	// sync_failed events. Optional.
	Bus *events.Bus

	// Clock stamps merge generations and settings merges (default: real clock)
	Clock clockwork.Clock

	// Logger for coordinator activity (default: stderr logger)
	Logger *log.Logger
}

// Coordinator owns the merge decision state machine. At most one Begin,
// Resume or Resolve call runs at a time; a concurrent call fails with
// syncerr.ErrMergeInFlight. Remote calls are never made while holding mu.
type Coordinator struct {
	store  LocalStore
	remote remote.Client
	bus    *events.Bus
	clock  clockwork.Clock
	logger *log.Logger

	mu      sync.Mutex
	state   State
	busy    bool
	pending *Pending
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[coordinator] ", log.LstdFlags)
	}
	return &Coordinator{
		store:  cfg.Store,
		remote: cfg.Remote,
		bus:    cfg.Bus,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the outstanding decisions, or nil.
func (c *Coordinator) Pending() *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// Begin starts a merge generation after a successful login. It sets the
// merge flag, compares the local copy with the account and either syncs
// down (no divergence, returns nil) or opens decision slots and returns
// them.
//
// On a remote failure the flag stays set and the error wraps the remote
// error. Resume retries.
func (c *Coordinator) Begin(ctx context.Context) (*Pending, error) {
	if _, _, err := c.acquire(); err != nil {
		return nil, err
	}

	m := schema.NewMergeState(c.clock.Now())
	if err := c.store.SetMergeState(ctx, m); err != nil {
		c.release(Idle, nil)
		return nil, fmt.Errorf("failed to set merge flag: %w", err)
	}
	c.logger.Printf("Merge %s started", m.ID)

	return c.detect(ctx, m)
}

// Resume continues the merge recorded in the local store, for instance one
// started by another process or one whose detection or final sync-down
// failed. Slots already resolved in that generation stay resolved. With no
// merge flag present Resume does nothing and returns nil.
func (c *Coordinator) Resume(ctx context.Context) (*Pending, error) {
	if _, _, err := c.acquire(); err != nil {
		return nil, err
	}

	m, present := c.store.MergeState(ctx)
	if !present {
		c.release(Idle, nil)
		return nil, nil
	}
	if m.ID == "" {
		// Unreadable flag: adopt it under a fresh generation.
		m = schema.NewMergeState(c.clock.Now())
		if err := c.store.SetMergeState(ctx, m); err != nil {
			c.release(Idle, nil)
			return nil, fmt.Errorf("failed to set merge flag: %w", err)
		}
	}

	return c.detect(ctx, m)
}

// ResolveSettings applies d (Merge or Skip) to the open settings slot.
// It returns the decisions still outstanding, or nil once the merge is
// complete.
func (c *Coordinator) ResolveSettings(ctx context.Context, d Decision) (*Pending, error) {
	if d != Merge && d != Skip {
		return nil, fmt.Errorf("%w: settings can be merged or skipped, not %q", syncerr.ErrValidation, d)
	}

	prev, m, err := c.openSlot(ctx, func(p *Pending) bool { return p.Settings != nil }, func(m schema.MergeState) schema.SlotState { return m.Settings })
	if err != nil {
		return nil, err
	}

	if d == Merge {
		base := c.store.Snapshot(ctx).Settings
		snap, err := c.remote.ApplyMerge(ctx, remote.MergeSettings(base.Stamped(c.clock.Now())))
		if err != nil {
			return c.abort(prev, "settings merge", err)
		}
		if _, err := c.store.RefreshSettings(ctx, base, snap.Settings); err != nil {
			c.logger.Printf("Warning: failed to write merged settings locally: %v", err)
		}
		c.logger.Printf("Merge %s: pushed local settings", m.ID)
	} else {
		c.logger.Printf("Merge %s: kept account settings", m.ID)
	}

	m.Settings = schema.SlotResolved
	next := *prev
	next.Settings = nil
	return c.advance(ctx, prev, &next, m)
}

// ResolveEntries applies d to the open entries slot. Merge pushes the
// entries the account lacks, recomputed against a fresh read so that a
// retried merge adds nothing twice. Skip drops the local-only entries.
// Replace wipes the account's entries and pushes the whole local log.
func (c *Coordinator) ResolveEntries(ctx context.Context, d Decision) (*Pending, error) {
	if _, err := ParseDecision(string(d)); err != nil {
		return nil, err
	}

	prev, m, err := c.openSlot(ctx, func(p *Pending) bool { return p.Entries != nil }, func(m schema.MergeState) schema.SlotState { return m.Entries })
	if err != nil {
		return nil, err
	}

	switch d {
	case Merge:
		remoteEntries, err := c.remote.GetAllCompletedEntries(ctx)
		if err != nil {
			return c.abort(prev, "entries merge", err)
		}
		base := c.store.Snapshot(ctx).Entries
		diff := CompareEntries(base, remoteEntries)
		if len(diff.UniqueToLocal) > 0 {
			snap, err := c.remote.ApplyMerge(ctx, remote.MergeEntries(diff.UniqueToLocal))
			if err != nil {
				return c.abort(prev, "entries merge", err)
			}
			c.refreshEntries(ctx, snap.Entries())
		}
		c.logger.Printf("Merge %s: pushed %d local entries", m.ID, len(diff.UniqueToLocal))

	case Replace:
		base := c.store.Snapshot(ctx).Entries
		if err := c.remote.ResetAllEntries(ctx); err != nil {
			return c.abort(prev, "entries replace", err)
		}
		local := schema.ValidEntries(base)
		if len(local) > 0 {
			snap, err := c.remote.ApplyMerge(ctx, remote.MergeEntries(local))
			if err != nil {
				return c.abort(prev, "entries replace", err)
			}
			c.refreshEntries(ctx, snap.Entries())
		}
		c.logger.Printf("Merge %s: replaced account entries with %d local entries", m.ID, len(local))

	case Skip:
		m.Discarded = m.Discarded[:0]
		for _, e := range prev.Entries.UniqueToLocal {
			m.Discarded = append(m.Discarded, e.Key())
		}
		c.logger.Printf("Merge %s: dropping %d local-only entries", m.ID, len(m.Discarded))
	}

	m.Entries = schema.SlotResolved
	next := *prev
	next.Entries = nil
	return c.advance(ctx, prev, &next, m)
}

// SyncDown replaces the local copy with the account's unless a merge flag
// is present when the write happens. applied reports whether it wrote.
// Unsynced local entries the account lacks are kept.
func (c *Coordinator) SyncDown(ctx context.Context) (applied bool, err error) {
	return c.SyncDownFrom(ctx, c.store.Snapshot(ctx))
}

// SyncDownFrom is SyncDown for a caller that read base before its own
// remote calls. Settings edited locally since base are kept.
func (c *Coordinator) SyncDownFrom(ctx context.Context, base store.Image) (applied bool, err error) {
	snap, err := c.remote.GetSyncSnapshot(ctx)
	if err != nil {
		c.failed("sync-down", err)
		return false, fmt.Errorf("failed to sync down: %w", err)
	}

	applied, err = c.store.ReplaceUnlessPending(ctx, base, imageOf(snap))
	if err != nil {
		return false, fmt.Errorf("failed to write account snapshot: %w", err)
	}
	if !applied {
		c.logger.Printf("Sync-down skipped: a merge is pending")
		return false, nil
	}
	c.bus.Publish(events.New(events.TypeSyncedDown, events.SyncedDownData{Entries: len(snap.Entries())}))
	return true, nil
}

// detect compares local and account data and opens slots for merge m.
// The caller holds the busy mark; detect releases it.
func (c *Coordinator) detect(ctx context.Context, m schema.MergeState) (*Pending, error) {
	base := c.store.Snapshot(ctx)
	snap, err := c.remote.GetSyncSnapshot(ctx)
	if err != nil {
		c.failed("detect", err)
		c.release(Idle, nil)
		return nil, fmt.Errorf("failed to detect divergence: %w", err)
	}

	div := Detect(base.Settings, base.Entries, snap.Settings, snap.Entries())
	if m.Settings != schema.SlotResolved {
		m.Settings = slot(div.SettingsDiffer)
	}
	if m.Entries != schema.SlotResolved {
		m.Entries = slot(len(div.Entries.UniqueToLocal) > 0)
	}

	if m.Done() {
		if err := c.complete(ctx, m, base, snap); err != nil {
			c.release(Idle, nil)
			return nil, err
		}
		c.release(Idle, nil)
		return nil, nil
	}

	if err := c.store.SetMergeState(ctx, m); err != nil {
		c.release(Idle, nil)
		return nil, fmt.Errorf("failed to record merge decisions: %w", err)
	}

	p := &Pending{MergeID: m.ID}
	if m.Settings == schema.SlotOpen {
		p.Settings = &SettingsConflict{Local: base.Settings, Remote: snap.Settings, Relation: div.Settings}
	}
	if m.Entries == schema.SlotOpen {
		diff := div.Entries
		p.Entries = &diff
	}
	c.release(PendingDecision, p)

	c.logger.Printf("Merge %s: decision required (settings: %v, local-only entries: %d)",
		m.ID, p.Settings != nil, len(div.Entries.UniqueToLocal))
	c.bus.Publish(events.New(events.TypeDecisionRequired, events.DecisionData{
		MergeID:        m.ID,
		Settings:       p.Settings != nil,
		Entries:        p.Entries != nil,
		UniqueToLocal:  len(div.Entries.UniqueToLocal),
		UniqueToRemote: div.Entries.UniqueToRemote,
	}))
	return p, nil
}

// openSlot marks the coordinator busy and checks that the slot is open
// both here and in the stored merge state.
func (c *Coordinator) openSlot(ctx context.Context, open func(*Pending) bool, stored func(schema.MergeState) schema.SlotState) (*Pending, schema.MergeState, error) {
	state, pending, err := c.acquire()
	if err != nil {
		return nil, schema.MergeState{}, err
	}
	if pending == nil || !open(pending) {
		c.release(state, pending)
		return nil, schema.MergeState{}, syncerr.ErrNoDecision
	}

	m, present := c.store.MergeState(ctx)
	if !present || m.ID != pending.MergeID || stored(m) != schema.SlotOpen {
		// Another process resolved or restarted the merge.
		c.release(Idle, nil)
		return nil, schema.MergeState{}, fmt.Errorf("%w: merge %s was superseded", syncerr.ErrNoDecision, pending.MergeID)
	}

	c.mu.Lock()
	c.state = Resolving
	c.mu.Unlock()
	return pending, m, nil
}

// advance records a resolved slot and, once no slot is open, completes the
// merge with a fresh sync-down.
func (c *Coordinator) advance(ctx context.Context, prev, next *Pending, m schema.MergeState) (*Pending, error) {
	if err := c.store.SetMergeState(ctx, m); err != nil {
		c.release(PendingDecision, prev)
		return nil, fmt.Errorf("failed to record merge decision: %w", err)
	}

	if !m.Done() {
		c.release(PendingDecision, next)
		return c.Pending(), nil
	}

	base := c.store.Snapshot(ctx)
	snap, err := c.remote.GetSyncSnapshot(ctx)
	if err != nil {
		// Every slot is resolved; Resume finishes the sync-down.
		c.failed("final sync-down", err)
		c.release(Idle, nil)
		return nil, fmt.Errorf("failed to sync down after merge: %w", err)
	}

	err = c.complete(ctx, m, base, snap)
	c.release(Idle, nil)
	return nil, err
}

// complete writes snap locally and clears the flag if it still belongs to m.
func (c *Coordinator) complete(ctx context.Context, m schema.MergeState, base store.Image, snap *remote.Snapshot) error {
	applied, err := c.store.CompleteMerge(ctx, m.ID, base, imageOf(snap))
	if err != nil {
		return fmt.Errorf("failed to complete merge: %w", err)
	}
	if !applied {
		c.logger.Printf("Merge %s superseded by another merge, local copy left alone", m.ID)
		return nil
	}

	c.logger.Printf("Merge %s complete (%d entries)", m.ID, len(snap.Entries()))
	c.bus.Publish(events.New(events.TypeSyncedDown, events.SyncedDownData{Entries: len(snap.Entries())}))
	c.bus.Publish(events.New(events.TypeMergeResolved, events.ResolvedData{MergeID: m.ID, Entries: len(snap.Entries())}))
	return nil
}

// abort returns to the previous decision after a failed resolution. The
// stored merge state is untouched, so the same resolution can be retried.
func (c *Coordinator) abort(prev *Pending, stage string, err error) (*Pending, error) {
	c.failed(stage, err)
	c.release(PendingDecision, prev)
	return nil, fmt.Errorf("%s failed: %w", stage, err)
}

func (c *Coordinator) refreshEntries(ctx context.Context, next []schema.Entry) {
	if err := c.store.RefreshEntries(ctx, next); err != nil {
		c.logger.Printf("Warning: failed to write merged entries locally: %v", err)
	}
}

func (c *Coordinator) failed(stage string, err error) {
	c.logger.Printf("%s failed: %v", stage, err)
	c.bus.Publish(events.New(events.TypeSyncFailed, events.FailureData{Stage: stage, Error: err.Error()}))
}

func (c *Coordinator) acquire() (State, *Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return c.state, nil, syncerr.ErrMergeInFlight
	}
	c.busy = true
	return c.state, c.pending, nil
}

func (c *Coordinator) release(state State, pending *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.state = state
	c.pending = pending
}

func slot(open bool) schema.SlotState {
	if open {
		return schema.SlotOpen
	}
	return schema.SlotNone
}

func imageOf(snap *remote.Snapshot) store.Image {
	return store.Image{Settings: snap.Settings, Entries: snap.Entries()}
}
