package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "local.db")
	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return s
}

// rawPut bypasses validation to plant corrupt values.
func rawPut(t *testing.T, s *Store, key, value string) {
	t.Helper()
	if err := put(context.Background(), s.conn, key, value); err != nil {
		t.Fatalf("failed to write %s: %v", key, err)
	}
}

func entryAt(minute int) schema.Entry {
	return schema.NewEntry(time.Date(2026, 1, 10, 7, minute, 0, 0, time.UTC), 25)
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestReadSettings_Defaults(t *testing.T) {
	s := setupTestStore(t)
	if got := s.ReadSettings(context.Background()); got != schema.DefaultSettings() {
		t.Errorf("ReadSettings() on empty store = %+v, want defaults", got)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	want := schema.Settings{
		PomodoroDuration:   30,
		ShortBreakDuration: 5,
		LongBreakDuration:  20,
		AutoStartBreak:     true,
		LastUpdated:        "2026-01-10T07:00:00.000Z",
	}
	if err := s.WriteSettings(ctx, want); err != nil {
		t.Fatalf("WriteSettings() failed: %v", err)
	}
	if got := s.ReadSettings(ctx); got != want {
		t.Errorf("ReadSettings() = %+v, want %+v", got, want)
	}
}

func TestWriteSettings_RejectsInvalid(t *testing.T) {
	s := setupTestStore(t)
	if err := s.WriteSettings(context.Background(), schema.Settings{}); err == nil {
		t.Error("WriteSettings() with zero durations should fail")
	}
}

func TestReadSettings_CorruptFallsBackAndKeepsValue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	rawPut(t, s, KeySettings, "{not json")

	if got := s.ReadSettings(ctx); got != schema.DefaultSettings() {
		t.Errorf("ReadSettings() on corrupt value = %+v, want defaults", got)
	}

	raw, ok, err := get(ctx, s.conn, KeySettings)
	if err != nil || !ok || raw != "{not json" {
		t.Errorf("corrupt value should be left in place, got %q (ok=%v, err=%v)", raw, ok, err)
	}
}

func TestReadSettings_PartialRecordLayersOverDefaults(t *testing.T) {
	s := setupTestStore(t)
	rawPut(t, s, KeySettings, `{"pomodoroDuration": 50}`)

	got := s.ReadSettings(context.Background())
	if got.PomodoroDuration != 50 {
		t.Errorf("PomodoroDuration = %v, want 50", got.PomodoroDuration)
	}
	if got.ShortBreakDuration != schema.DefaultShortBreakDuration {
		t.Errorf("ShortBreakDuration = %v, want default", got.ShortBreakDuration)
	}
}

func TestEntries_AppendAndRead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.AppendEntry(ctx, entryAt(i)); err != nil {
			t.Fatalf("AppendEntry(%d) failed: %v", i, err)
		}
	}

	got := s.ReadEntries(ctx)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.Timestamp != entryAt(i).Timestamp {
			t.Errorf("entry %d timestamp = %q, want %q (order must be kept)", i, e.Timestamp, entryAt(i).Timestamp)
		}
	}
}

func TestReadEntries_DropsMalformed(t *testing.T) {
	s := setupTestStore(t)
	rawPut(t, s, KeyEntries, `[{"timestamp":"2026-01-10T07:00:00.000Z","pomodoroDuration":25},{"timestamp":5},{}]`)

	if got := s.ReadEntries(context.Background()); len(got) != 1 {
		t.Errorf("expected 1 well-formed entry, got %d", len(got))
	}
}

func TestAppendEntry_KeepsCorruptLog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	rawPut(t, s, KeyEntries, "garbage")

	if err := s.AppendEntry(ctx, entryAt(1)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}
	if got := s.ReadEntries(ctx); len(got) != 1 {
		t.Errorf("expected 1 entry after append, got %d", len(got))
	}

	raw, ok, _ := get(ctx, s.conn, KeyEntries+corruptSuffix)
	if !ok || raw != "garbage" {
		t.Errorf("corrupt log copy = %q (ok=%v), want original value", raw, ok)
	}
}

func TestMergeState_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if s.MergePending(ctx) {
		t.Fatal("fresh store should have no merge pending")
	}

	state := schema.NewMergeState(time.Now())
	state.Entries = schema.SlotNone
	state.Discarded = []string{entryAt(3).Key()}
	if err := s.SetMergeState(ctx, state); err != nil {
		t.Fatalf("SetMergeState() failed: %v", err)
	}

	got, present := s.MergeState(ctx)
	if !present {
		t.Fatal("merge state should be present")
	}
	if !reflect.DeepEqual(got, state) {
		t.Errorf("MergeState() = %+v, want %+v", got, state)
	}

	if err := s.ClearMergeState(ctx); err != nil {
		t.Fatalf("ClearMergeState() failed: %v", err)
	}
	if s.MergePending(ctx) {
		t.Error("merge should not be pending after clear")
	}
}

func TestMergeState_LegacyFlagCountsAsPending(t *testing.T) {
	s := setupTestStore(t)
	rawPut(t, s, KeyMergePending, "1")

	state, present := s.MergeState(context.Background())
	if !present {
		t.Fatal("legacy flag value should count as pending")
	}
	if state.Settings != schema.SlotOpen || state.Entries != schema.SlotOpen {
		t.Errorf("legacy flag should open both slots, got %+v", state)
	}
}

func TestReplaceUnlessPending(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	local := []schema.Entry{entryAt(1)}
	if err := s.WriteAllEntries(ctx, local); err != nil {
		t.Fatalf("WriteAllEntries() failed: %v", err)
	}

	remoteSettings := schema.DefaultSettings()
	remoteSettings.PomodoroDuration = 45
	remoteEntries := []schema.Entry{entryAt(2), entryAt(3)}

	if err := s.SetMergeState(ctx, schema.NewMergeState(time.Now())); err != nil {
		t.Fatalf("SetMergeState() failed: %v", err)
	}

	base := s.Snapshot(ctx)
	next := Image{Settings: remoteSettings, Entries: remoteEntries}

	applied, err := s.ReplaceUnlessPending(ctx, base, next)
	if err != nil {
		t.Fatalf("ReplaceUnlessPending() failed: %v", err)
	}
	if applied {
		t.Error("ReplaceUnlessPending() should skip while a merge is pending")
	}
	if got := s.ReadEntries(ctx); len(got) != 1 {
		t.Errorf("local entries changed while pending: %+v", got)
	}
	if got := s.ReadSettings(ctx); got.PomodoroDuration != schema.DefaultPomodoroDuration {
		t.Errorf("local settings changed while pending: %+v", got)
	}

	if err := s.ClearMergeState(ctx); err != nil {
		t.Fatalf("ClearMergeState() failed: %v", err)
	}
	applied, err = s.ReplaceUnlessPending(ctx, base, next)
	if err != nil {
		t.Fatalf("ReplaceUnlessPending() failed: %v", err)
	}
	if !applied {
		t.Error("ReplaceUnlessPending() should apply with no merge pending")
	}
	// The unsynced local entry is not on the account yet, so it stays.
	got := s.ReadEntries(ctx)
	if len(got) != 3 || got[2].Key() != entryAt(1).Key() {
		t.Errorf("expected 2 remote entries plus the unsynced local one, got %+v", got)
	}
}

func TestCompleteMerge_GenerationGuard(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	current := schema.NewMergeState(time.Now())
	if err := s.SetMergeState(ctx, current); err != nil {
		t.Fatalf("SetMergeState() failed: %v", err)
	}

	settings := schema.DefaultSettings()
	settings.LongBreakDuration = 30
	base := s.Snapshot(ctx)
	next := Image{Settings: settings, Entries: []schema.Entry{entryAt(4)}}

	applied, err := s.CompleteMerge(ctx, "some-other-generation", base, next)
	if err != nil {
		t.Fatalf("CompleteMerge() failed: %v", err)
	}
	if applied {
		t.Error("CompleteMerge() with a stale generation should not apply")
	}
	if !s.MergePending(ctx) {
		t.Error("flag owned by another generation must stay set")
	}

	applied, err = s.CompleteMerge(ctx, current.ID, base, next)
	if err != nil {
		t.Fatalf("CompleteMerge() failed: %v", err)
	}
	if !applied {
		t.Fatal("CompleteMerge() with the owning generation should apply")
	}
	if s.MergePending(ctx) {
		t.Error("flag should be cleared by CompleteMerge()")
	}
	if got := s.ReadSettings(ctx); got.LongBreakDuration != 30 {
		t.Errorf("settings not written: %+v", got)
	}
}

func TestReplaceUnlessPending_KeepsConcurrentLocalChanges(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.AppendEntry(ctx, entryAt(1)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}
	base := s.Snapshot(ctx)

	// Another process records a session and edits settings while the
	// account snapshot is in flight.
	if err := s.AppendEntry(ctx, entryAt(5)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}
	edited := schema.DefaultSettings()
	edited.ShortBreakDuration = 7
	if err := s.WriteSettings(ctx, edited); err != nil {
		t.Fatalf("WriteSettings() failed: %v", err)
	}

	synced := entryAt(1)
	synced.ID = "r1"
	remoteSettings := schema.DefaultSettings()
	remoteSettings.PomodoroDuration = 45
	next := Image{Settings: remoteSettings, Entries: []schema.Entry{synced, entryAt(2)}}

	applied, err := s.ReplaceUnlessPending(ctx, base, next)
	if err != nil || !applied {
		t.Fatalf("ReplaceUnlessPending() = %v, %v", applied, err)
	}

	img := s.Snapshot(ctx)
	if len(img.Entries) != 3 {
		t.Fatalf("expected 3 entries (2 remote + 1 concurrent), got %+v", img.Entries)
	}
	if img.Entries[0].ID != "r1" {
		t.Errorf("remote identity not adopted: %+v", img.Entries[0])
	}
	if img.Entries[2].Timestamp != entryAt(5).Timestamp {
		t.Errorf("concurrent entry lost: %+v", img.Entries)
	}
	if img.Settings.ShortBreakDuration != 7 {
		t.Errorf("concurrent settings edit lost: %+v", img.Settings)
	}
}

func TestRefreshEntries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	local := []schema.Entry{entryAt(1), entryAt(2)}
	if err := s.WriteAllEntries(ctx, local); err != nil {
		t.Fatalf("WriteAllEntries() failed: %v", err)
	}
	if err := s.AppendEntry(ctx, entryAt(3)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}

	remote := []schema.Entry{entryAt(1), entryAt(2)}
	remote[0].ID, remote[1].ID = "a", "b"
	if err := s.RefreshEntries(ctx, remote); err != nil {
		t.Fatalf("RefreshEntries() failed: %v", err)
	}

	got := s.ReadEntries(ctx)
	if len(got) != 3 || got[0].ID != "a" || got[2].Synced() {
		t.Errorf("RefreshEntries() left %+v", got)
	}
}

func TestReplaceUnlessPending_DropsEntriesRemovedOnAccount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	gone := entryAt(1)
	gone.ID = "r1"
	if err := s.WriteAllEntries(ctx, []schema.Entry{gone, entryAt(2)}); err != nil {
		t.Fatalf("WriteAllEntries() failed: %v", err)
	}

	base := s.Snapshot(ctx)
	applied, err := s.ReplaceUnlessPending(ctx, base, Image{Settings: base.Settings, Entries: nil})
	if err != nil || !applied {
		t.Fatalf("ReplaceUnlessPending() = %v, %v", applied, err)
	}

	got := s.ReadEntries(ctx)
	if len(got) != 1 || got[0].Key() != entryAt(2).Key() {
		t.Errorf("expected only the unsynced entry to survive, got %+v", got)
	}
}

func TestCompleteMerge_DropsOnlyDiscardedEntries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.WriteAllEntries(ctx, []schema.Entry{entryAt(1), entryAt(2)}); err != nil {
		t.Fatalf("WriteAllEntries() failed: %v", err)
	}
	state := schema.NewMergeState(time.Now())
	state.Entries = schema.SlotResolved
	state.Settings = schema.SlotNone
	state.Discarded = []string{entryAt(1).Timestamp}
	if err := s.SetMergeState(ctx, state); err != nil {
		t.Fatalf("SetMergeState() failed: %v", err)
	}

	// Recorded while the decision was outstanding.
	if err := s.AppendEntry(ctx, entryAt(3)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}
	base := s.Snapshot(ctx)

	applied, err := s.CompleteMerge(ctx, state.ID, base, Image{Settings: base.Settings})
	if err != nil || !applied {
		t.Fatalf("CompleteMerge() = %v, %v", applied, err)
	}

	got := keysOf(s.ReadEntries(ctx))
	if got[entryAt(1).Key()] {
		t.Error("discarded entry should be dropped")
	}
	if !got[entryAt(2).Key()] || !got[entryAt(3).Key()] {
		t.Errorf("entries the account never saw were lost: %v", got)
	}
}

func TestCompleteMerge_KeepsSettingsEditedDuringMerge(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	remoteSettings := schema.DefaultSettings()
	remoteSettings.PomodoroDuration = 30
	remoteSettings.LastUpdated = schema.FormatTimestamp(started.Add(-time.Hour))

	tests := []struct {
		name string
		edit time.Time
		keep bool
	}{
		{"edited after start", started.Add(time.Minute), true},
		{"edited before start", started.Add(-time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestStore(t)
			ctx := context.Background()

			state := schema.NewMergeState(started)
			state.Settings = schema.SlotResolved
			state.Entries = schema.SlotNone
			if err := s.SetMergeState(ctx, state); err != nil {
				t.Fatalf("SetMergeState() failed: %v", err)
			}
			edited := schema.DefaultSettings()
			edited.ShortBreakDuration = 9
			edited = edited.Stamped(tt.edit)
			if err := s.WriteSettings(ctx, edited); err != nil {
				t.Fatalf("WriteSettings() failed: %v", err)
			}

			base := s.Snapshot(ctx)
			if _, err := s.CompleteMerge(ctx, state.ID, base, Image{Settings: remoteSettings}); err != nil {
				t.Fatalf("CompleteMerge() failed: %v", err)
			}

			got := s.ReadSettings(ctx)
			if kept := got.ShortBreakDuration == 9; kept != tt.keep {
				t.Errorf("kept local settings = %v, want %v (got %+v)", kept, tt.keep, got)
			}
		})
	}
}

func TestRefreshSettings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := s.ReadSettings(ctx)
	next := schema.DefaultSettings()
	next.PomodoroDuration = 40

	kept, err := s.RefreshSettings(ctx, base, next)
	if err != nil || kept {
		t.Fatalf("RefreshSettings() = %v, %v", kept, err)
	}
	if got := s.ReadSettings(ctx); got.PomodoroDuration != 40 {
		t.Errorf("RefreshSettings() did not write next: %+v", got)
	}

	edited := next
	edited.LongBreakDuration = 20
	if err := s.WriteSettings(ctx, edited); err != nil {
		t.Fatalf("WriteSettings() failed: %v", err)
	}
	kept, err = s.RefreshSettings(ctx, next, schema.DefaultSettings())
	if err != nil || !kept {
		t.Fatalf("RefreshSettings() after a local edit = %v, %v", kept, err)
	}
	if got := s.ReadSettings(ctx); got != edited {
		t.Errorf("local edit overwritten: %+v", got)
	}
}

func keysOf(entries []schema.Entry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Key()] = true
	}
	return out
}

func TestRestore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.AppendEntry(ctx, entryAt(1)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}

	settings := schema.DefaultSettings()
	settings.AutoStartPomodoro = true
	if err := s.Restore(ctx, settings, nil); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	img := s.Snapshot(ctx)
	if !img.Settings.AutoStartPomodoro {
		t.Error("settings not restored")
	}
	if len(img.Entries) != 0 {
		t.Errorf("entries should be replaced wholesale, got %d", len(img.Entries))
	}
}

func TestToken(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if got := s.Token(ctx); got != "" {
		t.Errorf("Token() = %q, want empty", got)
	}
	if err := s.SetToken(ctx, "abc"); err != nil {
		t.Fatalf("SetToken() failed: %v", err)
	}
	if got := s.Token(ctx); got != "abc" {
		t.Errorf("Token() = %q, want abc", got)
	}
	if err := s.ClearToken(ctx); err != nil {
		t.Fatalf("ClearToken() failed: %v", err)
	}
	if got := s.Token(ctx); got != "" {
		t.Errorf("Token() after clear = %q, want empty", got)
	}
	if err := s.SetToken(ctx, ""); err == nil {
		t.Error("SetToken(\"\") should fail")
	}
}

func TestReopen_PersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := s.SetMergeState(ctx, schema.NewMergeState(time.Now())); err != nil {
		t.Fatalf("SetMergeState() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if !s.MergePending(ctx) {
		t.Error("merge flag should survive a reopen")
	}
}
