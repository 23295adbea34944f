package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/syncerr"
)

func TestMemory_ApplyMergeDeduplicatesByTimestamp(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := schema.Entry{Timestamp: "2026-01-10T07:00:00.000Z", PomodoroDuration: 25}
	sameInstant := schema.Entry{Timestamp: "2026-01-10T09:00:00+02:00", PomodoroDuration: 25}
	b := schema.Entry{Timestamp: "2026-01-10T08:00:00.000Z", PomodoroDuration: 25}

	if _, err := m.ApplyMerge(ctx, MergeEntries([]schema.Entry{a, sameInstant, b})); err != nil {
		t.Fatalf("ApplyMerge() failed: %v", err)
	}
	_, entries := m.State()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].ID == entries[1].ID {
		t.Error("entries should get distinct identities")
	}
}

func TestMemory_ApplyMergeRejectsInvalid(t *testing.T) {
	m := NewMemory()
	bad := schema.Settings{PomodoroDuration: -1, ShortBreakDuration: 5, LongBreakDuration: 15}
	if _, err := m.ApplyMerge(context.Background(), MergeSettings(bad)); !errors.Is(err, syncerr.ErrRejected) {
		t.Errorf("ApplyMerge() with invalid settings = %v, want ErrRejected", err)
	}
	if got, _ := m.State(); got != schema.DefaultSettings() {
		t.Errorf("settings changed by a rejected merge: %+v", got)
	}
}

func TestMemory_HookFailsOperation(t *testing.T) {
	m := NewMemory()
	m.Hook = func(op string) error {
		if op == OpApplyMerge {
			return syncerr.ErrOffline
		}
		return nil
	}

	_, err := m.ApplyMerge(context.Background(), MergeEntries([]schema.Entry{
		{Timestamp: "2026-01-10T07:00:00.000Z", PomodoroDuration: 25},
	}))
	if !errors.Is(err, syncerr.ErrOffline) {
		t.Fatalf("ApplyMerge() = %v, want ErrOffline", err)
	}
	if _, entries := m.State(); len(entries) != 0 {
		t.Errorf("failed merge should not change the account, got %d entries", len(entries))
	}
	if n := m.Calls(OpApplyMerge); n != 1 {
		t.Errorf("Calls(ApplyMerge) = %d, want 1", n)
	}
}

func TestMemory_CanceledContextIsOffline(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.GetSettings(ctx); !errors.Is(err, syncerr.ErrOffline) || !errors.Is(err, context.Canceled) {
		t.Errorf("GetSettings() with canceled context = %v, want ErrOffline wrapping context.Canceled", err)
	}
}

func TestMemory_RegisterAndLogin(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	creds := Credentials{Email: "a@example.com", Password: "pw"}

	if err := m.Register(ctx, creds); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(ctx, creds); !errors.Is(err, syncerr.ErrRejected) {
		t.Errorf("duplicate Register() = %v, want ErrRejected", err)
	}
	if _, err := m.Login(ctx, creds); err != nil {
		t.Errorf("Login() failed: %v", err)
	}
	if _, err := m.Login(ctx, Credentials{Email: "b@example.com", Password: "pw"}); !errors.Is(err, syncerr.ErrUnauthorized) {
		t.Errorf("Login() for unknown account = %v, want ErrUnauthorized", err)
	}
}

func TestMemory_ExportUsesClock(t *testing.T) {
	m := NewMemory()
	m.Clock = clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))

	raw, err := m.ExportAccountBackup(context.Background())
	if err != nil {
		t.Fatalf("ExportAccountBackup() failed: %v", err)
	}
	want := `"timestamp":"2026-05-01T09:30:00.000Z"`
	if !strings.Contains(string(raw), want) {
		t.Errorf("backup %s does not contain %s", raw, want)
	}
}

func TestMemory_SeedAssignsIdentities(t *testing.T) {
	m := NewMemory()
	m.Seed(schema.DefaultSettings(), []schema.Entry{
		{Timestamp: "2026-01-10T07:00:00.000Z", PomodoroDuration: 25},
		{Timestamp: "2026-01-10T08:00:00.000Z", PomodoroDuration: 25, ID: "x"},
	})
	_, entries := m.State()
	if entries[0].ID == "" || entries[1].ID != "x" {
		t.Errorf("Seed() identities = %q, %q", entries[0].ID, entries[1].ID)
	}
}
