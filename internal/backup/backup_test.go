package backup

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/store"
	"github.com/pomosync/pomosync/internal/syncerr"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupCodec(t *testing.T) (*Codec, *store.Store, *remote.Memory, afero.Fs) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)

	s, err := store.Open(filepath.Join(t.TempDir(), "local.db"), quiet)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	clock := clockwork.NewFakeClockAt(testNow)
	mem := remote.NewMemory()
	mem.Clock = clock
	fs := afero.NewMemMapFs()
	c := New(Config{Store: s, Remote: mem, Fs: fs, Clock: clock, Logger: quiet})
	return c, s, mem, fs
}

func sampleEntries() []schema.Entry {
	return []schema.Entry{
		{Timestamp: "2026-01-10T07:36:29.000Z", PomodoroDuration: 25},
		{Timestamp: "2026-01-10T08:10:00.000Z", PomodoroDuration: 0.05},
	}
}

func TestCreateBackup(t *testing.T) {
	c, s, _, _ := setupCodec(t)
	ctx := context.Background()
	settings := schema.Settings{PomodoroDuration: 30, ShortBreakDuration: 5, LongBreakDuration: 15, AutoStartBreak: true}
	if err := s.Restore(ctx, settings, sampleEntries()); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	doc := c.CreateBackup(ctx)
	if doc.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", doc.Version)
	}
	if doc.Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Errorf("Timestamp = %q", doc.Timestamp)
	}
	if doc.Settings != settings {
		t.Errorf("Settings = %+v, want %+v", doc.Settings, settings)
	}
	if len(doc.Stats.Completed) != 2 {
		t.Errorf("Completed has %d entries, want 2", len(doc.Stats.Completed))
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		entries []schema.Entry
	}{
		{"json", FormatJSON, sampleEntries()},
		{"yaml", FormatYAML, sampleEntries()},
		{"json empty", FormatJSON, nil},
		{"yaml empty", FormatYAML, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s, _, _ := setupCodec(t)
			ctx := context.Background()
			settings := schema.Settings{PomodoroDuration: 50, ShortBreakDuration: 10, LongBreakDuration: 20, AutoStartPomodoro: true}
			if err := s.Restore(ctx, settings, tt.entries); err != nil {
				t.Fatalf("Restore() failed: %v", err)
			}
			doc := c.CreateBackup(ctx)

			data, err := Marshal(doc, tt.format)
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			got, err := Parse(data, tt.format)
			if err != nil {
				t.Fatalf("Parse() failed: %v\n%s", err, data)
			}

			if got.Version != doc.Version || got.Timestamp != doc.Timestamp || got.Settings != doc.Settings {
				t.Errorf("round trip changed the document: got %+v, want %+v", got, doc)
			}
			if len(got.Stats.Completed) != len(tt.entries) {
				t.Fatalf("round trip has %d entries, want %d", len(got.Stats.Completed), len(tt.entries))
			}
			for i, e := range got.Stats.Completed {
				if e != tt.entries[i] {
					t.Errorf("entry %d = %+v, want %+v", i, e, tt.entries[i])
				}
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	valid := `"version": "1.0.0", "timestamp": "2026-01-10T07:36:29.000Z"`
	settings := `"settings": {"pomodoroDuration": 25, "shortBreakDuration": 5, "longBreakDuration": 15, "autoStartBreak": false, "autoStartPomodoro": false}`

	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{`, "not a json document"},
		{"not an object", `[]`, "must be an object"},
		{"missing version", `{"timestamp": "x", ` + settings + `, "stats": {"completed": []}}`, "version must be a string"},
		{"numeric timestamp", `{"version": "1.0.0", "timestamp": 5, ` + settings + `, "stats": {"completed": []}}`, "timestamp must be a string"},
		{"missing settings", `{` + valid + `, "stats": {"completed": []}}`, "settings must be an object"},
		{"string duration", `{` + valid + `, "settings": {"pomodoroDuration": "25", "shortBreakDuration": 5, "longBreakDuration": 15, "autoStartBreak": false, "autoStartPomodoro": false}, "stats": {"completed": []}}`, "settings.pomodoroDuration must be a number"},
		{"missing flag", `{` + valid + `, "settings": {"pomodoroDuration": 25, "shortBreakDuration": 5, "longBreakDuration": 15, "autoStartBreak": false}, "stats": {"completed": []}}`, "settings.autoStartPomodoro must be a boolean"},
		{"negative duration", `{` + valid + `, "settings": {"pomodoroDuration": -1, "shortBreakDuration": 5, "longBreakDuration": 15, "autoStartBreak": false, "autoStartPomodoro": false}, "stats": {"completed": []}}`, "pomodoroDuration must be positive"},
		{"completed not a list", `{` + valid + `, ` + settings + `, "stats": {"completed": {}}}`, "stats.completed must be a list"},
		{"malformed entry", `{` + valid + `, ` + settings + `, "stats": {"completed": [{"timestamp": "2026-01-10T07:36:29.000Z"}]}}`, "stats.completed[0].pomodoroDuration must be a number"},
		{"blank entry timestamp", `{` + valid + `, ` + settings + `, "stats": {"completed": [{"timestamp": " ", "pomodoroDuration": 25}]}}`, "timestamp is required"},
		{"future major version", `{"version": "2.0.0", "timestamp": "x", ` + settings + `, "stats": {"completed": []}}`, "unsupported backup version"},
		{"garbage version", `{"version": "latest", "timestamp": "x", ` + settings + `, "stats": {"completed": []}}`, "not a release number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), FormatJSON)
			if !errors.Is(err, syncerr.ErrValidation) {
				t.Fatalf("Parse() error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_YAMLTimestampsStayStrings(t *testing.T) {
	data := []byte(`version: 1.0.0
timestamp: 2026-01-10T07:36:29.000Z
settings:
  pomodoroDuration: 25
  shortBreakDuration: 5
  longBreakDuration: 15
  autoStartBreak: false
  autoStartPomodoro: false
stats:
  completed:
    - timestamp: 2026-01-10T07:36:29.000Z
      pomodoroDuration: 25
`)
	doc, err := Parse(data, FormatYAML)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if doc.Stats.Completed[0].Timestamp != "2026-01-10T07:36:29.000Z" {
		t.Errorf("entry timestamp = %q", doc.Stats.Completed[0].Timestamp)
	}
}

func TestExportImportFile_Local(t *testing.T) {
	c, s, _, fs := setupCodec(t)
	ctx := context.Background()
	if err := s.Restore(ctx, schema.DefaultSettings(), sampleEntries()); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	path, err := c.ExportFile(ctx, TargetLocal, "")
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if path != "pomodoro-backup-2026-03-01.json" {
		t.Errorf("default path = %q", path)
	}
	if ok, _ := afero.Exists(fs, path); !ok {
		t.Fatalf("backup file %s not written", path)
	}

	// Wipe the local copy, then restore from the file.
	if err := s.Restore(ctx, schema.DefaultSettings(), nil); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	doc, err := c.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if err := c.Import(ctx, TargetLocal, doc); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if got := s.ReadEntries(ctx); len(got) != 2 {
		t.Errorf("restored %d entries, want 2", len(got))
	}
}

func TestExportFile_YAMLByExtension(t *testing.T) {
	c, _, _, fs := setupCodec(t)
	ctx := context.Background()

	path, err := c.ExportFile(ctx, TargetLocal, "backups/today.yaml")
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	if !strings.Contains(string(data), "pomodoroDuration: 25") {
		t.Errorf("expected yaml output, got:\n%s", data)
	}
	if _, err := c.ReadFile(path); err != nil {
		t.Errorf("ReadFile() of a yaml backup failed: %v", err)
	}
}

func TestAccountTarget(t *testing.T) {
	c, _, mem, _ := setupCodec(t)
	ctx := context.Background()
	mem.Seed(schema.DefaultSettings(), sampleEntries())

	doc, err := c.Export(ctx, TargetAccount)
	if err != nil {
		t.Fatalf("Export(account) failed: %v", err)
	}
	if len(doc.Stats.Completed) != 2 || !doc.Stats.Completed[0].Synced() {
		t.Errorf("account export = %+v", doc.Stats.Completed)
	}

	doc.Stats.Completed = doc.Stats.Completed[:1]
	if err := c.Import(ctx, TargetAccount, doc); err != nil {
		t.Fatalf("Import(account) failed: %v", err)
	}
	if _, entries := mem.State(); len(entries) != 1 {
		t.Errorf("account has %d entries after import, want 1", len(entries))
	}
	if n := mem.Calls(remote.OpImportBackup); n != 1 {
		t.Errorf("ImportAccountBackup called %d times, want 1", n)
	}
}

func TestAccountTarget_Offline(t *testing.T) {
	c, _, mem, _ := setupCodec(t)
	mem.Hook = func(string) error { return syncerr.ErrOffline }

	if _, err := c.Export(context.Background(), TargetAccount); !errors.Is(err, syncerr.ErrOffline) {
		t.Errorf("Export(account) error = %v, want ErrOffline", err)
	}
}

func TestSummarize(t *testing.T) {
	doc := schema.Document{
		Version:   "1.0.0",
		Timestamp: "2026-01-10T07:36:29.000Z",
		Stats:     schema.Stats{Completed: []schema.Entry{{PomodoroDuration: 25}, {PomodoroDuration: 50}}},
	}
	got := Summarize(doc)
	if got.Count != 2 || got.TotalMinutes != 75 || got.Version != "1.0.0" {
		t.Errorf("Summarize() = %+v", got)
	}
	if want := time.Date(2026, 1, 10, 7, 36, 29, 0, time.UTC); !got.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", got.Date, want)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "yml": FormatYAML, "yaml": FormatYAML} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, syncerr.ErrValidation) {
		t.Errorf("ParseFormat(xml) error = %v, want ErrValidation", err)
	}
}
