// Package backup exports and imports self-contained copies of a user's
// settings and session log.
//
// A backup is a schema.Document written as JSON (the default) or YAML.
// Parsing validates the raw decoded tree before any of it is trusted: every
// required field must be present with the right type, and the version must
// be a 1.x release. Restoring a backup overwrites the local copy wholesale.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/syncerr"
)

// Format is a backup file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a --format value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: unknown backup format %q (want json or yaml)", syncerr.ErrValidation, s)
}

// FormatOf picks the format from a file extension. Anything that is not
// .yaml or .yml is JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Target selects which copy a backup is taken from or restored into.
type Target string

const (
	TargetLocal   Target = "local"
	TargetAccount Target = "account"
)

// LocalStore is the part of the local store the codec needs.
// *store.Store satisfies it.
type LocalStore interface {
	ReadSettings(ctx context.Context) schema.Settings
	ReadEntries(ctx context.Context) []schema.Entry
	Restore(ctx context.Context, settings schema.Settings, entries []schema.Entry) error
}

// Config holds the codec's collaborators.
type Config struct {
	Store LocalStore

	// Remote serves account exports and imports. Optional; account targets
	// fail without it.
	Remote remote.Client

	// Fs is where backup files are read and written (default: OS filesystem)
	Fs afero.Fs

	// Clock stamps new backups and default file names (default: real clock)
	Clock clockwork.Clock

	// Logger for backup activity (default: stderr logger)
	Logger *log.Logger
}

// Codec creates, reads and restores backups.
type Codec struct {
	store  LocalStore
	remote remote.Client
	fs     afero.Fs
	clock  clockwork.Clock
	logger *log.Logger
}

// New creates a codec.
func New(cfg Config) *Codec {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[backup] ", log.LstdFlags)
	}
	return &Codec{
		store:  cfg.Store,
		remote: cfg.Remote,
		fs:     cfg.Fs,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// CreateBackup builds a document from the local copy.
func (c *Codec) CreateBackup(ctx context.Context) schema.Document {
	entries := c.store.ReadEntries(ctx)
	if entries == nil {
		entries = []schema.Entry{}
	}
	return schema.Document{
		Version:   schema.BackupVersion,
		Timestamp: schema.FormatTimestamp(c.clock.Now()),
		Settings:  c.store.ReadSettings(ctx),
		Stats:     schema.Stats{Completed: entries},
	}
}

// DefaultFileName returns pomodoro-backup-YYYY-MM-DD.json for the UTC day
// of now.
func DefaultFileName(now time.Time) string {
	return "pomodoro-backup-" + now.UTC().Format("2006-01-02") + ".json"
}

// Restore overwrites the local settings and entries with doc.
func (c *Codec) Restore(ctx context.Context, doc schema.Document) error {
	if err := c.store.Restore(ctx, doc.Settings, doc.Stats.Completed); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	c.logger.Printf("Restored %d entries from backup of %s", len(doc.Stats.Completed), doc.Timestamp)
	return nil
}

// Export produces a document from target.
func (c *Codec) Export(ctx context.Context, target Target) (schema.Document, error) {
	switch target {
	case TargetLocal, "":
		return c.CreateBackup(ctx), nil
	case TargetAccount:
		if c.remote == nil {
			return schema.Document{}, syncerr.ErrNotAuthenticated
		}
		raw, err := c.remote.ExportAccountBackup(ctx)
		if err != nil {
			return schema.Document{}, fmt.Errorf("failed to export account backup: %w", err)
		}
		doc, err := Parse(raw, FormatJSON)
		if err != nil {
			return schema.Document{}, fmt.Errorf("account backup: %w", err)
		}
		return doc, nil
	}
	return schema.Document{}, fmt.Errorf("%w: unknown backup target %q", syncerr.ErrValidation, target)
}

// Import restores doc into target. Account imports replace the account's
// data on the server; local imports overwrite the local copy.
func (c *Codec) Import(ctx context.Context, target Target, doc schema.Document) error {
	switch target {
	case TargetLocal, "":
		return c.Restore(ctx, doc)
	case TargetAccount:
		if c.remote == nil {
			return syncerr.ErrNotAuthenticated
		}
		if err := c.remote.ImportAccountBackup(ctx, doc); err != nil {
			return fmt.Errorf("failed to import account backup: %w", err)
		}
		c.logger.Printf("Imported %d entries into the account", len(doc.Stats.Completed))
		return nil
	}
	return fmt.Errorf("%w: unknown backup target %q", syncerr.ErrValidation, target)
}

// ExportFile writes a backup of target to path. An empty path means
// DefaultFileName in the current directory. The format follows the
// extension of path. It returns the path written.
func (c *Codec) ExportFile(ctx context.Context, target Target, path string) (string, error) {
	if path == "" {
		path = DefaultFileName(c.clock.Now())
	}
	doc, err := c.Export(ctx, target)
	if err != nil {
		return "", err
	}
	data, err := Marshal(doc, FormatOf(path))
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(c.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}

// ReadFile reads and validates the backup at path.
func (c *Codec) ReadFile(path string) (schema.Document, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to read backup file: %w", err)
	}
	doc, err := Parse(data, FormatOf(path))
	if err != nil {
		return schema.Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal encodes doc. JSON output is indented by two spaces.
func Marshal(doc schema.Document, format Format) ([]byte, error) {
	if doc.Stats.Completed == nil {
		doc.Stats.Completed = []schema.Entry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	if format != FormatYAML {
		return append(data, '\n'), nil
	}

	// YAML goes through the JSON tree so both formats share field names.
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup as yaml: %w", err)
	}
	return out, nil
}

// Parse decodes and validates a backup. All failures wrap
// syncerr.ErrValidation.
func Parse(data []byte, format Format) (schema.Document, error) {
	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return schema.Document{}, fmt.Errorf("%w: not a yaml document: %v", syncerr.ErrValidation, err)
		}
		var err error
		if data, err = json.Marshal(doc); err != nil {
			return schema.Document{}, fmt.Errorf("%w: unsupported yaml content: %v", syncerr.ErrValidation, err)
		}
	}

	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return schema.Document{}, fmt.Errorf("%w: not a json document: %v", syncerr.ErrValidation, err)
	}

	if err := validateTree(tree); err != nil {
		return schema.Document{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}

	var doc schema.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return schema.Document{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return schema.Document{}, fmt.Errorf("%w: %v", syncerr.ErrValidation, err)
	}
	if err := doc.Settings.Validate(); err != nil {
		return schema.Document{}, fmt.Errorf("%w: settings: %v", syncerr.ErrValidation, err)
	}
	for i, e := range doc.Stats.Completed {
		if err := e.Validate(); err != nil {
			return schema.Document{}, fmt.Errorf("%w: stats.completed[%d]: %v", syncerr.ErrValidation, i, err)
		}
	}
	return doc, nil
}

// checkVersion accepts any 1.x backup.
func checkVersion(v string) error {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return fmt.Errorf("version %q is not a release number", v)
	}
	if major := parsed.Segments()[0]; major != 1 {
		return fmt.Errorf("unsupported backup version %s (this build reads 1.x)", parsed)
	}
	return nil
}

// Summary describes a backup for display.
type Summary struct {
	// Date is when the backup was taken. Zero when its timestamp does not
	// parse.
	Date         time.Time
	Count        int
	TotalMinutes float64
	Version      string
}

// Summarize returns the display summary of doc.
func Summarize(doc schema.Document) Summary {
	date, _ := schema.ParseTimestamp(doc.Timestamp)
	return Summary{
		Date:         date,
		Count:        len(doc.Stats.Completed),
		TotalMinutes: schema.TotalMinutes(doc.Stats.Completed),
		Version:      doc.Version,
	}
}
