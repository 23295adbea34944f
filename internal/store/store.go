// Package store provides the local, offline-capable copy of a user's data.
//
// The store is an embedded SQLite database (.pomosync/local.db) holding JSON
// values under stable keys, one row per key:
//
//   - pomodoro-settings: the settings record
//   - pomodoro-stats:    the ordered list of completed-session entries
//   - mergePending:      present while a merge decision is outstanding
//   - token:             the account API token
//
// Reads never fail. Missing or corrupt values fall back to defaults and are
// logged; the corrupt value itself is left in place. Writes that must not
// clobber data awaiting a merge check the merge-pending key inside the same
// transaction as the write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pomosync/pomosync/internal/schema"
)

// Stable keys of the persisted state.
const (
	KeySettings     = "pomodoro-settings"
	KeyEntries      = "pomodoro-stats"
	KeyMergePending = "mergePending"
	KeyToken        = "token"
)

// corruptSuffix marks the copy kept when a corrupt value is replaced.
const corruptSuffix = ".corrupt"

// Store wraps the SQLite connection holding the local copy.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens the local store at path.
//
// Transactions take the write lock up front (BEGIN IMMEDIATE) so that a
// check of the merge-pending key and the write that depends on it cannot be
// split by another writer. The caller MUST call Close() when done.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	// One connection: the CLI and daemon are the only writers and each
	// runs few, short transactions.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the store, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the key-value table. Safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ReadSettings returns the stored settings, or the defaults when nothing
// valid is stored. Stored fields are layered over the defaults, so a record
// written by an older client that lacks a field still loads.
func (s *Store) ReadSettings(ctx context.Context) schema.Settings {
	return s.readSettings(ctx, s.conn)
}

// WriteSettings stores settings, replacing the previous record.
func (s *Store) WriteSettings(ctx context.Context, settings schema.Settings) error {
	return s.writeSettings(ctx, s.conn, settings)
}

// ReadEntries returns the stored session log. Malformed elements are
// dropped; a corrupt log reads as empty.
func (s *Store) ReadEntries(ctx context.Context) []schema.Entry {
	entries, _ := s.readEntries(ctx, s.conn)
	return entries
}

// AppendEntry adds one entry to the end of the session log.
//
// When the stored log cannot be parsed at all, a copy of it is kept under
// pomodoro-stats.corrupt before the new log is written.
func (s *Store) AppendEntry(ctx context.Context, entry schema.Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		entries, corrupt := s.readEntries(ctx, tx)
		if corrupt != "" {
			if err := put(ctx, tx, KeyEntries+corruptSuffix, corrupt); err != nil {
				return err
			}
			s.logger.Printf("Warning: kept unreadable session log under %s%s", KeyEntries, corruptSuffix)
		}
		return s.writeEntries(ctx, tx, append(entries, entry))
	})
}

// WriteAllEntries replaces the session log.
func (s *Store) WriteAllEntries(ctx context.Context, entries []schema.Entry) error {
	return s.writeEntries(ctx, s.conn, entries)
}

// Image is the settings record and session log, read or written together.
type Image struct {
	Settings schema.Settings
	Entries  []schema.Entry
}

// Snapshot reads settings and entries in one transaction.
func (s *Store) Snapshot(ctx context.Context) Image {
	var img Image
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		img = s.readImage(ctx, tx)
		return nil
	})
	if err != nil {
		s.logger.Printf("Warning: snapshot transaction failed, reading without one: %v", err)
		return s.readImage(ctx, s.conn)
	}
	return img
}

// MergeState returns the outstanding merge state. present reports whether
// the merge-pending key exists at all; a present but unreadable value is
// reported as present with both slots open and no generation id.
func (s *Store) MergeState(ctx context.Context) (state schema.MergeState, present bool) {
	return s.mergeState(ctx, s.conn)
}

// MergePending reports whether a merge decision is outstanding.
func (s *Store) MergePending(ctx context.Context) bool {
	_, present := s.MergeState(ctx)
	return present
}

// SetMergeState stores state under the merge-pending key.
func (s *Store) SetMergeState(ctx context.Context, state schema.MergeState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid merge state: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal merge state: %w", err)
	}
	return put(ctx, s.conn, KeyMergePending, string(data))
}

// ClearMergeState removes the merge-pending key.
func (s *Store) ClearMergeState(ctx context.Context) error {
	return del(ctx, s.conn, KeyMergePending)
}

// ReplaceUnlessPending overwrites settings and entries with next, a snapshot
// of the account, unless a merge became pending. The check and the write run
// in one transaction. applied is false when the write was skipped.
//
// Local entries the account has not acknowledged are never dropped: any
// unsynced entry whose timestamp next lacks stays in the log for the next
// push. base is the local image the caller read before talking to the
// account; settings edited since then are kept in place of next's.
func (s *Store) ReplaceUnlessPending(ctx context.Context, base, next Image) (applied bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, present := s.mergeState(ctx, tx); present {
			return nil
		}
		if err := s.writeImage(ctx, tx, s.rebase(s.readImage(ctx, tx), base, next, nil)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// CompleteMerge writes the post-merge snapshot and clears the merge-pending
// key in one transaction. If the key now belongs to a different merge
// generation than id, nothing is written and applied is false.
//
// The entries the stored merge state lists as discarded are dropped; every
// other unsynced local entry is kept as for ReplaceUnlessPending. Settings
// edited locally after the merge started, and newer than next's, are kept.
func (s *Store) CompleteMerge(ctx context.Context, id string, base, next Image) (applied bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		state, present := s.mergeState(ctx, tx)
		if present && state.ID != id {
			return nil
		}
		current := s.readImage(ctx, tx)
		out := s.rebase(current, base, next, state.Discarded)
		if present && editedSince(current.Settings, next.Settings, state.StartedAt) {
			s.logger.Printf("Settings edited during merge %s, keeping local settings", id)
			out.Settings = current.Settings
		}
		if err := s.writeImage(ctx, tx, out); err != nil {
			return err
		}
		if err := del(ctx, tx, KeyMergePending); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// RefreshEntries replaces the session log with next, the account's log
// after a merge, keeping local entries the account has not acknowledged.
func (s *Store) RefreshEntries(ctx context.Context, next []schema.Entry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, _ := s.readEntries(ctx, tx)
		return s.writeEntries(ctx, tx, s.carryOver(current, next, nil))
	})
}

// RefreshSettings writes next, the account's settings after a merge, unless
// the local settings changed since base was read. kept reports that the
// local edit won.
func (s *Store) RefreshSettings(ctx context.Context, base, next schema.Settings) (kept bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if current := s.readSettings(ctx, tx); current != base {
			s.logger.Printf("Settings changed locally during merge, keeping local settings")
			kept = true
			return nil
		}
		return s.writeSettings(ctx, tx, next)
	})
	return kept, err
}

// Restore overwrites settings and entries wholesale, with no merge
// semantics.
func (s *Store) Restore(ctx context.Context, settings schema.Settings, entries []schema.Entry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.writeSettings(ctx, tx, settings); err != nil {
			return err
		}
		return s.writeEntries(ctx, tx, entries)
	})
}

// Token returns the stored account token, or "" when logged out.
func (s *Store) Token(ctx context.Context) string {
	token, _, err := get(ctx, s.conn, KeyToken)
	if err != nil {
		s.logger.Printf("Warning: failed to read token: %v", err)
		return ""
	}
	return token
}

// SetToken stores the account token.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	return put(ctx, s.conn, KeyToken, token)
}

// ClearToken removes the account token.
func (s *Store) ClearToken(ctx context.Context) error {
	return del(ctx, s.conn, KeyToken)
}

func (s *Store) readImage(ctx context.Context, q querier) Image {
	entries, _ := s.readEntries(ctx, q)
	return Image{Settings: s.readSettings(ctx, q), Entries: entries}
}

func (s *Store) writeImage(ctx context.Context, q querier, img Image) error {
	if err := s.writeSettings(ctx, q, img.Settings); err != nil {
		return err
	}
	return s.writeEntries(ctx, q, img.Entries)
}

// rebase returns next with the local changes made between base and current
// applied on top.
func (s *Store) rebase(current, base, next Image, discard []string) Image {
	out := Image{Settings: next.Settings, Entries: s.carryOver(current.Entries, next.Entries, discard)}
	if current.Settings != base.Settings {
		s.logger.Printf("Settings changed locally during sync, keeping local settings")
		out.Settings = current.Settings
	}
	return out
}

// carryOver appends to next the current entries the account has not
// acknowledged: unsynced entries whose timestamp is neither in next nor in
// discard. Synced entries missing from next were removed on the account and
// are dropped.
func (s *Store) carryOver(current, next []schema.Entry, discard []string) []schema.Entry {
	known := make(map[string]bool, len(next)+len(discard))
	for _, e := range next {
		known[e.Key()] = true
	}
	for _, k := range discard {
		known[schema.CanonicalTimestamp(k)] = true
	}

	out := append([]schema.Entry{}, next...)
	kept := 0
	for _, e := range current {
		if e.Synced() || known[e.Key()] {
			continue
		}
		known[e.Key()] = true
		out = append(out, e)
		kept++
	}
	if kept > 0 {
		s.logger.Printf("Kept %d session entries not yet on the account", kept)
	}
	return out
}

// editedSince reports whether current carries a local edit stamped after
// the merge started and newer than next's stamp.
func editedSince(current, next schema.Settings, startedAt string) bool {
	if current.SameFields(next) {
		return false
	}
	edited, ok := current.UpdatedAt()
	if !ok {
		return false
	}
	started, ok := schema.ParseTimestamp(startedAt)
	if !ok || !edited.After(started) {
		return false
	}
	if remote, ok := next.UpdatedAt(); ok && !edited.After(remote) {
		return false
	}
	return true
}

func (s *Store) readSettings(ctx context.Context, q querier) schema.Settings {
	raw, ok, err := get(ctx, q, KeySettings)
	if err != nil {
		s.logger.Printf("Warning: failed to read settings, using defaults: %v", err)
		return schema.DefaultSettings()
	}
	if !ok {
		return schema.DefaultSettings()
	}

	settings := schema.DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		s.logger.Printf("Warning: stored settings are corrupt, using defaults: %v", err)
		return schema.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		s.logger.Printf("Warning: stored settings are invalid, using defaults: %v", err)
		return schema.DefaultSettings()
	}
	return settings
}

func (s *Store) writeSettings(ctx context.Context, q querier, settings schema.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return put(ctx, q, KeySettings, string(data))
}

// readEntries returns the parsed log. corrupt holds the raw value when it
// could not be parsed as a list at all.
func (s *Store) readEntries(ctx context.Context, q querier) (entries []schema.Entry, corrupt string) {
	raw, ok, err := get(ctx, q, KeyEntries)
	if err != nil {
		s.logger.Printf("Warning: failed to read session log: %v", err)
		return []schema.Entry{}, ""
	}
	if !ok {
		return []schema.Entry{}, ""
	}

	entries, dropped, err := schema.ParseEntries([]byte(raw))
	if err != nil {
		s.logger.Printf("Warning: stored session log is corrupt, reading as empty: %v", err)
		return []schema.Entry{}, raw
	}
	if dropped > 0 {
		s.logger.Printf("Warning: skipped %d malformed session entries", dropped)
	}
	return entries, ""
}

func (s *Store) writeEntries(ctx context.Context, q querier, entries []schema.Entry) error {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid entry %d: %w", i, err)
		}
	}
	if entries == nil {
		entries = []schema.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}
	return put(ctx, q, KeyEntries, string(data))
}

func (s *Store) mergeState(ctx context.Context, q querier) (schema.MergeState, bool) {
	raw, ok, err := get(ctx, q, KeyMergePending)
	if err != nil {
		// An unreadable flag must not let a sync-down through.
		s.logger.Printf("Warning: failed to read merge flag, treating as pending: %v", err)
		return unknownMergeState(), true
	}
	if !ok {
		return schema.MergeState{}, false
	}

	var state schema.MergeState
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.Validate() != nil {
		s.logger.Printf("Warning: merge flag value %q is not a merge state, treating slots as open", raw)
		return unknownMergeState(), true
	}
	return state, true
}

func unknownMergeState() schema.MergeState {
	return schema.MergeState{Settings: schema.SlotOpen, Entries: schema.SlotOpen}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func get(ctx context.Context, q querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

// put upserts key. Rows whose value is unchanged are not rewritten, so a
// sync-down that changes nothing leaves the database file untouched.
func put(ctx context.Context, q querier, key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	WHERE kv.value <> excluded.value
	`
	if _, err := q.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func del(ctx context.Context, q querier, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
