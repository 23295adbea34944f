package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/syncerr"
)

// Memory is an in-process account. It deduplicates entries by canonical
// timestamp and assigns identities the way the account service does.
//
// Hook, when set, runs before every operation with the operation name
// (one of the Op constants). A non-nil return fails the operation with that
// error. Hook is called without holding Memory's lock, so it may call back
// into Memory or block to force an interleaving.
type Memory struct {
	Hook  func(op string) error
	Clock clockwork.Clock

	mu       sync.Mutex
	settings schema.Settings
	entries  []schema.Entry
	nextID   int
	accounts map[string]string
	calls    map[string]int
}

// NewMemory creates an empty account with default settings.
func NewMemory() *Memory {
	return &Memory{
		Clock:    clockwork.NewRealClock(),
		settings: schema.DefaultSettings(),
		entries:  []schema.Entry{},
		accounts: make(map[string]string),
		calls:    make(map[string]int),
	}
}

// Seed replaces the account state. Entries without an identity get one.
func (m *Memory) Seed(settings schema.Settings, entries []schema.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.entries = m.entries[:0]
	for _, e := range entries {
		m.entries = append(m.entries, m.identify(e))
	}
}

// State returns a copy of the account settings and entries.
func (m *Memory) State() (schema.Settings, []schema.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, append([]schema.Entry(nil), m.entries...)
}

// Calls returns how many times op was attempted.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", syncerr.ErrOffline, err)
	}
	if m.Hook != nil {
		if err := m.Hook(op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Register(ctx context.Context, creds Credentials) error {
	if err := m.enter(ctx, OpRegister); err != nil {
		return err
	}
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("%w: email and password are required", syncerr.ErrRejected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[creds.Email]; exists {
		return fmt.Errorf("%w: account %s already exists", syncerr.ErrRejected, creds.Email)
	}
	m.accounts[creds.Email] = creds.Password
	return nil
}

func (m *Memory) Login(ctx context.Context, creds Credentials) (string, error) {
	if err := m.enter(ctx, OpLogin); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pw, ok := m.accounts[creds.Email]; !ok || pw != creds.Password {
		return "", fmt.Errorf("%w: invalid email or password", syncerr.ErrUnauthorized)
	}
	return "memory-token:" + creds.Email, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.enter(ctx, OpPing)
}

func (m *Memory) GetSettings(ctx context.Context) (schema.Settings, error) {
	if err := m.enter(ctx, OpGetSettings); err != nil {
		return schema.Settings{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *Memory) SaveSettings(ctx context.Context, patch schema.SettingsPatch) (schema.Settings, error) {
	if err := m.enter(ctx, OpSaveSettings); err != nil {
		return schema.Settings{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	updated, err := patch.Apply(m.settings)
	if err != nil {
		return schema.Settings{}, fmt.Errorf("%w: %v", syncerr.ErrRejected, err)
	}
	m.settings = updated
	return m.settings, nil
}

func (m *Memory) GetAllCompletedEntries(ctx context.Context) ([]schema.Entry, error) {
	if err := m.enter(ctx, OpGetEntries); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.Entry{}, m.entries...), nil
}

func (m *Memory) GetCompletedCount(ctx context.Context) (int, error) {
	if err := m.enter(ctx, OpGetCount); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) GetSyncSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := m.enter(ctx, OpGetSnapshot); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), nil
}

func (m *Memory) ApplyMerge(ctx context.Context, req MergeRequest) (*Snapshot, error) {
	if err := m.enter(ctx, OpApplyMerge); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Settings != nil {
		if err := req.Settings.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", syncerr.ErrRejected, err)
		}
	}
	if req.Stats != nil {
		for i, e := range req.Stats.Completed {
			if err := e.Validate(); err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", syncerr.ErrRejected, i, err)
			}
		}
	}

	if req.Settings != nil {
		m.settings = *req.Settings
	}
	if req.Stats != nil {
		seen := make(map[string]bool, len(m.entries))
		for _, e := range m.entries {
			seen[e.Key()] = true
		}
		for _, e := range req.Stats.Completed {
			if seen[e.Key()] {
				continue
			}
			seen[e.Key()] = true
			m.entries = append(m.entries, m.identify(e))
		}
	}
	return m.snapshotLocked(), nil
}

func (m *Memory) ResetAllEntries(ctx context.Context) error {
	if err := m.enter(ctx, OpResetEntries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
	return nil
}

func (m *Memory) ExportAccountBackup(ctx context.Context) ([]byte, error) {
	if err := m.enter(ctx, OpExportBackup); err != nil {
		return nil, err
	}

	m.mu.Lock()
	doc := schema.Document{
		Version:   schema.BackupVersion,
		Timestamp: schema.FormatTimestamp(m.Clock.Now()),
		Settings:  m.settings,
		Stats:     schema.Stats{Completed: append([]schema.Entry{}, m.entries...)},
	}
	m.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account backup: %w", err)
	}
	return data, nil
}

func (m *Memory) ImportAccountBackup(ctx context.Context, doc schema.Document) error {
	if err := m.enter(ctx, OpImportBackup); err != nil {
		return err
	}
	if err := doc.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", syncerr.ErrRejected, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = doc.Settings
	m.entries = m.entries[:0]
	for _, e := range doc.Stats.Completed {
		m.entries = append(m.entries, m.identify(e))
	}
	return nil
}

// identify gives e a server identity if it has none. Caller holds mu.
func (m *Memory) identify(e schema.Entry) schema.Entry {
	if e.ID == "" {
		m.nextID++
		e.ID = strconv.Itoa(m.nextID)
	}
	return e
}

func (m *Memory) snapshotLocked() *Snapshot {
	return &Snapshot{
		Settings: m.settings,
		Stats:    schema.Stats{Completed: append([]schema.Entry{}, m.entries...)},
	}
}

var (
	_ Client        = (*Memory)(nil)
	_ Authenticator = (*Memory)(nil)
	_ Pinger        = (*Memory)(nil)
)
