// Package remote is the client side of the account API.
//
// Client is the contract the reconciliation packages depend on. HTTP talks
// to a real account service; Memory is an in-process implementation of the
// same contract with hooks for injecting failures and interleavings.
//
// Implementations map failures onto the syncerr sentinels:
//
//	network failure         -> syncerr.ErrOffline
//	5xx                     -> syncerr.ErrTransient
//	401                     -> syncerr.ErrUnauthorized
//	207 (partial write)     -> syncerr.ErrPartialWrite
//	other 4xx               -> syncerr.ErrRejected
package remote

import (
	"context"

	"github.com/pomosync/pomosync/internal/schema"
)

// Snapshot is the account's settings and session log read together.
type Snapshot struct {
	Settings schema.Settings `json:"settings"`
	Stats    schema.Stats    `json:"stats"`
}

// Entries returns the session log of the snapshot.
func (s *Snapshot) Entries() []schema.Entry {
	if s == nil {
		return nil
	}
	return s.Stats.Completed
}

// MergeRequest carries the parts of a merge to apply. Nil parts are left
// untouched on the account. Entries are added, never removed; entries whose
// timestamp the account already has are ignored.
type MergeRequest struct {
	Settings *schema.Settings `json:"settings,omitempty"`
	Stats    *schema.Stats    `json:"stats,omitempty"`
}

// MergeEntries builds a request that adds entries.
func MergeEntries(entries []schema.Entry) MergeRequest {
	return MergeRequest{Stats: &schema.Stats{Completed: entries}}
}

// MergeSettings builds a request that replaces the account settings.
func MergeSettings(settings schema.Settings) MergeRequest {
	return MergeRequest{Settings: &settings}
}

// Credentials identify an account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client is the account API used by reconciliation and backups.
type Client interface {
	GetSettings(ctx context.Context) (schema.Settings, error)
	SaveSettings(ctx context.Context, patch schema.SettingsPatch) (schema.Settings, error)
	GetAllCompletedEntries(ctx context.Context) ([]schema.Entry, error)
	GetCompletedCount(ctx context.Context) (int, error)
	GetSyncSnapshot(ctx context.Context) (*Snapshot, error)
	ApplyMerge(ctx context.Context, req MergeRequest) (*Snapshot, error)
	ResetAllEntries(ctx context.Context) error

	// ExportAccountBackup returns the account backup document as raw JSON.
	// Callers validate it before trusting any field.
	ExportAccountBackup(ctx context.Context) ([]byte, error)
	ImportAccountBackup(ctx context.Context, doc schema.Document) error
}

// Authenticator obtains account tokens.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (token string, err error)
	Register(ctx context.Context, creds Credentials) error
}

// Pinger reports whether the account API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Operation names passed to Memory.Hook.
const (
	OpLogin        = "Login"
	OpRegister     = "Register"
	OpPing         = "Ping"
	OpGetSettings  = "GetSettings"
	OpSaveSettings = "SaveSettings"
	OpGetEntries   = "GetAllCompletedEntries"
	OpGetCount     = "GetCompletedCount"
	OpGetSnapshot  = "GetSyncSnapshot"
	OpApplyMerge   = "ApplyMerge"
	OpResetEntries = "ResetAllEntries"
	OpExportBackup = "ExportAccountBackup"
	OpImportBackup = "ImportAccountBackup"
)
