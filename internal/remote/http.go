package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/syncerr"
)

// DefaultBaseURL is used when no account API URL is configured.
const DefaultBaseURL = "http://localhost:5000/api"

// maxErrorBody bounds how much of an error response is quoted.
const maxErrorBody = 512

// TokenSource supplies the bearer token for authenticated calls.
// *store.Store satisfies it.
type TokenSource interface {
	Token(ctx context.Context) string
}

// HTTP is the account API client speaking JSON over HTTP.
type HTTP struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewHTTP creates a client for the API at baseURL. A zero timeout means
// requests are bounded only by their context.
func NewHTTP(baseURL string, tokens TokenSource, timeout time.Duration) *HTTP {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

type countResponse struct {
	Count int `json:"count"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wireSnapshot holds the raw session log so malformed entries can be
// dropped instead of failing the whole snapshot.
type wireSnapshot struct {
	Settings schema.Settings `json:"settings"`
	Stats    struct {
		Completed json.RawMessage `json:"completed"`
	} `json:"stats"`
}

// Login exchanges credentials for a token.
func (c *HTTP) Login(ctx context.Context, creds Credentials) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", false, creds, &resp); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login failed: %w: response has no token", syncerr.ErrRejected)
	}
	return resp.Token, nil
}

// Register creates an account.
func (c *HTTP) Register(ctx context.Context, creds Credentials) error {
	if err := c.do(ctx, http.MethodPost, "/auth/register", false, creds, nil); err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	return nil
}

// Ping checks the health endpoint.
func (c *HTTP) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", false, nil, nil)
}

func (c *HTTP) GetSettings(ctx context.Context) (schema.Settings, error) {
	settings := schema.DefaultSettings()
	if err := c.do(ctx, http.MethodGet, "/settings", true, nil, &settings); err != nil {
		return schema.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings, nil
}

func (c *HTTP) SaveSettings(ctx context.Context, patch schema.SettingsPatch) (schema.Settings, error) {
	settings := schema.DefaultSettings()
	if err := c.do(ctx, http.MethodPost, "/settings", true, patch, &settings); err != nil {
		return schema.Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}

func (c *HTTP) GetAllCompletedEntries(ctx context.Context) ([]schema.Entry, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/stats/all", true, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	entries, _, err := schema.ParseEntries(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w: %v", syncerr.ErrTransient, err)
	}
	return entries, nil
}

func (c *HTTP) GetCompletedCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.do(ctx, http.MethodGet, "/stats/completed", true, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to get completed count: %w", err)
	}
	return resp.Count, nil
}

func (c *HTTP) GetSyncSnapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := c.snapshot(ctx, http.MethodGet, "/sync", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync snapshot: %w", err)
	}
	return snap, nil
}

func (c *HTTP) ApplyMerge(ctx context.Context, req MergeRequest) (*Snapshot, error) {
	snap, err := c.snapshot(ctx, http.MethodPost, "/sync/merge", req)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge: %w", err)
	}
	return snap, nil
}

func (c *HTTP) ResetAllEntries(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/stats/all", true, nil, nil); err != nil {
		return fmt.Errorf("failed to reset entries: %w", err)
	}
	return nil
}

func (c *HTTP) ExportAccountBackup(ctx context.Context) ([]byte, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/backup", true, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to export account backup: %w", err)
	}
	return raw, nil
}

func (c *HTTP) ImportAccountBackup(ctx context.Context, doc schema.Document) error {
	if err := c.do(ctx, http.MethodPost, "/backup", true, doc, nil); err != nil {
		return fmt.Errorf("failed to import account backup: %w", err)
	}
	return nil
}

func (c *HTTP) snapshot(ctx context.Context, method, path string, body any) (*Snapshot, error) {
	var wire wireSnapshot
	wire.Settings = schema.DefaultSettings()
	if err := c.do(ctx, method, path, true, body, &wire); err != nil {
		return nil, err
	}

	snap := &Snapshot{Settings: wire.Settings, Stats: schema.Stats{Completed: []schema.Entry{}}}
	if len(wire.Stats.Completed) > 0 && string(wire.Stats.Completed) != "null" {
		entries, _, err := schema.ParseEntries(wire.Stats.Completed)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed session log: %v", syncerr.ErrTransient, err)
		}
		snap.Stats.Completed = entries
	}
	return snap, nil
}

// do sends one request. out, when non-nil, receives the decoded JSON body.
func (c *HTTP) do(ctx context.Context, method, path string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		token := ""
		if c.tokens != nil {
			token = c.tokens.Token(ctx)
		}
		if token == "" {
			return syncerr.ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", syncerr.ErrOffline, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", syncerr.ErrOffline, err)
	}

	if err := statusError(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", syncerr.ErrTransient, err)
	}
	return nil
}

// statusError maps a response status onto the syncerr sentinels.
func statusError(code int, body []byte) error {
	if code == http.StatusMultiStatus {
		return fmt.Errorf("%w (%d): %s", syncerr.ErrPartialWrite, code, errorText(body))
	}
	if code >= 200 && code < 300 {
		return nil
	}

	var sentinel error
	switch {
	case code == http.StatusUnauthorized:
		sentinel = syncerr.ErrUnauthorized
	case code >= 500:
		sentinel = syncerr.ErrTransient
	default:
		sentinel = syncerr.ErrRejected
	}
	return fmt.Errorf("%w (%d): %s", sentinel, code, errorText(body))
}

func errorText(body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}

var (
	_ Client        = (*HTTP)(nil)
	_ Authenticator = (*HTTP)(nil)
	_ Pinger        = (*HTTP)(nil)
)
