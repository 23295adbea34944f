package remote

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/syncerr"
)

// NewHandler serves m over the account API's HTTP contract, rooted at "/".
// Mount it under the API prefix with http.StripPrefix.
func NewHandler(m *Memory) http.Handler {
	mux := http.NewServeMux()
	h := &handler{m: m}

	mux.HandleFunc("POST /auth/register", h.register)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /settings", h.authed(h.getSettings))
	mux.HandleFunc("POST /settings", h.authed(h.saveSettings))
	mux.HandleFunc("GET /stats/completed", h.authed(h.getCount))
	mux.HandleFunc("GET /stats/all", h.authed(h.getEntries))
	mux.HandleFunc("DELETE /stats/all", h.authed(h.resetEntries))
	mux.HandleFunc("GET /sync", h.authed(h.getSnapshot))
	mux.HandleFunc("POST /sync/merge", h.authed(h.applyMerge))
	mux.HandleFunc("GET /backup", h.authed(h.exportBackup))
	mux.HandleFunc("POST /backup", h.authed(h.importBackup))

	return mux
}

type handler struct {
	m *Memory
}

func (h *handler) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, syncerr.ErrUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if !decode(w, r, &creds) {
		return
	}
	if err := h.m.Register(r.Context(), creds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "registered"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if !decode(w, r, &creds) {
		return
	}
	token, err := h.m.Login(r.Context(), creds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Ping(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.m.GetSettings(r.Context())
	respond(w, settings, err)
}

func (h *handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var patch schema.SettingsPatch
	if !decode(w, r, &patch) {
		return
	}
	settings, err := h.m.SaveSettings(r.Context(), patch)
	respond(w, settings, err)
}

func (h *handler) getCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.m.GetCompletedCount(r.Context())
	respond(w, countResponse{Count: n}, err)
}

func (h *handler) getEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.m.GetAllCompletedEntries(r.Context())
	respond(w, entries, err)
}

func (h *handler) resetEntries(w http.ResponseWriter, r *http.Request) {
	if err := h.m.ResetAllEntries(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.m.GetSyncSnapshot(r.Context())
	respond(w, snap, err)
}

func (h *handler) applyMerge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.m.ApplyMerge(r.Context(), req)
	respond(w, snap, err)
}

func (h *handler) exportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := h.m.ExportAccountBackup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *handler) importBackup(w http.ResponseWriter, r *http.Request) {
	var doc schema.Document
	if !decode(w, r, &doc) {
		return
	}
	if err := h.m.ImportAccountBackup(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(r.Body)
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// writeError maps a syncerr sentinel back onto the status the HTTP client
// decodes it from.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, syncerr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, syncerr.ErrPartialWrite):
		status = http.StatusMultiStatus
	case errors.Is(err, syncerr.ErrOffline), errors.Is(err, syncerr.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
