package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"voicefront/agent/internal/auth"
	"voicefront/agent/internal/config"
	"voicefront/agent/internal/health"
	"voicefront/agent/internal/store"
	"voicefront/agent/internal/types"
)

// ReadyChecker reports whether external dependencies are reachable.
type ReadyChecker interface {
	CheckAll(ctx context.Context) health.HealthStatus
}

type Handlers struct {
	cfg   config.Config
	store *store.Store
	ready ReadyChecker
	now   func() time.Time
}

func NewHandlers(cfg config.Config, st *store.Store, ready ReadyChecker) *Handlers {
	return &Handlers{cfg: cfg, store: st, ready: ready, now: time.Now}
}

type createSessionRequest struct {
	Locale string `json:"locale"`
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = h.cfg.Capture.Locale
	}

	id := uuid.New().String()
	now := h.now().UTC()
	sess := &types.Session{
		ID:        id,
		Locale:    locale,
		CreatedAt: now,
		Status:    "created",
	}
	if err := h.store.CreateSession(sess); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.store.AppendEvent(id, "session_created", map[string]any{"locale": locale})

	q := url.Values{"session_id": {id}}
	resp := map[string]any{
		"session_id": id,
		"locale":     locale,
	}
	if secret := h.cfg.Client.TokenSecret; secret != "" {
		exp := now.Add(h.cfg.TokenTTL())
		token := auth.GenerateClientToken(secret, id, exp)
		q.Set("token", token)
		resp["token"] = token
		resp["expires_at"] = exp
	}
	resp["ws_url"] = "/ws/voice?" + q.Encode()

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id),
	})
}

func (h *Handlers) HandleListTurns(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      h.store.ListTurns(id),
	})
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st := h.ready.CheckAll(ctx)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
