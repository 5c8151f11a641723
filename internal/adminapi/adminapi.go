// Package adminapi is a JWT-protected operator surface for diagnosing a
// running mediator/deliverer/relay deployment: who owns which recipient
// key, and how deep each queue currently is. It has no bearing on the
// wire protocol itself, which carries no peer authentication.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openlane/agentbus/internal/auth"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

// QueueTopics names the queues the admin API reports on.
type QueueTopics struct {
	Outbound        string
	OutboundRetry   string
	Inbound         string
	DirectResponse  string
}

// API hosts the admin introspection handlers.
type API struct {
	q        *queue.Client
	jwt      *auth.JWTService
	username string
	pwdHash  string
	topics   QueueTopics
}

// New creates an admin API instance. Mounting is the caller's
// responsibility (see cmd/relay) and is skipped entirely when no admin
// password hash is configured.
func New(q *queue.Client, jwt *auth.JWTService, username, passwordHash string, topics QueueTopics) *API {
	return &API{q: q, jwt: jwt, username: username, pwdHash: passwordHash, topics: topics}
}

// Mux returns the admin HTTP handler.
func (a *API) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/login", a.handleLogin)
	mux.Handle("GET /admin/routing", a.requireAuth(http.HandlerFunc(a.handleRouting)))
	mux.Handle("GET /admin/queues", a.requireAuth(http.HandlerFunc(a.handleQueues)))
	return mux
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Username != a.username || !auth.VerifyPassword(req.Password, a.pwdHash) {
		writeError(w, http.StatusUnauthorized, nil)
		return
	}

	token, expiresAt, err := a.jwt.GenerateToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authz, "Bearer ")
		if token == "" || token == authz {
			writeError(w, http.StatusUnauthorized, nil)
			return
		}
		if _, err := a.jwt.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleRouting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uidKeys, err := a.q.HGetAll(ctx, "uid_recip_keys_map")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	recipOwners, err := a.q.HGetAll(ctx, "recip_key_uid_map")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lastAccess, err := a.q.HGetAll(ctx, "uid_last_access_map")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pending, err := a.q.HGetAll(ctx, "uid_recip_key_pending_msg_count")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uid_recip_keys_map":               uidKeys,
		"recip_key_uid_map":                recipOwners,
		"uid_last_access_map":              lastAccess,
		"uid_recip_key_pending_msg_count":  pending,
	})
}

func (a *API) handleQueues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	depths := map[string]int64{}

	if n, err := a.depth(ctx, a.topics.Outbound, false); err == nil {
		depths["outbound"] = n
	}
	if n, err := a.depth(ctx, a.topics.OutboundRetry, true); err == nil {
		depths["outbound_retry"] = n
	}
	if n, err := a.depth(ctx, a.topics.Inbound, false); err == nil {
		depths["inbound"] = n
	}
	if n, err := a.depth(ctx, a.topics.DirectResponse, false); err == nil {
		depths["direct_response"] = n
	}

	writeJSON(w, http.StatusOK, depths)
}

func (a *API) depth(ctx context.Context, topic string, isSortedSet bool) (int64, error) {
	if topic == "" {
		return 0, nil
	}
	if isSortedSet {
		return a.q.ZCard(ctx, topic)
	}
	return a.q.LLen(ctx, topic)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	relayErr := models.NewRelayError(models.ErrCodeAuthentication, "request failed", err)
	writeJSON(w, status, map[string]string{"error": relayErr.Message})
}
