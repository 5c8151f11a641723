package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openlane/agentbus/internal/auth"
	"github.com/openlane/agentbus/internal/queue"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := queue.NewFromRedis(rdb)

	hash, err := auth.HashPassword("swordfish")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}

	jwt := auth.NewJWTService("admin-secret", 3600)
	return New(q, jwt, "admin", hash, QueueTopics{
		Outbound:       "agentbus_outbound",
		OutboundRetry:  "agentbus_outbound_retry",
		Inbound:        "agentbus_inbound",
		DirectResponse: "agentbus_inbound_direct_response",
	})
}

func TestLoginSuccess(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "swordfish"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["token"] == "" || resp["token"] == nil {
		t.Error("expected a non-empty token in login response")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRoutingRequiresBearerToken(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/routing", nil)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without bearer token", rec.Code)
	}
}

func TestRoutingWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token, _, err := api.jwt.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/routing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestQueuesWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token, _, err := api.jwt.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/queues", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var depths map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &depths); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if depths["outbound"] != 0 {
		t.Errorf("outbound depth = %d, want 0 on empty queue", depths["outbound"])
	}
}
