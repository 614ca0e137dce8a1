package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezaab69/rathole-management/internal/auth"
	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/store"
	"github.com/rezaab69/rathole-management/internal/supervisor"
)

func newTestManager(t *testing.T) *supervisor.Manager {
	t.Helper()
	st, err := store.New(store.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "svc.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	cat := catalog.New(st)
	if err := cat.Load(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	m := supervisor.New(cat, supervisor.Options{
		Binary: fakeEngine(t),
		Dir:    filepath.Join(t.TempDir(), "configs"),
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func fakeEngine(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-rathole")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 300\n"), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func setupRouter(t *testing.T, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := NewRouter(newTestManager(t), nil, false, base)
	return r.Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func clientBody(name string) map[string]string {
	return map[string]string{
		"name":               name,
		"kind":               "client",
		"client_local_addr":  "127.0.0.1:8080",
		"client_remote_addr": "tunnel.example.com:2333",
	}
}

func TestAddReturnsGeneratedToken(t *testing.T) {
	h := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodPost, "/api/add", clientBody("web"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var def catalog.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if def.Name != "web" || len(def.Token) != catalog.TokenHexLen {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestAddValidation(t *testing.T) {
	h := setupRouter(t, "/api")

	rec := doReq(t, h, http.MethodPost, "/api/add", map[string]string{"name": "x", "kind": "client"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing addrs: expected 400, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/api/add", clientBody("web"))
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/api/add", clientBody("web"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusListAndSingle(t *testing.T) {
	h := setupRouter(t, "")
	doReq(t, h, http.MethodPost, "/add", clientBody("web"))
	doReq(t, h, http.MethodPost, "/add", clientBody("ssh"))

	rec := doReq(t, h, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list []supervisor.ServiceStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 services, got %d", len(list))
	}

	rec = doReq(t, h, http.MethodGet, "/status?name=web", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("single: expected 200, got %d", rec.Code)
	}
	var st supervisor.ServiceStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Name != "web" || st.Alive {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec = doReq(t, h, http.MethodGet, "/status?name=nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown: expected 404, got %d", rec.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := setupRouter(t, "/api")
	doReq(t, h, http.MethodPost, "/api/add", clientBody("web"))

	rec := doReq(t, h, http.MethodPost, "/api/start?name=web", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodGet, "/api/status?name=web", nil)
	var st supervisor.ServiceStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Alive || st.Status != catalog.StatusRunning {
		t.Fatalf("after start: %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/api/stop?name=web", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodPost, "/api/start", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("start without name: expected 400, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/api/start?name=ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("start unknown: expected 404, got %d", rec.Code)
	}
}

func TestStopServerSideServiceRefused(t *testing.T) {
	h := setupRouter(t, "")
	doReq(t, h, http.MethodPost, "/add", map[string]string{
		"name": "web", "kind": "server", "server_bind_addr": "0.0.0.0:5201",
	})
	rec := doReq(t, h, http.MethodPost, "/stop?name=web", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateService(t *testing.T) {
	h := setupRouter(t, "")
	doReq(t, h, http.MethodPost, "/add", clientBody("web"))

	rec := doReq(t, h, http.MethodPost, "/update?name=web",
		map[string]string{"client_local_addr": "127.0.0.1:9999"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var def catalog.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if def.ClientLocalAddr != "127.0.0.1:9999" {
		t.Fatalf("update lost: %+v", def)
	}

	rec = doReq(t, h, http.MethodPost, "/update?name=web", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", rec.Code)
	}
}

func TestRemoveService(t *testing.T) {
	h := setupRouter(t, "")
	doReq(t, h, http.MethodPost, "/add", clientBody("web"))

	rec := doReq(t, h, http.MethodPost, "/remove?name=web", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/remove?name=web", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("remove again: expected 404, got %d", rec.Code)
	}
}

func TestServerStatusAndRestart(t *testing.T) {
	h := setupRouter(t, "/api")
	doReq(t, h, http.MethodPost, "/api/add", map[string]string{
		"name": "web", "kind": "server", "server_bind_addr": "0.0.0.0:5201",
	})

	rec := doReq(t, h, http.MethodGet, "/api/server/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var st supervisor.ServerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Running || st.Services != 1 {
		t.Fatalf("unexpected server status: %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/api/server/restart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodGet, "/api/server/status", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Running || st.PID == 0 {
		t.Fatalf("server not running after restart: %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/api/server/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBasePathSanitized(t *testing.T) {
	for _, base := range []string{"api", "/api", "/api/"} {
		h := setupRouter(t, base)
		rec := doReq(t, h, http.MethodGet, "/api/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("base %q: expected 200, got %d", base, rec.Code)
		}
	}
}

func newAuthedRouter(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := newTestManager(t)
	st, err := store.New(store.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "users.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	svc := auth.New(st, "test-secret", time.Hour)
	return NewRouter(mgr, svc, true, "/api").Handler(), svc
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	rec := doReq(t, h, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, rec.Code, rec.Body.String())
	}
	var tok auth.Token
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return tok.Value
}

func authedReq(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthGuardsRoutes(t *testing.T) {
	h, svc := newAuthedRouter(t)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "admin", "pw", auth.RoleAdmin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "viewer", "pw", auth.RoleViewer); err != nil {
		t.Fatalf("create viewer: %v", err)
	}

	rec := doReq(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status: expected 401, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "admin", "password": "bad"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}

	viewerTok := login(t, h, "viewer", "pw")
	adminTok := login(t, h, "admin", "pw")

	rec = authedReq(t, h, http.MethodGet, "/api/status", viewerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer status: expected 200, got %d", rec.Code)
	}
	rec = authedReq(t, h, http.MethodPost, "/api/add", viewerTok, clientBody("web"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer add: expected 403, got %d", rec.Code)
	}
	rec = authedReq(t, h, http.MethodPost, "/api/add", adminTok, clientBody("web"))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPasswordChange(t *testing.T) {
	h, svc := newAuthedRouter(t)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "admin", "pw", auth.RoleAdmin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "viewer", "pw", auth.RoleViewer); err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	viewerTok := login(t, h, "viewer", "pw")
	adminTok := login(t, h, "admin", "pw")

	// Own password.
	rec := authedReq(t, h, http.MethodPost, "/api/auth/password", viewerTok,
		map[string]string{"password": "pw2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("own password: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	login(t, h, "viewer", "pw2")

	// Another user's password needs admin.
	rec = authedReq(t, h, http.MethodPost, "/api/auth/password", viewerTok,
		map[string]string{"username": "admin", "password": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer changing admin: expected 403, got %d", rec.Code)
	}
	rec = authedReq(t, h, http.MethodPost, "/api/auth/password", adminTok,
		map[string]string{"username": "viewer", "password": "pw3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin changing viewer: expected 200, got %d", rec.Code)
	}
	login(t, h, "viewer", "pw3")
}
