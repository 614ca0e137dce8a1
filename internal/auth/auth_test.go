package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezaab69/rathole-management/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.New(store.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "auth.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(st, "test-secret", time.Hour)
}

func TestLoginRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "alice", "s3cret", RoleAdmin)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.PasswordHash != "" {
		t.Fatalf("CreateUser leaked password hash")
	}

	tok, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tok.Type != "Bearer" || tok.Value == "" {
		t.Fatalf("unexpected token %+v", tok)
	}

	claims, err := svc.Validate(tok.Value)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "alice" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "rathole-mgmt" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "s3cret", RoleViewer); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty credentials: got %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateRejectsForgedTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "s3cret", RoleAdmin); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := svc.Validate("not-a-token"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("garbage token: got %v", err)
	}

	other := New(svc.store, "different-secret", time.Hour)
	tok, err := other.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Validate(tok.Value); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("token signed with another secret validated: %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "s3cret", RoleAdmin); err != nil {
		t.Fatalf("create user: %v", err)
	}
	svc.tokenTTL = -time.Minute
	tok, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Validate(tok.Value); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired token validated: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "", "pw", RoleAdmin); err == nil {
		t.Fatalf("empty username accepted")
	}
	if _, err := svc.CreateUser(ctx, "bob", "", RoleAdmin); err == nil {
		t.Fatalf("empty password accepted")
	}
	if _, err := svc.CreateUser(ctx, "bob", "pw", "superuser"); err == nil {
		t.Fatalf("unknown role accepted")
	}

	user, err := svc.CreateUser(ctx, "bob", "pw", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Role != RoleViewer {
		t.Fatalf("default role = %q, want %q", user.Role, RoleViewer)
	}

	if _, err := svc.CreateUser(ctx, "bob", "pw2", RoleViewer); err == nil {
		t.Fatalf("duplicate username accepted")
	}
}

func TestUpdatePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "old", RoleAdmin); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := svc.UpdatePassword(ctx, "alice", "new"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if err := svc.VerifyPassword(ctx, "alice", "old"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still valid: %v", err)
	}
	if err := svc.VerifyPassword(ctx, "alice", "new"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if err := svc.UpdatePassword(ctx, "alice", ""); err == nil {
		t.Fatalf("empty password accepted")
	}
}

func TestEnsureBootstrapUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureBootstrapUser(ctx, "root", "bootpw"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := svc.Login(ctx, "root", "bootpw"); err != nil {
		t.Fatalf("bootstrap user login: %v", err)
	}

	// Second call is a no-op once any user exists.
	if err := svc.EnsureBootstrapUser(ctx, "other", "otherpw"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if _, err := svc.Login(ctx, "other", "otherpw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("second bootstrap created a user: %v", err)
	}
}

func TestEnsureBootstrapUserGeneratesPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureBootstrapUser(ctx, "", ""); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	user, err := svc.store.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("bootstrap admin missing: %v", err)
	}
	if user.Role != RoleAdmin {
		t.Fatalf("bootstrap role = %q", user.Role)
	}
}

func newMiddlewareRouter(t *testing.T, m *Middleware) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/status", m.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/add", m.RequireAuth(), m.RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestMiddlewareRequireAuth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "alice", "pw", RoleViewer); err != nil {
		t.Fatalf("create user: %v", err)
	}
	tok, err := svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	r := newMiddlewareRouter(t, NewMiddleware(svc, true))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: status %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("basic auth header: status %d, want 401", w.Code)
	}
}

func TestMiddlewareRequireAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "admin", "pw", RoleAdmin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "viewer", "pw", RoleViewer); err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	adminTok, err := svc.Login(ctx, "admin", "pw")
	if err != nil {
		t.Fatalf("login admin: %v", err)
	}
	viewerTok, err := svc.Login(ctx, "viewer", "pw")
	if err != nil {
		t.Fatalf("login viewer: %v", err)
	}
	r := newMiddlewareRouter(t, NewMiddleware(svc, true))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/add", nil)
	req.Header.Set("Authorization", "Bearer "+viewerTok.Value)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer on admin route: status %d, want 403", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/add", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok.Value)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin on admin route: status %d, want 200", w.Code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc := newTestService(t)
	r := newMiddlewareRouter(t, NewMiddleware(svc, false))

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/status"},
		{http.MethodPost, "/add"},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s with auth disabled: status %d, want 200", tc.method, tc.path, w.Code)
		}
	}
}
