package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezaab69/rathole-management/internal/auth"
	"github.com/rezaab69/rathole-management/internal/supervisor"
	tlsx "github.com/rezaab69/rathole-management/internal/tls"
)

// Router exposes the supervisor over HTTP. Endpoints under {basePath}:
//
//	POST /auth/login         body: {username, password}
//	POST /auth/password      body: {username?, password}
//	GET  /status             query: name=... (optional; omitted lists all)
//	POST /add                body: service definition JSON
//	POST /update             query: name=...  body: field patch JSON
//	POST /remove             query: name=...
//	POST /start              query: name=...
//	POST /stop               query: name=...
//	GET  /server/status
//	POST /server/start
//	POST /server/restart
//	POST /server/stop
//
// Reads require a valid bearer token; mutations additionally require the
// admin role. With auth disabled everything is open.
type Router struct {
	mgr      *supervisor.Manager
	auth     *auth.Service
	mw       *auth.Middleware
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/status, /api/add, ...
func NewRouter(mgr *supervisor.Manager, authSvc *auth.Service, authEnabled bool, basePath string) *Router {
	return &Router{
		mgr:      mgr,
		auth:     authSvc,
		mw:       auth.NewMiddleware(authSvc, authEnabled),
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/auth/login", r.handleLogin)

	authed := group.Group("", r.mw.RequireAuth())
	authed.POST("/auth/password", r.handlePassword)
	authed.GET("/status", r.handleStatus)
	authed.GET("/server/status", r.handleServerStatus)

	admin := authed.Group("", r.mw.RequireAdmin())
	admin.POST("/add", r.handleAdd)
	admin.POST("/update", r.handleUpdate)
	admin.POST("/remove", r.handleRemove)
	admin.POST("/start", r.handleStart)
	admin.POST("/stop", r.handleStop)
	admin.POST("/server/start", r.handleServerStart)
	admin.POST("/server/restart", r.handleServerRestart)
	admin.POST("/server/stop", r.handleServerStop)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Callers shut it down via http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// NewTLSServer starts a standalone HTTPS server on addr using this router
// and the given certificate source.
func NewTLSServer(addr string, r *Router, tc tlsx.Config) (*http.Server, error) {
	tlsConf, err := tc.ServerTLS()
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}
