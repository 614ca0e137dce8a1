// Package ratholemgmt supervises rathole tunnel-engine processes: it keeps
// a durable catalog of tunnel services, renders the engine's TOML config
// documents, spawns and terminates the OS processes, and reconciles
// recorded status against the live process table.
package ratholemgmt

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rezaab69/rathole-management/internal/auth"
	"github.com/rezaab69/rathole-management/internal/catalog"
	cfg "github.com/rezaab69/rathole-management/internal/config"
	"github.com/rezaab69/rathole-management/internal/events"
	eventsfactory "github.com/rezaab69/rathole-management/internal/events/factory"
	"github.com/rezaab69/rathole-management/internal/metrics"
	iapi "github.com/rezaab69/rathole-management/internal/server"
	"github.com/rezaab69/rathole-management/internal/store"
	"github.com/rezaab69/rathole-management/internal/supervisor"
	tlsx "github.com/rezaab69/rathole-management/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Definition = catalog.Definition

type UpdateFields = catalog.UpdateFields

type Kind = catalog.Kind

type Status = catalog.Status

const (
	KindServer = catalog.KindServer
	KindClient = catalog.KindClient

	StatusStopped = catalog.StatusStopped
	StatusRunning = catalog.StatusRunning
	StatusError   = catalog.StatusError
)

type Options = supervisor.Options

type ServiceStatus = supervisor.ServiceStatus

type ServerStatus = supervisor.ServerStatus

type StoreConfig = store.Config

type Store = store.Store

type Config = cfg.Config

type TLSConfig = tlsx.Config

type EventSink = events.Sink

type AuthService = auth.Service

// Manager is a thin facade over the internal supervisor.
// It provides a stable public API for embedding.
type Manager struct {
	inner *supervisor.Manager
	// ownedStore is non-nil when New opened the store itself; Shutdown
	// closes it.
	ownedStore store.Store
}

// New opens the durable store, loads the service catalog, and builds a
// supervisor around it. Shutdown closes the store.
func New(ctx context.Context, storeCfg StoreConfig, opts Options) (*Manager, error) {
	st, err := NewStore(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	m, err := NewWithStore(ctx, st, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	m.ownedStore = st
	return m, nil
}

// NewWithStore builds a supervisor over a store the caller opened and
// keeps responsibility for closing, so an auth service can share it.
func NewWithStore(ctx context.Context, st Store, opts Options) (*Manager, error) {
	cat := catalog.New(st)
	if err := cat.Load(ctx); err != nil {
		return nil, err
	}
	return &Manager{inner: supervisor.New(cat, opts)}, nil
}

func (m *Manager) AddService(ctx context.Context, def Definition) (Definition, error) {
	return m.inner.AddService(ctx, def)
}

func (m *Manager) UpdateService(ctx context.Context, name string, f UpdateFields) (Definition, error) {
	return m.inner.UpdateService(ctx, name, f)
}

func (m *Manager) RemoveService(ctx context.Context, name string) error {
	return m.inner.RemoveService(ctx, name)
}

func (m *Manager) StartService(ctx context.Context, name string) error {
	return m.inner.StartService(ctx, name)
}

func (m *Manager) StopService(ctx context.Context, name string) error {
	return m.inner.StopService(ctx, name)
}

func (m *Manager) StartSharedServer(ctx context.Context) error {
	return m.inner.StartSharedServer(ctx)
}

func (m *Manager) StopSharedServer(ctx context.Context) error {
	return m.inner.StopSharedServer(ctx)
}

func (m *Manager) RestartSharedServer(ctx context.Context) error {
	return m.inner.RestartSharedServer(ctx)
}

func (m *Manager) ListServices() []ServiceStatus { return m.inner.ListServices() }

func (m *Manager) ServiceStatus(name string) (ServiceStatus, error) {
	return m.inner.ServiceStatus(name)
}

func (m *Manager) SharedServerStatus() ServerStatus { return m.inner.SharedServerStatus() }

func (m *Manager) IsSharedServerRunning() bool { return m.inner.IsSharedServerRunning() }

func (m *Manager) PendingRestart() bool { return m.inner.PendingRestart() }

func (m *Manager) ReconcileOnce(ctx context.Context) { m.inner.ReconcileOnce(ctx) }

func (m *Manager) StartReconciler(ctx context.Context, interval time.Duration) {
	m.inner.StartReconciler(ctx, interval)
}

func (m *Manager) StopReconciler() { m.inner.StopReconciler() }

// LivePIDs maps service names to the PIDs of processes the supervisor
// currently tracks as alive.
func (m *Manager) LivePIDs() map[string]int { return m.inner.LivePIDs() }

// Shutdown stops the reconciler and every managed process, then closes
// the store when this manager opened it.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.inner.Shutdown(ctx)
	if m.ownedStore != nil {
		if cerr := m.ownedStore.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// NewStore opens a durable store on its own, for embedders that share one
// between the manager and an auth service.
func NewStore(ctx context.Context, storeCfg StoreConfig) (Store, error) {
	st, err := store.New(storeCfg)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// NewAuthService builds a credential service over an open store.
func NewAuthService(st Store, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return auth.New(st, jwtSecret, tokenTTL)
}

// NewEventSink dials a lifecycle-event sink by DSN: a sqlite path or a
// postgres://, clickhouse://, or opensearch:// URL.
func NewEventSink(dsn string) (EventSink, error) {
	return eventsfactory.NewSinkFromDSN(dsn)
}

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// NewHTTPHandler returns the management API as an http.Handler for
// mounting in any server or mux. A nil authSvc leaves the API open.
func NewHTTPHandler(m *Manager, authSvc *AuthService, basePath string) http.Handler {
	return iapi.NewRouter(m.inner, authSvc, authSvc != nil, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the management API.
func NewHTTPServer(addr, basePath string, m *Manager, authSvc *AuthService) *http.Server {
	return iapi.NewServer(addr, iapi.NewRouter(m.inner, authSvc, authSvc != nil, basePath))
}

// NewTLSServer starts an HTTPS server exposing the management API.
func NewTLSServer(addr, basePath string, m *Manager, authSvc *AuthService, tc TLSConfig) (*http.Server, error) {
	return iapi.NewTLSServer(addr, iapi.NewRouter(m.inner, authSvc, authSvc != nil, basePath), tc)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
