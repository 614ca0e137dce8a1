// Package supervisor owns the lifecycle of tunnel engine processes: one
// dedicated process per client service and one shared process serving every
// server-side definition. It is the only writer of the process registry and
// the only caller of the OS spawn/terminate surface.
//
// Lifecycle operations for one service are serialized through a per-key
// slot; unrelated services proceed in parallel. The shared server is a
// single slot of its own.
package supervisor

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/engine"
	"github.com/rezaab69/rathole-management/internal/events"
	"github.com/rezaab69/rathole-management/internal/logger"
	"github.com/rezaab69/rathole-management/internal/metrics"
	"github.com/rezaab69/rathole-management/internal/registry"
)

const (
	// DefaultClientStopTimeout bounds the graceful-stop wait for a client
	// engine before escalation.
	DefaultClientStopTimeout = 3 * time.Second
	// DefaultServerStopTimeout bounds the graceful-stop wait for the shared
	// server engine before escalation.
	DefaultServerStopTimeout = 5 * time.Second

	// reapWindow is how long a forced kill gets to be reaped before the
	// process is declared stuck.
	reapWindow = 200 * time.Millisecond
)

// Options configure a Manager. Zero values select the defaults noted on
// each field.
type Options struct {
	// Binary is the engine executable; default "rathole" from PATH.
	Binary string
	// Dir is the root for rendered config documents; default "rathole_configs".
	Dir string
	// LogLevel is handed to engines via RUST_LOG; default "info".
	LogLevel string
	// ExtraEnv is appended to every engine's environment as "K=V" pairs.
	// ${VAR} references resolve against the merged environment.
	ExtraEnv []string
	// ListenAddr is the shared server listen address; default 0.0.0.0:2333.
	ListenAddr string
	// HeartbeatSecs is the shared server heartbeat interval; default 30.
	HeartbeatSecs int
	// ClientStopTimeout and ServerStopTimeout bound graceful stops.
	ClientStopTimeout time.Duration
	ServerStopTimeout time.Duration
	// EngineLogs controls capture and rotation of engine process output.
	// An empty Dir discards it.
	EngineLogs logger.Config
	// Sinks receive lifecycle audit events.
	Sinks []events.Sink
}

func (o *Options) fillDefaults() {
	if o.Binary == "" {
		o.Binary = engine.DefaultBinary
	}
	if o.Dir == "" {
		o.Dir = "rathole_configs"
	}
	if o.LogLevel == "" {
		o.LogLevel = engine.DefaultLogLevel
	}
	if o.ListenAddr == "" {
		o.ListenAddr = engine.DefaultServerListen
	}
	if o.HeartbeatSecs <= 0 {
		o.HeartbeatSecs = engine.DefaultHeartbeatSecs
	}
	if o.ClientStopTimeout <= 0 {
		o.ClientStopTimeout = DefaultClientStopTimeout
	}
	if o.ServerStopTimeout <= 0 {
		o.ServerStopTimeout = DefaultServerStopTimeout
	}
}

// slot serializes lifecycle operations for one registry key and carries the
// spawned command so stops can wait on the reaper instead of polling.
type slot struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	waitDone chan struct{}
}

// Manager drives engine processes to match the catalog's desired state.
type Manager struct {
	catalog  *catalog.Catalog
	registry *registry.Registry
	opts     Options

	pendingRestart atomic.Bool

	slotsMu sync.Mutex
	slots   map[string]*slot

	reconMu   sync.Mutex
	reconStop chan struct{}
	reconWg   sync.WaitGroup
}

// New builds a Manager over cat. The catalog should already be loaded.
func New(cat *catalog.Catalog, opts Options) *Manager {
	opts.fillDefaults()
	return &Manager{
		catalog:  cat,
		registry: registry.New(),
		opts:     opts,
		slots:    make(map[string]*slot),
	}
}

// Catalog exposes the underlying catalog for read paths.
func (m *Manager) Catalog() *catalog.Catalog { return m.catalog }

// Registry exposes process tracking for read paths.
func (m *Manager) Registry() *registry.Registry { return m.registry }

func (m *Manager) slot(key string) *slot {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{}
		m.slots[key] = s
	}
	return s
}

// AddService validates and stores a new definition. Adding a server-side
// service while the shared server runs does not restart it; the change is
// flagged as pending until an explicit restart.
func (m *Manager) AddService(ctx context.Context, def catalog.Definition) (catalog.Definition, error) {
	stored, err := m.catalog.Add(ctx, def)
	if err != nil {
		return catalog.Definition{}, err
	}
	if stored.Kind == catalog.KindServer && m.IsSharedServerRunning() {
		m.pendingRestart.Store(true)
		slog.Info("server-side service added; shared server restart required to serve it", "service", stored.Name)
	}
	return stored, nil
}

// UpdateService applies field changes to a definition. Address or token
// changes take effect on the service's next start; for server-side services
// under a live shared server the change is flagged as pending.
func (m *Manager) UpdateService(ctx context.Context, name string, f catalog.UpdateFields) (catalog.Definition, error) {
	updated, err := m.catalog.Update(ctx, name, f)
	if err != nil {
		return catalog.Definition{}, err
	}
	if updated.Kind == catalog.KindServer && m.IsSharedServerRunning() {
		m.pendingRestart.Store(true)
		slog.Info("server-side service updated; shared server restart required to apply", "service", name)
	}
	return updated, nil
}

// RemoveService stops a running client service first, then deletes the
// definition. Removing a server-side service never interrupts the shared
// server; it is flagged for restart instead.
func (m *Manager) RemoveService(ctx context.Context, name string) error {
	def, ok := m.catalog.Get(name)
	if !ok {
		return catalog.ErrNotFound
	}
	if def.Kind == catalog.KindClient {
		if err := m.stopClient(ctx, name); err != nil {
			return err
		}
	}
	if err := m.catalog.Remove(ctx, name); err != nil {
		return err
	}
	if def.Kind == catalog.KindServer && m.IsSharedServerRunning() {
		m.pendingRestart.Store(true)
		slog.Info("server-side service removed; shared server restart required to drop it", "service", name)
	}
	return nil
}

// StartService dispatches by kind: client services get their own engine
// process; for a server-side service the shared server is brought up,
// serving every server-side definition.
func (m *Manager) StartService(ctx context.Context, name string) error {
	def, ok := m.catalog.Get(name)
	if !ok {
		return catalog.ErrNotFound
	}
	if def.Kind == catalog.KindServer {
		if m.registry.IsAlive(catalog.SharedServerKey) {
			// The shared process already serves the server side; only the
			// recorded status needs to catch up.
			if def.Status != catalog.StatusRunning {
				return m.persistStatus(ctx, name, catalog.StatusRunning, nil)
			}
			return nil
		}
		return m.startServer(ctx)
	}
	return m.startClient(ctx, name)
}

// StopService stops a client service's engine process. Server-side services
// cannot be stopped individually.
func (m *Manager) StopService(ctx context.Context, name string) error {
	def, ok := m.catalog.Get(name)
	if !ok {
		return catalog.ErrNotFound
	}
	if def.Kind == catalog.KindServer {
		return ErrServerSideStop
	}
	return m.stopClient(ctx, name)
}

// StartSharedServer brings up the shared server process serving all
// server-side definitions. No-op success when it is already alive.
func (m *Manager) StartSharedServer(ctx context.Context) error {
	return m.startServer(ctx)
}

// StopSharedServer terminates the shared server process. All server-side
// definitions revert to stopped.
func (m *Manager) StopSharedServer(ctx context.Context) error {
	return m.stopServer(ctx)
}

// RestartSharedServer stops and restarts the shared server as one atomic
// sequence, picking up the current server-side service set. Callers never
// observe the intermediate stopped state.
func (m *Manager) RestartSharedServer(ctx context.Context) error {
	s := m.slot(catalog.SharedServerKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.stopServerLocked(ctx, s); err != nil {
		return err
	}
	return m.startServerLocked(ctx, s)
}

// PendingRestart reports whether the server-side service set changed since
// the shared server last started.
func (m *Manager) PendingRestart() bool { return m.pendingRestart.Load() }

// IsSharedServerRunning reports shared server process liveness.
func (m *Manager) IsSharedServerRunning() bool {
	return m.registry.IsAlive(catalog.SharedServerKey)
}

// ServiceStatus pairs a definition snapshot with live process facts. For
// server-side services Alive and PID describe the shared server process.
type ServiceStatus struct {
	catalog.Definition
	Alive bool           `json:"alive"`
	PID   int            `json:"pid,omitempty"`
	Usage *metrics.Usage `json:"usage,omitempty"`
}

// ServerStatus describes the shared server process.
type ServerStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid,omitempty"`
	PendingRestart bool           `json:"pending_restart"`
	ListenAddr     string         `json:"listen_addr"`
	Services       int            `json:"services"`
	Usage          *metrics.Usage `json:"usage,omitempty"`
}

func (m *Manager) liveFacts(def catalog.Definition) (bool, int) {
	key := def.Name
	if def.Kind == catalog.KindServer {
		key = catalog.SharedServerKey
	}
	if !m.registry.IsAlive(key) {
		return false, 0
	}
	pid, ok := m.registry.Lookup(key)
	if !ok {
		return false, 0
	}
	return true, pid
}

// ListServices returns a status snapshot per catalogued service, sorted by
// name.
func (m *Manager) ListServices() []ServiceStatus {
	defs := m.catalog.All()
	out := make([]ServiceStatus, 0, len(defs))
	for _, def := range defs {
		alive, pid := m.liveFacts(def)
		st := ServiceStatus{Definition: def, Alive: alive, PID: pid}
		if alive {
			if u, err := metrics.SampleUsage(pid); err == nil {
				st.Usage = &u
			}
		}
		out = append(out, st)
	}
	return out
}

// ServiceStatus returns the status snapshot for one service.
func (m *Manager) ServiceStatus(name string) (ServiceStatus, error) {
	def, ok := m.catalog.Get(name)
	if !ok {
		return ServiceStatus{}, catalog.ErrNotFound
	}
	alive, pid := m.liveFacts(def)
	st := ServiceStatus{Definition: def, Alive: alive, PID: pid}
	if alive {
		if u, err := metrics.SampleUsage(pid); err == nil {
			st.Usage = &u
		}
	}
	return st, nil
}

// SharedServerStatus describes the shared server process and whether its
// config is stale.
func (m *Manager) SharedServerStatus() ServerStatus {
	st := ServerStatus{
		PendingRestart: m.pendingRestart.Load(),
		ListenAddr:     m.opts.ListenAddr,
		Services:       len(m.catalog.ByKind(catalog.KindServer)),
	}
	if m.registry.IsAlive(catalog.SharedServerKey) {
		st.Running = true
		if pid, ok := m.registry.Lookup(catalog.SharedServerKey); ok {
			st.PID = pid
			if u, err := metrics.SampleUsage(pid); err == nil {
				st.Usage = &u
			}
		}
	}
	return st
}

// LivePIDs reports every live managed process keyed by registry key,
// including the shared server sentinel. It feeds the resource sampler.
func (m *Manager) LivePIDs() map[string]int {
	out := make(map[string]int)
	for _, def := range m.catalog.ByKind(catalog.KindClient) {
		if m.registry.IsAlive(def.Name) {
			if pid, ok := m.registry.Lookup(def.Name); ok {
				out[def.Name] = pid
			}
		}
	}
	if m.registry.IsAlive(catalog.SharedServerKey) {
		if pid, ok := m.registry.Lookup(catalog.SharedServerKey); ok {
			out[catalog.SharedServerKey] = pid
		}
	}
	return out
}

// Shutdown stops the reconciler and every managed engine process. Client
// stops run first so their terminations cannot be mistaken for drift; the
// shared server goes last.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopReconciler()
	var firstErr error
	for _, def := range m.catalog.ByKind(catalog.KindClient) {
		if err := m.stopClient(ctx, def.Name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.stopServer(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
