package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/engine"
	"github.com/rezaab69/rathole-management/internal/events"
	"github.com/rezaab69/rathole-management/internal/metrics"
)

// startServer renders one combined config from every server-side definition
// and spawns the shared process under the sentinel key. This is the only
// path that brings a group of definitions to running at once. No-op success
// when the shared process is already alive.
func (m *Manager) startServer(ctx context.Context) error {
	s := m.slot(catalog.SharedServerKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.startServerLocked(ctx, s)
}

func (m *Manager) startServerLocked(ctx context.Context, s *slot) error {
	if m.registry.IsAlive(catalog.SharedServerKey) {
		return nil
	}

	defs := m.catalog.ByKind(catalog.KindServer)
	services := make(map[string]engine.ServerService, len(defs))
	for _, d := range defs {
		services[d.Name] = engine.ServerService{Token: d.Token, BindAddr: d.ServerBindAddr}
	}

	started := time.Now()
	doc, err := engine.MarshalServer(engine.ServerConfig{
		ListenAddr:        m.opts.ListenAddr,
		HeartbeatInterval: m.opts.HeartbeatSecs,
		Services:          services,
	})
	if err != nil {
		return m.serverSpawnFailed(ctx, defs, err)
	}
	path := engine.ServerConfigPath(m.opts.Dir)
	if err := engine.WriteArtifact(path, doc); err != nil {
		return m.serverSpawnFailed(ctx, defs, err)
	}

	cmd := engine.Command(m.opts.Binary, engine.RoleServer, path, m.opts.LogLevel, m.opts.ExtraEnv)
	pid, err := m.spawn(s, catalog.SharedServerKey, cmd)
	if err != nil {
		return m.serverSpawnFailed(ctx, defs, err)
	}

	// Group bookkeeping: a persist failure for one definition does not
	// tear the server down, the reconciler re-records it later.
	for _, d := range defs {
		if perr := m.persistStatus(ctx, d.Name, catalog.StatusRunning, &path); perr != nil {
			slog.Warn("could not persist running status", "service", d.Name, "err", perr)
		}
	}
	m.pendingRestart.Store(false)

	metrics.IncStart(catalog.SharedServerKey)
	metrics.ObserveSpawnDuration(catalog.SharedServerKey, time.Since(started).Seconds())
	metrics.SetServerUp(true)
	events.Emit(ctx, m.opts.Sinks, events.New(events.TypeStart, catalog.SharedServerKey, pid, ""))
	slog.Info("shared server started", "pid", pid, "listen", m.opts.ListenAddr, "services", len(defs))
	return nil
}

func (m *Manager) serverSpawnFailed(ctx context.Context, defs []catalog.Definition, cause error) error {
	st := catalog.StatusError
	for _, d := range defs {
		if _, uerr := m.catalog.Update(ctx, d.Name, catalog.UpdateFields{Status: &st}); uerr != nil {
			slog.Warn("could not persist error status", "service", d.Name, "err", uerr)
		}
	}
	metrics.IncSpawnFailure(catalog.SharedServerKey)
	events.Emit(ctx, m.opts.Sinks, events.New(events.TypeSpawnFailure, catalog.SharedServerKey, 0, cause.Error()))
	slog.Error("shared server spawn failed", "err", cause)
	return &SpawnError{Name: catalog.SharedServerKey, Err: cause}
}

// stopServer terminates the shared process and normalizes every server-side
// definition to stopped. Idempotent when nothing is running.
func (m *Manager) stopServer(ctx context.Context) error {
	s := m.slot(catalog.SharedServerKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.stopServerLocked(ctx, s)
}

func (m *Manager) stopServerLocked(ctx context.Context, s *slot) error {
	pid, _ := m.registry.Lookup(catalog.SharedServerKey)

	stopped, forced, err := m.terminate(ctx, s, catalog.SharedServerKey, m.opts.ServerStopTimeout)
	if err != nil {
		return err
	}
	m.normalizeServerSide(ctx)
	m.pendingRestart.Store(false)
	metrics.SetServerUp(false)

	if stopped {
		metrics.IncStop(catalog.SharedServerKey)
		detail := ""
		if forced {
			detail = "forced"
		}
		events.Emit(ctx, m.opts.Sinks, events.New(events.TypeStop, catalog.SharedServerKey, pid, detail))
		slog.Info("shared server stopped", "pid", pid, "forced", forced)
	}
	return nil
}

// normalizeServerSide marks every server-side definition stopped.
func (m *Manager) normalizeServerSide(ctx context.Context) {
	for _, d := range m.catalog.ByKind(catalog.KindServer) {
		if d.Status == catalog.StatusStopped {
			continue
		}
		if err := m.persistStatus(ctx, d.Name, catalog.StatusStopped, nil); err != nil {
			slog.Warn("could not persist stopped status", "service", d.Name, "err", err)
		}
	}
}
