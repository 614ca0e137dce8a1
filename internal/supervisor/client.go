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

// startClient brings up the dedicated engine process for one client
// service: render the config document, write it, spawn, record. No-op
// success when the process is already alive.
func (m *Manager) startClient(ctx context.Context, name string) error {
	s := m.slot(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := m.catalog.Get(name)
	if !ok {
		return catalog.ErrNotFound
	}
	if m.registry.IsAlive(name) {
		return nil
	}

	started := time.Now()
	doc, err := engine.MarshalClient(engine.ClientConfig{
		ServiceName: name,
		RemoteAddr:  def.ClientRemoteAddr,
		Token:       def.Token,
		LocalAddr:   def.ClientLocalAddr,
	})
	if err != nil {
		return m.clientSpawnFailed(ctx, name, err)
	}
	path := engine.ClientConfigPath(m.opts.Dir, name)
	if err := engine.WriteArtifact(path, doc); err != nil {
		return m.clientSpawnFailed(ctx, name, err)
	}

	cmd := engine.Command(m.opts.Binary, engine.RoleClient, path, m.opts.LogLevel, m.opts.ExtraEnv)
	pid, err := m.spawn(s, name, cmd)
	if err != nil {
		return m.clientSpawnFailed(ctx, name, err)
	}

	if err := m.persistStatus(ctx, name, catalog.StatusRunning, &path); err != nil {
		// Roll the spawn back: the caller is told the start failed, so no
		// live process may remain behind the stale durable state.
		killGroup(pid)
		select {
		case <-s.waitDone:
		case <-time.After(reapWindow):
		}
		m.registry.Forget(name)
		return err
	}

	metrics.IncStart(name)
	metrics.ObserveSpawnDuration(name, time.Since(started).Seconds())
	events.Emit(ctx, m.opts.Sinks, events.New(events.TypeStart, name, pid, ""))
	slog.Info("client engine started", "service", name, "pid", pid, "config", path)
	return nil
}

// clientSpawnFailed records a failed start: error status, counters, audit
// event. The service keeps no process record and is not retried.
func (m *Manager) clientSpawnFailed(ctx context.Context, name string, cause error) error {
	st := catalog.StatusError
	if _, uerr := m.catalog.Update(ctx, name, catalog.UpdateFields{Status: &st}); uerr != nil {
		slog.Warn("could not persist error status", "service", name, "err", uerr)
	}
	metrics.IncSpawnFailure(name)
	events.Emit(ctx, m.opts.Sinks, events.New(events.TypeSpawnFailure, name, 0, cause.Error()))
	slog.Error("client engine spawn failed", "service", name, "err", cause)
	return &SpawnError{Name: name, Err: cause}
}

// stopClient terminates one client service's engine process. Never-started
// and already-dead services normalize to stopped and report success.
func (m *Manager) stopClient(ctx context.Context, name string) error {
	s := m.slot(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := m.catalog.Get(name)
	if !ok {
		return catalog.ErrNotFound
	}
	pid, _ := m.registry.Lookup(name)

	stopped, forced, err := m.terminate(ctx, s, name, m.opts.ClientStopTimeout)
	if err != nil {
		return err
	}
	if def.Status != catalog.StatusStopped {
		if perr := m.persistStatus(ctx, name, catalog.StatusStopped, nil); perr != nil {
			return perr
		}
	}
	if stopped {
		metrics.IncStop(name)
		detail := ""
		if forced {
			detail = "forced"
		}
		events.Emit(ctx, m.opts.Sinks, events.New(events.TypeStop, name, pid, detail))
		slog.Info("client engine stopped", "service", name, "pid", pid, "forced", forced)
	}
	return nil
}
