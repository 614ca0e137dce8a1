package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/events"
	"github.com/rezaab69/rathole-management/internal/metrics"
)

// DefaultReconcileInterval is the reconciler's tick when none is configured.
const DefaultReconcileInterval = 10 * time.Second

// ReconcileOnce compares recorded statuses against live processes and
// repairs both directions: a definition marked running whose process is
// gone goes to error, a definition served by a live process is re-marked
// running. Services with a lifecycle operation in flight are skipped and
// picked up on the next pass.
func (m *Manager) ReconcileOnce(ctx context.Context) {
	serverAlive := m.reconcileServer(ctx)
	m.reconcileClients(ctx, serverAlive)
	m.updateGauges(serverAlive)
}

// reconcileServer handles the sentinel key and reports shared server
// liveness for the server-side definitions.
func (m *Manager) reconcileServer(ctx context.Context) bool {
	s := m.slot(catalog.SharedServerKey)
	if !s.mu.TryLock() {
		return m.registry.IsAlive(catalog.SharedServerKey)
	}
	defer s.mu.Unlock()

	if m.registry.IsAlive(catalog.SharedServerKey) {
		return true
	}
	if pid, ok := m.registry.Lookup(catalog.SharedServerKey); ok {
		m.registry.Forget(catalog.SharedServerKey)
		metrics.IncDrift(catalog.SharedServerKey)
		events.Emit(ctx, m.opts.Sinks, events.New(events.TypeDrift, catalog.SharedServerKey, pid, "process disappeared"))
		slog.Warn("shared server process disappeared", "pid", pid)
	}
	return false
}

func (m *Manager) reconcileClients(ctx context.Context, serverAlive bool) {
	for _, def := range m.catalog.All() {
		switch def.Kind {
		case catalog.KindClient:
			m.reconcileClient(ctx, def)
		case catalog.KindServer:
			// Server-side status mirrors the shared process.
			if serverAlive && def.Status != catalog.StatusRunning {
				m.repairStatus(ctx, def.Name, catalog.StatusRunning)
			}
			if !serverAlive && def.Status == catalog.StatusRunning {
				m.repairStatus(ctx, def.Name, catalog.StatusError)
			}
		}
	}
}

func (m *Manager) reconcileClient(ctx context.Context, def catalog.Definition) {
	s := m.slot(def.Name)
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	if m.registry.IsAlive(def.Name) {
		if def.Status != catalog.StatusRunning {
			m.repairStatus(ctx, def.Name, catalog.StatusRunning)
		}
		return
	}
	pid, tracked := m.registry.Lookup(def.Name)
	if tracked {
		m.registry.Forget(def.Name)
	}
	if def.Status == catalog.StatusRunning {
		metrics.IncDrift(def.Name)
		events.Emit(ctx, m.opts.Sinks, events.New(events.TypeDrift, def.Name, pid, "process disappeared"))
		slog.Warn("client engine disappeared while marked running", "service", def.Name, "pid", pid)
		m.repairStatus(ctx, def.Name, catalog.StatusError)
	}
}

func (m *Manager) repairStatus(ctx context.Context, name string, st catalog.Status) {
	if _, err := m.catalog.Update(ctx, name, catalog.UpdateFields{Status: &st}); err != nil {
		slog.Warn("could not persist reconciled status", "service", name, "status", string(st), "err", err)
	}
}

func (m *Manager) updateGauges(serverAlive bool) {
	var clients, servers int
	for _, def := range m.catalog.All() {
		switch def.Kind {
		case catalog.KindClient:
			if m.registry.IsAlive(def.Name) {
				clients++
			}
		case catalog.KindServer:
			if serverAlive {
				servers++
			}
		}
	}
	metrics.SetRunning("client", clients)
	metrics.SetRunning("server", servers)
	metrics.SetServerUp(serverAlive)
}

// StartReconciler runs ReconcileOnce every interval until StopReconciler or
// ctx cancellation. Starting an already-running reconciler is a no-op.
func (m *Manager) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	m.reconMu.Lock()
	defer m.reconMu.Unlock()
	if m.reconStop != nil {
		return
	}
	stop := make(chan struct{})
	m.reconStop = stop
	m.reconWg.Add(1)
	go func() {
		defer m.reconWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ReconcileOnce(ctx)
			}
		}
	}()
}

// StopReconciler halts the loop and waits for any in-flight pass.
func (m *Manager) StopReconciler() {
	m.reconMu.Lock()
	stop := m.reconStop
	m.reconStop = nil
	m.reconMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	m.reconWg.Wait()
}
