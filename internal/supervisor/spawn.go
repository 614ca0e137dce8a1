package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/events"
	"github.com/rezaab69/rathole-management/internal/metrics"
)

// spawn starts cmd for key with output capture wired, records the PID, and
// launches the reaper goroutine that closes the slot's waitDone channel
// when the process exits. The caller holds the slot lock.
func (m *Manager) spawn(s *slot, key string, cmd *exec.Cmd) (int, error) {
	stdout, stderr := m.opts.EngineLogs.Writers(key)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	configureCmd(cmd)
	if err := cmd.Start(); err != nil {
		closeWriters(stdout, stderr)
		return 0, err
	}
	pid := cmd.Process.Pid
	m.registry.Record(key, pid)
	done := make(chan struct{})
	s.cmd = cmd
	s.waitDone = done
	go func() {
		err := cmd.Wait()
		closeWriters(stdout, stderr)
		close(done)
		if err != nil {
			slog.Debug("engine process exited", "key", key, "pid", pid, "err", err)
		}
	}()
	return pid, nil
}

func closeWriters(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}

// terminate runs the graceful-then-forced stop sequence for key. The caller
// holds the slot lock. It reports whether a live process was actually
// stopped and whether escalation to a forced kill fired. A process that
// survives the forced kill keeps its registry entry and yields a
// TerminationError.
func (m *Manager) terminate(ctx context.Context, s *slot, key string, wait time.Duration) (stopped, forced bool, err error) {
	pid, tracked := m.registry.Lookup(key)
	if !tracked {
		return false, false, nil
	}
	if !m.registry.IsAlive(key) {
		m.registry.Forget(key)
		return false, false, nil
	}

	terminateGroup(pid)

	wd := s.waitDone
	ownPID := s.cmd != nil && s.cmd.Process != nil && s.cmd.Process.Pid == pid
	if wd != nil && ownPID {
		select {
		case <-wd:
		case <-time.After(wait):
			forced = true
			killGroup(pid)
			select {
			case <-wd:
			case <-time.After(reapWindow):
			}
		}
	} else {
		// Tracked PID without a reaper in this slot; fall back to liveness
		// polling.
		if !m.waitDead(key, wait) {
			forced = true
			killGroup(pid)
			m.waitDead(key, reapWindow)
		}
	}

	if forced {
		metrics.IncForcedKill(key)
		events.Emit(ctx, m.opts.Sinks, events.New(events.TypeForcedKill, key, pid, "graceful stop timed out"))
		slog.Warn("engine stop escalated to forced kill", "key", key, "pid", pid)
	}
	if m.registry.IsAlive(key) {
		return false, forced, &TerminationError{Key: key, PID: pid}
	}
	m.registry.Forget(key)
	return true, forced, nil
}

// waitDead polls registry liveness for up to d.
func (m *Manager) waitDead(key string, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !m.registry.IsAlive(key) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !m.registry.IsAlive(key)
}

// persistStatus records an observed lifecycle state through the catalog.
// configPath nil leaves the recorded artifact path unchanged.
func (m *Manager) persistStatus(ctx context.Context, name string, st catalog.Status, configPath *string) error {
	_, err := m.catalog.Update(ctx, name, catalog.UpdateFields{Status: &st, ConfigPath: configPath})
	return err
}
