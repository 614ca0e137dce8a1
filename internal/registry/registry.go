package registry

import (
	"sync"
)

// entry tracks one engine process spawned during the current supervisor
// lifetime. startUnix is the OS-reported process start time captured at
// record time; it lets IsAlive reject a reused PID.
type entry struct {
	pid       int
	startUnix int64
}

// Registry maps logical service keys (client service names, or the shared
// server sentinel) to the processes this supervisor started. It is in-memory
// only: entries do not survive a supervisor restart and must be re-derived
// by reconciliation afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Record tracks pid under key, overwriting any prior entry for key.
func (r *Registry) Record(key string, pid int) {
	st := getProcStartUnix(pid)
	r.mu.Lock()
	r.entries[key] = entry{pid: pid, startUnix: st}
	r.mu.Unlock()
}

// Lookup returns the tracked PID for key, or ok=false when key is untracked.
func (r *Registry) Lookup(key string) (pid int, ok bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	return e.pid, ok
}

// Forget drops the entry for key. It is a no-op when key is untracked.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// IsAlive reports whether key maps to a process that still exists according
// to the OS. A PID that exists but whose current start time disagrees with
// the recorded one belongs to some other process and counts as dead.
func (r *Registry) IsAlive(key string) bool {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !pidAlive(e.pid) || isZombie(e.pid) {
		return false
	}
	if e.startUnix > 0 {
		// Allow 1s of skew for clock-tick rounding between reads.
		if cur := getProcStartUnix(e.pid); cur > 0 && absDiff(cur, e.startUnix) > 1 {
			return false // PID reused; not our process
		}
	}
	return true
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
