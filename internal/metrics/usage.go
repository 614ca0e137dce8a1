package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage holds one CPU and memory reading for an engine process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	At         time.Time `json:"at"`
}

// SampleUsage reads an instantaneous resource snapshot for pid. Memory info
// is required; CPU and thread figures degrade to zero when unreadable.
func SampleUsage(pid int) (Usage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("open process %d: %w", pid, err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("memory info for pid %d: %w", pid, err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	u := Usage{
		PID:        int32(pid),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		At:         time.Now(),
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			u.NumFDs = numFDs
		}
	}
	return u, nil
}

// PIDSource reports the live engine processes to sample: service name to PID.
type PIDSource func() map[string]int

// Sampler periodically reads resource usage for every live engine process
// and publishes it through the engine gauges. The latest reading per service
// is kept for status queries.
type Sampler struct {
	interval time.Duration
	source   PIDSource

	mu   sync.RWMutex
	last map[string]Usage

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSampler(interval time.Duration, source PIDSource) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		interval: interval,
		source:   source,
		last:     make(map[string]Usage),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling loop. One immediate pass runs before the
// first tick.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.SampleOnce()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SampleOnce()
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SampleOnce runs a single sampling pass. Gauge series for services that
// disappeared since the last pass are deleted.
func (s *Sampler) SampleOnce() {
	pids := s.source()
	fresh := make(map[string]Usage, len(pids))
	for name, pid := range pids {
		u, err := SampleUsage(pid)
		if err != nil {
			slog.Debug("usage sample failed", "service", name, "pid", pid, "err", err)
			continue
		}
		fresh[name] = u
		if regOK.Load() {
			engineCPUPercent.WithLabelValues(name).Set(u.CPUPercent)
			engineMemoryRSS.WithLabelValues(name).Set(float64(u.MemoryRSS))
			engineThreads.WithLabelValues(name).Set(float64(u.NumThreads))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.last {
		if _, ok := fresh[name]; ok {
			continue
		}
		if regOK.Load() {
			engineCPUPercent.DeleteLabelValues(name)
			engineMemoryRSS.DeleteLabelValues(name)
			engineThreads.DeleteLabelValues(name)
		}
	}
	s.last = fresh
}

// Snapshot returns the latest reading per service.
func (s *Sampler) Snapshot() map[string]Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Usage, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}

// ServiceUsage returns the latest reading for one service.
func (s *Sampler) ServiceUsage(name string) (Usage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.last[name]
	return u, ok
}
