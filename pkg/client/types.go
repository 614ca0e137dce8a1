package client

import "time"

// Service mirrors the management API's service definition JSON.
type Service struct {
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	Token            string `json:"token,omitempty"`
	ServerBindAddr   string `json:"server_bind_addr,omitempty"`
	ClientLocalAddr  string `json:"client_local_addr,omitempty"`
	ClientRemoteAddr string `json:"client_remote_addr,omitempty"`
	Status           string `json:"status"`
	ConfigPath       string `json:"config_path,omitempty"`
}

// ServicePatch names the fields an update may change; nil leaves a field
// untouched.
type ServicePatch struct {
	Token            *string `json:"token,omitempty"`
	ServerBindAddr   *string `json:"server_bind_addr,omitempty"`
	ClientLocalAddr  *string `json:"client_local_addr,omitempty"`
	ClientRemoteAddr *string `json:"client_remote_addr,omitempty"`
}

// Usage is a point-in-time resource sample of a live engine process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	At         time.Time `json:"at"`
}

// ServiceStatus is one service's definition plus its live process facts.
type ServiceStatus struct {
	Service
	Alive bool   `json:"alive"`
	PID   int    `json:"pid,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// ServerStatus describes the shared server process.
type ServerStatus struct {
	Running        bool   `json:"running"`
	PID            int    `json:"pid,omitempty"`
	PendingRestart bool   `json:"pending_restart"`
	ListenAddr     string `json:"listen_addr"`
	Services       int    `json:"services"`
	Usage          *Usage `json:"usage,omitempty"`
}

// Token is the bearer token returned by login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the API's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
