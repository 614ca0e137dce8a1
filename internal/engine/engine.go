// Package engine renders the tunnel engine's TOML config documents and
// builds its process invocations. Rendering is pure and deterministic; the
// only I/O lives in WriteArtifact.
package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/renameio/v2"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/rezaab69/rathole-management/internal/env"
)

const (
	// DefaultServerListen is the engine's conventional shared listen address.
	DefaultServerListen = "0.0.0.0:2333"
	// DefaultHeartbeatSecs keeps idle control connections alive.
	DefaultHeartbeatSecs = 30
	// DefaultLogLevel is passed to the engine via RUST_LOG.
	DefaultLogLevel = "info"
	// DefaultBinary is the engine executable looked up on PATH.
	DefaultBinary = "rathole"
)

// ServerService is one exposed service entry in the shared server document.
type ServerService struct {
	Token    string `toml:"token"`
	BindAddr string `toml:"bind_addr"`
}

// ClientService is the single service entry in a dedicated client document.
type ClientService struct {
	Token     string `toml:"token"`
	LocalAddr string `toml:"local_addr"`
}

type serverSection struct {
	BindAddr          string                   `toml:"bind_addr"`
	HeartbeatInterval int                      `toml:"heartbeat_interval"`
	Services          map[string]ServerService `toml:"services,omitempty"`
}

type clientSection struct {
	RemoteAddr string                   `toml:"remote_addr"`
	Services   map[string]ClientService `toml:"services"`
}

// ServerConfig describes the one shared server document.
type ServerConfig struct {
	ListenAddr        string
	HeartbeatInterval int
	Services          map[string]ServerService
}

// ClientConfig describes one dedicated client document: a single service
// exposing LocalAddr through the remote listener.
type ClientConfig struct {
	ServiceName string
	RemoteAddr  string
	Token       string
	LocalAddr   string
}

// MarshalServer renders the shared server document. Map keys are emitted in
// sorted order, so equal inputs yield byte-identical output. An empty
// service set is legal and produces a loadable document with just the
// listener section.
func MarshalServer(cfg ServerConfig) ([]byte, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultServerListen
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatSecs
	}
	doc := struct {
		Server serverSection `toml:"server"`
	}{serverSection{
		BindAddr:          cfg.ListenAddr,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Services:          cfg.Services,
	}}
	b, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal server config: %w", err)
	}
	return b, nil
}

// MarshalClient renders a dedicated client document for exactly one service.
func MarshalClient(cfg ClientConfig) ([]byte, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("marshal client config: empty service name")
	}
	doc := struct {
		Client clientSection `toml:"client"`
	}{clientSection{
		RemoteAddr: cfg.RemoteAddr,
		Services: map[string]ClientService{
			cfg.ServiceName: {Token: cfg.Token, LocalAddr: cfg.LocalAddr},
		},
	}}
	b, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal client config: %w", err)
	}
	return b, nil
}

// ServerConfigPath is the shared server artifact location under dir.
func ServerConfigPath(dir string) string {
	return filepath.Join(dir, "server.toml")
}

// ClientConfigPath is the per-service client artifact location under dir.
func ClientConfigPath(dir, name string) string {
	return filepath.Join(dir, "client_"+name+".toml")
}

// WriteArtifact atomically replaces path with data, creating the parent
// directory as needed. The engine never observes a partially written
// document.
func WriteArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Role selects the engine invocation mode.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Command builds the engine invocation for one managed process: binary, a
// role flag, and the config document path. Engine verbosity is controlled
// through RUST_LOG; extraEnv pairs ("K=V", ${VAR} references allowed) are
// merged on top of the inherited environment and may override RUST_LOG.
func Command(binary string, role Role, configPath, logLevel string, extraEnv []string) *exec.Cmd {
	if binary == "" {
		binary = DefaultBinary
	}
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}
	cmd := exec.Command(binary, "--"+string(role), configPath)
	environ := env.New()
	environ.Set("RUST_LOG", logLevel)
	cmd.Env = environ.Merge(extraEnv)
	return cmd
}
