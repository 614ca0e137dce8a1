// Package catalog holds the desired-state view of all tunnel services: the
// durable records and their in-process mirror. Nothing else mutates the
// mirror; lifecycle code goes through this package's API.
package catalog

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/rezaab69/rathole-management/internal/store"
)

// Kind distinguishes a service hosted by the shared server process from one
// served by its own dedicated client process.
type Kind string

const (
	KindServer Kind = "server"
	KindClient Kind = "client"
)

// Status is the last recorded lifecycle state of a service.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// SharedServerKey is the process-registry key of the one shared server
// process. It is reserved: no service may take it as a name.
const SharedServerKey = "main_rathole_server"

// TokenHexLen is the length of auto-generated service tokens.
const TokenHexLen = 32

// Definition is one tunnel service. Exactly the kind-matching address
// fields are populated: ServerBindAddr for server services, the two client
// addresses for client services.
type Definition struct {
	Name             string `json:"name"`
	Kind             Kind   `json:"kind"`
	Token            string `json:"token,omitempty"`
	ServerBindAddr   string `json:"server_bind_addr,omitempty"`
	ClientLocalAddr  string `json:"client_local_addr,omitempty"`
	ClientRemoteAddr string `json:"client_remote_addr,omitempty"`
	Status           Status `json:"status"`
	ConfigPath       string `json:"config_path,omitempty"`
}

// UpdateFields lists the mutable definition fields; nil means unchanged.
// Name and Kind are immutable once created. Status and ConfigPath are
// owned by the lifecycle controller and never settable over the wire.
type UpdateFields struct {
	Token            *string `json:"token,omitempty"`
	ServerBindAddr   *string `json:"server_bind_addr,omitempty"`
	ClientLocalAddr  *string `json:"client_local_addr,omitempty"`
	ClientRemoteAddr *string `json:"client_remote_addr,omitempty"`
	Status           *Status `json:"-"`
	ConfigPath       *string `json:"-"`
}

func (f UpdateFields) empty() bool {
	return f.Token == nil && f.ServerBindAddr == nil && f.ClientLocalAddr == nil &&
		f.ClientRemoteAddr == nil && f.Status == nil && f.ConfigPath == nil
}

// GenerateToken returns a fresh random shared secret of TokenHexLen hex
// characters.
func GenerateToken() (string, error) {
	b := make([]byte, TokenHexLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

func validate(def Definition) error {
	if !nameRe.MatchString(def.Name) {
		return &ValidationError{Field: "name", Reason: "must be 1-64 chars of [a-zA-Z0-9._-]"}
	}
	if def.Name == SharedServerKey {
		return &ValidationError{Field: "name", Reason: "is reserved for the shared server process"}
	}
	switch def.Kind {
	case KindServer:
		if def.ServerBindAddr == "" {
			return &ValidationError{Field: "server_bind_addr", Reason: "is required for server services"}
		}
		if def.ClientLocalAddr != "" || def.ClientRemoteAddr != "" {
			return &ValidationError{Field: "kind", Reason: "server services must not set client addresses"}
		}
	case KindClient:
		if def.ClientLocalAddr == "" {
			return &ValidationError{Field: "client_local_addr", Reason: "is required for client services"}
		}
		if def.ClientRemoteAddr == "" {
			return &ValidationError{Field: "client_remote_addr", Reason: "is required for client services"}
		}
		if def.ServerBindAddr != "" {
			return &ValidationError{Field: "kind", Reason: "client services must not set a server bind address"}
		}
	default:
		return &ValidationError{Field: "kind", Reason: `must be "server" or "client"`}
	}
	return nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusStopped, StatusRunning, StatusError:
		return true
	}
	return false
}

func toRecord(d Definition) store.ServiceRecord {
	return store.ServiceRecord{
		Name:             d.Name,
		Kind:             string(d.Kind),
		Token:            d.Token,
		ServerBindAddr:   d.ServerBindAddr,
		ClientLocalAddr:  d.ClientLocalAddr,
		ClientRemoteAddr: d.ClientRemoteAddr,
		Status:           string(d.Status),
		ConfigPath:       d.ConfigPath,
	}
}

func fromRecord(r store.ServiceRecord) Definition {
	return Definition{
		Name:             r.Name,
		Kind:             Kind(r.Kind),
		Token:            r.Token,
		ServerBindAddr:   r.ServerBindAddr,
		ClientLocalAddr:  r.ClientLocalAddr,
		ClientRemoteAddr: r.ClientRemoteAddr,
		Status:           Status(r.Status),
		ConfigPath:       r.ConfigPath,
	}
}
