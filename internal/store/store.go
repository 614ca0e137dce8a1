package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ServiceRecord is the durable row for one tunnel service definition.
// Name is unique across all services. Status is stored as text
// ("stopped", "running", "error"); timestamps are UTC.
type ServiceRecord struct {
	Name             string
	Kind             string
	Token            string
	ServerBindAddr   string
	ClientLocalAddr  string
	ClientRemoteAddr string
	Status           string
	ConfigPath       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserRecord is the durable row for one panel user.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	ErrServiceExists   = errors.New("service already exists")
	ErrServiceNotFound = errors.New("service not found")
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
)

// Store persists service definitions and user credentials as simple keyed
// records. Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateService(ctx context.Context, rec ServiceRecord) error
	UpdateService(ctx context.Context, rec ServiceRecord) error
	DeleteService(ctx context.Context, name string) error
	GetService(ctx context.Context, name string) (ServiceRecord, error)
	ListServices(ctx context.Context) ([]ServiceRecord, error)

	CreateUser(ctx context.Context, rec UserRecord) error
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
	CountUsers(ctx context.Context) (int, error)

	Close() error
}

// Config selects and parameterizes a store backend.
type Config struct {
	// Type is "sqlite" (default) or "postgres".
	Type string `toml:"type" mapstructure:"type"`
	// Path is the sqlite database file (":memory:" allowed).
	Path string `toml:"path" mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// isUniqueViolation matches the duplicate-key errors of both backends
// without driver-specific imports at the call sites.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") ||
		strings.Contains(s, "SQLSTATE 23505") ||
		strings.Contains(s, "duplicate key value")
}
