package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store with the CGO-free modernc.org/sqlite driver.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. An empty path means an
// in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = ":memory:"
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", p, err)
	}
	// Single connection: keeps :memory: coherent and avoids writer contention.
	db.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services(
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			token TEXT NOT NULL,
			server_bind_addr TEXT NOT NULL DEFAULT '',
			client_local_addr TEXT NOT NULL DEFAULT '',
			client_remote_addr TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'stopped',
			config_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_services_kind ON services(kind);`,
		`CREATE TABLE IF NOT EXISTS users(
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'admin',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) CreateService(ctx context.Context, rec ServiceRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services(name, kind, token, server_bind_addr, client_local_addr, client_remote_addr, status, config_path, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Name, rec.Kind, rec.Token, rec.ServerBindAddr, rec.ClientLocalAddr, rec.ClientRemoteAddr, rec.Status, rec.ConfigPath, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrServiceExists
	}
	return err
}

func (s *SQLite) UpdateService(ctx context.Context, rec ServiceRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE services
		SET kind=?, token=?, server_bind_addr=?, client_local_addr=?, client_remote_addr=?, status=?, config_path=?, updated_at=?
		WHERE name=?;`,
		rec.Kind, rec.Token, rec.ServerBindAddr, rec.ClientLocalAddr, rec.ClientRemoteAddr, rec.Status, rec.ConfigPath, rec.UpdatedAt, rec.Name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *SQLite) DeleteService(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE name=?;`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *SQLite) GetService(ctx context.Context, name string) (ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, kind, token, server_bind_addr, client_local_addr, client_remote_addr, status, config_path, created_at, updated_at
		FROM services WHERE name=?;`, name)
	return scanService(row)
}

func (s *SQLite) ListServices(ctx context.Context) ([]ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, token, server_bind_addr, client_local_addr, client_remote_addr, status, config_path, created_at, updated_at
		FROM services ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]ServiceRecord, 0)
	for rows.Next() {
		var r ServiceRecord
		if err := rows.Scan(&r.Name, &r.Kind, &r.Token, &r.ServerBindAddr, &r.ClientLocalAddr, &r.ClientRemoteAddr, &r.Status, &r.ConfigPath, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateUser(ctx context.Context, rec UserRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(id, username, password_hash, role, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Username, rec.PasswordHash, rec.Role, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at
		FROM users WHERE username=?;`, username)
	var r UserRecord
	err := row.Scan(&r.ID, &r.Username, &r.PasswordHash, &r.Role, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	return r, err
}

func (s *SQLite) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=?, updated_at=? WHERE username=?;`,
		passwordHash, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLite) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users;`).Scan(&n)
	return n, err
}

func scanService(row *sql.Row) (ServiceRecord, error) {
	var r ServiceRecord
	err := row.Scan(&r.Name, &r.Kind, &r.Token, &r.ServerBindAddr, &r.ClientLocalAddr, &r.ClientRemoteAddr, &r.Status, &r.ConfigPath, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceRecord{}, ErrServiceNotFound
	}
	return r, err
}
