package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres implements Store on PostgreSQL via the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool for dsn and verifies it with a ping.
func NewPostgres(dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
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
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_services_kind ON services(kind);`,
		`CREATE TABLE IF NOT EXISTS users(
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'admin',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateService(ctx context.Context, rec ServiceRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO services(name, kind, token, server_bind_addr, client_local_addr, client_remote_addr, status, config_path, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`,
		rec.Name, rec.Kind, rec.Token, rec.ServerBindAddr, rec.ClientLocalAddr, rec.ClientRemoteAddr, rec.Status, rec.ConfigPath, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrServiceExists
	}
	return err
}

func (p *Postgres) UpdateService(ctx context.Context, rec ServiceRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	res, err := p.db.ExecContext(ctx, `
		UPDATE services
		SET kind=$1, token=$2, server_bind_addr=$3, client_local_addr=$4, client_remote_addr=$5, status=$6, config_path=$7, updated_at=$8
		WHERE name=$9;`,
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

func (p *Postgres) DeleteService(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM services WHERE name=$1;`, name)
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

func (p *Postgres) GetService(ctx context.Context, name string) (ServiceRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT name, kind, token, server_bind_addr, client_local_addr, client_remote_addr, status, config_path, created_at, updated_at
		FROM services WHERE name=$1;`, name)
	return scanService(row)
}

func (p *Postgres) ListServices(ctx context.Context) ([]ServiceRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *Postgres) CreateUser(ctx context.Context, rec UserRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users(id, username, password_hash, role, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6);`,
		rec.ID, rec.Username, rec.PasswordHash, rec.Role, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at
		FROM users WHERE username=$1;`, username)
	var r UserRecord
	err := row.Scan(&r.ID, &r.Username, &r.PasswordHash, &r.Role, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	return r, err
}

func (p *Postgres) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$1, updated_at=$2 WHERE username=$3;`,
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

func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users;`).Scan(&n)
	return n, err
}
