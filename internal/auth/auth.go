package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rezaab69/rathole-management/internal/store"
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"

	issuer     = "rathole-mgmt"
	defaultTTL = 24 * time.Hour
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the JWT payload issued on login.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Token is a signed bearer token plus its expiry.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service authenticates panel users against the durable store and
// issues HS256 tokens for the HTTP API.
type Service struct {
	store     store.Store
	jwtSecret []byte
	tokenTTL  time.Duration
}

func New(st store.Store, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = defaultTTL
	}
	return &Service{store: st, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL}
}

// Login verifies the credentials and returns a signed token.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.verify(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.generateToken(user)
}

// VerifyPassword checks the credentials without issuing a token.
func (s *Service) VerifyPassword(ctx context.Context, username, password string) error {
	_, err := s.verify(ctx, username, password)
	return err
}

func (s *Service) verify(ctx context.Context, username, password string) (store.UserRecord, error) {
	if username == "" || password == "" {
		return store.UserRecord{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return store.UserRecord{}, ErrInvalidCredentials
		}
		return store.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.UserRecord{}, ErrInvalidCredentials
	}
	return user, nil
}

// Validate parses and verifies a bearer token string.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidCredentials
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

func (s *Service) generateToken(user store.UserRecord) (*Token, error) {
	expiresAt := time.Now().Add(s.tokenTTL)

	claims := &Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}

// CreateUser stores a new user with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, username, password, role string) (store.UserRecord, error) {
	if username == "" || password == "" {
		return store.UserRecord{}, fmt.Errorf("username and password are required")
	}
	if role == "" {
		role = RoleViewer
	}
	if role != RoleAdmin && role != RoleViewer {
		return store.UserRecord{}, fmt.Errorf("unknown role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := store.UserRecord{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.UserRecord{}, fmt.Errorf("create user: %w", err)
	}

	user.PasswordHash = ""
	return user, nil
}

// UpdatePassword replaces the stored hash for username.
func (s *Service) UpdatePassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// EnsureBootstrapUser creates the initial admin account when the user
// table is empty. With no configured password a random one is generated
// and logged exactly once, so a fresh install is reachable.
func (s *Service) EnsureBootstrapUser(ctx context.Context, username, password string) error {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	if username == "" {
		username = "admin"
	}
	generated := false
	if password == "" {
		buf := make([]byte, 12)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate bootstrap password: %w", err)
		}
		password = hex.EncodeToString(buf)
		generated = true
	}
	if _, err := s.CreateUser(ctx, username, password, RoleAdmin); err != nil {
		return err
	}
	if generated {
		slog.Warn("created bootstrap admin user with generated password, change it after first login",
			"username", username, "password", password)
	} else {
		slog.Info("created bootstrap admin user", "username", username)
	}
	return nil
}
