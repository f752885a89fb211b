package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	stdtime "time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
)

// Errors
var (
	ErrUserNotFound       = errs.New(errs.NotFound, "user not found")
	ErrInvalidCredentials = errs.New(errs.Unauthenticated, "invalid email or password")
	ErrAccountExists      = errs.New(errs.FailedPrecondition, "an account with that email already exists")
	ErrWeakPassword       = errs.New(errs.InvalidArgument, "password must be at least 8 characters")
	ErrInvalidEmail       = errs.New(errs.InvalidArgument, "a valid email address is required")
)

// Argon2id parameters (OWASP second recommendation: m=19456, t=2, p=1).
// Parameters are embedded in each hash string, so changing them keeps old hashes verifiable.
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Clock abstracts time for testability.
type Clock interface {
	Now() stdtime.Time
}

type realClock struct{}

func (realClock) Now() stdtime.Time { return stdtime.Now() }

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// Argon2Hasher is the production PasswordHasher.
type Argon2Hasher struct{}

func (Argon2Hasher) HashPassword(password string) (string, error) { return HashPassword(password) }

func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	return VerifyPassword(password, encodedHash)
}

// User represents a user account.
type User struct {
	ID        string
	Email     string
	CreatedAt stdtime.Time
}

// UserService handles account registration and credential checks.
type UserService struct {
	db     *db.DB
	hasher PasswordHasher
	clock  Clock
}

// NewUserService creates a new user service. A nil hasher selects Argon2id.
func NewUserService(database *db.DB, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = Argon2Hasher{}
	}
	return &UserService{
		db:     database,
		hasher: hasher,
		clock:  realClock{},
	}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *UserService) SetClock(c Clock) {
	s.clock = c
}

// NormalizeEmail lowercases and trims an address and checks its syntax.
func NormalizeEmail(emailAddr string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(emailAddr))
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// Register creates a new account with email/password.
func (s *UserService) Register(ctx context.Context, emailAddr, password string) (*User, error) {
	emailAddr, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	_, err = s.db.GetUserByEmail(ctx, emailAddr)
	if err == nil {
		return nil, ErrAccountExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check account existence: %w", err)
	}

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now()
	user := &User{ID: uuid.NewString(), Email: emailAddr, CreatedAt: now}
	err = s.db.CreateUser(ctx, db.User{
		ID:           user.ID,
		Email:        user.Email,
		PasswordHash: passwordHash,
		CreatedAt:    now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	obs.From(ctx).Info("user registered", "user_id", user.ID)
	return user, nil
}

// Authenticate verifies email/password credentials for an existing account.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, emailAddr, password string) (*User, error) {
	emailAddr, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	row, err := s.db.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !s.hasher.VerifyPassword(password, row.PasswordHash) {
		obs.From(ctx).Info("login rejected", "user_id", row.ID)
		return nil, ErrInvalidCredentials
	}
	return &User{ID: row.ID, Email: row.Email, CreatedAt: stdtime.Unix(row.CreatedAt, 0)}, nil
}

// Get returns the user with the given ID.
func (s *UserService) Get(ctx context.Context, userID string) (*User, error) {
	row, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &User{ID: row.ID, Email: row.Email, CreatedAt: stdtime.Unix(row.CreatedAt, 0)}, nil
}

// ValidatePasswordStrength checks if a password meets minimum requirements.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	start := stdtime.Now()
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	obs.Pkg("auth").Debug("argon2_hash", "m_kib", argon2Memory, "t", argon2Time, "p", argon2Threads, "dur_ms", stdtime.Since(start).Milliseconds())

	// $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads, encodedSalt, encodedHash), nil
}

// VerifyPassword checks if a password matches an encoded Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	saltBytes, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hashBytes, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	hashLen := len(hashBytes)
	if hashLen <= 0 || hashLen > argon2KeyLen*2 {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), saltBytes, time, memory, threads, uint32(hashLen))
	return subtle.ConstantTimeCompare(hashBytes, computedHash) == 1
}
