package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/store"
)

// MinPasswordLength is the shortest accepted new password, in characters.
const MinPasswordLength = 6

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

var (
	ErrWrongPassword    = errors.New("current password is incorrect")
	ErrPasswordTooShort = fmt.Errorf("new password must be at least %d characters", MinPasswordLength)
	ErrPasswordTooLong  = fmt.Errorf("new password must be at most %d bytes", maxPasswordBytes)
	ErrAdminNotFound    = errors.New("admin not found")
)

// Admin is an account allowed to run sessions.
type Admin struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// Store keeps admin credentials.
type Store struct {
	db   *store.DB
	cost int
	// dummyHash is compared against when the username is unknown so both
	// failure modes spend a bcrypt comparison.
	dummyHash []byte
}

// NewStore creates a credential store hashing with the given bcrypt cost.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func NewStore(db *store.DB, cost int) (*Store, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("rollcall-unknown-admin"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Store{db: db, cost: cost, dummyHash: dummy}, nil
}

// Authenticate returns the admin when username and password match, and nil
// otherwise. Unknown usernames and wrong passwords are indistinguishable.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*Admin, error) {
	admin, err := s.byUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if admin == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return admin, nil
}

// ChangePassword replaces the admin's password after verifying the current
// one against the stored hash.
func (s *Store) ChangePassword(ctx context.Context, adminID int64, current, next string) error {
	admin, err := s.ByID(ctx, adminID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(current)) != nil {
		return ErrWrongPassword
	}
	if utf8.RuneCountInString(next) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(next) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	query, args, err := s.db.Builder().Update("admins").
		Set("password_hash", string(hash)).
		Where(squirrel.Eq{"id": admin.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build password update: %w", err)
	}
	if _, err := s.db.Client.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// EnsureBootstrap creates the admin account when it does not exist yet. An
// existing account keeps its password.
func (s *Store) EnsureBootstrap(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, errors.New("bootstrap username required")
	}
	existing, err := s.byUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return false, fmt.Errorf("hash bootstrap password: %w", err)
	}
	query, args, err := s.db.Builder().Insert("admins").
		Columns("username", "password_hash").
		Values(username, string(hash)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build admin insert: %w", err)
	}
	if _, err := s.db.Client.ExecContext(ctx, query, args...); err != nil {
		if store.IsUniqueViolation(err) {
			// Another process bootstrapped first.
			return false, nil
		}
		return false, fmt.Errorf("insert admin: %w", err)
	}
	return true, nil
}

// ByID loads an admin by id.
func (s *Store) ByID(ctx context.Context, id int64) (*Admin, error) {
	admin, err := s.one(ctx, squirrel.Eq{"id": id})
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrAdminNotFound
	}
	return admin, nil
}

func (s *Store) byUsername(ctx context.Context, username string) (*Admin, error) {
	if username == "" {
		return nil, nil
	}
	return s.one(ctx, squirrel.Eq{"username": username})
}

func (s *Store) one(ctx context.Context, where squirrel.Eq) (*Admin, error) {
	query, args, err := s.db.Builder().Select("id", "username", "password_hash").
		From("admins").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build admin lookup: %w", err)
	}
	var a Admin
	if err := s.db.Client.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Username, &a.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup admin: %w", err)
	}
	return &a, nil
}
