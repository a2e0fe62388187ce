package attendance

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrAlreadyActive   = errors.New("a session is already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one attendance window. It is created active and closed once.
type Session struct {
	ID         int64      `json:"id"`
	SecretCode string     `json:"-"`
	Active     bool       `json:"active"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// Record is a single presence event of a student in a session.
type Record struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	StudentID int64     `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CodeGenerator produces secret codes for new sessions.
type CodeGenerator func() (string, error)

// RandomCode draws a code uniformly from 100000-999999.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate secret code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}

// Manager owns the session lifecycle and keeps at most one session active.
type Manager struct {
	repo  *Repository
	codes CodeGenerator
	now   func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithCodeGenerator overrides secret code generation.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(m *Manager) { m.codes = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager backed by a repository.
func NewManager(repo *Repository, opts ...Option) *Manager {
	m := &Manager{repo: repo, codes: RandomCode, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// clock truncates to the precision Postgres keeps.
func (m *Manager) clock() time.Time { return m.now().UTC().Truncate(time.Microsecond) }

// ActiveSession returns the active session or nil.
func (m *Manager) ActiveSession(ctx context.Context) (*Session, error) {
	return m.repo.ActiveSession(ctx)
}

// Start opens a new session with a fresh secret code.
func (m *Manager) Start(ctx context.Context) (Session, error) {
	active, err := m.repo.ActiveSession(ctx)
	if err != nil {
		return Session{}, err
	}
	if active != nil {
		return Session{}, ErrAlreadyActive
	}
	code, err := m.codes()
	if err != nil {
		return Session{}, err
	}
	// Concurrent starts that pass the check above collide on the storage
	// constraint; the loser gets ErrAlreadyActive from the insert.
	return m.repo.InsertActiveSession(ctx, code, m.clock())
}

// Stop closes the active session.
func (m *Manager) Stop(ctx context.Context) (Session, error) {
	active, err := m.repo.ActiveSession(ctx)
	if err != nil {
		return Session{}, err
	}
	if active == nil {
		return Session{}, ErrNoActiveSession
	}
	end := m.clock()
	if end.Before(active.StartTime) {
		end = active.StartTime
	}
	closed, err := m.repo.CloseSession(ctx, active.ID, end)
	if err != nil {
		return Session{}, err
	}
	if !closed {
		return Session{}, ErrNoActiveSession
	}
	active.Active = false
	active.EndTime = &end
	return *active, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id int64) (Session, error) {
	return m.repo.GetSession(ctx, id)
}

// List returns up to limit sessions, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]Session, error) {
	return m.repo.ListSessions(ctx, limit)
}
