package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/credential"
)

// Principal is the admin behind a resolved token.
type Principal struct {
	AdminID  int64     `json:"admin_id"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

// SessionStore keeps server-side admin sessions keyed by token id.
// Get returns nil, nil for a missing or expired entry.
type SessionStore interface {
	Put(ctx context.Context, id string, p Principal, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Principal, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local SessionStore.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	principal Principal
	expires   time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Put(_ context.Context, id string, p Principal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[id] = memoryEntry{principal: p, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, id)
		return nil, nil
	}
	p := e.principal
	return &p, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// RedisStore keeps sessions in redis as JSON with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store writing keys under "rollcall:admin:".
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "rollcall:admin:"}
}

func (r *RedisStore) Put(ctx context.Context, id string, p Principal, ttl time.Duration) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode admin session: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+id, body, ttl).Err(); err != nil {
		return fmt.Errorf("store admin session: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Principal, error) {
	body, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load admin session: %w", err)
	}
	var p Principal
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode admin session: %w", err)
	}
	return &p, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.prefix+id).Err(); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

// Sessions issues and resolves admin tokens backed by a SessionStore.
// A token is usable only while its signature is valid and its server-side
// entry exists.
type Sessions struct {
	store  SessionStore
	issuer string
	key    string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions wires token issuance to a store.
func NewSessions(store SessionStore, issuer, key string, ttl time.Duration) *Sessions {
	return &Sessions{store: store, issuer: issuer, key: key, ttl: ttl, now: time.Now}
}

// TTL is how long issued tokens live.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Login issues a token for an authenticated admin.
func (s *Sessions) Login(ctx context.Context, admin *credential.Admin) (Token, error) {
	if admin == nil {
		return Token{}, ErrUnauthenticated
	}
	now := s.now().UTC()
	tok, err := Issue(admin.ID, admin.Username, s.issuer, s.key, s.ttl, now)
	if err != nil {
		return Token{}, err
	}
	p := Principal{AdminID: admin.ID, Username: admin.Username, IssuedAt: now}
	if err := s.store.Put(ctx, tok.ID, p, s.ttl); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Resolve returns the principal for a live token, or ErrUnauthenticated.
func (s *Sessions) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := Parse(token, s.key, s.issuer)
	if err != nil {
		return Principal{}, err
	}
	p, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		return Principal{}, err
	}
	if p == nil || p.AdminID != claims.AdminID {
		return Principal{}, ErrUnauthenticated
	}
	return *p, nil
}

// Logout drops the server-side entry. Invalid tokens are ignored.
func (s *Sessions) Logout(ctx context.Context, token string) error {
	claims, err := Parse(token, s.key, s.issuer)
	if err != nil {
		return nil
	}
	return s.store.Delete(ctx, claims.ID)
}
