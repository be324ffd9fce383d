package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ssd-technologies/screendawg/internal/config"
	"github.com/ssd-technologies/screendawg/internal/crypto"
)

const (
	sessionCookie   = "sd_session"
	sessionIDBytes  = 32
	redisSessionKey = "screendawg:session:"
)

var ErrNoSession = errors.New("session not found")

// SessionStore keeps admin sessions server-side. The cookie only carries a
// signed session id.
type SessionStore interface {
	// Create stores a session for username and returns its id.
	Create(ctx context.Context, username string, ttl time.Duration) (string, error)
	// Lookup returns the username of a live session or ErrNoSession.
	Lookup(ctx context.Context, id string) (string, error)
	Destroy(ctx context.Context, id string) error
}

// --- In-memory store ---

type memSession struct {
	username string
	expires  time.Time
}

// MemorySessions is a SessionStore for single-instance deployments.
// Sessions do not survive a restart.
type MemorySessions struct {
	mu    sync.Mutex
	items map[string]memSession
	now   func() time.Time
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		items: make(map[string]memSession),
		now:   time.Now,
	}
}

func (m *MemorySessions) Create(ctx context.Context, username string, ttl time.Duration) (string, error) {
	id := crypto.RandomHex(sessionIDBytes)
	m.mu.Lock()
	m.items[id] = memSession{username: username, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return id, nil
}

func (m *MemorySessions) Lookup(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.items[id]
	if !ok {
		return "", ErrNoSession
	}
	if !m.now().Before(sess.expires) {
		delete(m.items, id)
		return "", ErrNoSession
	}
	return sess.username, nil
}

func (m *MemorySessions) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemorySessions) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, sess := range m.items {
		if !now.Before(sess.expires) {
			delete(m.items, id)
			n++
		}
	}
	return n
}

// --- Redis store ---

// RedisSessions keeps sessions in Redis so they survive restarts and can be
// shared by several instances. Expiry is left to Redis.
type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(cfg config.RedisConfig) *RedisSessions {
	return &RedisSessions{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Ping checks the connection; call it once at startup.
func (rs *RedisSessions) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (rs *RedisSessions) Create(ctx context.Context, username string, ttl time.Duration) (string, error) {
	id := crypto.RandomHex(sessionIDBytes)
	if err := rs.client.Set(ctx, redisSessionKey+id, username, ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

func (rs *RedisSessions) Lookup(ctx context.Context, id string) (string, error) {
	username, err := rs.client.Get(ctx, redisSessionKey+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return username, nil
}

func (rs *RedisSessions) Destroy(ctx context.Context, id string) error {
	if err := rs.client.Del(ctx, redisSessionKey+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (rs *RedisSessions) Close() error {
	return rs.client.Close()
}

// --- Cookie signing ---

func sessionMAC(secret, id string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// signSession builds the cookie value "<id>.<mac>".
func signSession(secret, id string) string {
	return id + "." + sessionMAC(secret, id)
}

// verifySession returns the session id of a cookie value whose signature
// matches secret.
func verifySession(secret, value string) (string, bool) {
	id, mac, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(mac), []byte(sessionMAC(secret, id))) {
		return "", false
	}
	return id, true
}
