// Package security holds the token, session, CSRF, rate-limit and audit
// primitives used by the HTTP layer. All mutable state lives behind a Store so
// a single process can run on MemoryStore while a fleet shares a RedisStore.
package security

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Store.Get when the key is absent.
var ErrNotFound = errors.New("security: key not found")

// Key prefixes used by the managers in this package.
const (
	prefixSession   = "session:"
	prefixCSRF      = "csrf:"
	prefixBlacklist = "blacklist:"
	prefixRateLimit = "ratelimit:"
)

// Store is the persistence backend for sessions, CSRF tokens, revoked tokens
// and rate-limit counters. Entries carry an absolute expiry; a backend may
// drop them on its own once that time passes, but callers still check expiry
// themselves and Sweep removes anything left behind.
type Store interface {
	// Set stores value under key until expiresAt, replacing any prior value.
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	// SetIfAbsent stores value under key only when no entry exists, as one
	// atomic step, and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte, expiresAt time.Time) (bool, error)
	// Get returns the value and its expiry, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Incr increments the fixed-window counter at key. A new window of length
	// window starts at now when the key is absent or its window has elapsed.
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
	// Sweep deletes entries under prefix whose expiry is strictly before now
	// and reports how many were removed.
	Sweep(ctx context.Context, prefix string, now time.Time) (int, error)
}

type memEntry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local Store. State is lost on restart and is not
// shared between instances.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]*memEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]*memEntry)}
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = &memEntry{value: v, expiresAt: expiresAt}
	return nil
}

// SetIfAbsent treats an entry that has expired but not yet been swept as
// present.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key string, value []byte, expiresAt time.Time) (bool, error) {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false, nil
	}
	s.m[key] = &memEntry{value: v, expiresAt: expiresAt}
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, e.expiresAt, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &memEntry{expiresAt: now.Add(window)}
		s.m[key] = e
	}
	e.count++
	return e.count, e.expiresAt, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, prefix string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.m {
		if strings.HasPrefix(k, prefix) && e.expiresAt.Before(now) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of live keys under prefix, expired or not.
func (s *MemoryStore) Len(prefix string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}
