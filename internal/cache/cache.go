package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key addresses a cache entry by document content and pipeline stage.
// Content addressing (not path addressing) is the central invariant:
// identical bytes under different names hit the same entry.
type Key struct {
	HashHex string // SHA-256 of the source file bytes
	Stage   string // e.g. "ocr:eng+tur", "render:300", "llm:<prompt-hash>"
}

func (k Key) String() string {
	return k.Stage + ":" + k.HashHex
}

type entry struct {
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

// Store is a TTL-bound, content-addressed cache shared across workers.
// Get/Set are atomic from the caller's perspective; writes are
// all-or-nothing.
type Store struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	order      *list.List // LRU order, front = most recent
	ttl        time.Duration
	maxEntries int

	group  singleflight.Group
	logger *slog.Logger

	hits   uint64
	misses uint64
}

func NewStore(ttl time.Duration, maxEntries int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Store{
		entries:    make(map[Key]*entry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Get returns the cached value for key, or (nil, false) on a miss or
// after TTL expiry.
func (s *Store) Get(key Key) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.removeLocked(key, e)
		s.misses++
		return nil, false
	}
	s.order.MoveToFront(e.elem)
	s.hits++
	return e.value, true
}

// Set stores value under key with the store TTL. Empty values are not
// cached so transient failures never poison the store.
func (s *Store) Set(key Key, value []byte) {
	if len(value) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(s.ttl)
		s.order.MoveToFront(e.elem)
		return
	}

	for len(s.entries) >= s.maxEntries {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		k := oldest.Value.(Key)
		s.removeLocked(k, s.entries[k])
	}

	e := &entry{value: value, expiresAt: time.Now().Add(s.ttl)}
	e.elem = s.order.PushFront(key)
	s.entries[key] = e
}

// Invalidate drops a single entry.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.removeLocked(key, e)
	}
}

func (s *Store) removeLocked(key Key, e *entry) {
	if e != nil && e.elem != nil {
		s.order.Remove(e.elem)
	}
	delete(s.entries, key)
}

// GetOrCompute returns the cached value, or runs compute at most once
// per key across concurrent callers and caches the result. Compute
// errors are returned, never cached.
func (s *Store) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		// Re-check: another caller may have filled the entry while we
		// were queued behind the flight.
		if v, ok := s.Get(key); ok {
			return v, nil
		}
		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stats reports hit/miss counters and the live entry count.
func (s *Store) Stats() (hits, misses uint64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses, len(s.entries)
}

// HashFile returns the hex SHA-256 of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
