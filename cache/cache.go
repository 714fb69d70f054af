/*
Package cache implements the Bundle Engine's shared Cache Store: an
in-memory LRU of recent index-query responses backed by a content-addressed
on-disk store, per spec.md §3's CacheEntry model and §4.2's "an index query
is consulted at most once per unique key per session" rule.

The in-memory layer is golang/groupcache's lru.Cache, a small
battle-tested LRU with none of groupcache's distributed-cache machinery;
using it here is grounded on the same "borrow exactly the piece you need"
principle the example pack applies elsewhere. Concurrent callers asking for
the same uncached key are deduplicated with golang.org/x/sync/singleflight,
so two adapters racing to fetch the same repodata.json only hit the network
once.
*/
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"bundle.dev/core/logging"
)

var log = logging.For("cache")

// TTL policy constants, per spec.md §4.2's cache freshness rules: mutable
// index endpoints (dist-tags, "latest", repodata) expire after an hour,
// immutable ones after a day.
const (
	MutableTTL   = time.Hour
	ImmutableTTL = 24 * time.Hour
)

// entry is what's held both in memory and, serialized, on disk.
type entry struct {
	Body      []byte
	FetchedAt time.Time
	TTL       time.Duration // 0 means never expires
}

func (e entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.FetchedAt) > e.TTL
}

// Store is the shared cache. Zero value is not usable; use New.
type Store struct {
	dir string

	mu  sync.Mutex
	mem *lru.Cache

	sf singleflight.Group

	hits, misses int64
}

// New creates a Store rooted at dir (created if absent), keeping up to
// memEntries recent responses in memory.
func New(dir string, memEntries int) (*Store, error) {
	if memEntries <= 0 {
		memEntries = 512
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}
	return &Store{dir: dir, mem: lru.New(memEntries)}, nil
}

// Key is a stable digest of the cache key components, per spec.md §3:
// "(ecosystem, endpoint, query parameters, platform-profile fingerprint)"
// for index responses, or "(ecosystem, name, version, architecture)" for
// artifacts.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		io.WriteString(h, p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached body for key if present and unexpired.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	if v, ok := s.mem.Get(key); ok {
		e := v.(entry)
		s.mu.Unlock()
		if !e.expired(time.Now()) {
			s.hits++
			return e.Body, true
		}
		s.mu.Lock()
		s.mem.Remove(key)
		s.mu.Unlock()
		return nil, false
	}
	s.mu.Unlock()

	e, ok, err := s.readDisk(key)
	if err != nil || !ok {
		s.misses++
		return nil, false
	}
	if e.expired(time.Now()) {
		s.misses++
		return nil, false
	}
	s.mu.Lock()
	s.mem.Add(key, e)
	s.mu.Unlock()
	s.hits++
	return e.Body, true
}

// Put stores body under key with the given TTL (0 = never expires),
// writing through to disk via a temp-file-then-rename for crash safety.
func (s *Store) Put(key string, body []byte, ttl time.Duration) error {
	e := entry{Body: body, FetchedAt: time.Now(), TTL: ttl}
	s.mu.Lock()
	s.mem.Add(key, e)
	s.mu.Unlock()
	return s.writeDisk(key, e)
}

// GetOrFetch returns the cached body for key, or calls fetch exactly once
// across all concurrent callers and caches its result, per spec.md §4.2.
func (s *Store) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if body, ok := s.Get(key); ok {
		return body, nil
	}
	v, err, _ := s.sf.Do(key, func() (any, error) {
		if body, ok := s.Get(key); ok {
			return body, nil
		}
		body, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Put(key, body, ttl); err != nil {
			log.Warnf("cache put %s: %v", key, err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Clear removes every cache entry, per the rpc "cache.clear" operation
// (spec.md §6).
func (s *Store) Clear() error {
	s.mu.Lock()
	s.mem = lru.New(s.mem.MaxEntries)
	s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Stats is the rpc "cache.stats" payload (spec.md §6).
type Stats struct {
	Hits       int64
	Misses     int64
	DiskBytes  int64
	EntryCount int
}

// Stats reports cache hit/miss counters and on-disk usage.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	stats := Stats{Hits: s.hits, Misses: s.misses}
	s.mu.Unlock()

	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.DiskBytes += info.Size()
		stats.EntryCount++
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return stats, err
	}
	return stats, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key[:2], key+".entry")
}

func (s *Store) readDisk(key string) (entry, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	return decodeEntry(data)
}

func (s *Store) writeDisk(key string, e entry) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encodeEntry(e)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// encodeEntry/decodeEntry use a tiny fixed framing (8-byte unix-nano
// timestamp, 8-byte TTL-nanoseconds, then the raw body) rather than a
// generic serialization format, since the cache never stores anything but
// opaque bytes plus two timestamps.
func encodeEntry(e entry) []byte {
	var buf bytes.Buffer
	var head [16]byte
	putInt64(head[0:8], e.FetchedAt.UnixNano())
	putInt64(head[8:16], int64(e.TTL))
	buf.Write(head[:])
	buf.Write(e.Body)
	return buf.Bytes()
}

func decodeEntry(data []byte) (entry, bool, error) {
	if len(data) < 16 {
		return entry{}, false, fmt.Errorf("cache: corrupt entry (%d bytes)", len(data))
	}
	fetchedAt := getInt64(data[0:8])
	ttl := getInt64(data[8:16])
	return entry{
		Body:      data[16:],
		FetchedAt: time.Unix(0, fetchedAt),
		TTL:       time.Duration(ttl),
	}, true, nil
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getInt64(b []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v |= int64(b[i]) << (8 * i)
	}
	return v
}
