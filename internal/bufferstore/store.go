// Package bufferstore decodes audio sources on demand and hands out
// reference-counted leases on the decoded buffers. Buffers no longer leased
// are dropped by the cache's eviction worker.
package bufferstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"segclip/internal/audio"
	"segclip/internal/cache"
	"segclip/internal/logger"
	"segclip/internal/models"
)

// DefaultReadTimeout bounds a shared read and decode.
const DefaultReadTimeout = 30 * time.Second

// Store is an audio.BufferStore over a FileReader.
type Store struct {
	reader      audio.FileReader
	logger      logger.Logger
	cache       *cache.BufferCache
	group       singleflight.Group
	readTimeout time.Duration

	mu   sync.Mutex
	refs map[string]int
}

// New creates a store. Unleased buffers are evicted every evictionInterval
// once Start has been called.
func New(reader audio.FileReader, log logger.Logger, evictionInterval time.Duration) *Store {
	s := &Store{
		reader:      reader,
		logger:      log,
		readTimeout: DefaultReadTimeout,
		refs:        make(map[string]int),
	}
	s.cache = cache.New(log, s.activeKeys, evictionInterval)
	return s
}

// Start begins background eviction.
func (s *Store) Start() {
	s.cache.Start()
}

// Stop ends background eviction.
func (s *Store) Stop() {
	s.cache.Stop()
}

// Evict drops every unleased buffer now and returns how many were dropped.
func (s *Store) Evict() int {
	return s.cache.RunEviction()
}

// Cached returns the number of resident buffers.
func (s *Store) Cached() int {
	return s.cache.Len()
}

// Leases returns the number of outstanding leases on src.
func (s *Store) Leases(src string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[src]
}

// Acquire returns a lease on the decoded buffer of src. Concurrent requests
// for the same source share one read and decode. The shared read is not tied
// to any one caller's context: a caller that gives up gets ctx.Err() while the
// others keep waiting.
func (s *Store) Acquire(ctx context.Context, src string) (audio.Lease, error) {
	s.retain(src)
	if buf, ok := s.cache.Get(src); ok {
		return &lease{store: s, key: src, buf: buf}, nil
	}

	ch := s.group.DoChan(src, func() (interface{}, error) {
		if buf, ok := s.cache.Get(src); ok {
			return buf, nil
		}
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()
		data, err := s.reader.ReadFile(readCtx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		buf, err := Decode(src, data)
		if err != nil {
			return nil, err
		}
		s.cache.Set(src, buf)
		return buf, nil
	})

	select {
	case <-ctx.Done():
		s.release(src)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.release(src)
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debugf("Shared decode of %s", src)
		}
		return &lease{store: s, key: src, buf: res.Val.(*models.Buffer)}, nil
	}
}

func (s *Store) retain(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[key]++
}

func (s *Store) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[key] <= 1 {
		delete(s.refs, key)
		return
	}
	s.refs[key]--
}

func (s *Store) activeKeys() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make(map[string]struct{}, len(s.refs))
	for k := range s.refs {
		keys[k] = struct{}{}
	}
	return keys
}

type lease struct {
	store *Store
	key   string
	buf   *models.Buffer
	once  sync.Once
}

func (l *lease) Buffer() *models.Buffer {
	return l.buf
}

// Release gives the reference back. Only the first call has an effect.
func (l *lease) Release() {
	l.once.Do(func() { l.store.release(l.key) })
}
