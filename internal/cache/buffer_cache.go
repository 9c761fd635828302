package cache

import (
	"context"
	"sync"
	"time"

	"segclip/internal/logger"
	"segclip/internal/models"
)

// DefaultEvictionInterval is used when New is given a non-positive interval.
const DefaultEvictionInterval = 10 * time.Second

// ActiveKeysProvider returns the set of keys that must stay resident.
type ActiveKeysProvider func() map[string]struct{}

// BufferCache is a thread-safe in-memory cache of decoded buffers keyed by
// source path. A background worker periodically drops every entry the
// provider no longer reports as active.
type BufferCache struct {
	mutex              sync.RWMutex
	cache              map[string]*models.Buffer
	logger             logger.Logger
	activeKeysProvider ActiveKeysProvider
	interval           time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates and returns a new BufferCache.
func New(log logger.Logger, provider ActiveKeysProvider, interval time.Duration) *BufferCache {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BufferCache{
		cache:              make(map[string]*models.Buffer),
		logger:             log,
		activeKeysProvider: provider,
		interval:           interval,
		ctx:                ctx,
		cancel:             cancel,
		done:               make(chan struct{}),
	}
}

// Start begins the background eviction worker.
func (bc *BufferCache) Start() {
	bc.logger.Infof("Starting buffer cache eviction worker every %s", bc.interval)
	go bc.evictionWorker()
}

// Stop shuts down the eviction worker. It must only be called after Start.
func (bc *BufferCache) Stop() {
	bc.logger.Infof("Stopping buffer cache eviction worker...")
	bc.cancel()
	<-bc.done
}

// Set adds a buffer to the cache.
func (bc *BufferCache) Set(key string, buf *models.Buffer) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.cache[key] = buf
	bc.logger.Debugf("Cached buffer: %s, %d frames x %d channels", key, buf.Len(), buf.NumChannels())
}

// Get retrieves a buffer from the cache.
func (bc *BufferCache) Get(key string) (*models.Buffer, bool) {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	buf, found := bc.cache[key]
	return buf, found
}

// Len returns the number of cached buffers.
func (bc *BufferCache) Len() int {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return len(bc.cache)
}

func (bc *BufferCache) evictionWorker() {
	defer close(bc.done)
	ticker := time.NewTicker(bc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-bc.ctx.Done():
			bc.logger.Infof("Eviction worker stopped.")
			return
		case <-ticker.C:
			bc.RunEviction()
		}
	}
}

// RunEviction drops every buffer whose key is not active and returns how many
// were removed.
func (bc *BufferCache) RunEviction() int {
	bc.logger.Debugf("Running cache eviction...")
	activeKeys := bc.activeKeysProvider()

	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	evictedCount := 0
	for key := range bc.cache {
		if _, isActive := activeKeys[key]; !isActive {
			delete(bc.cache, key)
			evictedCount++
		}
	}

	if evictedCount > 0 {
		bc.logger.Infof("Evicted %d buffers from cache. Current cache size: %d buffers.", evictedCount, len(bc.cache))
	} else {
		bc.logger.Debugf("No buffers to evict. Current cache size: %d buffers.", len(bc.cache))
	}
	return evictedCount
}
