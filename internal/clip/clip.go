// Package clip is the facade over one timeline clip: it loads the clip's
// segment metadata and cue points, queues playback items on Start, runs the
// window scheduler on every driver tick and applies buffer-load results.
//
// Driver ticks, load completions and API calls are serialized by one mutex,
// which acts as the clip's single logical timeline. No method blocks on I/O
// except SetSource, which waits for the metadata read.
package clip

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"segclip/internal/audio"
	"segclip/internal/lifecycle"
	"segclip/internal/loader"
	"segclip/internal/logger"
	"segclip/internal/metrics"
	"segclip/internal/models"
	"segclip/internal/segment"
	"segclip/internal/tempo"
	"segclip/internal/window"
)

// ErrDestroyed is returned by operations on a destroyed clip.
var ErrDestroyed = errors.New("clip destroyed")

// Remaining, passed as a duration, extends a range to the end of the clip.
var Remaining = math.Inf(1)

// CueSuffix is appended to the clip path to locate its cue point blob.
const CueSuffix = ".time"

const resultBuffer = 64

// Resolver maps a source reference to a concrete path or URL.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// Options configures a Clip. Device, Driver, Store, Reader, Resolver and
// Logger are required.
type Options struct {
	Device   audio.Device
	Driver   audio.Driver
	Store    audio.BufferStore
	Reader   audio.FileReader
	Resolver Resolver
	Logger   logger.Logger
	Metrics  *metrics.Metrics

	// PreloadMargin is the lead and grace time around each item, in seconds.
	PreloadMargin float64
	LoadWorkers   int
	LoadTimeout   time.Duration
}

// Clip is one timeline clip bound to a device.
type Clip struct {
	mu sync.Mutex

	device   audio.Device
	store    audio.BufferStore
	reader   audio.FileReader
	resolver Resolver
	logger   logger.Logger
	metrics  *metrics.Metrics
	margin   float64

	manager *lifecycle.Manager
	loader  *loader.Loader
	results chan loader.Result
	release func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	src         string
	path        string
	generation  uint64
	index       *segment.Index
	startOffset float64
	duration    float64
	cues        []float64
	loadingMeta bool
	queue       []*lifecycle.Item
	destroyed   bool

	watchers  map[int]func(State)
	nextWatch int
	last      State
	seq       uint64

	// notifyMu orders deliveries; pending holds the newest undelivered
	// notification while another goroutine is calling the watchers.
	notifyMu   sync.Mutex
	pending    *notification
	delivered  uint64
	delivering bool
}

// New creates a clip, registers it with the driver and starts its loader.
func New(opts Options) (*Clip, error) {
	switch {
	case opts.Device == nil:
		return nil, errors.New("clip: device is required")
	case opts.Driver == nil:
		return nil, errors.New("clip: driver is required")
	case opts.Store == nil:
		return nil, errors.New("clip: buffer store is required")
	case opts.Reader == nil:
		return nil, errors.New("clip: file reader is required")
	case opts.Resolver == nil:
		return nil, errors.New("clip: resolver is required")
	case opts.Logger == nil:
		return nil, errors.New("clip: logger is required")
	}
	margin := opts.PreloadMargin
	if margin < 0 {
		margin = window.DefaultPreloadMargin
	}

	log := logger.Component(opts.Logger, "clip")
	ctx, cancel := context.WithCancel(context.Background())
	c := &Clip{
		device:   opts.Device,
		store:    opts.Store,
		reader:   opts.Reader,
		resolver: opts.Resolver,
		logger:   log,
		metrics:  opts.Metrics,
		margin:   margin,
		manager:  lifecycle.NewManager(opts.Device, log, opts.Metrics),
		loader:   loader.New(opts.Store, log, opts.LoadWorkers, opts.LoadTimeout),
		results:  make(chan loader.Result, resultBuffer),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[int]func(State)),
	}
	c.last = c.snapshotLocked()

	c.wg.Add(1)
	go c.resultLoop()
	c.release = opts.Driver.Register(c.Tick)
	return c, nil
}

// SetSource points the clip at a new metadata file and loads it. Cue points
// are cleared and fetched in the background. Items queued for the previous
// source are evicted. A read or parse error is returned after the loading
// flag is cleared and leaves the previous segment index in place.
func (c *Clip) SetSource(ctx context.Context, src string) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	path, err := c.resolver.Resolve(src)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to resolve source %q: %w", src, err)
	}
	c.generation++
	gen := c.generation
	c.src = src
	c.path = path
	c.cues = nil
	c.loadingMeta = true
	c.evictLocked(nil)
	c.wg.Add(1)
	c.unlockAndNotify()

	go c.fetchCues(gen, path)

	idx, err := c.loadIndex(ctx, path)
	c.metrics.MetadataLoaded(err)

	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.destroyed {
		return ErrDestroyed
	}
	if gen != c.generation {
		c.logger.Debugf("Discarding metadata of superseded source %s", path)
		return nil
	}
	c.loadingMeta = false
	if err != nil {
		c.logger.Errorf("Failed to load clip metadata %s: %v", path, err)
		return fmt.Errorf("failed to load clip metadata %s: %w", path, err)
	}
	c.index = idx
	c.logger.Infof("Loaded %s: %d segments, %.3fs at %vHz", path, len(idx.Segments), idx.FullDuration, idx.SampleRate)
	return nil
}

func (c *Clip) loadIndex(ctx context.Context, path string) (*segment.Index, error) {
	data, err := c.reader.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	idx, err := segment.Load(data, c.device.SampleRate())
	if err != nil {
		return nil, err
	}
	for i := range idx.Segments {
		resolved, err := c.resolver.Resolve(idx.Segments[i].Src)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		idx.Segments[i].Src = resolved
	}
	return idx, nil
}

func (c *Clip) fetchCues(gen uint64, path string) {
	defer c.wg.Done()

	data, err := c.reader.ReadFile(c.ctx, path+CueSuffix)
	var cues []float64
	if err == nil {
		cues, err = tempo.DecodeCues(data)
	}
	if err != nil {
		c.logger.Warnf("Cue points unavailable for %s: %v", path, err)
		return
	}

	c.mu.Lock()
	defer c.unlockAndNotify()
	if gen != c.generation || c.destroyed {
		return
	}
	c.cues = cues
	c.logger.Debugf("Loaded %d cue points for %s", len(cues), path)
}

// SetStartOffset trims the start of the clip. Negative values are treated as 0.
func (c *Clip) SetStartOffset(v float64) {
	c.mu.Lock()
	defer c.unlockAndNotify()
	c.startOffset = math.Max(v, 0)
}

// SetDuration requests a playable duration. Zero, negative, or values larger
// than the maximum all resolve to the maximum.
func (c *Clip) SetDuration(v float64) {
	c.mu.Lock()
	defer c.unlockAndNotify()
	c.duration = math.Max(v, 0)
}

// CueList resolves [offset, offset+duration) of the trimmed clip to
// source-local ranges. Use Remaining to reach the end of the clip.
func (c *Clip) CueList(offset, duration float64) []models.CueRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cueListLocked(offset, duration)
}

func (c *Clip) cueListLocked(offset, duration float64) []models.CueRange {
	resolved := c.durationLocked().Resolved
	start := math.Max(offset, 0)
	end := math.Min(offset+duration, resolved)
	if math.IsNaN(start) || math.IsNaN(end) || !(end > start) {
		return nil
	}
	return c.index.Resolve(start+c.startOffset, end+c.startOffset)
}

// Start queues one playback item per segment touched by [offset,
// offset+duration), the first playing at device time at and each following
// one when its predecessor ends. It returns the number of items queued.
func (c *Clip) Start(at, offset, duration float64) int {
	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.destroyed {
		return 0
	}

	ranges := c.cueListLocked(offset, duration)
	t := at
	for _, r := range ranges {
		item := lifecycle.NewItem(t, r)
		c.queue = append(c.queue, item)
		t += r.Duration()
	}
	c.metrics.Queued(len(ranges))
	if len(ranges) > 0 {
		c.logger.Debugf("Queued %d items at %.3f for [%.3f, +%.3f)", len(ranges), at, offset, duration)
	}
	return len(ranges)
}

// Tick runs one window scheduler pass. It is the callback registered with the
// driver and may also be called directly.
func (c *Clip) Tick(w audio.Window) {
	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.destroyed || len(c.queue) == 0 {
		return
	}

	cands := make([]window.Candidate, len(c.queue))
	for i, item := range c.queue {
		cands[i] = item.Candidate()
	}
	d := window.Plan(cands, w, c.margin)
	if d.Empty() {
		return
	}

	for _, i := range d.Load {
		item := c.queue[i]
		if !c.manager.Begin(item) {
			continue
		}
		err := c.loader.Queue(loader.Task{
			ItemID:     item.ID,
			Generation: c.generation,
			Src:        item.Src,
			Result:     c.results,
		})
		if err != nil {
			c.manager.Fail(item, err)
		}
	}
	for _, i := range d.Evict {
		c.manager.Teardown(c.queue[i])
	}
	c.queue = window.Compact(c.queue, d.Evict)
	c.metrics.Evicted(len(d.Evict))
}

func (c *Clip) resultLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case res := <-c.results:
			c.handleResult(res)
		}
	}
}

// handleResult applies a load result only if its item is still current.
// Anything else is released and dropped.
func (c *Clip) handleResult(res loader.Result) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	item := c.findLocked(res)
	if item == nil {
		c.metrics.StaleResult()
		if res.Lease != nil {
			res.Lease.Release()
		}
		c.logger.Debugf("Discarding stale load result for item %s", res.Task.ItemID)
		return
	}
	if res.Err != nil {
		c.manager.Fail(item, res.Err)
		return
	}
	c.manager.Deliver(item, res.Lease)
}

func (c *Clip) findLocked(res loader.Result) *lifecycle.Item {
	if c.destroyed || res.Task.Generation != c.generation {
		return nil
	}
	for _, item := range c.queue {
		if item.ID == res.Task.ItemID {
			if item.State() != lifecycle.Loading || item.HasPlayer() {
				return nil
			}
			return item
		}
	}
	return nil
}

// Stop ends every queued item still audible after device time at: playing
// players are told to stop at at, and the items are evicted.
func (c *Clip) Stop(at float64) {
	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.destroyed {
		return
	}
	c.evictLocked(func(item *lifecycle.Item) bool {
		if item.End() <= at {
			return false
		}
		c.manager.StopAt(item, at)
		return true
	})
}

// evictLocked tears down and removes the items selector returns true for, or
// every item when selector is nil.
func (c *Clip) evictLocked(selector func(*lifecycle.Item) bool) {
	var remove []int
	for i, item := range c.queue {
		if selector != nil && !selector(item) {
			continue
		}
		c.manager.Teardown(item)
		remove = append(remove, i)
	}
	c.queue = window.Compact(c.queue, remove)
	c.metrics.Evicted(len(remove))
}

// Destroy unregisters the clip from its driver, evicts every item and stops
// background work. Later load results are released unapplied. Destroy is
// idempotent.
func (c *Clip) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.generation++
	c.release()
	c.evictLocked(nil)
	c.loadingMeta = false
	c.unlockAndNotify()

	c.cancel()
	c.loader.Stop()
	c.wg.Wait()
	for {
		select {
		case res := <-c.results:
			if res.Lease != nil {
				res.Lease.Release()
			}
		default:
			c.logger.Debugf("Clip %s destroyed", c.path)
			return
		}
	}
}

// WarpMarkers derives the tempo grid from the current cue points, shifted by
// offset. It is empty while cue points are unresolved.
func (c *Clip) WarpMarkers(offset float64) []models.WarpMarker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tempo.WarpMarkers(c.cues, offset)
}
