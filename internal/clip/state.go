package clip

import (
	"math"
	"slices"

	"github.com/google/uuid"

	"segclip/internal/models"
)

// DurationInfo is the derived duration of a trimmed clip. Requested is zero
// when no duration was set.
type DurationInfo struct {
	Requested float64 `json:"requested"`
	Max       float64 `json:"max"`
	Resolved  float64 `json:"resolved"`
}

// State is a snapshot of the clip's observable fields.
type State struct {
	Source       string              `json:"source"`
	Path         string              `json:"path"`
	Loading      bool                `json:"loading"`
	FullDuration float64             `json:"fullDuration"`
	StartOffset  float64             `json:"startOffset"`
	Duration     DurationInfo        `json:"duration"`
	CuePoints    []float64           `json:"cuePoints"`
	Format       models.SourceFormat `json:"format"`
	Queued       int                 `json:"queued"`
	Destroyed    bool                `json:"destroyed"`
}

func (s State) equal(o State) bool {
	return s.Source == o.Source &&
		s.Path == o.Path &&
		s.Loading == o.Loading &&
		s.FullDuration == o.FullDuration &&
		s.StartOffset == o.StartOffset &&
		s.Duration == o.Duration &&
		(s.CuePoints == nil) == (o.CuePoints == nil) &&
		slices.Equal(s.CuePoints, o.CuePoints) &&
		s.Format == o.Format &&
		s.Queued == o.Queued &&
		s.Destroyed == o.Destroyed
}

// ItemInfo describes one queued playback item.
type ItemInfo struct {
	ID          uuid.UUID `json:"id"`
	ScheduledAt float64   `json:"scheduledAt"`
	Src         string    `json:"src"`
	From        float64   `json:"from"`
	To          float64   `json:"to"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
}

func (c *Clip) durationLocked() DurationInfo {
	var full float64
	if c.index != nil {
		full = c.index.FullDuration
	}
	limit := math.Max(full-c.startOffset, 0)
	resolved := limit
	if c.duration > 0 {
		resolved = math.Min(limit, c.duration)
	}
	return DurationInfo{Requested: c.duration, Max: limit, Resolved: resolved}
}

func (c *Clip) formatLocked() models.SourceFormat {
	if c.index == nil {
		return models.SourceFormat{
			SampleRate: c.device.SampleRate(),
			BitDepth:   models.DefaultBitDepth,
			Channels:   models.DefaultChannels,
		}
	}
	return models.SourceFormat{
		SampleRate: c.index.SampleRate,
		BitDepth:   models.DefaultBitDepth,
		Channels:   c.index.Channels,
	}
}

func (c *Clip) loadingLocked() bool {
	if c.loadingMeta {
		return true
	}
	for _, item := range c.queue {
		if item.InFlight() {
			return true
		}
	}
	return false
}

func (c *Clip) snapshotLocked() State {
	s := State{
		Source:      c.src,
		Path:        c.path,
		Loading:     c.loadingLocked(),
		StartOffset: c.startOffset,
		Duration:    c.durationLocked(),
		CuePoints:   slices.Clone(c.cues),
		Format:      c.formatLocked(),
		Queued:      len(c.queue),
		Destroyed:   c.destroyed,
	}
	if c.index != nil {
		s.FullDuration = c.index.FullDuration
	}
	return s
}

type notification struct {
	seq      uint64
	state    State
	watchers []func(State)
}

// unlockAndNotify recomputes the derived state, releases the lock and then
// tells the watchers if anything changed. Watchers run outside the lock and
// may call back into the clip.
func (c *Clip) unlockAndNotify() {
	s := c.snapshotLocked()
	c.metrics.SetQueue(s.Queued, s.Loading)
	if s.equal(c.last) {
		c.mu.Unlock()
		return
	}
	c.last = s
	c.seq++
	n := &notification{seq: c.seq, state: s}
	for id := 0; id < c.nextWatch; id++ {
		if fn, ok := c.watchers[id]; ok {
			n.watchers = append(n.watchers, fn)
		}
	}
	c.mu.Unlock()

	c.deliver(n)
}

// deliver hands n to the watchers in snapshot order. Only one goroutine calls
// watchers at a time; while it does, later notifications collapse into the
// newest one, and snapshots older than one already delivered are dropped.
func (c *Clip) deliver(n *notification) {
	c.notifyMu.Lock()
	if n.seq > c.delivered && (c.pending == nil || n.seq > c.pending.seq) {
		c.pending = n
	}
	if c.delivering {
		c.notifyMu.Unlock()
		return
	}
	c.delivering = true
	for c.pending != nil {
		next := c.pending
		c.pending = nil
		c.delivered = next.seq
		c.notifyMu.Unlock()
		for _, fn := range next.watchers {
			fn(next.state)
		}
		c.notifyMu.Lock()
	}
	c.delivering = false
	c.notifyMu.Unlock()
}

// Watch calls fn with a fresh snapshot whenever an observable field changes.
// The returned function stops the notifications.
func (c *Clip) Watch(fn func(State)) (release func()) {
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current observable state.
func (c *Clip) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Clip) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingLocked()
}

func (c *Clip) Duration() DurationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationLocked()
}

func (c *Clip) StartOffset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startOffset
}

// FullDuration is zero until metadata has loaded.
func (c *Clip) FullDuration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return 0
	}
	return c.index.FullDuration
}

// CuePoints returns a copy of the cue points, or nil while unresolved.
func (c *Clip) CuePoints() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.cues)
}

// Format reports the source format, defaulted until metadata has loaded.
func (c *Clip) Format() models.SourceFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formatLocked()
}

// Segments returns a copy of the segment index.
func (c *Clip) Segments() []models.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return nil
	}
	return slices.Clone(c.index.Segments)
}

// Items lists the queued playback items in queue order.
func (c *Clip) Items() []ItemInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ItemInfo, len(c.queue))
	for i, item := range c.queue {
		out[i] = ItemInfo{
			ID:          item.ID,
			ScheduledAt: item.ScheduledAt,
			Src:         item.Src,
			From:        item.From,
			To:          item.To,
			State:       item.State().String(),
		}
		if err := item.Err(); err != nil {
			out[i].Error = err.Error()
		}
	}
	return out
}
