package device

import (
	"sort"
	"sync"
	"time"

	"segclip/internal/audio"
)

// Clock is the part of a device a driver reads.
type Clock interface {
	CurrentTime() float64
}

// Ticker is an audio.Driver that reports [now, now+lookahead) of the clock on
// every interval of wall time.
type Ticker struct {
	clock     Clock
	interval  time.Duration
	lookahead float64
}

// NewTicker creates a wall-clock driver over clock.
func NewTicker(clock Clock, interval, lookahead time.Duration) *Ticker {
	return &Ticker{clock: clock, interval: interval, lookahead: lookahead.Seconds()}
}

// Register starts delivering windows to fn until the returned function is
// called.
func (t *Ticker) Register(fn func(audio.Window)) (release func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn(audio.Window{Start: t.clock.CurrentTime(), Length: t.lookahead})
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Manual is an audio.Driver ticked explicitly, used for offline rendering and
// tests.
type Manual struct {
	mu    sync.Mutex
	next  int
	funcs map[int]func(audio.Window)
}

// NewManual creates a driver with no registrations.
func NewManual() *Manual {
	return &Manual{funcs: make(map[int]func(audio.Window))}
}

func (m *Manual) Register(fn func(audio.Window)) (release func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.funcs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.funcs, id)
		m.mu.Unlock()
	}
}

// Registered returns the number of live registrations.
func (m *Manual) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.funcs)
}

// Tick delivers w to every registered callback, in registration order.
func (m *Manual) Tick(w audio.Window) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.funcs))
	for id := range m.funcs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Ints(ids)
	for _, id := range ids {
		m.mu.Lock()
		fn, ok := m.funcs[id]
		m.mu.Unlock()
		if ok {
			fn(w)
		}
	}
}
