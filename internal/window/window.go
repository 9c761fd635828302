// Package window decides, once per scheduling tick, which queued playback
// items must start loading and which can be evicted.
package window

import (
	"segclip/internal/audio"
)

// DefaultPreloadMargin is the lead and grace time, in seconds, around an item's
// audible span.
const DefaultPreloadMargin = 5.0

// Candidate is the scheduler's view of one queued item.
type Candidate struct {
	ScheduledAt float64
	Duration    float64
	// Requested is set once a buffer acquisition has been issued for the item,
	// whether or not it has completed or succeeded.
	Requested bool
}

// End returns the time the item stops being audible.
func (c Candidate) End() float64 {
	return c.ScheduledAt + c.Duration
}

// Decision lists queue indices to act on, in ascending order.
type Decision struct {
	Load  []int
	Evict []int
}

// Empty reports whether the decision requires no work.
func (d Decision) Empty() bool {
	return len(d.Load) == 0 && len(d.Evict) == 0
}

// Plan evaluates every candidate against the window. Decisions are independent
// per item and are all computed before any of them is applied.
func Plan(cands []Candidate, w audio.Window, margin float64) Decision {
	var d Decision
	for i, c := range cands {
		switch {
		case !c.Requested && c.ScheduledAt-margin <= w.Start:
			d.Load = append(d.Load, i)
		case c.End()+margin <= w.End() && c.End() <= w.Start:
			d.Evict = append(d.Evict, i)
		}
	}
	return d
}

// Compact removes the items at the given ascending indices in a single pass,
// preserving the order of the rest. The backing array of items is reused.
func Compact[T any](items []T, remove []int) []T {
	if len(remove) == 0 {
		return items
	}
	out := items[:0]
	next := 0
	for i, item := range items {
		if next < len(remove) && remove[next] == i {
			next++
			continue
		}
		out = append(out, item)
	}
	var zero T
	for i := len(out); i < len(items); i++ {
		items[i] = zero
	}
	return out
}
