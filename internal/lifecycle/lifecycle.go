// Package lifecycle drives queued playback items from buffer acquisition to
// teardown, including late-start compensation against the device clock.
package lifecycle

import (
	"fmt"

	"github.com/google/uuid"

	"segclip/internal/audio"
	"segclip/internal/logger"
	"segclip/internal/metrics"
	"segclip/internal/models"
	"segclip/internal/window"
)

// State is the position of an item in its lifecycle.
type State int

const (
	Pending State = iota
	Loading
	ReadyArmed
	Playing
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Loading:
		return "LOADING"
	case ReadyArmed:
		return "READY_ARMED"
	case Playing:
		return "PLAYING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Item is one scheduled slice of a segment. Items are not safe for concurrent
// use; the owning clip serializes access.
type Item struct {
	ID          uuid.UUID
	ScheduledAt float64
	Src         string
	From        float64
	To          float64

	state         State
	inFlight      bool
	lease         audio.Lease
	player        audio.Player
	stopScheduled bool
	err           error
}

// NewItem creates a pending item playing r at device time at.
func NewItem(at float64, r models.CueRange) *Item {
	return &Item{
		ID:          uuid.New(),
		ScheduledAt: at,
		Src:         r.Src,
		From:        r.From,
		To:          r.To,
	}
}

// Duration returns the length of the slice in seconds.
func (it *Item) Duration() float64 {
	return it.To - it.From
}

// End returns the device time at which the item stops being audible.
func (it *Item) End() float64 {
	return it.ScheduledAt + it.Duration()
}

func (it *Item) State() State {
	return it.state
}

// InFlight reports whether an acquisition for the item is outstanding.
func (it *Item) InFlight() bool {
	return it.inFlight
}

// HasPlayer reports whether a player is armed for the item.
func (it *Item) HasPlayer() bool {
	return it.player != nil
}

// Err returns the last acquisition error, if any.
func (it *Item) Err() error {
	return it.err
}

// Candidate returns the window scheduler's view of the item.
func (it *Item) Candidate() window.Candidate {
	return window.Candidate{
		ScheduledAt: it.ScheduledAt,
		Duration:    it.Duration(),
		Requested:   it.state != Pending,
	}
}

// Manager applies state transitions to items. The device supplies both the
// players and the clock read for late-start compensation.
type Manager struct {
	device  audio.Device
	out     audio.Node
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewManager creates a manager connecting players to the device's master output.
func NewManager(dev audio.Device, log logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		device:  dev,
		out:     dev.Output(),
		logger:  log,
		metrics: m,
	}
}

// Begin moves a pending item to LOADING. It returns false if the item had
// already been requested.
func (m *Manager) Begin(it *Item) bool {
	if it.state != Pending {
		return false
	}
	it.state = Loading
	it.inFlight = true
	it.err = nil
	m.metrics.LoadStarted()
	return true
}

// Arm attaches the leased buffer to a new player connected to the master
// output. Repeated deliveries, or deliveries to an item that is no longer
// loading, are ignored and return false; the caller keeps the lease.
func (m *Manager) Arm(it *Item, lease audio.Lease) bool {
	if it.state != Loading || it.player != nil {
		return false
	}
	p := m.device.NewPlayer()
	p.Connect(m.out)
	p.SetBuffer(lease.Buffer())
	it.player = p
	it.lease = lease
	it.inFlight = false
	it.state = ReadyArmed
	return true
}

// Play starts an armed item. An item whose scheduled time has passed starts
// now with the missed lead-in skipped; if nothing of it is left it goes
// straight to DONE. It returns the resulting state.
func (m *Manager) Play(it *Item) State {
	if it.state != ReadyArmed {
		return it.state
	}
	now := m.device.CurrentTime()
	dur := it.Duration()
	if it.ScheduledAt >= now {
		it.player.Start(it.ScheduledAt, it.From, dur)
		it.state = Playing
		return it.state
	}

	overshoot := now - it.ScheduledAt
	if overshoot >= dur {
		m.logger.Debugf("Item %s arrived %.3fs late, past its %.3fs span. Dropping.", it.ID, overshoot, dur)
		m.metrics.Dropped()
		m.Teardown(it)
		return it.state
	}
	m.logger.Debugf("Item %s arrived %.3fs late. Starting at %.3f from %.3f.", it.ID, overshoot, now, it.From+overshoot)
	m.metrics.LateStart(overshoot)
	it.player.Start(now, it.From+overshoot, dur-overshoot)
	it.state = Playing
	return it.state
}

// Deliver arms and plays an item. A lease the item cannot take is released.
func (m *Manager) Deliver(it *Item, lease audio.Lease) State {
	if !m.Arm(it, lease) {
		lease.Release()
		return it.state
	}
	return m.Play(it)
}

// Fail records an acquisition error. The item stays LOADING without a buffer
// until the window scheduler evicts it.
func (m *Manager) Fail(it *Item, err error) {
	if it.state != Loading {
		return
	}
	it.inFlight = false
	it.err = err
	m.metrics.LoadFailed()
	m.logger.Warnf("Failed to load %s for item %s: %v", it.Src, it.ID, err)
}

// StopAt schedules the end of a playing item at device time at.
func (m *Manager) StopAt(it *Item, at float64) {
	if it.state != Playing {
		return
	}
	it.player.Stop(at)
	it.stopScheduled = true
}

// Teardown stops and disconnects the player, releases the buffer and marks the
// item DONE. A player with a scheduled stop keeps it. Calling Teardown on a
// DONE item does nothing.
func (m *Manager) Teardown(it *Item) {
	if it.state == Done {
		return
	}
	if it.player != nil {
		if it.state == Playing && !it.stopScheduled {
			it.player.Stop(m.device.CurrentTime())
		}
		it.player.Disconnect()
		it.player = nil
	}
	if it.lease != nil {
		it.lease.Release()
		it.lease = nil
	}
	it.inFlight = false
	it.state = Done
}
