// Package device provides an in-process audio device for running clips
// without a sound card: players record what they were asked to do and the
// whole graph can be rendered offline into a buffer.
package device

import (
	"math"
	"sync"
	"time"

	"segclip/internal/audio"
	"segclip/internal/models"
)

// Gain is the master output node of a Virtual device.
type Gain struct {
	mu    sync.RWMutex
	value float64
}

// Value returns the current gain factor.
func (g *Gain) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// SetValue changes the gain factor applied at render time.
func (g *Gain) SetValue(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Virtual is an audio.Device whose clock is either set by hand or follows the
// wall clock.
type Virtual struct {
	mu       sync.Mutex
	rate     float64
	now      float64
	origin   time.Time
	realtime bool
	out      *Gain
	players  []*Player
}

// NewVirtual creates a device with a manual clock starting at zero.
func NewVirtual(sampleRate float64) *Virtual {
	return &Virtual{rate: sampleRate, out: &Gain{value: 1}}
}

// NewRealtime creates a device whose clock advances with the wall clock from
// the moment it is created.
func NewRealtime(sampleRate float64) *Virtual {
	v := NewVirtual(sampleRate)
	v.realtime = true
	v.origin = time.Now()
	return v
}

func (v *Virtual) SampleRate() float64 {
	return v.rate
}

// CurrentTime returns the device clock in seconds.
func (v *Virtual) CurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.realtime {
		return v.now + time.Since(v.origin).Seconds()
	}
	return v.now
}

// SetTime moves a manual clock to t. It is ignored on realtime devices.
func (v *Virtual) SetTime(t float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.realtime {
		v.now = t
	}
}

// Advance moves a manual clock forward by d seconds.
func (v *Virtual) Advance(d float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.realtime {
		v.now += d
	}
}

// Output returns the master gain node.
func (v *Virtual) Output() audio.Node {
	return v.out
}

// Gain returns the master gain node with its concrete type.
func (v *Virtual) Gain() *Gain {
	return v.out
}

// NewPlayer creates a player owned by the device.
func (v *Virtual) NewPlayer() audio.Player {
	p := &Player{}
	v.mu.Lock()
	v.players = append(v.players, p)
	v.mu.Unlock()
	return p
}

// Players returns every player created so far, in creation order.
func (v *Virtual) Players() []*Player {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Player, len(v.players))
	copy(out, v.players)
	return out
}

// Render mixes every started player into a buffer covering [from, to) of
// device time at the device sample rate and the given channel count. Source
// buffers with another rate are read at the nearest sample.
func (v *Virtual) Render(from, to float64, channels int) *models.Buffer {
	frames := 0
	if to > from {
		frames = int(math.Round((to - from) * v.rate))
	}
	out := &models.Buffer{SampleRate: v.rate, Channels: make([][]float32, channels)}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	gain := float32(v.out.Value())
	for _, p := range v.Players() {
		p.mix(out, from, gain)
	}
	return out
}

// EventKind names a call recorded by a Player.
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventStart      EventKind = "start"
	EventStop       EventKind = "stop"
	EventDisconnect EventKind = "disconnect"
)

// Event is one recorded player call.
type Event struct {
	Kind     EventKind
	At       float64
	Offset   float64
	Duration float64
}

// Player is the audio.Player of a Virtual device.
type Player struct {
	mu        sync.Mutex
	buf       *models.Buffer
	connected bool
	events    []Event
}

func (p *Player) record(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *Player) Connect(out audio.Node) {
	p.mu.Lock()
	p.connected = out != nil
	p.mu.Unlock()
	p.record(Event{Kind: EventConnect})
}

func (p *Player) SetBuffer(buf *models.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = buf
}

func (p *Player) Start(at, offset, duration float64) {
	p.record(Event{Kind: EventStart, At: at, Offset: offset, Duration: duration})
}

func (p *Player) Stop(at float64) {
	p.record(Event{Kind: EventStop, At: at})
}

func (p *Player) Disconnect() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.record(Event{Kind: EventDisconnect})
}

// Events returns a copy of the recorded calls.
func (p *Player) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Buffer returns the attached buffer.
func (p *Player) Buffer() *models.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf
}

// Connected reports whether the player is attached to an output.
func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Span returns the device-time range the player is audible for, taking the
// earliest stop into account. ok is false if the player was never started.
func (p *Player) Span() (start, end, offset float64, ok bool) {
	end = math.Inf(1)
	for _, e := range p.Events() {
		switch e.Kind {
		case EventStart:
			if ok {
				continue
			}
			start, offset, ok = e.At, e.Offset, true
			end = math.Min(end, e.At+e.Duration)
		case EventStop:
			end = math.Min(end, e.At)
		}
	}
	return start, end, offset, ok
}

func (p *Player) mix(out *models.Buffer, from float64, gain float32) {
	buf := p.Buffer()
	start, end, offset, ok := p.Span()
	if !ok || buf == nil || buf.SampleRate <= 0 || end <= start {
		return
	}
	first := int(math.Ceil((start - from) * out.SampleRate))
	last := int(math.Ceil((end - from) * out.SampleRate))
	if first < 0 {
		first = 0
	}
	if last > out.Len() {
		last = out.Len()
	}
	for c := 0; c < out.NumChannels(); c++ {
		src := buf.Channels[c%buf.NumChannels()]
		dst := out.Channels[c]
		for i := first; i < last; i++ {
			t := from + float64(i)/out.SampleRate - start + offset
			j := int(math.Round(t * buf.SampleRate))
			if j < 0 || j >= len(src) {
				continue
			}
			dst[i] += src[j] * gain
		}
	}
}
