// Package audio declares the collaborators the scheduler consumes: the audio
// device and its players, the clock driver, the buffer store and the file reader.
package audio

import (
	"context"

	"segclip/internal/models"
)

// Window is the upcoming audible range handed to the scheduler on every tick.
type Window struct {
	Start  float64
	Length float64
}

// End returns the exclusive end of the window.
func (w Window) End() float64 {
	return w.Start + w.Length
}

// Driver delivers periodic scheduling windows. Register returns a function that
// unregisters the callback.
type Driver interface {
	Register(fn func(Window)) (release func())
}

// Node is an audio graph node a player can be connected to.
type Node interface{}

// Player plays one buffer once.
type Player interface {
	Connect(out Node)
	SetBuffer(buf *models.Buffer)
	// Start schedules playback at device time at, reading duration seconds
	// from offset within the buffer.
	Start(at, offset, duration float64)
	// Stop schedules the end of playback at device time at.
	Stop(at float64)
	Disconnect()
}

// Device is the audio engine the clip plays through.
type Device interface {
	SampleRate() float64
	CurrentTime() float64
	// Output is the master gain node players connect to.
	Output() Node
	NewPlayer() Player
}

// Lease is a reference to a decoded buffer. The buffer stays resident until
// every lease on it is released.
type Lease interface {
	Buffer() *models.Buffer
	Release()
}

// BufferStore yields decoded buffers for source references.
type BufferStore interface {
	Acquire(ctx context.Context, src string) (Lease, error)
}

// FileReader reads whole files. Text reads are string(data).
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}
