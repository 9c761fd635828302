package clip

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"segclip/internal/audio"
	"segclip/internal/models"
)

// Chunk is the audio of one resolved range as interleaved little-endian
// float32 samples at the source's own sample rate.
type Chunk struct {
	Range      models.CueRange
	SampleRate float64
	Channels   int
	Data       []byte
}

// Frames returns the number of sample frames in the chunk.
func (c Chunk) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Data) / (4 * c.Channels)
}

// Buffer deinterleaves the chunk into a planar buffer.
func (c Chunk) Buffer() *models.Buffer {
	frames := c.Frames()
	buf := &models.Buffer{SampleRate: c.SampleRate, Channels: make([][]float32, c.Channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < c.Channels; ch++ {
			off := (i*c.Channels + ch) * 4
			buf.Channels[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(c.Data[off:]))
		}
	}
	return buf
}

// Puller extracts a clip range offline, one segment at a time. It is not
// restartable and not safe for concurrent use.
type Puller struct {
	store  audio.BufferStore
	ranges []models.CueRange
	next   int
	err    error
}

// Pull returns a Puller over [offset, offset+duration) of the trimmed clip,
// resolved against the segment index as it is now.
func (c *Clip) Pull(offset, duration float64) *Puller {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return &Puller{err: ErrDestroyed}
	}
	return &Puller{store: c.store, ranges: c.cueListLocked(offset, duration)}
}

// Len returns the number of chunks the puller yields in total.
func (p *Puller) Len() int {
	return len(p.ranges)
}

// Next returns the next chunk, or io.EOF once every range has been produced.
func (p *Puller) Next(ctx context.Context) (Chunk, error) {
	if p.err != nil {
		return Chunk{}, p.err
	}
	if p.next >= len(p.ranges) {
		return Chunk{}, io.EOF
	}
	r := p.ranges[p.next]
	p.next++

	lease, err := p.store.Acquire(ctx, r.Src)
	if err != nil {
		return Chunk{}, fmt.Errorf("failed to pull %s: %w", r.Src, err)
	}
	defer lease.Release()
	return slice(r, lease.Buffer()), nil
}

// slice packs [floor(from*sr), floor(to*sr)) of every channel of buf.
func slice(r models.CueRange, buf *models.Buffer) Chunk {
	sr := buf.SampleRate
	first := clampFrame(int(math.Floor(r.From*sr)), buf.Len())
	last := clampFrame(int(math.Floor(r.To*sr)), buf.Len())
	channels := buf.NumChannels()
	if last < first {
		last = first
	}

	data := make([]byte, (last-first)*channels*4)
	off := 0
	for i := first; i < last; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint32(data[off:], math.Float32bits(buf.Channels[ch][i]))
			off += 4
		}
	}
	return Chunk{Range: r, SampleRate: sr, Channels: channels, Data: data}
}

func clampFrame(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
