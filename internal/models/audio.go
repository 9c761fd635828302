package models

// Default source format values reported until metadata has been loaded.
const (
	DefaultBitDepth = 32
	DefaultChannels = 2
)

// SourceFormat describes the recorded format of a clip.
type SourceFormat struct {
	SampleRate float64 `json:"sampleRate"`
	BitDepth   int     `json:"bitDepth"`
	Channels   int     `json:"channels"`
}

// Buffer is a fully decoded audio file held in memory as planar float32 samples.
type Buffer struct {
	SampleRate float64
	// Channels holds one sample slice per channel, all of the same length.
	Channels [][]float32
}

// NumChannels returns the number of channels in the buffer.
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Len returns the number of sample frames in the buffer.
func (b *Buffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / b.SampleRate
}

// WarpMarker is one anchor of the derived tempo grid.
type WarpMarker struct {
	Time  float64 `json:"time"`
	Beat  float64 `json:"beat"`
	Tempo float64 `json:"tempo"`
}
