package bufferstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"

	"segclip/internal/models"
)

// ErrUnsupportedFormat is returned for sources whose extension has no decoder.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

const streamBlock = 512

// Decode turns an encoded audio file into a planar float32 buffer. The codec
// is picked from the extension of name.
func Decode(name string, data []byte) (*models.Buffer, error) {
	var (
		st     beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	r := bytes.NewReader(data)
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".wav", ".wave":
		st, format, err = wav.Decode(r)
	case ".flac":
		st, format, err = flac.Decode(r)
	case ".mp3":
		st, format, err = mp3.Decode(io.NopCloser(r))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	defer st.Close()

	channels := format.NumChannels
	if channels < 1 || channels > 2 {
		channels = 2
	}
	buf := &models.Buffer{
		SampleRate: float64(format.SampleRate),
		Channels:   make([][]float32, channels),
	}
	if n := st.Len(); n > 0 {
		for c := range buf.Channels {
			buf.Channels[c] = make([]float32, 0, n)
		}
	}

	var block [streamBlock][2]float64
	for {
		n, ok := st.Stream(block[:])
		for i := 0; i < n; i++ {
			for c := range buf.Channels {
				buf.Channels[c] = append(buf.Channels[c], float32(block[i][c]))
			}
		}
		if !ok {
			break
		}
	}
	if err := st.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return buf, nil
}

// EncodeWAV writes buf as 16-bit PCM WAV. Buffers with more than two channels
// are written as their first two.
func EncodeWAV(w io.WriteSeeker, buf *models.Buffer) error {
	channels := buf.NumChannels()
	if channels < 1 {
		return errors.New("cannot encode a buffer without channels")
	}
	if channels > 2 {
		channels = 2
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(int(buf.SampleRate)),
		NumChannels: channels,
		Precision:   2,
	}
	if err := wav.Encode(w, &bufferStreamer{buf: buf}, format); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	return nil
}

// bufferStreamer plays a Buffer as a beep.Streamer. Mono buffers are
// duplicated onto both sides.
type bufferStreamer struct {
	buf *models.Buffer
	pos int
}

func (s *bufferStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	left := s.buf.Channels[0]
	right := left
	if s.buf.NumChannels() > 1 {
		right = s.buf.Channels[1]
	}
	for n < len(samples) && s.pos < len(left) {
		samples[n] = [2]float64{float64(left[s.pos]), float64(right[s.pos])}
		n++
		s.pos++
	}
	return n, n > 0
}

func (s *bufferStreamer) Err() error {
	return nil
}
