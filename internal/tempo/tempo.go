// Package tempo derives a tempo grid from cue points. Cues come in pairs; each
// pair (cue[2k], cue[2k+1]) measures one beat interval.
package tempo

import (
	"encoding/binary"
	"fmt"
	"math"

	"segclip/internal/models"
)

// minCues is the shortest cue sequence that carries a usable tempo.
const minCues = 4

// DecodeCues reads a blob of little-endian float32 timestamps.
func DecodeCues(blob []byte) ([]float64, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("cue blob length %d is not a multiple of 4", len(blob))
	}
	cues := make([]float64, len(blob)/4)
	for i := range cues {
		cues[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:])))
	}
	return cues, nil
}

// EncodeCues is the inverse of DecodeCues.
func EncodeCues(cues []float64) []byte {
	blob := make([]byte, len(cues)*4)
	for i, c := range cues {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(float32(c)))
	}
	return blob
}

// TempoAt estimates the tempo in BPM of the cue pair starting at index i.
// The result is NaN when there is not enough data.
func TempoAt(cues []float64, i int) float64 {
	if len(cues) < minCues {
		return math.NaN()
	}

	diff := at(cues, i+1) - at(cues, i)
	last := at(cues, i-1) - at(cues, i-2)
	next := at(cues, i+3) - at(cues, i+2)

	// Exact equality on purpose: agreeing neighbours override the local interval.
	if math.IsNaN(diff) || last == next {
		diff = last
	}

	return round(60/(2*diff), 100)
}

// WarpMarkers returns the tempo grid anchors for the cue pairs, shifted by
// offset. A marker is emitted whenever the tempo changes and always for the
// final pair.
func WarpMarkers(cues []float64, offset float64) []models.WarpMarker {
	markers := []models.WarpMarker{}
	lastTempo := math.NaN()
	for i := 0; i < len(cues); i += 2 {
		tempo := TempoAt(cues, i)
		if math.IsNaN(tempo) || math.IsInf(tempo, 0) {
			continue
		}
		final := i+2 >= len(cues)
		if tempo != lastTempo || final {
			markers = append(markers, models.WarpMarker{
				Time:  cues[i] + offset,
				Beat:  float64(i) / 2,
				Tempo: tempo,
			})
			lastTempo = tempo
		}
	}
	return markers
}

func at(cues []float64, i int) float64 {
	if i < 0 || i >= len(cues) {
		return math.NaN()
	}
	return cues[i]
}

// round rounds half away from zero on a 1/grid lattice.
func round(value, grid float64) float64 {
	return math.Round(value*grid) / grid
}
