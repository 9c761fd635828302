package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"segclip/internal/models"
)

// ErrInvalidMetadata is returned for metadata that parses but cannot describe a clip.
var ErrInvalidMetadata = errors.New("invalid clip metadata")

// Index is the ordered, gapless mapping from clip-local time to physical segments.
type Index struct {
	Segments     []models.Segment
	FullDuration float64
	SampleRate   float64
	Channels     int
}

// ParseMetadata decodes and validates a clip metadata document. It never
// returns a partially valid result.
func ParseMetadata(data []byte) (*models.Metadata, error) {
	var meta models.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal clip metadata JSON: %w", err)
	}

	if !(meta.SampleRate > 0) || math.IsInf(meta.SampleRate, 0) {
		return nil, fmt.Errorf("%w: sampleRate %v", ErrInvalidMetadata, meta.SampleRate)
	}
	if meta.Channels <= 0 {
		return nil, fmt.Errorf("%w: channels %d", ErrInvalidMetadata, meta.Channels)
	}
	for i, s := range meta.Segments {
		if s.Src == "" {
			return nil, fmt.Errorf("%w: segment %d has no src", ErrInvalidMetadata, i)
		}
		if math.IsNaN(s.Duration) || math.IsInf(s.Duration, 0) || s.Duration < 0 {
			return nil, fmt.Errorf("%w: segment %d (%s) has duration %v", ErrInvalidMetadata, i, s.Src, s.Duration)
		}
	}
	return &meta, nil
}

// DriftCorrection returns the per-segment duration adjustment that removes the
// one-sample rounding gap left at segment boundaries when the output runs at a
// lower rate than the recording.
func DriftCorrection(outputRate, sourceRate float64) float64 {
	if outputRate > 0 && outputRate < sourceRate {
		return -1 / outputRate
	}
	return 0
}

// Build walks the metadata segments in order, accumulating their corrected
// durations into clip-local ranges.
func Build(meta *models.Metadata, outputRate float64) *Index {
	offset := DriftCorrection(outputRate, meta.SampleRate)

	segments := make([]models.Segment, 0, len(meta.Segments))
	var pos float64
	for _, s := range meta.Segments {
		end := pos + s.Duration + offset
		segments = append(segments, models.Segment{
			Src:   s.Src,
			Start: pos,
			End:   end,
		})
		pos = end
	}

	return &Index{
		Segments:     segments,
		FullDuration: pos,
		SampleRate:   meta.SampleRate,
		Channels:     meta.Channels,
	}
}

// Load parses and builds an index in one step.
func Load(data []byte, outputRate float64) (*Index, error) {
	meta, err := ParseMetadata(data)
	if err != nil {
		return nil, err
	}
	return Build(meta, outputRate), nil
}

// Resolve maps the clip-local range [start, end) onto source-local ranges, in
// segment order. A nil index or an empty range yields nothing.
func (idx *Index) Resolve(start, end float64) []models.CueRange {
	if idx == nil || !(end > start) {
		return nil
	}

	var result []models.CueRange
	for _, seg := range idx.Segments {
		if start >= seg.End {
			continue
		}

		from := math.Max(start-seg.Start, 0)
		to := math.Min(seg.End, end) - seg.Start
		if to > from {
			result = append(result, models.CueRange{Src: seg.Src, From: from, To: to})
		}

		// The requested range is exhausted once it ends inside this segment.
		if end-seg.End <= 0 {
			break
		}
	}
	return result
}
