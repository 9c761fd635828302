package models

// Segment maps a contiguous clip-local time range onto one physical audio source.
// Segments are produced once per metadata load and never mutated afterwards.
type Segment struct {
	// Src is the source reference of the physical file, as written in the metadata.
	Src string `json:"src"`
	// Start is the clip-local time at which this segment begins, in seconds.
	Start float64 `json:"start"`
	// End is the clip-local time at which this segment ends, in seconds.
	// It is bit-for-bit equal to the Start of the following segment.
	End float64 `json:"end"`
}

// Duration returns the clip-local length of the segment.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// RawSegment is one entry of the metadata "segments" array.
type RawSegment struct {
	Src      string  `json:"src"`
	Duration float64 `json:"duration"`
}

// Metadata is the clip description file: the recording sample rate, the channel
// count and the ordered list of physical segments.
type Metadata struct {
	SampleRate float64      `json:"sampleRate"`
	Channels   int          `json:"channels"`
	Segments   []RawSegment `json:"segments"`
}

// CueRange is a source-local slice of one segment, the unit produced by
// time-to-segment resolution.
type CueRange struct {
	Src  string  `json:"src"`
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Duration returns the length of the slice.
func (c CueRange) Duration() float64 {
	return c.To - c.From
}
