package frame

import "time"

// Metadata carries the node's GPS and front-end status flags.
type Metadata struct {
	HasGPSFix  bool `json:"has_gps_fix" cbor:"has_gps_fix"`
	IsClipping bool `json:"is_clipping" cbor:"is_clipping"`
}

// Frame is one sample buffer from an acquisition node.
// A Frame must not be modified after it has been decoded.
type Frame struct {
	Timestamp  *int64   `json:"timestamp" cbor:"timestamp"` // nil when the node has no clock fix
	SampleRate float64  `json:"sample_rate" cbor:"sample_rate"`
	Metadata   Metadata `json:"metadata" cbor:"metadata"`
	Latitude   float64  `json:"latitude" cbor:"latitude"`
	Longitude  float64  `json:"longitude" cbor:"longitude"`
	Elevation  float64  `json:"elevation" cbor:"elevation"`
	Speed      float64  `json:"speed" cbor:"speed"`
	Angle      float64  `json:"angle" cbor:"angle"`
	Fix        uint16   `json:"fix" cbor:"fix"` // satellites in the GPS fix
	Data       []int16  `json:"data" cbor:"data"`
}

// Envelope is the unit returned by the remote source. A nil Frame means the
// node is reachable but has no current sample.
type Envelope struct {
	NodeID string
	Frame  *Frame
}

// Result is a frame together with its derived correlation. It is published
// to the Store as a whole and never modified afterwards.
type Result struct {
	NodeID    string
	Frame     *Frame
	FetchedAt time.Time

	// Correlation is normalised so its largest element is 1.
	// len(Correlation) == len(Frame.Data) + TemplateLength - 1.
	Correlation    []float64
	TemplateLength int

	// Peak is the raw correlation maximum before normalisation.
	Peak      float64
	PeakIndex int
}
