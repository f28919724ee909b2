// Package hand defines the per-frame hand observations produced by the external landmark detector.
package hand

import (
	"errors"
	"fmt"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// ErrMalformedObservation is returned when detector output cannot be used as a hand.
var ErrMalformedObservation = errors.New("malformed hand observation")

// Point is a landmark position normalized to the frame, x and y in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Observation is one detected hand in one frame: 21 landmarks plus the detector's
// raw handedness label, computed on a mirrored feed ("Left" or "Right").
type Observation struct {
	Points     [NumLandmarks]Point `json:"points"`
	Handedness string              `json:"handedness"`
	Score      float64             `json:"score"`
}

// Wire is the JSON form a frame source sends for one hand.
type Wire struct {
	Points     []Point `json:"points"`
	Handedness string  `json:"handedness"`
	Score      float64 `json:"score"`
}

// Decode validates a wire hand and converts it to an Observation.
func Decode(w Wire) (Observation, error) {
	if len(w.Points) != NumLandmarks {
		return Observation{}, fmt.Errorf("%w: got %d landmarks, want %d", ErrMalformedObservation, len(w.Points), NumLandmarks)
	}
	if w.Handedness == "" {
		return Observation{}, fmt.Errorf("%w: missing handedness label", ErrMalformedObservation)
	}

	obs := Observation{
		Handedness: w.Handedness,
		Score:      w.Score,
	}
	for i, p := range w.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return Observation{}, fmt.Errorf("%w: landmark %d is not finite", ErrMalformedObservation, i)
		}
		obs.Points[i] = p
	}
	return obs, nil
}

// Wire converts the observation back to its JSON form.
func (o Observation) Wire() Wire {
	points := make([]Point, NumLandmarks)
	copy(points, o.Points[:])
	return Wire{
		Points:     points,
		Handedness: o.Handedness,
		Score:      o.Score,
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
