// Package geometry derives orientation and finger state from hand landmark positions.
package geometry

import (
	"strings"

	"github.com/ayusman/gestalyze/internal/hand"
)

// Corrected handedness labels.
const (
	Left  = "left"
	Right = "right"
)

// Orientation is the side of the hand facing the camera.
type Orientation string

const (
	// Palm means the palm faces the camera.
	Palm Orientation = "palm"
	// Back means the back of the hand faces the camera.
	Back Orientation = "back"
)

var (
	fingerTips = [4]int{hand.IndexTip, hand.MiddleTip, hand.RingTip, hand.PinkyTip}
	fingerPIPs = [4]int{hand.IndexPIP, hand.MiddlePIP, hand.RingPIP, hand.PinkyPIP}
)

// Result is the geometric summary of one hand.
type Result struct {
	FingerCount int
	// Lifted holds finger indices (0 thumb .. 4 pinky) in detection order.
	Lifted      []int
	Orientation Orientation
}

// Correct maps the detector's label, computed on a mirrored feed, to the anatomical hand.
// Labels other than "Left" and "Right" are passed through lower-cased.
func Correct(raw string) string {
	switch raw {
	case "Left":
		return Right
	case "Right":
		return Left
	default:
		return strings.ToLower(raw)
	}
}

// Orient reports which side of the hand faces the camera, using the horizontal
// offset of the thumb base from the wrist. Unknown hands are reported as palm.
func Orient(points *[hand.NumLandmarks]hand.Point, handedness string) Orientation {
	dx := points[hand.ThumbCMC].X - points[hand.Wrist].X

	switch handedness {
	case Left:
		if dx > 0 {
			return Back
		}
	case Right:
		if dx < 0 {
			return Back
		}
	}
	return Palm
}

// thumbExtended compares thumb tip to thumb IP. The visual extension direction
// flips with both handedness and orientation.
func thumbExtended(points *[hand.NumLandmarks]hand.Point, handedness string, o Orientation) bool {
	tip := points[hand.ThumbTip].X
	ip := points[hand.ThumbIP].X

	switch handedness {
	case Left:
		if o == Back {
			return tip > ip
		}
		return tip < ip
	case Right:
		if o == Back {
			return tip < ip
		}
		return tip > ip
	}
	return false
}

// Analyze derives orientation and extended fingers for one hand.
// handedness must already be corrected (see Correct).
func Analyze(obs *hand.Observation, handedness string) Result {
	o := Orient(&obs.Points, handedness)
	lifted := make([]int, 0, 5)

	if thumbExtended(&obs.Points, handedness, o) {
		lifted = append(lifted, hand.Thumb)
	}

	for i, tip := range fingerTips {
		// Smaller y is higher on screen.
		if obs.Points[tip].Y < obs.Points[fingerPIPs[i]].Y {
			lifted = append(lifted, tip/4-1)
		}
	}

	return Result{
		FingerCount: len(lifted),
		Lifted:      lifted,
		Orientation: o,
	}
}
