package hand

// Finger identifiers used by Build. They match the published finger indices.
const (
	Thumb  = 0
	Index  = 1
	Middle = 2
	Ring   = 3
	Pinky  = 4
)

var (
	fingerMCP = [4]int{IndexMCP, MiddleMCP, RingMCP, PinkyMCP}
	fingerPIP = [4]int{IndexPIP, MiddlePIP, RingPIP, PinkyPIP}
	fingerDIP = [4]int{IndexDIP, MiddleDIP, RingDIP, PinkyDIP}
	fingerTip = [4]int{IndexTip, MiddleTip, RingTip, PinkyTip}
)

// Build returns a synthetic observation with the given raw label and extended fingers.
//
// side places the thumb on the +x side of the wrist when positive and on the -x side
// when negative. An extended thumb always points away from the wrist along that side.
func Build(raw string, side float64, extended ...int) Observation {
	s := 1.0
	if side < 0 {
		s = -1.0
	}

	up := make(map[int]bool, len(extended))
	for _, f := range extended {
		up[f] = true
	}

	obs := Observation{Handedness: raw, Score: 0.95}
	obs.Points[Wrist] = Point{X: 0.5, Y: 0.8}

	obs.Points[ThumbCMC] = Point{X: 0.5 + 0.05*s, Y: 0.75, Z: 0.01}
	obs.Points[ThumbMCP] = Point{X: 0.5 + 0.10*s, Y: 0.70, Z: 0.02}
	obs.Points[ThumbIP] = Point{X: 0.5 + 0.14*s, Y: 0.65, Z: 0.02}
	if up[Thumb] {
		obs.Points[ThumbTip] = Point{X: 0.5 + 0.18*s, Y: 0.60, Z: 0.02}
	} else {
		obs.Points[ThumbTip] = Point{X: 0.5 + 0.08*s, Y: 0.66, Z: -0.01}
	}

	for k := 0; k < 4; k++ {
		x := 0.5 + s*(0.04-0.05*float64(k))
		obs.Points[fingerMCP[k]] = Point{X: x, Y: 0.68}
		if up[k+1] {
			obs.Points[fingerPIP[k]] = Point{X: x, Y: 0.55}
			obs.Points[fingerDIP[k]] = Point{X: x, Y: 0.45}
			obs.Points[fingerTip[k]] = Point{X: x, Y: 0.35}
		} else {
			obs.Points[fingerPIP[k]] = Point{X: x, Y: 0.62, Z: -0.04}
			obs.Points[fingerDIP[k]] = Point{X: x - 0.01*s, Y: 0.66, Z: -0.04}
			obs.Points[fingerTip[k]] = Point{X: x - 0.02*s, Y: 0.70, Z: -0.02}
		}
	}

	return obs
}

// palmSide returns the thumb side that shows the palm to the camera for a raw label.
// The detector labels a mirrored feed, so raw "Left" is anatomically the right hand.
func palmSide(raw string) float64 {
	if raw == "Right" {
		return -1
	}
	return 1
}

// OpenPalm returns a palm-facing hand with all five fingers extended.
func OpenPalm(raw string) Observation {
	return Build(raw, palmSide(raw), Thumb, Index, Middle, Ring, Pinky)
}

// Fist returns a palm-facing hand with every finger curled.
func Fist(raw string) Observation {
	return Build(raw, palmSide(raw))
}

// Peace returns a palm-facing hand with index and middle fingers extended.
func Peace(raw string) Observation {
	return Build(raw, palmSide(raw), Index, Middle)
}

// ThreeFingers returns a palm-facing hand with index, middle and ring fingers extended.
func ThreeFingers(raw string) Observation {
	return Build(raw, palmSide(raw), Index, Middle, Ring)
}
