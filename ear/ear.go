// Package ear computes the eye aspect ratio (EAR) from face mesh landmarks.
package ear

import (
	"math"

	"github.com/pkg/errors"
)

var (
	ErrNoLandmarks     = errors.New("no landmarks")
	ErrIndexOutOfRange = errors.New("landmark index out of range")
)

// Point is a landmark in normalized image coordinates. Z is carried but never used.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// EyeIndices selects six mesh points in the order
// outer corner, upper lid 1, upper lid 2, inner corner, lower lid 1, lower lid 2.
type EyeIndices [6]int

// Eye indices on the 468/478 point face mesh.
var (
	LeftEye  = EyeIndices{33, 160, 158, 133, 153, 144}
	RightEye = EyeIndices{362, 385, 387, 263, 373, 380}
)

// Distance is the euclidean distance in the XY plane.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// AspectRatio returns (|p2-p6| + |p3-p5|) / (2 |p1-p4|).
// A zero horizontal span yields 0.
func AspectRatio(p [6]Point) float64 {
	vertical1 := Distance(p[1], p[5])
	vertical2 := Distance(p[2], p[4])
	horizontal := Distance(p[0], p[3])

	if horizontal == 0 {
		return 0
	}
	return (vertical1 + vertical2) / (2 * horizontal)
}

// Select picks the six points of one eye out of a full mesh.
func Select(landmarks []Point, idx EyeIndices) ([6]Point, error) {
	var eye [6]Point
	for i, n := range idx {
		if n < 0 || n >= len(landmarks) {
			return eye, errors.Wrapf(ErrIndexOutOfRange, "index %d, mesh has %d points", n, len(landmarks))
		}
		eye[i] = landmarks[n]
	}
	return eye, nil
}

// MeanOpenness averages the aspect ratio of both eyes.
// An empty mesh returns ErrNoLandmarks; callers must treat that as "no face", not as a ratio.
func MeanOpenness(landmarks []Point, left, right EyeIndices) (float64, error) {
	if len(landmarks) == 0 {
		return 0, ErrNoLandmarks
	}

	l, err := Select(landmarks, left)
	if err != nil {
		return 0, errors.Wrap(err, "left eye")
	}
	r, err := Select(landmarks, right)
	if err != nil {
		return 0, errors.Wrap(err, "right eye")
	}

	return (AspectRatio(l) + AspectRatio(r)) / 2, nil
}
