// Package blink turns a per-frame eye openness ratio into a single blink event.
package blink

// DefaultThreshold is the ratio below which an eye counts as closed.
const DefaultThreshold = 0.25

// Detector tracks whether the eyes are currently closed.
// It is not safe for concurrent use; frames must be fed in arrival order.
type Detector struct {
	threshold float64
	closed    bool
}

func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Update feeds one frame's ratio and reports whether a blink just completed,
// which happens only on the first open frame after one or more closed frames.
func (d *Detector) Update(ratio float64) bool {
	if ratio < d.threshold {
		d.closed = true
		return false
	}

	if d.closed {
		d.closed = false
		return true
	}
	return false
}

func (d *Detector) Closed() bool {
	return d.closed
}

func (d *Detector) Threshold() float64 {
	return d.threshold
}
