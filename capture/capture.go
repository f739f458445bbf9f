package capture

import (
	"time"
)

// Frame is one MJPEG frame read from the device.
type Frame struct {
	Seq    uint64
	Time   time.Time
	Data   []byte
	Width  int
	Height int
}

// FrameFunc receives frames one at a time on the capture goroutine.
type FrameFunc func(frame *Frame)

// ErrorFunc is called on the capture goroutine when the device fails and the
// read loop ends. It is not called after Stop.
type ErrorFunc func(err error)

type Option struct {
	Device string
	Width  int
	Height int

	// FrameInterval is the minimum time between delivered frames. Zero delivers every frame.
	FrameInterval time.Duration

	// CPU pins the capture goroutine to a core. Negative values leave it
	// unpinned; use -1 rather than the zero value to mean "any core".
	CPU int
}

func (o *Option) withDefaults() Option {
	opt := *o
	if opt.Width <= 0 {
		opt.Width = 640
	}
	if opt.Height <= 0 {
		opt.Height = 480
	}
	return opt
}

func (o *Option) pinned() bool {
	return o.CPU >= 0
}

// throttle reports whether a frame at now should be dropped given the last delivery.
func throttle(last, now time.Time, interval time.Duration) bool {
	if interval <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) < interval
}
