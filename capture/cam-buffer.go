package capture

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abihf/blinkgate/utils/thread"
	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

// V4L2_PIX_FMT_MJPEG
const pixFmtMJPEG webcam.PixelFormat = 0x47504A4D

// Webcam is a V4L device streaming MJPEG frames.
type Webcam struct {
	opt    Option
	logger *slog.Logger

	mu     sync.Mutex
	cam    *webcam.Webcam
	width  int
	height int

	stopped atomic.Bool
	done    chan struct{}
}

// Open acquires the device and starts streaming. Nothing is delivered until Start.
func Open(opt *Option, logger *slog.Logger) (*Webcam, error) {
	o := opt.withDefaults()

	cam, err := webcam.Open(o.Device)
	if err != nil {
		return nil, errors.Wrap(err, "Can not open device")
	}

	width, height, err := negotiate(cam, o.Width, o.Height)
	if err != nil {
		cam.Close()
		return nil, err
	}

	if err = cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "Can not start streaming")
	}

	logger.Info("Camera opened", "device", o.Device, "width", width, "height", height)
	return &Webcam{
		opt:    o,
		logger: logger,
		cam:    cam,
		width:  width,
		height: height,
	}, nil
}

func negotiate(cam *webcam.Webcam, width, height int) (int, int, error) {
	formats := cam.GetSupportedFormats()
	if _, ok := formats[pixFmtMJPEG]; !ok {
		return 0, 0, errors.Errorf("device does not support MJPEG (formats: %v)", formats)
	}

	f, w, h, err := cam.SetImageFormat(pixFmtMJPEG, uint32(width), uint32(height))
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can not set image format")
	}
	if f != pixFmtMJPEG {
		return 0, 0, errors.Errorf("device switched to pixel format %#x", uint32(f))
	}
	return int(w), int(h), nil
}

// Start runs the read loop, calling onFrame for each frame until Stop.
// onError, if set, learns why the loop ended on its own.
func (c *Webcam) Start(onFrame FrameFunc, onError ErrorFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cam == nil {
		return errors.New("camera released")
	}
	if c.done != nil {
		return errors.New("camera already started")
	}

	c.done = make(chan struct{})
	go c.run(c.cam, onFrame, onError)
	return nil
}

func (c *Webcam) run(cam *webcam.Webcam, onFrame FrameFunc, onError ErrorFunc) {
	defer close(c.done)

	err := c.loop(cam, onFrame)
	if err == nil || c.stopped.Load() {
		return
	}
	c.logger.Warn("Capture loop ended", "device", c.opt.Device, "error", err)
	if onError != nil {
		onError(err)
	}
}

// loop returns nil once stopped, or the device error that ended it.
func (c *Webcam) loop(cam *webcam.Webcam, onFrame FrameFunc) error {
	if c.opt.pinned() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := thread.SetCPUAffinity(c.opt.CPU); err != nil {
			c.logger.Warn("Can not pin capture thread", "cpu", c.opt.CPU, "error", err)
		}
	}

	var seq uint64
	var last time.Time
	for !c.stopped.Load() {
		err := cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			c.logger.Debug("Frame wait timed out")
			continue
		default:
			return errors.Wrap(err, "Frame wait failed")
		}

		if c.stopped.Load() {
			return nil
		}

		buf, index, err := cam.GetFrame()
		if err != nil {
			return errors.Wrap(err, "Read frame failed")
		}

		now := time.Now()
		if len(buf) == 0 || throttle(last, now, c.opt.FrameInterval) {
			cam.ReleaseFrame(index)
			continue
		}
		last = now
		seq++

		// the mmap buffer is reused by the driver once released
		data := make([]byte, len(buf))
		copy(data, buf)
		if err := cam.ReleaseFrame(index); err != nil {
			return errors.Wrap(err, "Release frame failed")
		}

		if c.stopped.Load() {
			return nil
		}
		onFrame(&Frame{Seq: seq, Time: now, Data: data, Width: c.width, Height: c.height})
	}
	return nil
}

// Stop blocks until the read loop has returned. onFrame is never called afterwards.
func (c *Webcam) Stop() {
	c.stopped.Store(true)

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Release stops streaming and closes the device so the camera turns off.
// It stops the read loop first if the caller has not.
func (c *Webcam) Release() error {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cam == nil {
		return nil
	}
	cam := c.cam
	c.cam = nil

	serr := cam.StopStreaming()
	if err := cam.Close(); err != nil {
		return errors.Wrap(err, "Can not close device")
	}
	if serr != nil {
		return errors.Wrap(serr, "Can not stop streaming")
	}
	c.logger.Info("Camera released", "device", c.opt.Device)
	return nil
}
