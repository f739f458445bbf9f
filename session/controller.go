package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abihf/blinkgate/blink"
	"github.com/abihf/blinkgate/capture"
	"github.com/abihf/blinkgate/ear"
	"github.com/abihf/blinkgate/recognize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrStopped = errors.New("session controller stopped")

// run holds the resources of one camera-on period.
type run struct {
	camera   Camera
	detector Detector

	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
}

type Controller struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	events chan func()
	done   chan struct{}

	// owned by the Run goroutine
	settings Settings
	blink    *blink.Detector
	active   *run
	gen      uint64
	timer    *time.Timer
	timerSeq uint64
	state    State
	logs     []Entry

	// busy lets the frame goroutine skip detection while no blink can be honored
	busy     atomic.Bool
	snapshot atomic.Pointer[State]
	records  sync.WaitGroup
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Controller, error) {
	if deps.OpenCamera == nil || deps.NewDetector == nil || deps.Recognizer == nil {
		return nil, errors.New("camera, detector and recognizer are required")
	}
	if deps.Encoder == nil {
		deps.Encoder = rawEncoder{}
	}
	cfg = cfg.withDefaults()

	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		events:   make(chan func()),
		done:     make(chan struct{}),
		settings: Settings{Threshold: cfg.Threshold},
		blink:    blink.New(cfg.Threshold),
	}
	c.state = State{Status: StatusIdle, Message: msgCameraOff, Threshold: cfg.Threshold}
	c.publish()
	return c, nil
}

// Run processes events until ctx is done, then releases the camera.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.records.Wait()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.publish()
			return nil
		case fn := <-c.events:
			fn()
		}
	}
}

// State returns the latest snapshot.
func (c *Controller) State() State {
	return *c.snapshot.Load()
}

// Restart tears down the current camera session, if any, and starts a new one
// when s.CameraOn is set. Acquisition errors leave the camera off.
func (c *Controller) Restart(ctx context.Context, s Settings) error {
	return c.call(ctx, func() error { return c.restart(s) })
}

// Start turns the camera on. It does nothing when the camera is already on.
func (c *Controller) Start(ctx context.Context) error {
	return c.call(ctx, func() error {
		if c.active != nil {
			return nil
		}
		s := c.settings
		s.CameraOn = true
		return c.restart(s)
	})
}

func (c *Controller) Stop(ctx context.Context) error {
	return c.call(ctx, func() error {
		s := c.settings
		s.CameraOn = false
		return c.restart(s)
	})
}

// call runs fn on the event loop and waits for its result.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.events <- func() { errc <- fn() }:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// post queues fn unless the loop has exited.
func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) restart(s Settings) error {
	c.teardown()

	if s.Threshold <= 0 {
		s.Threshold = c.cfg.Threshold
	}
	c.settings = s
	c.blink = blink.New(s.Threshold)
	c.state.Threshold = s.Threshold
	defer c.publish()

	if !s.CameraOn {
		return nil
	}
	if err := c.acquire(); err != nil {
		c.settings.CameraOn = false
		c.logger.Error("Camera start failed", "error", err)
		return err
	}
	return nil
}

// acquire opens the camera, then the detector, then starts frame delivery.
// Whatever was created is released again on failure.
func (c *Controller) acquire() error {
	cam, err := c.deps.OpenCamera()
	if err != nil {
		return errors.Wrap(err, "open camera")
	}

	det, err := c.deps.NewDetector()
	if err != nil {
		c.release(cam)
		return errors.Wrap(err, "create detector")
	}
	if err := det.Configure(c.cfg.Detector); err != nil {
		if cerr := det.Close(); cerr != nil {
			c.logger.Warn("Detector close failed", "error", cerr)
		}
		c.release(cam)
		return errors.Wrap(err, "configure detector")
	}

	r := &run{camera: cam, detector: det, stopping: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	c.active = r

	onFrame := func(f *capture.Frame) { c.onFrame(r, f) }
	onError := func(err error) { c.onCameraError(r, err) }
	if err := cam.Start(onFrame, onError); err != nil {
		c.teardown()
		return errors.Wrap(err, "start camera")
	}

	c.state.CameraOn = true
	c.setStatus(StatusIdle, msgCameraOn)
	c.logger.Info("Camera started", "threshold", c.settings.Threshold)
	return nil
}

func (c *Controller) release(cam Camera) {
	if err := cam.Release(); err != nil {
		c.logger.Warn("Camera release failed", "error", err)
	}
}

// teardown stops frame delivery before closing the detector. The hardware is
// released even when closing the detector fails.
func (c *Controller) teardown() {
	if r := c.active; r != nil {
		c.active = nil
		c.stopRun(r)
		c.logger.Info("Camera stopped")
	}
	c.cancelTimer()
	c.gen++
	c.busy.Store(false)

	c.state.CameraOn = false
	c.state.FacePresent = false
	c.state.EyeClosed = false
	c.state.Ratio = 0
	if c.state.Status != StatusIdle || c.state.Message != msgCameraOff {
		c.setStatus(StatusIdle, msgCameraStopped)
	}
}

func (c *Controller) stopRun(r *run) {
	close(r.stopping)
	r.cancel()
	defer c.release(r.camera)

	r.camera.Stop()
	if err := r.detector.Close(); err != nil {
		c.logger.Warn("Detector close failed", "error", err)
	}
}

// onFrame runs on the camera goroutine. It returns once the loop has handled
// the frame or the run is stopping, so frames are processed in order.
func (c *Controller) onFrame(r *run, f *capture.Frame) {
	if stopping(r) || c.busy.Load() {
		return
	}

	faces, err := r.detector.Detect(r.ctx, f.Data)
	if stopping(r) {
		return
	}

	handled := make(chan struct{})
	ev := func() {
		defer close(handled)
		c.handleFrame(r, f, faces, err)
	}
	select {
	case c.events <- ev:
	case <-r.stopping:
		return
	case <-c.done:
		return
	}
	<-handled
}

// onCameraError runs on the camera goroutine once its loop has failed. It must
// not wait for the event: teardown blocks until that goroutine exits.
func (c *Controller) onCameraError(r *run, err error) {
	ev := func() { c.cameraFailed(r, err) }
	select {
	case c.events <- ev:
	case <-r.stopping:
	case <-c.done:
	}
}

func (c *Controller) cameraFailed(r *run, err error) {
	if c.active != r {
		return
	}
	c.logger.Warn("Camera failed, turning it off", "error", err)
	c.teardown()
	c.settings.CameraOn = false
	c.setStatus(StatusError, msgCameraLost)
}

func stopping(r *run) bool {
	select {
	case <-r.stopping:
		return true
	default:
		return false
	}
}

func (c *Controller) handleFrame(r *run, f *capture.Frame, faces [][]ear.Point, err error) {
	if c.active != r {
		return
	}
	if err != nil {
		c.logger.Warn("Landmark detection failed", "seq", f.Seq, "error", err)
		return
	}
	if !c.state.Status.acceptsBlink() {
		return
	}

	if len(faces) == 0 {
		c.state.FacePresent = false
		c.setStatus(StatusIdle, msgNoFace)
		return
	}

	ratio, err := ear.MeanOpenness(faces[0], c.cfg.LeftEye, c.cfg.RightEye)
	if err != nil {
		c.logger.Warn("Landmarks unusable", "seq", f.Seq, "points", len(faces[0]), "error", err)
		c.state.FacePresent = false
		c.setStatus(StatusIdle, msgNoFace)
		return
	}

	blinked := c.blink.Update(ratio)
	c.state.FacePresent = true
	c.state.Ratio = ratio
	c.state.EyeClosed = c.blink.Closed()

	if blinked {
		c.logger.Debug("Blink detected", "seq", f.Seq, "ratio", ratio)
		c.submit(f)
		return
	}
	if c.state.EyeClosed {
		c.setStatus(StatusAwaitingBlink, msgHoldStill)
	} else {
		c.setStatus(StatusAwaitingBlink, msgBlink)
	}
}

// submit moves to Processing before anything can suspend, so a second blink
// never reaches here until the attempt has resolved.
func (c *Controller) submit(f *capture.Frame) {
	c.busy.Store(true)
	c.setStatus(StatusProcessing, msgRecognizing)

	gen := c.gen
	go func() {
		res, err := c.recognize(f.Data)
		c.post(func() { c.finish(gen, res, err) })
	}()
}

// recognize is not cancelled by teardown; its result is dropped by generation instead.
func (c *Controller) recognize(frame []byte) (*recognize.Result, error) {
	img, err := c.deps.Encoder.Encode(frame)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return c.deps.Recognizer.Recognize(context.Background(), img)
}

func (c *Controller) finish(gen uint64, res *recognize.Result, err error) {
	if gen != c.gen {
		c.logger.Debug("Dropping stale recognition result", "gen", gen, "current", c.gen)
		return
	}
	if err == nil && res == nil {
		err = errors.New("empty recognition result")
	}

	switch {
	case err != nil:
		c.logger.Warn("Recognition request failed", "error", err)
		c.appendEntry(OutcomeError, fmt.Sprintf("%s: %v", msgConnError, err))
		c.setStatus(StatusError, msgConnError)
		c.schedule(c.cfg.ErrorCooldown)
	case res.Recognized():
		c.logger.Info("Face recognized", "name", res.Name, "confidence", res.Confidence)
		c.appendEntry(OutcomeSuccess, "Hello: "+res.Name)
		c.setStatus(StatusSuccess, fmt.Sprintf("Welcome %s!", res.Name))
		c.schedule(c.cfg.SuccessCooldown)
	default:
		c.logger.Info("Face not recognized", "http_status", res.HTTPStatus, "status", res.Status, "message", res.Message)
		c.setStatus(StatusError, msgNotRecognized)
		c.schedule(c.cfg.ErrorCooldown)
	}
}

// schedule returns to Idle after d unless the timer is cancelled first.
func (c *Controller) schedule(d time.Duration) {
	c.cancelTimer()
	gen, seq := c.gen, c.timerSeq
	c.timer = time.AfterFunc(d, func() {
		c.post(func() { c.cooldownDone(gen, seq) })
	})
}

func (c *Controller) cancelTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// invalidates a callback that fired but has not run yet
	c.timerSeq++
}

func (c *Controller) cooldownDone(gen, seq uint64) {
	if gen != c.gen || seq != c.timerSeq {
		return
	}
	c.timer = nil
	c.busy.Store(false)
	if c.state.Status == StatusSuccess {
		c.setStatus(StatusIdle, msgBlinkAgain)
	} else {
		c.setStatus(StatusIdle, msgBlink)
	}
}

func (c *Controller) appendEntry(outcome Outcome, message string) {
	entry := Entry{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Outcome:   outcome,
		Message:   message,
	}

	logs := make([]Entry, 0, c.cfg.LogSize)
	logs = append(logs, entry)
	for _, e := range c.logs {
		if len(logs) == c.cfg.LogSize {
			break
		}
		logs = append(logs, e)
	}
	c.logs = logs

	for _, rec := range c.deps.Recorders {
		c.records.Add(1)
		go func(rec Recorder) {
			defer c.records.Done()
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RecordTimeout)
			defer cancel()
			if err := rec.Record(ctx, entry); err != nil {
				c.logger.Warn("Recording entry failed", "id", entry.ID, "error", err)
			}
		}(rec)
	}
}

func (c *Controller) setStatus(status Status, message string) {
	c.state.Status = status
	c.state.Message = message
	c.publish()
}

func (c *Controller) publish() {
	s := c.state
	s.Logs = make([]Entry, len(c.logs))
	copy(s.Logs, c.logs)
	c.snapshot.Store(&s)
}
