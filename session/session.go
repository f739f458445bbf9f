// Package session gates face recognition behind a live blink.
//
// A Controller owns the camera and the landmark detector for one kiosk. Every
// state change runs on the goroutine executing Run; camera callbacks,
// recognition results and cooldown timers are posted to it as events.
package session

import (
	"context"
	"time"

	"github.com/abihf/blinkgate/blink"
	"github.com/abihf/blinkgate/capture"
	"github.com/abihf/blinkgate/ear"
	"github.com/abihf/blinkgate/landmark"
	"github.com/abihf/blinkgate/recognize"
	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle          Status = "idle"
	StatusAwaitingBlink Status = "awaiting_blink"
	StatusProcessing    Status = "processing"
	StatusSuccess       Status = "success"
	StatusError         Status = "error"
)

// acceptsBlink reports whether a blink may start a recognition attempt.
func (s Status) acceptsBlink() bool {
	return s == StatusIdle || s == StatusAwaitingBlink
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Entry is one line of the attendance log.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Message   string    `json:"message"`
}

// State is a snapshot of the controller, safe to hand to other goroutines.
type State struct {
	Status      Status  `json:"status"`
	Message     string  `json:"message"`
	CameraOn    bool    `json:"camera_on"`
	FacePresent bool    `json:"face_present"`
	EyeClosed   bool    `json:"eye_closed"`
	Ratio       float64 `json:"ratio"`
	Threshold   float64 `json:"threshold"`
	Logs        []Entry `json:"logs"`
}

// Settings are the inputs Restart reacts to.
type Settings struct {
	CameraOn  bool    `json:"camera_on"`
	Threshold float64 `json:"threshold"`
}

// Camera delivers frames until Stop returns or the device fails, in which
// case onError is called once. Release turns the hardware off.
type Camera interface {
	Start(onFrame capture.FrameFunc, onError capture.ErrorFunc) error
	Stop()
	Release() error
}

type CameraOpener func() (Camera, error)

type Detector interface {
	Configure(opt landmark.Options) error
	Detect(ctx context.Context, img []byte) ([][]ear.Point, error)
	Close() error
}

type DetectorFactory func() (Detector, error)

type Recognizer interface {
	Recognize(ctx context.Context, jpeg []byte) (*recognize.Result, error)
}

// Encoder turns the triggering frame into the submitted still.
type Encoder interface {
	Encode(frame []byte) ([]byte, error)
}

// Recorder receives every log entry, e.g. to forward it to MQTT or a database.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Config struct {
	Threshold float64
	LeftEye   ear.EyeIndices
	RightEye  ear.EyeIndices
	Detector  landmark.Options

	SuccessCooldown time.Duration
	ErrorCooldown   time.Duration

	// LogSize bounds the attendance log.
	LogSize int

	RecordTimeout time.Duration
}

const (
	DefaultSuccessCooldown = 3000 * time.Millisecond
	DefaultErrorCooldown   = 2000 * time.Millisecond
	DefaultLogSize         = 10
	DefaultRecordTimeout   = 5 * time.Second
)

// DefaultConfig uses the 478 point mesh eye contours.
func DefaultConfig() Config {
	return Config{
		Threshold:       blink.DefaultThreshold,
		LeftEye:         ear.LeftEye,
		RightEye:        ear.RightEye,
		Detector:        landmark.DefaultOptions(),
		SuccessCooldown: DefaultSuccessCooldown,
		ErrorCooldown:   DefaultErrorCooldown,
		LogSize:         DefaultLogSize,
		RecordTimeout:   DefaultRecordTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.LeftEye == (ear.EyeIndices{}) {
		c.LeftEye = def.LeftEye
	}
	if c.RightEye == (ear.EyeIndices{}) {
		c.RightEye = def.RightEye
	}
	if c.Detector == (landmark.Options{}) {
		c.Detector = def.Detector
	}
	if c.SuccessCooldown <= 0 {
		c.SuccessCooldown = def.SuccessCooldown
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = def.ErrorCooldown
	}
	if c.LogSize <= 0 {
		c.LogSize = def.LogSize
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = def.RecordTimeout
	}
	return c
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	OpenCamera  CameraOpener
	NewDetector DetectorFactory
	Recognizer  Recognizer

	// Encoder is optional; frames are submitted as captured without one.
	Encoder   Encoder
	Recorders []Recorder
}

type rawEncoder struct{}

func (rawEncoder) Encode(frame []byte) ([]byte, error) { return frame, nil }

// User facing messages.
const (
	msgCameraOff     = "Please turn on the camera"
	msgCameraStopped = "Camera off"
	msgCameraOn      = "Camera on"
	msgCameraLost    = "Camera disconnected"
	msgBlink         = "Please blink to verify"
	msgBlinkAgain    = "Please blink to check in again"
	msgHoldStill     = "Hold still..."
	msgNoFace        = "No face found"
	msgRecognizing   = "Recognizing..."
	msgNotRecognized = "Face not recognized"
	msgConnError     = "Server connection error"
)
