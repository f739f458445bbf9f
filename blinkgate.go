// Package blinkgate assembles the attendance daemon from its configuration.
package blinkgate

import (
	"context"
	"log/slog"

	"github.com/abihf/blinkgate/capture"
	"github.com/abihf/blinkgate/config"
	"github.com/abihf/blinkgate/journal"
	"github.com/abihf/blinkgate/landmark"
	"github.com/abihf/blinkgate/publish"
	"github.com/abihf/blinkgate/recognize"
	"github.com/abihf/blinkgate/server"
	"github.com/abihf/blinkgate/session"
	"github.com/abihf/blinkgate/snapshot"
	"github.com/pkg/errors"
)

type Service struct {
	Controller *session.Controller
	Recognizer *recognize.Client

	publisher *publish.Publisher
	journal   *journal.Store
	logger    *slog.Logger
}

// NewService connects the optional MQTT and database sinks and builds the
// session controller. The camera stays off until the controller is started.
func NewService(ctx context.Context, conf *config.Config, logger *slog.Logger) (*Service, error) {
	s := &Service{
		Recognizer: recognize.New(conf.RecognizeURL, conf.RecognizeTimeout()),
		logger:     logger,
	}

	var recorders []session.Recorder
	if conf.MQTT.Broker != "" {
		pub, err := publish.Connect(publish.Config{
			Broker:   conf.MQTT.Broker,
			ClientID: conf.MQTT.ClientID,
			Username: conf.MQTT.Username,
			Password: conf.MQTT.Password,
			Topic:    conf.MQTT.Topic,
			DeviceID: conf.DeviceID,
		}, logger.With("component", "mqtt"))
		if err != nil {
			return nil, err
		}
		s.publisher = pub
		recorders = append(recorders, pub)
	}

	if conf.DatabaseURL != "" {
		store, err := journal.Open(ctx, conf.DatabaseURL, conf.DeviceID)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = store
		recorders = append(recorders, store)
	}

	camOpt := &capture.Option{
		Device:        conf.Device,
		Width:         conf.Width,
		Height:        conf.Height,
		FrameInterval: conf.FrameInterval(),
		CPU:           conf.CPU,
	}
	camLogger := logger.With("component", "capture")
	command := conf.Landmark.Command

	deps := session.Deps{
		OpenCamera: func() (session.Camera, error) {
			cam, err := capture.Open(camOpt, camLogger)
			if err != nil {
				return nil, err
			}
			return cam, nil
		},
		NewDetector: func() (session.Detector, error) {
			w, err := landmark.NewWorker(command)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Recognizer: s.Recognizer,
		Encoder:    snapshot.New(snapshot.Options{MaxWidth: conf.Width, MaxHeight: conf.Height, Quality: conf.JPEGQuality}),
		Recorders:  recorders,
	}

	ctrl, err := session.New(SessionConfig(conf), deps, logger.With("component", "session"))
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "create session controller")
	}
	s.Controller = ctrl
	return s, nil
}

// SessionConfig maps the daemon configuration onto the controller's.
func SessionConfig(conf *config.Config) session.Config {
	cfg := session.DefaultConfig()
	cfg.Threshold = conf.Threshold
	cfg.Detector = landmark.Options{
		MaxFaces:               conf.Landmark.MaxFaces,
		RefineLandmarks:        conf.Landmark.RefineLandmarks,
		MinDetectionConfidence: conf.Landmark.MinDetectionConfidence,
		MinTrackingConfidence:  conf.Landmark.MinTrackingConfidence,
	}
	cfg.SuccessCooldown = conf.SuccessCooldown()
	cfg.ErrorCooldown = conf.ErrorCooldown()
	cfg.LogSize = conf.LogSize
	return cfg
}

// History is the journal when a database is configured, nil otherwise.
func (s *Service) History() server.History {
	if s.journal == nil {
		return nil
	}
	return s.journal
}

// Close releases the sinks. The controller is stopped by cancelling its Run context.
func (s *Service) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
}
