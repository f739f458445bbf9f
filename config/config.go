package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const DefaultPath = "/etc/blinkgate/config.json"

type LandmarkConfig struct {
	Command                []string `json:"command"`
	MaxFaces               int      `json:"max_faces"`
	RefineLandmarks        bool     `json:"refine_landmarks"`
	MinDetectionConfidence float64  `json:"min_detection_confidence"`
	MinTrackingConfidence  float64  `json:"min_tracking_confidence"`
}

type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Config struct {
	// DeviceID names this kiosk in published and journaled entries.
	DeviceID string `json:"device_id"`

	Device          string  `json:"device"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameIntervalMs int     `json:"frame_interval_ms"`
	CPU             int     `json:"cpu"`
	Threshold       float64 `json:"threshold"`

	Landmark LandmarkConfig `json:"landmark"`

	RecognizeURL       string `json:"recognize_url"`
	RecognizeTimeoutMs int    `json:"recognize_timeout_ms"`
	JPEGQuality        int    `json:"jpeg_quality"`

	SuccessCooldownMs int `json:"success_cooldown_ms"`
	ErrorCooldownMs   int `json:"error_cooldown_ms"`
	LogSize           int `json:"log_size"`

	Socket   string `json:"socket"`
	PidFile  string `json:"pid_file"`
	HTTPAddr string `json:"http_addr"`

	MQTT        MQTTConfig `json:"mqtt"`
	DatabaseURL string     `json:"database_url"`

	LogLevel string `json:"log_level"`
}

// Default returns the configuration used for every field the file leaves out.
func Default() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "blinkgate"
	}
	return &Config{
		DeviceID:        host,
		Device:          "/dev/video0",
		Width:           640,
		Height:          480,
		FrameIntervalMs: 33,
		CPU:             -1,
		Threshold:       0.25,
		Landmark: LandmarkConfig{
			Command:                []string{"python3", "-u", "/usr/share/blinkgate/facemesh_worker.py"},
			MaxFaces:               1,
			RefineLandmarks:        true,
			MinDetectionConfidence: 0.5,
			MinTrackingConfidence:  0.5,
		},
		RecognizeURL:       "http://127.0.0.1:8000/recognize",
		RecognizeTimeoutMs: 10000,
		JPEGQuality:        80,
		SuccessCooldownMs:  3000,
		ErrorCooldownMs:    2000,
		LogSize:            10,
		Socket:             "/run/blinkgate/blinkgate.sock",
		PidFile:            "/run/blinkgate/blinkgate.pid",
		HTTPAddr:           "127.0.0.1:8090",
		MQTT: MQTTConfig{
			ClientID: "blinkgate",
			Topic:    "attendance/{device_id}/events",
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults, then applies BLINKGATE_* environment
// overrides, including those from a .env file. A missing file is not an error.
func Load(path string) (*Config, error) {
	conf := Default()

	if err := loadFromFile(path, conf); err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
		slog.Warn("Config file not found, using defaults", "path", path)
	}

	_ = godotenv.Load()
	applyEnv(conf)

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func loadFromFile(path string, conf *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(conf); err != nil {
		return errors.Wrapf(err, "invalid config file %s", path)
	}
	return nil
}

func applyEnv(conf *Config) {
	conf.DeviceID = getEnv("BLINKGATE_DEVICE_ID", conf.DeviceID)
	conf.Device = getEnv("BLINKGATE_DEVICE", conf.Device)
	conf.CPU = getEnvInt("BLINKGATE_CPU", conf.CPU)
	conf.Threshold = getEnvFloat("BLINKGATE_THRESHOLD", conf.Threshold)
	conf.RecognizeURL = getEnv("BLINKGATE_RECOGNIZE_URL", conf.RecognizeURL)
	conf.RecognizeTimeoutMs = getEnvInt("BLINKGATE_RECOGNIZE_TIMEOUT_MS", conf.RecognizeTimeoutMs)
	conf.Socket = getEnv("BLINKGATE_SOCKET", conf.Socket)
	conf.HTTPAddr = getEnv("BLINKGATE_HTTP_ADDR", conf.HTTPAddr)
	conf.MQTT.Broker = getEnv("BLINKGATE_MQTT_BROKER", conf.MQTT.Broker)
	conf.MQTT.Username = getEnv("BLINKGATE_MQTT_USERNAME", conf.MQTT.Username)
	conf.MQTT.Password = getEnv("BLINKGATE_MQTT_PASSWORD", conf.MQTT.Password)
	conf.DatabaseURL = getEnv("BLINKGATE_DATABASE_URL", conf.DatabaseURL)
	conf.LogLevel = getEnv("BLINKGATE_LOG_LEVEL", conf.LogLevel)

	if cmd := os.Getenv("BLINKGATE_LANDMARK_COMMAND"); cmd != "" {
		conf.Landmark.Command = strings.Fields(cmd)
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "error", err)
		return defaultValue
	}
	return i
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("Invalid number in environment, using default", "key", key, "error", err)
		return defaultValue
	}
	return f
}

func (c *Config) Validate() error {
	switch {
	case c.DeviceID == "":
		return errors.New("device_id not set")
	case c.Device == "":
		return errors.New("device not set")
	case c.Threshold <= 0 || c.Threshold >= 1:
		return errors.Errorf("threshold %v must be between 0 and 1", c.Threshold)
	case c.RecognizeURL == "":
		return errors.New("recognize_url not set")
	case len(c.Landmark.Command) == 0:
		return errors.New("landmark.command not set")
	case c.SuccessCooldownMs <= 0 || c.ErrorCooldownMs <= 0:
		return errors.New("cooldowns must be positive")
	case c.LogSize <= 0:
		return errors.Errorf("log_size %d must be positive", c.LogSize)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return errors.Errorf("jpeg_quality %d must be between 1 and 100", c.JPEGQuality)
	case c.Socket == "":
		return errors.New("socket not set")
	}
	return nil
}

func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

func (c *Config) RecognizeTimeout() time.Duration {
	return time.Duration(c.RecognizeTimeoutMs) * time.Millisecond
}

func (c *Config) SuccessCooldown() time.Duration {
	return time.Duration(c.SuccessCooldownMs) * time.Millisecond
}

func (c *Config) ErrorCooldown() time.Duration {
	return time.Duration(c.ErrorCooldownMs) * time.Millisecond
}

// ParseLogLevel maps log_level to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
