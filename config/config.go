// Package config loads softphone settings from defaults, an optional YAML
// file, a .env file and SOFTPHONE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Transport names for Device.Transport.
const (
	TransportSimulated = "simulated"
	// TransportExternal expects a Registrar to be supplied programmatically.
	TransportExternal = "external"
)

// Config is the complete softphone configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Device  DeviceConfig  `yaml:"device"`
	Call    CallConfig    `yaml:"call"`
	Audio   AudioConfig   `yaml:"audio"`
	Quality QualityConfig `yaml:"quality"`
	Network NetworkConfig `yaml:"network"`
	CallLog CallLogConfig `yaml:"calllog"`
	Metrics ServerConfig  `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
	Mic     MicConfig     `yaml:"mic"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
}

// DeviceConfig configures registration and the transport.
type DeviceConfig struct {
	Transport     string        `yaml:"transport"`
	Identity      string        `yaml:"identity"`
	TokenURL      string        `yaml:"token_url"`    // remote token endpoint; empty mints locally
	TokenSecret   string        `yaml:"token_secret"` // HS256 secret for local tokens
	TokenTTL      time.Duration `yaml:"token_ttl"`
	RefreshBuffer time.Duration `yaml:"refresh_buffer"`

	// Simulated transport
	RingDelay   time.Duration `yaml:"ring_delay"`
	AnswerDelay time.Duration `yaml:"answer_delay"`
	AutoAnswer  bool          `yaml:"auto_answer"`
	DropEvery   int           `yaml:"drop_every"`
}

// CallConfig bounds call setup and teardown.
type CallConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TeardownTimeout       time.Duration `yaml:"teardown_timeout"`
	TelemetryFlushTimeout time.Duration `yaml:"telemetry_flush_timeout"`
	DigitQueueSize        int           `yaml:"digit_queue_size"`
	EventBuffer           int           `yaml:"event_buffer"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRate  int           `yaml:"sample_rate"`
	Channels    int           `yaml:"channels"`
	FrameSize   int           `yaml:"frame_size"`
	FrameBudget time.Duration `yaml:"frame_budget"`
}

// QualityConfig tunes the quality monitor.
type QualityConfig struct {
	Interval    time.Duration `yaml:"interval"`
	HistorySize int           `yaml:"history_size"`
}

// NetworkConfig seeds the network signals used before the transport
// reports any.
type NetworkConfig struct {
	EffectiveType string  `yaml:"effective_type"`
	DownlinkMbps  float64 `yaml:"downlink_mbps"`
	RTTMs         int     `yaml:"rtt_ms"`
	CPULoad       float64 `yaml:"cpu_load"`
}

// CallLogConfig selects where call records go.
type CallLogConfig struct {
	Sink     string `yaml:"sink"`     // log, memory or amqp
	Encoding string `yaml:"encoding"` // json or msgpack
	AMQPURL  string `yaml:"amqp_url"`
	Queue    string `yaml:"queue"`
}

// ServerConfig enables an HTTP endpoint.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// EventsConfig enables the WebSocket event endpoint. It accepts commands,
// so it binds loopback by default and rejects cross-origin browser pages
// unless they are listed.
type EventsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Token          string   `yaml:"token"` // required from clients when set
}

// MicConfig selects the audio source.
type MicConfig struct {
	Source    string  `yaml:"source"` // synthetic or portaudio
	ToneHz    float64 `yaml:"tone_hz"`
	Amplitude float64 `yaml:"amplitude"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Device: DeviceConfig{
			Transport:     TransportSimulated,
			Identity:      "softphone",
			TokenSecret:   "softphone-dev-secret",
			TokenTTL:      time.Hour,
			RefreshBuffer: 60 * time.Second,
			RingDelay:     time.Second,
			AnswerDelay:   2 * time.Second,
			AutoAnswer:    true,
		},
		Call: CallConfig{
			DialTimeout:           30 * time.Second,
			TeardownTimeout:       2 * time.Second,
			TelemetryFlushTimeout: 3 * time.Second,
			DigitQueueSize:        32,
			EventBuffer:           64,
		},
		Audio: AudioConfig{
			SampleRate:  48000,
			Channels:    1,
			FrameSize:   4096,
			FrameBudget: 10 * time.Millisecond,
		},
		Quality: QualityConfig{
			Interval:    100 * time.Millisecond,
			HistorySize: 50,
		},
		Network: NetworkConfig{
			EffectiveType: "4g",
			RTTMs:         80,
			CPULoad:       0.3,
		},
		CallLog: CallLogConfig{Sink: "log", Encoding: "json", Queue: "softphone.calls"},
		Metrics: ServerConfig{Addr: ":9102"},
		Events:  EventsConfig{Addr: "127.0.0.1:8089"},
		Mic:     MicConfig{Source: "synthetic", ToneHz: 180, Amplitude: 0.1},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A .env file in the working directory is read if present.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit .env location.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "config.Load",
		"file":      path,
		"transport": cfg.Device.Transport,
		"sink":      cfg.CallLog.Sink,
	}).Debug("Configuration loaded")
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}

	switch c.Device.Transport {
	case TransportSimulated, TransportExternal:
	default:
		return fmt.Errorf("%w: device transport %q", ErrInvalidConfig, c.Device.Transport)
	}
	if c.Device.TokenURL == "" && c.Device.TokenSecret == "" {
		return fmt.Errorf("%w: token_url or token_secret is required", ErrInvalidConfig)
	}

	switch {
	case c.Call.DialTimeout <= 0:
		return fmt.Errorf("%w: dial timeout %s", ErrInvalidConfig, c.Call.DialTimeout)
	case c.Call.TeardownTimeout <= 0 || c.Call.TelemetryFlushTimeout <= 0:
		return fmt.Errorf("%w: teardown and telemetry timeouts must be positive", ErrInvalidConfig)
	case c.Call.DigitQueueSize <= 0 || c.Call.EventBuffer <= 0:
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidConfig)
	case c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.FrameSize <= 0:
		return fmt.Errorf("%w: audio format", ErrInvalidConfig)
	case c.Quality.Interval <= 0 || c.Quality.HistorySize <= 0:
		return fmt.Errorf("%w: quality interval and history", ErrInvalidConfig)
	case c.Network.CPULoad < 0 || c.Network.CPULoad > 1:
		return fmt.Errorf("%w: cpu load %.2f", ErrInvalidConfig, c.Network.CPULoad)
	}

	switch c.CallLog.Sink {
	case "log", "memory":
	case "amqp":
		if c.CallLog.AMQPURL == "" || c.CallLog.Queue == "" {
			return fmt.Errorf("%w: amqp sink needs amqp_url and queue", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: call log sink %q", ErrInvalidConfig, c.CallLog.Sink)
	}
	if c.CallLog.Encoding != "json" && c.CallLog.Encoding != "msgpack" {
		return fmt.Errorf("%w: call log encoding %q", ErrInvalidConfig, c.CallLog.Encoding)
	}
	if c.Mic.Source != "synthetic" && c.Mic.Source != "portaudio" {
		return fmt.Errorf("%w: mic source %q", ErrInvalidConfig, c.Mic.Source)
	}
	return nil
}

// ApplyLogging configures the global logrus logger.
func (c *Config) ApplyLogging() {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
