// Package config loads the recorder configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration
type Config struct {
	Device      string        `yaml:"device"`       // Device name under device_dir, e.g. video0
	DeviceDir   string        `yaml:"device_dir"`   // default: /dev
	SocketDir   string        `yaml:"socket_dir"`   // Frame socket directory (default: /tmp)
	OutputDir   string        `yaml:"output_dir"`   // Recordings and stills, overridden by RECORDING_PATH
	GracePeriod time.Duration `yaml:"grace_period"` // Pause between preview and source stop (default: 1s)

	Pipelines PipelinesConfig `yaml:"pipelines"`
	Recording RecordingConfig `yaml:"recording"`
	Still     StillConfig     `yaml:"still"`
	Source    SourceConfig    `yaml:"source"`
	Sprite    SpriteConfig    `yaml:"sprite"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
}

// PipelinesConfig holds gst-launch descriptors for each consumer
type PipelinesConfig struct {
	Source    string `yaml:"source"`
	Recording string `yaml:"recording"`
	Still     string `yaml:"still"`
	Preview   string `yaml:"preview"` // Empty disables the preview
}

// SourceConfig bounds source startup and shutdown
type SourceConfig struct {
	StartTimeout time.Duration `yaml:"start_timeout"` // Caps negotiation budget (default: 5s)
	StopTimeout  time.Duration `yaml:"stop_timeout"`  // EOS drain budget (default: 5s)
}

// RecordingConfig contains chunked recording settings
type RecordingConfig struct {
	ChunkSize   int           `yaml:"chunk_size"`   // Segment target duration in seconds
	ChunkPrefix string        `yaml:"chunk_prefix"` // default: chunk
	Extension   string        `yaml:"extension"`    // default: ts
	StopTimeout time.Duration `yaml:"stop_timeout"` // default: 5s
}

// StillConfig contains still capture settings
type StillConfig struct {
	Prefix    string        `yaml:"prefix"`    // default: still
	Extension string        `yaml:"extension"` // default: jpg
	Timeout   time.Duration `yaml:"timeout"`   // default: 5s
}

// SpriteConfig contains scrub thumbnail settings
type SpriteConfig struct {
	BatchSize   int           `yaml:"batch_size"`   // default: 6
	StripHeight int           `yaml:"strip_height"` // default: 90
	SliceWidth  int           `yaml:"slice_width"`  // default: 16
	CueInterval time.Duration `yaml:"cue_interval"` // default: 1s
}

// HTTPConfig contains the control API settings
type HTTPConfig struct {
	Addr string `yaml:"addr"` // default: :3000
}

// MQTTConfig contains chunk notification settings. An empty broker disables
// publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`    // host:port
	ClientID string `yaml:"client_id"` // default: recorder-<device>
	Topic    string `yaml:"topic"`     // default: recorder/chunks
	QoS      byte   `yaml:"qos"`
	Encoding string `yaml:"encoding"` // json or msgpack (default: json)
}

// env holds the environment overrides.
type env struct {
	RecordingPath string `envconfig:"RECORDING_PATH"`
	HTTPAddr      string `envconfig:"RECORDER_HTTP_ADDR"`
	LogLevel      string `envconfig:"RECORDER_LOG_LEVEL"`
	MQTTBroker    string `envconfig:"RECORDER_MQTT_BROKER"`
}

// Default pipeline descriptors. Slots are named video-source, video-sink and
// frame-sink.
const (
	DefaultSourcePipeline = "v4l2src name=video-source ! video/x-raw,width=1280,height=720 ! " +
		"videoconvert ! video/x-raw,format=I420 ! unixfdsink name=video-sink"
	DefaultRecordingPipeline = "unixfdsrc name=video-source ! tee name=t ! " +
		"queue ! videoconvert ! x264enc tune=zerolatency key-int-max=30 ! h264parse ! hlssink2 name=video-sink max-files=0 " +
		"t. ! queue leaky=downstream ! videorate ! video/x-raw,framerate=1/1 ! videoconvert ! " +
		"video/x-raw,format=RGB ! appsink name=frame-sink"
	DefaultStillPipeline = "unixfdsrc name=video-source num-buffers=1 ! videoconvert ! jpegenc ! " +
		"filesink name=video-sink"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Device:      "video0",
		DeviceDir:   "/dev",
		SocketDir:   "/tmp",
		OutputDir:   "/tmp/recordings",
		GracePeriod: time.Second,
		Pipelines: PipelinesConfig{
			Source:    DefaultSourcePipeline,
			Recording: DefaultRecordingPipeline,
			Still:     DefaultStillPipeline,
		},
		Source: SourceConfig{
			StartTimeout: 5 * time.Second,
			StopTimeout:  5 * time.Second,
		},
		Recording: RecordingConfig{
			ChunkSize:   10,
			ChunkPrefix: "chunk",
			Extension:   "ts",
			StopTimeout: 5 * time.Second,
		},
		Still: StillConfig{
			Prefix:    "still",
			Extension: "jpg",
			Timeout:   5 * time.Second,
		},
		Sprite: SpriteConfig{
			BatchSize:   6,
			StripHeight: 90,
			SliceWidth:  16,
			CueInterval: time.Second,
		},
		HTTP:     HTTPConfig{Addr: ":3000"},
		MQTT:     MQTTConfig{Topic: "recorder/chunks", Encoding: "json"},
		LogLevel: "info",
	}
}

// Load reads a YAML configuration file over the defaults, applies
// environment overrides and validates the result. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "recorder-" + cfg.Device
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return err
	}
	if e.RecordingPath != "" {
		c.OutputDir = e.RecordingPath
	}
	if e.HTTPAddr != "" {
		c.HTTP.Addr = e.HTTPAddr
	}
	if e.LogLevel != "" {
		c.LogLevel = e.LogLevel
	}
	if e.MQTTBroker != "" {
		c.MQTT.Broker = e.MQTTBroker
	}
	return nil
}

// Validate checks required fields and ranges.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Device == "" {
		errs = append(errs, errors.New("device is required"))
	}
	if cfg.DeviceDir == "" {
		errs = append(errs, errors.New("device_dir is required"))
	}
	if cfg.SocketDir == "" {
		errs = append(errs, errors.New("socket_dir is required"))
	}
	if cfg.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required (or set RECORDING_PATH)"))
	}
	if cfg.Pipelines.Source == "" {
		errs = append(errs, errors.New("pipelines.source is required"))
	}
	if cfg.Pipelines.Recording == "" {
		errs = append(errs, errors.New("pipelines.recording is required"))
	}
	if cfg.Pipelines.Still == "" {
		errs = append(errs, errors.New("pipelines.still is required"))
	}
	if cfg.Recording.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("recording.chunk_size must be positive, got %d", cfg.Recording.ChunkSize))
	}
	if cfg.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period must not be negative, got %s", cfg.GracePeriod))
	}
	if cfg.Sprite.BatchSize < 0 || cfg.Sprite.StripHeight < 0 || cfg.Sprite.SliceWidth < 0 {
		errs = append(errs, errors.New("sprite sizes must not be negative"))
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch cfg.MQTT.Encoding {
	case "", "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("mqtt.encoding must be json or msgpack, got %q", cfg.MQTT.Encoding))
	}
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}

	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}
