// Package conf contains the configuration of the command.
package conf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bluenviron/framecast/pkg/encoder"
)

// Duration is a time.Duration that is written in YAML as a string, like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	du, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(du)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Codec is a codec name, "h264" or "mjpeg".
type Codec string

// Encoder returns the corresponding encoder.Codec.
func (c Codec) Encoder() (encoder.Codec, error) {
	switch c {
	case "h264":
		return encoder.CodecH264, nil
	case "mjpeg":
		return encoder.CodecMJPEG, nil
	}
	return 0, fmt.Errorf("unsupported codec '%s'", c)
}

// Server contains server settings.
type Server struct {
	URL                 string   `yaml:"url"`
	WebSocketAddress    string   `yaml:"websocket_address"`
	Codec               Codec    `yaml:"codec"`
	Width               int      `yaml:"width"`
	Height              int      `yaml:"height"`
	Channels            int      `yaml:"channels"`
	Bitrate             int      `yaml:"bitrate"`
	FPS                 int      `yaml:"fps"`
	FrameQueueSize      int      `yaml:"frame_queue_size"`
	ClientQueueSize     int      `yaml:"client_queue_size"`
	MultithreadedTiling bool     `yaml:"multithreaded_tiling"`
	TileWorkers         int      `yaml:"tile_workers"`
	UseCustomEncodeJPEG bool     `yaml:"use_custom_encode_jpeg"`
	JPEGQuality         int      `yaml:"jpeg_quality"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	RTCPPeriod          Duration `yaml:"rtcp_period"`
	DSCP                int      `yaml:"dscp"`
}

// Source contains settings of the synthetic frame source.
type Source struct {
	// "bars" or "gradient".
	Pattern string `yaml:"pattern"`
	// frames per second generated by the source.
	FPS int `yaml:"fps"`
	// pass frames through the frame queue instead of encoding them in the source routine.
	Buffered bool `yaml:"buffered"`
}

// MQTT contains settings of the status reporter.
// The reporter is disabled when Broker is empty.
type MQTT struct {
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Topic    string   `yaml:"topic"`
	QoS      byte     `yaml:"qos"`
	Period   Duration `yaml:"period"`
}

// Conf is the configuration of the command.
type Conf struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Server    Server `yaml:"server"`
	Source    Source `yaml:"source"`
	MQTT      MQTT   `yaml:"mqtt"`
}

// Default returns the default configuration.
func Default() *Conf {
	c := &Conf{}
	c.setDefaults()
	return c
}

func (c *Conf) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}

	if c.Server.URL == "" {
		c.Server.URL = "rtsp://0.0.0.0:8554/stream"
	}
	if c.Server.Codec == "" {
		c.Server.Codec = "h264"
	}
	if c.Server.Width == 0 {
		c.Server.Width = 1280
	}
	if c.Server.Height == 0 {
		c.Server.Height = 720
	}
	if c.Server.Channels == 0 {
		c.Server.Channels = 3
	}
	if c.Server.FPS == 0 {
		c.Server.FPS = 30
	}

	if c.Source.Pattern == "" {
		c.Source.Pattern = "bars"
	}
	if c.Source.FPS == 0 {
		c.Source.FPS = c.Server.FPS
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "framecast"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "framecast/" + c.MQTT.ClientID + "/status"
	}
	if c.MQTT.Period == 0 {
		c.MQTT.Period = Duration(5 * time.Second)
	}
}

// Validate checks the configuration.
func (c *Conf) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level '%s'", c.LogLevel)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format '%s'", c.LogFormat)
	}

	if _, err := c.Server.Codec.Encoder(); err != nil {
		return fmt.Errorf("server.codec: %w", err)
	}

	if c.Server.Width <= 0 || c.Server.Height <= 0 {
		return fmt.Errorf("server.width and server.height must be > 0")
	}

	if c.Server.Channels != 1 && c.Server.Channels != 3 {
		return fmt.Errorf("server.channels must be 1 or 3")
	}

	if c.Server.FPS <= 0 {
		return fmt.Errorf("server.fps must be > 0")
	}

	if c.Server.JPEGQuality < 0 || c.Server.JPEGQuality > 100 {
		return fmt.Errorf("server.jpeg_quality must be between 0 and 100")
	}

	if c.Server.DSCP < 0 || c.Server.DSCP > 63 {
		return fmt.Errorf("server.dscp must be between 0 and 63")
	}

	switch c.Source.Pattern {
	case "bars", "gradient":
	default:
		return fmt.Errorf("invalid source.pattern '%s'", c.Source.Pattern)
	}

	if c.Source.FPS <= 0 {
		return fmt.Errorf("source.fps must be > 0")
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	if c.MQTT.Period <= 0 {
		return fmt.Errorf("mqtt.period must be > 0")
	}

	return nil
}

// Load reads, parses and validates a YAML configuration file.
// An empty path returns the default configuration.
func Load(path string) (*Conf, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates a YAML configuration.
// Unknown keys are rejected.
func Parse(data []byte) (*Conf, error) {
	var c Conf

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(&c)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	c.setDefaults()

	err = c.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &c, nil
}
