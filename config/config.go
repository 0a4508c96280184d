// Package config implements the YAML configuration of the mppdecode tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xaionaro-go/mppbufferpool/decoder"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
	"github.com/xaionaro-go/mppbufferpool/videoinfo"
)

type Backend string

const (
	BackendSimulated = Backend("simulated")
	BackendRockchip  = Backend("rockchip")
)

type Config struct {
	Backend     Backend `yaml:"backend"`
	LibraryPath string  `yaml:"library_path,omitempty"`
	Codec       string  `yaml:"codec"`
	LogLevel    string  `yaml:"log_level"`

	Decoder   DecoderConfig   `yaml:"decoder"`
	Simulated SimulatedConfig `yaml:"simulated"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DecoderConfig struct {
	IOMode                 types.IOMode  `yaml:"io_mode"`
	OutputBuffers          uint          `yaml:"output_buffers"`
	OutputTimeout          time.Duration `yaml:"output_timeout"`
	InputBufferSize        uint          `yaml:"input_buffer_size"`
	InputBuffers           uint          `yaml:"input_buffers"`
	DownstreamHasVideoMeta bool          `yaml:"downstream_has_video_meta"`
}

// SimulatedConfig is the geometry of the pictures the simulated backend
// produces.
type SimulatedConfig struct {
	Width          uint32 `yaml:"width"`
	Height         uint32 `yaml:"height"`
	InputQueueSize int    `yaml:"input_queue_size"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

func Default() Config {
	return Config{
		Backend:  BackendSimulated,
		Codec:    "h264",
		LogLevel: "info",
		Decoder: DecoderConfig{
			IOMode:                 types.IOModeAuto,
			OutputBuffers:          decoder.OutputBuffers,
			OutputTimeout:          decoder.DefaultOutputTimeout,
			InputBufferSize:        decoder.DefaultInputBufferSize,
			InputBuffers:           decoder.DefaultInputBuffers,
			DownstreamHasVideoMeta: true,
		},
		Simulated: SimulatedConfig{
			Width:          1920,
			Height:         1080,
			InputQueueSize: 4,
		},
	}
}

// Load reads the configuration file; the missing values are taken from Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read the config file '%s': %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unable to parse the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (cfg Config) Bytes() ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (cfg Config) Validate() error {
	var errs []error
	switch cfg.Backend {
	case BackendSimulated, BackendRockchip:
	default:
		errs = append(errs, fmt.Errorf("unknown backend '%s'", cfg.Backend))
	}
	if _, err := cfg.Coding(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Level(); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Decoder.IOMode {
	case types.IOModeAuto, types.IOModeION, types.IOModeDRM:
	default:
		errs = append(errs, types.ErrUnsupportedIOMode{IOMode: cfg.Decoder.IOMode})
	}
	if cfg.Decoder.OutputBuffers > mpp.MaxFrames {
		errs = append(errs, types.ErrCapacityExceeded{
			Requested: cfg.Decoder.OutputBuffers,
			Capacity:  mpp.MaxFrames,
		})
	}
	if cfg.Backend == BackendSimulated && (cfg.Simulated.Width == 0 || cfg.Simulated.Height == 0) {
		errs = append(errs, fmt.Errorf("the simulated picture size is not set"))
	}
	return errors.Join(errs...)
}

func (cfg Config) Coding() (mpp.CodingType, error) {
	return videoinfo.ParseCoding(cfg.Codec)
}

func (cfg Config) Level() (logger.Level, error) {
	return logger.ParseLevel(cfg.LogLevel)
}

// DecoderConfig returns the configuration of the decoder; the downstream
// pool is left to the caller.
func (cfg Config) DecoderConfig() decoder.Config {
	return decoder.Config{
		IOMode:                 cfg.Decoder.IOMode,
		OutputBuffers:          cfg.Decoder.OutputBuffers,
		OutputTimeout:          cfg.Decoder.OutputTimeout,
		InputBufferSize:        cfg.Decoder.InputBufferSize,
		InputBuffers:           cfg.Decoder.InputBuffers,
		DownstreamHasVideoMeta: cfg.Decoder.DownstreamHasVideoMeta,
	}
}
