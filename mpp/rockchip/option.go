// option.go defines configuration options for the platform.

package rockchip

import (
	"os"
)

type Config struct {
	LibraryPath string
}

func defaultConfig() Config {
	return Config{
		LibraryPath: os.Getenv("MPP_LIB_PATH"),
	}
}

type Option interface {
	apply(*Config)
}
type Options []Option

func (opts Options) apply(cfg *Config) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options) config() Config {
	cfg := defaultConfig()
	opts.apply(&cfg)
	return cfg
}

// OptionLibraryPath overrides the path of librockchip_mpp.so.
type OptionLibraryPath string

func (o OptionLibraryPath) apply(cfg *Config) {
	if o != "" {
		cfg.LibraryPath = string(o)
	}
}
