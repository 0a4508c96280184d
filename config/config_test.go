package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/mppbufferpool/decoder"
	"github.com/xaionaro-go/mppbufferpool/logger"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/types"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: rockchip
codec: hevc
log_level: trace
decoder:
  io_mode: ion
  output_buffers: 24
  output_timeout: 250ms
metrics:
  listen_addr: 127.0.0.1:9090
`))
	require.NoError(t, err)
	require.Equal(t, BackendRockchip, cfg.Backend)
	require.Equal(t, types.IOModeION, cfg.Decoder.IOMode)
	require.EqualValues(t, 24, cfg.Decoder.OutputBuffers)
	require.Equal(t, 250*time.Millisecond, cfg.Decoder.OutputTimeout)
	require.Equal(t, "127.0.0.1:9090", cfg.Metrics.ListenAddr)

	coding, err := cfg.Coding()
	require.NoError(t, err)
	require.Equal(t, mpp.CodingHEVC, coding)
	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, logger.LevelTrace, level)

	// untouched values come from the defaults
	require.EqualValues(t, decoder.DefaultInputBuffers, cfg.Decoder.InputBuffers)
	require.True(t, cfg.Decoder.DownstreamHasVideoMeta)

	decCfg := cfg.DecoderConfig()
	require.Equal(t, types.IOModeION, decCfg.IOMode)
	require.Equal(t, 250*time.Millisecond, decCfg.OutputTimeout)
}

func TestValidate(t *testing.T) {
	for name, data := range map[string]string{
		"backend":        "backend: v4l2",
		"codec":          "codec: av1",
		"log level":      "log_level: loud",
		"io mode":        "decoder: {io_mode: rw}",
		"unknown mode":   "decoder: {io_mode: mmap}",
		"output buffers": "decoder: {output_buffers: 33}",
		"geometry":       "simulated: {width: 0}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}
	require.NoError(t, Default().Validate())
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Decoder.IOMode = types.IOModeDRM
	cfg.Simulated.Width = 64
	data, err := cfg.Bytes()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
