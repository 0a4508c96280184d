//go:build linux
// +build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/mppbufferpool/bufferpool"
	"github.com/xaionaro-go/mppbufferpool/config"
	"github.com/xaionaro-go/mppbufferpool/decoder"
	"github.com/xaionaro-go/mppbufferpool/metrics"
	"github.com/xaionaro-go/mppbufferpool/mpp"
	"github.com/xaionaro-go/mppbufferpool/mpp/rockchip"
	"github.com/xaionaro-go/mppbufferpool/mpp/simulated"
	"github.com/xaionaro-go/mppbufferpool/types"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] --input <elementary stream file>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	configPath := pflag.String("config", "", "path to a YAML config file")
	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	ioMode := types.IOModeAuto
	pflag.Var(&ioMode, "io-mode", "IO mode of the decoder output: auto, ion, drm")
	backend := pflag.String("backend", "", "codec backend: simulated or rockchip")
	codec := pflag.String("codec", "", "codec of the input stream: h264, h265, vp8, ...")
	metricsAddr := pflag.String("metrics-listen-addr", "", "an address to serve the prometheus metrics at")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	inputPath := pflag.String("input", "", "path to the elementary stream to decode")
	chunkSizeString := pflag.String("chunk-size", "64KiB", "amount of bytes submitted as one frame")
	dumpConfig := pflag.Bool("dump-config", false, "print the effective config and exit")
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if !pflag.CommandLine.Changed("log-level") {
			if level, err := cfg.Level(); err == nil {
				loggerLevel = level
			}
		}
	}
	if pflag.CommandLine.Changed("io-mode") {
		cfg.Decoder.IOMode = ioMode
	}
	if *backend != "" {
		cfg.Backend = config.Backend(*backend)
	}
	if *codec != "" {
		cfg.Codec = *codec
	}
	if *metricsAddr != "" {
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	cfg.LogLevel = loggerLevel.String()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dumpConfig {
		spew.Fdump(os.Stdout, cfg)
		return
	}
	if *inputPath == "" {
		pflag.Usage()
		os.Exit(1)
	}
	chunkSize, err := humanize.ParseBytes(*chunkSizeString)
	if err != nil || chunkSize == 0 {
		fmt.Fprintf(os.Stderr, "invalid chunk size '%s': %v\n", *chunkSizeString, err)
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(addr, mux)) })
	}

	platform, err := newPlatform(ctx, cfg)
	if err != nil {
		l.Fatal(err)
	}
	coding, err := cfg.Coding()
	if err != nil {
		l.Fatal(err)
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		l.Fatal(err)
	}
	defer f.Close()

	var pictureBytes atomic.Uint64
	sink := decoder.SinkFunc(func(ctx context.Context, buf *bufferpool.Buffer) error {
		pictureBytes.Add(uint64(buf.Size()))
		buf.Unref(ctx)
		return nil
	})
	dec, err := decoder.New(ctx, platform, sink, cfg.DecoderConfig(),
		decoder.OptionMetrics(m),
		decoder.OptionErrorHandler(types.ErrorHandlerFunc(func(ctx context.Context, err error) error {
			l.Errorf("decoding failed: %v", err)
			return err
		})),
	)
	if err != nil {
		l.Fatal(err)
	}
	defer dec.Close(ctx)
	if err := dec.SetFormat(ctx, decoder.Format{Coding: coding}); err != nil {
		l.Fatal(err)
	}
	if err := dec.Start(ctx); err != nil {
		l.Fatal(err)
	}

	var inputBytes atomic.Uint64
	printStats := func() {
		stats := dec.Stats()
		fmt.Printf(
			"read %s, submitted %d, decoded %d (%s), dropped %d\n",
			humanize.IBytes(inputBytes.Load()),
			stats.Submitted, stats.Delivered,
			humanize.IBytes(pictureBytes.Load()),
			stats.Dropped,
		)
	}

	errCh := make(chan error, 1)
	observability.Go(ctx, func(ctx context.Context) {
		defer cancelFn()
		errCh <- decodeFile(ctx, dec, f, int(chunkSize), &inputBytes)
	})

	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			printStats()
			if err := <-errCh; err != nil {
				l.Fatal(err)
			}
			return
		case <-t.C:
			printStats()
		}
	}
}

func newPlatform(ctx context.Context, cfg config.Config) (mpp.Platform, error) {
	switch cfg.Backend {
	case config.BackendSimulated:
		return simulated.New(simulated.Config{
			Width:          cfg.Simulated.Width,
			Height:         cfg.Simulated.Height,
			InputQueueSize: cfg.Simulated.InputQueueSize,
		}), nil
	case config.BackendRockchip:
		return rockchip.New(ctx, rockchip.OptionLibraryPath(cfg.LibraryPath))
	default:
		return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
	}
}

func decodeFile(
	ctx context.Context,
	dec *decoder.Decoder,
	r io.Reader,
	chunkSize int,
	inputBytes *atomic.Uint64,
) error {
	buf := make([]byte, chunkSize)
	for pts := int64(0); ; pts++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			inputBytes.Add(uint64(n))
			if err := dec.HandleFrame(ctx, buf[:n], pts, pts); err != nil {
				return fmt.Errorf("unable to decode chunk #%d: %w", pts, err)
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return dec.Finish(ctx)
		default:
			return fmt.Errorf("unable to read the input: %w", err)
		}
	}
}
