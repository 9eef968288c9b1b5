// Command abrsyncd is the reference binary wiring SRT ingest, MPEG-TS
// demuxing, and the multi-source frame synchronizer into one process: one
// SRT publish connection per ABR source, demuxed and fed into a shared
// framesync.Core, whose merged output lands in a muxer.Sink.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/abrsync/internal/framesync"
	"github.com/zsiec/abrsync/internal/ingest"
	srtingest "github.com/zsiec/abrsync/internal/ingest/srt"
	"github.com/zsiec/abrsync/internal/muxer"
	"github.com/zsiec/abrsync/internal/telemetry"
	"github.com/zsiec/abrsync/internal/tsdemux"
)

var version = "dev"

func main() {
	var (
		srtAddr       = pflag.String("srt-addr", envOr("SRT_ADDR", ":6000"), "SRT listen address")
		metricsAddr   = pflag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus /metrics listen address")
		activeSources = pflag.Int("active-sources", envOrInt("ACTIVE_SOURCES", 1), "sources required before the sync worker starts merging")
		videoCapacity = pflag.Int("video-capacity", envOrInt("VIDEO_CAPACITY", framesync.DefaultVideoCapacity), "video sorted frame buffer capacity")
		audioCapacity = pflag.Int("audio-capacity", envOrInt("AUDIO_CAPACITY", framesync.DefaultAudioCapacity), "audio sorted frame buffer capacity")
		sinkCapacity  = pflag.Int("sink-capacity", 4096, "muxer sink FIFO capacity")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	metrics := telemetry.New()
	sink := muxer.NewSink(*sinkCapacity, nil)

	core := framesync.NewCore(framesync.Config{
		ActiveSources: *activeSources,
		VideoCapacity: *videoCapacity,
		AudioCapacity: *audioCapacity,
		Emitter:       sink,
		Stats:         metrics,
	})

	a := &app{core: core, metrics: metrics}

	slog.Info("abrsyncd starting",
		"version", version,
		"srt", *srtAddr,
		"metrics", *metricsAddr,
		"active_sources", *activeSources,
	)

	g, ctx := errgroup.WithContext(ctx)

	registry := ingest.NewRegistry(framesync.MaxSources, func(source int, key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewSource(ctx, source, key, input)
	})

	srtSrv := srtingest.NewServer(*srtAddr, registry, nil)
	metricsSrv := telemetry.NewServer(*metricsAddr, metrics, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		return metricsSrv.Start(ctx)
	})

	g.Go(func() error {
		core.Supervisor().Run(ctx)
		return nil
	})

	g.Go(func() error {
		return drainSink(ctx, sink)
	})

	if err := g.Wait(); err != nil {
		slog.Error("abrsyncd exiting", "error", err)
		os.Exit(1)
	}
}

type app struct {
	core    *framesync.Core
	metrics *telemetry.Metrics
}

// handleNewSource wires one ingest source's byte stream through a tsdemux
// Extractor into the shared Core, translating each AccessUnit into a
// framesync.Sample. It runs for the lifetime of the SRT connection.
func (a *app) handleNewSource(ctx context.Context, source int, key string, input io.Reader) {
	log := slog.With("component", "abrsyncd", "source", source, "key", key)
	log.Info("new ingest source")

	var extractor *tsdemux.Extractor

	extractor = tsdemux.NewExtractor(ctx, source, input, func(au tsdemux.AccessUnit) {
		mediaKind, ok := mapMediaKind(au.StreamType)
		if !ok {
			return
		}

		if mediaKind == framesync.MediaMPEG2Video {
			a.metrics.RecordIntraGap(source, extractor.IntraGap(au.PID))
		}

		sample := framesync.Sample{
			Payload:   au.Payload,
			MediaKind: mediaKind,
			SyncFrame: au.SyncFrame,
			PTSRaw:    translateTimestamp(au.PTSRaw),
			DTSRaw:    translateTimestamp(au.DTSRaw),
			LastPCR:   framesync.NoTimestamp,
			Source:    source,
			SubStream: au.SubStream,
		}

		if err := a.core.OnSample(sample, time.Now()); err != nil {
			log.Warn("rejected sample", "error", err)
		}
	}, log)

	if err := extractor.Run(ctx); err != nil {
		log.Warn("extractor stopped", "error", err)
	}
	log.Info("ingest source ended")
}

func mapMediaKind(st tsdemux.StreamType) (framesync.MediaKind, bool) {
	switch st {
	case tsdemux.StreamTypeH264:
		return framesync.MediaH264, true
	case tsdemux.StreamTypeMPEG2Video:
		return framesync.MediaMPEG2Video, true
	case tsdemux.StreamTypeAAC, tsdemux.StreamTypeAACLATM:
		return framesync.MediaAAC, true
	case tsdemux.StreamTypeAC3:
		return framesync.MediaAC3, true
	default:
		return 0, false
	}
}

// translateTimestamp maps tsdemux's absent-timestamp sentinel onto
// framesync's; the two packages intentionally share no type, so the -1
// convention is re-expressed at this one boundary.
func translateTimestamp(raw int64) int64 {
	if raw == tsdemux.NoTimestamp {
		return framesync.NoTimestamp
	}
	return raw
}

// drainSink logs each merged message; a real deployment would hand these
// to a segmenter/packager instead.
func drainSink(ctx context.Context, sink *muxer.Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sink.Messages():
			if !ok {
				return nil
			}
			slog.Debug("merged frame",
				"source", msg.Frame.Source,
				"kind", msg.Frame.FrameKind,
				"full_time", msg.Frame.FullTime,
				"discontinuity", msg.SourceDiscontinuity,
				"generation", msg.GenerationID,
			)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	return n
}
