// Package telemetry implements framesync.Stats with Prometheus collectors,
// and exposes an HTTP /metrics endpoint in the style of the teacher's
// internal/distribution HTTP server (ServeMux + blocking Start(ctx)).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/abrsync/internal/framesync"
)

// Metrics implements framesync.Stats, recording synchronizer-level events
// as Prometheus collectors registered against a private Registry (so
// multiple Metrics instances, e.g. in tests, never collide on the default
// global registry).
type Metrics struct {
	registry *prometheus.Registry

	bufferDepth   *prometheus.GaugeVec
	discontinuity *prometheus.CounterVec
	audioStall    prometheus.Counter
	bitrate       *prometheus.GaugeVec
	intraGap      *prometheus.GaugeVec
}

// New creates a Metrics collector set registered against a fresh,
// process-local Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		bufferDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "abrsync",
			Subsystem: "framesync",
			Name:      "buffer_depth",
			Help:      "Current number of frames held in the sync buffer, by kind.",
		}, []string{"kind"}),
		discontinuity: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "abrsync",
			Subsystem: "framesync",
			Name:      "discontinuities_total",
			Help:      "Count of source discontinuities detected, by source.",
		}, []string{"source"}),
		audioStall: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "abrsync",
			Subsystem: "framesync",
			Name:      "audio_stalls_total",
			Help:      "Count of Worker restarts triggered by sustained audio lag.",
		}),
		bitrate: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "abrsync",
			Subsystem: "framesync",
			Name:      "bitrate_bps",
			Help:      "Rolling ingest bitrate in bits per second, by source/substream/kind.",
		}, []string{"source", "sub_stream", "kind"}),
		intraGap: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "abrsync",
			Subsystem: "tsdemux",
			Name:      "intra_gap_frames",
			Help:      "Number of video frames since the last keyframe, by source.",
		}, []string{"source"}),
	}
	return m
}

// RecordBufferDepth implements framesync.Stats.
func (m *Metrics) RecordBufferDepth(kind framesync.FrameKind, depth int) {
	m.bufferDepth.WithLabelValues(kind.String()).Set(float64(depth))
}

// RecordDiscontinuity implements framesync.Stats.
func (m *Metrics) RecordDiscontinuity(source int) {
	m.discontinuity.WithLabelValues(fmt.Sprint(source)).Inc()
}

// RecordAudioStall implements framesync.Stats.
func (m *Metrics) RecordAudioStall() {
	m.audioStall.Inc()
}

// RecordBitrate implements framesync.Stats.
func (m *Metrics) RecordBitrate(source, subStream int, kind framesync.FrameKind, bps int64) {
	m.bitrate.WithLabelValues(fmt.Sprint(source), fmt.Sprint(subStream), kind.String()).Set(float64(bps))
}

// RecordIntraGap implements framesync.Stats.
func (m *Metrics) RecordIntraGap(source int, gap int) {
	m.intraGap.WithLabelValues(fmt.Sprint(source)).Set(float64(gap))
}

// Server serves the Prometheus exposition endpoint over HTTP.
type Server struct {
	log  *slog.Logger
	addr string
	srv  *http.Server
}

// NewServer creates an HTTP server exposing m's registry at /metrics.
func NewServer(addr string, m *Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &Server{
		log:  log.With("component", "telemetry-server"),
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start blocks serving HTTP until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("listening", "addr", s.addr)

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	})
	defer stop()

	err := s.srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
