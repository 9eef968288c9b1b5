package framesync

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Default buffer capacities and stall limit from spec.md §6.
const (
	DefaultVideoCapacity = 2048
	DefaultAudioCapacity = 2048
	AudioStallLimit      = 15
)

// Message is a single emitted, merged sample destined for the downstream
// muxer/segmenter, matching the outbound FIFO shape in spec.md §6.
type Message struct {
	Frame               *Frame
	SourceDiscontinuity bool
	GenerationID        uuid.UUID
}

// Emitter is the external downstream muxer collaborator: a thread-safe FIFO
// accepting merged samples. The Sync Worker is its only writer.
type Emitter interface {
	Emit(Message)
}

// Stats is the optional telemetry collaborator. Every method is called
// synchronously from the goroutine that observed the event; implementations
// must not block. A nil Stats is valid: Core checks before every call.
type Stats interface {
	RecordBufferDepth(kind FrameKind, n int)
	RecordDiscontinuity(source int)
	RecordAudioStall()
	RecordBitrate(source, subStream int, kind FrameKind, bps int64)
	RecordIntraGap(source int, gap int)
}

// Core is the SyncCore value described in spec.md §9's Design Notes: it
// replaces the original implementation's process-wide globals with one
// value per synchronization session, constructed at session start and
// discarded at session end.
type Core struct {
	log           *slog.Logger
	emitter       Emitter
	stats         Stats
	activeSources int

	// mu is the single shared "sync lock" from spec.md §5: it guards only
	// video and audio below. Per-source state is deliberately outside it.
	mu    sync.Mutex
	video *SortedFrameBuffer
	audio *SortedFrameBuffer

	quitRequested atomic.Bool
	workerRunning atomic.Bool

	// sources is allocated once at construction and never resized, so
	// reading a pointer out of it needs no lock; each element is owned
	// exclusively by the ingest goroutine for that source index.
	sources [MaxSources]*sourceState

	sup *Supervisor
}

// Config configures a Core. Zero values take the spec.md §6 defaults.
type Config struct {
	ActiveSources int
	VideoCapacity int
	AudioCapacity int
	Emitter       Emitter
	Stats         Stats
	Log           *slog.Logger
}

// NewCore constructs a Core ready to accept samples via its IngestHandler
// methods and to be driven by a Supervisor.
func NewCore(cfg Config) *Core {
	if cfg.VideoCapacity <= 0 {
		cfg.VideoCapacity = DefaultVideoCapacity
	}
	if cfg.AudioCapacity <= 0 {
		cfg.AudioCapacity = DefaultAudioCapacity
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	c := &Core{
		log:           cfg.Log.With("component", "framesync"),
		emitter:       cfg.Emitter,
		stats:         cfg.Stats,
		activeSources: cfg.ActiveSources,
		video:         NewSortedFrameBuffer(cfg.VideoCapacity),
		audio:         NewSortedFrameBuffer(cfg.AudioCapacity),
	}
	for i := range c.sources {
		c.sources[i] = newSourceState()
	}
	c.sup = newSupervisor(c)
	return c
}

// Supervisor returns the Core's Supervisor (component F), used to start,
// stop, and observe the Sync Worker's lifecycle.
func (c *Core) Supervisor() *Supervisor {
	return c.sup
}

// VideoDepth and AudioDepth report the current buffer occupancy, used by
// telemetry and tests; both take the sync lock briefly.
func (c *Core) VideoDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video.Len()
}

func (c *Core) AudioDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio.Len()
}
