// Package ingest manages active ingest connections: one per ABR source,
// coupling an SRT byte reader with metadata, lifecycle signaling, and
// demux dispatch. It models spec.md §1's external "UDP/transport"
// collaborator concretely, using SRT (the teacher's transport of choice)
// in place of raw UDP.
package ingest

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// InputFormat identifies the container format of an ingested stream.
type InputFormat int

const (
	FormatMPEGTS InputFormat = iota
)

// IngestStats captures connection-level metrics for an ingest stream.
type IngestStats struct {
	BytesReceived int64
	ReadCount     int64
	ConnectedAt   int64
	UptimeMs      int64
	RemoteAddr    string
}

// Stream represents one active ABR source's ingest connection.
type Stream struct {
	Source    int
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the SRT
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// OnStreamFunc is invoked for each newly registered source. It is the
// rendezvous point between the SRT listener and internal/tsdemux: the
// registry has no compile-time dependency on the demux package, mirroring
// the teacher's internal/ingest -> internal/pipeline decoupling.
type OnStreamFunc func(source int, key string, input io.Reader, format InputFormat)

// Registry assigns each registered stream key a stable source index
// (0..MaxSources-1, spec.md §6) and dispatches new streams to onStream.
type Registry struct {
	maxSources int

	mu       sync.RWMutex
	streams  map[string]*Stream
	bySource map[int]*Stream
	next     int
	free     []int // source indices freed by Unregister, reused before next grows

	onStream OnStreamFunc
}

// NewRegistry creates a Registry bounded to maxSources concurrent streams.
func NewRegistry(maxSources int, onStream OnStreamFunc) *Registry {
	return &Registry{
		maxSources: maxSources,
		streams:    make(map[string]*Stream),
		bySource:   make(map[int]*Stream),
		onStream:   onStream,
	}
}

// ErrSourcesExhausted is returned by Register when maxSources streams are
// already active.
var ErrSourcesExhausted = fmt.Errorf("ingest: source limit reached")

// Register creates a new ingest stream with the given key and format,
// returning the Stream and a Writer the SRT receiver should write into. If
// onStream is set, the callback is invoked asynchronously.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()

	r.mu.Lock()
	if len(r.bySource) >= r.maxSources {
		r.mu.Unlock()
		pr.Close()
		pw.Close()
		return nil, nil, ErrSourcesExhausted
	}

	var source int
	if n := len(r.free); n > 0 {
		source = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		source = r.next
		r.next++
	}

	stream := &Stream{
		Source:    source,
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}
	r.streams[key] = stream
	r.bySource[source] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(source, key, pr, format)
	}

	return stream, pw, nil
}

// Unregister removes a stream by key, closing its pipe and signaling done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
		delete(r.bySource, stream.Source)
		r.free = append(r.free, stream.Source)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}
