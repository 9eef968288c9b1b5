package framesync

import (
	"fmt"
	"time"
)

// ErrUnknownMediaKind is returned by OnSample for a media_kind value outside
// the MediaH264/MediaMPEG2Video/MediaAAC/MediaAC3 enum.
var ErrUnknownMediaKind = fmt.Errorf("framesync: unknown media kind")

// ErrInvalidSource is returned by OnSample for a source or sub-stream index
// outside the configured bounds.
var ErrInvalidSource = fmt.Errorf("framesync: source or sub-stream index out of range")

// Sample is the inbound callback payload described in spec.md §6's
// on_sample signature.
type Sample struct {
	Payload     []byte
	MediaKind   MediaKind
	SyncFrame   bool
	PTSRaw      int64 // NoTimestamp if absent
	DTSRaw      int64 // NoTimestamp if absent
	LastPCR     int64 // reserved; accepted and stored nowhere, per spec.md's Open Questions
	Source      int
	SubStream   int // audio only; ignored for video
	LanguageTag [4]byte
}

// OnSample is the Ingest Handler (component D). It is the single entry
// point external demux/transport code calls for every access unit. Exactly
// one ingest goroutine may call OnSample for a given (source, sub_stream)
// pair at a time; spec.md §5 forbids concurrent callers sharing a stream
// index, since the per-source state this mutates is not protected by
// Core's sync lock.
func (c *Core) OnSample(s Sample, now time.Time) error {
	if !s.MediaKind.IsVideo() && !s.MediaKind.IsAudio() {
		return ErrUnknownMediaKind
	}
	if s.Source < 0 || s.Source >= MaxSources {
		return ErrInvalidSource
	}
	if s.MediaKind.IsAudio() && (s.SubStream < 0 || s.SubStream >= MaxAudioSubStreams) {
		return ErrInvalidSource
	}

	src := c.sources[s.Source]

	if s.MediaKind.IsVideo() {
		return c.onVideoSample(src, s, now)
	}
	return c.onAudioSample(src, s, now)
}

func (c *Core) onVideoSample(src *sourceState, s Sample, now time.Time) error {
	vs := &src.video

	// Step 3: video gate. Pre-key-frame garbage is dropped before it is
	// counted or clocked at all.
	if !vs.foundKeyFrame && !s.SyncFrame {
		return nil
	}

	// Step 4: latch the per-source epoch from the first key frame's raw
	// timestamp (DTS if present, else PTS).
	if !vs.foundKeyFrame {
		vs.foundKeyFrame = true
		if s.DTSRaw != NoTimestamp {
			vs.firstTimestamp = s.DTSRaw
		} else {
			vs.firstTimestamp = s.PTSRaw
		}
	}

	// Step 6: byte/bitrate accounting.
	recordBytes(&vs.totalBytes, &vs.byteWindow, &vs.bitrateBPS, len(s.Payload), now)
	if c.stats != nil {
		c.stats.RecordBitrate(s.Source, 0, FrameVideo, vs.bitrateBPS)
	}

	// Step 7-8: clock normalization, keyed on DTS if present else PTS.
	raw := s.PTSRaw
	if s.DTSRaw != NoTimestamp {
		raw = s.DTSRaw
	}
	full, discontinuity := vs.clock.normalize(raw)
	vs.lastPTS = s.PTSRaw
	vs.lastDTS = s.DTSRaw

	restart := discontinuity

	// Step 9: build the Frame. The first sample for a stream has no
	// predecessor to measure a duration against.
	duration := int64(0)
	if vs.lastFullTime != NoTimestamp {
		duration = full - vs.lastFullTime
	}
	vs.lastFullTime = full

	frame := &Frame{
		Payload:        s.Payload,
		MediaKind:      s.MediaKind,
		FrameKind:      FrameVideo,
		Source:         s.Source,
		PTSRaw:         s.PTSRaw,
		DTSRaw:         s.DTSRaw,
		FullTime:       full,
		Duration:       duration,
		FirstTimestamp: vs.firstTimestamp,
		SyncFrame:      s.SyncFrame,
		LanguageTag:    s.LanguageTag,
	}

	// Step 10-11: insert under the sync lock; buffer-full is itself a
	// restart trigger (the worker has fallen behind).
	c.mu.Lock()
	inserted := c.video.Insert(frame)
	depth := c.video.Len()
	c.mu.Unlock()
	if c.stats != nil {
		c.stats.RecordBufferDepth(FrameVideo, depth)
	}
	if !inserted {
		restart = true
	}

	if restart {
		c.restart(s.Source, discontinuity)
	}
	return nil
}

func (c *Core) onAudioSample(src *sourceState, s Sample, now time.Time) error {
	// Step 5: audio waits for a video anchor on the same source.
	if !src.video.foundKeyFrame {
		return nil
	}

	as := &src.audio[s.SubStream]

	recordBytes(&as.totalBytes, &as.byteWindow, &as.bitrateBPS, len(s.Payload), now)
	if c.stats != nil {
		c.stats.RecordBitrate(s.Source, s.SubStream, FrameAudio, as.bitrateBPS)
	}

	full, discontinuity := as.clock.normalize(s.PTSRaw)
	as.lastPTS = s.PTSRaw
	restart := discontinuity

	duration := int64(0)
	if as.lastFullTime != NoTimestamp {
		duration = full - as.lastFullTime
	}
	as.lastFullTime = full

	frame := &Frame{
		Payload:     s.Payload,
		MediaKind:   s.MediaKind,
		FrameKind:   FrameAudio,
		Source:      s.Source,
		SubStream:   s.SubStream,
		PTSRaw:      s.PTSRaw,
		DTSRaw:      NoTimestamp,
		FullTime:    full,
		Duration:    duration,
		SyncFrame:   s.SyncFrame,
		LanguageTag: s.LanguageTag,
	}

	c.mu.Lock()
	inserted := c.audio.Insert(frame)
	depth := c.audio.Len()
	c.mu.Unlock()
	if c.stats != nil {
		c.stats.RecordBufferDepth(FrameAudio, depth)
	}
	if !inserted {
		restart = true
	}

	if restart {
		c.restart(s.Source, discontinuity)
	}
	return nil
}

// restart implements spec.md §4.D step 12: a discontinuity or buffer
// overrun drains both buffers under the sync lock, signals the worker to
// quit, and blocks until it has fully exited before returning, so the
// caller never observes a half-drained buffer. The Supervisor is
// responsible for noticing the exit and deciding whether to respawn.
func (c *Core) restart(source int, discontinuity bool) {
	if discontinuity {
		c.log.Warn("discontinuity detected, requesting sync worker restart", "source", source)
	} else {
		c.log.Warn("buffer overrun, requesting sync worker restart", "source", source)
	}
	if c.stats != nil {
		c.stats.RecordDiscontinuity(source)
	}
	c.mu.Lock()
	c.video.Drain(nil)
	c.audio.Drain(nil)
	c.mu.Unlock()
	c.quitRequested.Store(true)
	c.sup.waitForWorkerExit()
}
