package tsdemux

import (
	"context"
	"io"
	"log/slog"
)

// NoTimestamp is the sentinel AccessUnit PTSRaw/DTSRaw carry when the PES
// packet had no corresponding optional-header timestamp.
const NoTimestamp int64 = -1

// AccessUnit is one elementary-stream access unit ready to be handed to a
// synchronizer ingest handler. tsdemux never imports internal/framesync;
// callers translate AccessUnit into framesync.Sample themselves, mirroring
// the decoupling the teacher uses between internal/ingest and
// internal/pipeline (a plain callback, not a concrete type dependency).
type AccessUnit struct {
	Payload    []byte
	StreamType StreamType
	PID        uint16 // elementary stream PID this access unit was framed from
	SubStream  int    // assigned in PMT elementary-stream order, audio only
	SyncFrame  bool
	PTSRaw     int64
	DTSRaw     int64
}

type pidInfo struct {
	streamType StreamType
	subStream  int
}

// Extractor consumes a Demuxer's output for one ingest source, tracks the
// current PMT's PID-to-stream-type mapping, frames each PES payload into
// one or more AccessUnit values, and invokes onAccessUnit for each.
type Extractor struct {
	source       int
	demux        *Demuxer
	onAccessUnit func(AccessUnit)
	log          *slog.Logger

	pids map[uint16]pidInfo

	intraGapCounts map[uint16]int // MPEG2 telemetry: samples since last I picture
}

// NewExtractor wraps r (typically the reader side of an ingest source's
// pipe) in a Demuxer and prepares to frame its elementary streams.
func NewExtractor(ctx context.Context, source int, r io.Reader, onAccessUnit func(AccessUnit), log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		source:         source,
		demux:          NewDemuxer(ctx, r, log.With("component", "tsdemux", "source", source)),
		onAccessUnit:   onAccessUnit,
		log:            log.With("component", "tsdemux", "source", source),
		pids:           make(map[uint16]pidInfo),
		intraGapCounts: make(map[uint16]int),
	}
}

// Run drains the Demuxer until EOF or ctx is cancelled, framing access
// units as it goes. It returns nil on a clean EOF.
func (e *Extractor) Run(ctx context.Context) error {
	for {
		data, err := e.demux.NextData()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch {
		case data.PMT != nil:
			nextAudioSubStream := 0
			for _, es := range data.PMT.ElementaryStreams {
				info := pidInfo{streamType: es.StreamType}
				if isAudioStreamType(es.StreamType) {
					if nextAudioSubStream >= MaxAudioSubStreamsTS {
						e.log.Warn("dropping audio elementary stream beyond sub-stream limit", "pid", es.ElementaryPID)
						continue
					}
					info.subStream = nextAudioSubStream
					nextAudioSubStream++
				}
				e.pids[es.ElementaryPID] = info
			}

		case data.PES != nil:
			e.handlePES(data)
		}
	}
}

// MaxAudioSubStreamsTS mirrors framesync.MaxAudioSubStreams; tsdemux keeps
// its own copy rather than importing internal/framesync (see package doc).
const MaxAudioSubStreamsTS = 4

func isAudioStreamType(st StreamType) bool {
	return st == StreamTypeAAC || st == StreamTypeAACLATM || st == StreamTypeAC3
}

func (e *Extractor) handlePES(data *DemuxerData) {
	if data.FirstPacket == nil {
		return
	}
	info, ok := e.pids[data.FirstPacket.Header.PID]
	if !ok {
		return // PES on a PID not yet described by any PMT we've seen
	}

	pid := data.FirstPacket.Header.PID

	ptsRaw, dtsRaw := NoTimestamp, NoTimestamp
	if oh := data.PES.Header.OptionalHeader; oh != nil {
		if oh.PTS != nil {
			ptsRaw = oh.PTS.Base
		}
		if oh.DTS != nil {
			dtsRaw = oh.DTS.Base
		}
	}

	switch info.streamType {
	case StreamTypeH264:
		units := ParseAnnexB(data.PES.Data)
		e.onAccessUnit(AccessUnit{
			Payload:    data.PES.Data,
			StreamType: info.streamType,
			PID:        pid,
			SyncFrame:  AnyKeyframe(units),
			PTSRaw:     ptsRaw,
			DTSRaw:     dtsRaw,
		})

	case StreamTypeMPEG2Video:
		pic := scanMPEG2Picture(data.PES.Data)
		if pic.SyncFrame {
			e.intraGapCounts[pid] = 0
		} else {
			e.intraGapCounts[pid]++
		}
		e.onAccessUnit(AccessUnit{
			Payload:    data.PES.Data,
			StreamType: info.streamType,
			PID:        pid,
			SyncFrame:  pic.SyncFrame,
			PTSRaw:     ptsRaw,
			DTSRaw:     dtsRaw,
		})

	case StreamTypeAAC, StreamTypeAACLATM:
		frames, err := ParseADTS(data.PES.Data)
		if err != nil || len(frames) == 0 {
			// Not ADTS-framed (e.g. LATM) or malformed: pass the whole
			// PES payload through as a single access unit.
			e.onAccessUnit(AccessUnit{
				Payload:    data.PES.Data,
				StreamType: info.streamType,
				PID:        pid,
				SubStream:  info.subStream,
				SyncFrame:  true,
				PTSRaw:     ptsRaw,
				DTSRaw:     NoTimestamp,
			})
			return
		}
		for _, f := range frames {
			e.onAccessUnit(AccessUnit{
				Payload:    f.Data,
				StreamType: info.streamType,
				PID:        pid,
				SubStream:  info.subStream,
				SyncFrame:  true,
				PTSRaw:     ptsRaw,
				DTSRaw:     NoTimestamp,
			})
		}

	case StreamTypeAC3:
		e.onAccessUnit(AccessUnit{
			Payload:    data.PES.Data,
			StreamType: info.streamType,
			PID:        pid,
			SubStream:  info.subStream,
			SyncFrame:  true,
			PTSRaw:     ptsRaw,
			DTSRaw:     NoTimestamp,
		})
	}
}

// IntraGap returns the current MPEG-2 intra-frame gap counter for pid,
// restoring fillet.c's intra-frame cadence tracking (SPEC_FULL.md's
// Supplemented Features #1) as a queryable gauge rather than a log line.
func (e *Extractor) IntraGap(pid uint16) int {
	return e.intraGapCounts[pid]
}
