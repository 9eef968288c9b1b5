package tsdemux

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Demuxer reads MPEG-TS packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, and PES payloads.
type Demuxer struct {
	ctx           context.Context
	reader        io.Reader
	log           *slog.Logger
	readBuf       []byte
	pool          *packetPool
	programMap    *programMap
	dataBuffer    []*DemuxerData
	packetsParser PacketsParser
	pktSize       int
	eof           bool
	eofData       []*DemuxerData

	corruptPackets  int64
	corruptSections int64
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r. log is used to
// surface corrupt-packet and corrupt-section skips (silent in the teacher's
// single-shot file demuxer, but worth a diagnostic trail here: a live SRT
// source corrupting mid-stream is the normal case this repository exists
// to detect, not an edge case to swallow). A nil log uses slog.Default().
func NewDemuxer(ctx context.Context, r io.Reader, log *slog.Logger, opts ...func(*Demuxer)) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	pm := newProgramMap()
	d := &Demuxer{
		ctx:        ctx,
		reader:     r,
		log:        log,
		pktSize:    packetSize,
		programMap: pm,
		pool:       newPacketPool(pm),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.readBuf = make([]byte, d.pktSize)
	return d
}

// DemuxerOptPacketsParser sets a custom packet parser callback.
func DemuxerOptPacketsParser(p PacketsParser) func(*Demuxer) {
	return func(d *Demuxer) {
		d.packetsParser = p
	}
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		if d.ctx.Err() != nil {
			return nil, d.ctx.Err()
		}

		_, err := io.ReadFull(d.reader, d.readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drainPool()
				continue
			}
			return nil, err
		}

		pkt, err := parsePacket(d.readBuf)
		if err != nil {
			d.corruptPackets++
			d.log.Warn("skipping corrupt packet", "error", err, "total", d.corruptPackets)
			continue
		}

		flushed := d.pool.add(pkt)
		if flushed == nil {
			continue
		}

		results, err := d.processPackets(flushed)
		if err != nil {
			d.corruptSections++
			d.log.Warn("skipping corrupt section", "pid", flushed[0].Header.PID, "error", err, "total", d.corruptSections)
			continue
		}
		if len(results) == 0 {
			continue
		}

		d.adoptPMTPIDs(results)

		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

func (d *Demuxer) drainPool() {
	for _, packets := range d.pool.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			d.corruptSections++
			d.log.Warn("skipping corrupt section at eof", "error", err, "total", d.corruptSections)
			continue
		}
		d.adoptPMTPIDs(results)
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) adoptPMTPIDs(results []*DemuxerData) {
	for _, r := range results {
		if r.PAT != nil {
			for _, p := range r.PAT.Programs {
				d.programMap.addPMTPID(p.ProgramMapID)
			}
		}
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*DemuxerData, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	firstPacket := packets[0]
	pid := firstPacket.Header.PID

	if d.packetsParser != nil {
		ds, skip, err := d.packetsParser(packets)
		if err != nil {
			return nil, err
		}
		if skip {
			return ds, nil
		}
	}

	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	if isPSIPayload(pid, d.programMap) {
		return parsePSI(payload, pid, firstPacket, d.programMap)
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*DemuxerData{{FirstPacket: firstPacket, PES: pes}}, nil
	}

	return nil, nil
}
