package tsdemux

// MPEG-2 video start codes (ISO/IEC 13818-2).
const (
	mpeg2PictureStartCode = 0x00
	mpeg2SequenceHeader   = 0xB3
	mpeg2GOPStartCode     = 0xB8
)

// picCodingTypeI is picture_coding_type == 1: an intra-coded (I) picture.
const picCodingTypeI = 1

// mpeg2PictureInfo describes one picture found by scanning an MPEG-2 video
// elementary stream buffer for start codes.
type mpeg2PictureInfo struct {
	SyncFrame bool // true for an I picture or a buffer containing a GOP header
}

// scanMPEG2Picture does a minimal MPEG-2 video start-code scan sufficient
// to classify an access unit as a random-access point: it looks for a GOP
// start code (always followed by an I picture) or, failing that, decodes
// picture_coding_type directly out of the picture header. fillet.c's
// STREAM_TYPE_MPEG2 branch in receive_frame never buffers samples at all
// (see DESIGN.md); this scan exists so SPEC_FULL.md's restored MPEG2
// buffering path has a real sync_frame signal instead of always-true.
func scanMPEG2Picture(data []byte) mpeg2PictureInfo {
	n := len(data)
	for i := 0; i+4 < n; i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 || data[i+2] != 0x01 {
			continue
		}
		switch data[i+3] {
		case mpeg2GOPStartCode:
			return mpeg2PictureInfo{SyncFrame: true}
		case mpeg2PictureStartCode:
			if i+6 >= n {
				continue
			}
			// picture_header: temporal_reference(10 bits) spans the
			// byte right after the 4-byte start code and the top 2
			// bits of the next; picture_coding_type(3 bits) follows
			// immediately in that next byte.
			codingType := (data[i+5] >> 3) & 0x07
			if codingType == picCodingTypeI {
				return mpeg2PictureInfo{SyncFrame: true}
			}
			return mpeg2PictureInfo{SyncFrame: false}
		}
	}
	return mpeg2PictureInfo{}
}
