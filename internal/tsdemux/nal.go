package tsdemux

// H.264 NAL unit type constants (ITU-T H.264 Table 7-1).
const (
	nalTypeIDR = 5
)

// NALUnit is a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte
	Data []byte
}

// ParseAnnexB splits an H.264 Annex B byte stream into individual NAL
// units, recognizing both 3-byte (0x000001) and 4-byte (0x00000001) start
// codes.
func ParseAnnexB(data []byte) []NALUnit {
	var units []NALUnit
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}

		nalData := data[pos.dataStart:end]
		if len(nalData) < 1 {
			continue
		}

		units = append(units, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
	}

	return units
}

// IsKeyframe reports whether the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == nalTypeIDR
}

// AnyKeyframe reports whether any NAL unit in units is an IDR slice —
// the access-unit-level sync_frame signal for H.264.
func AnyKeyframe(units []NALUnit) bool {
	for _, u := range units {
		if IsKeyframe(u.Type) {
			return true
		}
	}
	return false
}
