package framesync

import (
	"testing"
	"time"
)

func TestRecordBytesBitrateEstimate(t *testing.T) {
	t.Parallel()

	var total int64
	var window time.Time
	var bps int64

	start := time.Now()
	recordBytes(&total, &window, &bps, 1000, start)
	if total != 1000 {
		t.Fatalf("total = %d, want 1000", total)
	}
	// Elapsed is ~0 on the first sample; bitrate should not yet be set.
	if bps != 0 {
		t.Fatalf("bps = %d, want 0 before any elapsed time", bps)
	}

	later := start.Add(1 * time.Second)
	recordBytes(&total, &window, &bps, 1000, later)
	if total != 2000 {
		t.Fatalf("total = %d, want 2000", total)
	}
	// 2000 bytes over ~1s => ~16000 bits/sec.
	if bps < 15000 || bps > 17000 {
		t.Fatalf("bps = %d, want roughly 16000", bps)
	}
}

func TestNewSourceStateInitializesSentinels(t *testing.T) {
	t.Parallel()

	s := newSourceState()
	if s.video.clock.last != NoTimestamp {
		t.Fatalf("video clock.last = %d, want NoTimestamp", s.video.clock.last)
	}
	if s.video.lastFullTime != NoTimestamp {
		t.Fatalf("video lastFullTime = %d, want NoTimestamp", s.video.lastFullTime)
	}
	for i, a := range s.audio {
		if a.clock.last != NoTimestamp {
			t.Fatalf("audio[%d].clock.last = %d, want NoTimestamp", i, a.clock.last)
		}
	}
}
