package framesync

import "time"

// Recommended limits from spec.md §6.
const (
	MaxSources         = 10
	MaxAudioSubStreams = 4
)

// videoState is the Per-Source Stream State (component C) for a source's
// single video elementary stream.
type videoState struct {
	clock clockState

	foundKeyFrame  bool
	firstTimestamp int64 // raw dts_raw (or pts_raw), latched at the first key frame

	lastPTS      int64
	lastDTS      int64
	lastFullTime int64 // NoTimestamp until the first frame is buffered

	totalBytes int64
	byteWindow time.Time
	bitrateBPS int64
}

func newVideoState() *videoState {
	return &videoState{
		clock:        newClockState(),
		lastPTS:      NoTimestamp,
		lastDTS:      NoTimestamp,
		lastFullTime: NoTimestamp,
	}
}

// audioState is the Per-Source Stream State for one audio sub-stream.
type audioState struct {
	clock clockState

	lastPTS      int64
	lastFullTime int64 // NoTimestamp until the first frame is buffered

	totalBytes int64
	byteWindow time.Time
	bitrateBPS int64
}

func newAudioState() *audioState {
	return &audioState{
		clock:        newClockState(),
		lastPTS:      NoTimestamp,
		lastFullTime: NoTimestamp,
	}
}

// sourceState bundles the video state and up to MaxAudioSubStreams audio
// states owned by a single ingest source. Per spec.md §5, this state is
// owned exclusively by its ingest goroutine and is never touched by the
// Sync Worker or any other source's goroutine, so it needs no lock of its
// own distinct from the caller's own single-writer discipline.
type sourceState struct {
	video videoState
	audio [MaxAudioSubStreams]audioState
}

func newSourceState() *sourceState {
	s := &sourceState{video: *newVideoState()}
	for i := range s.audio {
		s.audio[i] = *newAudioState()
	}
	return s
}

// recordBytes folds n newly-received bytes into a rolling bits-per-second
// estimate, the Go equivalent of fillet.c's clock_gettime(CLOCK_REALTIME)
// delta bitrate accounting (restored per SPEC_FULL.md's Supplemented
// Features).
func recordBytes(totalBytes *int64, window *time.Time, bitrateBPS *int64, n int, now time.Time) {
	if *totalBytes == 0 {
		*window = now
	}
	*totalBytes += int64(n)
	elapsed := now.Sub(*window)
	if elapsed > 0 {
		*bitrateBPS = *totalBytes * 8 * int64(time.Second) / int64(elapsed)
	}
}
