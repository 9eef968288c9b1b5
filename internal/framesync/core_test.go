package framesync

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockEmitter struct {
	mu   sync.Mutex
	msgs []Message
}

func (m *mockEmitter) Emit(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *mockEmitter) snapshot() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

func waitForMessages(t *testing.T, e *mockEmitter, n int, timeout time.Duration) []Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := e.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(IdleSleep)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(e.snapshot()))
	return nil
}

func videoSample(raw int64, sync bool) Sample {
	return Sample{MediaKind: MediaH264, SyncFrame: sync, PTSRaw: raw, DTSRaw: NoTimestamp, Source: 0}
}

func audioSample(raw int64) Sample {
	return Sample{MediaKind: MediaAAC, PTSRaw: raw, DTSRaw: NoTimestamp, Source: 0, SubStream: 0}
}

// TestCoreMergeOrderingAndFirstGrab exercises spec.md §8's core merge
// property end to end: audio strictly before the video head drains first,
// the very first video pop (and its audio predecessors) is discarded by
// first_grab, and source_discontinuity is stamped on exactly the first
// emitted message of a generation.
func TestCoreMergeOrderingAndFirstGrab(t *testing.T) {
	t.Parallel()

	emitter := &mockEmitter{}
	core := NewCore(Config{ActiveSources: 0, Emitter: emitter})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Supervisor().Run(ctx)

	now := time.Now()
	if err := core.OnSample(videoSample(0, true), now); err != nil {
		t.Fatalf("OnSample(v0) error: %v", err)
	}
	if err := core.OnSample(audioSample(-500), now); err != nil {
		t.Fatalf("OnSample(a0) error: %v", err)
	}
	if err := core.OnSample(audioSample(500), now); err != nil {
		t.Fatalf("OnSample(a1) error: %v", err)
	}
	if err := core.OnSample(videoSample(1000, true), now); err != nil {
		t.Fatalf("OnSample(v1) error: %v", err)
	}
	if err := core.OnSample(audioSample(1500), now); err != nil {
		t.Fatalf("OnSample(a2) error: %v", err)
	}
	if err := core.OnSample(videoSample(2000, true), now); err != nil {
		t.Fatalf("OnSample(v2) error: %v", err)
	}

	msgs := waitForMessages(t, emitter, 4, 2*time.Second)

	wantTimes := []int64{500, 1000, 1500, 2000}
	wantKinds := []FrameKind{FrameAudio, FrameVideo, FrameAudio, FrameVideo}
	for i, msg := range msgs {
		if msg.Frame.FullTime != wantTimes[i] {
			t.Fatalf("msgs[%d].FullTime = %d, want %d", i, msg.Frame.FullTime, wantTimes[i])
		}
		if msg.Frame.FrameKind != wantKinds[i] {
			t.Fatalf("msgs[%d].FrameKind = %v, want %v", i, msg.Frame.FrameKind, wantKinds[i])
		}
	}
	if !msgs[0].SourceDiscontinuity {
		t.Fatal("first emitted message must carry source_discontinuity=true")
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].SourceDiscontinuity {
			t.Fatalf("msgs[%d] unexpectedly carries source_discontinuity=true", i)
		}
	}
}

// TestCoreVideoGateDropsPreKeyFrame verifies spec.md §4.D step 3: video
// samples before the first key frame are dropped, never buffered.
func TestCoreVideoGateDropsPreKeyFrame(t *testing.T) {
	t.Parallel()

	core := NewCore(Config{ActiveSources: 0})
	now := time.Now()

	core.OnSample(videoSample(0, false), now)
	if core.VideoDepth() != 0 {
		t.Fatalf("VideoDepth() = %d, want 0 for a dropped pre-key-frame sample", core.VideoDepth())
	}

	core.OnSample(videoSample(100, true), now)
	if core.VideoDepth() != 1 {
		t.Fatalf("VideoDepth() = %d, want 1 after a key frame", core.VideoDepth())
	}
}

// TestCoreAudioGateWaitsForVideoAnchor verifies spec.md §4.D step 5: audio
// is dropped until its source has a video key frame.
func TestCoreAudioGateWaitsForVideoAnchor(t *testing.T) {
	t.Parallel()

	core := NewCore(Config{ActiveSources: 0})
	now := time.Now()

	core.OnSample(audioSample(0), now)
	if core.AudioDepth() != 0 {
		t.Fatalf("AudioDepth() = %d, want 0 before any video key frame", core.AudioDepth())
	}

	core.OnSample(videoSample(0, true), now)
	core.OnSample(audioSample(10), now)
	if core.AudioDepth() != 1 {
		t.Fatalf("AudioDepth() = %d, want 1 once video has keyed", core.AudioDepth())
	}
}

// TestCoreBufferOverrunTriggersRestart verifies that an insert rejected by a
// buffer already at capacity forces a synchronous drain (spec.md §4.D step 11-12): OnSample
// blocks until the worker has drained and exited, so depth is back to zero
// by the time the call returns.
func TestCoreBufferOverrunTriggersRestart(t *testing.T) {
	t.Parallel()

	emitter := &mockEmitter{}
	core := NewCore(Config{ActiveSources: 1000, VideoCapacity: 4, AudioCapacity: 4, Emitter: emitter})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Supervisor().Run(ctx)

	now := time.Now()
	core.OnSample(videoSample(0, true), now)
	for i := int64(1); i <= 4; i++ {
		core.OnSample(videoSample(i*1000, true), now)
	}

	if core.VideoDepth() != 0 {
		t.Fatalf("VideoDepth() = %d, want 0 after an overrun-triggered restart drains the buffer", core.VideoDepth())
	}
}

// TestCoreGenuineWrapDoesNotRestart verifies that a true 33-bit epoch wrap
// on DTS does not trigger a restart, unlike an out-of-range discontinuity.
func TestCoreGenuineWrapDoesNotRestart(t *testing.T) {
	t.Parallel()

	core := NewCore(Config{ActiveSources: 1000})
	now := time.Now()

	core.OnSample(Sample{MediaKind: MediaH264, SyncFrame: true, DTSRaw: overflowEpoch - 1000, PTSRaw: NoTimestamp}, now)
	core.OnSample(Sample{MediaKind: MediaH264, SyncFrame: true, DTSRaw: 500, PTSRaw: NoTimestamp}, now)

	if core.VideoDepth() != 2 {
		t.Fatalf("VideoDepth() = %d, want 2: a genuine wrap must not drain the buffer", core.VideoDepth())
	}
}
