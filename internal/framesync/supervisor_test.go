package framesync

import (
	"context"
	"testing"
	"time"
)

func TestSupervisorStartsAndStopsCleanly(t *testing.T) {
	t.Parallel()

	core := NewCore(Config{ActiveSources: 1000})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		core.Supervisor().Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if core.Supervisor().State() == StateRunning {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if core.Supervisor().State() != StateRunning {
		t.Fatal("supervisor never reached StateRunning")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervisor.Run did not return after context cancellation")
	}
	if core.Supervisor().State() != StateIdle {
		t.Fatalf("State() = %v after shutdown, want StateIdle", core.Supervisor().State())
	}
}

func TestSupervisorRespawnsAfterAudioStall(t *testing.T) {
	t.Parallel()

	// ActiveSources=0 so a single buffered frame on each side satisfies
	// readiness. The audio head sits far in the future relative to the
	// video head, so every merge iteration takes the "audio lagging"
	// branch and AudioStallLimit eventually forces a restart.
	core := NewCore(Config{ActiveSources: 0})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go core.Supervisor().Run(ctx)

	now := time.Now()
	core.OnSample(videoSample(0, true), now)
	core.OnSample(audioSample(1_000_000), now)

	// Audio never catches down to the video head, so the worker should
	// eventually hit AudioStallLimit, request a restart, drain, and the
	// Supervisor should respawn a fresh generation automatically.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if core.VideoDepth() == 0 {
			return
		}
		time.Sleep(IdleSleep)
	}
	t.Fatal("buffer was never drained by an audio-stall-triggered restart")
}
