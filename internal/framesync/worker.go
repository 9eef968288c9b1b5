package framesync

import (
	"time"

	"github.com/google/uuid"
)

// IdleSleep is how long the Sync Worker sleeps between readiness checks
// when either buffer lacks enough lead to merge safely. Recommended value
// from spec.md §6.
const IdleSleep = 5 * time.Millisecond

// Worker is the Sync Worker (component E): a single goroutine per
// Supervisor generation that repeatedly merges the video and audio buffers
// into Core's Emitter in monotonic FullTime order.
type Worker struct {
	core *Core
	id   uuid.UUID
	done chan struct{}
}

func newWorker(core *Core) *Worker {
	return &Worker{
		core: core,
		id:   uuid.New(),
		done: make(chan struct{}),
	}
}

// run is the Sync Worker loop from spec.md §4.E. It owns three pieces of
// state local to this generation: firstGrab (discards the first merged
// video pop and its audio predecessors so the muxer never sees pre-lock
// debris), noAudioGrab (counts consecutive iterations audio lagged video,
// triggering a restart once it reaches AudioStallLimit), and sourceDiscontinuity
// (stamps exactly the first emitted message of this generation).
func (w *Worker) run() {
	core := w.core
	core.workerRunning.Store(true)
	defer func() {
		core.workerRunning.Store(false)
		close(w.done)
	}()

	firstGrab := true
	noAudioGrab := 0
	sourceDiscontinuity := true

	for {
		if core.quitRequested.Load() {
			core.mu.Lock()
			core.video.Drain(nil)
			core.audio.Drain(nil)
			core.mu.Unlock()
			core.quitRequested.Store(false)
			return
		}

		core.mu.Lock()
		nAudio := core.audio.Len()
		nVideo := core.video.Len()
		core.mu.Unlock()

		if !(nAudio > core.activeSources && nVideo > core.activeSources) {
			time.Sleep(IdleSleep)
			continue
		}

		core.mu.Lock()
		videoHead, _ := core.video.PeekHead()
		core.mu.Unlock()
		tVideo := videoHead.FullTime

		core.mu.Lock()
		audioHead, haveAudio := core.audio.PeekHead()
		core.mu.Unlock()
		var tAudio int64
		if haveAudio {
			tAudio = audioHead.FullTime
		}

		if haveAudio && tAudio <= tVideo {
			noAudioGrab = 0
			for {
				core.mu.Lock()
				a, ok := core.audio.PeekHead()
				depth := core.audio.Len()
				core.mu.Unlock()
				if !ok || !(a.FullTime < tVideo && depth > core.activeSources) {
					break
				}
				if core.quitRequested.Load() {
					break
				}
				core.mu.Lock()
				popped, _ := core.audio.PopHead()
				core.mu.Unlock()
				if firstGrab {
					continue // discard: audio predecessor of the primed video frame
				}
				w.emit(popped, &sourceDiscontinuity)
			}
			if core.quitRequested.Load() {
				continue
			}

			core.mu.Lock()
			v, _ := core.video.PopHead()
			core.mu.Unlock()
			if firstGrab {
				firstGrab = false
			} else {
				w.emit(v, &sourceDiscontinuity)
			}
		} else {
			noAudioGrab++
			if noAudioGrab >= AudioStallLimit {
				if core.stats != nil {
					core.stats.RecordAudioStall()
				}
				core.quitRequested.Store(true)
			}
		}
	}
}

func (w *Worker) emit(f *Frame, sourceDiscontinuity *bool) {
	if w.core.emitter != nil {
		w.core.emitter.Emit(Message{
			Frame:               f,
			SourceDiscontinuity: *sourceDiscontinuity,
			GenerationID:        w.id,
		})
	}
	*sourceDiscontinuity = false
}
