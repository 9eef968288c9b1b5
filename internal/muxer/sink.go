// Package muxer models the downstream consumer spec.md §6 describes: a
// thread-safe FIFO of merged {Frame, source_discontinuity} messages. The
// real muxer/segmenter lives outside this repository's scope (spec.md §1);
// Sink is the minimal reference framesync.Emitter implementation used by
// cmd/abrsyncd.
package muxer

import (
	"log/slog"

	"github.com/zsiec/abrsync/internal/framesync"
)

// Sink is a bounded, non-blocking FIFO. Messages pushed past capacity are
// dropped (logged, not panicked) rather than stalling the Sync Worker,
// since a stalled Emitter.Emit would back up the single shared sync lock's
// only reader.
type Sink struct {
	log  *slog.Logger
	ch   chan framesync.Message
	drop func(framesync.Message)
}

// NewSink creates a Sink with the given channel capacity.
func NewSink(capacity int, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		log: log.With("component", "muxer"),
		ch:  make(chan framesync.Message, capacity),
	}
}

// Emit implements framesync.Emitter.
func (s *Sink) Emit(msg framesync.Message) {
	select {
	case s.ch <- msg:
	default:
		s.log.Warn("muxer sink full, dropping message",
			"source", msg.Frame.Source, "full_time", msg.Frame.FullTime)
	}
}

// Messages returns the receive side of the FIFO for a downstream consumer
// (the demo binary, or a test) to drain.
func (s *Sink) Messages() <-chan framesync.Message {
	return s.ch
}
