package framesync

import (
	"context"
	"log/slog"
	"sync"
)

// SupervisorState is the Supervisor's lifecycle state from spec.md §4.F.
type SupervisorState int

const (
	StateIdle SupervisorState = iota
	StateRunning
	StateDraining
)

func (s SupervisorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Supervisor is component F: it owns the Sync Worker's goroutine lifecycle,
// respawning a fresh generation whenever one exits voluntarily (via
// Core.restart or an internal audio stall) while the Supervisor itself is
// still running, and shutting down cleanly when its context is cancelled.
type Supervisor struct {
	core *Core
	log  *slog.Logger

	mu      sync.Mutex
	state   SupervisorState
	current *Worker
}

func newSupervisor(core *Core) *Supervisor {
	return &Supervisor{
		core: core,
		log:  core.log.With("subcomponent", "supervisor"),
	}
}

// State reports the Supervisor's current lifecycle state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the Supervisor's control loop: spawn a worker, wait for it to
// exit, respawn, until ctx is cancelled. It blocks until shutdown is
// complete, so callers typically invoke it from its own goroutine (e.g.
// under an errgroup).
func (s *Supervisor) Run(ctx context.Context) {
	s.setState(StateRunning)
	s.spawn()

	for {
		w := s.currentWorker()
		select {
		case <-ctx.Done():
			s.core.quitRequested.Store(true)
			<-w.done
			s.setState(StateIdle)
			return
		case <-w.done:
			if ctx.Err() != nil {
				s.setState(StateIdle)
				return
			}
			s.setState(StateDraining)
			s.log.Info("sync worker exited, respawning")
			s.setState(StateRunning)
			s.spawn()
		}
	}
}

func (s *Supervisor) spawn() {
	w := newWorker(s.core)
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
	go w.run()
}

func (s *Supervisor) currentWorker() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// waitForWorkerExit blocks until whichever worker generation was active at
// call time has fully exited. Core.restart uses this to implement spec.md
// §4.D step 12's synchronous drain-then-join before returning control to
// the ingest caller.
func (s *Supervisor) waitForWorkerExit() {
	w := s.currentWorker()
	if w == nil {
		return
	}
	<-w.done
}

func (s *Supervisor) setState(st SupervisorState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
