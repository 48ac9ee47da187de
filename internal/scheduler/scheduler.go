// Package scheduler runs the long-lived task that accepts one
// controller connection, negotiates and parses its schedule, then
// executes that schedule's epochs in order. It is the thing
// application goroutines calling EnterState ultimately synchronize
// against.
package scheduler

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/raikkonen/internal/bytecode"
	"github.com/ehrlich-b/raikkonen/internal/proto"
	"github.com/ehrlich-b/raikkonen/internal/rkconfig"
	"github.com/ehrlich-b/raikkonen/internal/rklog"
	"github.com/ehrlich-b/raikkonen/internal/rkmetrics"
	"github.com/ehrlich-b/raikkonen/internal/rksync"
)

// Scheduler owns the control connection and epoch iteration. Exactly
// one goroutine ever runs its execution loop.
type Scheduler struct {
	cfg *rkconfig.Config

	startOnce sync.Once
	initOnce  sync.Once
	initSem   *rksync.Semaphore

	mu       sync.Mutex
	startErr error

	observer rkmetrics.Observer
}

// New creates a Scheduler bound to cfg, which must already have every
// state registered the controller's schedule will reference.
func New(cfg *rkconfig.Config, initSem *rksync.Semaphore) *Scheduler {
	return &Scheduler{cfg: cfg, initSem: initSem, observer: rkmetrics.NoOpObserver{}}
}

// SetObserver swaps in o as the sink for scheduler runtime events.
// Callers not interested in metrics never need to call this; a fresh
// Scheduler starts with a NoOpObserver.
func (s *Scheduler) SetObserver(o rkmetrics.Observer) {
	if o == nil {
		o = rkmetrics.NoOpObserver{}
	}
	s.observer = o
}

// Start begins listening on addr exactly once; subsequent calls are
// no-ops. It does not block — callers wanting the "blocks until initial
// handlers are installed" contract from spec.md §4.7 call WaitReady.
func (s *Scheduler) Start(addr string) {
	s.startOnce.Do(func() {
		go s.run(addr)
	})
}

// WaitReady blocks until the scheduler has installed the first epoch's
// handlers (or failed trying to). It is safe to call before or after Start.
func (s *Scheduler) WaitReady(ctx context.Context) error {
	if err := s.initSem.Wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startErr
}

func (s *Scheduler) signalReady() {
	s.initOnce.Do(func() { s.initSem.Post() })
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
	s.signalReady()
}

func (s *Scheduler) run(addr string) {
	defer s.signalReady() // safety net: never leave WaitReady blocked forever

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		rklog.Error("scheduler: listen failed", "addr", addr, "err", err)
		s.fail(err)
		return
	}
	rklog.Info("scheduler: listening", "addr", addr)

	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		rklog.Error("scheduler: accept failed", "err", err)
		s.fail(err)
		return
	}
	defer conn.Close()

	sched, err := proto.Negotiate(conn, s.cfg.NumStates())
	if err != nil {
		rklog.Error("scheduler: negotiation failed", "err", err)
		s.observer.ObserveProtocolError()
		s.fail(err)
		return
	}
	s.cfg.SetSchedule(sched)

	s.execute(sched)
}

// execute runs every command in every epoch, in order, synchronously on
// this goroutine. It never spins: once the epochs are exhausted it returns.
func (s *Scheduler) execute(sched *bytecode.Schedule) {
	for epochIx, epoch := range sched.Epochs {
		s.observer.ObserveEpoch()
		for cmdIx := range epoch.Commands {
			cmd := &epoch.Commands[cmdIx]
			switch cmd.Kind {
			case bytecode.CommandInstallHandler:
				s.execInstallHandler(cmd.InstallHandler, epochIx, cmdIx)
			case bytecode.CommandResume:
				s.execResume(cmd.Resume, epoch.ID)
			case bytecode.CommandTimeout:
				s.signalReady()
				s.execTimeout(cmd.Timeout)
			case bytecode.CommandWaitstate:
				s.signalReady()
				s.execWaitstate(epoch.ID)
			}
		}
	}
	rklog.Info("scheduler: schedule exhausted, exiting")
}

// stateLogger derives a rklog.Logger carrying stateID's identity, falling
// back to the bare default logger if the id has no registered state (it
// still logs something useful rather than silently dropping the line).
func (s *Scheduler) stateLogger(stateID uint32) *rklog.Logger {
	if st := s.cfg.State(stateID); st != nil {
		return rklog.Default().WithState(st.Name, st.ID)
	}
	return rklog.Default()
}

func (s *Scheduler) execInstallHandler(ih *bytecode.InstallHandlerCmd, epochIx, cmdIx int) {
	s.stateLogger(ih.StateID).Debug("install_handler", "tr_max", ih.TRMax, "n_handlers", len(ih.Handlers))
	s.cfg.InstallHandlers(ih.StateID, epochIx, cmdIx, ih.TRMax)
	s.observer.ObserveHandlerInstalled()
}

func (s *Scheduler) execResume(r *bytecode.ResumeCmd, curEpoch uint32) {
	logger := s.stateLogger(r.StateID)
	handler := s.cfg.FindHandlerByRange(curEpoch, r.StateID, r.TRStart, r.TREnd)
	if handler == nil || handler.Sema == nil {
		logger.Warn("resume: no matching wait handler", "tr_start", r.TRStart, "tr_end", r.TREnd)
		return
	}
	count := r.TREnd - r.TRStart + 1
	for i := uint32(0); i < count; i++ {
		handler.Sema.Post()
	}
	logger.Debug("resume", "released", count)
	s.observer.ObserveResume()
}

func (s *Scheduler) execTimeout(t *bytecode.TimeoutCmd) {
	d := t.Duration.AsDuration()
	rklog.Debug("timeout: sleeping", "duration", d)
	time.Sleep(d)
	s.observer.ObserveTimeout()
}

func (s *Scheduler) execWaitstate(curEpoch uint32) {
	ids := s.cfg.ParticipatingStates(curEpoch)
	rklog.Debug("waitstate: entering barrier", "participants", len(ids))
	start := time.Now()
	for _, id := range ids {
		st := s.cfg.State(id)
		if st == nil || st.CapThread() == rkconfig.DormantCap {
			continue
		}
		_ = st.Waitstate.Wait(context.Background())
	}
	s.observer.ObserveWaitstate(uint64(time.Since(start).Nanoseconds()))
	rklog.Debug("waitstate: barrier cleared")
}

// setReuseAddr sets SO_REUSEADDR on the listening socket before bind,
// the idiomatic replacement for a raw setsockopt call.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
