package wiz

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
)

// QueueLen is the capacity of the job queue.
const QueueLen = 8

// Direction selects the per-job state machine.
type Direction uint8

const (
	// DirTx sends header and payload in one pass.
	DirTx Direction = iota
	// DirRx sends the header, then clocks in the payload in a second pass.
	DirRx
	// DirTxRx sends header and payload while capturing the response.
	DirTxRx
)

var (
	// ErrQueueFull is returned by Enqueue when QueueLen jobs are pending.
	ErrQueueFull = errors.New("wiz: job queue full")

	// ErrTransfer is reported by RunBlock when a job was abandoned because
	// of a bus error since the previous RunBlock.
	ErrTransfer = errors.New("wiz: spi transfer failed")
)

// Job is one chip transaction.
type Job struct {
	dir        Direction
	hdr        [4]byte
	hdrLen     int
	tx         []byte
	rx         []byte
	inline     [8]byte
	headerSent bool
}

// Handle identifies an enqueued job.
type Handle uint32

type jobError struct{ err error }

// Scheduler serializes chip transactions onto a Bus. Jobs run strictly in
// enqueue order and exactly one is in flight at a time. Enqueue and the Run
// methods belong to the main context; the bus completion callback advances
// the queue from interrupt context.
//
// done and todo only ever grow; their difference is the number of pending
// jobs and slots are indexed modulo QueueLen.
type Scheduler struct {
	bus  Bus
	addr Addressing
	jobs [QueueLen]Job

	done atomic.Uint32
	todo atomic.Uint32
	busy atomic.Bool

	errs    atomic.Uint32
	lastErr atomic.Pointer[jobError]
	seen    uint32 // errors already reported to the main context

	log *slog.Logger
}

// NewScheduler attaches a scheduler to bus. log may be nil.
func NewScheduler(bus Bus, addr Addressing, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{bus: bus, addr: addr, log: log}
	bus.Attach(s.complete)
	return s
}

// Pending returns the number of queued and in-flight jobs.
func (s *Scheduler) Pending() int {
	return int(s.todo.Load() - s.done.Load())
}

// Enqueue appends a transaction for target t. Tx jobs send tx; Rx jobs read
// len(rx) bytes; TxRx jobs send tx and capture the same number of bytes into
// rx. Tx payloads of up to 8 bytes are copied, so register values may live
// on the caller's stack. Larger buffers must stay untouched until the job
// completed.
func (s *Scheduler) Enqueue(t Target, dir Direction, tx, rx []byte) (Handle, error) {
	todo := s.todo.Load()
	if todo-s.done.Load() >= QueueLen {
		return 0, ErrQueueFull
	}
	j := &s.jobs[todo%QueueLen]
	j.dir = dir
	j.headerSent = false
	j.rx = rx
	j.tx = tx
	n := len(rx)
	if dir == DirTx {
		n = len(tx)
		if n <= len(j.inline) {
			j.tx = j.inline[:copy(j.inline[:], tx)]
		}
	}
	j.hdrLen = s.addr.Header(j.hdr[:], t, n, dir == DirTx)
	s.todo.Store(todo + 1)
	return Handle(todo), nil
}

// Completed reports whether the job h has finished or was abandoned.
func (s *Scheduler) Completed(h Handle) bool {
	return int32(s.done.Load()-uint32(h)) > 0
}

// RunNonblocking starts draining the queue unless a job is already in
// flight, in which case the completion chain picks up the new jobs.
func (s *Scheduler) RunNonblocking() {
	s.next()
}

// RunBlock drains the queue and waits until it is idle. It returns
// ErrTransfer if a job was abandoned since the last call.
func (s *Scheduler) RunBlock() error {
	s.drain()
	return s.report()
}

// drain waits until the queue is idle without consuming abandoned job
// errors, which stay pending for the next RunBlock.
func (s *Scheduler) drain() {
	s.next()
	for s.todo.Load() != s.done.Load() {
		runtime.Gosched()
	}
}

// Errors returns the number of abandoned jobs.
func (s *Scheduler) Errors() uint32 { return s.errs.Load() }

// LastError returns the bus error of the most recently abandoned job.
func (s *Scheduler) LastError() error {
	if e := s.lastErr.Load(); e != nil {
		return e.err
	}
	return nil
}

func (s *Scheduler) report() error {
	n := s.errs.Load()
	if n == s.seen {
		return nil
	}
	failed := n - s.seen
	s.seen = n
	err := s.LastError()
	s.log.Warn("wiz: jobs abandoned", slog.Uint64("count", uint64(failed)), slog.Any("err", err))
	return fmt.Errorf("%w: %w", ErrTransfer, err)
}

// next starts the job at done if none is in flight.
func (s *Scheduler) next() {
	for s.done.Load() != s.todo.Load() {
		if !s.busy.CompareAndSwap(false, true) {
			return
		}
		done := s.done.Load()
		if done == s.todo.Load() {
			s.busy.Store(false)
			continue
		}
		s.start(&s.jobs[done%QueueLen])
		return
	}
}

func (s *Scheduler) start(j *Job) {
	s.bus.Select(true)
	hdr := j.hdr[:j.hdrLen]
	switch j.dir {
	case DirTx:
		s.bus.Start(Transfer{Header: hdr, Write: j.tx})
	case DirRx:
		s.bus.Start(Transfer{Header: hdr})
	case DirTxRx:
		s.bus.Start(Transfer{Header: hdr, Write: j.tx, Read: j.rx})
	}
}

// complete is the bus completion callback.
func (s *Scheduler) complete(err error) {
	j := &s.jobs[s.done.Load()%QueueLen]
	if err == nil && j.dir == DirRx && !j.headerSent {
		j.headerSent = true
		s.bus.Start(Transfer{Read: j.rx})
		return
	}
	if err != nil {
		s.lastErr.Store(&jobError{err})
		s.errs.Add(1)
	}
	for s.bus.Busy() {
	}
	s.bus.Select(false)
	j.tx, j.rx = nil, nil
	s.done.Add(1)
	s.busy.Store(false)
	s.next()
}
