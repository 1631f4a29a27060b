package wal

import (
	"errors"
	"io"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/terndb/tern/utils/log"
)

// consume is the disk log consumer task. It is the only goroutine that
// touches the log file after Start, and the only one that fires commit
// callbacks.
func (m *LogManager) consume() {
	defer close(m.done)
	defer func() {
		if err := m.filePtr.Close(); err != nil {
			log.Error("failed to close log file: %v", err)
		}
	}()
	close(m.started)

	var (
		// Callbacks for buffers written to the file but not yet fsynced.
		pendingCallbacks []CommitCallback
		// Force-flush waiters to acknowledge after the next fsync.
		forceWaiters []chan error
		// Bytes written to the file since the last fsync.
		currentDataWritten int64
		lastPersist        = time.Now()
		// Per-period metric counters.
		writeUS, persistUS, numBytes, numBuffers uint64
	)

	fail := func(err error) {
		log.Error("fatal log I/O error, halting consumer: %v", err)
		m.setTerminalErr(err)
		atomic.StoreInt32(&m.state, stateStopped)
		// Pending callbacks are deliberately dropped so their
		// transactions never become visible as committed.
		for _, w := range forceWaiters {
			w <- err
		}
		if m.fatalHook != nil {
			m.fatalHook(err)
		}
	}

	timer := time.NewTimer(m.cfg.PersistInterval)
	defer timer.Stop()

	running := true
	for running {
		doPersist := false

		// Wait phase. Parked until the persist interval elapses, a
		// producer submits a buffer, a force flush arrives, or shutdown
		// is signaled.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		wait := m.cfg.PersistInterval - time.Since(lastPersist)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-m.wake:
		case w := <-m.flushReq:
			forceWaiters = append(forceWaiters, w)
			doPersist = true
		case <-m.quit:
			running = false
		}
		// Pick up any other force flushers queued behind the first.
		for pending := true; pending; {
			select {
			case w := <-m.flushReq:
				forceWaiters = append(forceWaiters, w)
				doPersist = true
			default:
				pending = false
			}
		}

		// Write phase: drain the filled queue to exhaustion.
		start := time.Now()
		n, bufs, err := m.writeFilled(&pendingCallbacks)
		writeUS += elapsedMicros(start)
		currentDataWritten += n
		numBuffers += bufs
		if err != nil {
			fail(err)
			return
		}

		// Persist when the interval has elapsed, the threshold is
		// exceeded, a flush was forced, or we are shutting down. An
		// expired interval with nothing written since the last fsync
		// only restarts the clock; a starved consumer never syncs.
		timeout := time.Since(lastPersist) >= m.cfg.PersistInterval
		idle := currentDataWritten == 0 && len(pendingCallbacks) == 0
		if (timeout || currentDataWritten > m.cfg.PersistThreshold) && idle && !doPersist && running {
			lastPersist = time.Now()
		} else if timeout || currentDataWritten > m.cfg.PersistThreshold || doPersist || !running {
			start = time.Now()
			if err := m.filePtr.Sync(); err != nil {
				fail(err)
				return
			}
			firePendingCallbacks(pendingCallbacks)
			pendingCallbacks = pendingCallbacks[:0]
			numBytes += uint64(currentDataWritten)
			lastPersist = time.Now()
			currentDataWritten = 0
			for _, w := range forceWaiters {
				w <- nil
			}
			forceWaiters = forceWaiters[:0]
			persistUS += elapsedMicros(start)
		}

		if m.sink != nil && numBytes > 0 {
			m.sink.RecordConsumerData(writeUS, persistUS, numBytes, numBuffers)
			writeUS, persistUS, numBytes, numBuffers = 0, 0, 0, 0
		}
	}

	// Post-loop: one more drain and persist so nothing submitted before
	// shutdown is lost.
	if _, _, err := m.writeFilled(&pendingCallbacks); err != nil {
		fail(err)
		return
	}
	if err := m.filePtr.Sync(); err != nil {
		fail(err)
		return
	}
	firePendingCallbacks(pendingCallbacks)
	for _, w := range forceWaiters {
		w <- nil
	}
	// Answer stragglers that got their request in while we were draining.
	for {
		select {
		case w := <-m.flushReq:
			w <- nil
		default:
			return
		}
	}
}

// writeFilled dequeues every filled buffer, writes its bytes to the log
// file, moves its callbacks onto the pending list and recycles the buffer
// onto the empty queue. Buffers are written in submission order.
func (m *LogManager) writeFilled(pending *[]CommitCallback) (bytes int64, buffers uint64, err error) {
	for {
		select {
		case logs := <-m.filled:
			n, werr := writeFull(m.filePtr, logs.buf.Bytes())
			bytes += int64(n)
			if werr != nil {
				return bytes, buffers, werr
			}
			buffers++
			*pending = append(*pending, logs.callbacks...)
			logs.buf.reset()
			m.empty <- logs.buf
		default:
			return bytes, buffers, nil
		}
	}
}

// writeFull writes all of p, retrying short counts. Any other error is
// returned to the caller, which treats it as fatal.
func writeFull(w io.Writer, p []byte) (int, error) {
	var total int
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.ErrShortWrite) && n > 0 {
				continue
			}
			return total, err
		}
	}
	return total, nil
}

// firePendingCallbacks invokes each callback exactly once, in pending-list
// order. Runs only after the fsync covering the callbacks' records.
func firePendingCallbacks(callbacks []CommitCallback) {
	for _, cb := range callbacks {
		fireCallback(cb)
	}
}

// fireCallback isolates a panicking callback so the rest of the batch
// still fires and the consumer survives.
func fireCallback(cb CommitCallback) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovering from commit callback panic: %v\n%s", r, string(debug.Stack()))
		}
	}()
	cb.Fn(cb.Arg)
}

func elapsedMicros(start time.Time) uint64 {
	return uint64(time.Since(start) / time.Microsecond)
}
