package wal

import (
	"sync"
	"time"

	"github.com/terndb/tern/utils/log"
)

// RecordSerializer is the producer-side half of the pipeline: it frames
// records into log buffers and hands filled buffers to the log manager.
// Records are never split across buffers, so a commit callback always
// rides on the buffer wholly containing its record.
//
// A serializer with a positive serialization interval also hands off
// partially filled buffers on a ticker, bounding the commit latency of a
// lightly loaded producer.
//
// Safe for concurrent use; each append holds the serializer lock.
type RecordSerializer struct {
	mgr *LogManager

	mu  sync.Mutex
	buf *LogBuffer

	closeOnce sync.Once
	quit      chan struct{}
	tickDone  chan struct{}
}

// NewRecordSerializer returns a serializer appending into mgr's buffers.
func NewRecordSerializer(mgr *LogManager) *RecordSerializer {
	s := &RecordSerializer{
		mgr:      mgr,
		quit:     make(chan struct{}),
		tickDone: make(chan struct{}),
	}
	if interval := mgr.cfg.SerializationInterval; interval > 0 {
		go s.handoffLoop(interval)
	} else {
		close(s.tickDone)
	}
	return s
}

// AppendRecord frames payload and appends it to the current buffer,
// acquiring a fresh buffer when the record does not fit. A non-nil cb is
// attached to the buffer the record lands in and fires once the record is
// durable.
func (s *RecordSerializer) AppendRecord(payload []byte, cb *CommitCallback) error {
	if EncodedLen(len(payload)) > s.mgr.cfg.BufferSize {
		return ErrRecordTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf != nil && s.buf.Room() < EncodedLen(len(payload)) {
		if err := s.submitLocked(); err != nil {
			return err
		}
	}
	if s.buf == nil {
		buf, err := s.mgr.AcquireBuffer()
		if err != nil {
			return err
		}
		s.buf = buf
	}

	if err := s.buf.Append(EncodeRecord(nil, payload)); err != nil {
		return err
	}
	if cb != nil {
		s.buf.AttachCallback(cb.Fn, cb.Arg)
	}
	if s.buf.Room() < FrameOverhead {
		return s.submitLocked()
	}
	return nil
}

// Flush hands off the current partially filled buffer, if any.
func (s *RecordSerializer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked()
}

// Close stops the handoff ticker and flushes the in-fill buffer.
func (s *RecordSerializer) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.tickDone
	return s.Flush()
}

func (s *RecordSerializer) submitLocked() error {
	if s.buf == nil || s.buf.Len() == 0 {
		return nil
	}
	buf := s.buf
	s.buf = nil
	return s.mgr.SubmitBuffer(buf)
}

func (s *RecordSerializer) handoffLoop(interval time.Duration) {
	defer close(s.tickDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil && err != ErrShutdown {
				log.Error("periodic buffer handoff failed: %v", err)
			}
		case <-s.quit:
			return
		}
	}
}
