package wal_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/terndb/tern/wal"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

var _ = Suite(&DestructiveLogTests{})

// DestructiveLogTests exercises the pipeline with a deliberately tiny
// buffer pool and a persist interval too long to help.
type DestructiveLogTests struct {
	cfg wal.Config
	mgr *wal.LogManager
}

func (s *DestructiveLogTests) SetUpTest(c *C) {
	s.cfg = wal.Config{
		LogFilePath:      filepath.Join(c.MkDir(), "tern.wal"),
		NumBuffers:       4,
		BufferSize:       1024,
		PersistInterval:  10 * time.Second,
		PersistThreshold: 1 << 20,
	}
	var err error
	s.mgr, err = wal.NewLogManager(s.cfg)
	c.Assert(err, IsNil)
	c.Assert(s.mgr.Start(), IsNil)
}

func (s *DestructiveLogTests) TearDownTest(c *C) {
	c.Assert(s.mgr.Stop(), IsNil)
}

func (s *DestructiveLogTests) TestBurstThenQuiesce(c *C) {
	var fired uint64
	const n = 16

	// Submit 4x the buffer population in tight succession; the acquire
	// side blocks until the consumer recycles buffers.
	for i := 0; i < n; i++ {
		buf, err := s.mgr.AcquireBuffer()
		c.Assert(err, IsNil)
		c.Assert(buf.Append(wal.EncodeRecord(nil, []byte("burst"))), IsNil)
		buf.AttachCallback(func(interface{}) { atomic.AddUint64(&fired, 1) }, nil)
		c.Assert(s.mgr.SubmitBuffer(buf), IsNil)
	}

	c.Assert(s.mgr.ForceFlush(), IsNil)
	c.Check(atomic.LoadUint64(&fired), Equals, uint64(n))

	// The whole population is back on the empty queue.
	for i := 0; i < s.cfg.NumBuffers; i++ {
		buf, err := s.mgr.AcquireBuffer()
		c.Assert(err, IsNil)
		c.Check(buf.Len(), Equals, 0)
		c.Assert(s.mgr.SubmitBuffer(buf), IsNil)
	}
}

func (s *DestructiveLogTests) TestAcquireBlocksUntilDrain(c *C) {
	held := make([]*wal.LogBuffer, 0, s.cfg.NumBuffers)
	for i := 0; i < s.cfg.NumBuffers; i++ {
		buf, err := s.mgr.AcquireBuffer()
		c.Assert(err, IsNil)
		held = append(held, buf)
	}

	got := make(chan *wal.LogBuffer, 1)
	go func() {
		buf, err := s.mgr.AcquireBuffer()
		if err == nil {
			got <- buf
		}
	}()

	// With the pool exhausted the acquire must park.
	select {
	case <-got:
		c.Fatal("acquired a buffer from an exhausted pool")
	case <-time.After(50 * time.Millisecond):
	}

	// Returning one buffer through the pipeline unblocks it.
	c.Assert(held[0].Append(wal.EncodeRecord(nil, []byte("drain"))), IsNil)
	c.Assert(s.mgr.SubmitBuffer(held[0]), IsNil)

	select {
	case buf := <-got:
		c.Assert(s.mgr.SubmitBuffer(buf), IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("acquire did not unblock after the consumer drained")
	}

	for _, buf := range held[1:] {
		c.Assert(s.mgr.SubmitBuffer(buf), IsNil)
	}
}

func (s *DestructiveLogTests) TestStarvedConsumer(c *C) {
	// No submissions: the consumer idles, persists nothing and fires
	// nothing.
	time.Sleep(100 * time.Millisecond)

	info, err := os.Stat(s.cfg.LogFilePath)
	c.Assert(err, IsNil)
	c.Check(info.Size(), Equals, int64(0))
}
