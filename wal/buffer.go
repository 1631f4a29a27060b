package wal

// CommitCallbackFn is invoked with its opaque argument after the commit
// record it was attached to has been fsynced to the log file.
type CommitCallbackFn func(arg interface{})

// CommitCallback pairs a callback function with the argument it will be
// invoked with. The submitter keeps ownership of the argument until the
// callback fires.
type CommitCallback struct {
	Fn  CommitCallbackFn
	Arg interface{}
}

// LogBuffer is a fixed-capacity byte region carrying a batch of serialized
// log records from a producer to the disk log consumer.
//
// While held by a producer the buffer is written only by that producer.
// While on the filled queue it is immutable. The consumer resets it before
// returning it to the empty queue.
type LogBuffer struct {
	data      []byte
	off       int
	callbacks []CommitCallback
}

func newLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{
		data: make([]byte, capacity),
	}
}

// Append copies p into the buffer. If the buffer does not have room for
// all of p, nothing is copied and ErrBufferFull is returned.
func (b *LogBuffer) Append(p []byte) error {
	if len(p) > b.Room() {
		return ErrBufferFull
	}
	copy(b.data[b.off:], p)
	b.off += len(p)
	return nil
}

// AttachCallback registers a commit callback for a commit record wholly
// contained in this buffer.
func (b *LogBuffer) AttachCallback(fn CommitCallbackFn, arg interface{}) {
	b.callbacks = append(b.callbacks, CommitCallback{Fn: fn, Arg: arg})
}

// Len returns the number of bytes appended since the last reset.
func (b *LogBuffer) Len() int { return b.off }

// Cap returns the fixed capacity of the buffer.
func (b *LogBuffer) Cap() int { return len(b.data) }

// Room returns the number of bytes that can still be appended.
func (b *LogBuffer) Room() int { return len(b.data) - b.off }

// Bytes returns the filled portion of the buffer. The slice aliases the
// buffer's storage and is only valid until the buffer is reset.
func (b *LogBuffer) Bytes() []byte { return b.data[:b.off] }

// reset clears the write offset and the pending callback list. Called by
// the consumer before the buffer goes back on the empty queue.
func (b *LogBuffer) reset() {
	b.off = 0
	b.callbacks = b.callbacks[:0]
}
