package wal

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/terndb/tern/utils/log"
)

/*
	NOTE: The log file is owned by a single consumer goroutine after Start().
	Producers only ever touch buffers they acquired from the empty queue.
*/

// Config carries the construction-time settings of the log manager. All
// fields are immutable after NewLogManager.
type Config struct {
	// LogFilePath is the destination log file, opened append-only and
	// created if absent.
	LogFilePath string
	// NumBuffers is the total buffer population of the pool.
	NumBuffers int
	// BufferSize is the fixed capacity of each buffer in bytes.
	BufferSize int
	// PersistInterval bounds the time between fsyncs.
	PersistInterval time.Duration
	// PersistThreshold is the byte count that forces an fsync regardless
	// of the interval.
	PersistThreshold int64
	// SerializationInterval is how often a RecordSerializer hands off a
	// partially filled buffer. It is not consumed by the consumer task.
	SerializationInterval time.Duration
}

// MetricsSink receives per-iteration consumer measurements. It must be
// safe for use by the single consumer goroutine.
type MetricsSink interface {
	RecordConsumerData(writeUS, persistUS, numBytes, numBuffers uint64)
}

// serializedLogs is the unit of enqueue on the filled queue: a buffer and
// the commit callbacks for the commit records it contains.
type serializedLogs struct {
	buf       *LogBuffer
	callbacks []CommitCallback
}

const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// LogManager owns the buffer pool, the filled/empty queues and the disk
// log consumer goroutine. Commit callbacks submitted with buffers fire
// exactly once, after the fsync that made their records durable.
type LogManager struct {
	cfg Config

	empty    chan *LogBuffer
	filled   chan serializedLogs
	wake     chan struct{}
	flushReq chan chan error

	quit    chan struct{}
	started chan struct{}
	done    chan struct{}

	filePtr *os.File
	state   int32
	errVal  atomic.Value

	sink      MetricsSink
	fatalHook func(error)
}

// NewLogManager validates cfg and allocates the buffer pool. The log file
// is not touched until Start.
func NewLogManager(cfg Config) (*LogManager, error) {
	if cfg.LogFilePath == "" {
		return nil, fmt.Errorf("log file path must be set")
	}
	if cfg.NumBuffers <= 0 {
		return nil, fmt.Errorf("invalid buffer count: %d", cfg.NumBuffers)
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("invalid buffer size: %d", cfg.BufferSize)
	}
	if cfg.PersistInterval <= 0 {
		return nil, fmt.Errorf("invalid persist interval: %v", cfg.PersistInterval)
	}
	if cfg.PersistThreshold <= 0 {
		return nil, fmt.Errorf("invalid persist threshold: %d", cfg.PersistThreshold)
	}

	m := &LogManager{
		cfg:      cfg,
		empty:    make(chan *LogBuffer, cfg.NumBuffers),
		filled:   make(chan serializedLogs, cfg.NumBuffers),
		wake:     make(chan struct{}, 1),
		flushReq: make(chan chan error),
		quit:     make(chan struct{}),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := 0; i < cfg.NumBuffers; i++ {
		m.empty <- newLogBuffer(cfg.BufferSize)
	}
	return m, nil
}

// InstallMetricsSink installs an optional sink for per-batch consumer
// measurements. Must be called before Start.
func (m *LogManager) InstallMetricsSink(sink MetricsSink) {
	m.sink = sink
}

// OnFatalError installs an optional hook invoked once if the consumer hits
// an unrecoverable I/O error. Must be called before Start.
func (m *LogManager) OnFatalError(fn func(error)) {
	m.fatalHook = fn
}

// Start opens the log file and spawns the consumer goroutine. It returns
// once the consumer has marked itself running. A second Start is a no-op.
func (m *LogManager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.state, stateCreated, stateRunning) {
		log.Warn("log manager already started, ignoring Start")
		return nil
	}

	fp, err := os.OpenFile(m.cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		atomic.StoreInt32(&m.state, stateStopped)
		close(m.done)
		return CreateError("LogManager.Start: " + err.Error())
	}
	m.filePtr = fp

	go m.consume()
	<-m.started
	return nil
}

// Stop signals shutdown, wakes the consumer and joins it. Before the
// consumer exits it drains the filled queue and performs a final fsync, so
// every submitted callback has fired by the time Stop returns. The error
// returned is the consumer's terminal error, nil on a clean shutdown. A
// second Stop is a no-op.
func (m *LogManager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.state, stateRunning, stateStopped) {
		if atomic.CompareAndSwapInt32(&m.state, stateCreated, stateStopped) {
			// Never started; there is no consumer to join.
			close(m.done)
			return nil
		}
		log.Warn("log manager not running, ignoring Stop")
		<-m.done
		return m.terminalErr()
	}
	close(m.quit)
	<-m.done
	return m.terminalErr()
}

// AcquireBuffer blocks until an empty buffer is available. It fails only
// on shutdown.
func (m *LogManager) AcquireBuffer() (*LogBuffer, error) {
	if atomic.LoadInt32(&m.state) != stateRunning {
		return nil, ErrShutdown
	}
	select {
	case buf := <-m.empty:
		return buf, nil
	case <-m.done:
		return nil, ErrShutdown
	}
}

// SubmitBuffer hands a filled buffer to the consumer together with any
// additional commit callbacks not already attached to the buffer, and
// wakes the consumer. The producer must not touch the buffer afterwards.
func (m *LogManager) SubmitBuffer(buf *LogBuffer, callbacks ...CommitCallback) error {
	if atomic.LoadInt32(&m.state) != stateRunning {
		return ErrShutdown
	}
	cbs := buf.callbacks
	if len(callbacks) > 0 {
		cbs = append(cbs, callbacks...)
		buf.callbacks = cbs
	}
	m.filled <- serializedLogs{buf: buf, callbacks: cbs}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// ForceFlush synchronously persists everything that was on the filled
// queue when the call was made. When it returns, those buffers are durable
// and their callbacks have fired. On an idle pipeline this is a cheap
// fsync of already-persisted state.
func (m *LogManager) ForceFlush() error {
	if atomic.LoadInt32(&m.state) != stateRunning {
		if err := m.terminalErr(); err != nil {
			return err
		}
		return ErrShutdown
	}
	req := make(chan error, 1)
	select {
	case m.flushReq <- req:
	case <-m.done:
		return m.terminalErr()
	}
	return <-req
}

func (m *LogManager) setTerminalErr(err error) {
	if err != nil {
		m.errVal.Store(err)
	}
}

func (m *LogManager) terminalErr() error {
	if v := m.errVal.Load(); v != nil {
		return v.(error)
	}
	return nil
}
