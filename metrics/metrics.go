package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "tern"
var subsystem = "wal"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// WriteDuration stores the time the consumer spent writing filled
	// buffers to the log file, per metric period
	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "write_duration_seconds",
		Help:      "Time spent writing filled buffers to the log file",
	})

	// PersistDuration stores the time the consumer spent in fsync and
	// callback dispatch, per metric period
	PersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persist_duration_seconds",
		Help:      "Time spent persisting the log file and firing commit callbacks",
	})

	// BytesWrittenTotal stores the number of bytes persisted to the log file
	BytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bytes_written_total",
		Help:      "Number of log bytes covered by a completed fsync",
	})

	// BuffersFlushedTotal stores the number of buffers drained from the filled queue
	BuffersFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "buffers_flushed_total",
		Help:      "Number of filled buffers written to the log file",
	})

	// PersistsTotal stores the number of consumer metric periods that included an fsync
	PersistsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persists_total",
		Help:      "Number of consumer iterations that persisted data",
	})

	// LogFileSizeBytes stores the current size of the log file
	LogFileSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "log_file_size_bytes",
		Help:      "Size of the write-ahead log file",
	})
)

// ConsumerSink adapts the wal.MetricsSink contract onto the prometheus
// collectors above. It is driven by the single consumer goroutine.
type ConsumerSink struct{}

func NewConsumerSink() *ConsumerSink { return &ConsumerSink{} }

// RecordConsumerData submits one metric period of consumer measurements.
func (s *ConsumerSink) RecordConsumerData(writeUS, persistUS, numBytes, numBuffers uint64) {
	const microsPerSecond = 1e6
	WriteDuration.Observe(float64(writeUS) / microsPerSecond)
	PersistDuration.Observe(float64(persistUS) / microsPerSecond)
	BytesWrittenTotal.Add(float64(numBytes))
	BuffersFlushedTotal.Add(float64(numBuffers))
	PersistsTotal.Inc()
}
