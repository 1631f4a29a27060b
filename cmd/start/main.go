package start

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	msgpack "github.com/vmihailenco/msgpack"
	"gonum.org/v1/gonum/stat"

	"github.com/terndb/tern/metrics"
	"github.com/terndb/tern/stream"
	"github.com/terndb/tern/utils"
	"github.com/terndb/tern/utils/log"
	"github.com/terndb/tern/utils/pool"
	"github.com/terndb/tern/wal"
)

const (
	usage                 = "start"
	short                 = "Start a tern log pipeline and drive it with a producer workload"
	long                  = "This command starts the durable log pipeline, exposes prometheus metrics and runs the configured producer workload against it"
	example               = "tern start --config <path>"
	defaultConfigFilePath = "./tern.yml"
	configDesc            = "set the path for the tern YAML configuration file"

	logFileName            = "tern.wal"
	logSizeMonitorInterval = 10 * time.Second
	latencyChanCapacity    = 1 << 16
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	utils.InstanceConfig.StartTime = time.Now()
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// benchRecord is the synthetic commit record written by the workload.
type benchRecord struct {
	Sequence uint64 `msgpack:"sequence"`
	Producer int    `msgpack:"producer"`
	Payload  []byte `msgpack:"payload"`
}

// commitToken travels as the opaque commit callback argument.
type commitToken struct {
	submitted time.Time
	bytes     int
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	// Don't output command usage if args are correct
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	config, err := utils.ParseConfig(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}
	utils.InstanceConfig = *config
	setLogLevel(config.LogLevel)

	if err = os.MkdirAll(config.LogDir, 0o770); err != nil {
		return errors.Wrap(err, "could not create log directory")
	}
	logFilePath := filepath.Join(config.LogDir, logFileName)

	// Initialize the log pipeline.
	// ----------------------------
	log.Info("initializing log pipeline...")
	start := time.Now()

	mgr, err := wal.NewLogManager(wal.Config{
		LogFilePath:           logFilePath,
		NumBuffers:            config.NumBuffers,
		BufferSize:            int(config.BufferSize),
		PersistInterval:       config.PersistInterval,
		PersistThreshold:      int64(config.PersistThreshold),
		SerializationInterval: config.SerializationInterval,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build log manager")
	}
	mgr.InstallMetricsSink(metrics.NewConsumerSink())
	mgr.OnFatalError(func(ferr error) {
		log.Error("log pipeline failed, workload results are void: %v", ferr)
	})
	if err = mgr.Start(); err != nil {
		return errors.Wrap(err, "failed to start log manager")
	}

	stream.Initialize()

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	// Set monitoring handler.
	if config.ListenPort != "" {
		log.Info("launching prometheus metrics server...")
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err2 := http.ListenAndServe(":"+config.ListenPort, nil); err2 != nil {
				log.Error("metrics server failed: %v", err2)
			}
		}()
	}
	go metrics.StartLogSizeMonitor(metrics.LogFileSizeBytes, logFilePath, logSizeMonitorInterval)

	report := runWorkload(mgr, config)

	log.Info("force flushing...")
	if err = mgr.ForceFlush(); err != nil && err != wal.ErrShutdown {
		log.Error("final force flush failed: %v", err)
	}
	log.Info("stopping log pipeline...")
	if err = mgr.Stop(); err != nil {
		return errors.Wrap(err, "log pipeline terminated with error")
	}
	stream.Shutdown()

	report.print()
	return nil
}

type workloadReport struct {
	elapsed   time.Duration
	records   uint64
	bytes     uint64
	dropped   uint64
	latencies []float64
}

// runWorkload drives the configured number of producers through record
// serializers until the bench duration elapses or a signal arrives.
func runWorkload(mgr *wal.LogManager, config *utils.TernConfig) *workloadReport {
	report := &workloadReport{}

	// Commit latencies arrive from the consumer goroutine; the channel is
	// large and lossy so a slow collector never stalls commit dispatch.
	latencyC := make(chan time.Duration, latencyChanCapacity)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for d := range latencyC {
			report.latencies = append(report.latencies, float64(d)/float64(time.Millisecond))
		}
	}()

	// Count durable commits through the stream subscriber.
	sub := stream.Subscribe()
	go func() {
		for {
			ev, err := sub.Next()
			if err != nil {
				return
			}
			atomic.AddUint64(&report.records, uint64(ev.Records))
			atomic.AddUint64(&report.bytes, uint64(ev.Bytes))
		}
	}()

	onCommit := func(arg interface{}) {
		token := arg.(*commitToken)
		select {
		case latencyC <- time.Since(token.submitted):
		default:
			atomic.AddUint64(&report.dropped, 1)
		}
		if err := stream.Push(stream.CommitEvent{Records: 1, Bytes: token.bytes}); err != nil {
			log.Error("failed to push commit event: %v", err)
		}
	}

	serializers := make([]*wal.RecordSerializer, config.Bench.Producers)
	for i := range serializers {
		serializers[i] = wal.NewRecordSerializer(mgr)
	}

	var next uint32
	workers := pool.NewPool(config.Bench.Producers, func(payload []byte) {
		s := serializers[int(atomic.AddUint32(&next, 1))%len(serializers)]
		cb := wal.CommitCallback{
			Fn:  onCommit,
			Arg: &commitToken{submitted: time.Now(), bytes: len(payload)},
		}
		if err := s.AppendRecord(payload, &cb); err != nil {
			if err != wal.ErrShutdown {
				log.Error("failed to append workload record: %v", err)
			}
		}
	})

	feed := make(chan []byte, config.Bench.Producers)
	workDone := make(chan struct{})
	go func() {
		defer close(workDone)
		workers.Work(feed)
		workers.Wait()
	}()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	deadline := time.NewTimer(config.Bench.Duration)
	if config.Bench.Duration <= 0 {
		deadline.Stop()
	}

	log.Info("running %d producers, record size %s...",
		config.Bench.Producers, bytefmt.ByteSize(config.Bench.RecordSize))
	started := time.Now()

	payload := make([]byte, config.Bench.RecordSize)
	var seq uint64
pump:
	for {
		seq++
		rec, err := msgpack.Marshal(benchRecord{Sequence: seq, Producer: int(seq) % config.Bench.Producers, Payload: payload})
		if err != nil {
			log.Error("failed to marshal workload record: %v", err)
			break
		}
		select {
		case feed <- rec:
		case sig := <-sigC:
			log.Info("received %s, winding down workload...", sig)
			break pump
		case <-deadline.C:
			break pump
		}
	}
	close(feed)
	<-workDone
	signal.Stop(sigC)

	var closeWG sync.WaitGroup
	for _, s := range serializers {
		closeWG.Add(1)
		go func(s *wal.RecordSerializer) {
			defer closeWG.Done()
			if err := s.Close(); err != nil && err != wal.ErrShutdown {
				log.Error("failed to close serializer: %v", err)
			}
		}(s)
	}
	closeWG.Wait()

	// Everything handed off is made durable before latencies are summed.
	if err := mgr.ForceFlush(); err != nil && err != wal.ErrShutdown {
		log.Error("workload force flush failed: %v", err)
	}
	report.elapsed = time.Since(started)

	close(latencyC)
	<-collectorDone
	stream.Unsubscribe(sub)
	return report
}

func (r *workloadReport) print() {
	records := atomic.LoadUint64(&r.records)
	bytes := atomic.LoadUint64(&r.bytes)
	seconds := r.elapsed.Seconds()
	log.Info("workload finished in %s", r.elapsed)
	log.Info("durable records: %d (%.0f records/s)", records, float64(records)/seconds)
	log.Info("durable payload: %s (%s/s)", bytefmt.ByteSize(bytes),
		bytefmt.ByteSize(uint64(float64(bytes)/seconds)))
	if r.dropped > 0 {
		log.Warn("latency samples dropped: %d", r.dropped)
	}
	if len(r.latencies) == 0 {
		return
	}
	sort.Float64s(r.latencies)
	for _, p := range []float64{0.5, 0.9, 0.99} {
		q := stat.Quantile(p, stat.Empirical, r.latencies, nil)
		log.Info("commit latency p%02.0f: %.2fms", p*100, q)
	}
}

func setLogLevel(level string) {
	switch level {
	case "error":
		log.SetLevel(log.ERROR)
	case "warning":
		log.SetLevel(log.WARNING)
	case "debug":
		log.SetLevel(log.DEBUG)
	default:
		log.SetLevel(log.INFO)
	}
}
