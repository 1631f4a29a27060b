package utils

import (
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"
)

var InstanceConfig TernConfig

// TernConfig is the parsed server configuration for the tern log pipeline.
type TernConfig struct {
	LogDir                string
	ListenPort            string
	LogLevel              string
	NumBuffers            int
	BufferSize            uint64
	PersistInterval       time.Duration
	PersistThreshold      uint64
	SerializationInterval time.Duration
	StartTime             time.Time
	Bench                 BenchSetting
}

// BenchSetting configures the producer workload driven by the start command.
type BenchSetting struct {
	Producers  int
	RecordSize uint64
	Duration   time.Duration
}

const (
	defaultNumBuffers            = 16
	defaultBufferSize            = 1 << 20 // 1 MiB
	defaultPersistInterval       = 10 * time.Millisecond
	defaultPersistThreshold      = 1 << 20
	defaultSerializationInterval = 5 * time.Millisecond
	defaultBenchProducers        = 4
	defaultBenchRecordSize       = 256
)

// ParseConfig parses a YAML configuration document into a TernConfig,
// applying defaults for everything left unset.
func ParseConfig(data []byte) (*TernConfig, error) {
	var aux struct {
		LogDir                string `yaml:"log_dir"`
		ListenPort            string `yaml:"listen_port"`
		LogLevel              string `yaml:"log_level"`
		NumBuffers            int    `yaml:"num_buffers"`
		BufferSize            string `yaml:"buffer_size"`
		PersistInterval       string `yaml:"persist_interval"`
		PersistThreshold      string `yaml:"persist_threshold"`
		SerializationInterval string `yaml:"serialization_interval"`
		Bench                 struct {
			Producers  int    `yaml:"producers"`
			RecordSize string `yaml:"record_size"`
			Duration   string `yaml:"duration"`
		} `yaml:"bench"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	if aux.LogDir == "" {
		return nil, errors.New("invalid log directory")
	}

	m := &TernConfig{
		LogDir:                aux.LogDir,
		ListenPort:            aux.ListenPort,
		LogLevel:              aux.LogLevel,
		NumBuffers:            aux.NumBuffers,
		BufferSize:            defaultBufferSize,
		PersistInterval:       defaultPersistInterval,
		PersistThreshold:      defaultPersistThreshold,
		SerializationInterval: defaultSerializationInterval,
		Bench: BenchSetting{
			Producers:  aux.Bench.Producers,
			RecordSize: defaultBenchRecordSize,
		},
	}

	if m.NumBuffers == 0 {
		m.NumBuffers = defaultNumBuffers
	}
	if m.Bench.Producers == 0 {
		m.Bench.Producers = defaultBenchProducers
	}

	var err error
	if aux.BufferSize != "" {
		if m.BufferSize, err = bytefmt.ToBytes(aux.BufferSize); err != nil {
			return nil, fmt.Errorf("invalid buffer_size %q: %w", aux.BufferSize, err)
		}
	}
	if aux.PersistThreshold != "" {
		if m.PersistThreshold, err = bytefmt.ToBytes(aux.PersistThreshold); err != nil {
			return nil, fmt.Errorf("invalid persist_threshold %q: %w", aux.PersistThreshold, err)
		}
	}
	if aux.Bench.RecordSize != "" {
		if m.Bench.RecordSize, err = bytefmt.ToBytes(aux.Bench.RecordSize); err != nil {
			return nil, fmt.Errorf("invalid bench record_size %q: %w", aux.Bench.RecordSize, err)
		}
	}
	if aux.PersistInterval != "" {
		if m.PersistInterval, err = time.ParseDuration(aux.PersistInterval); err != nil {
			return nil, fmt.Errorf("invalid persist_interval %q: %w", aux.PersistInterval, err)
		}
	}
	if aux.SerializationInterval != "" {
		if m.SerializationInterval, err = time.ParseDuration(aux.SerializationInterval); err != nil {
			return nil, fmt.Errorf("invalid serialization_interval %q: %w", aux.SerializationInterval, err)
		}
	}
	if aux.Bench.Duration != "" {
		if m.Bench.Duration, err = time.ParseDuration(aux.Bench.Duration); err != nil {
			return nil, fmt.Errorf("invalid bench duration %q: %w", aux.Bench.Duration, err)
		}
	}

	return m, nil
}
