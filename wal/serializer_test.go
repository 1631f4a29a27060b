package wal_test

import (
	"bytes"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/wal"
)

func serializerConfig(t *testing.T) wal.Config {
	t.Helper()
	return wal.Config{
		LogFilePath:      filepath.Join(t.TempDir(), "tern.wal"),
		NumBuffers:       4,
		BufferSize:       128,
		PersistInterval:  10 * time.Second,
		PersistThreshold: 1 << 20,
	}
}

func TestSerializerRollsBuffers(t *testing.T) {
	cfg := serializerConfig(t)
	mgr := startManager(t, cfg)
	s := wal.NewRecordSerializer(mgr)

	var fired uint64
	cb := func() *wal.CommitCallback {
		return &wal.CommitCallback{Fn: func(interface{}) { atomic.AddUint64(&fired, 1) }}
	}

	// Three records, two to a buffer: the serializer rolls to a second
	// buffer without ever splitting a record.
	payloads := [][]byte{
		bytes.Repeat([]byte{'a'}, 30),
		bytes.Repeat([]byte{'b'}, 30),
		bytes.Repeat([]byte{'c'}, 30),
	}
	for _, p := range payloads {
		require.Nil(t, s.AppendRecord(p, cb()))
	}
	require.Nil(t, s.Close())
	require.Nil(t, mgr.ForceFlush())
	assert.Equal(t, uint64(3), atomic.LoadUint64(&fired))

	require.Nil(t, mgr.Stop())
	records := readRecords(t, cfg.LogFilePath)
	require.Len(t, records, 3)
	for i, p := range payloads {
		assert.Equal(t, p, records[i])
	}
}

func TestSerializerRejectsOversizedRecord(t *testing.T) {
	cfg := serializerConfig(t)
	mgr := startManager(t, cfg)
	defer mgr.Stop()
	s := wal.NewRecordSerializer(mgr)
	defer s.Close()

	err := s.AppendRecord(make([]byte, cfg.BufferSize), nil)
	assert.Equal(t, wal.ErrRecordTooLarge, err)
}

func TestSerializerPeriodicHandoff(t *testing.T) {
	cfg := serializerConfig(t)
	cfg.PersistInterval = 10 * time.Millisecond
	cfg.SerializationInterval = 5 * time.Millisecond
	mgr := startManager(t, cfg)
	s := wal.NewRecordSerializer(mgr)

	var fired uint64
	require.Nil(t, s.AppendRecord([]byte("lonely commit"), &wal.CommitCallback{
		Fn: func(interface{}) { atomic.AddUint64(&fired, 1) },
	}))

	// No explicit flush: the handoff ticker moves the partial buffer and
	// the persist interval makes it durable.
	assert.Eventually(t, func() bool { return atomic.LoadUint64(&fired) == 1 },
		testTimeout, time.Millisecond)

	require.Nil(t, s.Close())
	require.Nil(t, mgr.Stop())
}

func TestSerializerCloseFlushes(t *testing.T) {
	cfg := serializerConfig(t)
	mgr := startManager(t, cfg)
	s := wal.NewRecordSerializer(mgr)

	var fired uint64
	require.Nil(t, s.AppendRecord([]byte("flushed on close"), &wal.CommitCallback{
		Fn: func(interface{}) { atomic.AddUint64(&fired, 1) },
	}))
	assert.Equal(t, uint64(0), atomic.LoadUint64(&fired))

	require.Nil(t, s.Close())
	require.Nil(t, mgr.ForceFlush())
	assert.Equal(t, uint64(1), atomic.LoadUint64(&fired))

	require.Nil(t, mgr.Stop())
	records := readRecords(t, cfg.LogFilePath)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("flushed on close"), records[0])
}
