package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tern.wal")
	require.Nil(t, os.WriteFile(path, make([]byte, 4096), 0o600))

	assert.Equal(t, int64(4096), logFileSize(path))
	assert.Equal(t, int64(0), logFileSize(filepath.Join(t.TempDir(), "missing")))
}

func TestConsumerSinkRecordsData(t *testing.T) {
	bytesBefore := testutil.ToFloat64(BytesWrittenTotal)
	buffersBefore := testutil.ToFloat64(BuffersFlushedTotal)
	persistsBefore := testutil.ToFloat64(PersistsTotal)

	sink := NewConsumerSink()
	sink.RecordConsumerData(1500, 2500, 4096, 4)

	assert.Equal(t, float64(4096), testutil.ToFloat64(BytesWrittenTotal)-bytesBefore)
	assert.Equal(t, float64(4), testutil.ToFloat64(BuffersFlushedTotal)-buffersBefore)
	assert.Equal(t, float64(1), testutil.ToFloat64(PersistsTotal)-persistsBefore)
}
