package wal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferAppend(t *testing.T) {
	buf := newLogBuffer(16)

	assert.Equal(t, 16, buf.Cap())
	assert.Equal(t, 16, buf.Room())
	assert.Equal(t, 0, buf.Len())

	require.Nil(t, buf.Append([]byte("0123456789")))
	assert.Equal(t, 10, buf.Len())
	assert.Equal(t, 6, buf.Room())

	// Too large for the remaining room; buffer must be untouched.
	err := buf.Append([]byte("abcdefg"))
	assert.Equal(t, ErrBufferFull, err)
	assert.Equal(t, 10, buf.Len())

	require.Nil(t, buf.Append([]byte("abcdef")))
	assert.Equal(t, 0, buf.Room())
	assert.True(t, bytes.Equal([]byte("0123456789abcdef"), buf.Bytes()))
}

func TestLogBufferReset(t *testing.T) {
	buf := newLogBuffer(16)
	require.Nil(t, buf.Append([]byte("payload")))
	buf.AttachCallback(func(interface{}) {}, nil)
	buf.AttachCallback(func(interface{}) {}, "arg")
	assert.Len(t, buf.callbacks, 2)

	buf.reset()
	assert.Equal(t, 0, buf.Len())
	assert.Len(t, buf.callbacks, 0)
	assert.Equal(t, 16, buf.Room())
}
