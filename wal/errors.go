package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned when a buffer is requested or submitted
	// after the log manager has stopped.
	ErrShutdown = errors.New("log manager is not running")

	// ErrBufferFull is returned by LogBuffer.Append when the buffer does
	// not have room for the whole payload.
	ErrBufferFull = errors.New("log buffer is full")

	// ErrRecordTooLarge is returned when a single framed record cannot
	// fit in an empty buffer.
	ErrRecordTooLarge = errors.New("record exceeds log buffer capacity")
)

// CreateError is used when the log file cannot be created or opened.
type CreateError string

func (msg CreateError) Error() string {
	return fmt.Sprintf("%s: unable to create log file", string(msg))
}

// ChecksumError is used when a record read back from the log file fails
// checksum validation.
type ChecksumError string

func (msg ChecksumError) Error() string {
	return fmt.Sprintf("%s: record checksum mismatch", string(msg))
}

// ShortReadError is used when the log file ends in the middle of a record.
type ShortReadError string

func (msg ShortReadError) Error() string {
	return fmt.Sprintf("%s: unexpectedly short read", string(msg))
}
