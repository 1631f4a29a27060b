package wal

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message Types for log file messages
// --- Message ID
type MIDEnum int8

const (
	RECDATA MIDEnum = iota
	STATUS
)

const (
	midLenBytes      = 1
	recordLenBytes   = 8
	checksumLenBytes = md5.Size
)

// FrameOverhead is the number of framing bytes added around each record
// payload by EncodeRecord.
const FrameOverhead = midLenBytes + recordLenBytes + checksumLenBytes

// EncodeRecord appends a framed record to dst and returns the extended
// slice. The frame is the RECDATA message ID, the little-endian payload
// length, the payload itself and an MD5 checksum over the length and the
// payload.
func EncodeRecord(dst, payload []byte) []byte {
	var lenBuf [recordLenBytes]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))

	hash := md5.New()
	hash.Write(lenBuf[:])
	hash.Write(payload)

	dst = append(dst, byte(RECDATA))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, payload...)
	dst = hash.Sum(dst)
	return dst
}

// EncodedLen returns the framed size of a payload of n bytes.
func EncodedLen(n int) int {
	return n + FrameOverhead
}

// RecordScanner walks RECDATA frames in a log file, validating each
// record's checksum. It is used by the offline inspector and by tests to
// verify what actually reached the disk.
type RecordScanner struct {
	r       io.Reader
	payload []byte
	err     error
}

// NewRecordScanner returns a scanner reading framed records from r.
func NewRecordScanner(r io.Reader) *RecordScanner {
	return &RecordScanner{r: r}
}

// Next advances to the next record. It returns false at end of file or on
// the first error; Err tells the two apart.
func (s *RecordScanner) Next() bool {
	if s.err != nil {
		return false
	}
	var head [midLenBytes + recordLenBytes]byte
	if _, err := io.ReadFull(s.r, head[:midLenBytes]); err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	if MIDEnum(head[0]) != RECDATA {
		s.err = fmt.Errorf("unexpected message ID: %d", head[0])
		return false
	}
	if _, err := io.ReadFull(s.r, head[midLenBytes:]); err != nil {
		s.err = ShortReadError("RecordScanner.Next")
		return false
	}
	recLen := binary.LittleEndian.Uint64(head[midLenBytes:])
	if !sanityCheckLength(recLen) {
		s.err = fmt.Errorf("unreasonable record length: %d", recLen)
		return false
	}

	buf := make([]byte, int(recLen)+checksumLenBytes)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		s.err = ShortReadError("RecordScanner.Next")
		return false
	}
	payload, cksum := buf[:recLen], buf[recLen:]

	hash := md5.New()
	hash.Write(head[midLenBytes:])
	hash.Write(payload)
	if !bytes.Equal(hash.Sum(nil), cksum) {
		s.err = ChecksumError("RecordScanner.Next")
		return false
	}
	s.payload = payload
	return true
}

// Record returns the payload of the record read by the last call to Next.
func (s *RecordScanner) Record() []byte { return s.payload }

// Err returns the first error encountered by the scanner, nil at a clean
// end of file.
func (s *RecordScanner) Err() error { return s.err }

func sanityCheckLength(recLen uint64) bool {
	// Guard buffer allocation against a corrupt length field.
	const maxRecordLen = 1 << 30
	return recLen < maxRecordLen
}
