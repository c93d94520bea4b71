package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Kind represents the type of journal entry
type Kind byte

const (
	// KindRunStart opens a run; the payload is the run description
	KindRunStart Kind = 1

	// KindChange records one document write and its inverse
	KindChange Kind = 2

	// KindRunEnd closes a run; the payload carries the totals
	KindRunEnd Kind = 3
)

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + Kind(1) + Reserved(7) + RunLen(4) + PayloadLen(4) + Timestamp(8)
	EntryHeaderSize = 32

	// MaxEntrySize bounds run id plus payload of a single entry
	MaxEntrySize = 64 << 20
)

// Entry represents a single journal entry
type Entry struct {
	LSN       uint64    // Log Sequence Number (monotonically increasing)
	Kind      Kind      // Entry type
	Run       string    // Run identifier
	Payload   []byte    // JSON payload
	Timestamp time.Time // Entry timestamp
}

// Encode serializes the entry with a trailing CRC32 checksum
// Format: [Header(32)] [Run] [Payload] [CRC32(4)]
func (e *Entry) Encode() []byte {
	runLen := len(e.Run)
	payloadLen := len(e.Payload)
	buf := make([]byte, EntryHeaderSize+runLen+payloadLen+4)

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	buf[8] = byte(e.Kind)
	// bytes 9-15 are reserved
	binary.LittleEndian.PutUint32(buf[16:20], uint32(runLen))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(payloadLen))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Run)
	offset += runLen
	copy(buf[offset:], e.Payload)
	offset += payloadLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)

	return buf
}

// bodyLen returns run plus payload length announced by a header
func bodyLen(header []byte) (int, error) {
	runLen := binary.LittleEndian.Uint32(header[16:20])
	payloadLen := binary.LittleEndian.Uint32(header[20:24])
	total := uint64(runLen) + uint64(payloadLen)
	if total > MaxEntrySize {
		return 0, ErrTooLarge
	}
	return int(total), nil
}

// DecodeEntry deserializes a journal entry
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	n := len(data)
	stored := binary.LittleEndian.Uint32(data[n-4:])
	if stored != crc32.ChecksumIEEE(data[:n-4]) {
		return nil, ErrCorrupted
	}

	runLen := int(binary.LittleEndian.Uint32(data[16:20]))
	payloadLen := int(binary.LittleEndian.Uint32(data[20:24]))
	if n != EntryHeaderSize+runLen+payloadLen+4 {
		return nil, ErrTruncated
	}

	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		Kind:      Kind(data[8]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[24:32]))).UTC(),
	}

	offset := EntryHeaderSize
	entry.Run = string(data[offset : offset+runLen])
	offset += runLen
	if payloadLen > 0 {
		entry.Payload = make([]byte, payloadLen)
		copy(entry.Payload, data[offset:offset+payloadLen])
	}

	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Run) + len(e.Payload) + 4
}

// String returns a human-readable representation of the entry
func (e *Entry) String() string {
	kind := "UNKNOWN"
	switch e.Kind {
	case KindRunStart:
		kind = "RUN_START"
	case KindChange:
		kind = "CHANGE"
	case KindRunEnd:
		kind = "RUN_END"
	}
	return fmt.Sprintf("JOURNAL[LSN=%d Kind=%s Run=%s PayloadLen=%d]",
		e.LSN, kind, e.Run, len(e.Payload))
}
