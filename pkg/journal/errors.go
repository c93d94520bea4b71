// Package journal is an append-only, checksummed log of replay runs and the
// changes they wrote
package journal

import "errors"

var (
	// ErrCorrupted indicates a corrupted journal entry (CRC mismatch)
	ErrCorrupted = errors.New("journal: corrupted entry")

	// ErrLogClosed indicates an operation on a closed journal
	ErrLogClosed = errors.New("journal: log closed")

	// ErrLogNotFound indicates journal files don't exist
	ErrLogNotFound = errors.New("journal: log not found")

	// ErrTruncated indicates a truncated journal entry
	ErrTruncated = errors.New("journal: truncated entry")

	// ErrTooLarge indicates an entry header announcing an implausible size
	ErrTooLarge = errors.New("journal: entry too large")
)
