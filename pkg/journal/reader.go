package journal

import (
	"errors"
	"io"
	"os"
)

// Reader reads journal entries across files in order
type Reader struct {
	files   []string
	current int
	fd      *os.File
}

// NewReader creates a reader for the given journal files
func NewReader(files []string) *Reader {
	return &Reader{files: files}
}

// Open opens the first file
func (r *Reader) Open() error {
	if len(r.files) == 0 {
		return ErrLogNotFound
	}
	fd, err := os.Open(r.files[0])
	if err != nil {
		return err
	}
	r.fd = fd
	return nil
}

// Next returns the next valid entry, or io.EOF after the last file.
// Entries failing their checksum are skipped. A torn or oversized frame ends
// the current file.
func (r *Reader) Next() (*Entry, error) {
	for {
		entry, err := r.readEntryFromCurrent()
		switch {
		case err == nil:
			return entry, nil
		case errors.Is(err, ErrCorrupted):
			continue
		case err == io.EOF, errors.Is(err, ErrTruncated), errors.Is(err, ErrTooLarge):
			if err := r.nextFile(); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

// readEntryFromCurrent reads one frame. On a checksum failure the frame has
// been consumed, so reading can resume at the next one.
func (r *Reader) readEntryFromCurrent() (*Entry, error) {
	if r.fd == nil {
		return nil, io.EOF
	}

	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r.fd, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}

	n, err := bodyLen(header)
	if err != nil {
		return nil, err
	}

	data := make([]byte, EntryHeaderSize+n+4)
	copy(data, header)
	if _, err := io.ReadFull(r.fd, data[EntryHeaderSize:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}

	return DecodeEntry(data)
}

// nextFile moves to the next log file
func (r *Reader) nextFile() error {
	if r.fd != nil {
		r.fd.Close()
		r.fd = nil
	}

	r.current++
	if r.current >= len(r.files) {
		return io.EOF
	}

	fd, err := os.Open(r.files[r.current])
	if err != nil {
		return err
	}
	r.fd = fd
	return nil
}

// Close closes the reader
func (r *Reader) Close() error {
	if r.fd != nil {
		return r.fd.Close()
	}
	return nil
}

// ReadAll reads all valid entries from all files
func ReadAll(files []string) ([]*Entry, error) {
	reader := NewReader(files)
	if err := reader.Open(); err != nil {
		return nil, err
	}
	defer reader.Close()

	var entries []*Entry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
}
