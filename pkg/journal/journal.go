package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxFileSize is the size at which a journal file is rotated (100MB)
	DefaultMaxFileSize = 100 << 20
)

// Journal is an append-only log split into numbered files
type Journal struct {
	// Path is the base path for journal files (e.g., "/data/linksweep.journal")
	Path string

	// MaxFileSize overrides DefaultMaxFileSize when positive
	MaxFileSize int64

	// MaxFiles keeps only the newest files after rotation; 0 keeps all
	MaxFiles int

	// SyncEachWrite fsyncs after every append
	SyncEachWrite bool

	fd        *os.File
	mu        sync.Mutex
	lsn       uint64
	fileSize  int64
	fileIndex int
	closed    bool
	now       func() time.Time
}

// Open opens or creates the journal
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.now == nil {
		j.now = time.Now
	}

	files, err := j.findLogFiles()
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if len(files) > 0 {
		latest := files[len(files)-1]
		fd, err := os.OpenFile(latest, os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		stat, err := fd.Stat()
		if err != nil {
			fd.Close()
			return err
		}
		j.fd = fd
		j.fileSize = stat.Size()
		j.fileIndex = j.indexOf(latest)

		maxLSN, err := scanForHighestLSN(files)
		if err != nil {
			fd.Close()
			return err
		}
		atomic.StoreUint64(&j.lsn, maxLSN)
	} else {
		logPath := j.logFilePath(0)
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return err
		}
		fd, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		j.fd = fd
		j.fileSize = 0
		j.fileIndex = 0
		atomic.StoreUint64(&j.lsn, 0)
	}

	j.closed = false
	return nil
}

// LastLSN returns the highest LSN written so far
func (j *Journal) LastLSN() uint64 {
	return atomic.LoadUint64(&j.lsn)
}

// Append writes an entry with the next LSN and returns it
func (j *Journal) Append(kind Kind, run string, payload []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return 0, ErrLogClosed
	}

	entry := Entry{
		LSN:       atomic.AddUint64(&j.lsn, 1),
		Kind:      kind,
		Run:       run,
		Payload:   payload,
		Timestamp: j.now(),
	}
	data := entry.Encode()

	if j.fileSize > 0 && j.fileSize+int64(len(data)) > j.maxFileSize() {
		if err := j.rotateNoLock(); err != nil {
			return 0, err
		}
	}

	n, err := j.fd.Write(data)
	if err != nil {
		return 0, err
	}
	j.fileSize += int64(n)

	if j.SyncEachWrite {
		if err := j.fd.Sync(); err != nil {
			return 0, err
		}
	}
	return entry.LSN, nil
}

// AppendJSON marshals v and appends it
func (j *Journal) AppendJSON(kind Kind, run string, v any) (uint64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode journal payload: %w", err)
	}
	return j.Append(kind, run, payload)
}

// Fsync ensures all written data is persisted to disk
func (j *Journal) Fsync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return ErrLogClosed
	}
	return j.fd.Sync()
}

// Close syncs and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return nil
	}
	j.closed = true
	if err := j.fd.Sync(); err != nil {
		j.fd.Close()
		return err
	}
	return j.fd.Close()
}

// Files returns the journal files in write order
func (j *Journal) Files() ([]string, error) {
	return j.findLogFiles()
}

// ReadAll reads every valid entry of the journal
func (j *Journal) ReadAll() ([]*Entry, error) {
	files, err := j.findLogFiles()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return ReadAll(files)
}

func (j *Journal) maxFileSize() int64 {
	if j.MaxFileSize > 0 {
		return j.MaxFileSize
	}
	return DefaultMaxFileSize
}

// rotateNoLock switches to a new log file (caller must hold mu)
func (j *Journal) rotateNoLock() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}

	j.fileIndex++
	fd, err := os.OpenFile(j.logFilePath(j.fileIndex), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.fd = fd
	j.fileSize = 0

	return j.cleanOldLogsNoLock()
}

// cleanOldLogsNoLock removes the oldest files beyond MaxFiles (caller must hold mu)
func (j *Journal) cleanOldLogsNoLock() error {
	if j.MaxFiles <= 0 {
		return nil
	}
	files, err := j.findLogFiles()
	if err != nil {
		return err
	}
	if len(files) > j.MaxFiles {
		for _, f := range files[:len(files)-j.MaxFiles] {
			os.Remove(f)
		}
	}
	return nil
}

func (j *Journal) baseName() string {
	return filepath.Base(j.Path)
}

func (j *Journal) logFilePath(index int) string {
	return filepath.Join(filepath.Dir(j.Path), fmt.Sprintf("%s.%03d", j.baseName(), index))
}

func (j *Journal) indexOf(path string) int {
	var index int
	if _, err := fmt.Sscanf(filepath.Base(path)[len(j.baseName()):], ".%d", &index); err != nil {
		return 0
	}
	return index
}

// findLogFiles returns all journal files sorted by index
func (j *Journal) findLogFiles() ([]string, error) {
	dir := filepath.Dir(j.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := j.baseName() + "."
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		var index int
		if _, err := fmt.Sscanf(name[len(prefix):], "%d", &index); err != nil {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}

	sort.Slice(files, func(a, b int) bool {
		return j.indexOf(files[a]) < j.indexOf(files[b])
	})
	return files, nil
}

// scanForHighestLSN reads every file and returns the highest valid LSN
func scanForHighestLSN(files []string) (uint64, error) {
	reader := NewReader(files)
	if err := reader.Open(); err != nil {
		return 0, err
	}
	defer reader.Close()

	var maxLSN uint64
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return maxLSN, nil
		}
		if err != nil {
			return 0, err
		}
		if entry.LSN > maxLSN {
			maxLSN = entry.LSN
		}
	}
}
