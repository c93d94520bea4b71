// ABOUTME: Embedded document store on pebble with composite (collection, id) keys
// ABOUTME: Documents are kept as ordered JSON; writes are serialized and synced

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
)

// Key prefixes
const (
	PREFIX_DOCUMENT   = uint32(1000) // (collection, id) -> document JSON
	PREFIX_COLLECTION = uint32(1100) // (collection) -> empty
)

// LocalOptions configures a LocalStore
type LocalOptions struct {
	// Path is the pebble directory
	Path string

	// FS overrides the filesystem, e.g. vfs.NewMem() in tests
	FS vfs.FS
}

// LocalStore is a Store backed by an embedded pebble database
type LocalStore struct {
	db     *pebble.DB
	mu     sync.Mutex // serializes read-modify-write cycles
	closed bool
}

// OpenLocal opens or creates a local store
func OpenLocal(opts LocalOptions) (*LocalStore, error) {
	db, err := OpenPebble(opts.Path, opts.FS)
	if err != nil {
		return nil, err
	}
	return &LocalStore{db: db}, nil
}

// OpenPebble opens a pebble database, on fs when given
func OpenPebble(path string, fs vfs.FS) (*pebble.DB, error) {
	po := &pebble.Options{}
	if fs != nil {
		po.FS = fs
	}
	db, err := pebble.Open(path, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return db, nil
}

// DB exposes the underlying pebble database so sibling stores can share it
func (s *LocalStore) DB() *pebble.DB {
	return s.db
}

func documentKey(collection, id string) []byte {
	return EncodeKey(PREFIX_DOCUMENT, []Value{
		NewStringValue(collection),
		NewStringValue(id),
	})
}

func collectionKey(collection string) []byte {
	return EncodeKey(PREFIX_COLLECTION, []Value{NewStringValue(collection)})
}

// Collections lists registered collections in name order
func (s *LocalStore) Collections(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: EncodeKey(PREFIX_COLLECTION, nil),
		UpperBound: KeyUpperBound(PREFIX_COLLECTION, nil),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for iter.First(); iter.Valid(); iter.Next() {
		vals, err := ExtractValues(iter.Key())
		if err != nil || len(vals) != 1 {
			return nil, fmt.Errorf("corrupt collection key: %x", iter.Key())
		}
		names = append(names, string(vals[0].Str))
	}
	return names, iter.Error()
}

// Iterate visits documents of a collection in id order
func (s *LocalStore) Iterate(ctx context.Context, collection string, fn IterateFunc) error {
	if s.isClosed() {
		return ErrClosed
	}
	lead := []Value{NewStringValue(collection)}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: EncodeKey(PREFIX_DOCUMENT, lead),
		UpperBound: KeyUpperBound(PREFIX_DOCUMENT, lead),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		vals, err := ExtractValues(iter.Key())
		if err != nil || len(vals) != 2 {
			return fmt.Errorf("corrupt document key: %x", iter.Key())
		}
		id := string(vals[1].Str)
		doc, err := doctree.Decode(iter.Value())
		if err != nil {
			return fmt.Errorf("document %s/%s: %w", collection, id, err)
		}
		if err := fn(id, doc); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Get loads a document
func (s *LocalStore) Get(ctx context.Context, collection, id string) (*doctree.Node, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.get(collection, id)
}

func (s *LocalStore) get(collection, id string) (*doctree.Node, error) {
	val, closer, err := s.db.Get(documentKey(collection, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// Decode copies everything it keeps, so val may be released afterwards
	return doctree.Decode(val)
}

// Put inserts or overwrites a document and registers its collection
func (s *LocalStore) Put(ctx context.Context, collection, id string, doc *doctree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.write(collection, id, doc)
}

// ApplyPatch loads, patches and rewrites a document under the write lock
func (s *LocalStore) ApplyPatch(ctx context.Context, collection, id string, p patch.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	current, err := s.get(collection, id)
	if err != nil {
		return err
	}
	updated, err := patch.Apply(current, p)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return s.write(collection, id, updated)
}

// Replace overwrites an existing document
func (s *LocalStore) Replace(ctx context.Context, collection, id string, doc *doctree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.get(collection, id); err != nil {
		return err
	}
	return s.write(collection, id, doc)
}

// write commits the document and its collection marker in one synced batch
// (caller must hold mu)
func (s *LocalStore) write(collection, id string, doc *doctree.Node) error {
	data, err := doctree.Encode(doc)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(documentKey(collection, id), data, nil); err != nil {
		return err
	}
	if err := batch.Set(collectionKey(collection), nil, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Close closes the database
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *LocalStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
