// ABOUTME: Document store abstraction shared by every backend
// ABOUTME: Documents are doctree nodes addressed by (collection, id)

package storage

import (
	"context"
	"errors"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
)

// ErrNotFound is returned when a document id does not resolve
var ErrNotFound = errors.New("document not found")

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store is closed")

// IterateFunc receives each document of a collection in store order.
// Returning an error stops the iteration and is passed back to the caller.
type IterateFunc func(id string, doc *doctree.Node) error

// Store is a collection-oriented document database
type Store interface {
	// Collections lists the collection names known to the store
	Collections(ctx context.Context) ([]string, error)

	// Iterate visits every document in a collection
	Iterate(ctx context.Context, collection string, fn IterateFunc) error

	// Get loads one document, or ErrNotFound
	Get(ctx context.Context, collection, id string) (*doctree.Node, error)

	// Put inserts or overwrites a document
	Put(ctx context.Context, collection, id string, doc *doctree.Node) error

	// ApplyPatch writes only the fields named by the patch
	ApplyPatch(ctx context.Context, collection, id string, p patch.Patch) error

	// Replace overwrites an existing document, or returns ErrNotFound
	Replace(ctx context.Context, collection, id string, doc *doctree.Node) error

	Close() error
}
