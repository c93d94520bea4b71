package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
)

func openMem(t *testing.T) *LocalStore {
	t.Helper()
	s, err := OpenLocal(LocalOptions{Path: "db", FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDecode(t *testing.T, s string) *doctree.Node {
	t.Helper()
	n, err := doctree.Decode([]byte(s))
	require.NoError(t, err)
	return n
}

func TestLocalPutGet(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	doc := mustDecode(t, `{"_id":{"$oid":"64b7f0c2a1b2c3d4e5f60718"},"z":1,"a":"x"}`)
	require.NoError(t, s.Put(ctx, "pages", "64b7f0c2a1b2c3d4e5f60718", doc))

	got, err := s.Get(ctx, "pages", "64b7f0c2a1b2c3d4e5f60718")
	require.NoError(t, err)
	assert.Equal(t, string(doctree.MustEncode(doc)), string(doctree.MustEncode(got)))

	_, err = s.Get(ctx, "pages", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalIterateAndCollections(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	require.NoError(t, s.Put(ctx, "posts", "b", mustDecode(t, `{"n":2}`)))
	require.NoError(t, s.Put(ctx, "pages", "2", mustDecode(t, `{"n":2}`)))
	require.NoError(t, s.Put(ctx, "pages", "1", mustDecode(t, `{"n":1}`)))
	require.NoError(t, s.Put(ctx, "pagesX", "1", mustDecode(t, `{"n":9}`)))

	names, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pages", "pagesX", "posts"}, names)

	var ids []string
	err = s.Iterate(ctx, "pages", func(id string, doc *doctree.Node) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	stop := errors.New("stop")
	calls := 0
	err = s.Iterate(ctx, "pages", func(id string, doc *doctree.Node) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestLocalApplyPatch(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)
	require.NoError(t, s.Put(ctx, "pages", "1", mustDecode(t, `{"a":"https://old.example/x","b":"keep"}`)))

	var p patch.Patch
	p.Set(doctree.Root().Key("a"), doctree.String("https://new.example/x"))
	require.NoError(t, s.ApplyPatch(ctx, "pages", "1", p))

	got, err := s.Get(ctx, "pages", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":"https://new.example/x","b":"keep"}`, string(doctree.MustEncode(got)))

	err = s.ApplyPatch(ctx, "pages", "nope", p)
	assert.ErrorIs(t, err, ErrNotFound)

	var bad patch.Patch
	bad.Set(doctree.Root().Key("missing").Key("x"), doctree.String("v"))
	err = s.ApplyPatch(ctx, "pages", "1", bad)
	assert.ErrorIs(t, err, patch.ErrInvalidAddress)
}

func TestLocalReplaceRequiresExisting(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	err := s.Replace(ctx, "pages", "1", mustDecode(t, `{"a":1}`))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "pages", "1", mustDecode(t, `{"a":1}`)))
	require.NoError(t, s.Replace(ctx, "pages", "1", mustDecode(t, `{"b":2}`)))
	got, err := s.Get(ctx, "pages", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(doctree.MustEncode(got)))
}

func TestLocalClosed(t *testing.T) {
	ctx := context.Background()
	s, err := OpenLocal(LocalOptions{Path: "db", FS: vfs.NewMem()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "pages", "1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Put(ctx, "pages", "1", doctree.Object()), ErrClosed)
}
