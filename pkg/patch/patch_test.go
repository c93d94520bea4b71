package patch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/occurrence"
)

const (
	oldURL = "https://old.example"
	newURL = "https://new.example"
)

func decode(t *testing.T, s string) *doctree.Node {
	t.Helper()
	doc, err := doctree.Decode([]byte(s))
	require.NoError(t, err)
	return doc
}

func strp(s string) *string { return &s }

func TestComputeArrayElement(t *testing.T) {
	doc := decode(t, `{"items":["https://old.example/1","keep"]}`)

	count, p := Compute(doc, "https://old.example/1", "https://new.example/1")

	assert.Equal(t, 1, count)
	require.Equal(t, 1, p.Len())
	e, ok := p.Get("items[0]")
	require.True(t, ok)
	assert.Equal(t, "https://new.example/1", e.Value.Str)
	assert.Equal(t, "items.0", e.Address.Dotted())
}

func TestComputeReplacesEveryOccurrenceSinglePass(t *testing.T) {
	doc := decode(t, `{"a":"aXa aXa","b":"untouched"}`)

	count, p := Compute(doc, "a", "aa")

	assert.Equal(t, 4, count)
	e, _ := p.Get("a")
	assert.Equal(t, "aaXaa aaXaa", e.Value.Str)
	_, ok := p.Get("b")
	assert.False(t, ok)
}

func TestComputeExcludesIdentityField(t *testing.T) {
	doc := decode(t, `{"_id":"https://old.example/self","nested":{"_id":{"x":"https://old.example/n"},"y":"https://old.example/y"}}`)

	count, p := Compute(doc, oldURL, newURL)

	assert.Equal(t, 1, count)
	for _, e := range p.Entries() {
		assert.False(t, e.Address.HasRootKey(doctree.IdentityField), e.Address.String())
	}
	_, ok := p.Get("nested.y")
	assert.True(t, ok)
}

func TestComputeEmptyTarget(t *testing.T) {
	doc := decode(t, `{"a":"x"}`)
	count, p := Compute(doc, "", "y")
	assert.Zero(t, count)
	assert.True(t, p.IsEmpty())
}

func TestComputeDeterministic(t *testing.T) {
	doc := decode(t, `{"z":"https://old.example/1","a":["https://old.example/2",{"m":"https://old.example/3"}]}`)

	_, first := Compute(doc, oldURL, newURL)
	_, second := Compute(doc, oldURL, newURL)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"z":"https://new.example/1","a[0]":"https://new.example/2","a[1].m":"https://new.example/3"}`, string(a))
}

func TestApplyThenRescanFindsNothing(t *testing.T) {
	doc := decode(t, `{"_id":"1","a":"see https://old.example/x","b":[["https://old.example/y"]],"n":5}`)

	_, p := Compute(doc, oldURL, newURL)
	patched, err := Apply(doc, p)
	require.NoError(t, err)

	assert.Zero(t, occurrence.Scan(patched, oldURL).Total)
	assert.Equal(t, 2, occurrence.Scan(patched, newURL).Total)

	count, again := Compute(patched, oldURL, newURL)
	assert.Zero(t, count)
	assert.True(t, again.IsEmpty())
}

func TestReplacementContainingTarget(t *testing.T) {
	doc := decode(t, `{"a":"x x","b":"x"}`)
	original := occurrence.Scan(doc, "x").Total

	_, p := Compute(doc, "x", "xx")
	patched, err := Apply(doc, p)
	require.NoError(t, err)

	assert.Equal(t, original*2, occurrence.Scan(patched, "x").Total)
}

func TestApplyInlineMatchesPatch(t *testing.T) {
	doc := decode(t, `{"_id":{"$oid":"64b7f0c2a1b2c3d4e5f60718"},"a":"https://old.example/a","when":{"$date":"2024-01-01T00:00:00Z"},"list":[1,"https://old.example/b",true]}`)

	inline, count := ApplyInline(doc, oldURL, newURL)
	assert.Equal(t, 2, count)

	_, p := Compute(doc, oldURL, newURL)
	patched, err := Apply(doc, p)
	require.NoError(t, err)
	assert.True(t, doctree.Equal(inline, patched))

	origID, _ := doc.Get("_id")
	newID, _ := inline.Get("_id")
	assert.Same(t, origID, newID)

	origWhen, _ := doc.Get("when")
	newWhen, _ := inline.Get("when")
	assert.Same(t, origWhen, newWhen)

	a, _ := doc.Get("a")
	assert.Equal(t, "https://old.example/a", a.Str, "input must not be mutated")
}

func TestApplyInlineProtectsIdentityString(t *testing.T) {
	doc := decode(t, `{"_id":"https://old.example/id","a":"https://old.example/a"}`)

	inline, count := ApplyInline(doc, oldURL, newURL)

	assert.Equal(t, 1, count)
	id, _ := inline.Get("_id")
	assert.Equal(t, "https://old.example/id", id.Str)
}

func TestApplyCreatesMissingKeyAndRejectsBadPaths(t *testing.T) {
	doc := decode(t, `{"a":{"b":"x"},"arr":["y"]}`)

	var p Patch
	p.Set(doctree.Root().Key("a").Key("c"), doctree.String("new"))
	out, err := Apply(doc, p)
	require.NoError(t, err)
	got, ok := out.Lookup(doctree.Root().Key("a").Key("c"))
	require.True(t, ok)
	assert.Equal(t, "new", got.Str)

	var missing Patch
	missing.Set(doctree.Root().Key("nope").Key("c"), doctree.String("v"))
	_, err = Apply(doc, missing)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	var outOfRange Patch
	outOfRange.Set(doctree.Root().Key("arr").Index(3), doctree.String("v"))
	_, err = Apply(doc, outOfRange)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	var root Patch
	root.Set(doctree.Root(), doctree.String("v"))
	_, err = Apply(doc, root)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestInvertRestoresOriginal(t *testing.T) {
	doc := decode(t, `{"videoLink":"https://old.example/v","items":["https://old.example/1"]}`)

	_, p := Compute(doc, oldURL, newURL)
	_, lp := LinkedUpdate(doc, LinkRule{NewDerived: strp("t1")})
	p.Merge(lp)

	inv := Invert(doc, p)
	patched, err := Apply(doc, p)
	require.NoError(t, err)

	restored, err := Apply(patched, inv)
	require.NoError(t, err)
	assert.True(t, doctree.Equal(doc, restored))
}

func TestPatchJSONRoundTrip(t *testing.T) {
	var p Patch
	p.Set(doctree.Root().Key("a").Index(1), doctree.String("x"))
	p.SetUnset(doctree.Root().Key("thumbnail"))

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"a[1]":"x","thumbnail":{"$unset":true}}`, string(raw))

	var back Patch
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, 2, back.Len())
	e, _ := back.Get("thumbnail")
	assert.True(t, e.Unset)
	e, _ = back.Get("a[1]")
	assert.Equal(t, "x", e.Value.Str)
}

func TestPatchJSONRoundTripKeepsSpecialKeys(t *testing.T) {
	doc := decode(t, `{"_id":"1","a.b":"https://old.example/x","c[0]":["https://old.example"]}`)
	count, p := Compute(doc, oldURL, newURL)
	require.Equal(t, 2, count)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"a\\.b":"https://new.example/x","c\\[0\\][0]":"https://new.example"}`, string(raw))

	var back Patch
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, 2, back.Len())

	out, err := Apply(doc, back)
	require.NoError(t, err)
	assert.Equal(t, `{"_id":"1","a.b":"https://new.example/x","c[0]":["https://new.example"]}`, string(doctree.MustEncode(out)))
}

func TestPatchSetReplacesAndCloneIsIndependent(t *testing.T) {
	var p Patch
	p.Set(doctree.Root().Key("a"), doctree.String("1"))
	p.Set(doctree.Root().Key("a"), doctree.String("2"))
	require.Equal(t, 1, p.Len())

	c := p.Clone()
	c.Set(doctree.Root().Key("b"), doctree.String("3"))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "2", p.Values()["a"].Str)
}

func TestEffectiveDropsNoops(t *testing.T) {
	doc := decode(t, `{"videoLink":"https://new.example/v","thumbnail":"t0"}`)

	var p Patch
	p.Set(doctree.Root().Key("videoLink"), doctree.String("https://new.example/v"))
	p.Set(doctree.Root().Key("thumbnail"), doctree.String("t1"))
	p.SetUnset(doctree.Root().Key("absent"))
	p.SetUnset(doctree.Root().Key("thumbnail2"))

	eff := Effective(doc, p)

	require.Equal(t, 1, eff.Len())
	_, ok := eff.Get("thumbnail")
	assert.True(t, ok)
}
