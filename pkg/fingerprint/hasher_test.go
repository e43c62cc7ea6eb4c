// Copyright © 2018 One Concern

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
)

const (
	jsonSchema = `{"type":"object","properties":{"name":{"type":"string"},"size":{"type":"integer"}}}`
	yamlSchema = `
properties:
  size:
    type: integer
  name:
    type: string
type: object
`
	source = "def ham(x):\r\n\treturn x  \r\n\r\n\r\n\r\n"
)

func testLayers() model.Layers {
	return model.Layers{
		Interface:      []byte(jsonSchema),
		Implementation: []byte(source),
		State:          []byte("state-v1"),
	}
}

func TestCanonicalDocument(t *testing.T) {
	a, err := CanonicalDocument([]byte(jsonSchema))
	require.NoError(t, err)
	b, err := CanonicalDocument([]byte(yamlSchema))
	require.NoError(t, err)
	assert.Equal(t, a, b, "reformatted documents canonicalize identically")

	c, err := CanonicalValue(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"size": map[string]interface{}{"type": "integer"},
		"name": map[string]interface{}{"type": "string"},
	}})
	require.NoError(t, err)
	assert.Equal(t, a, c)

	text, err := CanonicalDocument([]byte("just a description  \n\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "just a description", string(text))
}

func TestCanonicalKeysAndNumbers(t *testing.T) {
	h := NewHasher()

	t.Run("keys differing only by type", func(t *testing.T) {
		for _, doc := range []string{"1: a\n\"1\": b\n", "1: a\n1.0: b\n", "{true: a, \"true\": b}"} {
			for i := 0; i < 50; i++ {
				_, err := h.InterfaceHash([]byte(doc))
				require.Errorf(t, err, "expected %q to be rejected", doc)
				assert.True(t, errors.Is(err, ErrCanonical))
				assert.True(t, errors.Is(err, ErrDuplicateKey))
			}
		}
	})

	t.Run("integral numbers", func(t *testing.T) {
		base, err := h.InterfaceHash([]byte(`{"size": 1, "ratio": 0.5}`))
		require.NoError(t, err)
		for _, doc := range []string{`{"size": 1.0, "ratio": 0.5}`, `{"size": 1e0, "ratio": 5e-1}`, "size: 1.0\nratio: 0.5\n"} {
			hash, err := h.InterfaceHash([]byte(doc))
			require.NoError(t, err)
			assert.Equalf(t, base, hash, "hashing %q", doc)
		}

		other, err := h.InterfaceHash([]byte(`{"size": 1.5, "ratio": 0.5}`))
		require.NoError(t, err)
		assert.NotEqual(t, base, other)
	})

	t.Run("numeric keys", func(t *testing.T) {
		a, err := h.InterfaceHash([]byte("1: a\n2: b\n"))
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			b, err := h.InterfaceHash([]byte("2: b\n1: a\n"))
			require.NoError(t, err)
			require.Equal(t, a, b)
		}
	})
}

func TestNormalizeText(t *testing.T) {
	tests := map[string]string{
		"":                                "",
		"\n\n\nline\n\n":                  "line",
		"a\r\nb\r\n":                      "a\nb",
		"a  \t\n\n\n\nb":                  "a\n\nb",
		"\tindented\t inside  \n  spaced": "\tindented\t inside\n  spaced",
		"mac\rline":                       "mac\nline",
	}
	for in, want := range tests {
		assert.Equalf(t, want, string(NormalizeText([]byte(in))), "normalizing %q", in)
	}
}

func TestFingerprint(t *testing.T) {
	h := NewHasher(WithMaker(New(LeafSize(8))))
	base, err := h.Fingerprint(testLayers())
	require.NoError(t, err)
	assert.Len(t, base.Interface.String(), 128)
	assert.Len(t, base.Interface.Short(), model.ShortHashLen)

	again, err := NewHasher().Fingerprint(testLayers())
	require.NoError(t, err)
	assert.Equal(t, base.Interface, again.Interface)
	assert.Equal(t, base.Impl, again.Impl)

	t.Run("reformatted interface", func(t *testing.T) {
		l := testLayers()
		l.Interface = []byte(yamlSchema)
		fp, err := h.Fingerprint(l)
		require.NoError(t, err)
		assert.True(t, base.Equal(fp))
	})

	t.Run("reformatted implementation", func(t *testing.T) {
		l := testLayers()
		l.Implementation = []byte("def ham(x):\n\treturn x\n")
		fp, err := h.Fingerprint(l)
		require.NoError(t, err)
		assert.True(t, base.Equal(fp))
	})

	t.Run("each layer only moves its own hash", func(t *testing.T) {
		l := testLayers()
		l.Interface = []byte(`{"type":"object"}`)
		fp, err := h.Fingerprint(l)
		require.NoError(t, err)
		assert.Equal(t, model.LayerInterface, fp.Changed(base))
		assert.Equal(t, base.Impl, fp.Impl)
		assert.Equal(t, base.State, fp.State)

		l = testLayers()
		l.Implementation = []byte("def ham(x):\n\treturn 2*x\n")
		fp, err = h.Fingerprint(l)
		require.NoError(t, err)
		assert.Equal(t, model.LayerImpl, fp.Changed(base))

		l = testLayers()
		l.State = []byte("state-v2")
		fp, err = h.Fingerprint(l)
		require.NoError(t, err)
		assert.Equal(t, model.LayerState, fp.Changed(base))
	})

	t.Run("identical bytes in different layers", func(t *testing.T) {
		same := []byte("x")
		fp, err := h.Fingerprint(model.Layers{Interface: same, Implementation: same, State: same})
		require.NoError(t, err)
		assert.NotEqual(t, fp.Interface, fp.Impl)
		assert.NotEqual(t, fp.Impl, fp.State)
	})

	t.Run("bundles do not contribute", func(t *testing.T) {
		l := testLayers()
		l.Bundles = map[model.MediaKind][]byte{model.MediaPackage: []byte("tarball")}
		fp, err := h.Fingerprint(l)
		require.NoError(t, err)
		assert.True(t, base.Equal(fp))
	})
}

func TestStructuredState(t *testing.T) {
	h := NewHasher(StructuredState(true))
	a, err := h.StateHash([]byte(`{"b": 1, "a": [1, 2]}`))
	require.NoError(t, err)
	b, err := h.StateHash([]byte("a: [1, 2]\nb: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	raw, err := NewHasher().StateHash([]byte(`{"b": 1, "a": [1, 2]}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, raw)
}

func TestAdhocTag(t *testing.T) {
	fp, err := NewHasher().Fingerprint(testLayers())
	require.NoError(t, err)

	clean := AdhocTag(model.Revision{Commit: "0123456789abcdef"}, fp)
	assert.True(t, model.IsAdhocTag(string(clean)), clean)
	assert.Equal(t, "0123456", string(clean)[:7])
	assert.Equal(t, clean, AdhocTag(model.Revision{Commit: "0123456789abcdef"}, fp))

	dirty := AdhocTag(model.Revision{Commit: "0123456789abcdef", Dirty: "fedcba9876543210"}, fp)
	assert.True(t, model.IsAdhocTag(string(dirty)), dirty)
	assert.Contains(t, string(dirty), "-fedcba9-")

	none := AdhocTag(model.Revision{}, fp)
	assert.True(t, model.IsAdhocTag(string(none)), none)
	assert.Equal(t, model.NoRevision, string(none)[:7])

	other := fp
	other.State = "00"
	assert.NotEqual(t, clean, AdhocTag(model.Revision{Commit: "0123456789abcdef"}, other))
}
