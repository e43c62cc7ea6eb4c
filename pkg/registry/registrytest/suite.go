// Copyright © 2018 One Concern

// Package registrytest provides a conformance suite for implementations of registry.Registry.
package registrytest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// Factory builds a fresh, empty registry for each test
type Factory func(t testing.TB) registry.Registry

// Blob builds a descriptor for some content
func Blob(data []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: "application/vnd.keel.test.v1",
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
}

// Manifest builds a minimal OCI image manifest referencing a single layer
func Manifest(t testing.TB, ctx context.Context, reg registry.Registry, payload string) []byte {
	layer := []byte(payload)
	require.NoError(t, reg.PushBlob(ctx, Blob(layer), layer))
	config := []byte("{}")
	require.NoError(t, reg.PushBlob(ctx, Blob(config), config))
	return []byte(fmt.Sprintf(`{"schemaVersion":2,"mediaType":%q,"config":{"mediaType":%q,"digest":%q,"size":%d},"layers":[{"mediaType":%q,"digest":%q,"size":%d}]}`,
		ocispec.MediaTypeImageManifest,
		ocispec.MediaTypeEmptyJSON, digest.FromBytes(config), len(config),
		"application/vnd.keel.test.v1", digest.FromBytes(layer), len(layer),
	))
}

// Run the conformance suite
func Run(t *testing.T, factory Factory) {
	t.Run("blobs", func(t *testing.T) {
		t.Parallel()
		testBlobs(t, factory(t))
	})
	t.Run("manifests", func(t *testing.T) {
		t.Parallel()
		testManifests(t, factory(t))
	})
	t.Run("conditions", func(t *testing.T) {
		t.Parallel()
		testConditions(t, factory(t))
	})
	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		testDelete(t, factory(t))
	})
	t.Run("concurrent if-absent", func(t *testing.T) {
		t.Parallel()
		testConcurrentIfAbsent(t, factory(t))
	})
}

func testBlobs(t *testing.T, reg registry.Registry) {
	ctx := context.Background()
	data := []byte("some state")
	desc := Blob(data)

	has, err := reg.HasBlob(ctx, desc)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = reg.PullBlob(ctx, desc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound), "got %v", err)

	require.NoError(t, reg.PushBlob(ctx, desc, data))
	require.NoError(t, reg.PushBlob(ctx, desc, data), "pushing a blob twice is idempotent")

	has, err = reg.HasBlob(ctx, desc)
	require.NoError(t, err)
	assert.True(t, has)

	back, err := reg.PullBlob(ctx, desc)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	err = reg.PushBlob(ctx, desc, []byte("other content"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrIntegrity), "got %v", err)
}

func testManifests(t *testing.T, reg registry.Registry) {
	ctx := context.Background()
	manifest := Manifest(t, ctx, reg, "v1")

	desc, err := reg.PutManifest(ctx, "obj.ham.v1.0.0", ocispec.MediaTypeImageManifest, manifest, registry.IfAbsent())
	require.NoError(t, err)
	assert.Equal(t, digest.FromBytes(manifest), desc.Digest)

	byTag, back, err := reg.GetManifest(ctx, "obj.ham.v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, desc.Digest, byTag.Digest)
	assert.Equal(t, manifest, back)

	byDigest, err := reg.Resolve(ctx, desc.Digest.String())
	require.NoError(t, err)
	assert.Equal(t, desc.Digest, byDigest.Digest)

	untagged := Manifest(t, ctx, reg, "untagged")
	udesc, err := reg.PutManifest(ctx, "", ocispec.MediaTypeImageManifest, untagged, registry.Always())
	require.NoError(t, err)
	_, back, err = reg.GetManifest(ctx, udesc.Digest.String())
	require.NoError(t, err)
	assert.Equal(t, untagged, back)

	tags, err := reg.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"obj.ham.v1.0.0"}, tags)

	_, err = reg.Resolve(ctx, "obj.ham.v9.9.9")
	assert.True(t, errors.Is(err, status.ErrNotFound), "got %v", err)

	_, err = reg.PutManifest(ctx, "bad tag!", ocispec.MediaTypeImageManifest, manifest, registry.Always())
	assert.True(t, errors.Is(err, status.ErrInvalidReference), "got %v", err)
}

func testConditions(t *testing.T, reg registry.Registry) {
	ctx := context.Background()
	first := Manifest(t, ctx, reg, "first")
	second := Manifest(t, ctx, reg, "second")
	third := Manifest(t, ctx, reg, "third")
	const tag = "obj.ham._ledger"

	d1, err := reg.PutManifest(ctx, tag, ocispec.MediaTypeImageManifest, first, registry.IfMatch(""))
	require.NoError(t, err)

	_, err = reg.PutManifest(ctx, tag, ocispec.MediaTypeImageManifest, second, registry.IfAbsent())
	assert.True(t, errors.Is(err, status.ErrConflict), "got %v", err)

	_, err = reg.PutManifest(ctx, tag, ocispec.MediaTypeImageManifest, first, registry.IfAbsent())
	require.NoError(t, err, "rewriting the same content is a no-op")

	d2, err := reg.PutManifest(ctx, tag, ocispec.MediaTypeImageManifest, second, registry.IfMatch(d1.Digest))
	require.NoError(t, err)

	_, err = reg.PutManifest(ctx, tag, ocispec.MediaTypeImageManifest, third, registry.IfMatch(d1.Digest))
	assert.True(t, errors.Is(err, status.ErrConflict), "stale revision must conflict, got %v", err)

	current, err := reg.Resolve(ctx, tag)
	require.NoError(t, err)
	assert.Equal(t, d2.Digest, current.Digest)

	_, err = reg.PutManifest(ctx, tag, ocispec.MediaTypeImageManifest, third, registry.Always())
	require.NoError(t, err)

	_, err = reg.PutManifest(ctx, "obj.ham._ledger.absent", ocispec.MediaTypeImageManifest, third, registry.IfMatch(d1.Digest))
	assert.True(t, errors.Is(err, status.ErrConflict), "got %v", err)
}

func testDelete(t *testing.T, reg registry.Registry) {
	ctx := context.Background()
	manifest := Manifest(t, ctx, reg, "to delete")
	_, err := reg.PutManifest(ctx, "obj.ham.0123456-89abcde", ocispec.MediaTypeImageManifest, manifest, registry.IfAbsent())
	require.NoError(t, err)

	require.NoError(t, reg.DeleteTag(ctx, "obj.ham.0123456-89abcde"))
	_, err = reg.Resolve(ctx, "obj.ham.0123456-89abcde")
	assert.True(t, errors.Is(err, status.ErrNotFound), "got %v", err)

	other := Manifest(t, ctx, reg, "other")
	odesc, err := reg.PutManifest(ctx, "obj.ham.v1.0.0", ocispec.MediaTypeImageManifest, other, registry.IfAbsent())
	require.NoError(t, err)
	require.NoError(t, reg.DeleteManifest(ctx, odesc.Digest))

	tags, err := reg.ListTags(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tags, "obj.ham.v1.0.0")

	err = reg.DeleteManifest(ctx, odesc.Digest)
	assert.True(t, errors.Is(err, status.ErrNotFound), "got %v", err)
}

func testConcurrentIfAbsent(t *testing.T, reg registry.Registry) {
	ctx := context.Background()
	const writers = 8
	manifests := make([][]byte, writers)
	for i := range manifests {
		manifests[i] = Manifest(t, ctx, reg, fmt.Sprintf("writer-%d", i))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner []digest.Digest
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			desc, err := reg.PutManifest(ctx, "obj.race.v1.0.0", ocispec.MediaTypeImageManifest, manifests[i], registry.IfAbsent())
			if err != nil {
				assert.True(t, errors.Is(err, status.ErrConflict), "got %v", err)
				return
			}
			mu.Lock()
			winner = append(winner, desc.Digest)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	current, err := reg.Resolve(ctx, "obj.race.v1.0.0")
	require.NoError(t, err)
	require.NotEmpty(t, winner)
	assert.Contains(t, winner, current.Digest, "the tag points to a writer which reported success")
}
