// Copyright © 2018 One Concern

package artifact

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oneconcern/keel/internal/rand"
	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry/memory"
	"github.com/oneconcern/keel/pkg/registry/status"
	"github.com/oneconcern/keel/pkg/storage"
	"github.com/oneconcern/keel/pkg/storage/localfs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	reg   *memory.Registry
	cache storage.Store
	store *Store
}

func newFixture(t testing.TB, opts ...Option) fixture {
	reg := memory.New("artifacts")
	cache, err := localfs.NewAtomic(afero.NewMemMapFs())
	require.NoError(t, err)
	store, err := New(reg, append([]Option{Cache(cache)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return fixture{reg: reg, cache: cache, store: store}
}

var ham = model.MustParseResourceID("obj.ham")

func testNode(v string) model.VersionNode {
	return model.VersionNode{
		Version:     model.MustParseVersion(v),
		Fingerprint: model.Fingerprint{Interface: "aaaaaaa1", Impl: "bbbbbbb2", State: "ccccccc3"},
		ReleasedAt:  time.Date(2018, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ref := model.ReleasedRef(model.MustParseVersion("v1.0.0"))

	for _, kind := range model.MediaKinds() {
		payload := rand.Bytes(4096)
		key := model.ArtifactKey{Resource: ham, Version: ref, Media: kind}
		remote, err := f.store.Push(ctx, key, payload)
		require.NoError(t, err)
		assert.Equal(t, kind.MediaType(), remote.Descriptor.MediaType)

		back, err := f.store.Pull(ctx, remote)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(payload, back), "%s blob must round-trip", kind)
	}
}

func TestPushIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	key := model.ArtifactKey{Resource: ham, Version: model.ReleasedRef(model.MustParseVersion("v1.0.0")), Media: model.MediaState}
	payload := []byte("state")

	r1, err := f.store.Push(ctx, key, payload)
	require.NoError(t, err)
	r2, err := f.store.Push(ctx, key, payload)
	require.NoError(t, err)
	assert.Equal(t, r1.Digest(), r2.Digest())
	assert.Equal(t, 1, f.reg.Calls(memory.OpPushBlob))
	assert.Equal(t, 1, f.reg.BlobCount())
}

func TestPackageBundlesAreCompressed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	payload := bytes.Repeat([]byte("package source "), 1000)
	key := model.ArtifactKey{Resource: model.MustParseResourceID("pkg.tools"), Version: model.ReleasedRef(model.MustParseVersion("v1.0.0")), Media: model.MediaPackage}

	remote, err := f.store.Push(ctx, key, payload)
	require.NoError(t, err)
	assert.Less(t, remote.Descriptor.Size, int64(len(payload)))
	assert.NotEmpty(t, remote.Descriptor.Annotations[model.AnnotationUncompressed])

	back, err := f.store.Pull(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, payload, back)

	t.Run("decompressed content is verified", func(t *testing.T) {
		for _, uncompressed := range []string{digest.FromString("other source").String(), "not-a-digest"} {
			tampered := remote
			tampered.Descriptor.Annotations = map[string]string{}
			for k, v := range remote.Descriptor.Annotations {
				tampered.Descriptor.Annotations[k] = v
			}
			tampered.Descriptor.Annotations[model.AnnotationUncompressed] = uncompressed

			_, err := f.store.Pull(ctx, tampered)
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrIntegrity), "got %v", err)
		}
	})
}

func TestPullUsesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	key := model.ArtifactKey{Resource: ham, Version: model.ReleasedRef(model.MustParseVersion("v1.0.0")), Media: model.MediaState}
	remote, err := f.store.Push(ctx, key, []byte("cached state"))
	require.NoError(t, err)

	_, err = f.store.Pull(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, 0, f.reg.Calls(memory.OpPullBlob), "push populates the cache")

	require.NoError(t, f.store.ClearCache(ctx))
	_, err = f.store.Pull(ctx, remote)
	require.NoError(t, err)
	_, err = f.store.Pull(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, 1, f.reg.Calls(memory.OpPullBlob))
}

func TestPullIntegrity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	key := model.ArtifactKey{Resource: ham, Version: model.ReleasedRef(model.MustParseVersion("v1.0.0")), Media: model.MediaState}
	remote, err := f.store.Push(ctx, key, []byte("genuine"))
	require.NoError(t, err)
	require.NoError(t, f.store.ClearCache(ctx))

	require.True(t, f.reg.Corrupt(remote.Digest()))
	_, err = f.store.Pull(ctx, remote)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrIntegrity), "got %v", err)
	assert.Equal(t, 1, f.reg.Calls(memory.OpPullBlob), "integrity failures are not retried")

	// a corrupted cache entry is evicted and refetched
	g := newFixture(t)
	remote, err = g.store.Push(ctx, key, []byte("genuine"))
	require.NoError(t, err)
	require.NoError(t, g.cache.Put(ctx, cacheKey(remote.Digest()), bytes.NewReader([]byte("tampered")), storage.OverWrite))
	back, err := g.store.Pull(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, []byte("genuine"), back)
}

func TestSealTagAndFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var changed []model.ResourceID
	f := newFixture(t, OnChange(func(id model.ResourceID) { changed = append(changed, id) }))
	node := testNode("v1.2.0")
	ref := node.Ref()

	blobs := map[model.MediaKind][]byte{
		model.MediaInterface: []byte("type: object"),
		model.MediaState:     []byte("state"),
		model.MediaPackage:   []byte("package"),
	}
	refs, err := f.store.PushAll(ctx, ham, ref, blobs)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	m, err := f.store.Seal(ctx, node, ham, refs, map[string]string{"org.keel.source.revision": "0123456"})
	require.NoError(t, err)
	assert.Equal(t, "obj.ham.v1.2.0", m.Tag())

	exists, err := f.store.Exists(ctx, model.ArtifactKey{Resource: ham, Version: ref, Media: model.MediaState})
	require.NoError(t, err)
	assert.False(t, exists, "a sealed version is not visible before it is tagged")

	require.NoError(t, f.store.Tag(ctx, m))
	assert.Equal(t, []model.ResourceID{ham}, changed)

	exists, err = f.store.Exists(ctx, model.ArtifactKey{Resource: ham, Version: ref, Media: model.MediaState})
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = f.store.Exists(ctx, model.ArtifactKey{Resource: ham, Version: ref, Media: model.MediaClient})
	require.NoError(t, err)
	assert.False(t, exists)

	back, err := f.store.Manifest(ctx, "obj.ham.v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, m.Descriptor.Digest, back.Descriptor.Digest)
	assert.Equal(t, ham, back.Resource)
	assert.Equal(t, ref, back.Ref)
	assert.True(t, node.Fingerprint.Equal(back.Fingerprint()))
	assert.Equal(t, node.ReleasedAt, back.Created())
	assert.Equal(t, "0123456", back.Annotations["org.keel.source.revision"])
	assert.ElementsMatch(t, []model.MediaKind{model.MediaInterface, model.MediaState, model.MediaPackage}, back.MediaKinds())

	art, err := f.store.Fetch(ctx, back, model.MediaPackage)
	require.NoError(t, err)
	assert.Equal(t, []byte("package"), art.Payload)
	assert.Equal(t, model.MediaPackage, art.Media)

	_, err = f.store.Fetch(ctx, back, model.MediaServer)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	// a released tag never moves
	other := testNode("v1.2.0")
	other.Fingerprint.State = "ddddddd4"
	m2, err := f.store.Seal(ctx, other, ham, refs, nil)
	require.NoError(t, err)
	err = f.store.Tag(ctx, m2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrConflict))
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	released := testNode("v1.0.0")
	m, err := f.store.Seal(ctx, released, ham, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Tag(ctx, m))

	err = f.store.Delete(ctx, ham, released.Ref(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrReleased))
	require.NoError(t, f.store.Delete(ctx, ham, released.Ref(), true))

	adhoc := model.VersionNode{Adhoc: "0123456-89abcde", Fingerprint: released.Fingerprint}
	m, err = f.store.Seal(ctx, adhoc, ham, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Tag(ctx, m))
	require.NoError(t, f.store.Delete(ctx, ham, adhoc.Ref(), false))

	err = f.store.Delete(ctx, ham, adhoc.Ref(), false)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}
