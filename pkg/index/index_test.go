// Copyright © 2018 One Concern

package index

import (
	"context"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oneconcern/keel/pkg/artifact"
	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/graph"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry/memory"
	"github.com/oneconcern/keel/pkg/registry/status"
	"github.com/oneconcern/keel/pkg/resolver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	ham  = model.MustParseResourceID("obj.ham")
	eggs = model.MustParseResourceID("pkg.eggs")
	rev  = model.Revision{Commit: "fedcba9876543210fedcba9876543210fedcba98"}
)

type fixture struct {
	reg       *memory.Registry
	artifacts *artifact.Store
	resolver  *resolver.Resolver
	index     *Index
}

func newFixture(t testing.TB, opts ...Option) *fixture {
	f := &fixture{reg: memory.New("index")}
	g := graph.New(f.reg)
	store, err := artifact.New(f.reg, artifact.OnChange(func(id model.ResourceID) { f.index.Invalidate(id) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.artifacts = store
	f.resolver = resolver.New(g)
	f.index = New(f.reg, g, store, opts...)
	return f
}

func fp(i, m, s string) model.Fingerprint {
	return model.Fingerprint{Interface: model.Hash(i), Impl: model.Hash(m), State: model.Hash(s)}
}

// publish goes through the whole write path: state blob, sealed manifest, ledger, then tag
func (f *fixture) publish(t testing.TB, id model.ResourceID, sum model.Fingerprint, opts resolver.Options) model.VersionRef {
	ctx := context.Background()
	var sealed *artifact.Manifest
	opts.Revision = rev
	opts.Prepare = func(ctx context.Context, node model.VersionNode) (digest.Digest, error) {
		blobs, err := f.artifacts.PushAll(ctx, id, node.Ref(), map[model.MediaKind][]byte{model.MediaState: []byte(sum.State)})
		if err != nil {
			return "", err
		}
		sealed, err = f.artifacts.Seal(ctx, node, id, blobs, nil)
		if err != nil {
			return "", err
		}
		return sealed.Descriptor.Digest, nil
	}
	res, err := f.resolver.Resolve(ctx, id, sum, opts)
	require.NoError(t, err)
	if sealed != nil {
		require.NoError(t, f.artifacts.Tag(ctx, sealed))
	}
	return res.Ref
}

func released(v string) model.VersionRef {
	return model.ReleasedRef(model.MustParseVersion(v))
}

func TestListAndLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	assert.Equal(t, released("v1.0.0"), f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{}))
	assert.Equal(t, released("v1.1.0"), f.publish(t, ham, fp("i1", "m2", "s1"), resolver.Options{}))
	assert.Equal(t, released("v2.0.0"), f.publish(t, ham, fp("i2", "m2", "s1"), resolver.Options{}))
	adhoc := f.publish(t, ham, fp("i2", "m2", "s2"), resolver.Options{})
	require.True(t, adhoc.IsAdhoc())
	assert.Equal(t, released("v1.0.0-feature"), f.publish(t, eggs, fp("e1", "m1", "s1"), resolver.Options{Branch: "Feature", PrimaryBranch: "master"}))

	summaries, err := f.index.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, ham, summaries[0].ID)
	require.NotNil(t, summaries[0].Latest)
	assert.Equal(t, model.MustParseVersion("v2.0.0"), *summaries[0].Latest)
	assert.Equal(t, 3, summaries[0].Releases)
	assert.Equal(t, 1, summaries[0].Adhoc)
	assert.Equal(t, "mem://index", summaries[0].Location)

	assert.Equal(t, eggs, summaries[1].ID)
	assert.Nil(t, summaries[1].Latest, "branch releases are not the latest release")
	assert.Equal(t, []string{"feature"}, summaries[1].Branches)

	objects, err := f.index.List(ctx, model.KindObject)
	require.NoError(t, err)
	require.Len(t, objects, 1)

	names, err := f.index.Names(ctx, model.KindPackage)
	require.NoError(t, err)
	assert.Equal(t, []string{"eggs"}, names)

	latest, err := f.index.Latest(ctx, ham, "")
	require.NoError(t, err)
	assert.Equal(t, model.MustParseVersion("v2.0.0"), latest)

	latest, err = f.index.Latest(ctx, eggs, "feature")
	require.NoError(t, err)
	assert.Equal(t, model.MustParseVersion("v1.0.0-feature"), latest)

	_, err = f.index.Latest(ctx, eggs, "")
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = f.index.Resource(ctx, model.MustParseResourceID("env.spam"))
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestCompatibleAndVersions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{})
	f.publish(t, ham, fp("i1", "m2", "s1"), resolver.Options{})
	f.publish(t, ham, fp("i1", "m2", "s2"), resolver.Options{Patch: true})
	f.publish(t, ham, fp("i2", "m2", "s2"), resolver.Options{})
	adhoc := f.publish(t, ham, fp("i2", "m3", "s2"), resolver.Options{Adhoc: true})

	compatible, err := f.index.Compatible(ctx, ham, model.MustParseVersion("v1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, []model.Version{
		model.MustParseVersion("v1.1.1"),
		model.MustParseVersion("v1.1.0"),
		model.MustParseVersion("v1.0.0"),
	}, compatible)

	releases, err := f.index.Releases(ctx, ham)
	require.NoError(t, err)
	require.Len(t, releases, 4)
	assert.Equal(t, model.MustParseVersion("v2.0.0"), releases[0])

	versions, err := f.index.Versions(ctx, ham)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	assert.Equal(t, adhoc, versions[4])
}

func TestQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{})
	f.publish(t, ham, fp("i1", "m2", "s1"), resolver.Options{})
	f.publish(t, ham, fp("i2", "m2", "s1"), resolver.Options{})
	f.publish(t, ham, fp("i3", "m2", "s1"), resolver.Options{Branch: "dev"})
	adhoc := f.publish(t, ham, fp("i2", "m2", "s9"), resolver.Options{})

	for _, toPin := range []struct {
		query    string
		branch   string
		expected model.VersionRef
		missing  bool
	}{
		{query: "latest", expected: released("v2.0.0")},
		{query: "", branch: "dev", expected: released("v3.0.0-dev")},
		{query: "v1", expected: released("v1.1.0")},
		{query: "v1.0", expected: released("v1.0.0")},
		{query: "v1.1.0", expected: released("v1.1.0")},
		{query: "v3-dev", expected: released("v3.0.0-dev")},
		{query: "^1.0", expected: released("v1.1.0")},
		{query: ">=1.0.0 <1.1.0", expected: released("v1.0.0")},
		{query: adhoc.Adhoc.String(), expected: adhoc},
		{query: "v4", missing: true},
		{query: "v1.2.3", missing: true},
		{query: "abcdef0-1234567", missing: true},
	} {
		fixture := toPin
		t.Run(fixture.query+"@"+fixture.branch, func(t *testing.T) {
			q, err := model.ParseQuery(fixture.query)
			require.NoError(t, err)
			ref, err := f.index.Query(ctx, ham, q, fixture.branch)
			if fixture.missing {
				require.Error(t, err)
				assert.True(t, errors.Is(err, status.ErrNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, fixture.expected, ref)
		})
	}
}

func TestCatalogueCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, TTL(time.Hour))
	f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{})

	_, err := f.index.List(ctx)
	require.NoError(t, err)
	listings := f.reg.Calls(memory.OpListTags)
	_, err = f.index.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, listings, f.reg.Calls(memory.OpListTags), "a cached catalogue does not list tags")

	// a new tag invalidates the catalogue
	f.publish(t, ham, fp("i1", "m2", "s1"), resolver.Options{})
	latest, err := f.index.Latest(ctx, ham, "")
	require.NoError(t, err)
	assert.Equal(t, model.MustParseVersion("v1.1.0"), latest)

	require.NoError(t, f.index.Refresh(ctx))
	assert.Equal(t, listings+2, f.reg.Calls(memory.OpListTags))
}

func TestClean(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{})
	first := f.publish(t, ham, fp("i1", "m1", "s2"), resolver.Options{})
	second := f.publish(t, ham, fp("i1", "m1", "s3"), resolver.Options{})
	require.True(t, first.IsAdhoc())
	require.True(t, second.IsAdhoc())

	report, err := f.index.Clean(ctx, ham, CleanOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, report.Adhoc, 2)
	versions, err := f.index.Versions(ctx, ham)
	require.NoError(t, err)
	assert.Len(t, versions, 3, "a dry run removes nothing")

	report, err = f.index.Clean(ctx, ham, CleanOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.AdhocTag{first.Adhoc, second.Adhoc}, report.Adhoc)
	assert.Empty(t, report.Released)

	versions, err = f.index.Versions(ctx, ham)
	require.NoError(t, err)
	assert.Equal(t, []model.VersionRef{released("v1.0.0")}, versions)

	ledger, _, err := graph.New(f.reg).Load(ctx, model.MainChain(ham))
	require.NoError(t, err)
	assert.Len(t, ledger.Nodes, 1)
	assert.Empty(t, ledger.Adhoc, "adhoc ledger entries are removed")

	report, err = f.index.Clean(ctx, ham, CleanOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []model.Version{model.MustParseVersion("v1.0.0")}, report.Released)
	assert.Equal(t, []model.ChainID{model.MainChain(ham)}, report.Ledgers)

	_, err = f.index.Resource(ctx, ham)
	assert.True(t, errors.Is(err, status.ErrNotFound), "a wiped resource leaves no tag")
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v1 := f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{})
	adhoc := f.publish(t, ham, fp("i1", "m1", "s2"), resolver.Options{})

	err := f.index.Delete(ctx, ham, v1, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrReleased))

	require.NoError(t, f.index.Delete(ctx, ham, adhoc, false))
	versions, err := f.index.Versions(ctx, ham)
	require.NoError(t, err)
	assert.Equal(t, []model.VersionRef{v1}, versions)

	require.NoError(t, f.index.Delete(ctx, ham, v1, true))
	_, err = f.index.Latest(ctx, ham, "")
	assert.True(t, errors.Is(err, status.ErrNotFound))

	// the released fingerprint is gone from the chain: publishing it again starts over
	assert.Equal(t, released("v1.0.0"), f.publish(t, ham, fp("i1", "m1", "s1"), resolver.Options{}))
}
