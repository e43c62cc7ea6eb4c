// Copyright © 2018 One Concern

package graph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry/memory"
	"github.com/oneconcern/keel/pkg/registry/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ham = model.MustParseResourceID("obj.ham")

func fp(i, m, s string) model.Fingerprint {
	return model.Fingerprint{Interface: model.Hash(i), Impl: model.Hash(m), State: model.Hash(s)}
}

func newGraph(t testing.TB) (*Graph, *memory.Registry) {
	reg := memory.New("graph")
	clock := time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	g := New(reg, Writer("tester"), Clock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}))
	return g, reg
}

func TestAppendChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	chain := model.MainChain(ham)

	tip, rev, err := g.Tip(ctx, chain)
	require.NoError(t, err)
	assert.Nil(t, tip)
	assert.Empty(t, rev)

	n1, err := g.Append(ctx, chain, rev, nil, fp("i1", "m1", "s1"), model.BumpNone, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", n1.Version.String())
	assert.Nil(t, n1.Parent)
	assert.Equal(t, "tester", n1.Writer)

	tip, rev, err = g.Tip(ctx, chain)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, n1.Version, tip.Version)
	assert.NotEmpty(t, rev)

	sealed := digest.FromString("manifest")
	n2, err := g.Append(ctx, chain, rev, tip, fp("i1", "m2", "s1"), model.BumpMinor, func(_ context.Context, node model.VersionNode) (digest.Digest, error) {
		assert.Equal(t, "v1.1.0", node.Version.String())
		return sealed, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0", n2.Version.String())
	assert.Equal(t, sealed, n2.Manifest)
	require.NotNil(t, n2.Parent)
	assert.Equal(t, n1.Version, *n2.Parent)

	found, err := g.Lookup(ctx, chain, fp("i1", "m1", "s1"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, n1.Version, found.Version)

	missing, err := g.Lookup(ctx, chain, fp("i9", "m9", "s9"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	nodes, err := g.Nodes(ctx, chain)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.True(t, nodes[0].ReleasedAt.Before(nodes[1].ReleasedAt))
}

func TestAppendRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	chain := model.MainChain(ham)

	n1, err := g.Append(ctx, chain, "", nil, fp("i1", "m1", "s1"), model.BumpNone, nil)
	require.NoError(t, err)
	tip, rev, err := g.Tip(ctx, chain)
	require.NoError(t, err)

	t.Run("stale revision", func(t *testing.T) {
		_, err := g.Append(ctx, chain, "", nil, fp("i2", "m1", "s1"), model.BumpNone, nil)
		assert.True(t, errors.Is(err, status.ErrConflict), "got %v", err)
	})

	t.Run("bump too small for the interface change", func(t *testing.T) {
		_, err := g.Append(ctx, chain, rev, tip, fp("i2", "m1", "s1"), model.BumpMinor, nil)
		assert.True(t, errors.Is(err, model.ErrInvalidVersion), "got %v", err)
	})

	t.Run("bump too small for the impl change", func(t *testing.T) {
		_, err := g.Append(ctx, chain, rev, tip, fp("i1", "m2", "s1"), model.BumpPatch, nil)
		assert.True(t, errors.Is(err, model.ErrInvalidVersion), "got %v", err)
	})

	t.Run("unchanged fingerprint", func(t *testing.T) {
		_, err := g.Append(ctx, chain, rev, tip, n1.Fingerprint, model.BumpPatch, nil)
		assert.True(t, errors.Is(err, model.ErrInvalidVersion), "got %v", err)
	})

	t.Run("fingerprint already released", func(t *testing.T) {
		n2, err := g.Append(ctx, chain, rev, tip, fp("i1", "m1", "s2"), model.BumpPatch, nil)
		require.NoError(t, err)
		tip2, rev2, err := g.Tip(ctx, chain)
		require.NoError(t, err)
		assert.Equal(t, n2.Version, tip2.Version)

		_, err = g.Append(ctx, chain, rev2, tip2, fp("i1", "m1", "s1"), model.BumpPatch, nil)
		assert.True(t, errors.Is(err, status.ErrConflict), "got %v", err)
	})

	t.Run("seal failure leaves the ledger untouched", func(t *testing.T) {
		tip3, rev3, err := g.Tip(ctx, chain)
		require.NoError(t, err)
		boom := errors.New("boom")
		_, err = g.Append(ctx, chain, rev3, tip3, fp("i3", "m1", "s1"), model.BumpMajor, func(context.Context, model.VersionNode) (digest.Digest, error) {
			return "", boom
		})
		assert.True(t, errors.Is(err, boom))
		_, after, err := g.Tip(ctx, chain)
		require.NoError(t, err)
		assert.Equal(t, rev3, after)
	})
}

func TestBranchChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	main := model.MainChain(ham)
	branch := model.BranchChain(ham, "Feature/X")
	assert.Equal(t, "feature-x", branch.Branch)

	n1, err := g.Append(ctx, main, "", nil, fp("i1", "m1", "s1"), model.BumpNone, nil)
	require.NoError(t, err)

	b1, err := g.Append(ctx, branch, "", &n1, fp("i1", "m2", "s1"), model.BumpMinor, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0-feature-x", b1.Version.String())

	tip, rev, err := g.Tip(ctx, branch)
	require.NoError(t, err)
	b2, err := g.Append(ctx, branch, rev, tip, fp("i1", "m2", "s2"), model.BumpPatch, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.1.1-feature-x", b2.Version.String())

	mainTip, err := g.Nodes(ctx, main)
	require.NoError(t, err)
	assert.Len(t, mainTip, 1, "branch releases never enter the main chain")

	chains, err := g.Chains(ctx, ham)
	require.NoError(t, err)
	assert.Equal(t, []model.ChainID{main, branch}, chains)

	prefix, err := model.ParsePrefix("v1.1-feature-x")
	require.NoError(t, err)
	found, err := g.NearestAncestor(ctx, main, prefix)
	require.NoError(t, err)
	assert.Equal(t, b2.Version, found.Version)

	prefix, err = model.ParsePrefix("v1.1")
	require.NoError(t, err)
	_, err = g.NearestAncestor(ctx, main, prefix)
	assert.True(t, errors.Is(err, status.ErrNotFound), "branch versions are only matched when scoped to the branch")
}

func TestNearestAncestor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	chain := model.MainChain(ham)

	steps := []struct {
		fp   model.Fingerprint
		bump model.BumpKind
	}{
		{fp("i1", "m1", "s1"), model.BumpNone},  // v1.0.0
		{fp("i1", "m2", "s1"), model.BumpMinor}, // v1.1.0
		{fp("i1", "m2", "s2"), model.BumpPatch}, // v1.1.1
		{fp("i2", "m2", "s2"), model.BumpMajor}, // v2.0.0
	}
	for _, step := range steps {
		tip, rev, err := g.Tip(ctx, chain)
		require.NoError(t, err)
		_, err = g.Append(ctx, chain, rev, tip, step.fp, step.bump, nil)
		require.NoError(t, err)
	}

	for _, toPin := range []struct {
		prefix   string
		expected string
	}{
		{"v1", "v1.1.1"},
		{"v1.0", "v1.0.0"},
		{"v1.1", "v1.1.1"},
		{"v1.1.0", "v1.1.0"},
		{"v2", "v2.0.0"},
		{"v3", ""},
	} {
		fixture := toPin
		t.Run(fixture.prefix, func(t *testing.T) {
			prefix, err := model.ParsePrefix(fixture.prefix)
			require.NoError(t, err)
			node, err := g.NearestAncestor(ctx, chain, prefix)
			if fixture.expected == "" {
				assert.True(t, errors.Is(err, status.ErrNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, fixture.expected, node.Version.String())
		})
	}
}

func TestAdhoc(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	chain := model.MainChain(ham)

	a1 := model.VersionNode{Adhoc: "0123456-aaaaaaa", Fingerprint: fp("i1", "m1", "s1")}
	a2 := model.VersionNode{Adhoc: "0123456-bbbbbbb", Fingerprint: fp("i1", "m1", "s2")}

	r1, err := g.RecordAdhoc(ctx, chain, a1)
	require.NoError(t, err)
	assert.False(t, r1.ReleasedAt.IsZero())
	again, err := g.RecordAdhoc(ctx, chain, a1)
	require.NoError(t, err)
	assert.Equal(t, r1.ReleasedAt, again.ReleasedAt, "recording twice keeps the first record")
	_, err = g.RecordAdhoc(ctx, chain, a2)
	require.NoError(t, err)

	_, err = g.RecordAdhoc(ctx, chain, model.VersionNode{Version: model.MustParseVersion("v1.0.0")})
	assert.True(t, errors.Is(err, model.ErrInvalidVersion))

	ledger, _, err := g.Load(ctx, chain)
	require.NoError(t, err)
	assert.Len(t, ledger.Adhoc, 2)
	assert.Nil(t, ledger.Tip(), "adhoc nodes never enter the released chain")

	removed, err := g.RemoveAdhoc(ctx, chain, a1.Adhoc)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, a1.Adhoc, removed[0].Adhoc)

	removed, err = g.RemoveAdhoc(ctx, chain)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, a2.Adhoc, removed[0].Adhoc)
}

func TestRemoveReleased(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	chain := model.MainChain(ham)
	n1, err := g.Append(ctx, chain, "", nil, fp("i1", "m1", "s1"), model.BumpNone, nil)
	require.NoError(t, err)

	_, err = g.RemoveReleased(ctx, chain, n1.Version, false)
	assert.True(t, errors.Is(err, status.ErrReleased))

	removed, err := g.RemoveReleased(ctx, chain, n1.Version, true)
	require.NoError(t, err)
	assert.Equal(t, n1.Version, removed.Version)

	_, err = g.RemoveReleased(ctx, chain, n1.Version, true)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestCorruptedLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, reg := newGraph(t)
	chain := model.MainChain(ham)
	_, err := g.Append(ctx, chain, "", nil, fp("i1", "m1", "s1"), model.BumpNone, nil)
	require.NoError(t, err)

	_, raw, err := reg.GetManifest(ctx, model.LedgerTag(chain))
	require.NoError(t, err)
	var m struct {
		Layers []struct {
			Digest digest.Digest `json:"digest"`
		} `json:"layers"`
	}
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Len(t, m.Layers, 1)
	require.True(t, reg.Corrupt(m.Layers[0].Digest))

	_, _, err = g.Tip(ctx, chain)
	assert.True(t, errors.Is(err, status.ErrIntegrity), "got %v", err)
}

// Concurrent writers on the same chain: every append either succeeds or reports a conflict, and
// the resulting chain has no duplicate versions nor fingerprints.
func TestConcurrentAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _ := newGraph(t)
	chain := model.MainChain(ham)
	_, err := g.Append(ctx, chain, "", nil, fp("i1", "m1", "s0"), model.BumpNone, nil)
	require.NoError(t, err)

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []model.VersionNode
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 2; attempt++ {
				tip, rev, err := g.Tip(ctx, chain)
				if !assert.NoError(t, err) {
					return
				}
				node, err := g.Append(ctx, chain, rev, tip, fp("i1", "m1", fmt.Sprintf("s%d", i+1)), model.BumpPatch, nil)
				mu.Lock()
				if err == nil {
					succeeded = append(succeeded, node)
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, status.ErrConflict), "got %v", err)
				conflicts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	nodes, err := g.Nodes(ctx, chain)
	require.NoError(t, err)
	require.Len(t, nodes, len(succeeded)+1)
	assert.NotEmpty(t, succeeded)

	versions := make(map[model.Version]bool)
	fingerprints := make(map[model.Fingerprint]bool)
	for i, n := range nodes {
		assert.False(t, versions[n.Version], "duplicate version %s", n.Version)
		assert.False(t, fingerprints[n.Fingerprint], "duplicate fingerprint %s", n.Fingerprint)
		versions[n.Version] = true
		fingerprints[n.Fingerprint] = true
		if i > 0 {
			require.NotNil(t, n.Parent)
			assert.Equal(t, nodes[i-1].Version, *n.Parent)
			assert.Equal(t, nodes[i-1].Version.Bump(model.BumpPatch), n.Version)
		}
	}
	t.Logf("%d appends, %d conflicts", len(succeeded), conflicts)
}
