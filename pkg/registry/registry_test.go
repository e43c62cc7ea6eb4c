// Copyright © 2018 One Concern

package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/memory"
	"github.com/oneconcern/keel/pkg/registry/status"
)

func TestCondition(t *testing.T) {
	t.Parallel()
	d1 := digest.FromString("one")
	d2 := digest.FromString("two")

	for _, toPin := range []struct {
		name     string
		cond     registry.Condition
		current  digest.Digest
		exists   bool
		write    bool
		conflict bool
	}{
		{name: "always on absent", cond: registry.Always(), write: true},
		{name: "always on existing", cond: registry.Always(), current: d1, exists: true, write: true},
		{name: "if-absent on absent", cond: registry.IfAbsent(), write: true},
		{name: "if-absent on existing", cond: registry.IfAbsent(), current: d1, exists: true, conflict: true},
		{name: "if-absent on same", cond: registry.IfAbsent(), current: d2, exists: true},
		{name: "if-match on match", cond: registry.IfMatch(d1), current: d1, exists: true, write: true},
		{name: "if-match on absent", cond: registry.IfMatch(d1), conflict: true},
		{name: "if-match empty on absent", cond: registry.IfMatch(""), write: true},
		{name: "if-match on moved", cond: registry.IfMatch(d1), current: digest.FromString("three"), exists: true, conflict: true},
	} {
		fixture := toPin
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()
			write, err := fixture.cond.Check("obj.ham._ledger", fixture.current, fixture.exists, d2)
			if fixture.conflict {
				require.Error(t, err)
				assert.True(t, errors.Is(err, status.ErrConflict))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, fixture.write, write)
		})
	}

	assert.Equal(t, "if-absent", registry.IfMatch("").String())
	assert.Equal(t, "always", registry.Always().String())
}

func TestValidateTag(t *testing.T) {
	t.Parallel()
	require.NoError(t, registry.ValidateTag("obj.ham.v1.2.3-feature"))
	require.NoError(t, registry.ValidateTag("obj.ham._ledger"))
	require.Error(t, registry.ValidateTag(""))
	require.Error(t, registry.ValidateTag(".hidden"))
	require.Error(t, registry.ValidateTag("obj/ham"))
	assert.True(t, registry.IsDigest(digest.FromString("x").String()))
	assert.False(t, registry.IsDigest("obj.ham.v1.0.0"))
}

func TestRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New("retry")
	reg := registry.WithRetry(mem,
		registry.MaxRetries(3),
		registry.Intervals(time.Millisecond, 5*time.Millisecond),
		registry.RetryLogger(zap.NewNop()),
	)
	assert.Equal(t, mem.String(), reg.String())

	t.Run("transient failures are retried", func(t *testing.T) {
		mem.InjectFailures(memory.OpListTags, 2, nil)
		_, err := reg.ListTags(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, mem.Calls(memory.OpListTags))
	})

	t.Run("retries are bounded", func(t *testing.T) {
		mem.InjectFailures(memory.OpHasBlob, 10, nil)
		_, err := reg.HasBlob(ctx, registryBlob("x"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrRemoteUnavailable))
		assert.Equal(t, 4, mem.Calls(memory.OpHasBlob))
	})

	t.Run("integrity failures are not retried", func(t *testing.T) {
		mem.InjectFailures(memory.OpPullBlob, 5, status.ErrIntegrity)
		_, err := reg.PullBlob(ctx, registryBlob("y"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrIntegrity))
		assert.Equal(t, 1, mem.Calls(memory.OpPullBlob))
	})

	t.Run("conflicts are not retried", func(t *testing.T) {
		mem.InjectFailures(memory.OpPutManifest, 5, status.ErrConflict)
		_, err := reg.PutManifest(ctx, "obj.ham._ledger", "application/json", []byte("{}"), registry.IfAbsent())
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrConflict))
		assert.Equal(t, 1, mem.Calls(memory.OpPutManifest))
	})
}

func TestInstrument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracer := mocktracer.New()
	reg := registry.Instrument(tracer, zap.NewNop(), memory.New("traced"))

	data := []byte("payload")
	desc := registryBlob(string(data))
	require.NoError(t, reg.PushBlob(ctx, desc, data))
	_, err := reg.Resolve(ctx, "obj.ham.v1.0.0")
	require.Error(t, err)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "registry.PushBlob", spans[0].OperationName)
	assert.Equal(t, "registry.Resolve", spans[1].OperationName)
	assert.Equal(t, true, spans[1].Tag("error"))
}

func registryBlob(s string) ocispec.Descriptor {
	data := []byte(s)
	return ocispec.Descriptor{
		MediaType: "application/octet-stream",
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
}
