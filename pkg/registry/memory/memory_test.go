// Copyright © 2018 One Concern

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/registrytest"
	"github.com/oneconcern/keel/pkg/registry/status"
)

func TestConformance(t *testing.T) {
	registrytest.Run(t, func(_ testing.TB) registry.Registry {
		return New("test")
	})
}

func TestInjectFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := New("")
	assert.Equal(t, "mem://mem", reg.String())

	reg.InjectFailures(OpListTags, 2, nil)
	for i := 0; i < 2; i++ {
		_, err := reg.ListTags(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrRemoteUnavailable))
	}
	_, err := reg.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Calls(OpListTags))
}

func TestCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := New("test")
	data := []byte("state")
	desc := registrytest.Blob(data)
	require.NoError(t, reg.PushBlob(ctx, desc, data))
	assert.Equal(t, 1, reg.BlobCount())

	require.True(t, reg.Corrupt(desc.Digest))
	back, err := reg.PullBlob(ctx, desc)
	require.NoError(t, err)
	assert.NotEqual(t, data, back)
	assert.False(t, reg.Corrupt(registrytest.Blob([]byte("absent")).Digest))
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("test").ListTags(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRemoteUnavailable))
}
