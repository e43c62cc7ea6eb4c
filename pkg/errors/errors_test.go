// Copyright © 2018 One Concern

package errors

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
}

func TestWrapDoesNotMutateSentinel(t *testing.T) {
	sentinel := New("conflict")
	cause := New("tag exists")

	wrapped := sentinel.Wrap(cause)
	require.Nil(t, sentinel.Unwrap())
	assert.Equal(t, "conflict", sentinel.Error())
	assert.Equal(t, "conflict: tag exists", wrapped.Error())
	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, Is(wrapped, cause))
}

func TestDetailf(t *testing.T) {
	sentinel := New("not found")

	e := sentinel.Detailf("resource %s", "obj.ham").Detailf("version %s", "v1.2.3")
	assert.Equal(t, "not found: resource obj.ham: version v1.2.3", e.Error())
	assert.True(t, Is(e, sentinel))
	assert.Equal(t, "not found", sentinel.Error())

	var target *Error
	require.True(t, As(e, &target))
	assert.True(t, target.Is(sentinel))
}

func TestConcurrentWrap(t *testing.T) {
	sentinel := New("unavailable")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := sentinel.Detailf("attempt %d", i).Wrap(New("boom"))
			assert.True(t, Is(e, sentinel))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, "unavailable", sentinel.Error())
}
