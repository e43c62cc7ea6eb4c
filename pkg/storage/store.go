// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
)

// Put semantics
const (
	// NoOverWrite fails a Put when the key already exists
	NoOverWrite = true

	// OverWrite replaces any existing value
	OverWrite = false
)

// Store implementations know how to write entries to a K/V store.
//
// Typically this is something file system-like, used as a local cache of registry blobs.
// Implementations of this interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// ReadAll reads an object from a store
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
