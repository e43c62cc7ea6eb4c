// Copyright © 2018 One Concern

package fingerprint

import "github.com/oneconcern/keel/pkg/errors"

var (
	// ErrCanonical is returned when a layer cannot be canonicalized
	ErrCanonical = errors.New("cannot canonicalize layer")

	// ErrDuplicateKey is returned when two keys of a document map to the same canonical key
	ErrDuplicateKey = errors.New("duplicate key in document")

	// ErrHash is returned when a layer cannot be hashed
	ErrHash = errors.New("cannot hash layer")
)
