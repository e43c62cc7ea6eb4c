// Copyright © 2018 One Concern

package model

import "github.com/oneconcern/keel/pkg/errors"

var (
	// ErrInvalidResource is returned when a resource kind or name is malformed
	ErrInvalidResource = errors.New("invalid resource identifier")

	// ErrInvalidVersion is returned when a version or version query cannot be parsed
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidReference is returned when a resource reference cannot be parsed
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidTag is returned when a registry tag does not follow keel's naming scheme
	ErrInvalidTag = errors.New("invalid tag")
)
