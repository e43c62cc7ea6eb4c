// Package status exports errors produced by the core package.
package status

import (
	"github.com/oneconcern/keel/pkg/errors"
)

var (
	// ErrConfig indicates an invalid repository configuration
	ErrConfig = errors.New("invalid repository configuration")

	// ErrLocation indicates a reference to a remote location other than the repository's
	ErrLocation = errors.New("reference to another location")

	// ErrUnsealed indicates a recorded version without a manifest to restore its tag from
	ErrUnsealed = errors.New("version recorded without a manifest")

	// ErrMissingMedia indicates a version which does not carry the requested media
	ErrMissingMedia = errors.New("media not published for this version")
)
