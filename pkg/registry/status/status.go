// Copyright © 2018 One Concern

// Package status declares error constants returned by
// implementations of the Registry interface and by the components built on top of it.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/registry and one
// of its implementations.
package status

import (
	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
)

var (
	// ErrNotFound indicates that the target tag, manifest or blob does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates that a concurrent writer changed a tag or ledger, or claimed a version first.
	// The caller may retry from a fresh read.
	ErrConflict = errors.New("conflict")

	// ErrIntegrity indicates that some content does not match its digest. It is never retried.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrRemoteUnavailable indicates a transient failure to reach the registry
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrReleased indicates an attempt to delete or overwrite a released version
	ErrReleased = errors.New("version is released")

	// ErrInvalidReference indicates a malformed resource reference or tag
	ErrInvalidReference = model.ErrInvalidReference

	// ErrForbidden indicates that the registry denied access
	ErrForbidden = errors.New("forbidden")

	// ErrNotSupported indicates that the registry does not support this call
	ErrNotSupported = errors.New("not supported")
)

// Retryable tells if an error is transient and may be retried
func Retryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
