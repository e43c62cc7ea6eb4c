// Copyright © 2018 One Concern

// Package registry defines the capability keel needs from an OCI registry-style backing store.
//
// Implementations:
//   - memory: in-process, atomic conditional writes
//   - oci: any OCI distribution registry or OCI image layout on disk
//
// Decorators add instrumentation (Instrument) and retries of transient failures (WithRetry).
package registry

import (
	"context"
	"regexp"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oneconcern/keel/pkg/registry/status"
)

// Registry is a repository in an OCI registry: content-addressed blobs and manifests, plus mutable tags.
//
// A reference is either a tag or a manifest digest.
type Registry interface {
	String() string

	PushBlob(ctx context.Context, desc ocispec.Descriptor, data []byte) error
	PullBlob(ctx context.Context, desc ocispec.Descriptor) ([]byte, error)
	HasBlob(ctx context.Context, desc ocispec.Descriptor) (bool, error)

	// PutManifest stores a manifest. When tag is not empty, the tag is moved to the manifest
	// provided the condition holds. Writing the digest a tag already points to is a no-op.
	PutManifest(ctx context.Context, tag, mediaType string, manifest []byte, cond Condition) (ocispec.Descriptor, error)
	GetManifest(ctx context.Context, reference string) (ocispec.Descriptor, []byte, error)
	Resolve(ctx context.Context, reference string) (ocispec.Descriptor, error)

	ListTags(ctx context.Context) ([]string, error)
	DeleteTag(ctx context.Context, tag string) error
	DeleteManifest(ctx context.Context, dgst digest.Digest) error
}

var tagRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)

// ValidateTag checks a tag against the OCI distribution grammar
func ValidateTag(tag string) error {
	if !tagRe.MatchString(tag) {
		return status.ErrInvalidReference.Detailf("tag %q", tag)
	}
	return nil
}

// IsDigest tells if a reference is a digest rather than a tag
func IsDigest(reference string) bool {
	_, err := digest.Parse(reference)
	return err == nil
}

// Condition guards tag updates
type Condition struct {
	absent bool
	match  digest.Digest
}

// Always updates the tag unconditionally
func Always() Condition {
	return Condition{}
}

// IfAbsent only creates the tag if it does not exist yet
func IfAbsent() Condition {
	return Condition{absent: true}
}

// IfMatch only moves the tag if it currently points to the expected digest.
// An empty digest means the tag is expected to be absent.
func IfMatch(expected digest.Digest) Condition {
	if expected == "" {
		return IfAbsent()
	}
	return Condition{match: expected}
}

func (c Condition) String() string {
	switch {
	case c.absent:
		return "if-absent"
	case c.match != "":
		return "if-match(" + c.match.String() + ")"
	default:
		return "always"
	}
}

// Check the condition against the current state of a tag. It tells whether the tag must be written:
// when the tag already points to the next digest, there is nothing to write.
func (c Condition) Check(tag string, current digest.Digest, exists bool, next digest.Digest) (bool, error) {
	if exists && current == next {
		return false, nil
	}
	switch {
	case c.absent && exists:
		return false, status.ErrConflict.Detailf("tag %s already points to %s", tag, current)
	case c.match != "" && !exists:
		return false, status.ErrConflict.Detailf("tag %s is absent, expected %s", tag, c.match)
	case c.match != "" && current != c.match:
		return false, status.ErrConflict.Detailf("tag %s points to %s, expected %s", tag, current, c.match)
	}
	return true, nil
}
