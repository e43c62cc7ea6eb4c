// Copyright © 2018 One Concern

// Package oci implements the registry capability on top of oras-go: a remote repository on any
// OCI distribution registry, or an OCI image layout on the local file system.
//
// OCI registries have no conditional tag update: conditions are checked before the write and the
// tag is read back after it, so that a writer which lost a race reports a conflict.
package oci

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/errdef"
	orasregistry "oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// target is what both remote repositories and OCI layouts provide
type target interface {
	oras.Target
	orasregistry.TagLister
	content.Deleter
}

// Option for the OCI registry
type Option func(*Registry)

// PlainHTTP talks to the remote registry without TLS
func PlainHTTP(enabled bool) Option {
	return func(r *Registry) {
		r.plainHTTP = enabled
	}
}

// Client sets the HTTP client used for remote calls
func Client(client remote.Client) Option {
	return func(r *Registry) {
		r.client = client
	}
}

// Logger for the OCI registry
func Logger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.l = l
		}
	}
}

// Registry backed by oras-go
type Registry struct {
	name      string
	target    target
	plainHTTP bool
	client    remote.Client
	l         *zap.Logger
}

var _ registry.Registry = &Registry{}

// NewRemote opens the repository at location, e.g. "acme.org/ml-project"
func NewRemote(location string, opts ...Option) (*Registry, error) {
	r := &Registry{
		name: strings.TrimPrefix(location, "oci://"),
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	repo, err := remote.NewRepository(r.name)
	if err != nil {
		return nil, status.ErrInvalidReference.Detailf("location %q", location).Wrap(err)
	}
	repo.PlainHTTP = r.plainHTTP
	if r.client != nil {
		repo.Client = r.client
	}
	r.target = repo
	return r, nil
}

// NewLayout opens (or creates) an OCI image layout rooted at dir
func NewLayout(dir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		name: "oci-layout://" + dir,
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	store, err := oci.New(dir)
	if err != nil {
		return nil, status.ErrNotSupported.Detailf("layout at %s", dir).Wrap(err)
	}
	r.target = store
	return r, nil
}

func (r *Registry) String() string {
	return r.name
}

func (r *Registry) PushBlob(ctx context.Context, desc ocispec.Descriptor, data []byte) error {
	if actual := digest.FromBytes(data); actual != desc.Digest || int64(len(data)) != desc.Size {
		return status.ErrIntegrity.Detailf("blob %s does not match its content (%s, %d bytes)", desc.Digest, actual, len(data))
	}
	exists, err := r.target.Exists(ctx, desc)
	if err != nil {
		return mapError(err)
	}
	if exists {
		return nil
	}
	if err := r.target.Push(ctx, desc, bytes.NewReader(data)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return mapError(err)
	}
	return nil
}

func (r *Registry) PullBlob(ctx context.Context, desc ocispec.Descriptor) ([]byte, error) {
	data, err := content.FetchAll(ctx, r.target, desc)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

func (r *Registry) HasBlob(ctx context.Context, desc ocispec.Descriptor) (bool, error) {
	exists, err := r.target.Exists(ctx, desc)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (r *Registry) current(ctx context.Context, tag string) (digest.Digest, bool, error) {
	desc, err := r.target.Resolve(ctx, tag)
	switch {
	case err == nil:
		return desc.Digest, true, nil
	case errors.Is(err, errdef.ErrNotFound):
		return "", false, nil
	default:
		err = mapError(err)
		if errors.Is(err, status.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
}

func (r *Registry) PutManifest(ctx context.Context, tag, mediaType string, manifest []byte, cond registry.Condition) (ocispec.Descriptor, error) {
	desc := content.NewDescriptorFromBytes(mediaType, manifest)

	write := false
	if tag != "" {
		if err := registry.ValidateTag(tag); err != nil {
			return ocispec.Descriptor{}, err
		}
		current, exists, err := r.current(ctx, tag)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		write, err = cond.Check(tag, current, exists, desc.Digest)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
	}

	exists, err := r.target.Exists(ctx, desc)
	if err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	if !exists {
		if err := r.target.Push(ctx, desc, bytes.NewReader(manifest)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
			return ocispec.Descriptor{}, mapError(err)
		}
	}
	if !write {
		return desc, nil
	}

	if err := r.target.Tag(ctx, desc, tag); err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	current, exists, err := r.current(ctx, tag)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if !exists || current != desc.Digest {
		r.l.Warn("lost tag race", zap.String("tag", tag), zap.Stringer("expected", desc.Digest), zap.Stringer("actual", current))
		return ocispec.Descriptor{}, status.ErrConflict.Detailf("tag %s moved to %s by a concurrent writer", tag, current)
	}
	return desc, nil
}

func (r *Registry) Resolve(ctx context.Context, reference string) (ocispec.Descriptor, error) {
	desc, err := r.target.Resolve(ctx, reference)
	if err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

func (r *Registry) GetManifest(ctx context.Context, reference string) (ocispec.Descriptor, []byte, error) {
	desc, err := r.Resolve(ctx, reference)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	data, err := content.FetchAll(ctx, r.target, desc)
	if err != nil {
		return ocispec.Descriptor{}, nil, mapError(err)
	}
	return desc, data, nil
}

// ListTags returns all tags in the repository, sorted
func (r *Registry) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	err := r.target.Tags(ctx, "", func(page []string) error {
		for _, tag := range page {
			if registry.IsDigest(tag) {
				continue
			}
			tags = append(tags, tag)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	sort.Strings(tags)
	return tags, nil
}

// DeleteTag removes the manifest the tag points to: the distribution API cannot untag
func (r *Registry) DeleteTag(ctx context.Context, tag string) error {
	desc, err := r.Resolve(ctx, tag)
	if err != nil {
		return err
	}
	if err := r.target.Delete(ctx, desc); err != nil {
		return mapError(err)
	}
	return nil
}

func (r *Registry) DeleteManifest(ctx context.Context, dgst digest.Digest) error {
	desc, err := r.Resolve(ctx, dgst.String())
	if err != nil {
		return err
	}
	if err := r.target.Delete(ctx, desc); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates oras-go and transport errors into registry status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return status.ErrNotFound.Wrap(err)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return status.ErrForbidden.Wrap(err)
		case resp.StatusCode == http.StatusMethodNotAllowed:
			return status.ErrNotSupported.Wrap(err)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return status.ErrRemoteUnavailable.Wrap(err)
		}
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, errdef.ErrNotFound):
		return status.ErrNotFound.Wrap(err)
	case errors.Is(err, content.ErrMismatchedDigest),
		errors.Is(err, content.ErrTrailingData),
		errors.Is(err, io.ErrUnexpectedEOF):
		return status.ErrIntegrity.Wrap(err)
	case errors.Is(err, errdef.ErrUnsupported):
		return status.ErrNotSupported.Wrap(err)
	case errors.Is(err, errdef.ErrInvalidReference), errors.Is(err, errdef.ErrInvalidDigest):
		return status.ErrInvalidReference.Wrap(err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return status.ErrRemoteUnavailable.Wrap(err)
	}
	return err
}
