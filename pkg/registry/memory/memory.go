// Copyright © 2018 One Concern

// Package memory implements an in-process registry.
//
// Conditional tag updates are atomic. Failures may be injected, which makes it the fixture of choice
// for tests exercising retries and concurrent writers.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// Registry operation names, used to inject failures and count calls
const (
	OpPushBlob       = "PushBlob"
	OpPullBlob       = "PullBlob"
	OpHasBlob        = "HasBlob"
	OpPutManifest    = "PutManifest"
	OpGetManifest    = "GetManifest"
	OpResolve        = "Resolve"
	OpListTags       = "ListTags"
	OpDeleteTag      = "DeleteTag"
	OpDeleteManifest = "DeleteManifest"
)

type manifest struct {
	mediaType string
	data      []byte
}

// Registry is an in-memory registry, safe for concurrent use
type Registry struct {
	name string

	mu        sync.Mutex
	blobs     map[digest.Digest][]byte
	manifests map[digest.Digest]manifest
	tags      map[string]digest.Digest
	failures  map[string]failure
	calls     map[string]int
}

type failure struct {
	n   int
	err error
}

var _ registry.Registry = &Registry{}

// New in-memory registry
func New(name string) *Registry {
	if name == "" {
		name = "mem"
	}
	return &Registry{
		name:      name,
		blobs:     make(map[digest.Digest][]byte),
		manifests: make(map[digest.Digest]manifest),
		tags:      make(map[string]digest.Digest),
		failures:  make(map[string]failure),
		calls:     make(map[string]int),
	}
}

func (r *Registry) String() string {
	return "mem://" + r.name
}

// InjectFailures makes the next n calls to op fail with err.
// A nil error injects ErrRemoteUnavailable.
func (r *Registry) InjectFailures(op string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = status.ErrRemoteUnavailable.Detailf("injected failure on %s", op)
	}
	r.failures[op] = failure{n: n, err: err}
}

// Calls returns the number of calls made to op
func (r *Registry) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Corrupt flips the content of a stored blob, leaving its digest unchanged
func (r *Registry) Corrupt(dgst digest.Digest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.blobs[dgst]
	if !ok {
		return false
	}
	corrupted := append([]byte("corrupted:"), data...)
	r.blobs[dgst] = corrupted
	return true
}

// BlobCount returns the number of stored blobs
func (r *Registry) BlobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// ManifestCount returns the number of stored manifests
func (r *Registry) ManifestCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.manifests)
}

// enter records a call and returns any injected failure. Must be called with the lock held.
func (r *Registry) enter(ctx context.Context, op string) error {
	r.calls[op]++
	if err := ctx.Err(); err != nil {
		return status.ErrRemoteUnavailable.Wrap(err)
	}
	f, ok := r.failures[op]
	if !ok || f.n <= 0 {
		return nil
	}
	f.n--
	if f.n == 0 {
		delete(r.failures, op)
	} else {
		r.failures[op] = f
	}
	return f.err
}

func verify(desc ocispec.Descriptor, data []byte) error {
	if err := desc.Digest.Validate(); err != nil {
		return status.ErrIntegrity.Wrap(err)
	}
	if int64(len(data)) != desc.Size {
		return status.ErrIntegrity.Detailf("size mismatch for %s: expected %d, got %d", desc.Digest, desc.Size, len(data))
	}
	if actual := desc.Digest.Algorithm().FromBytes(data); actual != desc.Digest {
		return status.ErrIntegrity.Detailf("digest mismatch: expected %s, got %s", desc.Digest, actual)
	}
	return nil
}

func (r *Registry) PushBlob(ctx context.Context, desc ocispec.Descriptor, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpPushBlob); err != nil {
		return err
	}
	if err := verify(desc, data); err != nil {
		return err
	}
	if _, ok := r.blobs[desc.Digest]; ok {
		return nil
	}
	r.blobs[desc.Digest] = append([]byte(nil), data...)
	return nil
}

func (r *Registry) PullBlob(ctx context.Context, desc ocispec.Descriptor) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpPullBlob); err != nil {
		return nil, err
	}
	data, ok := r.blobs[desc.Digest]
	if !ok {
		return nil, status.ErrNotFound.Detailf("blob %s", desc.Digest)
	}
	return append([]byte(nil), data...), nil
}

func (r *Registry) HasBlob(ctx context.Context, desc ocispec.Descriptor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpHasBlob); err != nil {
		return false, err
	}
	_, ok := r.blobs[desc.Digest]
	return ok, nil
}

func (r *Registry) PutManifest(ctx context.Context, tag, mediaType string, data []byte, cond registry.Condition) (ocispec.Descriptor, error) {
	if tag != "" {
		if err := registry.ValidateTag(tag); err != nil {
			return ocispec.Descriptor{}, err
		}
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpPutManifest); err != nil {
		return ocispec.Descriptor{}, err
	}
	if tag != "" {
		current, exists := r.tags[tag]
		write, err := cond.Check(tag, current, exists, desc.Digest)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		if write {
			r.tags[tag] = desc.Digest
		}
	}
	if _, ok := r.manifests[desc.Digest]; !ok {
		r.manifests[desc.Digest] = manifest{mediaType: mediaType, data: append([]byte(nil), data...)}
	}
	return desc, nil
}

// lookup resolves a reference. Must be called with the lock held.
func (r *Registry) lookup(reference string) (ocispec.Descriptor, manifest, error) {
	dgst := digest.Digest(reference)
	if !registry.IsDigest(reference) {
		var ok bool
		dgst, ok = r.tags[reference]
		if !ok {
			return ocispec.Descriptor{}, manifest{}, status.ErrNotFound.Detailf("tag %s", reference)
		}
	}
	m, ok := r.manifests[dgst]
	if !ok {
		return ocispec.Descriptor{}, manifest{}, status.ErrNotFound.Detailf("manifest %s", dgst)
	}
	return ocispec.Descriptor{
		MediaType: m.mediaType,
		Digest:    dgst,
		Size:      int64(len(m.data)),
	}, m, nil
}

func (r *Registry) GetManifest(ctx context.Context, reference string) (ocispec.Descriptor, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpGetManifest); err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	desc, m, err := r.lookup(reference)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	return desc, append([]byte(nil), m.data...), nil
}

func (r *Registry) Resolve(ctx context.Context, reference string) (ocispec.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpResolve); err != nil {
		return ocispec.Descriptor{}, err
	}
	desc, _, err := r.lookup(reference)
	return desc, err
}

func (r *Registry) ListTags(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpListTags); err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(r.tags))
	for tag := range r.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

func (r *Registry) DeleteTag(ctx context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpDeleteTag); err != nil {
		return err
	}
	if _, ok := r.tags[tag]; !ok {
		return status.ErrNotFound.Detailf("tag %s", tag)
	}
	delete(r.tags, tag)
	return nil
}

// DeleteManifest removes a manifest and every tag pointing to it
func (r *Registry) DeleteManifest(ctx context.Context, dgst digest.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, OpDeleteManifest); err != nil {
		return err
	}
	if _, ok := r.manifests[dgst]; !ok {
		return status.ErrNotFound.Detailf("manifest %s", dgst)
	}
	delete(r.manifests, dgst)
	for tag, target := range r.tags {
		if target == dgst {
			delete(r.tags, tag)
		}
	}
	return nil
}
