// Copyright © 2018 One Concern

// Package artifact stores the immutable blobs of published versions.
//
// Blobs are content-addressed in the registry and cached locally by digest. A version is sealed
// by an OCI image manifest listing all its blobs; the version tag is written last, by Tag.
package artifact

import (
	"bytes"
	"context"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/metrics"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
	"github.com/oneconcern/keel/pkg/storage"
	storagestatus "github.com/oneconcern/keel/pkg/storage/status"
)

const cacheName = "blobs"

// Option for the artifact store
type Option func(*Store)

// Cache sets the local blob cache. Without a cache, every pull hits the registry.
func Cache(cache storage.Store) Option {
	return func(s *Store) {
		s.cache = cache
	}
}

// Logger for the artifact store
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// Concurrency sets the maximum number of blobs transferred in parallel
func Concurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// OnChange registers a callback invoked whenever tags of a resource are written or removed
func OnChange(fn func(model.ResourceID)) Option {
	return func(s *Store) {
		s.notify = append(s.notify, fn)
	}
}

// Store of artifacts in a registry
type Store struct {
	reg         registry.Registry
	cache       storage.Store
	l           *zap.Logger
	concurrency int
	notify      []func(model.ResourceID)

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New artifact store on top of a registry
func New(reg registry.Registry, opts ...Option) (*Store, error) {
	s := &Store{
		reg:         reg,
		l:           zap.NewNop(),
		concurrency: runtime.NumCPU(),
	}
	for _, apply := range opts {
		apply(s)
	}

	var err error
	s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.New("initializing zstd encoder").Wrap(err)
	}
	s.decoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.New("initializing zstd decoder").Wrap(err)
	}
	return s, nil
}

// Registry backing this store
func (s *Store) Registry() registry.Registry {
	return s.reg
}

func (s *Store) changed(id model.ResourceID) {
	for _, fn := range s.notify {
		fn(id)
	}
}

func (s *Store) encode(media model.MediaKind, payload []byte) []byte {
	if !media.Compressed() {
		return payload
	}
	return s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
}

func (s *Store) decode(media model.MediaKind, data []byte) ([]byte, error) {
	if !media.Compressed() {
		return data, nil
	}
	payload, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, status.ErrIntegrity.Detailf("decompressing %s blob", media).Wrap(err)
	}
	return payload, nil
}

// Push a blob. Pushing content that is already in the registry does not upload it again.
func (s *Store) Push(ctx context.Context, key model.ArtifactKey, payload []byte) (model.RemoteRef, error) {
	data := s.encode(key.Media, payload)
	desc := ocispec.Descriptor{
		MediaType: key.Media.MediaType(),
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
		Annotations: map[string]string{
			model.AnnotationMediaKind: string(key.Media),
			ocispec.AnnotationTitle:   key.String(),
		},
	}
	if key.Media.Compressed() {
		desc.Annotations[model.AnnotationUncompressed] = digest.FromBytes(payload).String()
	}
	ref := model.RemoteRef{Key: key, Descriptor: desc}

	exists, err := s.reg.HasBlob(ctx, desc)
	if err != nil {
		return model.RemoteRef{}, errors.New("checking blob").Detailf("%s", key).Wrap(err)
	}
	if exists {
		s.l.Debug("blob already pushed", zap.Stringer("key", key), zap.Stringer("digest", desc.Digest))
		return ref, nil
	}
	if err := s.reg.PushBlob(ctx, desc, data); err != nil {
		return model.RemoteRef{}, errors.New("pushing blob").Detailf("%s", key).Wrap(err)
	}
	s.cachePut(ctx, desc.Digest, data)
	s.l.Debug("blob pushed", zap.Stringer("key", key), zap.Stringer("digest", desc.Digest), zap.Int64("size", desc.Size))
	return ref, nil
}

// PushAll pushes the blobs of a version in parallel. References are returned sorted by media kind.
func (s *Store) PushAll(ctx context.Context, id model.ResourceID, ref model.VersionRef, blobs map[model.MediaKind][]byte) ([]model.RemoteRef, error) {
	kinds := model.SortedMediaKinds(blobs)
	refs := make([]model.RemoteRef, len(kinds))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i, kind := range kinds {
		i, kind := i, kind
		group.Go(func() error {
			r, err := s.Push(gctx, model.ArtifactKey{Resource: id, Version: ref, Media: kind}, blobs[kind])
			if err != nil {
				return err
			}
			refs[i] = r
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func cacheKey(d digest.Digest) string {
	return strings.Join([]string{cacheName, d.Algorithm().String(), d.Encoded()}, "/")
}

func (s *Store) cacheGet(ctx context.Context, d digest.Digest) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := storage.ReadAll(ctx, s.cache, cacheKey(d))
	if err != nil {
		if !errors.Is(err, storagestatus.ErrNotExists) {
			s.l.Warn("reading cache", zap.Stringer("digest", d), zap.Error(err))
		}
		metrics.CacheHit(cacheName, false)
		return nil, false
	}
	if d.Algorithm().FromBytes(data) != d {
		s.l.Warn("evicting corrupted cache entry", zap.Stringer("digest", d))
		_ = s.cache.Delete(ctx, cacheKey(d))
		metrics.CacheHit(cacheName, false)
		return nil, false
	}
	metrics.CacheHit(cacheName, true)
	return data, true
}

func (s *Store) cachePut(ctx context.Context, d digest.Digest, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, cacheKey(d), bytes.NewReader(data), storage.OverWrite); err != nil {
		s.l.Warn("populating cache", zap.Stringer("digest", d), zap.Error(err))
	}
}

// Pull a blob, from the local cache when possible. The content is verified against its digest
// and decompressed.
func (s *Store) Pull(ctx context.Context, ref model.RemoteRef) ([]byte, error) {
	desc := ref.Descriptor
	if err := desc.Digest.Validate(); err != nil {
		return nil, status.ErrIntegrity.Detailf("%s", ref.Key).Wrap(err)
	}

	data, ok := s.cacheGet(ctx, desc.Digest)
	if !ok {
		var err error
		data, err = s.reg.PullBlob(ctx, desc)
		if err != nil {
			return nil, errors.New("pulling blob").Detailf("%s", ref.Key).Wrap(err)
		}
		if actual := desc.Digest.Algorithm().FromBytes(data); actual != desc.Digest {
			return nil, status.ErrIntegrity.Detailf("%s: expected %s, got %s", ref.Key, desc.Digest, actual)
		}
		s.cachePut(ctx, desc.Digest, data)
	}

	media := ref.Key.Media
	if media == "" {
		media, _ = model.MediaKindFromType(desc.MediaType)
	}
	payload, err := s.decode(media, data)
	if err != nil {
		return nil, err
	}
	if expected, ok := desc.Annotations[model.AnnotationUncompressed]; ok {
		d, err := digest.Parse(expected)
		if err != nil {
			return nil, status.ErrIntegrity.Detailf("%s: uncompressed digest", ref.Key).Wrap(err)
		}
		if actual := d.Algorithm().FromBytes(payload); actual != d {
			return nil, status.ErrIntegrity.Detailf("%s: expected uncompressed %s, got %s", ref.Key, d, actual)
		}
	}
	return payload, nil
}

// Fetch the blob of some media kind from a sealed version
func (s *Store) Fetch(ctx context.Context, m *Manifest, media model.MediaKind) (model.Artifact, error) {
	ref, ok := m.Layer(media)
	if !ok {
		return model.Artifact{}, status.ErrNotFound.Detailf("no %s blob in %s", media, m.Tag())
	}
	payload, err := s.Pull(ctx, ref)
	if err != nil {
		return model.Artifact{}, err
	}
	return model.Artifact{
		Key:         ref.Key,
		Digest:      ref.Digest(),
		Media:       media,
		Payload:     payload,
		Annotations: m.Annotations,
	}, nil
}

// Exists tells if a version has been sealed with a blob of this media kind
func (s *Store) Exists(ctx context.Context, key model.ArtifactKey) (bool, error) {
	m, err := s.Manifest(ctx, model.VersionTag(key.Resource, key.Version))
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_, ok := m.Layer(key.Media)
	return ok, nil
}

// Seal a version: writes the manifest listing its blobs, by digest only. The manifest is not
// reachable by tag until Tag is called.
func (s *Store) Seal(ctx context.Context, node model.VersionNode, id model.ResourceID, blobs []model.RemoteRef, labels map[string]string) (*Manifest, error) {
	if err := s.pushEmptyConfig(ctx); err != nil {
		return nil, err
	}
	m, err := newManifest(node, id, blobs, labels)
	if err != nil {
		return nil, err
	}
	desc, err := s.reg.PutManifest(ctx, "", m.MediaType, m.Raw, registry.Always())
	if err != nil {
		return nil, errors.New("sealing version").Detailf("%s", m.Tag()).Wrap(err)
	}
	m.Descriptor = desc
	s.l.Debug("version sealed", zap.String("tag", m.Tag()), zap.Stringer("manifest", desc.Digest))
	return m, nil
}

func (s *Store) pushEmptyConfig(ctx context.Context) error {
	config := ocispec.DescriptorEmptyJSON
	exists, err := s.reg.HasBlob(ctx, config)
	if err != nil {
		return errors.New("checking empty config").Wrap(err)
	}
	if exists {
		return nil
	}
	if err := s.reg.PushBlob(ctx, config, config.Data); err != nil {
		return errors.New("pushing empty config").Wrap(err)
	}
	return nil
}

// Tag a sealed version. The tag is created only if absent: a released version never moves.
func (s *Store) Tag(ctx context.Context, m *Manifest) error {
	tag := m.Tag()
	if _, err := s.reg.PutManifest(ctx, tag, m.MediaType, m.Raw, registry.IfAbsent()); err != nil {
		return errors.New("tagging version").Detailf("%s", tag).Wrap(err)
	}
	s.l.Info("version tagged", zap.String("tag", tag), zap.Stringer("manifest", m.Descriptor.Digest))
	s.changed(m.Resource)
	return nil
}

// Manifest reads the manifest of a version, by tag or digest
func (s *Store) Manifest(ctx context.Context, reference string) (*Manifest, error) {
	desc, raw, err := s.reg.GetManifest(ctx, reference)
	if err != nil {
		return nil, errors.New("reading manifest").Detailf("%s", reference).Wrap(err)
	}
	if actual := digest.FromBytes(raw); actual != desc.Digest {
		return nil, status.ErrIntegrity.Detailf("manifest %s: got %s", desc.Digest, actual)
	}
	return parseManifest(desc, raw)
}

// Delete the tag of a version. Released versions are only removed when forced.
//
// Blobs are left in place: they are content-addressed and may be shared by other versions.
func (s *Store) Delete(ctx context.Context, id model.ResourceID, ref model.VersionRef, force bool) error {
	tag := model.VersionTag(id, ref)
	if !ref.IsAdhoc() && !force {
		return status.ErrReleased.Detailf("%s", tag)
	}
	if err := s.reg.DeleteTag(ctx, tag); err != nil {
		return errors.New("deleting version").Detailf("%s", tag).Wrap(err)
	}
	s.l.Info("version deleted", zap.String("tag", tag), zap.Bool("forced", force))
	s.changed(id)
	return nil
}

// ClearCache empties the local blob cache
func (s *Store) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// Close releases the resources held by the store. The local cache is kept.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}
