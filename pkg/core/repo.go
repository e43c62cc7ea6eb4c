// Copyright © 2018 One Concern

// Package core publishes and retrieves versioned resources.
//
// A Repo binds together the components working against one remote location: the registry
// transport, the artifact store with its local cache, the version graph, the version resolver
// and the catalogue index.
package core

import (
	"context"
	"os"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/artifact"
	"github.com/oneconcern/keel/pkg/core/status"
	"github.com/oneconcern/keel/pkg/fingerprint"
	"github.com/oneconcern/keel/pkg/graph"
	"github.com/oneconcern/keel/pkg/index"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/memory"
	"github.com/oneconcern/keel/pkg/registry/oci"
	"github.com/oneconcern/keel/pkg/resolver"
	"github.com/oneconcern/keel/pkg/storage"
	"github.com/oneconcern/keel/pkg/storage/localfs"
)

// Repo is a repository of versioned resources at some remote location
type Repo struct {
	cfg      Config
	location string

	l      *zap.Logger
	tracer opentracing.Tracer
	hasher *fingerprint.Hasher

	reg       registry.Registry
	artifacts *artifact.Store
	graph     *graph.Graph
	resolver  *resolver.Resolver
	index     *index.Index
}

// Open a repository
func Open(cfg Config, opts ...Option) (*Repo, error) {
	cfg = withDefaults(cfg)
	if cfg.Remote == "" {
		return nil, status.ErrConfig.Detailf("no remote location")
	}
	r := &Repo{
		cfg:      cfg,
		location: strings.TrimPrefix(cfg.Remote, "oci://"),
		l:        zap.NewNop(),
		tracer:   opentracing.GlobalTracer(),
	}
	for _, apply := range opts {
		apply(r)
	}
	if r.hasher == nil {
		r.hasher = fingerprint.NewHasher()
	}
	r.l = r.l.With(zap.String("remote", r.location))

	if r.reg == nil {
		reg, err := r.dial()
		if err != nil {
			return nil, err
		}
		r.reg = registry.Instrument(r.tracer, r.l, registry.WithRetry(reg,
			registry.MaxRetries(cfg.Retries),
			registry.CallTimeout(cfg.Timeout),
			registry.RetryLogger(r.l),
		))
	}

	artifactOpts := []artifact.Option{
		artifact.Logger(r.l),
		artifact.Concurrency(cfg.Concurrency),
		artifact.OnChange(r.changed),
	}
	if cfg.Cache != "" {
		cache, err := openCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		artifactOpts = append(artifactOpts, artifact.Cache(storage.Instrument(r.tracer, r.l, cache)))
	}
	store, err := artifact.New(r.reg, artifactOpts...)
	if err != nil {
		return nil, err
	}
	r.artifacts = store
	r.graph = graph.New(r.reg, graph.Logger(r.l))
	r.resolver = resolver.New(r.graph, resolver.Logger(r.l))
	r.index = index.New(r.reg, r.graph, r.artifacts,
		index.Logger(r.l),
		index.TTL(cfg.CatalogueTTL),
		index.Location(r.location),
	)
	return r, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Registry == "" {
		cfg.Registry = RegistryOCI
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CatalogueTTL == 0 {
		cfg.CatalogueTTL = index.DefaultTTL
	}
	return cfg
}

func (r *Repo) dial() (registry.Registry, error) {
	switch r.cfg.Registry {
	case RegistryOCI:
		return oci.NewRemote(r.location, oci.PlainHTTP(r.cfg.PlainHTTP), oci.Logger(r.l))
	case RegistryLayout:
		return oci.NewLayout(r.location, oci.Logger(r.l))
	case RegistryMemory:
		return memory.New(r.location), nil
	default:
		return nil, status.ErrConfig.Detailf("unknown registry type %q", r.cfg.Registry)
	}
}

func openCache(dir string) (storage.Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, status.ErrConfig.Detailf("cache directory %s", dir).Wrap(err)
	}
	return localfs.NewAtomic(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

func (r *Repo) changed(id model.ResourceID) {
	if r.index != nil {
		r.index.Invalidate(id)
	}
}

// Location of the repository
func (r *Repo) Location() string {
	return r.location
}

// Registry the repository talks to
func (r *Repo) Registry() registry.Registry {
	return r.reg
}

// Index of the repository
func (r *Repo) Index() *index.Index {
	return r.index
}

// Close the repository. The local cache is kept.
func (r *Repo) Close() error {
	return r.artifacts.Close()
}

// ClearCache empties the local blob cache
func (r *Repo) ClearCache(ctx context.Context) error {
	return r.artifacts.ClearCache(ctx)
}
