// Copyright © 2018 One Concern

// Package index is the catalogue of a repository: the resources it holds and their versions.
//
// The catalogue is built from the registry tag listing and cached for a short while. Every write
// through the artifact store invalidates it.
package index

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/artifact"
	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/graph"
	"github.com/oneconcern/keel/pkg/metrics"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// DefaultTTL of the cached catalogue
const DefaultTTL = 30 * time.Second

const (
	cacheName    = "catalogue"
	catalogueKey = "tags"
)

// Option for the index
type Option func(*Index)

// TTL sets the lifetime of the cached catalogue. A negative TTL disables caching.
func TTL(d time.Duration) Option {
	return func(i *Index) {
		i.ttl = d
	}
}

// Logger for the index
func Logger(l *zap.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.l = l
		}
	}
}

// Location sets the remote location reported in summaries
func Location(location string) Option {
	return func(i *Index) {
		i.location = location
	}
}

// Index of a repository
type Index struct {
	reg       registry.Registry
	graph     *graph.Graph
	artifacts *artifact.Store
	l         *zap.Logger
	ttl       time.Duration
	location  string
	cache     *gocache.Cache
}

// New index over a registry. Register Invalidate with artifact.OnChange to keep it current.
func New(reg registry.Registry, g *graph.Graph, artifacts *artifact.Store, opts ...Option) *Index {
	i := &Index{
		reg:       reg,
		graph:     g,
		artifacts: artifacts,
		l:         zap.NewNop(),
		ttl:       DefaultTTL,
		location:  reg.String(),
	}
	for _, apply := range opts {
		apply(i)
	}
	// expired catalogues are dropped on read: no janitor goroutine
	i.cache = gocache.New(i.ttl, 0)
	return i
}

// Invalidate the cached catalogue. The resource is only used for logging.
func (i *Index) Invalidate(id model.ResourceID) {
	i.l.Debug("catalogue invalidated", zap.Stringer("resource", id))
	i.cache.Delete(catalogueKey)
}

// Refresh the catalogue from the registry
func (i *Index) Refresh(ctx context.Context) error {
	i.cache.Delete(catalogueKey)
	_, err := i.catalogue(ctx)
	return err
}

func (i *Index) catalogue(ctx context.Context) (*catalogue, error) {
	if cached, ok := i.cache.Get(catalogueKey); ok {
		if c, ok := cached.(*catalogue); ok {
			metrics.CacheHit(cacheName, true)
			return c, nil
		}
	}
	metrics.CacheHit(cacheName, false)

	tags, err := i.reg.ListTags(ctx)
	if err != nil {
		return nil, errors.New("listing repository").Detailf("%s", i.location).Wrap(err)
	}
	c := newCatalogue(tags)
	if i.ttl >= 0 {
		i.cache.Set(catalogueKey, c, i.ttl)
	}
	return c, nil
}

func (i *Index) entry(ctx context.Context, id model.ResourceID) (*entry, error) {
	c, err := i.catalogue(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := c.resources[id]
	if !ok {
		return nil, status.ErrNotFound.Detailf("resource %s in %s", id, i.location)
	}
	return e, nil
}

// List the resources of the repository, ordered by kind then name. Kinds filter the listing.
func (i *Index) List(ctx context.Context, kinds ...model.Kind) ([]model.ResourceSummary, error) {
	c, err := i.catalogue(ctx)
	if err != nil {
		return nil, err
	}
	ids := c.ids(kinds...)
	summaries := make([]model.ResourceSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, c.resources[id].summary(i.location))
	}
	return summaries, nil
}

// Names of the resources of some kind, sorted
func (i *Index) Names(ctx context.Context, kind model.Kind) ([]string, error) {
	c, err := i.catalogue(ctx)
	if err != nil {
		return nil, err
	}
	ids := c.ids(kind)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.Name)
	}
	return names, nil
}

// Resource summary
func (i *Index) Resource(ctx context.Context, id model.ResourceID) (model.ResourceSummary, error) {
	e, err := i.entry(ctx, id)
	if err != nil {
		return model.ResourceSummary{}, err
	}
	return e.summary(i.location), nil
}

// Latest released version on a chain. Adhoc versions are never considered.
func (i *Index) Latest(ctx context.Context, id model.ResourceID, branch string) (model.Version, error) {
	e, err := i.entry(ctx, id)
	if err != nil {
		return model.Version{}, err
	}
	versions := e.onChain(model.SanitizeBranch(branch))
	if len(versions) == 0 {
		return model.Version{}, status.ErrNotFound.Detailf("no released version of %s on %s", id, model.BranchChain(id, branch))
	}
	return versions[0], nil
}

// Compatible versions: released on the same chain with the same major version, newest first
func (i *Index) Compatible(ctx context.Context, id model.ResourceID, v model.Version) ([]model.Version, error) {
	e, err := i.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	var compatible []model.Version
	for _, candidate := range e.onChain(v.Branch) {
		if candidate.Major == v.Major {
			compatible = append(compatible, candidate)
		}
	}
	return compatible, nil
}

// Releases of a resource on all chains, newest first
func (i *Index) Releases(ctx context.Context, id model.ResourceID) ([]model.Version, error) {
	e, err := i.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]model.Version(nil), e.released...), nil
}

// Versions of a resource: releases newest first, then adhoc versions
func (i *Index) Versions(ctx context.Context, id model.ResourceID) ([]model.VersionRef, error) {
	e, err := i.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	refs := make([]model.VersionRef, 0, len(e.released)+len(e.adhoc))
	for _, v := range e.released {
		refs = append(refs, model.ReleasedRef(v))
	}
	for _, a := range e.adhoc {
		refs = append(refs, model.AdhocRef(a))
	}
	return refs, nil
}

// Query resolves a version query to a published version. Latest and constraint queries only
// consider the chain of the given branch; a prefix qualified with a branch looks up that branch.
func (i *Index) Query(ctx context.Context, id model.ResourceID, q model.Query, branch string) (model.VersionRef, error) {
	e, err := i.entry(ctx, id)
	if err != nil {
		return model.VersionRef{}, err
	}
	notFound := func() error {
		return status.ErrNotFound.Detailf("no version of %s matching %q", id, q)
	}

	switch q.Kind {
	case model.QueryAdhoc:
		for _, a := range e.adhoc {
			if a == q.Adhoc {
				return model.AdhocRef(a), nil
			}
		}
		return model.VersionRef{}, notFound()
	case model.QueryExact:
		for _, v := range e.released {
			if v == q.Exact {
				return model.ReleasedRef(v), nil
			}
		}
		return model.VersionRef{}, notFound()
	case model.QueryPrefix:
		for _, v := range e.onChain(q.Prefix.Branch) {
			if q.Prefix.Matches(v) {
				return model.ReleasedRef(v), nil
			}
		}
		return model.VersionRef{}, notFound()
	default:
		for _, v := range e.onChain(model.SanitizeBranch(branch)) {
			if q.Matches(v) {
				return model.ReleasedRef(v), nil
			}
		}
		return model.VersionRef{}, notFound()
	}
}
