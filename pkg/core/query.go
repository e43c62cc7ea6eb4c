// Copyright © 2018 One Concern

package core

import (
	"context"

	"github.com/oneconcern/keel/pkg/index"
	"github.com/oneconcern/keel/pkg/model"
)

// queryOptions applies query options. The primary branch designates the main chain, as it does
// for publications.
func (r *Repo) queryOptions(opts []QueryOption) query {
	var q query
	for _, apply := range opts {
		apply(&q)
	}
	if model.SanitizeBranch(q.branch) == model.SanitizeBranch(r.cfg.PrimaryBranch) {
		q.branch = ""
	}
	return q
}

// List the resources of the repository
func (r *Repo) List(ctx context.Context, kinds ...model.Kind) ([]model.ResourceSummary, error) {
	return r.index.List(ctx, kinds...)
}

// ResolveVersion resolves a version query: latest, a partial version (v1, v1.2), an exact version,
// an adhoc tag or a semver constraint (^1.2).
func (r *Repo) ResolveVersion(ctx context.Context, id model.ResourceID, raw string, opts ...QueryOption) (model.VersionRef, error) {
	q, err := model.ParseQuery(raw)
	if err != nil {
		return model.VersionRef{}, err
	}
	return r.index.Query(ctx, id, q, r.queryOptions(opts).branch)
}

// Latest released version of a resource
func (r *Repo) Latest(ctx context.Context, id model.ResourceID, opts ...QueryOption) (model.Version, error) {
	return r.index.Latest(ctx, id, r.queryOptions(opts).branch)
}

// Compatible lists the released versions sharing the major version of v, newest first
func (r *Repo) Compatible(ctx context.Context, id model.ResourceID, v model.Version) ([]model.Version, error) {
	return r.index.Compatible(ctx, id, v)
}

// NearestAncestor returns the newest released version matching a version prefix, e.g. v1.2
func (r *Repo) NearestAncestor(ctx context.Context, id model.ResourceID, prefix string, opts ...QueryOption) (model.VersionNode, error) {
	p, err := model.ParsePrefix(prefix)
	if err != nil {
		return model.VersionNode{}, err
	}
	return r.graph.NearestAncestor(ctx, model.BranchChain(id, r.queryOptions(opts).branch), p)
}

// Versions of a resource, released and adhoc
func (r *Repo) Versions(ctx context.Context, id model.ResourceID) ([]model.VersionRef, error) {
	return r.index.Versions(ctx, id)
}

// History returns the released nodes of a chain, from the oldest to the newest
func (r *Repo) History(ctx context.Context, id model.ResourceID, opts ...QueryOption) ([]model.VersionNode, error) {
	return r.graph.Nodes(ctx, model.BranchChain(id, r.queryOptions(opts).branch))
}

// Clean removes the adhoc versions of a resource, and everything else when forced
func (r *Repo) Clean(ctx context.Context, id model.ResourceID, opts index.CleanOptions) (index.CleanReport, error) {
	return r.index.Clean(ctx, id, opts)
}

// Delete a version. Released versions may only be deleted when forced.
func (r *Repo) Delete(ctx context.Context, reference string, force bool) error {
	ref, err := r.parse(reference)
	if err != nil {
		return err
	}
	exact, _ := ref.VersionRef()
	return r.index.Delete(ctx, ref.Resource, exact, force)
}
