// Copyright © 2018 One Concern

package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/oneconcern/keel/pkg/artifact"
	"github.com/oneconcern/keel/pkg/core/status"
	"github.com/oneconcern/keel/pkg/model"
)

// Resolve a reference to the exact version it designates
func (r *Repo) Resolve(ctx context.Context, reference string) (model.Reference, error) {
	ref, err := r.parse(reference)
	if err != nil {
		return model.Reference{}, err
	}
	if exact, ok := ref.VersionRef(); ok {
		return model.NewReference(r.location, ref.Resource, exact), nil
	}
	q, err := ref.Query()
	if err != nil {
		return model.Reference{}, err
	}
	version, err := r.index.Query(ctx, ref.Resource, q, "")
	if err != nil {
		return model.Reference{}, err
	}
	return model.NewReference(r.location, ref.Resource, version), nil
}

// parse a reference. A bare <kind>.<name>[.<version>] designates a resource in this repository.
func (r *Repo) parse(reference string) (model.Reference, error) {
	ref, err := model.ParseReference(reference)
	if err != nil {
		if local, lerr := model.ParseReference(r.location + ":" + reference); lerr == nil {
			return local, nil
		}
		return model.Reference{}, err
	}
	if ref.Location != r.location {
		return model.Reference{}, status.ErrLocation.Detailf("%s is not in %s", reference, r.location)
	}
	return ref, nil
}

// Info returns the manifest of a version, with its labels
func (r *Repo) Info(ctx context.Context, reference string) (*artifact.Manifest, error) {
	ref, err := r.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}
	exact, _ := ref.VersionRef()
	return r.artifacts.Manifest(ctx, model.VersionTag(ref.Resource, exact))
}

// Pull the state of a version
func (r *Repo) Pull(ctx context.Context, reference string) (model.Artifact, error) {
	return r.PullMedia(ctx, reference, model.MediaState)
}

// PullMedia pulls one of the blobs of a version
func (r *Repo) PullMedia(ctx context.Context, reference string, media model.MediaKind) (model.Artifact, error) {
	m, err := r.Info(ctx, reference)
	if err != nil {
		return model.Artifact{}, err
	}
	if _, ok := m.Layer(media); !ok {
		return model.Artifact{}, status.ErrMissingMedia.Detailf("%s has no %s", m.Tag(), media)
	}
	return r.artifacts.Fetch(ctx, m, media)
}

// PullAll pulls every blob of a version, concurrently
func (r *Repo) PullAll(ctx context.Context, reference string) (map[model.MediaKind]model.Artifact, error) {
	m, err := r.Info(ctx, reference)
	if err != nil {
		return nil, err
	}
	kinds := m.MediaKinds()
	pulled := make([]model.Artifact, len(kinds))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.Concurrency)
	for i, kind := range kinds {
		i, kind := i, kind
		eg.Go(func() error {
			a, err := r.artifacts.Fetch(ctx, m, kind)
			if err != nil {
				return err
			}
			pulled[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	artifacts := make(map[model.MediaKind]model.Artifact, len(kinds))
	for i, kind := range kinds {
		artifacts[kind] = pulled[i]
	}
	return artifacts, nil
}
