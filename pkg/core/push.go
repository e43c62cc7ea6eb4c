// Copyright © 2018 One Concern

package core

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/artifact"
	"github.com/oneconcern/keel/pkg/core/status"
	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/resolver"
	regstatus "github.com/oneconcern/keel/pkg/registry/status"
	"github.com/oneconcern/keel/pkg/scm"
)

// Publication reports a push
type Publication struct {
	Reference   model.Reference
	Resolution  resolver.Resolution
	Fingerprint model.Fingerprint
	Manifest    digest.Digest
	// Restored is true when the tag of an already recorded version had to be written again
	Restored bool
}

// Push publishes the layers of a resource and returns the version they were published at
func (r *Repo) Push(ctx context.Context, id model.ResourceID, layers model.Layers, opts PushOptions) (model.VersionRef, error) {
	p, err := r.Publish(ctx, id, layers, opts)
	if err != nil {
		return model.VersionRef{}, err
	}
	return p.Resolution.Ref, nil
}

// Publish the layers of a resource.
//
// Blobs are uploaded first and sealed by a manifest, then the version is recorded in the version
// graph. The version tag is written last: a tag always points to a complete version.
func (r *Repo) Publish(ctx context.Context, id model.ResourceID, layers model.Layers, opts PushOptions) (Publication, error) {
	if err := id.Validate(); err != nil {
		return Publication{}, err
	}
	fp, err := r.hasher.Fingerprint(layers)
	if err != nil {
		return Publication{}, errors.New("fingerprinting").Detailf("%s", id).Wrap(err)
	}
	rev := opts.Revision
	if rev.Commit == "" && opts.SourceDir != "" {
		rev, err = scm.Open(opts.SourceDir, scm.Logger(r.l)).Revision(ctx)
		if err != nil {
			return Publication{}, err
		}
	}
	blobs := blobsOf(layers)

	var sealed *artifact.Manifest
	res, err := r.resolver.Resolve(ctx, id, fp, resolver.Options{
		Branch:        opts.Branch,
		PrimaryBranch: r.cfg.PrimaryBranch,
		MainLine:      opts.MainLine,
		Adhoc:         opts.Adhoc,
		Patch:         opts.Patch,
		ForceMajor:    opts.ForceMajor,
		Revision:      rev,
		Prepare: func(ctx context.Context, node model.VersionNode) (digest.Digest, error) {
			tagged, err := r.taggedManifest(ctx, id, node)
			if err != nil {
				return "", err
			}
			if tagged != nil {
				sealed = nil
				return tagged.Descriptor.Digest, nil
			}
			refs, err := r.artifacts.PushAll(ctx, id, node.Ref(), blobs)
			if err != nil {
				return "", err
			}
			m, err := r.artifacts.Seal(ctx, node, id, refs, labels(rev, opts.Labels))
			if err != nil {
				return "", err
			}
			sealed = m
			return m.Descriptor.Digest, nil
		},
	})
	if err != nil {
		return Publication{}, err
	}

	p := Publication{
		Reference:   model.NewReference(r.location, id, res.Ref),
		Resolution:  res,
		Fingerprint: fp,
		Manifest:    res.Node.Manifest,
	}
	if sealed != nil && sealed.Descriptor.Digest == res.Node.Manifest {
		if err := r.artifacts.Tag(ctx, sealed); err != nil {
			return p, err
		}
	} else {
		// reused or adopted: the tag may be missing when a previous publication stopped short
		restored, err := r.restoreTag(ctx, id, res.Node)
		if err != nil {
			return p, err
		}
		p.Restored = restored
	}

	r.l.Info("resource published",
		zap.Stringer("reference", p.Reference),
		zap.Stringer("outcome", res.Outcome),
		zap.Stringer("fingerprint", fp),
		zap.Bool("restored", p.Restored),
	)
	return p, nil
}

// taggedManifest returns the manifest already tagged with the version of a new node, left over
// by a clean or a publication that stopped short of recording it. It is adopted when it holds the
// same content.
func (r *Repo) taggedManifest(ctx context.Context, id model.ResourceID, node model.VersionNode) (*artifact.Manifest, error) {
	tag := model.VersionTag(id, node.Ref())
	m, err := r.artifacts.Manifest(ctx, tag)
	if errors.Is(err, regstatus.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !m.Fingerprint().Equal(node.Fingerprint) {
		return nil, regstatus.ErrConflict.Detailf("tag %s already points to %s, with another content", tag, m.Descriptor.Digest)
	}
	r.l.Warn("adopting tagged version", zap.String("tag", tag), zap.Stringer("manifest", m.Descriptor.Digest))
	return m, nil
}

func (r *Repo) restoreTag(ctx context.Context, id model.ResourceID, node model.VersionNode) (bool, error) {
	tag := model.VersionTag(id, node.Ref())
	_, err := r.artifacts.Manifest(ctx, tag)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, regstatus.ErrNotFound) {
		return false, err
	}
	if node.Manifest == "" {
		return false, status.ErrUnsealed.Detailf("%s", tag)
	}
	m, err := r.artifacts.Manifest(ctx, node.Manifest.String())
	if err != nil {
		return false, status.ErrUnsealed.Detailf("%s: manifest %s", tag, node.Manifest).Wrap(err)
	}
	if err := r.artifacts.Tag(ctx, m); err != nil {
		return false, err
	}
	r.l.Warn("version tag restored", zap.String("tag", tag), zap.Stringer("manifest", node.Manifest))
	return true, nil
}

func blobsOf(layers model.Layers) map[model.MediaKind][]byte {
	blobs := make(map[model.MediaKind][]byte, 3+len(layers.Bundles))
	blobs[model.MediaInterface] = layers.Interface
	blobs[model.MediaImpl] = layers.Implementation
	blobs[model.MediaState] = layers.State
	for kind, payload := range layers.Bundles {
		blobs[kind] = payload
	}
	return blobs
}

// annotations recording the source revision
const (
	annotationRevision = "org.opencontainers.image.revision"
	annotationDirty    = "org.keel.source.dirty"
	annotationPushed   = "org.keel.pushed"
)

func labels(rev model.Revision, extra map[string]string) map[string]string {
	l := make(map[string]string, len(extra)+3)
	for k, v := range extra {
		l[k] = v
	}
	if rev.Commit != "" {
		l[annotationRevision] = rev.Commit
	}
	if rev.IsDirty() {
		l[annotationDirty] = rev.Dirty
	}
	l[annotationPushed] = time.Now().UTC().Format(time.RFC3339)
	return l
}
