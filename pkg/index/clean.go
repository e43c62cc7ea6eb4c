// Copyright © 2018 One Concern

package index

import (
	"context"

	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// CleanOptions for Clean
type CleanOptions struct {
	// Force removes released versions and chain ledgers as well
	Force bool
	// DryRun reports what would be removed
	DryRun bool
}

// CleanReport tells what Clean removed
type CleanReport struct {
	Adhoc    []model.AdhocTag
	Released []model.Version
	Ledgers  []model.ChainID
}

// Empty is true when nothing was removed
func (r CleanReport) Empty() bool {
	return len(r.Adhoc) == 0 && len(r.Released) == 0 && len(r.Ledgers) == 0
}

// Clean removes the adhoc versions of a resource, from the registry and from its chain ledgers.
// Released versions are left untouched, unless forced. Blobs are never deleted.
func (i *Index) Clean(ctx context.Context, id model.ResourceID, opts CleanOptions) (CleanReport, error) {
	defer i.Invalidate(id)

	e, err := i.entry(ctx, id)
	if err != nil {
		return CleanReport{}, err
	}
	var report CleanReport

	// ledger entries go first: an orphaned tag is only a listing artifact
	for _, chain := range e.chains {
		if opts.DryRun {
			continue
		}
		if _, err := i.graph.RemoveAdhoc(ctx, chain); err != nil {
			return report, errors.New("cleaning chain").Detailf("%s", chain).Wrap(err)
		}
	}
	for _, tag := range e.adhoc {
		if !opts.DryRun {
			if err := i.artifacts.Delete(ctx, id, model.AdhocRef(tag), false); err != nil && !errors.Is(err, status.ErrNotFound) {
				return report, err
			}
		}
		report.Adhoc = append(report.Adhoc, tag)
	}
	if !opts.Force {
		i.l.Info("adhoc versions cleaned", zap.Stringer("resource", id), zap.Int("adhoc", len(report.Adhoc)), zap.Bool("dry-run", opts.DryRun))
		return report, nil
	}

	for _, v := range e.released {
		if !opts.DryRun {
			if err := i.artifacts.Delete(ctx, id, model.ReleasedRef(v), true); err != nil && !errors.Is(err, status.ErrNotFound) {
				return report, err
			}
		}
		report.Released = append(report.Released, v)
	}
	for _, chain := range e.chains {
		if !opts.DryRun {
			if err := i.reg.DeleteTag(ctx, model.LedgerTag(chain)); err != nil && !errors.Is(err, status.ErrNotFound) {
				return report, errors.New("deleting ledger").Detailf("%s", chain).Wrap(err)
			}
		}
		report.Ledgers = append(report.Ledgers, chain)
	}
	i.l.Warn("resource wiped",
		zap.Stringer("resource", id),
		zap.Int("adhoc", len(report.Adhoc)),
		zap.Int("released", len(report.Released)),
		zap.Int("ledgers", len(report.Ledgers)),
		zap.Bool("dry-run", opts.DryRun),
	)
	return report, nil
}

// Delete a single version. Released versions may only be deleted when forced.
func (i *Index) Delete(ctx context.Context, id model.ResourceID, ref model.VersionRef, force bool) error {
	if ref.IsZero() {
		return status.ErrInvalidReference.Detailf("%s: no version to delete", id)
	}
	if !ref.IsAdhoc() && !force {
		return status.ErrReleased.Detailf("%s", model.VersionTag(id, ref))
	}
	defer i.Invalidate(id)

	e, err := i.entry(ctx, id)
	if err != nil {
		return err
	}
	if ref.IsAdhoc() {
		for _, chain := range e.chains {
			if _, err := i.graph.RemoveAdhoc(ctx, chain, ref.Adhoc); err != nil {
				return err
			}
		}
	} else {
		chain := model.ChainID{Resource: id, Branch: ref.Version.Branch}
		if _, err := i.graph.RemoveReleased(ctx, chain, ref.Version, force); err != nil && !errors.Is(err, status.ErrNotFound) {
			return err
		}
	}
	return i.artifacts.Delete(ctx, id, ref, force)
}
