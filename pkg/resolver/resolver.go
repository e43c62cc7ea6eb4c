// Copyright © 2018 One Concern

// Package resolver maps content fingerprints to versions.
//
// A fingerprint already released on the chain resolves to its existing version. Otherwise the
// fingerprint is compared to the chain tip: a changed interface bumps the major version, a changed
// implementation bumps the minor version, and a changed state bumps the patch version when patches
// are granted. Everything else is published as an adhoc version, which never enters the chain.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/fingerprint"
	"github.com/oneconcern/keel/pkg/graph"
	"github.com/oneconcern/keel/pkg/metrics"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// DefaultAttempts is the number of attempts to append a version: a conflict is retried once
const DefaultAttempts = 2

// Outcome of a resolution
type Outcome int

// Outcomes
const (
	// Reused: the fingerprint was already published
	Reused Outcome = iota
	// Released: a new version was appended to the chain
	Released
	// Adhoc: an adhoc version was recorded
	Adhoc
)

func (o Outcome) String() string {
	switch o {
	case Reused:
		return "reused"
	case Released:
		return "released"
	case Adhoc:
		return "adhoc"
	default:
		return "unknown"
	}
}

// Options for a resolution
type Options struct {
	// Branch the content comes from
	Branch string
	// PrimaryBranch releases on the main chain. Other branches release on their own chain.
	PrimaryBranch string
	// MainLine releases on the main chain whatever the branch
	MainLine bool
	// Adhoc publishes an adhoc version, even when a release is possible
	Adhoc bool
	// Patch grants a patch release for state-only changes
	Patch bool
	// ForceMajor makes any release a major one
	ForceMajor bool
	// Revision of the source tree, used to name adhoc versions
	Revision model.Revision
	// Prepare is called with the new node before it is recorded, and returns the digest of the
	// manifest sealing it
	Prepare graph.SealFunc
}

// Chain the options resolve against
func (o Options) Chain(id model.ResourceID) model.ChainID {
	branch := model.SanitizeBranch(o.Branch)
	if o.MainLine || branch == "" || branch == model.SanitizeBranch(o.PrimaryBranch) {
		return model.MainChain(id)
	}
	return model.BranchChain(id, branch)
}

// Resolution of a fingerprint
type Resolution struct {
	Ref      model.VersionRef
	Node     model.VersionNode
	Outcome  Outcome
	Bump     model.BumpKind
	Changed  model.Layer
	Chain    model.ChainID
	Attempts int
}

// Option for the resolver
type Option func(*Resolver)

// Logger for the resolver
func Logger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.l = l
		}
	}
}

// Attempts sets the number of attempts on conflicting appends
func Attempts(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// Resolver of versions
type Resolver struct {
	graph    *graph.Graph
	l        *zap.Logger
	attempts int
}

// New resolver working on a version graph
func New(g *graph.Graph, opts ...Option) *Resolver {
	r := &Resolver{
		graph:    g,
		l:        zap.NewNop(),
		attempts: DefaultAttempts,
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// Bump required to go from a parent fingerprint to another one, and the layer which changed.
// A state-only change requires a granted patch, otherwise the bump is none.
func Bump(parent, fp model.Fingerprint, opts Options) (model.BumpKind, model.Layer) {
	changed := fp.Changed(parent)
	var bump model.BumpKind
	switch changed {
	case model.LayerInterface:
		bump = model.BumpMajor
	case model.LayerImpl:
		bump = model.BumpMinor
	case model.LayerState:
		if opts.Patch {
			bump = model.BumpPatch
		}
	}
	if opts.ForceMajor && changed != model.LayerNone {
		bump = model.BumpMajor
	}
	return bump, changed
}

// Resolve the version of a fingerprint, and record it in the version graph
func (r *Resolver) Resolve(ctx context.Context, id model.ResourceID, fp model.Fingerprint, opts Options) (Resolution, error) {
	if err := id.Validate(); err != nil {
		return Resolution{}, err
	}
	if fp.IsZero() {
		return Resolution{}, model.ErrInvalidVersion.Detailf("%s: empty fingerprint", id)
	}
	chain := opts.Chain(id)

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var res Resolution
		res, err = r.resolve(ctx, chain, fp, opts)
		res.Attempts = attempt
		if err == nil {
			metrics.Resolutions.WithLabelValues(res.Outcome.String(), res.Bump.String()).Inc()
			r.l.Info("version resolved",
				zap.Stringer("chain", chain),
				zap.Stringer("version", res.Ref),
				zap.Stringer("outcome", res.Outcome),
				zap.Stringer("bump", res.Bump),
				zap.Stringer("changed", res.Changed),
				zap.Int("attempts", attempt),
			)
			return res, nil
		}
		if !errors.Is(err, status.ErrConflict) {
			break
		}
		r.l.Debug("conflicting resolution, retrying from a fresh tip", zap.Stringer("chain", chain), zap.Error(err))
	}
	metrics.Resolutions.WithLabelValues("error", model.BumpNone.String()).Inc()
	return Resolution{}, errors.New("resolving version").Detailf("%s fingerprint %s", chain, fp).Wrap(err)
}

func (r *Resolver) resolve(ctx context.Context, chain model.ChainID, fp model.Fingerprint, opts Options) (Resolution, error) {
	ledger, rev, err := r.graph.Load(ctx, chain)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{Chain: chain}

	if node := ledger.FindFingerprint(fp); node != nil {
		return reused(res, *node), nil
	}

	parent := ledger.Tip()
	if !chain.IsMain() {
		main, _, err := r.graph.Load(ctx, chain.Main())
		if err != nil {
			return Resolution{}, err
		}
		if node := main.FindFingerprint(fp); node != nil {
			res.Chain = chain.Main()
			return reused(res, *node), nil
		}
		if parent == nil {
			parent = main.Tip()
		}
	}

	bump, changed := model.BumpNone, model.LayerNone
	if parent != nil {
		bump, changed = Bump(parent.Fingerprint, fp, opts)
	}
	res.Bump, res.Changed = bump, changed

	if opts.Adhoc || (parent != nil && bump == model.BumpNone) {
		return r.adhoc(ctx, ledger, res, parent, fp, opts)
	}

	node, err := r.graph.Append(ctx, chain, rev, parent, fp, bump, opts.Prepare)
	if err != nil {
		return Resolution{}, err
	}
	res.Node = node
	res.Ref = node.Ref()
	res.Outcome = Released
	return res, nil
}

func reused(res Resolution, node model.VersionNode) Resolution {
	res.Node = node
	res.Ref = node.Ref()
	res.Outcome = Reused
	res.Bump = model.BumpNone
	res.Changed = model.LayerNone
	return res
}

func (r *Resolver) adhoc(ctx context.Context, ledger *model.Ledger, res Resolution, parent *model.VersionNode, fp model.Fingerprint, opts Options) (Resolution, error) {
	tag := fingerprint.AdhocTag(opts.Revision, fp)
	res.Outcome = Adhoc
	res.Ref = model.AdhocRef(tag)

	if existing := ledger.Find(res.Ref); existing != nil {
		res.Node = *existing
		return res, nil
	}

	node := model.VersionNode{
		Adhoc:       tag,
		Fingerprint: fp,
		Bump:        res.Bump,
	}
	if parent != nil {
		v := parent.Version
		node.Parent = &v
	}
	if opts.Prepare != nil {
		manifest, err := opts.Prepare(ctx, node)
		if err != nil {
			return Resolution{}, err
		}
		node.Manifest = manifest
	}
	recorded, err := r.graph.RecordAdhoc(ctx, res.Chain, node)
	if err != nil {
		return Resolution{}, err
	}
	res.Node = recorded
	return res, nil
}
