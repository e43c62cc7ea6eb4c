// Copyright © 2018 One Concern

// Package graph maintains the version graph of resources.
//
// Each chain of a resource (the main chain, and one chain per branch) is an append-only ledger
// stored in the registry behind a ledger tag. Appending is a compare-and-swap on the ledger
// revision: it is the only serialization point between concurrent writers.
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/metrics"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// DefaultMaxUpdates bounds the attempts of read-modify-write updates which do not claim versions
const DefaultMaxUpdates = 8

// SealFunc is called with a node about to be appended, before the ledger is written. It returns
// the digest of the manifest sealing the version.
type SealFunc func(context.Context, model.VersionNode) (digest.Digest, error)

// Option for the version graph
type Option func(*Graph)

// Logger for the version graph
func Logger(l *zap.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.l = l
		}
	}
}

// Clock overrides the time source used to stamp nodes
func Clock(now func() time.Time) Option {
	return func(g *Graph) {
		if now != nil {
			g.now = now
		}
	}
}

// Writer sets the identity recorded on appended nodes. It defaults to a fresh ksuid.
func Writer(id string) Option {
	return func(g *Graph) {
		if id != "" {
			g.writer = id
		}
	}
}

// MaxUpdates bounds the attempts of adhoc record and removal updates
func MaxUpdates(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.maxUpdates = n
		}
	}
}

// Graph of versions, persisted in a registry
type Graph struct {
	reg        registry.Registry
	l          *zap.Logger
	now        func() time.Time
	writer     string
	maxUpdates int
}

// New version graph
func New(reg registry.Registry, opts ...Option) *Graph {
	g := &Graph{
		reg:        reg,
		l:          zap.NewNop(),
		now:        time.Now,
		writer:     ksuid.New().String(),
		maxUpdates: DefaultMaxUpdates,
	}
	for _, apply := range opts {
		apply(g)
	}
	return g
}

// Load the ledger of a chain and its revision. An empty chain yields an empty ledger and an empty revision.
func (g *Graph) Load(ctx context.Context, chain model.ChainID) (*model.Ledger, Revision, error) {
	return g.load(ctx, chain)
}

// Lookup the released node with this fingerprint on a chain, or nil
func (g *Graph) Lookup(ctx context.Context, chain model.ChainID, fp model.Fingerprint) (*model.VersionNode, error) {
	ledger, _, err := g.load(ctx, chain)
	if err != nil {
		return nil, err
	}
	return ledger.FindFingerprint(fp), nil
}

// Tip returns the newest released node on a chain (nil on an empty chain), with the ledger revision observed
func (g *Graph) Tip(ctx context.Context, chain model.ChainID) (*model.VersionNode, Revision, error) {
	ledger, rev, err := g.load(ctx, chain)
	if err != nil {
		return nil, "", err
	}
	return ledger.Tip(), rev, nil
}

// Nodes returns the released nodes of a chain, from the oldest to the newest
func (g *Graph) Nodes(ctx context.Context, chain model.ChainID) ([]model.VersionNode, error) {
	ledger, _, err := g.load(ctx, chain)
	if err != nil {
		return nil, err
	}
	return ledger.Nodes, nil
}

// Next computes the version following parent on a chain. A nil parent starts the chain.
//
// A branch chain forks from a node of the main chain: its versions carry the branch qualifier.
func Next(chain model.ChainID, parent *model.VersionNode, bump model.BumpKind) model.Version {
	if parent == nil {
		return model.FirstVersion(chain.Branch)
	}
	next := parent.Version.Bump(bump)
	if next.Branch != chain.Branch {
		next = next.OnBranch(chain.Branch)
	}
	return next
}

// checkBump verifies that a bump is allowed by the layers changed since the parent
func checkBump(parent *model.VersionNode, fp model.Fingerprint, bump model.BumpKind) error {
	if parent == nil {
		return nil
	}
	var required model.BumpKind
	switch fp.Changed(parent.Fingerprint) {
	case model.LayerInterface:
		required = model.BumpMajor
	case model.LayerImpl:
		required = model.BumpMinor
	case model.LayerState:
		required = model.BumpPatch
	default:
		return model.ErrInvalidVersion.Detailf("fingerprint %s is already released as %s", fp, parent.Version)
	}
	if bump < required {
		return model.ErrInvalidVersion.Detailf("a %s bump is required from %s, got %s", required, parent.Version, bump)
	}
	return nil
}

// Append a released node after parent on a chain.
//
// The ledger must still be at the observed revision, with parent as its tip, or parent as the fork
// point of an empty branch chain. Otherwise ErrConflict is returned and the caller must retry from a
// freshly read tip. The seal function, when given, is called before the ledger is written.
func (g *Graph) Append(ctx context.Context, chain model.ChainID, observed Revision, parent *model.VersionNode, fp model.Fingerprint, bump model.BumpKind, seal SealFunc) (model.VersionNode, error) {
	if err := checkBump(parent, fp, bump); err != nil {
		return model.VersionNode{}, err
	}
	ledger, rev, err := g.load(ctx, chain)
	if err != nil {
		return model.VersionNode{}, err
	}
	if err := g.checkTip(ledger, rev, observed, parent); err != nil {
		return model.VersionNode{}, g.conflict("append", chain, err)
	}
	if existing := ledger.FindFingerprint(fp); existing != nil {
		return model.VersionNode{}, g.conflict("append", chain,
			status.ErrConflict.Detailf("fingerprint %s already released as %s", fp, existing.Version))
	}

	node := model.VersionNode{
		Version:     Next(chain, parent, bump),
		Fingerprint: fp,
		Bump:        bump,
		ReleasedAt:  g.now().UTC(),
		Writer:      g.writer,
	}
	if parent != nil {
		v := parent.Version
		node.Parent = &v
	}
	if existing := ledger.Find(model.ReleasedRef(node.Version)); existing != nil {
		return model.VersionNode{}, g.conflict("append", chain,
			status.ErrConflict.Detailf("version %s already claimed", node.Version))
	}

	if seal != nil {
		node.Manifest, err = seal(ctx, node)
		if err != nil {
			return model.VersionNode{}, err
		}
	}

	ledger.Nodes = append(ledger.Nodes, node)
	if _, err := g.store(ctx, ledger, rev); err != nil {
		if errors.Is(err, status.ErrConflict) {
			return model.VersionNode{}, g.conflict("append", chain, err)
		}
		return model.VersionNode{}, err
	}
	g.l.Info("version appended",
		zap.Stringer("chain", chain),
		zap.Stringer("version", node.Version),
		zap.Stringer("bump", bump),
		zap.Stringer("fingerprint", fp),
	)
	return node, nil
}

func (g *Graph) checkTip(ledger *model.Ledger, rev, observed Revision, parent *model.VersionNode) error {
	if rev != observed {
		return status.ErrConflict.Detailf("ledger moved from %q to %q", observed, rev)
	}
	tip := ledger.Tip()
	switch {
	case tip == nil && parent == nil:
		return nil
	case tip == nil && !ledger.Chain().IsMain() && parent.Version.Branch == "":
		// fork of a branch chain from the main chain
		return nil
	case tip == nil:
		return status.ErrConflict.Detailf("chain is empty, parent %s is not a fork point", parent.Version)
	case parent == nil:
		return status.ErrConflict.Detailf("chain already started at %s", tip.Version)
	case tip.Version != parent.Version:
		return status.ErrConflict.Detailf("tip is %s, not %s", tip.Version, parent.Version)
	}
	return nil
}

func (g *Graph) conflict(op string, chain model.ChainID, err error) error {
	metrics.Conflicts.WithLabelValues(op).Inc()
	g.l.Debug("ledger conflict", zap.String("op", op), zap.Stringer("chain", chain), zap.Error(err))
	if !errors.Is(err, status.ErrConflict) {
		return status.ErrConflict.Detailf("%s", chain).Wrap(err)
	}
	return err
}

// update applies a read-modify-write change to a ledger, retrying on conflicts
func (g *Graph) update(ctx context.Context, chain model.ChainID, op string, change func(*model.Ledger) (bool, error)) error {
	var err error
	for attempt := 0; attempt < g.maxUpdates; attempt++ {
		var (
			ledger  *model.Ledger
			rev     Revision
			changed bool
		)
		ledger, rev, err = g.load(ctx, chain)
		if err != nil {
			return err
		}
		changed, err = change(ledger)
		if err != nil || !changed {
			return err
		}
		_, err = g.store(ctx, ledger, rev)
		if err == nil || !errors.Is(err, status.ErrConflict) {
			return err
		}
		err = g.conflict(op, chain, err)
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// RecordAdhoc records an adhoc node on a chain. Recording the same adhoc tag again is a no-op
// which returns the node recorded first.
func (g *Graph) RecordAdhoc(ctx context.Context, chain model.ChainID, node model.VersionNode) (model.VersionNode, error) {
	if !node.IsAdhoc() {
		return model.VersionNode{}, model.ErrInvalidVersion.Detailf("%s is not an adhoc node", node.Ref())
	}
	if node.ReleasedAt.IsZero() {
		node.ReleasedAt = g.now().UTC()
	}
	if node.Writer == "" {
		node.Writer = g.writer
	}
	recorded := node
	err := g.update(ctx, chain, "adhoc", func(ledger *model.Ledger) (bool, error) {
		if existing := ledger.Find(node.Ref()); existing != nil {
			recorded = *existing
			return false, nil
		}
		ledger.Adhoc = append(ledger.Adhoc, node)
		recorded = node
		return true, nil
	})
	if err != nil {
		return model.VersionNode{}, err
	}
	return recorded, nil
}

// RemoveAdhoc removes adhoc nodes from a chain and returns the ones removed. No tag removes them all.
func (g *Graph) RemoveAdhoc(ctx context.Context, chain model.ChainID, tags ...model.AdhocTag) ([]model.VersionNode, error) {
	selected := make(map[model.AdhocTag]bool, len(tags))
	for _, tag := range tags {
		selected[tag] = true
	}
	var removed []model.VersionNode
	err := g.update(ctx, chain, "remove", func(ledger *model.Ledger) (bool, error) {
		removed = removed[:0]
		kept := ledger.Adhoc[:0]
		for _, n := range ledger.Adhoc {
			if len(selected) == 0 || selected[n.Adhoc] {
				removed = append(removed, n)
				continue
			}
			kept = append(kept, n)
		}
		ledger.Adhoc = kept
		return len(removed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// RemoveReleased removes a released node from a chain. Released nodes are immutable: this requires force.
func (g *Graph) RemoveReleased(ctx context.Context, chain model.ChainID, version model.Version, force bool) (model.VersionNode, error) {
	if !force {
		return model.VersionNode{}, status.ErrReleased.Detailf("%s %s", chain, version)
	}
	var removed *model.VersionNode
	err := g.update(ctx, chain, "remove", func(ledger *model.Ledger) (bool, error) {
		removed = nil
		for i, n := range ledger.Nodes {
			if n.Version == version {
				node := n
				removed = &node
				ledger.Nodes = append(ledger.Nodes[:i], ledger.Nodes[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return model.VersionNode{}, err
	}
	if removed == nil {
		return model.VersionNode{}, status.ErrNotFound.Detailf("%s %s", chain, version)
	}
	g.l.Warn("released version removed", zap.Stringer("chain", chain), zap.Stringer("version", version))
	return *removed, nil
}

// NearestAncestor returns the newest released node matching a version prefix, walking the chain
// backward from its tip. A prefix qualified with a branch is looked up on that branch chain.
func (g *Graph) NearestAncestor(ctx context.Context, chain model.ChainID, prefix model.Prefix) (model.VersionNode, error) {
	if prefix.Branch != chain.Branch {
		chain = model.ChainID{Resource: chain.Resource, Branch: prefix.Branch}
	}
	ledger, _, err := g.load(ctx, chain)
	if err != nil {
		return model.VersionNode{}, err
	}
	for i := len(ledger.Nodes) - 1; i >= 0; i-- {
		if prefix.Matches(ledger.Nodes[i].Version) {
			return ledger.Nodes[i], nil
		}
	}
	return model.VersionNode{}, status.ErrNotFound.Detailf("no version matching %s on %s", prefix, chain)
}

// Chains lists the chains of a resource, the main chain first
func (g *Graph) Chains(ctx context.Context, id model.ResourceID) ([]model.ChainID, error) {
	tags, err := g.reg.ListTags(ctx)
	if err != nil {
		return nil, errors.New("listing chains").Detailf("%s", id).Wrap(err)
	}
	return ChainsFromTags(id, tags), nil
}

// ChainsFromTags extracts the chains of a resource from a tag listing, the main chain first
func ChainsFromTags(id model.ResourceID, tags []string) []model.ChainID {
	var chains []model.ChainID
	for _, tag := range tags {
		info, err := model.ParseTag(tag)
		if err != nil || info.Kind != model.TagLedger || info.Resource != id {
			continue
		}
		chains = append(chains, info.Chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].Branch < chains[j].Branch
	})
	return chains
}
