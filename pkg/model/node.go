// Copyright © 2018 One Concern

package model

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// VersionNode is an entry in a chain: a released version, or an adhoc one.
type VersionNode struct {
	Version     Version       `json:"version,omitempty" yaml:"version,omitempty"`
	Adhoc       AdhocTag      `json:"adhoc,omitempty" yaml:"adhoc,omitempty"`
	Fingerprint Fingerprint   `json:"fingerprint" yaml:"fingerprint"`
	Parent      *Version      `json:"parent,omitempty" yaml:"parent,omitempty"`
	Bump        BumpKind      `json:"bump,omitempty" yaml:"bump,omitempty"`
	ReleasedAt  time.Time     `json:"released_at" yaml:"released_at"`
	Manifest    digest.Digest `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Writer      string        `json:"writer,omitempty" yaml:"writer,omitempty"`
}

// IsAdhoc is true for an unreleased node
func (n VersionNode) IsAdhoc() bool {
	return n.Adhoc != ""
}

// Ref returns the version reference of this node
func (n VersionNode) Ref() VersionRef {
	if n.IsAdhoc() {
		return AdhocRef(n.Adhoc)
	}
	return ReleasedRef(n.Version)
}

// Ledger is the persisted history of a chain. Released nodes are ordered from the oldest to the newest.
type Ledger struct {
	Resource  ResourceID    `json:"resource" yaml:"resource"`
	Branch    string        `json:"branch,omitempty" yaml:"branch,omitempty"`
	Nodes     []VersionNode `json:"nodes" yaml:"nodes"`
	Adhoc     []VersionNode `json:"adhoc,omitempty" yaml:"adhoc,omitempty"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"updated_at"`
}

// NewLedger creates an empty ledger for a chain
func NewLedger(chain ChainID) *Ledger {
	return &Ledger{Resource: chain.Resource, Branch: chain.Branch}
}

// Chain this ledger belongs to
func (l *Ledger) Chain() ChainID {
	return ChainID{Resource: l.Resource, Branch: l.Branch}
}

// Tip returns the newest released node, or nil on an empty chain
func (l *Ledger) Tip() *VersionNode {
	if len(l.Nodes) == 0 {
		return nil
	}
	n := l.Nodes[len(l.Nodes)-1]
	return &n
}

// FindFingerprint returns the released node with this fingerprint, or nil
func (l *Ledger) FindFingerprint(fp Fingerprint) *VersionNode {
	for i := len(l.Nodes) - 1; i >= 0; i-- {
		if l.Nodes[i].Fingerprint.Equal(fp) {
			n := l.Nodes[i]
			return &n
		}
	}
	return nil
}

// FindAdhocFingerprint returns the adhoc node with this fingerprint, or nil
func (l *Ledger) FindAdhocFingerprint(fp Fingerprint) *VersionNode {
	for i := range l.Adhoc {
		if l.Adhoc[i].Fingerprint.Equal(fp) {
			n := l.Adhoc[i]
			return &n
		}
	}
	return nil
}

// Find returns the node for a version reference, or nil
func (l *Ledger) Find(ref VersionRef) *VersionNode {
	if ref.IsAdhoc() {
		for i := range l.Adhoc {
			if l.Adhoc[i].Adhoc == ref.Adhoc {
				n := l.Adhoc[i]
				return &n
			}
		}
		return nil
	}
	for i := range l.Nodes {
		if l.Nodes[i].Version == ref.Version {
			n := l.Nodes[i]
			return &n
		}
	}
	return nil
}

// Clone returns a deep copy of the ledger
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Nodes = append([]VersionNode(nil), l.Nodes...)
	c.Adhoc = append([]VersionNode(nil), l.Adhoc...)
	return &c
}
