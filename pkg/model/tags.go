// Copyright © 2018 One Concern

package model

import "strings"

const ledgerMarker = "_ledger"

// TagKind classifies the tags written to a registry
type TagKind int

// Kinds of tags
const (
	TagVersion TagKind = iota
	TagAdhoc
	TagLedger
)

// TagInfo is the parsed form of a registry tag
type TagInfo struct {
	Kind     TagKind
	Resource ResourceID
	Ref      VersionRef
	Chain    ChainID
}

// VersionTag is the registry tag of a version, e.g. obj.ham.v1.2.3
func VersionTag(id ResourceID, ref VersionRef) string {
	return id.String() + "." + ref.String()
}

// LedgerTag is the registry tag of the ledger of a chain, e.g. obj.ham._ledger or obj.ham._ledger.feature-x
func LedgerTag(chain ChainID) string {
	t := chain.Resource.String() + "." + ledgerMarker
	if !chain.IsMain() {
		t += "." + chain.Branch
	}
	return t
}

// ParseTag classifies a registry tag
func ParseTag(tag string) (TagInfo, error) {
	parts := strings.SplitN(tag, ".", 3)
	if len(parts) != 3 {
		return TagInfo{}, ErrInvalidTag.Detailf("%q", tag)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return TagInfo{}, ErrInvalidTag.Detailf("%q", tag).Wrap(err)
	}
	id, err := NewResourceID(kind, parts[1])
	if err != nil {
		return TagInfo{}, ErrInvalidTag.Detailf("%q", tag).Wrap(err)
	}
	rest := parts[2]

	if rest == ledgerMarker {
		return TagInfo{Kind: TagLedger, Resource: id, Chain: MainChain(id)}, nil
	}
	if strings.HasPrefix(rest, ledgerMarker+".") {
		branch := strings.TrimPrefix(rest, ledgerMarker+".")
		if branch == "" || SanitizeBranch(branch) != branch {
			return TagInfo{}, ErrInvalidTag.Detailf("%q: invalid branch", tag)
		}
		return TagInfo{Kind: TagLedger, Resource: id, Chain: ChainID{Resource: id, Branch: branch}}, nil
	}

	if IsAdhocTag(rest) {
		return TagInfo{Kind: TagAdhoc, Resource: id, Ref: AdhocRef(AdhocTag(rest)), Chain: MainChain(id)}, nil
	}
	v, err := ParseVersion(rest)
	if err != nil {
		return TagInfo{}, ErrInvalidTag.Detailf("%q", tag).Wrap(err)
	}
	return TagInfo{Kind: TagVersion, Resource: id, Ref: ReleasedRef(v), Chain: ChainID{Resource: id, Branch: v.Branch}}, nil
}
