// Copyright © 2018 One Concern

package model

import (
	"regexp"
	"strings"
)

// NoRevision stands for the source revision when none is known
const NoRevision = "0000000"

var adhocRe = regexp.MustCompile(`^[0-9a-f]{7}(-[0-9a-f]{7}){1,2}$`)

// AdhocTag identifies an unreleased version, e.g. 1a2b3c4-5d6e7f8 or 1a2b3c4-9e8d7c6-5d6e7f8.
//
// It is made of the short source revision, the short hash of uncommitted changes when the working
// tree is dirty, and the short hash of the fingerprint.
type AdhocTag string

// ParseAdhocTag validates an adhoc tag
func ParseAdhocTag(s string) (AdhocTag, error) {
	if !IsAdhocTag(s) {
		return "", ErrInvalidVersion.Detailf("%q is not an adhoc tag", s)
	}
	return AdhocTag(s), nil
}

// IsAdhocTag tells if a string is shaped like an adhoc tag
func IsAdhocTag(s string) bool {
	return adhocRe.MatchString(s)
}

func (a AdhocTag) String() string {
	return string(a)
}

// Revision is the source control revision a version is built from
type Revision struct {
	// Commit is the hash of the current commit
	Commit string
	// Dirty is a hash of uncommitted changes, empty for a clean working tree
	Dirty string
}

// IsDirty is true when the working tree carries uncommitted changes
func (r Revision) IsDirty() bool {
	return r.Dirty != ""
}

// Short renders the revision as <commit7>[-<dirty7>]
func (r Revision) Short() string {
	c := shortHex(r.Commit)
	if c == "" {
		c = NoRevision
	}
	if d := shortHex(r.Dirty); d != "" {
		return c + "-" + d
	}
	return c
}

func shortHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > ShortHashLen {
		return s[:ShortHashLen]
	}
	return s
}

// VersionRef designates either a released version or an adhoc tag
type VersionRef struct {
	Version Version
	Adhoc   AdhocTag
}

// ReleasedRef refers to a released version
func ReleasedRef(v Version) VersionRef {
	return VersionRef{Version: v}
}

// AdhocRef refers to an adhoc tag
func AdhocRef(a AdhocTag) VersionRef {
	return VersionRef{Adhoc: a}
}

// ParseVersionRef parses either an exact version or an adhoc tag
func ParseVersionRef(s string) (VersionRef, error) {
	if IsAdhocTag(s) {
		return AdhocRef(AdhocTag(s)), nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return VersionRef{}, err
	}
	return ReleasedRef(v), nil
}

// IsAdhoc is true for a reference to an adhoc tag
func (r VersionRef) IsAdhoc() bool {
	return r.Adhoc != ""
}

// IsZero is true for an empty reference
func (r VersionRef) IsZero() bool {
	return r.Adhoc == "" && r.Version.IsZero()
}

func (r VersionRef) String() string {
	if r.IsAdhoc() {
		return r.Adhoc.String()
	}
	return r.Version.String()
}
