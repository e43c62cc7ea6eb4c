// Copyright © 2018 One Concern

package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// BumpKind tells which component of a version is incremented
type BumpKind int

// Supported bumps, by increasing order of magnitude
const (
	BumpNone BumpKind = iota
	BumpPatch
	BumpMinor
	BumpMajor
)

var bumpNames = map[BumpKind]string{
	BumpNone:  "none",
	BumpPatch: "patch",
	BumpMinor: "minor",
	BumpMajor: "major",
}

func (b BumpKind) String() string {
	if s, ok := bumpNames[b]; ok {
		return s
	}
	return "bump(" + strconv.Itoa(int(b)) + ")"
}

// MarshalText implements encoding.TextMarshaler
func (b BumpKind) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *BumpKind) UnmarshalText(data []byte) error {
	for k, s := range bumpNames {
		if s == string(data) {
			*b = k
			return nil
		}
	}
	return ErrInvalidVersion.Detailf("unknown bump %q", string(data))
}

// MarshalYAML implements yaml.Marshaler
func (b BumpKind) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (b *BumpKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return b.UnmarshalText([]byte(s))
}

// Version is a released semantic version, optionally qualified by a sanitized branch name.
//
// Versions render as v<major>.<minor>.<patch>[-<branch>].
type Version struct {
	Major  uint64
	Minor  uint64
	Patch  uint64
	Branch string
}

// FirstVersion is the version given to the first release on an empty chain
func FirstVersion(branch string) Version {
	return Version{Major: 1, Branch: SanitizeBranch(branch)}
}

// ParseVersion parses a version such as v1.2.3 or v1.2.3-feature-x. The leading "v" is optional.
func ParseVersion(raw string) (Version, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	sv, err := mm.StrictNewVersion(s)
	if err != nil {
		return Version{}, ErrInvalidVersion.Detailf("%q", raw).Wrap(err)
	}
	if sv.Metadata() != "" {
		return Version{}, ErrInvalidVersion.Detailf("%q: build metadata is not supported", raw)
	}
	branch := sv.Prerelease()
	if branch != SanitizeBranch(branch) {
		return Version{}, ErrInvalidVersion.Detailf("%q: branch qualifier %q is not sanitized", raw, branch)
	}
	return Version{Major: sv.Major(), Minor: sv.Minor(), Patch: sv.Patch(), Branch: branch}, nil
}

// MustParseVersion parses a version or panics
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	s := fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Branch != "" {
		s += "-" + v.Branch
	}
	return s
}

// IsZero is true for the unset version
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or 1 when v is lower, equal or greater than o.
//
// Numeric components are compared first. For equal numbers, the unqualified version comes first,
// then branch qualifiers are ordered lexically.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpUint(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpUint(v.Minor, o.Minor)
	case v.Patch != o.Patch:
		return cmpUint(v.Patch, o.Patch)
	case v.Branch == o.Branch:
		return 0
	case v.Branch == "":
		return -1
	case o.Branch == "":
		return 1
	case v.Branch < o.Branch:
		return -1
	default:
		return 1
	}
}

// Less is a shorthand for v.Compare(o) < 0
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	return 1
}

// Bump the version. The branch qualifier is retained.
func (v Version) Bump(kind BumpKind) Version {
	switch kind {
	case BumpMajor:
		return Version{Major: v.Major + 1, Branch: v.Branch}
	case BumpMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1, Branch: v.Branch}
	case BumpPatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1, Branch: v.Branch}
	default:
		return v
	}
}

// OnBranch returns the same version numbers, qualified for another branch
func (v Version) OnBranch(branch string) Version {
	v.Branch = SanitizeBranch(branch)
	return v
}

// Semver converts this version to a semver version, the branch being rendered as a prerelease
func (v Version) Semver() *mm.Version {
	return mm.New(v.Major, v.Minor, v.Patch, v.Branch, "")
}

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(data []byte) error {
	p, err := ParseVersion(string(data))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (v Version) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (v *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return v.UnmarshalText([]byte(s))
}

// Prefix is a partial version, such as v1 or v1.2, optionally qualified by a branch
type Prefix struct {
	parts  []uint64
	Branch string
}

// ParsePrefix parses a partial version: v1, v1.2, v1.2.3, optionally followed by -<branch>
func ParsePrefix(raw string) (Prefix, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	var p Prefix
	if i := strings.IndexByte(s, '-'); i >= 0 {
		p.Branch = s[i+1:]
		s = s[:i]
		if p.Branch == "" || p.Branch != SanitizeBranch(p.Branch) {
			return Prefix{}, ErrInvalidVersion.Detailf("%q: invalid branch qualifier", raw)
		}
	}
	fields := strings.Split(s, ".")
	if len(fields) > 3 {
		return Prefix{}, ErrInvalidVersion.Detailf("%q: too many components", raw)
	}
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil || (len(f) > 1 && f[0] == '0') {
			return Prefix{}, ErrInvalidVersion.Detailf("%q: component %q is not a number", raw, f)
		}
		p.parts = append(p.parts, n)
	}
	return p, nil
}

// Len is the number of version components in this prefix
func (p Prefix) Len() int {
	return len(p.parts)
}

// Exact returns the full version when the prefix specifies all components
func (p Prefix) Exact() (Version, bool) {
	if len(p.parts) != 3 {
		return Version{}, false
	}
	return Version{Major: p.parts[0], Minor: p.parts[1], Patch: p.parts[2], Branch: p.Branch}, true
}

// Matches a version with the same leading components. When the prefix carries a branch, the
// version must be on that branch.
func (p Prefix) Matches(v Version) bool {
	nums := [3]uint64{v.Major, v.Minor, v.Patch}
	for i, n := range p.parts {
		if nums[i] != n {
			return false
		}
	}
	return p.Branch == "" || p.Branch == v.Branch
}

func (p Prefix) String() string {
	s := make([]string, 0, len(p.parts))
	for _, n := range p.parts {
		s = append(s, strconv.FormatUint(n, 10))
	}
	r := "v" + strings.Join(s, ".")
	if p.Branch != "" {
		r += "-" + p.Branch
	}
	return r
}

// SortVersions sorts versions in ascending order
func SortVersions(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })
}

// SortVersionsDesc sorts versions from the newest to the oldest
func SortVersionsDesc(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return versions[j].Less(versions[i]) })
}
