// Copyright © 2018 One Concern

package model

import (
	"regexp"
	"sort"
	"strings"
)

// Kind of resource
type Kind string

// Supported kinds of resources
const (
	KindObject  Kind = "obj"
	KindPackage Kind = "pkg"
	KindEnv     Kind = "env"
	KindFunc    Kind = "fn"
)

var (
	kinds  = []Kind{KindEnv, KindFunc, KindObject, KindPackage}
	nameRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

// Kinds lists all supported kinds, in lexical order
func Kinds() []Kind {
	k := make([]Kind, len(kinds))
	copy(k, kinds)
	return k
}

// ParseKind validates a kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrInvalidResource.Detailf("unknown kind %q, expected one of %v", s, kinds)
}

// ResourceID identifies a resource by kind and name, e.g. obj.ham
type ResourceID struct {
	Kind Kind
	Name string
}

// NewResourceID builds a validated resource identifier
func NewResourceID(kind Kind, name string) (ResourceID, error) {
	id := ResourceID{Kind: kind, Name: name}
	return id, id.Validate()
}

// ParseResourceID parses a resource identifier such as "obj.ham"
func ParseResourceID(s string) (ResourceID, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return ResourceID{}, ErrInvalidResource.Detailf("%q: expected <kind>.<name>", s)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return ResourceID{}, err
	}
	return NewResourceID(kind, parts[1])
}

// MustParseResourceID parses a resource identifier or panics
func MustParseResourceID(s string) ResourceID {
	id, err := ParseResourceID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate the kind and name of this resource
func (r ResourceID) Validate() error {
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	if !nameRe.MatchString(r.Name) {
		return ErrInvalidResource.Detailf("name %q must match %s", r.Name, nameRe.String())
	}
	return nil
}

// IsZero is true for the empty identifier
func (r ResourceID) IsZero() bool {
	return r.Kind == "" && r.Name == ""
}

func (r ResourceID) String() string {
	return string(r.Kind) + "." + r.Name
}

// Less orders resources by kind, then name
func (r ResourceID) Less(o ResourceID) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.Name < o.Name
}

// MarshalText renders the identifier as <kind>.<name>
func (r ResourceID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses an identifier rendered as <kind>.<name>
func (r *ResourceID) UnmarshalText(data []byte) error {
	id, err := ParseResourceID(string(data))
	if err != nil {
		return err
	}
	*r = id
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (r ResourceID) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (r *ResourceID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// SortResourceIDs sorts identifiers by kind, then name
func SortResourceIDs(ids []ResourceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// ChainID identifies a chain of versions: the main line of a resource, or one of its branches
type ChainID struct {
	Resource ResourceID
	Branch   string
}

// MainChain returns the main line of a resource
func MainChain(id ResourceID) ChainID {
	return ChainID{Resource: id}
}

// BranchChain returns the chain for a branch of a resource. The branch name is sanitized.
func BranchChain(id ResourceID, branch string) ChainID {
	return ChainID{Resource: id, Branch: SanitizeBranch(branch)}
}

// IsMain is true for the main line
func (c ChainID) IsMain() bool {
	return c.Branch == ""
}

// Main returns the main line of the same resource
func (c ChainID) Main() ChainID {
	return MainChain(c.Resource)
}

func (c ChainID) String() string {
	if c.IsMain() {
		return c.Resource.String()
	}
	return c.Resource.String() + "@" + c.Branch
}

// SanitizeBranch turns a source control branch name into a valid version qualifier:
// lower case alphanumerical characters separated by single dashes. A purely numerical
// name is prefixed with "b", so it is never mistaken for a version component.
func SanitizeBranch(branch string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(branch) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	s := b.String()
	if s == "" {
		return s
	}
	if strings.Trim(s, "0123456789") == "" {
		return "b" + s
	}
	return s
}

// Resource describes a resource stored at some location, with its chains
type Resource struct {
	ID       ResourceID
	Location string
	Chains   []ChainID
}

// ResourceSummary is the catalogue entry for a resource
type ResourceSummary struct {
	ID       ResourceID `json:"id" yaml:"id"`
	Location string     `json:"location" yaml:"location"`
	Latest   *Version   `json:"latest,omitempty" yaml:"latest,omitempty"`
	Releases int        `json:"releases" yaml:"releases"`
	Adhoc    int        `json:"adhoc" yaml:"adhoc"`
	Branches []string   `json:"branches,omitempty" yaml:"branches,omitempty"`
}
