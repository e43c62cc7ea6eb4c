// Copyright © 2018 One Concern

package model

import (
	"strings"
)

const ociScheme = "oci://"

// Reference designates a resource version at some remote location:
//
//	<remote-location>:<kind>.<name>[.<version-or-adhoc-tag-or-query>]
//
// e.g. acme.org/ml-project:obj.ham.v1.2.3. When the selector is omitted, the reference designates the latest release.
type Reference struct {
	Location string
	Resource ResourceID
	Selector string
}

// ParseReference parses a resource reference. An oci:// scheme prefix is accepted.
func ParseReference(raw string) (Reference, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), ociScheme)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i < strings.LastIndexByte(s, '/') || i == len(s)-1 {
		return Reference{}, ErrInvalidReference.Detailf("%q: expected <location>:<kind>.<name>[.<version>]", raw)
	}
	location, tag := s[:i], s[i+1:]

	parts := strings.SplitN(tag, ".", 3)
	if len(parts) < 2 {
		return Reference{}, ErrInvalidReference.Detailf("%q: expected <kind>.<name> after the location", raw)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Reference{}, ErrInvalidReference.Detailf("%q", raw).Wrap(err)
	}
	id, err := NewResourceID(kind, parts[1])
	if err != nil {
		return Reference{}, ErrInvalidReference.Detailf("%q", raw).Wrap(err)
	}
	ref := Reference{Location: location, Resource: id}
	if len(parts) == 3 {
		if _, err := ParseQuery(parts[2]); err != nil {
			return Reference{}, ErrInvalidReference.Detailf("%q", raw).Wrap(err)
		}
		ref.Selector = parts[2]
	}
	return ref, nil
}

// MustParseReference parses a reference or panics
func MustParseReference(raw string) Reference {
	r, err := ParseReference(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// NewReference builds a reference to an exact version
func NewReference(location string, id ResourceID, ref VersionRef) Reference {
	r := Reference{Location: strings.TrimPrefix(location, ociScheme), Resource: id}
	if !ref.IsZero() {
		r.Selector = ref.String()
	}
	return r
}

// Query returns the version query held by this reference
func (r Reference) Query() (Query, error) {
	return ParseQuery(r.Selector)
}

// VersionRef returns the exact version designated by this reference, if any
func (r Reference) VersionRef() (VersionRef, bool) {
	q, err := r.Query()
	if err != nil {
		return VersionRef{}, false
	}
	switch q.Kind {
	case QueryExact:
		return ReleasedRef(q.Exact), true
	case QueryAdhoc:
		return AdhocRef(q.Adhoc), true
	default:
		return VersionRef{}, false
	}
}

func (r Reference) String() string {
	s := r.Location + ":" + r.Resource.String()
	if r.Selector != "" {
		s += "." + r.Selector
	}
	return s
}
