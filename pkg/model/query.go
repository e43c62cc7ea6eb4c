// Copyright © 2018 One Concern

package model

import (
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// QueryKind tells how a version query selects versions
type QueryKind int

// Kinds of version queries
const (
	// QueryLatest selects the newest released version
	QueryLatest QueryKind = iota
	// QueryPrefix selects the newest released version matching a partial version, e.g. v1 or v1.2
	QueryPrefix
	// QueryExact selects an exact released version
	QueryExact
	// QueryAdhoc selects an adhoc version
	QueryAdhoc
	// QueryConstraint selects the newest released version satisfying a semver constraint, e.g. ^1.2
	QueryConstraint
)

// LatestQuery is the query string for the newest released version
const LatestQuery = "latest"

// Query is a parsed version query
type Query struct {
	Kind       QueryKind
	Raw        string
	Prefix     Prefix
	Exact      Version
	Adhoc      AdhocTag
	constraint *mm.Constraints
}

// ParseQuery parses a version query: "latest" (or empty), an adhoc tag, a partial or exact version,
// or a semver constraint such as "^1.2" or ">=1.0.0 <2.0.0".
func ParseQuery(raw string) (Query, error) {
	s := strings.TrimSpace(raw)
	q := Query{Raw: s}
	switch {
	case s == "" || strings.EqualFold(s, LatestQuery):
		q.Kind = QueryLatest
		q.Raw = LatestQuery
		return q, nil
	case IsAdhocTag(s):
		q.Kind = QueryAdhoc
		q.Adhoc = AdhocTag(s)
		return q, nil
	}

	if p, err := ParsePrefix(s); err == nil {
		if v, ok := p.Exact(); ok {
			q.Kind = QueryExact
			q.Exact = v
			return q, nil
		}
		q.Kind = QueryPrefix
		q.Prefix = p
		return q, nil
	}

	c, err := mm.NewConstraint(s)
	if err != nil {
		return Query{}, ErrInvalidVersion.Detailf("query %q", raw).Wrap(err)
	}
	q.Kind = QueryConstraint
	q.constraint = c
	return q, nil
}

// Matches tells if a released version satisfies the query
func (q Query) Matches(v Version) bool {
	switch q.Kind {
	case QueryLatest:
		return true
	case QueryPrefix:
		return q.Prefix.Matches(v)
	case QueryExact:
		return q.Exact == v
	case QueryConstraint:
		return q.constraint.Check(v.Semver())
	default:
		return false
	}
}

func (q Query) String() string {
	return q.Raw
}
