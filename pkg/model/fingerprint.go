// Copyright © 2018 One Concern

package model

import "strings"

// ShortHashLen is the length of the short form of a hash, as used in tags
const ShortHashLen = 7

// Hash is a hex-encoded content hash
type Hash string

func (h Hash) String() string {
	return string(h)
}

// Short returns the first 7 hex characters of the hash
func (h Hash) Short() string {
	if len(h) <= ShortHashLen {
		return string(h)
	}
	return string(h[:ShortHashLen])
}

// Layer designates one of the fingerprinted layers of a resource
type Layer int

// Layers, by increasing order of significance
const (
	LayerNone Layer = iota
	LayerState
	LayerImpl
	LayerInterface
)

func (l Layer) String() string {
	switch l {
	case LayerState:
		return "state"
	case LayerImpl:
		return "implementation"
	case LayerInterface:
		return "interface"
	default:
		return "none"
	}
}

// Fingerprint is the content identity of a resource: one hash per layer.
//
// Two fingerprints are equal if and only if all three hashes are equal.
type Fingerprint struct {
	Interface Hash `json:"interface" yaml:"interface"`
	Impl      Hash `json:"impl" yaml:"impl"`
	State     Hash `json:"state" yaml:"state"`
}

// Equal fingerprints
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f == o
}

// IsZero is true for an unset fingerprint
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Changed returns the most significant layer that differs from another fingerprint
func (f Fingerprint) Changed(o Fingerprint) Layer {
	switch {
	case f.Interface != o.Interface:
		return LayerInterface
	case f.Impl != o.Impl:
		return LayerImpl
	case f.State != o.State:
		return LayerState
	default:
		return LayerNone
	}
}

// String renders the short form of each hash
func (f Fingerprint) String() string {
	return strings.Join([]string{f.Interface.Short(), f.Impl.Short(), f.State.Short()}, "-")
}

// Layers are the inputs to fingerprinting and publication, as produced by code generation.
//
// Bundles hold extra payloads (package bundle, generated client and server code) which are
// published along with the version but do not contribute to the fingerprint.
type Layers struct {
	Interface      []byte
	Implementation []byte
	State          []byte
	Bundles        map[MediaKind][]byte
}
