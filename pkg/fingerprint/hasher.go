// Copyright © 2018 One Concern

// Package fingerprint computes deterministic content identities.
//
// Each layer of a resource is canonicalized then hashed with blake2b-512,
// personalized per layer so that identical bytes in different layers never collide:
//
//   - the interface is parsed as a JSON or YAML document and re-encoded with deterministic CBOR
//   - the implementation is normalized as source text
//   - the state is hashed as a blake2b tree, leaves being hashed in parallel
package fingerprint

import (
	"encoding/hex"
	"strings"

	blake2b "github.com/minio/blake2b-simd"

	"github.com/oneconcern/keel/pkg/model"
)

var (
	personInterface = []byte("keel.interface")
	personImpl      = []byte("keel.impl")
	personState     = []byte("keel.state")
	personAdhoc     = []byte("keel.adhoc")
)

// HasherOption configures a Hasher
type HasherOption func(*Hasher)

// WithMaker sets the tree hash maker used for the state layer
func WithMaker(m *Maker) HasherOption {
	return func(h *Hasher) {
		if m != nil {
			h.maker = m
		}
	}
}

// StructuredState tells the hasher that state layers are structured documents,
// to be canonicalized before hashing
func StructuredState(enabled bool) HasherOption {
	return func(h *Hasher) {
		h.structuredState = enabled
	}
}

// Hasher computes fingerprints
type Hasher struct {
	maker           *Maker
	structuredState bool
}

// NewHasher builds a fingerprint hasher
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{maker: New()}
	for _, apply := range opts {
		apply(h)
	}
	return h
}

// Fingerprint the layers of a resource
func (h *Hasher) Fingerprint(layers model.Layers) (model.Fingerprint, error) {
	iface, err := h.InterfaceHash(layers.Interface)
	if err != nil {
		return model.Fingerprint{}, err
	}
	state, err := h.StateHash(layers.State)
	if err != nil {
		return model.Fingerprint{}, err
	}
	return model.Fingerprint{
		Interface: iface,
		Impl:      h.ImplHash(layers.Implementation),
		State:     state,
	}, nil
}

// InterfaceHash hashes an interface description
func (h *Hasher) InterfaceHash(doc []byte) (model.Hash, error) {
	canonical, err := CanonicalDocument(doc)
	if err != nil {
		return "", ErrCanonical.Detailf("interface").Wrap(err)
	}
	return sum(personInterface, canonical)
}

// ImplHash hashes implementation source text
func (h *Hasher) ImplHash(source []byte) model.Hash {
	hash, _ := sum(personImpl, NormalizeText(source))
	return hash
}

// StateHash hashes a state snapshot
func (h *Hasher) StateHash(state []byte) (model.Hash, error) {
	if h.structuredState {
		canonical, err := CanonicalDocument(state)
		if err != nil {
			return "", ErrCanonical.Detailf("state").Wrap(err)
		}
		state = canonical
	}
	root, err := h.maker.Process(state)
	if err != nil {
		return "", ErrHash.Detailf("state").Wrap(err)
	}
	return sum(personState, root)
}

func sum(person, data []byte) (model.Hash, error) {
	b, err := blake2b.New(&blake2b.Config{Size: blake2b.Size, Person: person})
	if err != nil {
		return "", ErrHash.Wrap(err)
	}
	_, _ = b.Write(data)
	return model.Hash(hex.EncodeToString(b.Sum(nil))), nil
}

// AdhocTag derives the adhoc tag of a version from the source revision and the fingerprint:
// <commit7>[-<dirty7>]-<fingerprint7>
func AdhocTag(rev model.Revision, fp model.Fingerprint) model.AdhocTag {
	h, _ := sum(personAdhoc, []byte(strings.Join([]string{
		rev.Commit, rev.Dirty, fp.Interface.String(), fp.Impl.String(), fp.State.String(),
	}, "\n")))
	return model.AdhocTag(rev.Short() + "-" + h.Short())
}
