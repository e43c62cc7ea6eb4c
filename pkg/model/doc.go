// Copyright © 2018 One Concern

// Package model describes the base objects manipulated by keel.
//
// The object model for keel is composed of:
//
//  Resources:
//    A resource is a named object definition of some kind (obj, pkg, env, fn), e.g. obj.ham.
//    Resources are stored at some remote location, an OCI registry repository.
//
//  Fingerprints:
//    A fingerprint identifies the content of a resource with three hashes:
//    one for its interface, one for its implementation and one for its state.
//
//  Versions:
//    A released version is a semantic version derived from the changes in the fingerprint.
//    An adhoc version is a tag derived from the source revision and the fingerprint: it is never released.
//
//  Chains:
//    A chain is the ordered history of released versions of a resource, on the main line or on a branch.
//    Chains are persisted as ledgers.
//
//  Artifacts:
//    An artifact is an immutable blob (interface, state, package bundle, generated code) pushed for a version.
package model
