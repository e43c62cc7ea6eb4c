// Copyright © 2018 One Concern

package model

import (
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Annotations carried by version manifests, in addition to the standard OCI ones
const (
	AnnotationKind         = "org.keel.resource.kind"
	AnnotationName         = "org.keel.resource.name"
	AnnotationVersion      = "org.keel.version"
	AnnotationBranch       = "org.keel.version.branch"
	AnnotationAdhoc        = "org.keel.version.adhoc"
	AnnotationInterface    = "org.keel.fingerprint.interface"
	AnnotationImpl         = "org.keel.fingerprint.impl"
	AnnotationState        = "org.keel.fingerprint.state"
	AnnotationMediaKind    = "org.keel.media.kind"
	AnnotationUncompressed = "org.keel.media.uncompressed"
)

// ArtifactKey identifies a blob published for a version
type ArtifactKey struct {
	Resource ResourceID
	Version  VersionRef
	Media    MediaKind
}

func (k ArtifactKey) String() string {
	return VersionTag(k.Resource, k.Version) + "/" + string(k.Media)
}

// RemoteRef locates a pushed blob in the registry
type RemoteRef struct {
	Key        ArtifactKey
	Descriptor ocispec.Descriptor
}

// Digest of the pushed blob
func (r RemoteRef) Digest() digest.Digest {
	return r.Descriptor.Digest
}

// Artifact is a blob retrieved from the registry, with its uncompressed payload
type Artifact struct {
	Key         ArtifactKey
	Digest      digest.Digest
	Media       MediaKind
	Payload     []byte
	Annotations map[string]string
}
