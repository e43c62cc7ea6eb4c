// Copyright © 2018 One Concern

package model

import (
	"sort"
	"strings"
)

// MediaKind designates the content of a published blob
type MediaKind string

// Media kinds published for a version
const (
	MediaInterface MediaKind = "interface"
	MediaImpl      MediaKind = "impl"
	MediaState     MediaKind = "state"
	MediaPackage   MediaKind = "pkg"
	MediaClient    MediaKind = "client"
	MediaServer    MediaKind = "server"
)

const mediaTypePrefix = "application/vnd.keel."

// Media types of the manifests and configs written by keel
const (
	// ArtifactType is the artifact type of a version manifest
	ArtifactType = mediaTypePrefix + "artifact.v1"

	// LedgerArtifactType is the artifact type of a chain ledger manifest
	LedgerArtifactType = mediaTypePrefix + "ledger.v1"

	// LedgerMediaType is the media type of a chain ledger document
	LedgerMediaType = mediaTypePrefix + "ledger.v1+yaml"
)

var mediaKinds = []MediaKind{MediaInterface, MediaImpl, MediaState, MediaPackage, MediaClient, MediaServer}

// MediaKinds lists all media kinds
func MediaKinds() []MediaKind {
	m := make([]MediaKind, len(mediaKinds))
	copy(m, mediaKinds)
	return m
}

// ParseMediaKind validates a media kind
func ParseMediaKind(s string) (MediaKind, error) {
	for _, m := range mediaKinds {
		if string(m) == s {
			return m, nil
		}
	}
	return "", ErrInvalidReference.Detailf("unknown media kind %q", s)
}

// Compressed tells if blobs of this kind are stored compressed with zstd
func (m MediaKind) Compressed() bool {
	return m == MediaPackage
}

// MediaType is the OCI media type of blobs of this kind
func (m MediaKind) MediaType() string {
	if m.Compressed() {
		return mediaTypePrefix + string(m) + ".v1.tar+zstd"
	}
	return mediaTypePrefix + string(m) + ".v1"
}

// MediaKindFromType returns the media kind of an OCI media type
func MediaKindFromType(mediaType string) (MediaKind, bool) {
	if !strings.HasPrefix(mediaType, mediaTypePrefix) {
		return "", false
	}
	for _, m := range mediaKinds {
		if m.MediaType() == mediaType {
			return m, true
		}
	}
	return "", false
}

// SortedMediaKinds returns the keys of a bundle map in a stable order
func SortedMediaKinds(bundles map[MediaKind][]byte) []MediaKind {
	keys := make([]MediaKind, 0, len(bundles))
	for k := range bundles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
