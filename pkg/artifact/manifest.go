// Copyright © 2018 One Concern

package artifact

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest of a sealed version
type Manifest struct {
	ocispec.Manifest

	Descriptor ocispec.Descriptor `json:"-"`
	Raw        []byte             `json:"-"`

	Resource model.ResourceID `json:"-"`
	Ref      model.VersionRef `json:"-"`
}

// Tag of the version this manifest seals
func (m *Manifest) Tag() string {
	return model.VersionTag(m.Resource, m.Ref)
}

// Layer returns the reference to the blob of some media kind
func (m *Manifest) Layer(media model.MediaKind) (model.RemoteRef, bool) {
	for _, layer := range m.Layers {
		kind, ok := model.MediaKindFromType(layer.MediaType)
		if !ok || kind != media {
			continue
		}
		return model.RemoteRef{
			Key:        model.ArtifactKey{Resource: m.Resource, Version: m.Ref, Media: kind},
			Descriptor: layer,
		}, true
	}
	return model.RemoteRef{}, false
}

// MediaKinds published for this version
func (m *Manifest) MediaKinds() []model.MediaKind {
	kinds := make([]model.MediaKind, 0, len(m.Layers))
	for _, layer := range m.Layers {
		if kind, ok := model.MediaKindFromType(layer.MediaType); ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Fingerprint recorded in the manifest annotations
func (m *Manifest) Fingerprint() model.Fingerprint {
	return model.Fingerprint{
		Interface: model.Hash(m.Annotations[model.AnnotationInterface]),
		Impl:      model.Hash(m.Annotations[model.AnnotationImpl]),
		State:     model.Hash(m.Annotations[model.AnnotationState]),
	}
}

// Created is the time the version was sealed
func (m *Manifest) Created() time.Time {
	t, _ := time.Parse(time.RFC3339, m.Annotations[ocispec.AnnotationCreated])
	return t
}

// Size is the total size of the blobs in the version
func (m *Manifest) Size() int64 {
	var sz int64
	for _, layer := range m.Layers {
		sz += layer.Size
	}
	return sz
}

func newManifest(node model.VersionNode, id model.ResourceID, blobs []model.RemoteRef, labels map[string]string) (*Manifest, error) {
	ref := node.Ref()
	annotations := make(map[string]string, len(labels)+10)
	for k, v := range labels {
		annotations[k] = v
	}
	created := node.ReleasedAt
	if created.IsZero() {
		created = time.Now()
	}
	annotations[model.AnnotationKind] = string(id.Kind)
	annotations[model.AnnotationName] = id.Name
	annotations[model.AnnotationInterface] = node.Fingerprint.Interface.String()
	annotations[model.AnnotationImpl] = node.Fingerprint.Impl.String()
	annotations[model.AnnotationState] = node.Fingerprint.State.String()
	annotations[ocispec.AnnotationCreated] = created.UTC().Format(time.RFC3339)
	annotations[ocispec.AnnotationTitle] = model.VersionTag(id, ref)
	if ref.IsAdhoc() {
		annotations[model.AnnotationAdhoc] = ref.Adhoc.String()
	} else {
		annotations[model.AnnotationVersion] = ref.Version.String()
		annotations[ocispec.AnnotationVersion] = ref.Version.String()
		if ref.Version.Branch != "" {
			annotations[model.AnnotationBranch] = ref.Version.Branch
		}
	}

	layers := make([]ocispec.Descriptor, 0, len(blobs))
	for _, blob := range blobs {
		layers = append(layers, blob.Descriptor)
	}

	m := &Manifest{
		Manifest: ocispec.Manifest{
			Versioned:    specs.Versioned{SchemaVersion: 2},
			MediaType:    ocispec.MediaTypeImageManifest,
			ArtifactType: model.ArtifactType,
			Config:       ocispec.DescriptorEmptyJSON,
			Layers:       layers,
			Annotations:  annotations,
		},
		Resource: id,
		Ref:      ref,
	}
	// the empty config is referenced without its inline data
	m.Config.Data = nil

	raw, err := json.Marshal(m.Manifest)
	if err != nil {
		return nil, errors.New("encoding manifest").Detailf("%s", m.Tag()).Wrap(err)
	}
	m.Raw = raw
	return m, nil
}

func parseManifest(desc ocispec.Descriptor, raw []byte) (*Manifest, error) {
	m := &Manifest{Descriptor: desc, Raw: raw}
	if err := json.Unmarshal(raw, &m.Manifest); err != nil {
		return nil, status.ErrIntegrity.Detailf("decoding manifest %s", desc.Digest).Wrap(err)
	}
	if m.ArtifactType != model.ArtifactType {
		return nil, status.ErrNotSupported.Detailf("manifest %s has artifact type %q", desc.Digest, m.ArtifactType)
	}

	kind, err := model.ParseKind(m.Annotations[model.AnnotationKind])
	if err != nil {
		return nil, status.ErrIntegrity.Detailf("manifest %s", desc.Digest).Wrap(err)
	}
	id, err := model.NewResourceID(kind, m.Annotations[model.AnnotationName])
	if err != nil {
		return nil, status.ErrIntegrity.Detailf("manifest %s", desc.Digest).Wrap(err)
	}
	m.Resource = id

	if adhoc, ok := m.Annotations[model.AnnotationAdhoc]; ok {
		tag, err := model.ParseAdhocTag(adhoc)
		if err != nil {
			return nil, status.ErrIntegrity.Detailf("manifest %s", desc.Digest).Wrap(err)
		}
		m.Ref = model.AdhocRef(tag)
		return m, nil
	}
	v, err := model.ParseVersion(m.Annotations[model.AnnotationVersion])
	if err != nil {
		return nil, status.ErrIntegrity.Detailf("manifest %s", desc.Digest).Wrap(err)
	}
	m.Ref = model.ReleasedRef(v)
	return m, nil
}
