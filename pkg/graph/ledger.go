// Copyright © 2018 One Concern

package graph

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"gopkg.in/yaml.v2"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry"
	"github.com/oneconcern/keel/pkg/registry/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Revision of a chain ledger: the digest of its manifest. The empty revision designates an empty chain.
type Revision = digest.Digest

const annotationChain = "org.keel.ledger.chain"

// load reads the ledger of a chain from the registry
func (g *Graph) load(ctx context.Context, chain model.ChainID) (*model.Ledger, Revision, error) {
	desc, raw, err := g.reg.GetManifest(ctx, model.LedgerTag(chain))
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return model.NewLedger(chain), "", nil
		}
		return nil, "", errors.New("reading ledger").Detailf("%s", chain).Wrap(err)
	}

	var m ocispec.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, "", status.ErrIntegrity.Detailf("ledger manifest for %s", chain).Wrap(err)
	}
	if m.ArtifactType != model.LedgerArtifactType || len(m.Layers) != 1 || m.Layers[0].MediaType != model.LedgerMediaType {
		return nil, "", status.ErrIntegrity.Detailf("unexpected ledger manifest for %s", chain)
	}

	layer := m.Layers[0]
	data, err := g.reg.PullBlob(ctx, layer)
	if err != nil {
		return nil, "", errors.New("reading ledger").Detailf("%s", chain).Wrap(err)
	}
	if actual := layer.Digest.Algorithm().FromBytes(data); actual != layer.Digest {
		return nil, "", status.ErrIntegrity.Detailf("ledger for %s: expected %s, got %s", chain, layer.Digest, actual)
	}

	var ledger model.Ledger
	if err := yaml.Unmarshal(data, &ledger); err != nil {
		return nil, "", status.ErrIntegrity.Detailf("decoding ledger for %s", chain).Wrap(err)
	}
	if ledger.Chain() != chain {
		return nil, "", status.ErrIntegrity.Detailf("ledger tagged for %s belongs to %s", chain, ledger.Chain())
	}
	return &ledger, desc.Digest, nil
}

// store writes the ledger of a chain, provided the chain is still at the observed revision
func (g *Graph) store(ctx context.Context, ledger *model.Ledger, observed Revision) (Revision, error) {
	chain := ledger.Chain()
	ledger.UpdatedAt = g.now().UTC()

	data, err := yaml.Marshal(ledger)
	if err != nil {
		return "", errors.New("encoding ledger").Detailf("%s", chain).Wrap(err)
	}
	layer := ocispec.Descriptor{
		MediaType: model.LedgerMediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
	if err := g.reg.PushBlob(ctx, layer, data); err != nil {
		return "", errors.New("writing ledger").Detailf("%s", chain).Wrap(err)
	}
	config := ocispec.DescriptorEmptyJSON
	if err := g.reg.PushBlob(ctx, config, config.Data); err != nil {
		return "", errors.New("writing ledger config").Detailf("%s", chain).Wrap(err)
	}
	config.Data = nil

	raw, err := json.Marshal(ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: model.LedgerArtifactType,
		Config:       config,
		Layers:       []ocispec.Descriptor{layer},
		Annotations: map[string]string{
			annotationChain:           chain.String(),
			ocispec.AnnotationCreated: ledger.UpdatedAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return "", errors.New("encoding ledger manifest").Detailf("%s", chain).Wrap(err)
	}

	desc, err := g.reg.PutManifest(ctx, model.LedgerTag(chain), ocispec.MediaTypeImageManifest, raw, registry.IfMatch(observed))
	if err != nil {
		return "", errors.New("writing ledger").Detailf("%s", chain).Wrap(err)
	}
	return desc.Digest, nil
}
