// Copyright © 2018 One Concern

package index

import (
	"sort"

	"github.com/oneconcern/keel/pkg/model"
)

// entry is what the tag listing tells about a resource
type entry struct {
	id       model.ResourceID
	released []model.Version
	adhoc    []model.AdhocTag
	chains   []model.ChainID
}

// catalogue of the resources in a repository, built from a tag listing
type catalogue struct {
	resources map[model.ResourceID]*entry
}

func newCatalogue(tags []string) *catalogue {
	c := &catalogue{resources: make(map[model.ResourceID]*entry)}
	for _, tag := range tags {
		info, err := model.ParseTag(tag)
		if err != nil {
			continue
		}
		e, ok := c.resources[info.Resource]
		if !ok {
			e = &entry{id: info.Resource}
			c.resources[info.Resource] = e
		}
		switch info.Kind {
		case model.TagVersion:
			e.released = append(e.released, info.Ref.Version)
		case model.TagAdhoc:
			e.adhoc = append(e.adhoc, info.Ref.Adhoc)
		case model.TagLedger:
			e.chains = append(e.chains, info.Chain)
		}
	}
	for _, e := range c.resources {
		model.SortVersionsDesc(e.released)
		sort.Slice(e.adhoc, func(i, j int) bool { return e.adhoc[i] < e.adhoc[j] })
		sort.Slice(e.chains, func(i, j int) bool { return e.chains[i].Branch < e.chains[j].Branch })
	}
	return c
}

func (c *catalogue) ids(kinds ...model.Kind) []model.ResourceID {
	wanted := make(map[model.Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	ids := make([]model.ResourceID, 0, len(c.resources))
	for id := range c.resources {
		if len(wanted) > 0 && !wanted[id.Kind] {
			continue
		}
		ids = append(ids, id)
	}
	model.SortResourceIDs(ids)
	return ids
}

// onChain returns the released versions of a chain, newest first
func (e *entry) onChain(branch string) []model.Version {
	versions := make([]model.Version, 0, len(e.released))
	for _, v := range e.released {
		if v.Branch == branch {
			versions = append(versions, v)
		}
	}
	return versions
}

func (e *entry) summary(location string) model.ResourceSummary {
	s := model.ResourceSummary{
		ID:       e.id,
		Location: location,
		Releases: len(e.released),
		Adhoc:    len(e.adhoc),
	}
	if main := e.onChain(""); len(main) > 0 {
		latest := main[0]
		s.Latest = &latest
	}
	for _, chain := range e.chains {
		if !chain.IsMain() {
			s.Branches = append(s.Branches, chain.Branch)
		}
	}
	return s
}
