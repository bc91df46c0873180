// Package simulate generates synthetic sensor readings for a small
// monitored road network. Batches are deterministic for a given seed,
// which makes full-pipeline runs reproducible.
package simulate

import (
	"github.com/abelbrown/citysense/internal/fact"
)

// EntityKind classifies catalog entries.
type EntityKind string

const (
	KindIntersection EntityKind = "intersection"
	KindSegment      EntityKind = "segment"
	KindBridge       EntityKind = "bridge"
	KindTunnel       EntityKind = "tunnel"
)

// CatalogEntry describes one monitored entity.
type CatalogEntry struct {
	ID         string      `json:"id"`
	Kind       EntityKind  `json:"kind"`
	Domain     fact.Domain `json:"domain"`
	Lanes      int         `json:"lanes,omitempty"`
	Signalized bool        `json:"signalized,omitempty"`
	Carries    string      `json:"carries,omitempty"` // structures: the segment they serve
}

// Catalog returns the monitored area: two signalized intersections,
// two highway segments, the bridge carrying HWY1 and the tunnel on
// HWY2. Order is stable.
func Catalog() []CatalogEntry {
	return []CatalogEntry{
		{ID: "INT1", Kind: KindIntersection, Domain: fact.DomainTraffic, Signalized: true},
		{ID: "INT2", Kind: KindIntersection, Domain: fact.DomainTraffic, Signalized: true},
		{ID: "HWY1", Kind: KindSegment, Domain: fact.DomainTraffic, Lanes: 4},
		{ID: "HWY2", Kind: KindSegment, Domain: fact.DomainTraffic, Lanes: 3},
		{ID: "BRG1", Kind: KindBridge, Domain: fact.DomainInfrastructure, Carries: "HWY1"},
		{ID: "TUN1", Kind: KindTunnel, Domain: fact.DomainInfrastructure, Carries: "HWY2"},
	}
}

// Neighborhood returns the adjacency used for cross-entity
// correlation: each road segment and the structure that carries it.
func Neighborhood() map[string][]string {
	n := make(map[string][]string)
	for _, e := range Catalog() {
		if e.Carries == "" {
			continue
		}
		n[e.ID] = append(n[e.ID], e.Carries)
		n[e.Carries] = append(n[e.Carries], e.ID)
	}
	return n
}

// Lookup finds a catalog entry by entity ID.
func Lookup(id string) (CatalogEntry, bool) {
	for _, e := range Catalog() {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

func roadEntities() []CatalogEntry {
	var out []CatalogEntry
	for _, e := range Catalog() {
		if e.Kind == KindIntersection || e.Kind == KindSegment {
			out = append(out, e)
		}
	}
	return out
}

func structures() []CatalogEntry {
	var out []CatalogEntry
	for _, e := range Catalog() {
		if e.Kind == KindBridge || e.Kind == KindTunnel {
			out = append(out, e)
		}
	}
	return out
}

func signalized() []CatalogEntry {
	var out []CatalogEntry
	for _, e := range Catalog() {
		if e.Signalized {
			out = append(out, e)
		}
	}
	return out
}

// weatherStations lists entities with a roadside weather mast.
func weatherStations() []string { return []string{"HWY1", "HWY2"} }

// airStations lists entities with an air quality monitor.
func airStations() []string { return []string{"INT1", "INT2"} }
