// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package fixture holds the static fixture and group definitions.
package fixture

import (
	"lighting-engine/internal/config"
)

// Definition describes one fixture (immutable after load)
type Definition struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Group is a named set of fixtures with a default dimmer level
type Group struct {
	Name       string   `json:"name"`
	Fixtures   []string `json:"fixtures"`
	Brightness float64  `json:"brightness"`
}

// Registry resolves fixture ids and hardware addresses.
// Built once at startup and never mutated, so it is safe for concurrent use.
type Registry struct {
	defs      []Definition
	byID      map[string]int
	byAddress map[string]int
	groups    map[string]*Group
	groupList []string
}

// NewRegistry builds a registry from definitions
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{
		defs:      make([]Definition, len(defs)),
		byID:      make(map[string]int, len(defs)),
		byAddress: make(map[string]int, len(defs)),
		groups:    make(map[string]*Group),
	}
	copy(r.defs, defs)

	for i, d := range r.defs {
		if d.Label == "" {
			r.defs[i].Label = d.ID
		}
		r.byID[d.ID] = i
		r.byAddress[d.Address] = i
	}
	return r
}

// FromConfig builds the registry from the fixtures and groups sections
func FromConfig(cfg *config.Config) *Registry {
	defs := make([]Definition, len(cfg.Fixtures))
	for i, f := range cfg.Fixtures {
		defs[i] = Definition{
			ID:          f.ID,
			Address:     f.Address,
			Label:       f.Label,
			Description: f.Description,
		}
	}

	r := NewRegistry(defs)
	for _, name := range cfg.GroupNames() {
		g := cfg.Groups[name]
		brightness := 1.0
		if g.Brightness != nil {
			brightness = *g.Brightness
		}
		r.addGroup(&Group{
			Name:       name,
			Fixtures:   append([]string(nil), g.Fixtures...),
			Brightness: brightness,
		})
	}
	return r
}

func (r *Registry) addGroup(g *Group) {
	if _, ok := r.groups[g.Name]; !ok {
		r.groupList = append(r.groupList, g.Name)
	}
	r.groups[g.Name] = g
}

// Resolve looks up a fixture by logical id, then by hardware address
func (r *Registry) Resolve(idOrAddress string) (Definition, bool) {
	if i, ok := r.byID[idOrAddress]; ok {
		return r.defs[i], true
	}
	if i, ok := r.byAddress[idOrAddress]; ok {
		return r.defs[i], true
	}
	return Definition{}, false
}

// All returns every definition in configuration order
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// IDs returns every fixture id in configuration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.defs))
	for i, d := range r.defs {
		ids[i] = d.ID
	}
	return ids
}

// Index returns the configuration position of a fixture id
func (r *Registry) Index(id string) (int, bool) {
	i, ok := r.byID[id]
	return i, ok
}

// Len returns the number of fixtures
func (r *Registry) Len() int {
	return len(r.defs)
}

// Group returns a group by name (nil if unknown)
func (r *Registry) Group(name string) *Group {
	g, ok := r.groups[name]
	if !ok {
		return nil
	}
	cp := *g
	cp.Fixtures = append([]string(nil), g.Fixtures...)
	return &cp
}

// Groups returns group names, sorted
func (r *Registry) Groups() []string {
	return append([]string(nil), r.groupList...)
}
