// Package registry holds the read-only master data: which rooms exist, whether
// they are in service, and how they are grouped for reporting.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nicktill/roomwatch/pkg/occupancy"
)

// NameGroupPrefix prefixes the ids of groups synthesized from entity names.
const NameGroupPrefix = "name:"

// ErrUnknownEntity is returned when an entity id is not registered.
var ErrUnknownEntity = errors.New("unknown entity")

// Registry is the read side of the master data.
type Registry interface {
	ListGroups(ctx context.Context) ([]occupancy.Group, error)
	ListEntities(ctx context.Context) ([]occupancy.Entity, error)
	Entity(ctx context.Context, id string) (occupancy.Entity, error)
}

// File is the YAML document layout.
type File struct {
	Groups   []GroupSpec  `yaml:"groups"`
	Entities []EntitySpec `yaml:"entities"`
}

// GroupSpec declares an explicit group.
type GroupSpec struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Valid *bool  `yaml:"valid"`
}

// EntitySpec declares a room. Rooms without a group are grouped by name.
type EntitySpec struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Valid         *bool  `yaml:"valid"`
	Group         string `yaml:"group"`
	DefaultClosed bool   `yaml:"default_closed"`
}

// Static is an immutable in-memory Registry.
type Static struct {
	groups   []occupancy.Group
	entities []occupancy.Entity
	byID     map[string]occupancy.Entity
}

// Load reads a registry from a YAML file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry document.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return New(f)
}

// New validates f and resolves group membership.
//
// Explicit groups keep file order and come first; name groups follow in the
// order their first member appears.
func New(f File) (*Static, error) {
	r := &Static{byID: make(map[string]occupancy.Entity, len(f.Entities))}

	groupIndex := make(map[string]int, len(f.Groups))
	for _, gs := range f.Groups {
		if gs.ID == "" {
			return nil, errors.New("group without id")
		}
		if _, dup := groupIndex[gs.ID]; dup {
			return nil, fmt.Errorf("duplicate group %q", gs.ID)
		}
		name := gs.Name
		if name == "" {
			name = gs.ID
		}
		groupIndex[gs.ID] = len(r.groups)
		r.groups = append(r.groups, occupancy.Group{ID: gs.ID, Name: name, Valid: boolOr(gs.Valid, true)})
	}

	for _, es := range f.Entities {
		if es.ID == "" {
			return nil, fmt.Errorf("entity %q without id", es.Name)
		}
		if _, dup := r.byID[es.ID]; dup {
			return nil, fmt.Errorf("duplicate entity %q", es.ID)
		}

		e := occupancy.Entity{
			ID:            es.ID,
			Name:          es.Name,
			Valid:         boolOr(es.Valid, true),
			GroupID:       es.Group,
			DefaultClosed: es.DefaultClosed,
		}
		if e.Name == "" {
			e.Name = e.ID
		}

		if e.GroupID == "" {
			// grouped by display name
			e.GroupID = NameGroupPrefix + e.Name
			if _, ok := groupIndex[e.GroupID]; !ok {
				groupIndex[e.GroupID] = len(r.groups)
				r.groups = append(r.groups, occupancy.Group{ID: e.GroupID, Name: e.Name})
			}
		}

		idx, ok := groupIndex[e.GroupID]
		if !ok {
			return nil, fmt.Errorf("entity %q references unknown group %q", e.ID, e.GroupID)
		}
		r.groups[idx].Members = append(r.groups[idx].Members, e)
		r.entities = append(r.entities, e)
		r.byID[e.ID] = e
	}

	// a name group is in service while any of its rooms is
	for i := range r.groups {
		if strings.HasPrefix(r.groups[i].ID, NameGroupPrefix) {
			r.groups[i].Valid = r.groups[i].Capacity() > 0
		}
	}

	return r, nil
}

// ListGroups returns every group with its members resolved.
func (r *Static) ListGroups(ctx context.Context) ([]occupancy.Group, error) {
	out := make([]occupancy.Group, len(r.groups))
	for i, g := range r.groups {
		g.Members = append([]occupancy.Entity(nil), g.Members...)
		out[i] = g
	}
	return out, nil
}

// ListEntities returns every entity in file order.
func (r *Static) ListEntities(ctx context.Context) ([]occupancy.Entity, error) {
	return append([]occupancy.Entity(nil), r.entities...), nil
}

// Entity looks up a single entity.
func (r *Static) Entity(ctx context.Context, id string) (occupancy.Entity, error) {
	e, ok := r.byID[id]
	if !ok {
		return occupancy.Entity{}, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	return e, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
