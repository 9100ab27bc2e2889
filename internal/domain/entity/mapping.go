package entity

import "time"

type ObjectType string

const (
	ObjectTypeProject  ObjectType = "project"
	ObjectTypeIssue    ObjectType = "issue"
	ObjectTypeActivity ObjectType = "activity"
	ObjectTypeTag      ObjectType = "tag"
)

// MappingKey identifies a Mapping within one user.
type MappingKey struct {
	ID   string
	Type ObjectType
}

// Mapping correlates one organizational object across all services of a user.
type Mapping struct {
	PrimaryObjectID   string           `json:"primary_object_id"`
	PrimaryObjectType ObjectType       `json:"primary_object_type"`
	Name              string           `json:"name"`
	MappingsObjects   []MappingsObject `json:"mappings_objects"`
}

// MappingsObject is one service's representation of a Mapping.
type MappingsObject struct {
	Service     string     `json:"service"`
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        ObjectType `json:"type"`
	LastUpdated time.Time  `json:"last_updated"`
}

func (m *Mapping) Key() MappingKey {
	return MappingKey{ID: m.PrimaryObjectID, Type: m.PrimaryObjectType}
}

// ObjectFor returns the MappingsObject of the service or nil.
func (m *Mapping) ObjectFor(service string) *MappingsObject {
	for i := range m.MappingsObjects {
		if m.MappingsObjects[i].Service == service {
			return &m.MappingsObjects[i]
		}
	}
	return nil
}

// SetObject replaces the MappingsObject of obj.Service or appends it.
func (m *Mapping) SetObject(obj MappingsObject) {
	if existing := m.ObjectFor(obj.Service); existing != nil {
		*existing = obj
		return
	}
	m.MappingsObjects = append(m.MappingsObjects, obj)
}

// RemoveObject drops the MappingsObject of the service.
func (m *Mapping) RemoveObject(service string) {
	kept := m.MappingsObjects[:0]
	for _, obj := range m.MappingsObjects {
		if obj.Service != service {
			kept = append(kept, obj)
		}
	}
	m.MappingsObjects = kept
}

// FindByServiceObject returns the mapping whose MappingsObject for service
// has the given remote id.
func FindByServiceObject(mappings []*Mapping, service, id string, objectType ObjectType) *Mapping {
	for _, m := range mappings {
		obj := m.ObjectFor(service)
		if obj != nil && obj.ID == id && (objectType == "" || obj.Type == objectType) {
			return m
		}
	}
	return nil
}

// IndexMappings builds a lookup by primary object identity.
func IndexMappings(mappings []*Mapping) map[MappingKey]*Mapping {
	index := make(map[MappingKey]*Mapping, len(mappings))
	for _, m := range mappings {
		index[m.Key()] = m
	}
	return index
}
