package storage

import (
	"encoding/json"
	"time"
)

// serializableEntity is the on-disk JSON form of an Entity. Timestamps
// are stored as Unix milliseconds.
type serializableEntity struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// serializableRelationship is the on-disk JSON form of a Relationship.
type serializableRelationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	FromType   string         `json:"from_type"`
	FromID     string         `json:"from_id"`
	ToType     string         `json:"to_type"`
	ToID       string         `json:"to_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

func encodeEntity(e *Entity) ([]byte, error) {
	return json.Marshal(serializableEntity{
		Type:       string(e.Type),
		ID:         string(e.ID),
		Attributes: e.Attributes,
		CreatedAt:  e.CreatedAt.UnixMilli(),
		UpdatedAt:  e.UpdatedAt.UnixMilli(),
	})
}

func decodeEntity(data []byte) (*Entity, error) {
	var s serializableEntity
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ErrInvalidData
	}
	attrs := s.Attributes
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &Entity{
		Type:       EntityType(s.Type),
		ID:         EntityID(s.ID),
		Attributes: attrs,
		CreatedAt:  time.UnixMilli(s.CreatedAt),
		UpdatedAt:  time.UnixMilli(s.UpdatedAt),
	}, nil
}

func encodeRelationship(r *Relationship) ([]byte, error) {
	return json.Marshal(serializableRelationship{
		ID:         string(r.ID),
		Type:       r.Type,
		FromType:   string(r.FromType),
		FromID:     string(r.FromID),
		ToType:     string(r.ToType),
		ToID:       string(r.ToID),
		Attributes: r.Attributes,
		CreatedAt:  r.CreatedAt.UnixMilli(),
		UpdatedAt:  r.UpdatedAt.UnixMilli(),
	})
}

func decodeRelationship(data []byte) (*Relationship, error) {
	var s serializableRelationship
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ErrInvalidData
	}
	attrs := s.Attributes
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &Relationship{
		ID:         RelationshipID(s.ID),
		Type:       s.Type,
		FromType:   EntityType(s.FromType),
		FromID:     EntityID(s.FromID),
		ToType:     EntityType(s.ToType),
		ToID:       EntityID(s.ToID),
		Attributes: attrs,
		CreatedAt:  time.UnixMilli(s.CreatedAt),
		UpdatedAt:  time.UnixMilli(s.UpdatedAt),
	}, nil
}
