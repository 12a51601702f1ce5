package ir

import "time"

// CoreMeta is the provenance of a core entity. It is owned by the
// promotion engine: domain code reads it but never builds it.
type CoreMeta struct {
	CoreID           CoreID     `json:"core_id"`
	SystemID         SystemID   `json:"system_id"`          // id in the origin system
	System           SystemName `json:"system"`             // origin system
	LastUpdateSystem SystemName `json:"last_update_system"` // system that last changed it
	DateCreated      time.Time  `json:"date_created"`
	DateUpdated      time.Time  `json:"date_updated"`
}

// NewCoreMeta returns the meta of a core entity first seen in system.
func NewCoreMeta(id CoreID, system SystemName, sysID SystemID, now time.Time) CoreMeta {
	return CoreMeta{
		CoreID:           id,
		SystemID:         sysID,
		System:           system,
		LastUpdateSystem: system,
		DateCreated:      now,
		DateUpdated:      now,
	}
}

// UpdatedBy derives the meta of a new version changed by system at now.
func (m CoreMeta) UpdatedBy(system SystemName, now time.Time) CoreMeta {
	m.LastUpdateSystem = system
	m.DateUpdated = now
	return m
}

// WithOrigin derives a meta whose identity is the given origin. Used to
// point a bounce-back at the core record it came from.
func (m CoreMeta) WithOrigin(id CoreID, system SystemName, sysID SystemID, created time.Time) CoreMeta {
	m.CoreID = id
	m.System = system
	m.SystemID = sysID
	m.DateCreated = created
	return m
}

// CoreEntity is implemented by canonical domain types. C is the concrete
// type itself, so WithMeta derives a new value without type assertions:
//
//	type Contact struct {
//		ir.CoreMeta
//		Name string
//	}
//	func (c Contact) Meta() ir.CoreMeta                   { return c.CoreMeta }
//	func (c Contact) WithMeta(m ir.CoreMeta) Contact      { c.CoreMeta = m; return c }
//	func (c Contact) ChecksumSubset() ir.IRObject         { return ir.IRObject{"name": ir.IRString(c.Name)} }
//
// ChecksumSubset must not include any CoreMeta field. Doing so makes every
// round trip look like a change and the entity bounces between systems
// forever.
type CoreEntity[C any] interface {
	Meta() CoreMeta
	WithMeta(CoreMeta) C
	ChecksumSubset() IRObject
}

// SystemEntity is implemented by the native shape of an entity in one
// external system.
type SystemEntity interface {
	SystemEntityID() SystemID
	LastUpdatedDate() time.Time
	ChecksumSubset() IRObject
}

// CoreRecord is the persisted, type-erased form of a core entity.
type CoreRecord struct {
	Type     CoreEntityTypeName `json:"type"`
	Meta     CoreMeta           `json:"meta"`
	Checksum Checksum           `json:"checksum"`
	Data     []byte             `json:"data"`
}
