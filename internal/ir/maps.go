package ir

import "time"

// Map links one core entity to one system entity. A Map is unique per
// (System, CoreEntityType, CoreID) and per (System, CoreEntityType, SystemID).
//
// SystemEntityChecksum is the checksum of the system entity's own subset,
// not the core checksum. Write compares it with the converted entity to
// decide whether an update is worth sending.
type Map struct {
	System               SystemName         `json:"system"`
	CoreEntityType       CoreEntityTypeName `json:"core_entity_type"`
	CoreID               CoreID             `json:"core_id"`
	SystemID             SystemID           `json:"system_id"`
	SystemEntityChecksum Checksum           `json:"system_entity_checksum"`
	DateCreated          time.Time          `json:"date_created"`
	DateUpdated          time.Time          `json:"date_updated"`
}

// NewMap builds a map created at now.
func NewMap(system SystemName, coreType CoreEntityTypeName, coreID CoreID, sysID SystemID, checksum Checksum, now time.Time) Map {
	return Map{
		System:               system,
		CoreEntityType:       coreType,
		CoreID:               coreID,
		SystemID:             sysID,
		SystemEntityChecksum: checksum,
		DateCreated:          now,
		DateUpdated:          now,
	}
}

// Updated derives the next version of m with a new system checksum.
func (m Map) Updated(checksum Checksum, now time.Time) Map {
	m.SystemEntityChecksum = checksum
	m.DateUpdated = now
	return m
}
