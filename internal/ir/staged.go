package ir

import (
	"fmt"
	"time"
)

// StagedEntity is one raw payload read from a system. It is stamped
// exactly once, either promoted or ignored, and never changes after that.
type StagedEntity struct {
	ID               StagedID             `json:"id"`
	System           SystemName           `json:"system"`
	SystemEntityType SystemEntityTypeName `json:"system_entity_type"`
	DateStaged       time.Time            `json:"date_staged"`
	Data             string               `json:"data"`
	Checksum         Checksum             `json:"checksum"`
	DatePromoted     *time.Time           `json:"date_promoted,omitempty"`
	IgnoreReason     *string              `json:"ignore_reason,omitempty"`
}

// NewStagedEntity builds an unstamped staged entity and its checksum.
func NewStagedEntity(id StagedID, system SystemName, typ SystemEntityTypeName, staged time.Time, data string) StagedEntity {
	return StagedEntity{
		ID:               id,
		System:           system,
		SystemEntityType: typ,
		DateStaged:       staged.UTC(),
		Data:             data,
		Checksum:         StagedChecksum(data),
	}
}

// Terminal reports whether the entity has been promoted or ignored.
func (s StagedEntity) Terminal() bool {
	return s.DatePromoted != nil || s.IgnoreReason != nil
}

// Promoted derives the promoted version of s.
func (s StagedEntity) Promoted(at time.Time) (StagedEntity, error) {
	if s.Terminal() {
		return s, fmt.Errorf("staged entity %s already %s", s.ID, s.terminalState())
	}
	at = at.UTC()
	s.DatePromoted = &at
	return s, nil
}

// Ignored derives the ignored version of s.
func (s StagedEntity) Ignored(reason string) (StagedEntity, error) {
	if s.Terminal() {
		return s, fmt.Errorf("staged entity %s already %s", s.ID, s.terminalState())
	}
	if reason == "" {
		return s, fmt.Errorf("staged entity %s: ignore reason is empty", s.ID)
	}
	s.IgnoreReason = &reason
	return s, nil
}

func (s StagedEntity) terminalState() string {
	if s.DatePromoted != nil {
		return "promoted"
	}
	return "ignored"
}
