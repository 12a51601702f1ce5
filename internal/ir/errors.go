package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes fatal errors raised by the repositories and the
// promotion engine. None of them is retryable.
type ErrorCode string

const (
	// ErrCodeDuplicateKey indicates a batch holds the same SystemID or
	// CoreID twice, or a create collides with an existing map.
	ErrCodeDuplicateKey ErrorCode = "DUPLICATE_KEY"

	// ErrCodeMixedBatch indicates a batch mixes systems or core types.
	ErrCodeMixedBatch ErrorCode = "MIXED_BATCH"

	// ErrCodeBatchMismatch indicates the persisted row count differs from
	// the batch size (missing or duplicate rows).
	ErrCodeBatchMismatch ErrorCode = "BATCH_MISMATCH"

	// ErrCodeInvalidState indicates a record in a state that forbids the
	// requested change, such as stamping an already promoted entity.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeBounceBackChecksum indicates a checksum subset changed when
	// only ids were corrected.
	ErrCodeBounceBackChecksum ErrorCode = "BOUNCE_BACK_CHECKSUM"

	// ErrCodeMissingCore indicates a map points at a core entity that does
	// not exist.
	ErrCodeMissingCore ErrorCode = "MISSING_CORE"
)

// ValidationError is a caller or storage bug: bad batch shape, duplicate
// keys, or a row count that does not match.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(code ErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IntegrityError signals a defect in domain code, most often a checksum
// subset that includes an id or timestamp.
type IntegrityError struct {
	Code       ErrorCode
	Message    string
	CoreType   CoreEntityTypeName
	CoreID     CoreID
	SystemName SystemName
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s (type=%s, core_id=%s, system=%s)", e.Code, e.Message, e.CoreType, e.CoreID, e.SystemName)
}

// MissingRelationError is returned by mandatory related-id lookups.
type MissingRelationError struct {
	System   SystemName
	CoreType CoreEntityTypeName
	Missing  []string
}

func (e *MissingRelationError) Error() string {
	return fmt.Sprintf("missing mandatory %s mappings in system %s for ids [%s]",
		e.CoreType, e.System, strings.Join(e.Missing, ", "))
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIntegrityError reports whether err wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsMissingRelation reports whether err wraps a MissingRelationError.
func IsMissingRelation(err error) bool {
	var me *MissingRelationError
	return errors.As(err, &me)
}

// ValidateMapBatch checks the shape of a CreateSysMap/UpdateSysMap batch:
// every map belongs to system and coreType, and no SystemID or CoreID
// appears twice.
func ValidateMapBatch(system SystemName, coreType CoreEntityTypeName, maps []Map) error {
	sysIDs := make(map[SystemID]struct{}, len(maps))
	coreIDs := make(map[CoreID]struct{}, len(maps))
	for _, m := range maps {
		if m.System != system || m.CoreEntityType != coreType {
			return NewValidationError(ErrCodeMixedBatch,
				"map %s/%s (core %s) does not belong to batch %s/%s",
				m.System, m.CoreEntityType, m.CoreID, system, coreType)
		}
		if m.CoreID == "" || m.SystemID == "" {
			return NewValidationError(ErrCodeInvalidState,
				"map in %s/%s has empty id (core %q, system %q)", system, coreType, m.CoreID, m.SystemID)
		}
		if _, dup := sysIDs[m.SystemID]; dup {
			return NewValidationError(ErrCodeDuplicateKey, "system id %s appears twice in %s/%s batch", m.SystemID, system, coreType)
		}
		if _, dup := coreIDs[m.CoreID]; dup {
			return NewValidationError(ErrCodeDuplicateKey, "core id %s appears twice in %s/%s batch", m.CoreID, system, coreType)
		}
		sysIDs[m.SystemID] = struct{}{}
		coreIDs[m.CoreID] = struct{}{}
	}
	return nil
}
