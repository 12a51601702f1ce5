package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/coresync/internal/ir"
)

// OperationError is returned by Runner.Run when an operation fails in a
// way that must not be recorded as an ordinary Error result: validation,
// integrity and missing-relation errors, storage failures, and hook
// errors when fail-fast is on.
type OperationError struct {
	System ir.SystemName
	Stage  ir.LifecycleStage
	Object ir.ObjectName
	Err    error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s/%s/%s: %v", e.System, e.Stage, e.Object, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// HookError wraps an error returned by domain code (a read function,
// evaluator, converter or writer).
type HookError struct {
	Hook string
	Err  error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("%s: %v", e.Hook, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// IsHookError reports whether err came from domain code.
func IsHookError(err error) bool {
	var he *HookError
	return errors.As(err, &he)
}

// isFatal reports whether err must propagate instead of becoming an
// Error result.
func isFatal(err error) bool {
	return ir.IsValidationError(err) || ir.IsIntegrityError(err) || ir.IsMissingRelation(err)
}
