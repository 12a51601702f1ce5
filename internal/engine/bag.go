package engine

import (
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// Ignore reasons recorded on staged entities by the promotion steps.
const (
	ReasonDuplicateInBatch = "already added in batch, taking most recently updated"
	ReasonBounceBack       = "update is a bounce-back and entity is not bi-directional"
	ReasonNoChange         = "no meaningful change detected on entity"
	ReasonIgnoredNoReason  = "ignored by evaluator"
)

// promotionBag carries one staged entity through the promotion steps.
// A bag is either pending (promote is true) or ignored with a reason,
// never both.
type promotionBag[S ir.SystemEntity, C ir.CoreEntity[C]] struct {
	staged      ir.StagedEntity
	entity      S
	sysChecksum ir.Checksum

	existingMap      *ir.Map
	existing         *C
	existingChecksum ir.Checksum

	pending         C
	pendingChecksum ir.Checksum
	promote         bool

	ignoreReason string
}

func (b *promotionBag[S, C]) ignore(reason string) {
	var zero C
	b.pending = zero
	b.promote = false
	b.ignoreReason = reason
}

// open reports whether the bag still awaits a verdict or is pending.
func (b *promotionBag[S, C]) open() bool {
	return b.ignoreReason == ""
}

// stamped returns the staged entity marked promoted at start, or ignored
// with the bag's reason.
func (b *promotionBag[S, C]) stamped(start time.Time) (ir.StagedEntity, error) {
	if b.promote {
		return b.staged.Promoted(start)
	}
	return b.staged.Ignored(b.ignoreReason)
}
