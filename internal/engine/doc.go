// Package engine runs the three sync stages: Read, Promote and Write.
//
// A Function is the unit of scheduling. It belongs to one system and one
// stage and holds a list of operations, one per object. The Runner loads
// the function's SystemState, marks it running, and runs every ready
// operation in order. Each operation gets its ObjectState checkpoint and
// returns a Result. The first Result that votes Abort stops the run.
//
// DATA FLOW:
//
//	Read:    system API -> ReadFunc -> StagedRepository.Stage
//	Promote: StagedRepository -> Evaluator -> CoreStorage + maps
//	Write:   CoreStorage -> Converter -> Writer -> maps
//
// Promotion runs a fixed sequence of steps over a batch of promotion bags:
// load, evaluate, dedupe, bounce-back handling, change detection, persist,
// stamp staged entities. Core entity provenance (CoreMeta) is owned here,
// never by evaluators.
//
// Checkpoints only advance on success, and only forward. All timestamps
// within one run come from the function start time, so a run can be
// replayed with a fixed clock.
//
// The engine depends only on the repository interfaces in repos.go. The
// store package provides the SQLite implementation.
package engine
