package sample

import (
	"fmt"
	"sort"

	"github.com/roach88/coresync/internal/config"
	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
)

// operations is one system's work, one operation per stage.
type operations struct {
	read    engine.Operation
	promote engine.Operation
	write   engine.Operation
}

type builder func(cfg config.SystemConfig, base engine.OperationConfig, ids engine.IDGenerator) operations

var builders = map[string]builder{
	config.KindSheet:    sheetOperations,
	config.KindJSONFile: jsonFileOperations,
}

// Kinds returns the system kinds Functions can build, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(builders))
	for k := range builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Functions builds the Read, Promote and Write functions of one
// configured system. ids names entities the system's Write creates; nil
// uses UUIDv7.
func Functions(name ir.SystemName, cfg config.SystemConfig, ids engine.IDGenerator) (map[ir.LifecycleStage]engine.Function, error) {
	build, ok := builders[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("system %s: unknown kind %q", name, cfg.Kind)
	}
	checkpoint, err := cfg.Checkpoint()
	if err != nil {
		return nil, fmt.Errorf("system %s: %w", name, err)
	}

	ops := build(cfg, engine.OperationConfig{
		Object:          ContactType,
		Cron:            cfg.Cron,
		FirstCheckpoint: checkpoint,
	}, ids)

	return map[ir.LifecycleStage]engine.Function{
		ir.StageRead:    {System: name, Stage: ir.StageRead, Operations: []engine.Operation{ops.read}},
		ir.StagePromote: {System: name, Stage: ir.StagePromote, Operations: []engine.Operation{ops.promote}},
		ir.StageWrite:   {System: name, Stage: ir.StageWrite, Operations: []engine.Operation{ops.write}},
	}, nil
}

// Function builds the function of one stage of a configured system.
func Function(name ir.SystemName, cfg config.SystemConfig, stage ir.LifecycleStage, ids engine.IDGenerator) (engine.Function, error) {
	fns, err := Functions(name, cfg, ids)
	if err != nil {
		return engine.Function{}, err
	}
	fn, ok := fns[stage]
	if !ok {
		return engine.Function{}, fmt.Errorf("system %s: unknown stage %q", name, stage)
	}
	return fn, nil
}

func sheetOperations(cfg config.SystemConfig, base engine.OperationConfig, ids engine.IDGenerator) operations {
	sys := NewSheetSystem(cfg.Path, cfg.Sheet, ids)
	promote := base
	promote.Bidirectional = cfg.Bidirectional
	return operations{
		read: &engine.ReadOperation{OperationConfig: base, Read: sys.Read},
		promote: &engine.PromoteOperation[SheetRow, Contact]{
			OperationConfig: promote,
			CoreType:        ContactType,
			SystemCodec:     engine.JSONCodec[SheetRow]{},
			CoreCodec:       engine.JSONCodec[Contact]{},
			Evaluate:        EvaluateContact[SheetRow],
		},
		write: &engine.WriteOperation[Contact, SheetRow]{
			OperationConfig: base,
			CoreCodec:       engine.JSONCodec[Contact]{},
			Convert:         convertSheetRow,
			Write:           sys.Write,
		},
	}
}

func jsonFileOperations(cfg config.SystemConfig, base engine.OperationConfig, ids engine.IDGenerator) operations {
	sys := NewJSONFileSystem(cfg.Path, cfg.IDPath, cfg.UpdatedPath, ids)
	promote := base
	promote.Bidirectional = cfg.Bidirectional
	return operations{
		read: &engine.ReadOperation{OperationConfig: base, Read: sys.Read},
		promote: &engine.PromoteOperation[JSONRecord, Contact]{
			OperationConfig: promote,
			CoreType:        ContactType,
			SystemCodec:     sys.codec(),
			CoreCodec:       engine.JSONCodec[Contact]{},
			Evaluate:        EvaluateContact[JSONRecord],
		},
		write: &engine.WriteOperation[Contact, JSONRecord]{
			OperationConfig: base,
			CoreCodec:       engine.JSONCodec[Contact]{},
			Convert:         convertJSONRecord,
			Write:           sys.Write,
		},
	}
}
