package engine

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/gorux/internal/wasmbin"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// maxPages is the largest 32-bit memory.
const maxPages = 65536

// ErrNotShared is returned when spawning threads in a guest that defines
// its own memory instead of importing a shared one.
var ErrNotShared = errors.New("guest memory is not imported; threads need a shared memory import")

// memoryImport describes the guest's imported memory.
type memoryImport struct {
	module, name string
	min, max     uint32
}

// findMemoryImport returns the memory import of compiled, if any.
func findMemoryImport(compiled wazero.CompiledModule, limitPages uint32) (memoryImport, bool, error) {
	for _, def := range compiled.ImportedMemories() {
		module, name, ok := def.Import()
		if !ok {
			continue
		}
		imp := memoryImport{module: module, name: name, min: def.Min(), max: maxPages}
		if max, ok := def.Max(); ok {
			imp.max = max
		}
		if limitPages > 0 && imp.max > limitPages {
			imp.max = limitPages
		}
		if imp.min > imp.max {
			return memoryImport{}, false, fmt.Errorf("memory %s.%s needs %d pages, limit is %d", module, name, imp.min, imp.max)
		}
		return imp, true, nil
	}
	return memoryImport{}, false, nil
}

// sharedMemoryModule encodes a module that defines one shared memory of
// min..max pages and exports it under name.
func sharedMemoryModule(name string, min, max uint32) []byte {
	out := append([]byte(nil), wasmbin.Header...)

	mem := wasmbin.AppendLimits(nil, wasmbin.LimitsSharedMax, min, max)
	out = wasmbin.AppendSection(out, wasmbin.SectionMemory, wasmbin.Vec(1, mem))

	export := wasmbin.AppendName(nil, name)
	export = append(export, wasmbin.KindMemory, 0x00)
	return wasmbin.AppendSection(out, wasmbin.SectionExport, wasmbin.Vec(1, export))
}

// exportedMemory returns the memory mod exports as name.
func exportedMemory(mod api.Module, name string) (api.Memory, error) {
	mem := mod.ExportedMemory(name)
	if mem == nil {
		return nil, fmt.Errorf("module %s does not export memory %q", mod.Name(), name)
	}
	return mem, nil
}
