package wasmtext

// Module builds a complete .wasm binary from imports, functions, and
// exports. Adapted from the teacher's wasm32 backend's wasmModule
// builder: the same type dedup, section ordering, and LEB128 encoding,
// generalized from a whole-program code generator down to the handful of
// sections one compiled RTL domain (or one-off expression or statement)
// ever needs — there is no data section and every function
// signature only ever mixes the single i64 value type, so those sections
// are dropped entirely rather than carried as permanently-empty no-ops.
type Module struct {
	types        []funcType
	imports      []importEntry
	funcImports  int // count of imports above of kind extFunc
	funcs        []int // type index per locally-defined function
	exports      []exportEntry
	codes        [][]byte
	memMin       uint32
	memMax       uint32
	memImported  bool

	helpers *Helpers // installed once by EnsureHelpers
}

type funcType struct {
	params  []byte
	results []byte
}

type importEntry struct {
	module  string
	name    string
	kind    byte
	typeIdx int    // kind == extFunc
	min     uint32 // kind == extMemory
	max     uint32 // kind == extMemory
	hasMax  bool
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

// typeIdx registers a function type, deduplicating against existing ones.
func (m *Module) typeIdx(params, results []byte) int {
	for i, t := range m.types {
		if sameBytes(t.params, params) && sameBytes(t.results, results) {
			return i
		}
	}
	idx := len(m.types)
	m.types = append(m.types, funcType{params: params, results: results})
	return idx
}

func sameBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddImport registers an imported function and returns its function index.
func (m *Module) AddImport(module, name string, params, results []byte) int {
	funcIdx := m.funcImports
	m.imports = append(m.imports, importEntry{module: module, name: name, kind: extFunc, typeIdx: m.typeIdx(params, results)})
	m.funcImports++
	return funcIdx
}

// ImportMemory declares the module's memory as imported rather than
// owned: every compiled RTL domain module shares one linear memory this
// way, per the slot layout in internal/simstate.
func (m *Module) ImportMemory(module, name string, minPages, maxPages uint32) {
	m.imports = append(m.imports, importEntry{module: module, name: name, kind: extMemory, min: minPages, max: maxPages, hasMax: true})
	m.memImported = true
}

// AddFunc reserves a function slot (its code is attached with SetCode)
// and returns its function index, counting imported functions first as
// the Wasm function index space requires.
func (m *Module) AddFunc(params, results []byte) int {
	m.funcs = append(m.funcs, m.typeIdx(params, results))
	m.codes = append(m.codes, nil)
	return m.funcImports + len(m.funcs) - 1
}

// SetCode attaches an already-assembled function body (locals + instructions,
// without the trailing `end`) to the function previously returned by AddFunc.
func (m *Module) SetCode(funcIdx int, localTypes []byte, body []byte) {
	slot := funcIdx - m.funcImports
	var buf []byte
	if len(localTypes) == 0 {
		buf = appendULEB128(buf, 0)
	} else {
		buf = appendULEB128(buf, uint32(len(localTypes)))
		for _, t := range localTypes {
			buf = appendULEB128(buf, 1)
			buf = append(buf, t)
		}
	}
	buf = append(buf, body...)
	buf = append(buf, opEnd)
	m.codes[slot] = buf
}

// AddExport exports a function or the memory under name.
func (m *Module) AddExport(name string, kind byte, idx uint32) {
	m.exports = append(m.exports, exportEntry{name: name, kind: kind, idx: idx})
}

// SetMemory sets the memory section's page bounds.
func (m *Module) SetMemory(minPages, maxPages uint32) {
	m.memMin, m.memMax = minPages, maxPages
}

// Encode produces the complete .wasm binary.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		out = encodeSection(out, secType, m.encodeTypeSection())
	}
	if len(m.imports) > 0 {
		out = encodeSection(out, secImport, m.encodeImportSection())
	}
	if len(m.funcs) > 0 {
		out = encodeSection(out, secFunction, m.encodeFuncSection())
	}
	if !m.memImported {
		out = encodeSection(out, secMemory, m.encodeMemorySection())
	}
	if len(m.exports) > 0 {
		out = encodeSection(out, secExport, m.encodeExportSection())
	}
	if len(m.codes) > 0 {
		out = encodeSection(out, secCode, m.encodeCodeSection())
	}
	return out
}

func encodeSection(out []byte, id int, payload []byte) []byte {
	out = append(out, byte(id))
	out = appendULEB128(out, uint32(len(payload)))
	return append(out, payload...)
}

func (m *Module) encodeTypeSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(m.types)))
	for _, t := range m.types {
		buf = append(buf, funcTag)
		buf = appendULEB128(buf, uint32(len(t.params)))
		buf = append(buf, t.params...)
		buf = appendULEB128(buf, uint32(len(t.results)))
		buf = append(buf, t.results...)
	}
	return buf
}

func (m *Module) encodeImportSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(m.imports)))
	for _, imp := range m.imports {
		buf = appendULEB128(buf, uint32(len(imp.module)))
		buf = append(buf, imp.module...)
		buf = appendULEB128(buf, uint32(len(imp.name)))
		buf = append(buf, imp.name...)
		buf = append(buf, imp.kind)
		switch imp.kind {
		case extFunc:
			buf = appendULEB128(buf, uint32(imp.typeIdx))
		case extMemory:
			if imp.hasMax {
				buf = append(buf, 0x01)
				buf = appendULEB128(buf, imp.min)
				buf = appendULEB128(buf, imp.max)
			} else {
				buf = append(buf, 0x00)
				buf = appendULEB128(buf, imp.min)
			}
		}
	}
	return buf
}

func (m *Module) encodeFuncSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(m.funcs)))
	for _, t := range m.funcs {
		buf = appendULEB128(buf, uint32(t))
	}
	return buf
}

func (m *Module) encodeMemorySection() []byte {
	var buf []byte
	buf = appendULEB128(buf, 1)
	if m.memMax > 0 {
		buf = append(buf, 0x01)
		buf = appendULEB128(buf, m.memMin)
		buf = appendULEB128(buf, m.memMax)
	} else {
		buf = append(buf, 0x00)
		buf = appendULEB128(buf, m.memMin)
	}
	return buf
}

func (m *Module) encodeExportSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(m.exports)))
	for _, exp := range m.exports {
		buf = appendULEB128(buf, uint32(len(exp.name)))
		buf = append(buf, exp.name...)
		buf = append(buf, exp.kind)
		buf = appendULEB128(buf, exp.idx)
	}
	return buf
}

func (m *Module) encodeCodeSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(m.codes)))
	for _, body := range m.codes {
		buf = appendULEB128(buf, uint32(len(body)))
		buf = append(buf, body...)
	}
	return buf
}
