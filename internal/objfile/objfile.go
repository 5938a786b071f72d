// Package objfile reads and writes RGBDS's versioned binary object format
// (spec.md §4.9): the sole channel through which the assembler and linker
// communicate. Writing uses a commit-once safe buffer in the teacher's
// SafeBuffer idiom, so a half-built object can never accidentally reach
// disk.
package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gbdev/rgbds-sub001/internal/fstack"
	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/sect"
	"github.com/gbdev/rgbds-sub001/internal/section"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

const magic = "RGB9"
const revision = 1
const unset = 0xFFFFFFFF

// SafeBuffer wraps bytes.Buffer with explicit commit/reset lifecycle: once
// Commit is called no further writes are permitted, preventing a
// half-serialized object from being handed to a caller by mistake.
type SafeBuffer struct {
	buf       bytes.Buffer
	committed bool
	name      string
}

// NewSafeBuffer creates an empty, uncommitted buffer.
func NewSafeBuffer(name string) *SafeBuffer {
	return &SafeBuffer{name: name}
}

// Write appends to the buffer. It panics if the buffer has been committed,
// since that always indicates a writer bug, not a recoverable condition.
func (sb *SafeBuffer) Write(p []byte) (int, error) {
	if sb.committed {
		panic(fmt.Sprintf("objfile: write to committed buffer %q", sb.name))
	}
	return sb.buf.Write(p)
}

// Bytes returns the buffer's contents; safe to call before or after commit.
func (sb *SafeBuffer) Bytes() []byte { return sb.buf.Bytes() }

// Commit marks the buffer complete.
func (sb *SafeBuffer) Commit() { sb.committed = true }

// Reset clears the buffer and uncommits it.
func (sb *SafeBuffer) Reset() {
	sb.buf.Reset()
	sb.committed = false
}

func putU32(sb *SafeBuffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	sb.Write(b[:])
}

func putI32(sb *SafeBuffer, v int32) { putU32(sb, uint32(v)) }

func putU16(sb *SafeBuffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	sb.Write(b[:])
}

func putU8(sb *SafeBuffer, v uint8) { sb.Write([]byte{v}) }

func putZString(sb *SafeBuffer, s string) {
	sb.Write([]byte(s))
	sb.Write([]byte{0})
}

// sentinelOr32 encodes v as u32, or the UINT32_MAX sentinel if !ok.
func sentinelOr32(v uint32, ok bool) uint32 {
	if !ok {
		return unset
	}
	return v
}

// Write serializes one complete object file: every frame in arena, every
// symbol in symtab (in first-definition order, so output is
// deterministic), and every section in secs.All() order.
func Write(arena *fstack.Arena, symtab *symbol.Table, secs *section.Table, assertions []section.Patch, assertionMsgs []string) ([]byte, error) {
	sb := NewSafeBuffer("objfile")
	sb.Write([]byte(magic))
	putU32(sb, revision)

	symbols := symtab.AllInOrder()
	putU32(sb, uint32(len(symbols)))
	putU32(sb, uint32(len(secs.All())))
	putU32(sb, uint32(arena.Len()))

	for _, node := range arena.All() {
		parentID := uint32(unset)
		if node.ParentID >= 0 {
			parentID = uint32(node.ParentID)
		}
		putU32(sb, parentID)
		putU32(sb, uint32(node.ParentLine))
		putU8(sb, uint8(node.Kind))
		switch node.Kind {
		case fstack.KindFile, fstack.KindMacro:
			putZString(sb, node.Name)
		case fstack.KindRept:
			putU32(sb, uint32(len(node.Iteration)))
			for _, it := range node.Iteration {
				putU32(sb, uint32(it))
			}
		}
	}

	for _, sym := range symbols {
		putZString(sb, sym.Name)
		putU8(sb, uint8(sym.Type))
		if sym.Type != symbol.REF {
			putU32(sb, uint32(sym.Loc.FileNodeID))
			putU32(sb, uint32(sym.Loc.Line))
			putU32(sb, sentinelOr32(uint32(sym.SectionID), sym.Type == symbol.LABEL))
			putI32(sb, symbolValue(sym))
		}
	}

	for i := range secs.All() {
		writeSection(sb, &secs.All()[i])
	}

	putU32(sb, uint32(len(assertions)))
	for i, p := range assertions {
		writePatch(sb, p)
		msg := ""
		if i < len(assertionMsgs) {
			msg = assertionMsgs[i]
		}
		putZString(sb, msg)
	}

	sb.Commit()
	return sb.Bytes(), nil
}

func symbolValue(sym *symbol.Symbol) int32 {
	switch sym.Type {
	case symbol.LABEL:
		return sym.Offset
	default:
		return sym.IntValue
	}
}

func writeSection(sb *SafeBuffer, s *section.Section) {
	putZString(sb, s.Name)
	putU32(sb, uint32(s.Size))
	putU8(sb, uint8(s.Type))
	putU8(sb, uint8(s.Modifier))
	putU32(sb, sentinelOr32(uint32(s.Org), s.HasOrg))
	putU32(sb, sentinelOr32(uint32(s.Bank), s.HasBank))
	putU8(sb, alignExp(s.AlignMask))
	putU16(sb, s.AlignOffset)
	putU32(sb, sentinelOr32(uint32(s.Next), s.Next >= 0))
	// Sections don't carry their own declaration file/line in this struct;
	// the first patch or symbol referencing them supplies backtrace
	// context, so 0/0 here simply means "section-level, no single site".
	putU32(sb, 0)
	putU32(sb, 0)
	if s.HasData() {
		data := s.Data
		for len(data) < int(s.Size) {
			data = append(data, 0)
		}
		sb.Write(data[:s.Size])
	}
	putU32(sb, uint32(len(s.Patches)))
	for _, p := range s.Patches {
		writePatch(sb, p)
	}
}

func alignExp(mask uint16) uint8 {
	var exp uint8
	for mask != 0 {
		exp++
		mask >>= 1
	}
	return exp
}

func writePatch(sb *SafeBuffer, p section.Patch) {
	putU32(sb, uint32(p.FileNodeID))
	putU32(sb, uint32(p.Line))
	putU32(sb, uint32(p.Offset))
	putU32(sb, uint32(p.SectionID))
	putU32(sb, uint32(p.JRFromOffset))
	putU8(sb, uint8(p.Type))
	rpnBytes := p.Expr.Bytes()
	putU32(sb, uint32(len(rpnBytes)))
	sb.Write(rpnBytes)
}

// Object is the in-memory parsed form of a read object file.
type Object struct {
	Revision   uint32
	Nodes      []NodeRecord
	Symbols    []SymbolRecord
	Sections   []SectionRecord
	Assertions []PatchRecord
}

type NodeRecord struct {
	ParentID   int // -1 if unset
	ParentLine int
	Kind       fstack.Kind
	Name       string
	Iteration  []int
}

type SymbolRecord struct {
	Name       string
	Type       symbol.Type
	FileNodeID int
	Line       int
	SectionID  int // -1 if unset
	Value      int32
}

type SectionRecord struct {
	Name        string
	Size        uint32
	Type        sect.Type
	Modifier    section.Modifier
	Org         int64 // -1 if unset
	Bank        int64 // -1 if unset
	AlignExp    uint8
	AlignOffset uint16
	Next        int64 // -1 if this is the last (or only) piece of its chain
	Data        []byte
	Patches     []PatchRecord
}

type PatchRecord struct {
	FileNodeID int
	Line       int
	Offset     uint32
	SectionID  uint32
	JRFromOffset uint32
	Type       section.PatchType
	RPN        []byte
	Message    string
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("objfile: truncated at byte %d", r.pos)
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, fmt.Errorf("objfile: truncated at byte %d", r.pos)
	}
	v := binary.LittleEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, fmt.Errorf("objfile: truncated at byte %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) zstring() (string, error) {
	start := r.pos
	for r.pos < len(r.b) && r.b[r.pos] != 0 {
		r.pos++
	}
	if r.pos >= len(r.b) {
		return "", fmt.Errorf("objfile: unterminated string at byte %d", start)
	}
	s := string(r.b[start:r.pos])
	r.pos++
	return s, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, fmt.Errorf("objfile: truncated at byte %d wanting %d bytes", r.pos, n)
	}
	out := append([]byte{}, r.b[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func signed32(v uint32) int64 {
	if v == unset {
		return -1
	}
	return int64(v)
}

// Read parses a serialized object file, rejecting anything whose magic or
// revision doesn't match (spec.md §7: a version mismatch is refused
// outright, never silently patched up).
func Read(data []byte) (*Object, error) {
	r := &reader{b: data}
	if len(data) < 4 || string(data[:4]) != magic {
		return nil, fmt.Errorf("objfile: not an RGB9 object file")
	}
	r.pos = 4
	rev, err := r.u32()
	if err != nil {
		return nil, err
	}
	if rev != revision {
		return nil, fmt.Errorf("objfile: unsupported revision %d (expected %d)", rev, revision)
	}
	nSymbols, err := r.u32()
	if err != nil {
		return nil, err
	}
	nSections, err := r.u32()
	if err != nil {
		return nil, err
	}
	nNodes, err := r.u32()
	if err != nil {
		return nil, err
	}

	obj := &Object{Revision: rev}
	for i := uint32(0); i < nNodes; i++ {
		pid, err := r.u32()
		if err != nil {
			return nil, err
		}
		pline, err := r.u32()
		if err != nil {
			return nil, err
		}
		kindByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		rec := NodeRecord{ParentID: -1, ParentLine: int(pline), Kind: fstack.Kind(kindByte)}
		if pid != unset {
			rec.ParentID = int(pid)
		}
		switch rec.Kind {
		case fstack.KindFile, fstack.KindMacro:
			name, err := r.zstring()
			if err != nil {
				return nil, err
			}
			rec.Name = name
		case fstack.KindRept:
			n, err := r.u32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < n; j++ {
				v, err := r.u32()
				if err != nil {
					return nil, err
				}
				rec.Iteration = append(rec.Iteration, int(v))
			}
		}
		obj.Nodes = append(obj.Nodes, rec)
	}

	for i := uint32(0); i < nSymbols; i++ {
		name, err := r.zstring()
		if err != nil {
			return nil, err
		}
		typByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		rec := SymbolRecord{Name: name, Type: symbol.Type(typByte), SectionID: -1}
		if rec.Type != symbol.REF {
			fn, err := r.u32()
			if err != nil {
				return nil, err
			}
			line, err := r.u32()
			if err != nil {
				return nil, err
			}
			sid, err := r.u32()
			if err != nil {
				return nil, err
			}
			val, err := r.i32()
			if err != nil {
				return nil, err
			}
			rec.FileNodeID = int(fn)
			rec.Line = int(line)
			if sid != unset {
				rec.SectionID = int(sid)
			}
			rec.Value = val
		}
		obj.Symbols = append(obj.Symbols, rec)
	}

	for i := uint32(0); i < nSections; i++ {
		sec, err := readSection(r)
		if err != nil {
			return nil, err
		}
		obj.Sections = append(obj.Sections, *sec)
	}

	nAssertions, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nAssertions; i++ {
		p, err := readPatch(r)
		if err != nil {
			return nil, err
		}
		msg, err := r.zstring()
		if err != nil {
			return nil, err
		}
		p.Message = msg
		obj.Assertions = append(obj.Assertions, *p)
	}

	return obj, nil
}

func readSection(r *reader) (*SectionRecord, error) {
	name, err := r.zstring()
	if err != nil {
		return nil, err
	}
	size, err := r.u32()
	if err != nil {
		return nil, err
	}
	typByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	modByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	org, err := r.u32()
	if err != nil {
		return nil, err
	}
	bank, err := r.u32()
	if err != nil {
		return nil, err
	}
	alignExp, err := r.u8()
	if err != nil {
		return nil, err
	}
	alignOfs, err := r.u16()
	if err != nil {
		return nil, err
	}
	next, err := r.u32()
	if err != nil {
		return nil, err
	}
	if _, err := r.u32(); err != nil { // file node id, unused on read-back
		return nil, err
	}
	if _, err := r.u32(); err != nil { // line no
		return nil, err
	}
	rec := &SectionRecord{
		Name: name, Size: size, Type: sect.Type(typByte), Modifier: section.Modifier(modByte),
		Org: signed32(org), Bank: signed32(bank),
		AlignExp: alignExp, AlignOffset: alignOfs, Next: signed32(next),
	}
	if sect.Lookup(rec.Type, sect.ModeDefault).HasData {
		data, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}
		rec.Data = data
	}
	nPatches, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nPatches; i++ {
		p, err := readPatch(r)
		if err != nil {
			return nil, err
		}
		rec.Patches = append(rec.Patches, *p)
	}
	return rec, nil
}

func readPatch(r *reader) (*PatchRecord, error) {
	fn, err := r.u32()
	if err != nil {
		return nil, err
	}
	line, err := r.u32()
	if err != nil {
		return nil, err
	}
	offset, err := r.u32()
	if err != nil {
		return nil, err
	}
	pcSection, err := r.u32()
	if err != nil {
		return nil, err
	}
	pcOffset, err := r.u32()
	if err != nil {
		return nil, err
	}
	typByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	rpnSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	rpnBytes, err := r.bytes(int(rpnSize))
	if err != nil {
		return nil, err
	}
	return &PatchRecord{
		FileNodeID: int(fn), Line: int(line), Offset: offset,
		SectionID: pcSection, JRFromOffset: pcOffset,
		Type: section.PatchType(typByte), RPN: rpnBytes,
	}, nil
}

// Expr reconstructs an rpn.Expr usable with internal/rpn.Eval from a patch
// record's raw stream, for the linker's patch applier.
func (p PatchRecord) Expr() rpn.Expr { return rpn.FromBytes(p.RPN) }
