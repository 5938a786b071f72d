// Package section implements the parser-driven section emitter: the
// current-section stack, UNION/FRAGMENT piece chaining, LOAD-block virtual
// PC shadowing, and byte/expression emission that records patches against
// internal/rpn expressions (spec.md §3, §4.8).
package section

import (
	"fmt"

	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/sect"
)

// Modifier distinguishes a plain section from one of the two piece-chaining
// kinds.
type Modifier int

const (
	Normal Modifier = iota
	Union
	Fragment
)

// PatchType is the width/kind of a deferred write.
type PatchType int

const (
	Byte PatchType = iota
	Word
	Long
	JR
	Assert
)

// Patch is a deferred write: bytes at Offset within Section are overwritten
// at link time with Expr's evaluated value, reinterpreted per Type.
type Patch struct {
	FileNodeID int
	Line       int
	SectionID  int
	Offset     int32
	Type       PatchType
	Expr       rpn.Expr
	// JRFromOffset is the offset of the byte immediately after the JR
	// displacement, from which a PC-relative target is computed.
	JRFromOffset int32
}

// Section is one named section, possibly one piece of a UNION/FRAGMENT
// chain (Next).
type Section struct {
	ID       int
	Name     string
	Type     sect.Type
	Modifier Modifier
	Size     int32
	declSize int32 // size fixed by NewSection, 0 if none; Size grows with emitted bytes
	HasOrg   bool
	Org      uint16
	HasBank  bool
	Bank     int
	AlignMask uint16
	AlignOffset uint16
	Data     []byte
	Patches  []Patch
	Next     int // id of the next chained piece, or -1
}

// HasData reports whether this section's type carries emitted bytes
// (spec.md §4.2's data-bearing distinction).
func (s *Section) HasData() bool { return sect.Lookup(s.Type, sect.ModeDefault).HasData }

// Table owns every section created during one assembly run plus the
// current-section/union/load emission state machine.
type Table struct {
	sections []Section
	byName   map[string]int

	curID    int // -1 if no section is open
	pc       int32

	unionDepth  int
	unionMaxPC  int32 // max size reached by any arm so far, reset PC baseline
	unionArmBase int32
	unionData   [][]byte // per-arm snapshot for byte-for-byte comparison, indexed from unionArmBase

	loadDepth int
	loadOrg   uint16
	loadPC    int32 // virtual PC inside the LOAD block
	loadUnderlyingID int

	// padByte fills the bytes DS reserves without a fill value (-p).
	padByte byte
}

// New creates an empty section table.
func New() *Table {
	return &Table{byName: make(map[string]int), curID: -1}
}

// SetPadByte sets the fill byte DS uses for bytes it reserves without an
// explicit value (-p). Default 0.
func (t *Table) SetPadByte(b byte) { t.padByte = b }

// NewSection declares name (creating it if unseen, or returning the chain
// head to append a FRAGMENT/UNION piece to if it already exists with a
// compatible modifier).
func (t *Table) NewSection(name string, typ sect.Type, modifier Modifier, size int32, hasOrg bool, org uint16, hasBank bool, bank int) (int, error) {
	if existingID, ok := t.byName[name]; ok {
		existing := &t.sections[existingID]
		if existing.Modifier != modifier || modifier == Normal {
			return 0, fmt.Errorf("section %q redeclared with a different modifier", name)
		}
		// Walk to the tail of the chain and append a new piece there.
		tailID := existingID
		for t.sections[tailID].Next != -1 {
			tailID = t.sections[tailID].Next
		}
		id := len(t.sections)
		t.sections = append(t.sections, Section{
			ID: id, Name: name, Type: typ, Modifier: modifier, Size: size, declSize: size,
			HasOrg: hasOrg, Org: org, HasBank: hasBank, Bank: bank, Next: -1,
		})
		t.sections[tailID].Next = id
		return id, nil
	}
	id := len(t.sections)
	t.sections = append(t.sections, Section{
		ID: id, Name: name, Type: typ, Modifier: modifier, Size: size, declSize: size,
		HasOrg: hasOrg, Org: org, HasBank: hasBank, Bank: bank, Next: -1,
	})
	t.byName[name] = id
	return id, nil
}

// Get resolves a section by id.
func (t *Table) Get(id int) (*Section, error) {
	if id < 0 || id >= len(t.sections) {
		return nil, fmt.Errorf("section: id %d out of range", id)
	}
	return &t.sections[id], nil
}

// All returns every section (chain heads and pieces) in declaration order,
// for object-file serialization.
func (t *Table) All() []Section { return t.sections }

// PushSection makes id the current section. It is an error to do this while
// inside a UNION (spec.md §3 invariant: "inside a UNION, section pointer
// must not change").
func (t *Table) PushSection(id int) error {
	if t.unionDepth > 0 {
		return fmt.Errorf("section: cannot change section inside UNION ... ENDU")
	}
	if _, err := t.Get(id); err != nil {
		return err
	}
	t.curID = id
	t.pc = 0
	return nil
}

// PopSection clears the current section (used when returning from a
// section-scoped block; RGBDS itself has no explicit pop, but callers use
// this between independent SECTION directives).
func (t *Table) PopSection() {
	t.curID = -1
	t.pc = 0
}

// Current returns the id of the open section, or -1 if none.
func (t *Table) Current() int { return t.curID }

// PC returns the current program counter within the open section, or the
// LOAD block's virtual PC if one is active.
func (t *Table) PC() int32 {
	if t.loadDepth > 0 {
		return t.loadPC
	}
	return t.pc
}

func (t *Table) requireOpen() (*Section, error) {
	if t.curID < 0 {
		return nil, fmt.Errorf("section: no current section")
	}
	return &t.sections[t.curID], nil
}

// BeginUnion opens a UNION block over the current section.
func (t *Table) BeginUnion() error {
	sec, err := t.requireOpen()
	if err != nil {
		return err
	}
	if sec.Modifier != Union {
		return fmt.Errorf("section: UNION requires a section declared with the UNION modifier")
	}
	t.unionDepth++
	t.unionArmBase = t.pc
	t.unionMaxPC = t.pc
	return nil
}

// NextUnion resets the arm's write cursor to the union's base offset,
// preserving already-written data and tracking the high-water mark that
// becomes the union's final size (spec.md §4.8).
func (t *Table) NextUnion() error {
	if t.unionDepth == 0 {
		return fmt.Errorf("section: NEXTU outside UNION")
	}
	if t.pc > t.unionMaxPC {
		t.unionMaxPC = t.pc
	}
	t.pc = t.unionArmBase
	return nil
}

// EndUnion closes the innermost UNION block, growing the section to the
// widest arm.
func (t *Table) EndUnion() error {
	if t.unionDepth == 0 {
		return fmt.Errorf("section: ENDU without UNION")
	}
	if t.pc > t.unionMaxPC {
		t.unionMaxPC = t.pc
	}
	t.pc = t.unionMaxPC
	t.unionDepth--
	return nil
}

// StartLoadBlock opens a LOAD block: PC is shadowed by a virtual PC at org,
// while emitted bytes continue to flow into the real current section
// (spec.md §3 invariant).
func (t *Table) StartLoadBlock(org uint16) error {
	if _, err := t.requireOpen(); err != nil {
		return err
	}
	if t.loadDepth > 0 {
		return fmt.Errorf("section: nested LOAD blocks are not supported")
	}
	t.loadDepth++
	t.loadOrg = org
	t.loadPC = int32(org)
	t.loadUnderlyingID = t.curID
	return nil
}

// EndLoadBlock closes the LOAD block, returning PC reporting to the
// underlying section's real cursor.
func (t *Table) EndLoadBlock() error {
	if t.loadDepth == 0 {
		return fmt.Errorf("section: ENDL without LOAD")
	}
	t.loadDepth--
	return nil
}

// InLoadBlock reports whether a LOAD block is currently open.
func (t *Table) InLoadBlock() bool { return t.loadDepth > 0 }

func (t *Table) advance(n int32) {
	t.pc += n
	if t.loadDepth > 0 {
		t.loadPC += n
	}
}

// checkSpace validates growth by n bytes against the section's declared
// size, if fixed, and the region size.
func (t *Table) checkSpace(sec *Section, n int32) error {
	pc := t.pc
	if sec.declSize > 0 && pc+n > sec.declSize {
		return fmt.Errorf("section: %q would exceed its declared size", sec.Name)
	}
	region := sect.Lookup(sec.Type, sect.ModeDefault)
	if int32(pc)+n > int32(region.Size) {
		return fmt.Errorf("section: %q would exceed region %s's size", sec.Name, sec.Type)
	}
	return nil
}

func (t *Table) writeBytes(b []byte) error {
	sec, err := t.requireOpen()
	if err != nil {
		return err
	}
	if !sec.HasData() {
		return fmt.Errorf("section: cannot emit data into non-data-bearing section %q", sec.Name)
	}
	if err := t.checkSpace(sec, int32(len(b))); err != nil {
		return err
	}
	if t.unionDepth > 0 {
		// Arms share one region; a later arm overwrites an earlier one's
		// bytes freely. Agreement across same-named UNION arms is checked
		// at link time (internal/link/merge), not here.
		for i, nb := range b {
			idx := int(t.pc) + i
			if idx < len(sec.Data) {
				sec.Data[idx] = nb
				continue
			}
			sec.Data = append(sec.Data, nb)
		}
	} else {
		idx := int(t.pc)
		for len(sec.Data) < idx {
			sec.Data = append(sec.Data, 0)
		}
		if idx == len(sec.Data) {
			sec.Data = append(sec.Data, b...)
		} else {
			copy(sec.Data[idx:], b)
		}
	}
	if sec.Size < t.pc+int32(len(b)) {
		sec.Size = t.pc + int32(len(b))
	}
	t.advance(int32(len(b)))
	return nil
}

// AbsByte emits a single known byte.
func (t *Table) AbsByte(b byte) error { return t.writeBytes([]byte{b}) }

// ByteGroup emits a run of known bytes (e.g. a db/dw/dl literal list).
func (t *Table) ByteGroup(bs []byte) error { return t.writeBytes(bs) }

// Skip reserves n bytes. fillWithDS writes n copies of the pad byte (ds)
// through writeBytes; otherwise it only advances PC and grows Size without
// touching Data, which non-data-bearing sections also accept, with
// checkSpace's declared-size and region bounds still applied.
func (t *Table) Skip(n int32, fillWithDS bool) error {
	if fillWithDS {
		fill := make([]byte, n)
		for i := range fill {
			fill[i] = t.padByte
		}
		return t.writeBytes(fill)
	}
	sec, err := t.requireOpen()
	if err != nil {
		return err
	}
	if err := t.checkSpace(sec, n); err != nil {
		return err
	}
	if sec.Size < t.pc+n {
		sec.Size = t.pc + n
	}
	t.advance(n)
	return nil
}

// RelExpr emits width bytes (1, 2, or 4) for expr, deferring to a patch if
// expr isn't known yet.
func (t *Table) RelExpr(width int, expr rpn.Expr, fileNodeID, line int) error {
	sec, err := t.requireOpen()
	if err != nil {
		return err
	}
	if expr.IsKnown() {
		return t.writeBytes(encodeWidth(expr.Value(), width))
	}
	offset := t.pc
	if err := t.writeBytes(make([]byte, width)); err != nil {
		return err
	}
	var pt PatchType
	switch width {
	case 1:
		pt = Byte
	case 2:
		pt = Word
	case 4:
		pt = Long
	default:
		return fmt.Errorf("section: unsupported patch width %d", width)
	}
	sec.Patches = append(sec.Patches, Patch{
		FileNodeID: fileNodeID, Line: line, SectionID: sec.ID,
		Offset: offset, Type: pt, Expr: expr,
	})
	return nil
}

// PCRelByte emits the single-byte PC-relative displacement used by jr,
// deferring to a patch (type JR) when expr isn't known yet. fromOffset is
// the offset of the byte following the displacement, the JR instruction's
// reference point.
func (t *Table) PCRelByte(expr rpn.Expr, fileNodeID, line int) error {
	sec, err := t.requireOpen()
	if err != nil {
		return err
	}
	offset := t.pc
	fromOffset := offset + 1
	// A jr target can only be folded immediately when the section's org is
	// fixed; a floating section's final address isn't known until the
	// linker places it, so this fast path only applies to ORG-pinned code.
	if expr.IsKnown() && sec.HasOrg {
		delta := expr.Value() - (int32(sec.Org) + fromOffset)
		if delta < -128 || delta > 127 {
			return fmt.Errorf("section: jr target out of range (%d)", delta)
		}
		return t.writeBytes([]byte{byte(int8(delta))})
	}
	if err := t.writeBytes([]byte{0}); err != nil {
		return err
	}
	sec.Patches = append(sec.Patches, Patch{
		FileNodeID: fileNodeID, Line: line, SectionID: sec.ID,
		Offset: offset, Type: JR, Expr: expr, JRFromOffset: fromOffset,
	})
	return nil
}

func encodeWidth(v int32, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// BinaryFile emits raw bytes read from an external file (INCBIN), already
// sliced to [start, start+length) by the caller.
func (t *Table) BinaryFile(data []byte) error { return t.writeBytes(data) }
