// Package merge combines the sections and symbols of every object file
// handed to the linker into one global address space: FRAGMENT pieces
// declared under the same name in different translation units are
// concatenated, UNION pieces are overlaid, and every patch's section id is
// renumbered to its global section index. A patch's RPN bytes are copied
// unchanged; their object-local symbol ids are resolved through the patch's
// ObjIdx and Result.SymbolName (spec.md §4.9-§4.10, the half
// of linking that has to happen before internal/link/assign can place
// anything).
package merge

import (
	"fmt"

	"github.com/gbdev/rgbds-sub001/internal/link/assign"
	"github.com/gbdev/rgbds-sub001/internal/objfile"
	"github.com/gbdev/rgbds-sub001/internal/sect"
	"github.com/gbdev/rgbds-sub001/internal/section"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

// GlobalSection is one distinct named section after every same-named
// FRAGMENT/UNION piece, across every object linked, has been folded into
// one contiguous byte buffer and patch list.
type GlobalSection struct {
	assign.Section
	Data    []byte
	Patches []Patch
}

// Patch pairs a merged, offset-adjusted patch with the object whose symbol
// table its RPN's symbol-id references are relative to: a patch moved from
// its original object into a cross-object FRAGMENT chain still embeds
// symbol ids local to the object that wrote it.
type Patch struct {
	section.Patch
	ObjIdx int
}

// Symbol is one name's global definition, resolved across every object.
type Symbol struct {
	Name      string
	IsLabel   bool
	SectionID int   // global section index, valid when IsLabel
	Offset    int32 // section-relative offset, valid when IsLabel
	Value     int32 // valid for EQU/VAR/EQUS
}

// Result is the fully merged, renumbered view of every linked object, ready
// for internal/link/assign.Run followed by internal/link/patch.Apply.
type Result struct {
	Sections []GlobalSection
	Symbols  map[string]*Symbol

	// localSection maps (object index, local section id) to the global
	// section index that local section's bytes ended up in.
	localSection map[objRef]int
	// localSymbolName maps (object index, local symbol id) to the resolved
	// global symbol name, for patch expressions referencing it by index.
	localSymbolName map[objRef]string
}

type objRef struct {
	obj int
	id  int
}

// SymbolName resolves a patch's object-local symbol id (the index
// internal/rpn.SymbolRef embedded at assemble time) to the name it
// refers to, for building an rpn.SymbolResolver over Symbols.
func (r *Result) SymbolName(objIdx, localID int) (string, bool) {
	name, ok := r.localSymbolName[objRef{objIdx, localID}]
	return name, ok
}

type chain struct {
	headName string
	modifier section.Modifier
	typ      sect.Type
	hasOrg   bool
	org      uint16
	hasBank  bool
	bank     int
	alignExp uint8
	alignOff uint16
	pieces []objfile.SectionRecord
	refs   []objRef // (object, local id) of each piece, same order as pieces
}

// Merge folds every object's sections and symbols into one global space.
// objs must be in link-command-line order: FRAGMENT/UNION pieces merge in
// that order across file boundaries, matching the original single-binary
// assembler's left-to-right concatenation.
func Merge(objs []*objfile.Object) (*Result, error) {
	r := &Result{
		Symbols:         make(map[string]*Symbol),
		localSection:    make(map[objRef]int),
		localSymbolName: make(map[objRef]string),
	}

	groupOrder := []string{}
	groups := make(map[string]*chain)

	for objIdx, obj := range objs {
		referenced := make(map[int]bool, len(obj.Sections))
		for _, s := range obj.Sections {
			if s.Next >= 0 {
				referenced[int(s.Next)] = true
			}
		}
		for localID, s := range obj.Sections {
			if referenced[localID] {
				continue // not a chain head, visited while walking its head
			}
			g, ok := groups[s.Name]
			if !ok {
				g = &chain{
					headName: s.Name, modifier: s.Modifier, typ: s.Type,
					hasOrg: s.Org >= 0, hasBank: s.Bank >= 0,
					alignExp: s.AlignExp, alignOff: s.AlignOffset,
				}
				if g.hasOrg {
					g.org = uint16(s.Org)
				}
				if g.hasBank {
					g.bank = int(s.Bank)
				}
				groups[s.Name] = g
				groupOrder = append(groupOrder, s.Name)
			} else if g.modifier != s.Modifier || g.typ != s.Type {
				return nil, fmt.Errorf("merge: section %q redeclared with a different type or modifier across objects", s.Name)
			} else if g.modifier == section.Normal {
				return nil, fmt.Errorf("merge: section %q is defined in more than one object file", s.Name)
			}

			id := localID
			for {
				piece := obj.Sections[id]
				g.pieces = append(g.pieces, piece)
				g.refs = append(g.refs, objRef{objIdx, id})
				if piece.Next < 0 {
					break
				}
				id = int(piece.Next)
			}
		}
	}

	for _, name := range groupOrder {
		g := groups[name]
		gs, err := foldChain(g)
		if err != nil {
			return nil, fmt.Errorf("merge: section %q: %w", name, err)
		}
		globalID := len(r.Sections)
		for i := range gs.Patches {
			gs.Patches[i].SectionID = globalID
		}
		r.Sections = append(r.Sections, gs)
		for _, ref := range g.refs {
			r.localSection[ref] = globalID
		}
	}

	if err := mergeSymbols(r, objs); err != nil {
		return nil, err
	}

	return r, nil
}

func foldChain(g *chain) (GlobalSection, error) {
	alignMask := uint16(0)
	if g.alignExp > 0 {
		alignMask = uint16(1<<uint(g.alignExp)) - 1
	}
	base := assign.Section{
		Name: g.headName, Type: g.typ,
		HasOrg: g.hasOrg, Org: g.org, HasBank: g.hasBank, Bank: g.bank,
		AlignMask: alignMask, AlignOffset: g.alignOff,
	}

	switch g.modifier {
	case section.Normal:
		p := g.pieces[0]
		base.Size = int32(p.Size)
		return GlobalSection{Section: base, Data: p.Data, Patches: patchesOf(p, g.refs[0].obj, 0)}, nil

	case section.Fragment:
		var data []byte
		var patches []Patch
		var offset int32
		for i, p := range g.pieces {
			data = append(data, padTo(p.Data, p.Size)...)
			patches = append(patches, patchesOf(p, g.refs[i].obj, offset)...)
			offset += int32(p.Size)
		}
		base.Size = offset
		return GlobalSection{Section: base, Data: data, Patches: patches}, nil

	case section.Union:
		var maxSize int32
		for _, p := range g.pieces {
			if int32(p.Size) > maxSize {
				maxSize = int32(p.Size)
			}
		}
		data := make([]byte, maxSize)
		for _, p := range g.pieces {
			bytes := padTo(p.Data, p.Size)
			for i, b := range bytes {
				if b == 0 {
					continue
				}
				if data[i] != 0 && data[i] != b {
					return GlobalSection{}, fmt.Errorf("UNION arms disagree on overlapping byte at offset %d", i)
				}
				data[i] = b
			}
		}
		var patches []Patch
		for i, p := range g.pieces {
			patches = append(patches, patchesOf(p, g.refs[i].obj, 0)...)
		}
		base.Size = maxSize
		return GlobalSection{Section: base, Data: data, Patches: patches}, nil
	}
	return GlobalSection{}, fmt.Errorf("unknown section modifier %d", g.modifier)
}

func padTo(data []byte, size uint32) []byte {
	if uint32(len(data)) >= size {
		return data[:size]
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

func patchesOf(p objfile.SectionRecord, objIdx int, offsetShift int32) []Patch {
	out := make([]Patch, 0, len(p.Patches))
	for _, pr := range p.Patches {
		out = append(out, Patch{
			ObjIdx: objIdx,
			Patch: section.Patch{
				FileNodeID: pr.FileNodeID, Line: pr.Line,
				Offset: int32(pr.Offset) + offsetShift,
				Type:   pr.Type, Expr: pr.Expr(),
				JRFromOffset: int32(pr.JRFromOffset) + offsetShift,
			},
		})
	}
	return out
}

func mergeSymbols(r *Result, objs []*objfile.Object) error {
	for objIdx, obj := range objs {
		for localID, sym := range obj.Symbols {
			r.localSymbolName[objRef{objIdx, localID}] = sym.Name
			if sym.Type == symbol.REF {
				continue
			}
			if _, dup := r.Symbols[sym.Name]; dup {
				return fmt.Errorf("merge: symbol %q is defined in more than one object file", sym.Name)
			}
			gs := &Symbol{Name: sym.Name}
			if sym.Type == symbol.LABEL {
				gid, ok := r.localSection[objRef{objIdx, sym.SectionID}]
				if !ok {
					return fmt.Errorf("merge: symbol %q refers to an unknown section", sym.Name)
				}
				gs.IsLabel = true
				gs.SectionID = gid
				gs.Offset = sym.Value
			} else {
				gs.Value = sym.Value
			}
			r.Symbols[sym.Name] = gs
		}
	}
	return nil
}
