package merge

import (
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/objfile"
	"github.com/gbdev/rgbds-sub001/internal/sect"
	"github.com/gbdev/rgbds-sub001/internal/section"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

func TestFragmentsConcatenateAcrossObjects(t *testing.T) {
	a := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "Shared", Size: 2, Type: sect.WRAM0, Modifier: section.Fragment, Org: -1, Bank: -1, Next: -1, Data: []byte{0xAA, 0xBB}},
		},
	}
	b := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "Shared", Size: 2, Type: sect.WRAM0, Modifier: section.Fragment, Org: -1, Bank: -1, Next: -1, Data: []byte{0xCC, 0xDD}},
		},
	}

	res, err := Merge([]*objfile.Object{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 1 {
		t.Fatalf("expected one merged section, got %d", len(res.Sections))
	}
	got := res.Sections[0]
	if got.Size != 4 {
		t.Fatalf("expected merged size 4, got %d", got.Size)
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	for i, b := range want {
		if got.Data[i] != b {
			t.Fatalf("byte %d: got %#x, want %#x", i, got.Data[i], b)
		}
	}
}

func TestUnionOverlayDetectsConflict(t *testing.T) {
	a := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "U", Size: 2, Type: sect.WRAM0, Modifier: section.Union, Org: -1, Bank: -1, Next: -1, Data: []byte{0x01, 0x00}},
		},
	}
	b := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "U", Size: 2, Type: sect.WRAM0, Modifier: section.Union, Org: -1, Bank: -1, Next: -1, Data: []byte{0x02, 0x00}},
		},
	}
	if _, err := Merge([]*objfile.Object{a, b}); err == nil {
		t.Fatal("expected a conflicting UNION overlay to be rejected")
	}
}

func TestUnionOverlayAgreeingBytesMerge(t *testing.T) {
	a := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "U", Size: 2, Type: sect.WRAM0, Modifier: section.Union, Org: -1, Bank: -1, Next: -1, Data: []byte{0x01, 0x00}},
		},
	}
	b := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "U", Size: 2, Type: sect.WRAM0, Modifier: section.Union, Org: -1, Bank: -1, Next: -1, Data: []byte{0x00, 0x02}},
		},
	}
	res, err := Merge([]*objfile.Object{a, b})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x02}
	for i, bb := range want {
		if res.Sections[0].Data[i] != bb {
			t.Fatalf("byte %d: got %#x, want %#x", i, res.Sections[0].Data[i], bb)
		}
	}
}

func TestDuplicateNormalSectionIsAnError(t *testing.T) {
	a := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "Main", Size: 1, Type: sect.ROM0, Modifier: section.Normal, Org: -1, Bank: -1, Next: -1, Data: []byte{0x00}},
		},
	}
	b := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "Main", Size: 1, Type: sect.ROM0, Modifier: section.Normal, Org: -1, Bank: -1, Next: -1, Data: []byte{0x01}},
		},
	}
	if _, err := Merge([]*objfile.Object{a, b}); err == nil {
		t.Fatal("expected a section defined in two objects to be rejected")
	}
}

func TestLabelSymbolResolvesToGlobalSection(t *testing.T) {
	obj := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{Name: "Code", Size: 4, Type: sect.ROM0, Modifier: section.Normal, Org: -1, Bank: -1, Next: -1, Data: make([]byte, 4)},
		},
		Symbols: []objfile.SymbolRecord{
			{Name: "Start", Type: symbol.LABEL, SectionID: 0, Value: 2},
			{Name: "Target", Type: symbol.REF, SectionID: -1},
		},
	}
	res, err := Merge([]*objfile.Object{obj})
	if err != nil {
		t.Fatal(err)
	}
	sym, ok := res.Symbols["Start"]
	if !ok || !sym.IsLabel {
		t.Fatalf("expected Start to resolve as a label, got %+v", sym)
	}
	if sym.SectionID != 0 || sym.Offset != 2 {
		t.Fatalf("got section %d offset %d, want 0, 2", sym.SectionID, sym.Offset)
	}
	if _, ok := res.Symbols["Target"]; ok {
		t.Fatal("REF symbols must not appear in the global symbol table")
	}
	name, ok := res.SymbolName(0, 1)
	if !ok || name != "Target" {
		t.Fatalf("SymbolName(0, 1) = %q, %v; want Target, true", name, ok)
	}
}

func TestPatchesCarryOriginatingObjectIndex(t *testing.T) {
	a := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{
				Name: "Shared", Size: 1, Type: sect.ROM0, Modifier: section.Fragment, Org: -1, Bank: -1, Next: -1,
				Data:    []byte{0x00},
				Patches: []objfile.PatchRecord{{Offset: 0, Type: section.Byte}},
			},
		},
	}
	b := &objfile.Object{
		Sections: []objfile.SectionRecord{
			{
				Name: "Shared", Size: 1, Type: sect.ROM0, Modifier: section.Fragment, Org: -1, Bank: -1, Next: -1,
				Data:    []byte{0x00},
				Patches: []objfile.PatchRecord{{Offset: 0, Type: section.Byte}},
			},
		},
	}
	res, err := Merge([]*objfile.Object{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections[0].Patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(res.Sections[0].Patches))
	}
	if res.Sections[0].Patches[0].ObjIdx != 0 || res.Sections[0].Patches[1].ObjIdx != 1 {
		t.Fatalf("patches did not retain their originating object index: %+v", res.Sections[0].Patches)
	}
	if res.Sections[0].Patches[1].Offset != 1 {
		t.Fatalf("expected second piece's patch to be offset-shifted to 1, got %d", res.Sections[0].Patches[1].Offset)
	}
}
