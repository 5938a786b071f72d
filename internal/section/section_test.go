package section

import (
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/sect"
)

func mustSection(t *testing.T, tbl *Table, name string, typ sect.Type, mod Modifier) int {
	t.Helper()
	id, err := tbl.NewSection(name, typ, mod, 0, false, 0, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestEmitAdvancesPC(t *testing.T) {
	tbl := New()
	id := mustSection(t, tbl, "Main", sect.ROM0, Normal)
	if err := tbl.PushSection(id); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if tbl.PC() != 3 {
		t.Fatalf("expected PC 3, got %d", tbl.PC())
	}
	sec, _ := tbl.Get(id)
	if len(sec.Data) != 3 {
		t.Fatalf("expected 3 bytes written, got %d", len(sec.Data))
	}
}

func TestFragmentSectionsChain(t *testing.T) {
	tbl := New()
	id1 := mustSection(t, tbl, "Shared", sect.ROM0, Fragment)
	id2, err := tbl.NewSection("Shared", sect.ROM0, Fragment, 0, false, 0, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	sec1, _ := tbl.Get(id1)
	if sec1.Next != id2 {
		t.Fatalf("expected first piece to chain to second, got next=%d want=%d", sec1.Next, id2)
	}
}

func TestUnionArmsMustAgreeOnOverlap(t *testing.T) {
	tbl := New()
	id := mustSection(t, tbl, "U", sect.WRAM0, Union)
	if err := tbl.PushSection(id); err != nil {
		t.Fatal(err)
	}
	if err := tbl.BeginUnion(); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.NextUnion(); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.NextUnion(); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{9}); err == nil {
		t.Fatalf("expected conflicting overlapping byte to error")
	}
	if err := tbl.EndUnion(); err != nil {
		t.Fatal(err)
	}
	sec, _ := tbl.Get(id)
	if sec.Size != 3 {
		t.Fatalf("expected union size to be widest arm (3), got %d", sec.Size)
	}
}

func TestCannotChangeSectionInsideUnion(t *testing.T) {
	tbl := New()
	id1 := mustSection(t, tbl, "U", sect.WRAM0, Union)
	id2 := mustSection(t, tbl, "Other", sect.WRAM0, Normal)
	if err := tbl.PushSection(id1); err != nil {
		t.Fatal(err)
	}
	if err := tbl.BeginUnion(); err != nil {
		t.Fatal(err)
	}
	if err := tbl.PushSection(id2); err == nil {
		t.Fatalf("expected switching sections inside UNION to fail")
	}
}

func TestLoadBlockSharesUnderlyingData(t *testing.T) {
	tbl := New()
	id := mustSection(t, tbl, "Main", sect.ROM0, Normal)
	if err := tbl.PushSection(id); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{0xAA}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.StartLoadBlock(0x4000); err != nil {
		t.Fatal(err)
	}
	if tbl.PC() != 0x4000 {
		t.Fatalf("expected virtual PC 0x4000, got %#x", tbl.PC())
	}
	if err := tbl.ByteGroup([]byte{0xBB}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.EndLoadBlock(); err != nil {
		t.Fatal(err)
	}
	if tbl.PC() != 2 {
		t.Fatalf("expected real PC to resume at 2, got %d", tbl.PC())
	}
	sec, _ := tbl.Get(id)
	if len(sec.Data) != 2 || sec.Data[1] != 0xBB {
		t.Fatalf("expected LOAD block bytes to land in underlying section, got %v", sec.Data)
	}
}

func TestRelExprDefersUnknownToPatch(t *testing.T) {
	tbl := New()
	id := mustSection(t, tbl, "Main", sect.ROM0, Normal)
	if err := tbl.PushSection(id); err != nil {
		t.Fatal(err)
	}
	unknown := rpn.SymbolRef(1, false, 0)
	if err := tbl.RelExpr(2, unknown, 0, 1); err != nil {
		t.Fatal(err)
	}
	sec, _ := tbl.Get(id)
	if len(sec.Patches) != 1 || sec.Patches[0].Type != Word {
		t.Fatalf("expected one word patch recorded, got %+v", sec.Patches)
	}
}

func TestSpaceExceededIsRejected(t *testing.T) {
	tbl := New()
	id, err := tbl.NewSection("Tiny", sect.HRAM, Normal, 2, false, 0, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.PushSection(id); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ByteGroup([]byte{3}); err == nil {
		t.Fatalf("expected exceeding declared size to fail")
	}
}
