package objfile

import (
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/fstack"
	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/sect"
	"github.com/gbdev/rgbds-sub001/internal/section"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

func TestWriteReadRoundTrip(t *testing.T) {
	arena := fstack.NewArena()
	arena.PushFile("main.asm", -1, 0)

	symtab := symbol.New(16)
	if err := symtab.Define("Start", "", &symbol.Symbol{
		Type: symbol.LABEL, SectionID: 0, Offset: 0,
		Loc: symbol.Location{FileNodeID: 0, Line: 1},
	}); err != nil {
		t.Fatal(err)
	}

	secs := section.New()
	id, err := secs.NewSection("Main", sect.ROM0, section.Normal, 0, true, 0x0150, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := secs.PushSection(id); err != nil {
		t.Fatal(err)
	}
	if err := secs.ByteGroup([]byte{0xC9}); err != nil {
		t.Fatal(err)
	}
	unknown := rpn.SymbolRef(7, false, 0)
	if err := secs.RelExpr(2, unknown, 0, 5); err != nil {
		t.Fatal(err)
	}

	data, err := Write(arena, symtab, secs, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	obj, err := Read(data)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Revision != revision {
		t.Fatalf("got revision %d", obj.Revision)
	}
	if len(obj.Nodes) != 1 || obj.Nodes[0].Name != "main.asm" {
		t.Fatalf("got nodes %+v", obj.Nodes)
	}
	if len(obj.Symbols) != 1 || obj.Symbols[0].Name != "Start" {
		t.Fatalf("got symbols %+v", obj.Symbols)
	}
	if len(obj.Sections) != 1 {
		t.Fatalf("got sections %+v", obj.Sections)
	}
	sec := obj.Sections[0]
	if sec.Name != "Main" || sec.Org != 0x0150 {
		t.Fatalf("got section %+v", sec)
	}
	if len(sec.Patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(sec.Patches))
	}
	if len(sec.Data) != int(sec.Size) {
		t.Fatalf("expected data padded to declared size %d, got %d", sec.Size, len(sec.Data))
	}
}

func TestRejectsBadMagic(t *testing.T) {
	if _, err := Read([]byte("NOPE")); err == nil {
		t.Fatalf("expected bad magic to be rejected")
	}
}

func TestSafeBufferPanicsAfterCommit(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic writing to a committed buffer")
		}
	}()
	sb := NewSafeBuffer("t")
	sb.Commit()
	sb.Write([]byte{1})
}
