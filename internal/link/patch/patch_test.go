package patch

import (
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/section"
)

type fakeResolver struct {
	values map[uint32]int32
	banks  map[uint32]int32
}

func (f fakeResolver) Value(id uint32) (int32, error) { return f.values[id], nil }
func (f fakeResolver) Bank(id uint32) (int32, error)   { return f.banks[id], nil }

func noSectionBank(string) (int32, error) { return 0, nil }

func TestApplyByteWidth(t *testing.T) {
	data := make([]byte, 4)
	p := section.Patch{Offset: 1, Type: section.Byte, Expr: rpn.Const(0x7F)}
	if err := Apply(p, data, fakeResolver{}, noSectionBank, 0, nil); err != nil {
		t.Fatal(err)
	}
	if data[1] != 0x7F {
		t.Fatalf("got %v", data)
	}
}

func TestApplyWordOutOfRangeFails(t *testing.T) {
	data := make([]byte, 4)
	p := section.Patch{Offset: 0, Type: section.Word, Expr: rpn.Const(100000)}
	if err := Apply(p, data, fakeResolver{}, noSectionBank, 0, nil); err == nil {
		t.Fatalf("expected out-of-range word to fail")
	}
}

func TestJRComputesRelativeOffset(t *testing.T) {
	data := make([]byte, 4)
	p := section.Patch{Offset: 2, Type: section.JR, Expr: rpn.Const(0x110), SectionID: 0, JRFromOffset: 3}
	addrOf := func(id int) (int, uint16, bool) { return 0, 0x100, true }
	if err := Apply(p, data, fakeResolver{}, noSectionBank, 0, addrOf); err != nil {
		t.Fatal(err)
	}
	// target 0x110, from = 0x100+3 = 0x103, delta = 0x0D
	if int8(data[2]) != 0x0D {
		t.Fatalf("got delta %d", int8(data[2]))
	}
}

func TestJROutOfRangeFails(t *testing.T) {
	data := make([]byte, 4)
	p := section.Patch{Offset: 0, Type: section.JR, Expr: rpn.Const(0x300), SectionID: 0, JRFromOffset: 1}
	addrOf := func(id int) (int, uint16, bool) { return 0, 0x100, true }
	if err := Apply(p, data, fakeResolver{}, noSectionBank, 0, addrOf); err == nil {
		t.Fatalf("expected far jr target to fail")
	}
}
