package rpn

import "testing"

func TestConstFoldsEagerly(t *testing.T) {
	e, err := Add(Const(2), Const(3))
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsKnown() || e.Value() != 5 {
		t.Fatalf("expected folded 5, got known=%v value=%d", e.IsKnown(), e.Value())
	}
}

func TestUnknownSymbolDefersAndEvaluates(t *testing.T) {
	e := SymbolRef(42, false, 0)
	if e.IsKnown() {
		t.Fatalf("expected unresolved symbol to stay unknown at build time")
	}
	combined, err := Add(e, Const(10))
	if err != nil {
		t.Fatal(err)
	}
	if combined.IsKnown() {
		t.Fatalf("expected combination with unknown operand to stay unknown")
	}

	res := fakeResolver{values: map[uint32]int32{42: 100}}
	v, err := Eval(combined.Bytes(), res, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 110 {
		t.Fatalf("expected 110, got %d", v)
	}
}

func TestDivisionByZeroIsFatal(t *testing.T) {
	if _, err := Div(Const(4), Const(0)); err == nil {
		t.Fatalf("expected division by zero error")
	}
}

func TestShiftOutOfRangeIsFatal(t *testing.T) {
	if _, err := Shl(Const(1), Const(32)); err == nil {
		t.Fatalf("expected shift-out-of-range error")
	}
	if _, err := Shl(Const(1), Const(-1)); err == nil {
		t.Fatalf("expected shift-out-of-range error for negative amount")
	}
}

func TestOverflowWrapsSilently(t *testing.T) {
	e, err := Add(Const(0x7FFFFFFF), Const(1))
	if err != nil {
		t.Fatal(err)
	}
	if e.Value() != int32(-0x80000000) {
		t.Fatalf("expected silent wraparound, got %d", e.Value())
	}
}

func TestHRAMCheck(t *testing.T) {
	e, err := HRAMCheck(Const(0xFF40))
	if err != nil {
		t.Fatal(err)
	}
	if e.Value() != 0x40 {
		t.Fatalf("expected masked low byte 0x40, got %#x", e.Value())
	}
	if _, err := HRAMCheck(Const(0x8000)); err == nil {
		t.Fatalf("expected out-of-range HRAM address to fail")
	}
}

func TestRSTCheck(t *testing.T) {
	e, err := RSTCheck(Const(0x08))
	if err != nil {
		t.Fatal(err)
	}
	if e.Value() != 0xCF {
		t.Fatalf("expected 0xCF, got %#x", e.Value())
	}
	if _, err := RSTCheck(Const(0x05)); err == nil {
		t.Fatalf("expected non-multiple-of-8 RST vector to fail")
	}
}

type fakeResolver struct {
	values map[uint32]int32
	banks  map[uint32]int32
}

func (r fakeResolver) Value(id uint32) (int32, error) { return r.values[id], nil }
func (r fakeResolver) Bank(id uint32) (int32, error)  { return r.banks[id], nil }

func TestSectionBankRefRoundTrips(t *testing.T) {
	e := SectionBankRef("Header")
	v, err := Eval(e.Bytes(), fakeResolver{}, func(name string) (int32, error) {
		if name != "Header" {
			t.Fatalf("unexpected section name %q", name)
		}
		return 3, nil
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 3 {
		t.Fatalf("expected bank 3, got %d", v)
	}
}
