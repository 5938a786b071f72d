package statedump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/charmap"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

func TestParseFeaturesAll(t *testing.T) {
	f, err := ParseFeatures("all")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []Feature{FeatureEqu, FeatureVar, FeatureEqus, FeatureChar, FeatureMacro} {
		if !f[want] {
			t.Fatalf("expected feature %d set under all", want)
		}
	}
}

func TestParseFeaturesSubset(t *testing.T) {
	f, err := ParseFeatures("equ,macro")
	if err != nil {
		t.Fatal(err)
	}
	if !f[FeatureEqu] || !f[FeatureMacro] {
		t.Fatalf("expected equ and macro set, got %v", f)
	}
	if f[FeatureVar] || f[FeatureChar] || f[FeatureEqus] {
		t.Fatalf("expected only requested features set, got %v", f)
	}
}

func TestParseFeaturesRejectsUnknown(t *testing.T) {
	if _, err := ParseFeatures("bogus"); err == nil {
		t.Fatalf("expected error for unknown feature")
	}
}

func TestWriteEquAndEqus(t *testing.T) {
	tab := symbol.New(16)
	tab.Define("VERSION", "", &symbol.Symbol{Name: "VERSION", Type: symbol.EQU, IntValue: 3})
	tab.Define("GREETING", "", &symbol.Symbol{Name: "GREETING", Type: symbol.EQUS, StrValue: "hi"})

	var buf bytes.Buffer
	err := Write(&buf, map[Feature]bool{FeatureEqu: true, FeatureEqus: true}, tab, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "VERSION EQU 3") {
		t.Fatalf("missing EQU dump: %q", out)
	}
	if !strings.Contains(out, `GREETING EQUS "hi"`) {
		t.Fatalf("missing EQUS dump: %q", out)
	}
}

func TestWriteMacros(t *testing.T) {
	var buf bytes.Buffer
	macros := []MacroBody{{Name: "DoThing", Body: "  ld a, 1\n  ret"}}
	if err := Write(&buf, map[Feature]bool{FeatureMacro: true}, symbol.New(16), nil, macros); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "MACRO DoThing") || !strings.Contains(out, "ENDM") {
		t.Fatalf("missing macro dump: %q", out)
	}
}

func TestWriteCharmapEntries(t *testing.T) {
	reg := charmap.NewRegistry()
	reg.Current().Add("A", []uint8{1, 2})
	var buf bytes.Buffer
	if err := Write(&buf, map[Feature]bool{FeatureChar: true}, symbol.New(16), reg, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `CHARMAP "A", 1, 2`) {
		t.Fatalf("missing charmap dump: %q", buf.String())
	}
}
