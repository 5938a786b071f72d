package script

import (
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/link/assign"
	"github.com/gbdev/rgbds-sub001/internal/sect"
)

func TestBasicPlacement(t *testing.T) {
	src := "ROM0\nORG $150\n\"Main\"\n"
	prog, err := Run(src, sect.ModeDefault, nil, map[string]uint16{"Main": 0x10})
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Placements) != 1 {
		t.Fatalf("expected 1 placement, got %d", len(prog.Placements))
	}
	p := prog.Placements[0]
	if p.Name != "Main" || p.Org != 0x150 || p.Type != sect.ROM0 {
		t.Fatalf("got %+v", p)
	}
}

func TestOrgMustNotDecrease(t *testing.T) {
	src := "ROM0\nORG $200\nORG $100\n"
	if _, err := Run(src, sect.ModeDefault, nil, nil); err == nil {
		t.Fatalf("expected decreasing ORG to fail")
	}
}

func TestAlignAdvancesPC(t *testing.T) {
	src := "ROM0\nORG $101\nALIGN 8\n\"Aligned\"\n"
	prog, err := Run(src, sect.ModeDefault, nil, map[string]uint16{"Aligned": 1})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Placements[0].Org != 0x200 {
		t.Fatalf("expected align-8 from $101 to reach $200, got $%04x", prog.Placements[0].Org)
	}
}

func TestFloatingDefersPlacement(t *testing.T) {
	src := "ROMX 1\nFLOATING\n\"Float\"\n"
	prog, err := Run(src, sect.ModeDefault, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if prog.Placements[0].HasOrg {
		t.Fatalf("expected floating placement to carry no fixed org")
	}
	if prog.Placements[0].Bank != 1 {
		t.Fatalf("expected bank 1, got %d", prog.Placements[0].Bank)
	}
}

func TestOptionalSkipsUndefinedSection(t *testing.T) {
	prog := &Program{Placements: []Placement{{Name: "Ghost", Optional: true, HasOrg: true, Org: 0x100}}}
	secs := []assign.Section{{Name: "Real", Type: sect.ROM0}}
	out, err := Apply(prog, secs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestMissingRequiredSectionErrors(t *testing.T) {
	prog := &Program{Placements: []Placement{{Name: "Missing", HasOrg: true, Org: 0x100}}}
	secs := []assign.Section{{Name: "Real", Type: sect.ROM0}}
	if _, err := Apply(prog, secs); err == nil {
		t.Fatalf("expected missing required section to error")
	}
}

func TestIncludeRespectsDepthLimit(t *testing.T) {
	loader := func(path string) (string, error) {
		return "ROM0\nINCLUDE \"next\"\n", nil
	}
	_, err := Run("ROM0\nINCLUDE \"first\"\n", sect.ModeDefault, loader, nil)
	if err == nil {
		t.Fatalf("expected infinite include recursion to hit the depth cap")
	}
}
