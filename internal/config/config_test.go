package config

import "testing"

func TestLoadAssemblerDefaults(t *testing.T) {
	a := LoadAssembler()
	if a.MaxRecursion != 64 {
		t.Fatalf("expected default max recursion 64, got %d", a.MaxRecursion)
	}
	if a.FixedPointBits != 16 {
		t.Fatalf("expected default Q bits 16, got %d", a.FixedPointBits)
	}
}

func TestLoadAssemblerHonorsEnvOverrides(t *testing.T) {
	t.Setenv(envAsmMaxErrors, "5")
	t.Setenv(envAsmUnionPad, "255")
	t.Setenv(envAsmIncludePath, "include:vendor/include")

	a := LoadAssembler()
	if a.MaxErrors != 5 {
		t.Fatalf("expected MaxErrors 5, got %d", a.MaxErrors)
	}
	if a.UnionPadByte != 0xFF {
		t.Fatalf("expected UnionPadByte 0xFF, got %#x", a.UnionPadByte)
	}
	if len(a.IncludePaths) != 2 || a.IncludePaths[0] != "include" || a.IncludePaths[1] != "vendor/include" {
		t.Fatalf("got %v", a.IncludePaths)
	}
}

func TestLoadLinkerDefaults(t *testing.T) {
	l := LoadLinker()
	if l.PadByte != 0 {
		t.Fatalf("expected default pad byte 0, got %#x", l.PadByte)
	}
}
