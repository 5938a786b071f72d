package fstack

import (
	"strings"
	"testing"

	"github.com/gbdev/rgbds-sub001/internal/diag"
)

func TestPushPopBalances(t *testing.T) {
	a := NewArena()
	s := NewStack(a, 0)
	if _, err := s.PushFile("main.asm", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushFile("util.inc", 5); err != nil {
		t.Fatal(err)
	}
	if s.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", s.Depth())
	}
	if err := s.Pop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Pop(); err != nil {
		t.Fatal(err)
	}
	if !s.Unwound() {
		t.Fatalf("expected stack to be fully unwound")
	}
}

func TestRecursionCapIsFatal(t *testing.T) {
	a := NewArena()
	s := NewStack(a, 2)
	if _, err := s.PushFile("a.asm", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushMacro("a.asm::FOO", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushRept([]int{1}, 2); err == nil {
		t.Fatalf("expected recursion cap to trigger")
	}
}

func TestSameMacroManyCallSitesFormsDAG(t *testing.T) {
	a := NewArena()
	s := NewStack(a, 0)
	if _, err := s.PushFile("main.asm", 0); err != nil {
		t.Fatal(err)
	}
	n1, err := s.PushMacro("main.asm::FOO", 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Pop(); err != nil {
		t.Fatal(err)
	}
	n2, err := s.PushMacro("main.asm::FOO", 9)
	if err != nil {
		t.Fatal(err)
	}
	if n1.ID() == n2.ID() {
		t.Fatalf("expected distinct nodes per call site")
	}
	if n1.ParentID != n2.ParentID {
		t.Fatalf("expected both call sites to share the same file parent")
	}
}

func TestBacktraceWalksParents(t *testing.T) {
	a := NewArena()
	s := NewStack(a, 0)
	if _, err := s.PushFile("main.asm", 0); err != nil {
		t.Fatal(err)
	}
	macro, err := s.PushMacro("main.asm::FOO", 7)
	if err != nil {
		t.Fatal(err)
	}
	parent, line, ok := a.ParentFrame(macro)
	if !ok || parent.Name != "main.asm" || line != 7 {
		t.Fatalf("expected parent main.asm at line 7, got %+v line=%d ok=%v", parent, line, ok)
	}
	_, _, ok = a.ParentFrame(parent)
	if ok {
		t.Fatalf("expected top-level frame to have no parent")
	}
}

func TestNodeIDsAreStableForSerialization(t *testing.T) {
	a := NewArena()
	s := NewStack(a, 0)
	if _, err := s.PushFile("main.asm", 0); err != nil {
		t.Fatal(err)
	}
	if a.Len() != 1 {
		t.Fatalf("expected 1 node, got %d", a.Len())
	}
	got, err := a.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "main.asm" {
		t.Fatalf("expected round trip by id, got %+v", got)
	}
}

func TestFrameSatisfiesBacktraceFrame(t *testing.T) {
	a := NewArena()
	s := NewStack(a, 0)
	if _, err := s.PushFile("main.asm", 0); err != nil {
		t.Fatal(err)
	}
	macro, err := s.PushMacro("main.asm::FOO", 7)
	if err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	reg := diag.NewRegistry(&buf, 0)
	reg.Error(a.At(macro), 12, "undefined symbol %s", "BAR")

	out := buf.String()
	if !strings.Contains(out, "undefined symbol BAR") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "macro main.asm::FOO:12") {
		t.Fatalf("expected macro frame in backtrace, got %q", out)
	}
	if !strings.Contains(out, "included/invoked from main.asm:7") {
		t.Fatalf("expected parent file frame in backtrace, got %q", out)
	}
}
