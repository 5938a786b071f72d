package diag

import (
	"bytes"
	"strings"
	"testing"
)

func TestWarningDefaultFires(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, 0)
	r.Warn("purge", nil, 1, 0, "symbol %q purged", "foo")
	if r.WarningCount() != 1 {
		t.Fatalf("expected 1 warning, got %d", r.WarningCount())
	}
	if !strings.Contains(buf.String(), "purge") {
		t.Fatalf("expected flag name in output, got %q", buf.String())
	}
}

func TestWerrorPromotesToError(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, 0)
	if err := r.Set("error=purge"); err != nil {
		t.Fatal(err)
	}
	r.Warn("purge", nil, 1, 0, "symbol purged")
	if r.ErrorCount() != 1 || r.WarningCount() != 0 {
		t.Fatalf("expected promoted error, got errors=%d warnings=%d", r.ErrorCount(), r.WarningCount())
	}
}

func TestDisabledFlagSuppressed(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, 0)
	if err := r.Set("no-purge"); err != nil {
		t.Fatal(err)
	}
	r.Warn("purge", nil, 1, 0, "symbol purged")
	if r.WarningCount() != 0 {
		t.Fatalf("expected flag suppressed, got %d warnings", r.WarningCount())
	}
}

func TestParametricFlagLevel(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, 0)
	if err := r.Set("numeric-string=2"); err != nil {
		t.Fatal(err)
	}
	r.Warn("numeric-string", nil, 1, 3, "too deep")
	if r.WarningCount() != 0 {
		t.Fatalf("expected level-3 site to be below level-2 threshold to not fire, got %d", r.WarningCount())
	}
	r.Warn("numeric-string", nil, 1, 1, "shallow enough")
	if r.WarningCount() != 1 {
		t.Fatalf("expected level-1 site to fire, got %d", r.WarningCount())
	}
}

func TestErrorCapAborts(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, 2)
	r.Error(nil, 1, "first")
	if r.ShouldAbort() {
		t.Fatalf("should not abort after 1 error with cap 2")
	}
	r.Error(nil, 2, "second")
	if !r.ShouldAbort() {
		t.Fatalf("should abort after reaching cap")
	}
}

type fakeFrame struct {
	desc   string
	parent *fakeFrame
	line   int
}

func (f *fakeFrame) Describe() string { return f.desc }
func (f *fakeFrame) ParentFrame() (BacktraceFrame, int, bool) {
	if f.parent == nil {
		return nil, 0, false
	}
	return f.parent, f.line, true
}

func TestBacktracePrintsChain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, 0)
	top := &fakeFrame{desc: "main.asm"}
	inner := &fakeFrame{desc: "macro FOO", parent: top, line: 5}
	r.Error(inner, 10, "boom")
	out := buf.String()
	if !strings.Contains(out, "macro FOO") || !strings.Contains(out, "main.asm") {
		t.Fatalf("expected both frames in backtrace, got %q", out)
	}
}
