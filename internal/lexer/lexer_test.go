package lexer

import "testing"

func tokens(l *Lexer) []Token {
	var out []Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Type == EOF {
			return out
		}
	}
}

func TestScansIdentifiersAndNumbers(t *testing.T) {
	l := New("ld a, $1F\n")
	toks := tokens(l)
	if toks[0].Type != Ident || toks[0].Text != "ld" {
		t.Fatalf("got %v", toks[0])
	}
	if toks[1].Type != Ident || toks[1].Text != "a" {
		t.Fatalf("got %v", toks[1])
	}
	if toks[2].Type != Op || toks[2].Text != "," {
		t.Fatalf("got %v", toks[2])
	}
	var num Token
	for _, tk := range toks {
		if tk.Type == Number {
			num = tk
		}
	}
	if num.IntValue != 0x1F {
		t.Fatalf("expected $1F to be 31, got %d", num.IntValue)
	}
}

func TestHexBinaryOctalLiterals(t *testing.T) {
	cases := []struct {
		src  string
		want int32
	}{
		{"$FF", 0xFF},
		{"%1010", 0b1010},
		{"&17", 15},
		{"1234", 1234},
	}
	for _, c := range cases {
		l := New(c.src)
		tok := l.Next()
		if tok.Type != Number || tok.IntValue != c.want {
			t.Fatalf("%s: got %+v want %d", c.src, tok, c.want)
		}
	}
}

func TestFixedPointLiteral(t *testing.T) {
	l := New("3.5")
	tok := l.Next()
	if !tok.IsFixed {
		t.Fatalf("expected fixed-point literal")
	}
	want := int32(3<<16) + int32(5<<16)/10
	if tok.IntValue != want {
		t.Fatalf("got %d want %d", tok.IntValue, want)
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"hi\n\t\""`)
	tok := l.Next()
	if tok.Type != String || tok.Text != "hi\n\t\"" {
		t.Fatalf("got %+v", tok)
	}
}

func TestRawStringHasNoEscapes(t *testing.T) {
	l := New(`#"a\nb"`)
	tok := l.Next()
	if tok.Type != String || tok.Text != `a\nb` {
		t.Fatalf("got %+v", tok)
	}
}

func TestMultilineString(t *testing.T) {
	l := New("\"\"\"line1\nline2\"\"\"")
	tok := l.Next()
	if tok.Type != String || tok.Text != "line1\nline2" {
		t.Fatalf("got %+v", tok)
	}
}

func TestLineContinuationMergesLines(t *testing.T) {
	l := New("ld a, \\\nb\n")
	toks := tokens(l)
	newlines := 0
	for _, tk := range toks {
		if tk.Type == Newline {
			newlines++
		}
	}
	if newlines != 1 {
		t.Fatalf("expected exactly 1 newline token after continuation, got %d", newlines)
	}
}

func TestLocalLabelToken(t *testing.T) {
	l := New(".loop")
	tok := l.Next()
	if tok.Type != Local || tok.Text != ".loop" {
		t.Fatalf("got %+v", tok)
	}
}

type stubExpander struct {
	args map[int]string
	syms map[string]string
}

func (s stubExpander) MacroArg(i int) (string, bool) { v, ok := s.args[i]; return v, ok }
func (s stubExpander) UniqueID() (string, bool)      { return "", false }
func (s stubExpander) AllArgs() (string, bool)       { return "", false }
func (s stubExpander) Interpolate(expr string) (string, bool) {
	v, ok := s.syms[expr]
	return v, ok
}

func TestMacroArgSplicing(t *testing.T) {
	l := New(`ld a, \1`)
	l.SetExpander(stubExpander{args: map[int]string{1: "42"}})
	toks := tokens(l)
	var num Token
	for _, tk := range toks {
		if tk.Type == Number {
			num = tk
		}
	}
	if num.IntValue != 42 {
		t.Fatalf("expected spliced arg to lex as 42, got %+v", num)
	}
}

func TestInterpolationSplicing(t *testing.T) {
	l := New(`db {X}`)
	l.SetExpander(stubExpander{syms: map[string]string{"X": "7"}})
	toks := tokens(l)
	var num Token
	for _, tk := range toks {
		if tk.Type == Number {
			num = tk
		}
	}
	if num.IntValue != 7 {
		t.Fatalf("expected interpolated {X} to lex as 7, got %+v", num)
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	l := New("ld a, 1 ; comment\nld b, 2\n")
	toks := tokens(l)
	for _, tk := range toks {
		if tk.Type == Ident && tk.Text == "comment" {
			t.Fatalf("comment text should never be tokenized")
		}
	}
}

func TestSkipToEndcFindsTerminator(t *testing.T) {
	l := New("db 1\nIF 1\ndb 2\nENDC\nENDC\ndb 3\n")
	l.PushMode(ModeSkipToEndc)
	tok := l.Next()
	if tok.Type != Ident || tok.Text != "ENDC" {
		t.Fatalf("expected ENDC to terminate skip, got %+v", tok)
	}
}

func TestSkipToEndcRespectsNesting(t *testing.T) {
	l := New("IF 0\nENDC\nENDC\n")
	l.PushMode(ModeSkipToEndc)
	tok := l.Next()
	if tok.Type != Ident || tok.Text != "ENDC" {
		t.Fatalf("expected outer ENDC after nested IF/ENDC consumed, got %+v", tok)
	}
}

func TestOperators(t *testing.T) {
	l := New("a << b >>= c == d")
	toks := tokens(l)
	want := []string{"<<", ">>=", "=="}
	got := []string{}
	for _, tk := range toks {
		if tk.Type == Op && tk.Text != "" {
			switch tk.Text {
			case "<<", ">>=", "==":
				got = append(got, tk.Text)
			}
		}
	}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
