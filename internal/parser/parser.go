// Package parser implements the single-pass, recursive-descent translator
// from token stream to section bytes/patches and symbol-table entries
// (spec.md §4, the assembler's front end). One Parser owns one translation
// unit: its own file-stack arena, symbol table, section table, and charmap
// registry, matching the teacher's one-struct-per-run shape.
package parser

import (
	"fmt"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/charmap"
	"github.com/gbdev/rgbds-sub001/internal/config"
	"github.com/gbdev/rgbds-sub001/internal/diag"
	"github.com/gbdev/rgbds-sub001/internal/fstack"
	"github.com/gbdev/rgbds-sub001/internal/lexer"
	"github.com/gbdev/rgbds-sub001/internal/section"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

// FileLoader resolves an INCLUDE/INCBIN path (searched against IncludePaths
// by the caller-supplied implementation) to its raw bytes.
type FileLoader func(path string) ([]byte, string, error)

// Options configures one assembly run.
type Options struct {
	MainName     string
	Source       string
	Load         FileLoader
	IncludePaths []string
	Diag         *diag.Registry
	Config       config.Assembler
	// Lex overrides the scanner's binary/graphics digit characters (-b/-g).
	// The zero value means RGBDS's defaults.
	Lex lexer.Options
}

func effectiveLexOptions(o lexer.Options) lexer.Options {
	if o == (lexer.Options{}) {
		return lexer.DefaultOptions()
	}
	return o
}

// frameState binds one fstack.Node to the Lexer scanning its source text;
// every INCLUDE, macro expansion, and REPT/FOR iteration gets its own.
type frameState struct {
	lex  *lexer.Lexer
	node *fstack.Node
}

// MacroDef is a recorded MACRO body, keyed by name.
type MacroDef struct {
	Name string
	Body string
}

// Parser drives one translation unit from source text to populated
// symbol/section/charmap tables.
type Parser struct {
	arena    *fstack.Arena
	stack    *fstack.Stack
	frames   []*frameState
	diagReg  *diag.Registry
	symtab   *symbol.Table
	sections *section.Table
	charmaps *charmap.Registry
	cfg      config.Assembler
	load     FileLoader
	includes []string
	lexOpts  lexer.Options
	prereqs  []string

	macros        map[string]*MacroDef
	expanderStack []*macroExpander

	cur     lexer.Token
	peekBuf *lexer.Token
	scope   string // most recent non-local label, for dotted-local scoping

	uniqueSeq int
}

// New builds a Parser over opts.Source as the top-level file.
func New(opts Options) *Parser {
	arena := fstack.NewArena()
	stack := fstack.NewStack(arena, opts.Config.MaxRecursion)
	node, _ := stack.PushFile(opts.MainName, 0)
	lexOpts := effectiveLexOptions(opts.Lex)
	p := &Parser{
		arena:    arena,
		stack:    stack,
		frames:   []*frameState{{lex: lexer.NewWithOptions(opts.Source, lexOpts), node: node}},
		diagReg:  opts.Diag,
		symtab:   symbol.New(64),
		sections: section.New(),
		charmaps: charmap.NewRegistry(),
		cfg:      opts.Config,
		load:     opts.Load,
		includes: opts.IncludePaths,
		lexOpts:  lexOpts,
		macros:   make(map[string]*MacroDef),
	}
	p.sections.SetPadByte(opts.Config.UnionPadByte)
	p.registerBuiltins()
	p.next()
	return p
}

func (p *Parser) registerBuiltins() {
	p.symtab.RegisterBuiltin("@", func() *symbol.Symbol {
		return &symbol.Symbol{Type: symbol.EQU, Builtin: true, Defined: true, IntValue: p.sections.PC()}
	})
	p.symtab.RegisterBuiltin("__LINE__", func() *symbol.Symbol {
		return &symbol.Symbol{Type: symbol.EQU, Builtin: true, Defined: true, IntValue: int32(p.cur.Line)}
	})
	p.symtab.RegisterBuiltin("_NARG", func() *symbol.Symbol {
		n := 0
		if len(p.expanderStack) > 0 {
			n = len(p.expanderStack[len(p.expanderStack)-1].args)
		}
		return &symbol.Symbol{Type: symbol.EQU, Builtin: true, Defined: true, IntValue: int32(n)}
	})
}

// Symtab returns the run's symbol table, for the linker-facing object
// writer and `-s` state dumps.
func (p *Parser) Symtab() *symbol.Table { return p.symtab }

// Sections returns the run's section table.
func (p *Parser) Sections() *section.Table { return p.sections }

// Charmaps returns the run's charmap registry.
func (p *Parser) Charmaps() *charmap.Registry { return p.charmaps }

// Arena returns the file-stack arena backing every frame created this run,
// serialized into the object file's node table.
func (p *Parser) Arena() *fstack.Arena { return p.arena }

// Prereqs returns every path successfully opened via INCLUDE/INCBIN this
// run, in first-seen order, for `-M` dependency-file emission.
func (p *Parser) Prereqs() []string { return p.prereqs }

// MacroDefs returns every recorded macro body, for `-s macro` state dumps.
func (p *Parser) MacroDefs() []*MacroDef {
	out := make([]*MacroDef, 0, len(p.macros))
	for _, m := range p.macros {
		out = append(out, m)
	}
	return out
}

// Run parses the entire translation unit, reporting diagnostics through the
// registry and stopping early only once the error count reaches the cap.
func (p *Parser) Run() error {
	for {
		for p.cur.Type == lexer.Newline {
			p.next()
		}
		if p.cur.Type == lexer.EOF {
			break
		}
		if err := p.parseStatement(); err != nil {
			p.diagReg.Error(p.frame(), p.cur.Line, "%v", err)
			p.skipToNewline()
		}
		if p.diagReg.ShouldAbort() {
			return fmt.Errorf("parser: too many errors")
		}
	}
	// The initial PushFile from New is never popped; one remaining frame is
	// the well-formed end state, not an unwound stack.
	if p.stack.Depth() != 1 {
		return fmt.Errorf("parser: unterminated INCLUDE/MACRO/REPT/FOR at end of file")
	}
	return nil
}

func (p *Parser) skipToNewline() {
	for p.cur.Type != lexer.Newline && p.cur.Type != lexer.EOF {
		p.next()
	}
}

// parseStatement handles one logical line: optional label(s), then a
// constant definition, directive, macro invocation, or instruction.
func (p *Parser) parseStatement() error {
	for p.atLabelStart() {
		if err := p.parseLabel(); err != nil {
			return err
		}
	}
	if p.cur.Type == lexer.Newline || p.cur.Type == lexer.EOF {
		if p.cur.Type == lexer.Newline {
			p.next()
		}
		return nil
	}
	if handled, err := p.maybeConstantDef(); err != nil {
		return err
	} else if handled {
		return p.expectEOL()
	}
	if p.cur.Type == lexer.Ident {
		return p.dispatch()
	}
	return fmt.Errorf("unexpected token %s", p.cur.String())
}

func (p *Parser) atLabelStart() bool {
	if p.cur.Type != lexer.Ident && p.cur.Type != lexer.Local {
		return false
	}
	pk := p.peek()
	return pk.Type == lexer.Op && (pk.Text == ":" || pk.Text == "::")
}

func (p *Parser) parseLabel() error {
	name := p.cur.Text
	isLocal := p.cur.Type == lexer.Local
	p.next()
	exported := p.cur.Text == "::"
	p.next() // consume ':' or '::'
	secID := p.sections.Current()
	if secID < 0 {
		return fmt.Errorf("label %q declared outside of any SECTION", name)
	}
	sym := &symbol.Symbol{
		Type:      symbol.LABEL,
		Exported:  exported,
		SectionID: secID,
		Offset:    p.sections.PC(),
		Loc:       symbol.Location{FileNodeID: p.frameNodeID(), Line: p.cur.Line},
	}
	if isLocal {
		if err := p.symtab.Define(name, p.scope, sym); err != nil {
			return err
		}
		return nil
	}
	if err := p.symtab.Define(name, "", sym); err != nil {
		return err
	}
	p.scope = name
	return nil
}

func (p *Parser) dispatch() error {
	word := strings.ToUpper(p.cur.Text)
	switch word {
	case "SECTION":
		return p.parseSection()
	case "DB", "DW", "DL":
		return p.parseData(word)
	case "DS":
		return p.parseDS()
	case "UNION":
		p.next()
		if err := p.sections.BeginUnion(); err != nil {
			return err
		}
		return p.expectEOL()
	case "NEXTU":
		p.next()
		if err := p.sections.NextUnion(); err != nil {
			return err
		}
		return p.expectEOL()
	case "ENDU":
		p.next()
		if err := p.sections.EndUnion(); err != nil {
			return err
		}
		return p.expectEOL()
	case "LOAD":
		return p.parseLoad()
	case "ENDL":
		p.next()
		if err := p.sections.EndLoadBlock(); err != nil {
			return err
		}
		return p.expectEOL()
	case "IF":
		return p.parseIf()
	case "ELIF", "ELSE", "ENDC":
		return fmt.Errorf("%s without matching IF", word)
	case "INCLUDE":
		return p.parseInclude()
	case "INCBIN":
		return p.parseIncbin()
	case "CHARMAP":
		return p.parseCharmap()
	case "NEWCHARMAP":
		return p.parseNewCharmap()
	case "PUSHC":
		p.next()
		p.charmaps.Push()
		return p.expectEOL()
	case "POPC":
		p.next()
		if !p.charmaps.Pop() {
			return fmt.Errorf("POPC without matching PUSHC")
		}
		return p.expectEOL()
	case "PURGE":
		return p.parsePurge()
	case "ASSERT", "STATIC_ASSERT":
		return p.parseAssert()
	case "EXPORT", "GLOBAL":
		return p.parseExport()
	case "MACRO":
		return p.parseMacroDef()
	case "ENDM":
		return fmt.Errorf("ENDM without matching MACRO")
	case "REPT":
		return p.parseRept()
	case "FOR":
		return p.parseFor()
	case "ENDR":
		return fmt.Errorf("ENDR without matching REPT/FOR")
	default:
		if m, ok := p.macros[p.cur.Text]; ok {
			return p.invokeMacro(m)
		}
		if _, ok := r8Index[word]; !ok {
			if isMnemonic(word) {
				return p.parseInstruction(word)
			}
		}
		return fmt.Errorf("unknown directive, macro, or mnemonic %q", p.cur.Text)
	}
}

// --- cursor plumbing -------------------------------------------------

func (p *Parser) next() {
	if p.peekBuf != nil {
		p.cur = *p.peekBuf
		p.peekBuf = nil
		return
	}
	p.cur = p.fetch()
}

func (p *Parser) peek() lexer.Token {
	if p.peekBuf == nil {
		t := p.fetch()
		p.peekBuf = &t
	}
	return *p.peekBuf
}

// fetch pulls the next token from the top frame, transparently popping back
// to the parent frame when an INCLUDEd file (or other pushed frame) runs
// out of tokens.
func (p *Parser) fetch() lexer.Token {
	for {
		f := p.frames[len(p.frames)-1]
		tok := f.lex.Next()
		if tok.Type == lexer.EOF {
			if len(p.frames) == 1 {
				return tok
			}
			p.frames = p.frames[:len(p.frames)-1]
			_ = p.stack.Pop()
			continue
		}
		return tok
	}
}

func (p *Parser) topLexer() *lexer.Lexer { return p.frames[len(p.frames)-1].lex }

// newLexer creates a scanner sharing this run's digit-character options, so
// every INCLUDEd file and every re-lexed MACRO/REPT/FOR body honors -b/-g
// the same as the main source.
func (p *Parser) newLexer(input string) *lexer.Lexer {
	return lexer.NewWithOptions(input, p.lexOpts)
}

func (p *Parser) frameNodeID() int { return p.frames[len(p.frames)-1].node.ID() }

func (p *Parser) frame() diag.BacktraceFrame {
	f := p.frames[len(p.frames)-1]
	return p.arena.At(f.node)
}

func (p *Parser) expectOp(text string) error {
	if p.cur.Type != lexer.Op || p.cur.Text != text {
		return fmt.Errorf("expected %q, got %s", text, p.cur.String())
	}
	p.next()
	return nil
}

func (p *Parser) expectEOL() error {
	if p.cur.Type == lexer.Newline {
		p.next()
		return nil
	}
	if p.cur.Type == lexer.EOF {
		return nil
	}
	return fmt.Errorf("expected end of line, got %s", p.cur.String())
}

// captureRaw scans (via direct lexer calls, independent of the Parser's
// cursor) until an unnested close keyword, returning the verbatim source
// span between start and the close keyword's own start. Used for MACRO and
// REPT/FOR bodies, which are re-lexed fresh on every expansion.
func (p *Parser) captureRaw(lx *lexer.Lexer, start int, opens []string, close string) (string, error) {
	depth := 0
	for {
		tok := lx.Next()
		if tok.Type == lexer.EOF {
			return "", fmt.Errorf("unterminated block, missing %s", close)
		}
		if tok.Type != lexer.Ident {
			continue
		}
		up := strings.ToUpper(tok.Text)
		isOpen := false
		for _, o := range opens {
			if o == up {
				isOpen = true
				break
			}
		}
		if isOpen {
			depth++
			continue
		}
		if up == close {
			if depth == 0 {
				end := lx.LastTokenStart()
				return lx.Slice(start, end), nil
			}
			depth--
		}
	}
}

// runCapturedBlock pushes a fresh frame over body and drives parseStatement
// until that frame's tokens are exhausted, then returns with the cursor
// resynced to whatever follows the invocation in the enclosing frame.
func (p *Parser) runCapturedBlock(body string, node *fstack.Node, expander lexer.Expander) error {
	lx := p.newLexer(body)
	if expander != nil {
		lx.SetExpander(expander)
	}
	fs := &frameState{lex: lx, node: node}
	p.frames = append(p.frames, fs)
	p.peekBuf = nil
	p.cur = lx.Next()
	for len(p.frames) > 0 && p.frames[len(p.frames)-1] == fs {
		for p.cur.Type == lexer.Newline {
			if p.frames[len(p.frames)-1] != fs {
				break
			}
			p.cur = lx.Next()
		}
		if p.frames[len(p.frames)-1] != fs {
			break
		}
		if p.cur.Type == lexer.EOF {
			p.frames = p.frames[:len(p.frames)-1]
			if err := p.stack.Pop(); err != nil {
				return err
			}
			break
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) resolveAndLoad(path string) ([]byte, string, error) {
	if p.load == nil {
		return nil, "", fmt.Errorf("no file loader configured, cannot open %q", path)
	}
	if data, resolved, err := p.load(path); err == nil {
		p.prereqs = append(p.prereqs, resolved)
		return data, resolved, nil
	}
	for _, dir := range p.includes {
		candidate := strings.TrimSuffix(dir, "/") + "/" + path
		if data, resolved, err := p.load(candidate); err == nil {
			p.prereqs = append(p.prereqs, resolved)
			return data, resolved, nil
		}
	}
	return nil, "", fmt.Errorf("cannot open %q", path)
}
