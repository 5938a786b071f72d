package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/lexer"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

// macroExpander implements lexer.Expander for one active macro invocation,
// supplying \1..\9, \@, \#, and {expr} substitutions as the body is re-lexed.
type macroExpander struct {
	args     []string
	uniqueID string
	p        *Parser
}

func (m *macroExpander) MacroArg(index int) (string, bool) {
	if index < 1 || index > len(m.args) {
		return "", false
	}
	return m.args[index-1], true
}

func (m *macroExpander) UniqueID() (string, bool) { return m.uniqueID, true }

func (m *macroExpander) AllArgs() (string, bool) {
	return strings.Join(m.args, ", "), true
}

// Interpolate resolves a bare EQUS/EQU/VAR symbol name or literal integer
// inside {...}. Full expression evaluation would need the cursor-based
// expression parser to run over an abstracted token source rather than
// directly against p.cur/p.frames, which this package doesn't provide.
func (m *macroExpander) Interpolate(expr string) (string, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", false
	}
	if n, err := strconv.ParseInt(expr, 0, 32); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	sym, ok := m.p.symtab.FindScoped(expr, m.p.scope)
	if !ok {
		return "", false
	}
	switch sym.Type {
	case symbol.EQUS:
		return sym.StrValue, true
	case symbol.EQU, symbol.VAR:
		return strconv.FormatInt(int64(sym.IntValue), 10), true
	}
	return "", false
}

func (p *Parser) nextUniqueID() string {
	p.uniqueSeq++
	return fmt.Sprintf("_%04X", p.uniqueSeq)
}

func (p *Parser) parseMacroDef() error {
	p.next()
	if p.cur.Type != lexer.Ident {
		return fmt.Errorf("expected macro name after MACRO")
	}
	name := p.cur.Text
	p.next()
	if err := p.expectEOL(); err != nil {
		return err
	}
	lx := p.topLexer()
	start := lx.Mark()
	body, err := p.captureRaw(lx, start, []string{"MACRO"}, "ENDM")
	if err != nil {
		return err
	}
	p.macros[name] = &MacroDef{Name: name, Body: body}
	if err := p.symtab.Define(name, "", &symbol.Symbol{Type: symbol.MACRO, StrValue: body}); err != nil {
		// A prior REDEF'd MACRO under the same name is fine; only surface
		// genuine non-macro collisions.
		if existing, ok := p.symtab.FindScoped(name, ""); !ok || existing.Type != symbol.MACRO {
			return err
		}
		_ = p.symtab.Redef(name, "", &symbol.Symbol{Type: symbol.MACRO, StrValue: body})
	}
	p.syncAfterCapture(lx)
	return nil
}

// syncAfterCapture resumes the Parser's own cursor from wherever captureRaw
// left the shared lexer (immediately past the close keyword it matched).
func (p *Parser) syncAfterCapture(lx *lexer.Lexer) {
	p.peekBuf = nil
	p.cur = lx.Next()
	for p.cur.Type == lexer.Newline {
		p.cur = lx.Next()
	}
}

// splitMacroArgs divides a raw macro-invocation argument line on top-level
// commas, respecting quoted strings and balanced parens.
func splitMacroArgs(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var args []string
	var cur strings.Builder
	depth := 0
	inStr := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inStr:
			cur.WriteByte(c)
			if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
			cur.WriteByte(c)
		case c == '(':
			depth++
			cur.WriteByte(c)
		case c == ')':
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	args = append(args, strings.TrimSpace(cur.String()))
	return args
}

func (p *Parser) invokeMacro(m *MacroDef) error {
	p.next() // consume the macro-name identifier
	lx := p.topLexer()
	lx.PushMode(lexer.ModeRaw)
	start := lx.Mark()
	for {
		b := lx.Next()
		if b.Type == lexer.EOF || b.Type == lexer.Newline {
			break
		}
	}
	end := lx.LastTokenStart()
	argLine := lx.Slice(start, end)
	lx.PopMode()
	p.syncAfterCapture(lx)

	args := splitMacroArgs(argLine)
	node, err := p.stack.PushMacro(m.Name, p.cur.Line)
	if err != nil {
		return err
	}
	exp := &macroExpander{args: args, uniqueID: p.nextUniqueID(), p: p}
	p.expanderStack = append(p.expanderStack, exp)
	defer func() { p.expanderStack = p.expanderStack[:len(p.expanderStack)-1] }()
	return p.runCapturedBlock(m.Body, node, exp)
}

func (p *Parser) parseRept() error {
	p.next()
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !e.IsKnown() {
		return fmt.Errorf("REPT count must be a constant expression")
	}
	count := int(e.Value())
	if err := p.expectEOL(); err != nil {
		return err
	}
	lx := p.topLexer()
	start := lx.Mark()
	body, err := p.captureRaw(lx, start, []string{"REPT", "FOR"}, "ENDR")
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		node, err := p.stack.PushRept([]int{i + 1}, p.cur.Line)
		if err != nil {
			return err
		}
		if err := p.runCapturedBlock(body, node, nil); err != nil {
			return err
		}
	}
	if count == 0 {
		p.syncAfterCapture(lx)
	}
	return nil
}

func (p *Parser) parseFor() error {
	p.next()
	if p.cur.Type != lexer.Ident {
		return fmt.Errorf("expected loop variable name after FOR")
	}
	varName := p.cur.Text
	p.next()
	if err := p.expectOp(","); err != nil {
		return err
	}
	start, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !start.IsKnown() {
		return fmt.Errorf("FOR start must be a constant expression")
	}
	stop := start
	step := int32(1)
	haveStop := false
	if p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		s, err := p.parseExpr()
		if err != nil {
			return err
		}
		if !s.IsKnown() {
			return fmt.Errorf("FOR stop must be a constant expression")
		}
		stop = s
		haveStop = true
		if p.cur.Type == lexer.Op && p.cur.Text == "," {
			p.next()
			st, err := p.parseExpr()
			if err != nil {
				return err
			}
			if !st.IsKnown() {
				return fmt.Errorf("FOR step must be a constant expression")
			}
			step = st.Value()
		}
	}
	if err := p.expectEOL(); err != nil {
		return err
	}
	lo, hi := start.Value(), stop.Value()
	if !haveStop {
		lo, hi = 0, start.Value()
	}
	if step == 0 {
		return fmt.Errorf("FOR step must not be zero")
	}

	lx := p.topLexer()
	blockStart := lx.Mark()
	body, err := p.captureRaw(lx, blockStart, []string{"REPT", "FOR"}, "ENDR")
	if err != nil {
		return err
	}

	if err := p.symtab.Define(varName, "", &symbol.Symbol{Type: symbol.VAR, IntValue: lo}); err != nil {
		if err := p.symtab.Redef(varName, "", &symbol.Symbol{Type: symbol.VAR, IntValue: lo}); err != nil {
			return err
		}
	}
	iter := 0
	for v := lo; (step > 0 && v < hi) || (step < 0 && v > hi); v += step {
		iter++
		if err := p.symtab.Redef(varName, "", &symbol.Symbol{Type: symbol.VAR, IntValue: v}); err != nil {
			return err
		}
		node, err := p.stack.PushRept([]int{iter}, p.cur.Line)
		if err != nil {
			return err
		}
		if err := p.runCapturedBlock(body, node, nil); err != nil {
			return err
		}
	}
	if iter == 0 {
		p.syncAfterCapture(lx)
	}
	return nil
}
