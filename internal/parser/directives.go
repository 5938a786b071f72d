package parser

import (
	"fmt"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/lexer"
	"github.com/gbdev/rgbds-sub001/internal/sect"
	"github.com/gbdev/rgbds-sub001/internal/section"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

// maybeConstantDef recognizes the `NAME = expr`, `NAME EQU expr`,
// `NAME SET expr`, `NAME EQUS "text"`, and `NAME REDEF ...` forms, which
// share a prefix with label parsing (a bare identifier) but aren't labels.
func (p *Parser) maybeConstantDef() (bool, error) {
	if p.cur.Type != lexer.Ident {
		return false, nil
	}
	pk := p.peek()
	name := p.cur.Text
	switch {
	case pk.Type == lexer.Op && pk.Text == "=":
		p.next()
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return true, err
		}
		if !e.IsKnown() {
			return true, fmt.Errorf("%s = ... requires a constant expression", name)
		}
		return true, p.symtab.Redef(name, "", &symbol.Symbol{Type: symbol.VAR, IntValue: e.Value(), ValueKind: symbol.ValueInt})
	case pk.Type == lexer.Ident && strings.ToUpper(pk.Text) == "EQU":
		p.next()
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return true, err
		}
		if !e.IsKnown() {
			return true, fmt.Errorf("%s EQU requires a constant expression", name)
		}
		return true, p.symtab.Define(name, "", &symbol.Symbol{Type: symbol.EQU, IntValue: e.Value(), ValueKind: symbol.ValueInt})
	case pk.Type == lexer.Ident && strings.ToUpper(pk.Text) == "SET":
		p.next()
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return true, err
		}
		if !e.IsKnown() {
			return true, fmt.Errorf("%s SET requires a constant expression", name)
		}
		return true, p.symtab.Redef(name, "", &symbol.Symbol{Type: symbol.VAR, IntValue: e.Value(), ValueKind: symbol.ValueInt})
	case pk.Type == lexer.Ident && strings.ToUpper(pk.Text) == "EQUS":
		p.next()
		p.next()
		if p.cur.Type != lexer.String {
			return true, fmt.Errorf("%s EQUS requires a string literal", name)
		}
		text := p.cur.Text
		p.next()
		return true, p.symtab.Define(name, "", &symbol.Symbol{Type: symbol.EQUS, StrValue: text, ValueKind: symbol.ValueString})
	case pk.Type == lexer.Ident && strings.ToUpper(pk.Text) == "REDEF":
		p.next()
		p.next()
		if p.cur.Type == lexer.String {
			text := p.cur.Text
			p.next()
			return true, p.symtab.Redef(name, "", &symbol.Symbol{Type: symbol.EQUS, StrValue: text, ValueKind: symbol.ValueString})
		}
		e, err := p.parseExpr()
		if err != nil {
			return true, err
		}
		if !e.IsKnown() {
			return true, fmt.Errorf("%s REDEF requires a constant expression", name)
		}
		return true, p.symtab.Redef(name, "", &symbol.Symbol{Type: symbol.VAR, IntValue: e.Value(), ValueKind: symbol.ValueInt})
	}
	return false, nil
}

var sectionTypes = map[string]sect.Type{
	"ROM0": sect.ROM0, "ROMX": sect.ROMX, "VRAM": sect.VRAM, "SRAM": sect.SRAM,
	"WRAM0": sect.WRAM0, "WRAMX": sect.WRAMX, "OAM": sect.OAM, "HRAM": sect.HRAM,
}

func (p *Parser) parseSection() error {
	p.next()
	modifier := section.Normal
	if p.cur.Type == lexer.Ident {
		switch strings.ToUpper(p.cur.Text) {
		case "UNION":
			modifier = section.Union
			p.next()
		case "FRAGMENT":
			modifier = section.Fragment
			p.next()
		}
	}
	if p.cur.Type != lexer.String {
		return fmt.Errorf("expected section name string after SECTION")
	}
	name := p.cur.Text
	p.next()
	if err := p.expectOp(","); err != nil {
		return err
	}
	if p.cur.Type != lexer.Ident {
		return fmt.Errorf("expected section type after SECTION name")
	}
	typ, ok := sectionTypes[strings.ToUpper(p.cur.Text)]
	if !ok {
		return fmt.Errorf("unknown section type %q", p.cur.Text)
	}
	p.next()

	var hasOrg bool
	var org uint16
	var hasBank bool
	var bank int
	var alignMask, alignOffset uint16

	if p.cur.Type == lexer.Op && p.cur.Text == "[" {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		if !e.IsKnown() {
			return fmt.Errorf("SECTION org must be a constant expression")
		}
		hasOrg, org = true, uint16(e.Value())
		if err := p.expectOp("]"); err != nil {
			return err
		}
	}
	for p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		if p.cur.Type != lexer.Ident {
			return fmt.Errorf("expected section attribute name")
		}
		attr := strings.ToUpper(p.cur.Text)
		p.next()
		if err := p.expectOp("["); err != nil {
			return err
		}
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		switch attr {
		case "BANK":
			if !e.IsKnown() {
				return fmt.Errorf("BANK must be a constant expression")
			}
			hasBank, bank = true, int(e.Value())
		case "ALIGN":
			if !e.IsKnown() {
				return fmt.Errorf("ALIGN must be a constant expression")
			}
			alignMask = uint16(1<<uint(e.Value())) - 1
			if p.cur.Type == lexer.Op && p.cur.Text == "," {
				p.next()
				off, err := p.parseExpr()
				if err != nil {
					return err
				}
				if !off.IsKnown() {
					return fmt.Errorf("ALIGN offset must be a constant expression")
				}
				alignOffset = uint16(off.Value())
			}
		default:
			return fmt.Errorf("unknown section attribute %q", attr)
		}
		if err := p.expectOp("]"); err != nil {
			return err
		}
	}

	id, err := p.sections.NewSection(name, typ, modifier, 0, hasOrg, org, hasBank, bank)
	if err != nil {
		return err
	}
	sec, _ := p.sections.Get(id)
	sec.AlignMask, sec.AlignOffset = alignMask, alignOffset
	if err := p.sections.PushSection(id); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) parseData(kind string) error {
	p.next()
	width := map[string]int{"DB": 1, "DW": 2, "DL": 4}[kind]
	for {
		if p.cur.Type == lexer.String {
			if kind != "DB" {
				return fmt.Errorf("%s does not accept string literals", kind)
			}
			vals, ok := p.charmaps.Current().Convert(p.cur.Text)
			if !ok {
				p.diagReg.Warn("unmapped-char", p.frame(), p.cur.Line, 0, "string contains characters not covered by the active charmap")
			}
			p.next()
			if err := p.sections.ByteGroup(vals); err != nil {
				return err
			}
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			if err := p.sections.RelExpr(width, e, p.frameNodeID(), p.cur.Line); err != nil {
				return err
			}
		}
		if p.cur.Type == lexer.Op && p.cur.Text == "," {
			p.next()
			continue
		}
		break
	}
	return p.expectEOL()
}

func (p *Parser) parseDS() error {
	p.next()
	n, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !n.IsKnown() {
		return fmt.Errorf("DS length must be a constant expression")
	}
	count := n.Value()
	if p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		fillE, err := p.parseExpr()
		if err != nil {
			return err
		}
		if !fillE.IsKnown() {
			return fmt.Errorf("DS fill value must be a constant expression")
		}
		data := make([]byte, count)
		for i := range data {
			data[i] = byte(fillE.Value())
		}
		if err := p.sections.ByteGroup(data); err != nil {
			return err
		}
	} else {
		if err := p.sections.Skip(count, true); err != nil {
			return err
		}
	}
	return p.expectEOL()
}

// parseLoad opens a virtual-PC shadow block over the currently open section,
// simplifying the real RGBDS grammar's separate LOAD target name/type (the
// object model here has no notion of "the bytes actually landing in a
// different section than the one currently pushed").
func (p *Parser) parseLoad() error {
	p.next()
	if p.cur.Type == lexer.String {
		p.next() // target section name, unused: see doc comment above
		if p.cur.Type == lexer.Op && p.cur.Text == "," {
			p.next()
			if p.cur.Type != lexer.Ident {
				return fmt.Errorf("expected section type after LOAD target name")
			}
			p.next()
		}
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !e.IsKnown() {
		return fmt.Errorf("LOAD org must be a constant expression")
	}
	if err := p.sections.StartLoadBlock(uint16(e.Value())); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) isTerminator(words ...string) bool {
	if p.cur.Type != lexer.Ident {
		return false
	}
	up := strings.ToUpper(p.cur.Text)
	for _, w := range words {
		if up == w {
			return true
		}
	}
	return false
}

func (p *Parser) runBlock(stops ...string) error {
	for {
		for p.cur.Type == lexer.Newline {
			p.next()
		}
		if p.cur.Type == lexer.EOF {
			return fmt.Errorf("unexpected end of file, expected one of %v", stops)
		}
		if p.isTerminator(stops...) {
			return nil
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
}

// skipToAny engages the lexer's own skip-mode scanning to lexically discard
// an untaken IF/ELIF/ELSE arm without ever opening any INCLUDEs it mentions.
func (p *Parser) skipToAny(stops ...string) error {
	mode := lexer.ModeSkipToEndc
	for _, s := range stops {
		if s == "ELIF" {
			mode = lexer.ModeSkipToElif
		}
	}
	lx := p.topLexer()
	lx.PushMode(mode)
	p.peekBuf = nil
	tok := lx.Next()
	lx.PopMode()
	if tok.Type == lexer.EOF {
		return fmt.Errorf("unterminated IF: missing ENDC")
	}
	p.cur = tok
	return nil
}

func (p *Parser) parseIf() error {
	p.next()
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if err := p.expectEOL(); err != nil {
		return err
	}
	if !cond.IsKnown() {
		return fmt.Errorf("IF condition must be a constant expression")
	}
	taken := cond.Value() != 0
	if taken {
		if err := p.runBlock("ELIF", "ELSE", "ENDC"); err != nil {
			return err
		}
	} else {
		if err := p.skipToAny("ELIF", "ELSE", "ENDC"); err != nil {
			return err
		}
	}
	for {
		switch strings.ToUpper(p.cur.Text) {
		case "ELIF":
			p.next()
			c, err := p.parseExpr()
			if err != nil {
				return err
			}
			if err := p.expectEOL(); err != nil {
				return err
			}
			if !c.IsKnown() {
				return fmt.Errorf("ELIF condition must be a constant expression")
			}
			if !taken && c.Value() != 0 {
				taken = true
				if err := p.runBlock("ELIF", "ELSE", "ENDC"); err != nil {
					return err
				}
			} else if err := p.skipToAny("ELIF", "ELSE", "ENDC"); err != nil {
				return err
			}
		case "ELSE":
			p.next()
			if err := p.expectEOL(); err != nil {
				return err
			}
			if !taken {
				taken = true
				if err := p.runBlock("ENDC"); err != nil {
					return err
				}
			} else if err := p.skipToAny("ENDC"); err != nil {
				return err
			}
		case "ENDC":
			p.next()
			return p.expectEOL()
		default:
			return fmt.Errorf("malformed IF chain: unexpected %q", p.cur.Text)
		}
	}
}

func (p *Parser) parseInclude() error {
	p.next()
	if p.cur.Type != lexer.String {
		return fmt.Errorf("expected file name string after INCLUDE")
	}
	path := p.cur.Text
	line := p.cur.Line
	p.next()
	if err := p.expectEOL(); err != nil {
		return err
	}
	data, resolved, err := p.resolveAndLoad(path)
	if err != nil {
		return err
	}
	node, perr := p.stack.PushFile(resolved, line)
	if perr != nil {
		return perr
	}
	lx := p.newLexer(string(data))
	p.frames = append(p.frames, &frameState{lex: lx, node: node})
	p.peekBuf = nil
	p.next()
	return nil
}

func (p *Parser) parseIncbin() error {
	p.next()
	if p.cur.Type != lexer.String {
		return fmt.Errorf("expected file name string after INCBIN")
	}
	path := p.cur.Text
	p.next()
	data, _, err := p.resolveAndLoad(path)
	if err != nil {
		return err
	}
	start, length := 0, len(data)
	if p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		if !e.IsKnown() {
			return fmt.Errorf("INCBIN start must be a constant expression")
		}
		start = int(e.Value())
		length = len(data) - start
		if p.cur.Type == lexer.Op && p.cur.Text == "," {
			p.next()
			e2, err := p.parseExpr()
			if err != nil {
				return err
			}
			if !e2.IsKnown() {
				return fmt.Errorf("INCBIN length must be a constant expression")
			}
			length = int(e2.Value())
		}
	}
	if start < 0 || length < 0 || start+length > len(data) {
		return fmt.Errorf("INCBIN slice [%d, %d) out of range for a %d-byte file", start, start+length, len(data))
	}
	if err := p.sections.BinaryFile(data[start : start+length]); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) parseCharmap() error {
	p.next()
	if p.cur.Type != lexer.String {
		return fmt.Errorf("expected charmap input string after CHARMAP")
	}
	input := p.cur.Text
	p.next()
	var vals []uint8
	for p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		if !e.IsKnown() {
			return fmt.Errorf("CHARMAP value must be a constant expression")
		}
		vals = append(vals, uint8(e.Value()))
	}
	if len(vals) == 0 {
		return fmt.Errorf("CHARMAP requires at least one output value")
	}
	if p.charmaps.Current().Add(input, vals) {
		p.diagReg.Warn("charmap-redef", p.frame(), p.cur.Line, 0, "charmap entry %q redefined", input)
	}
	return p.expectEOL()
}

func (p *Parser) parseNewCharmap() error {
	p.next()
	if p.cur.Type != lexer.Ident && p.cur.Type != lexer.String {
		return fmt.Errorf("expected charmap name after NEWCHARMAP")
	}
	name := p.cur.Text
	p.next()
	base := ""
	if p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		if p.cur.Type != lexer.Ident && p.cur.Type != lexer.String {
			return fmt.Errorf("expected base charmap name")
		}
		base = p.cur.Text
		p.next()
	}
	p.charmaps.New(name, base)
	p.charmaps.Set(name)
	return p.expectEOL()
}

func (p *Parser) parsePurge() error {
	p.next()
	for {
		if p.cur.Type != lexer.Ident && p.cur.Type != lexer.Local {
			return fmt.Errorf("expected symbol name after PURGE")
		}
		name := p.cur.Text
		p.next()
		if err := p.symtab.Purge(name, p.scope, []string{p.scope}); err != nil {
			p.diagReg.Warn("purge", p.frame(), p.cur.Line, 0, "%v", err)
		}
		if p.cur.Type == lexer.Op && p.cur.Text == "," {
			p.next()
			continue
		}
		break
	}
	return p.expectEOL()
}

func (p *Parser) parseAssert() error {
	p.next()
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	msg := ""
	if p.cur.Type == lexer.Op && p.cur.Text == "," {
		p.next()
		if p.cur.Type != lexer.String {
			return fmt.Errorf("expected ASSERT message string")
		}
		msg = p.cur.Text
		p.next()
	}
	if e.IsKnown() && e.Value() == 0 {
		if msg == "" {
			msg = "assertion failed"
		}
		p.diagReg.Warn("assert", p.frame(), p.cur.Line, 0, "%s", msg)
	}
	return p.expectEOL()
}

func (p *Parser) parseExport() error {
	p.next()
	for {
		if p.cur.Type != lexer.Ident && p.cur.Type != lexer.Local {
			return fmt.Errorf("expected symbol name after EXPORT")
		}
		name := p.cur.Text
		p.next()
		sym := p.symtab.Ref(name, p.scope)
		sym.Exported = true
		if p.cur.Type == lexer.Op && p.cur.Text == "," {
			p.next()
			continue
		}
		break
	}
	return p.expectEOL()
}
