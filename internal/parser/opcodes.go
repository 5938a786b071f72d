package parser

import (
	"fmt"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/lexer"
	"github.com/gbdev/rgbds-sub001/internal/rpn"
)

// r8Index maps an 8-bit register name to its 3-bit encoding; 6 is the
// (HL) indirect slot shared with the register grid.
var r8Index = map[string]int{
	"B": 0, "C": 1, "D": 2, "E": 3, "H": 4, "L": 5, "A": 7,
}

var r16Index = map[string]int{"BC": 0, "DE": 1, "HL": 2, "SP": 3}
var r16StkIndex = map[string]int{"BC": 0, "DE": 1, "HL": 2, "AF": 3}
var condIndex = map[string]int{"NZ": 0, "Z": 1, "NC": 2, "C": 3}

var noOperandMnemonics = map[string]byte{
	"NOP": 0x00, "HALT": 0x76, "STOP": 0x10, "DI": 0xF3, "EI": 0xFB,
	"RLCA": 0x07, "RRCA": 0x0F, "RLA": 0x17, "RRA": 0x1F,
	"CPL": 0x2F, "CCF": 0x3F, "SCF": 0x37, "DAA": 0x27, "RET": 0xC9, "RETI": 0xD9,
}

var mnemonicSet = map[string]bool{
	"LD": true, "LDH": true, "PUSH": true, "POP": true,
	"ADD": true, "ADC": true, "SUB": true, "SBC": true,
	"AND": true, "OR": true, "XOR": true, "CP": true,
	"INC": true, "DEC": true, "JP": true, "JR": true, "CALL": true, "RST": true,
	"RLC": true, "RRC": true, "RL": true, "RR": true, "SLA": true, "SRA": true,
	"SWAP": true, "SRL": true, "BIT": true, "RES": true, "SET": true,
}

func isMnemonic(word string) bool {
	if _, ok := noOperandMnemonics[word]; ok {
		return true
	}
	return mnemonicSet[word]
}

func (p *Parser) emitByte(b byte) error {
	return p.sections.ByteGroup([]byte{b})
}

func (p *Parser) emitWord(e rpn.Expr) error {
	return p.sections.RelExpr(2, e, p.frameNodeID(), p.cur.Line)
}

func (p *Parser) parseInstruction(word string) error {
	p.next()
	if op, ok := noOperandMnemonics[word]; ok && !p.hasMoreOperands() {
		if err := p.emitByte(op); err != nil {
			return err
		}
		return p.expectEOL()
	}
	switch word {
	case "LD", "LDH":
		return p.finishLD(word)
	case "PUSH":
		return p.finishPushPop(true)
	case "POP":
		return p.finishPushPop(false)
	case "ADD", "ADC", "SUB", "SBC", "AND", "OR", "XOR", "CP":
		return p.finishALU(word)
	case "INC", "DEC":
		return p.finishIncDec(word)
	case "JP", "JR", "CALL":
		return p.finishControlFlow(word)
	case "RST":
		return p.finishRST()
	case "RLC", "RRC", "RL", "RR", "SLA", "SRA", "SWAP", "SRL":
		return p.finishCBRotate(word)
	case "BIT", "RES", "SET":
		return p.finishCBBit(word)
	}
	return fmt.Errorf("unimplemented instruction %q", word)
}

func (p *Parser) hasMoreOperands() bool {
	return p.cur.Type != lexer.Newline && p.cur.Type != lexer.EOF
}

// readRegOrIndirect recognizes a bare 8-bit register name or (HL)/(reg) and
// returns its r8Index slot, or ok=false if the current token isn't one.
func (p *Parser) readRegOrIndirect() (idx int, ok bool) {
	if p.cur.Type == lexer.Ident {
		up := strings.ToUpper(p.cur.Text)
		if i, found := r8Index[up]; found {
			p.next()
			return i, true
		}
	}
	if p.cur.Type == lexer.Op && p.cur.Text == "(" {
		pk := p.peek()
		if pk.Type == lexer.Ident && strings.ToUpper(pk.Text) == "HL" {
			p.next()
			p.next()
			if err := p.expectOp(")"); err == nil {
				return 6, true
			}
		}
	}
	return 0, false
}

func (p *Parser) finishALU(word string) error {
	opBase := map[string]byte{
		"ADD": 0x80, "ADC": 0x88, "SUB": 0x90, "SBC": 0x98,
		"AND": 0xA0, "OR": 0xA8, "XOR": 0xB0, "CP": 0xB8,
	}
	immOp := map[string]byte{
		"ADD": 0xC6, "ADC": 0xCE, "SUB": 0xD6, "SBC": 0xDE,
		"AND": 0xE6, "OR": 0xF6, "XOR": 0xEE, "CP": 0xFE,
	}
	if p.cur.Type == lexer.Ident && strings.ToUpper(p.cur.Text) == "A" {
		pk := p.peek()
		if pk.Type == lexer.Op && pk.Text == "," {
			p.next()
			p.next()
		}
	}
	if word == "ADD" {
		if p.cur.Type == lexer.Ident && strings.ToUpper(p.cur.Text) == "HL" {
			p.next()
			if err := p.expectOp(","); err != nil {
				return err
			}
			if p.cur.Type != lexer.Ident {
				return fmt.Errorf("expected 16-bit register after ADD HL,")
			}
			up := strings.ToUpper(p.cur.Text)
			r, ok := r16Index[up]
			if !ok {
				return fmt.Errorf("unknown 16-bit register %q", p.cur.Text)
			}
			p.next()
			if err := p.emitByte(byte(0x09 | (r << 4))); err != nil {
				return err
			}
			return p.expectEOL()
		}
		if p.cur.Type == lexer.Ident && strings.ToUpper(p.cur.Text) == "SP" {
			p.next()
			if err := p.expectOp(","); err != nil {
				return err
			}
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			if err := p.emitByte(0xE8); err != nil {
				return err
			}
			if err := p.sections.RelExpr(1, e, p.frameNodeID(), p.cur.Line); err != nil {
				return err
			}
			return p.expectEOL()
		}
	}
	if idx, ok := p.readRegOrIndirect(); ok {
		if err := p.emitByte(opBase[word] | byte(idx)); err != nil {
			return err
		}
		return p.expectEOL()
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	if err := p.emitByte(immOp[word]); err != nil {
		return err
	}
	if err := p.sections.RelExpr(1, e, p.frameNodeID(), p.cur.Line); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) finishIncDec(word string) error {
	base8 := map[string]byte{"INC": 0x04, "DEC": 0x05}[word]
	base16 := map[string]byte{"INC": 0x03, "DEC": 0x0B}[word]
	if p.cur.Type == lexer.Ident {
		up := strings.ToUpper(p.cur.Text)
		if r, ok := r16Index[up]; ok {
			p.next()
			return p.finishSimple(base16 | byte(r<<4))
		}
	}
	idx, ok := p.readRegOrIndirect()
	if !ok {
		return fmt.Errorf("expected register or (HL) after %s", word)
	}
	return p.finishSimple(base8 | byte(idx<<3))
}

func (p *Parser) finishSimple(b byte) error {
	if err := p.emitByte(b); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) finishPushPop(push bool) error {
	if p.cur.Type != lexer.Ident {
		return fmt.Errorf("expected register pair")
	}
	r, ok := r16StkIndex[strings.ToUpper(p.cur.Text)]
	if !ok {
		return fmt.Errorf("unknown register pair %q", p.cur.Text)
	}
	p.next()
	base := byte(0xC5)
	if !push {
		base = 0xC1
	}
	return p.finishSimple(base | byte(r<<4))
}

// finishLD covers the LD/LDH combinatorial space: 16-bit immediate loads,
// (nn),SP, HL,SP+e, the (BC)/(DE)/(HL+)/(HL-)/(C)/(nn) indirect forms for A,
// and the general 8-bit register/immediate grid.
func (p *Parser) finishLD(word string) error {
	if word == "LDH" {
		return p.finishLDH()
	}
	if p.cur.Type == lexer.Ident {
		up := strings.ToUpper(p.cur.Text)
		if up == "HL" {
			pk := p.peek()
			if pk.Type == lexer.Op && pk.Text == "," {
				p.next()
				p.next()
				if p.cur.Type != lexer.Ident || strings.ToUpper(p.cur.Text) != "SP" {
					e, err := p.parseExpr()
					if err != nil {
						return err
					}
					if err := p.emitByte(0x21); err != nil {
						return err
					}
					return p.finishTrailingWord(e)
				}
				p.next()
				if err := p.expectOp("+"); err != nil {
					return err
				}
				e, err := p.parseExpr()
				if err != nil {
					return err
				}
				if err := p.emitByte(0xF8); err != nil {
					return err
				}
				if err := p.sections.RelExpr(1, e, p.frameNodeID(), p.cur.Line); err != nil {
					return err
				}
				return p.expectEOL()
			}
		}
		if _, ok := r16Index[up]; ok {
			p.next()
			if err := p.expectOp(","); err != nil {
				return err
			}
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			base := map[string]byte{"BC": 0x01, "DE": 0x11, "HL": 0x21, "SP": 0x31}[up]
			if err := p.emitByte(base); err != nil {
				return err
			}
			return p.finishTrailingWord(e)
		}
	}
	if p.cur.Type == lexer.Op && p.cur.Text == "(" {
		return p.finishLDIndirectDest()
	}
	return p.finish8BitLD()
}

func (p *Parser) finishTrailingWord(e rpn.Expr) error {
	if err := p.emitWord(e); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) finishLDIndirectDest() error {
	p.next() // consume '('
	if p.cur.Type == lexer.Ident {
		up := strings.ToUpper(p.cur.Text)
		switch up {
		case "BC", "DE":
			p.next()
			if err := p.expectOp(")"); err != nil {
				return err
			}
			if err := p.expectOp(","); err != nil {
				return err
			}
			if p.cur.Type != lexer.Ident || strings.ToUpper(p.cur.Text) != "A" {
				return fmt.Errorf("LD (%s),x requires A", up)
			}
			p.next()
			op := byte(0x02)
			if up == "DE" {
				op = 0x12
			}
			return p.finishSimple(op)
		case "HL":
			pk := p.peek()
			if pk.Type == lexer.Op && (pk.Text == "+" || pk.Text == "-") {
				p.next()
				op := byte(0x22)
				if pk.Text == "-" {
					op = 0x32
				}
				p.next()
				if err := p.expectOp(")"); err != nil {
					return err
				}
				if err := p.expectOp(","); err != nil {
					return err
				}
				if p.cur.Type != lexer.Ident || strings.ToUpper(p.cur.Text) != "A" {
					return fmt.Errorf("LD (HL%c),x requires A", op)
				}
				p.next()
				return p.finishSimple(op)
			}
			// Plain (HL) destination: the generic LD (HL),r8 / LD (HL),n grid.
			p.next()
			if err := p.expectOp(")"); err != nil {
				return err
			}
			return p.finishDestFrom(6)
		case "C":
			p.next()
			if err := p.expectOp(")"); err != nil {
				return err
			}
			if err := p.expectOp(","); err != nil {
				return err
			}
			if p.cur.Type != lexer.Ident || strings.ToUpper(p.cur.Text) != "A" {
				return fmt.Errorf("LD (C),x requires A")
			}
			p.next()
			return p.finishSimple(0xE2)
		}
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	if err := p.expectOp(")"); err != nil {
		return err
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	if p.cur.Type == lexer.Ident && strings.ToUpper(p.cur.Text) == "SP" {
		p.next()
		if err := p.emitByte(0x08); err != nil {
			return err
		}
		return p.finishTrailingWord(e)
	}
	if p.cur.Type != lexer.Ident || strings.ToUpper(p.cur.Text) != "A" {
		return fmt.Errorf("LD (nn),x requires A or SP")
	}
	p.next()
	if err := p.emitByte(0xEA); err != nil {
		return err
	}
	return p.finishTrailingWord(e)
}

// finish8BitLD handles LD r8,r8 / LD r8,n / LD A,(BC|DE|HL+|HL-|C|nn), where
// the destination has already been confirmed to not be one of the 16-bit or
// indirect-dest forms above.
func (p *Parser) finish8BitLD() error {
	dst, ok := p.readRegOrIndirect()
	if !ok {
		return fmt.Errorf("expected LD destination")
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	return p.finishDestFrom(dst)
}

// finishDestFrom parses and emits the right-hand side of an 8-bit LD whose
// destination (register or (HL)) has already been consumed through the
// comma, shared by the plain register grid and the plain (HL) destination
// reached from finishLDIndirectDest.
func (p *Parser) finishDestFrom(dst int) error {
	if dst == 7 && p.cur.Type == lexer.Op && p.cur.Text == "(" {
		if handled, err := p.finishLDASourceIndirect(); handled || err != nil {
			return err
		}
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		if err := p.emitByte(0xFA); err != nil {
			return err
		}
		return p.finishTrailingWord(e)
	}
	if src, ok := p.readRegOrIndirect(); ok {
		if dst == 6 && src == 6 {
			return fmt.Errorf("LD (HL),(HL) is HALT, not a valid LD encoding")
		}
		return p.finishSimple(byte(0x40 | (dst << 3) | src))
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	if err := p.emitByte(byte(0x06 | (dst << 3))); err != nil {
		return err
	}
	if err := p.sections.RelExpr(1, e, p.frameNodeID(), p.cur.Line); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) finishLDASourceIndirect() (bool, error) {
	pk := p.peek()
	if pk.Type != lexer.Ident {
		return false, nil
	}
	up := strings.ToUpper(pk.Text)
	switch up {
	case "BC", "DE":
		p.next()
		p.next()
		if err := p.expectOp(")"); err != nil {
			return true, err
		}
		op := byte(0x0A)
		if up == "DE" {
			op = 0x1A
		}
		return true, p.finishSimple(op)
	case "HL":
		p.next()
		p.next()
		if p.cur.Type == lexer.Op && (p.cur.Text == "+" || p.cur.Text == "-") {
			op := byte(0x2A)
			if p.cur.Text == "-" {
				op = 0x3A
			}
			p.next()
			if err := p.expectOp(")"); err != nil {
				return true, err
			}
			return true, p.finishSimple(op)
		}
		// Plain (HL), not the post-inc/dec forms: ordinary LD A,(HL).
		if err := p.expectOp(")"); err != nil {
			return true, err
		}
		return true, p.finishSimple(byte(0x40 | (7 << 3) | 6))
	case "C":
		p.next()
		p.next()
		if err := p.expectOp(")"); err != nil {
			return true, err
		}
		return true, p.finishSimple(0xF2)
	}
	return false, nil
}

func (p *Parser) finishLDH() error {
	if p.cur.Type == lexer.Ident && strings.ToUpper(p.cur.Text) == "A" {
		pk := p.peek()
		if pk.Type == lexer.Op && pk.Text == "," {
			p.next()
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			e, err = rpn.HRAMCheck(e)
			if err != nil {
				return err
			}
			if err := p.emitByte(0xF0); err != nil {
				return err
			}
			if err := p.sections.RelExpr(1, e, p.frameNodeID(), p.cur.Line); err != nil {
				return err
			}
			return p.expectEOL()
		}
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	e, err = rpn.HRAMCheck(e)
	if err != nil {
		return err
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	if p.cur.Type != lexer.Ident || strings.ToUpper(p.cur.Text) != "A" {
		return fmt.Errorf("LDH (n),x requires A")
	}
	p.next()
	if err := p.emitByte(0xE0); err != nil {
		return err
	}
	if err := p.sections.RelExpr(1, e, p.frameNodeID(), p.cur.Line); err != nil {
		return err
	}
	return p.expectEOL()
}

// finishControlFlow covers JP/JR/CALL, each optionally prefixed by a
// condition code (NZ/Z/NC/C), disambiguating "C" as a condition here versus
// as the register in other contexts.
func (p *Parser) finishControlFlow(word string) error {
	cond := -1
	if p.cur.Type == lexer.Ident {
		up := strings.ToUpper(p.cur.Text)
		if c, ok := condIndex[up]; ok {
			pk := p.peek()
			if pk.Type == lexer.Op && pk.Text == "," {
				cond = c
				p.next()
				p.next()
			}
		}
	}
	if word == "JP" && cond == -1 && p.cur.Type == lexer.Ident && strings.ToUpper(p.cur.Text) == "HL" {
		p.next()
		return p.finishSimple(0xE9)
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	switch word {
	case "JP":
		op := byte(0xC3)
		if cond >= 0 {
			op = byte(0xC2 | (cond << 3))
		}
		if err := p.emitByte(op); err != nil {
			return err
		}
		return p.finishTrailingWord(e)
	case "CALL":
		op := byte(0xCD)
		if cond >= 0 {
			op = byte(0xC4 | (cond << 3))
		}
		if err := p.emitByte(op); err != nil {
			return err
		}
		return p.finishTrailingWord(e)
	case "JR":
		op := byte(0x18)
		if cond >= 0 {
			op = byte(0x20 | (cond << 3))
		}
		if err := p.emitByte(op); err != nil {
			return err
		}
		if err := p.sections.PCRelByte(e, p.frameNodeID(), p.cur.Line); err != nil {
			return err
		}
		return p.expectEOL()
	}
	return fmt.Errorf("unreachable")
}

func (p *Parser) finishRST() error {
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	e, err = rpn.RSTCheck(e)
	if err != nil {
		return err
	}
	if !e.IsKnown() {
		return fmt.Errorf("RST target must be a constant expression")
	}
	if err := p.emitByte(byte(e.Value())); err != nil {
		return err
	}
	return p.expectEOL()
}

var cbRotateBase = map[string]byte{
	"RLC": 0x00, "RRC": 0x08, "RL": 0x10, "RR": 0x18,
	"SLA": 0x20, "SRA": 0x28, "SWAP": 0x30, "SRL": 0x38,
}

func (p *Parser) finishCBRotate(word string) error {
	idx, ok := p.readRegOrIndirect()
	if !ok {
		return fmt.Errorf("expected register or (HL) after %s", word)
	}
	if err := p.emitByte(0xCB); err != nil {
		return err
	}
	if err := p.emitByte(cbRotateBase[word] | byte(idx)); err != nil {
		return err
	}
	return p.expectEOL()
}

func (p *Parser) finishCBBit(word string) error {
	bitE, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !bitE.IsKnown() || bitE.Value() < 0 || bitE.Value() > 7 {
		return fmt.Errorf("%s bit index must be a constant in 0..7", word)
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	idx, ok := p.readRegOrIndirect()
	if !ok {
		return fmt.Errorf("expected register or (HL) after %s n,", word)
	}
	base := map[string]byte{"BIT": 0x40, "RES": 0x80, "SET": 0xC0}[word]
	if err := p.emitByte(0xCB); err != nil {
		return err
	}
	if err := p.emitByte(base | byte(bitE.Value()<<3) | byte(idx)); err != nil {
		return err
	}
	return p.expectEOL()
}
