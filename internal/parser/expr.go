package parser

import (
	"fmt"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/lexer"
	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

// parseExpr parses a full expression via precedence climbing, starting at
// logical-or (the loosest binding operator RGBDS supports).
func (p *Parser) parseExpr() (rpn.Expr, error) { return p.parseBinary(0) }

// precedence levels, loosest to tightest.
var binOps = []map[string]func(a, b rpn.Expr) (rpn.Expr, error){
	{"||": rpn.LogicOr},
	{"&&": rpn.LogicAnd},
	{"==": rpn.Eq, "!=": rpn.Ne},
	{"<": rpn.Lt, "<=": rpn.Le, ">": rpn.Gt, ">=": rpn.Ge},
	{"|": rpn.BitOr},
	{"^": rpn.BitXor},
	{"&": rpn.BitAnd},
	{"<<": rpn.Shl, ">>": rpn.Shr},
	{"+": rpn.Add, "-": rpn.Sub},
	{"*": rpn.Mul, "/": rpn.Div, "%": rpn.Mod},
}

func (p *Parser) parseBinary(level int) (rpn.Expr, error) {
	if level >= len(binOps) {
		return p.parseUnary()
	}
	lhs, err := p.parseBinary(level + 1)
	if err != nil {
		return rpn.Expr{}, err
	}
	for p.cur.Type == lexer.Op {
		fn, ok := binOps[level][p.cur.Text]
		if !ok {
			break
		}
		p.next()
		rhs, err := p.parseBinary(level + 1)
		if err != nil {
			return rpn.Expr{}, err
		}
		lhs, err = fn(lhs, rhs)
		if err != nil {
			return rpn.Expr{}, err
		}
	}
	return lhs, nil
}

func (p *Parser) parseUnary() (rpn.Expr, error) {
	if p.cur.Type == lexer.Op {
		switch p.cur.Text {
		case "-":
			p.next()
			e, err := p.parseUnary()
			if err != nil {
				return rpn.Expr{}, err
			}
			return rpn.Neg(e)
		case "+":
			p.next()
			return p.parseUnary()
		case "~":
			p.next()
			e, err := p.parseUnary()
			if err != nil {
				return rpn.Expr{}, err
			}
			return rpn.BitNot(e)
		case "!":
			p.next()
			e, err := p.parseUnary()
			if err != nil {
				return rpn.Expr{}, err
			}
			return rpn.LogicNot(e)
		}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (rpn.Expr, error) {
	switch p.cur.Type {
	case lexer.Number:
		v := p.cur.IntValue
		p.next()
		return rpn.Const(v), nil
	case lexer.String:
		s := p.cur.Text
		p.next()
		vals, _ := p.charmaps.Current().Convert(s)
		var v int32
		for _, b := range vals {
			v = (v << 8) | int32(b)
		}
		return rpn.Const(v), nil
	case lexer.Op:
		if p.cur.Text == "(" {
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return rpn.Expr{}, err
			}
			if err := p.expectOp(")"); err != nil {
				return rpn.Expr{}, err
			}
			return e, nil
		}
		if p.cur.Text == "@" {
			p.next()
			return rpn.Const(p.sections.PC()), nil
		}
	case lexer.Ident, lexer.Local:
		return p.parseIdentPrimary()
	}
	return rpn.Expr{}, fmt.Errorf("unexpected token %s in expression", p.cur.String())
}

// parseIdentPrimary handles bare names and the built-in functions (BANK,
// HIGH, LOW, DEF, STRLEN, ...); a bare @ is handled in parsePrimary.
func (p *Parser) parseIdentPrimary() (rpn.Expr, error) {
	name := p.cur.Text
	up := strings.ToUpper(name)
	switch up {
	case "BANK":
		p.next()
		if err := p.expectOp("("); err != nil {
			return rpn.Expr{}, err
		}
		if p.cur.Type == lexer.String {
			sec := p.cur.Text
			p.next()
			if err := p.expectOp(")"); err != nil {
				return rpn.Expr{}, err
			}
			return rpn.SectionBankRef(sec), nil
		}
		if p.cur.Type == lexer.Op && p.cur.Text == "@" {
			p.next()
			if err := p.expectOp(")"); err != nil {
				return rpn.Expr{}, err
			}
			return rpn.SelfBankRef(), nil
		}
		sym, symName, err := p.identSymbolArg()
		if err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		if sym.Defined && sym.Type == symbol.LABEL {
			sec, serr := p.sections.Get(sym.SectionID)
			if serr == nil && sec.HasBank {
				return rpn.Const(int32(sec.Bank)), nil
			}
		}
		id, _ := p.symtab.IndexOf(symName, p.scope)
		return rpn.SymbolBankRef(id), nil
	case "HIGH":
		return p.parseUnaryFunc(func(e rpn.Expr) (rpn.Expr, error) {
			return shiftAndMask(e, 8, 0xFF)
		})
	case "LOW":
		return p.parseUnaryFunc(func(e rpn.Expr) (rpn.Expr, error) {
			return shiftAndMask(e, 0, 0xFF)
		})
	case "DEF":
		p.next()
		if err := p.expectOp("("); err != nil {
			return rpn.Expr{}, err
		}
		if p.cur.Type != lexer.Ident && p.cur.Type != lexer.Local {
			return rpn.Expr{}, fmt.Errorf("expected symbol name in DEF()")
		}
		target := p.cur.Text
		p.next()
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		_, ok := p.symtab.FindScoped(target, p.scope)
		if ok {
			return rpn.Const(1), nil
		}
		return rpn.Const(0), nil
	case "STRLEN":
		p.next()
		if err := p.expectOp("("); err != nil {
			return rpn.Expr{}, err
		}
		if p.cur.Type != lexer.String {
			return rpn.Expr{}, fmt.Errorf("expected string literal in STRLEN()")
		}
		n := len(p.cur.Text)
		p.next()
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		return rpn.Const(int32(n)), nil
	}
	sym, symName, err := p.identSymbolArg()
	if err != nil {
		return rpn.Expr{}, err
	}
	return p.exprForSymbol(sym, symName), nil
}

func (p *Parser) parseUnaryFunc(fold func(rpn.Expr) (rpn.Expr, error)) (rpn.Expr, error) {
	p.next()
	if err := p.expectOp("("); err != nil {
		return rpn.Expr{}, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return rpn.Expr{}, err
	}
	if err := p.expectOp(")"); err != nil {
		return rpn.Expr{}, err
	}
	return fold(e)
}

func shiftAndMask(e rpn.Expr, shift uint, mask int32) (rpn.Expr, error) {
	shifted, err := rpn.Shr(e, rpn.Const(int32(shift)))
	if err != nil {
		return rpn.Expr{}, err
	}
	return rpn.BitAnd(shifted, rpn.Const(mask))
}

// identSymbolArg consumes the current Ident/Local token as a bare symbol
// reference, returning the table entry alongside the raw name used to
// resolve it (for the caller's own IndexOf/BANK lookups).
func (p *Parser) identSymbolArg() (*symbol.Symbol, string, error) {
	if p.cur.Type != lexer.Ident && p.cur.Type != lexer.Local {
		return nil, "", fmt.Errorf("expected identifier, got %s", p.cur.String())
	}
	name := p.cur.Text
	p.next()
	sym := p.symtab.Ref(name, p.scope)
	return sym, name, nil
}

// exprForSymbol folds a reference to an already-known EQU/VAR immediately,
// and defers everything else (including forward-referenced labels) to a
// symbol-id RPN reference resolved at link time.
func (p *Parser) exprForSymbol(sym *symbol.Symbol, name string) rpn.Expr {
	if sym.Defined && (sym.Type == symbol.EQU || sym.Type == symbol.VAR) {
		return rpn.Const(sym.IntValue)
	}
	// Labels resolve to a final address only after linker placement, so even
	// an already-defined LABEL defers to link time here.
	id, _ := p.symtab.IndexOf(name, p.scope)
	return rpn.SymbolRef(id, false, 0)
}
