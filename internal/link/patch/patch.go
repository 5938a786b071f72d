// Package patch applies deferred RPN patches against a resolved address
// map: the linker's last step before bytes are final (spec.md §4.12).
package patch

import (
	"fmt"

	"github.com/gbdev/rgbds-sub001/internal/diag"
	"github.com/gbdev/rgbds-sub001/internal/rpn"
	"github.com/gbdev/rgbds-sub001/internal/section"
)

// AddressOf resolves a placed section's final (bank, org).
type AddressOf func(sectionID int) (bank int, org uint16, ok bool)

// Apply evaluates patch.Expr against resolver/sectionBank and writes the
// result into data at patch.Offset, bounds-checked per patch.Type. data is
// mutated in place.
func Apply(p section.Patch, data []byte, resolver rpn.SymbolResolver, sectionBank rpn.SectionBankResolver, selfBank int32, addrOf AddressOf) error {
	v, err := rpn.Eval(p.Expr.Bytes(), resolver, sectionBank, selfBank)
	if err != nil {
		return fmt.Errorf("patch at offset %d: %w", p.Offset, err)
	}

	switch p.Type {
	case section.Byte:
		if v < -128 || v > 255 {
			return fmt.Errorf("patch at offset %d: value %d does not fit in a byte", p.Offset, v)
		}
		data[p.Offset] = byte(v)
	case section.Word:
		if v < -32768 || v > 65535 {
			return fmt.Errorf("patch at offset %d: value %d does not fit in a word", p.Offset, v)
		}
		data[p.Offset] = byte(v)
		data[p.Offset+1] = byte(v >> 8)
	case section.Long:
		data[p.Offset] = byte(v)
		data[p.Offset+1] = byte(v >> 8)
		data[p.Offset+2] = byte(v >> 16)
		data[p.Offset+3] = byte(v >> 24)
	case section.JR:
		_, org, ok := addrOf(p.SectionID)
		if !ok {
			return fmt.Errorf("patch at offset %d: section not placed", p.Offset)
		}
		from := int32(org) + p.JRFromOffset
		delta := v - from
		if delta < -128 || delta > 127 {
			return fmt.Errorf("patch at offset %d: jr target out of range (%d)", p.Offset, delta)
		}
		data[p.Offset] = byte(int8(delta))
	case section.Assert:
		// Assertions carry no data write; ApplyAssertion handles them.
		return fmt.Errorf("patch at offset %d: ASSERT must go through ApplyAssertion", p.Offset)
	default:
		return fmt.Errorf("patch at offset %d: unknown patch type %d", p.Offset, p.Type)
	}
	return nil
}

// AssertionLevel is the severity an ASSERT directive was declared with.
type AssertionLevel int

const (
	AssertWarn AssertionLevel = iota
	AssertError
	AssertFatal
)

// ApplyAssertion evaluates an assertion's RPN and reports via reg if it's
// zero (false), at the declared level, carrying message.
func ApplyAssertion(p section.Patch, message string, level AssertionLevel, resolver rpn.SymbolResolver, sectionBank rpn.SectionBankResolver, selfBank int32, reg *diag.Registry, frame diag.BacktraceFrame) error {
	v, err := rpn.Eval(p.Expr.Bytes(), resolver, sectionBank, selfBank)
	if err != nil {
		return fmt.Errorf("assertion: %w", err)
	}
	if v != 0 {
		return nil
	}
	switch level {
	case AssertWarn:
		reg.Warn("assert", frame, p.Line, 0, "%s", message)
	case AssertError:
		reg.Error(frame, p.Line, "%s", message)
	case AssertFatal:
		reg.Fatal(frame, p.Line, "%s", message)
	}
	return nil
}
