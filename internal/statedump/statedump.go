// Package statedump implements `-s <features>:<path>`: re-serializing a
// slice of the assembler's live state (EQU/VAR constants, EQUS string
// constants, charmaps, or macro bodies) back out as directives that would
// reproduce it if INCLUDEd into a fresh run.
package statedump

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/charmap"
	"github.com/gbdev/rgbds-sub001/internal/symbol"
)

// Feature is one dumpable slice of state.
type Feature int

const (
	FeatureEqu Feature = iota
	FeatureVar
	FeatureEqus
	FeatureChar
	FeatureMacro
)

// ParseFeatures splits a comma-separated `-s` feature list ("equ,var" or
// "all") into the set of Features it names.
func ParseFeatures(spec string) (map[Feature]bool, error) {
	out := make(map[Feature]bool)
	for _, tok := range strings.Split(spec, ",") {
		switch strings.TrimSpace(strings.ToLower(tok)) {
		case "equ":
			out[FeatureEqu] = true
		case "var":
			out[FeatureVar] = true
		case "equs":
			out[FeatureEqus] = true
		case "char":
			out[FeatureChar] = true
		case "macro":
			out[FeatureMacro] = true
		case "all":
			out[FeatureEqu] = true
			out[FeatureVar] = true
			out[FeatureEqus] = true
			out[FeatureChar] = true
			out[FeatureMacro] = true
		default:
			return nil, fmt.Errorf("statedump: unknown feature %q", tok)
		}
	}
	return out, nil
}

// MacroBody is a recorded macro's raw source text, keyed by name, supplied
// by the parser's macro table (statedump doesn't parse macros itself).
type MacroBody struct {
	Name string
	Body string
}

// Write renders every requested feature from symtab/charmaps/macros as
// directives, in a fixed per-feature order (equ, var, equs, char, macro),
// sorted by name within each feature for determinism.
func Write(w io.Writer, features map[Feature]bool, symtab *symbol.Table, charmaps *charmap.Registry, macros []MacroBody) error {
	if features[FeatureEqu] {
		if err := writeConstants(w, symtab, symbol.EQU, func(s *symbol.Symbol) string {
			return fmt.Sprintf("%s EQU %d\n", s.Name, s.IntValue)
		}); err != nil {
			return err
		}
	}
	if features[FeatureVar] {
		if err := writeConstants(w, symtab, symbol.VAR, func(s *symbol.Symbol) string {
			return fmt.Sprintf("%s = %d\n", s.Name, s.IntValue)
		}); err != nil {
			return err
		}
	}
	if features[FeatureEqus] {
		if err := writeConstants(w, symtab, symbol.EQUS, func(s *symbol.Symbol) string {
			return fmt.Sprintf("%s EQUS %q\n", s.Name, s.StrValue)
		}); err != nil {
			return err
		}
	}
	if features[FeatureChar] && charmaps != nil {
		if err := writeCharmaps(w, charmaps); err != nil {
			return err
		}
	}
	if features[FeatureMacro] {
		sorted := append([]MacroBody{}, macros...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		for _, m := range sorted {
			if _, err := fmt.Fprintf(w, "MACRO %s\n%s\nENDM\n", m.Name, m.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeConstants(w io.Writer, symtab *symbol.Table, want symbol.Type, render func(*symbol.Symbol) string) error {
	all := symtab.AllSortedByName()
	for _, s := range all {
		if s.Type != want {
			continue
		}
		if _, err := io.WriteString(w, render(s)); err != nil {
			return err
		}
	}
	return nil
}

func writeCharmaps(w io.Writer, charmaps *charmap.Registry) error {
	for _, name := range charmaps.Names() {
		m := charmaps.Get(name)
		if m == nil {
			continue
		}
		if err := WriteMap(w, m); err != nil {
			return err
		}
	}
	return nil
}

// WriteMap dumps one charmap's entries as CHARMAP directives.
func WriteMap(w io.Writer, m *charmap.Map) error {
	entries := m.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Input < entries[j].Input })
	for _, e := range entries {
		vals := make([]string, len(e.Values))
		for i, v := range e.Values {
			vals[i] = fmt.Sprintf("%d", v)
		}
		if _, err := fmt.Fprintf(w, "CHARMAP %q, %s\n", e.Input, strings.Join(vals, ", ")); err != nil {
			return err
		}
	}
	return nil
}
