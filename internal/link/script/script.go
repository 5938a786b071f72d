// Package script parses and executes the linker script DSL (spec.md
// §4.11): REGION/bank selection, ORG, FLOATING, ALIGN, DS, section
// placement, and bounded-depth INCLUDE.
package script

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/link/assign"
	"github.com/gbdev/rgbds-sub001/internal/sect"
)

// MaxIncludeDepth bounds INCLUDE nesting.
const MaxIncludeDepth = 16

// Placement is one `"section-name" [OPTIONAL]` directive's effect: the
// section is pinned at the active region/bank/pc.
type Placement struct {
	Name     string
	Type     sect.Type
	Bank     int
	Org      uint16
	HasOrg   bool // false when placed after FLOATING
	Optional bool
}

// Loader resolves an INCLUDEd script path to its source text.
type Loader func(path string) (string, error)

// Program is the parsed, not-yet-applied effect of a script: the sequence
// of placements in script order. It does not keep the PC state the script
// ended with.
type Program struct {
	Placements []Placement
}

type execState struct {
	mode        sect.Mode
	curType     sect.Type
	curTypeSet  bool
	curBank     int
	pc          uint16
	floating    bool
	placements  []Placement
	includeDepth int
	loader      Loader
	sizes       map[string]uint16
}

// Run parses and executes src, producing the ordered list of placements.
// sizes supplies each known section's byte size so PC auto-advances past a
// placed section the way rgblink's own script evaluator does.
func Run(src string, mode sect.Mode, loader Loader, sizes map[string]uint16) (*Program, error) {
	st := &execState{mode: mode, loader: loader, sizes: sizes}
	if err := st.run(src); err != nil {
		return nil, err
	}
	return &Program{Placements: st.placements}, nil
}

func (st *execState) run(src string) error {
	for lineNo, raw := range strings.Split(src, "\n") {
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := st.execLine(line); err != nil {
			return fmt.Errorf("linker script line %d: %w", lineNo+1, err)
		}
	}
	return nil
}

func stripComment(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return s[:i]
	}
	return s
}

func (st *execState) execLine(line string) error {
	fields := strings.Fields(line)
	head := fields[0]

	if strings.HasPrefix(line, "\"") {
		return st.execPlacement(line)
	}

	switch strings.ToUpper(head) {
	case "ORG":
		if len(fields) < 2 {
			return fmt.Errorf("ORG requires an address")
		}
		addr, err := parseNumber(fields[1])
		if err != nil {
			return err
		}
		if uint16(addr) < st.pc && !st.floating {
			return fmt.Errorf("ORG must not decrease (from $%04x to $%04x)", st.pc, addr)
		}
		st.pc = uint16(addr)
		st.floating = false
		return nil
	case "FLOATING":
		st.floating = true
		return nil
	case "ALIGN":
		if len(fields) < 2 {
			return fmt.Errorf("ALIGN requires a bit count")
		}
		n, err := strconv.Atoi(strings.TrimSuffix(fields[1], ","))
		if err != nil {
			return err
		}
		offset := 0
		if len(fields) >= 3 {
			offset, err = strconv.Atoi(fields[2])
			if err != nil {
				return err
			}
		}
		mask := uint16(1<<uint(n)) - 1
		for (st.pc & mask) != uint16(offset) {
			st.pc++
		}
		return nil
	case "DS":
		if len(fields) < 2 {
			return fmt.Errorf("DS requires a length")
		}
		n, err := parseNumber(fields[1])
		if err != nil {
			return err
		}
		st.pc += uint16(n)
		return nil
	case "INCLUDE":
		if len(fields) < 2 {
			return fmt.Errorf("INCLUDE requires a path")
		}
		if st.includeDepth >= MaxIncludeDepth {
			return fmt.Errorf("INCLUDE nesting exceeds maximum depth (%d)", MaxIncludeDepth)
		}
		path := strings.Trim(fields[1], `"`)
		if st.loader == nil {
			return fmt.Errorf("INCLUDE %q: no script loader configured", path)
		}
		src, err := st.loader(path)
		if err != nil {
			return err
		}
		st.includeDepth++
		defer func() { st.includeDepth-- }()
		return st.run(src)
	default:
		return st.execRegion(fields)
	}
}

var regionNames = map[string]sect.Type{
	"ROM0": sect.ROM0, "ROMX": sect.ROMX, "VRAM": sect.VRAM, "SRAM": sect.SRAM,
	"WRAM0": sect.WRAM0, "WRAMX": sect.WRAMX, "OAM": sect.OAM, "HRAM": sect.HRAM,
}

func (st *execState) execRegion(fields []string) error {
	typ, ok := regionNames[strings.ToUpper(fields[0])]
	if !ok {
		return fmt.Errorf("unrecognized linker script directive %q", fields[0])
	}
	entry := sect.Lookup(typ, st.mode)
	bank := entry.FirstBank
	if len(fields) >= 2 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("invalid bank %q", fields[1])
		}
		bank = n
	}
	st.curType = typ
	st.curTypeSet = true
	st.curBank = bank
	st.pc = entry.StartAddr
	st.floating = false
	return nil
}

func (st *execState) execPlacement(line string) error {
	if !st.curTypeSet {
		return fmt.Errorf("section placement before any region directive")
	}
	end := strings.IndexByte(line[1:], '"')
	if end < 0 {
		return fmt.Errorf("unterminated section name")
	}
	name := line[1 : 1+end]
	rest := strings.TrimSpace(line[2+end:])
	optional := strings.EqualFold(rest, "OPTIONAL")

	if st.floating {
		st.placements = append(st.placements, Placement{Name: name, Type: st.curType, Bank: st.curBank, Optional: optional})
		return nil
	}

	st.placements = append(st.placements, Placement{Name: name, Type: st.curType, Bank: st.curBank, Org: st.pc, HasOrg: true, Optional: optional})
	st.pc += st.sizes[name]
	return nil
}

func parseNumber(s string) (int64, error) {
	s = strings.TrimSuffix(s, ",")
	switch {
	case strings.HasPrefix(s, "$"):
		return strconv.ParseInt(s[1:], 16, 64)
	case strings.HasPrefix(s, "%"):
		return strconv.ParseInt(s[1:], 2, 64)
	case strings.HasPrefix(s, "&"):
		return strconv.ParseInt(s[1:], 8, 64)
	default:
		return strconv.ParseInt(s, 10, 64)
	}
}

// Apply merges a Program's placements into the assign package's Section
// slice as constraints on the matching (by name) section: every placement
// sets HasBank/Bank, and a placement with a fixed org also sets HasOrg/Org,
// so assign.Run places it in its address-and-bank-fixed tier. Sections
// placed FLOATING (HasOrg false) get HasBank only and are left for
// assign.Run's bank-fixed tier. Apply does not set Assigned.
func Apply(prog *Program, secs []assign.Section) ([]assign.Section, error) {
	byName := make(map[string]int, len(secs))
	for i := range secs {
		byName[secs[i].Name] = i
	}
	for _, p := range prog.Placements {
		idx, ok := byName[p.Name]
		if !ok {
			if p.Optional {
				continue
			}
			return nil, fmt.Errorf("linker script placed undefined section %q", p.Name)
		}
		secs[idx].HasBank = true
		secs[idx].Bank = p.Bank
		if p.HasOrg {
			secs[idx].HasOrg = true
			secs[idx].Org = p.Org
		}
	}
	return secs, nil
}
