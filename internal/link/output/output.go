// Package output writes the linker's final artifacts: the ROM image, the
// symbol file, and the map file (spec.md §4.13).
package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/gbdev/rgbds-sub001/internal/link/assign"
	"github.com/gbdev/rgbds-sub001/internal/sect"
)

// PlacedSection is everything the output writer needs about one placed
// section: its final address plus its data.
type PlacedSection struct {
	Name string
	Type sect.Type
	Bank int
	Org  uint16
	Data []byte // only for data-bearing types
}

// ExportedSymbol is one entry destined for the symbol file.
type ExportedSymbol struct {
	Name string
	Bank int
	Addr uint16
}

// WriteROM concatenates every ROM0/ROMX section's data in (bank, org)
// order, padding gaps with fill (default 0x00), optionally reading the
// padding from an overlay image instead (`-O`).
func WriteROM(w io.Writer, secs []PlacedSection, fill byte, overlay []byte, mode sect.Mode) error {
	romSecs := filterByRegion(secs, sect.ROM0, sect.ROMX)
	if len(romSecs) == 0 {
		return nil
	}
	catalog := sect.Catalog(mode)
	maxBank := 0
	for _, s := range romSecs {
		if s.Bank > maxBank {
			maxBank = s.Bank
		}
	}
	bankSize := int(catalog[sect.ROMX].Size)
	rom0Size := int(catalog[sect.ROM0].Size)

	buf := make([]byte, rom0Size+(maxBank)*bankSize)
	for i := range buf {
		if overlay != nil && i < len(overlay) {
			buf[i] = overlay[i]
		} else {
			buf[i] = fill
		}
	}
	for _, s := range romSecs {
		romOffset := romFileOffset(s, rom0Size, bankSize)
		copy(buf[romOffset:], s.Data)
	}
	_, err := w.Write(buf)
	return err
}

func romFileOffset(s PlacedSection, rom0Size, bankSize int) int {
	if s.Type == sect.ROM0 {
		return int(s.Org)
	}
	return rom0Size + (s.Bank-1)*bankSize + (int(s.Org) - bankSize)
}

func filterByRegion(secs []PlacedSection, types ...sect.Type) []PlacedSection {
	var out []PlacedSection
	for _, s := range secs {
		for _, t := range types {
			if s.Type == t {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bank != out[j].Bank {
			return out[i].Bank < out[j].Bank
		}
		return out[i].Org < out[j].Org
	})
	return out
}

// WriteSymbolFile emits one `BB:AAAA name` line per exported symbol, sorted
// by (bank, address, name) for deterministic output.
func WriteSymbolFile(w io.Writer, syms []ExportedSymbol) error {
	sorted := append([]ExportedSymbol{}, syms...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Bank != sorted[j].Bank {
			return sorted[i].Bank < sorted[j].Bank
		}
		if sorted[i].Addr != sorted[j].Addr {
			return sorted[i].Addr < sorted[j].Addr
		}
		return sorted[i].Name < sorted[j].Name
	})
	fmt.Fprintln(w, "; File generated by rgblink")
	for _, s := range sorted {
		if _, err := fmt.Fprintf(w, "%02X:%04X %s\n", s.Bank, s.Addr, s.Name); err != nil {
			return err
		}
	}
	return nil
}

// BankMap is one bank's placement summary for the map file: each section's
// range, the slack between sections, and its exported symbols.
type BankMap struct {
	Type     sect.Type
	Bank     int
	Sections []MapSection
}

type MapSection struct {
	Name    string
	Org     uint16
	Size    uint16
	Symbols []ExportedSymbol
}

// WriteMapFile emits the per-bank listing spec.md §4.13 describes.
func WriteMapFile(w io.Writer, banks []BankMap) error {
	sort.Slice(banks, func(i, j int) bool {
		if banks[i].Type != banks[j].Type {
			return banks[i].Type < banks[j].Type
		}
		return banks[i].Bank < banks[j].Bank
	})
	for _, b := range banks {
		fmt.Fprintf(w, "%s bank #%d:\n", b.Type, b.Bank)
		sort.Slice(b.Sections, func(i, j int) bool { return b.Sections[i].Org < b.Sections[j].Org })
		prevEnd := sect.Lookup(b.Type, sect.ModeDefault).StartAddr
		for _, s := range b.Sections {
			if s.Org > prevEnd {
				fmt.Fprintf(w, "  SLACK: $%04x bytes\n", s.Org-prevEnd)
			}
			fmt.Fprintf(w, "  SECTION: $%04x-$%04x (\"%s\")\n", s.Org, s.Org+s.Size-1, s.Name)
			sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].Addr < s.Symbols[j].Addr })
			for _, sym := range s.Symbols {
				fmt.Fprintf(w, "    $%04x = %s\n", sym.Addr, sym.Name)
			}
			prevEnd = s.Org + s.Size
		}
	}
	return nil
}

// FromAssigned converts assign.Section results (with their data filled in
// by the caller after patch application) into PlacedSection for writing.
func FromAssigned(secs []assign.Section, dataByName map[string][]byte) []PlacedSection {
	out := make([]PlacedSection, 0, len(secs))
	for _, s := range secs {
		out = append(out, PlacedSection{
			Name: s.Name, Type: s.Type, Bank: s.AssignedBank, Org: s.AssignedOrg,
			Data: dataByName[s.Name],
		})
	}
	return out
}
