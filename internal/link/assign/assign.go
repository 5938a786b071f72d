// Package assign implements the linker's bank placement algorithm
// (spec.md §4.10): fragment size collapsing (MergeFragments; UNION and data
// merging live in internal/link/merge), then tiered placement against a
// sorted list of free address intervals per bank — the same shape as a
// linear-scan register allocator's active-interval bookkeeping, adapted
// from intervals-over-program-positions to intervals-over-address-space.
package assign

import (
	"fmt"
	"sort"

	"github.com/gbdev/rgbds-sub001/internal/sect"
)

// Section is the linker's view of one section after fragment/union merging:
// exactly what a §4.10 placement tier consumes.
type Section struct {
	Name      string
	Type      sect.Type
	Size      int32
	HasOrg    bool
	Org       uint16
	HasBank   bool
	Bank      int
	AlignMask uint16
	AlignOffset uint16

	// Assigned is filled in by Run.
	Assigned    bool
	AssignedOrg uint16
	AssignedBank int
}

// interval is a half-open [Start, End) free range within one bank.
type interval struct {
	Start, End uint16
}

// Allocator tracks free address intervals per (type, bank), mirroring a
// linear-scan allocator's free-register list but over address ranges.
type Allocator struct {
	mode  sect.Mode
	free  map[sect.Type]map[int][]interval
}

// NewAllocator seeds one full free interval per bank of every section type,
// per the catalog for mode.
func NewAllocator(mode sect.Mode) *Allocator {
	a := &Allocator{mode: mode, free: make(map[sect.Type]map[int][]interval)}
	catalog := sect.Catalog(mode)
	for t := sect.Type(0); t < sect.Type(len(catalog)); t++ {
		entry := catalog[t]
		banks := make(map[int][]interval)
		for b := entry.FirstBank; b <= entry.LastBank; b++ {
			banks[b] = []interval{{Start: entry.StartAddr, End: entry.RegionEnd() + 1}}
		}
		a.free[t] = banks
	}
	return a
}

// Reserve carves [org, org+size) out of bank's free list for typ. It fails
// if the range isn't entirely free.
func (a *Allocator) Reserve(typ sect.Type, bank int, org uint16, size uint16) error {
	banks, ok := a.free[typ]
	if !ok {
		return fmt.Errorf("assign: unknown section type")
	}
	ivs, ok := banks[bank]
	if !ok {
		return fmt.Errorf("assign: bank %d does not exist for this type", bank)
	}
	end := org + size
	for i, iv := range ivs {
		if org >= iv.Start && end <= iv.End {
			var replacement []interval
			if org > iv.Start {
				replacement = append(replacement, interval{iv.Start, org})
			}
			if end < iv.End {
				replacement = append(replacement, interval{end, iv.End})
			}
			ivs = append(append(append([]interval{}, ivs[:i]...), replacement...), ivs[i+1:]...)
			banks[bank] = ivs
			return nil
		}
	}
	return fmt.Errorf("assign: [$%04x, $%04x) is not free in bank %d", org, end, bank)
}

// FirstFit finds the lowest (bank, address) satisfying size and alignment,
// scanning banks in increasing order, first-fit within each.
func (a *Allocator) FirstFit(typ sect.Type, size uint16, alignMask, alignOffset uint16, onlyBank int, bankFixed bool) (bank int, org uint16, ok bool) {
	banks := a.free[typ]
	var bankIDs []int
	for b := range banks {
		if bankFixed && b != onlyBank {
			continue
		}
		bankIDs = append(bankIDs, b)
	}
	sort.Ints(bankIDs)
	for _, b := range bankIDs {
		ivs := append([]interval{}, banks[b]...)
		sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
		for _, iv := range ivs {
			start := alignUp(iv.Start, alignMask, alignOffset)
			if start+size <= iv.End && start >= iv.Start {
				return b, start, true
			}
		}
	}
	return 0, 0, false
}

func alignUp(addr, mask, offset uint16) uint16 {
	if mask == 0 {
		return addr
	}
	for (addr & mask) != offset {
		addr++
	}
	return addr
}

// MergeFragments collapses one Section per distinct name in order, with Size
// taken from sizes (this package only tracks size for placement, not bytes —
// the caller concatenates same-named FRAGMENT sections' Data/Patches itself
// before calling this, then passes the summed size here).
func MergeFragments(secs []Section, order []string, sizes map[string]int32) []Section {
	var out []Section
	seen := make(map[string]bool)
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		for i := range secs {
			if secs[i].Name == name {
				merged := secs[i]
				merged.Size = sizes[name]
				out = append(out, merged)
				break
			}
		}
	}
	return out
}

// Run places every section per spec.md §4.10's four tiers and returns a copy
// of secs, in the same order, with each Section's Assigned/Assigned* fields
// filled in; secs itself is not modified. Sections already marked Assigned
// on entry are reserved first so later tiers see accurate free space.
func Run(mode sect.Mode, secs []Section) ([]Section, error) {
	return run(mode, secs, nil)
}

// RunWithScramble behaves like Run, but bank-unfixed sections (tier D) are
// placed via scramble's restricted/reordered bank list instead of plain
// increasing order, for rgblink's `-S` flag.
func RunWithScramble(mode sect.Mode, secs []Section, scramble Scramble) ([]Section, error) {
	return run(mode, secs, &scramble)
}

func run(mode sect.Mode, secs []Section, scramble *Scramble) ([]Section, error) {
	a := NewAllocator(mode)

	for i := range secs {
		if secs[i].Assigned {
			if err := a.Reserve(secs[i].Type, secs[i].AssignedBank, secs[i].AssignedOrg, uint16(secs[i].Size)); err != nil {
				return nil, fmt.Errorf("linker script placed %q: %w", secs[i].Name, err)
			}
		}
	}

	tierA := filterSecs(secs, func(s *Section) bool { return !s.Assigned && s.HasOrg && s.HasBank })
	tierB := filterSecs(secs, func(s *Section) bool { return !s.Assigned && !s.HasOrg && s.HasBank })
	tierC := filterSecs(secs, func(s *Section) bool { return !s.Assigned && s.HasOrg && !s.HasBank })
	tierD := filterSecs(secs, func(s *Section) bool { return !s.Assigned && !s.HasOrg && !s.HasBank })

	sortTier(tierA)
	sortTier(tierB)
	sortTier(tierC)
	sortTier(tierD)

	for i := range tierA {
		s := &tierA[i]
		if err := a.Reserve(s.Type, s.Bank, s.Org, uint16(s.Size)); err != nil {
			return nil, fmt.Errorf("section %q: %w", s.Name, err)
		}
		s.Assigned, s.AssignedBank, s.AssignedOrg = true, s.Bank, s.Org
	}
	for i := range tierB {
		s := &tierB[i]
		bank, org, ok := a.FirstFit(s.Type, uint16(s.Size), s.AlignMask, s.AlignOffset, s.Bank, true)
		if !ok {
			return nil, fmt.Errorf("section %q: no free space in bank %d for %d bytes", s.Name, s.Bank, s.Size)
		}
		if err := a.Reserve(s.Type, bank, org, uint16(s.Size)); err != nil {
			return nil, err
		}
		s.Assigned, s.AssignedBank, s.AssignedOrg = true, bank, org
	}
	for i := range tierC {
		s := &tierC[i]
		bank, org, ok := firstFitAtAddress(a, s.Type, s.Org, uint16(s.Size))
		if !ok {
			return nil, fmt.Errorf("section %q: address $%04x is not free in any bank", s.Name, s.Org)
		}
		if err := a.Reserve(s.Type, bank, org, uint16(s.Size)); err != nil {
			return nil, err
		}
		s.Assigned, s.AssignedBank, s.AssignedOrg = true, bank, org
	}
	for i := range tierD {
		s := &tierD[i]
		var bank int
		var org uint16
		var ok bool
		if scramble != nil {
			bank, org, ok = a.FirstFitScrambled(*scramble, s.Type, uint16(s.Size), s.AlignMask, s.AlignOffset)
		} else {
			bank, org, ok = a.FirstFit(s.Type, uint16(s.Size), s.AlignMask, s.AlignOffset, 0, false)
		}
		if !ok {
			return nil, fmt.Errorf("section %q: no free space of %d bytes anywhere", s.Name, s.Size)
		}
		if err := a.Reserve(s.Type, bank, org, uint16(s.Size)); err != nil {
			return nil, err
		}
		s.Assigned, s.AssignedBank, s.AssignedOrg = true, bank, org
	}

	out := make([]Section, 0, len(secs))
	placed := make(map[string]Section)
	for _, s := range append(append(append(tierA, tierB...), tierC...), tierD...) {
		placed[s.Name] = s
	}
	for _, s := range secs {
		if p, ok := placed[s.Name]; ok {
			out = append(out, p)
		} else {
			out = append(out, s) // already Assigned on entry
		}
	}
	return out, nil
}

func firstFitAtAddress(a *Allocator, typ sect.Type, org uint16, size uint16) (bank int, addr uint16, ok bool) {
	banks := a.free[typ]
	var bankIDs []int
	for b := range banks {
		bankIDs = append(bankIDs, b)
	}
	sort.Ints(bankIDs)
	for _, b := range bankIDs {
		for _, iv := range banks[b] {
			if org >= iv.Start && org+size <= iv.End {
				return b, org, true
			}
		}
	}
	return 0, 0, false
}

func filterSecs(secs []Section, pred func(*Section) bool) []Section {
	var out []Section
	for i := range secs {
		if pred(&secs[i]) {
			out = append(out, secs[i])
		}
	}
	return out
}

// sortTier orders a placement tier by decreasing size, ties broken by name,
// matching spec.md §4.10's determinism requirement.
func sortTier(secs []Section) {
	sort.Slice(secs, func(i, j int) bool {
		if secs[i].Size != secs[j].Size {
			return secs[i].Size > secs[j].Size
		}
		return secs[i].Name < secs[j].Name
	})
}

// Scramble implements the `-S` bank-scramble mode: given a comma-separated
// spec like "ROMX=0-3", it restricts FirstFit's bank search for that type to
// only the listed banks, in the listed order rather than increasing order,
// letting callers test bank-overflow handling deterministically.
type Scramble struct {
	Order map[sect.Type][]int
}

// FirstFitScrambled behaves like Allocator.FirstFit but restricts/orders the
// bank search per s's configuration for typ, if any.
func (a *Allocator) FirstFitScrambled(s Scramble, typ sect.Type, size uint16, alignMask, alignOffset uint16) (bank int, org uint16, ok bool) {
	order, has := s.Order[typ]
	if !has {
		return a.FirstFit(typ, size, alignMask, alignOffset, 0, false)
	}
	banks := a.free[typ]
	for _, b := range order {
		ivs, exists := banks[b]
		if !exists {
			continue
		}
		sorted := append([]interval{}, ivs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
		for _, iv := range sorted {
			start := alignUp(iv.Start, alignMask, alignOffset)
			if start+size <= iv.End && start >= iv.Start {
				return b, start, true
			}
		}
	}
	return 0, 0, false
}
