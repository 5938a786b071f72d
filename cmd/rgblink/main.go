// Command rgblink links one or more object files into a Game Boy ROM
// image, the back half of the two-program toolchain described by
// spec.md §4.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/config"
	"github.com/gbdev/rgbds-sub001/internal/diag"
	"github.com/gbdev/rgbds-sub001/internal/fstack"
	"github.com/gbdev/rgbds-sub001/internal/iolock"
	"github.com/gbdev/rgbds-sub001/internal/link/assign"
	"github.com/gbdev/rgbds-sub001/internal/link/merge"
	"github.com/gbdev/rgbds-sub001/internal/link/output"
	"github.com/gbdev/rgbds-sub001/internal/link/patch"
	"github.com/gbdev/rgbds-sub001/internal/link/script"
	"github.com/gbdev/rgbds-sub001/internal/objfile"
	"github.com/gbdev/rgbds-sub001/internal/sect"
	"github.com/gbdev/rgbds-sub001/internal/section"
)

// stringListFlag collects a flag given multiple times (-W) into an ordered
// slice, the repeatable-flag shape flag.Value was built for.
type stringListFlag struct{ values []string }

func (s *stringListFlag) String() string { return strings.Join(s.values, ",") }
func (s *stringListFlag) Set(v string) error {
	s.values = append(s.values, v)
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rgblink:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.LoadLinker()

	fs := flag.NewFlagSet("rgblink", flag.ContinueOnError)
	outPath := fs.String("o", "", "write the ROM image to `path`")
	mapPath := fs.String("m", "", "write a map file to `path`")
	symPath := fs.String("n", "", "write a symbol file to `path`")
	scriptPath := fs.String("l", "", "apply a linker script from `path`")
	overlayPath := fs.String("O", "", "pad unused ROM bytes from an overlay image at `path`")
	padByte := fs.Int("p", int(cfg.PadByte), "byte value to pad unused ROM space with")
	scrambleSpec := fs.String("S", "", "restrict/reorder bank placement, e.g. ROMX=0-3")
	dmgMode := fs.Bool("d", false, "contract to DMG-only addressing")
	tinyMode := fs.Bool("t", false, "contract to a tiny 32KiB unbanked ROM")
	wram0Mode := fs.Bool("w", false, "contract WRAM to its unbanked window only")
	var warnFlags stringListFlag
	fs.Var(&warnFlags, "W", "enable, disable, or promote a diagnostic flag (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("expected at least one object file")
	}

	mode := sect.ModeDefault
	switch {
	case *dmgMode:
		mode = sect.ModeDMG
	case *tinyMode:
		mode = sect.Mode32k
	case *wram0Mode:
		mode = sect.ModeWRAM0Only
	}

	reg := diag.NewRegistry(os.Stderr, 0)
	for _, w := range warnFlags.values {
		if err := reg.Set(w); err != nil {
			return err
		}
	}

	objs := make([]*objfile.Object, 0, len(rest))
	arenas := make([]*fstack.Arena, 0, len(rest))
	for _, path := range rest {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		obj, err := objfile.Read(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		objs = append(objs, obj)
		arenas = append(arenas, rebuildArena(obj))
	}

	result, err := merge.Merge(objs)
	if err != nil {
		return err
	}

	secs := make([]assign.Section, len(result.Sections))
	sizes := make(map[string]uint16, len(result.Sections))
	for i, gs := range result.Sections {
		secs[i] = gs.Section
		sizes[gs.Name] = uint16(gs.Size)
	}

	if *scriptPath != "" {
		src, err := os.ReadFile(*scriptPath)
		if err != nil {
			return err
		}
		prog, err := script.Run(string(src), mode, scriptLoader(filepath.Dir(*scriptPath)), sizes)
		if err != nil {
			return err
		}
		secs, err = script.Apply(prog, secs)
		if err != nil {
			return err
		}
	}

	var placed []assign.Section
	if *scrambleSpec != "" {
		var scramble assign.Scramble
		scramble, err = parseScramble(*scrambleSpec)
		if err != nil {
			return fmt.Errorf("-S: %w", err)
		}
		placed, err = assign.RunWithScramble(mode, secs, scramble)
	} else {
		placed, err = assign.Run(mode, secs)
	}
	if err != nil {
		return err
	}

	placedByName := make(map[string]assign.Section, len(placed))
	for _, s := range placed {
		placedByName[s.Name] = s
	}
	sectionBank := func(name string) (int32, error) {
		s, ok := placedByName[name]
		if !ok {
			return 0, fmt.Errorf("SECTION(%q) refers to an undefined section", name)
		}
		return int32(s.AssignedBank), nil
	}
	addrOf := func(sectionID int) (bank int, org uint16, ok bool) {
		if sectionID < 0 || sectionID >= len(placed) {
			return 0, 0, false
		}
		p := placed[sectionID]
		return p.AssignedBank, p.AssignedOrg, true
	}

	for i, gs := range result.Sections {
		selfBank := int32(placed[i].AssignedBank)
		for _, pt := range gs.Patches {
			resolver := &objResolver{result: result, objIdx: pt.ObjIdx, placed: placed}
			if err := patch.Apply(pt.Patch, gs.Data, resolver, sectionBank, selfBank, addrOf); err != nil {
				return fmt.Errorf("section %q: %w", gs.Name, err)
			}
		}
	}

	for objIdx, obj := range objs {
		for _, a := range obj.Assertions {
			node, err := arenas[objIdx].Get(a.FileNodeID)
			if err != nil {
				return fmt.Errorf("assertion: %w", err)
			}
			frame := arenas[objIdx].At(node)
			resolver := &objResolver{result: result, objIdx: objIdx, placed: placed}
			p := section.Patch{
				FileNodeID: a.FileNodeID, Line: a.Line,
				Offset: int32(a.Offset), SectionID: int(a.SectionID),
				Type: a.Type, Expr: a.Expr(), JRFromOffset: int32(a.JRFromOffset),
			}
			if err := patch.ApplyAssertion(p, a.Message, patch.AssertError, resolver, sectionBank, 0, reg, frame); err != nil {
				return err
			}
		}
	}
	if reg.ErrorCount() > 0 {
		return fmt.Errorf("%d error(s)", reg.ErrorCount())
	}

	dataByName := make(map[string][]byte, len(result.Sections))
	for i, gs := range result.Sections {
		dataByName[gs.Name] = result.Sections[i].Data
	}
	placedOut := output.FromAssigned(placed, dataByName)

	if *outPath != "" {
		if err := writeROM(*outPath, placedOut, byte(*padByte), *overlayPath, mode); err != nil {
			return err
		}
	}

	if *symPath != "" || *mapPath != "" {
		syms := exportedSymbols(result, placed)
		if *symPath != "" {
			if err := writeLocked(*symPath, func(f *os.File) error {
				return output.WriteSymbolFile(f, syms)
			}); err != nil {
				return err
			}
		}
		if *mapPath != "" {
			if err := writeLocked(*mapPath, func(f *os.File) error {
				return output.WriteMapFile(f, bankMaps(placed, syms))
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// parseScramble parses a `-S` spec, a comma-separated list of
// REGION=low[-high] terms restricting (and ordering) which banks tier D
// placement may use for that region, e.g. "ROMX=0-3,WRAMX=2".
func parseScramble(spec string) (assign.Scramble, error) {
	s := assign.Scramble{Order: make(map[sect.Type][]int)}
	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		nameVal := strings.SplitN(term, "=", 2)
		if len(nameVal) != 2 {
			return assign.Scramble{}, fmt.Errorf("malformed term %q", term)
		}
		typ, ok := scrambleRegionNames[strings.ToUpper(nameVal[0])]
		if !ok {
			return assign.Scramble{}, fmt.Errorf("unrecognized region %q", nameVal[0])
		}
		lo, hi, err := parseBankRange(nameVal[1])
		if err != nil {
			return assign.Scramble{}, fmt.Errorf("region %q: %w", nameVal[0], err)
		}
		for b := lo; b <= hi; b++ {
			s.Order[typ] = append(s.Order[typ], b)
		}
	}
	return s, nil
}

var scrambleRegionNames = map[string]sect.Type{
	"ROMX": sect.ROMX, "SRAM": sect.SRAM, "WRAMX": sect.WRAMX,
}

func parseBankRange(s string) (lo, hi int, err error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 1 {
		return lo, lo, nil
	}
	hi, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// objResolver resolves one patch's RPN symbol references against the
// merged link-time symbol table. A patch's embedded symbol ids are only
// meaningful relative to the object file that originally wrote them, so
// objIdx is fixed per patch rather than per linker run.
type objResolver struct {
	result *merge.Result
	objIdx int
	placed []assign.Section
}

func (r *objResolver) lookup(id uint32) (*merge.Symbol, error) {
	name, ok := r.result.SymbolName(r.objIdx, int(id))
	if !ok {
		return nil, fmt.Errorf("rpn: unknown symbol id %d", id)
	}
	sym, ok := r.result.Symbols[name]
	if !ok {
		return nil, fmt.Errorf("rpn: undefined symbol %q", name)
	}
	return sym, nil
}

func (r *objResolver) Value(id uint32) (int32, error) {
	sym, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	if !sym.IsLabel {
		return sym.Value, nil
	}
	if sym.SectionID < 0 || sym.SectionID >= len(r.placed) {
		return 0, fmt.Errorf("rpn: symbol %q refers to an unplaced section", sym.Name)
	}
	return int32(r.placed[sym.SectionID].AssignedOrg) + sym.Offset, nil
}

func (r *objResolver) Bank(id uint32) (int32, error) {
	sym, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	if !sym.IsLabel {
		return 0, fmt.Errorf("rpn: BANK() of constant %q is not meaningful", sym.Name)
	}
	if sym.SectionID < 0 || sym.SectionID >= len(r.placed) {
		return 0, fmt.Errorf("rpn: symbol %q refers to an unplaced section", sym.Name)
	}
	return int32(r.placed[sym.SectionID].AssignedBank), nil
}

// rebuildArena replays an object file's file-node table back into a live
// fstack.Arena, for printing assertion backtraces the way the assembler
// printed its own diagnostics.
func rebuildArena(obj *objfile.Object) *fstack.Arena {
	a := fstack.NewArena()
	for _, n := range obj.Nodes {
		switch n.Kind {
		case fstack.KindMacro:
			a.PushMacro(n.Name, n.ParentID, n.ParentLine)
		case fstack.KindRept:
			a.PushRept(n.Iteration, n.ParentID, n.ParentLine)
		default:
			a.PushFile(n.Name, n.ParentID, n.ParentLine)
		}
	}
	return a
}

func scriptLoader(dir string) script.Loader {
	return func(path string) (string, error) {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		return string(data), err
	}
}

func writeROM(path string, secs []output.PlacedSection, fill byte, overlayPath string, mode sect.Mode) error {
	var overlay []byte
	if overlayPath != "" {
		data, err := os.ReadFile(overlayPath)
		if err != nil {
			return err
		}
		overlay = data
	}
	return writeLocked(path, func(f *os.File) error {
		return output.WriteROM(f, secs, fill, overlay, mode)
	})
}

func writeLocked(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	lock, err := iolock.Acquire(f)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return write(f)
}

func exportedSymbols(result *merge.Result, placed []assign.Section) []output.ExportedSymbol {
	var out []output.ExportedSymbol
	for name, sym := range result.Symbols {
		if !sym.IsLabel {
			continue
		}
		p := placed[sym.SectionID]
		out = append(out, output.ExportedSymbol{
			Name: name, Bank: p.AssignedBank, Addr: p.AssignedOrg + uint16(sym.Offset),
		})
	}
	return out
}

func bankMaps(placed []assign.Section, syms []output.ExportedSymbol) []output.BankMap {
	byTypeBank := make(map[[2]int]*output.BankMap)
	var order [][2]int
	for _, s := range placed {
		key := [2]int{int(s.Type), s.AssignedBank}
		bm, ok := byTypeBank[key]
		if !ok {
			bm = &output.BankMap{Type: s.Type, Bank: s.AssignedBank}
			byTypeBank[key] = bm
			order = append(order, key)
		}
		ms := output.MapSection{Name: s.Name, Org: s.AssignedOrg, Size: uint16(s.Size)}
		for _, sym := range syms {
			if sym.Bank == s.AssignedBank && sym.Addr >= s.AssignedOrg && sym.Addr < s.AssignedOrg+uint16(s.Size) {
				ms.Symbols = append(ms.Symbols, sym)
			}
		}
		bm.Sections = append(bm.Sections, ms)
	}
	out := make([]output.BankMap, 0, len(order))
	for _, key := range order {
		out = append(out, *byTypeBank[key])
	}
	return out
}
