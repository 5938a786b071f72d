// Command rgbasm assembles one Game Boy source file into a relocatable
// object file, the front half of the two-program toolchain described by
// spec.md §4.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gbdev/rgbds-sub001/internal/config"
	"github.com/gbdev/rgbds-sub001/internal/diag"
	"github.com/gbdev/rgbds-sub001/internal/depfile"
	"github.com/gbdev/rgbds-sub001/internal/iolock"
	"github.com/gbdev/rgbds-sub001/internal/lexer"
	"github.com/gbdev/rgbds-sub001/internal/objfile"
	"github.com/gbdev/rgbds-sub001/internal/parser"
	"github.com/gbdev/rgbds-sub001/internal/statedump"
)

// stringListFlag collects a flag given multiple times (-I, -P, -W) into an
// ordered slice, the repeatable-flag shape flag.Value was built for.
type stringListFlag struct{ values []string }

func (s *stringListFlag) String() string { return strings.Join(s.values, ",") }
func (s *stringListFlag) Set(v string) error {
	s.values = append(s.values, v)
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rgbasm:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.LoadAssembler()

	fs := flag.NewFlagSet("rgbasm", flag.ContinueOnError)
	out := fs.String("o", "", "write the object file to `path`")
	var includePaths stringListFlag
	fs.Var(&includePaths, "I", "add `dir` to the INCLUDE/INCBIN search path (repeatable)")
	var preIncludes stringListFlag
	fs.Var(&preIncludes, "P", "implicitly INCLUDE `file` before the main source (repeatable)")
	var warnFlags stringListFlag
	fs.Var(&warnFlags, "W", "enable, disable, or promote a diagnostic flag, e.g. -Wtruncation or -Wno-obsolete (repeatable)")
	maxErrors := fs.Int("X", cfg.MaxErrors, "stop after this many errors (0 means unlimited)")
	maxRecursion := fs.Int("r", cfg.MaxRecursion, "maximum file-stack recursion depth")
	unionPad := fs.Int("p", int(cfg.UnionPadByte), "pad byte for DS without a fill value")
	fixedBits := fs.Int("Q", cfg.FixedPointBits, "number of fractional bits for fixed-point literals")
	binDigits := fs.String("b", "01", "two characters to use for 0 and 1 in binary literals")
	gfxDigits := fs.String("g", "0123", "four characters to use for the gfx literal bit pairs")
	depPath := fs.String("M", "", "write a Make dependency file to `path`")
	depTarget := fs.String("MT", "", "override the dependency rule's target name, unescaped")
	depTargetQ := fs.String("MQ", "", "override the dependency rule's target name, Make-quoted")
	depMissingOK := fs.Bool("MG", false, "accepted for compatibility; a missing prerequisite is still an error")
	depPhony := fs.Bool("MP", false, "add a phony rule for every prerequisite")
	depNoContinuation := fs.Bool("MC", false, "don't line-continue the dependency rule")
	statePath := fs.String("s", "", "dump `features:path`, e.g. -s equ,macro:state.asm")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(*binDigits) != 2 || len(*gfxDigits) != 4 {
		return fmt.Errorf("-b needs exactly two characters, -g needs exactly four")
	}

	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("expected exactly one source file, got %d", len(rest))
	}
	srcPath := rest[0]

	if len(includePaths.values) > 0 {
		cfg.IncludePaths = append(append([]string{}, cfg.IncludePaths...), includePaths.values...)
	}
	if len(preIncludes.values) > 0 {
		cfg.PreIncludes = append(append([]string{}, cfg.PreIncludes...), preIncludes.values...)
	}
	cfg.MaxErrors = *maxErrors
	cfg.MaxRecursion = *maxRecursion
	cfg.UnionPadByte = byte(*unionPad)
	cfg.FixedPointBits = *fixedBits

	reg := diag.NewRegistry(os.Stderr, cfg.MaxErrors)
	for _, w := range warnFlags.values {
		if err := reg.Set(w); err != nil {
			return err
		}
	}

	source, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	src := string(source)
	for _, pre := range cfg.PreIncludes {
		preSrc, err := os.ReadFile(pre)
		if err != nil {
			return fmt.Errorf("-P %s: %w", pre, err)
		}
		src = string(preSrc) + "\n" + src
	}

	p := parser.New(parser.Options{
		MainName:     srcPath,
		Source:       src,
		Load:         diskLoader(cfg.IncludePaths),
		IncludePaths: cfg.IncludePaths,
		Diag:         reg,
		Config:       cfg,
		Lex: lexer.Options{
			BinDigits:    [2]byte{(*binDigits)[0], (*binDigits)[1]},
			GfxDigits:    [4]byte{(*gfxDigits)[0], (*gfxDigits)[1], (*gfxDigits)[2], (*gfxDigits)[3]},
			DefaultQBits: cfg.FixedPointBits,
		},
	})
	if err := p.Run(); err != nil {
		return err
	}
	if reg.ErrorCount() > 0 {
		return fmt.Errorf("%d error(s)", reg.ErrorCount())
	}

	if *depPath != "" {
		if err := writeDepfile(*depPath, *out, depfile.Options{
			Targets:      depTargets(*depTarget, *depTargetQ),
			Quote:        *depTargetQ != "",
			Phony:        *depPhony,
			MissingAsOK:  *depMissingOK,
			Continuation: *depNoContinuation,
		}, p.Prereqs()); err != nil {
			return err
		}
	}

	if *statePath != "" {
		if err := writeStateDump(*statePath, p); err != nil {
			return err
		}
	}

	if *out != "" {
		if err := writeObject(*out, p); err != nil {
			return err
		}
	}
	return nil
}

// diskLoader resolves INCLUDE/INCBIN paths against the working directory
// first, then each -I directory, returning the path that was actually
// opened so Parser.Prereqs can report it.
func diskLoader(includes []string) parser.FileLoader {
	return func(path string) ([]byte, string, error) {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		for _, dir := range includes {
			candidate := filepath.Join(dir, path)
			if data, err := os.ReadFile(candidate); err == nil {
				return data, candidate, nil
			}
		}
		return nil, "", err
	}
}

func depTargets(plain, quoted string) []string {
	switch {
	case quoted != "":
		return []string{quoted}
	case plain != "":
		return []string{plain}
	default:
		return nil
	}
}

func writeDepfile(path, objPath string, opt depfile.Options, prereqs []string) error {
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
	return depfile.Write(f, objPath, prereqs, opt)
}

func writeStateDump(spec string, p *parser.Parser) error {
	idx := strings.IndexByte(spec, ':')
	if idx < 0 {
		return fmt.Errorf("-s expects features:path, got %q", spec)
	}
	features, err := statedump.ParseFeatures(spec[:idx])
	if err != nil {
		return err
	}
	path := spec[idx+1:]

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

	var macros []statedump.MacroBody
	for _, m := range p.MacroDefs() {
		macros = append(macros, statedump.MacroBody{Name: m.Name, Body: m.Body})
	}
	return statedump.Write(f, features, p.Symtab(), p.Charmaps(), macros)
}

func writeObject(path string, p *parser.Parser) error {
	data, err := objfile.Write(p.Arena(), p.Symtab(), p.Sections(), nil, nil)
	if err != nil {
		return err
	}
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
	_, err = f.Write(data)
	return err
}
