// Package depfile emits Make-style dependency files for the `-M` family of
// assembler flags: every file INCLUDEd or otherwise read becomes a
// prerequisite of the object file target.
package depfile

import (
	"fmt"
	"io"
	"strings"
)

// Options controls which -M* variants are active.
type Options struct {
	Targets      []string // -MT (raw) / -MQ (quoted) target names; defaults to the object path
	Quote        bool     // true if any -MQ was given (also quotes $ as $$; spaces are always escaped)
	Phony        bool     // -MP: emit a phony rule per prerequisite
	MissingAsOK  bool     // -MG: recorded only; Write does not consult it and a missing INCLUDE/INCBIN is still an error
	Continuation bool     // -MC: RGBDS extension, don't emit a line continuation per rule
}

// Write renders the dependency file listing objPath's prerequisites (every
// file the assembler opened while building it, in open order, deduplicated)
// to w, per Options.
func Write(w io.Writer, objPath string, prereqs []string, opt Options) error {
	targets := opt.Targets
	if len(targets) == 0 {
		targets = []string{objPath}
	}

	seen := make(map[string]bool, len(prereqs))
	var deduped []string
	for _, p := range prereqs {
		if seen[p] {
			continue
		}
		seen[p] = true
		deduped = append(deduped, p)
	}

	for _, t := range targets {
		if _, err := fmt.Fprintf(w, "%s:", escape(t, opt.Quote)); err != nil {
			return err
		}
		for i, p := range deduped {
			sep := " "
			if !opt.Continuation && i > 0 && i%4 == 0 {
				sep = " \\\n "
			}
			if _, err := fmt.Fprintf(w, "%s%s", sep, escape(p, opt.Quote)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	if opt.Phony {
		for _, p := range deduped {
			if _, err := fmt.Fprintf(w, "%s:\n", escape(p, opt.Quote)); err != nil {
				return err
			}
		}
	}
	return nil
}

// escape applies Make's own escaping rules for a path appearing in a
// dependency rule: spaces and `#` are always backslash-escaped; `$` is
// doubled only under -MQ (GNU Make quoting), left bare for -MT.
func escape(path string, quoted bool) string {
	path = strings.ReplaceAll(path, "#", `\#`)
	path = strings.ReplaceAll(path, " ", `\ `)
	if quoted {
		path = strings.ReplaceAll(path, "$", "$$")
	}
	return path
}
