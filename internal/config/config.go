// Package config supplies environment-variable defaults for the flags a
// user would otherwise have to repeat on every invocation, the way the
// teacher's own tools read their tuning knobs from the environment before
// falling back to a hardcoded default.
package config

import (
	"strings"

	"github.com/xyproto/env/v2"
)

// Assembler holds the rgbasm defaults resolved from the environment, before
// any command-line flag overrides them.
type Assembler struct {
	MaxErrors      int      // -X
	MaxRecursion   int      // -r
	UnionPadByte   byte     // -p
	FixedPointBits int      // -Q
	PreIncludes    []string // -P, repeatable
	IncludePaths   []string // -I, repeatable
}

// Linker holds the rgblink defaults resolved from the environment.
type Linker struct {
	PadByte byte // -p
}

const (
	envAsmMaxErrors    = "RGBDS_ASM_MAX_ERRORS"
	envAsmMaxRecursion = "RGBDS_ASM_MAX_RECURSION"
	envAsmUnionPad     = "RGBDS_ASM_UNION_PAD"
	envAsmFixedBits    = "RGBDS_ASM_Q_BITS"
	envAsmPreInclude   = "RGBDS_ASM_PREINCLUDE"
	envAsmIncludePath  = "RGBASMINCLUDE"
	envLinkPad         = "RGBDS_LINK_PAD"
)

// LoadAssembler reads RGBDS_ASM_* environment variables, falling back to
// RGBDS's own historical defaults (0 means unlimited for MaxErrors).
func LoadAssembler() Assembler {
	a := Assembler{
		MaxErrors:      env.Int(envAsmMaxErrors, 0),
		MaxRecursion:   env.Int(envAsmMaxRecursion, 64),
		UnionPadByte:   byte(env.Int(envAsmUnionPad, 0)),
		FixedPointBits: env.Int(envAsmFixedBits, 16),
	}
	if env.Has(envAsmPreInclude) {
		a.PreIncludes = splitPathList(env.Str(envAsmPreInclude))
	}
	if env.Has(envAsmIncludePath) {
		a.IncludePaths = splitPathList(env.Str(envAsmIncludePath))
	}
	return a
}

// LoadLinker reads RGBDS_LINK_* environment variables.
func LoadLinker() Linker {
	return Linker{PadByte: byte(env.Int(envLinkPad, 0))}
}

func splitPathList(s string) []string {
	parts := strings.Split(s, string(pathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const pathListSeparator = ':'
