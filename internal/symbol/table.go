// Package symbol implements the hashed, scoped symbol table of spec.md
// §4.7: FNV-1a hashed chained buckets (grounded on the teacher's
// Vibe67HashMap), dotted-name scope resolution, and the EQU/VAR/LABEL/
// EQUS/MACRO/REF type lattice.
package symbol

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Type is the symbol's kind.
type Type int

const (
	EQU Type = iota
	VAR
	LABEL
	EQUS
	MACRO
	REF
)

func (t Type) String() string {
	switch t {
	case EQU:
		return "EQU"
	case VAR:
		return "VAR"
	case LABEL:
		return "LABEL"
	case EQUS:
		return "EQUS"
	case MACRO:
		return "MACRO"
	case REF:
		return "REF"
	default:
		return "?"
	}
}

// ValueKind discriminates the tagged union a Symbol's value holds.
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueString // EQUS alias or captured MACRO body
)

// Location pins a symbol's definition site for diagnostics.
type Location struct {
	FileNodeID int
	Line       int
}

// Symbol is one entry of the table.
type Symbol struct {
	Name       string
	Type       Type
	Scope      string // owning non-local label, for dotted locals
	Loc        Location
	Exported   bool
	Builtin    bool
	Defined    bool
	ValueKind  ValueKind
	IntValue   int32
	StrValue   string // EQUS text or captured MACRO/REPT body
	SectionID  int    // valid when Type == LABEL
	Offset     int32  // valid when Type == LABEL
}

type bucket struct {
	key  string
	sym  *Symbol
	next *bucket
}

// Table is the hashed symbol table. Builtins are resolved through callback
// lambdas registered at construction, matching spec.md's "@ and built-ins
// ... resolved through callback lambdas registered at init".
type Table struct {
	buckets  []bucket
	occupied []bool
	size     int
	count    int
	builtins map[string]func() *Symbol
	order    []string // first-definition order, for deterministic iteration
}

// New creates an empty table with the given initial bucket count (minimum 16).
func New(initialSize int) *Table {
	if initialSize < 16 {
		initialSize = 16
	}
	return &Table{
		buckets:  make([]bucket, initialSize),
		occupied: make([]bool, initialSize),
		size:     initialSize,
		builtins: make(map[string]func() *Symbol),
	}
}

// RegisterBuiltin installs a callback resolved lazily whenever name is
// looked up and not otherwise defined (e.g. "@", "_NARG", "__LINE__").
func (t *Table) RegisterBuiltin(name string, resolve func() *Symbol) {
	t.builtins[name] = resolve
}

func (t *Table) hash(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

func (t *Table) idx(key string) uint64 {
	return t.hash(key) % uint64(t.size)
}

// lookupRaw finds a symbol by its exact (already-scope-resolved) key.
func (t *Table) lookupRaw(key string) (*Symbol, bool) {
	i := t.idx(key)
	if !t.occupied[i] {
		return nil, false
	}
	b := &t.buckets[i]
	if b.key == key {
		return b.sym, true
	}
	for c := b.next; c != nil; c = c.next {
		if c.key == key {
			return c.sym, true
		}
	}
	return nil, false
}

func (t *Table) insertRaw(key string, sym *Symbol) {
	i := t.idx(key)
	if !t.occupied[i] {
		t.buckets[i] = bucket{key: key, sym: sym}
		t.occupied[i] = true
		t.count++
		t.order = append(t.order, key)
		t.maybeResize()
		return
	}
	b := &t.buckets[i]
	if b.key == key {
		b.sym = sym
		return
	}
	for c := b.next; c != nil; c = c.next {
		if c.key == key {
			c.sym = sym
			return
		}
	}
	b.next = &bucket{key: key, sym: sym, next: b.next}
	t.count++
	t.order = append(t.order, key)
	t.maybeResize()
}

func (t *Table) maybeResize() {
	if float64(t.count)/float64(t.size) <= 0.75 {
		return
	}
	old := t.buckets
	oldOccupied := t.occupied
	t.size *= 2
	t.buckets = make([]bucket, t.size)
	t.occupied = make([]bool, t.size)
	t.count = 0
	savedOrder := t.order
	t.order = nil
	rehash := func(key string, sym *Symbol) {
		i := t.idx(key)
		if !t.occupied[i] {
			t.buckets[i] = bucket{key: key, sym: sym}
			t.occupied[i] = true
			t.count++
		} else {
			b := &t.buckets[i]
			b.next = &bucket{key: key, sym: sym, next: b.next}
			t.count++
		}
	}
	for i := range old {
		if !oldOccupied[i] {
			continue
		}
		b := &old[i]
		rehash(b.key, b.sym)
		for c := b.next; c != nil; c = c.next {
			rehash(c.key, c.sym)
		}
	}
	t.order = savedOrder
}

// ScopeKey splits a dotted local name ("Label.local") into (scope, local).
// A name beginning with a dot (".local") has scope == currentScope, whatever
// the caller supplies; a name with no dot has the empty (global) scope.
func ScopeKey(name, currentScope string) (scope, local string) {
	if strings.HasPrefix(name, ".") {
		return currentScope, name
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i:]
	}
	return "", name
}

// fullKey builds the table's internal storage key for a name resolved
// against currentScope.
func fullKey(name, currentScope string) string {
	scope, local := ScopeKey(name, currentScope)
	if scope == "" {
		return local
	}
	return scope + local
}

// Define installs a new symbol. It fails if a defined symbol with the same
// resolved name already exists, of any type; for a VAR, EQUS or MACRO the
// error names REDEF. An undefined REF placeholder is replaced.
func (t *Table) Define(name, currentScope string, sym *Symbol) error {
	key := fullKey(name, currentScope)
	if existing, ok := t.lookupRaw(key); ok && existing.Defined {
		if existing.Type != VAR && existing.Type != EQUS && existing.Type != MACRO {
			return fmt.Errorf("symbol %q already defined at %s:%d", name, existing.Loc, existing.Loc.Line)
		}
		return fmt.Errorf("symbol %q already defined; use REDEF", name)
	}
	sym.Name = key
	sym.Defined = true
	t.insertRaw(key, sym)
	return nil
}

// Redef reassigns a VAR, EQUS, or MACRO symbol's value in place.
func (t *Table) Redef(name, currentScope string, sym *Symbol) error {
	key := fullKey(name, currentScope)
	existing, ok := t.lookupRaw(key)
	if ok && existing.Type != VAR && existing.Type != EQUS && existing.Type != MACRO {
		return fmt.Errorf("cannot REDEF %q: not a VAR, EQUS, or MACRO", name)
	}
	sym.Name = key
	sym.Defined = true
	t.insertRaw(key, sym)
	return nil
}

// Purge removes a symbol entirely. Per spec.md §9's Open Question, purging a
// symbol still on the active scope stack (i.e. it is currentScope itself, or
// an ancestor of it) is treated as an error rather than left undefined.
func (t *Table) Purge(name, currentScope string, activeScopes []string) error {
	key := fullKey(name, currentScope)
	for _, s := range activeScopes {
		if s == key {
			return fmt.Errorf("cannot PURGE %q: currently on the scope stack", name)
		}
	}
	i := t.idx(key)
	if !t.occupied[i] {
		return fmt.Errorf("symbol %q not defined", name)
	}
	b := &t.buckets[i]
	if b.key == key {
		if b.next != nil {
			*b = *b.next
		} else {
			t.occupied[i] = false
			*b = bucket{}
		}
		t.count--
		t.removeFromOrder(key)
		return nil
	}
	prev := b
	for c := b.next; c != nil; c = c.next {
		if c.key == key {
			prev.next = c.next
			t.count--
			t.removeFromOrder(key)
			return nil
		}
		prev = c
	}
	return fmt.Errorf("symbol %q not defined", name)
}

func (t *Table) removeFromOrder(key string) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// FindScoped looks up name resolved against currentScope, falling back to
// registered builtins.
func (t *Table) FindScoped(name, currentScope string) (*Symbol, bool) {
	key := fullKey(name, currentScope)
	if sym, ok := t.lookupRaw(key); ok {
		return sym, true
	}
	if resolve, ok := t.builtins[name]; ok {
		return resolve(), true
	}
	return nil, false
}

// Ref resolves name against currentScope, returning its existing entry if
// one is already known (defined or previously referenced) or installing an
// undefined REF placeholder that reserves its definition-order slot now —
// so a forward reference's eventual numeric id (its position in
// AllInOrder, used by internal/rpn.SymbolRef) is fixed from first mention,
// not from whenever the real definition is later parsed.
func (t *Table) Ref(name, currentScope string) *Symbol {
	key := fullKey(name, currentScope)
	if sym, ok := t.lookupRaw(key); ok {
		return sym
	}
	sym := &Symbol{Name: key, Type: REF}
	t.insertRaw(key, sym)
	return sym
}

// IndexOf returns name's position in AllInOrder(), the id internal/rpn's
// SymbolRef/SymbolBankRef encode into a patch's byte-stream.
func (t *Table) IndexOf(name, currentScope string) (uint32, bool) {
	key := fullKey(name, currentScope)
	for i, k := range t.order {
		if k == key {
			return uint32(i), true
		}
	}
	return 0, false
}

// GetReloc returns (sectionID, offset) for a LABEL symbol, or an error for
// anything else (spec.md §4.7).
func (t *Table) GetReloc(name, currentScope string) (sectionID int, offset int32, err error) {
	sym, ok := t.FindScoped(name, currentScope)
	if !ok {
		return 0, 0, fmt.Errorf("undefined symbol %q", name)
	}
	if sym.Type != LABEL {
		return 0, 0, fmt.Errorf("symbol %q is not a relocatable label", name)
	}
	return sym.SectionID, sym.Offset, nil
}

// Count returns the number of entries in the table, undefined REF
// placeholders included (builtins aren't counted).
func (t *Table) Count() int { return t.count }

// AllInOrder returns every entry, undefined REF placeholders included, in
// order of first mention: a forward reference fixes its slot (see Ref).
func (t *Table) AllInOrder() []*Symbol {
	out := make([]*Symbol, 0, len(t.order))
	for _, key := range t.order {
		if sym, ok := t.lookupRaw(key); ok {
			out = append(out, sym)
		}
	}
	return out
}

// AllSortedByName is a deterministic alternative ordering used by state
// dumps and the symbol file, where output ordering is observable but not
// tied to definition order.
func (t *Table) AllSortedByName() []*Symbol {
	out := t.AllInOrder()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l Location) String() string {
	return fmt.Sprintf("file#%d:%d", l.FileNodeID, l.Line)
}
