package charmap

import (
	"reflect"
	"testing"
)

func TestGreedyLongestMatch(t *testing.T) {
	r := NewRegistry()
	m := r.Current()
	m.Add("A", []uint8{1, 2})
	m.Add("AB", []uint8{9})

	cases := []struct {
		in   string
		want []uint8
	}{
		{"AB", []uint8{9}},
		{"A", []uint8{1, 2}},
		{"ABA", []uint8{9, 1, 2}},
	}
	for _, c := range cases {
		got, ok := m.Convert(c.in)
		if !ok {
			t.Fatalf("Convert(%q) reported failure", c.in)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("Convert(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestOverrideWarns(t *testing.T) {
	m := newMap("test")
	if m.Add("X", []uint8{1}) {
		t.Fatalf("first Add should not report an override")
	}
	if !m.Add("X", []uint8{2}) {
		t.Fatalf("second Add for the same input should report an override")
	}
}

func TestFallbackToCodepointPassthrough(t *testing.T) {
	m := newMap("test")
	m.Add("A", []uint8{1})
	got, ok := m.Convert("AZ")
	if !ok {
		t.Fatalf("expected Convert to succeed via passthrough")
	}
	want := []uint8{1, 'Z'}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPushPopSwitchesCurrent(t *testing.T) {
	r := NewRegistry()
	r.New("alt", "")
	r.Push()
	if !r.Set("alt") {
		t.Fatalf("expected alt to exist")
	}
	if r.Current().Name != "alt" {
		t.Fatalf("expected current to be alt")
	}
	if !r.Pop() {
		t.Fatalf("expected pop to succeed")
	}
	if r.Current().Name != "main" {
		t.Fatalf("expected pop to restore main, got %s", r.Current().Name)
	}
}

func TestNewWithBaseCopiesTrie(t *testing.T) {
	r := NewRegistry()
	r.Current().Add("A", []uint8{5})
	r.New("copy", "main")
	got, _ := r.Get("copy").Convert("A")
	if !reflect.DeepEqual(got, []uint8{5}) {
		t.Fatalf("expected copied trie to retain mapping, got %v", got)
	}
	// Mutating the copy must not affect the base.
	r.Get("copy").Add("A", []uint8{9})
	got, _ = r.Current().Convert("A")
	if !reflect.DeepEqual(got, []uint8{5}) {
		t.Fatalf("expected base map unaffected by copy mutation, got %v", got)
	}
}

func TestEntriesListsEverySortedMapping(t *testing.T) {
	m := newMap("test")
	m.Add("B", []uint8{2})
	m.Add("A", []uint8{1})
	m.Add("AB", []uint8{9})

	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Input != "A" || entries[1].Input != "AB" || entries[2].Input != "B" {
		t.Fatalf("got %+v", entries)
	}
}

func TestNamesListsAllRegisteredMaps(t *testing.T) {
	r := NewRegistry()
	r.New("alt", "")
	names := r.Names()
	if len(names) != 2 || names[0] != "alt" || names[1] != "main" {
		t.Fatalf("got %v", names)
	}
}
