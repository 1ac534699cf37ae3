package tilecache

import "strings"

// Entry is one key/value pair of a Table.
type Entry struct {
	Key   string
	Value string
}

// Table is an ordered multimap with case-insensitive key lookup. It holds
// request parameters and response headers. Repeated keys are kept in
// insertion order.
type Table struct {
	entries []Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a value without touching existing entries for key.
func (t *Table) Add(key, value string) {
	t.entries = append(t.entries, Entry{Key: key, Value: value})
}

// Set replaces every value for key with a single value.
func (t *Table) Set(key, value string) {
	t.Del(key)
	t.Add(key, value)
}

// Del removes every value for key.
func (t *Table) Del(key string) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if !strings.EqualFold(e.Key, key) {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

// Get returns the first value for key, or "".
func (t *Table) Get(key string) string {
	for _, e := range t.entries {
		if strings.EqualFold(e.Key, key) {
			return e.Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (t *Table) Has(key string) bool {
	for _, e := range t.entries {
		if strings.EqualFold(e.Key, key) {
			return true
		}
	}
	return false
}

// Values returns every value for key in insertion order.
func (t *Table) Values(key string) []string {
	var out []string
	for _, e := range t.entries {
		if strings.EqualFold(e.Key, key) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Entries returns the table contents in insertion order. The slice must not
// be modified.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Clone returns an independent copy of t.
func (t *Table) Clone() *Table {
	return &Table{entries: append([]Entry(nil), t.entries...)}
}
