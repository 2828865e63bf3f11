package phpserial

import "strconv"

// Array is a PHP associative array, or an object when Class is set. Keys
// keep the order they were decoded or set in.
type Array struct {
	Class   string
	entries []entry
	index   map[string]int
}

type entry struct {
	key    string
	intKey bool
	value  any
}

// NewArray returns an empty array. A non-empty class makes it an object.
func NewArray(class string) *Array {
	return &Array{Class: class, index: map[string]int{}}
}

func (a *Array) Len() int { return len(a.entries) }

func (a *Array) Keys() []string {
	keys := make([]string, len(a.entries))
	for i, e := range a.entries {
		keys[i] = e.key
	}
	return keys
}

func (a *Array) Get(key string) (any, bool) {
	i, ok := a.index[key]
	if !ok {
		return nil, false
	}
	return a.entries[i].value, true
}

// Set replaces the value under key in place, or appends a new entry.
// New integer-looking keys of plain arrays are encoded as integers.
func (a *Array) Set(key string, value any) {
	if i, ok := a.index[key]; ok {
		a.entries[i].value = value
		return
	}
	a.add(key, a.Class == "" && isIntKey(key), value)
}

func (a *Array) add(key string, intKey bool, value any) {
	if a.index == nil {
		a.index = map[string]int{}
	}
	if i, ok := a.index[key]; ok {
		a.entries[i] = entry{key: key, intKey: intKey, value: value}
		return
	}
	a.index[key] = len(a.entries)
	a.entries = append(a.entries, entry{key: key, intKey: intKey, value: value})
}

// Clone copies the entries. Values are shared.
func (a *Array) Clone() *Array {
	c := &Array{Class: a.Class, entries: make([]entry, len(a.entries)), index: make(map[string]int, len(a.index))}
	copy(c.entries, a.entries)
	for k, i := range a.index {
		c.index[k] = i
	}
	return c
}

// Map returns an unordered copy with nested arrays converted as well.
func (a *Array) Map() map[string]any {
	m := make(map[string]any, len(a.entries))
	for _, e := range a.entries {
		if nested, ok := e.value.(*Array); ok {
			m[e.key] = nested.Map()
			continue
		}
		m[e.key] = e.value
	}
	return m
}

func isIntKey(k string) bool {
	n, err := strconv.ParseInt(k, 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == k
}
