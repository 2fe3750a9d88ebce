package state

import (
	"cmp"
	"iter"
	"slices"
	"strings"
)

// PrefixMap maps dot-separated keys to values. It is backed by a trie over the key segments, so prefix queries only
// visit the matching subtree.
//
// Queries return snapshots. Callers may mutate the map while consuming the result of Keys, FilterPrefix or All.
type PrefixMap[V any] struct {
	root prefixNode[V]
	size int
}

type prefixNode[V any] struct {
	children map[string]*prefixNode[V]
	value    V
	present  bool
}

func NewPrefixMap[V any]() *PrefixMap[V] {
	return &PrefixMap[V]{}
}

func (m *PrefixMap[V]) Set(key string, value V) {
	node := &m.root
	for _, seg := range strings.Split(key, ".") {
		if node.children == nil {
			node.children = make(map[string]*prefixNode[V])
		}
		next, ok := node.children[seg]
		if !ok {
			next = &prefixNode[V]{}
			node.children[seg] = next
		}
		node = next
	}
	if !node.present {
		m.size++
	}
	node.value = value
	node.present = true
}

func (m *PrefixMap[V]) find(key string) *prefixNode[V] {
	node := &m.root
	for _, seg := range strings.Split(key, ".") {
		next, ok := node.children[seg]
		if !ok {
			return nil
		}
		node = next
	}
	return node
}

func (m *PrefixMap[V]) Get(key string) (V, bool) {
	node := m.find(key)
	if node == nil || !node.present {
		var zero V
		return zero, false
	}
	return node.value, true
}

func (m *PrefixMap[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes the key and prunes branches that no longer hold any value.
func (m *PrefixMap[V]) Delete(key string) bool {
	segs := strings.Split(key, ".")
	path := make([]*prefixNode[V], 0, len(segs)+1)
	node := &m.root
	path = append(path, node)
	for _, seg := range segs {
		next, ok := node.children[seg]
		if !ok {
			return false
		}
		node = next
		path = append(path, node)
	}
	if !node.present {
		return false
	}
	var zero V
	node.value = zero
	node.present = false
	m.size--

	for i := len(segs) - 1; i >= 0; i-- {
		child := path[i+1]
		if child.present || len(child.children) != 0 {
			break
		}
		delete(path[i].children, segs[i])
	}
	return true
}

func (m *PrefixMap[V]) Len() int {
	return m.size
}

func (m *PrefixMap[V]) Keys() []string {
	entries := m.FilterPrefix("")
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.V1)
	}
	return keys
}

// FilterPrefix returns every entry whose key starts with prefix, sorted by key. The prefix does not have to end on a
// segment boundary.
func (m *PrefixMap[V]) FilterPrefix(prefix string) []Pair[string, V] {
	segs := strings.Split(prefix, ".")
	node := &m.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node.children[seg]
		if !ok {
			return nil
		}
		node = next
	}

	base := strings.Join(segs[:len(segs)-1], ".")
	last := segs[len(segs)-1]
	out := make([]Pair[string, V], 0)
	for seg, child := range node.children {
		if !strings.HasPrefix(seg, last) {
			continue
		}
		key := seg
		if len(segs) > 1 {
			key = base + "." + seg
		}
		out = child.collect(key, out)
	}
	slices.SortFunc(out, func(a, b Pair[string, V]) int {
		return cmp.Compare(a.V1, b.V1)
	})
	return out
}

func (n *prefixNode[V]) collect(key string, out []Pair[string, V]) []Pair[string, V] {
	if n.present {
		out = append(out, Pair[string, V]{key, n.value})
	}
	for seg, child := range n.children {
		out = child.collect(key+"."+seg, out)
	}
	return out
}

// Lookup finds the entry with the longest key that is a segment-aligned prefix of address (or equal to it).
func (m *PrefixMap[V]) Lookup(address string) (string, V, bool) {
	var (
		best     *prefixNode[V]
		bestSegs int
	)
	segs := strings.Split(address, ".")
	node := &m.root
	for i, seg := range segs {
		next, ok := node.children[seg]
		if !ok {
			break
		}
		node = next
		if node.present {
			best = node
			bestSegs = i + 1
		}
	}
	if best == nil {
		var zero V
		return "", zero, false
	}
	return strings.Join(segs[:bestSegs], "."), best.value, true
}

// All iterates over a snapshot of the map.
func (m *PrefixMap[V]) All() iter.Seq2[string, V] {
	entries := m.FilterPrefix("")
	return func(yield func(string, V) bool) {
		for _, e := range entries {
			if !yield(e.V1, e.V2) {
				return
			}
		}
	}
}
