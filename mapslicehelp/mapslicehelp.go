package mapslicehelp

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/constraints"
)

func AsKeys[T constraints.Ordered](elements []T) map[T]any {
	mapped := make(map[T]any, len(elements))
	for _, element := range elements {
		mapped[element] = struct{}{}
	}
	return mapped
}

// Interleave alternates elements of a and b, starting with a, and appends the remainder
// of the longer slice.
func Interleave[T any](a, b []T) []T {
	r := make([]T, 0, len(a)+len(b))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			r = append(r, a[i])
		}
		if i < len(b) {
			r = append(r, b[i])
		}
	}
	return r
}

// Concat returns a new slice holding the elements of every slice in order.
func Concat[T any](slices ...[]T) []T {
	n := 0
	for _, s := range slices {
		n += len(s)
	}
	r := make([]T, 0, n)
	for _, s := range slices {
		r = append(r, s...)
	}
	return r
}

// Range returns from, from+step, ... up to and including to. Step may be negative.
func Range(from, to, step int) []int {
	var r []int
	switch {
	case step > 0:
		for i := from; i <= to; i += step {
			r = append(r, i)
		}
	case step < 0:
		for i := from; i >= to; i += step {
			r = append(r, i)
		}
	}
	return r
}

// UniqueKept returns the first occurrence of every element for which keep returns true,
// in order.
func UniqueKept[K comparable](elements []K, keep func(K) bool) []K {
	m := orderedmap.New[K, struct{}]()
	for _, e := range elements {
		if keep != nil && !keep(e) {
			continue
		}
		if _, present := m.Get(e); !present {
			m.Set(e, struct{}{})
		}
	}
	return OrderedMapKeys(m)
}

func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}
