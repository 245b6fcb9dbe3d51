package store

import "strings"

// docGet/docSet/docDelete implement dotted-path access over a generic
// document (map[string]any), the representation both the in-memory fake
// and the generic filter-evaluation helpers operate on. Mongo itself
// handles dotted paths natively; this file exists so the in-memory fake
// exercises the identical predicate semantics the real adapter relies on.

func docGet(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := any(doc)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func docSet(doc map[string]any, path string, val any) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = val
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
}

func docDelete(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

// docFilterMatches evaluates a Filter against doc.
func docFilterMatches(doc map[string]any, f Filter) bool {
	for path, wantExists := range f.Exists {
		_, exists := docGet(doc, path)
		if exists != wantExists {
			return false
		}
	}
	for path, want := range f.Eq {
		got, exists := docGet(doc, path)
		if !exists || !equalLoose(got, want) {
			return false
		}
	}
	for path, bound := range f.LTE {
		got, exists := docGet(doc, path)
		if !exists {
			return false
		}
		gotInt, ok := asInt64(got)
		if !ok || gotInt > bound {
			return false
		}
	}
	return true
}

func docApplyUpdate(doc map[string]any, u Update) {
	for path, val := range u.Set {
		docSet(doc, path, val)
	}
	for _, path := range u.Unset {
		docDelete(doc, path)
	}
}

func equalLoose(a, b any) bool {
	ai, aok := asInt64(a)
	bi, bok := asInt64(b)
	if aok && bok {
		return ai == bi
	}
	return a == b
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
