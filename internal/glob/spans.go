package glob

import "sort"

// mergeSpans sorts and coalesces adjacent or overlapping spans.
func mergeSpans(spans []span) []span {
	if len(spans) <= 1 {
		return spans
	}
	sorted := append([]span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].lo != sorted[j].lo {
			return sorted[i].lo < sorted[j].lo
		}
		return sorted[i].hi < sorted[j].hi
	})
	out := sorted[:1]
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.lo <= last.hi+1 {
			if s.hi > last.hi {
				last.hi = s.hi
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// spansIntersect reports whether two normalized span sets share a rune.
func spansIntersect(a, b []span) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].hi < b[j].lo:
			i++
		case b[j].hi < a[i].lo:
			j++
		default:
			return true
		}
	}
	return false
}

func intersectSpans(a, b []span) []span {
	a = mergeSpans(a)
	b = mergeSpans(b)
	var out []span
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo, hi := a[i].lo, a[i].hi
		if b[j].lo > lo {
			lo = b[j].lo
		}
		if b[j].hi < hi {
			hi = b[j].hi
		}
		if lo <= hi {
			out = append(out, span{lo: lo, hi: hi})
		}
		if a[i].hi < b[j].hi {
			i++
		} else {
			j++
		}
	}
	return out
}

func subtractSpans(base, sub []span) []span {
	base = mergeSpans(base)
	sub = mergeSpans(sub)
	var out []span
	for _, b := range base {
		rest := []span{b}
		for _, s := range sub {
			var next []span
			for _, r := range rest {
				if s.hi < r.lo || s.lo > r.hi {
					next = append(next, r)
					continue
				}
				if s.lo > r.lo {
					next = append(next, span{lo: r.lo, hi: s.lo - 1})
				}
				if s.hi < r.hi {
					next = append(next, span{lo: s.hi + 1, hi: r.hi})
				}
			}
			rest = next
			if len(rest) == 0 {
				break
			}
		}
		out = append(out, rest...)
	}
	return out
}
