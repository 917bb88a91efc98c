package glob

// Overlap reports whether some concrete path matches both patterns. It walks
// the product of the two patterns: segment lists first (where "**" may absorb
// any number of whole segments), then a token-level product automaton within
// each aligned segment pair.
func Overlap(a, b string) (bool, error) {
	segsA, err := parse(a)
	if err != nil {
		return false, err
	}
	segsB, err := parse(b)
	if err != nil {
		return false, err
	}
	return segmentsOverlap(segsA, segsB, 0, 0, make(map[[2]int]bool)), nil
}

func segmentsOverlap(a, b []segment, i, j int, memo map[[2]int]bool) bool {
	key := [2]int{i, j}
	if v, ok := memo[key]; ok {
		return v
	}
	var result bool
	switch {
	case i == len(a) && j == len(b):
		result = true
	case i < len(a) && a[i].doubleStar:
		// "**" matches zero segments, or absorbs one of b's.
		result = segmentsOverlap(a, b, i+1, j, memo) ||
			(j < len(b) && segmentsOverlap(a, b, i, j+1, memo))
	case j < len(b) && b[j].doubleStar:
		result = segmentsOverlap(a, b, i, j+1, memo) ||
			(i < len(a) && segmentsOverlap(a, b, i+1, j, memo))
	case i < len(a) && j < len(b):
		result = tokensOverlap(a[i].tokens, b[j].tokens) &&
			segmentsOverlap(a, b, i+1, j+1, memo)
	}
	memo[key] = result
	return result
}

// tokensOverlap runs a breadth-first walk over the product automaton of two
// token lists. A state (i, j) means i tokens of a and j tokens of b have been
// consumed by the same prefix of some candidate string.
func tokensOverlap(a, b []token) bool {
	type state struct{ i, j int }

	seen := make(map[state]bool)
	queue := make([]state, 0, (len(a)+1)*(len(b)+1))

	// expand adds st plus every state reachable through epsilon moves (a star
	// matching the empty string).
	var expand func(st state)
	expand = func(st state) {
		if seen[st] {
			return
		}
		seen[st] = true
		queue = append(queue, st)
		if st.i < len(a) && a[st.i].kind == kindStar {
			expand(state{i: st.i + 1, j: st.j})
		}
		if st.j < len(b) && b[st.j].kind == kindStar {
			expand(state{i: st.i, j: st.j + 1})
		}
	}
	expand(state{})

	for idx := 0; idx < len(queue); idx++ {
		st := queue[idx]
		if st.i == len(a) && st.j == len(b) {
			return true
		}
		if st.i == len(a) || st.j == len(b) {
			continue
		}
		nextI, spansA := consume(a, st.i)
		nextJ, spansB := consume(b, st.j)
		if spansIntersect(spansA, spansB) {
			expand(state{i: nextI, j: nextJ})
		}
	}
	return false
}

// consume returns the state index after token idx matches one rune, plus the
// runes it accepts. A star stays in place; it can keep eating runes.
func consume(tokens []token, idx int) (int, []span) {
	if tokens[idx].kind == kindStar {
		return idx, anyRune
	}
	return idx + 1, tokens[idx].spans
}
