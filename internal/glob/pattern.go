// Package glob decides whether two glob patterns can match the same path.
// Reservation conflict checks depend on this: patterns overlap when at least
// one concrete path satisfies both.
//
// Supported syntax per path segment: literals, '?', '*', character classes
// ([a-z], [^x]), and backslash escapes. A segment consisting solely of "**"
// matches any number of whole segments, including none.
package glob

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	maxTokens    = 50
	maxWildcards = 10
)

type tokenKind int

const (
	kindLiteral tokenKind = iota
	kindAny               // ?
	kindStar              // *
	kindClass             // [...]
)

// span is an inclusive rune range.
type span struct {
	lo, hi rune
}

type token struct {
	kind  tokenKind
	spans []span // satisfiable runes for literal/any/class
}

// segment is one slash-delimited component of a pattern.
type segment struct {
	doubleStar bool
	tokens     []token
}

const runeMax = rune(0x10FFFF)

// anyRune is every rune except the path separator.
var anyRune = []span{{lo: 0, hi: '/' - 1}, {lo: '/' + 1, hi: runeMax}}

// Validate rejects patterns that are syntactically broken or complex enough
// to make the overlap search expensive.
func Validate(pattern string) error {
	segs, err := parse(pattern)
	if err != nil {
		return err
	}
	tokens, wildcards := 0, 0
	for _, seg := range segs {
		if seg.doubleStar {
			wildcards++
			continue
		}
		tokens += len(seg.tokens)
		for _, t := range seg.tokens {
			if t.kind == kindStar || t.kind == kindAny {
				wildcards++
			}
		}
	}
	if tokens > maxTokens {
		return fmt.Errorf("pattern %q: %d tokens exceeds limit of %d", pattern, tokens, maxTokens)
	}
	if wildcards > maxWildcards {
		return fmt.Errorf("pattern %q: %d wildcards exceeds limit of %d", pattern, wildcards, maxWildcards)
	}
	return nil
}

func parse(pattern string) ([]segment, error) {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "**" {
			segs = append(segs, segment{doubleStar: true})
			continue
		}
		tokens, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		segs = append(segs, segment{tokens: tokens})
	}
	return segs, nil
}

func parseSegment(part string) ([]token, error) {
	runes := []rune(part)
	tokens := make([]token, 0, len(runes))
	for i := 0; i < len(runes); {
		switch runes[i] {
		case '*':
			tokens = append(tokens, token{kind: kindStar})
			i++
		case '?':
			tokens = append(tokens, token{kind: kindAny, spans: anyRune})
			i++
		case '[':
			tok, next, err := parseClass(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("glob: trailing escape in %q", part)
			}
			tokens = append(tokens, literalToken(runes[i+1]))
			i += 2
		default:
			tokens = append(tokens, literalToken(runes[i]))
			i++
		}
	}
	return tokens, nil
}

func literalToken(r rune) token {
	return token{kind: kindLiteral, spans: []span{{lo: r, hi: r}}}
}

func parseClass(runes []rune, start int) (token, int, error) {
	i := start + 1
	if i >= len(runes) {
		return token{}, 0, fmt.Errorf("glob: unterminated class")
	}
	negated := false
	if runes[i] == '^' {
		negated = true
		i++
	}

	var spans []span
	closed := false
	for i < len(runes) {
		if runes[i] == ']' && len(spans) > 0 {
			i++
			closed = true
			break
		}
		lo, next, err := classRune(runes, i)
		if err != nil {
			return token{}, 0, err
		}
		i = next
		if i+1 < len(runes) && runes[i] == '-' && runes[i+1] != ']' {
			hi, nextHi, err := classRune(runes, i+1)
			if err != nil {
				return token{}, 0, err
			}
			if hi < lo {
				return token{}, 0, fmt.Errorf("glob: inverted range in class")
			}
			spans = append(spans, span{lo: lo, hi: hi})
			i = nextHi
			continue
		}
		spans = append(spans, span{lo: lo, hi: lo})
	}
	if !closed {
		return token{}, 0, fmt.Errorf("glob: unterminated class")
	}

	spans = mergeSpans(spans)
	if negated {
		spans = subtractSpans(anyRune, spans)
	} else {
		spans = intersectSpans(spans, anyRune)
	}
	return token{kind: kindClass, spans: spans}, i, nil
}

func classRune(runes []rune, idx int) (rune, int, error) {
	if idx >= len(runes) {
		return 0, 0, fmt.Errorf("glob: unterminated class")
	}
	if runes[idx] == '\\' {
		if idx+1 >= len(runes) {
			return 0, 0, fmt.Errorf("glob: trailing escape in class")
		}
		return runes[idx+1], idx + 2, nil
	}
	return runes[idx], idx + 1, nil
}
