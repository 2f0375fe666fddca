package sqlguard

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	wordToken tokenKind = iota
	punctToken
)

type token struct {
	kind tokenKind
	// Words are upper-cased.
	text string
}

func (t token) is(punct string) bool {
	return t.kind == punctToken && t.text == punct
}

func (t token) isWord(word string) bool {
	return t.kind == wordToken && t.text == word
}

// tokenize splits s into words and punctuation, skipping whitespace,
// comments, string literals, quoted identifiers and dollar-quoted bodies.
func tokenize(s string) ([]token, error) {
	runes := []rune(s)
	tokens := make([]token, 0, len(runes)/4)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end, ok := skipBlockComment(runes, i)
			if !ok {
				return nil, &UnsafeQueryError{Reason: "unterminated comment"}
			}
			i = end
		case r == '\'' || r == '"' || r == '`':
			end, ok := skipQuoted(runes, i, r)
			if !ok {
				return nil, &UnsafeQueryError{Reason: "unterminated quoted text"}
			}
			i = end
		case r == '$':
			if end, ok, isDollar := skipDollarQuoted(runes, i); isDollar {
				if !ok {
					return nil, &UnsafeQueryError{Reason: "unterminated dollar-quoted text"}
				}
				i = end
				continue
			}
			// Positional parameter such as $1.
			j := i + 1
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			tokens = append(tokens, token{kind: punctToken, text: string(runes[i:j])})
			i = j
		case isWordRune(r):
			j := i
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
			tokens = append(tokens, token{kind: wordToken, text: strings.ToUpper(string(runes[i:j]))})
			i = j
		default:
			tokens = append(tokens, token{kind: punctToken, text: string(r)})
			i++
		}
	}
	return tokens, nil
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func skipBlockComment(runes []rune, start int) (int, bool) {
	depth := 0
	for i := start; i < len(runes)-1; {
		switch {
		case runes[i] == '/' && runes[i+1] == '*':
			depth++
			i += 2
		case runes[i] == '*' && runes[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, true
			}
		default:
			i++
		}
	}
	return len(runes), false
}

// skipQuoted handles doubled quotes as escapes ('it''s', "a""b").
func skipQuoted(runes []rune, start int, quote rune) (int, bool) {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1, true
	}
	return len(runes), false
}

// skipDollarQuoted reports isDollar=false when the '$' at start does not
// open a $tag$ quote.
func skipDollarQuoted(runes []rune, start int) (end int, ok bool, isDollar bool) {
	j := start + 1
	for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || (j > start+1 && unicode.IsDigit(runes[j]))) {
		j++
	}
	if j >= len(runes) || runes[j] != '$' {
		return 0, false, false
	}
	tag := string(runes[start : j+1])
	rest := string(runes[j+1:])
	idx := strings.Index(rest, tag)
	if idx < 0 {
		return len(runes), false, true
	}
	return j + 1 + len([]rune(rest[:idx])) + len([]rune(tag)), true, true
}

// stripLineComments removes "--" comments outside quoted text, keeping the
// newline that ends each one.
func stripLineComments(s string) string {
	if !strings.Contains(s, "--") {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '\'' || r == '"' || r == '`':
			end, _ := skipQuoted(runes, i, r)
			b.WriteString(string(runes[i:end]))
			i = end
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end, _ := skipBlockComment(runes, i)
			b.WriteString(string(runes[i:end]))
			i = end
		default:
			b.WriteRune(r)
			i++
		}
	}
	return b.String()
}
