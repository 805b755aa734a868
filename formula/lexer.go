package formula

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent    // bare identifier: function name or true/false/null keyword
	tokFieldRef // {field_name}
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokAmp    // & string concatenation
	tokAndAnd // &&
	tokOrOr   // ||
	tokBang   // !
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ // = or ==
	tokNE // != or <>
)

type token struct {
	typ tokenType
	val string // raw text for idents/fields/strings; parsed payload for strings
	num float64
	pos int // byte offset into source
}

// lex tokenizes a formula source string, enforcing the restricted
// character set up front. Any character outside the whitelist is a
// syntax error regardless of where it appears.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(src)

	for i < n {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9':
			start := i
			for i < n && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			text := src[start:i]
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, syntaxErrorf(text, start, "malformed number %q", text)
			}
			tokens = append(tokens, token{typ: tokNumber, val: text, num: f, pos: start})

		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if src[i] == quote {
					// Doubled quote is an escaped quote character
					if i+1 < n && src[i+1] == quote {
						sb.WriteByte(quote)
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, syntaxErrorf(src[start:], start, "unterminated string literal")
			}
			tokens = append(tokens, token{typ: tokString, val: sb.String(), pos: start})

		case c == '{':
			start := i
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, syntaxErrorf(src[start:], start, "unterminated field reference")
			}
			name := strings.TrimSpace(src[i+1 : i+end])
			if name == "" || !isFieldName(name) {
				return nil, syntaxErrorf(src[start:i+end+1], start, "invalid field reference %q", src[start:i+end+1])
			}
			tokens = append(tokens, token{typ: tokFieldRef, val: name, pos: start})
			i += end + 1

		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(src[i])) {
				i++
			}
			tokens = append(tokens, token{typ: tokIdent, val: src[start:i], pos: start})

		case c == '(':
			tokens = append(tokens, token{typ: tokLParen, val: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{typ: tokRParen, val: ")", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{typ: tokComma, val: ",", pos: i})
			i++
		case c == '+':
			tokens = append(tokens, token{typ: tokPlus, val: "+", pos: i})
			i++
		case c == '-':
			tokens = append(tokens, token{typ: tokMinus, val: "-", pos: i})
			i++
		case c == '*':
			tokens = append(tokens, token{typ: tokStar, val: "*", pos: i})
			i++
		case c == '/':
			tokens = append(tokens, token{typ: tokSlash, val: "/", pos: i})
			i++
		case c == '%':
			tokens = append(tokens, token{typ: tokPercent, val: "%", pos: i})
			i++
		case c == '&':
			if i+1 < n && src[i+1] == '&' {
				tokens = append(tokens, token{typ: tokAndAnd, val: "&&", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{typ: tokAmp, val: "&", pos: i})
				i++
			}
		case c == '|':
			if i+1 < n && src[i+1] == '|' {
				tokens = append(tokens, token{typ: tokOrOr, val: "||", pos: i})
				i += 2
			} else {
				return nil, syntaxErrorf("|", i, "unexpected character '|' (did you mean '||'?)")
			}
		case c == '!':
			if i+1 < n && src[i+1] == '=' {
				tokens = append(tokens, token{typ: tokNE, val: "!=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{typ: tokBang, val: "!", pos: i})
				i++
			}
		case c == '<':
			switch {
			case i+1 < n && src[i+1] == '=':
				tokens = append(tokens, token{typ: tokLE, val: "<=", pos: i})
				i += 2
			case i+1 < n && src[i+1] == '>':
				tokens = append(tokens, token{typ: tokNE, val: "<>", pos: i})
				i += 2
			default:
				tokens = append(tokens, token{typ: tokLT, val: "<", pos: i})
				i++
			}
		case c == '>':
			if i+1 < n && src[i+1] == '=' {
				tokens = append(tokens, token{typ: tokGE, val: ">=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{typ: tokGT, val: ">", pos: i})
				i++
			}
		case c == '=':
			if i+1 < n && src[i+1] == '=' {
				tokens = append(tokens, token{typ: tokEQ, val: "==", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{typ: tokEQ, val: "=", pos: i})
				i++
			}

		default:
			return nil, syntaxErrorf(string(c), i, "unexpected character %q", string(c))
		}
	}

	tokens = append(tokens, token{typ: tokEOF, pos: n})
	return tokens, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isFieldName reports whether s is a well-formed field name: letters,
// digits, and underscores only, not starting with a digit.
func isFieldName(s string) bool {
	for i, r := range s {
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

// ExtractFieldRefs returns the distinct field names referenced by the
// formula, in first-appearance order. A syntax error in the source is
// returned as an EvalError.
func ExtractFieldRefs(source string) ([]string, error) {
	tokens, err := lex(source)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, tok := range tokens {
		if tok.typ == tokFieldRef && !seen[tok.val] {
			seen[tok.val] = true
			names = append(names, tok.val)
		}
	}
	return names, nil
}
