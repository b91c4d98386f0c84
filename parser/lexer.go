package parser

import (
	"fmt"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokAssign
	tokOp // + - * / and comparisons
)

type token struct {
	kind tokenKind
	text string
	pos  Pos
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of script"
	case tokIdent:
		return fmt.Sprintf("%q", t.text)
	case tokNumber:
		return "number " + t.text
	default:
		return fmt.Sprintf("'%s'", t.text)
	}
}

// lex splits src into tokens. Whitespace, newlines and '#' comments separate
// tokens and are otherwise dropped.
func lex(src string) ([]token, error) {
	var toks []token
	line, col := 1, 1
	i := 0

	advance := func(n int) {
		for j := 0; j < n; {
			r, size := utf8.DecodeRuneInString(src[i+j:])
			if r == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			j += size
		}
		i += n
	}

	for i < len(src) {
		c := src[i]
		pos := Pos{Line: line, Column: col}

		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			advance(1)

		case c == '#':
			end := i
			for end < len(src) && src[end] != '\n' {
				end++
			}
			advance(end - i)

		case isDigit(c):
			end := i
			for end < len(src) && isDigit(src[end]) {
				end++
			}
			if end+1 < len(src) && src[end] == '.' && isDigit(src[end+1]) {
				end++
				for end < len(src) && isDigit(src[end]) {
					end++
				}
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:end], pos: pos})
			advance(end - i)

		case isIdentStart(c):
			end := i + 1
			for end < len(src) && (isIdentStart(src[end]) || isDigit(src[end])) {
				end++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:end], pos: pos})
			advance(end - i)

		case c == '{':
			toks = append(toks, token{kind: tokLBrace, text: "{", pos: pos})
			advance(1)
		case c == '}':
			toks = append(toks, token{kind: tokRBrace, text: "}", pos: pos})
			advance(1)
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: pos})
			advance(1)
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: pos})
			advance(1)

		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, text: string(c), pos: pos})
			advance(1)

		case c == '>' || c == '<' || c == '=' || c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokOp, text: src[i : i+2], pos: pos})
				advance(2)
				continue
			}
			switch c {
			case '=':
				toks = append(toks, token{kind: tokAssign, text: "=", pos: pos})
			case '!':
				return nil, &ParseError{Line: pos.Line, Column: pos.Column, Message: "unexpected '!', did you mean '!='?"}
			default:
				toks = append(toks, token{kind: tokOp, text: string(c), pos: pos})
			}
			advance(1)

		default:
			r, _ := utf8.DecodeRuneInString(src[i:])
			return nil, &ParseError{Line: pos.Line, Column: pos.Column, Message: fmt.Sprintf("unexpected character %q", r)}
		}
	}

	toks = append(toks, token{kind: tokEOF, pos: Pos{Line: line, Column: col}})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
