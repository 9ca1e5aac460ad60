// Package readonly validates that a raw SQL string is a single read-only
// SQLite statement: SELECT, or WITH whose terminal clause is SELECT.
//
// It deliberately does not parse the full SQLite grammar. A small scanner
// that understands string literals, quoted identifiers, and comments is
// enough to find statement boundaries and the leading keyword without the
// bypasses that naive prefix matching allows (leading comments, stacked
// statements, WITH-wrapped mutations). Statements that pass these checks
// but are otherwise malformed are left for the engine to reject.
package readonly

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Validate. Callers match with errors.Is.
var (
	ErrEmptyQuery         = errors.New("empty query")
	ErrMultipleStatements = errors.New("multiple SQL statements are not allowed")
	ErrNotReadOnly        = errors.New("only SELECT queries (including WITH clauses) are allowed")
)

// Statement is a validated single read-only statement, normalized to start
// at its first token with the trailing terminator removed.
type Statement struct {
	SQL string

	positional int
	named      bool
}

// PositionalParams returns the number of bare '?' placeholders and whether
// the count is authoritative. It is not authoritative when the statement
// also uses named or numbered placeholders, whose binding rules belong to
// the engine.
func (s Statement) PositionalParams() (int, bool) {
	return s.positional, !s.named
}

// Validate checks that raw contains exactly one read-only statement and
// returns its normalized form.
func Validate(raw string) (Statement, error) {
	var stmts []string
	for _, frag := range split(raw) {
		if !blank(frag) {
			stmts = append(stmts, frag)
		}
	}
	if len(stmts) == 0 {
		return Statement{}, ErrEmptyQuery
	}
	if len(stmts) > 1 {
		return Statement{}, fmt.Errorf("%w: found %d statements", ErrMultipleStatements, len(stmts))
	}

	sql := normalize(stmts[0])

	lx := &lexer{src: sql}
	keyword := strings.ToUpper(lx.word())
	switch keyword {
	case "SELECT":
	case "WITH":
		if !terminalSelect(lx) {
			return Statement{}, fmt.Errorf("%w: WITH clause does not end in SELECT", ErrNotReadOnly)
		}
	default:
		return Statement{}, fmt.Errorf("%w: got %s statement", ErrNotReadOnly, keywordLabel(keyword))
	}

	positional, named := countParams(sql)
	return Statement{SQL: sql, positional: positional, named: named}, nil
}

func keywordLabel(keyword string) string {
	if keyword == "" {
		return "unrecognized"
	}
	return keyword
}

// split breaks src into fragments at top-level semicolons. Semicolons
// inside string literals, quoted identifiers, and comments do not split.
// The separators themselves are not part of any fragment, which also
// strips the single trailing terminator of a complete statement.
func split(src string) []string {
	var frags []string
	start := 0
	i := 0
	for i < len(src) {
		switch src[i] {
		case ';':
			frags = append(frags, src[start:i])
			i++
			start = i
		case '\'', '"', '`':
			i = skipQuoted(src, i)
		case '[':
			i = skipBracketIdent(src, i)
		case '-':
			if i+1 < len(src) && src[i+1] == '-' {
				i = skipLineComment(src, i)
			} else {
				i++
			}
		case '/':
			if i+1 < len(src) && src[i+1] == '*' {
				i = skipBlockComment(src, i)
			} else {
				i++
			}
		default:
			i++
		}
	}
	return append(frags, src[start:])
}

// blank reports whether frag holds only whitespace and comments.
func blank(frag string) bool {
	lx := &lexer{src: frag}
	lx.skipSpace()
	return lx.pos >= len(frag)
}

// normalize drops leading whitespace and comments and trims trailing
// whitespace, so the returned text begins at the statement's first token.
func normalize(frag string) string {
	lx := &lexer{src: frag}
	lx.skipSpace()
	return strings.TrimRight(frag[lx.pos:], " \t\r\n")
}

// terminalSelect scans past the CTE definitions following WITH and reports
// whether the statement's terminal clause is a SELECT. This closes the
// "WITH t AS (SELECT ...) DELETE FROM x" bypass.
func terminalSelect(lx *lexer) bool {
	if strings.ToUpper(lx.peekWord()) == "RECURSIVE" {
		lx.word()
	}
	for {
		if !lx.ident() {
			return false
		}
		if lx.consume('(') { // optional column list
			if !lx.skipParens() {
				return false
			}
		}
		if strings.ToUpper(lx.word()) != "AS" {
			return false
		}
		switch strings.ToUpper(lx.peekWord()) {
		case "NOT":
			lx.word()
			if strings.ToUpper(lx.word()) != "MATERIALIZED" {
				return false
			}
		case "MATERIALIZED":
			lx.word()
		}
		if !lx.consume('(') || !lx.skipParens() {
			return false
		}
		if !lx.consume(',') {
			break
		}
	}
	return strings.ToUpper(lx.word()) == "SELECT"
}

// countParams counts bare '?' placeholders outside literals and comments,
// and reports whether any named or numbered placeholder is present.
func countParams(sql string) (positional int, named bool) {
	i := 0
	for i < len(sql) {
		switch c := sql[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(sql, i)
		case '[':
			i = skipBracketIdent(sql, i)
		case '-':
			if i+1 < len(sql) && sql[i+1] == '-' {
				i = skipLineComment(sql, i)
			} else {
				i++
			}
		case '/':
			if i+1 < len(sql) && sql[i+1] == '*' {
				i = skipBlockComment(sql, i)
			} else {
				i++
			}
		case '?':
			i++
			if i < len(sql) && isDigit(sql[i]) {
				named = true
				for i < len(sql) && isDigit(sql[i]) {
					i++
				}
			} else {
				positional++
			}
		case ':', '@', '$':
			i++
			if i < len(sql) && isWordByte(sql[i]) {
				named = true
				for i < len(sql) && isWordByte(sql[i]) {
					i++
				}
			}
		default:
			i++
		}
	}
	return positional, named
}

// --- scanner primitives ---

// skipQuoted advances past a quoted region starting at src[i]. Doubling
// the quote character escapes it ('', "", ``). Unterminated regions run to
// the end of input; the engine reports the syntax error later.
func skipQuoted(src string, i int) int {
	q := src[i]
	i++
	for i < len(src) {
		if src[i] == q {
			if i+1 < len(src) && src[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// skipBracketIdent advances past a [bracketed] identifier (no escapes).
func skipBracketIdent(src string, i int) int {
	i++
	for i < len(src) && src[i] != ']' {
		i++
	}
	if i < len(src) {
		i++
	}
	return i
}

func skipLineComment(src string, i int) int {
	for i < len(src) && src[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(src string, i int) int {
	i += 2
	for i+1 < len(src) {
		if src[i] == '*' && src[i+1] == '/' {
			return i + 2
		}
		i++
	}
	return len(src)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

// lexer is a token-level cursor used for keyword classification.
type lexer struct {
	src string
	pos int
}

// skipSpace advances past whitespace and comments.
func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch c := l.src[l.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case c == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-':
			l.pos = skipLineComment(l.src, l.pos)
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			l.pos = skipBlockComment(l.src, l.pos)
		default:
			return
		}
	}
}

// word consumes and returns the next bare word, or "" if the next token is
// not one.
func (l *lexer) word() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.src) && isWordByte(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

// peekWord returns the next bare word without consuming it.
func (l *lexer) peekWord() string {
	save := l.pos
	w := l.word()
	l.pos = save
	return w
}

// ident consumes the next identifier in any quoting form and reports
// whether one was present.
func (l *lexer) ident() bool {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return false
	}
	switch l.src[l.pos] {
	case '"', '`':
		l.pos = skipQuoted(l.src, l.pos)
		return true
	case '[':
		l.pos = skipBracketIdent(l.src, l.pos)
		return true
	}
	return l.word() != ""
}

// consume advances past b if it is the next token byte.
func (l *lexer) consume(b byte) bool {
	l.skipSpace()
	if l.pos < len(l.src) && l.src[l.pos] == b {
		l.pos++
		return true
	}
	return false
}

// skipParens advances to just past the ')' matching an already-consumed
// '(', honoring nesting, literals, and comments.
func (l *lexer) skipParens() bool {
	depth := 1
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '(':
			depth++
			l.pos++
		case ')':
			depth--
			l.pos++
			if depth == 0 {
				return true
			}
		case '\'', '"', '`':
			l.pos = skipQuoted(l.src, l.pos)
		case '[':
			l.pos = skipBracketIdent(l.src, l.pos)
		case '-':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '-' {
				l.pos = skipLineComment(l.src, l.pos)
			} else {
				l.pos++
			}
		case '/':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '*' {
				l.pos = skipBlockComment(l.src, l.pos)
			} else {
				l.pos++
			}
		default:
			l.pos++
		}
	}
	return false
}
