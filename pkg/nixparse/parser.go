package nixparse

import (
	"fmt"
	"strings"
)

// SyntaxError describes the first syntax error found in a Nix expression.
// Line and Column are 1-based.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

func newError(src string, pos int, format string, args ...any) *SyntaxError {
	if pos > len(src) {
		pos = len(src)
	}
	before := src[:pos]
	line := strings.Count(before, "\n") + 1
	col := pos - strings.LastIndex(before, "\n")
	return &SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// Validate parses src as a single Nix expression and reports the first
// syntax error, or nil if src is well-formed.
func Validate(src string) error {
	return parse(&parser{s: &scanner{src: src}})
}

// Binding is one `path = value;` binding of an attribute set or let block.
// Offsets are bytes into the parsed source.
type Binding struct {
	Path       []string // identifier segments, "" for quoted or dynamic ones
	ValueStart int      // first byte of the value
	ValueEnd   int      // the terminating ";"
}

// Bindings parses src like [Validate] and returns every binding, inner
// bindings before the binding that contains them. inherit clauses are not
// bindings.
func Bindings(src string) ([]Binding, error) {
	var binds []Binding
	if err := parse(&parser{s: &scanner{src: src}, binds: &binds}); err != nil {
		return nil, err
	}
	return binds, nil
}

func parse(p *parser) error {
	if err := p.parseExpr(); err != nil {
		return err
	}
	t, err := p.peek(0)
	if err != nil {
		return err
	}
	if t.kind != tEOF {
		return p.unexpected(t)
	}
	return nil
}

type parser struct {
	s     *scanner
	buf   []token
	binds *[]Binding // collected when non-nil
}

func (p *parser) peek(n int) (token, error) {
	for len(p.buf) <= n {
		t, err := p.s.next()
		if err != nil {
			return token{}, err
		}
		p.buf = append(p.buf, t)
	}
	return p.buf[n], nil
}

func (p *parser) next() (token, error) {
	t, err := p.peek(0)
	if err != nil {
		return token{}, err
	}
	p.buf = p.buf[1:]
	return t, nil
}

// accept consumes the next token if it is op.
func (p *parser) accept(op string) (bool, error) {
	t, err := p.peek(0)
	if err != nil {
		return false, err
	}
	if t.is(op) {
		p.buf = p.buf[1:]
		return true, nil
	}
	return false, nil
}

func (p *parser) expect(op string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if !t.is(op) {
		return newError(p.s.src, t.pos, "expected '%s', got %s", op, t)
	}
	return nil
}

func (p *parser) unexpected(t token) error {
	return newError(p.s.src, t.pos, "unexpected %s", t)
}

func isIdent(t token) bool {
	return t.kind == tID && !keywords[t.text]
}

// parseExpr handles the forms that extend as far right as possible:
// lambdas, let, with, assert and if.
func (p *parser) parseExpr() error {
	t, err := p.peek(0)
	if err != nil {
		return err
	}

	switch {
	case t.is("let"):
		t1, err := p.peek(1)
		if err != nil {
			return err
		}
		if t1.is("{") {
			return p.parseOp()
		}
		p.next()
		if err := p.parseBinds(func(t token) bool { return t.is("in") }); err != nil {
			return err
		}
		if err := p.expect("in"); err != nil {
			return err
		}
		return p.parseExpr()

	case t.is("with"), t.is("assert"):
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
		if err := p.expect(";"); err != nil {
			return err
		}
		return p.parseExpr()

	case t.is("if"):
		p.next()
		for _, kw := range []string{"then", "else"} {
			if err := p.parseExpr(); err != nil {
				return err
			}
			if err := p.expect(kw); err != nil {
				return err
			}
		}
		return p.parseExpr()

	case isIdent(t):
		t1, err := p.peek(1)
		if err != nil {
			return err
		}
		if t1.is(":") {
			p.next()
			p.next()
			return p.parseExpr()
		}
		if t1.is("@") {
			p.next()
			p.next()
			if err := p.expect("{"); err != nil {
				return err
			}
			if err := p.parseFormals(); err != nil {
				return err
			}
			if err := p.expect(":"); err != nil {
				return err
			}
			return p.parseExpr()
		}

	case t.is("{"):
		formals, err := p.isFormals()
		if err != nil {
			return err
		}
		if formals {
			p.next()
			if err := p.parseFormals(); err != nil {
				return err
			}
			if ok, err := p.accept("@"); err != nil {
				return err
			} else if ok {
				id, err := p.next()
				if err != nil {
					return err
				}
				if !isIdent(id) {
					return newError(p.s.src, id.pos, "expected identifier after '@', got %s", id)
				}
			}
			if err := p.expect(":"); err != nil {
				return err
			}
			return p.parseExpr()
		}
	}
	return p.parseOp()
}

// isFormals decides whether the '{' at the head of the buffer opens a
// lambda's formal argument set rather than an attribute set.
func (p *parser) isFormals() (bool, error) {
	t1, err := p.peek(1)
	if err != nil {
		return false, err
	}
	switch {
	case t1.is("..."):
		return true, nil
	case t1.is("}"):
		t2, err := p.peek(2)
		if err != nil {
			return false, err
		}
		return t2.is(":") || t2.is("@"), nil
	case isIdent(t1):
		t2, err := p.peek(2)
		if err != nil {
			return false, err
		}
		if t2.is(",") || t2.is("?") {
			return true, nil
		}
		if t2.is("}") {
			t3, err := p.peek(3)
			if err != nil {
				return false, err
			}
			return t3.is(":") || t3.is("@"), nil
		}
	}
	return false, nil
}

// parseFormals parses "a, b ? default, ... }" after the opening brace.
func (p *parser) parseFormals() error {
	for {
		t, err := p.next()
		if err != nil {
			return err
		}
		switch {
		case t.is("}"):
			return nil
		case t.is("..."):
			return p.expect("}")
		case isIdent(t):
		default:
			return newError(p.s.src, t.pos, "expected formal argument, got %s", t)
		}

		if ok, err := p.accept("?"); err != nil {
			return err
		} else if ok {
			if err := p.parseExpr(); err != nil {
				return err
			}
		}

		sep, err := p.next()
		if err != nil {
			return err
		}
		if sep.is("}") {
			return nil
		}
		if !sep.is(",") {
			return newError(p.s.src, sep.pos, "expected ',' or '}' in formal arguments, got %s", sep)
		}
	}
}

// binary operator levels, loosest first
type opLevel struct {
	ops   []string
	assoc int // 0 left, 1 right, 2 none
}

var levels = []opLevel{
	{[]string{"->"}, 1},
	{[]string{"||"}, 0},
	{[]string{"&&"}, 0},
	{[]string{"==", "!="}, 2},
	{[]string{"<", ">", "<=", ">="}, 2},
	{[]string{"//"}, 1},
	// level 6 is the prefix '!', handled in parseLevel
	{[]string{"+", "-"}, 0},
	{[]string{"*", "/"}, 0},
	{[]string{"++"}, 1},
}

const notLevel = 6

func (p *parser) parseOp() error {
	return p.parseLevel(0)
}

func (p *parser) parseLevel(i int) error {
	if i == notLevel {
		if ok, err := p.accept("!"); err != nil {
			return err
		} else if ok {
			return p.parseLevel(notLevel)
		}
	}
	if i >= len(levels) {
		return p.parseHasAttr()
	}
	lvl := levels[i]
	next := i + 1

	if err := p.parseLevel(next); err != nil {
		return err
	}
	for {
		t, err := p.peek(0)
		if err != nil {
			return err
		}
		if t.kind != tOp || !contains(lvl.ops, t.text) {
			return nil
		}
		p.next()
		switch lvl.assoc {
		case 1:
			return p.parseLevel(i)
		case 2:
			if err := p.parseLevel(next); err != nil {
				return err
			}
			t, err := p.peek(0)
			if err != nil {
				return err
			}
			if t.kind == tOp && contains(lvl.ops, t.text) {
				return newError(p.s.src, t.pos, "operator %s is not associative", t)
			}
			return nil
		default:
			if err := p.parseLevel(next); err != nil {
				return err
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p *parser) parseHasAttr() error {
	if err := p.parseNegation(); err != nil {
		return err
	}
	for {
		ok, err := p.accept("?")
		if err != nil || !ok {
			return err
		}
		if _, err := p.parseAttrPath(); err != nil {
			return err
		}
	}
}

func (p *parser) parseNegation() error {
	if ok, err := p.accept("-"); err != nil {
		return err
	} else if ok {
		return p.parseNegation()
	}
	return p.parseApp()
}

func (p *parser) parseApp() error {
	if err := p.parseSelect(); err != nil {
		return err
	}
	for {
		t, err := p.peek(0)
		if err != nil {
			return err
		}
		if !startsSimple(t) {
			return nil
		}
		if err := p.parseSelect(); err != nil {
			return err
		}
	}
}

func startsSimple(t token) bool {
	switch t.kind {
	case tInt, tFloat, tPath, tSPath, tURI, tStr, tIndStr:
		return true
	case tID:
		return !keywords[t.text] || t.text == "rec"
	case tOp:
		return t.text == "(" || t.text == "{" || t.text == "["
	}
	return false
}

func (p *parser) parseSelect() error {
	if err := p.parseSimple(); err != nil {
		return err
	}
	ok, err := p.accept(".")
	if err != nil || !ok {
		return err
	}
	if _, err := p.parseAttrPath(); err != nil {
		return err
	}
	if ok, err := p.accept("or"); err != nil {
		return err
	} else if ok {
		return p.parseSelect()
	}
	return nil
}

func (p *parser) parseSimple() error {
	t, err := p.next()
	if err != nil {
		return err
	}
	switch t.kind {
	case tInt, tFloat, tPath, tSPath, tURI:
		return nil
	case tStr:
		return p.parseStringBody(t)
	case tIndStr:
		return p.parseIndStringBody(t)
	case tID:
		switch {
		case !keywords[t.text]:
			return nil
		case t.text == "rec":
			if err := p.expect("{"); err != nil {
				return err
			}
			return p.parseBinds(func(t token) bool { return t.is("}") }, "}")
		case t.text == "let":
			if err := p.expect("{"); err != nil {
				return err
			}
			return p.parseBinds(func(t token) bool { return t.is("}") }, "}")
		}
	case tOp:
		switch t.text {
		case "(":
			if err := p.parseExpr(); err != nil {
				return err
			}
			return p.expect(")")
		case "{":
			return p.parseBinds(func(t token) bool { return t.is("}") }, "}")
		case "[":
			for {
				t, err := p.peek(0)
				if err != nil {
					return err
				}
				if t.is("]") {
					p.next()
					return nil
				}
				if t.kind == tEOF {
					return newError(p.s.src, t.pos, "unterminated list")
				}
				if err := p.parseSelect(); err != nil {
					return err
				}
			}
		}
	}
	return p.unexpected(t)
}

// parseBinds parses bindings until done reports true for the next token.
// If closer is given it is consumed as well.
func (p *parser) parseBinds(done func(token) bool, closer ...string) error {
	for {
		t, err := p.peek(0)
		if err != nil {
			return err
		}
		if done(t) {
			if len(closer) > 0 {
				p.next()
			}
			return nil
		}
		if t.kind == tEOF {
			return newError(p.s.src, t.pos, "unexpected end of input in attribute set")
		}

		if t.is("inherit") {
			p.next()
			if ok, err := p.accept("("); err != nil {
				return err
			} else if ok {
				if err := p.parseExpr(); err != nil {
					return err
				}
				if err := p.expect(")"); err != nil {
					return err
				}
			}
			for {
				t, err := p.peek(0)
				if err != nil {
					return err
				}
				if t.is(";") {
					p.next()
					break
				}
				if _, err := p.parseAttr(); err != nil {
					return err
				}
			}
			continue
		}

		path, err := p.parseAttrPath()
		if err != nil {
			return err
		}
		if err := p.expect("="); err != nil {
			return err
		}
		value, err := p.peek(0)
		if err != nil {
			return err
		}
		if err := p.parseExpr(); err != nil {
			return err
		}
		semi, err := p.peek(0)
		if err != nil {
			return err
		}
		if err := p.expect(";"); err != nil {
			return err
		}
		if p.binds != nil {
			*p.binds = append(*p.binds, Binding{Path: path, ValueStart: value.pos, ValueEnd: semi.pos})
		}
	}
}

// parseAttrPath returns the path's segments. Quoted and dynamic segments
// come back empty.
func (p *parser) parseAttrPath() ([]string, error) {
	name, err := p.parseAttr()
	if err != nil {
		return nil, err
	}
	path := []string{name}
	for {
		ok, err := p.accept(".")
		if err != nil || !ok {
			return path, err
		}
		name, err := p.parseAttr()
		if err != nil {
			return nil, err
		}
		path = append(path, name)
	}
}

func (p *parser) parseAttr() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	switch {
	case isIdent(t), t.is("or"):
		return t.text, nil
	case t.kind == tStr:
		return "", p.parseStringBody(t)
	case t.is("${"):
		if err := p.parseExpr(); err != nil {
			return "", err
		}
		return "", p.expect("}")
	}
	return "", newError(p.s.src, t.pos, "expected attribute name, got %s", t)
}

// parseInterpolation parses "expr }" after a "${" inside a string.
func (p *parser) parseInterpolation() error {
	if err := p.parseExpr(); err != nil {
		return err
	}
	return p.expect("}")
}

// The scanner sits right after the opening quote when a string token is
// consumed: lookahead never extends past a string opener.
func (p *parser) parseStringBody(open token) error {
	s := p.s
	for s.pos < len(s.src) {
		rest := s.src[s.pos:]
		switch {
		case rest[0] == '"':
			s.pos++
			return nil
		case rest[0] == '\\':
			s.pos += 2
		case strings.HasPrefix(rest, "${"):
			s.pos += 2
			if err := p.parseInterpolation(); err != nil {
				return err
			}
		case strings.HasPrefix(rest, "$$"):
			s.pos += 2
		default:
			s.pos++
		}
	}
	return newError(s.src, open.pos, "unterminated string")
}

func (p *parser) parseIndStringBody(open token) error {
	s := p.s
	for s.pos < len(s.src) {
		rest := s.src[s.pos:]
		switch {
		case strings.HasPrefix(rest, "'''"), strings.HasPrefix(rest, "''$"):
			s.pos += 3
		case strings.HasPrefix(rest, "''\\"):
			s.pos += 4
		case strings.HasPrefix(rest, "''"):
			s.pos += 2
			return nil
		case strings.HasPrefix(rest, "${"):
			s.pos += 2
			if err := p.parseInterpolation(); err != nil {
				return err
			}
		case strings.HasPrefix(rest, "$$"):
			s.pos += 2
		default:
			s.pos++
		}
	}
	return newError(s.src, open.pos, "unterminated indented string")
}
