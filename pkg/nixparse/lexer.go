package nixparse

import (
	"regexp"
	"strings"
)

type tokKind int

const (
	tEOF tokKind = iota
	tID
	tInt
	tFloat
	tPath
	tSPath
	tURI
	tStr    // opening "
	tIndStr // opening ''
	tOp
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) is(op string) bool {
	return (t.kind == tOp || t.kind == tID) && t.text == op
}

func (t token) String() string {
	switch t.kind {
	case tEOF:
		return "end of input"
	case tStr:
		return `'"'`
	case tIndStr:
		return `"''"`
	}
	return "'" + t.text + "'"
}

var keywords = map[string]bool{
	"if": true, "then": true, "else": true, "assert": true, "with": true,
	"let": true, "in": true, "rec": true, "inherit": true, "or": true,
}

var (
	pathRE       = regexp.MustCompile(`^[a-zA-Z0-9._+\-]*(/[a-zA-Z0-9._+\-]+)+`)
	pathInterpRE = regexp.MustCompile(`^(~|[a-zA-Z0-9._+\-]*)(/[a-zA-Z0-9._+\-]+)*/\$\{`)
	homePathRE   = regexp.MustCompile(`^~(/[a-zA-Z0-9._+\-]+)+`)
	spathRE      = regexp.MustCompile(`^<[a-zA-Z0-9._+\-]+(/[a-zA-Z0-9._+\-]+)*>`)
	uriRE        = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+\-.]*:[a-zA-Z0-9%/?:@&=+$,\-_.!~*']+`)
	floatRE      = regexp.MustCompile(`^[0-9]+\.[0-9]+([eE][+-]?[0-9]+)?`)
	intRE        = regexp.MustCompile(`^[0-9]+`)
	idRE         = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_'\-]*`)
)

// Longest operators first.
var operators = []string{
	"...", "->", "==", "!=", "<=", ">=", "&&", "||", "++", "//", "${",
	"+", "-", "*", "/", "<", ">", "!", "?", ".", ",", ";", ":", "=", "@",
	"(", ")", "{", "}", "[", "]",
}

// scanner produces tokens from src on demand. String bodies are not
// tokenized here; the parser walks them directly so that interpolations
// can be parsed recursively.
type scanner struct {
	src string
	pos int
}

func (s *scanner) errorf(pos int, format string, args ...any) *SyntaxError {
	return newError(s.src, pos, format, args...)
}

func (s *scanner) skipSpace() error {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.pos++
		case c == '#':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}
		case c == '/' && strings.HasPrefix(s.src[s.pos:], "/*"):
			end := strings.Index(s.src[s.pos+2:], "*/")
			if end < 0 {
				return s.errorf(s.pos, "unterminated comment")
			}
			s.pos += 2 + end + 2
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) next() (token, error) {
	if err := s.skipSpace(); err != nil {
		return token{}, err
	}
	start := s.pos
	if start >= len(s.src) {
		return token{kind: tEOF, pos: start}, nil
	}
	rest := s.src[start:]

	emit := func(kind tokKind, n int) (token, error) {
		s.pos += n
		return token{kind: kind, text: rest[:n], pos: start}, nil
	}

	switch {
	case strings.HasPrefix(rest, "''"):
		return emit(tIndStr, 2)
	case rest[0] == '"':
		return emit(tStr, 1)
	}

	if loc := pathInterpRE.FindStringIndex(rest); loc != nil {
		if err := s.scanInterpolatedPath(); err != nil {
			return token{}, err
		}
		return token{kind: tPath, text: s.src[start:s.pos], pos: start}, nil
	}
	if m := homePathRE.FindString(rest); m != "" {
		return emit(tPath, len(m))
	}
	if m := pathRE.FindString(rest); m != "" {
		return emit(tPath, len(m))
	}
	if m := spathRE.FindString(rest); m != "" {
		return emit(tSPath, len(m))
	}
	if m := uriRE.FindString(rest); m != "" {
		return emit(tURI, len(m))
	}
	if m := floatRE.FindString(rest); m != "" {
		return emit(tFloat, len(m))
	}
	if m := intRE.FindString(rest); m != "" {
		return emit(tInt, len(m))
	}
	if m := idRE.FindString(rest); m != "" {
		return emit(tID, len(m))
	}
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			return emit(tOp, len(op))
		}
	}
	return token{}, s.errorf(start, "unexpected character %q", rest[0])
}

// scanInterpolatedPath consumes a path such as ./foo/${bar}/baz. The
// interpolated expressions are matched for balanced braces but not parsed.
func (s *scanner) scanInterpolatedPath() error {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case strings.HasPrefix(s.src[s.pos:], "${"):
			if err := s.skipBalanced(); err != nil {
				return err
			}
		case isPathChar(c) || c == '/' || c == '~':
			s.pos++
		default:
			if s.pos == start {
				return s.errorf(start, "invalid path")
			}
			return nil
		}
	}
	return nil
}

func (s *scanner) skipBalanced() error {
	open := s.pos
	s.pos += 2
	depth := 1
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				s.pos++
				return nil
			}
		case '"':
			s.pos++
			for s.pos < len(s.src) && s.src[s.pos] != '"' {
				if s.src[s.pos] == '\\' {
					s.pos++
				}
				s.pos++
			}
		}
		s.pos++
	}
	return s.errorf(open, "unterminated interpolation in path")
}

func isPathChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == '_' || c == '+' || c == '-'
}
