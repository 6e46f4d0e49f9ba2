package minispec

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports program text that does not match the grammar.
type SyntaxError struct {
	Statement int // 1-based statement index, 0 when not attributable
	Offset    int // byte offset in the source
	Msg       string
}

func (e *SyntaxError) Error() string {
	if e.Statement > 0 {
		return fmt.Sprintf("syntax error in statement %d at offset %d: %s", e.Statement, e.Offset, e.Msg)
	}
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

// UnknownOpcodeError reports an opcode outside the registered primitive set.
type UnknownOpcodeError struct {
	Statement int
	Opcode    string
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %q in statement %d", e.Opcode, e.Statement)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokSep
	tokIdent
	tokNumber
	tokString
	tokLParen
	tokRParen
	tokComma
	tokAssign
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of program"
	case tokSep:
		return "statement separator"
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	case tokAssign:
		return "'='"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	num  float64
	off  int
}

type lexer struct {
	src string
	pos int
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && strings.HasPrefix(l.src[l.pos:], "//"):
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return l.lexToken()
		}
	}
	return token{kind: tokEOF, off: l.pos}, nil
}

func (l *lexer) lexToken() (token, error) {
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == ';' || c == '\n':
		l.pos++
		return token{kind: tokSep, off: start}, nil
	case c == '(':
		l.pos++
		return token{kind: tokLParen, off: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, off: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, off: start}, nil
	case c == '=':
		l.pos++
		return token{kind: tokAssign, off: start}, nil
	case c == '"' || c == '\'':
		return l.lexString(c)
	case isDigit(c) || c == '.' || ((c == '-' || c == '+') && l.pos+1 < len(l.src) && (isDigit(l.src[l.pos+1]) || l.src[l.pos+1] == '.')):
		return l.lexNumber()
	case isIdentStart(c):
		for l.pos < len(l.src) && (isIdentStart(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], off: start}, nil
	}
	return token{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("unexpected character %q", c)}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if c := l.src[l.pos]; c == '-' || c == '+' {
		l.pos++
	}
	digits := func() int {
		n := 0
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
			n++
		}
		return n
	}
	n := digits()
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		n += digits()
	}
	if n == 0 {
		return token{}, &SyntaxError{Offset: start, Msg: "malformed number"}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '-' || l.src[l.pos] == '+') {
			l.pos++
		}
		if digits() == 0 {
			return token{}, &SyntaxError{Offset: start, Msg: "malformed exponent"}
		}
	}
	if l.pos < len(l.src) && isIdentStart(l.src[l.pos]) {
		return token{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("malformed number %q", l.src[start:l.pos+1])}
	}
	text := l.src[start:l.pos]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("malformed number %q", text)}
	}
	return token{kind: tokNumber, text: text, num: v, off: start}, nil
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), off: start}, nil
		case '\n':
			return token{}, &SyntaxError{Offset: start, Msg: "unterminated string"}
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, &SyntaxError{Offset: start, Msg: "unterminated string"}
			}
			l.pos++
			switch e := l.src[l.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteByte(e)
			default:
				return token{}, &SyntaxError{Offset: l.pos - 1, Msg: fmt.Sprintf("unknown escape \\%c", e)}
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, &SyntaxError{Offset: start, Msg: "unterminated string"}
}

// tokenize splits the source into statements, dropping empty ones.
func tokenize(src string) ([][]token, error) {
	lx := &lexer{src: src}
	var (
		stmts [][]token
		cur   []token
		depth int
	)
	for {
		tok, err := lx.next()
		if err != nil {
			if se, ok := err.(*SyntaxError); ok {
				se.Statement = len(stmts) + 1
			}
			return nil, err
		}
		switch tok.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
		}
		// A newline inside an argument list continues the statement.
		if tok.kind == tokSep && depth > 0 && src[tok.off] == '\n' {
			continue
		}
		if tok.kind == tokSep || tok.kind == tokEOF {
			if len(cur) > 0 {
				stmts = append(stmts, cur)
				cur = nil
			}
			depth = 0
			if tok.kind == tokEOF {
				return stmts, nil
			}
			continue
		}
		cur = append(cur, tok)
	}
}

// Parse parses text against the built-in primitives.
func Parse(text string) (*Program, error) {
	return DefaultRegistry().Parse(text)
}

// Parse parses program text. It fails with *SyntaxError when the text does
// not match the grammar (including arity mismatches and references to names
// that no earlier statement binds) and with *UnknownOpcodeError when a
// statement calls an opcode the registry does not declare. On success the
// program has exactly one instruction per non-empty statement.
func (r *Registry) Parse(text string) (*Program, error) {
	stmts, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, &SyntaxError{Msg: "empty program"}
	}

	bound := make(map[string]Type)
	instrs := make([]Instruction, 0, len(stmts))
	for i, toks := range stmts {
		in, err := r.parseStatement(i+1, toks, bound)
		if err != nil {
			return nil, err
		}
		if in.Bind != "" {
			bound[in.Bind] = in.Prim.Returns
		}
		instrs = append(instrs, in)
	}
	return &Program{source: text, instrs: instrs}, nil
}

func (r *Registry) parseStatement(idx int, toks []token, bound map[string]Type) (Instruction, error) {
	fail := func(t token, format string, args ...any) error {
		return &SyntaxError{Statement: idx, Offset: t.off, Msg: fmt.Sprintf(format, args...)}
	}

	pos := 0
	peek := func() token {
		if pos < len(toks) {
			return toks[pos]
		}
		last := toks[len(toks)-1]
		return token{kind: tokEOF, off: last.off + len(last.text) + 1}
	}

	var in Instruction
	if len(toks) >= 2 && toks[0].kind == tokIdent && toks[1].kind == tokAssign {
		in.Bind = toks[0].text
		if _, clash := r.byName[in.Bind]; clash {
			return Instruction{}, fail(toks[0], "cannot bind to opcode name %q", in.Bind)
		}
		pos = 2
	}

	opTok := peek()
	if opTok.kind != tokIdent {
		return Instruction{}, fail(opTok, "expected opcode, found %s", opTok.kind)
	}
	pos++
	if t := peek(); t.kind != tokLParen {
		return Instruction{}, fail(t, "expected '(' after %s, found %s", opTok.text, t.kind)
	}
	pos++

	var args []Arg
	if peek().kind != tokRParen {
		for {
			t := peek()
			switch t.kind {
			case tokNumber:
				args = append(args, Number(t.num))
			case tokString:
				args = append(args, String(t.text))
			case tokIdent:
				if _, ok := bound[t.text]; !ok {
					return Instruction{}, fail(t, "undefined name %q", t.text)
				}
				args = append(args, Ref(t.text))
			default:
				return Instruction{}, fail(t, "expected argument, found %s", t.kind)
			}
			pos++
			t = peek()
			if t.kind == tokComma {
				pos++
				continue
			}
			if t.kind == tokRParen {
				break
			}
			return Instruction{}, fail(t, "expected ',' or ')', found %s", t.kind)
		}
	}
	pos++ // ')'
	if t := peek(); t.kind != tokEOF {
		return Instruction{}, fail(t, "unexpected %s after call", t.kind)
	}

	prim, ok := r.byName[opTok.text]
	if !ok {
		return Instruction{}, &UnknownOpcodeError{Statement: idx, Opcode: opTok.text}
	}
	if len(args) < prim.MinArgs || len(args) > len(prim.Params) {
		want := fmt.Sprintf("%d", prim.MinArgs)
		if len(prim.Params) != prim.MinArgs {
			want = fmt.Sprintf("%d to %d", prim.MinArgs, len(prim.Params))
		}
		return Instruction{}, fail(opTok, "%s takes %s arguments, got %d", prim.Name, want, len(args))
	}
	if in.Bind != "" && prim.Returns == TypeNone {
		return Instruction{}, fail(opTok, "%s does not return a value", prim.Name)
	}

	in.Prim = prim
	in.Args = args
	return in, nil
}
