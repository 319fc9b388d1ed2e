package cond

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ParserError reports a string that does not form a condition.
type ParserError struct {
	Input string
	Pos   int
	Msg   string
	Err   error
}

func (e *ParserError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return fmt.Sprintf("cannot parse condition %q at %d: %s", e.Input, e.Pos, msg)
}

func (e *ParserError) Unwrap() error { return e.Err }

// Builder turns the named groups of a matched pattern into a condition.
type Builder func(groups map[string]string) (Condition, error)

type pattern struct {
	re    *regexp.Regexp
	build Builder
}

// Parser turns condition strings into Conditions. It is safe for concurrent
// use; results are cached by source string.
type Parser struct {
	// Location anchors cron expressions; nil keeps each timestamp's zone.
	Location *time.Location

	mu       sync.RWMutex
	user     []pattern
	builtins []pattern
	cache    map[string]Condition
}

func NewParser(loc *time.Location) *Parser {
	p := &Parser{Location: loc, cache: map[string]Condition{}}
	p.builtins = p.builtinPatterns()
	return p
}

// Register adds a leaf pattern. expr is matched case-insensitively against
// the whole leaf; named groups reach b. Later registrations win over earlier
// ones and over built-in sentences.
func (p *Parser) Register(expr string, b Builder) error {
	re, err := compileLeaf(expr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = append([]pattern{{re: re, build: b}}, p.user...)
	clear(p.cache)
	return nil
}

func compileLeaf(expr string) (*regexp.Regexp, error) {
	expr = strings.TrimPrefix(strings.TrimSuffix(expr, "$"), "^")
	return regexp.Compile(`(?i)^` + expr + `$`)
}

func mustLeaf(expr string, b Builder) pattern {
	re, err := compileLeaf(expr)
	if err != nil {
		panic(err)
	}
	return pattern{re: re, build: b}
}

// Parse parses s, returning a cached result when s was parsed before.
func (p *Parser) Parse(s string) (Condition, error) {
	p.mu.RLock()
	c, ok := p.cache[s]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	st := &parseState{p: p, src: s, toks: toks}
	c, err = st.parseOr()
	if err != nil {
		return nil, err
	}
	if st.i < len(st.toks) {
		t := st.toks[st.i]
		return nil, &ParserError{Input: s, Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}

	p.mu.Lock()
	p.cache[s] = c
	p.mu.Unlock()
	return c, nil
}

// MustParse panics when s does not parse.
func (p *Parser) MustParse(s string) Condition {
	c, err := p.Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (p *Parser) leaf(text string, pos int, src string) (Condition, error) {
	p.mu.RLock()
	pats := make([]pattern, 0, len(p.user)+len(p.builtins))
	pats = append(pats, p.user...)
	pats = append(pats, p.builtins...)
	p.mu.RUnlock()

	for _, pt := range pats {
		m := pt.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		groups := make(map[string]string, len(m))
		for i, name := range pt.re.SubexpNames() {
			if name != "" {
				groups[name] = m[i]
			}
		}
		c, err := pt.build(groups)
		if err != nil {
			return nil, &ParserError{Input: src, Pos: pos, Msg: fmt.Sprintf("invalid %q", text), Err: err}
		}
		return c, nil
	}
	return nil, &ParserError{Input: src, Pos: pos, Msg: fmt.Sprintf("unknown statement %q", text)}
}

// ---- tokens ----

type tokenKind int

const (
	tokLeaf tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var operators = map[rune]tokenKind{
	'&': tokAnd,
	'|': tokOr,
	'~': tokNot,
	'(': tokOpen,
	')': tokClose,
}

// tokenize splits on operators and parentheses outside quotes. Leaf text has
// its whitespace collapsed outside quotes.
func tokenize(s string) ([]token, error) {
	var (
		toks  []token
		buf   strings.Builder
		start = -1
		quote rune
		space bool
	)
	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			toks = append(toks, token{kind: tokLeaf, text: text, pos: start})
		}
		buf.Reset()
		start = -1
		space = false
	}
	for i, r := range s {
		if quote != 0 {
			buf.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		if kind, ok := operators[r]; ok {
			flush()
			toks = append(toks, token{kind: kind, text: string(r), pos: i})
			continue
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if buf.Len() > 0 {
				space = true
			}
			continue
		}
		if start < 0 {
			start = i
		}
		if space {
			buf.WriteByte(' ')
			space = false
		}
		if r == '\'' || r == '"' {
			quote = r
		}
		buf.WriteRune(r)
	}
	if quote != 0 {
		return nil, &ParserError{Input: s, Pos: len(s), Msg: "unterminated quote"}
	}
	flush()
	if len(toks) == 0 {
		return nil, &ParserError{Input: s, Pos: 0, Msg: "empty condition"}
	}
	return toks, nil
}

// ---- grammar ----
//
//	or    := and ('|' and)*
//	and   := unary ('&' unary)*
//	unary := '~' unary | '(' or ')' | leaf

type parseState struct {
	p    *Parser
	src  string
	toks []token
	i    int
}

func (st *parseState) peek() (token, bool) {
	if st.i >= len(st.toks) {
		return token{}, false
	}
	return st.toks[st.i], true
}

func (st *parseState) parseOr() (Condition, error) {
	first, err := st.parseAnd()
	if err != nil {
		return nil, err
	}
	subs := []Condition{first}
	for {
		t, ok := st.peek()
		if !ok || t.kind != tokOr {
			break
		}
		st.i++
		next, err := st.parseAnd()
		if err != nil {
			return nil, err
		}
		subs = append(subs, next)
	}
	return Any(subs...), nil
}

func (st *parseState) parseAnd() (Condition, error) {
	first, err := st.parseUnary()
	if err != nil {
		return nil, err
	}
	subs := []Condition{first}
	for {
		t, ok := st.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		st.i++
		next, err := st.parseUnary()
		if err != nil {
			return nil, err
		}
		subs = append(subs, next)
	}
	return All(subs...), nil
}

func (st *parseState) parseUnary() (Condition, error) {
	t, ok := st.peek()
	if !ok {
		return nil, &ParserError{Input: st.src, Pos: len(st.src), Msg: "unexpected end of condition"}
	}
	st.i++
	switch t.kind {
	case tokNot:
		sub, err := st.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(sub), nil
	case tokOpen:
		inner, err := st.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := st.peek()
		if !ok || closing.kind != tokClose {
			return nil, &ParserError{Input: st.src, Pos: t.pos, Msg: "unbalanced parenthesis"}
		}
		st.i++
		return inner, nil
	case tokLeaf:
		return st.p.leaf(t.text, t.pos, st.src)
	default:
		return nil, &ParserError{Input: st.src, Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}
