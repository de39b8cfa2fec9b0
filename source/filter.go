package source

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// FilterError is returned for attribute filters
// that can't be parsed or reference unknown fields.
type FilterError struct {
	Filter string
	Pos    int
	Msg    string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("%s at position %d in filter %q", e.Msg, e.Pos, e.Filter)
}

func (e *FilterError) Unwrap() error {
	return ErrInvalidFilter
}

// Filter is a parsed attribute filter expression
// using a subset of OGR SQL:
//
//	field = 'text' AND (count >= 10 OR kind IN ('a', 'b'))
//	name LIKE 'Main%' AND NOT deleted IS NULL
//
// Supported are the comparison operators = == <> != < <= > >=,
// IS [NOT] NULL, [NOT] IN, [NOT] LIKE, [NOT] BETWEEN,
// AND, OR, NOT and parentheses.
// Comparisons with NULL evaluate to unknown
// following SQL three-valued logic.
type Filter struct {
	text string
	expr boolExpr
}

// ParseFilter parses text as filter over fields.
// Field names are matched case-insensitively.
func ParseFilter(text string, fields []FieldDefn) (*Filter, error) {
	p := &filterParser{
		text:   text,
		fields: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		p.fields[strings.ToLower(f.Name)] = i
	}
	err := p.tokenize()
	if err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", tok)
	}
	return &Filter{text: text, expr: expr}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.text
}

// Match returns true if values, ordered like the fields
// the filter was parsed with, satisfy the filter.
// A filter evaluating to unknown does not match.
// A nil Filter matches everything.
func (f *Filter) Match(values []any) bool {
	if f == nil {
		return true
	}
	return f.expr.eval(values) == ternaryTrue
}

///////////////////////////////////////////////////////////////////////////////
// Three-valued logic

type ternary int8

const (
	ternaryFalse ternary = iota
	ternaryTrue
	ternaryUnknown
)

func ternaryOf(b bool) ternary {
	if b {
		return ternaryTrue
	}
	return ternaryFalse
}

func (t ternary) not() ternary {
	switch t {
	case ternaryTrue:
		return ternaryFalse
	case ternaryFalse:
		return ternaryTrue
	}
	return ternaryUnknown
}

///////////////////////////////////////////////////////////////////////////////
// Expressions

type boolExpr interface {
	eval(values []any) ternary
}

type valueExpr interface {
	value(values []any) any
}

type fieldRef int

func (f fieldRef) value(values []any) any {
	if int(f) >= len(values) {
		return nil
	}
	return normalizeFilterValue(values[f])
}

type literal struct{ val any }

func (l literal) value([]any) any { return l.val }

// normalizeFilterValue returns nil, float64 or string.
func normalizeFilterValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case float64:
		return x
	case bool:
		if x {
			return float64(1)
		}
		return float64(0)
	}
	return fmt.Sprint(v)
}

type andExpr struct{ left, right boolExpr }

func (e andExpr) eval(values []any) ternary {
	l := e.left.eval(values)
	if l == ternaryFalse {
		return ternaryFalse
	}
	r := e.right.eval(values)
	switch {
	case r == ternaryFalse:
		return ternaryFalse
	case l == ternaryTrue && r == ternaryTrue:
		return ternaryTrue
	}
	return ternaryUnknown
}

type orExpr struct{ left, right boolExpr }

func (e orExpr) eval(values []any) ternary {
	l := e.left.eval(values)
	if l == ternaryTrue {
		return ternaryTrue
	}
	r := e.right.eval(values)
	switch {
	case r == ternaryTrue:
		return ternaryTrue
	case l == ternaryFalse && r == ternaryFalse:
		return ternaryFalse
	}
	return ternaryUnknown
}

type notExpr struct{ expr boolExpr }

func (e notExpr) eval(values []any) ternary {
	return e.expr.eval(values).not()
}

type compareExpr struct {
	op          string
	left, right valueExpr
}

func (e compareExpr) eval(values []any) ternary {
	l, r := e.left.value(values), e.right.value(values)
	if l == nil || r == nil {
		return ternaryUnknown
	}
	c := compareValues(l, r)
	switch e.op {
	case "=", "==":
		return ternaryOf(c == 0)
	case "<>", "!=":
		return ternaryOf(c != 0)
	case "<":
		return ternaryOf(c < 0)
	case "<=":
		return ternaryOf(c <= 0)
	case ">":
		return ternaryOf(c > 0)
	case ">=":
		return ternaryOf(c >= 0)
	}
	return ternaryUnknown
}

// compareValues compares two non nil normalized values.
// Numbers are compared numerically, also if one side is a
// string that can be parsed as number, otherwise as strings.
func compareValues(l, r any) int {
	lf, lNum := asNumber(l)
	rf, rNum := asNumber(r)
	if lNum && rNum {
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		}
		return 0
	}
	return strings.Compare(asString(l), asString(r))
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

type isNullExpr struct {
	operand valueExpr
	negate  bool
}

func (e isNullExpr) eval(values []any) ternary {
	return ternaryOf((e.operand.value(values) == nil) != e.negate)
}

type inExpr struct {
	operand valueExpr
	list    []valueExpr
	negate  bool
}

func (e inExpr) eval(values []any) ternary {
	v := e.operand.value(values)
	if v == nil {
		return ternaryUnknown
	}
	result := ternaryFalse
	for _, item := range e.list {
		iv := item.value(values)
		if iv == nil {
			result = ternaryUnknown
			continue
		}
		if compareValues(v, iv) == 0 {
			result = ternaryTrue
			break
		}
	}
	if e.negate {
		return result.not()
	}
	return result
}

type likeExpr struct {
	operand valueExpr
	pattern *regexp.Regexp
	negate  bool
}

func (e likeExpr) eval(values []any) ternary {
	v := e.operand.value(values)
	if v == nil {
		return ternaryUnknown
	}
	return ternaryOf(e.pattern.MatchString(asString(v)) != e.negate)
}

// likePattern converts a LIKE pattern to a case-insensitive regular expression.
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?is)^`)
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}

type betweenExpr struct {
	operand, low, high valueExpr
	negate             bool
}

func (e betweenExpr) eval(values []any) ternary {
	ge := compareExpr{op: ">=", left: e.operand, right: e.low}.eval(values)
	le := compareExpr{op: "<=", left: e.operand, right: e.high}.eval(values)
	result := andExpr{left: constExpr(ge), right: constExpr(le)}.eval(values)
	if e.negate {
		return result.not()
	}
	return result
}

type constExpr ternary

func (c constExpr) eval([]any) ternary { return ternary(c) }

///////////////////////////////////////////////////////////////////////////////
// Tokenizer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokString
	tokNumber
	tokOperator
	tokLParen
	tokRParen
	tokComma
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of filter"
	case tokString:
		return "string '" + t.text + "'"
	case tokQuotedIdent:
		return `"` + t.text + `"`
	}
	return "'" + t.text + "'"
}

// isKeyword returns true if t is the unquoted keyword kw.
func (t token) isKeyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

var filterKeywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true,
	"NULL": true, "IN": true, "LIKE": true, "BETWEEN": true,
}

type filterParser struct {
	text   string
	fields map[string]int
	tokens []token
	next   int
}

func (p *filterParser) errorf(tok token, format string, args ...any) error {
	return &FilterError{Filter: p.text, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *filterParser) tokenize() error {
	runes := []rune(p.text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			p.tokens = append(p.tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})

		case r == '"' || r == '\'':
			start := i
			quote := r
			var b strings.Builder
			i++
			for {
				if i >= len(runes) {
					return &FilterError{Filter: p.text, Pos: start, Msg: "unterminated quote"}
				}
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						b.WriteRune(quote)
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			kind := tokString
			if quote == '"' {
				kind = tokQuotedIdent
			}
			p.tokens = append(p.tokens, token{kind: kind, text: b.String(), pos: start})

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			text := string(runes[start:i])
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return &FilterError{Filter: p.text, Pos: start, Msg: fmt.Sprintf("invalid number %q", text)}
			}
			p.tokens = append(p.tokens, token{kind: tokNumber, text: text, pos: start})

		case r == '(':
			p.tokens = append(p.tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			p.tokens = append(p.tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			p.tokens = append(p.tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '-':
			p.tokens = append(p.tokens, token{kind: tokMinus, text: "-", pos: i})
			i++

		case r == '=' || r == '<' || r == '>' || r == '!':
			start := i
			op := string(r)
			if i+1 < len(runes) {
				two := string(runes[i : i+2])
				switch two {
				case "==", "<>", "!=", "<=", ">=":
					op = two
				}
			}
			if op == "!" {
				return &FilterError{Filter: p.text, Pos: start, Msg: "unexpected '!'"}
			}
			i += len(op)
			p.tokens = append(p.tokens, token{kind: tokOperator, text: op, pos: start})

		default:
			return &FilterError{Filter: p.text, Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	p.tokens = append(p.tokens, token{kind: tokEOF, pos: len(runes)})
	return nil
}

func (p *filterParser) peek() token {
	return p.tokens[p.next]
}

func (p *filterParser) advance() token {
	tok := p.tokens[p.next]
	if tok.kind != tokEOF {
		p.next++
	}
	return tok
}

func (p *filterParser) acceptKeyword(kw string) bool {
	if p.peek().isKeyword(kw) {
		p.next++
		return true
	}
	return false
}

///////////////////////////////////////////////////////////////////////////////
// Recursive descent parser

func (p *filterParser) parseOr() (boolExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (boolExpr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *filterParser) parseNot() (boolExpr, error) {
	if p.acceptKeyword("NOT") {
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{expr: expr}, nil
	}
	return p.parsePredicate()
}

func (p *filterParser) parsePredicate() (boolExpr, error) {
	if p.peek().kind == tokLParen {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if tok := p.advance(); tok.kind != tokRParen {
			return nil, p.errorf(tok, "expected ')' instead of %s", tok)
		}
		return expr, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.kind == tokOperator:
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareExpr{op: tok.text, left: left, right: right}, nil

	case tok.isKeyword("IS"):
		p.advance()
		negate := p.acceptKeyword("NOT")
		if !p.acceptKeyword("NULL") {
			return nil, p.errorf(p.peek(), "expected NULL instead of %s", p.peek())
		}
		return isNullExpr{operand: left, negate: negate}, nil
	}

	negate := p.acceptKeyword("NOT")
	tok = p.peek()
	switch {
	case tok.isKeyword("IN"):
		p.advance()
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inExpr{operand: left, list: list, negate: negate}, nil

	case tok.isKeyword("LIKE"):
		p.advance()
		patternTok := p.advance()
		if patternTok.kind != tokString {
			return nil, p.errorf(patternTok, "expected string pattern after LIKE instead of %s", patternTok)
		}
		return likeExpr{operand: left, pattern: likePattern(patternTok.text), negate: negate}, nil

	case tok.isKeyword("BETWEEN"):
		p.advance()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.acceptKeyword("AND") {
			return nil, p.errorf(p.peek(), "expected AND after BETWEEN instead of %s", p.peek())
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenExpr{operand: left, low: low, high: high, negate: negate}, nil
	}

	return nil, p.errorf(tok, "expected comparison instead of %s", tok)
}

func (p *filterParser) parseList() ([]valueExpr, error) {
	if tok := p.advance(); tok.kind != tokLParen {
		return nil, p.errorf(tok, "expected '(' instead of %s", tok)
	}
	var list []valueExpr
	for {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		tok := p.advance()
		if tok.kind == tokRParen {
			return list, nil
		}
		if tok.kind != tokComma {
			return nil, p.errorf(tok, "expected ',' or ')' instead of %s", tok)
		}
	}
}

func (p *filterParser) parseOperand() (valueExpr, error) {
	tok := p.advance()
	switch tok.kind {
	case tokString:
		return literal{val: tok.text}, nil

	case tokNumber:
		f, _ := strconv.ParseFloat(tok.text, 64)
		return literal{val: f}, nil

	case tokMinus:
		num := p.advance()
		if num.kind != tokNumber {
			return nil, p.errorf(num, "expected number after '-' instead of %s", num)
		}
		f, _ := strconv.ParseFloat(num.text, 64)
		return literal{val: -f}, nil

	case tokQuotedIdent:
		return p.fieldRef(tok)

	case tokIdent:
		if tok.isKeyword("NULL") {
			return literal{val: nil}, nil
		}
		if filterKeywords[strings.ToUpper(tok.text)] {
			return nil, p.errorf(tok, "unexpected keyword %s", strings.ToUpper(tok.text))
		}
		return p.fieldRef(tok)
	}
	return nil, p.errorf(tok, "unexpected %s", tok)
}

func (p *filterParser) fieldRef(tok token) (valueExpr, error) {
	index, ok := p.fields[strings.ToLower(tok.text)]
	if !ok {
		return nil, p.errorf(tok, `"%s" not recognised as an available field`, tok.text)
	}
	return fieldRef(index), nil
}
