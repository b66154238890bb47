package template

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tagon-dev/tagon/internal/value"
)

// environment is the name-resolution stack for one render: the symbol table
// at the bottom, the render context above it (context wins collisions), and
// one frame per enclosing for block.
type environment struct {
	scopes []map[string]value.Value
}

func newEnvironment(symbols, context map[string]value.Value) *environment {
	return &environment{scopes: []map[string]value.Value{symbols, context}}
}

func (e *environment) push(scope map[string]value.Value) {
	e.scopes = append(e.scopes, scope)
}

func (e *environment) pop() {
	e.scopes = e.scopes[:len(e.scopes)-1]
}

func (e *environment) lookup(name string) (value.Value, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if v, ok := e.scopes[i][name]; ok {
			return v, true
		}
	}
	return value.Null(), false
}

// expr is one parsed expression node.
type expr interface {
	eval(env *environment) (value.Value, error)
}

type literalExpr struct{ v value.Value }

func (l *literalExpr) eval(*environment) (value.Value, error) { return l.v, nil }

type nameExpr struct{ name string }

func (n *nameExpr) eval(env *environment) (value.Value, error) {
	v, ok := env.lookup(n.name)
	if !ok {
		return value.Null(), &RenderError{Kind: UndefinedName, Expr: n.name}
	}
	return v, nil
}

type listExpr struct{ items []expr }

func (l *listExpr) eval(env *environment) (value.Value, error) {
	items := make([]value.Value, len(l.items))
	for i, item := range l.items {
		v, err := item.eval(env)
		if err != nil {
			return value.Null(), err
		}
		items[i] = v
	}
	return value.Sequence(items), nil
}

type attrExpr struct {
	base expr
	name string
}

func (a *attrExpr) eval(env *environment) (value.Value, error) {
	base, err := a.base.eval(env)
	if err != nil {
		return value.Null(), err
	}
	v, ok := base.Attr(a.name)
	if !ok {
		return value.Null(), &RenderError{Kind: TypeMismatch, Expr: a.name,
			Detail: fmt.Sprintf("no attribute %q on %s", a.name, base.Kind())}
	}
	return v, nil
}

type indexExpr struct {
	base expr
	key  expr
}

func (i *indexExpr) eval(env *environment) (value.Value, error) {
	base, err := i.base.eval(env)
	if err != nil {
		return value.Null(), err
	}
	key, err := i.key.eval(env)
	if err != nil {
		return value.Null(), err
	}
	v, ierr := base.Index(key)
	if ierr != nil {
		return value.Null(), &RenderError{Kind: TypeMismatch, Detail: ierr.Error()}
	}
	return v, nil
}

type callExpr struct {
	fn   expr
	args []expr
}

func (c *callExpr) eval(env *environment) (value.Value, error) {
	fn, err := c.fn.eval(env)
	if err != nil {
		return value.Null(), err
	}
	if fn.Kind() != value.KindCallable {
		return value.Null(), &RenderError{Kind: TypeMismatch,
			Detail: fmt.Sprintf("%s is not callable", fn.Kind())}
	}
	args := make([]value.Value, len(c.args))
	for i, a := range c.args {
		v, aerr := a.eval(env)
		if aerr != nil {
			return value.Null(), aerr
		}
		args[i] = v
	}
	result, cerr := fn.Call(args...)
	if cerr != nil {
		return value.Null(), &RenderError{Kind: CallFailed, Detail: cerr.Error()}
	}
	return result, nil
}

type unaryExpr struct {
	op      string
	operand expr
}

func (u *unaryExpr) eval(env *environment) (value.Value, error) {
	v, err := u.operand.eval(env)
	if err != nil {
		return value.Null(), err
	}
	switch u.op {
	case "-":
		if v.Kind() != value.KindNumber {
			return value.Null(), &RenderError{Kind: TypeMismatch,
				Detail: fmt.Sprintf("cannot negate %s", v.Kind())}
		}
		return value.Number(-v.NumberVal()), nil
	case "not":
		return value.Bool(!v.Truthy()), nil
	}
	return value.Null(), &RenderError{Kind: BadSyntax, Detail: "unknown unary operator " + u.op}
}

type binaryExpr struct {
	op    string
	left  expr
	right expr
}

func (b *binaryExpr) eval(env *environment) (value.Value, error) {
	// and/or short-circuit on the left operand's truthiness.
	if b.op == "and" || b.op == "or" {
		left, err := b.left.eval(env)
		if err != nil {
			return value.Null(), err
		}
		if b.op == "and" && !left.Truthy() {
			return left, nil
		}
		if b.op == "or" && left.Truthy() {
			return left, nil
		}
		return b.right.eval(env)
	}

	left, err := b.left.eval(env)
	if err != nil {
		return value.Null(), err
	}
	right, err := b.right.eval(env)
	if err != nil {
		return value.Null(), err
	}

	switch b.op {
	case "==":
		return value.Bool(left.Equal(right)), nil
	case "!=":
		return value.Bool(!left.Equal(right)), nil
	case "<", "<=", ">", ">=":
		cmp, cerr := left.Compare(right)
		if cerr != nil {
			return value.Null(), &RenderError{Kind: TypeMismatch, Detail: cerr.Error()}
		}
		switch b.op {
		case "<":
			return value.Bool(cmp < 0), nil
		case "<=":
			return value.Bool(cmp <= 0), nil
		case ">":
			return value.Bool(cmp > 0), nil
		default:
			return value.Bool(cmp >= 0), nil
		}
	case "+":
		return addValues(left, right)
	case "-", "*", "/", "%":
		if left.Kind() != value.KindNumber || right.Kind() != value.KindNumber {
			return value.Null(), &RenderError{Kind: TypeMismatch,
				Detail: fmt.Sprintf("cannot apply %q to %s and %s", b.op, left.Kind(), right.Kind())}
		}
		l, r := left.NumberVal(), right.NumberVal()
		switch b.op {
		case "-":
			return value.Number(l - r), nil
		case "*":
			return value.Number(l * r), nil
		case "/":
			if r == 0 {
				return value.Null(), &RenderError{Kind: TypeMismatch, Detail: "division by zero"}
			}
			return value.Number(l / r), nil
		default:
			if r == 0 {
				return value.Null(), &RenderError{Kind: TypeMismatch, Detail: "modulo by zero"}
			}
			return value.Number(float64(int64(l) % int64(r))), nil
		}
	}
	return value.Null(), &RenderError{Kind: BadSyntax, Detail: "unknown operator " + b.op}
}

// addValues implements +: numeric addition, text concatenation, and sequence
// concatenation.
func addValues(left, right value.Value) (value.Value, error) {
	switch {
	case left.Kind() == value.KindNumber && right.Kind() == value.KindNumber:
		return value.Number(left.NumberVal() + right.NumberVal()), nil
	case left.Kind() == value.KindText && right.Kind() == value.KindText:
		return value.Text(left.TextVal() + right.TextVal()), nil
	case left.Kind() == value.KindSequence && right.Kind() == value.KindSequence:
		items := append(append([]value.Value{}, left.SequenceVal()...), right.SequenceVal()...)
		return value.Sequence(items), nil
	default:
		return value.Null(), &RenderError{Kind: TypeMismatch,
			Detail: fmt.Sprintf("cannot add %s and %s", left.Kind(), right.Kind())}
	}
}

// --- expression lexer ---

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokPunct
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

var punctuation = []string{
	"==", "!=", "<=", ">=", "(", ")", "[", "]", ",", ".",
	"+", "-", "*", "/", "%", "<", ">",
}

func lexExpr(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[i:j]})
			i = j
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
					switch src[j] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					case 'r':
						sb.WriteByte('\r')
					case '\\', '\'', '"':
						sb.WriteByte(src[j])
					default:
						// Unknown escape: keep the pair as written.
						sb.WriteByte('\\')
						sb.WriteByte(src[j])
					}
					j++
					continue
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String()})
			i = j + 1
		case isNameStart(rune(c)):
			j := i
			for j < len(src) && isNamePart(rune(src[j])) {
				j++
			}
			tokens = append(tokens, token{kind: tokName, text: src[i:j]})
			i = j
		default:
			matched := false
			for _, p := range punctuation {
				if strings.HasPrefix(src[i:], p) {
					tokens = append(tokens, token{kind: tokPunct, text: p})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
		}
	}
	tokens = append(tokens, token{kind: tokEOF})
	return tokens, nil
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNamePart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// --- expression parser (recursive descent) ---

type exprParser struct {
	tokens []token
	pos    int
}

// parseExpr parses one expression from source text.
func parseExpr(src string) (expr, error) {
	tokens, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing %q", p.peek().text)
	}
	return e, nil
}

func (p *exprParser) peek() token { return p.tokens[p.pos] }

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) acceptPunct(text string) bool {
	if p.peek().kind == tokPunct && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) acceptName(text string) bool {
	if p.peek().kind == tokName && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		return fmt.Errorf("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

func (p *exprParser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptName("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptName("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.acceptName("not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op := ""
		for _, candidate := range []string{"==", "!=", "<=", ">=", "<", ">"} {
			if p.acceptPunct(candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseAdditive() (expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op := ""
		if p.acceptPunct("+") {
			op = "+"
		} else if p.acceptPunct("-") {
			op = "-"
		}
		if op == "" {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseMultiplicative() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := ""
		for _, candidate := range []string{"*", "/", "%"} {
			if p.acceptPunct(candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (expr, error) {
	if p.acceptPunct("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "-", operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles attribute access, indexing, and calls, which chain.
func (p *exprParser) parsePostfix() (expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptPunct("."):
			t := p.next()
			if t.kind != tokName {
				return nil, fmt.Errorf("expected attribute name, got %q", t.text)
			}
			e = &attrExpr{base: e, name: t.text}
		case p.acceptPunct("["):
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			e = &indexExpr{base: e, key: key}
		case p.acceptPunct("("):
			var args []expr
			if !p.acceptPunct(")") {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.acceptPunct(",") {
						continue
					}
					if err := p.expectPunct(")"); err != nil {
						return nil, err
					}
					break
				}
			}
			e = &callExpr{fn: e, args: args}
		default:
			return e, nil
		}
	}
}

func (p *exprParser) parsePrimary() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return &literalExpr{v: value.Number(n)}, nil
	case tokString:
		p.next()
		return &literalExpr{v: value.Text(t.text)}, nil
	case tokName:
		p.next()
		switch t.text {
		case "true":
			return &literalExpr{v: value.Bool(true)}, nil
		case "false":
			return &literalExpr{v: value.Bool(false)}, nil
		case "nil", "none":
			return &literalExpr{v: value.Null()}, nil
		}
		return &nameExpr{name: t.text}, nil
	case tokPunct:
		if p.acceptPunct("(") {
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
		if p.acceptPunct("[") {
			var items []expr
			if !p.acceptPunct("]") {
				for {
					item, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					items = append(items, item)
					if p.acceptPunct(",") {
						continue
					}
					if err := p.expectPunct("]"); err != nil {
						return nil, err
					}
					break
				}
			}
			return &listExpr{items: items}, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}
