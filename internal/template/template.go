// Package template evaluates component markup against a symbol table and a
// render context. Two token forms are recognized in a single left-to-right
// pass: expression tokens `{{ expr }}` and block tokens `{% directive %}`
// (for/endfor, if/elif/else/endif), matched with a stack so blocks nest.
//
// Expression results are spliced in verbatim with no automatic escaping:
// component authors are responsible for safe output.
package template

import (
	"strings"

	"github.com/tagon-dev/tagon/internal/value"
)

const (
	exprOpen   = "{{"
	exprClose  = "}}"
	blockOpen  = "{%"
	blockClose = "%}"
)

// node is one element of the compiled template tree.
type node interface{}

// textNode is literal output.
type textNode struct {
	text string
}

// exprNode is one `{{ expr }}` splice.
type exprNode struct {
	src string
	e   expr
}

// forNode renders its body once per element of the iterated sequence, with
// the loop variable scoped to the body and shadowing outer bindings.
type forNode struct {
	src  string
	vars string
	seq  expr
	body []node
}

// ifNode renders exactly one of its branches. A branch with a nil condition
// is the else branch.
type ifNode struct {
	src      string
	branches []ifBranch
}

type ifBranch struct {
	cond expr // nil for else
	body []node
}

// Template is a compiled markup template, reusable across renders.
type Template struct {
	component string
	nodes     []node
}

// Compile tokenizes and parses markup into a template tree. Malformed block
// nesting and malformed expressions are compile errors.
func Compile(component, htmlText string) (*Template, error) {
	c := &compiler{component: component, src: htmlText}
	nodes, err := c.compile()
	if err != nil {
		return nil, err
	}
	return &Template{component: component, nodes: nodes}, nil
}

// Render evaluates the template. Context entries shadow symbol table entries
// on name collision. Errors are *RenderError and are fatal to this render
// call only.
func (t *Template) Render(symbols, context map[string]value.Value) (string, error) {
	if symbols == nil {
		symbols = map[string]value.Value{}
	}
	if context == nil {
		context = map[string]value.Value{}
	}
	env := newEnvironment(symbols, context)
	var sb strings.Builder
	if err := t.renderNodes(t.nodes, env, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Template) renderNodes(nodes []node, env *environment, sb *strings.Builder) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case *textNode:
			sb.WriteString(n.text)
		case *exprNode:
			v, err := n.e.eval(env)
			if err != nil {
				return t.renderErr(err, n.src)
			}
			sb.WriteString(v.String())
		case *forNode:
			seq, err := n.seq.eval(env)
			if err != nil {
				return t.renderErr(err, n.src)
			}
			items, ierr := seq.Iterate()
			if ierr != nil {
				return &RenderError{Kind: TypeMismatch, Component: t.component, Expr: n.src, Detail: ierr.Error()}
			}
			for _, item := range items {
				env.push(map[string]value.Value{n.vars: item})
				err := t.renderNodes(n.body, env, sb)
				env.pop()
				if err != nil {
					return err
				}
			}
		case *ifNode:
			for _, branch := range n.branches {
				take := true
				if branch.cond != nil {
					v, err := branch.cond.eval(env)
					if err != nil {
						return t.renderErr(err, n.src)
					}
					take = v.Truthy()
				}
				if take {
					if err := t.renderNodes(branch.body, env, sb); err != nil {
						return err
					}
					break
				}
			}
		}
	}
	return nil
}

// renderErr stamps component and expression context onto evaluation errors.
func (t *Template) renderErr(err error, src string) error {
	if re, ok := err.(*RenderError); ok {
		if re.Component == "" {
			re.Component = t.component
		}
		if re.Expr == "" {
			re.Expr = src
		}
		return re
	}
	return &RenderError{Kind: CallFailed, Component: t.component, Expr: src, Detail: err.Error()}
}

// --- template compiler ---

type compiler struct {
	component string
	src       string
}

// openBlock is one entry of the block-matching stack.
type openBlock struct {
	forN *forNode
	ifN  *ifNode
	tag  string
}

func (c *compiler) compile() ([]node, error) {
	var root []node
	var stack []openBlock

	// target returns the node list currently being appended to.
	appendNode := func(n node) {
		if len(stack) == 0 {
			root = append(root, n)
			return
		}
		top := &stack[len(stack)-1]
		if top.forN != nil {
			top.forN.body = append(top.forN.body, n)
			return
		}
		ifN := top.ifN
		last := len(ifN.branches) - 1
		ifN.branches[last].body = append(ifN.branches[last].body, n)
	}

	src := c.src
	for len(src) > 0 {
		exprAt := strings.Index(src, exprOpen)
		blockAt := strings.Index(src, blockOpen)

		// Next token is whichever delimiter comes first.
		at, open, closeDelim := -1, "", ""
		if exprAt >= 0 && (blockAt < 0 || exprAt < blockAt) {
			at, open, closeDelim = exprAt, exprOpen, exprClose
		} else if blockAt >= 0 {
			at, open, closeDelim = blockAt, blockOpen, blockClose
		}
		if at < 0 {
			appendNode(&textNode{text: src})
			break
		}
		if at > 0 {
			appendNode(&textNode{text: src[:at]})
		}
		rest := src[at+len(open):]
		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return nil, &RenderError{Kind: UnterminatedBlock, Component: c.component,
				Expr: open, Detail: "missing " + closeDelim}
		}
		inner := strings.TrimSpace(rest[:end])
		src = rest[end+len(closeDelim):]

		if open == exprOpen {
			e, err := parseExpr(inner)
			if err != nil {
				return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner, Detail: err.Error()}
			}
			appendNode(&exprNode{src: inner, e: e})
			continue
		}

		// Block tag.
		word := inner
		if i := strings.IndexAny(inner, " \t"); i >= 0 {
			word = inner[:i]
		}
		switch word {
		case "for":
			n, err := c.parseFor(inner)
			if err != nil {
				return nil, err
			}
			appendNode(n)
			stack = append(stack, openBlock{forN: n, tag: "for"})
		case "if":
			cond, err := c.parseTagExpr(inner, "if")
			if err != nil {
				return nil, err
			}
			n := &ifNode{src: inner, branches: []ifBranch{{cond: cond}}}
			appendNode(n)
			stack = append(stack, openBlock{ifN: n, tag: "if"})
		case "elif":
			if len(stack) == 0 || stack[len(stack)-1].ifN == nil {
				return nil, c.unmatched(inner)
			}
			ifN := stack[len(stack)-1].ifN
			if ifN.branches[len(ifN.branches)-1].cond == nil {
				return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner,
					Detail: "elif after else"}
			}
			cond, err := c.parseTagExpr(inner, "elif")
			if err != nil {
				return nil, err
			}
			ifN.branches = append(ifN.branches, ifBranch{cond: cond})
		case "else":
			if len(stack) == 0 || stack[len(stack)-1].ifN == nil {
				return nil, c.unmatched(inner)
			}
			ifN := stack[len(stack)-1].ifN
			if ifN.branches[len(ifN.branches)-1].cond == nil {
				return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner,
					Detail: "duplicate else"}
			}
			ifN.branches = append(ifN.branches, ifBranch{})
		case "endif":
			if len(stack) == 0 || stack[len(stack)-1].ifN == nil {
				return nil, c.unmatched(inner)
			}
			stack = stack[:len(stack)-1]
		case "endfor":
			if len(stack) == 0 || stack[len(stack)-1].forN == nil {
				return nil, c.unmatched(inner)
			}
			stack = stack[:len(stack)-1]
		default:
			return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner,
				Detail: "unknown block directive " + word}
		}
	}

	if len(stack) > 0 {
		return nil, &RenderError{Kind: UnterminatedBlock, Component: c.component,
			Expr: stack[len(stack)-1].tag, Detail: "input ended inside open block"}
	}
	return root, nil
}

func (c *compiler) unmatched(tag string) error {
	return &RenderError{Kind: UnterminatedBlock, Component: c.component, Expr: tag,
		Detail: "unmatched " + tag}
}

// parseFor parses `for <var> in <expr>`.
func (c *compiler) parseFor(inner string) (*forNode, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(inner, "for"))
	parts := strings.SplitN(rest, " in ", 2)
	if len(parts) != 2 {
		return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner,
			Detail: "expected `for <var> in <expr>`"}
	}
	varName := strings.TrimSpace(parts[0])
	if !isIdentifier(varName) {
		return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner,
			Detail: "bad loop variable " + varName}
	}
	seq, err := parseExpr(parts[1])
	if err != nil {
		return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner, Detail: err.Error()}
	}
	return &forNode{src: inner, vars: varName, seq: seq}, nil
}

// parseTagExpr parses the expression following an if/elif keyword.
func (c *compiler) parseTagExpr(inner, keyword string) (expr, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(inner, keyword))
	if rest == "" {
		return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner,
			Detail: keyword + " needs a condition"}
	}
	e, err := parseExpr(rest)
	if err != nil {
		return nil, &RenderError{Kind: BadSyntax, Component: c.component, Expr: inner, Detail: err.Error()}
	}
	return e, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isNameStart(r) {
				return false
			}
			continue
		}
		if !isNamePart(r) {
			return false
		}
	}
	return true
}
