package template

import (
	"errors"
	"testing"

	"github.com/tagon-dev/tagon/internal/value"
)

func render(t *testing.T, markup string, symbols, context map[string]value.Value) string {
	t.Helper()
	tmpl, err := Compile("Test", markup)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", markup, err)
	}
	out, err := tmpl.Render(symbols, context)
	if err != nil {
		t.Fatalf("Render(%q) failed: %v", markup, err)
	}
	return out
}

func renderErr(t *testing.T, markup string, symbols, context map[string]value.Value) *RenderError {
	t.Helper()
	tmpl, err := Compile("Test", markup)
	if err == nil {
		_, err = tmpl.Render(symbols, context)
	}
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("Compile/Render(%q) error = %v, want *RenderError", markup, err)
	}
	return re
}

func TestRenderPlainText(t *testing.T) {
	markup := "<p>no tokens here</p>"
	if got := render(t, markup, nil, nil); got != markup {
		t.Errorf("got %q, want input unchanged", got)
	}
}

func TestRenderExpressions(t *testing.T) {
	symbols := map[string]value.Value{
		"name":  value.Text("world"),
		"n":     value.Number(7),
		"items": value.Sequence([]value.Value{value.Number(1), value.Number(2)}),
		"user":  value.Mapping(map[string]value.Value{"age": value.Number(30)}),
	}
	cases := []struct {
		markup string
		want   string
	}{
		{"{{ 1 + 2 }}", "3"},
		{"{{ 'a' + 'b' }}", "ab"},
		{"{{ name }}", "world"},
		{"hello {{ name }}!", "hello world!"},
		{"{{ n * 2 - 4 }}", "10"},
		{"{{ 10 / 4 }}", "2.5"},
		{"{{ 7 % 3 }}", "1"},
		{"{{ -n }}", "-7"},
		{"{{ n > 3 }}", "true"},
		{"{{ not (n > 3) }}", "false"},
		{"{{ n > 3 and name == 'world' }}", "true"},
		{"{{ items[1] }}", "2"},
		{"{{ user.age }}", "30"},
		{"{{ [1, 2] + [3] }}", "[1, 2, 3]"},
		{"{{ none }}", ""},
	}
	for _, c := range cases {
		if got := render(t, c.markup, symbols, nil); got != c.want {
			t.Errorf("render(%q) = %q, want %q", c.markup, got, c.want)
		}
	}
}

func TestRenderForLoop(t *testing.T) {
	symbols := map[string]value.Value{
		"items": value.Sequence([]value.Value{
			value.Number(1), value.Number(2), value.Number(3),
		}),
	}
	got := render(t, "{% for i in items %}{{ i }}{% endfor %}", symbols, nil)
	if got != "123" {
		t.Errorf("got %q, want 123", got)
	}
}

func TestRenderForLoopEmptySequence(t *testing.T) {
	symbols := map[string]value.Value{"items": value.Sequence(nil)}
	got := render(t, "a{% for i in items %}{{ i }}{% endfor %}b", symbols, nil)
	if got != "ab" {
		t.Errorf("got %q, want ab", got)
	}
}

func TestRenderIfElifElse(t *testing.T) {
	markup := "{% if n > 10 %}big{% elif n > 5 %}mid{% else %}small{% endif %}"
	cases := []struct {
		n    float64
		want string
	}{
		{20, "big"},
		{7, "mid"},
		{1, "small"},
	}
	for _, c := range cases {
		symbols := map[string]value.Value{"n": value.Number(c.n)}
		if got := render(t, markup, symbols, nil); got != c.want {
			t.Errorf("n=%v: got %q, want %q", c.n, got, c.want)
		}
	}
}

func TestRenderNestedBlocks(t *testing.T) {
	symbols := map[string]value.Value{
		"rows": value.Sequence([]value.Value{
			value.Sequence([]value.Value{value.Number(1), value.Number(2)}),
			value.Sequence([]value.Value{value.Number(3)}),
		}),
	}
	markup := "{% for row in rows %}[{% for cell in row %}{% if cell > 1 %}{{ cell }}{% endif %}{% endfor %}]{% endfor %}"
	if got := render(t, markup, symbols, nil); got != "[2][3]" {
		t.Errorf("got %q, want [2][3]", got)
	}
}

func TestLoopVariableShadowsOuterBinding(t *testing.T) {
	symbols := map[string]value.Value{
		"i":     value.Text("outer"),
		"items": value.Sequence([]value.Value{value.Number(1)}),
	}
	got := render(t, "{% for i in items %}{{ i }}{% endfor %}{{ i }}", symbols, nil)
	if got != "1outer" {
		t.Errorf("got %q, want 1outer", got)
	}
}

func TestContextShadowsSymbols(t *testing.T) {
	symbols := map[string]value.Value{"who": value.Text("symbol")}
	context := map[string]value.Value{"who": value.Text("context")}
	if got := render(t, "{{ who }}", symbols, context); got != "context" {
		t.Errorf("got %q, want context to win the collision", got)
	}
}

func TestUndefinedNameFailsRender(t *testing.T) {
	re := renderErr(t, "{{ missing }}", nil, nil)
	if re.Kind != UndefinedName {
		t.Errorf("kind = %v, want UndefinedName", re.Kind)
	}
	if re.Component != "Test" {
		t.Errorf("component = %q, want Test", re.Component)
	}
	if re.Expr != "missing" {
		t.Errorf("expr = %q, want missing", re.Expr)
	}
}

func TestCallableResultSpliced(t *testing.T) {
	symbols := map[string]value.Value{
		"f": value.Callable(func(args ...value.Value) (value.Value, error) {
			return value.Number(5), nil
		}),
	}
	if got := render(t, "<p>{{ f() }}</p>", symbols, nil); got != "<p>5</p>" {
		t.Errorf("got %q, want <p>5</p>", got)
	}
}

func TestCallableFaultIsCallFailed(t *testing.T) {
	symbols := map[string]value.Value{
		"f": value.Callable(func(args ...value.Value) (value.Value, error) {
			return value.Null(), errors.New("boom")
		}),
	}
	re := renderErr(t, "{{ f() }}", symbols, nil)
	if re.Kind != CallFailed {
		t.Errorf("kind = %v, want CallFailed", re.Kind)
	}
}

func TestUnterminatedBlocks(t *testing.T) {
	cases := []string{
		"{% for i in items %}no end",
		"{% if x %}no end",
		"{% endfor %}",
		"{% endif %}",
		"{% else %}",
		"{{ unclosed",
		"{% for i in items %}{% endif %}",
	}
	for _, markup := range cases {
		_, err := Compile("Test", markup)
		var re *RenderError
		if !errors.As(err, &re) {
			t.Fatalf("Compile(%q) error = %v, want *RenderError", markup, err)
		}
		if re.Kind != UnterminatedBlock {
			t.Errorf("Compile(%q) kind = %v, want UnterminatedBlock", markup, re.Kind)
		}
	}
}

func TestBadSyntax(t *testing.T) {
	cases := []string{
		"{{ 1 + }}",
		"{% for %}x{% endfor %}",
		"{% for a b in xs %}x{% endfor %}",
		"{% if %}x{% endif %}",
		"{% frobnicate %}",
		"{{ 'unterminated }}",
	}
	for _, markup := range cases {
		_, err := Compile("Test", markup)
		var re *RenderError
		if !errors.As(err, &re) {
			t.Fatalf("Compile(%q) error = %v, want *RenderError", markup, err)
		}
		if re.Kind != BadSyntax {
			t.Errorf("Compile(%q) kind = %v, want BadSyntax", markup, re.Kind)
		}
	}
}

func TestElifAfterElseRejected(t *testing.T) {
	_, err := Compile("Test", "{% if x %}a{% else %}b{% elif y %}c{% endif %}")
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RenderError", err)
	}
	if re.Kind != BadSyntax {
		t.Errorf("kind = %v, want BadSyntax", re.Kind)
	}
}

func TestStringEscapes(t *testing.T) {
	cases := []struct {
		markup string
		want   string
	}{
		{`{{ "a\nb" }}`, "a\nb"},
		{`{{ "a\tb" }}`, "a\tb"},
		{`{{ 'it\'s' }}`, "it's"},
		{`{{ "quote \" inside" }}`, `quote " inside`},
		{`{{ "back\\slash" }}`, `back\slash`},
		{`{{ "a\qb" }}`, `a\qb`},
	}
	for _, c := range cases {
		if got := render(t, c.markup, nil, nil); got != c.want {
			t.Errorf("render(%q) = %q, want %q", c.markup, got, c.want)
		}
	}
}

func TestTypeMismatches(t *testing.T) {
	symbols := map[string]value.Value{
		"n":   value.Number(5),
		"txt": value.Text("x"),
	}
	cases := []string{
		"{% for i in n %}{{ i }}{% endfor %}",
		"{{ n + txt }}",
		"{{ n < txt }}",
		"{{ txt() }}",
		"{{ n.field }}",
		"{{ 1 / 0 }}",
	}
	for _, markup := range cases {
		tmpl, err := Compile("Test", markup)
		if err != nil {
			t.Fatalf("Compile(%q) failed: %v", markup, err)
		}
		_, err = tmpl.Render(symbols, nil)
		var re *RenderError
		if !errors.As(err, &re) {
			t.Fatalf("Render(%q) error = %v, want *RenderError", markup, err)
		}
		if re.Kind != TypeMismatch {
			t.Errorf("Render(%q) kind = %v, want TypeMismatch", markup, re.Kind)
		}
	}
}

func TestNoAutomaticEscaping(t *testing.T) {
	symbols := map[string]value.Value{"raw": value.Text("<b>&</b>")}
	if got := render(t, "{{ raw }}", symbols, nil); got != "<b>&</b>" {
		t.Errorf("got %q, expression output must be spliced verbatim", got)
	}
}

func TestShortCircuitSkipsRightOperand(t *testing.T) {
	calls := 0
	symbols := map[string]value.Value{
		"probe": value.Callable(func(args ...value.Value) (value.Value, error) {
			calls++
			return value.Bool(true), nil
		}),
	}
	if got := render(t, "{{ false and probe() }}", symbols, nil); got != "false" {
		t.Errorf("got %q, want false", got)
	}
	if got := render(t, "{{ true or probe() }}", symbols, nil); got != "true" {
		t.Errorf("got %q, want true", got)
	}
	if calls != 0 {
		t.Errorf("probe called %d times, want 0", calls)
	}
}

func TestTemplateReusableAcrossRenders(t *testing.T) {
	tmpl, err := Compile("Test", "{{ x }}")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for _, want := range []string{"1", "2"} {
		out, err := tmpl.Render(nil, map[string]value.Value{"x": value.Text(want)})
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if out != want {
			t.Errorf("got %q, want %q", out, want)
		}
	}
}
