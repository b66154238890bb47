package script

import (
	"errors"
	"testing"

	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/value"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Logging.Verbosity = 0
	return cfg
}

func TestExecuteBindsSymbols(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", "", `
greeting = "hello"
count = 3
function shout(s)
  return string.upper(s)
end
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	if v, ok := rt.Symbols["greeting"]; !ok || v.TextVal() != "hello" {
		t.Errorf("greeting = %v, %v", v, ok)
	}
	if v, ok := rt.Symbols["count"]; !ok || v.NumberVal() != 3 {
		t.Errorf("count = %v, %v", v, ok)
	}
	fn, ok := rt.Symbols["shout"]
	if !ok || fn.Kind() != value.KindCallable {
		t.Fatalf("shout = %v, %v, want callable", fn, ok)
	}
	result, err := fn.Call(value.Text("hi"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.TextVal() != "HI" {
		t.Errorf("shout(hi) = %q, want HI", result.TextVal())
	}
}

func TestExecuteStdlibNotExtracted(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", "", `x = 1`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	for _, builtin := range []string{"string", "table", "math", "os", "print"} {
		if _, ok := rt.Symbols[builtin]; ok {
			t.Errorf("builtin %q leaked into symbol table", builtin)
		}
	}
	if len(rt.Symbols) != 1 {
		t.Errorf("got %d symbols, want 1: %v", len(rt.Symbols), rt.Symbols)
	}
}

func TestExecuteFreshNamespace(t *testing.T) {
	first, err := Execute(testConfig(), "A", "", `shared = "from-a"`)
	if err != nil {
		t.Fatalf("Execute A failed: %v", err)
	}
	defer first.Close()

	second, err := Execute(testConfig(), "B", "", `other = 1`)
	if err != nil {
		t.Fatalf("Execute B failed: %v", err)
	}
	defer second.Close()

	if _, ok := second.Symbols["shared"]; ok {
		t.Error("binding from component A leaked into component B")
	}
}

func TestExecuteSyntaxError(t *testing.T) {
	_, err := Execute(testConfig(), "Bad", "", `function broken(`)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
	if execErr.Component != "Bad" {
		t.Errorf("component = %q, want Bad", execErr.Component)
	}
}

func TestExecuteRuntimeFault(t *testing.T) {
	_, err := Execute(testConfig(), "Fault", "", `error("boom")`)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
}

func TestCallableFault(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", "", `
function fail()
  error("nope")
end
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	if _, err := rt.Symbols["fail"].Call(); err == nil {
		t.Error("calling a faulting function should return an error")
	}
}

func TestTableConversion(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", "", `
items = {10, 20, 30}
person = {name = "ada", age = 36}
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	items := rt.Symbols["items"]
	if items.Kind() != value.KindSequence {
		t.Fatalf("items kind = %v, want sequence", items.Kind())
	}
	seq := items.SequenceVal()
	if len(seq) != 3 || seq[1].NumberVal() != 20 {
		t.Errorf("items = %v", seq)
	}

	person := rt.Symbols["person"]
	if person.Kind() != value.KindMapping {
		t.Fatalf("person kind = %v, want mapping", person.Kind())
	}
	if name, ok := person.Attr("name"); !ok || name.TextVal() != "ada" {
		t.Errorf("person.name = %v, %v", name, ok)
	}
}

func TestSelfReferentialTableRejected(t *testing.T) {
	_, err := Execute(testConfig(), "Cycle", "", `
t = {}
t.self = t
`)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
	if execErr.Component != "Cycle" {
		t.Errorf("component = %q, want Cycle", execErr.Component)
	}
}

func TestSelfReferentialCallResultRejected(t *testing.T) {
	rt, err := Execute(testConfig(), "Cycle", "", `
function make()
  local t = {}
  t.self = t
  return t
end
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	if _, err := rt.Symbols["make"].Call(); err == nil {
		t.Error("converting a cyclic call result should fail")
	}
}

func TestSharedSubtableConverts(t *testing.T) {
	// The same table reachable from two siblings is sharing, not a cycle.
	rt, err := Execute(testConfig(), "Shared", "", `
leaf = {1, 2}
pair = {a = leaf, b = leaf}
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	pair := rt.Symbols["pair"]
	a, aok := pair.Attr("a")
	b, bok := pair.Attr("b")
	if !aok || !bok {
		t.Fatalf("pair = %v", pair)
	}
	if !a.Equal(b) || len(a.SequenceVal()) != 2 {
		t.Errorf("a = %v, b = %v", a, b)
	}
}

func TestImportsRunBeforeFunctions(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", `base = 40`, `
function total()
  return base + 2
end
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	result, err := rt.Symbols["total"].Call()
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.NumberVal() != 42 {
		t.Errorf("total() = %v, want 42", result)
	}
}

func TestClosedRuntimeRejectsCalls(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", "", `function f() return 1 end`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	fn := rt.Symbols["f"]
	rt.Close()

	if _, err := fn.Call(); err == nil {
		t.Error("call after Close should fail")
	}
}

func TestConcurrentCallsSerialized(t *testing.T) {
	rt, err := Execute(testConfig(), "Demo", "", `
counter = 0
function bump()
  counter = counter + 1
  return counter
end
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer rt.Close()

	fn := rt.Symbols["bump"]
	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func() {
			_, err := fn.Call()
			done <- err
		}()
	}
	for i := 0; i < 50; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}

	final, err := fn.Call()
	if err != nil {
		t.Fatalf("final call failed: %v", err)
	}
	if final.NumberVal() != 51 {
		t.Errorf("counter = %v, want 51", final)
	}
}
