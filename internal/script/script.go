// Package script runs component Imports and Funcoes sections in an embedded
// Lua interpreter and exposes the resulting top-level bindings as a symbol
// table. Each compilation gets a brand-new interpreter state; one goroutine
// owns each state and all later calls into it are serialized through a work
// channel.
package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/value"
)

// SymbolTable maps names bound by a component's executed logic to values.
// Produced fresh per compilation, never shared across components.
type SymbolTable map[string]value.Value

// ExecutionError is a failure while running a component's imports or logic.
// It is fatal to that compilation only.
type ExecutionError struct {
	Component string
	Message   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing component %s: %s", e.Component, e.Message)
}

// workItem is a unit of work for the executor goroutine.
type workItem struct {
	fn     func() (value.Value, error)
	result chan workResult
}

// workResult holds the result of a work item.
type workResult struct {
	Value value.Value
	Err   error
}

// Runtime owns one Lua state and the symbols it produced. The state stays
// alive for the lifetime of the compiled artifact so Callable symbols can
// re-enter it; Close shuts the executor down.
type Runtime struct {
	config    *config.Config
	state     *lua.LState
	component string
	workCh    chan workItem
	done      chan struct{}
	closeOnce sync.Once

	// Symbols are the top-level bindings created by the component's code.
	Symbols SymbolTable
}

// Execute evaluates importsText then functionsText once in a fresh namespace
// and returns the runtime holding the extracted symbol table. A syntax error
// or raised fault is returned as *ExecutionError; it never panics the host.
func Execute(cfg *config.Config, component, importsText, functionsText string) (rt *Runtime, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt = nil
			err = &ExecutionError{Component: component, Message: fmt.Sprintf("interpreter panic: %v", r)}
		}
	}()

	L := lua.NewState()

	// Standard libraries available to component code. Authors are trusted;
	// there is no sandbox beyond the per-component namespace.
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenOs(L)
	lua.OpenIo(L)

	r := &Runtime{
		config:    cfg,
		state:     L,
		component: component,
		workCh:    make(chan workItem),
		done:      make(chan struct{}),
	}

	baseline := globalNames(L)

	chunk := strings.TrimSpace(importsText + "\n" + functionsText)
	if chunk != "" {
		if derr := L.DoString(chunk); derr != nil {
			L.Close()
			return nil, &ExecutionError{Component: component, Message: derr.Error()}
		}
	}

	symbols, serr := r.extractSymbols(baseline)
	if serr != nil {
		L.Close()
		return nil, &ExecutionError{Component: component, Message: serr.Error()}
	}
	r.Symbols = symbols
	cfg.Log(2, "script: component %s bound %d symbols", component, len(r.Symbols))

	r.startExecutor()
	return r, nil
}

// Log logs a message via the config.
func (r *Runtime) Log(level int, format string, args ...interface{}) {
	r.config.Log(level, format, args...)
}

// Close stops the executor and releases the interpreter state. Calls in
// flight finish first; later calls fail with a closed-runtime error.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// startExecutor launches the goroutine that owns the Lua state.
func (r *Runtime) startExecutor() {
	go func() {
		for {
			select {
			case <-r.done:
				r.state.Close()
				return
			case item := <-r.workCh:
				v, err := item.fn()
				item.result <- workResult{Value: v, Err: err}
			}
		}
	}()
}

// perform runs fn on the executor goroutine and waits for its result.
func (r *Runtime) perform(fn func() (value.Value, error)) (value.Value, error) {
	select {
	case <-r.done:
		return value.Null(), errors.New("script runtime closed")
	default:
	}
	item := workItem{fn: fn, result: make(chan workResult, 1)}
	select {
	case r.workCh <- item:
	case <-r.done:
		return value.Null(), errors.New("script runtime closed")
	}
	res := <-item.result
	return res.Value, res.Err
}

// globalNames snapshots the names currently bound in the globals table.
func globalNames(L *lua.LState) map[string]bool {
	names := make(map[string]bool)
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			names[string(ks)] = true
		}
	})
	return names
}

// extractSymbols converts every global binding the chunk created (anything
// not present in the baseline snapshot) into the value model.
func (r *Runtime) extractSymbols(baseline map[string]bool) (SymbolTable, error) {
	symbols := make(SymbolTable)
	var convErr error
	r.state.G.Global.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		ks, ok := k.(lua.LString)
		if !ok || baseline[string(ks)] {
			return
		}
		val, err := r.fromLua(v, make(map[*lua.LTable]bool))
		if err != nil {
			convErr = fmt.Errorf("binding %s: %w", string(ks), err)
			return
		}
		symbols[string(ks)] = val
	})
	if convErr != nil {
		return nil, convErr
	}
	return symbols, nil
}

// call invokes a Lua function through the executor, serializing access to the
// owning state with every other caller.
func (r *Runtime) call(fn *lua.LFunction, args ...value.Value) (value.Value, error) {
	return r.perform(func() (v value.Value, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				v = value.Null()
				err = &ExecutionError{Component: r.component, Message: fmt.Sprintf("call panic: %v", rec)}
			}
		}()

		L := r.state
		L.Push(fn)
		for _, a := range args {
			L.Push(r.toLua(a))
		}
		if perr := L.PCall(len(args), 1, nil); perr != nil {
			return value.Null(), &ExecutionError{Component: r.component, Message: perr.Error()}
		}
		ret := L.Get(-1)
		L.Pop(1)
		out, cerr := r.fromLua(ret, make(map[*lua.LTable]bool))
		if cerr != nil {
			return value.Null(), &ExecutionError{Component: r.component, Message: cerr.Error()}
		}
		return out, nil
	})
}

// fromLua converts an interpreter value into the tagged value model. Tables
// with consecutive integer keys become sequences, other tables mappings, and
// functions become callables bound to this runtime. seen tracks the tables on
// the current descent path: a self-referential table is a conversion error,
// while a table shared between two siblings converts fine.
func (r *Runtime) fromLua(lv lua.LValue, seen map[*lua.LTable]bool) (value.Value, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return value.Null(), nil
	case lua.LBool:
		return value.Bool(bool(v)), nil
	case lua.LNumber:
		return value.Number(float64(v)), nil
	case lua.LString:
		return value.Text(string(v)), nil
	case *lua.LTable:
		if seen[v] {
			return value.Null(), fmt.Errorf("self-referential table")
		}
		seen[v] = true
		defer delete(seen, v)
		if n := v.MaxN(); n > 0 {
			items := make([]value.Value, 0, n)
			for i := 1; i <= n; i++ {
				item, err := r.fromLua(v.RawGetInt(i), seen)
				if err != nil {
					return value.Null(), err
				}
				items = append(items, item)
			}
			return value.Sequence(items), nil
		}
		entries := make(map[string]value.Value)
		var convErr error
		v.ForEach(func(k, val lua.LValue) {
			if convErr != nil {
				return
			}
			entry, err := r.fromLua(val, seen)
			if err != nil {
				convErr = err
				return
			}
			entries[lua.LVAsString(k)] = entry
		})
		if convErr != nil {
			return value.Null(), convErr
		}
		return value.Mapping(entries), nil
	case *lua.LFunction:
		fn := v
		return value.Callable(func(args ...value.Value) (value.Value, error) {
			return r.call(fn, args...)
		}), nil
	default:
		return value.Text(lv.String()), nil
	}
}

// toLua converts a tagged value back into an interpreter value for call
// arguments. Must run on the executor goroutine.
func (r *Runtime) toLua(v value.Value) lua.LValue {
	switch v.Kind() {
	case value.KindNull:
		return lua.LNil
	case value.KindBool:
		return lua.LBool(v.BoolVal())
	case value.KindNumber:
		return lua.LNumber(v.NumberVal())
	case value.KindText:
		return lua.LString(v.TextVal())
	case value.KindSequence:
		t := r.state.NewTable()
		for _, item := range v.SequenceVal() {
			t.Append(r.toLua(item))
		}
		return t
	case value.KindMapping:
		t := r.state.NewTable()
		for k, val := range v.MappingVal() {
			t.RawSetString(k, r.toLua(val))
		}
		return t
	default:
		// Callables that originated in Lua round-trip through their
		// closure; foreign callables are not representable.
		return lua.LNil
	}
}
