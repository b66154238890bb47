// Package value implements the dynamic value model used by the template
// evaluator. Values are a tagged variant so truthiness, iteration, and
// formatting rules are explicit instead of inherited from Go's types.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindSequence
	KindMapping
	KindCallable
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindCallable:
		return "callable"
	default:
		return "unknown"
	}
}

// Func is the signature of a Callable value.
type Func func(args ...Value) (Value, error)

// Value is one dynamically typed template value.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	seq  []Value
	m    map[string]Value
	fn   Func
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Sequence wraps an ordered slice of values.
func Sequence(items []Value) Value { return Value{kind: KindSequence, seq: items} }

// Mapping wraps a string-keyed map of values.
func Mapping(entries map[string]Value) Value { return Value{kind: KindMapping, m: entries} }

// Callable wraps a function.
func Callable(fn Func) Value { return Value{kind: KindCallable, fn: fn} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the underlying bool (valid for KindBool).
func (v Value) BoolVal() bool { return v.b }

// NumberVal returns the underlying float64 (valid for KindNumber).
func (v Value) NumberVal() float64 { return v.n }

// TextVal returns the underlying string (valid for KindText).
func (v Value) TextVal() string { return v.s }

// SequenceVal returns the underlying slice (valid for KindSequence).
func (v Value) SequenceVal() []Value { return v.seq }

// MappingVal returns the underlying map (valid for KindMapping).
func (v Value) MappingVal() map[string]Value { return v.m }

// Truthy applies the engine's truth test: null is false, zero and empty
// variants are false, callables are true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindText:
		return v.s != ""
	case KindSequence:
		return len(v.seq) > 0
	case KindMapping:
		return len(v.m) > 0
	case KindCallable:
		return true
	default:
		return false
	}
}

// String formats the value for splicing into rendered output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindText:
		return v.s
	case KindSequence:
		parts := make([]string, len(v.seq))
		for i, item := range v.seq {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMapping:
		keys := v.sortedKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.m[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindCallable:
		return "<function>"
	default:
		return ""
	}
}

// Iterate returns the value's elements in natural order: sequences in order,
// text by character, mappings by sorted key. Other kinds are not iterable.
func (v Value) Iterate() ([]Value, error) {
	switch v.kind {
	case KindSequence:
		return v.seq, nil
	case KindText:
		items := make([]Value, 0, len(v.s))
		for _, r := range v.s {
			items = append(items, Text(string(r)))
		}
		return items, nil
	case KindMapping:
		keys := v.sortedKeys()
		items := make([]Value, len(keys))
		for i, k := range keys {
			items[i] = Text(k)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%s is not iterable", v.kind)
	}
}

// Call invokes a callable value.
func (v Value) Call(args ...Value) (Value, error) {
	if v.kind != KindCallable {
		return Null(), fmt.Errorf("%s is not callable", v.kind)
	}
	return v.fn(args...)
}

// Attr resolves dotted attribute access on a mapping.
func (v Value) Attr(name string) (Value, bool) {
	if v.kind != KindMapping {
		return Null(), false
	}
	val, ok := v.m[name]
	return val, ok
}

// Index resolves subscript access: numeric index on sequences and text
// (zero-based), key lookup on mappings.
func (v Value) Index(key Value) (Value, error) {
	switch v.kind {
	case KindSequence:
		i, err := key.asIndex(len(v.seq))
		if err != nil {
			return Null(), err
		}
		return v.seq[i], nil
	case KindText:
		runes := []rune(v.s)
		i, err := key.asIndex(len(runes))
		if err != nil {
			return Null(), err
		}
		return Text(string(runes[i])), nil
	case KindMapping:
		if key.kind != KindText {
			return Null(), fmt.Errorf("mapping key must be text, got %s", key.kind)
		}
		val, ok := v.m[key.s]
		if !ok {
			return Null(), fmt.Errorf("mapping has no key %q", key.s)
		}
		return val, nil
	default:
		return Null(), fmt.Errorf("%s is not indexable", v.kind)
	}
}

func (v Value) asIndex(length int) (int, error) {
	if v.kind != KindNumber {
		return 0, fmt.Errorf("index must be a number, got %s", v.kind)
	}
	i := int(v.n)
	if float64(i) != v.n {
		return 0, fmt.Errorf("index must be an integer, got %s", v.String())
	}
	if i < 0 || i >= length {
		return 0, fmt.Errorf("index %d out of range (length %d)", i, length)
	}
	return i, nil
}

// Equal reports deep equality. Values of different kinds are never equal,
// except that comparisons against null follow null == null only.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindText:
		return v.s == other.s
	case KindSequence:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, val := range v.m {
			o, ok := other.m[k]
			if !ok || !val.Equal(o) {
				return false
			}
		}
		return true
	case KindCallable:
		return false
	default:
		return false
	}
}

// Compare orders two values of the same comparable kind (numbers or text).
// Returns <0, 0, >0.
func (v Value) Compare(other Value) (int, error) {
	if v.kind == KindNumber && other.kind == KindNumber {
		switch {
		case v.n < other.n:
			return -1, nil
		case v.n > other.n:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if v.kind == KindText && other.kind == KindText {
		return strings.Compare(v.s, other.s), nil
	}
	return 0, fmt.Errorf("cannot order %s and %s", v.kind, other.kind)
}

func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
