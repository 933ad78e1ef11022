// Package vm implements the embedding layer around the runner's
// in-process scripting-language VM (C8), per spec §4.6/§6. The host
// framework's dynamically-typed scripting language is embedded via
// github.com/traefik/yaegi, the same interpreter the teacher uses for
// its own sandboxed code execution (internal/autopoiesis/yaegi_executor.go).
package vm

import "fmt"

// Kind tags the canonical value union exchanged across the embedding
// boundary, per spec §6: null, bool, int, float, string, list, dict, or
// an opaque reference to a host-side object the VM cannot represent
// structurally (e.g. a live file handle).
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindDict
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Value is the canonical representation crossing the VM embedding
// boundary in either direction: arguments passed into call() and the
// value returned from it.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	List   []Value
	Dict   map[string]Value
	Opaque interface{}
}

// Null is the canonical null Value.
var Null = Value{Kind: KindNull}

func Bool(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value   { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }
func Dict(m map[string]Value) Value { return Value{Kind: KindDict, Dict: m} }
func Opaque(v interface{}) Value { return Value{Kind: KindOpaque, Opaque: v} }

// Native converts a Value back into a plain Go interface{}, the
// representation the executor (C11) passes to fixture factories and
// test bodies as ordinary arguments.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, item := range v.List {
			out[i] = item.Native()
		}
		return out
	case KindDict:
		out := make(map[string]interface{}, len(v.Dict))
		for k, item := range v.Dict {
			out[k] = item.Native()
		}
		return out
	default:
		return v.Opaque
	}
}

// FromNative wraps a plain Go value (as produced by reflection over a
// yaegi-returned interface{}) into the canonical Value union.
func FromNative(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromNative(item)
		}
		return Value{Kind: KindList, List: items}
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromNative(item)
		}
		return Value{Kind: KindDict, Dict: m}
	default:
		return Opaque(t)
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	default:
		return fmt.Sprintf("%v", v.Native())
	}
}
